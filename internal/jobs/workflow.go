package jobs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lydakis/scenectl/internal/ipc"
)

// Operation names used by the workflow.
const (
	OpSubmit = "create_rodin_job"
	OpPoll   = "poll_rodin_job_status"
	OpImport = "import_generated_asset"
)

// Default per-phase call timeouts.
const (
	DefaultSubmitTimeout = 5 * time.Minute
	DefaultPollTimeout   = 10 * time.Second
	DefaultImportTimeout = 2 * time.Minute
)

// Caller performs one enveloped request. *ipc.Client implements it.
type Caller interface {
	Call(ctx context.Context, typ string, params, out any, opts ...ipc.CallOption) error
}

// Image is a reference image sent with a generation request.
type Image struct {
	Suffix string
	Data   []byte
}

// MarshalJSON encodes the image as a [suffix, base64] pair.
func (i Image) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{i.Suffix, base64.StdEncoding.EncodeToString(i.Data)})
}

// GenerateRequest describes one generate-and-import run.
type GenerateRequest struct {
	Name   string
	Prompt string
	Images []Image
	BBox   []float64
}

// Submission identifies a submitted job.
type Submission struct {
	UUID            string `json:"uuid"`
	SubscriptionKey string `json:"subscription_key"`
}

// ImportResult is the result of importing a finished job.
type ImportResult struct {
	Succeed bool     `json:"succeed"`
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Files   []string `json:"files"`
}

// Outcome summarizes a completed workflow.
type Outcome struct {
	Submission Submission    `json:"submission"`
	Status     Status        `json:"status"`
	Import     *ImportResult `json:"import,omitempty"`
}

// Workflow drives submit, poll, and import against a listener, one
// connection per exchange.
type Workflow struct {
	Client        Caller
	Poller        Poller
	SubmitTimeout time.Duration
	PollTimeout   time.Duration
	ImportTimeout time.Duration
}

// Submit sends a generation job and returns its identifiers.
func (w *Workflow) Submit(ctx context.Context, req GenerateRequest) (*Submission, error) {
	if strings.TrimSpace(req.Prompt) == "" && len(req.Images) == 0 {
		return nil, errors.New("a prompt or at least one image is required")
	}

	params := map[string]any{}
	if p := strings.TrimSpace(req.Prompt); p != "" {
		params["text_prompt"] = p
	}
	if len(req.Images) > 0 {
		params["images"] = req.Images
	}
	if len(req.BBox) > 0 {
		params["bbox_condition"] = req.BBox
	}

	var out struct {
		UUID string `json:"uuid"`
		Jobs struct {
			SubscriptionKey string `json:"subscription_key"`
		} `json:"jobs"`
	}
	if err := w.Client.Call(ctx, OpSubmit, params, &out, ipc.WithCallTimeout(or(w.SubmitTimeout, DefaultSubmitTimeout))); err != nil {
		return nil, err
	}
	if out.UUID == "" || out.Jobs.SubscriptionKey == "" {
		return nil, fmt.Errorf("%w: submit result is missing uuid or subscription key", ipc.ErrMalformedResponse)
	}
	return &Submission{UUID: out.UUID, SubscriptionKey: out.Jobs.SubscriptionKey}, nil
}

// Poll fetches the current status once.
func (w *Workflow) Poll(ctx context.Context, subscriptionKey string) (Status, error) {
	var raw json.RawMessage
	params := map[string]string{"subscription_key": subscriptionKey}
	if err := w.Client.Call(ctx, OpPoll, params, &raw, ipc.WithCallTimeout(or(w.PollTimeout, DefaultPollTimeout))); err != nil {
		return Status{}, err
	}
	return ParseStatus(raw)
}

// Wait polls until the job is terminal.
func (w *Workflow) Wait(ctx context.Context, subscriptionKey string) (Status, error) {
	return w.Poller.Wait(ctx, func(ctx context.Context) (Status, error) {
		return w.Poll(ctx, subscriptionKey)
	})
}

// Import imports a finished task as a named asset.
func (w *Workflow) Import(ctx context.Context, name, taskUUID string) (*ImportResult, error) {
	var out ImportResult
	params := map[string]string{"name": name, "task_uuid": taskUUID}
	if err := w.Client.Call(ctx, OpImport, params, &out, ipc.WithCallTimeout(or(w.ImportTimeout, DefaultImportTimeout))); err != nil {
		return nil, err
	}
	if !out.Succeed {
		return &out, fmt.Errorf("import of %q did not succeed", name)
	}
	return &out, nil
}

// Generate submits a job, waits for it, and imports the result.
// The returned Outcome is populated as far as the run got.
func (w *Workflow) Generate(ctx context.Context, req GenerateRequest) (*Outcome, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.New("asset name is required")
	}
	sub, err := w.Submit(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("submitting job: %w", err)
	}
	return w.finish(ctx, *sub, req.Name)
}

// Resume waits for an already submitted job and imports it.
func (w *Workflow) Resume(ctx context.Context, subscriptionKey, taskUUID, name string) (*Outcome, error) {
	switch {
	case strings.TrimSpace(subscriptionKey) == "":
		return nil, errors.New("subscription key is required")
	case strings.TrimSpace(taskUUID) == "":
		return nil, errors.New("task uuid is required")
	case strings.TrimSpace(name) == "":
		return nil, errors.New("asset name is required")
	}
	return w.finish(ctx, Submission{UUID: taskUUID, SubscriptionKey: subscriptionKey}, name)
}

func (w *Workflow) finish(ctx context.Context, sub Submission, name string) (*Outcome, error) {
	out := &Outcome{Submission: sub}

	status, err := w.Wait(ctx, sub.SubscriptionKey)
	out.Status = status
	if err != nil {
		return out, fmt.Errorf("waiting for job %s: %w", sub.UUID, err)
	}

	res, err := w.Import(ctx, name, sub.UUID)
	out.Import = res
	if err != nil {
		return out, fmt.Errorf("importing job %s: %w", sub.UUID, err)
	}
	return out, nil
}

func or(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
