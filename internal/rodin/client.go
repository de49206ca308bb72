// Package rodin is a client for the Hyper3D Rodin generation API.
package rodin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lydakis/scenectl/internal/httpheaders"
)

// ErrNoInput is returned by Submit when neither a prompt nor images are given.
var ErrNoInput = errors.New("a text prompt or at least one image is required")

// APIError is a non-2xx reply or an error field in the response body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return "rodin: " + e.Message
	}
	return fmt.Sprintf("rodin: HTTP %d: %s", e.StatusCode, e.Message)
}

// Image is one reference image for a generation job.
type Image struct {
	Suffix string
	Data   []byte
}

// SubmitRequest describes a generation job.
type SubmitRequest struct {
	Prompt string
	Images []Image
	BBox   []float64
}

// Submission identifies a submitted job.
type Submission struct {
	UUID string `json:"uuid"`
	Jobs struct {
		UUIDs           []string `json:"uuids"`
		SubscriptionKey string   `json:"subscription_key"`
	} `json:"jobs"`
}

// JobStatus is the status of one sub-task of a job.
type JobStatus struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
}

// File is one downloadable result file.
type File struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Client talks to the Rodin API.
type Client struct {
	baseURL  string
	apiKey   string
	tier     string
	meshMode string
	headers  map[string]string
	http     *http.Client
	limiter  *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimit bounds outgoing requests per second. Zero disables the limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithHeaders adds extra headers to every request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) { c.headers = httpheaders.Merge(c.headers, h, true) }
}

// WithTier sets the generation tier.
func WithTier(tier string) Option {
	return func(c *Client) { c.tier = tier }
}

// WithMeshMode sets the mesh mode.
func WithMeshMode(mode string) Option {
	return func(c *Client) { c.meshMode = mode }
}

// New returns a client for baseURL authenticated with apiKey.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		tier:     "Sketch",
		meshMode: "Raw",
		http:     &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit uploads a generation job.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	if strings.TrimSpace(req.Prompt) == "" && len(req.Images) == 0 {
		return nil, ErrNoInput
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for i, img := range req.Images {
		fw, err := mw.CreateFormFile("images", fmt.Sprintf("%04d%s", i, img.Suffix))
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(img.Data); err != nil {
			return nil, err
		}
	}
	fields := [][2]string{{"tier", c.tier}, {"mesh_mode", c.meshMode}}
	if p := strings.TrimSpace(req.Prompt); p != "" {
		fields = append(fields, [2]string{"prompt", p})
	}
	if len(req.BBox) > 0 {
		bbox, err := json.Marshal(req.BBox)
		if err != nil {
			return nil, err
		}
		fields = append(fields, [2]string{"bbox_condition", string(bbox)})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out struct {
		Submission
		Error string `json:"error"`
	}
	if err := c.do(ctx, "/v2/rodin", mw.FormDataContentType(), &body, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, &APIError{Message: out.Error}
	}
	if out.UUID == "" || out.Jobs.SubscriptionKey == "" {
		return nil, &APIError{Message: "response is missing uuid or subscription key"}
	}
	return &out.Submission, nil
}

// Status returns the per-sub-task statuses for a subscription key.
func (c *Client) Status(ctx context.Context, subscriptionKey string) ([]JobStatus, error) {
	var out struct {
		Jobs  []JobStatus `json:"jobs"`
		Error string      `json:"error"`
	}
	if err := c.postJSON(ctx, "/v2/status", map[string]string{"subscription_key": subscriptionKey}, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, &APIError{Message: out.Error}
	}
	return out.Jobs, nil
}

// Files lists the result files of a finished task.
func (c *Client) Files(ctx context.Context, taskUUID string) ([]File, error) {
	var out struct {
		List  []File `json:"list"`
		Error string `json:"error"`
	}
	if err := c.postJSON(ctx, "/v2/download", map[string]string{"task_uuid": taskUUID}, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, &APIError{Message: out.Error}
	}
	return out.List, nil
}

// Fetch streams the content at a file URL into w.
func (c *Client) Fetch(ctx context.Context, url string, w io.Writer) (int64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return 0, apiError(resp)
	}
	return io.Copy(w, resp.Body)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, path, "application/json", bytes.NewReader(data), out)
}

func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	httpheaders.Apply(req, httpheaders.Bearer(c.headers, c.apiKey))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rodin %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rodin %s: decoding response: %w", path, err)
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(data))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		switch {
		case body.Error != "":
			msg = body.Error
		case body.Message != "":
			msg = body.Message
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
