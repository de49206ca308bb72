package daemon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/lydakis/scenectl/internal/assets"
	"github.com/lydakis/scenectl/internal/jobs"
	"github.com/lydakis/scenectl/internal/paths"
	"github.com/lydakis/scenectl/internal/rodin"
)

var errRodinDisabled = &disabledError{
	backend: "Hyper3D Rodin",
	hint:    "set rodin.api_key (or SCENECTL_RODIN_API_KEY) and rodin.enabled = true",
}

func createRodinJob(ctx context.Context, d *Daemon, raw json.RawMessage) (any, error) {
	const op = "create_rodin_job"
	if d.rodin == nil {
		return nil, errRodinDisabled
	}

	var p struct {
		TextPrompt *string    `json:"text_prompt"`
		Images     [][]string `json:"images"`
		BBox       []float64  `json:"bbox_condition"`
	}
	if err := decodeParams(op, raw, &p); err != nil {
		return nil, err
	}

	req := rodin.SubmitRequest{BBox: p.BBox}
	if p.TextPrompt != nil {
		req.Prompt = strings.TrimSpace(*p.TextPrompt)
	}
	if len(p.BBox) != 0 && len(p.BBox) != 3 {
		return nil, invalidParams(op, "bbox_condition must have 3 numbers, got %d", len(p.BBox))
	}
	for i, pair := range p.Images {
		img, err := decodeImage(pair)
		if err != nil {
			return nil, invalidParams(op, "images[%d]: %v", i, err)
		}
		req.Images = append(req.Images, img)
	}
	if req.Prompt == "" && len(req.Images) == 0 {
		return nil, invalidParams(op, "text_prompt or images is required")
	}

	sub, err := d.rodin.Submit(ctx, req)
	d.metrics.ObserveBackend("rodin", err)
	if err != nil {
		return nil, err
	}

	if err := d.store.RecordJob(ctx, assets.Job{
		SubscriptionKey: sub.Jobs.SubscriptionKey,
		TaskUUID:        sub.UUID,
		Prompt:          req.Prompt,
		ImageCount:      len(req.Images),
	}); err != nil {
		d.logger.Warn("recording job failed", zap.String("task_uuid", sub.UUID), zap.Error(err))
	}
	d.logger.Info("generation job submitted", zap.String("task_uuid", sub.UUID), zap.Int("images", len(req.Images)))
	return sub, nil
}

// decodeImage parses a [suffix, base64] pair. Data URI prefixes are
// stripped and the suffix always starts with a dot.
func decodeImage(pair []string) (rodin.Image, error) {
	if len(pair) != 2 {
		return rodin.Image{}, fmt.Errorf("want [suffix, base64], got %d elements", len(pair))
	}
	suffix := strings.TrimSpace(pair[0])
	if suffix == "" {
		return rodin.Image{}, errors.New("suffix is empty")
	}
	if !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}

	encoded := strings.TrimSpace(pair[1])
	if strings.HasPrefix(encoded, "data:") {
		i := strings.IndexByte(encoded, ',')
		if i < 0 {
			return rodin.Image{}, errors.New("malformed data URI")
		}
		encoded = encoded[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
	}
	if err != nil {
		return rodin.Image{}, fmt.Errorf("invalid base64: %v", err)
	}
	if len(data) == 0 {
		return rodin.Image{}, errors.New("image is empty")
	}
	return rodin.Image{Suffix: strings.ToLower(suffix), Data: data}, nil
}

// pollRodinJob returns the per-subtask statuses for a job. Once a job
// has been classified terminal its stored statuses are returned without
// asking the backend again.
func pollRodinJob(ctx context.Context, d *Daemon, raw json.RawMessage) (any, error) {
	const op = "poll_rodin_job_status"
	var p struct {
		SubscriptionKey string `json:"subscription_key"`
	}
	if err := decodeParams(op, raw, &p); err != nil {
		return nil, err
	}
	key := strings.TrimSpace(p.SubscriptionKey)
	if key == "" {
		return nil, invalidParams(op, "subscription_key is required")
	}

	if job, err := d.store.Job(ctx, key); err == nil && job.Terminal() {
		d.metrics.ObservePoll(job.Phase)
		return job.Statuses, nil
	} else if err != nil && !errors.Is(err, assets.ErrJobNotFound) {
		return nil, err
	}

	if d.rodin == nil {
		return nil, errRodinDisabled
	}
	list, err := d.rodin.Status(ctx, key)
	d.metrics.ObserveBackend("rodin", err)
	if err != nil {
		return nil, err
	}

	statuses := make([]string, 0, len(list))
	for _, j := range list {
		statuses = append(statuses, j.Status)
	}
	phase := jobs.Classify(jobs.List(statuses...))

	job, err := d.store.UpdateJobStatus(ctx, key, phase.String(), statuses)
	if err != nil {
		return nil, err
	}
	d.metrics.ObservePoll(job.Phase)
	return job.Statuses, nil
}

type importResult struct {
	Succeed bool     `json:"succeed"`
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Files   []string `json:"files"`
}

func importGeneratedAsset(ctx context.Context, d *Daemon, raw json.RawMessage) (any, error) {
	const op = "import_generated_asset"
	if d.rodin == nil {
		return nil, errRodinDisabled
	}

	var p struct {
		Name     string `json:"name"`
		TaskUUID string `json:"task_uuid"`
	}
	if err := decodeParams(op, raw, &p); err != nil {
		return nil, err
	}
	name, task := strings.TrimSpace(p.Name), strings.TrimSpace(p.TaskUUID)
	switch {
	case name == "":
		return nil, invalidParams(op, "name is required")
	case task == "":
		return nil, invalidParams(op, "task_uuid is required")
	case !validAssetName(name):
		return nil, invalidParams(op, "name %q must not contain path separators", name)
	}

	files, err := d.rodin.Files(ctx, task)
	d.metrics.ObserveBackend("rodin", err)
	if err != nil {
		return nil, err
	}
	files = selectFiles(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no files available for task %s", task)
	}

	dir, saved, err := d.download(ctx, name, files)
	if err != nil {
		return nil, err
	}

	asset, err := d.store.SaveAsset(ctx, assets.Asset{Name: name, TaskUUID: task, Path: dir, Files: saved})
	if err != nil {
		return nil, err
	}
	d.logger.Info("asset imported", zap.String("name", name), zap.String("path", dir), zap.Strings("files", saved))
	return importResult{Succeed: true, Name: asset.Name, Path: asset.Path, Files: asset.Files}, nil
}

// selectFiles keeps the first .glb file, or every file when there is none.
func selectFiles(files []rodin.File) []rodin.File {
	for _, f := range files {
		if strings.EqualFold(filepath.Ext(f.Name), ".glb") {
			return []rodin.File{f}
		}
	}
	return files
}

func validAssetName(name string) bool {
	return name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// download fetches files into a staging directory and swaps it into
// place, replacing any earlier import of the same name.
func (d *Daemon) download(ctx context.Context, name string, files []rodin.File) (string, []string, error) {
	if err := paths.EnsureDir(d.assetsDir); err != nil {
		return "", nil, fmt.Errorf("creating assets dir: %w", err)
	}
	staging, err := os.MkdirTemp(d.assetsDir, ".import-*")
	if err != nil {
		return "", nil, err
	}
	defer os.RemoveAll(staging)

	saved := make([]string, 0, len(files))
	for i, f := range files {
		base := filepath.Base(f.Name)
		if base == "." || base == "/" || base == "" {
			base = fmt.Sprintf("file-%d", i)
		}
		if err := d.fetchFile(ctx, f.URL, filepath.Join(staging, base)); err != nil {
			return "", nil, err
		}
		saved = append(saved, base)
	}

	dest := filepath.Join(d.assetsDir, name)
	if err := os.RemoveAll(dest); err != nil {
		return "", nil, err
	}
	if err := os.Rename(staging, dest); err != nil {
		return "", nil, err
	}
	return dest, saved, nil
}

func (d *Daemon) fetchFile(ctx context.Context, url, path string) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, err = d.rodin.Fetch(ctx, url, out)
	d.metrics.ObserveBackend("rodin", err)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}
