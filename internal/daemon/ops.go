package daemon

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/lydakis/scenectl/internal/assets"
)

type operation func(ctx context.Context, d *Daemon, params json.RawMessage) (any, error)

// operations is the closed set of request types the listener accepts.
func operations() map[string]operation {
	return map[string]operation{
		"get_status":               getStatus,
		"execute_code":             executeCode,
		"get_polyhaven_categories": polyhavenCategories,
		"create_rodin_job":         createRodinJob,
		"poll_rodin_job_status":    pollRodinJob,
		"import_generated_asset":   importGeneratedAsset,
		"get_hyper3d_status":       hyper3dStatus,
		"get_hunyuan3d_status":     hunyuan3dStatus,
		"list_assets":              listAssets,
	}
}

func decodeParams(op string, raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams(op, "%v", err)
	}
	return nil
}

type statusResult struct {
	Name          string          `json:"name"`
	Version       string          `json:"version"`
	StartedAt     time.Time       `json:"started_at"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Operations    []string        `json:"operations"`
	Backends      map[string]bool `json:"backends"`
}

func getStatus(_ context.Context, d *Daemon, _ json.RawMessage) (any, error) {
	return statusResult{
		Name:          Name,
		Version:       d.version,
		StartedAt:     d.startedAt,
		UptimeSeconds: int64(time.Since(d.startedAt).Seconds()),
		Operations:    d.Operations(),
		Backends: map[string]bool{
			"code_execution": d.runner.Configured(),
			"hyper3d":        d.rodin != nil,
			"hunyuan3d":      d.hunyuanEnabled(),
			"polyhaven":      d.polyhaven != nil,
		},
	}, nil
}

type executeResult struct {
	Executed  bool   `json:"executed"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	Truncated bool   `json:"truncated,omitempty"`
}

func executeCode(ctx context.Context, d *Daemon, raw json.RawMessage) (any, error) {
	var p struct {
		Code string `json:"code"`
	}
	if err := decodeParams("execute_code", raw, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Code) == "" {
		return nil, invalidParams("execute_code", "code is required")
	}

	res, err := d.runner.Run(ctx, p.Code)
	if err != nil {
		return nil, err
	}
	return executeResult{Executed: true, Stdout: res.Stdout, Stderr: res.Stderr, Truncated: res.Truncated}, nil
}

func polyhavenCategories(ctx context.Context, d *Daemon, raw json.RawMessage) (any, error) {
	if d.polyhaven == nil {
		return nil, &disabledError{backend: "Poly Haven", hint: "set polyhaven.enabled = true"}
	}
	var p struct {
		AssetType string `json:"asset_type"`
	}
	if err := decodeParams("get_polyhaven_categories", raw, &p); err != nil {
		return nil, err
	}

	cats, err := d.polyhaven.Categories(ctx, p.AssetType)
	d.metrics.ObserveBackend("polyhaven", err)
	if err != nil {
		return nil, err
	}
	return map[string]any{"categories": cats}, nil
}

type backendStatus struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

func hyper3dStatus(_ context.Context, d *Daemon, _ json.RawMessage) (any, error) {
	if d.rodin == nil {
		return backendStatus{
			Message: "Hyper3D Rodin is disabled: set rodin.api_key (or SCENECTL_RODIN_API_KEY) and rodin.enabled = true",
		}, nil
	}
	return backendStatus{
		Enabled: true,
		Message: "Hyper3D Rodin is enabled (tier " + d.cfg.Rodin.Tier + ", mesh mode " + d.cfg.Rodin.MeshMode + ")",
	}, nil
}

func (d *Daemon) hunyuanEnabled() bool {
	return d.cfg.Hunyuan3D.Enabled && d.cfg.Hunyuan3D.APIKey != ""
}

func hunyuan3dStatus(_ context.Context, d *Daemon, _ json.RawMessage) (any, error) {
	if !d.hunyuanEnabled() {
		return backendStatus{
			Message: "Hunyuan3D is disabled: set hunyuan3d.api_key and hunyuan3d.enabled = true",
		}, nil
	}
	return backendStatus{Enabled: true, Message: "Hunyuan3D is enabled"}, nil
}

func listAssets(ctx context.Context, d *Daemon, _ json.RawMessage) (any, error) {
	list, err := d.store.Assets(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []assets.Asset{}
	}
	return map[string]any{"assets": list}, nil
}
