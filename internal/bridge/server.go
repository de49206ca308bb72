// Package bridge serves the listener's operations as MCP tools over stdio.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lydakis/scenectl/internal/ipc"
	"github.com/lydakis/scenectl/internal/jobs"
)

// Name is the MCP server name announced to clients.
const Name = "scenectl"

// Bridge forwards MCP tool calls to a listener, one connection per call.
type Bridge struct {
	client   *ipc.Client
	workflow *jobs.Workflow
	server   *server.MCPServer
}

// New builds a bridge for the listener client. workflow supplies the
// per-phase timeouts for generation tools; nil uses the defaults.
func New(client *ipc.Client, workflow *jobs.Workflow, version string) *Bridge {
	if workflow == nil {
		workflow = &jobs.Workflow{}
	}
	wf := *workflow
	wf.Client = client

	b := &Bridge{
		client:   client,
		workflow: &wf,
		server:   server.NewMCPServer(Name, version, server.WithToolCapabilities(false)),
	}
	b.registerTools()
	return b
}

// Server exposes the underlying MCP server.
func (b *Bridge) Server() *server.MCPServer { return b.server }

// ServeStdio serves MCP on in/out until ctx is canceled or in is closed.
func (b *Bridge) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(b.server).Listen(ctx, in, out)
}

func (b *Bridge) registerTools() {
	b.server.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Report the listener's name, version, uptime, operations and enabled backends."),
	), b.forward("get_status"))

	b.server.AddTool(mcp.NewTool("execute_code",
		mcp.WithDescription("Run a script in the host application's scripting environment and return its output."),
		mcp.WithString("code", mcp.Required(), mcp.Description("Script source to execute.")),
	), b.executeCode)

	b.server.AddTool(mcp.NewTool("get_polyhaven_categories",
		mcp.WithDescription("List Poly Haven asset categories with asset counts."),
		mcp.WithString("asset_type",
			mcp.Description("Asset type to list categories for."),
			mcp.Enum("hdris", "textures", "models", "all"),
		),
	), b.polyhavenCategories)

	b.server.AddTool(mcp.NewTool("generate_asset",
		mcp.WithDescription("Submit a Hyper3D Rodin generation job from a text prompt and/or reference images. "+
			"Returns the task uuid and subscription key to poll."),
		mcp.WithString("text_prompt", mcp.Description("Text description of the model.")),
		mcp.WithArray("image_paths",
			mcp.Description("Local paths of reference images."),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithArray("bbox_condition",
			mcp.Description("Bounding box ratio as three numbers."),
			mcp.Items(map[string]any{"type": "number"}),
		),
	), b.generateAsset)

	b.server.AddTool(mcp.NewTool("poll_job_status",
		mcp.WithDescription("Fetch the status of a generation job once and classify it as pending, succeeded or failed."),
		mcp.WithString("subscription_key", mcp.Required(), mcp.Description("Subscription key returned by generate_asset.")),
	), b.pollJobStatus)

	b.server.AddTool(mcp.NewTool("import_generated_asset",
		mcp.WithDescription("Download a finished generation job and import it as a named asset."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Asset name.")),
		mcp.WithString("task_uuid", mcp.Required(), mcp.Description("Task uuid returned by generate_asset.")),
	), b.importAsset)

	b.server.AddTool(mcp.NewTool("get_hyper3d_status",
		mcp.WithDescription("Report whether Hyper3D Rodin generation is enabled."),
	), b.forward("get_hyper3d_status"))

	b.server.AddTool(mcp.NewTool("get_hunyuan3d_status",
		mcp.WithDescription("Report whether Hunyuan3D generation is enabled."),
	), b.forward("get_hunyuan3d_status"))

	b.server.AddTool(mcp.NewTool("list_assets",
		mcp.WithDescription("List imported assets."),
	), b.forward("list_assets"))
}

// forward relays a parameterless operation and returns its result.
func (b *Bridge) forward(op string) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var out json.RawMessage
		if err := b.client.Call(ctx, op, nil, &out); err != nil {
			return toolError(err), nil
		}
		return jsonResult(out)
	}
}

func (b *Bridge) executeCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := req.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var out struct {
		Stdout    string `json:"stdout"`
		Stderr    string `json:"stderr"`
		Truncated bool   `json:"truncated"`
	}
	if err := b.client.Call(ctx, "execute_code", map[string]string{"code": code}, &out); err != nil {
		return toolError(err), nil
	}

	var text strings.Builder
	text.WriteString(out.Stdout)
	if out.Stderr != "" {
		if text.Len() > 0 && !strings.HasSuffix(text.String(), "\n") {
			text.WriteByte('\n')
		}
		text.WriteString("stderr:\n" + out.Stderr)
	}
	if out.Truncated {
		text.WriteString("\n[output truncated]")
	}
	if text.Len() == 0 {
		text.WriteString("Code executed with no output.")
	}
	return mcp.NewToolResultText(text.String()), nil
}

func (b *Bridge) polyhavenCategories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params := map[string]string{"asset_type": req.GetString("asset_type", "all")}
	var out json.RawMessage
	if err := b.client.Call(ctx, "get_polyhaven_categories", params, &out); err != nil {
		return toolError(err), nil
	}
	return jsonResult(out)
}

func (b *Bridge) generateAsset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gen := jobs.GenerateRequest{Prompt: req.GetString("text_prompt", "")}
	for _, p := range req.GetStringSlice("image_paths", nil) {
		img, err := jobs.ImageFromFile(p)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		gen.Images = append(gen.Images, img)
	}
	gen.BBox = req.GetFloatSlice("bbox_condition", nil)
	if len(gen.BBox) != 0 && len(gen.BBox) != 3 {
		return mcp.NewToolResultError(fmt.Sprintf("bbox_condition must have 3 numbers, got %d", len(gen.BBox))), nil
	}

	sub, err := b.workflow.Submit(ctx, gen)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(sub)
}

func (b *Bridge) pollJobStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("subscription_key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status, err := b.workflow.Poll(ctx, key)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{
		"phase":    jobs.Classify(status).String(),
		"statuses": status,
	})
}

func (b *Bridge) importAsset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	task, err := req.RequireString("task_uuid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := b.workflow.Import(ctx, name, task)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(res)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolError reports a failed exchange as a tool error. Transport
// failures carry a hint to start the listener.
func toolError(err error) *mcp.CallToolResult {
	var remote *ipc.RemoteError
	switch {
	case errors.As(err, &remote):
		return mcp.NewToolResultError(remote.Message)
	case errors.Is(err, ipc.ErrListenerUnavailable):
		return mcp.NewToolResultError(err.Error() + " (start it inside the host application with: scenectl serve)")
	case errors.Is(err, ipc.ErrTimeout):
		return mcp.NewToolResultError(err.Error() + " (the command may still be running in the host)")
	}
	return mcp.NewToolResultError(err.Error())
}
