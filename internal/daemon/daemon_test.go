package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lydakis/scenectl/internal/config"
	"github.com/lydakis/scenectl/internal/ipc"
)

func newTestDaemon(t *testing.T, mutate func(*config.Config)) *Daemon {
	t.Helper()
	cfg := config.Default()
	cfg.PolyHaven.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	d, err := New(Options{
		Config:       cfg,
		Logger:       zap.NewNop(),
		Version:      "1.2.3",
		DatabasePath: ":memory:",
		AssetsDir:    t.TempDir(),
		CacheDir:     t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func handle(t *testing.T, d *Daemon, typ string, params any) *ipc.Response {
	t.Helper()
	req, err := ipc.NewRequest(typ, params)
	require.NoError(t, err)
	if req.Params == nil {
		req.Params = json.RawMessage("{}")
	}
	return d.Handle(context.Background(), req)
}

func decodeResult(t *testing.T, resp *ipc.Response, out any) {
	t.Helper()
	require.True(t, resp.OK(), "response error: %s", resp.Message)
	require.NoError(t, json.Unmarshal(resp.Result, out))
}

func TestGetStatusOverListener(t *testing.T) {
	d := newTestDaemon(t, nil)
	srv := ipc.NewServer("127.0.0.1:0", d.Handle, ipc.WithObserver(d.Metrics()))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	c := ipc.NewClient(srv.Addr().String(), ipc.WithTimeout(2*time.Second))
	var status statusResult
	require.NoError(t, c.Call(context.Background(), "get_status", nil, &status))

	assert.Equal(t, Name, status.Name)
	assert.Equal(t, "1.2.3", status.Version)
	assert.ElementsMatch(t, []string{
		"get_status", "execute_code", "get_polyhaven_categories", "create_rodin_job",
		"poll_rodin_job_status", "import_generated_asset", "get_hyper3d_status",
		"get_hunyuan3d_status", "list_assets",
	}, status.Operations)
	assert.False(t, status.Backends["hyper3d"])
	assert.False(t, status.Backends["code_execution"])
}

func TestListenerSurvivesGarbageThenServes(t *testing.T) {
	d := newTestDaemon(t, nil)
	srv := ipc.NewServer("127.0.0.1:0", d.Handle)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ipc.WriteFrame(conn, []byte{0x00, 0xff, 0x13, 0x37, 0xc3}))
	data, err := ipc.ReadFrame(conn, 1<<20)
	require.NoError(t, err)
	conn.Close()
	resp, err := ipc.ParseResponse(data)
	require.NoError(t, err)
	assert.False(t, resp.OK())

	err = ipc.NewClient(srv.Addr().String()).Call(context.Background(), "get_status", nil, nil)
	assert.NoError(t, err)
}

func TestHandleUnknownOperation(t *testing.T) {
	d := newTestDaemon(t, nil)
	resp := handle(t, d, "delete_everything", nil)
	assert.False(t, resp.OK())
	assert.Equal(t, "unknown operation: delete_everything", resp.Message)
}

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecuteCode(t *testing.T) {
	requireSh(t)
	d := newTestDaemon(t, func(c *config.Config) { c.Host.Interpreter = []string{"sh", "-c"} })

	var out executeResult
	decodeResult(t, handle(t, d, "execute_code", map[string]string{"code": "echo cube added"}), &out)
	assert.True(t, out.Executed)
	assert.Equal(t, "cube added\n", out.Stdout)

	resp := handle(t, d, "execute_code", map[string]string{"code": "echo 'bad operator' >&2; exit 1"})
	assert.False(t, resp.OK())
	assert.Equal(t, "bad operator", resp.Message)

	resp = handle(t, d, "execute_code", map[string]string{"code": "  "})
	assert.Equal(t, "invalid params for execute_code: code is required", resp.Message)
}

func TestHalfClosedRequestQueuedBehindBusyLoopStillRuns(t *testing.T) {
	requireSh(t)
	d := newTestDaemon(t, func(c *config.Config) { c.Host.Interpreter = []string{"sh", "-c"} })
	srv := ipc.NewServer("127.0.0.1:0", d.Handle)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	busy := make(chan error, 1)
	go func() {
		c := ipc.NewClient(srv.Addr().String(), ipc.WithTimeout(5*time.Second))
		busy <- c.Call(context.Background(), "execute_code", map[string]string{"code": "sleep 0.5"}, nil)
	}()
	time.Sleep(100 * time.Millisecond)

	conn, err := net.DialTCP("tcp", nil, srv.Addr().(*net.TCPAddr))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, ipc.WriteFrame(conn, []byte(`{"type":"get_status","params":{}}`)))
	require.NoError(t, conn.CloseWrite())

	data, err := ipc.ReadFrame(conn, 1<<20)
	require.NoError(t, err)
	resp, err := ipc.ParseResponse(data)
	require.NoError(t, err)
	assert.True(t, resp.OK(), "response error: %s", resp.Message)
	require.NoError(t, <-busy)
}

func TestExecuteCodeWithoutInterpreter(t *testing.T) {
	d := newTestDaemon(t, nil)
	resp := handle(t, d, "execute_code", map[string]string{"code": "print(1)"})
	assert.False(t, resp.OK())
	assert.Contains(t, resp.Message, "code execution is not configured")
}

func TestHandleRawRequestRunsAsExecuteCode(t *testing.T) {
	requireSh(t)
	d := newTestDaemon(t, func(c *config.Config) { c.Host.Interpreter = []string{"sh", "-c"} })

	resp := d.Handle(context.Background(), &ipc.Request{Raw: "exit 0"})
	assert.True(t, resp.OK())
}

func TestHandleRejectsBadParamTypes(t *testing.T) {
	d := newTestDaemon(t, nil)
	resp := d.Handle(context.Background(), &ipc.Request{Type: "execute_code", Params: json.RawMessage(`{"code": 5}`)})
	assert.False(t, resp.OK())
	assert.Contains(t, resp.Message, "invalid params for execute_code")
}

func TestBackendStatus(t *testing.T) {
	d := newTestDaemon(t, nil)
	var st backendStatus
	decodeResult(t, handle(t, d, "get_hyper3d_status", nil), &st)
	assert.False(t, st.Enabled)
	assert.Contains(t, st.Message, "rodin.api_key")

	decodeResult(t, handle(t, d, "get_hunyuan3d_status", nil), &st)
	assert.False(t, st.Enabled)

	d = newTestDaemon(t, func(c *config.Config) {
		c.Rodin.Enabled = true
		c.Rodin.APIKey = "k"
		c.Hunyuan3D.Enabled = true
		c.Hunyuan3D.APIKey = "h"
	})
	decodeResult(t, handle(t, d, "get_hyper3d_status", nil), &st)
	assert.True(t, st.Enabled)
	assert.Contains(t, st.Message, "tier Sketch")
	decodeResult(t, handle(t, d, "get_hunyuan3d_status", nil), &st)
	assert.True(t, st.Enabled)
}

func TestDisabledBackendsNameTheirConfigKey(t *testing.T) {
	d := newTestDaemon(t, nil)

	resp := handle(t, d, "get_polyhaven_categories", map[string]string{"asset_type": "hdris"})
	assert.Equal(t, "Poly Haven is disabled: set polyhaven.enabled = true", resp.Message)

	resp = handle(t, d, "create_rodin_job", map[string]string{"text_prompt": "chair"})
	assert.Contains(t, resp.Message, "SCENECTL_RODIN_API_KEY")
}

func TestListAssetsEmpty(t *testing.T) {
	d := newTestDaemon(t, nil)
	resp := handle(t, d, "list_assets", nil)
	require.True(t, resp.OK())
	assert.JSONEq(t, `{"assets":[]}`, string(resp.Result))
}

func TestRunFailsFastWhenPortIsTaken(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	held, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer held.Close()

	cfg := config.Default()
	cfg.Listener.Port = held.Addr().(*net.TCPAddr).Port

	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), cfg, zap.NewNop(), "test") }()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ipc.ErrAddrInUse), "Run() error = %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not fail fast on a held port")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	cfg := config.Default()
	cfg.Listener.Port = port

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, zap.NewNop(), "test") }()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	c := ipc.NewClient(addr, ipc.WithTimeout(time.Second))
	require.Eventually(t, func() bool {
		return c.Call(context.Background(), "get_status", nil, nil) == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Listener.Port = 0
	err := Run(context.Background(), cfg, zap.NewNop(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestPolyHavenCategoriesAreCached(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/categories/hdris", r.URL.Path)
		_, _ = w.Write([]byte(`{"all": 3, "outdoor": 2}`))
	}))
	defer srv.Close()

	d := newTestDaemon(t, func(c *config.Config) {
		c.PolyHaven.Enabled = true
		c.PolyHaven.BaseURL = srv.URL
	})

	for range 2 {
		var out struct {
			Categories map[string]int `json:"categories"`
		}
		decodeResult(t, handle(t, d, "get_polyhaven_categories", map[string]string{"asset_type": "hdris"}), &out)
		assert.Equal(t, 2, out.Categories["outdoor"])
	}
	assert.Equal(t, 1, hits)

	resp := handle(t, d, "get_polyhaven_categories", map[string]string{"asset_type": "sounds"})
	assert.Contains(t, resp.Message, `invalid asset type "sounds"`)
}
