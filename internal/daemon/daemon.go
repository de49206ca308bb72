package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lydakis/scenectl/internal/assets"
	"github.com/lydakis/scenectl/internal/cache"
	"github.com/lydakis/scenectl/internal/config"
	"github.com/lydakis/scenectl/internal/hostloop"
	"github.com/lydakis/scenectl/internal/ipc"
	"github.com/lydakis/scenectl/internal/metrics"
	"github.com/lydakis/scenectl/internal/paths"
	"github.com/lydakis/scenectl/internal/polyhaven"
	"github.com/lydakis/scenectl/internal/rodin"
	"github.com/lydakis/scenectl/internal/script"
)

// Name is reported by get_status.
const Name = "scenectl"

// Options configures a Daemon. Zero values fall back to the user's XDG
// directories and default clients.
type Options struct {
	Config       *config.Config
	Logger       *zap.Logger
	Version      string
	HTTPClient   *http.Client
	DatabasePath string
	AssetsDir    string
	CacheDir     string
}

// Daemon is the listener's host side: it owns the host loop, backend
// clients and the asset store, and answers decoded requests.
type Daemon struct {
	cfg       *config.Config
	logger    *zap.Logger
	version   string
	startedAt time.Time

	loop      *hostloop.Loop
	runner    *script.Runner
	rodin     *rodin.Client
	polyhaven *polyhaven.Client
	store     *assets.Store
	metrics   *metrics.Collector
	assetsDir string

	ops map[string]operation
}

// New builds a Daemon. Call Close to release it.
func New(opts Options) (*Daemon, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Client.SubmitTimeoutDuration()}
	}

	dbPath := opts.DatabasePath
	if dbPath == "" {
		if err := paths.EnsureDir(paths.StateDir()); err != nil {
			return nil, fmt.Errorf("creating state dir: %w", err)
		}
		dbPath = paths.DatabasePath()
	}
	store, err := assets.Open(dbPath, logger.With(zap.String("component", "assets")))
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		version:   version,
		startedAt: time.Now().UTC(),
		runner: &script.Runner{
			Interpreter:    cfg.Host.Interpreter,
			WorkDir:        cfg.Host.WorkDir,
			Env:            cfg.Host.Env,
			MaxOutputBytes: cfg.Host.MaxOutputBytes,
		},
		store:     store,
		metrics:   metrics.NewCollector(),
		assetsDir: opts.AssetsDir,
	}
	if d.assetsDir == "" {
		d.assetsDir = paths.AssetsDir()
	}

	if cfg.Rodin.Enabled && cfg.Rodin.APIKey != "" {
		d.rodin = rodin.New(cfg.Rodin.BaseURL, cfg.Rodin.APIKey,
			rodin.WithHTTPClient(hc),
			rodin.WithTier(cfg.Rodin.Tier),
			rodin.WithMeshMode(cfg.Rodin.MeshMode),
			rodin.WithRateLimit(cfg.Rodin.RequestsPerSecond),
			rodin.WithHeaders(cfg.Rodin.Headers),
		)
	}
	if cfg.PolyHaven.Enabled {
		responses := cache.Default()
		if opts.CacheDir != "" {
			responses = cache.New(opts.CacheDir)
		}
		d.polyhaven = polyhaven.New(cfg.PolyHaven.BaseURL,
			polyhaven.WithHTTPClient(hc),
			polyhaven.WithHeaders(cfg.PolyHaven.Headers),
			polyhaven.WithCache(responses, cfg.PolyHaven.CacheTTLDuration()),
		)
	}

	d.loop = hostloop.New(
		hostloop.WithLogger(logger.With(zap.String("component", "hostloop"))),
		hostloop.WithDepthFunc(d.metrics.SetQueueDepth),
	)
	d.ops = operations()
	return d, nil
}

// Close stops the host loop and closes the store.
func (d *Daemon) Close() error {
	d.loop.Close()
	return d.store.Close()
}

// Metrics returns the daemon's collector.
func (d *Daemon) Metrics() *metrics.Collector { return d.metrics }

// Operations lists the recognized operation names.
func (d *Daemon) Operations() []string {
	names := make([]string, 0, len(d.ops))
	for name := range d.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle answers one request. Raw requests are routed to execute_code.
// Every operation runs on the host loop, one at a time.
func (d *Daemon) Handle(ctx context.Context, req *ipc.Request) *ipc.Response {
	name, params := req.Type, req.Params
	if req.IsRaw() {
		name = ipc.RawOperation
		params, _ = json.Marshal(map[string]string{"code": req.Raw})
	}

	op, ok := d.ops[name]
	if !ok {
		return ipc.Failuref("unknown operation: %s", name)
	}

	var result any
	err := d.loop.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = op(ctx, d, params)
		return err
	})
	if err != nil {
		d.logger.Debug("operation failed",
			zap.String("op", name),
			zap.String("request_id", ipc.RequestID(ctx)),
			zap.Error(err))
		return ipc.Failure(errorMessage(err))
	}
	return ipc.Success(result)
}

// Run serves the listener until ctx is canceled. It fails immediately
// if the address cannot be bound.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger, version string) error {
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	d, err := New(Options{Config: cfg, Logger: logger, Version: version})
	if err != nil {
		return err
	}
	defer d.Close()

	srv := ipc.NewServer(cfg.Listener.Address(), d.Handle,
		ipc.WithLogger(logger.With(zap.String("component", "listener"))),
		ipc.WithObserver(d.metrics),
		ipc.WithMaxRequestBytes(cfg.Listener.MaxRequestBytes),
		ipc.WithMaxConnections(cfg.Listener.MaxConnections),
		ipc.WithReadTimeout(cfg.Listener.ReadTimeoutDuration()),
		ipc.WithIdleTimeout(cfg.Listener.IdleTimeoutDuration()),
		ipc.WithOperations(d.Operations()...),
		ipc.WithAllowRaw(cfg.Listener.AllowRaw),
	)
	if err := srv.Start(); err != nil {
		return err
	}
	if cfg.Listener.AllowRaw {
		logger.Warn("raw command execution is enabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		srv.Stop()
		return nil
	})

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.metrics.Handler())
		httpSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info("metrics endpoint started", zap.String("addr", cfg.Metrics.Addr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics endpoint: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	return err
}
