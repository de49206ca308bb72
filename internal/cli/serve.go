package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lydakis/scenectl/internal/daemon"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		allowRaw    bool
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the command listener (inside the host application)",
		Long: `Run the command listener until interrupted. The listener binds
listener.host:listener.port (or --addr) and fails immediately if the
address is taken.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if a.flags.addr != "" {
				host, port, err := splitAddr(a.flags.addr)
				if err != nil {
					return &usageError{err: err}
				}
				cfg.Listener.Host, cfg.Listener.Port = host, port
			}
			if cmd.Flags().Changed("allow-raw") {
				cfg.Listener.AllowRaw = allowRaw
			}
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}
			if a.flags.verbose {
				cfg.Log.Level = "debug"
			}

			logger, err := daemon.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a, logger)
		},
	}
	cmd.Flags().BoolVar(&allowRaw, "allow-raw", false, "accept raw command requests")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

// serve is swapped out in tests.
var serve = func(ctx context.Context, a *app, logger *zap.Logger) error {
	logger.Info("listener starting", zap.String("addr", a.cfg.Listener.Address()), zap.String("version", buildVersion))
	return daemon.Run(ctx, a.cfg, logger, buildVersion)
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("--addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("--addr: invalid port %q", portStr)
	}
	return host, port, nil
}
