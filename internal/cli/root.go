// Package cli implements the scenectl command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lydakis/scenectl/internal/config"
	"github.com/lydakis/scenectl/internal/ipc"
	"github.com/lydakis/scenectl/internal/jobs"
	"github.com/lydakis/scenectl/internal/response"
)

// usageError is a bad invocation: exit code 2.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// exitError carries an exit code whose message was already printed.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// app is the state shared by the commands of one invocation.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	flags globalFlags
	cfg   *config.Config

	// ran is set once argument validation passed and a command started.
	ran bool
}

// Run is the main CLI entry point. Returns an exit code.
func Run(args []string) int {
	return run(context.Background(), args, rootStdin, rootStdout, rootStderr)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ipc.ExitOK
	}

	var (
		exit  *exitError
		usage *usageError
	)
	switch {
	case errors.As(err, &exit):
		return exit.code
	case errors.As(err, &usage), !a.ran:
		fmt.Fprintf(stderr, "scenectl: %v\n", err)
		fmt.Fprintln(stderr, "Run 'scenectl --help' for usage.")
		return ipc.ExitUsageErr
	}

	fmt.Fprintf(stderr, "scenectl: %v\n", err)
	if hint := response.Hint(err); hint != "" {
		fmt.Fprintf(stderr, "scenectl: %s\n", hint)
	}
	return response.ExitCode(err)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "scenectl",
		Short: "Drive a 3D host application through its command listener",
		Long: `scenectl runs a command listener inside a 3D host application and
talks to it from the outside.

Inside the host:
  scenectl serve

From anywhere else:
  scenectl status
  scenectl exec script.py
  scenectl generate --name chair --prompt "a wooden chair"
  scenectl mcp                      # serve the operations as MCP tools`,
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.ran = true
			if cmd.Annotations["config"] == "skip" {
				return nil
			}
			return a.loadConfig()
		},
	}
	root.SetVersionTemplate("scenectl {{.Version}}\n")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "config file (default "+config.ExampleConfigPath()+")")
	pf.StringVar(&a.flags.addr, "addr", "", "listener address host:port (overrides config)")
	pf.DurationVar(&a.flags.timeout, "timeout", 0, "per-call timeout (default from client.timeout)")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newServeCmd(a),
		newStatusCmd(a),
		newSendCmd(a),
		newExecCmd(a),
		newCategoriesCmd(a),
		newBackendsCmd(a),
		newGenerateCmd(a),
		newResumeCmd(a),
		newAssetsCmd(a),
		newMCPCmd(a),
		newConfigCmd(a),
	)
	return root
}

func (a *app) loadConfig() error {
	var (
		cfg *config.Config
		err error
	)
	if a.flags.configPath != "" {
		cfg, err = config.LoadFrom(a.flags.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return &usageError{err: fmt.Errorf("invalid config: %w", err)}
	}
	a.cfg = cfg
	return nil
}

// address returns the listener address, --addr winning over config.
func (a *app) address() string {
	if addr := strings.TrimSpace(a.flags.addr); addr != "" {
		return addr
	}
	return a.cfg.Listener.Address()
}

func (a *app) client() *ipc.Client {
	timeout := a.flags.timeout
	if timeout <= 0 {
		timeout = a.cfg.Client.TimeoutDuration()
	}
	return ipc.NewClient(a.address(),
		ipc.WithTimeout(timeout),
		ipc.WithMaxResponseBytes(a.cfg.Client.MaxResponseBytes),
	)
}

// workflow builds the generation workflow. An explicit --timeout
// replaces every per-phase timeout.
func (a *app) workflow() *jobs.Workflow {
	c := a.cfg.Client
	wf := &jobs.Workflow{
		Client: a.client(),
		Poller: jobs.Poller{
			Interval: c.PollIntervalDuration(),
			MaxWait:  c.PollMaxWaitDuration(),
		},
		SubmitTimeout: c.SubmitTimeoutDuration(),
		PollTimeout:   c.TimeoutDuration(),
		ImportTimeout: c.ImportTimeoutDuration(),
	}
	if a.flags.timeout > 0 {
		wf.SubmitTimeout = a.flags.timeout
		wf.PollTimeout = a.flags.timeout
		wf.ImportTimeout = a.flags.timeout
	}
	if a.flags.verbose {
		wf.Poller.OnPoll = func(attempt int, s jobs.Status, err error) {
			if err != nil {
				fmt.Fprintf(a.stderr, "scenectl: poll %d: %v\n", attempt, err)
				return
			}
			fmt.Fprintf(a.stderr, "scenectl: poll %d: %s (%s)\n", attempt, s, jobs.Classify(s))
		}
	}
	return wf
}

// printResult writes a listener result to stdout.
func (a *app) printResult(v []byte) {
	if len(v) > 0 {
		_, _ = a.stdout.Write(v)
	}
}
