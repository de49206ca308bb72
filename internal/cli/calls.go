package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lydakis/scenectl/internal/ipc"
	"github.com/lydakis/scenectl/internal/response"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show listener status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out json.RawMessage
			if err := a.client().Call(cmd.Context(), "get_status", nil, &out); err != nil {
				return err
			}
			a.printResult(response.Render(out))
			return nil
		},
	}
}

func newSendCmd(a *app) *cobra.Command {
	var (
		params string
		raw    bool
	)
	cmd := &cobra.Command{
		Use:   "send TYPE [--params JSON] | send --raw [CODE|-]",
		Short: "Send any operation to the listener",
		Long: `Send one request to the listener and print its result.

With --raw the argument (or stdin for "-") is sent as a raw command; the
listener must have listener.allow_raw enabled.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := a.client()
			var (
				resp *ipc.Response
				err  error
			)
			if raw {
				if params != "" {
					return usageErrorf("--params cannot be used with --raw")
				}
				code := ""
				if len(args) == 1 && args[0] != "-" {
					code = args[0]
				} else {
					src, rerr := a.readSource(nil)
					if rerr != nil {
						return rerr
					}
					code = src
				}
				if strings.TrimSpace(code) == "" {
					return usageErrorf("raw command is empty")
				}
				resp, err = client.SendRaw(cmd.Context(), code)
			} else {
				if len(args) != 1 {
					return usageErrorf("send requires an operation TYPE")
				}
				var p json.RawMessage
				if params != "" {
					if !json.Valid([]byte(params)) {
						return usageErrorf("--params is not valid JSON")
					}
					p = json.RawMessage(params)
				}
				req, rerr := ipc.NewRequest(args[0], p)
				if rerr != nil {
					return rerr
				}
				resp, err = client.Do(cmd.Context(), req)
			}
			if err != nil {
				return err
			}
			return a.finish(resp)
		},
	}
	cmd.Flags().StringVar(&params, "params", "", "operation params as a JSON object")
	cmd.Flags().BoolVar(&raw, "raw", false, "send a raw command instead of an operation")
	return cmd
}

// finish prints a response the way the listener worded it and maps its
// status to the exit code.
func (a *app) finish(resp *ipc.Response) error {
	out, code := response.Unwrap(resp)
	if code == ipc.ExitOK {
		a.printResult(out)
		return nil
	}
	fmt.Fprintf(a.stderr, "scenectl: %s", out)
	return &exitError{code: code}
}

func newExecCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exec [FILE|-]",
		Short: "Execute a script in the host application",
		Long:  "Execute a script file (or stdin when FILE is - or omitted) with execute_code.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := a.readSource(args)
			if err != nil {
				return err
			}

			var out struct {
				Stdout    string `json:"stdout"`
				Stderr    string `json:"stderr"`
				Truncated bool   `json:"truncated"`
			}
			err = a.client().Call(cmd.Context(), "execute_code", map[string]string{"code": code}, &out)
			var remote *ipc.RemoteError
			if errors.As(err, &remote) {
				fmt.Fprintf(a.stderr, "scenectl: %s\n", remote.Message)
				return &exitError{code: ipc.ExitRemote}
			}
			if err != nil {
				return err
			}
			fmt.Fprint(a.stdout, out.Stdout)
			fmt.Fprint(a.stderr, out.Stderr)
			if out.Truncated {
				fmt.Fprintln(a.stderr, "scenectl: output truncated")
			}
			return nil
		},
	}
}

// readSource reads a script from the file named by args[0], or from
// stdin when there is no argument or it is "-".
func (a *app) readSource(args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(a.stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", usageErrorf("reading script: %v", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", usageErrorf("script is empty")
	}
	return string(data), nil
}

func newCategoriesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "categories [hdris|textures|models|all]",
		Short:     "List Poly Haven categories",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"hdris", "textures", "models", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			assetType := "all"
			if len(args) == 1 {
				assetType = args[0]
			}
			var out struct {
				Categories map[string]int `json:"categories"`
			}
			params := map[string]string{"asset_type": assetType}
			if err := a.client().Call(cmd.Context(), "get_polyhaven_categories", params, &out); err != nil {
				return err
			}
			a.printCategories(out.Categories)
			return nil
		},
	}
}

func (a *app) printCategories(cats map[string]int) {
	names := make([]string, 0, len(cats))
	for name := range cats {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%d\n", name, cats[name])
	}
	_ = tw.Flush()
}

type backendReport struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

func newBackendsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "Show which generation backends are enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := a.client()
			ops := []struct{ name, op string }{
				{"hyper3d", "get_hyper3d_status"},
				{"hunyuan3d", "get_hunyuan3d_status"},
			}
			reports := make([]backendReport, len(ops))

			g, ctx := errgroup.WithContext(cmd.Context())
			for i, o := range ops {
				g.Go(func() error {
					return client.Call(ctx, o.op, nil, &reports[i])
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			for i, o := range ops {
				state := "disabled"
				if reports[i].Enabled {
					state = "enabled"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", o.name, state, reports[i].Message)
			}
			return tw.Flush()
		},
	}
}

func newAssetsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "List imported assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var out json.RawMessage
			if err := a.client().Call(cmd.Context(), "list_assets", nil, &out); err != nil {
				return err
			}
			if asJSON {
				a.printResult(response.Render(out))
				return nil
			}

			var list struct {
				Assets []struct {
					Name     string `json:"name"`
					TaskUUID string `json:"task_uuid"`
					Path     string `json:"path"`
				} `json:"assets"`
			}
			if err := json.Unmarshal(out, &list); err != nil {
				return fmt.Errorf("%w: %v", ipc.ErrMalformedResponse, err)
			}
			if len(list.Assets) == 0 {
				fmt.Fprintln(a.stdout, "No assets imported.")
				return nil
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTASK\tPATH")
			for _, as := range list.Assets {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", as.Name, as.TaskUUID, as.Path)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON result")
	return cmd
}
