package cli

import (
	"github.com/spf13/cobra"

	"github.com/lydakis/scenectl/internal/bridge"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the listener's operations as MCP tools over stdio",
		Long: `Serve MCP over stdin/stdout. Each tool call is forwarded to the listener
on its own connection. Set SCENECTL_PORT to reach a listener on another port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b := bridge.New(a.client(), a.workflow(), buildVersion)
			return b.ServeStdio(cmd.Context(), a.stdin, a.stdout)
		},
	}
}
