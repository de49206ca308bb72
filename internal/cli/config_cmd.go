package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/lydakis/scenectl/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Print the config file path",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"config": "skip"},
		Run: func(*cobra.Command, []string) {
			fmt.Fprintln(a.stdout, a.configPath())
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a config file with the defaults",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"config": "skip"},
		RunE: func(*cobra.Command, []string) error {
			path := a.configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return usageErrorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.SaveTo(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			shown := *a.cfg
			if shown.Rodin.APIKey != "" {
				shown.Rodin.APIKey = "<redacted>"
			}
			if shown.Hunyuan3D.APIKey != "" {
				shown.Hunyuan3D.APIKey = "<redacted>"
			}
			return toml.NewEncoder(a.stdout).Encode(&shown)
		},
	})
	return cmd
}

func (a *app) configPath() string {
	if a.flags.configPath != "" {
		return a.flags.configPath
	}
	return config.ExampleConfigPath()
}
