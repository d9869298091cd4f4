package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"splatgate/internal/config"
)

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
		Long:  "Show or validate the effective splatgate configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# config file: %s\n", config.Path())
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(root.cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate the effective configuration, or a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if len(args) == 1 {
				loaded, err := config.LoadFile(args[0])
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}
