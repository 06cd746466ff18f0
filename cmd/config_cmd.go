package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kebairia/backman/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate the config and print it with defaults applied",
	Long: `config loads and validates the configuration exactly as a backup run
would, then prints the effective settings with passwords and keys masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(ConfigFile)
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}
