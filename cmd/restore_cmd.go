package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kebairia/backman/internal/operations"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the latest backup into restore_dir",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRestore(cmd)
	},
}

func runRestore(cmd *cobra.Command) error {
	om, log, err := setup(cmd.Context())
	if log != nil {
		defer log.Sync()
	}
	if err != nil {
		return err
	}

	a, err := om.Restore(cmd.Context(), operations.RestoreOptions{
		Target:  restoreOpts.target,
		Archive: restoreOpts.archive,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", a.Path)
	return nil
}

func addRestoreFlags(c *cobra.Command) {
	c.Flags().StringVarP(&restoreOpts.target, "target", "t", "", "only consider archives of this target")
	c.Flags().StringVarP(&restoreOpts.archive, "archive", "a", "", "restore this archive file instead of the latest")
}

func init() {
	addRestoreFlags(restoreCmd)
}
