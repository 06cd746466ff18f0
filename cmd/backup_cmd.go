package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up every target in the config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackup(cmd)
	},
}

func runBackup(cmd *cobra.Command) error {
	om, log, err := setup(cmd.Context())
	if log != nil {
		defer log.Sync()
	}
	if err != nil {
		return err
	}

	s, err := om.Backup(cmd.Context())
	out := cmd.OutOrStdout()
	for _, r := range s.Results {
		if r.Success {
			fmt.Fprintf(out, "OK     %-20s %s\n", r.Target, r.ArchivePath)
			continue
		}
		fmt.Fprintf(out, "FAILED %-20s %v\n", r.Target, r.Err)
	}
	if err != nil {
		return fmt.Errorf("%d of %d targets failed", s.Failed(), len(s.Results))
	}
	return nil
}
