package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List archives in backup_dir, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		om, log, err := setup(cmd.Context())
		if log != nil {
			defer log.Sync()
		}
		if err != nil {
			return err
		}

		archives, err := om.List()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TARGET\tCREATED\tFORMAT\tPATH")
		for _, a := range archives {
			target := a.Target
			if target == "" {
				target = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", target, a.CreatedAt.Format("2006-01-02 15:04:05"), a.Format, a.Path)
		}
		return w.Flush()
	},
}
