package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kebairia/backman/internal/config"
)

var (
	// ConfigFile is the path to the YAML configuration.
	ConfigFile string
	// Verbose mirrors the log file to stderr.
	Verbose bool

	restoreMode bool
	restoreOpts struct {
		target  string
		archive string
	}

	// rootCmd is the base command for backman. Without a subcommand it runs
	// a backup, or a restore when --restore is given.
	rootCmd = &cobra.Command{
		Use:   "backman",
		Short: "Back up files, directories and databases into compressed archives",
		Long: `backman archives the files, directories and MySQL/PostgreSQL databases
listed in its YAML configuration, restores the most recent archive on demand
and emails a summary of every run.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if restoreMode {
				return runRestore(cmd)
			}
			return runBackup(cmd)
		},
	}
)

// Execute runs the root command. SIGINT and SIGTERM cancel the run; targets
// not yet started are skipped and in-flight dumps are stopped.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", config.DefaultPath, "path to YAML config file")
	rootCmd.PersistentFlags().
		BoolVarP(&Verbose, "verbose", "v", false, "mirror log output to stderr")

	rootCmd.Flags().BoolVarP(&restoreMode, "restore", "r", false, "restore the latest backup instead of running one")
	addRestoreFlags(rootCmd)

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(configCmd)
}
