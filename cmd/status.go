package main

import (
	"github.com/spf13/cobra"

	"github.com/baybio/biodex/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the most recent curation run",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	db, err := store.Open(cfg.Cache.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(cmd.Context()); err != nil {
		return err
	}

	run, err := db.LatestRun(cmd.Context())
	if err != nil {
		return err
	}
	if run == nil {
		cmd.Println("no runs recorded")
		return nil
	}

	cmd.Printf("run %s\n", run.ID)
	cmd.Printf("  status:  %s\n", run.Status)
	cmd.Printf("  started: %s\n", run.StartedAt.Format("2006-01-02 15:04:05 MST"))
	if run.FinishedAt != nil {
		cmd.Printf("  ended:   %s\n", run.FinishedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if run.Summary != "" {
		cmd.Printf("  summary: %s\n", run.Summary)
	}
	return nil
}
