package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/baybio/biodex/internal/artifact"
)

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Publish the staged production artifact",
	Long:  "Copies the staged production file over the production path. Refuses to run when no staged artifact exists, so a failed curate can never clobber the last good directory.",
	RunE:  runPromote,
}

func init() {
	rootCmd.AddCommand(promoteCmd)
}

func runPromote(cmd *cobra.Command, args []string) error {
	staged := filepath.Join(cfg.Artifacts.StagingDir, artifact.ProductionFile)
	if _, err := os.Stat(staged); err != nil {
		return eris.Wrapf(err, "no staged artifact at %s; run `biodex curate` first", staged)
	}

	if err := artifact.Promote(cfg.Artifacts.StagingDir, cfg.Artifacts.ProductionPath); err != nil {
		return err
	}

	cmd.Printf("promoted %s -> %s\n", staged, cfg.Artifacts.ProductionPath)
	return nil
}
