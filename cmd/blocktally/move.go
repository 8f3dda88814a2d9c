package main

import (
	"fmt"

	"blocktally/pkg/checkpoint"
	"blocktally/pkg/logger"
	"blocktally/pkg/pipeline"
	"blocktally/pkg/ui"

	"github.com/spf13/cobra"
)

var moveAll bool

// moveCmd represents the move command
var moveCmd = &cobra.Command{
	Use:   "move [directory]",
	Short: "Move processed region files into an archive directory",
	Long: `Move the region files recorded as processed in the checkpoint into an archive
directory, keeping their names. Each file is moved on its own: a missing or
locked file is reported as failed and the rest still move.

Without --destination the files go to processed_mca next to the first file.
After a complete count the checkpoint is gone; use --all to move every region
file of the directory instead.`,
	Example: `  # Archive what an interrupted count already finished
  blocktally move --checkpoint progress.json

  # Archive every region file after a complete run
  blocktally move ./world/region --all --destination /backup/region`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMove,
}

func init() {
	rootCmd.AddCommand(moveCmd)

	f := moveCmd.Flags()
	f.String("checkpoint", "progress.json", "checkpoint file listing processed region files")
	f.String("destination", "", "archive directory (default: processed_mca next to the files)")
	f.Int("mover-workers", 100, "maximum parallel moves")
	f.BoolVar(&moveAll, "all", false, "move every region file of the directory, not only checkpointed ones")
}

func runMove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()

	var paths []string
	if moveAll {
		items, err := pipeline.Discover(cfg.Scan.Directory, cfg.Scan.Extension)
		if err != nil {
			return err
		}
		for _, item := range items {
			paths = append(paths, item.Path)
		}
	} else {
		cp, err := checkpoint.NewStore(cfg.Checkpoint.Path, log).Load()
		if err != nil {
			return fmt.Errorf("failed to read checkpoint: %w", err)
		}
		paths = cp.Processed
	}

	if len(paths) == 0 {
		ui.PrintWarning("Nothing to move")
		return nil
	}
	return moveFiles(cmd.Context(), cfg, paths, log)
}
