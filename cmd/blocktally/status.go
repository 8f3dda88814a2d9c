package main

import (
	"fmt"
	"time"

	"blocktally/pkg/checkpoint"
	"blocktally/pkg/export"
	"blocktally/pkg/logger"
	"blocktally/pkg/pipeline"
	"blocktally/pkg/ui"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusTop int

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [directory]",
	Short: "Show the progress recorded in the checkpoint",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().String("checkpoint", "progress.json", "checkpoint file")
	statusCmd.Flags().IntVar(&statusTop, "top", 10, "number of block ids shown (0 shows all)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	store := checkpoint.NewStore(cfg.Checkpoint.Path, logger.GetLogger())
	if !store.Exists() {
		ui.PrintInfo("Checkpoint", cfg.Checkpoint.Path+" (none)")
		fmt.Println("No run in progress.")
		return nil
	}

	cp, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}

	ui.PrintInfo("Checkpoint", store.Path())
	if !cp.UpdatedAt.IsZero() {
		ui.PrintInfo("Last saved", humanize.Time(cp.UpdatedAt))
	}
	ui.PrintInfo("Processed files", humanize.Comma(int64(len(cp.Processed))))

	if items, err := pipeline.Discover(cfg.Scan.Directory, cfg.Scan.Extension); err == nil && len(items) > 0 {
		remaining := pipeline.Remaining(items, cp.Processed)
		done := len(items) - len(remaining)
		ui.PrintInfo("Progress", fmt.Sprintf("%d/%d (%.2f%%) in %s",
			done, len(items), float64(done)/float64(len(items))*100, cfg.Scan.Directory))
		ui.PrintInfo("Remaining", humanize.Comma(int64(len(remaining))))
	}

	ui.PrintInfo("Blocks counted", humanize.Comma(int64(cp.Aggregate.Total())))
	if len(cp.Aggregate) > 0 {
		fmt.Println()
		fmt.Println(export.Summary(cp.Aggregate, statusTop))
	}
	if age := time.Since(cp.UpdatedAt); !cp.UpdatedAt.IsZero() && age > 24*time.Hour {
		ui.PrintWarning("Checkpoint is more than a day old", humanize.Time(cp.UpdatedAt))
	}
	return nil
}
