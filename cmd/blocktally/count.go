package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"blocktally/internal/anvil"
	"blocktally/internal/chunkpool"
	"blocktally/internal/mover"
	"blocktally/pkg/checkpoint"
	"blocktally/pkg/config"
	"blocktally/pkg/export"
	"blocktally/pkg/logger"
	"blocktally/pkg/memory"
	"blocktally/pkg/metrics"
	"blocktally/pkg/pipeline"
	"blocktally/pkg/retry"
	"blocktally/pkg/stop"
	"blocktally/pkg/ui"
	"blocktally/pkg/ui/tui"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	// Count command flags
	countFresh bool
	countMove  bool
	countTop   int
)

// countCmd represents the count command
var countCmd = &cobra.Command{
	Use:   "count [directory]",
	Short: "Count blocks in every region file of a directory",
	Long: `Count block ids between --y-start (inclusive) and --y-end (exclusive) in every
region file of the directory.

Progress is checkpointed after each region file. Stopping with q, ctrl+c or
SIGTERM finishes nothing partially: the file in flight is discarded and counted
again on the next run, which resumes from the checkpoint. When every file is
done the totals are exported and the checkpoint is removed.`,
	Example: `  # Count the default slice (y 160 to 240) of the current directory
  blocktally count

  # Count a different slice into a Markdown table
  blocktally count ./world/region --y-start -64 --y-end 0 --format markdown

  # Pause between files while memory use is above 80%
  blocktally count ./world/region --max-memory 80

  # Ignore an existing checkpoint and archive the files afterwards
  blocktally count ./world/region --fresh --move`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCount,
}

func init() {
	rootCmd.AddCommand(countCmd)

	f := countCmd.Flags()
	f.Int("y-start", 160, "lowest block y counted (inclusive)")
	f.Int("y-end", 240, "block y where counting stops (exclusive)")
	f.Float64("max-memory", 100, "pause before the next file while memory use is above this percent (100 disables)")
	f.IntP("workers", "w", 16, "maximum chunk workers per region file")
	f.String("checkpoint", "progress.json", "checkpoint file")
	f.String("export-dir", ".", "directory for the result table")
	f.StringP("format", "f", "csv", "result format (csv, markdown, html, table)")
	f.String("progress", "auto", "progress display (auto, tui, plain, none)")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	f.Bool("notifications", false, "send a desktop notification when the run ends")
	f.String("destination", "", "archive directory used with --move")
	f.BoolVar(&countFresh, "fresh", false, "discard an existing checkpoint and start over")
	f.BoolVar(&countMove, "move", false, "move the region files into the archive directory after a complete run")
	f.IntVar(&countTop, "top", 15, "number of block ids shown in the summary (0 shows all)")
}

func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	flags := changedFlags(cmd)
	if len(args) > 0 {
		flags["directory"] = args[0]
	}
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func runCount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	mode := ui.ResolveMode(cfg.Progress.Mode, ui.IsTerminal())
	console := io.Writer(os.Stderr)
	if mode == ui.ModeTUI {
		console = io.Discard
	}
	if err := logger.InitializeWithConsole(&cfg.Logging, console); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()

	if mode != ui.ModeTUI && !noLogo {
		ui.PrintLogo()
	}

	format, err := export.ParseFormat(cfg.Export.Format)
	if err != nil {
		return err
	}

	items, err := pipeline.Discover(cfg.Scan.Directory, cfg.Scan.Extension)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		ui.PrintWarning("No region files found", cfg.Scan.Directory)
		return nil
	}

	backoff, err := retry.NewBackoff(cfg.Checkpoint.Backoff, cfg.Checkpoint.RetryDelay)
	if err != nil {
		return fmt.Errorf("invalid checkpoint settings: %w", err)
	}

	store := checkpoint.NewStore(cfg.Checkpoint.Path, log)
	if countFresh {
		if err := store.Clear(); err != nil {
			return fmt.Errorf("failed to discard checkpoint: %w", err)
		}
		log.WithField("checkpoint", store.Path()).Info("Discarded existing checkpoint")
	}

	m := metrics.New()
	coord := stop.New(cmd.Context())
	release := coord.NotifyOnSignal()
	defer release()

	executor := chunkpool.NewExecutor(anvil.New(), chunkpool.Config{
		MaxWorkers: cfg.Workers.ChunkMax,
		YStart:     cfg.Scan.YStart,
		YEnd:       cfg.Scan.YEnd,
	}, log, m)

	governor := memory.NewGovernor(memory.NewVirtualMemorySampler(), cfg.Memory.MaxUsagePercent, cfg.Memory.SampleInterval, log)
	governor.OnWait = m.MemoryWait

	var (
		listener pipeline.ProgressListener
		view     *tui.TUI
	)
	switch mode {
	case ui.ModeTUI:
		view = tui.NewTUI(func() { coord.RequestStop("stopped from keyboard") })
		listener = view
	case ui.ModePlain:
		listener = ui.NewProgressPrinter(os.Stdout)
		ui.PrintInfo("Region files", fmt.Sprintf("%d in %s", len(items), cfg.Scan.Directory))
		ui.PrintInfo("Y range", fmt.Sprintf("%d to %d", cfg.Scan.YStart, cfg.Scan.YEnd))
		ui.PrintInfo("Chunk workers", fmt.Sprintf("%d", executor.Workers()))
	}

	runner := pipeline.NewRunner(store, governor, executor, export.NewFileExporter(cfg.Export.Directory, format), coord, pipeline.Options{
		ExportName:   cfg.ExportName(),
		SaveAttempts: cfg.Checkpoint.SaveAttempts,
		Backoff:      backoff,
		Listener:     listener,
		Metrics:      m,
		Logger:       log,
	})

	g, gctx := errgroup.WithContext(coord.Context())
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	var outcome *pipeline.Outcome
	g.Go(func() error {
		defer stopServing()
		o, err := runner.Run(gctx, items)
		outcome = o
		if view != nil {
			view.Finish(outcomeText(o, err), o == nil || o.State == pipeline.StateAborted)
		}
		return err
	})
	if view != nil {
		g.Go(func() error {
			if err := view.Start(); err != nil {
				return fmt.Errorf("terminal UI: %w", err)
			}
			return nil
		})
	}
	if cfg.Metrics.ListenAddress != "" {
		log.WithField("address", cfg.Metrics.ListenAddress).Info("Serving metrics")
		g.Go(func() error {
			return m.Serve(serveCtx, cfg.Metrics.ListenAddress)
		})
	}

	err = g.Wait()
	notifier := ui.NewNotifier(cfg.Notifications.Enabled)
	if err != nil {
		log.WithError(err).Error("Run failed")
		if cfg.Notifications.OnAbort {
			notifier.SendError("blocktally", "Run failed, the last checkpoint is intact")
		}
		return err
	}

	return reportOutcome(cfg, outcome, items, notifier, log)
}

func reportOutcome(cfg *config.Config, o *pipeline.Outcome, items []pipeline.WorkItem, notifier *ui.Notifier, log logger.Logger) error {
	if o.State == pipeline.StateAborted {
		ui.PrintWarning(fmt.Sprintf("Stopped after %d of %d region files", o.Skipped+o.Processed, o.Total), o.Reason)
		ui.PrintInfo("Checkpoint", cfg.Checkpoint.Path)
		fmt.Println("Run the same command again to resume.")
		if cfg.Notifications.OnAbort {
			notifier.SendWarning("blocktally", outcomeText(o, nil))
		}
		return nil
	}

	fmt.Println()
	fmt.Println(export.Summary(o.Aggregate, countTop))
	ui.PrintInfo("Exported", o.ExportPath)
	if o.FailedSubTasks > 0 {
		ui.PrintWarning("Chunks that could not be read", o.FailedSubTasks)
	}
	if cfg.Notifications.OnComplete {
		notifier.SendSuccess("blocktally", outcomeText(o, nil))
	}

	if !countMove {
		return nil
	}

	paths := make([]string, len(items))
	for i, item := range items {
		paths[i] = item.Path
	}
	return moveFiles(context.Background(), cfg, paths, log)
}

func outcomeText(o *pipeline.Outcome, err error) string {
	switch {
	case err != nil:
		return fmt.Sprintf("Run failed: %v", err)
	case o == nil:
		return "Run failed"
	case o.State == pipeline.StateAborted:
		return fmt.Sprintf("Stopped after %d of %d region files (%s)", o.Skipped+o.Processed, o.Total, o.Reason)
	default:
		return fmt.Sprintf("Counted %d region files in %s, %d distinct blocks",
			o.Total, pipeline.FormatClock(o.Duration), len(o.Aggregate))
	}
}

// moveFiles archives paths and prints the mover report
func moveFiles(ctx context.Context, cfg *config.Config, paths []string, log logger.Logger) error {
	coord := stop.New(ctx)
	release := coord.NotifyOnSignal()
	defer release()

	mv := mover.New(mover.Options{
		Workers:     cfg.Workers.MoverMax,
		GracePeriod: cfg.Mover.GracePeriod,
		OnMoved:     ui.MoveProgress(os.Stdout),
		Logger:      log,
	})

	ui.PrintHighlight(fmt.Sprintf("Moving %d region files", len(paths)))
	report, err := mv.Move(coord.Context(), paths, cfg.Mover.Destination)
	if err != nil {
		return err
	}

	ui.PrintInfo("Destination", report.Destination)
	ui.PrintInfo("Moved", fmt.Sprintf("%d of %d", report.Succeeded, report.Total))
	if report.Failed > 0 {
		ui.PrintWarning("Failed", report.Failed)
		for _, p := range report.FailedPaths {
			fmt.Printf("  - %s\n", p)
		}
	}
	if report.Interrupted {
		ui.PrintWarning("Move interrupted, rerun to move the rest")
	}
	return nil
}
