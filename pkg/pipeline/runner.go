package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"blocktally/pkg/checkpoint"
	errs "blocktally/pkg/errors"
	"blocktally/pkg/logger"
	"blocktally/pkg/metrics"
	"blocktally/pkg/retry"
	"blocktally/pkg/stop"
	"blocktally/pkg/tally"
)

// Outcome summarizes a finished run
type Outcome struct {
	State State
	// Aggregate is the checkpointed total; for DONE it is what was exported
	Aggregate tally.Aggregate
	// Processed counts files completed during this run, Skipped those already checkpointed
	Processed      int
	Skipped        int
	Total          int
	FailedSubTasks int
	ExportPath     string
	Reason         string
	Duration       time.Duration
}

// Options tune a Runner; zero values pick defaults
type Options struct {
	ExportName   string
	SaveAttempts int
	// Backoff paces save retries; nil doubles from RetryDelay
	Backoff      retry.BackoffStrategy
	RetryDelay   time.Duration
	Listener     ProgressListener
	Metrics      *metrics.Metrics
	Logger       logger.Logger
}

// Runner drives region files through gate, count, merge and checkpoint
type Runner struct {
	store     CheckpointStore
	gate      Gate
	processor FileProcessor
	exporter  Exporter
	stop      *stop.Coordinator

	exportName   string
	saveAttempts int
	backoff      retry.BackoffStrategy
	listener     ProgressListener
	metrics      *metrics.Metrics
	logger       logger.Logger

	state State
}

// NewRunner wires a runner. coord may be nil, in which case only ctx cancels.
func NewRunner(store CheckpointStore, gate Gate, processor FileProcessor, exporter Exporter, coord *stop.Coordinator, opts Options) *Runner {
	if opts.SaveAttempts <= 0 {
		opts.SaveAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	if opts.Backoff == nil {
		eb := retry.DefaultExponentialBackoff()
		eb.BaseDelay = opts.RetryDelay
		opts.Backoff = eb
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.Listener == nil {
		opts.Listener = ProgressFunc(func(Progress) {})
	}
	if opts.ExportName == "" {
		opts.ExportName = "blocks"
	}

	return &Runner{
		store:        store,
		gate:         gate,
		processor:    processor,
		exporter:     exporter,
		stop:         coord,
		exportName:   opts.ExportName,
		saveAttempts: opts.SaveAttempts,
		backoff:      opts.Backoff,
		listener:     opts.Listener,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		state:        StateInit,
	}
}

// State returns the last state entered
func (r *Runner) State() State {
	return r.state
}

func (r *Runner) stopRequested(ctx context.Context) bool {
	return ctx.Err() != nil || (r.stop != nil && r.stop.Stopped())
}

// Run processes items until all are checkpointed or a stop is requested.
// A cancelled run returns an ABORTED outcome and a nil error; the checkpoint on
// disk then reflects every file that finished. Errors are reserved for failures
// that leave the run unable to continue, such as a checkpoint that cannot be saved.
func (r *Runner) Run(ctx context.Context, items []WorkItem) (*Outcome, error) {
	start := time.Now()
	r.state = StateInit

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.stop != nil {
		untrack := r.stop.Track(stop.AbortFunc(cancel))
		defer untrack()
		if a, ok := r.processor.(stop.Abortable); ok {
			untrackProcessor := r.stop.Track(a)
			defer untrackProcessor()
		}
	}

	cp, err := r.loadCheckpoint(runCtx)
	if err != nil {
		return nil, err
	}

	remaining := Remaining(items, cp.Processed)
	outcome := &Outcome{
		Aggregate: cp.Aggregate,
		Total:     len(items),
		Skipped:   len(items) - len(remaining),
	}
	finish := func(state State, reason string) (*Outcome, error) {
		r.state = state
		outcome.State = state
		outcome.Reason = reason
		outcome.Aggregate = cp.Aggregate
		outcome.Duration = time.Since(start)
		r.emit(state, "", outcome, len(remaining), time.Since(start))
		return outcome, nil
	}

	r.logger.InfoWithFields("Starting run", map[string]interface{}{
		"files":     len(items),
		"remaining": len(remaining),
		"resumed":   outcome.Skipped,
	})
	r.metrics.Remaining(len(remaining))
	r.emit(StateInit, "", outcome, len(remaining), 0)

	for {
		r.state = StateSelectNext
		if r.stopRequested(runCtx) {
			return finish(StateAborted, r.stopReason())
		}
		if len(remaining) == 0 {
			break
		}
		item := remaining[0]

		r.state = StateGate
		r.emit(StateGate, item.ID, outcome, len(remaining), time.Since(start))
		if err := r.gate.Admit(runCtx); err != nil {
			if errors.Is(err, errs.ErrAborted) || r.stopRequested(runCtx) {
				return finish(StateAborted, r.stopReason())
			}
			return nil, fmt.Errorf("memory gate: %w", err)
		}

		r.state = StateRunFile
		r.emit(StateRunFile, item.ID, outcome, len(remaining), time.Since(start))
		res, err := r.processor.Process(runCtx, item.Path)
		if err != nil {
			return nil, fmt.Errorf("process %s: %w", item.Path, err)
		}
		if !res.Complete {
			r.metrics.FileAborted()
			r.logger.InfoWithFields("Discarding partial file result", map[string]interface{}{
				"file": item.ID,
			})
			return finish(StateAborted, r.stopReason())
		}

		r.state = StateMergeAndCheckpoint
		next := cp.Next(item.ID, res.Aggregate)
		if err := r.save(ctx, next); err != nil {
			r.state = StateAborted
			return nil, fmt.Errorf("checkpoint after %s: %w", item.ID, err)
		}
		cp = next
		remaining = remaining[1:]
		outcome.Processed++
		outcome.FailedSubTasks += res.FailedSubTasks

		r.metrics.FileProcessed(res.Duration, len(cp.Aggregate), len(remaining))
		r.logger.InfoWithFields("Region file checkpointed", map[string]interface{}{
			"file":      item.ID,
			"completed": outcome.Skipped + outcome.Processed,
			"total":     outcome.Total,
			"failed":    res.FailedSubTasks,
			"missing":   res.MissingChunks,
			"elapsed":   res.Duration,
		})
		r.emit(StateMergeAndCheckpoint, item.ID, outcome, len(remaining), time.Since(start))
	}

	r.state = StateFinalize
	r.emit(StateFinalize, "", outcome, 0, time.Since(start))
	path, err := r.exporter.Export(cp.Aggregate, r.exportName)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	outcome.ExportPath = path

	if err := r.store.Clear(); err != nil {
		r.logger.WithError(err).Warn("Results exported but checkpoint could not be removed")
	}

	r.logger.InfoWithFields("Run complete", map[string]interface{}{
		"export":   path,
		"distinct": len(cp.Aggregate),
		"blocks":   cp.Aggregate.Total(),
	})
	return finish(StateDone, "")
}

// loadCheckpoint retries io failures; corrupt state is final and quarantined
func (r *Runner) loadCheckpoint(ctx context.Context) (*checkpoint.Checkpoint, error) {
	cp, err := retry.DoWithResult(r.store.Load, r.retryConfig(ctx))
	if err == nil {
		return cp, nil
	}
	if !errors.Is(err, errs.ErrCorruptState) {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	r.logger.WithError(err).Warn("Checkpoint is corrupt, starting from scratch")
	if _, qerr := r.store.Quarantine(); qerr != nil {
		return nil, fmt.Errorf("quarantine corrupt checkpoint: %w", qerr)
	}
	return checkpoint.Empty(), nil
}

// save retries transient failures. It ignores cancellation so a finished file
// is not lost to a stop that arrived while it was being persisted.
func (r *Runner) save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	err := retry.Do(func() error {
		err := r.store.Save(cp)
		r.metrics.CheckpointSave(err == nil)
		return err
	}, r.retryConfig(context.WithoutCancel(ctx)))
	if err != nil {
		r.logger.WithError(err).Error("Checkpoint save failed, stopping")
	}
	return err
}

func (r *Runner) retryConfig(ctx context.Context) *retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = r.saveAttempts
	cfg.Backoff = r.backoff
	cfg.Context = ctx
	cfg.Logger = r.logger
	return cfg
}

func (r *Runner) stopReason() string {
	if r.stop != nil && r.stop.Reason() != "" {
		return r.stop.Reason()
	}
	return "cancelled"
}

func (r *Runner) emit(state State, file string, o *Outcome, left int, elapsed time.Duration) {
	r.listener.OnProgress(Progress{
		State:     state,
		File:      file,
		Completed: o.Skipped + o.Processed,
		Total:     o.Total,
		Remaining: left,
		ETA:       estimate(elapsed, o.Processed, left),
		Elapsed:   elapsed,
	})
}
