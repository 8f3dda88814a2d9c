package chunkpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"blocktally/pkg/logger"
	"blocktally/pkg/metrics"
	"blocktally/pkg/region"
	"blocktally/pkg/tally"
)

// SubTask counts the blocks of one chunk column inside [YStart, YEnd)
type SubTask struct {
	Path   string
	ChunkX int
	ChunkZ int
	YStart int
	YEnd   int
}

// SubTaskStatus is the outcome of a single SubTask
type SubTaskStatus string

const (
	StatusCounted SubTaskStatus = "counted"
	StatusMissing SubTaskStatus = "missing"
	StatusFailed  SubTaskStatus = "failed"
)

type subTaskResult struct {
	task   SubTask
	status SubTaskStatus
	counts tally.Aggregate
	err    error
}

// FileResult is the fan-in of every SubTask of one region file
type FileResult struct {
	Path      string
	Aggregate tally.Aggregate
	// Complete is false when cancellation cut the run short; Aggregate is then partial
	Complete       bool
	SubTasks       int
	Counted        int
	MissingChunks  int
	FailedSubTasks int
	// OpenErr is set when the region file could not be opened at all
	OpenErr  error
	Duration time.Duration
}

// Config sizes the executor
type Config struct {
	// MaxWorkers caps the pool; the pool never exceeds runtime.NumCPU()
	MaxWorkers int
	YStart     int
	YEnd       int
}

// Executor fans one region file out to a bounded worker pool and folds the results
type Executor struct {
	codec   region.Codec
	workers int
	yStart  int
	yEnd    int
	logger  logger.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewExecutor creates an executor over codec
func NewExecutor(codec region.Codec, cfg Config, log logger.Logger, m *metrics.Metrics) *Executor {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Executor{
		codec:   codec,
		workers: WorkerCount(runtime.NumCPU(), cfg.MaxWorkers),
		yStart:  cfg.YStart,
		yEnd:    cfg.YEnd,
		logger:  log,
		metrics: m,
	}
}

// WorkerCount clamps cpus into [1, maxWorkers]
func WorkerCount(cpus, maxWorkers int) int {
	n := cpus
	if maxWorkers > 0 && n > maxWorkers {
		n = maxWorkers
	}
	return max(n, 1)
}

// Workers returns the pool size used for every file
func (e *Executor) Workers() int {
	return e.workers
}

// Abort cancels the file currently being processed, if any
func (e *Executor) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Process counts every chunk column of the region file at path. SubTask failures
// are isolated and contribute nothing. On cancellation no new SubTasks start and
// the partial result is returned with Complete=false.
func (e *Executor) Process(ctx context.Context, path string) (*FileResult, error) {
	if e.yStart >= e.yEnd {
		return nil, fmt.Errorf("empty y range [%d, %d)", e.yStart, e.yEnd)
	}

	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
		cancel()
	}()

	start := time.Now()
	total := region.GridSize * region.GridSize
	result := &FileResult{Path: path, Aggregate: tally.New(), SubTasks: total}

	if ctx.Err() != nil {
		return result, nil
	}

	handle, err := e.codec.Open(path)
	if err != nil {
		e.logger.WithError(err).WithField("file", path).Warn("Region file could not be opened, counting it as empty")
		e.metrics.SubTasks(string(StatusFailed), total)
		result.OpenErr = err
		result.FailedSubTasks = total
		result.Complete = true
		result.Duration = time.Since(start)
		return result, nil
	}

	jobs := make(chan SubTask, e.workers*2)
	// sized to the task count so workers never block once fan-in stops listening
	results := make(chan subTaskResult, total)

	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go e.worker(ctx, handle, jobs, results, &wg)
	}

	go func() {
		defer close(jobs)
		for cx := 0; cx < region.GridSize; cx++ {
			for cz := 0; cz < region.GridSize; cz++ {
				task := SubTask{Path: path, ChunkX: cx, ChunkZ: cz, YStart: e.yStart, YEnd: e.yEnd}
				select {
				case jobs <- task:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
		if err := handle.Close(); err != nil {
			e.logger.WithError(err).WithField("file", path).Warn("Failed to close region file")
		}
	}()

	e.logger.DebugWithFields("Processing region file", map[string]interface{}{
		"file":    path,
		"workers": e.workers,
		"tasks":   total,
	})

	received := 0
	for received < total {
		select {
		case r, ok := <-results:
			if !ok {
				result.Duration = time.Since(start)
				return result, nil
			}
			received++
			e.collect(result, r)
		case <-ctx.Done():
			result.Duration = time.Since(start)
			e.logger.InfoWithFields("Region file interrupted", map[string]interface{}{
				"file":     path,
				"finished": received,
				"tasks":    total,
			})
			return result, nil
		}
	}

	result.Complete = true
	result.Duration = time.Since(start)
	return result, nil
}

func (e *Executor) collect(result *FileResult, r subTaskResult) {
	e.metrics.SubTasks(string(r.status), 1)

	switch r.status {
	case StatusCounted:
		result.Counted++
		result.Aggregate.Add(r.counts)
	case StatusMissing:
		result.MissingChunks++
	case StatusFailed:
		result.FailedSubTasks++
		e.logger.WarnWithFields("Sub-task failed", map[string]interface{}{
			"file":    r.task.Path,
			"chunk_x": r.task.ChunkX,
			"chunk_z": r.task.ChunkZ,
			"error":   r.err.Error(),
		})
	}
}

func (e *Executor) worker(ctx context.Context, handle region.Handle, jobs <-chan SubTask, results chan<- subTaskResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for task := range jobs {
		if ctx.Err() != nil {
			// drain without starting anything new
			continue
		}
		results <- runSubTask(handle, task)
	}
}

// runSubTask never panics; a panicking codec is reported as a failed SubTask
func runSubTask(handle region.Handle, task SubTask) (res subTaskResult) {
	res = subTaskResult{task: task}

	defer func() {
		if r := recover(); r != nil {
			res.status = StatusFailed
			res.counts = nil
			res.err = fmt.Errorf("codec panic: %v", r)
		}
	}()

	col, err := handle.Column(task.ChunkX, task.ChunkZ)
	if err != nil {
		if errors.Is(err, region.ErrChunkMissing) {
			res.status = StatusMissing
			return res
		}
		res.status = StatusFailed
		res.err = err
		return res
	}

	counts := tally.New()
	for y := task.YStart; y < task.YEnd; y++ {
		for z := 0; z < region.ChunkWidth; z++ {
			for x := 0; x < region.ChunkWidth; x++ {
				if id, ok := col.Block(x, y, z); ok {
					counts[id]++
				}
			}
		}
	}

	res.status = StatusCounted
	res.counts = counts
	return res
}
