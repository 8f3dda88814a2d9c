package mover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"syscall"
	"time"

	errs "blocktally/pkg/errors"
	"blocktally/pkg/logger"
	"blocktally/pkg/metrics"
	"blocktally/pkg/stop"
)

// DefaultDirName is created next to the first processed file when no destination is given
const DefaultDirName = "processed_mca"

// MaxWorkers caps the pool regardless of CPU count
const MaxWorkers = 100

// Report is the tally of one Move call
type Report struct {
	Destination string
	Total       int
	Succeeded   int
	Failed      int
	FailedPaths []string
	// Interrupted is set when a stop cut the run short; unattempted paths are in neither count
	Interrupted bool
	Duration    time.Duration
}

// Options configure a Mover
type Options struct {
	// Workers caps the pool; the pool never exceeds NumCPU*4 or MaxWorkers
	Workers     int
	GracePeriod time.Duration
	// OnMoved is called after every attempt with the number of attempts so far
	OnMoved func(done, total int)
	Logger  logger.Logger
	Metrics *metrics.Metrics
}

// Mover relocates files on a bounded pool; every file succeeds or fails on its own
type Mover struct {
	workers int
	grace   time.Duration
	onMoved func(done, total int)
	logger  logger.Logger
	metrics *metrics.Metrics
}

// New creates a Mover
func New(opts Options) *Mover {
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 5 * time.Second
	}
	return &Mover{
		workers: WorkerCount(runtime.NumCPU(), opts.Workers),
		grace:   opts.GracePeriod,
		onMoved: opts.OnMoved,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// WorkerCount returns min(cpus*4, limit, MaxWorkers), at least 1
func WorkerCount(cpus, limit int) int {
	n := cpus * 4
	if limit > 0 && n > limit {
		n = limit
	}
	return max(1, min(n, MaxWorkers))
}

// DefaultDestination is <dir of first path>/processed_mca
func DefaultDestination(paths []string) string {
	if len(paths) == 0 {
		return DefaultDirName
	}
	return filepath.Join(filepath.Dir(paths[0]), DefaultDirName)
}

type counters struct {
	mu        sync.Mutex
	succeeded int
	failed    int
	failedAt  []string
}

func (c *counters) record(path string, err error) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed++
		c.failedAt = append(c.failedAt, path)
	} else {
		c.succeeded++
	}
	return c.succeeded + c.failed
}

func (c *counters) fill(r *Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.Succeeded = c.succeeded
	r.Failed = c.failed
	r.FailedPaths = append([]string(nil), c.failedAt...)
	sort.Strings(r.FailedPaths)
}

// Move moves every path into destDir keeping its base name. Individual failures
// are counted, never returned; the error is only for an unusable destination.
func (m *Mover) Move(ctx context.Context, paths []string, destDir string) (*Report, error) {
	start := time.Now()
	if destDir == "" {
		destDir = DefaultDestination(paths)
	}
	report := &Report{Destination: destDir, Total: len(paths)}
	if len(paths) == 0 {
		return report, nil
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, errs.Storage("create destination", destDir, err)
	}

	jobs := make(chan string, len(paths))
	for _, p := range paths {
		jobs <- p
	}
	close(jobs)

	workers := min(m.workers, len(paths))
	m.logger.InfoWithFields("Moving processed files", map[string]interface{}{
		"files":       len(paths),
		"workers":     workers,
		"destination": destDir,
	})

	var c counters
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				if ctx.Err() != nil {
					return
				}
				err := moveFile(path, filepath.Join(destDir, filepath.Base(path)))
				if err != nil {
					m.logger.WithError(err).WithField("file", path).Warn("Move failed")
				}
				m.metrics.Move(err == nil)
				done := c.record(path, err)
				if m.onMoved != nil {
					m.onMoved(done, len(paths))
				}
			}
		}()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		report.Interrupted = true
		if !stop.Shutdown(m.grace, wg.Wait) {
			m.logger.WarnWithFields("Movers still busy after grace period", map[string]interface{}{
				"grace": m.grace,
			})
		}
	}

	c.fill(report)
	if !report.Interrupted && report.Succeeded+report.Failed < report.Total {
		report.Interrupted = true
	}
	report.Duration = time.Since(start)

	m.logger.InfoWithFields("Move finished", map[string]interface{}{
		"succeeded":   report.Succeeded,
		"failed":      report.Failed,
		"interrupted": report.Interrupted,
	})
	return report, nil
}

// moveFile renames src to dst, copying across filesystems when rename cannot
func moveFile(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return errs.New(errs.ErrorTypeIO, "stat source", src, err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return errs.New(errs.ErrorTypeIO, "rename", src, err)
	}

	if err := copyFile(src, dst); err != nil {
		return errs.New(errs.ErrorTypeIO, "copy", src, err)
	}
	if err := os.Remove(src); err != nil {
		return errs.New(errs.ErrorTypeIO, "remove source", src, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy data: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
