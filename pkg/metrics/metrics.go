// Package metrics exposes run counters to Prometheus. A nil *Metrics accepts every
// call and records nothing, so callers never branch on whether metrics are enabled.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blocktally"

// Metrics holds the collectors of one run, registered on a private registry
type Metrics struct {
	registry *prometheus.Registry

	filesProcessed  prometheus.Counter
	filesAborted    prometheus.Counter
	fileDuration    prometheus.Histogram
	subTasks        *prometheus.CounterVec
	checkpointSaves *prometheus.CounterVec
	memoryWaits     prometheus.Counter
	moves           *prometheus.CounterVec
	distinctBlocks  prometheus.Gauge
	filesRemaining  prometheus.Gauge
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		filesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "Region files fully counted and checkpointed.",
		}),
		filesAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_aborted_total",
			Help:      "Region files whose partial results were discarded on cancellation.",
		}),
		fileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Wall time spent counting one region file.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		subTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subtasks_total",
			Help:      "Chunk column sub-tasks by outcome.",
		}, []string{"status"}),
		checkpointSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_saves_total",
			Help:      "Checkpoint save attempts by result.",
		}, []string{"result"}),
		memoryWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_gate_waits_total",
			Help:      "Admissions that waited for memory pressure to drop.",
		}),
		moves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moves_total",
			Help:      "Region file moves by result.",
		}, []string{"result"}),
		distinctBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "distinct_block_ids",
			Help:      "Distinct block ids in the checkpointed aggregate.",
		}),
		filesRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "files_remaining",
			Help:      "Region files not yet processed in this run.",
		}),
	}

	m.registry.MustRegister(
		m.filesProcessed,
		m.filesAborted,
		m.fileDuration,
		m.subTasks,
		m.checkpointSaves,
		m.memoryWaits,
		m.moves,
		m.distinctBlocks,
		m.filesRemaining,
	)
	return m
}

// Registry exposes the private registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) FileProcessed(d time.Duration, distinct int, remaining int) {
	if m == nil {
		return
	}
	m.filesProcessed.Inc()
	m.fileDuration.Observe(d.Seconds())
	m.distinctBlocks.Set(float64(distinct))
	m.filesRemaining.Set(float64(remaining))
}

func (m *Metrics) FileAborted() {
	if m == nil {
		return
	}
	m.filesAborted.Inc()
}

func (m *Metrics) SubTasks(status string, n int) {
	if m == nil {
		return
	}
	m.subTasks.WithLabelValues(status).Add(float64(n))
}

func (m *Metrics) CheckpointSave(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.checkpointSaves.WithLabelValues(result).Inc()
}

func (m *Metrics) MemoryWait() {
	if m == nil {
		return
	}
	m.memoryWaits.Inc()
}

func (m *Metrics) Move(ok bool) {
	if m == nil {
		return
	}
	result := "succeeded"
	if !ok {
		result = "failed"
	}
	m.moves.WithLabelValues(result).Inc()
}

func (m *Metrics) Remaining(n int) {
	if m == nil {
		return
	}
	m.filesRemaining.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
