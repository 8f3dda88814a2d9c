package chunkpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"blocktally/pkg/logger"
	"blocktally/pkg/metrics"
	"blocktally/pkg/region"
	"blocktally/pkg/tally"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// uniformColumn reports the same id everywhere
type uniformColumn string

func (c uniformColumn) Block(x, y, z int) (string, bool) { return string(c), true }

// layeredColumn is stone below y=200 and air above
type layeredColumn struct{}

func (layeredColumn) Block(x, y, z int) (string, bool) {
	if y < 200 {
		return "stone", true
	}
	return "air", true
}

type fakeHandle struct {
	column func(x, z int) (region.Column, error)
	closed atomic.Bool
}

func (h *fakeHandle) Column(x, z int) (region.Column, error) { return h.column(x, z) }
func (h *fakeHandle) Close() error { h.closed.Store(true); return nil }

type fakeCodec struct {
	handle  *fakeHandle
	openErr error
}

func (c *fakeCodec) Open(path string) (region.Handle, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	return c.handle, nil
}

func newExecutor(codec region.Codec, yStart, yEnd int) *Executor {
	return NewExecutor(codec, Config{MaxWorkers: 4, YStart: yStart, YEnd: yEnd}, logger.NewTestLogger(), nil)
}

func TestWorkerCount(t *testing.T) {
	assert.Equal(t, 8, WorkerCount(8, 16))
	assert.Equal(t, 16, WorkerCount(64, 16))
	assert.Equal(t, 1, WorkerCount(0, 16))
	assert.Equal(t, 12, WorkerCount(12, 0))
}

func TestProcessCountsEveryColumn(t *testing.T) {
	h := &fakeHandle{column: func(x, z int) (region.Column, error) { return layeredColumn{}, nil }}
	e := newExecutor(&fakeCodec{handle: h}, 160, 240)

	res, err := e.Process(context.Background(), "r.0.0.mca")
	require.NoError(t, err)

	perColumnStone := uint64(40 * 16 * 16)
	perColumnAir := uint64(40 * 16 * 16)
	assert.True(t, res.Complete)
	assert.Equal(t, 1024, res.Counted)
	assert.Equal(t, tally.Aggregate{
		"stone": perColumnStone * 1024,
		"air":   perColumnAir * 1024,
	}, res.Aggregate)

	assert.Eventually(t, h.closed.Load, time.Second, time.Millisecond)
}

func TestProcessIsolatesFailures(t *testing.T) {
	h := &fakeHandle{column: func(x, z int) (region.Column, error) {
		switch {
		case x == 0 && z == 0:
			return nil, errors.New("bad nbt")
		case x == 1 && z == 1:
			panic("decoder exploded")
		case x == 2:
			return nil, region.ErrChunkMissing
		}
		return uniformColumn("stone"), nil
	}}
	log := logger.NewTestLogger()
	e := NewExecutor(&fakeCodec{handle: h}, Config{MaxWorkers: 8, YStart: 0, YEnd: 1}, log, metrics.New())

	res, err := e.Process(context.Background(), "r.0.0.mca")
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Equal(t, 2, res.FailedSubTasks)
	assert.Equal(t, 32, res.MissingChunks)
	assert.Equal(t, 1024-2-32, res.Counted)
	assert.Equal(t, uint64((1024-2-32)*256), res.Aggregate["stone"])
	assert.Len(t, log.GetMessagesByLevel("WARN"), 2)
}

func TestProcessOpenFailureCompletesEmpty(t *testing.T) {
	e := newExecutor(&fakeCodec{openErr: errors.New("truncated header")}, 160, 240)

	res, err := e.Process(context.Background(), "broken.mca")
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Empty(t, res.Aggregate)
	assert.Equal(t, 1024, res.FailedSubTasks)
	assert.Error(t, res.OpenErr)
}

func TestProcessRejectsEmptyRange(t *testing.T) {
	_, err := newExecutor(&fakeCodec{}, 10, 10).Process(context.Background(), "x.mca")
	assert.Error(t, err)
}

func TestProcessCancelledReturnsIncomplete(t *testing.T) {
	var started atomic.Int32
	gate := make(chan struct{})
	h := &fakeHandle{column: func(x, z int) (region.Column, error) {
		if started.Add(1) == 10 {
			close(gate)
		}
		time.Sleep(time.Millisecond)
		return uniformColumn("stone"), nil
	}}
	e := newExecutor(&fakeCodec{handle: h}, 0, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-gate
		cancel()
	}()

	res, err := e.Process(ctx, "r.0.0.mca")
	require.NoError(t, err)
	assert.False(t, res.Complete)
	assert.Less(t, res.Counted, 1024)

	// no new sub-tasks start once the pool has drained
	assert.Eventually(t, h.closed.Load, time.Second, time.Millisecond)
	n := started.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, started.Load())
	assert.Less(t, int(n), 1024)
}

func TestAbortStopsCurrentFile(t *testing.T) {
	gate := make(chan struct{})
	var once sync.Once
	h := &fakeHandle{column: func(x, z int) (region.Column, error) {
		once.Do(func() { close(gate) })
		time.Sleep(time.Millisecond)
		return uniformColumn("stone"), nil
	}}
	e := newExecutor(&fakeCodec{handle: h}, 0, 1)

	go func() {
		<-gate
		e.Abort()
	}()

	res, err := e.Process(context.Background(), "r.0.0.mca")
	require.NoError(t, err)
	assert.False(t, res.Complete)

	assert.NotPanics(t, e.Abort, "abort between files is a no-op")
}

func TestWorkerBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	h := &fakeHandle{column: func(x, z int) (region.Column, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Microsecond)
		inFlight.Add(-1)
		return uniformColumn("stone"), nil
	}}
	e := NewExecutor(&fakeCodec{handle: h}, Config{MaxWorkers: 3, YStart: 0, YEnd: 1}, logger.NewTestLogger(), nil)
	require.LessOrEqual(t, e.Workers(), 3)

	res, err := e.Process(context.Background(), "r.0.0.mca")
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.LessOrEqual(t, int(peak.Load()), e.Workers())
}
