package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	errs "blocktally/pkg/errors"
	"blocktally/pkg/logger"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSampler returns readings in order, repeating the last one
type scriptedSampler struct {
	mu       sync.Mutex
	percents []float64
	err      error
	calls    int
}

func (s *scriptedSampler) Sample() (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return Sample{}, s.err
	}
	i := min(s.calls-1, len(s.percents)-1)
	avail := uint64(1000 - s.percents[i]*10)
	return Sample{TotalBytes: 1000, AvailableBytes: avail}, nil
}

func (s *scriptedSampler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestVirtualMemorySamplerReadsHost(t *testing.T) {
	s, err := NewVirtualMemorySampler().Sample()
	require.NoError(t, err)
	assert.Greater(t, s.TotalBytes, uint64(0))
	assert.LessOrEqual(t, s.AvailableBytes, s.TotalBytes)

	used := s.UsedPercent()
	assert.GreaterOrEqual(t, used, 0.0)
	assert.LessOrEqual(t, used, 100.0)
}

func TestVirtualMemorySamplerUsesAvailable(t *testing.T) {
	v := &VirtualMemorySampler{read: func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 16 << 30, Available: 4 << 30, Free: 1 << 30}, nil
	}}

	s, err := v.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 75.0, s.UsedPercent(), 0.001)
}

func TestVirtualMemorySamplerErrors(t *testing.T) {
	failing := &VirtualMemorySampler{read: func(context.Context) (*mem.VirtualMemoryStat, error) {
		return nil, errors.New("not implemented on this platform")
	}}
	_, err := failing.Sample()
	assert.Equal(t, errs.ErrorTypeIO, errs.TypeOf(err))

	empty := &VirtualMemorySampler{read: func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{}, nil
	}}
	_, err = empty.Sample()
	assert.Equal(t, errs.ErrorTypeIO, errs.TypeOf(err))
}

func TestGovernorGatesOnHostSampler(t *testing.T) {
	g := NewGovernor(NewVirtualMemorySampler(), 0, time.Millisecond, logger.NewTestLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// any live host uses more than 0%, so only the deadline can end the wait
	assert.ErrorIs(t, g.Admit(ctx), errs.ErrAborted)
}

func TestAdmitBelowCeiling(t *testing.T) {
	sampler := &scriptedSampler{percents: []float64{40}}
	g := NewGovernor(sampler, 80, time.Millisecond, logger.NewTestLogger())

	require.NoError(t, g.Admit(context.Background()))
	assert.Equal(t, 1, sampler.Calls())
}

func TestAdmitDisabledAtHundred(t *testing.T) {
	sampler := &scriptedSampler{percents: []float64{99}}
	g := NewGovernor(sampler, 100, time.Millisecond, logger.NewTestLogger())

	require.NoError(t, g.Admit(context.Background()))
	assert.Equal(t, 0, sampler.Calls())
	assert.False(t, g.Enabled())
}

func TestAdmitWaitsUntilPressureDrops(t *testing.T) {
	sampler := &scriptedSampler{percents: []float64{95, 92, 90, 70}}
	g := NewGovernor(sampler, 80, time.Millisecond, logger.NewTestLogger())
	waits := 0
	g.OnWait = func() { waits++ }

	require.NoError(t, g.Admit(context.Background()))
	assert.Equal(t, 4, sampler.Calls())
	assert.Equal(t, 1, waits)
}

func TestAdmitAbortsPromptlyOnCancel(t *testing.T) {
	sampler := &scriptedSampler{percents: []float64{99}}
	g := NewGovernor(sampler, 50, 10*time.Millisecond, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := g.Admit(ctx)
	assert.ErrorIs(t, err, errs.ErrAborted)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAdmitAlreadyCancelled(t *testing.T) {
	g := NewGovernor(&scriptedSampler{percents: []float64{10}}, 50, time.Millisecond, logger.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, g.Admit(ctx), errs.ErrAborted)
}

func TestAdmitFailsOpenAndWarnsOnce(t *testing.T) {
	log := logger.NewTestLogger()
	g := NewGovernor(&scriptedSampler{err: errors.New("no procfs")}, 50, time.Millisecond, log)

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Admit(context.Background()))
	}
	assert.Len(t, log.GetMessagesByLevel("WARN"), 1)
}
