package mover

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"blocktally/pkg/logger"
	"blocktally/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, n int) []string {
	t.Helper()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("r.%d.0.mca", i))
		require.NoError(t, os.WriteFile(paths[i], []byte(fmt.Sprintf("region %d", i)), 0644))
	}
	return paths
}

func TestWorkerCount(t *testing.T) {
	assert.Equal(t, 32, WorkerCount(8, 100))
	assert.Equal(t, 100, WorkerCount(64, 0))
	assert.Equal(t, 10, WorkerCount(8, 10))
	assert.Equal(t, 1, WorkerCount(0, 100))
}

func TestDefaultDestination(t *testing.T) {
	assert.Equal(t, filepath.Join("/world/region", "processed_mca"), DefaultDestination([]string{"/world/region/r.0.0.mca", "/other/r.1.0.mca"}))
	assert.Equal(t, "processed_mca", DefaultDestination(nil))
}

func TestMoveIndependence(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "archive")
	paths := writeFiles(t, src, 100)

	var missing []string
	for i := 0; i < 100; i += 10 {
		require.NoError(t, os.Remove(paths[i]))
		missing = append(missing, paths[i])
	}

	var calls atomic.Int32
	m := New(Options{
		Workers: 16,
		Logger:  logger.NewTestLogger(),
		Metrics: metrics.New(),
		OnMoved: func(done, total int) { calls.Add(1) },
	})

	report, err := m.Move(context.Background(), paths, dest)
	require.NoError(t, err)

	assert.Equal(t, 90, report.Succeeded)
	assert.Equal(t, 10, report.Failed)
	assert.ElementsMatch(t, missing, report.FailedPaths)
	assert.False(t, report.Interrupted)
	assert.Equal(t, int32(100), calls.Load())

	for i, p := range paths {
		target := filepath.Join(dest, filepath.Base(p))
		if i%10 == 0 {
			assert.NoFileExists(t, target)
			continue
		}
		assert.NoFileExists(t, p)
		data, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("region %d", i), string(data))
	}
}

func TestMoveDefaultsDestination(t *testing.T) {
	src := t.TempDir()
	paths := writeFiles(t, src, 3)

	report, err := New(Options{Logger: logger.NewTestLogger()}).Move(context.Background(), paths, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(src, DefaultDirName), report.Destination)
	assert.Equal(t, 3, report.Succeeded)
}

func TestMoveEmpty(t *testing.T) {
	report, err := New(Options{Logger: logger.NewTestLogger()}).Move(context.Background(), nil, t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, report.Total)
}

func TestMoveCancelled(t *testing.T) {
	src := t.TempDir()
	paths := writeFiles(t, src, 50)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := New(Options{Logger: logger.NewTestLogger()}).Move(ctx, paths, filepath.Join(src, "out"))
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Less(t, report.Succeeded+report.Failed, 50)
}

func TestMoveUnusableDestination(t *testing.T) {
	src := t.TempDir()
	paths := writeFiles(t, src, 1)
	blocker := filepath.Join(src, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	_, err := New(Options{Logger: logger.NewTestLogger()}).Move(context.Background(), paths, filepath.Join(blocker, "dest"))
	assert.Error(t, err)
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a")
	dst := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0644))

	require.NoError(t, copyFile(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.NoFileExists(t, dst+".partial")
}
