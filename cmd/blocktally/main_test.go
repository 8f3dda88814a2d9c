package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"blocktally/pkg/config"
	"blocktally/pkg/pipeline"
	"blocktally/pkg/tally"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	f := cmd.Flags()
	f.Int("y-start", 160, "")
	f.Int("y-end", 240, "")
	f.Float64("max-memory", 100, "")
	f.String("format", "csv", "")
	f.Bool("notifications", false, "")
	f.Bool("fresh", false, "")
	return cmd
}

func TestChangedFlagsOnlyReportsSetFlags(t *testing.T) {
	cmd := newFlagCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--y-start", "-64", "--max-memory", "80.5", "--notifications", "--fresh"}))

	flags := changedFlags(cmd)
	assert.Equal(t, map[string]interface{}{
		"y-start":       -64,
		"max-memory":    80.5,
		"notifications": true,
	}, flags)

	cfg := config.DefaultConfig()
	cfg.MergeCommandLineFlags(flags)
	assert.Equal(t, -64, cfg.Scan.YStart)
	assert.Equal(t, 240, cfg.Scan.YEnd)
	assert.Equal(t, 80.5, cfg.Memory.MaxUsagePercent)
	assert.True(t, cfg.Notifications.Enabled)
}

func TestChangedFlagsEmpty(t *testing.T) {
	cmd := newFlagCommand()
	require.NoError(t, cmd.ParseFlags(nil))
	assert.Empty(t, changedFlags(cmd))
}

func TestOutcomeText(t *testing.T) {
	done := &pipeline.Outcome{
		State:     pipeline.StateDone,
		Total:     3,
		Aggregate: tally.Aggregate{"stone": 15, "dirt": 2},
		Duration:  90 * time.Second,
	}
	assert.Equal(t, "Counted 3 region files in 00:01:30, 2 distinct blocks", outcomeText(done, nil))

	aborted := &pipeline.Outcome{State: pipeline.StateAborted, Skipped: 1, Processed: 1, Total: 5, Reason: "signal"}
	assert.Equal(t, "Stopped after 2 of 5 region files (signal)", outcomeText(aborted, nil))

	assert.Contains(t, outcomeText(nil, errors.New("disk full")), "disk full")
}

func TestExampleConfigParses(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte(exampleConfig), cfg))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestCheckPaths(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Scan.Directory = filepath.Join(t.TempDir(), "missing")
	cfg.Export.Directory = filepath.Join(t.TempDir(), "out")

	warnings := checkPaths(cfg)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "Scan directory")
	assert.DirExists(t, cfg.Export.Directory)

	file := filepath.Join(t.TempDir(), "r.0.0.mca")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	cfg.Scan.Directory = file
	assert.Len(t, checkPaths(cfg), 1)
}
