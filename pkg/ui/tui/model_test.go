package tui

import (
	"strings"
	"testing"
	"time"

	"blocktally/pkg/pipeline"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelProgress(t *testing.T) {
	m := NewModel(nil)

	m.Update(ProgressMsg(pipeline.Progress{
		State:     pipeline.StateRunFile,
		File:      "/world/region/r.1.-2.mca",
		Completed: 2,
		Total:     8,
		Remaining: 6,
		ETA:       75 * time.Minute,
	}))

	view := m.View()
	assert.Contains(t, view, "2/8 (25.00%)")
	assert.Contains(t, view, "01:15:00")
	assert.Contains(t, view, "r.1.-2.mca")
	assert.NotContains(t, view, "/world/region")
}

func TestModelQuitKeyRequestsStopOnce(t *testing.T) {
	calls := 0
	m := NewModel(func() { calls++ })

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Nil(t, cmd)
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, cmd)

	assert.Equal(t, 1, calls)
	assert.True(t, m.Stopping())
	assert.Contains(t, m.View(), "Stopping after current file")
}

func TestModelDoneQuits(t *testing.T) {
	m := NewModel(nil)

	_, cmd := m.Update(DoneMsg{Summary: "stone 42", Aborted: true})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())

	view := m.View()
	assert.Contains(t, view, "Stopped")
	assert.Contains(t, view, "stone 42")

	// quit keys after finishing exit without calling onStop
	assert.False(t, m.RequestStop())
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
}

func TestModelLogIsBounded(t *testing.T) {
	m := NewModel(nil)
	for i := 0; i < maxLogMessages+5; i++ {
		m.Update(LogMsg{Level: "INFO", Message: strings.Repeat("x", i+1)})
	}
	assert.Len(t, m.logMessages, maxLogMessages)
	assert.Equal(t, strings.Repeat("x", maxLogMessages+5), m.logMessages[maxLogMessages-1].Message)
}

func TestModelWindowResize(t *testing.T) {
	m := NewModel(nil)
	m.Update(tea.WindowSizeMsg{Width: 40, Height: 20})
	assert.Equal(t, 28, m.bar.Width)

	m.Update(tea.WindowSizeMsg{Width: 200, Height: 50})
	assert.Equal(t, defaultBarWidth, m.bar.Width)
}
