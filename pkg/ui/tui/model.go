package tui

import (
	"fmt"
	"sync"
	"time"

	"blocktally/pkg/pipeline"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

const (
	defaultBarWidth = 50
	maxLogMessages  = 8
)

// LogMessage represents a log entry
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
}

// Model is the full-screen counting view
type Model struct {
	spinner spinner.Model
	bar     progress.Model

	progress  pipeline.Progress
	current   string
	startTime time.Time

	logMessages []LogMessage

	// onStop is invoked once, on the first quit key
	onStop   func()
	stopping bool
	finished bool
	aborted  bool
	summary  string

	width int

	mu sync.RWMutex
}

// NewModel creates a model; onStop may be nil
func NewModel(onStop func()) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(neonCyan)

	bar := progress.New(
		progress.WithGradient(string(neonMagenta), string(neonGreen)),
		progress.WithWidth(defaultBarWidth),
	)

	return &Model{
		spinner:   s,
		bar:       bar,
		progress:  pipeline.Progress{State: pipeline.StateInit},
		startTime: time.Now(),
		onStop:    onStop,
	}
}

// SetProgress records the latest pipeline snapshot
func (m *Model) SetProgress(p pipeline.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.State == pipeline.StateRunFile && p.File != "" && p.File != m.current {
		m.current = p.File
	}
	m.progress = p
}

// AddLogMessage appends to the rolling log panel
func (m *Model) AddLogMessage(level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logMessages = append(m.logMessages, LogMessage{Time: time.Now(), Level: level, Message: message})
	if len(m.logMessages) > maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-maxLogMessages:]
	}
}

// RequestStop marks the run as stopping and calls onStop the first time
func (m *Model) RequestStop() bool {
	m.mu.Lock()
	if m.stopping || m.finished {
		m.mu.Unlock()
		return false
	}
	m.stopping = true
	m.mu.Unlock()

	m.AddLogMessage("WARN", "Stop requested, finishing the current file")
	if m.onStop != nil {
		m.onStop()
	}
	return true
}

// Finish stores the final summary
func (m *Model) Finish(summary string, aborted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = true
	m.aborted = aborted
	m.summary = summary
}

// Stopping reports whether a stop was requested from the keyboard
func (m *Model) Stopping() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopping
}

func (m *Model) setWidth(width int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.width = width
	m.bar.Width = max(10, min(width-12, defaultBarWidth))
}

func (m *Model) stateLabel() string {
	switch {
	case m.finished && m.aborted:
		return warningStyle.Render("Stopped")
	case m.finished:
		return successStyle.Render("Done")
	case m.stopping:
		return warningStyle.Render("Stopping after current file")
	case m.progress.State == pipeline.StateGate:
		return warningStyle.Render("Waiting for memory")
	default:
		return statsValueStyle.Render(fmt.Sprintf("%s %s", m.spinner.View(), "Counting"))
	}
}
