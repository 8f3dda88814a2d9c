package tui

import (
	"fmt"

	"blocktally/pkg/pipeline"

	tea "github.com/charmbracelet/bubbletea"
)

// TUI wraps the bubbletea program for a counting run
type TUI struct {
	program *tea.Program
	model   *Model
}

// NewTUI creates a full-screen view; onStop is called on the first quit key
func NewTUI(onStop func(), opts ...tea.ProgramOption) *TUI {
	model := NewModel(onStop)
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)

	return &TUI{
		program: tea.NewProgram(model, opts...),
		model:   model,
	}
}

// Start runs the program until DoneMsg or Stop
func (t *TUI) Start() error {
	_, err := t.program.Run()
	return err
}

// Stop stops the TUI gracefully
func (t *TUI) Stop() {
	t.program.Quit()
}

// Send sends a message to the TUI; it returns immediately once the program exited
func (t *TUI) Send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

// OnProgress implements pipeline.ProgressListener
func (t *TUI) OnProgress(p pipeline.Progress) {
	t.Send(ProgressMsg(p))
}

// Log sends a log message to the TUI
func (t *TUI) Log(level, format string, args ...interface{}) {
	t.Send(LogMsg{Level: level, Message: fmt.Sprintf(format, args...)})
}

// Finish shows the summary and exits the program
func (t *TUI) Finish(summary string, aborted bool) {
	t.Send(DoneMsg{Summary: summary, Aborted: aborted})
}

// Stopping reports whether the user asked to stop
func (t *TUI) Stopping() bool {
	return t.model.Stopping()
}
