package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"blocktally/pkg/pipeline"

	"github.com/charmbracelet/lipgloss"
)

const logo = "▀█▀▄ █   ▄▀▄ ▄▀▀ █▄▀ ▀█▀ ▄▀▄ █   █   █ █\n █▀▄ █▄▄ ▀▄▀ ▀▄▄ █ █  █  █▀█ █▄▄ █▄▄  █"

// View renders the model
func (m *Model) View() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder
	b.WriteString(logoStyle.Render(logo))
	b.WriteString("\n\n")
	b.WriteString(m.renderProgress())
	b.WriteString("\n")
	b.WriteString(m.renderLogs())

	if m.finished && m.summary != "" {
		b.WriteString("\n")
		b.WriteString(panelStyle.Render(m.summary))
	}

	b.WriteString(helpStyle.Render(m.helpText()))
	b.WriteString("\n")
	return b.String()
}

func (m *Model) renderProgress() string {
	p := m.progress

	rows := []string{
		titleStyle.Render("REGION FILES") + "  " + m.stateLabel(),
		"",
		m.bar.ViewAs(p.Percent() / 100),
		"",
		stat("Completed", fmt.Sprintf("%d/%d (%.2f%%)", p.Completed, p.Total, p.Percent())),
		stat("Remaining", fmt.Sprintf("%d", p.Remaining)),
		stat("ETA", p.FormatETA()),
		stat("Elapsed", pipeline.FormatClock(time.Since(m.startTime))),
	}
	if m.current != "" && !m.finished {
		rows = append(rows, stat("Current", fileStyle.Render(filepath.Base(m.current))))
	}

	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func stat(label, value string) string {
	return statsLabelStyle.Render(fmt.Sprintf("%-10s", label)) + " " + statsValueStyle.Render(value)
}

func (m *Model) renderLogs() string {
	if len(m.logMessages) == 0 {
		return ""
	}

	lines := make([]string, 0, len(m.logMessages))
	for _, msg := range m.logMessages {
		lines = append(lines, fmt.Sprintf("%s %s",
			logTimestampStyle.Render(msg.Time.Format("15:04:05")),
			levelStyle(msg.Level).Render(msg.Message)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}

func (m *Model) helpText() string {
	switch {
	case m.finished:
		return "q: exit"
	case m.stopping:
		return "stopping..."
	default:
		return "q/ctrl+c: stop after the current file"
	}
}
