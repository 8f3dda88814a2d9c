package ui

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"blocktally/pkg/pipeline"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
	barWidth      = 24
)

// Bar renders a fixed-width bar for percent in [0, 100]
func Bar(percent float64) string {
	filled := int(percent / 100 * barWidth)
	filled = max(0, min(filled, barWidth))
	return strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, barWidth-filled)
}

// ProgressPrinter redraws a single status line for every progress event
type ProgressPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewProgressPrinter writes progress lines to out
func NewProgressPrinter(out io.Writer) *ProgressPrinter {
	return &ProgressPrinter{out: out}
}

// OnProgress implements pipeline.ProgressListener
func (p *ProgressPrinter) OnProgress(pr pipeline.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := FormatProgress(pr)
	if pr.State.Terminal() {
		fmt.Fprintf(p.out, "\r%s\n", line)
		return
	}
	fmt.Fprintf(p.out, "\r%s\033[K", line)
}

// FormatProgress renders "[bar] 42.00%  ETA 00:10:00  3/7  r.0.0.mca"
func FormatProgress(pr pipeline.Progress) string {
	line := fmt.Sprintf("[%s] %6.2f%%  ETA %s  %d/%d",
		Green(Bar(pr.Percent())),
		pr.Percent(),
		pr.FormatETA(),
		pr.Completed,
		pr.Total)

	switch {
	case pr.State == pipeline.StateGate:
		line += "  " + Yellow("waiting for memory")
	case pr.State == pipeline.StateAborted:
		line += "  " + Red("stopped")
	case pr.State == pipeline.StateDone:
		line += "  " + Green("done")
	case pr.File != "":
		line += "  " + Dim(filepath.Base(pr.File))
	}
	return line
}

// MoveProgress returns a mover callback printing "moved c/t" on one line
func MoveProgress(out io.Writer) func(done, total int) {
	var mu sync.Mutex
	return func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		percent := float64(done) / float64(max(total, 1)) * 100
		fmt.Fprintf(out, "\r[%s] %d/%d", Cyan(Bar(percent)), done, total)
		if done == total {
			fmt.Fprintln(out)
		}
	}
}
