package pipeline

import (
	"fmt"
	"time"
)

// State is a step of the run state machine
type State string

const (
	StateInit               State = "INIT"
	StateSelectNext         State = "SELECT_NEXT"
	StateGate               State = "GATE"
	StateRunFile            State = "RUN_FILE"
	StateMergeAndCheckpoint State = "MERGE_AND_CHECKPOINT"
	StateFinalize           State = "FINALIZE"
	StateDone               State = "DONE"
	StateAborted            State = "ABORTED"
)

// Terminal reports whether no further transitions follow
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// Progress is a snapshot handed to ProgressListener
type Progress struct {
	State     State
	File      string
	Completed int
	Total     int
	Remaining int
	// ETA is zero until at least one file finished in this run
	ETA     time.Duration
	Elapsed time.Duration
}

// Percent is Completed/Total as a percentage; an empty run is 100%
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// FormatETA renders the ETA as HH:MM:SS, or N/A when unknown
func (p Progress) FormatETA() string {
	if p.ETA <= 0 {
		return "N/A"
	}
	return FormatClock(p.ETA)
}

// FormatClock renders d as HH:MM:SS, hours may exceed 24
func FormatClock(d time.Duration) string {
	secs := int64(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

// estimate projects the time left from the average file time of this run
func estimate(elapsed time.Duration, doneThisRun, left int) time.Duration {
	if doneThisRun == 0 || left == 0 {
		return 0
	}
	return elapsed / time.Duration(doneThisRun) * time.Duration(left)
}
