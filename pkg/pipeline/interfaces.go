package pipeline

import (
	"context"

	"blocktally/internal/chunkpool"
	"blocktally/pkg/checkpoint"
	"blocktally/pkg/tally"
)

// CheckpointStore persists progress between runs
type CheckpointStore interface {
	Load() (*checkpoint.Checkpoint, error)
	Save(cp *checkpoint.Checkpoint) error
	Clear() error
	Quarantine() (string, error)
}

// Gate admits the next file once resources allow
type Gate interface {
	Admit(ctx context.Context) error
}

// FileProcessor counts one region file
type FileProcessor interface {
	Process(ctx context.Context, path string) (*chunkpool.FileResult, error)
}

// Exporter writes the final aggregate and returns where it went
type Exporter interface {
	Export(agg tally.Aggregate, name string) (string, error)
}

// ProgressListener is called synchronously after every state change of note
type ProgressListener interface {
	OnProgress(p Progress)
}

// ProgressFunc adapts a function to ProgressListener
type ProgressFunc func(p Progress)

func (f ProgressFunc) OnProgress(p Progress) { f(p) }
