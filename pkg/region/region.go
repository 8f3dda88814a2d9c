// Package region describes the read side of an Anvil region file as the counting
// engine sees it. The concrete decoder lives in internal/anvil; tests supply fakes.
package region

import "errors"

const (
	// GridSize is the number of chunk columns along each axis of a region file
	GridSize = 32
	// ChunkWidth is the number of blocks along each horizontal axis of a chunk
	ChunkWidth = 16
)

// ErrChunkMissing marks a chunk slot that was never generated. It contributes nothing.
var ErrChunkMissing = errors.New("chunk not present in region")

// Codec opens region files
type Codec interface {
	Open(path string) (Handle, error)
}

// Handle is an open region file. Column may be called from many goroutines.
type Handle interface {
	Column(chunkX, chunkZ int) (Column, error)
	Close() error
}

// Column is one decoded 16-wide chunk column
type Column interface {
	// Block returns the id at local coordinates, or ok=false when no data exists there
	Block(localX, y, localZ int) (id string, ok bool)
}
