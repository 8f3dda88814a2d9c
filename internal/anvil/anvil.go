// Package anvil decodes Minecraft 1.18+ Anvil region files.
package anvil

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"math/bits"
	"strings"
	"sync"

	errs "blocktally/pkg/errors"
	"blocktally/pkg/region"

	"github.com/Tnze/go-mc/nbt"
	mcregion "github.com/Tnze/go-mc/save/region"
)

const (
	compressionGzip = 1
	compressionZlib = 2
	compressionNone = 3
	compressionLZ4  = 4

	// high bit of the compression byte marks a chunk kept in a separate .mcc file
	externalFlag = 0x80

	// first data version of 1.18, which moved sections to the root and
	// introduced paletted block_states
	minDataVersion = 2860

	sectionHeight    = 16
	blocksPerSection = region.ChunkWidth * region.ChunkWidth * sectionHeight

	namespacePrefix = "minecraft:"
)

// Codec opens region files from disk
type Codec struct{}

// New returns an Anvil codec
func New() *Codec {
	return &Codec{}
}

// Open opens the region container. Chunks are decoded lazily by Column.
func (c *Codec) Open(path string) (region.Handle, error) {
	r, err := mcregion.Open(path)
	if err != nil {
		return nil, errs.Codec("open region", path, err)
	}
	return &handle{r: r, path: path}, nil
}

type handle struct {
	// go-mc seeks on a shared *os.File, so sector reads take turns
	mu   sync.Mutex
	r    *mcregion.Region
	path string
}

func (h *handle) Column(chunkX, chunkZ int) (region.Column, error) {
	if chunkX < 0 || chunkX >= region.GridSize || chunkZ < 0 || chunkZ >= region.GridSize {
		return nil, errs.Codec("read chunk", h.path, fmt.Errorf("chunk (%d, %d) outside region grid", chunkX, chunkZ))
	}

	h.mu.Lock()
	if !h.r.ExistSector(chunkX, chunkZ) {
		h.mu.Unlock()
		return nil, region.ErrChunkMissing
	}
	data, err := h.r.ReadSector(chunkX, chunkZ)
	h.mu.Unlock()
	if err != nil {
		return nil, errs.Codec("read chunk", h.path, fmt.Errorf("chunk (%d, %d): %w", chunkX, chunkZ, err))
	}

	col, err := decodeColumn(data)
	if err != nil {
		return nil, fmt.Errorf("chunk (%d, %d) of %s: %w", chunkX, chunkZ, h.path, err)
	}
	return col, nil
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.r.Close()
}

type chunkNBT struct {
	DataVersion int32        `nbt:"DataVersion"`
	Sections    []sectionNBT `nbt:"sections"`
}

type sectionNBT struct {
	Y           int8           `nbt:"Y"`
	BlockStates blockStatesNBT `nbt:"block_states"`
}

type blockStatesNBT struct {
	Palette []paletteEntry `nbt:"palette"`
	Data    []int64        `nbt:"data"`
}

type paletteEntry struct {
	Name string `nbt:"Name"`
}

// decodeColumn parses a sector payload: one compression byte then the chunk NBT.
// Every failure is a codec error, so the chunk is recorded as failed.
func decodeColumn(data []byte) (*column, error) {
	col, err := parseColumn(data)
	if err != nil {
		return nil, errs.Codec("decode chunk", "", err)
	}
	return col, nil
}

func parseColumn(data []byte) (*column, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("chunk payload too short (%d bytes)", len(data))
	}

	var r io.Reader = bytes.NewReader(data[1:])
	switch data[0] {
	case compressionGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip chunk: %w", err)
		}
		defer gz.Close()
		r = gz
	case compressionZlib:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zlib chunk: %w", err)
		}
		defer zr.Close()
		r = zr
	case compressionNone:
	case compressionLZ4:
		raw, err := readLZ4Blocks(data[1:])
		if err != nil {
			return nil, fmt.Errorf("lz4 chunk: %w", err)
		}
		r = bytes.NewReader(raw)
	default:
		if data[0]&externalFlag != 0 {
			return nil, fmt.Errorf("chunk stored in external .mcc file is not supported")
		}
		return nil, fmt.Errorf("unsupported chunk compression %d", data[0])
	}

	var chunk chunkNBT
	if _, err := nbt.NewDecoder(r).Decode(&chunk); err != nil {
		return nil, fmt.Errorf("decode chunk nbt: %w", err)
	}
	if chunk.DataVersion < minDataVersion {
		return nil, fmt.Errorf("chunk data version %d predates 1.18 (%d)", chunk.DataVersion, minDataVersion)
	}
	if len(chunk.Sections) == 0 {
		return nil, fmt.Errorf("chunk has no sections list")
	}

	col := &column{sections: make(map[int]*section, len(chunk.Sections))}
	for _, s := range chunk.Sections {
		if len(s.BlockStates.Palette) == 0 {
			continue
		}
		sec, err := newSection(s.BlockStates)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", s.Y, err)
		}
		col.sections[int(s.Y)] = sec
	}
	return col, nil
}

type column struct {
	sections map[int]*section
}

// Block returns the block id at the given position. Sections the chunk does not
// store report ok=false.
func (c *column) Block(localX, y, localZ int) (string, bool) {
	sec, ok := c.sections[floorDiv(y, sectionHeight)]
	if !ok {
		return "", false
	}
	ly := y - floorDiv(y, sectionHeight)*sectionHeight
	return sec.block((ly*region.ChunkWidth+localZ)*region.ChunkWidth + localX), true
}

type section struct {
	palette []string
	indices []uint16
}

func newSection(states blockStatesNBT) (*section, error) {
	palette := make([]string, len(states.Palette))
	for i, p := range states.Palette {
		palette[i] = strings.TrimPrefix(p.Name, namespacePrefix)
	}

	sec := &section{palette: palette}
	if len(palette) == 1 {
		return sec, nil
	}

	longs := make([]uint64, len(states.Data))
	for i, v := range states.Data {
		longs[i] = uint64(v)
	}

	indices, err := unpackIndices(longs, len(palette))
	if err != nil {
		return nil, err
	}
	sec.indices = indices
	return sec, nil
}

func (s *section) block(i int) string {
	if s.indices == nil {
		return s.palette[0]
	}
	idx := int(s.indices[i])
	if idx >= len(s.palette) {
		return s.palette[0]
	}
	return s.palette[idx]
}

// bitsPerBlock is the index width used for a palette of n entries, never below 4
func bitsPerBlock(n int) int {
	return max(4, bits.Len(uint(n-1)))
}

// unpackIndices expands a packed long array into one palette index per block.
// Entries never straddle two longs; leftover high bits of each long are padding.
func unpackIndices(longs []uint64, paletteLen int) ([]uint16, error) {
	width := bitsPerBlock(paletteLen)
	perLong := 64 / width
	need := (blocksPerSection + perLong - 1) / perLong
	if len(longs) < need {
		return nil, fmt.Errorf("block data has %d longs, need %d for %d-bit indices", len(longs), need, width)
	}

	mask := uint64(1)<<width - 1
	out := make([]uint16, blocksPerSection)
	for i := range out {
		word := longs[i/perLong]
		shift := (i % perLong) * width
		out[i] = uint16((word >> shift) & mask)
	}
	return out, nil
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
