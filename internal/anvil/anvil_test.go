package anvil

import (
	"bytes"
	"compress/zlib"
	"context"
	"path/filepath"
	"testing"

	"blocktally/internal/chunkpool"
	errs "blocktally/pkg/errors"
	"blocktally/pkg/logger"
	"blocktally/pkg/region"
	"blocktally/pkg/tally"

	"github.com/Tnze/go-mc/nbt"
	mcregion "github.com/Tnze/go-mc/save/region"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 1.21 worlds
const testDataVersion = 3953

// legacyChunk is the pre-1.18 layout with sections nested under Level
type legacyChunk struct {
	DataVersion int32 `nbt:"DataVersion"`
	Level       struct {
		Sections []struct {
			Y int8 `nbt:"Y"`
		} `nbt:"Sections"`
	} `nbt:"Level"`
}

func newLegacyChunk() legacyChunk {
	var c legacyChunk
	c.DataVersion = 1343
	c.Level.Sections = []struct {
		Y int8 `nbt:"Y"`
	}{{Y: 10}}
	return c
}

func uniformChunk(id string) chunkNBT {
	return chunkNBT{DataVersion: testDataVersion, Sections: []sectionNBT{{
		Y:           10,
		BlockStates: blockStatesNBT{Palette: []paletteEntry{{id}}},
	}}}
}

// pack is the inverse of unpackIndices, used to build fixtures
func pack(indices []uint16, paletteLen int) []int64 {
	width := bitsPerBlock(paletteLen)
	perLong := 64 / width
	longs := make([]int64, (len(indices)+perLong-1)/perLong)
	for i, v := range indices {
		shift := (i % perLong) * width
		longs[i/perLong] |= int64(uint64(v) << shift)
	}
	return longs
}

func TestBitsPerBlock(t *testing.T) {
	tests := []struct {
		palette int
		want    int
	}{
		{2, 4}, {16, 4}, {17, 5}, {32, 5}, {33, 6}, {300, 9},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bitsPerBlock(tt.palette), "palette of %d", tt.palette)
	}
}

func TestUnpackIndicesRoundTrip(t *testing.T) {
	for _, paletteLen := range []int{2, 5, 17, 40} {
		want := make([]uint16, blocksPerSection)
		for i := range want {
			want[i] = uint16((i*7 + i/13) % paletteLen)
		}

		longs := pack(want, paletteLen)
		raw := make([]uint64, len(longs))
		for i, v := range longs {
			raw[i] = uint64(v)
		}

		got, err := unpackIndices(raw, paletteLen)
		require.NoError(t, err)
		assert.Equal(t, want, got, "palette of %d", paletteLen)
	}
}

func TestUnpackIndicesShortData(t *testing.T) {
	_, err := unpackIndices(make([]uint64, 10), 4)
	assert.Error(t, err)
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, 10, floorDiv(160, 16))
	assert.Equal(t, 10, floorDiv(175, 16))
	assert.Equal(t, -1, floorDiv(-1, 16))
	assert.Equal(t, -4, floorDiv(-64, 16))
	assert.Equal(t, -5, floorDiv(-65, 16))
}

func zlibPayload(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := nbt.Marshal(v)
	require.NoError(t, err)

	var buf bytes.Buffer
	buf.WriteByte(compressionZlib)
	zw := zlib.NewWriter(&buf)
	_, err = zw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDecodeColumn(t *testing.T) {
	// Section 10 covers y 160..175: stone below y=168, dirt from there up,
	// one diamond ore at local (3, 2).
	indices := make([]uint16, blocksPerSection)
	for y := 0; y < sectionHeight; y++ {
		for z := 0; z < 16; z++ {
			for x := 0; x < 16; x++ {
				i := (y*16+z)*16 + x
				if y >= 8 {
					indices[i] = 1
				}
			}
		}
	}
	indices[(4*16+2)*16+3] = 2

	chunk := chunkNBT{DataVersion: testDataVersion, Sections: []sectionNBT{
		{
			Y: 10,
			BlockStates: blockStatesNBT{
				Palette: []paletteEntry{{"minecraft:stone"}, {"minecraft:dirt"}, {"minecraft:diamond_ore"}},
				Data:    pack(indices, 3),
			},
		},
		{
			Y:           11,
			BlockStates: blockStatesNBT{Palette: []paletteEntry{{"minecraft:air"}}},
		},
	}}

	col, err := decodeColumn(zlibPayload(t, chunk))
	require.NoError(t, err)

	id, ok := col.Block(0, 160, 0)
	require.True(t, ok)
	assert.Equal(t, "stone", id)

	id, _ = col.Block(15, 168, 15)
	assert.Equal(t, "dirt", id)

	id, _ = col.Block(3, 164, 2)
	assert.Equal(t, "diamond_ore", id)

	id, ok = col.Block(7, 180, 7)
	require.True(t, ok)
	assert.Equal(t, "air", id)

	_, ok = col.Block(0, 200, 0)
	assert.False(t, ok, "section 12 is not stored")
}

func TestDecodeColumnRejectsBadPayloads(t *testing.T) {
	_, err := decodeColumn([]byte{2})
	assert.Error(t, err)

	_, err = decodeColumn([]byte{9, 0, 0, 0})
	assert.ErrorContains(t, err, "compression")

	_, err = decodeColumn([]byte{compressionZlib, 1, 2, 3, 4})
	assert.Error(t, err)

	_, err = decodeColumn([]byte{compressionZlib | externalFlag, 0, 0, 0})
	assert.ErrorContains(t, err, "external")
	assert.Equal(t, errs.ErrorTypeCodec, errs.TypeOf(err))
}

func TestDecodeColumnRejectsLegacyChunks(t *testing.T) {
	_, err := decodeColumn(zlibPayload(t, newLegacyChunk()))
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeCodec, errs.TypeOf(err))
	assert.ErrorContains(t, err, "predates 1.18")

	// a current data version without the root sections list is just as unreadable
	noSections := struct {
		DataVersion int32 `nbt:"DataVersion"`
		Status      string
	}{DataVersion: testDataVersion, Status: "minecraft:full"}
	_, err = decodeColumn(zlibPayload(t, noSections))
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeCodec, errs.TypeOf(err))
	assert.ErrorContains(t, err, "no sections")
}

func TestDecodeColumnUncompressed(t *testing.T) {
	raw, err := nbt.Marshal(uniformChunk("minecraft:tuff"))
	require.NoError(t, err)

	col, err := decodeColumn(append([]byte{compressionNone}, raw...))
	require.NoError(t, err)
	id, ok := col.Block(9, 165, 4)
	require.True(t, ok)
	assert.Equal(t, "tuff", id)
}

func TestDecodeColumnLZ4(t *testing.T) {
	raw, err := nbt.Marshal(uniformChunk("minecraft:calcite"))
	require.NoError(t, err)

	// split across a raw block and a compressed one, then the end mark
	half := len(raw) / 2
	var stream bytes.Buffer
	stream.WriteByte(compressionLZ4)
	stream.Write(lz4RawBlock(raw[:half]))
	stream.Write(lz4RawBlock(raw[half:]))
	stream.Write(lz4RawBlock(nil))

	col, err := decodeColumn(stream.Bytes())
	require.NoError(t, err)
	id, ok := col.Block(0, 175, 15)
	require.True(t, ok)
	assert.Equal(t, "calcite", id)
}

func TestCodecCountsThroughExecutor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.mca")

	r, err := mcregion.Create(path)
	require.NoError(t, err)
	require.NoError(t, r.WriteSector(0, 0, zlibPayload(t, newLegacyChunk())))
	require.NoError(t, r.WriteSector(1, 0, zlibPayload(t, uniformChunk("minecraft:deepslate"))))
	require.NoError(t, r.Close())

	e := chunkpool.NewExecutor(New(), chunkpool.Config{MaxWorkers: 2, YStart: 160, YEnd: 176}, logger.NewTestLogger(), nil)
	res, err := e.Process(context.Background(), path)
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Equal(t, 1, res.FailedSubTasks, "legacy chunk is a failed sub-task")
	assert.Equal(t, 1, res.Counted)
	assert.Equal(t, region.GridSize*region.GridSize-2, res.MissingChunks)
	assert.Equal(t, tally.Aggregate{"deepslate": 16 * 16 * 16}, res.Aggregate)
}

func TestCodecReadsRegionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.0.0.mca")

	r, err := mcregion.Create(path)
	require.NoError(t, err)
	require.NoError(t, r.WriteSector(5, 7, zlibPayload(t, uniformChunk("minecraft:deepslate"))))
	require.NoError(t, r.Close())

	h, err := New().Open(path)
	require.NoError(t, err)
	defer h.Close()

	col, err := h.Column(5, 7)
	require.NoError(t, err)
	id, ok := col.Block(0, 170, 0)
	require.True(t, ok)
	assert.Equal(t, "deepslate", id)

	_, err = h.Column(6, 7)
	assert.ErrorIs(t, err, region.ErrChunkMissing)

	_, err = h.Column(region.GridSize, 0)
	assert.Equal(t, errs.ErrorTypeCodec, errs.TypeOf(err))
}

func TestCodecOpenMissingFile(t *testing.T) {
	_, err := New().Open(filepath.Join(t.TempDir(), "absent.mca"))
	assert.Equal(t, errs.ErrorTypeCodec, errs.TypeOf(err))
}
