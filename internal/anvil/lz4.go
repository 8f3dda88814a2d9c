package anvil

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Chunks written with compression type 4 use the LZ4Block stream framing:
// a sequence of blocks, each with a 21 byte header, ended by an empty block.
const (
	lz4BlockMagic     = "LZ4Block"
	lz4BlockHeaderLen = len(lz4BlockMagic) + 13

	lz4MethodRaw = 0x10
	lz4MethodLZ4 = 0x20

	// largest block an LZ4Block writer produces at its maximum level
	lz4MaxBlockLen = 1 << 25
)

// readLZ4Blocks decompresses a whole LZ4Block stream. Block checksums are not
// verified; a damaged block still fails to decompress or to parse as NBT.
func readLZ4Blocks(data []byte) ([]byte, error) {
	var out bytes.Buffer

	for {
		if len(data) < lz4BlockHeaderLen {
			return nil, fmt.Errorf("truncated block header (%d bytes)", len(data))
		}
		if string(data[:len(lz4BlockMagic)]) != lz4BlockMagic {
			return nil, fmt.Errorf("bad block magic %q", data[:len(lz4BlockMagic)])
		}

		hdr := data[len(lz4BlockMagic):lz4BlockHeaderLen]
		method := hdr[0] & 0xF0
		compressedLen := int(int32(binary.LittleEndian.Uint32(hdr[1:5])))
		originalLen := int(int32(binary.LittleEndian.Uint32(hdr[5:9])))
		data = data[lz4BlockHeaderLen:]

		if originalLen == 0 {
			return out.Bytes(), nil
		}
		if compressedLen < 0 || originalLen < 0 || originalLen > lz4MaxBlockLen {
			return nil, fmt.Errorf("bad block lengths %d/%d", compressedLen, originalLen)
		}
		if compressedLen > len(data) {
			return nil, fmt.Errorf("block needs %d bytes, %d left", compressedLen, len(data))
		}

		payload := data[:compressedLen]
		data = data[compressedLen:]

		switch method {
		case lz4MethodRaw:
			if compressedLen != originalLen {
				return nil, fmt.Errorf("raw block length %d, want %d", compressedLen, originalLen)
			}
			out.Write(payload)
		case lz4MethodLZ4:
			block := make([]byte, originalLen)
			n, err := lz4.UncompressBlock(payload, block)
			if err != nil {
				return nil, err
			}
			if n != originalLen {
				return nil, fmt.Errorf("block inflated to %d bytes, want %d", n, originalLen)
			}
			out.Write(block)
		default:
			return nil, fmt.Errorf("unknown block method 0x%x", method)
		}
	}
}
