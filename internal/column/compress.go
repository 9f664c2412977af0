package column

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/s2"
)

// lengthPrefixSize is the 4-byte uncompressed-length prefix the on-disk
// compressed block format mandates: this framing is
// preserved bit-for-bit regardless of which block compressor sits behind
// it, so a decoder only needs to know the length prefix convention, not
// the specific codec.
const lengthPrefixSize = 4

// Codec compresses and decompresses one column block's bytes. It exists so
// the block format's on-disk framing (4-byte uncompressed length prefix)
// stays fixed even if the underlying compressor changes.
type Codec interface {
	Compress(uncompressed []byte) []byte
	Decompress(framed []byte) ([]byte, error)
}

// s2Codec frames github.com/klauspost/compress/s2 block compression with
// the 4-byte little-endian uncompressed-length prefix the on-disk format
// requires.
type s2Codec struct{}

// NewCodec returns the column block compressor used throughout the segment
// writer and reader.
func NewCodec() Codec { return s2Codec{} }

func (s2Codec) Compress(uncompressed []byte) []byte {
	compressed := s2.Encode(nil, uncompressed)
	out := make([]byte, lengthPrefixSize+len(compressed))
	binary.LittleEndian.PutUint32(out[:lengthPrefixSize], uint32(len(uncompressed)))
	copy(out[lengthPrefixSize:], compressed)
	return out
}

func (s2Codec) Decompress(framed []byte) ([]byte, error) {
	if len(framed) < lengthPrefixSize {
		return nil, fmt.Errorf("column: compressed frame shorter than length prefix (%d bytes)", len(framed))
	}
	uncompressedLen := binary.LittleEndian.Uint32(framed[:lengthPrefixSize])
	dst := make([]byte, uncompressedLen)
	out, err := s2.Decode(dst, framed[lengthPrefixSize:])
	if err != nil {
		return nil, fmt.Errorf("column: decompress failed: %w", err)
	}
	return out, nil
}
