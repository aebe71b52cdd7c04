// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compression

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the block compressor.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecLZ4
	CodecZstd
)

// String returns the codec name as it appears in array metadata.
func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCodec parses a codec from its metadata name.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression codec: %q", name)
	}
}

// Shuffle identifies the pre-compression transform.
type Shuffle uint8

const (
	ShuffleNone Shuffle = iota
	ShuffleByte
	ShuffleBit
)

// String returns the shuffle name used in v3 codec metadata.
func (s Shuffle) String() string {
	switch s {
	case ShuffleNone:
		return "noshuffle"
	case ShuffleByte:
		return "shuffle"
	case ShuffleBit:
		return "bitshuffle"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseShuffle parses a shuffle from its metadata name or the short
// settings-file form.
func ParseShuffle(name string) (Shuffle, error) {
	switch name {
	case "none", "noshuffle", "":
		return ShuffleNone, nil
	case "byte", "shuffle":
		return ShuffleByte, nil
	case "bit", "bitshuffle":
		return ShuffleBit, nil
	default:
		return 0, fmt.Errorf("unknown shuffle: %q", name)
	}
}

// Params selects a codec, a compression level, and a shuffle
// transform. The zero value means no compression.
type Params struct {
	Codec   Codec
	Level   int // 0..9
	Shuffle Shuffle
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	if p.Codec > CodecZstd {
		return fmt.Errorf("invalid compression codec: %d", p.Codec)
	}
	if p.Level < 0 || p.Level > 9 {
		return fmt.Errorf("invalid compression level: %d. Must be between 0 and 9", p.Level)
	}
	if p.Shuffle > ShuffleBit {
		return fmt.Errorf("invalid shuffle: %d", p.Shuffle)
	}
	return nil
}

// Overhead returns the worst-case growth of a compressed block over
// its raw size. Chunk buffers are allocated with this slack so that
// compression can never overrun them.
func Overhead(rawSize int) int {
	return rawSize/255 + 64
}

// Compressor compresses chunk blocks under a fixed parameter set.
// Safe for concurrent use; each writer shares its instance across
// its flush jobs.
type Compressor struct {
	params   Params
	elemSize int
	encoder  *zstd.Encoder
}

// New creates a compressor. elemSize is the array element size in
// bytes; it drives the shuffle transforms.
func New(params Params, elemSize int) (*Compressor, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if elemSize < 1 {
		return nil, fmt.Errorf("invalid element size: %d", elemSize)
	}

	c := &Compressor{params: params, elemSize: elemSize}
	if params.Codec == CodecZstd {
		level := zstd.SpeedDefault
		if params.Level > 0 {
			level = zstd.EncoderLevelFromZstd(params.Level)
		}
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		c.encoder = encoder
	}
	return c, nil
}

// Params returns the parameter set the compressor was built with.
func (c *Compressor) Params() Params { return c.params }

// Compress compresses one raw chunk block. The result is at most
// len(raw) + Overhead(len(raw)) bytes. CodecNone passes the input
// through unchanged (no copy).
//
// An LZ4 block that does not shrink is stored raw at its original
// length; Decompress distinguishes stored blocks by length.
func (c *Compressor) Compress(raw []byte) ([]byte, error) {
	if c.params.Codec == CodecNone {
		return raw, nil
	}

	shuffled := shuffle(raw, c.params.Shuffle, c.elemSize)

	switch c.params.Codec {
	case CodecLZ4:
		return c.compressLZ4(shuffled)
	case CodecZstd:
		return c.encoder.EncodeAll(shuffled, nil), nil
	default:
		return nil, fmt.Errorf("unsupported compression codec: %d", c.params.Codec)
	}
}

func (c *Compressor) compressLZ4(data []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(data))
	destination := make([]byte, bound)

	var written int
	var err error
	if c.params.Level > 0 {
		compressor := lz4.CompressorHC{Level: lz4.CompressionLevel(1 << (8 + c.params.Level))}
		written, err = compressor.CompressBlock(data, destination)
	} else {
		var compressor lz4.Compressor
		written, err = compressor.CompressBlock(data, destination)
	}
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	// CompressBlock returns 0 when it determines the data is
	// incompressible; the block is then stored raw. A stored block
	// has exactly the uncompressed length, which a true compressed
	// block never has.
	if written == 0 || written >= len(data) {
		stored := make([]byte, len(data))
		copy(stored, data)
		return stored, nil
	}

	return destination[:written], nil
}

// zstdDecoder is shared across Decompress calls. zstd.Decoder is
// safe for concurrent use with DecodeAll.
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compression: zstd decoder initialization failed: " + err.Error())
	}
}

// Decompress reverses Compress. uncompressedSize must match the raw
// block length exactly; a mismatch returns an error.
func (c *Compressor) Decompress(compressed []byte, uncompressedSize int) ([]byte, error) {
	if c.params.Codec == CodecNone {
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed chunk: size %d does not match expected %d",
				len(compressed), uncompressedSize)
		}
		return compressed, nil
	}

	var shuffled []byte
	switch c.params.Codec {
	case CodecLZ4:
		if len(compressed) == uncompressedSize {
			// Stored block.
			shuffled = compressed
		} else {
			destination := make([]byte, uncompressedSize)
			read, err := lz4.UncompressBlock(compressed, destination)
			if err != nil {
				return nil, fmt.Errorf("lz4 decompress: %w", err)
			}
			if read != uncompressedSize {
				return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
			}
			shuffled = destination
		}
	case CodecZstd:
		result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != uncompressedSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
		}
		shuffled = result
	default:
		return nil, fmt.Errorf("unsupported compression codec: %d", c.params.Codec)
	}

	return unshuffle(shuffled, c.params.Shuffle, c.elemSize), nil
}
