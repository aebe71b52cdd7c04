// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package writer

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/bureau-foundation/zarrstream/lib/compression"
	"github.com/bureau-foundation/zarrstream/lib/dimension"
	"github.com/bureau-foundation/zarrstream/lib/threadpool"
)

func mustDims(t *testing.T, dims []dimension.Dimension, dtype dimension.DataType) *dimension.ArrayDimensions {
	t.Helper()
	a, err := dimension.New(dims, dtype)
	if err != nil {
		t.Fatalf("dimension.New: %v", err)
	}
	return a
}

func newTestWriter(t *testing.T, cfg Config) (*Writer, *threadpool.Pool) {
	t.Helper()
	pool := threadpool.New(4, nil)
	t.Cleanup(pool.AwaitStop)
	cfg.Pool = pool
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("writer.New: %v", err)
	}
	return w, pool
}

func onesFrame(n uint64) []byte {
	frame := make([]byte, n)
	for i := range frame {
		frame[i] = 1
	}
	return frame
}

// Scenario: 3-D store, 48x48 u8 frames, 16px spatial chunks, append
// chunk of 5, v2, no compression. Ten frames produce two append
// chunk rows of 9 chunk files, 1280 bytes each.
func TestV2TenFramesEighteenChunks(t *testing.T) {
	store := t.TempDir()
	dims := mustDims(t, []dimension.Dimension{
		{Name: "t", Type: dimension.TypeTime, ArraySizePx: 0, ChunkSizePx: 5, ShardSizeChunks: 1},
		{Name: "y", Type: dimension.TypeSpace, ArraySizePx: 48, ChunkSizePx: 16, ShardSizeChunks: 1},
		{Name: "x", Type: dimension.TypeSpace, ArraySizePx: 48, ChunkSizePx: 16, ShardSizeChunks: 1},
	}, dimension.UInt8)

	w, _ := newTestWriter(t, Config{Dimensions: dims, Version: 2, StorePath: store})

	frame := onesFrame(dims.BytesPerFrame())
	for i := 0; i < 10; i++ {
		n, err := w.WriteFrame(frame)
		if err != nil {
			t.Fatalf("WriteFrame %d: %v", i, err)
		}
		if n != len(frame) {
			t.Fatalf("WriteFrame %d returned %d, want %d", i, n, len(frame))
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	var chunkFiles []string
	for _, row := range []string{"0", "1"} {
		for y := 0; y < 3; y++ {
			for x := 0; x < 3; x++ {
				chunkFiles = append(chunkFiles,
					filepath.Join(store, "0", row, strconv.Itoa(y), strconv.Itoa(x)))
			}
		}
	}
	for _, file := range chunkFiles {
		data, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("chunk file missing: %v", err)
		}
		if len(data) != 16*16*5 {
			t.Errorf("%s: size = %d, want 1280", file, len(data))
		}
		for _, b := range data {
			if b != 1 {
				t.Errorf("%s: found byte %d, want all ones", file, b)
				break
			}
		}
	}
}

// Scenario: same geometry, seven frames. The second row flushes
// partially at finalize: two time slices of data, three of fill.
func TestV2PartialAppendChunkZeroFilled(t *testing.T) {
	store := t.TempDir()
	dims := mustDims(t, []dimension.Dimension{
		{Name: "t", Type: dimension.TypeTime, ArraySizePx: 0, ChunkSizePx: 5, ShardSizeChunks: 1},
		{Name: "y", Type: dimension.TypeSpace, ArraySizePx: 48, ChunkSizePx: 16, ShardSizeChunks: 1},
		{Name: "x", Type: dimension.TypeSpace, ArraySizePx: 48, ChunkSizePx: 16, ShardSizeChunks: 1},
	}, dimension.UInt8)

	w, _ := newTestWriter(t, Config{Dimensions: dims, Version: 2, StorePath: store})

	frame := onesFrame(dims.BytesPerFrame())
	for i := 0; i < 7; i++ {
		if _, err := w.WriteFrame(frame); err != nil {
			t.Fatalf("WriteFrame %d: %v", i, err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(store, "0", "1", "0", "0"))
	if err != nil {
		t.Fatalf("partial chunk missing: %v", err)
	}
	if len(data) != 1280 {
		t.Fatalf("partial chunk size = %d, want 1280", len(data))
	}
	tile := 16 * 16
	for i, b := range data {
		want := byte(0)
		if i < 2*tile {
			want = 1
		}
		if b != want {
			t.Fatalf("byte %d = %d, want %d (two filled slices, three fill slices)", i, b, want)
		}
	}
}

// Round trip: deterministic frames tile out to chunk files and back.
func TestV2RoundTrip(t *testing.T) {
	store := t.TempDir()
	dims := mustDims(t, []dimension.Dimension{
		{Name: "t", Type: dimension.TypeTime, ArraySizePx: 0, ChunkSizePx: 2, ShardSizeChunks: 1},
		{Name: "y", Type: dimension.TypeSpace, ArraySizePx: 8, ChunkSizePx: 4, ShardSizeChunks: 1},
		{Name: "x", Type: dimension.TypeSpace, ArraySizePx: 8, ChunkSizePx: 4, ShardSizeChunks: 1},
	}, dimension.UInt8)

	w, _ := newTestWriter(t, Config{Dimensions: dims, Version: 2, StorePath: store})

	const frames = 4
	written := make([][]byte, frames)
	for f := 0; f < frames; f++ {
		frame := make([]byte, dims.BytesPerFrame())
		for i := range frame {
			frame[i] = byte(f*64 + i%61)
		}
		written[f] = frame
		if _, err := w.WriteFrame(frame); err != nil {
			t.Fatalf("WriteFrame %d: %v", f, err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	// Reassemble each frame from the chunk files.
	for f := 0; f < frames; f++ {
		got := make([]byte, dims.BytesPerFrame())
		row := f / 2
		slice := f % 2
		for cy := 0; cy < 2; cy++ {
			for cx := 0; cx < 2; cx++ {
				chunk, err := os.ReadFile(filepath.Join(store, "0", strconv.Itoa(row), strconv.Itoa(cy), strconv.Itoa(cx)))
				if err != nil {
					t.Fatalf("reading chunk: %v", err)
				}
				tile := chunk[slice*16 : (slice+1)*16]
				for r := 0; r < 4; r++ {
					dst := (cy*4+r)*8 + cx*4
					copy(got[dst:dst+4], tile[r*4:(r+1)*4])
				}
			}
		}
		if !bytes.Equal(got, written[f]) {
			t.Errorf("frame %d does not round trip", f)
		}
	}
}

// Scenario: v3, 64x64 u16 frames, shards of 2x2 chunks spatially.
// Each append shard row yields two shard objects with a four-entry
// index.
func TestV3ShardLayoutAndIndex(t *testing.T) {
	store := t.TempDir()
	dims := mustDims(t, []dimension.Dimension{
		{Name: "t", Type: dimension.TypeTime, ArraySizePx: 0, ChunkSizePx: 5, ShardSizeChunks: 1},
		{Name: "y", Type: dimension.TypeSpace, ArraySizePx: 64, ChunkSizePx: 16, ShardSizeChunks: 2},
		{Name: "x", Type: dimension.TypeSpace, ArraySizePx: 64, ChunkSizePx: 32, ShardSizeChunks: 2},
	}, dimension.UInt16)

	w, _ := newTestWriter(t, Config{Dimensions: dims, Version: 3, StorePath: store})

	frame := onesFrame(dims.BytesPerFrame())
	for i := 0; i < 10; i++ {
		if _, err := w.WriteFrame(frame); err != nil {
			t.Fatalf("WriteFrame %d: %v", i, err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	chunkBytes := int(dims.BytesPerChunk()) // 5*16*32*2
	for _, row := range []string{"0", "1"} {
		for shardY := 0; shardY < 2; shardY++ {
			file := filepath.Join(store, "c", "0", row, strconv.Itoa(shardY), "0")
			data, err := os.ReadFile(file)
			if err != nil {
				t.Fatalf("shard object missing: %v", err)
			}
			// 4 chunk slots, all present, uncompressed.
			wantSize := 4*chunkBytes + 64
			if len(data) != wantSize {
				t.Fatalf("%s: size = %d, want %d", file, len(data), wantSize)
			}

			index := data[len(data)-64:]
			for slot := 0; slot < 4; slot++ {
				offset := binary.LittleEndian.Uint64(index[slot*16:])
				size := binary.LittleEndian.Uint64(index[slot*16+8:])
				if size != uint64(chunkBytes) {
					t.Errorf("%s slot %d: size = %d, want %d", file, slot, size, chunkBytes)
				}
				if offset != uint64(slot*chunkBytes) {
					t.Errorf("%s slot %d: offset = %d, want %d", file, slot, offset, slot*chunkBytes)
				}
			}
		}
	}
}

// A partially filled append shard records the sentinel for unopened
// append chunk slots.
func TestV3PartialShardSentinel(t *testing.T) {
	store := t.TempDir()
	dims := mustDims(t, []dimension.Dimension{
		{Name: "t", Type: dimension.TypeTime, ArraySizePx: 0, ChunkSizePx: 2, ShardSizeChunks: 2},
		{Name: "y", Type: dimension.TypeSpace, ArraySizePx: 16, ChunkSizePx: 16, ShardSizeChunks: 1},
		{Name: "x", Type: dimension.TypeSpace, ArraySizePx: 16, ChunkSizePx: 16, ShardSizeChunks: 1},
	}, dimension.UInt8)

	w, _ := newTestWriter(t, Config{Dimensions: dims, Version: 3, StorePath: store})

	frame := onesFrame(dims.BytesPerFrame())
	// Two frames fill one append chunk; the shard wants two chunks.
	for i := 0; i < 2; i++ {
		if _, err := w.WriteFrame(frame); err != nil {
			t.Fatalf("WriteFrame %d: %v", i, err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(store, "c", "0", "0", "0", "0"))
	if err != nil {
		t.Fatalf("shard object missing: %v", err)
	}
	chunkBytes := int(dims.BytesPerChunk())
	if len(data) != chunkBytes+32 {
		t.Fatalf("shard size = %d, want %d (one chunk plus two index entries)", len(data), chunkBytes+32)
	}

	index := data[len(data)-32:]
	if got := binary.LittleEndian.Uint64(index[0:]); got != 0 {
		t.Errorf("slot 0 offset = %d, want 0", got)
	}
	if got := binary.LittleEndian.Uint64(index[8:]); got != uint64(chunkBytes) {
		t.Errorf("slot 0 size = %d, want %d", got, chunkBytes)
	}
	for _, at := range []int{16, 24} {
		if got := binary.LittleEndian.Uint64(index[at:]); got != ^uint64(0) {
			t.Errorf("sentinel at %d = %#x, want all ones", at, got)
		}
	}
}

// Compressed chunks decompress to the raw buffer bytes and respect
// the size bound.
func TestV2CompressedRoundTrip(t *testing.T) {
	store := t.TempDir()
	dims := mustDims(t, []dimension.Dimension{
		{Name: "t", Type: dimension.TypeTime, ArraySizePx: 0, ChunkSizePx: 2, ShardSizeChunks: 1},
		{Name: "y", Type: dimension.TypeSpace, ArraySizePx: 32, ChunkSizePx: 32, ShardSizeChunks: 1},
		{Name: "x", Type: dimension.TypeSpace, ArraySizePx: 32, ChunkSizePx: 32, ShardSizeChunks: 1},
	}, dimension.UInt16)

	params := compression.Params{Codec: compression.CodecZstd, Level: 5, Shuffle: compression.ShuffleByte}
	w, _ := newTestWriter(t, Config{
		Dimensions: dims, Version: 2, StorePath: store, Compression: &params,
	})

	frame := make([]byte, dims.BytesPerFrame())
	for i := range frame {
		frame[i] = byte(i / 7)
	}
	for i := 0; i < 2; i++ {
		if _, err := w.WriteFrame(frame); err != nil {
			t.Fatalf("WriteFrame %d: %v", i, err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(store, "0", "0", "0", "0"))
	if err != nil {
		t.Fatalf("chunk missing: %v", err)
	}
	rawSize := int(dims.BytesPerChunk())
	if len(data) > rawSize+compression.Overhead(rawSize) {
		t.Errorf("compressed chunk %d bytes exceeds bound", len(data))
	}

	c, err := compression.New(params, 2)
	if err != nil {
		t.Fatalf("compression.New: %v", err)
	}
	raw, err := c.Decompress(data, rawSize)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	want := append(append([]byte{}, frame...), frame...)
	if !bytes.Equal(raw, want) {
		t.Error("decompressed chunk does not match the written frames")
	}
}

// A flush failure latches: the failing WriteFrame reports the error
// and every subsequent call returns a short write.
func TestWriteFrameLatchesFlushFailure(t *testing.T) {
	store := t.TempDir()
	// A regular file where the level directory belongs makes every
	// sink creation fail.
	if err := os.WriteFile(filepath.Join(store, "0"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dims := mustDims(t, []dimension.Dimension{
		{Name: "t", Type: dimension.TypeTime, ArraySizePx: 0, ChunkSizePx: 1, ShardSizeChunks: 1},
		{Name: "y", Type: dimension.TypeSpace, ArraySizePx: 4, ChunkSizePx: 4, ShardSizeChunks: 1},
		{Name: "x", Type: dimension.TypeSpace, ArraySizePx: 4, ChunkSizePx: 4, ShardSizeChunks: 1},
	}, dimension.UInt8)

	w, _ := newTestWriter(t, Config{Dimensions: dims, Version: 2, StorePath: store})

	frame := onesFrame(dims.BytesPerFrame())
	n, err := w.WriteFrame(frame)
	if err == nil {
		t.Fatal("flush against a blocked path succeeded")
	}
	if n != 0 {
		t.Errorf("failing WriteFrame returned %d, want 0", n)
	}

	n, err = w.WriteFrame(frame)
	if n != 0 || err == nil {
		t.Errorf("WriteFrame after failure = (%d, %v), want (0, latched error)", n, err)
	}
}

func TestV2ArrayMetadata(t *testing.T) {
	store := t.TempDir()
	dims := mustDims(t, []dimension.Dimension{
		{Name: "t", Type: dimension.TypeTime, ArraySizePx: 0, ChunkSizePx: 5, ShardSizeChunks: 1},
		{Name: "y", Type: dimension.TypeSpace, ArraySizePx: 48, ChunkSizePx: 16, ShardSizeChunks: 1},
		{Name: "x", Type: dimension.TypeSpace, ArraySizePx: 48, ChunkSizePx: 16, ShardSizeChunks: 1},
	}, dimension.UInt8)

	w, _ := newTestWriter(t, Config{Dimensions: dims, Version: 2, StorePath: store})
	frame := onesFrame(dims.BytesPerFrame())
	for i := 0; i < 7; i++ {
		if _, err := w.WriteFrame(frame); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(store, "0", ".zarray"))
	if err != nil {
		t.Fatalf(".zarray missing: %v", err)
	}
	var meta struct {
		ZarrFormat         int      `json:"zarr_format"`
		Shape              []uint64 `json:"shape"`
		Chunks             []uint64 `json:"chunks"`
		DType              string   `json:"dtype"`
		Compressor         any      `json:"compressor"`
		FillValue          int      `json:"fill_value"`
		Order              string   `json:"order"`
		DimensionSeparator string   `json:"dimension_separator"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("parsing .zarray: %v", err)
	}
	if meta.ZarrFormat != 2 || meta.Order != "C" || meta.DimensionSeparator != "/" {
		t.Errorf("metadata fixed fields wrong: %+v", meta)
	}
	if len(meta.Shape) != 3 || meta.Shape[0] != 7 || meta.Shape[1] != 48 || meta.Shape[2] != 48 {
		t.Errorf("shape = %v, want [7 48 48]", meta.Shape)
	}
	if len(meta.Chunks) != 3 || meta.Chunks[0] != 5 || meta.Chunks[1] != 16 {
		t.Errorf("chunks = %v, want [5 16 16]", meta.Chunks)
	}
	if meta.DType != "|u1" {
		t.Errorf("dtype = %q, want |u1", meta.DType)
	}
	if meta.Compressor != nil {
		t.Errorf("compressor = %v, want null", meta.Compressor)
	}
}

func TestV3ArrayMetadata(t *testing.T) {
	store := t.TempDir()
	dims := mustDims(t, []dimension.Dimension{
		{Name: "t", Type: dimension.TypeTime, ArraySizePx: 0, ChunkSizePx: 5, ShardSizeChunks: 1},
		{Name: "y", Type: dimension.TypeSpace, ArraySizePx: 64, ChunkSizePx: 16, ShardSizeChunks: 2},
		{Name: "x", Type: dimension.TypeSpace, ArraySizePx: 64, ChunkSizePx: 16, ShardSizeChunks: 2},
	}, dimension.UInt16)

	params := compression.Params{Codec: compression.CodecLZ4, Level: 1, Shuffle: compression.ShuffleBit}
	w, _ := newTestWriter(t, Config{
		Dimensions: dims, Version: 3, StorePath: store, Compression: &params,
	})
	frame := onesFrame(dims.BytesPerFrame())
	for i := 0; i < 5; i++ {
		if _, err := w.WriteFrame(frame); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(store, "0", "zarr.json"))
	if err != nil {
		t.Fatalf("zarr.json missing: %v", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("parsing zarr.json: %v", err)
	}
	if meta["zarr_format"] != float64(3) || meta["node_type"] != "array" {
		t.Errorf("node descriptor wrong: %v", meta)
	}
	if meta["data_type"] != "uint16" {
		t.Errorf("data_type = %v, want uint16", meta["data_type"])
	}
	codecs := meta["codecs"].([]any)
	sharding := codecs[0].(map[string]any)
	if sharding["name"] != "sharding_indexed" {
		t.Errorf("outer codec = %v, want sharding_indexed", sharding["name"])
	}
	grid := meta["chunk_grid"].(map[string]any)["configuration"].(map[string]any)["chunk_shape"].([]any)
	// Outer chunk shape is chunk * shard: [5, 32, 32].
	if grid[0] != float64(5) || grid[1] != float64(32) || grid[2] != float64(32) {
		t.Errorf("outer chunk shape = %v, want [5 32 32]", grid)
	}
}

func TestDownsampleChain(t *testing.T) {
	dims := mustDims(t, []dimension.Dimension{
		{Name: "t", Type: dimension.TypeTime, ArraySizePx: 0, ChunkSizePx: 4, ShardSizeChunks: 1},
		{Name: "y", Type: dimension.TypeSpace, ArraySizePx: 128, ChunkSizePx: 32, ShardSizeChunks: 1},
		{Name: "x", Type: dimension.TypeSpace, ArraySizePx: 128, ChunkSizePx: 32, ShardSizeChunks: 1},
	}, dimension.UInt8)

	cfg := Config{Dimensions: dims, Version: 2, StorePath: "/store"}

	level1, ok := Downsample(cfg)
	if !ok {
		t.Fatal("level 1 should exist (128 -> 64)")
	}
	if got := level1.Dimensions.WidthDim().ArraySizePx; got != 64 {
		t.Errorf("level 1 width = %d, want 64", got)
	}
	if level1.LevelOfDetail != 1 {
		t.Errorf("level 1 LOD = %d", level1.LevelOfDetail)
	}

	level2, ok := Downsample(level1)
	if !ok {
		t.Fatal("level 2 should exist (64 -> 32)")
	}
	if got := level2.Dimensions.WidthDim().ArraySizePx; got != 32 {
		t.Errorf("level 2 width = %d, want 32", got)
	}

	if _, ok := Downsample(level2); ok {
		t.Error("level 3 should not exist (16 < chunk size 32)")
	}
}

func TestDownsampleKeepsInteriorDims(t *testing.T) {
	dims := mustDims(t, []dimension.Dimension{
		{Name: "t", Type: dimension.TypeTime, ArraySizePx: 0, ChunkSizePx: 4, ShardSizeChunks: 1},
		{Name: "c", Type: dimension.TypeChannel, ArraySizePx: 3, ChunkSizePx: 1, ShardSizeChunks: 1},
		{Name: "y", Type: dimension.TypeSpace, ArraySizePx: 64, ChunkSizePx: 16, ShardSizeChunks: 2},
		{Name: "x", Type: dimension.TypeSpace, ArraySizePx: 64, ChunkSizePx: 16, ShardSizeChunks: 2},
	}, dimension.UInt8)

	next, ok := Downsample(Config{Dimensions: dims, Version: 3, StorePath: "/store"})
	if !ok {
		t.Fatal("downsample refused")
	}
	if got := next.Dimensions.At(1).ArraySizePx; got != 3 {
		t.Errorf("channel extent changed to %d", got)
	}
	// 32px over 16px chunks leaves 2 chunks; the shard size still fits.
	if got := next.Dimensions.At(2).ShardSizeChunks; got != 2 {
		t.Errorf("y shard size = %d, want 2", got)
	}

	// One more halving: 16px, 1 chunk; shard clamps to 1.
	final, ok := Downsample(next)
	if !ok {
		t.Fatal("second downsample refused")
	}
	if got := final.Dimensions.At(2).ShardSizeChunks; got != 1 {
		t.Errorf("y shard size after clamp = %d, want 1", got)
	}
}
