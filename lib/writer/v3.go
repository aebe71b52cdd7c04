// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package writer

import (
	"encoding/binary"
	"fmt"
	"path"

	"github.com/bureau-foundation/zarrstream/lib/dimension"
	"github.com/bureau-foundation/zarrstream/lib/sink"
)

// shardAbsent is the index sentinel for a chunk slot with no data.
const shardAbsent = ^uint64(0)

// flushV3 writes the window as shard objects at
// <store>/c/<lod>/<appendShard>/<s_1>/.../<s_{n-1}>. Chunks compress
// in parallel, one job each; then each shard is assembled and
// written by one job: compressed chunks concatenated in row-major
// order, followed by a 16-byte (offset, size) index entry per chunk
// slot, little-endian, absent slots carrying the sentinel.
func (w *Writer) flushV3(openAppendChunks uint64) error {
	dims := w.cfg.Dimensions

	// Phase 1: compress present chunks.
	compressed := make([][]byte, len(w.buffers))
	var compressJobs []func() error
	for i := range w.buffers {
		appendSlot := uint64(i) / dims.ChunksPerRow()
		if appendSlot >= openAppendChunks {
			continue
		}
		i := i
		buffer := w.buffers[i]
		w.buffers[i] = nil // moved into the job
		compressJobs = append(compressJobs, func() error {
			data, err := w.compressChunk(buffer)
			if err != nil {
				return fmt.Errorf("compressing chunk %d of level %d: %w",
					i, w.cfg.LevelOfDetail, err)
			}
			compressed[i] = data
			return nil
		})
	}
	if err := w.submitBarrier(compressJobs); err != nil {
		return err
	}

	// Phase 2: assemble and write shards.
	appendShard := w.appendChunkBase / w.windowAppendChunks
	base := path.Join(w.cfg.StorePath, "c",
		fmt.Sprintf("%d", w.cfg.LevelOfDetail), fmt.Sprintf("%d", appendShard))

	paths := sink.ConstructDataPaths(base, dims, func(d dimension.Dimension) uint64 {
		return d.ShardsAlong()
	})
	if uint64(len(paths)) != dims.ShardsPerRow() {
		return fmt.Errorf("constructed %d shard paths, want %d", len(paths), dims.ShardsPerRow())
	}

	if w.cfg.S3 == nil {
		if err := sink.MakeDirs(sink.ParentPaths(paths), w.cfg.Pool); err != nil {
			return err
		}
	}

	jobs := make([]func() error, len(paths))
	for shardIndex := range paths {
		shardIndex := shardIndex
		objectPath := paths[shardIndex]
		jobs[shardIndex] = func() error {
			return w.writeShard(objectPath, uint64(shardIndex), compressed, openAppendChunks)
		}
	}
	return w.submitBarrier(jobs)
}

// shardRowCoords decodes a shard's index within one append shard row
// into its shard-lattice coordinates along dimensions 1..NDims-1.
func shardRowCoords(dims *dimension.ArrayDimensions, shardIndex uint64) []uint64 {
	n := dims.NDims()
	coords := make([]uint64, n-1)
	for i := n - 1; i >= 1; i-- {
		shards := dims.At(i).ShardsAlong()
		coords[i-1] = shardIndex % shards
		shardIndex /= shards
	}
	return coords
}

// writeShard assembles one shard object: the compressed chunks of
// the shard in row-major slot order, then the trailing index.
func (w *Writer) writeShard(objectPath string, shardIndex uint64, compressed [][]byte, openAppendChunks uint64) error {
	dims := w.cfg.Dimensions
	n := dims.NDims()
	shardCoords := shardRowCoords(dims, shardIndex)
	slots := dims.ChunksPerShard()

	s, err := w.newSink(objectPath)
	if err != nil {
		return err
	}

	index := make([]byte, 16*slots)
	offset := uint64(0)
	for slot := uint64(0); slot < slots; slot++ {
		// Decode the slot into within-shard chunk coordinates,
		// row-major, append dimension outermost.
		within := make([]uint64, n)
		rem := slot
		for i := n - 1; i >= 0; i-- {
			size := dims.At(i).ShardSizeChunks
			within[i] = rem % size
			rem /= size
		}

		bufferIndex, present := w.shardSlotBuffer(shardCoords, within, openAppendChunks)
		entry := index[16*slot:]
		if !present {
			binary.LittleEndian.PutUint64(entry, shardAbsent)
			binary.LittleEndian.PutUint64(entry[8:], shardAbsent)
			continue
		}

		data := compressed[bufferIndex]
		if err := s.Write(int64(offset), data); err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(entry, offset)
		binary.LittleEndian.PutUint64(entry[8:], uint64(len(data)))
		offset += uint64(len(data))
	}

	if err := s.Write(int64(offset), index); err != nil {
		return err
	}
	return sink.Finalize(s)
}

// shardSlotBuffer maps a shard slot to its window buffer index.
// present is false when the slot lies past the array extent or past
// the open portion of a partially flushed window.
func (w *Writer) shardSlotBuffer(shardCoords, within []uint64, openAppendChunks uint64) (uint64, bool) {
	dims := w.cfg.Dimensions
	n := dims.NDims()

	appendSlot := within[0]
	if appendSlot >= openAppendChunks {
		return 0, false
	}
	if appendDim := dims.AppendDim(); appendDim.ArraySizePx > 0 {
		if w.appendChunkBase+appendSlot >= appendDim.ChunksAlong() {
			return 0, false
		}
	}

	rowIndex := uint64(0)
	for i := 1; i < n; i++ {
		lattice := shardCoords[i-1]*dims.At(i).ShardSizeChunks + within[i]
		chunks := dims.At(i).ChunksAlong()
		if lattice >= chunks {
			return 0, false
		}
		rowIndex = rowIndex*chunks + lattice
	}
	return appendSlot*dims.ChunksPerRow() + rowIndex, true
}

// v3 array metadata.

type zarrV3ArrayMetadata struct {
	ZarrFormat       int              `json:"zarr_format"`
	NodeType         string           `json:"node_type"`
	Shape            []uint64         `json:"shape"`
	DataType         string           `json:"data_type"`
	ChunkGrid        chunkGridMeta    `json:"chunk_grid"`
	ChunkKeyEncoding chunkKeyEncoding `json:"chunk_key_encoding"`
	FillValue        int              `json:"fill_value"`
	Codecs           []codecMeta      `json:"codecs"`
}

type chunkGridMeta struct {
	Name          string        `json:"name"`
	Configuration chunkGridConf `json:"configuration"`
}

type chunkGridConf struct {
	ChunkShape []uint64 `json:"chunk_shape"`
}

type chunkKeyEncoding struct {
	Name          string              `json:"name"`
	Configuration chunkKeyEncodingCfg `json:"configuration"`
}

type chunkKeyEncodingCfg struct {
	Separator string `json:"separator"`
}

type codecMeta struct {
	Name          string         `json:"name"`
	Configuration map[string]any `json:"configuration,omitempty"`
}

func (w *Writer) v3ArrayMetadata() zarrV3ArrayMetadata {
	dims := w.cfg.Dimensions
	n := dims.NDims()

	innerChunk := make([]uint64, n)
	outerChunk := make([]uint64, n)
	for i := 0; i < n; i++ {
		innerChunk[i] = dims.At(i).ChunkSizePx
		outerChunk[i] = dims.At(i).ChunkSizePx * dims.At(i).ShardSizeChunks
	}

	innerCodecs := []codecMeta{
		{Name: "bytes", Configuration: map[string]any{"endian": "little"}},
	}
	if w.cfg.Compression != nil {
		innerCodecs = append(innerCodecs, codecMeta{
			Name: "blosc",
			Configuration: map[string]any{
				"cname":     w.cfg.Compression.Codec.String(),
				"clevel":    w.cfg.Compression.Level,
				"shuffle":   w.cfg.Compression.Shuffle.String(),
				"typesize":  dims.DataType().Size(),
				"blocksize": 0,
			},
		})
	}

	sharding := codecMeta{
		Name: "sharding_indexed",
		Configuration: map[string]any{
			"chunk_shape": innerChunk,
			"codecs":      innerCodecs,
			"index_codecs": []codecMeta{
				{Name: "bytes", Configuration: map[string]any{"endian": "little"}},
			},
			"index_location": "end",
		},
	}

	return zarrV3ArrayMetadata{
		ZarrFormat: 3,
		NodeType:   "array",
		Shape:      w.arrayShape(),
		DataType:   dims.DataType().ZarrV3Name(),
		ChunkGrid: chunkGridMeta{
			Name:          "regular",
			Configuration: chunkGridConf{ChunkShape: outerChunk},
		},
		ChunkKeyEncoding: chunkKeyEncoding{
			Name:          "default",
			Configuration: chunkKeyEncodingCfg{Separator: "/"},
		},
		FillValue: 0,
		Codecs:    []codecMeta{sharding},
	}
}
