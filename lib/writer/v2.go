// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package writer

import (
	"fmt"
	"path"

	"github.com/bureau-foundation/zarrstream/lib/dimension"
	"github.com/bureau-foundation/zarrstream/lib/sink"
)

// flushV2 writes each chunk of the window to its own object at
// <store>/<lod>/<appendChunk>/<c_1>/.../<c_row>/<c_col>. One
// compress-and-write job per chunk. The v2 window is always a single
// append chunk row, so a partial flush still writes every chunk,
// zero-filled past the last frame.
func (w *Writer) flushV2() error {
	dims := w.cfg.Dimensions
	base := path.Join(w.levelPath(), fmt.Sprintf("%d", w.appendChunkBase))

	paths := sink.ConstructDataPaths(base, dims, func(d dimension.Dimension) uint64 {
		return d.ChunksAlong()
	})
	if uint64(len(paths)) != dims.ChunksPerRow() {
		return fmt.Errorf("constructed %d chunk paths, want %d", len(paths), dims.ChunksPerRow())
	}

	if w.cfg.S3 == nil {
		if err := sink.MakeDirs(sink.ParentPaths(paths), w.cfg.Pool); err != nil {
			return err
		}
	}

	jobs := make([]func() error, len(paths))
	for i := range paths {
		buffer := w.buffers[i]
		w.buffers[i] = nil // moved into the job
		objectPath := paths[i]

		jobs[i] = func() error {
			data, err := w.compressChunk(buffer)
			if err != nil {
				return fmt.Errorf("compressing chunk %q: %w", objectPath, err)
			}
			s, err := w.newSink(objectPath)
			if err != nil {
				return err
			}
			if err := s.Write(0, data); err != nil {
				return err
			}
			return sink.Finalize(s)
		}
	}
	return w.submitBarrier(jobs)
}

// zarrayMetadata is the .zarray document of a v2 array.
type zarrayMetadata struct {
	ZarrFormat         int             `json:"zarr_format"`
	Shape              []uint64        `json:"shape"`
	Chunks             []uint64        `json:"chunks"`
	DType              string          `json:"dtype"`
	Compressor         *compressorMeta `json:"compressor"`
	FillValue          int             `json:"fill_value"`
	Order              string          `json:"order"`
	Filters            any             `json:"filters"`
	DimensionSeparator string          `json:"dimension_separator"`
}

// compressorMeta is the blosc-style compressor descriptor recorded
// in v2 array metadata.
type compressorMeta struct {
	ID      string `json:"id"`
	CName   string `json:"cname"`
	CLevel  int    `json:"clevel"`
	Shuffle int    `json:"shuffle"`
}

func (w *Writer) v2ArrayMetadata() zarrayMetadata {
	dims := w.cfg.Dimensions

	meta := zarrayMetadata{
		ZarrFormat:         2,
		Shape:              w.arrayShape(),
		Chunks:             make([]uint64, dims.NDims()),
		DType:              dims.DataType().ZarrV2Name(),
		FillValue:          0,
		Order:              "C",
		DimensionSeparator: "/",
	}
	for i := 0; i < dims.NDims(); i++ {
		meta.Chunks[i] = dims.At(i).ChunkSizePx
	}
	if w.cfg.Compression != nil {
		meta.Compressor = &compressorMeta{
			ID:      "blosc",
			CName:   w.cfg.Compression.Codec.String(),
			CLevel:  w.cfg.Compression.Level,
			Shuffle: int(w.cfg.Compression.Shuffle),
		}
	}
	return meta
}

// arrayShape returns the written extent per dimension. The append
// extent is derived from the frames actually written.
func (w *Writer) arrayShape() []uint64 {
	dims := w.cfg.Dimensions
	shape := make([]uint64, dims.NDims())

	unit := dims.FramesPerAppendUnit()
	shape[0] = (w.framesWritten + unit - 1) / unit
	for i := 1; i < dims.NDims(); i++ {
		shape[i] = dims.At(i).ArraySizePx
	}
	return shape
}
