// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package writer

import (
	"log/slog"

	"github.com/bureau-foundation/zarrstream/lib/compression"
	"github.com/bureau-foundation/zarrstream/lib/dimension"
	"github.com/bureau-foundation/zarrstream/lib/s3pool"
	"github.com/bureau-foundation/zarrstream/lib/threadpool"
)

// Config describes one array level.
type Config struct {
	// Dimensions is the level's geometry.
	Dimensions *dimension.ArrayDimensions

	// Version selects the store revision, 2 or 3.
	Version int

	// LevelOfDetail is the pyramid level, 0 for full resolution.
	LevelOfDetail int

	// StorePath is the store root: a filesystem directory, or the
	// object key prefix when writing to S3.
	StorePath string

	// Compression selects the chunk codec. Nil writes raw chunks.
	Compression *compression.Params

	// Pool runs compression and sink I/O jobs.
	Pool *threadpool.Pool

	// S3 is the connection pool for object storage. Nil selects the
	// filesystem backend.
	S3 *s3pool.Pool

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Downsample derives the configuration of the next pyramid level:
// the append extent and every space-type extent halve (rounding up);
// interior dimensions of any other type are untouched. Shard extents
// are clamped to the reduced chunk counts.
//
// The second return value reports whether the next level may exist:
// it is false when halving would bring any bounded append or spatial
// extent below its chunk size.
func Downsample(cfg Config) (Config, bool) {
	dims := cfg.Dimensions
	n := dims.NDims()

	halves := func(i int) bool {
		return i == 0 || dims.At(i).Type == dimension.TypeSpace
	}

	for i := 0; i < n; i++ {
		dim := dims.At(i)
		if !halves(i) || dim.ArraySizePx == 0 {
			continue
		}
		if (dim.ArraySizePx+1)/2 < dim.ChunkSizePx {
			return Config{}, false
		}
	}

	next := make([]dimension.Dimension, n)
	for i := 0; i < n; i++ {
		dim := dims.At(i)
		if halves(i) && dim.ArraySizePx > 0 {
			dim.ArraySizePx = (dim.ArraySizePx + 1) / 2
		}
		if chunks := dim.ChunksAlong(); chunks > 0 && dim.ShardSizeChunks > chunks {
			dim.ShardSizeChunks = chunks
		}
		next[i] = dim
	}

	downsampled, err := dimension.New(next, dims.DataType())
	if err != nil {
		// Halving preserves every constructor invariant; a failure
		// here is a programming error.
		panic("writer: downsampled dimensions invalid: " + err.Error())
	}

	out := cfg
	out.Dimensions = downsampled
	out.LevelOfDetail = cfg.LevelOfDetail + 1
	return out, true
}
