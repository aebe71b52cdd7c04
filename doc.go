// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package zarrstream streams N-dimensional image frames into a
// chunked, optionally compressed, optionally multi-resolution array
// store in either of two store revisions, on a local filesystem or
// in an S3-compatible object store.
//
// A Stream accepts arbitrary byte-length appends and reassembles
// them into whole frames. Frames tile into per-chunk buffers; when
// an append chunk row completes, every chunk is compressed and
// written through a shared worker pool, each to its own object (v2)
// or packed into indexed shard objects (v3). With multiscale
// enabled, each frame also feeds a downsampling cascade that
// produces the lower-resolution pyramid levels on the fly.
//
// Errors latch: after the first failure, Append returns short
// counts without side effects and Finalize reports the cause.
package zarrstream
