// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package writer implements the per-level array writers. A writer
// accepts whole frames, tiles them into the chunk buffers of the
// current append window, and flushes completed windows through the
// thread pool: one compress-and-write job per chunk for a flat (v2)
// array, or per-chunk compression followed by shard assembly for a
// sharded (v3) array.
//
// The two store revisions share the host logic — buffering, tiling,
// the flush barrier, rollover, failure latching — and differ only in
// how a completed window reaches its sinks and in the array metadata
// written at finalization.
package writer
