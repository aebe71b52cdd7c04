// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dimension models the N-dimensional geometry of a chunked
// array: per-axis extents, chunk sizes, shard sizes, and the derived
// counts and strides the writers need.
//
// Conventions, fixed at stream creation:
//
//   - The first dimension is the append dimension. Its extent may be
//     zero, meaning the array grows without bound as frames arrive.
//   - The last two dimensions are spatial and correspond to frame
//     height and width.
//   - Frames arrive in row-major order over the non-spatial
//     dimensions, innermost dimension fastest.
//
// The frame tiler maps a (frame index, frame bytes) pair onto the
// chunk lattice. It is pure: identical inputs produce identical copy
// instructions.
package dimension
