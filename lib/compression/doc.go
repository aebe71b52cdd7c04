// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compression adapts block compressors for chunk data. A
// chunk is compressed as a single block: an optional shuffle
// transform (byte or bit grouping by position within the element)
// followed by an LZ4 or zstd pass. The output of Compress is bounded
// by the input size plus Overhead(input size), so chunk buffers can be
// allocated once with a fixed slack.
//
// The adapter is write-oriented; Decompress exists so tests and
// tools can verify written chunks byte-for-byte.
package compression
