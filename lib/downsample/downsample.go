// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package downsample implements the multiscale reduction arithmetic:
// 2x2 box-average spatial scaling with edge replication, and pairwise
// temporal averaging of whole frames. Values accumulate in float64
// and are cast back to the element type with truncation toward zero.
//
// Element access is dispatched once through a small table keyed by
// the data type; frames stay in their little-endian byte form
// throughout.
package downsample

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bureau-foundation/zarrstream/lib/dimension"
)

type elemOps struct {
	size  int
	load  func(b []byte) float64
	store func(b []byte, v float64)
}

var opsTable = map[dimension.DataType]elemOps{
	dimension.UInt8: {1,
		func(b []byte) float64 { return float64(b[0]) },
		func(b []byte, v float64) { b[0] = uint8(v) }},
	dimension.UInt16: {2,
		func(b []byte) float64 { return float64(binary.LittleEndian.Uint16(b)) },
		func(b []byte, v float64) { binary.LittleEndian.PutUint16(b, uint16(v)) }},
	dimension.UInt32: {4,
		func(b []byte) float64 { return float64(binary.LittleEndian.Uint32(b)) },
		func(b []byte, v float64) { binary.LittleEndian.PutUint32(b, uint32(v)) }},
	dimension.UInt64: {8,
		func(b []byte) float64 { return float64(binary.LittleEndian.Uint64(b)) },
		func(b []byte, v float64) { binary.LittleEndian.PutUint64(b, uint64(v)) }},
	dimension.Int8: {1,
		func(b []byte) float64 { return float64(int8(b[0])) },
		func(b []byte, v float64) { b[0] = uint8(int8(v)) }},
	dimension.Int16: {2,
		func(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) },
		func(b []byte, v float64) { binary.LittleEndian.PutUint16(b, uint16(int16(v))) }},
	dimension.Int32: {4,
		func(b []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(b))) },
		func(b []byte, v float64) { binary.LittleEndian.PutUint32(b, uint32(int32(v))) }},
	dimension.Int64: {8,
		func(b []byte) float64 { return float64(int64(binary.LittleEndian.Uint64(b))) },
		func(b []byte, v float64) { binary.LittleEndian.PutUint64(b, uint64(int64(v))) }},
	dimension.Float32: {4,
		func(b []byte) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) },
		func(b []byte, v float64) { binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v))) }},
	dimension.Float64: {8,
		func(b []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(b)) },
		func(b []byte, v float64) { binary.LittleEndian.PutUint64(b, math.Float64bits(v)) }},
}

// ScaleImage reduces a width x height frame by a factor of two along
// both spatial axes. Each output pixel is the mean of a 2x2 input
// neighborhood; the final row and column are replicated when the
// input extent is odd. Output dimensions are ceil(width/2) by
// ceil(height/2).
func ScaleImage(dtype dimension.DataType, src []byte, width, height uint64) ([]byte, uint64, uint64, error) {
	ops, ok := opsTable[dtype]
	if !ok {
		return nil, 0, 0, fmt.Errorf("invalid data type: %d", dtype)
	}
	elem := uint64(ops.size)
	if need := width * height * elem; uint64(len(src)) < need {
		return nil, 0, 0, fmt.Errorf("expecting at least %d bytes, got %d", need, len(src))
	}

	outWidth := (width + 1) / 2
	outHeight := (height + 1) / 2
	dst := make([]byte, outWidth*outHeight*elem)

	dstIdx := uint64(0)
	for row := uint64(0); row < height; row += 2 {
		down := uint64(1)
		if row == height-1 {
			down = 0 // replicate the final odd row
		}
		for col := uint64(0); col < width; col += 2 {
			right := uint64(1)
			if col == width-1 {
				right = 0 // replicate the final odd column
			}

			base := row*width + col
			here := ops.load(src[base*elem:])
			east := ops.load(src[(base+right)*elem:])
			south := ops.load(src[(base+down*width)*elem:])
			diag := ops.load(src[(base+down*width+right)*elem:])

			ops.store(dst[dstIdx*elem:], 0.25*(here+east+south+diag))
			dstIdx++
		}
	}

	return dst, outWidth, outHeight, nil
}

// AverageFrames folds src into dst elementwise: dst[i] becomes
// trunc(0.5 * (dst[i] + src[i])). The frames must be the same length.
func AverageFrames(dtype dimension.DataType, dst, src []byte) error {
	ops, ok := opsTable[dtype]
	if !ok {
		return fmt.Errorf("invalid data type: %d", dtype)
	}
	if len(dst) != len(src) {
		return fmt.Errorf("expecting %d bytes in destination, got %d", len(src), len(dst))
	}

	elem := ops.size
	for i := 0; i+elem <= len(dst); i += elem {
		ops.store(dst[i:], 0.5*(ops.load(dst[i:])+ops.load(src[i:])))
	}
	return nil
}
