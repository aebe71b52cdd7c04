// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dimension

// TileCopy describes one contiguous copy from a frame into a chunk
// buffer: src is the byte range within the frame, ChunkIndex selects
// the chunk within the current append chunk row, and DstOffset is the
// byte offset within that chunk's buffer.
type TileCopy struct {
	ChunkIndex uint64
	DstOffset  uint64
	SrcOffset  uint64
	Length     uint64
}

// TileFrame computes the copies needed to scatter frame f into the
// chunks of its append chunk row, invoking put once per frame-row
// segment. Chunk buffers are assumed zero-initialized; regions of
// edge chunks past the array extent are left untouched, which yields
// the fill value.
//
// The function is pure: identical inputs produce the identical
// sequence of copies.
func (a *ArrayDimensions) TileFrame(f uint64, put func(TileCopy)) {
	elem := uint64(a.dtype.Size())
	width := a.WidthDim().ArraySizePx
	height := a.HeightDim().ArraySizePx
	chunkWidth := a.WidthDim().ChunkSizePx
	chunkHeight := a.HeightDim().ChunkSizePx
	chunksX := a.WidthDim().ChunksAlong()
	chunksY := a.HeightDim().ChunksAlong()

	groupOffset := a.TileGroupOffset(f)
	internalOffset := a.ChunkInternalOffset(f)

	for cy := uint64(0); cy < chunksY; cy++ {
		rowsInChunk := chunkHeight
		if (cy+1)*chunkHeight > height {
			rowsInChunk = height - cy*chunkHeight
		}
		for cx := uint64(0); cx < chunksX; cx++ {
			colsInChunk := chunkWidth
			if (cx+1)*chunkWidth > width {
				colsInChunk = width - cx*chunkWidth
			}

			chunkIndex := groupOffset + cy*chunksX + cx
			for r := uint64(0); r < rowsInChunk; r++ {
				put(TileCopy{
					ChunkIndex: chunkIndex,
					DstOffset:  internalOffset + r*chunkWidth*elem,
					SrcOffset:  ((cy*chunkHeight+r)*width + cx*chunkWidth) * elem,
					Length:     colsInChunk * elem,
				})
			}
		}
	}
}
