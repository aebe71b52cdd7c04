// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package writer

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/zarrstream/lib/compression"
	"github.com/bureau-foundation/zarrstream/lib/dimension"
	"github.com/bureau-foundation/zarrstream/lib/sink"
)

// Writer streams frames into one array level. Not safe for
// concurrent use: a single goroutine calls WriteFrame and Finalize.
// Parallelism comes from the flush jobs the writer submits to the
// thread pool.
type Writer struct {
	cfg        Config
	compressor *compression.Compressor
	logger     *slog.Logger

	// buffers holds one byte slice per chunk of the current append
	// window. The window spans one append chunk row for v2, one
	// append shard row for v3. A buffer is handed off to its flush
	// job by value; the writer drops its reference at that point.
	buffers [][]byte

	// windowAppendChunks is the number of append chunk indices the
	// window spans: 1 for v2, the append shard size for v3.
	windowAppendChunks uint64

	// appendChunkBase is the append chunk index of the window's
	// first chunk row.
	appendChunkBase uint64

	framesWritten uint64
	finalized     bool

	// failed latches the first flush failure; every later WriteFrame
	// returns a short write.
	failed    atomic.Bool
	failedErr atomic.Pointer[error]
}

// New creates a writer for one array level.
func New(cfg Config) (*Writer, error) {
	if cfg.Dimensions == nil {
		return nil, fmt.Errorf("dimensions are required")
	}
	if cfg.Version != 2 && cfg.Version != 3 {
		return nil, fmt.Errorf("invalid store version: %d", cfg.Version)
	}
	if cfg.Pool == nil {
		return nil, fmt.Errorf("thread pool is required")
	}
	if cfg.StorePath == "" {
		return nil, fmt.Errorf("store path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	w := &Writer{
		cfg:                cfg,
		logger:             logger,
		windowAppendChunks: 1,
	}
	if cfg.Version == 3 {
		w.windowAppendChunks = cfg.Dimensions.AppendDim().ShardSizeChunks
		if w.windowAppendChunks == 0 {
			return nil, fmt.Errorf("append dimension shard size must be nonzero for version 3")
		}
	}

	if cfg.Compression != nil && cfg.Compression.Codec != compression.CodecNone {
		compressor, err := compression.New(*cfg.Compression, cfg.Dimensions.DataType().Size())
		if err != nil {
			return nil, fmt.Errorf("creating compressor: %w", err)
		}
		w.compressor = compressor
	}

	w.allocateBuffers()
	return w, nil
}

// LevelOfDetail returns the writer's pyramid level.
func (w *Writer) LevelOfDetail() int { return w.cfg.LevelOfDetail }

// FramesWritten returns the number of frames accepted so far.
func (w *Writer) FramesWritten() uint64 { return w.framesWritten }

func (w *Writer) allocateBuffers() {
	dims := w.cfg.Dimensions
	count := w.windowAppendChunks * dims.ChunksPerRow()
	chunkBytes := dims.BytesPerChunk()

	w.buffers = make([][]byte, count)
	for i := range w.buffers {
		w.buffers[i] = make([]byte, chunkBytes, chunkBytes+uint64(compression.Overhead(int(chunkBytes))))
	}
}

// framesPerWindow returns the number of frames that complete the
// current append window.
func (w *Writer) framesPerWindow() uint64 {
	return w.windowAppendChunks * w.cfg.Dimensions.FramesPerAppendChunk()
}

// WriteFrame tiles one frame into the window's chunk buffers and, on
// window completion, flushes it through the thread pool. Returns the
// number of frame bytes consumed: len(frame) on success, 0 after a
// flush failure has latched.
func (w *Writer) WriteFrame(frame []byte) (int, error) {
	if w.failed.Load() {
		return 0, w.latchedError()
	}
	dims := w.cfg.Dimensions
	if uint64(len(frame)) != dims.BytesPerFrame() {
		return 0, fmt.Errorf("frame is %d bytes, want %d", len(frame), dims.BytesPerFrame())
	}

	frameIndex := w.framesWritten
	appendSlot := dims.ChunkLatticeIndex(frameIndex, 0) - w.appendChunkBase
	slotOffset := appendSlot * dims.ChunksPerRow()

	dims.TileFrame(frameIndex, func(c dimension.TileCopy) {
		buffer := w.buffers[slotOffset+c.ChunkIndex]
		copy(buffer[c.DstOffset:c.DstOffset+c.Length], frame[c.SrcOffset:c.SrcOffset+c.Length])
	})
	w.framesWritten++

	if w.framesWritten%w.framesPerWindow() == 0 {
		if err := w.flush(w.windowAppendChunks); err != nil {
			w.latchFailure(err)
			return 0, err
		}
		w.rollover()
	}
	return len(frame), nil
}

// Finalize flushes any partially filled window, writes the array
// metadata, and retires the writer. The writer cannot be used
// afterwards.
func (w *Writer) Finalize() error {
	if w.finalized {
		return nil
	}
	w.finalized = true

	framesInWindow := w.framesWritten % w.framesPerWindow()
	if framesInWindow > 0 && !w.failed.Load() {
		perChunk := w.cfg.Dimensions.FramesPerAppendChunk()
		openAppendChunks := (framesInWindow + perChunk - 1) / perChunk
		if err := w.flush(openAppendChunks); err != nil {
			w.latchFailure(err)
		}
	}

	if err := w.writeArrayMetadata(); err != nil {
		return fmt.Errorf("writing array metadata for level %d: %w", w.cfg.LevelOfDetail, err)
	}
	if err := w.latchedError(); err != nil {
		return err
	}
	return nil
}

// flush writes the window's first openAppendChunks chunk rows. It
// blocks until every submitted job has completed (the flush
// barrier).
func (w *Writer) flush(openAppendChunks uint64) error {
	if w.cfg.Version == 2 {
		return w.flushV2()
	}
	return w.flushV3(openAppendChunks)
}

func (w *Writer) rollover() {
	w.appendChunkBase += w.windowAppendChunks
	w.allocateBuffers()
}

func (w *Writer) latchFailure(err error) {
	if w.failed.CompareAndSwap(false, true) {
		w.failedErr.Store(&err)
		w.logger.Error("array writer failed",
			"level", w.cfg.LevelOfDetail,
			"error", err,
		)
	}
}

func (w *Writer) latchedError() error {
	if errPtr := w.failedErr.Load(); errPtr != nil {
		return *errPtr
	}
	if w.failed.Load() {
		return fmt.Errorf("array writer %d: flush failed", w.cfg.LevelOfDetail)
	}
	return nil
}

// compressChunk produces the bytes that reach the sink for one chunk
// buffer.
func (w *Writer) compressChunk(raw []byte) ([]byte, error) {
	if w.compressor == nil {
		return raw, nil
	}
	return w.compressor.Compress(raw)
}

// newSink opens the data sink for one object path, on the
// filesystem or in the bucket depending on the backend.
func (w *Writer) newSink(objectPath string) (sink.Sink, error) {
	if w.cfg.S3 != nil {
		return sink.NewS3Sink(context.Background(), w.cfg.S3, objectPath)
	}
	return sink.NewFileSink(objectPath)
}

// levelPath returns the store-relative root of this level's array.
func (w *Writer) levelPath() string {
	return path.Join(w.cfg.StorePath, fmt.Sprintf("%d", w.cfg.LevelOfDetail))
}

// submitBarrier submits jobs to the pool and waits for all of them.
// The first job error is returned; sibling jobs still run.
func (w *Writer) submitBarrier(jobs []func() error) error {
	var firstErr atomic.Pointer[error]
	var wg sync.WaitGroup

	for _, job := range jobs {
		job := job
		wg.Add(1)
		ok := w.cfg.Pool.Submit(func() error {
			defer wg.Done()
			if err := job(); err != nil {
				firstErr.CompareAndSwap(nil, &err)
				return err
			}
			return nil
		})
		if !ok {
			wg.Done()
			stopped := fmt.Errorf("thread pool stopped during flush")
			firstErr.CompareAndSwap(nil, &stopped)
			break
		}
	}
	wg.Wait()

	if errPtr := firstErr.Load(); errPtr != nil {
		return *errPtr
	}
	return nil
}
