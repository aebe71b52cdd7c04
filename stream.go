// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zarrstream

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync/atomic"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/zarrstream/lib/compression"
	"github.com/bureau-foundation/zarrstream/lib/dimension"
	"github.com/bureau-foundation/zarrstream/lib/downsample"
	"github.com/bureau-foundation/zarrstream/lib/s3pool"
	"github.com/bureau-foundation/zarrstream/lib/sink"
	"github.com/bureau-foundation/zarrstream/lib/threadpool"
	"github.com/bureau-foundation/zarrstream/lib/writer"
)

// Stream is the streaming write pipeline for one acquisition. Create
// it with New, feed it with Append, and retire it with Finalize.
//
// A Stream is not safe for concurrent Append calls; parallelism
// comes from the internal worker pool.
type Stream struct {
	settings  Settings
	storePath string
	dims      *dimension.ArrayDimensions
	logger    *slog.Logger

	pool    *threadpool.Pool
	s3      *s3pool.Pool
	writers []*writer.Writer

	metadataSinks map[string]sink.Sink

	// scaledFrames holds, per pyramid level >= 1, the downsampled
	// frame waiting for its pair. A nil slice means the slot is
	// empty.
	scaledFrames map[int][]byte

	frameBuffer       []byte
	frameBufferOffset int

	digest *blake3.Hasher

	errCell   atomic.Pointer[error]
	finalized bool
}

// New validates the settings and builds the stream: worker pool,
// store root, per-level writers, metadata sinks, and the base and
// group metadata documents.
func New(settings Settings) (*Stream, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}

	logger := settings.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	dims, err := dimension.New(settings.Dimensions, settings.DataType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	s := &Stream{
		settings:      settings,
		storePath:     strings.TrimSpace(strings.TrimPrefix(settings.StorePath, "file://")),
		dims:          dims,
		logger:        logger,
		metadataSinks: make(map[string]sink.Sink),
		scaledFrames:  make(map[int][]byte),
		frameBuffer:   make([]byte, dims.BytesPerFrame()),
		digest:        blake3.New(),
	}
	s.pool = threadpool.New(settings.MaxThreads, func(err error) {
		s.setError(fmt.Errorf("%w: %v", ErrIO, err))
	})

	fail := func(err error) (*Stream, error) {
		s.pool.AwaitStop()
		if s.s3 != nil {
			s.s3.Close()
		}
		return nil, err
	}

	if err := s.createStore(); err != nil {
		return fail(err)
	}
	if err := s.createWriters(); err != nil {
		return fail(err)
	}
	for level := 1; level < len(s.writers); level++ {
		s.scaledFrames[level] = nil
	}
	if err := s.createMetadataSinks(); err != nil {
		return fail(err)
	}
	if err := s.writeBaseMetadata(); err != nil {
		return fail(err)
	}
	if err := s.writeGroupMetadata(); err != nil {
		return fail(err)
	}

	logger.Info("stream created",
		"store_path", s.storePath,
		"version", settings.Version,
		"levels", len(s.writers),
		"s3", settings.S3 != nil,
	)
	return s, nil
}

// Append folds data into the stream, reassembling whole frames from
// arbitrary byte-length inputs. It returns the number of bytes
// consumed, which is len(data) except after a fatal error: the
// first failure yields a short count, and every later call returns
// zero without side effects.
func (s *Stream) Append(data []byte) int {
	if s.Err() != nil || len(data) == 0 {
		return 0
	}

	bytesOfFrame := len(s.frameBuffer)
	written := 0

	for written < len(data) {
		remaining := len(data) - written

		switch {
		case s.frameBufferOffset > 0: // add to / finish a partial frame
			n := bytesOfFrame - s.frameBufferOffset
			if remaining < n {
				n = remaining
			}
			copy(s.frameBuffer[s.frameBufferOffset:], data[written:written+n])
			s.frameBufferOffset += n
			written += n

			if s.frameBufferOffset == bytesOfFrame {
				if !s.writeFrame(s.frameBuffer) {
					goto done
				}
				s.frameBufferOffset = 0
			}

		case remaining < bytesOfFrame: // begin a partial frame
			copy(s.frameBuffer, data[written:])
			s.frameBufferOffset = remaining
			written += remaining

		default: // at least one full frame available in place
			if !s.writeFrame(data[written : written+bytesOfFrame]) {
				goto done
			}
			written += bytesOfFrame
		}
	}

done:
	s.digest.Write(data[:written])
	return written
}

// writeFrame routes one whole frame to the full-resolution writer
// and drives the multiscale cascade. Returns false after latching a
// fatal error.
func (s *Stream) writeFrame(frame []byte) bool {
	if capacity := s.dims.TotalFrames(); capacity > 0 &&
		s.writers[0].FramesWritten() >= capacity {
		s.setError(fmt.Errorf("%w: append dimension extent of %d frames exceeded",
			ErrInvalidArgument, capacity))
		return false
	}

	n, err := s.writers[0].WriteFrame(frame)
	if err != nil {
		s.setError(fmt.Errorf("%w: incomplete write to full-resolution array: %v", ErrIO, err))
		return false
	}
	if n != len(frame) {
		s.setError(fmt.Errorf("%w: full-resolution array accepted %d of %d bytes",
			ErrShortWrite, n, len(frame)))
		return false
	}

	if err := s.writeMultiscaleFrames(frame); err != nil {
		s.setError(err)
		return false
	}
	return true
}

// writeMultiscaleFrames runs the downsampling cascade. At each level
// the incoming frame is spatially halved; the first frame of a pair
// parks in the level's slot, the second is averaged against it and
// the average is written. The downsampled frame, not the average,
// feeds the next level.
func (s *Stream) writeMultiscaleFrames(frame []byte) error {
	if !s.settings.Multiscale {
		return nil
	}

	dtype := s.dims.DataType()
	width := s.dims.WidthDim().ArraySizePx
	height := s.dims.HeightDim().ArraySizePx

	data := frame
	for level := 1; level < len(s.writers); level++ {
		scaled, newWidth, newHeight, err := downsample.ScaleImage(dtype, data, width, height)
		if err != nil {
			return fmt.Errorf("%w: scaling frame for level %d: %v", ErrInternal, level, err)
		}
		width, height = newWidth, newHeight

		held := s.scaledFrames[level]
		if held == nil {
			s.scaledFrames[level] = scaled
			break
		}

		if err := downsample.AverageFrames(dtype, held, scaled); err != nil {
			return fmt.Errorf("%w: averaging frames for level %d: %v", ErrInternal, level, err)
		}
		n, err := s.writers[level].WriteFrame(held)
		if err != nil {
			return fmt.Errorf("%w: failed to write frame to level %d: %v", ErrIO, level, err)
		}
		if n != len(held) {
			return fmt.Errorf("%w: level %d accepted %d of %d bytes",
				ErrShortWrite, level, n, len(held))
		}
		s.scaledFrames[level] = nil

		data = scaled
	}
	return nil
}

// Err returns the latched error, if any.
func (s *Stream) Err() error {
	if errPtr := s.errCell.Load(); errPtr != nil {
		return *errPtr
	}
	return nil
}

// Digest returns the BLAKE3 digest of every byte consumed so far.
// Acquisition tools log it alongside the store for later integrity
// checks.
func (s *Stream) Digest() []byte {
	return s.digest.Sum(nil)
}

// Finalize rewrites the group metadata, flushes partial chunks,
// writes per-array metadata, and releases every resource. It returns
// the latched error if the stream failed earlier, otherwise the
// first error encountered while finalizing.
func (s *Stream) Finalize() error {
	if s.finalized {
		return nil
	}
	s.finalized = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(s.writeGroupMetadata())

	for name, metaSink := range s.metadataSinks {
		if err := sink.Finalize(metaSink); err != nil {
			record(fmt.Errorf("%w: finalizing metadata sink %q: %v", ErrIO, name, err))
		}
	}
	s.metadataSinks = nil

	for _, w := range s.writers {
		if err := w.Finalize(); err != nil {
			record(fmt.Errorf("%w: finalizing array %d: %v", ErrIO, w.LevelOfDetail(), err))
		}
	}

	s.pool.AwaitStop()
	if s.s3 != nil {
		s.s3.Close()
	}
	s.frameBuffer = nil
	s.scaledFrames = nil

	if err := s.Err(); err != nil {
		return err
	}
	return firstErr
}

func (s *Stream) setError(err error) {
	if s.errCell.CompareAndSwap(nil, &err) {
		s.logger.Error("stream error latched", "error", err)
	}
}

// createStore prepares the destination: for S3 it opens the
// connection pool (probing the bucket); for the filesystem it
// removes any existing store tree and recreates the root.
func (s *Stream) createStore() error {
	if s.settings.S3 != nil {
		pool, err := s3pool.Open(context.Background(), s3pool.Config{
			Endpoint:        s.settings.S3.Endpoint,
			Bucket:          s.settings.S3.BucketName,
			Region:          s.settings.S3.Region,
			AccessKeyID:     s.settings.S3.AccessKeyID,
			SecretAccessKey: s.settings.S3.SecretAccessKey,
			Logger:          s.logger,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		s.s3 = pool
		return nil
	}

	if _, err := os.Stat(s.storePath); err == nil {
		if err := os.RemoveAll(s.storePath); err != nil {
			return fmt.Errorf("%w: removing existing store path %q: %v", ErrIO, s.storePath, err)
		}
	}
	if err := os.MkdirAll(s.storePath, 0o755); err != nil {
		return fmt.Errorf("%w: creating store path %q: %v", ErrIO, s.storePath, err)
	}
	return nil
}

// createWriters builds the full-resolution writer and, with
// multiscale enabled, one writer per derivable pyramid level.
func (s *Stream) createWriters() error {
	var params *compression.Params
	if s.settings.Compression != nil {
		params = &compression.Params{
			Codec:   s.settings.Compression.Codec,
			Level:   s.settings.Compression.Level,
			Shuffle: s.settings.Compression.Shuffle,
		}
	}

	cfg := writer.Config{
		Dimensions:  s.dims,
		Version:     s.settings.Version,
		StorePath:   s.storePath,
		Compression: params,
		Pool:        s.pool,
		S3:          s.s3,
		Logger:      s.logger,
	}

	w, err := writer.New(cfg)
	if err != nil {
		return fmt.Errorf("%w: creating writer: %v", ErrInvalidArgument, err)
	}
	s.writers = []*writer.Writer{w}

	if !s.settings.Multiscale {
		return nil
	}
	for {
		next, ok := writer.Downsample(cfg)
		if !ok {
			return nil
		}
		w, err := writer.New(next)
		if err != nil {
			return fmt.Errorf("%w: creating writer for level %d: %v",
				ErrInvalidArgument, next.LevelOfDetail, err)
		}
		s.writers = append(s.writers, w)
		cfg = next
	}
}

// newMetadataSink opens the sink for one metadata key below the
// store root.
func (s *Stream) newMetadataSink(key string) (sink.Sink, error) {
	sinkPath := path.Join(s.storePath, key)
	if s.s3 != nil {
		return sink.NewS3Sink(context.Background(), s.s3, sinkPath)
	}
	return sink.NewFileSink(sinkPath)
}

// createMetadataSinks opens the store-level metadata sinks for the
// configured revision.
func (s *Stream) createMetadataSinks() error {
	keys := []string{".zattrs", ".zgroup"}
	if s.settings.Version == 3 {
		keys = []string{"zarr.json"}
	}
	for _, key := range keys {
		metaSink, err := s.newMetadataSink(key)
		if err != nil {
			return fmt.Errorf("%w: creating metadata sink %q: %v", ErrIO, key, err)
		}
		s.metadataSinks[key] = metaSink
	}
	return nil
}
