// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bureau-foundation/zarrstream/lib/s3pool"
)

// MultipartThreshold is the buffered size above which an S3 upload
// switches from a single PUT to a multipart upload, bounding the
// part size the client holds in flight.
const MultipartThreshold = 16 << 20

// S3Sink accumulates bytes and uploads them as one object on Flush.
// The offset contract is linear append: writes normally land at the
// current end of the buffer. A write at an earlier offset truncates
// the buffer first, which is how metadata objects are rewritten.
type S3Sink struct {
	pool  *s3pool.Pool
	ctx   context.Context
	key   string
	buf   []byte
	dirty bool
}

// NewS3Sink creates a sink for the object key in the pool's bucket.
// The context bounds every upload issued by Flush.
func NewS3Sink(ctx context.Context, pool *s3pool.Pool, key string) (*S3Sink, error) {
	if key == "" {
		return nil, fmt.Errorf("object key must not be empty")
	}
	if pool == nil {
		return nil, fmt.Errorf("connection pool must not be nil")
	}
	return &S3Sink{pool: pool, ctx: ctx, key: key}, nil
}

// Write stores p at offset in the upload buffer.
func (s *S3Sink) Write(offset int64, p []byte) error {
	if offset < 0 {
		return fmt.Errorf("negative offset %d for object %q", offset, s.key)
	}
	if offset < int64(len(s.buf)) {
		s.buf = s.buf[:offset]
	}
	for int64(len(s.buf)) < offset {
		s.buf = append(s.buf, 0)
	}
	s.buf = append(s.buf, p...)
	s.dirty = true
	return nil
}

// Flush uploads the buffered bytes as a single object. Uploads above
// MultipartThreshold go out as a multipart upload. Flush is a no-op
// when nothing changed since the last upload.
func (s *S3Sink) Flush() error {
	if !s.dirty {
		return nil
	}

	conn := s.pool.Take(s.ctx)
	if conn == nil {
		return fmt.Errorf("uploading %q: %w", s.key, s.ctx.Err())
	}
	defer s.pool.Put(conn)

	err := conn.PutObject(s.ctx, s.key, bytes.NewReader(s.buf), int64(len(s.buf)), MultipartThreshold)
	if err != nil {
		return fmt.Errorf("uploading %q: %w", s.key, err)
	}
	s.dirty = false
	return nil
}
