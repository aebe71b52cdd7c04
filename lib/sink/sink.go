// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sink abstracts the destination of written bytes: a
// filesystem file or an S3 object. Both variants expose the same
// offset-addressed writer contract; callers write monotonically and
// finalize the sink to make the bytes durable.
package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Sink is an offset-addressed byte writer. Implementations are not
// safe for concurrent use; each sink has exactly one writer.
type Sink interface {
	// Write stores p at the given byte offset.
	Write(offset int64, p []byte) error

	// Flush makes previously written bytes durable: fsync for files,
	// object upload for S3.
	Flush() error
}

// Finalize flushes and releases a sink. A nil sink is a no-op.
func Finalize(s Sink) error {
	if s == nil {
		return nil
	}
	if err := s.Flush(); err != nil {
		return err
	}
	if closer, ok := s.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// TrimFileScheme strips a leading "file://" from a path.
func TrimFileScheme(path string) string {
	return strings.TrimPrefix(path, "file://")
}

// FileSink writes to a regular file with positioned writes.
type FileSink struct {
	file *os.File
}

// NewFileSink opens (creating or truncating) the file at path,
// creating missing parent directories.
func NewFileSink(path string) (*FileSink, error) {
	path = TrimFileScheme(path)
	if path == "" {
		return nil, fmt.Errorf("file path must not be empty")
	}

	parent := filepath.Dir(path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %q: %w", parent, err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %q: %w", path, err)
	}
	return &FileSink{file: file}, nil
}

// Write performs a positioned write at offset.
func (s *FileSink) Write(offset int64, p []byte) error {
	if _, err := s.file.WriteAt(p, offset); err != nil {
		return fmt.Errorf("writing %d bytes at offset %d to %q: %w",
			len(p), offset, s.file.Name(), err)
	}
	return nil
}

// Flush syncs the file to the kernel.
func (s *FileSink) Flush() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("syncing %q: %w", s.file.Name(), err)
	}
	return nil
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	return s.file.Close()
}
