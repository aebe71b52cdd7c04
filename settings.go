// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zarrstream

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/zarrstream/lib/compression"
	"github.com/bureau-foundation/zarrstream/lib/dimension"
)

// S3Settings selects an S3-compatible object store as the backend.
type S3Settings struct {
	// Endpoint is the service endpoint, with or without a scheme.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// BucketName is the destination bucket; it must already exist.
	BucketName string `yaml:"bucket_name" json:"bucket_name"`

	// Region is optional; many S3-compatible stores ignore it.
	Region string `yaml:"region,omitempty" json:"region,omitempty"`

	// AccessKeyID and SecretAccessKey override the AWS credential
	// environment variables when set.
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// CompressionSettings selects the chunk codec.
type CompressionSettings struct {
	// Codec names the block compressor: "lz4" or "zstd".
	Codec compression.Codec

	// Level is the compression level, 0 through 9.
	Level int

	// Shuffle selects the pre-compression transform.
	Shuffle compression.Shuffle
}

// Settings configures a stream. StorePath, DataType, and Dimensions
// are required.
type Settings struct {
	// Version is the store revision, 2 or 3.
	Version int

	// StorePath is the dataset root: a filesystem directory (whose
	// parent must exist and be writable), or the object key prefix
	// when S3 is set. A "file://" prefix is accepted and stripped.
	StorePath string

	// S3, when non-nil, selects the object store backend.
	S3 *S3Settings

	// Compression, when non-nil, compresses every chunk. All pyramid
	// levels share it.
	Compression *CompressionSettings

	// DataType is the element type of the arrays.
	DataType dimension.DataType

	// Dimensions is the axis list: append dimension first, height
	// and width last. At least three entries.
	Dimensions []dimension.Dimension

	// Multiscale enables the on-the-fly downsampling pyramid.
	Multiscale bool

	// MaxThreads bounds the worker pool. Zero means hardware
	// parallelism.
	MaxThreads int

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// validate checks the settings the way the stream constructor needs
// them checked; every failure wraps ErrInvalidArgument.
func (s *Settings) validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
	}

	if s.Version != 2 && s.Version != 3 {
		return fail("invalid store version: %d", s.Version)
	}

	storePath := strings.TrimSpace(strings.TrimPrefix(s.StorePath, "file://"))
	if storePath == "" {
		return fail("store path is empty")
	}

	if s.S3 != nil {
		if strings.TrimSpace(s.S3.Endpoint) == "" {
			return fail("S3 endpoint is empty")
		}
		bucket := strings.TrimSpace(s.S3.BucketName)
		if len(bucket) < 3 || len(bucket) > 63 {
			return fail("invalid length for S3 bucket name: %d. Must be between 3 and 63 characters", len(bucket))
		}
	} else if err := validateFilesystemStorePath(storePath); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	if s.DataType.Size() == 0 {
		return fail("invalid data type: %d", s.DataType)
	}

	if s.Compression != nil {
		if s.Compression.Codec == compression.CodecNone {
			return fail("compression codec must be set when compressing")
		}
		params := compression.Params{
			Codec:   s.Compression.Codec,
			Level:   s.Compression.Level,
			Shuffle: s.Compression.Shuffle,
		}
		if err := params.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
	}

	if len(s.Dimensions) < 3 {
		return fail("invalid number of dimensions: %d. Must be at least 3", len(s.Dimensions))
	}
	for i, dim := range s.Dimensions {
		if strings.TrimSpace(dim.Name) == "" {
			return fail("dimension %d: name is empty", i)
		}
		if s.Version == 3 && dim.ShardSizeChunks == 0 {
			return fail("dimension %q: shard size must be nonzero", dim.Name)
		}
	}
	if _, err := dimension.New(s.Dimensions, s.DataType); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	return nil
}

// validateFilesystemStorePath requires the parent of the store path
// to exist, be a directory, and be writable.
func validateFilesystemStorePath(storePath string) error {
	parent := filepath.Dir(storePath)
	if parent == "" {
		parent = "."
	}

	info, err := os.Stat(parent)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("parent path %q does not exist or is not a directory", parent)
	}
	if err := unix.Access(parent, unix.W_OK); err != nil {
		return fmt.Errorf("parent path %q is not writable", parent)
	}
	return nil
}
