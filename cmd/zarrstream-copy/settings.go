// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	zarrstream "github.com/bureau-foundation/zarrstream"
	"github.com/bureau-foundation/zarrstream/lib/compression"
	"github.com/bureau-foundation/zarrstream/lib/dimension"
)

// settingsFile is the on-disk schema of a stream settings file.
// Enumerated fields use names, not codes, so files stay readable.
type settingsFile struct {
	Version     int                      `yaml:"version" json:"version"`
	StorePath   string                   `yaml:"store_path" json:"store_path"`
	DataType    string                   `yaml:"data_type" json:"data_type"`
	Multiscale  bool                     `yaml:"multiscale" json:"multiscale"`
	MaxThreads  int                      `yaml:"max_threads" json:"max_threads"`
	S3          *zarrstream.S3Settings   `yaml:"s3,omitempty" json:"s3,omitempty"`
	Compression *compressionSettingsFile `yaml:"compression,omitempty" json:"compression,omitempty"`
	Dimensions  []dimensionSettingsFile  `yaml:"dimensions" json:"dimensions"`
}

type compressionSettingsFile struct {
	Codec   string `yaml:"codec" json:"codec"`
	Level   int    `yaml:"level" json:"level"`
	Shuffle string `yaml:"shuffle,omitempty" json:"shuffle,omitempty"`
}

type dimensionSettingsFile struct {
	Name            string `yaml:"name" json:"name"`
	Type            string `yaml:"type" json:"type"`
	ArraySizePx     uint64 `yaml:"array_size_px" json:"array_size_px"`
	ChunkSizePx     uint64 `yaml:"chunk_size_px" json:"chunk_size_px"`
	ShardSizeChunks uint64 `yaml:"shard_size_chunks,omitempty" json:"shard_size_chunks,omitempty"`
}

// loadSettings reads a settings file. The extension selects the
// format: .json and .jsonc parse as JSON with comments, everything
// else as YAML.
func loadSettings(path string) (*zarrstream.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file settingsFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &file); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return file.toSettings()
}

func (f *settingsFile) toSettings() (*zarrstream.Settings, error) {
	dataType, err := dimension.ParseDataType(f.DataType)
	if err != nil {
		return nil, err
	}

	settings := &zarrstream.Settings{
		Version:    f.Version,
		StorePath:  f.StorePath,
		S3:         f.S3,
		DataType:   dataType,
		Multiscale: f.Multiscale,
		MaxThreads: f.MaxThreads,
	}

	if f.Compression != nil {
		codec, err := compression.ParseCodec(f.Compression.Codec)
		if err != nil {
			return nil, err
		}
		shuffle, err := compression.ParseShuffle(f.Compression.Shuffle)
		if err != nil {
			return nil, err
		}
		settings.Compression = &zarrstream.CompressionSettings{
			Codec:   codec,
			Level:   f.Compression.Level,
			Shuffle: shuffle,
		}
	}

	for _, dim := range f.Dimensions {
		dimType, err := dimension.ParseType(dim.Type)
		if err != nil {
			return nil, fmt.Errorf("dimension %q: %w", dim.Name, err)
		}
		settings.Dimensions = append(settings.Dimensions, dimension.Dimension{
			Name:            dim.Name,
			Type:            dimType,
			ArraySizePx:     dim.ArraySizePx,
			ChunkSizePx:     dim.ChunkSizePx,
			ShardSizeChunks: dim.ShardSizeChunks,
		})
	}
	return settings, nil
}
