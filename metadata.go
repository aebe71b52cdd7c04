// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zarrstream

import (
	"encoding/json"
	"fmt"
	"math"
)

// OME multiscales metadata, shared by both revisions: v2 embeds it
// in .zattrs, v3 under the group's attributes.ome with a version
// wrapper.

type omeAxis struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Unit string `json:"unit,omitempty"`
}

type coordinateTransformation struct {
	Type  string    `json:"type"`
	Scale []float64 `json:"scale"`
}

type omeDataset struct {
	Path                      string                     `json:"path"`
	CoordinateTransformations []coordinateTransformation `json:"coordinateTransformations"`
}

type downscaleMetadata struct {
	Description string         `json:"description"`
	Method      string         `json:"method"`
	Version     string         `json:"version"`
	Args        string         `json:"args"`
	KWArgs      map[string]int `json:"kwargs"`
}

type omeMultiscale struct {
	Axes     []omeAxis          `json:"axes"`
	Datasets []omeDataset       `json:"datasets"`
	Type     string             `json:"type,omitempty"`
	Metadata *downscaleMetadata `json:"metadata,omitempty"`
	Version  string             `json:"version,omitempty"`
	Name     string             `json:"name,omitempty"`
}

type omeDocument struct {
	Version     string          `json:"version"`
	Name        string          `json:"name"`
	Multiscales []omeMultiscale `json:"multiscales"`
}

// makeOMEMetadata builds the multiscales descriptor: one dataset per
// pyramid level, with scale vectors of 2^L along the append and
// spatial axes and 1 elsewhere.
func (s *Stream) makeOMEMetadata() omeMultiscale {
	n := s.dims.NDims()

	multiscale := omeMultiscale{}
	for i := 0; i < n; i++ {
		dim := s.dims.At(i)
		axis := omeAxis{Name: dim.Name, Type: dim.Type.String()}
		if i >= n-2 {
			axis.Unit = "micrometer"
		}
		multiscale.Axes = append(multiscale.Axes, axis)
	}

	level0 := make([]float64, n)
	for i := range level0 {
		level0[i] = 1.0
	}
	multiscale.Datasets = []omeDataset{{
		Path: "0",
		CoordinateTransformations: []coordinateTransformation{
			{Type: "scale", Scale: level0},
		},
	}}

	for level := 1; level < len(s.writers); level++ {
		factor := math.Pow(2, float64(level))
		scale := make([]float64, 0, n)
		scale = append(scale, factor) // append dimension
		for k := 0; k < n-3; k++ {
			scale = append(scale, 1.0)
		}
		scale = append(scale, factor, factor) // y, x

		multiscale.Datasets = append(multiscale.Datasets, omeDataset{
			Path: fmt.Sprintf("%d", level),
			CoordinateTransformations: []coordinateTransformation{
				{Type: "scale", Scale: scale},
			},
		})
	}

	if len(s.writers) > 1 {
		multiscale.Type = "local_mean"
		multiscale.Metadata = &downscaleMetadata{
			Description: "The fields in the metadata describe how to reproduce this " +
				"multiscaling in scikit-image. The method and its parameters are given here.",
			Method:  "skimage.transform.downscale_local_mean",
			Version: "0.21.0",
			Args:    "[2]",
			KWArgs:  map[string]int{"cval": 0},
		}
	}
	return multiscale
}

// writeMetadataDocument serializes a document and writes it to the
// named metadata sink at offset zero.
func (s *Stream) writeMetadataDocument(key string, document any) error {
	metaSink, ok := s.metadataSinks[key]
	if !ok || metaSink == nil {
		return fmt.Errorf("%w: metadata sink %q not found", ErrInternal, key)
	}

	data, err := json.MarshalIndent(document, "", "    ")
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", ErrInternal, key, err)
	}
	if err := metaSink.Write(0, data); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrIO, key, err)
	}
	return nil
}

// writeBaseMetadata emits the per-acquisition document: .zattrs with
// the multiscales list for v2, the protocol descriptor for v3.
func (s *Stream) writeBaseMetadata() error {
	if s.settings.Version == 2 {
		document := map[string]any{
			"multiscales": []omeMultiscale{s.v2Multiscale()},
		}
		return s.writeMetadataDocument(".zattrs", document)
	}

	document := map[string]any{
		"extensions":          []any{},
		"metadata_encoding":   "https://purl.org/zarr/spec/protocol/core/3.0",
		"metadata_key_suffix": ".json",
		"zarr_format":         "https://purl.org/zarr/spec/protocol/core/3.0",
	}
	return s.writeMetadataDocument("zarr.json", document)
}

// writeGroupMetadata emits the group node document: .zgroup for v2,
// the group zarr.json with OME attributes for v3. Called at stream
// creation and again at finalization, when the level count is
// settled.
func (s *Stream) writeGroupMetadata() error {
	if s.settings.Version == 2 {
		return s.writeMetadataDocument(".zgroup", map[string]any{"zarr_format": 2})
	}

	document := map[string]any{
		"zarr_format":           3,
		"node_type":             "group",
		"consolidated_metadata": nil,
		"attributes": map[string]any{
			"ome": omeDocument{
				Version:     "0.5",
				Name:        "/",
				Multiscales: []omeMultiscale{s.makeOMEMetadata()},
			},
		},
	}
	return s.writeMetadataDocument("zarr.json", document)
}

// v2Multiscale is the v2 flavor of the OME descriptor: the version
// and name ride on the multiscale entry itself.
func (s *Stream) v2Multiscale() omeMultiscale {
	multiscale := s.makeOMEMetadata()
	multiscale.Version = "0.4"
	multiscale.Name = "/"
	return multiscale
}
