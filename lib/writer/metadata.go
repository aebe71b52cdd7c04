// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package writer

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/bureau-foundation/zarrstream/lib/sink"
)

// writeArrayMetadata emits the per-array metadata document at
// finalization: .zarray for v2, zarr.json for v3.
func (w *Writer) writeArrayMetadata() error {
	var document any
	var key string
	if w.cfg.Version == 2 {
		document = w.v2ArrayMetadata()
		key = ".zarray"
	} else {
		document = w.v3ArrayMetadata()
		key = "zarr.json"
	}

	data, err := json.MarshalIndent(document, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	s, err := w.newSink(path.Join(w.levelPath(), key))
	if err != nil {
		return err
	}
	if err := s.Write(0, data); err != nil {
		return err
	}
	return sink.Finalize(s)
}
