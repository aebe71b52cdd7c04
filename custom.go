// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zarrstream

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/zarrstream/lib/sink"
)

// customMetadataKey is the object the acquisition's own metadata
// lands in, next to the store metadata.
const customMetadataKey = "acquire.json"

// WriteCustomMetadata stores caller-provided JSON as acquire.json at
// the store root. The input may contain comments and trailing
// commas; it is normalized and pretty-printed before writing.
//
// The first call creates the object. Calling again without overwrite
// returns ErrWillNotOverwrite; with overwrite the object is
// replaced.
func (s *Stream) WriteCustomMetadata(customMetadata string, overwrite bool) error {
	if customMetadata == "" {
		return fmt.Errorf("%w: custom metadata is empty", ErrInvalidArgument)
	}

	var parsed any
	if err := json.Unmarshal(jsonc.ToJSON([]byte(customMetadata)), &parsed); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrInvalidArgument, err)
	}

	if existing, ok := s.metadataSinks[customMetadataKey]; ok {
		if !overwrite {
			return fmt.Errorf("%w: custom metadata already written", ErrWillNotOverwrite)
		}
		// Release the old object and reopen it empty, so a shorter
		// document leaves none of the earlier bytes behind.
		delete(s.metadataSinks, customMetadataKey)
		if err := sink.Finalize(existing); err != nil {
			return fmt.Errorf("%w: releasing metadata sink %q: %v", ErrIO, customMetadataKey, err)
		}
	}
	metaSink, err := s.newMetadataSink(customMetadataKey)
	if err != nil {
		return fmt.Errorf("%w: creating metadata sink %q: %v", ErrIO, customMetadataKey, err)
	}
	s.metadataSinks[customMetadataKey] = metaSink
	if metaSink == nil {
		return fmt.Errorf("%w: metadata sink %q not found", ErrInternal, customMetadataKey)
	}

	data, err := json.MarshalIndent(parsed, "", "    ")
	if err != nil {
		return fmt.Errorf("%w: encoding custom metadata: %v", ErrInternal, err)
	}
	if err := metaSink.Write(0, data); err != nil {
		return fmt.Errorf("%w: writing custom metadata: %v", ErrIO, err)
	}
	return nil
}
