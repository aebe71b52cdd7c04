// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package zarrstream

import "errors"

// Error kinds surfaced by the stream. The first failure latches on
// the stream: Append reports it through short byte counts, Finalize
// returns it. Match with errors.Is.
var (
	// ErrInvalidArgument indicates settings or input that failed
	// validation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIO indicates a sink write, flush, directory creation, or
	// upload failure.
	ErrIO = errors.New("i/o error")

	// ErrInternal indicates a violated invariant, such as a missing
	// metadata sink.
	ErrInternal = errors.New("internal error")

	// ErrWillNotOverwrite is returned by WriteCustomMetadata when
	// custom metadata exists and overwrite was not requested.
	ErrWillNotOverwrite = errors.New("will not overwrite")

	// ErrShortWrite indicates a writer consumed fewer bytes than a
	// full frame.
	ErrShortWrite = errors.New("short write")
)
