// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/zarrstream/lib/dimension"
	"github.com/bureau-foundation/zarrstream/lib/threadpool"
)

// PartsFunc returns the number of parts (chunks or shards) a data
// file covers along one dimension. The v2 writer counts chunks, the
// v3 writer counts shards.
type PartsFunc func(dimension.Dimension) uint64

// ConstructDataPaths enumerates the data object paths below base for
// one append chunk row, in row-major order over the non-append
// dimensions. base already carries the append-dimension component.
func ConstructDataPaths(base string, dims *dimension.ArrayDimensions, parts PartsFunc) []string {
	paths := []string{base}

	// Intermediate components: every dimension between the append
	// dimension and the final (width) dimension.
	for i := 1; i < dims.NDims()-1; i++ {
		n := parts(dims.At(i))
		next := make([]string, 0, len(paths)*int(n))
		for _, path := range paths {
			for k := uint64(0); k < n; k++ {
				if path == "" {
					next = append(next, fmt.Sprintf("%d", k))
				} else {
					next = append(next, fmt.Sprintf("%s/%d", path, k))
				}
			}
		}
		paths = next
	}

	// Final component: the width dimension.
	n := parts(dims.WidthDim())
	out := make([]string, 0, len(paths)*int(n))
	for _, path := range paths {
		for j := uint64(0); j < n; j++ {
			out = append(out, fmt.Sprintf("%s/%d", path, j))
		}
	}
	return out
}

// ParentPaths returns the unique parent directories of the given
// file paths.
func ParentPaths(filePaths []string) []string {
	seen := make(map[string]struct{}, len(filePaths))
	var out []string
	for _, path := range filePaths {
		parent := filepath.Dir(path)
		if _, ok := seen[parent]; ok {
			continue
		}
		seen[parent] = struct{}{}
		out = append(out, parent)
	}
	return out
}

// MakeDirs creates the given directories in parallel on the thread
// pool and waits for completion. Returns the first error observed.
func MakeDirs(paths []string, pool *threadpool.Pool) error {
	if len(paths) == 0 {
		return nil
	}

	var firstErr atomic.Pointer[error]
	var wg sync.WaitGroup
	for _, path := range paths {
		path := path
		wg.Add(1)
		ok := pool.Submit(func() error {
			defer wg.Done()
			if err := os.MkdirAll(path, 0o755); err != nil {
				wrapped := fmt.Errorf("creating directory %q: %w", path, err)
				firstErr.CompareAndSwap(nil, &wrapped)
				return wrapped
			}
			return nil
		})
		if !ok {
			wg.Done()
			return fmt.Errorf("thread pool stopped while creating directories")
		}
	}
	wg.Wait()

	if errPtr := firstErr.Load(); errPtr != nil {
		return *errPtr
	}
	return nil
}
