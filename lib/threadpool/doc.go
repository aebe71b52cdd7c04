// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package threadpool provides a fixed-size worker pool for fallible
// jobs. Jobs are queued FIFO and executed on a bounded set of
// goroutines. A job that returns an error does not cancel its
// siblings; the error is delivered to the error sink supplied at
// construction, and the pool keeps draining the queue.
//
// The pool exists to bound the parallelism of chunk compression and
// sink I/O during bulk writes. The owning stream passes an error sink
// that latches the first failure so subsequent appends fail fast.
package threadpool
