// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package errs defines the error kinds named in spec §7: parse, io,
// checkpoint, and resource errors. Each wraps an underlying cause and
// is distinguishable with errors.As so cmd/taxassign can map it to the
// matching sysexits code.
package errs

import "fmt"

// ParseError covers malformed FASTA headers, unknown base characters,
// and taxonomy regex misses.
type ParseError struct {
	Context string
	Err     error
}

func (e *ParseError) Error() string { return fmt.Sprintf("%s: %v", e.Context, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// IOError covers missing input files and output directories already
// populated without --redo.
type IOError struct {
	Context string
	Err     error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s: %v", e.Context, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// CheckpointError covers corrupt checkpoint JSON or a fingerprint
// mismatch; these are recoverable by starting fresh.
type CheckpointError struct {
	Context string
	Err     error
}

func (e *CheckpointError) Error() string { return fmt.Sprintf("%s: %v", e.Context, e.Err) }
func (e *CheckpointError) Unwrap() error { return e.Err }

// ResourceError covers failed thread-pool or pinning setup.
type ResourceError struct {
	Context string
	Err     error
}

func (e *ResourceError) Error() string { return fmt.Sprintf("%s: %v", e.Context, e.Err) }
func (e *ResourceError) Unwrap() error { return e.Err }
