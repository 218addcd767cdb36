// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package persist serializes and deserializes the opaque on-disk index
// form named in spec §4.6 and §6, and computes the (path, size, mtime)
// fingerprint that cmd/taxassign records in the checkpoint. Whether a
// rebuild is skipped depends only on a persisted index being present
// (see Exists); the fingerprint is not compared against the database.
package persist

import (
	"bufio"
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/golang/snappy"

	"github.com/kshedden/taxassign/internal/errs"
	"github.com/kshedden/taxassign/internal/refindex"
)

// Fingerprint identifies a file version without hashing its contents,
// the same tradeoff the teacher makes for its intermediate .sz files:
// cheap to compute, good enough to catch "the source changed since we
// last built."
type Fingerprint struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Modified int64  `json:"modified"`
}

// Stat computes path's fingerprint.
func Stat(path string) (Fingerprint, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Fingerprint{}, &errs.IOError{Context: "persist: resolving " + path, Err: err}
	}
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, &errs.IOError{Context: "persist: statting " + path, Err: err}
	}
	return Fingerprint{
		Path:     abs,
		Size:     info.Size(),
		Modified: info.ModTime().Unix(),
	}, nil
}

// init registers *refindex.Node with gob. refindex.Index is encoded
// directly: its Node tree has no cycles, and gob follows the *Node
// child lists natively.
func init() {
	gob.Register(&refindex.Node{})
}

// Save writes idx to path as gob, snappy-compressed, exactly as the
// teacher compresses its intermediate musc_*.sz files.
func Save(path string, idx *refindex.Index) error {
	f, err := os.Create(path)
	if err != nil {
		return &errs.IOError{Context: "persist: creating " + path, Err: err}
	}
	defer f.Close()

	sw := snappy.NewBufferedWriter(f)
	enc := gob.NewEncoder(sw)
	if err := enc.Encode(idx); err != nil {
		return &errs.IOError{Context: "persist: encoding index to " + path, Err: err}
	}
	if err := sw.Close(); err != nil {
		return &errs.IOError{Context: "persist: flushing " + path, Err: err}
	}
	return nil
}

// Load reads a previously Save-d index back from path.
func Load(path string) (*refindex.Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.IOError{Context: "persist: opening " + path, Err: err}
	}
	defer f.Close()

	sr := snappy.NewReader(bufio.NewReader(f))
	dec := gob.NewDecoder(sr)
	idx := new(refindex.Index)
	if err := dec.Decode(idx); err != nil {
		return nil, &errs.IOError{Context: "persist: decoding " + path, Err: err}
	}
	return idx, nil
}

// Exists reports whether path names a regular file, used to decide
// between "load the existing index" and "parse FASTA and build it."
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
