// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package checkpoint implements the resume protocol of spec §4.6: a
// JSON checkpoint naming the db fingerprint and the output-affecting
// flags, paired with an append-only progress file listing completed
// query labels one per line.
package checkpoint

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/kshedden/taxassign/internal/errs"
	"github.com/kshedden/taxassign/internal/persist"
)

// Checkpoint is the canonical field set named in spec §6.
type Checkpoint struct {
	CheckpointFile   string              `json:"checkpoint_file"`
	ProgressFile     string              `json:"progress_file"`
	DBFingerprint    persist.Fingerprint `json:"db_fingerprint"`
	RawConfidence    bool                `json:"raw_confidence"`
	SkipExactMatches bool                `json:"skip_exact_matches"`
	TSV              bool                `json:"tsv"`
}

// OutputFlagsEqual reports whether the three output-affecting flags
// match the current run's, the precondition for resuming per spec
// §4.6 step 1.
func (c *Checkpoint) OutputFlagsEqual(rawConfidence, skipExactMatches, tsv bool) bool {
	return c.RawConfidence == rawConfidence && c.SkipExactMatches == skipExactMatches && c.TSV == tsv
}

// Load reads a checkpoint from path. A missing file is reported as an
// error distinguishable by errors.As(*errs.CheckpointError) so callers
// can treat it as "start fresh."
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &errs.CheckpointError{Context: "checkpoint: reading " + path, Err: err}
	}
	cp := new(Checkpoint)
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, &errs.CheckpointError{Context: "checkpoint: parsing " + path, Err: err}
	}
	return cp, nil
}

// Save writes cp to path atomically: encode to a sibling temp file,
// fsync, then rename over the final path, per spec §4.6's atomicity
// requirement.
func Save(path string, cp *Checkpoint) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return &errs.CheckpointError{Context: "checkpoint: creating temp file in " + dir, Err: err}
	}
	tmpName := tmp.Name()

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(cp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &errs.CheckpointError{Context: "checkpoint: encoding to " + tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &errs.CheckpointError{Context: "checkpoint: syncing " + tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &errs.CheckpointError{Context: "checkpoint: closing " + tmpName, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &errs.CheckpointError{Context: "checkpoint: renaming to " + path, Err: err}
	}
	return nil
}

// Remove deletes a checkpoint file, ignoring "not found".
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return &errs.IOError{Context: "checkpoint: removing " + path, Err: err}
	}
	return nil
}

// Progress is the append-only progress file: one completed query
// label per line.
type Progress struct {
	path string
	f    *os.File
	w    *bufio.Writer
}

// OpenProgress opens path for appending, creating it if absent.
func OpenProgress(path string) (*Progress, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &errs.IOError{Context: "checkpoint: opening progress file " + path, Err: err}
	}
	return &Progress{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Mark appends label as completed and flushes immediately: the
// progress file must reflect every write before the process can be
// safely interrupted.
func (p *Progress) Mark(label string) error {
	if _, err := p.w.WriteString(label); err != nil {
		return &errs.IOError{Context: "checkpoint: writing progress for " + label, Err: err}
	}
	if err := p.w.WriteByte('\n'); err != nil {
		return &errs.IOError{Context: "checkpoint: writing progress for " + label, Err: err}
	}
	if err := p.w.Flush(); err != nil {
		return &errs.IOError{Context: "checkpoint: flushing progress file " + p.path, Err: err}
	}
	return p.f.Sync()
}

func (p *Progress) Close() error {
	return p.f.Close()
}

// ReadDone reads an existing progress file into the set of completed
// query labels. A missing file yields an empty set, not an error.
func ReadDone(path string) (map[string]bool, error) {
	done := make(map[string]bool)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return done, nil
		}
		return nil, &errs.IOError{Context: "checkpoint: opening progress file " + path, Err: err}
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		done[line] = true
	}
	if err := sc.Err(); err != nil {
		return nil, &errs.IOError{Context: "checkpoint: scanning progress file " + path, Err: err}
	}
	return done, nil
}

// TruncateToCompleted rewrites outFile in place, keeping only lines
// whose first tab-separated field names a query label present in
// done. Used to restore a primary or TSV output to a consistent state
// before resuming (spec §4.6 step 1).
func TruncateToCompleted(outFile string, done map[string]bool) error {
	f, err := os.Open(outFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &errs.IOError{Context: "checkpoint: opening output file " + outFile, Err: err}
	}

	dir := filepath.Dir(outFile)
	tmp, err := os.CreateTemp(dir, filepath.Base(outFile)+".tmp-*")
	if err != nil {
		f.Close()
		return &errs.IOError{Context: "checkpoint: creating temp file in " + dir, Err: err}
	}
	tmpName := tmp.Name()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	w := bufio.NewWriter(tmp)

	for sc.Scan() {
		line := sc.Text()
		label := line
		if i := indexTab(line); i >= 0 {
			label = line[:i]
		}
		if done[label] {
			w.WriteString(line)
			w.WriteByte('\n')
		}
	}
	scanErr := sc.Err()
	f.Close()

	flushErr := w.Flush()
	closeErr := tmp.Close()

	if scanErr != nil {
		os.Remove(tmpName)
		return &errs.IOError{Context: "checkpoint: scanning output file " + outFile, Err: scanErr}
	}
	if flushErr != nil {
		os.Remove(tmpName)
		return &errs.IOError{Context: "checkpoint: flushing " + tmpName, Err: flushErr}
	}
	if closeErr != nil {
		os.Remove(tmpName)
		return &errs.IOError{Context: "checkpoint: closing " + tmpName, Err: closeErr}
	}
	if err := os.Rename(tmpName, outFile); err != nil {
		os.Remove(tmpName)
		return &errs.IOError{Context: "checkpoint: renaming to " + outFile, Err: err}
	}
	return nil
}

func indexTab(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '\t' {
			return i
		}
	}
	return -1
}
