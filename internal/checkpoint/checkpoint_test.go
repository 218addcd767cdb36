package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kshedden/taxassign/internal/errs"
	"github.com/kshedden/taxassign/internal/persist"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.checkpoint.json")

	cp := &Checkpoint{
		CheckpointFile:   path,
		ProgressFile:     filepath.Join(dir, "run.progress"),
		DBFingerprint:    persist.Fingerprint{Path: "/db/refs.fasta", Size: 1024, Modified: 1700000000},
		RawConfidence:    true,
		SkipExactMatches: false,
		TSV:              true,
	}
	if err := Save(path, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.DBFingerprint != cp.DBFingerprint {
		t.Fatalf("fingerprint mismatch: got %+v want %+v", got.DBFingerprint, cp.DBFingerprint)
	}
	if !got.OutputFlagsEqual(true, false, true) {
		t.Fatalf("expected output flags to match the saved run")
	}
	if got.OutputFlagsEqual(false, false, true) {
		t.Fatalf("expected output flags to differ when raw_confidence changes")
	}
}

func TestLoadMissingIsCheckpointError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err == nil {
		t.Fatalf("expected an error for a missing checkpoint file")
	}
	var ckErr *errs.CheckpointError
	if !errors.As(err, &ckErr) {
		t.Fatalf("expected a *errs.CheckpointError, got %T: %v", err, err)
	}
}

func TestProgressMarkAndReadDone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.progress")

	p, err := OpenProgress(path)
	if err != nil {
		t.Fatalf("OpenProgress: %v", err)
	}
	for _, label := range []string{"query1", "query2", "query3"} {
		if err := p.Mark(label); err != nil {
			t.Fatalf("Mark(%s): %v", label, err)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	done, err := ReadDone(path)
	if err != nil {
		t.Fatalf("ReadDone: %v", err)
	}
	for _, label := range []string{"query1", "query2", "query3"} {
		if !done[label] {
			t.Fatalf("expected %s to be marked done", label)
		}
	}
	if done["query4"] {
		t.Fatalf("query4 was never marked done")
	}
}

func TestReadDoneMissingFileIsEmptySet(t *testing.T) {
	done, err := ReadDone(filepath.Join(t.TempDir(), "absent.progress"))
	if err != nil {
		t.Fatalf("ReadDone: %v", err)
	}
	if len(done) != 0 {
		t.Fatalf("expected an empty set, got %v", done)
	}
}

func TestTruncateToCompletedKeepsOnlyDoneLines(t *testing.T) {
	dir := t.TempDir()
	outFile := filepath.Join(dir, "results.out")
	content := "query1\tlineageA\nquery2\tlineageB\nquery3\tlineageC\n"
	if err := os.WriteFile(outFile, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	done := map[string]bool{"query1": true, "query3": true}
	if err := TruncateToCompleted(outFile, done); err != nil {
		t.Fatalf("TruncateToCompleted: %v", err)
	}

	got, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "query1\tlineageA\nquery3\tlineageC\n"
	if string(got) != want {
		t.Fatalf("got %q want %q", string(got), want)
	}
}

func TestTruncateToCompletedMissingFileIsNoop(t *testing.T) {
	if err := TruncateToCompleted(filepath.Join(t.TempDir(), "absent.out"), map[string]bool{}); err != nil {
		t.Fatalf("expected no error for a missing output file, got %v", err)
	}
}
