// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package fastaio reads reference and query FASTA files, transparently
// decompressing .gz/.gzip sources, per spec §6.  It is an external
// collaborator of the classification engine, reproduced here so the
// end-to-end pipeline is runnable.
package fastaio

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/kshedden/taxassign/internal/errs"
	"github.com/kshedden/taxassign/internal/seqcode"
)

// maxLineLen bounds a single FASTA sequence line, mirroring the
// teacher's scanner buffer sizing in muscato_prep_targets.
const maxLineLen = 1024 * 1024

var taxTag = regexp.MustCompile(`tax=([^;]+);`)
var binTag = regexp.MustCompile(`bin=([^;]+);`)

// Record is one parsed FASTA entry: a header label and its encoded
// sequence.
type Record struct {
	Label string
	Seq   []byte
}

// Open returns a reader for path, transparently gzip-decompressing
// when the extension is .gz or .gzip.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.IOError{Context: "fastaio: opening " + path, Err: err}
	}

	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".gz") || strings.HasSuffix(lower, ".gzip") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, &errs.IOError{Context: "fastaio: gzip header in " + path, Err: err}
		}
		return gzipCloser{gz: gz, f: f}, nil
	}
	return f, nil
}

type gzipCloser struct {
	gz *gzip.Reader
	f  *os.File
}

func (g gzipCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }
func (g gzipCloser) Close() error {
	g.gz.Close()
	return g.f.Close()
}

// ReadReferences parses a reference FASTA: each header must match
// tax=(...); whose capture group is the comma-separated lineage. A
// header with no matching tax tag is a fatal parse error. A header
// may additionally carry an optional bin=(...); tag, the orthogonal
// grouping label the binning report (spec §4.4) aggregates by; a
// header with no bin tag simply carries no bin annotation.
func ReadReferences(r io.Reader) ([]ReferenceRow, error) {
	var rows []ReferenceRow

	var curLineage string
	var curBinID string
	var curSeq []byte
	haveRecord := false

	flush := func() error {
		if !haveRecord {
			return nil
		}
		codes, err := seqcode.Encode(curSeq)
		if err != nil {
			return &errs.ParseError{Context: "fastaio: encoding reference sequence", Err: err}
		}
		rows = append(rows, ReferenceRow{Lineage: curLineage, BinID: curBinID, Seq: codes})
		return nil
	}

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxLineLen)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if line[0] == '>' {
			if err := flush(); err != nil {
				return nil, err
			}
			m := taxTag.FindStringSubmatch(line)
			if m == nil {
				return nil, &errs.ParseError{Context: "fastaio: reference header missing tax tag", Err: fmt.Errorf("%q", line)}
			}
			curLineage = m[1]
			curBinID = ""
			if bm := binTag.FindStringSubmatch(line); bm != nil {
				curBinID = bm[1]
			}
			curSeq = curSeq[:0]
			haveRecord = true
			continue
		}
		curSeq = append(curSeq, []byte(line)...)
	}
	if err := scanner.Err(); err != nil {
		return nil, &errs.ParseError{Context: "fastaio: scanning reference FASTA", Err: err}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return rows, nil
}

// ReferenceRow is one parsed, encoded reference row prior to index
// construction. BinID is empty when the header carries no bin tag.
type ReferenceRow struct {
	Lineage string
	BinID   string
	Seq     []byte
}

// ReadQueries parses a query FASTA: the entire header text after '>'
// is the query label.
func ReadQueries(r io.Reader) ([]Record, error) {
	var recs []Record

	var curLabel string
	var curSeq []byte
	haveRecord := false

	flush := func() error {
		if !haveRecord {
			return nil
		}
		codes, err := seqcode.Encode(curSeq)
		if err != nil {
			return &errs.ParseError{Context: "fastaio: encoding query sequence for " + curLabel, Err: err}
		}
		recs = append(recs, Record{Label: curLabel, Seq: codes})
		return nil
	}

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxLineLen)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if line[0] == '>' {
			if err := flush(); err != nil {
				return nil, err
			}
			curLabel = line[1:]
			curSeq = curSeq[:0]
			haveRecord = true
			continue
		}
		curSeq = append(curSeq, []byte(line)...)
	}
	if err := scanner.Err(); err != nil {
		return nil, &errs.ParseError{Context: "fastaio: scanning query FASTA", Err: err}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return recs, nil
}
