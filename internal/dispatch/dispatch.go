// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package dispatch is the parallel query dispatcher of spec §4.5: a
// worker pool computes per-query hit probabilities and lineage
// evaluations, and a single writer goroutine drains their results in
// arrival order onto the primary, TSV, binning, and progress outputs.
// The worker-pool-plus-semaphore-plus-single-writer shape follows the
// teacher's muscato_confirm searchpairs/rsltChan pattern directly.
package dispatch

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kshedden/taxassign/internal/checkpoint"
	"github.com/kshedden/taxassign/internal/hitprob"
	"github.com/kshedden/taxassign/internal/lineage"
	"github.com/kshedden/taxassign/internal/refindex"
	"github.com/kshedden/taxassign/internal/seqcode"
)

// Query is one label/sequence pair ready for classification.
type Query struct {
	Label string
	Seq   []byte
}

// Options carries the output-affecting and resource flags from
// config.Config that bear on dispatch.
type Options struct {
	SkipExactMatches bool
	RawConfidence    bool
	TSV              bool
	Binning          bool
	Threads          int
}

// Sink receives the three textual outputs dispatch produces. A nil
// field means that output is not requested; Run skips writing to it.
type Sink struct {
	Primary  *LineWriter
	TSV      *LineWriter
	Binning  *LineWriter
	Progress *checkpoint.Progress
}

// LineWriter appends one pre-formatted line at a time; cmd/taxassign
// wires this directly to an *os.File opened in append mode so resume
// can pick up where TruncateToCompleted left off.
type LineWriter struct {
	mu sync.Mutex
	w  interface{ WriteString(string) (int, error) }
}

// NewLineWriter wraps any WriteString-capable writer (bufio.Writer
// satisfies this).
func NewLineWriter(w interface{ WriteString(string) (int, error) }) *LineWriter {
	return &LineWriter{w: w}
}

func (l *LineWriter) writeLine(s string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.WriteString(s); err != nil {
		return err
	}
	_, err := l.w.WriteString("\n")
	return err
}

type result struct {
	label   string
	primary string
	tsv     string
	binning string
}

// ChunkSize implements spec §4.5's chunk-sizing rule: max(100,
// ceil(Q/(10*W))), collapsing to one chunk when there is a single
// worker.
func ChunkSize(numQueries, workers int) int {
	if workers <= 1 {
		if numQueries < 1 {
			return 1
		}
		return numQueries
	}
	size := (numQueries + 10*workers - 1) / (10 * workers)
	if size < 100 {
		size = 100
	}
	return size
}

// Run dispatches queries against idx using a worker pool sized by
// opts.Threads, skipping any label present in done (already completed
// in a prior, interrupted run), and writes results through sink in
// arrival order. It returns whether an exact-match lineage
// inconsistency was observed across the whole run.
func Run(idx *refindex.Index, queries []Query, opts Options, sink Sink, done map[string]bool, logger *log.Logger) (warned bool, err error) {
	workers := opts.Threads
	if workers < 1 {
		workers = 1
	}

	chunkSize := ChunkSize(len(queries), workers)
	chunks := splitChunks(queries, chunkSize)

	rsltChan := make(chan result, 5*workers)
	limit := make(chan struct{}, workers)
	var warnFlag int32
	var wg sync.WaitGroup
	var firstErr atomic.Value // stores error

	alldone := make(chan struct{})
	go func() {
		for r := range rsltChan {
			if err := sink.Primary.writeLine(r.primary); err != nil {
				logger.Printf("[ERROR] writing primary output: %v", err)
			}
			if opts.TSV && sink.TSV != nil {
				if err := sink.TSV.writeLine(r.tsv); err != nil {
					logger.Printf("[ERROR] writing TSV output: %v", err)
				}
			}
			if opts.Binning && sink.Binning != nil && r.binning != "" {
				if err := sink.Binning.writeLine(r.binning); err != nil {
					logger.Printf("[ERROR] writing binning output: %v", err)
				}
			}
			if sink.Progress != nil {
				if err := sink.Progress.Mark(r.label); err != nil {
					logger.Printf("[ERROR] writing progress for %s: %v", r.label, err)
				}
			}
		}
		close(alldone)
	}()

	for _, chunk := range chunks {
		limit <- struct{}{}
		wg.Add(1)
		go func(chunk []Query) {
			defer wg.Done()
			defer func() { <-limit }()
			buf := make([]int, idx.NumTips)
			for _, q := range chunk {
				if done[q.Label] {
					continue
				}
				r, e := classifyOne(idx, q, opts, buf, &warnFlag, logger)
				if e != nil {
					firstErr.CompareAndSwap(nil, e)
					continue
				}
				rsltChan <- r
			}
		}(chunk)
	}

	wg.Wait()
	close(rsltChan)
	<-alldone

	if v := firstErr.Load(); v != nil {
		return atomic.LoadInt32(&warnFlag) != 0, v.(error)
	}
	return atomic.LoadInt32(&warnFlag) != 0, nil
}

func splitChunks(queries []Query, size int) [][]Query {
	if size < 1 {
		size = 1
	}
	var chunks [][]Query
	for i := 0; i < len(queries); i += size {
		end := i + size
		if end > len(queries) {
			end = len(queries)
		}
		chunks = append(chunks, queries[i:end])
	}
	return chunks
}

// classifyOne runs the §4.5 per-query pipeline using buf as the
// worker's reusable intersection buffer (zeroed on entry and exit).
func classifyOne(idx *refindex.Index, q Query, opts Options, buf []int, warnFlag *int32, logger *log.Logger) (result, error) {
	for i := range buf {
		buf[i] = 0
	}
	defer func() {
		for i := range buf {
			buf[i] = 0
		}
	}()

	exactMatches := idx.Sequences[string(q.Seq)]

	keys := seqcode.ToKmers(q.Seq)
	for _, k := range keys {
		for _, r := range idx.KmerMap[k] {
			buf[r]++
		}
	}

	if opts.SkipExactMatches {
		for _, r := range exactMatches {
			buf[r] = 0
		}
	}

	// total is the query's own distinct-8-mer count, the single scalar
	// the pmf is evaluated against for every reference (spec §4.3; the
	// draws are query keys, not reference keys).
	p := hitprob.MaxProbabilities(len(keys), buf, len(keys)/2)

	rows, global := lineage.Evaluate(idx, p)

	if len(exactMatches) > 1 && lineagesDiverge(idx, exactMatches) {
		atomic.StoreInt32(warnFlag, 1)
		logger.Printf("[WARNING] query %s: exact matches with divergent lineages above the last rank", q.Label)
	}

	if !opts.RawConfidence && !opts.SkipExactMatches && len(exactMatches) == 1 && len(rows) > 0 {
		r := exactMatches[0]
		depth := len(strings.Split(idx.Lineages[r], ","))
		ones := make([]float64, depth)
		for i := range ones {
			ones[i] = 1.0
		}
		rows[0].Confidence = ones
	}

	var bestBin string
	var binScore float64
	var haveBin bool
	if opts.Binning {
		bestBin, binScore, haveBin = lineage.BestBin(idx, p)
	}

	primary := formatPrimary(q.Label, rows, global)

	var tsv string
	if opts.TSV {
		tsv = formatTSV(q.Label, rows, q.Seq)
	}

	var binning string
	if opts.Binning && haveBin {
		binning = fmt.Sprintf("%s\t%s\t%.2f", q.Label, bestBin, binScore)
	}

	return result{label: q.Label, primary: primary, tsv: tsv, binning: binning}, nil
}

// lineagesDiverge reports whether the given reference ids' lineages
// differ above the final (last-comma) rank.
func lineagesDiverge(idx *refindex.Index, refs []int) bool {
	if len(refs) < 2 {
		return false
	}
	trim := func(s string) string {
		i := strings.LastIndex(s, ",")
		if i < 0 {
			return ""
		}
		return s[:i]
	}
	want := trim(idx.Lineages[refs[0]])
	for _, r := range refs[1:] {
		if trim(idx.Lineages[r]) != want {
			return true
		}
	}
	return false
}

// formatPrimary renders one line per emitted row (spec §6: the
// primary output is one line per emitted lineage row), joined by "\n"
// so every candidate — not just the best — reaches the output file.
func formatPrimary(label string, rows []lineage.Row, global float64) string {
	if len(rows) == 0 {
		return fmt.Sprintf("%s\t\t\t0.00\t%.2f", label, global)
	}
	lines := make([]string, len(rows))
	for i, row := range rows {
		lines[i] = fmt.Sprintf("%s\t%s\t%s\t%.2f\t%.2f", label, row.Lineage, joinConfidence(row.Confidence), row.LocalSignal, row.GlobalSignal)
	}
	return strings.Join(lines, "\n")
}

func joinConfidence(conf []float64) string {
	parts := make([]string, len(conf))
	for i, c := range conf {
		parts[i] = strconv.FormatFloat(c, 'f', 2, 64)
	}
	return strings.Join(parts, ",")
}

// formatTSV mirrors formatPrimary: one line per emitted row.
func formatTSV(label string, rows []lineage.Row, rawSeq []byte) string {
	seq := string(seqcode.Decode(rawSeq))
	if len(rows) == 0 {
		return fmt.Sprintf("%s\t%s", label, seq)
	}

	lines := make([]string, len(rows))
	for ri, row := range rows {
		toks := strings.Split(row.Lineage, ",")

		var b strings.Builder
		b.WriteString(label)
		for i, tok := range toks {
			b.WriteByte('\t')
			b.WriteString(tok)
			b.WriteByte('\t')
			if i < len(row.Confidence) {
				b.WriteString(strconv.FormatFloat(row.Confidence[i], 'f', 2, 64))
			}
		}
		b.WriteByte('\t')
		b.WriteString(seq)
		lines[ri] = b.String()
	}
	return strings.Join(lines, "\n")
}
