// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package lineage walks the reference index's trie with a normalized
// hit-probability vector for one query, rolling reference-level mass
// up the taxonomy and emitting ranked candidate lineages with
// per-rank confidence and whole-query signal scores (spec §4.4).
package lineage

import (
	"math"
	"sort"

	"github.com/kshedden/taxassign/internal/refindex"
)

// Precision is the fixed display precision (F=100, 2 decimals) used
// to round masses and detect pruned children.
const Precision = 100.0

// Row is one emitted candidate lineage.
type Row struct {
	Lineage      string
	RefID        int
	Confidence   []float64
	LocalSignal  float64
	GlobalSignal float64
}

// prefixSum is a once-per-query O(1) mass lookup: prefixSum[i] is the
// cumulative probability mass of references [0, i).
type prefixSum struct {
	sums []float64
}

func newPrefixSum(p []float64) *prefixSum {
	sums := make([]float64, len(p)+1)
	for i, v := range p {
		sums[i+1] = sums[i] + v
	}
	return &prefixSum{sums: sums}
}

func (ps *prefixSum) mass(r refindex.Range) float64 {
	return ps.sums[r.Hi] - ps.sums[r.Lo]
}

func round2(x float64) float64 {
	return math.Round(x*Precision) / Precision
}

// walker carries the per-query prefix sums, the tip count, the set of
// already-emitted reference ids and the emitted rows through the
// recursive walk; the running confidence/expected vectors are passed
// as arguments and copied at every level.
type walker struct {
	ps      *prefixSum
	numTips int
	seen    map[int]bool // refID -> emitted already, guards double-emission
	rows    []Row
}

// Evaluate walks idx's trie using the normalized hit-probability
// vector p (len == idx.NumTips) and returns the ranked candidate
// rows plus the query-level global signal.
func Evaluate(idx *refindex.Index, p []float64) ([]Row, float64) {
	ps := newPrefixSum(p)

	uniform := 1.0 / float64(idx.NumTips)
	var ss float64
	for _, v := range p {
		d := v - uniform
		ss += d * d
	}
	globalSignal := math.Sqrt(ss)

	w := &walker{ps: ps, numTips: idx.NumTips, seen: make(map[int]bool)}
	w.walk(idx.Root, nil, nil, nil)

	sortRows(w.rows)

	for i := range w.rows {
		w.rows[i].GlobalSignal = globalSignal
	}

	return w.rows, globalSignal
}

// walk descends node, appending (confidence, expected) pairs onto the
// path accumulated so far, and a running lineage label trail. It
// returns whether it (or a descendant) emitted a row for node's
// subtree.
func (w *walker) walk(node *refindex.Node, conf, exp []float64, trail []string) bool {
	if node.Type == refindex.Sequence {
		return false
	}

	if len(node.Label) > 0 {
		trail = append(trail, node.Label)
	}

	branches, hasOwnSeq := splitChildren(node.Children)

	if len(branches) == 0 {
		// A plain leaf: node's only children (if any) are Sequence
		// stubs, so node itself is the terminal emission point.
		w.emit(node, conf, exp, trail)
		return true
	}

	anySurvived := false
	anyEmitted := false

	for _, child := range branches {
		mass := round2(w.ps.mass(child.Range))
		if mass == 0 {
			continue
		}
		anySurvived = true

		childConf := append(append([]float64{}, conf...), mass)
		childExp := append(append([]float64{}, exp...), float64(child.Range.Len())/float64(w.numTips))

		if w.walk(child, childConf, childExp, trail) {
			anyEmitted = true
		}
	}

	if !anySurvived {
		w.forceCollapse(node, conf, exp, trail)
		return true
	}

	// Variable-depth lineages (spec §4.4, §9): a Taxon may carry both
	// its own terminal row (a Sequence stub directly beneath it) and
	// deeper branches continuing longer sibling lineages. Emit its own
	// row too when that direct stub exists.
	if node.Type == refindex.Taxon && hasOwnSeq {
		w.emit(node, conf, exp, trail)
		anyEmitted = true
	}

	return anyEmitted
}

// splitChildren partitions a node's children into non-Sequence
// branches (Inner/Taxon) and reports whether a direct Sequence stub
// is also present.
func splitChildren(children []*refindex.Node) (branches []*refindex.Node, hasOwnSeq bool) {
	for _, c := range children {
		if c.Type == refindex.Sequence {
			hasOwnSeq = true
			continue
		}
		branches = append(branches, c)
	}
	return branches, hasOwnSeq
}

// forceCollapse implements spec §4.4's "no child significant" branch:
// descend along the maximum-mass child at each inner level, appending
// 1/F as a visible non-zero placeholder for each skipped level, until
// a node with no non-Sequence children is reached, and emit that
// node's row.
func (w *walker) forceCollapse(node *refindex.Node, conf, exp []float64, trail []string) {
	cur := node
	curConf := conf
	curExp := exp
	curTrail := trail

	for {
		var best *refindex.Node
		var bestMass float64
		for _, c := range cur.Children {
			if c.Type == refindex.Sequence {
				continue
			}
			m := w.ps.mass(c.Range)
			// Ties favor the later (higher-range) child.
			if best == nil || m >= bestMass {
				best = c
				bestMass = m
			}
		}
		if best == nil {
			break
		}
		curConf = append(append([]float64{}, curConf...), 1.0/Precision)
		curExp = append(append([]float64{}, curExp...), float64(best.Range.Len())/float64(w.numTips))
		if len(best.Label) > 0 {
			curTrail = append(curTrail, best.Label)
		}
		cur = best
	}

	w.emit(cur, curConf, curExp, curTrail)
}

// refIDOf returns the reference id the node's (or its subtree's
// leftmost) row carries.
func refIDOf(node *refindex.Node) int {
	return node.Range.Lo
}

func (w *walker) emit(node *refindex.Node, conf, exp []float64, trail []string) {
	refID := refIDOf(node)
	if w.seen[refID] {
		return
	}
	w.seen[refID] = true

	full := make([]string, len(trail))
	copy(full, trail)

	w.rows = append(w.rows, Row{
		Lineage:     joinLineage(full),
		RefID:       refID,
		Confidence:  conf,
		LocalSignal: localSignal(conf, exp),
	})
}

func joinLineage(trail []string) string {
	out := ""
	for i, t := range trail {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}

// localSignal finds the first index k at which exp[k] < 1 (the first
// level the taxonomy actually branches), then returns the L2 distance
// between the individually-L1-normalized tails of conf and exp from k
// onward. Rows whose expected vector is all-1 (single-lineage
// database) use local_signal = 0.
func localSignal(conf, exp []float64) float64 {
	k := -1
	for i, e := range exp {
		if e < 1 {
			k = i
			break
		}
	}
	if k == -1 {
		return 0
	}

	cTail := l1Normalize(conf[k:])
	eTail := l1Normalize(exp[k:])

	var ss float64
	for i := range cTail {
		d := cTail[i] - eTail[i]
		ss += d * d
	}
	return math.Sqrt(ss)
}

// l1Normalize returns a copy of v scaled to sum to 1, or an untouched
// copy if v sums to 0.
func l1Normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	out := make([]float64, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = x / sum
	}
	return out
}

// BestBin aggregates p by each reference's bin id (spec §4.4's
// binning report, orthogonal to the taxonomy) and returns the bin
// with maximal aggregated mass. ok is false when idx carries no bin
// annotations at all.
func BestBin(idx *refindex.Index, p []float64) (bin string, score float64, ok bool) {
	mass := make(map[string]float64)
	anyBin := false
	for refID, b := range idx.BinIDs {
		if b == "" {
			continue
		}
		anyBin = true
		mass[b] += p[refID]
	}
	if !anyBin {
		return "", 0, false
	}

	for b, m := range mass {
		if !ok || m > score {
			bin, score, ok = b, m, true
		}
	}
	return bin, score, ok
}

func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Confidence, rows[j].Confidence
		n := len(a)
		if len(b) < n {
			n = len(b)
		}
		for k := 0; k < n; k++ {
			if a[k] != b[k] {
				return a[k] > b[k]
			}
		}
		return len(a) > len(b)
	})
}
