// Copyright 2017, Kerby Shedden and the Muscato contributors.

package refindex

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/golang-collections/go-datastructures/bitarray"

	"github.com/kshedden/taxassign/internal/seqcode"
)

// NumKmerKeys is the size of the 8-mer key space (2^16).
const NumKmerKeys = 1 << 16

// Row is one input reference row: a lineage string and its encoded
// sequence, prior to sorting. BinID is an optional orthogonal
// grouping label used by the binning report (§4.4); empty when the
// database carries no bin annotations.
type Row struct {
	Lineage string
	Seq     []byte
	BinID   string
}

// Index is the reference-index tuple of spec §3.
type Index struct {
	// Lineages is ordered lexicographically; reference id is the
	// position in this slice.
	Lineages []string

	// Sequences maps the exact encoded byte sequence (as a string
	// key) to the set of reference ids sharing it.
	Sequences map[string][]int

	// KmerMap holds, for each of the 2^16 possible keys, the sorted
	// deduplicated reference ids whose sequence contains that 8-mer.
	KmerMap [NumKmerKeys][]int

	// Root of the lineage trie.
	Root *Node

	// NumTips is the count of reference ids (== leaves of the trie).
	NumTips int

	// BinIDs is the per-reference bin label, parallel to Lineages.
	// Empty entries mean that reference carries no bin annotation.
	BinIDs []string
}

// Build constructs an Index from an unsorted set of reference rows,
// following spec §4.2.
func Build(rows []Row) (*Index, error) {
	for i, r := range rows {
		if strings.TrimSpace(r.Lineage) == "" {
			return nil, fmt.Errorf("refindex: row %d has empty lineage", i)
		}
	}

	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Lineage < sorted[j].Lineage
	})

	idx := &Index{
		Lineages:  make([]string, len(sorted)),
		Sequences: make(map[string][]int),
		Root:      &Node{Type: Inner, Label: "", Range: Range{0, 0}},
		NumTips:   len(sorted),
		BinIDs:    make([]string, len(sorted)),
	}

	// accum[k] accumulates, per 8-mer key, the set of reference ids
	// that touch it, using a sparse bit array as an exact membership
	// accumulator (mirroring the teacher's use of bit arrays to back
	// Bloom sketches, here used exactly rather than probabilistically).
	var accum [NumKmerKeys]bitarray.BitArray

	for refID, row := range sorted {
		idx.Lineages[refID] = row.Lineage
		idx.BinIDs[refID] = row.BinID

		toks := strings.Split(row.Lineage, ",")
		cur := idx.Root

		// Sorted lexicographic order means a lineage always either
		// continues the most recently inserted sibling chain at each
		// depth, or starts a new branch there — no auxiliary map is
		// needed to find the right insertion point (spec §4.2 step 2).
		for depth, tok := range toks {
			tok = strings.TrimSpace(tok)
			last := cur.lastChild()
			if last != nil && last.Label == tok {
				cur = last
			} else {
				nodeType := Inner
				if depth == len(toks)-1 {
					nodeType = Taxon
				}
				child := &Node{Label: tok, Type: nodeType, Range: Range{refID, refID}}
				cur.Children = append(cur.Children, child)
				cur = child
			}
			cur.Range.Hi = refID + 1
		}

		// Append the Sequence stub carrying this reference row.
		stub := &Node{Type: Sequence, Label: tokLast(toks), Range: Range{refID, refID + 1}, RefID: refID}
		cur.Children = append(cur.Children, stub)

		// The root itself is never revisited by the loop above, so its
		// Hi bound is bubbled up here.
		idx.Root.Range.Hi = refID + 1

		key := string(row.Seq)
		idx.Sequences[key] = append(idx.Sequences[key], refID)

		for _, k := range seqcode.ToKmers(row.Seq) {
			if accum[k] == nil {
				accum[k] = bitarray.NewSparseBitArray()
			}
			if err := accum[k].SetBit(uint64(refID)); err != nil {
				return nil, fmt.Errorf("refindex: setting bit %d for key %d: %w", refID, k, err)
			}
		}
	}

	flattenPostings(&accum, &idx.KmerMap)

	return idx, nil
}

func tokLast(toks []string) string {
	if len(toks) == 0 {
		return ""
	}
	return strings.TrimSpace(toks[len(toks)-1])
}

// flattenPostings converts the per-key bit array accumulators into
// sorted reference-id slices, spread across a worker pool (spec §4.2
// step 4: "sorted and deduplicated (in parallel across keys)").
func flattenPostings(accum *[NumKmerKeys]bitarray.BitArray, out *[NumKmerKeys][]int) {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	jobs := make(chan int, workers*4)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range jobs {
				ba := accum[k]
				if ba == nil {
					continue
				}
				nums := ba.ToNums()
				ids := make([]int, len(nums))
				for i, n := range nums {
					ids[i] = int(n)
				}
				out[k] = ids
			}
		}()
	}

	for k := 0; k < NumKmerKeys; k++ {
		jobs <- k
	}
	close(jobs)
	wg.Wait()
}
