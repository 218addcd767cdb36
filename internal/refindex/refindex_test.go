package refindex

import (
	"testing"

	"github.com/kshedden/taxassign/internal/seqcode"
)

func buildSimple(t *testing.T) *Index {
	t.Helper()
	rows := []Row{
		{Lineage: "Animalia,Chordata,Mammalia,Carnivora,Felidae,Felis", Seq: mustEncode(t, "ACGTACGTACGT")},
		{Lineage: "Animalia,Chordata,Mammalia,Carnivora,Canidae,Canis", Seq: mustEncode(t, "ACGTACGTTTTT")},
		{Lineage: "Animalia,Chordata,Mammalia,Primates,Hominidae,Homo", Seq: mustEncode(t, "GGGGCCCCAAAA")},
	}
	idx, err := Build(rows)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return idx
}

func mustEncode(t *testing.T, s string) []byte {
	t.Helper()
	codes, err := seqcode.Encode([]byte(s))
	if err != nil {
		t.Fatalf("Encode(%q): %v", s, err)
	}
	return codes
}

func TestBuildAssignsSortedReferenceIDs(t *testing.T) {
	idx := buildSimple(t)
	if idx.NumTips != 3 {
		t.Fatalf("expected 3 tips, got %d", idx.NumTips)
	}
	// Lexicographic sort: Carnivora,Canidae,Canis < Carnivora,Felidae,Felis < Primates,...,Homo
	if idx.Lineages[0] != "Animalia,Chordata,Mammalia,Carnivora,Canidae,Canis" {
		t.Fatalf("lineage[0] = %s", idx.Lineages[0])
	}
	if idx.Lineages[1] != "Animalia,Chordata,Mammalia,Carnivora,Felidae,Felis" {
		t.Fatalf("lineage[1] = %s", idx.Lineages[1])
	}
	if idx.Lineages[2] != "Animalia,Chordata,Mammalia,Primates,Hominidae,Homo" {
		t.Fatalf("lineage[2] = %s", idx.Lineages[2])
	}
}

func TestBuildSharesCommonPrefixNodes(t *testing.T) {
	idx := buildSimple(t)
	if idx.Root.Label != "" {
		t.Fatalf("root should carry no label, got %q", idx.Root.Label)
	}
	if len(idx.Root.Children) != 1 {
		t.Fatalf("expected a single shared Animalia subtree, got %d children", len(idx.Root.Children))
	}
	animalia := idx.Root.Children[0]
	if animalia.Range.Len() != 3 {
		t.Fatalf("Animalia range should span all 3 refs, got %v", animalia.Range)
	}
}

func TestBuildRejectsEmptyLineage(t *testing.T) {
	_, err := Build([]Row{{Lineage: "  ", Seq: mustEncode(t, "ACGT")}})
	if err == nil {
		t.Fatalf("expected error for empty lineage")
	}
}

func TestBuildKmerMapCoversEncodedKeys(t *testing.T) {
	idx := buildSimple(t)
	keys := seqcode.ToKmers(mustEncode(t, "ACGTACGTACGT"))
	if len(keys) == 0 {
		t.Fatalf("expected at least one pure 8-mer key")
	}
	for _, k := range keys {
		found := false
		for _, ref := range idx.KmerMap[k] {
			if ref == 1 { // Felis sorts to index 1
				found = true
			}
		}
		if !found {
			t.Fatalf("key %d postings %v missing ref 1", k, idx.KmerMap[k])
		}
	}
}

func TestBuildDedupesIdenticalSequences(t *testing.T) {
	seq := mustEncode(t, "ACGTACGTACGT")
	rows := []Row{
		{Lineage: "Animalia,Felidae,Felis", Seq: append([]byte{}, seq...)},
		{Lineage: "Animalia,Felidae,Felis2", Seq: append([]byte{}, seq...)},
	}
	idx, err := Build(rows)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	ids := idx.Sequences[string(seq)]
	if len(ids) != 2 {
		t.Fatalf("expected both reference ids recorded under the shared sequence key, got %v", ids)
	}
}
