package lineage

import (
	"math"
	"testing"

	"github.com/kshedden/taxassign/internal/refindex"
)

func buildScenarioA(t *testing.T) *refindex.Index {
	t.Helper()
	rows := []refindex.Row{
		{Lineage: "Animalia,Chordata,Mammalia,Primates,Hominidae,Homo", Seq: []byte{1, 2, 4, 8}},
		{Lineage: "Animalia,Chordata,Mammalia,Primates,Hominidae,Pan", Seq: []byte{1, 2, 4, 8, 1}},
		{Lineage: "Animalia,Chordata,Mammalia,Carnivora,Canidae,Canis", Seq: []byte{1, 2, 4, 8, 2}},
		{Lineage: "Animalia,Chordata,Mammalia,Carnivora,Felidae,Felis", Seq: []byte{1, 2, 4, 8, 3}},
		{Lineage: "Animalia,Chordata,Mammalia,Carnivora,Felidae,Felis", Seq: []byte{1, 2, 4, 8, 4}},
	}
	idx, err := refindex.Build(rows)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return idx
}

func approxEq(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func approxVec(t *testing.T, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %v want %v", got, want)
	}
	for i := range got {
		if !approxEq(got[i], want[i], 1e-9) {
			t.Fatalf("index %d: got %v want %v", i, got, want)
		}
	}
}

func TestScenarioA(t *testing.T) {
	idx := buildScenarioA(t)
	// Reference ids after sort: 0 Canis, 1 Felis, 2 Felis, 3 Homo, 4 Pan.
	p := []float64{0.1, 0.3, 0.4, 0.004, 0.004}

	rows, _ := Evaluate(idx, p)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d: %+v", len(rows), rows)
	}

	if rows[0].Lineage != "Animalia,Chordata,Mammalia,Carnivora,Felidae,Felis" {
		t.Fatalf("row0 lineage = %s", rows[0].Lineage)
	}
	approxVec(t, rows[0].Confidence, []float64{0.81, 0.81, 0.81, 0.80, 0.70, 0.70})

	if rows[1].Lineage != "Animalia,Chordata,Mammalia,Carnivora,Canidae,Canis" {
		t.Fatalf("row1 lineage = %s", rows[1].Lineage)
	}
	approxVec(t, rows[1].Confidence, []float64{0.81, 0.81, 0.81, 0.80, 0.10, 0.10})

	if rows[2].Lineage != "Animalia,Chordata,Mammalia,Primates,Hominidae,Pan" {
		t.Fatalf("row2 lineage = %s", rows[2].Lineage)
	}
	approxVec(t, rows[2].Confidence, []float64{0.81, 0.81, 0.81, 0.01, 0.01, 0.01})
}

func TestScenarioB_VariableDepth(t *testing.T) {
	rows := []refindex.Row{
		{Lineage: "Animalia,Chordata,Mammalia,Canidae,Canis", Seq: []byte{1, 2, 4, 8, 1}},
		{Lineage: "Animalia,Chordata,Mammalia,Mouse", Seq: []byte{1, 2, 4, 8, 2}},
		{Lineage: "Animalia,Chordata,Mammalia,Primates,Hominidae,Homo", Seq: []byte{1, 2, 4, 8, 3}},
		{Lineage: "Animalia,Chordata,Mammalia,Primates,Hominidae,Pan", Seq: []byte{1, 2, 4, 8, 4}},
		{Lineage: "Animalia,Chordata,Mammalia,Rodentia", Seq: []byte{1, 2, 4, 8, 5}},
		{Lineage: "Animalia,Chordata,Mammalia,Rodentia,Rat", Seq: []byte{1, 2, 4, 8, 6}},
		{Lineage: "Animalia,Chordata,Mammalia,Rodentia,Squirrel", Seq: []byte{1, 2, 4, 8, 7}},
	}
	idx, err := refindex.Build(rows)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Lexicographic order: Canidae,Canis < Mouse < Primates,Hominidae,Homo
	// < Primates,Hominidae,Pan < Rodentia < Rodentia,Rat < Rodentia,Squirrel.
	p := []float64{0.05, 0.1, 0.3, 0.4, 0.1, 0.004, 0.004}

	evalRows, _ := Evaluate(idx, p)

	var mouseRow *Row
	for i := range evalRows {
		if evalRows[i].Lineage == "Animalia,Chordata,Mammalia,Mouse" {
			mouseRow = &evalRows[i]
		}
	}
	if mouseRow == nil {
		t.Fatalf("no row for Mammalia,Mouse among: %+v", evalRows)
	}
	approxVec(t, mouseRow.Confidence, []float64{0.96, 0.96, 0.96, 0.10})
}

func TestGlobalSignalUniformIsZero(t *testing.T) {
	idx := buildScenarioA(t)
	p := make([]float64, idx.NumTips)
	for i := range p {
		p[i] = 1.0 / float64(idx.NumTips)
	}
	_, global := Evaluate(idx, p)
	if global > 1e-9 {
		t.Fatalf("expected ~0 global signal for uniform p, got %v", global)
	}
}

func TestMassInvariantAtEveryNode(t *testing.T) {
	idx := buildScenarioA(t)
	p := []float64{0.1, 0.3, 0.4, 0.004, 0.004}
	ps := newPrefixSum(p)

	var check func(n *refindex.Node)
	check = func(n *refindex.Node) {
		if n.Type == refindex.Sequence {
			return
		}
		var sum float64
		for _, c := range n.Children {
			if c.Type == refindex.Sequence {
				continue
			}
			sum += ps.mass(c.Range)
		}
		if len(n.Children) > 0 && !approxEq(sum, ps.mass(n.Range), 1e-9) {
			// Only check when node has non-sequence children.
			hasNonSeq := false
			for _, c := range n.Children {
				if c.Type != refindex.Sequence {
					hasNonSeq = true
				}
			}
			if hasNonSeq {
				t.Fatalf("mass(%s) children sum %v != node mass %v", n.Label, sum, ps.mass(n.Range))
			}
		}
		for _, c := range n.Children {
			check(c)
		}
	}
	check(idx.Root)
}
