// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package hitprob implements the non-Bayesian hit-probability model of
// spec §4.3: given, for one query, the per-reference 8-mer
// intersection counts against a reference collection, compute the
// probability that each reference achieves the maximum intersection
// under a sampling-without-replacement model.
//
// All binomial coefficients are evaluated in log space via
// gonum.org/v1/gonum/stat/combin, matching the "numerical discipline"
// called for by spec §4.3: CDFs are accumulated in linear space from
// per-i pmf exponents to avoid drift as F_s(i) -> 0.
package hitprob

import (
	"math"

	"gonum.org/v1/gonum/stat/combin"
)

// logBinom returns ln C(n, k), or -Inf if the binomial coefficient is
// zero (k<0, k>n, or n<0).
func logBinom(n, k int) float64 {
	if k < 0 || n < 0 || k > n {
		return math.Inf(-1)
	}
	return combin.LogGeneralizedBinomial(float64(n), float64(k))
}

// logPMF returns ln pmf(total, i, T, s), the log-probability that
// exactly i of T draws land in an intersection of size s, against a
// query with total distinct 8-mers, per spec §4.3's boundary rules
// and hypergeometric-form coefficient. total is the query's own
// distinct-8-mer count (drawCount is total/2, rounded down), the same
// scalar for every reference: the model draws from the query's keyset,
// not the reference's.
func logPMF(total, i, drawCount, s int) float64 {
	if s == total {
		if i == drawCount {
			return 0
		}
		return math.Inf(-1)
	}
	if s == 0 {
		if i == 0 {
			return 0
		}
		return math.Inf(-1)
	}

	num := logBinom(s+i-1, i) + logBinom(total-s+drawCount-i-1, drawCount-i)
	den := logBinom(total+drawCount-1, drawCount)
	return num - den
}

// classStats holds, for one distinct intersection value s, the
// per-i log-pmf values and the running log-CDF F_s(i).
type classStats struct {
	s      int
	count  int
	logPMF []float64 // length drawCount+1
	logCDF []float64 // length drawCount+1, accumulated in linear space
}

func buildClassStats(total, drawCount, s, count int) *classStats {
	cs := &classStats{s: s, count: count, logPMF: make([]float64, drawCount+1), logCDF: make([]float64, drawCount+1)}
	var cum float64
	for i := 0; i <= drawCount; i++ {
		lp := logPMF(total, i, drawCount, s)
		cs.logPMF[i] = lp
		cum += math.Exp(lp)
		if cum > 1 {
			cum = 1
		}
		cs.logCDF[i] = math.Log(cum)
	}
	return cs
}

// MaxProbabilities computes, per spec §4.3, the probability that a
// reference with each intersection value ties-or-beats all others.
// total is the query's own distinct-8-mer count (drawCount is total/2,
// rounded down), the single scalar the pmf is evaluated against for every reference, as
// in the original implementation: the draws are query keys, not
// reference keys, so there is exactly one "total" per query, not one
// per reference. intersections is the per-reference observed
// intersection count for this query; drawCount is T = |query keys| /
// 2.
//
// The returned vector has the same length and order as intersections,
// sums to 1 (within float64 precision, enforced by a final
// normalization): each reference's entry is its intersection class's
// probability divided by the sum over all references.
func MaxProbabilities(total int, intersections []int, drawCount int) []float64 {
	n := len(intersections)
	result := make([]float64, n)
	if n == 0 {
		return result
	}

	// Fast path: a reference whose intersection equals the query's
	// total 8-mer count collapses every reference's hit probability to
	// the last-draw pmf.
	fastPath := false
	for _, s := range intersections {
		if s == total && s > 0 {
			fastPath = true
			break
		}
	}
	if fastPath {
		for i, s := range intersections {
			if s == total {
				result[i] = math.Exp(logPMF(total, drawCount, drawCount, s))
			}
		}
		return normalize(result)
	}

	// Group references by intersection value s alone — the pmf depends
	// only on s (total and drawCount are shared by the whole query), so
	// every reference sharing an intersection value shares a class.
	counts := make(map[int]int)
	for _, s := range intersections {
		counts[s]++
	}

	classes := make([]*classStats, 0, len(counts))
	byS := make(map[int]*classStats, len(counts))
	for s, c := range counts {
		cs := buildClassStats(total, drawCount, s, c)
		classes = append(classes, cs)
		byS[s] = cs
	}

	// S(i) = sum_t count[t] * ln F_t(i), precomputed once for all i.
	sumLogCDF := make([]float64, drawCount+1)
	for i := 0; i <= drawCount; i++ {
		var acc float64
		for _, cs := range classes {
			lc := cs.logCDF[i]
			if math.IsInf(lc, -1) {
				acc = math.Inf(-1)
				break
			}
			acc += float64(cs.count) * lc
		}
		sumLogCDF[i] = acc
	}

	classProb := make(map[int]float64, len(byS))
	for s, cs := range byS {
		var tot float64
		for i := 0; i <= drawCount; i++ {
			if math.IsInf(cs.logCDF[i], -1) || math.IsInf(sumLogCDF[i], -1) {
				continue
			}
			// contribution = exp(ln P_s(i) + S(i) - ln F_s(i))
			exponent := cs.logPMF[i] + sumLogCDF[i] - cs.logCDF[i]
			tot += math.Exp(exponent)
		}
		classProb[s] = tot
	}

	for i, s := range intersections {
		result[i] = classProb[s]
	}

	return normalize(result)
}

func normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum <= 0 {
		// Degenerate query (e.g. empty keyset): fall back to uniform
		// over all references, per spec §8 boundary behavior #8.
		u := 1.0 / float64(len(v))
		for i := range v {
			v[i] = u
		}
		return v
	}
	for i := range v {
		v[i] /= sum
	}
	return v
}
