// Copyright 2017, Kerby Shedden and the Muscato contributors.

// Package seqcode encodes DNA sequences (including IUPAC ambiguity
// codes) as 4-bit nybbles, and derives the pure 8-mer keys used to
// build and query the reference index.
package seqcode

import (
	"fmt"
	"sort"
)

// Base bit values.  An IUPAC ambiguity code is the bitwise OR of the
// bases it covers.
const (
	A = 1 << iota
	C
	G
	T
)

// KmerWidth is the number of bases packed into one inverted-index key.
const KmerWidth = 8

var encodeTable [256]byte

func init() {
	for i := range encodeTable {
		encodeTable[i] = 0xff
	}
	set := func(c byte, v byte) {
		encodeTable[c] = v
		if c >= 'a' && c <= 'z' {
			return
		}
		encodeTable[c+32] = v
	}
	set('A', A)
	set('C', C)
	set('G', G)
	set('T', T)
	set('W', A|T)
	set('S', C|G)
	set('M', A|C)
	set('K', G|T)
	set('R', A|G)
	set('Y', C|T)
	set('B', C|G|T)
	set('D', A|G|T)
	set('H', A|C|T)
	set('V', A|C|G)
	set('N', A|C|G|T)
}

// Encode maps an ASCII base string, case-insensitively, to 4-bit
// codes.  An unrecognized character is a fatal parse error for the
// caller's context.
func Encode(ascii []byte) ([]byte, error) {
	out := make([]byte, len(ascii))
	for i, c := range ascii {
		v := encodeTable[c]
		if v == 0xff {
			return nil, fmt.Errorf("seqcode: unrecognized base %q at position %d", c, i)
		}
		out[i] = v
	}
	return out, nil
}

var decodeTable = map[byte]byte{
	A: 'A',
	C: 'C',
	G: 'G',
	T: 'T',
}

// Decode maps pure-base nybbles back to their letters; any other
// nybble (ambiguity code or zero) decodes to '-'.
func Decode(codes []byte) []byte {
	out := make([]byte, len(codes))
	for i, c := range codes {
		if l, ok := decodeTable[c]; ok {
			out[i] = l
		} else {
			out[i] = '-'
		}
	}
	return out
}

// twoBit maps a pure base nybble to its 2-bit code (A=00, C=01, G=10,
// T=11).  Only valid for pure bases; callers must check IsPure first.
var twoBit = map[byte]uint16{
	A: 0,
	C: 1,
	G: 2,
	T: 3,
}

// IsPure reports whether code has exactly one bit set, i.e. is an
// unambiguous base.
func IsPure(code byte) bool {
	return code == A || code == C || code == G || code == T
}

// ToKmers returns the sorted, deduplicated set of 16-bit keys for
// every pure 8-mer window in seq.  Windows containing any ambiguous
// base are skipped.  Sequences shorter than KmerWidth yield an empty
// set.
func ToKmers(seq []byte) []uint16 {
	if len(seq) < KmerWidth {
		return nil
	}

	seen := make(map[uint16]bool)
	var keys []uint16

	for start := 0; start+KmerWidth <= len(seq); start++ {
		var key uint16
		pure := true
		for i := 0; i < KmerWidth; i++ {
			c := seq[start+i]
			if !IsPure(c) {
				pure = false
				break
			}
			key = (key << 2) | twoBit[c]
		}
		if !pure {
			continue
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
