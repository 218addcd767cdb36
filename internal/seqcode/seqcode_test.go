package seqcode

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	got, err := Encode([]byte("ACGT"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{A, C, G, T}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Encode(ACGT) = %v, want %v", got, want)
	}
	if string(Decode(got)) != "ACGT" {
		t.Fatalf("Decode round trip = %s, want ACGT", Decode(got))
	}
}

func TestEncodeIUPAC(t *testing.T) {
	got, err := Encode([]byte("ACGTWSMKRYBDHVN"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{1, 2, 4, 8, 9, 6, 3, 12, 5, 10, 14, 13, 11, 7, 15}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Encode(IUPAC) = %v, want %v", got, want)
	}
}

func TestEncodeRejectsUnknown(t *testing.T) {
	if _, err := Encode([]byte("ACGTZ")); err == nil {
		t.Fatal("expected error for unknown base")
	}
}

func TestEncodeCaseInsensitive(t *testing.T) {
	upper, _ := Encode([]byte("ACGT"))
	lower, _ := Encode([]byte("acgt"))
	if !reflect.DeepEqual(upper, lower) {
		t.Fatalf("case mismatch: %v vs %v", upper, lower)
	}
}

func TestToKmersShortSequence(t *testing.T) {
	codes, _ := Encode([]byte("ACGTACG"))
	if keys := ToKmers(codes); keys != nil {
		t.Fatalf("expected nil keyset for 7-base sequence, got %v", keys)
	}
}

func TestToKmersSkipsAmbiguous(t *testing.T) {
	codes, _ := Encode([]byte("ACGTACGTN"))
	keys := ToKmers(codes)
	// Two 8-mer windows: [0:8) pure, [1:9) contains N and is skipped.
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d: %v", len(keys), keys)
	}
}

func TestToKmersDeduplicates(t *testing.T) {
	codes, _ := Encode([]byte("ACGTACGTACGTACGT"))
	keys := ToKmers(codes)
	seen := make(map[uint16]bool)
	for _, k := range keys {
		if seen[k] {
			t.Fatalf("duplicate key %d in result", k)
		}
		seen[k] = true
	}
	for i := 1; i < len(keys); i++ {
		if keys[i] <= keys[i-1] {
			t.Fatalf("keys not strictly increasing at %d: %v", i, keys)
		}
	}
}

func TestToKmersKeyEncoding(t *testing.T) {
	codes, _ := Encode([]byte("AAAAAAAA"))
	keys := ToKmers(codes)
	if len(keys) != 1 || keys[0] != 0 {
		t.Fatalf("all-A 8-mer should encode to key 0, got %v", keys)
	}
	codes, _ = Encode([]byte("TTTTTTTT"))
	keys = ToKmers(codes)
	if len(keys) != 1 || keys[0] != 0xffff {
		t.Fatalf("all-T 8-mer should encode to key 0xffff, got %v", keys)
	}
}
