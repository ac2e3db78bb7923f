package huffman

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestRoundTripVariousInputs(t *testing.T) {
	cases := [][]byte{
		[]byte("a"),
		[]byte("aaaaaaaaaaaaaaaaaaaaaaaa"),
		[]byte("hello, cluster head election!"),
		bytes.Repeat([]byte{0x41}, 1024),
	}
	rnd := rand.New(rand.NewSource(1))
	random := make([]byte, 4096)
	rnd.Read(random)
	cases = append(cases, random)

	for i, in := range cases {
		compressed, err := Compress(in)
		if err != nil {
			t.Fatalf("case %d: compress: %v", i, err)
		}
		if len(compressed) > Bound(len(in)) {
			t.Fatalf("case %d: compressed len %d exceeds bound %d", i, len(compressed), Bound(len(in)))
		}
		out, err := Decompress(compressed, len(in))
		if err != nil {
			t.Fatalf("case %d: decompress: %v", i, err)
		}
		if !bytes.Equal(out, in) {
			t.Fatalf("case %d: round trip mismatch", i)
		}
	}
}

func TestSingleSymbolShrinks(t *testing.T) {
	in := bytes.Repeat([]byte{0x41}, 1024)
	compressed, err := Compress(in)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(compressed) >= len(in) {
		t.Fatalf("expected compressed (%d) < original (%d)", len(compressed), len(in))
	}
	out, err := Decompress(compressed, len(in))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Fatalf("round trip mismatch")
	}
}

func TestEmptyInputRejected(t *testing.T) {
	if _, err := Compress(nil); !errors.Is(err, ErrInvalidArg) {
		t.Fatalf("expected ErrInvalidArg, got %v", err)
	}
}

func TestDecompressBadMagic(t *testing.T) {
	buf := make([]byte, 300)
	if _, err := Decompress(buf, 100); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestDecompressOrigLenExceedsCap(t *testing.T) {
	in := []byte("some text to compress")
	compressed, err := Compress(in)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if _, err := Decompress(compressed, len(in)-1); !errors.Is(err, ErrInvalidArg) {
		t.Fatalf("expected ErrInvalidArg, got %v", err)
	}
}

func TestBoundSufficiency(t *testing.T) {
	for _, n := range []int{1, 2, 16, 256, 4096} {
		in := make([]byte, n)
		rand.New(rand.NewSource(int64(n))).Read(in)
		compressed, err := Compress(in)
		if err != nil {
			t.Fatalf("n=%d: compress: %v", n, err)
		}
		if len(compressed) > Bound(n) {
			t.Fatalf("n=%d: compressed %d > bound %d", n, len(compressed), Bound(n))
		}
	}
}
