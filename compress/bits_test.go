package compress

import (
	"math/rand"
	"testing"
)

func TestBitWriterReader(t *testing.T) {
	for _, numBits := range []int{1, 31, 32, 33, 1000} {
		bits := make([]bool, numBits)
		for i := range bits {
			bits[i] = rand.Intn(2) == 1
		}
		words := make([]uint32, (numBits+31)/32+1)
		w := NewBitWriter(words)
		for _, b := range bits {
			w.Put(b)
		}
		w.Flush()
		if w.Bits() != numBits {
			t.Errorf("writer reports %d bits but expected %d", w.Bits(), numBits)
		}
		r := NewBitReader(words)
		for i, b := range bits {
			if r.Get() != b {
				t.Errorf("bit %d of %d does not round trip", i, numBits)
				break
			}
		}
	}
}

func TestEliasDeltaRoundTrip(t *testing.T) {
	var values []uint64
	for n := uint64(1); n <= 1000; n++ {
		values = append(values, n)
	}
	values = append(values, 1<<20, 1<<40, (1<<40)+12345)

	words := make([]uint32, 1<<16)
	w := NewBitWriter(words)
	for _, n := range values {
		EliasDeltaEncode(w, n)
	}
	w.Flush()

	r := NewBitReader(words)
	for _, n := range values {
		if decoded := EliasDeltaDecode(r); decoded != n {
			t.Fatalf("decoded %d but expected %d", decoded, n)
		}
	}
}

func TestRoundNextPow2(t *testing.T) {
	cases := map[uint32]uint32{
		1: 1, 2: 2, 3: 4, 4: 4, 5: 8, 17: 32, 1024: 1024, 1025: 2048,
	}
	for in, expected := range cases {
		if out := RoundNextPow2(in); out != expected {
			t.Errorf("RoundNextPow2(%d) = %d but expected %d", in, out, expected)
		}
	}
}
