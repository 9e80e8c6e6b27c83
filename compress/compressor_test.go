package compress

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/unixpickle/ps-server/kvs"
	"github.com/unixpickle/ps-server/reduce"
)

func f32Tensor(xs ...float32) Tensor {
	buf := make([]byte, len(xs)*4)
	copy(reduce.Float32View(buf), xs)
	return Tensor{Data: buf, DType: kvs.Float32}
}

func f32Values(t Tensor) []float32 {
	return reduce.Float32View(t.Data)
}

func mustCreate(t *testing.T, kw Kwargs, size int) Compressor {
	t.Helper()
	c, err := Create(kw, size, kvs.Float32)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestOneBitSignLaw(t *testing.T) {
	grad := f32Tensor(0.5, -1, 2, -4)
	c := mustCreate(t, Kwargs{"compressor": "onebit", "onebit_scaling": "true"}, 16)
	out := f32Values(c.Decompress(c.Compress(grad)))
	scale := float32((0.5 + 1 + 2 + 4) / 4)
	expected := []float32{scale, -scale, scale, -scale}
	for i, x := range out {
		if x != expected[i] {
			t.Errorf("component %d is %f but expected %f", i, x, expected[i])
		}
	}
}

func TestOneBitNoScaling(t *testing.T) {
	grad := f32Tensor(0.5, -1, 2, -4)
	c := mustCreate(t, Kwargs{"compressor": "onebit"}, 16)
	out := f32Values(c.Decompress(c.Compress(grad)))
	expected := []float32{1, -1, 1, -1}
	for i, x := range out {
		if x != expected[i] {
			t.Errorf("component %d is %f but expected %f", i, x, expected[i])
		}
	}
}

func TestOneBitWordBoundary(t *testing.T) {
	for _, n := range []int{31, 32, 33, 35} {
		t.Run(fmt.Sprintf("Size=%d", n), func(t *testing.T) {
			xs := make([]float32, n)
			for i := range xs {
				xs[i] = float32(rand.NormFloat64())
			}
			grad := f32Tensor(xs...)
			c := mustCreate(t, Kwargs{"compressor": "onebit"}, n*4)
			out := f32Values(c.Decompress(c.Compress(grad)))
			if len(out) != n {
				t.Fatalf("decompressed %d elements but expected %d", len(out), n)
			}
			for i, x := range out {
				if (x >= 0) != (xs[i] >= 0) {
					t.Errorf("component %d has wrong sign", i)
				}
			}
		})
	}
}

func TestTopKLaw(t *testing.T) {
	grad := f32Tensor(0.1, 3.0, 0.2, -5.0)
	c := mustCreate(t, Kwargs{"compressor": "topk", "compressor_k": "2"}, 16)
	compressed := c.Compress(grad)
	if len(compressed.Data) != 16 {
		t.Fatalf("compressed to %d bytes but expected 16", len(compressed.Data))
	}
	indices := map[uint32]bool{}
	u32 := reduce.Uint32View(compressed.Data)
	for i := 0; i < 2; i++ {
		indices[u32[2*i]] = true
	}
	if !indices[1] || !indices[3] {
		t.Errorf("selected indices %v but expected {1, 3}", indices)
	}
	out := f32Values(c.Decompress(compressed))
	expected := []float32{0, 3.0, 0, -5.0}
	for i, x := range out {
		if x != expected[i] {
			t.Errorf("component %d is %f but expected %f", i, x, expected[i])
		}
	}
}

func TestTopKClampLossless(t *testing.T) {
	// k beyond the element count clamps, making the codec
	// lossless.
	grad := f32Tensor(1, -2, 0, 4)
	c := mustCreate(t, Kwargs{"compressor": "topk", "compressor_k": "100"}, 16)
	out := f32Values(c.Decompress(c.Compress(grad)))
	expected := []float32{1, -2, 0, 4}
	for i, x := range out {
		if x != expected[i] {
			t.Errorf("component %d is %f but expected %f", i, x, expected[i])
		}
	}
}

func TestTopKFractionalK(t *testing.T) {
	c := mustCreate(t, Kwargs{"compressor": "topk", "compressor_k": "0.5"}, 16)
	compressed := c.Compress(f32Tensor(1, 2, 3, 4))
	if len(compressed.Data) != 16 {
		t.Errorf("compressed to %d bytes but expected 16 (k=2)", len(compressed.Data))
	}
}

func TestRandomKSeeded(t *testing.T) {
	kw := Kwargs{"compressor": "randomk", "compressor_k": "2", "seed": "99"}
	grad := func() Tensor { return f32Tensor(1, 2, 3, 4, 5, 6, 7, 8) }
	a := mustCreate(t, kw, 32)
	b := mustCreate(t, kw, 32)
	ca := a.Compress(grad())
	cb := b.Compress(grad())
	if len(ca.Data) != len(cb.Data) {
		t.Fatal("same seed gave different compressed sizes")
	}
	for i, x := range ca.Data {
		if x != cb.Data[i] {
			t.Fatal("same seed gave different compressed payloads")
		}
	}

	// Kept values carry the unbiased-estimator rescale
	// n/k = 8/2.
	const scale = 4
	src := f32Values(grad())
	out := f32Values(a.Decompress(ca))
	kept := map[uint32]bool{}
	u32 := reduce.Uint32View(ca.Data)
	for i := 0; i < len(u32)/2; i++ {
		kept[u32[2*i]] = true
	}
	for i, x := range out {
		if kept[uint32(i)] {
			if x != scale*src[i] {
				t.Errorf("kept component %d is %f but expected %f", i, x, scale*src[i])
			}
		} else if x != 0 {
			t.Errorf("dropped component %d is %f but expected 0", i, x)
		}
	}
}

func TestCompressOutputAddressStable(t *testing.T) {
	// The zero-copy response cache relies on the compress
	// output buffer staying put across steps.
	c := mustCreate(t, Kwargs{"compressor": "topk", "compressor_k": "2"}, 16)
	first := c.Compress(f32Tensor(1, 2, 3, 4))
	addr := &first.Data[0]
	second := c.Compress(f32Tensor(4, 3, 2, 1))
	if &second.Data[0] != addr {
		t.Error("compress output moved between steps")
	}
}

func TestTensorNumElements(t *testing.T) {
	tensor := f32Tensor(1, 2, 3)
	if n := tensor.NumElements(); n != 3 {
		t.Errorf("NumElements is %d but expected 3", n)
	}
}

func absDiff(a, b float32) float64 {
	return math.Abs(float64(a - b))
}
