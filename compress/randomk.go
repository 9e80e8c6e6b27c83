package compress

import (
	"github.com/unixpickle/ps-server/kvs"
	"github.com/unixpickle/ps-server/reduce"
)

func init() {
	Register("randomk", newRandomK)
}

// randomK keeps k uniformly sampled entries, each scaled
// by n/k so the decompressed tensor is an unbiased
// estimate of the gradient.
//
// Frame: k pairs of (uint32 index, float32 value), in the
// order they were drawn.
type randomK struct {
	buffers
	k   int
	rng *RNG
}

func newRandomK(kw Kwargs, size int, dtype kvs.DataType, inner Compressor) (Compressor, error) {
	if err := checkBase("randomk", inner); err != nil {
		return nil, err
	}
	if err := checkFloat32("randomk", dtype); err != nil {
		return nil, err
	}
	k, err := findK(kw, "compressor_k", size, dtype)
	if err != nil {
		return nil, err
	}
	seed, err := FindInt(kw, "seed", true, func(x int) bool { return x >= 0 })
	if err != nil {
		return nil, err
	}
	rng := NewRNG()
	if seed != 0 {
		rng.Seed(uint64(seed))
	}
	return &randomK{buffers: newBuffers(size, dtype), k: k, rng: rng}, nil
}

func (r *randomK) sample(n int) []uint32 {
	k := r.k
	if k > n {
		k = n
	}
	idx := make([]uint32, k)
	for i := range idx {
		idx[i] = uint32(r.rng.Randint(0, uint64(n)))
	}
	return idx
}

// scale is the unbiased-estimator factor n/k applied to
// every kept value.
func (r *randomK) scale(n, k int) float32 {
	return float32(n) / float32(k)
}

func (r *randomK) Compress(grad Tensor) Tensor {
	src := reduce.Float32View(grad.Data)
	idx := r.sample(len(src))
	out := r.out[:8*len(idx)]
	writeScaledPairs(out, src, idx, r.scale(len(src), len(idx)))
	return Tensor{Data: out, DType: kvs.Float32}
}

func (r *randomK) Decompress(compressed Tensor) Tensor {
	out := r.dec[:r.size]
	scatterPairs(out, compressed.Data)
	return Tensor{Data: out, DType: kvs.Float32}
}

func (r *randomK) FusedCompress(grad, err Tensor) Tensor {
	src := reduce.Float32View(grad.Data)
	idx := r.sample(len(src))
	out := r.out[:8*len(idx)]
	scale := r.scale(len(src), len(idx))
	writeScaledPairs(out, src, idx, scale)
	// e <- g, except that kept entries decompress to
	// scale*g and so leave g - scale*g behind.
	e := reduce.Float32View(err.Data)
	copy(e, src)
	for _, j := range idx {
		e[j] = src[j] - src[j]*scale
	}
	return Tensor{Data: out, DType: kvs.Float32}
}
