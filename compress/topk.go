package compress

import (
	"math"
	"sort"

	"github.com/unixpickle/essentials"

	"github.com/unixpickle/ps-server/kvs"
	"github.com/unixpickle/ps-server/reduce"
)

func init() {
	Register("topk", newTopK)
}

// topK keeps the k entries with the largest absolute
// value.
//
// Frame: k pairs of (uint32 index, float32 value).
type topK struct {
	buffers
	k int
}

func newTopK(kw Kwargs, size int, dtype kvs.DataType, inner Compressor) (Compressor, error) {
	if err := checkBase("topk", inner); err != nil {
		return nil, err
	}
	if err := checkFloat32("topk", dtype); err != nil {
		return nil, err
	}
	k, err := findK(kw, "compressor_k", size, dtype)
	if err != nil {
		return nil, err
	}
	return &topK{buffers: newBuffers(size, dtype), k: k}, nil
}

// selectTopK returns the indices of the k largest |src|
// entries in ascending index order.
func (t *topK) selectTopK(src []float32) []uint32 {
	k := t.k
	if k > len(src) {
		k = len(src)
	}
	idx := make([]int, len(src))
	for i := range idx {
		idx[i] = i
	}
	essentials.VoodooSort(idx, func(i, j int) bool {
		return math.Abs(float64(src[idx[i]])) > math.Abs(float64(src[idx[j]]))
	})
	selected := idx[:k]
	sort.Ints(selected)
	res := make([]uint32, k)
	for i, j := range selected {
		res[i] = uint32(j)
	}
	return res
}

func writePairs(out []byte, src []float32, idx []uint32) {
	u32 := reduce.Uint32View(out)
	f32 := reduce.Float32View(out)
	for i, j := range idx {
		u32[2*i] = j
		f32[2*i+1] = src[j]
	}
}

func writeScaledPairs(out []byte, src []float32, idx []uint32, scale float32) {
	u32 := reduce.Uint32View(out)
	f32 := reduce.Float32View(out)
	for i, j := range idx {
		u32[2*i] = j
		f32[2*i+1] = src[j] * scale
	}
}

func scatterPairs(dst []byte, compressed []byte) {
	out := reduce.Float32View(dst)
	for i := range out {
		out[i] = 0
	}
	u32 := reduce.Uint32View(compressed)
	f32 := reduce.Float32View(compressed)
	for i := 0; i < len(u32)/2; i++ {
		out[u32[2*i]] = f32[2*i+1]
	}
}

func (t *topK) Compress(grad Tensor) Tensor {
	src := reduce.Float32View(grad.Data)
	idx := t.selectTopK(src)
	out := t.out[:8*len(idx)]
	writePairs(out, src, idx)
	return Tensor{Data: out, DType: kvs.Float32}
}

func (t *topK) Decompress(compressed Tensor) Tensor {
	out := t.dec[:t.size]
	scatterPairs(out, compressed.Data)
	return Tensor{Data: out, DType: kvs.Float32}
}

func (t *topK) FusedCompress(grad, err Tensor) Tensor {
	src := reduce.Float32View(grad.Data)
	idx := t.selectTopK(src)
	out := t.out[:8*len(idx)]
	writePairs(out, src, idx)
	// e <- g, then zero e at the selected indices.
	e := reduce.Float32View(err.Data)
	copy(e, src)
	for _, j := range idx {
		e[j] = 0
	}
	return Tensor{Data: out, DType: kvs.Float32}
}
