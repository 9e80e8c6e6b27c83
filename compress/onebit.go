package compress

import (
	"math"

	"github.com/unixpickle/ps-server/kvs"
	"github.com/unixpickle/ps-server/reduce"
)

func init() {
	Register("onebit", newOneBit)
}

// oneBit keeps only the sign of each gradient entry plus a
// per-tensor scaling factor.
//
// Frame: uint32 element count, packed sign bits (1 means
// non-negative), float32 scale.
type oneBit struct {
	buffers
	scaling bool
}

func newOneBit(kw Kwargs, size int, dtype kvs.DataType, inner Compressor) (Compressor, error) {
	if err := checkBase("onebit", inner); err != nil {
		return nil, err
	}
	if err := checkFloat32("onebit", dtype); err != nil {
		return nil, err
	}
	scaling, err := FindBool(kw, "onebit_scaling", true)
	if err != nil {
		return nil, err
	}
	return &oneBit{buffers: newBuffers(size, dtype), scaling: scaling}, nil
}

func (o *oneBit) Compress(grad Tensor) Tensor {
	src := reduce.Float32View(grad.Data)
	n := len(src)
	words := (n + packingSize - 1) / packingSize
	out := o.out[:4*(2+words)]
	u32 := reduce.Uint32View(out)
	u32[0] = uint32(n)
	w := NewBitWriter(u32[1 : 1+words])
	var total float64
	for _, x := range src {
		w.Put(x >= 0)
		total += math.Abs(float64(x))
	}
	w.Flush()
	scale := float32(1)
	if o.scaling && n > 0 {
		scale = float32(total / float64(n))
	}
	reduce.Float32View(out)[1+words] = scale
	return Tensor{Data: out, DType: kvs.Float32}
}

func (o *oneBit) Decompress(compressed Tensor) Tensor {
	u32 := reduce.Uint32View(compressed.Data)
	n := int(u32[0])
	words := (n + packingSize - 1) / packingSize
	scale := reduce.Float32View(compressed.Data)[1+words]
	out := o.dec[:4*n]
	dst := reduce.Float32View(out)
	r := NewBitReader(u32[1 : 1+words])
	for i := range dst {
		if r.Get() {
			dst[i] = scale
		} else {
			dst[i] = -scale
		}
	}
	return Tensor{Data: out, DType: kvs.Float32}
}

func (o *oneBit) FusedCompress(grad, err Tensor) Tensor {
	compressed := o.Compress(grad)
	u32 := reduce.Uint32View(compressed.Data)
	n := int(u32[0])
	words := (n + packingSize - 1) / packingSize
	scale := reduce.Float32View(compressed.Data)[1+words]
	g := reduce.Float32View(grad.Data)
	e := reduce.Float32View(err.Data)
	for i, x := range g {
		if x >= 0 {
			e[i] = x - scale
		} else {
			e[i] = x + scale
		}
	}
	return compressed
}
