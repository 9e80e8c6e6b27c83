package compress

import (
	"math"

	"github.com/pkg/errors"

	"github.com/unixpickle/ps-server/kvs"
	"github.com/unixpickle/ps-server/reduce"
)

func init() {
	Register("dithering", newDithering)
}

const (
	partitionLinear  = "linear"
	partitionNatural = "natural"

	normalizeMax = "max"
	normalizeL2  = "l2"
)

// dithering performs multilevel stochastic quantization:
// magnitudes are normalized, rounded randomly between the
// two nearest quantization levels, and only nonzero levels
// are encoded.
//
// Frame: uint32 element count, uint32 nonzero count,
// float32 scale, then a bit stream of (Elias-delta index
// gap, sign bit, Elias-delta level) triples.
type dithering struct {
	buffers
	k         uint32
	partition string
	normalize string
	rng       *RNG
}

func newDithering(kw Kwargs, size int, dtype kvs.DataType, inner Compressor) (Compressor, error) {
	if err := checkBase("dithering", inner); err != nil {
		return nil, err
	}
	if err := checkFloat32("dithering", dtype); err != nil {
		return nil, err
	}
	k, err := FindInt(kw, "k", false, func(x int) bool {
		return x > 0 && x <= 32
	})
	if err != nil {
		return nil, err
	}
	partition := kw["partition"]
	if partition == "" {
		partition = partitionLinear
	}
	if partition != partitionLinear && partition != partitionNatural {
		return nil, errors.Errorf("unsupported partition %q", partition)
	}
	normalize := kw["normalize"]
	if normalize == "" {
		normalize = normalizeMax
	}
	if normalize != normalizeMax && normalize != normalizeL2 {
		return nil, errors.Errorf("unsupported normalization %q", normalize)
	}
	seed, err := FindInt(kw, "seed", true, func(x int) bool { return x >= 0 })
	if err != nil {
		return nil, err
	}
	rng := NewRNG()
	if seed != 0 {
		rng.Seed(uint64(seed))
	}
	return &dithering{
		buffers:   newBuffers(size, dtype),
		k:         uint32(k),
		partition: partition,
		normalize: normalize,
		rng:       rng,
	}, nil
}

func (d *dithering) scaleOf(src []float32) float64 {
	var scale float64
	switch d.normalize {
	case normalizeMax:
		for _, x := range src {
			scale = math.Max(scale, math.Abs(float64(x)))
		}
	case normalizeL2:
		for _, x := range src {
			scale += float64(x) * float64(x)
		}
		scale = math.Sqrt(scale)
	}
	return scale
}

// level quantizes the normalized magnitude y in [0, 1]
// with stochastic rounding.
func (d *dithering) level(y float64) uint64 {
	switch d.partition {
	case partitionLinear:
		y *= float64(d.k)
		low := math.Floor(y)
		if d.rng.Bernoulli(y - low) {
			low++
		}
		return uint64(low)
	default: // natural
		y *= float64(uint64(1) << (d.k - 1))
		low := uint64(RoundNextPow2(uint32(math.Ceil(y))) >> 1)
		length := low
		if length == 0 {
			length = 1
		}
		if d.rng.Bernoulli((y - float64(low)) / float64(length)) {
			low += length
		}
		return low
	}
}

func (d *dithering) levelValue(level uint64) float64 {
	if d.partition == partitionLinear {
		return float64(level) / float64(d.k)
	}
	return float64(level) / float64(uint64(1)<<(d.k-1))
}

func (d *dithering) Compress(grad Tensor) Tensor {
	src := reduce.Float32View(grad.Data)
	scale := d.scaleOf(src)
	u32 := reduce.Uint32View(d.out)
	u32[0] = uint32(len(src))
	w := NewBitWriter(u32[3:])
	count := uint32(0)
	lastIdx := -1
	for i, x := range src {
		var y float64
		if scale > 0 {
			y = math.Abs(float64(x)) / scale
		}
		level := d.level(y)
		if level == 0 {
			continue
		}
		EliasDeltaEncode(w, uint64(i-lastIdx))
		w.Put(x < 0)
		EliasDeltaEncode(w, level)
		lastIdx = i
		count++
	}
	w.Flush()
	u32[1] = count
	reduce.Float32View(d.out)[2] = float32(scale)
	out := d.out[:4*(3+w.Blocks())]
	return Tensor{Data: out, DType: kvs.Float32}
}

func (d *dithering) Decompress(compressed Tensor) Tensor {
	u32 := reduce.Uint32View(compressed.Data)
	n := int(u32[0])
	count := u32[1]
	scale := float64(reduce.Float32View(compressed.Data)[2])
	out := d.dec[:4*n]
	dst := reduce.Float32View(out)
	for i := range dst {
		dst[i] = 0
	}
	r := NewBitReader(u32[3:])
	idx := -1
	for j := uint32(0); j < count; j++ {
		idx += int(EliasDeltaDecode(r))
		negative := r.Get()
		level := EliasDeltaDecode(r)
		v := d.levelValue(level) * scale
		if negative {
			v = -v
		}
		dst[idx] = float32(v)
	}
	return Tensor{Data: out, DType: kvs.Float32}
}
