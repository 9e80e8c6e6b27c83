// Package reduce implements the element-wise tensor
// kernels used by the aggregation server: typed sums,
// copies, sparse sums, and mixed-precision conversions
// over contiguous byte buffers.
package reduce

import (
	"fmt"

	"github.com/unixpickle/ps-server/kvs"
	"github.com/x448/float16"
)

type scalar interface {
	~float32 | ~float64 | ~int8 | ~int32 | ~int64 | ~uint8
}

func sumSlice[T scalar](dst, src []T, alpha float64) {
	if alpha == 1 {
		for i, x := range src {
			dst[i] += x
		}
		return
	}
	for i, x := range src {
		dst[i] += T(alpha * float64(x))
	}
}

func sumHalf(dst, src []uint16, alpha float64) {
	for i, x := range src {
		v := float64(float16.Frombits(dst[i]).Float32()) +
			alpha*float64(float16.Frombits(x).Float32())
		dst[i] = float16.Fromfloat32(float32(v)).Bits()
	}
}

// Sum computes dst += alpha*src element-wise under the
// given dtype.
//
// Only the leading len(src)/dtype.Size() whole elements
// participate; trailing bytes are left untouched.
func Sum(dst, src []byte, dtype kvs.DataType, alpha float64) {
	switch dtype {
	case kvs.Float32:
		sumSlice(f32View(dst), f32View(src), alpha)
	case kvs.Float64:
		sumSlice(f64View(dst), f64View(src), alpha)
	case kvs.Float16:
		sumHalf(u16View(dst), u16View(src), alpha)
	case kvs.Uint8:
		sumSlice(dst, src, alpha)
	case kvs.Int32:
		sumSlice(i32View(dst), i32View(src), alpha)
	case kvs.Int8:
		sumSlice(i8View(dst), i8View(src), alpha)
	case kvs.Int64:
		sumSlice(i64View(dst), i64View(src), alpha)
	default:
		panic(fmt.Sprintf("unsupported data type: %v", dtype))
	}
}

func sum3Slice[T scalar](dst, src1, src2 []T, alpha float64) {
	for i := range dst {
		dst[i] = src1[i] + T(alpha*float64(src2[i]))
	}
}

func sum3Half(dst, src1, src2 []uint16, alpha float64) {
	for i := range dst {
		v := float64(float16.Frombits(src1[i]).Float32()) +
			alpha*float64(float16.Frombits(src2[i]).Float32())
		dst[i] = float16.Fromfloat32(float32(v)).Bits()
	}
}

// Sum3 computes dst = src1 + alpha*src2 element-wise under
// the given dtype. dst may alias either source.
func Sum3(dst, src1, src2 []byte, dtype kvs.DataType, alpha float64) {
	switch dtype {
	case kvs.Float32:
		sum3Slice(f32View(dst), f32View(src1), f32View(src2), alpha)
	case kvs.Float64:
		sum3Slice(f64View(dst), f64View(src1), f64View(src2), alpha)
	case kvs.Float16:
		sum3Half(u16View(dst), u16View(src1), u16View(src2), alpha)
	case kvs.Uint8:
		sum3Slice(dst, src1, src2, alpha)
	case kvs.Int32:
		sum3Slice(i32View(dst), i32View(src1), i32View(src2), alpha)
	case kvs.Int8:
		sum3Slice(i8View(dst), i8View(src1), i8View(src2), alpha)
	case kvs.Int64:
		sum3Slice(i64View(dst), i64View(src1), i64View(src2), alpha)
	default:
		panic(fmt.Sprintf("unsupported data type: %v", dtype))
	}
}

func sparseSumSlice[T scalar](dst, src []T, alpha float64, idx []uint32) {
	for _, j := range idx {
		dst[j] += T(alpha * float64(src[j]))
		src[j] = 0
	}
}

// SparseSum computes dst[j] += alpha*src[j] for every j in
// idx, zeroing src[j] as a side effect. It is used to roll
// error-feedback residues into a gradient.
//
// Only floating point dtypes are supported.
func SparseSum(dst, src []byte, dtype kvs.DataType, alpha float64, idx []uint32) {
	switch dtype {
	case kvs.Float32:
		sparseSumSlice(f32View(dst), f32View(src), alpha, idx)
	case kvs.Float64:
		sparseSumSlice(f64View(dst), f64View(src), alpha, idx)
	case kvs.Float16:
		d, s := u16View(dst), u16View(src)
		for _, j := range idx {
			v := float64(float16.Frombits(d[j]).Float32()) +
				alpha*float64(float16.Frombits(s[j]).Float32())
			d[j] = float16.Fromfloat32(float32(v)).Bits()
			s[j] = 0
		}
	default:
		panic(fmt.Sprintf("unsupported data type: %v", dtype))
	}
}

// Copy copies len(src) bytes from src into dst. Trailing
// bytes that do not form a whole element are copied
// verbatim along with everything else.
func Copy(dst, src []byte) {
	copy(dst, src)
}
