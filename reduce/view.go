package reduce

import "unsafe"

// Typed views over raw byte buffers.
//
// Tensors cross the wire as contiguous native-endian bytes,
// so the kernels reinterpret the backing array in place
// rather than decoding element by element.

func view[T any](b []byte) []T {
	var zero T
	n := len(b) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}

// Float32View reinterprets b as a []float32 covering the
// leading whole elements.
func Float32View(b []byte) []float32 { return view[float32](b) }

// Float64View reinterprets b as a []float64.
func Float64View(b []byte) []float64 { return view[float64](b) }

// Uint16View reinterprets b as a []uint16. It is the raw
// bits view of an fp16 tensor.
func Uint16View(b []byte) []uint16 { return view[uint16](b) }

// Uint32View reinterprets b as a []uint32.
func Uint32View(b []byte) []uint32 { return view[uint32](b) }

func f32View(b []byte) []float32 { return Float32View(b) }
func f64View(b []byte) []float64 { return Float64View(b) }
func u16View(b []byte) []uint16  { return Uint16View(b) }
func i32View(b []byte) []int32   { return view[int32](b) }
func i64View(b []byte) []int64   { return view[int64](b) }
func i8View(b []byte) []int8     { return view[int8](b) }
