package reduce

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"unsafe"

	"github.com/unixpickle/ps-server/kvs"
	"github.com/x448/float16"
)

func f32Bytes(xs ...float32) []byte {
	buf := make([]byte, len(xs)*4)
	copy(view[float32](buf), xs)
	return buf
}

func f16Bytes(xs ...float32) []byte {
	buf := make([]byte, len(xs)*2)
	v := u16View(buf)
	for i, x := range xs {
		v[i] = float16.Fromfloat32(x).Bits()
	}
	return buf
}

func TestSumFloat32(t *testing.T) {
	dst := f32Bytes(1, 2, 3, 4)
	src := f32Bytes(10, 20, 30, 40)
	Sum(dst, src, kvs.Float32, 1)
	expected := []float32{11, 22, 33, 44}
	for i, x := range f32View(dst) {
		if x != expected[i] {
			t.Errorf("component %d is %f but expected %f", i, x, expected[i])
		}
	}
}

func TestSumAlpha(t *testing.T) {
	dst := f32Bytes(1, 1)
	src := f32Bytes(2, 4)
	Sum(dst, src, kvs.Float32, 0.5)
	expected := []float32{2, 3}
	for i, x := range f32View(dst) {
		if x != expected[i] {
			t.Errorf("component %d is %f but expected %f", i, x, expected[i])
		}
	}
}

func TestSumIntegral(t *testing.T) {
	dtypes := []kvs.DataType{kvs.Uint8, kvs.Int8, kvs.Int32, kvs.Int64}
	for _, dtype := range dtypes {
		t.Run(fmt.Sprintf("DType=%v", dtype), func(t *testing.T) {
			size := dtype.Size()
			dst := make([]byte, 4*size)
			src := make([]byte, 4*size)
			for i := 0; i < 4; i++ {
				dst[i*size] = byte(i + 1)
				src[i*size] = byte(10 * (i + 1))
			}
			Sum(dst, src, dtype, 1)
			for i := 0; i < 4; i++ {
				expected := byte(11 * (i + 1))
				if dst[i*size] != expected {
					t.Errorf("component %d is %d but expected %d",
						i, dst[i*size], expected)
				}
			}
		})
	}
}

func TestSum3(t *testing.T) {
	dst := make([]byte, 12)
	src1 := f32Bytes(1, 2, 3)
	src2 := f32Bytes(10, 10, 10)
	Sum3(dst, src1, src2, kvs.Float32, 0.9)
	expected := []float32{10, 11, 12}
	for i, x := range f32View(dst) {
		if math.Abs(float64(x-expected[i])) > 1e-5 {
			t.Errorf("component %d is %f but expected %f", i, x, expected[i])
		}
	}
}

func TestSum3Aliased(t *testing.T) {
	// m = g + mu*m with dst aliasing the second source.
	m := f32Bytes(1, 2)
	g := f32Bytes(5, 5)
	Sum3(m, g, m, kvs.Float32, 0.5)
	expected := []float32{5.5, 6}
	for i, x := range f32View(m) {
		if x != expected[i] {
			t.Errorf("component %d is %f but expected %f", i, x, expected[i])
		}
	}
}

func TestSparseSum(t *testing.T) {
	dst := f32Bytes(1, 1, 1, 1)
	src := f32Bytes(10, 20, 30, 40)
	SparseSum(dst, src, kvs.Float32, 1, []uint32{1, 3})
	expectedDst := []float32{1, 21, 1, 41}
	expectedSrc := []float32{10, 0, 30, 0}
	for i, x := range f32View(dst) {
		if x != expectedDst[i] {
			t.Errorf("dst component %d is %f but expected %f", i, x, expectedDst[i])
		}
	}
	for i, x := range f32View(src) {
		if x != expectedSrc[i] {
			t.Errorf("src component %d is %f but expected %f", i, x, expectedSrc[i])
		}
	}
}

func TestCopyTrailingBytes(t *testing.T) {
	// 10 bytes of float32 data: two whole elements plus
	// two trailing bytes that must be copied verbatim.
	src := make([]byte, 10)
	for i := range src {
		src[i] = byte(i + 1)
	}
	dst := make([]byte, 10)
	Copy(dst, src)
	for i := range src {
		if dst[i] != src[i] {
			t.Errorf("byte %d is %d but expected %d", i, dst[i], src[i])
		}
	}
}

func TestMixedPrecisionRoundTrip(t *testing.T) {
	xs := make([]float32, 8)
	for i := range xs {
		xs[i] = float32(rand.NormFloat64())
	}
	half := f16Bytes(xs...)
	full := make([]byte, len(xs)*4)
	CopyPromote(full, half)
	for i, x := range f32View(full) {
		expected := float16.Fromfloat32(xs[i]).Float32()
		if x != expected {
			t.Errorf("component %d promoted to %f but expected %f", i, x, expected)
		}
	}
	SumPromote(full, half)
	back := make([]byte, len(half))
	CopyDemote(back, full)
	for i, bits := range u16View(back) {
		got := float16.Frombits(bits).Float32()
		expected := 2 * float16.Fromfloat32(xs[i]).Float32()
		if math.Abs(float64(got-expected)) > 1e-2 {
			t.Errorf("component %d demoted to %f but expected about %f",
				i, got, expected)
		}
	}
}

func TestAlign(t *testing.T) {
	page := Align(1)
	for _, n := range []int{1, page - 1, page, page + 1, 3 * page} {
		a := Align(n)
		if a < n || a%page != 0 {
			t.Errorf("Align(%d) = %d is not a page multiple covering n", n, a)
		}
	}
}

func TestAllocAligned(t *testing.T) {
	buf, err := AllocAligned(100)
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != Align(100) {
		t.Errorf("buffer has length %d but expected %d", len(buf), Align(100))
	}
	addr := uintptr(unsafe.Pointer(&buf[0]))
	if addr%uintptr(Align(1)) != 0 {
		t.Errorf("buffer address %#x is not page aligned", addr)
	}
	for i, b := range buf {
		if b != 0 {
			t.Errorf("byte %d is %d but expected 0", i, b)
			break
		}
	}
	if err := FreeAligned(buf); err != nil {
		t.Fatal(err)
	}
}
