package reduce

import "github.com/x448/float16"

// Mixed-precision kernels for the transmit-in-fp16,
// aggregate-in-fp32 policy. The fp16 buffer always holds
// half as many bytes as its fp32 counterpart.

// CopyPromote widens the fp16 elements of src into the
// fp32 buffer dst.
func CopyPromote(dst, src []byte) {
	d := f32View(dst)
	s := u16View(src)
	for i, x := range s {
		d[i] = float16.Frombits(x).Float32()
	}
}

// SumPromote accumulates the fp16 elements of src into the
// fp32 buffer dst.
func SumPromote(dst, src []byte) {
	d := f32View(dst)
	s := u16View(src)
	for i, x := range s {
		d[i] += float16.Frombits(x).Float32()
	}
}

// CopyDemote narrows the fp32 elements of src into the
// fp16 buffer dst.
func CopyDemote(dst, src []byte) {
	d := u16View(dst)
	s := f32View(src)
	for i := range d {
		d[i] = float16.Fromfloat32(s[i]).Bits()
	}
}
