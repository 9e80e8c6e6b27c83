package compress

import (
	"io"

	"github.com/pkg/errors"

	"github.com/unixpickle/ps-server/kvs"
	"github.com/unixpickle/ps-server/reduce"
)

func init() {
	Register("vanilla_ef", newVanillaEF)
	Register("corrected_ef", newCorrectedEF)
	Register("sparse_ef", newSparseEF)
}

// errorFeedback is the common core of the error-feedback
// decorators: it owns the residue buffer e, folds it into
// the gradient before compression (the fold itself is the
// variant hook), and refreshes it with the loss of the
// chosen encoding afterwards.
//
// e starts out zero and stays the size of the full
// gradient.
type errorFeedback struct {
	inner Compressor
	buf   []byte
	dtype kvs.DataType
}

func newErrorFeedback(size int, dtype kvs.DataType, inner Compressor) (errorFeedback, error) {
	if inner == nil {
		return errorFeedback{}, errors.New("error feedback must wrap a compressor")
	}
	return errorFeedback{inner: inner, buf: make([]byte, size), dtype: dtype}, nil
}

// compressCorrected compresses a gradient that already had
// the residue folded in, updating the residue to
// g - decompress(compress(g)).
func (e *errorFeedback) compressCorrected(grad Tensor) Tensor {
	errTensor := Tensor{Data: e.buf[:len(grad.Data)], DType: grad.DType}
	if fused, ok := e.inner.(FusedCompressor); ok {
		return fused.FusedCompress(grad, errTensor)
	}
	compressed := e.inner.Compress(grad)
	decompressed := e.inner.Decompress(compressed)
	reduce.Sum3(errTensor.Data, grad.Data,
		decompressed.Data[:len(grad.Data)], grad.DType, -1)
	return compressed
}

func (e *errorFeedback) Decompress(compressed Tensor) Tensor {
	return e.inner.Decompress(compressed)
}

func (e *errorFeedback) Close() error {
	if c, ok := e.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// vanillaEF folds the whole residue into the gradient at
// unit scale: g <- g + e.
type vanillaEF struct {
	errorFeedback
}

func newVanillaEF(kw Kwargs, size int, dtype kvs.DataType, inner Compressor) (Compressor, error) {
	ef, err := newErrorFeedback(size, dtype, inner)
	if err != nil {
		return nil, err
	}
	return &vanillaEF{errorFeedback: ef}, nil
}

func (v *vanillaEF) Compress(grad Tensor) Tensor {
	reduce.Sum(grad.Data, v.buf[:len(grad.Data)], grad.DType, 1)
	return v.compressCorrected(grad)
}

// correctedEF rescales the residue by the learning-rate
// ratio lr_prev/lr_cur before folding it in, compensating
// for schedule changes between the step the residue was
// produced and the step it is applied.
type correctedEF struct {
	errorFeedback
	lr    *lrRegister
	preLR float64
}

func newCorrectedEF(kw Kwargs, size int, dtype kvs.DataType, inner Compressor) (Compressor, error) {
	ef, err := newErrorFeedback(size, dtype, inner)
	if err != nil {
		return nil, err
	}
	lr, err := openLRRegister(DefaultLRFile)
	if err != nil {
		return nil, err
	}
	return &correctedEF{errorFeedback: ef, lr: lr, preLR: lr.Read()}, nil
}

func (c *correctedEF) Compress(grad Tensor) Tensor {
	curLR := c.lr.Read()
	reduce.Sum(grad.Data, c.buf[:len(grad.Data)], grad.DType, c.preLR/curLR)
	c.preLR = curLR
	return c.compressCorrected(grad)
}

func (c *correctedEF) Close() error {
	err := c.lr.Close()
	if inner := c.errorFeedback.Close(); err == nil {
		err = inner
	}
	return err
}

// sparseEF folds the residue at k uniformly-random indices
// per step, zeroing those residue entries, with the same
// learning-rate correction as correctedEF.
type sparseEF struct {
	errorFeedback
	lr    *lrRegister
	preLR float64
	k     int
	rng   *RNG
}

func newSparseEF(kw Kwargs, size int, dtype kvs.DataType, inner Compressor) (Compressor, error) {
	ef, err := newErrorFeedback(size, dtype, inner)
	if err != nil {
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
		rng.Seed(uint64(seed + k))
	}
	lr, err := openLRRegister(DefaultLRFile)
	if err != nil {
		return nil, err
	}
	return &sparseEF{
		errorFeedback: ef,
		lr:            lr,
		preLR:         lr.Read(),
		k:             k,
		rng:           rng,
	}, nil
}

func (s *sparseEF) Compress(grad Tensor) Tensor {
	curLR := s.lr.Read()
	numElems := grad.NumElements()
	idx := make([]uint32, 0, s.k)
	for i := 0; i < s.k; i++ {
		idx = append(idx, uint32(s.rng.Randint(0, uint64(numElems))))
	}
	reduce.SparseSum(grad.Data, s.buf, grad.DType, s.preLR/curLR, idx)
	s.preLR = curLR
	return s.compressCorrected(grad)
}

func (s *sparseEF) Close() error {
	err := s.lr.Close()
	if inner := s.errorFeedback.Close(); err == nil {
		err = inner
	}
	return err
}
