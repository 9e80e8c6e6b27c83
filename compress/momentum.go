package compress

import (
	"io"

	"github.com/pkg/errors"

	"github.com/unixpickle/ps-server/kvs"
	"github.com/unixpickle/ps-server/reduce"
)

func init() {
	Register("nesterov_momentum", func(kw Kwargs, size int, dtype kvs.DataType,
		inner Compressor) (Compressor, error) {
		return newMomentum(kw, size, dtype, inner, false)
	})
	Register("vanilla_momentum", func(kw Kwargs, size int, dtype kvs.DataType,
		inner Compressor) (Compressor, error) {
		return newMomentum(kw, size, dtype, inner, true)
	})
}

// momentum is the outermost decorator. On compress it
// updates the buffered momentum m <- mu*m + g, corrects
// the gradient (Nesterov: g <- g + mu*m, vanilla: g <- m)
// and delegates; decompression is forwarded untouched.
type momentum struct {
	inner   Compressor
	mu      float64
	buf     []byte
	dtype   kvs.DataType
	vanilla bool
}

func newMomentum(kw Kwargs, size int, dtype kvs.DataType, inner Compressor,
	vanilla bool) (Compressor, error) {
	if inner == nil {
		return nil, errors.New("momentum must wrap a compressor")
	}
	mu, err := FindFloat(kw, "momentum_mu", false, nil)
	if err != nil {
		return nil, err
	}
	return &momentum{
		inner:   inner,
		mu:      mu,
		buf:     make([]byte, size),
		dtype:   dtype,
		vanilla: vanilla,
	}, nil
}

func (m *momentum) Compress(grad Tensor) Tensor {
	mom := m.buf[:len(grad.Data)]
	// m_t = mu*m_{t-1} + g_t
	reduce.Sum3(mom, grad.Data, mom, grad.DType, m.mu)
	if m.vanilla {
		reduce.Copy(grad.Data, mom)
	} else {
		// p_t = g_t + mu*m_t
		reduce.Sum(grad.Data, mom, grad.DType, m.mu)
	}
	return m.inner.Compress(grad)
}

func (m *momentum) Decompress(compressed Tensor) Tensor {
	return m.inner.Decompress(compressed)
}

func (m *momentum) Close() error {
	if c, ok := m.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
