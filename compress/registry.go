package compress

import (
	"github.com/pkg/errors"

	"github.com/unixpickle/ps-server/kvs"
)

// A Factory builds a compressor from kwargs. Base codec
// factories receive a nil inner compressor; decorator
// factories wrap the one they are given.
type Factory func(kw Kwargs, size int, dtype kvs.DataType, inner Compressor) (Compressor, error)

var registry = map[string]Factory{}

// Register adds a named factory. It panics on duplicate
// names and is meant to be called from init functions.
func Register(name string, f Factory) {
	if _, ok := registry[name]; ok {
		panic("duplicate compressor name: " + name)
	}
	registry[name] = f
}

func create(name string, kw Kwargs, size int, dtype kvs.DataType, inner Compressor) (Compressor, error) {
	f, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown compressor %q", name)
	}
	c, err := f(kw, size, dtype, inner)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	return c, nil
}

// Create builds the compressor pipeline described by
// kwargs: the base codec named by "compressor", wrapped by
// the optional "ef_type" error-feedback decorator, wrapped
// by the optional "momentum_type" decorator (momentum
// outermost).
//
// size is the byte size of the buffers the compressor will
// see; dtype is their element type.
func Create(kw Kwargs, size int, dtype kvs.DataType) (Compressor, error) {
	name, ok := kw["compressor"]
	if !ok {
		return nil, errors.New(`kwargs are missing the "compressor" entry`)
	}
	c, err := create(name, kw, size, dtype, nil)
	if err != nil {
		return nil, err
	}
	if efName, ok := kw["ef_type"]; ok {
		if c, err = create(efName, kw, size, dtype, c); err != nil {
			return nil, err
		}
	}
	if momName, ok := kw["momentum_type"]; ok {
		if c, err = create(momName, kw, size, dtype, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// findK resolves a k hyper-parameter. Values in (0, 1) are
// a fraction of the element count (minimum 1); anything
// else is an absolute count, clamped to the element count.
func findK(kw Kwargs, name string, size int, dtype kvs.DataType) (int, error) {
	factor, err := FindFloat(kw, name, false, func(x float64) bool { return x > 0 })
	if err != nil {
		return 0, err
	}
	numElems := size / dtype.Size()
	var k int
	if factor < 1 {
		k = int(factor * float64(numElems))
		if k == 0 {
			k = 1
		}
	} else {
		k = int(factor)
	}
	if k > numElems {
		k = numElems
	}
	return k, nil
}

func checkFloat32(name string, dtype kvs.DataType) error {
	if dtype != kvs.Float32 {
		return errors.Errorf("%s requires float32 gradients, got %v", name, dtype)
	}
	return nil
}

func checkBase(name string, inner Compressor) error {
	if inner != nil {
		return errors.Errorf("%s is a base codec and cannot wrap another compressor", name)
	}
	return nil
}
