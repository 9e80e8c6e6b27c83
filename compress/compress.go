// Package compress implements the gradient compression
// pipeline: a registry of named compressor factories, the
// base codecs (onebit, topk, randomk, dithering), and the
// momentum and error-feedback decorators that wrap them.
//
// Compressors are stateful and single-threaded: the server
// pins each key to one engine shard, and the key's
// compressor instance is only ever touched from that
// shard's goroutine (in engine-blocking mode, from the
// dispatcher under its mutex instead).
package compress

import "github.com/unixpickle/ps-server/kvs"

// A Tensor is a contiguous native-endian byte buffer with
// an element dtype tag.
type Tensor struct {
	Data  []byte
	DType kvs.DataType
}

// NumElements returns the number of whole elements in the
// tensor.
func (t Tensor) NumElements() int {
	return len(t.Data) / t.DType.Size()
}

// A Compressor turns gradients into compressed payloads
// and back.
//
// The returned tensors alias buffers owned by the
// compressor. A result stays valid until the next call of
// the same method on the same compressor; in particular,
// the Compress output buffer keeps a stable backing
// address across steps, which the zero-copy response path
// relies on.
type Compressor interface {
	Compress(grad Tensor) Tensor
	Decompress(compressed Tensor) Tensor
}

// A FusedCompressor can refresh an error-feedback residue
// while compressing, avoiding the extra
// decompress-and-subtract round trip.
type FusedCompressor interface {
	Compressor

	// FusedCompress compresses grad and rewrites err to
	// grad's loss under the chosen encoding.
	FusedCompress(grad, err Tensor) Tensor
}

// buffers is the common storage of the base codecs: the
// compress output buffer and the decompress scratch
// buffer, both sized at construction and reused for the
// compressor's whole lifetime.
type buffers struct {
	size  int
	dtype kvs.DataType
	out   []byte
	dec   []byte
}

func newBuffers(size int, dtype kvs.DataType) buffers {
	return buffers{
		size:  size,
		dtype: dtype,
		// Worst case output is an (index, value) pair per
		// element plus framing.
		out: make([]byte, 2*size+16),
		dec: make([]byte, size),
	}
}
