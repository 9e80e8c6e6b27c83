package compress

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultLRFile is the shared-memory learning-rate
// register: an 8-byte file holding one native-endian
// float64, written by the training loop and read by the
// learning-rate-aware error-feedback decorators.
const DefaultLRFile = "lr.s"

// lrRegister is the read side of the learning-rate
// channel: a one-writer/many-reader double slot backed by
// a memory-mapped file.
type lrRegister struct {
	data []byte
}

func openLRRegister(path string) (*lrRegister, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	data, err := unix.Mmap(fd, 0, 8, unix.PROT_READ, unix.MAP_SHARED)
	unix.Close(fd)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %s", path)
	}
	return &lrRegister{data: data}, nil
}

// Read returns the current learning rate.
func (l *lrRegister) Read() float64 {
	return *(*float64)(unsafe.Pointer(&l.data[0]))
}

// Close unmaps the register.
func (l *lrRegister) Close() error {
	return unix.Munmap(l.data)
}
