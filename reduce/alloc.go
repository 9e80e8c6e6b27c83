package reduce

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Align rounds n up to the next multiple of the page size.
func Align(n int) int {
	page := os.Getpagesize()
	return (n + page - 1) &^ (page - 1)
}

// AllocAligned allocates a zeroed, page-aligned buffer of
// Align(n) bytes. The underlying transport registers these
// buffers with RDMA hardware, which requires page-aligned
// backing memory with a stable address.
func AllocAligned(n int) ([]byte, error) {
	buf, err := unix.Mmap(-1, 0, Align(n),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "allocate %d aligned bytes", n)
	}
	return buf, nil
}

// FreeAligned releases a buffer returned by AllocAligned.
func FreeAligned(buf []byte) error {
	if buf == nil {
		return nil
	}
	return unix.Munmap(buf)
}
