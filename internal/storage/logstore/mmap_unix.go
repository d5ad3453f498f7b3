//go:build unix

package logstore

import (
	"os"

	"golang.org/x/sys/unix"
)

const mmapSupported = true

// mmap maps a sealed file read-only.
func mmap(f *os.File, size int64) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	_ = unix.Madvise(data, unix.MADV_RANDOM)
	return data, nil
}

func munmap(data []byte) error {
	return unix.Munmap(data)
}
