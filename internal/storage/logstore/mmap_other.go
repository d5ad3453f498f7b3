//go:build !unix

package logstore

import "os"

const mmapSupported = false

func mmap(_ *os.File, _ int64) ([]byte, error) {
	return nil, nil
}

func munmap(_ []byte) error {
	return nil
}
