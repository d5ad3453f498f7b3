package logstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// File header constants.
const (
	FileHeaderSize = 32
	fileExt        = ".cdb"
	fileVersion    = 1

	// MaxFileSize bounds the configurable file size.
	MaxFileSize = 1 << 40
)

var fileMagic = [4]byte{'C', 'W', 'D', 'B'}

// fileHeader is the fixed prefix of every log file.
type fileHeader struct {
	envID   uuid.UUID
	address Address
}

func (h fileHeader) encode() []byte {
	buf := make([]byte, FileHeaderSize)
	copy(buf[0:4], fileMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], fileVersion)
	copy(buf[8:24], h.envID[:])
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.address))
	return buf
}

func decodeFileHeader(buf []byte) (fileHeader, error) {
	if len(buf) < FileHeaderSize {
		return fileHeader{}, fmt.Errorf("%w: short file header", ErrCorrupted)
	}
	if [4]byte(buf[0:4]) != fileMagic {
		return fileHeader{}, fmt.Errorf("%w: bad file magic", ErrCorrupted)
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != fileVersion {
		return fileHeader{}, fmt.Errorf("%w: unsupported file version %d", ErrCorrupted, v)
	}
	var h fileHeader
	copy(h.envID[:], buf[8:24])
	h.address = Address(binary.LittleEndian.Uint64(buf[24:32]))
	return h, nil
}

// logFile is one file of the log.
type logFile struct {
	address Address
	path    string
	f       *os.File
	// length is the number of bytes durable in the file or its write buffer.
	length int64
	// mapped holds the read-only mapping of a sealed file.
	mapped []byte
}

// fileName returns the file name for a file address.
func fileName(addr Address) string {
	return fmt.Sprintf("%016x%s", uint64(addr), fileExt)
}

// parseFileName extracts the address from a log file name.
func parseFileName(name string) (Address, bool) {
	if !strings.HasSuffix(name, fileExt) {
		return 0, false
	}
	v, err := strconv.ParseUint(strings.TrimSuffix(name, fileExt), 16, 64)
	if err != nil {
		return 0, false
	}
	return Address(v), true
}

// listFiles returns the addresses of all log files in dir, ascending.
func listFiles(dir string) ([]Address, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var addrs []Address
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if addr, ok := parseFileName(e.Name()); ok {
			addrs = append(addrs, addr)
		}
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs, nil
}

// createFile creates a new log file and writes its header.
func createFile(dir string, addr Address, envID uuid.UUID) (*logFile, error) {
	path := filepath.Join(dir, fileName(addr))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, err
	}
	if _, err := f.Write(fileHeader{envID: envID, address: addr}.encode()); err != nil {
		f.Close()
		return nil, err
	}
	return &logFile{address: addr, path: path, f: f, length: FileHeaderSize}, nil
}

// openFile opens an existing log file and validates its header.
func openFile(dir string, addr Address, readOnly bool) (*logFile, fileHeader, error) {
	path := filepath.Join(dir, fileName(addr))
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fileHeader{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fileHeader{}, err
	}
	buf := make([]byte, FileHeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		f.Close()
		return nil, fileHeader{}, fmt.Errorf("%w: %s: %v", ErrCorrupted, path, err)
	}
	hdr, err := decodeFileHeader(buf)
	if err != nil {
		f.Close()
		return nil, fileHeader{}, fmt.Errorf("%s: %w", path, err)
	}
	if hdr.address != addr {
		f.Close()
		return nil, fileHeader{}, fmt.Errorf("%w: %s: header address %d", ErrCorrupted, path, hdr.address)
	}
	return &logFile{address: addr, path: path, f: f, length: info.Size()}, hdr, nil
}

// readAt reads n bytes at offset off within the file, clamped to its length.
func (lf *logFile) readAt(off int64, n int) ([]byte, error) {
	if off >= lf.length {
		return nil, io.EOF
	}
	if rem := lf.length - off; int64(n) > rem {
		n = int(rem)
	}
	if lf.mapped != nil {
		return lf.mapped[off : off+int64(n)], nil
	}
	buf := make([]byte, n)
	if _, err := lf.f.ReadAt(buf, off); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// readRecord decodes the record at offset off.
func (lf *logFile) readRecord(off int64) (recordHeader, []byte, error) {
	prefix, err := lf.readAt(off, maxRecordHeader)
	if err != nil {
		return recordHeader{}, nil, err
	}
	h, err := decodeHeader(prefix)
	if err != nil || h.typ == PaddingType {
		return h, nil, err
	}
	if off+int64(h.total()) > lf.length {
		return recordHeader{}, nil, fmt.Errorf("%w: record at %d overruns file", ErrCorrupted, off)
	}
	buf := prefix
	if len(prefix) < h.total() {
		buf, err = lf.readAt(off, h.total())
		if err != nil {
			return recordHeader{}, nil, err
		}
	}
	payload, err := decodeBody(h, buf)
	return h, payload, err
}

// close releases the mapping and the descriptor.
func (lf *logFile) close() error {
	var err error
	if lf.mapped != nil {
		err = munmap(lf.mapped)
		lf.mapped = nil
	}
	if cerr := lf.f.Close(); err == nil {
		err = cerr
	}
	return err
}
