package logstore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"lukechampine.com/blake3"

	"github.com/KilimcininKorOglu/cowdb/internal/logging"
)

// Log errors.
var (
	ErrClosed         = errors.New("log is closed")
	ErrCorrupted      = errors.New("log is corrupted")
	ErrReadOnly       = errors.New("log is read-only")
	ErrRecordTooLarge = errors.New("record too large for a log file")
	ErrInvalidAddress = errors.New("invalid log address")
	ErrActiveFile     = errors.New("cannot remove the writable log file")
	ErrForeignFile    = errors.New("log file belongs to another environment")
	ErrReservedType   = errors.New("record type 0 is reserved for padding")
	ErrInvalidOptions = errors.New("invalid log options")
)

const writeBufferSize = 64 * 1024

// Log is an append-only sequence of records spread over fixed-size files.
// Reads are safe for concurrent use with each other and with writes.
type Log struct {
	dir    string
	opts   Options
	logger logging.Logger
	envID  uuid.UUID

	// mu protects files, writable, w and flushed.
	mu       sync.RWMutex
	files    map[Address]*logFile
	writable *logFile
	w        *bufio.Writer
	flushed  int64

	// writeMu is held between BeginWrite and EndWrite.
	writeMu sync.Mutex

	cache    *recordCache
	readOnly atomic.Bool
	closed   atomic.Bool
}

// Open opens the log in dir, creating it if necessary.
func Open(dir string, opts Options) (*Log, error) {
	if opts.FileSize <= FileHeaderSize+maxRecordHeader || opts.FileSize > MaxFileSize {
		return nil, fmt.Errorf("%w: file size %d", ErrInvalidOptions, opts.FileSize)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	l := &Log{
		dir:    dir,
		opts:   opts,
		logger: opts.Logger.WithFields("component", "log"),
		files:  make(map[Address]*logFile),
	}
	if opts.CacheSize > 0 {
		l.cache = newRecordCache(opts.CacheSize)
	}
	l.readOnly.Store(opts.ReadOnly)

	addrs, err := listFiles(dir)
	if err != nil {
		return nil, err
	}

	if len(addrs) == 0 {
		if opts.ReadOnly {
			return nil, fmt.Errorf("%w: no log files in %s", ErrInvalidAddress, dir)
		}
		l.envID = uuid.New()
		lf, err := createFile(dir, 0, l.envID)
		if err != nil {
			return nil, err
		}
		l.files[0] = lf
		l.setWritable(lf)
		l.logger.Info("created log", "dir", dir, "env", l.envID.String())
		return l, nil
	}

	if err := l.openExisting(addrs); err != nil {
		l.closeFiles()
		return nil, err
	}
	return l, nil
}

// openExisting opens all files, seals all but the last and recovers its tail.
func (l *Log) openExisting(addrs []Address) error {
	for i, addr := range addrs {
		if addr%Address(l.opts.FileSize) != 0 {
			return fmt.Errorf("%w: file address %d is not aligned to file size", ErrCorrupted, addr)
		}
		last := i == len(addrs)-1
		lf, hdr, err := openFile(l.dir, addr, l.opts.ReadOnly || !last)
		if err != nil {
			return err
		}
		l.files[addr] = lf
		if i == 0 {
			l.envID = hdr.envID
		} else if hdr.envID != l.envID {
			return fmt.Errorf("%w: %s", ErrForeignFile, lf.path)
		}
		if !last {
			l.seal(lf)
		}
	}

	tail := l.files[addrs[len(addrs)-1]]
	padded, err := l.recoverTail(tail)
	if err != nil {
		return err
	}
	if l.opts.ReadOnly {
		return nil
	}
	if _, err := tail.f.Seek(tail.length, io.SeekStart); err != nil {
		return err
	}
	l.setWritable(tail)
	if padded {
		return l.rotate()
	}
	return nil
}

// recoverTail scans the newest file and truncates a torn final record.
// It reports whether the file ends in padding.
func (l *Log) recoverTail(lf *logFile) (bool, error) {
	off := int64(FileHeaderSize)
	padded := false
	for off < lf.length {
		h, _, err := lf.readRecord(off)
		if err != nil {
			if !errors.Is(err, ErrCorrupted) && err != io.EOF {
				return false, err
			}
			break
		}
		if h.typ == PaddingType {
			padded = true
			off = lf.length
			break
		}
		off += int64(h.total())
	}
	if off < lf.length {
		if l.opts.ReadOnly {
			lf.length = off
			return false, nil
		}
		l.logger.Warn("truncating torn log tail", "file", lf.path, "from", lf.length, "to", off)
		if err := lf.f.Truncate(off); err != nil {
			return false, err
		}
		lf.length = off
	}
	return padded, nil
}

func (l *Log) setWritable(lf *logFile) {
	l.writable = lf
	l.flushed = lf.length
	if l.w == nil {
		l.w = bufio.NewWriterSize(lf.f, writeBufferSize)
	} else {
		l.w.Reset(lf.f)
	}
}

// seal maps a file that will not be written again.
func (l *Log) seal(lf *logFile) {
	if !l.opts.MmapSealedFiles || !mmapSupported || lf.mapped != nil {
		return
	}
	data, err := mmap(lf.f, lf.length)
	if err != nil {
		l.logger.Warn("mmap failed, falling back to pread", "file", lf.path, "error", err)
		return
	}
	lf.mapped = data
}

// ID returns the environment identity stamped into every file.
func (l *Log) ID() uuid.UUID {
	return l.envID
}

// Dir returns the log directory.
func (l *Log) Dir() string {
	return l.dir
}

// FileSize returns the capacity of each log file.
func (l *Log) FileSize() int64 {
	return l.opts.FileSize
}

// FileAddress returns the address of the file containing addr.
func (l *Log) FileAddress(addr Address) Address {
	return addr - addr%Address(l.opts.FileSize)
}

// Write appends a record and returns its address.
func (l *Log) Write(typ byte, structureID uint64, payload []byte) (Address, error) {
	rec, err := l.Append(typ, structureID, payload)
	if err != nil {
		return NullAddress, err
	}
	return rec.Address, nil
}

// Append appends a record and returns it as it will be read back, including
// the number of bytes it occupies in the log.
func (l *Log) Append(typ byte, structureID uint64, payload []byte) (Loggable, error) {
	if l.closed.Load() {
		return Loggable{}, ErrClosed
	}
	if l.readOnly.Load() {
		return Loggable{}, ErrReadOnly
	}
	if typ == PaddingType {
		return Loggable{}, ErrReservedType
	}

	enc := encodeRecord(typ, structureID, payload, l.opts.CompressionThreshold)
	if int64(len(enc)) > l.opts.FileSize-FileHeaderSize {
		return Loggable{}, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(enc))
	}

	l.mu.Lock()
	if l.writable.length+int64(len(enc)) > l.opts.FileSize {
		if err := l.rotate(); err != nil {
			l.mu.Unlock()
			return Loggable{}, err
		}
	}
	addr := l.writable.address + Address(l.writable.length)
	if _, err := l.w.Write(enc); err != nil {
		l.mu.Unlock()
		return Loggable{}, err
	}
	l.writable.length += int64(len(enc))
	l.mu.Unlock()

	data := make([]byte, len(payload))
	copy(data, payload)
	rec := Loggable{
		Address:     addr,
		Type:        typ,
		StructureID: structureID,
		Data:        data,
		Length:      int64(len(enc)),
	}
	l.cache.put(rec)
	return rec, nil
}

// rotate pads and seals the writable file and starts the next one.
// Caller must hold mu.
func (l *Log) rotate() error {
	cur := l.writable
	if cur.length < l.opts.FileSize {
		if err := l.w.WriteByte(PaddingType); err != nil {
			return err
		}
		cur.length++
	}
	if err := l.w.Flush(); err != nil {
		return err
	}
	if err := syncData(cur.f); err != nil {
		return err
	}
	l.flushed = cur.length
	l.seal(cur)

	next, err := createFile(l.dir, cur.address+Address(l.opts.FileSize), l.envID)
	if err != nil {
		return err
	}
	l.files[next.address] = next
	l.setWritable(next)
	l.logger.Debug("rotated log file", "file", next.path)
	return nil
}

// flushLocked writes buffered records to the writable file. Caller must hold mu.
func (l *Log) flushLocked() error {
	if l.w == nil || l.flushed == l.writable.length {
		return nil
	}
	if err := l.w.Flush(); err != nil {
		return err
	}
	l.flushed = l.writable.length
	return nil
}

// Flush writes buffered records to the operating system.
func (l *Log) Flush() error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

// BeginWrite starts an exclusive write section.
func (l *Log) BeginWrite() {
	l.writeMu.Lock()
}

// EndWrite ends a write section, flushing and optionally syncing the
// records written within it.
func (l *Log) EndWrite() error {
	defer l.writeMu.Unlock()
	if l.closed.Load() {
		return ErrClosed
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writable == nil {
		return nil
	}
	if err := l.flushLocked(); err != nil {
		return err
	}
	if l.opts.SyncOnEndWrite {
		return syncData(l.writable.f)
	}
	return nil
}

// SetReadOnly rejects every subsequent write.
func (l *Log) SetReadOnly() {
	if !l.readOnly.Swap(true) {
		l.logger.Warn("log switched to read-only")
	}
}

// ReadOnly reports whether writes are rejected.
func (l *Log) ReadOnly() bool {
	return l.readOnly.Load()
}

// Read returns the record at addr.
func (l *Log) Read(addr Address) (Loggable, error) {
	if l.closed.Load() {
		return Loggable{}, ErrClosed
	}
	if rec, ok := l.cache.get(addr); ok {
		return rec, nil
	}
	rec, padding, err := l.readRecord(addr)
	if err != nil {
		return Loggable{}, err
	}
	if padding {
		return Loggable{}, fmt.Errorf("%w: %d is padding", ErrInvalidAddress, addr)
	}
	l.cache.put(rec)
	return rec, nil
}

// readRecord decodes the record at addr, bypassing the cache.
func (l *Log) readRecord(addr Address) (Loggable, bool, error) {
	fileAddr := l.FileAddress(addr)
	off := int64(addr - fileAddr)

	l.mu.RLock()
	lf := l.files[fileAddr]
	if lf == l.writable && lf != nil && l.flushed < lf.length {
		l.mu.RUnlock()
		l.mu.Lock()
		err := l.flushLocked()
		l.mu.Unlock()
		if err != nil {
			return Loggable{}, false, err
		}
		l.mu.RLock()
	}
	defer l.mu.RUnlock()

	if lf == nil || addr < 0 || off < FileHeaderSize || off >= lf.length {
		return Loggable{}, false, fmt.Errorf("%w: %d", ErrInvalidAddress, addr)
	}
	h, payload, err := lf.readRecord(off)
	if err != nil {
		return Loggable{}, false, fmt.Errorf("read %d: %w", addr, err)
	}
	if h.typ == PaddingType {
		return Loggable{Address: addr, Type: PaddingType, Length: lf.length - off}, true, nil
	}
	return Loggable{
		Address:     addr,
		Type:        h.typ,
		StructureID: h.structureID,
		Data:        payload,
		Length:      int64(h.total()),
	}, false, nil
}

// HasAddress reports whether addr lies inside an existing file's written range.
func (l *Log) HasAddress(addr Address) bool {
	if addr < 0 {
		return false
	}
	fileAddr := l.FileAddress(addr)
	off := int64(addr - fileAddr)

	l.mu.RLock()
	defer l.mu.RUnlock()
	lf := l.files[fileAddr]
	return lf != nil && off >= FileHeaderSize && off < lf.length
}

// HighAddress returns the address the next record will be written at,
// barring rotation.
func (l *Log) HighAddress() Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.writable == nil {
		var high Address
		for _, lf := range l.files {
			if end := lf.address + Address(lf.length); end > high {
				high = end
			}
		}
		return high
	}
	return l.writable.address + Address(l.writable.length)
}

// Files returns the addresses of all files, ascending.
func (l *Log) Files() []Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	addrs := make([]Address, 0, len(l.files))
	for addr := range l.files {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// WritableFile returns the address of the file being appended to.
func (l *Log) WritableFile() Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.writable == nil {
		return NullAddress
	}
	return l.writable.address
}

// FileLength returns the number of bytes written to a file, header included.
func (l *Log) FileLength(fileAddr Address) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if lf := l.files[fileAddr]; lf != nil {
		return lf.length
	}
	return 0
}

// RemoveFile deletes a sealed file.
func (l *Log) RemoveFile(fileAddr Address) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if l.readOnly.Load() {
		return ErrReadOnly
	}

	l.mu.Lock()
	lf := l.files[fileAddr]
	if lf == nil {
		l.mu.Unlock()
		return fmt.Errorf("%w: no file at %d", ErrInvalidAddress, fileAddr)
	}
	if lf == l.writable {
		l.mu.Unlock()
		return ErrActiveFile
	}
	delete(l.files, fileAddr)
	l.mu.Unlock()

	l.cache.removeRange(fileAddr, fileAddr+Address(l.opts.FileSize))
	err := multierr.Append(lf.close(), os.Remove(lf.path))
	if err == nil {
		l.logger.Debug("removed log file", "file", lf.path)
	}
	return err
}

// FileDigest returns the BLAKE3 digest of a file's contents.
func (l *Log) FileDigest(fileAddr Address) ([32]byte, error) {
	var sum [32]byte
	if err := l.Flush(); err != nil {
		return sum, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	lf := l.files[fileAddr]
	if lf == nil {
		return sum, fmt.Errorf("%w: no file at %d", ErrInvalidAddress, fileAddr)
	}
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, io.NewSectionReader(lf.f, 0, lf.length)); err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// LastRecordOfType scans files newest first and returns the last record of
// the given type accepted by valid.
func (l *Log) LastRecordOfType(typ byte, valid func(Loggable) bool) (Loggable, bool, error) {
	files := l.Files()
	for i := len(files) - 1; i >= 0; i-- {
		var found Loggable
		ok := false
		it := l.FileIterator(files[i])
		for it.Next() {
			rec := it.Loggable()
			if rec.Type == typ && valid(rec) {
				found, ok = rec, true
			}
		}
		if err := it.Err(); err != nil {
			if !errors.Is(err, ErrCorrupted) {
				return Loggable{}, false, err
			}
			l.logger.Warn("stopped scanning corrupted file", "file", fileName(files[i]), "error", err)
		}
		if ok {
			return found, true, nil
		}
	}
	return Loggable{}, false, nil
}

// Close flushes and closes every file.
func (l *Log) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var err error
	if l.writable != nil {
		err = multierr.Append(err, l.flushLocked())
		err = multierr.Append(err, syncData(l.writable.f))
	}
	return multierr.Append(err, l.closeFiles())
}

func (l *Log) closeFiles() error {
	var err error
	for addr, lf := range l.files {
		err = multierr.Append(err, lf.close())
		delete(l.files, addr)
	}
	return err
}

// Path returns the path of the file at fileAddr.
func (l *Log) Path(fileAddr Address) string {
	return filepath.Join(l.dir, fileName(fileAddr))
}
