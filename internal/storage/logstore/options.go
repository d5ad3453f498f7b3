package logstore

import (
	"github.com/KilimcininKorOglu/cowdb/internal/logging"
)

// Default option values.
const (
	DefaultFileSize             = 8 * 1024 * 1024
	DefaultCacheSize            = 4096
	DefaultCompressionThreshold = 1024
)

// Options configures a Log.
type Options struct {
	// FileSize is the capacity of each log file in bytes, header included.
	FileSize int64

	// CacheSize is the number of decoded records kept in the read cache.
	// Zero disables caching.
	CacheSize int

	// SyncOnEndWrite syncs the writable file at the end of each write bracket.
	SyncOnEndWrite bool

	// CompressionThreshold is the payload size from which snappy compression
	// is attempted. Zero disables compression.
	CompressionThreshold int

	// MmapSealedFiles maps files that are no longer written to into memory.
	MmapSealedFiles bool

	// ReadOnly opens the log without write access.
	ReadOnly bool

	// Logger receives log events. Nil means no logging.
	Logger logging.Logger
}

// DefaultOptions returns the default log options.
func DefaultOptions() Options {
	return Options{
		FileSize:             DefaultFileSize,
		CacheSize:            DefaultCacheSize,
		SyncOnEndWrite:       false,
		CompressionThreshold: DefaultCompressionThreshold,
		MmapSealedFiles:      true,
	}
}

// WithFileSize sets the log file size.
func (o Options) WithFileSize(size int64) Options {
	o.FileSize = size
	return o
}

// WithCacheSize sets the read cache size.
func (o Options) WithCacheSize(size int) Options {
	o.CacheSize = size
	return o
}

// WithSyncOnEndWrite sets whether EndWrite syncs to disk.
func (o Options) WithSyncOnEndWrite(sync bool) Options {
	o.SyncOnEndWrite = sync
	return o
}

// WithCompressionThreshold sets the payload compression threshold.
func (o Options) WithCompressionThreshold(n int) Options {
	o.CompressionThreshold = n
	return o
}

// WithMmapSealedFiles sets whether sealed files are memory mapped.
func (o Options) WithMmapSealedFiles(enabled bool) Options {
	o.MmapSealedFiles = enabled
	return o
}

// WithReadOnly sets read-only mode.
func (o Options) WithReadOnly(readOnly bool) Options {
	o.ReadOnly = readOnly
	return o
}

// WithLogger sets the logger.
func (o Options) WithLogger(logger logging.Logger) Options {
	o.Logger = logger
	return o
}
