package config

import (
	"github.com/KilimcininKorOglu/cowdb/internal/logging"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/btree"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/env"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/gc"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
)

// NewLogger builds the logger described by the logging section.
func (c *Config) NewLogger() logging.Logger {
	return logging.New(logging.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	})
}

// LogOptions converts the log section.
func (c *Config) LogOptions() logstore.Options {
	return logstore.DefaultOptions().
		WithFileSize(c.FileSizeBytes()).
		WithCacheSize(c.Log.CacheSize).
		WithSyncOnEndWrite(c.Log.SyncOnEndWrite).
		WithCompressionThreshold(c.Log.CompressionThreshold).
		WithMmapSealedFiles(c.Log.MmapSealedFiles)
}

// EnvOptions converts the configuration into environment options.
func (c *Config) EnvOptions(logger logging.Logger) env.Options {
	tree := btree.DefaultConfig().
		WithPageMaxSize(c.Tree.PageMaxSize).
		WithDupPageMaxSize(c.Tree.DupPageMaxSize)
	return env.DefaultOptions().
		WithLog(c.LogOptions()).
		WithTree(tree).
		WithPermits(c.Transactions.Permits).
		WithReplayLimits(c.Transactions.ReplayMaxCount, c.Transactions.ReplayMaxAge).
		WithDowngradeAfterFlush(c.Transactions.DowngradeAfterFlush).
		WithLogger(logger)
}

// GCOptions converts the gc section.
func (c *Config) GCOptions(logger logging.Logger) gc.Options {
	return gc.DefaultOptions().
		WithInterval(c.GC.Interval).
		WithMinUtilization(c.GC.MinUtilization).
		WithFilesToKeep(c.GC.FilesToKeep).
		WithTransactionTimeout(c.GC.TransactionTimeout).
		WithUtilizationFromScratch(c.GC.UtilizationFromScratch, c.GC.BloomFalsePositiveRate).
		WithLogger(logger)
}
