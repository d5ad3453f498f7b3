// Package config provides configuration loading and validation for cowdb.
package config

import "time"

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Dir: "./data",
		Log: LogStoreConfig{
			FileSize:             "8MiB",
			CacheSize:            4096,
			SyncOnEndWrite:       false,
			CompressionThreshold: 1024,
			MmapSealedFiles:      true,
		},
		Tree: TreeConfig{
			PageMaxSize:    128,
			DupPageMaxSize: 32,
		},
		Transactions: TxConfig{
			Permits:             8,
			ReplayMaxCount:      2,
			ReplayMaxAge:        2 * time.Second,
			DowngradeAfterFlush: true,
		},
		GC: GCConfig{
			Enabled:                true,
			Interval:               30 * time.Second,
			MinUtilization:         50,
			FilesToKeep:            2,
			TransactionTimeout:     time.Second,
			UtilizationFromScratch: false,
			BloomFalsePositiveRate: 0.01,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}
