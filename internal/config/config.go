// Package config provides configuration loading and validation for cowdb.
package config

import "time"

// Config holds the complete environment configuration.
type Config struct {
	Dir          string         `yaml:"dir"`
	Log          LogStoreConfig `yaml:"log"`
	Tree         TreeConfig     `yaml:"tree"`
	Transactions TxConfig       `yaml:"transactions"`
	GC           GCConfig       `yaml:"gc"`
	Logging      LogConfig      `yaml:"logging"`
}

// LogStoreConfig holds append-only log configuration.
type LogStoreConfig struct {
	FileSize             string `yaml:"fileSize"`
	CacheSize            int    `yaml:"cacheSize"`
	SyncOnEndWrite       bool   `yaml:"syncOnEndWrite"`
	CompressionThreshold int    `yaml:"compressionThreshold"`
	MmapSealedFiles      bool   `yaml:"mmapSealedFiles"`
}

// TreeConfig holds tree page configuration.
type TreeConfig struct {
	PageMaxSize    int `yaml:"pageMaxSize"`
	DupPageMaxSize int `yaml:"dupPageMaxSize"`
}

// TxConfig holds transaction dispatcher and replay configuration.
type TxConfig struct {
	Permits             int           `yaml:"permits"`
	ReplayMaxCount      int           `yaml:"replayMaxCount"`
	ReplayMaxAge        time.Duration `yaml:"replayMaxAge"`
	DowngradeAfterFlush bool          `yaml:"downgradeAfterFlush"`
}

// GCConfig holds garbage collector configuration.
type GCConfig struct {
	Enabled                bool          `yaml:"enabled"`
	Interval               time.Duration `yaml:"interval"`
	MinUtilization         int           `yaml:"minUtilization"`
	FilesToKeep            int           `yaml:"filesToKeep"`
	TransactionTimeout     time.Duration `yaml:"transactionTimeout"`
	UtilizationFromScratch bool          `yaml:"utilizationFromScratch"`
	BloomFalsePositiveRate float64       `yaml:"bloomFalsePositiveRate"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}
