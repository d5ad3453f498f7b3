// Package config provides configuration loading and validation for cowdb.
package config

import "fmt"

// Size limits for log files.
const (
	MinFileSize = 64 * 1024
	MaxFileSize = 1 << 40
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error

	if config.Dir == "" {
		errs = append(errs, ValidationError{Field: "dir", Message: "directory is required"})
	}

	errs = append(errs, validateLogStoreConfig(&config.Log)...)
	errs = append(errs, validateTreeConfig(&config.Tree)...)
	errs = append(errs, validateTxConfig(&config.Transactions)...)
	errs = append(errs, validateGCConfig(&config.GC)...)
	errs = append(errs, validateLogConfig(&config.Logging)...)

	return errs
}

func validateLogStoreConfig(config *LogStoreConfig) []error {
	var errs []error

	size, err := ParseSize(config.FileSize)
	switch {
	case err != nil:
		errs = append(errs, ValidationError{Field: "log.fileSize", Message: err.Error()})
	case size < MinFileSize || size > MaxFileSize:
		errs = append(errs, ValidationError{
			Field:   "log.fileSize",
			Message: fmt.Sprintf("must be between %d and %d bytes", MinFileSize, int64(MaxFileSize)),
		})
	}

	if config.CacheSize < 0 {
		errs = append(errs, ValidationError{Field: "log.cacheSize", Message: "must not be negative"})
	}
	if config.CompressionThreshold < 0 {
		errs = append(errs, ValidationError{Field: "log.compressionThreshold", Message: "must not be negative"})
	}

	return errs
}

func validateTreeConfig(config *TreeConfig) []error {
	var errs []error

	if config.PageMaxSize < 4 {
		errs = append(errs, ValidationError{Field: "tree.pageMaxSize", Message: "must be at least 4"})
	}
	if config.DupPageMaxSize < 4 {
		errs = append(errs, ValidationError{Field: "tree.dupPageMaxSize", Message: "must be at least 4"})
	}

	return errs
}

func validateTxConfig(config *TxConfig) []error {
	var errs []error

	if config.Permits < 1 {
		errs = append(errs, ValidationError{Field: "transactions.permits", Message: "must be at least 1"})
	}
	if config.ReplayMaxCount < 0 {
		errs = append(errs, ValidationError{Field: "transactions.replayMaxCount", Message: "must not be negative"})
	}
	if config.ReplayMaxAge < 0 {
		errs = append(errs, ValidationError{Field: "transactions.replayMaxAge", Message: "must not be negative"})
	}

	return errs
}

func validateGCConfig(config *GCConfig) []error {
	var errs []error

	if config.Enabled && config.Interval <= 0 {
		errs = append(errs, ValidationError{Field: "gc.interval", Message: "must be positive when gc is enabled"})
	}
	if config.MinUtilization < 1 || config.MinUtilization > 90 {
		errs = append(errs, ValidationError{Field: "gc.minUtilization", Message: "must be between 1 and 90"})
	}
	if config.FilesToKeep < 1 {
		errs = append(errs, ValidationError{Field: "gc.filesToKeep", Message: "must be at least 1"})
	}
	if config.TransactionTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "gc.transactionTimeout", Message: "must be positive"})
	}
	if config.BloomFalsePositiveRate <= 0 || config.BloomFalsePositiveRate >= 1 {
		errs = append(errs, ValidationError{Field: "gc.bloomFalsePositiveRate", Message: "must be in (0, 1)"})
	}

	return errs
}

func validateLogConfig(config *LogConfig) []error {
	var errs []error

	switch config.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level %q (must be debug, info, warn, or error)", config.Level),
		})
	}

	switch config.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid format %q (must be text or json)", config.Format),
		})
	}

	return errs
}
