package gc

import (
	"time"

	"github.com/KilimcininKorOglu/cowdb/internal/logging"
)

// Default option values.
const (
	DefaultInterval               = 30 * time.Second
	DefaultMinUtilization         = 50
	DefaultFilesToKeep            = 2
	DefaultTransactionTimeout     = time.Second
	DefaultBloomFalsePositiveRate = 0.01
)

// Options configures a Collector.
type Options struct {
	// Interval is the time between background cleaning passes.
	Interval time.Duration

	// MinUtilization is the live percentage below which a file is cleaned.
	MinUtilization int

	// FilesToKeep is the number of newest files never cleaned.
	FilesToKeep int

	// TransactionTimeout bounds the wait for exclusive permits.
	TransactionTimeout time.Duration

	// UtilizationFromScratch rebuilds the profile from the live trees when
	// the collector is created.
	UtilizationFromScratch bool

	// BloomFalsePositiveRate sizes the live-address filter used to rebuild
	// the profile.
	BloomFalsePositiveRate float64

	// Logger receives log events. Nil means the environment logger.
	Logger logging.Logger
}

// DefaultOptions returns the default collector options.
func DefaultOptions() Options {
	return Options{
		Interval:               DefaultInterval,
		MinUtilization:         DefaultMinUtilization,
		FilesToKeep:            DefaultFilesToKeep,
		TransactionTimeout:     DefaultTransactionTimeout,
		BloomFalsePositiveRate: DefaultBloomFalsePositiveRate,
	}
}

// WithInterval sets the background pass interval.
func (o Options) WithInterval(d time.Duration) Options {
	o.Interval = d
	return o
}

// WithMinUtilization sets the cleaning threshold in percent.
func (o Options) WithMinUtilization(percent int) Options {
	o.MinUtilization = percent
	return o
}

// WithFilesToKeep sets the number of newest files left alone.
func (o Options) WithFilesToKeep(n int) Options {
	o.FilesToKeep = n
	return o
}

// WithTransactionTimeout sets the exclusive permit timeout.
func (o Options) WithTransactionTimeout(d time.Duration) Options {
	o.TransactionTimeout = d
	return o
}

// WithUtilizationFromScratch sets whether the profile is rebuilt on start.
func (o Options) WithUtilizationFromScratch(enabled bool, falsePositiveRate float64) Options {
	o.UtilizationFromScratch = enabled
	o.BloomFalsePositiveRate = falsePositiveRate
	return o
}

// WithLogger sets the logger.
func (o Options) WithLogger(logger logging.Logger) Options {
	o.Logger = logger
	return o
}

func (o Options) normalized() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.MinUtilization <= 0 || o.MinUtilization > 100 {
		o.MinUtilization = DefaultMinUtilization
	}
	if o.FilesToKeep < 1 {
		o.FilesToKeep = DefaultFilesToKeep
	}
	if o.TransactionTimeout <= 0 {
		o.TransactionTimeout = DefaultTransactionTimeout
	}
	if o.BloomFalsePositiveRate <= 0 || o.BloomFalsePositiveRate >= 1 {
		o.BloomFalsePositiveRate = DefaultBloomFalsePositiveRate
	}
	return o
}
