package env

import (
	"context"
	"time"

	"github.com/KilimcininKorOglu/cowdb/internal/logging"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/btree"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tx"
)

// Default option values.
const (
	DefaultPermits        = 8
	DefaultReplayMaxCount = 2
	DefaultReplayMaxAge   = 2 * time.Second
)

// Options configures an Environment.
type Options struct {
	// Log configures the record log.
	Log logstore.Options

	// Tree holds the page sizes of multi-way trees.
	Tree btree.Config

	// Permits is the number of concurrent read-write transactions.
	Permits int

	// ReplayMaxCount is the number of failed flushes after which a
	// transaction asks for exclusive permits.
	ReplayMaxCount int

	// ReplayMaxAge is the age after which a replayed transaction asks for
	// exclusive permits.
	ReplayMaxAge time.Duration

	// DowngradeAfterFlush returns escalated transactions to one permit once
	// they flushed.
	DowngradeAfterFlush bool

	// ReadOnly opens the environment without write access.
	ReadOnly bool

	// Logger receives log events. Nil means no logging.
	Logger logging.Logger
}

// DefaultOptions returns the default environment options.
func DefaultOptions() Options {
	return Options{
		Log:                 logstore.DefaultOptions(),
		Tree:                btree.DefaultConfig(),
		Permits:             DefaultPermits,
		ReplayMaxCount:      DefaultReplayMaxCount,
		ReplayMaxAge:        DefaultReplayMaxAge,
		DowngradeAfterFlush: true,
	}
}

// WithLog sets the log options.
func (o Options) WithLog(opts logstore.Options) Options {
	o.Log = opts
	return o
}

// WithTree sets the multi-way tree page sizes.
func (o Options) WithTree(cfg btree.Config) Options {
	o.Tree = cfg
	return o
}

// WithPermits sets the number of dispatcher permits.
func (o Options) WithPermits(n int) Options {
	o.Permits = n
	return o
}

// WithReplayLimits sets the replay escalation thresholds.
func (o Options) WithReplayLimits(count int, age time.Duration) Options {
	o.ReplayMaxCount = count
	o.ReplayMaxAge = age
	return o
}

// WithDowngradeAfterFlush sets whether escalated transactions are
// downgraded after a successful flush.
func (o Options) WithDowngradeAfterFlush(enabled bool) Options {
	o.DowngradeAfterFlush = enabled
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

func (o Options) normalized() Options {
	if o.Permits < 1 {
		o.Permits = DefaultPermits
	}
	if o.ReplayMaxCount < 1 {
		o.ReplayMaxCount = DefaultReplayMaxCount
	}
	if o.ReplayMaxAge <= 0 {
		o.ReplayMaxAge = DefaultReplayMaxAge
	}
	if o.Logger == nil {
		o.Logger = logging.NewNop()
	}
	if o.Log.Logger == nil {
		o.Log.Logger = o.Logger
	}
	if o.ReadOnly {
		o.Log.ReadOnly = true
	}
	return o
}

// TxOption configures a transaction at begin.
type TxOption func(*txOptions)

type txOptions struct {
	readOnly  bool
	exclusive bool
	owner     tx.Owner
	ctx       context.Context
	timeout   time.Duration
}

// ReadOnly begins a read-only transaction.
func ReadOnly() TxOption {
	return func(o *txOptions) { o.readOnly = true }
}

// Exclusive begins a transaction holding every dispatcher permit.
func Exclusive() TxOption {
	return func(o *txOptions) { o.exclusive = true }
}

// ExclusiveWithin begins an exclusive transaction, failing with
// tx.ErrAcquireTimeout when the permits are not obtained within timeout.
func ExclusiveWithin(timeout time.Duration) TxOption {
	return func(o *txOptions) {
		o.exclusive = true
		o.timeout = timeout
	}
}

// WithOwner makes the transaction acquire permits on behalf of owner, so
// that it can be opened while another transaction of owner is active.
func WithOwner(owner tx.Owner) TxOption {
	return func(o *txOptions) { o.owner = owner }
}

// WithContext bounds permit acquisitions of the transaction by ctx.
func WithContext(ctx context.Context) TxOption {
	return func(o *txOptions) { o.ctx = ctx }
}
