package env

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/KilimcininKorOglu/cowdb/internal/logging"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/meta"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tx"
)

// GarbageCollector is the log cleaner attached to an environment.
type GarbageCollector interface {
	// Fetch accounts records made obsolete by a commit.
	Fetch(expired []tree.ExpiredLoggable)
	// Clean runs one cleaning pass.
	Clean(ctx context.Context) error
	// CleanFiles copies the live records of files forward and deletes them.
	CleanFiles(ctx context.Context, files []logstore.Address) error
	Suspend()
	Resume()
	Close() error
}

// Environment is a transactional key-value environment over one log
// directory. It is safe for concurrent use.
type Environment struct {
	dir    string
	opts   Options
	logger logging.Logger
	log    *logstore.Log

	dispatcher *tx.Dispatcher
	active     *tx.ActiveSet
	deferred   *tx.DeferredQueue

	// metaMu guards current. It is only held to pin or swap the pointer.
	metaMu  sync.RWMutex
	current *meta.Tree

	// commitMu serializes the write phase and publication of commits.
	commitMu sync.Mutex

	lastTxID    atomic.Uint64
	inoperative atomic.Pointer[error]
	closed      atomic.Bool

	gcMu sync.Mutex
	gc   GarbageCollector

	stats counters
}

type counters struct {
	started   atomic.Uint64
	readOnly  atomic.Uint64
	commits   atomic.Uint64
	conflicts atomic.Uint64
	replays   atomic.Uint64
	aborts    atomic.Uint64
	expired   atomic.Uint64
}

// Stats is a snapshot of environment statistics.
type Stats struct {
	TransactionsStarted  uint64
	ReadOnlyTransactions uint64
	Commits              uint64
	Conflicts            uint64
	Replays              uint64
	Aborts               uint64
	ExpiredRecords       uint64
	ActiveTransactions   int
	DeferredJobs         int
	MetaVersion          uint64
	DatabaseRoot         logstore.Address
	Files                int
	HighAddress          logstore.Address
	Inoperative          bool
}

// Open opens the environment in dir, creating it if necessary, and
// recovers the newest valid meta-tree generation.
func Open(dir string, opts Options) (*Environment, error) {
	opts = opts.normalized()
	logger := opts.Logger.WithFields("component", "env")

	log, err := logstore.Open(dir, opts.Log)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	dispatcher, err := tx.NewDispatcher(opts.Permits)
	if err != nil {
		return nil, multierr.Append(err, log.Close())
	}

	if !opts.ReadOnly {
		log.BeginWrite()
	}
	gen, err := meta.Create(log)
	if !opts.ReadOnly {
		err = multierr.Append(err, log.EndWrite())
	}
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("recover meta-tree: %w", err), log.Close())
	}

	e := &Environment{
		dir:        dir,
		opts:       opts,
		logger:     logger,
		log:        log,
		dispatcher: dispatcher,
		active:     tx.NewActiveSet(),
		deferred:   tx.NewDeferredQueue(),
		current:    gen,
	}
	logger.Info("environment opened",
		"dir", dir,
		"files", len(log.Files()),
		"databaseRoot", gen.DatabaseRoot().Address,
		"lastStructureID", gen.LastStructureID(),
		"readOnly", opts.ReadOnly,
	)
	return e, nil
}

// Close stops the attached collector and closes the log. It fails while
// transactions are active.
func (e *Environment) Close() error {
	if n := e.active.Count(); n > 0 {
		return fmt.Errorf("%w: %d", ErrActiveTransactions, n)
	}
	if e.closed.Swap(true) {
		return nil
	}
	var err error
	e.gcMu.Lock()
	gc := e.gc
	e.gc = nil
	e.gcMu.Unlock()
	if gc != nil {
		err = gc.Close()
	}

	if n := e.deferred.Drain(); n > 0 {
		e.logger.Debug("ran deferred jobs on close", "jobs", n)
	}
	err = multierr.Append(err, e.log.Close())
	e.logger.Info("environment closed", "dir", e.dir)
	return err
}

// Dir returns the log directory.
func (e *Environment) Dir() string { return e.dir }

// Log returns the record log.
func (e *Environment) Log() *logstore.Log { return e.log }

// Logger returns the environment logger.
func (e *Environment) Logger() logging.Logger { return e.opts.Logger }

// Options returns the normalized options.
func (e *Environment) Options() Options { return e.opts }

// Dispatcher returns the permit dispatcher.
func (e *Environment) Dispatcher() *tx.Dispatcher { return e.dispatcher }

// ReadOnly reports whether writes are rejected.
func (e *Environment) ReadOnly() bool { return e.opts.ReadOnly }

// Snapshot returns the current meta-tree generation.
func (e *Environment) Snapshot() *meta.Tree {
	e.metaMu.RLock()
	defer e.metaMu.RUnlock()
	return e.current
}

// ActiveTransactions returns the running transactions, oldest first.
func (e *Environment) ActiveTransactions() []tx.Entry {
	return e.active.Entries()
}

// Err returns the cause that made the environment inoperative, if any.
func (e *Environment) Err() error {
	if p := e.inoperative.Load(); p != nil {
		return fmt.Errorf("%w: %v", ErrInoperative, *p)
	}
	return nil
}

func (e *Environment) check() error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.Err()
}

// setInoperative switches the environment to a state where every operation
// fails. Only the first cause is kept.
func (e *Environment) setInoperative(cause error) {
	if e.inoperative.CompareAndSwap(nil, &cause) {
		e.log.SetReadOnly()
		e.logger.Error("environment is inoperative", "error", cause)
	}
}

// fail inspects err for corruption before returning it.
func (e *Environment) fail(err error) error {
	if err != nil && isCorruption(err) {
		e.setInoperative(err)
	}
	return err
}

// BeginTransaction starts a transaction. Read-write transactions wait for
// a dispatcher permit.
func (e *Environment) BeginTransaction(opts ...TxOption) (*Transaction, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	var o txOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.ctx == nil {
		o.ctx = context.Background()
	}
	if o.owner == 0 {
		o.owner = tx.NewOwner()
	}
	if !o.readOnly && e.opts.ReadOnly {
		return nil, ErrReadOnlyEnvironment
	}

	t := &Transaction{
		env:       e,
		id:        e.lastTxID.Add(1),
		owner:     o.owner,
		ctx:       o.ctx,
		readOnly:  o.readOnly,
		exclusive: o.exclusive,
		started:   time.Now(),
		state:     tx.Active,
	}
	if !t.readOnly {
		var err error
		switch {
		case o.exclusive && o.timeout > 0:
			t.permits, err = e.dispatcher.TryAcquireExclusive(t.owner, o.timeout)
		case o.exclusive:
			t.permits, err = e.dispatcher.AcquireExclusive(t.ctx, t.owner)
		default:
			t.permits, err = e.dispatcher.Acquire(t.ctx, t.owner)
		}
		if err != nil {
			return nil, err
		}
	}
	e.pin(t)
	e.stats.started.Add(1)
	if t.readOnly {
		e.stats.readOnly.Add(1)
	}
	return t, nil
}

// BeginReadonlyTransaction starts a read-only transaction.
func (e *Environment) BeginReadonlyTransaction() (*Transaction, error) {
	return e.BeginTransaction(ReadOnly())
}

// BeginExclusiveTransaction starts a transaction holding every permit.
func (e *Environment) BeginExclusiveTransaction() (*Transaction, error) {
	return e.BeginTransaction(Exclusive())
}

// pin attaches t to the current generation and registers it in the active
// set. Both happen under the meta lock so that a deferred job registered
// after a later swap always sees t.
func (e *Environment) pin(t *Transaction) {
	e.metaMu.RLock()
	defer e.metaMu.RUnlock()
	entry := tx.Entry{ID: t.id, Version: e.current.Version(), Started: t.started}
	if t.snapshot == nil {
		e.active.Add(entry)
	} else {
		e.active.Update(t.entry, entry)
	}
	t.snapshot = e.current
	t.entry = entry
}

// ExecuteInTransaction runs fn in a read-write transaction and commits it,
// running fn again on a fresh snapshot whenever the commit conflicts.
func (e *Environment) ExecuteInTransaction(fn func(t *Transaction) error, opts ...TxOption) error {
	t, err := e.BeginTransaction(opts...)
	if err != nil {
		return err
	}
	defer func() {
		if !t.IsFinished() {
			t.Abort()
		}
	}()
	for {
		if err := fn(t); err != nil {
			return err
		}
		if t.IsFinished() {
			return nil
		}
		ok, err := t.Commit()
		if err != nil || ok {
			return err
		}
		if err := t.Reset(); err != nil {
			return err
		}
	}
}

// ComputeInReadonlyTransaction runs fn in a read-only transaction.
func (e *Environment) ComputeInReadonlyTransaction(fn func(t *Transaction) error) error {
	t, err := e.BeginReadonlyTransaction()
	if err != nil {
		return err
	}
	defer t.Abort()
	return fn(t)
}

// RunTransactionSafeTask runs fn once no transaction pinned to a generation
// older than the current one remains active.
func (e *Environment) RunTransactionSafeTask(fn func()) {
	e.metaMu.RLock()
	version := e.current.Version()
	e.metaMu.RUnlock()
	e.deferred.Add(version, fn)
	e.runDeferred()
}

func (e *Environment) runDeferred() {
	if n := e.deferred.Run(e.active); n > 0 {
		e.logger.Debug("ran deferred jobs", "jobs", n)
	}
}

// AttachGC attaches the collector fed by commits.
func (e *Environment) AttachGC(gc GarbageCollector) {
	e.gcMu.Lock()
	e.gc = gc
	e.gcMu.Unlock()
}

func (e *Environment) collector() GarbageCollector {
	e.gcMu.Lock()
	defer e.gcMu.Unlock()
	return e.gc
}

// SuspendGC pauses the attached collector until the returned function is
// called.
func (e *Environment) SuspendGC() (resume func()) {
	gc := e.collector()
	if gc == nil {
		return func() {}
	}
	gc.Suspend()
	var once sync.Once
	return func() { once.Do(gc.Resume) }
}

// GC runs one cleaning pass of the attached collector.
func (e *Environment) GC(ctx context.Context) error {
	if err := e.check(); err != nil {
		return err
	}
	gc := e.collector()
	if gc == nil {
		return ErrNoCollector
	}
	return gc.Clean(ctx)
}

// CleanFiles makes the attached collector clean the given files.
func (e *Environment) CleanFiles(ctx context.Context, files []logstore.Address) error {
	if err := e.check(); err != nil {
		return err
	}
	gc := e.collector()
	if gc == nil {
		return ErrNoCollector
	}
	return gc.CleanFiles(ctx, files)
}

func (e *Environment) forwardExpired(expired *tree.ExpiredLoggables) {
	records := expired.Take()
	if len(records) == 0 {
		return
	}
	e.stats.expired.Add(uint64(len(records)))
	if gc := e.collector(); gc != nil {
		gc.Fetch(records)
	}
}

// Stats returns current statistics.
func (e *Environment) Stats() Stats {
	gen := e.Snapshot()
	s := Stats{
		TransactionsStarted:  e.stats.started.Load(),
		ReadOnlyTransactions: e.stats.readOnly.Load(),
		Commits:              e.stats.commits.Load(),
		Conflicts:            e.stats.conflicts.Load(),
		Replays:              e.stats.replays.Load(),
		Aborts:               e.stats.aborts.Load(),
		ExpiredRecords:       e.stats.expired.Load(),
		ActiveTransactions:   e.active.Count(),
		DeferredJobs:         e.deferred.Len(),
		MetaVersion:          gen.Version(),
		DatabaseRoot:         gen.DatabaseRoot().Address,
		Inoperative:          e.inoperative.Load() != nil,
	}
	if !e.closed.Load() {
		s.Files = len(e.log.Files())
		s.HighAddress = e.log.HighAddress()
	}
	return s
}
