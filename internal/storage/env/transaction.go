package env

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/meta"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tx"
)

// Transaction is a snapshot of the environment plus the changes staged on
// top of it. It is not safe for concurrent use.
type Transaction struct {
	env       *Environment
	id        uint64
	owner     tx.Owner
	ctx       context.Context
	readOnly  bool
	exclusive bool
	escalated bool
	permits   int
	started   time.Time
	state     tx.State

	snapshot   *meta.Tree
	entry      tx.Entry
	generation uint64

	meta      *meta.Mutable
	stores    map[string]*storeState
	byID      map[uint64]string
	removed   []tree.Tree
	ops       []op
	forceSave bool

	hook       func()
	replays    int
	conflicted bool
}

// ID returns the transaction id.
func (t *Transaction) ID() uint64 { return t.id }

// Owner returns the permit owner of the transaction.
func (t *Transaction) Owner() tx.Owner { return t.owner }

// Environment returns the environment of the transaction.
func (t *Transaction) Environment() *Environment { return t.env }

// IsReadOnly reports whether t cannot write.
func (t *Transaction) IsReadOnly() bool { return t.readOnly }

// IsExclusive reports whether t holds every dispatcher permit.
func (t *Transaction) IsExclusive() bool { return t.exclusive }

// IsFinished reports whether t committed or aborted.
func (t *Transaction) IsFinished() bool { return t.state.Finished() }

// State returns the lifecycle state of t.
func (t *Transaction) State() tx.State { return t.state }

// Started returns the time t began.
func (t *Transaction) Started() time.Time {
	return t.started
}

// Snapshot returns the pinned meta-tree generation.
func (t *Transaction) Snapshot() *meta.Tree { return t.snapshot }

// ReplayCount returns the number of conflicts since the last successful
// flush.
func (t *Transaction) ReplayCount() int { return t.replays }

// IsIdempotent reports whether the transaction has nothing to write.
func (t *Transaction) IsIdempotent() bool {
	return len(t.ops) == 0 && !t.forceSave
}

// SetCommitHook registers fn to run after each successful flush, while
// the commit section is still held. fn must not commit transactions.
func (t *Transaction) SetCommitHook(fn func()) { t.hook = fn }

func (t *Transaction) checkActive() error {
	if err := t.env.check(); err != nil {
		return err
	}
	if t.IsFinished() {
		return fmt.Errorf("%w: %d is %s", ErrTransactionFinished, t.id, t.state)
	}
	return nil
}

func (t *Transaction) checkWritable() error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if t.readOnly {
		return ErrReadOnlyTransaction
	}
	return nil
}

// Flush commits the staged changes and keeps the transaction active on the
// new generation. It returns false, without error, when another
// transaction committed since this one pinned its snapshot; the caller
// must then Revert or Reset and try again. When a record does not fit in
// a log file the staged changes are dropped, the transaction stays on its
// snapshot and logstore.ErrRecordTooLarge is returned.
func (t *Transaction) Flush() (bool, error) {
	if err := t.checkWritable(); err != nil {
		return false, err
	}
	if t.IsIdempotent() {
		return true, nil
	}
	ok, err := t.env.flush(t)
	if err != nil || !ok {
		t.conflicted = !ok && err == nil
		return false, err
	}
	if t.escalated && t.env.opts.DowngradeAfterFlush {
		if n, err := t.env.dispatcher.Downgrade(t.owner); err == nil {
			t.permits = n
			t.exclusive = false
			t.escalated = false
		}
	}
	return true, nil
}

// Commit flushes and finishes the transaction. On conflict it returns false
// and the transaction stays active.
func (t *Transaction) Commit() (bool, error) {
	if t.readOnly {
		if err := t.checkActive(); err != nil {
			return false, err
		}
		t.finish(tx.Committed)
		return true, nil
	}
	ok, err := t.Flush()
	if err != nil || !ok {
		return false, err
	}
	t.finish(tx.Committed)
	return true, nil
}

// Abort discards the staged changes and finishes the transaction. It does
// nothing on a finished transaction.
func (t *Transaction) Abort() {
	if t.IsFinished() {
		return
	}
	t.env.stats.aborts.Add(1)
	t.finish(tx.Aborted)
}

// Revert pins the newest generation and replays the staged operations on
// top of it.
func (t *Transaction) Revert() error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if t.readOnly {
		t.repin()
		return nil
	}
	ops := t.ops
	if err := t.afterConflict(); err != nil {
		return err
	}
	t.repin()
	for _, o := range ops {
		if err := t.apply(o); err != nil {
			return t.env.fail(fmt.Errorf("replay %s on %q: %w", o.kind, o.store, err))
		}
		t.ops = append(t.ops, o)
	}
	return nil
}

// Reset pins the newest generation and drops the staged operations.
func (t *Transaction) Reset() error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if !t.readOnly {
		if err := t.afterConflict(); err != nil {
			return err
		}
	}
	t.repin()
	return nil
}

func (t *Transaction) repin() {
	t.discard()
	t.env.pin(t)
	t.generation++
}

// afterConflict counts a replay after a failed flush and escalates the
// transaction to exclusive permits once it replayed too often or for too
// long. A transaction that loses its permits while escalating is aborted.
func (t *Transaction) afterConflict() error {
	if !t.conflicted {
		return nil
	}
	t.conflicted = false
	t.replays++
	t.env.stats.replays.Add(1)
	if t.exclusive {
		return nil
	}
	opts := t.env.opts
	if t.replays < opts.ReplayMaxCount && time.Since(t.started) < opts.ReplayMaxAge {
		return nil
	}

	d := t.env.dispatcher
	if err := d.Release(t.owner, t.permits); err != nil {
		return err
	}
	t.permits = 0
	n, err := d.AcquireExclusive(t.ctx, t.owner)
	if errors.Is(err, tx.ErrExclusiveWithPermits) {
		// Another transaction of the same owner is active.
		n, err = d.Acquire(t.ctx, t.owner)
		if err != nil {
			return t.abortEscalation(err)
		}
		t.permits = n
		return nil
	}
	if err != nil {
		return t.abortEscalation(err)
	}
	t.permits = n
	t.exclusive = true
	t.escalated = true
	t.env.logger.Debug("transaction escalated to exclusive", "id", t.id, "replays", t.replays)
	return nil
}

func (t *Transaction) abortEscalation(err error) error {
	t.env.stats.aborts.Add(1)
	t.finish(tx.Aborted)
	return fmt.Errorf("escalate transaction %d: %w", t.id, err)
}

func (t *Transaction) discard() {
	t.meta = nil
	t.stores = nil
	t.byID = nil
	t.removed = nil
	t.ops = nil
	t.forceSave = false
}

func (t *Transaction) finish(state tx.State) {
	e := t.env
	t.state = state
	t.discard()
	if err := e.dispatcher.Release(t.owner, t.permits); err != nil {
		e.logger.Warn("release permits", "id", t.id, "error", err)
	}
	t.permits = 0
	e.active.Remove(t.entry)
	e.runDeferred()
}

func (t *Transaction) metaMutable() *meta.Mutable {
	if t.meta == nil {
		t.meta = t.snapshot.Clone()
	}
	return t.meta
}

// flush runs the commit protocol for t.
func (e *Environment) flush(t *Transaction) (bool, error) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	if err := e.check(); err != nil {
		return false, err
	}
	if t.snapshot != e.Snapshot() {
		e.stats.conflicts.Add(1)
		return false, nil
	}

	expired := tree.NewExpiredLoggables()
	e.log.BeginWrite()
	gen, err := t.writeChanges(expired)
	err = multierr.Append(err, e.log.EndWrite())
	if err != nil {
		if !errors.Is(err, logstore.ErrRecordTooLarge) {
			e.setInoperative(err)
			return false, err
		}
		// Stores saved before the failing record point at orphaned pages.
		t.discard()
		t.generation++
		return false, err
	}

	e.metaMu.Lock()
	e.current = gen
	entry := tx.Entry{ID: t.id, Version: gen.Version(), Started: t.started}
	e.active.Update(t.entry, entry)
	e.metaMu.Unlock()

	t.entry = entry
	t.snapshot = gen
	t.discard()
	t.generation++
	t.replays = 0
	e.stats.commits.Add(1)
	if t.hook != nil {
		t.hook()
	}
	e.forwardExpired(expired)
	return true, nil
}

// writeChanges saves every changed store and the meta-tree.
func (t *Transaction) writeChanges(expired *tree.ExpiredLoggables) (*meta.Tree, error) {
	mm := t.metaMutable()
	names := make([]string, 0, len(t.stores))
	for name := range t.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := t.stores[name]
		if st.removed || st.mutable == nil || !st.mutable.Changed() {
			continue
		}
		addr, err := st.mutable.Save()
		if err != nil {
			return nil, fmt.Errorf("save store %q: %w", name, err)
		}
		if err := mm.SetRoot(st.meta.StructureID, addr); err != nil {
			return nil, err
		}
		expired.Merge(st.mutable.Expired())
	}
	for _, removed := range t.removed {
		err := removed.ForEachAddress(func(addr logstore.Address, length int64) error {
			expired.Add(addr, length)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("expire removed structure %d: %w", removed.StructureID(), err)
		}
	}
	gen, err := mm.Save()
	if err != nil {
		return nil, err
	}
	expired.Merge(mm.Expired())
	return gen, nil
}
