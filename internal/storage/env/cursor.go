package env

import (
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// Cursor iterates a store inside a transaction. It fails with
// ErrStaleCursor once the transaction flushed, reverted, reset or finished.
type Cursor struct {
	txn        *Transaction
	store      *Store
	dups       bool
	generation uint64
	cur        tree.Cursor
	err        error
}

func (c *Cursor) valid() bool {
	if c.err != nil {
		return false
	}
	if c.txn.IsFinished() || c.txn.generation != c.generation {
		c.err = ErrStaleCursor
		return false
	}
	if err := c.txn.env.Err(); err != nil {
		c.err = err
		return false
	}
	return true
}

func (c *Cursor) move(fn func() bool) bool {
	if !c.valid() {
		return false
	}
	ok := fn()
	if err := c.cur.Err(); err != nil {
		c.err = c.txn.env.fail(err)
	}
	return ok
}

// Next moves to the next pair.
func (c *Cursor) Next() bool { return c.move(c.cur.Next) }

// Prev moves to the previous pair.
func (c *Cursor) Prev() bool { return c.move(c.cur.Prev) }

// NextDup moves to the next value of the current key.
func (c *Cursor) NextDup() bool { return c.move(c.cur.NextDup) }

// PrevDup moves to the previous value of the current key.
func (c *Cursor) PrevDup() bool { return c.move(c.cur.PrevDup) }

// NextNoDup moves to the first pair of the next key.
func (c *Cursor) NextNoDup() bool { return c.move(c.cur.NextNoDup) }

// PrevNoDup moves to the previous key.
func (c *Cursor) PrevNoDup() bool { return c.move(c.cur.PrevNoDup) }

// SeekKey positions at the first value of key.
func (c *Cursor) SeekKey(key []byte) bool {
	return c.move(func() bool { return c.cur.SeekKey(key) })
}

// SeekRange positions at the first pair whose key is >= key.
func (c *Cursor) SeekRange(key []byte) bool {
	return c.move(func() bool { return c.cur.SeekRange(key) })
}

// SeekBoth positions at the exact pair.
func (c *Cursor) SeekBoth(key, value []byte) bool {
	return c.move(func() bool { return c.cur.SeekBoth(key, value) })
}

// SeekBothRange positions at the first value >= value of key.
func (c *Cursor) SeekBothRange(key, value []byte) bool {
	return c.move(func() bool { return c.cur.SeekBothRange(key, value) })
}

// Key returns the current key, or nil when the cursor is stale.
func (c *Cursor) Key() []byte {
	if !c.valid() {
		return nil
	}
	return c.cur.Key()
}

// Value returns the current value, or nil when the cursor is stale.
func (c *Cursor) Value() []byte {
	if !c.valid() {
		return nil
	}
	return c.cur.Value()
}

// Count returns the number of values of the current key.
func (c *Cursor) Count() int {
	if !c.valid() {
		return 0
	}
	return c.cur.Count()
}

// DeleteCurrent removes the current pair.
func (c *Cursor) DeleteCurrent() (bool, error) {
	if !c.valid() {
		return false, c.err
	}
	if err := c.txn.checkWritable(); err != nil {
		return false, err
	}
	key, value := tree.Clone(c.cur.Key()), tree.Clone(c.cur.Value())
	ok, err := c.cur.DeleteCurrent()
	if err != nil || !ok {
		return false, c.txn.env.fail(err)
	}
	o := op{kind: opDelete, store: c.store.name, key: key}
	if c.dups {
		o = op{kind: opDeletePair, store: c.store.name, key: key, value: value}
	}
	c.txn.record(o)
	return true, nil
}

// Err returns the error that stopped the cursor.
func (c *Cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cur.Err()
}

// Close releases the cursor.
func (c *Cursor) Close() {
	c.cur.Close()
}
