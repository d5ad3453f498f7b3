package btree

import (
	"bytes"
	"fmt"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

type cursorState int

const (
	stateBefore cursorState = iota
	stateOn
)

// pending marks a position re-established after the tree changed under the
// cursor, relative to the pair it lost.
type pending int

const (
	pendNone pending = iota
	// pendAhead: the cursor sits on the first pair after the lost one.
	pendAhead
	// pendBehind: nothing follows the lost pair; the cursor sits on the last pair.
	pendBehind
)

// Cursor walks pairs in order. A cursor of a MutableBTree notices edits made
// through its tree and repositions itself next to its last pair.
type Cursor struct {
	core    *core
	mutable *MutableBTree

	main  path
	sub   *path
	state cursorState

	key   []byte
	value []byte

	modCount  uint64
	pend      pending
	lostKey   []byte
	lostValue []byte

	err    error
	closed bool
}

var _ tree.Cursor = (*Cursor)(nil)

func newCursor(c *core, m *MutableBTree) *Cursor {
	return &Cursor{core: c, mutable: m, modCount: c.modCount}
}

func (c *Cursor) try(ok bool, err error) bool {
	if err != nil {
		c.err = err
		return false
	}
	return ok
}

// ready reports whether the cursor may move, repositioning it first when
// its tree was edited.
func (c *Cursor) ready() bool {
	if c.closed || c.err != nil {
		return false
	}
	if c.mutable != nil && c.modCount != c.core.modCount {
		if err := c.reseek(); err != nil {
			c.err = err
			return false
		}
	}
	return true
}

// enter positions on the main entry p points at, on its first or last value.
func (c *Cursor) enter(p path, lastValue bool) (bool, error) {
	e := p.entry()
	if !e.dup {
		c.main, c.sub = p, nil
		c.key, c.value = e.key, e.value
		c.state = stateOn
		return true, nil
	}
	top := p.leaf()
	sc, err := c.core.subAt(top.n, top.i)
	if err != nil {
		return false, err
	}
	sp := &path{c: sc}
	ok, err := sp.edge(lastValue)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: empty duplicates of %q", tree.ErrCorruptedNode, e.key)
	}
	c.main, c.sub = p, sp
	c.key, c.value = e.key, sp.entry().key
	c.state = stateOn
	return true, nil
}

func (c *Cursor) toEdge(last bool) (bool, error) {
	p := path{c: c.core}
	ok, err := p.edge(last)
	if err != nil || !ok {
		return false, err
	}
	return c.enter(p, last)
}

func (c *Cursor) stepSub(forward bool) (bool, error) {
	ok, err := c.sub.step(forward)
	if err != nil || !ok {
		return false, err
	}
	c.value = c.sub.entry().key
	return true, nil
}

func (c *Cursor) stepMain(forward, lastValue bool) (bool, error) {
	p := c.main
	ok, err := p.step(forward)
	if err != nil || !ok {
		return false, err
	}
	return c.enter(p, lastValue)
}

func (c *Cursor) next() bool {
	if c.state == stateBefore {
		return c.try(c.toEdge(false))
	}
	if c.sub != nil {
		if ok := c.try(c.stepSub(true)); ok || c.err != nil {
			return ok
		}
	}
	return c.try(c.stepMain(true, false))
}

func (c *Cursor) prev() bool {
	if c.state == stateBefore {
		return c.try(c.toEdge(true))
	}
	if c.sub != nil {
		if ok := c.try(c.stepSub(false)); ok || c.err != nil {
			return ok
		}
	}
	return c.try(c.stepMain(false, true))
}

// retry runs move after clearing the pending mark and restores the mark
// when move fails.
func (c *Cursor) retry(move func() bool) bool {
	saved := c.pend
	c.pend = pendNone
	if move() {
		return true
	}
	if c.err == nil {
		c.pend = saved
	}
	return false
}

// Next moves to the next pair.
func (c *Cursor) Next() bool {
	if !c.ready() {
		return false
	}
	switch c.pend {
	case pendAhead:
		c.pend = pendNone
		return true
	case pendBehind:
		return false
	}
	return c.next()
}

// Prev moves to the previous pair.
func (c *Cursor) Prev() bool {
	if !c.ready() {
		return false
	}
	switch c.pend {
	case pendAhead:
		return c.retry(c.prev)
	case pendBehind:
		c.pend = pendNone
		return true
	}
	return c.prev()
}

// NextDup moves to the next value of the current key.
func (c *Cursor) NextDup() bool {
	if !c.ready() {
		return false
	}
	switch c.pend {
	case pendAhead:
		if bytes.Equal(c.key, c.lostKey) {
			c.pend = pendNone
			return true
		}
		return false
	case pendBehind:
		return false
	}
	if c.state != stateOn || c.sub == nil {
		return false
	}
	return c.try(c.stepSub(true))
}

// PrevDup moves to the previous value of the current key.
func (c *Cursor) PrevDup() bool {
	if !c.ready() {
		return false
	}
	prevDup := func() bool {
		if c.state != stateOn || c.sub == nil {
			return false
		}
		return c.try(c.stepSub(false))
	}
	switch c.pend {
	case pendAhead:
		if !bytes.Equal(c.key, c.lostKey) {
			return false
		}
		return c.retry(prevDup)
	case pendBehind:
		if bytes.Equal(c.key, c.lostKey) {
			c.pend = pendNone
			return true
		}
		return false
	}
	return prevDup()
}

// NextNoDup moves to the first pair of the next key.
func (c *Cursor) NextNoDup() bool {
	if !c.ready() {
		return false
	}
	nextNoDup := func() bool {
		if c.state == stateBefore {
			return c.try(c.toEdge(false))
		}
		return c.try(c.stepMain(true, false))
	}
	switch c.pend {
	case pendAhead:
		if !bytes.Equal(c.key, c.lostKey) {
			c.pend = pendNone
			return true
		}
		return c.retry(nextNoDup)
	case pendBehind:
		return false
	}
	return nextNoDup()
}

// PrevNoDup moves to the previous key.
func (c *Cursor) PrevNoDup() bool {
	if !c.ready() {
		return false
	}
	prevNoDup := func() bool {
		if c.state == stateBefore {
			return c.try(c.toEdge(true))
		}
		return c.try(c.stepMain(false, true))
	}
	switch c.pend {
	case pendAhead:
		return c.retry(prevNoDup)
	case pendBehind:
		if !bytes.Equal(c.key, c.lostKey) {
			c.pend = pendNone
			return true
		}
		return c.retry(prevNoDup)
	}
	return prevNoDup()
}

// Key returns the key at the cursor position.
func (c *Cursor) Key() []byte {
	if c.state != stateOn {
		return nil
	}
	return c.key
}

// Value returns the value at the cursor position.
func (c *Cursor) Value() []byte {
	if c.state != stateOn {
		return nil
	}
	return c.value
}

// seekMain returns a path on the exact key, or ok == false.
func (c *Cursor) seekMain(key []byte, exact bool) (path, bool) {
	p := path{c: c.core}
	ok, err := p.seek(key)
	if err != nil {
		c.err = err
		return p, false
	}
	if !ok || (exact && !bytes.Equal(p.entry().key, key)) {
		return p, false
	}
	return p, true
}

func (c *Cursor) landed(ok bool) bool {
	if ok {
		c.pend = pendNone
	}
	return ok
}

// SeekKey positions the cursor on the first pair of key.
func (c *Cursor) SeekKey(key []byte) bool {
	if !c.ready() {
		return false
	}
	p, ok := c.seekMain(key, true)
	if !ok {
		return false
	}
	return c.landed(c.try(c.enter(p, false)))
}

// SeekRange positions the cursor on the first key greater than or equal to key.
func (c *Cursor) SeekRange(key []byte) bool {
	if !c.ready() {
		return false
	}
	p, ok := c.seekMain(key, false)
	if !ok {
		return false
	}
	return c.landed(c.try(c.enter(p, false)))
}

// SeekBoth positions the cursor on the exact pair.
func (c *Cursor) SeekBoth(key, value []byte) bool {
	return c.seekPair(key, value, true)
}

// SeekBothRange positions the cursor on key and its first value greater than or equal to value.
func (c *Cursor) SeekBothRange(key, value []byte) bool {
	return c.seekPair(key, value, false)
}

func (c *Cursor) seekPair(key, value []byte, exact bool) bool {
	if !c.ready() {
		return false
	}
	p, ok := c.seekMain(key, true)
	if !ok {
		return false
	}
	e := p.entry()
	if !e.dup {
		cmp := bytes.Compare(e.value, value)
		if cmp < 0 || (exact && cmp != 0) {
			return false
		}
		return c.landed(c.try(c.enter(p, false)))
	}
	top := p.leaf()
	sc, err := c.core.subAt(top.n, top.i)
	if err != nil {
		c.err = err
		return false
	}
	sp := &path{c: sc}
	ok, err = sp.seek(value)
	if err != nil {
		c.err = err
		return false
	}
	if !ok || (exact && !bytes.Equal(sp.entry().key, value)) {
		return false
	}
	c.main, c.sub = p, sp
	c.key, c.value = e.key, sp.entry().key
	c.state = stateOn
	c.pend = pendNone
	return true
}

// Count returns the number of values of the current key.
func (c *Cursor) Count() int {
	if c.state != stateOn {
		return 0
	}
	if c.sub == nil {
		return 1
	}
	return int(c.sub.c.size)
}

// DeleteCurrent deletes the pair at the cursor position.
func (c *Cursor) DeleteCurrent() (bool, error) {
	if c.mutable == nil {
		return false, tree.ErrReadOnlyCursor
	}
	if !c.ready() {
		return false, c.err
	}
	if c.state != stateOn || c.pend != pendNone {
		return false, tree.ErrNotPositioned
	}
	if c.core.dups {
		return c.mutable.DeletePair(c.key, c.value)
	}
	return c.mutable.Delete(c.key)
}

// Err returns the error that stopped the cursor, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Close releases the cursor.
func (c *Cursor) Close() {
	c.closed = true
	c.main = path{}
	c.sub = nil
}

// locate positions on the first pair >= (key, value) and reports whether it
// is that pair. Without duplicates only keys are compared.
func (c *Cursor) locate(key, value []byte) (exact, ok bool, err error) {
	p := path{c: c.core}
	if ok, err = p.seek(key); err != nil || !ok {
		return false, false, err
	}
	e := p.entry()
	if !bytes.Equal(e.key, key) {
		ok, err = c.enter(p, false)
		return false, ok, err
	}
	if !e.dup {
		cmp := bytes.Compare(e.value, value)
		if !c.core.dups || cmp >= 0 {
			ok, err = c.enter(p, false)
			return !c.core.dups || cmp == 0, ok, err
		}
		return c.enterNext(p)
	}
	top := p.leaf()
	sc, err := c.core.subAt(top.n, top.i)
	if err != nil {
		return false, false, err
	}
	sp := &path{c: sc}
	if ok, err = sp.seek(value); err != nil {
		return false, false, err
	}
	if !ok {
		return c.enterNext(p)
	}
	c.main, c.sub = p, sp
	c.key, c.value = e.key, sp.entry().key
	c.state = stateOn
	return bytes.Equal(c.value, value), true, nil
}

func (c *Cursor) enterNext(p path) (bool, bool, error) {
	ok, err := p.step(true)
	if err != nil || !ok {
		return false, false, err
	}
	ok, err = c.enter(p, false)
	return false, ok, err
}

// reseek rebuilds the position after the tree was edited.
func (c *Cursor) reseek() error {
	c.modCount = c.core.modCount
	if c.state == stateBefore {
		return nil
	}
	key, value := c.key, c.value
	if c.pend != pendNone {
		key, value = c.lostKey, c.lostValue
	}
	exact, ok, err := c.locate(key, value)
	if err != nil {
		return err
	}
	switch {
	case ok && exact:
		c.pend = pendNone
	case ok:
		c.pend = pendAhead
	default:
		ok, err := c.toEdge(true)
		if err != nil {
			return err
		}
		if !ok {
			c.state, c.pend = stateBefore, pendNone
			c.main, c.sub = path{}, nil
			return nil
		}
		c.pend = pendBehind
	}
	c.lostKey, c.lostValue = key, value
	return nil
}
