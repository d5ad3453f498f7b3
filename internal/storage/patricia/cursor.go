package patricia

import (
	"bytes"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// frame is one node on the cursor stack. For the top frame ci is -1 while
// the cursor sits on the node itself; below the top it is the index of the
// child the stack continues with.
type frame struct {
	n   *node
	key []byte
	ci  int
}

type pending int

const (
	pendNone pending = iota
	pendAhead
	pendBehind
)

// Cursor walks keys in order: a node's own value comes before its children,
// children in label order. Cursors of a MutablePatricia reposition
// themselves after edits made through their trie.
type Cursor struct {
	c       *core
	mutable *MutablePatricia

	stack []frame
	on    bool

	modCount uint64
	pend     pending
	lostKey  []byte

	err    error
	closed bool
}

var _ tree.Cursor = (*Cursor)(nil)

func newCursor(c *core, m *MutablePatricia) *Cursor {
	return &Cursor{c: c, mutable: m, modCount: c.modCount}
}

func (c *Cursor) try(s []frame, ok bool, err error) bool {
	if err != nil {
		c.err = err
		return false
	}
	if ok {
		c.stack = s
		c.on = true
	}
	return ok
}

func (c *Cursor) ready() bool {
	if c.closed || c.err != nil {
		return false
	}
	if c.mutable != nil && c.modCount != c.c.modCount {
		if err := c.reseek(); err != nil {
			c.err = err
			return false
		}
	}
	return true
}

func (c *Cursor) push(s []frame, parent frame, i int) ([]frame, *node, error) {
	ch, err := c.c.childAt(parent.n, i)
	if err != nil {
		return nil, nil, err
	}
	s = append(s, frame{n: ch, key: childKey(parent.key, parent.n.children[i].label, ch.seg), ci: -1})
	return s, ch, nil
}

// advance moves s to the next node holding a value.
func (c *Cursor) advance(s []frame) ([]frame, bool, error) {
	s = append([]frame(nil), s...)
	for len(s) > 0 {
		top := &s[len(s)-1]
		top.ci++
		if top.ci >= len(top.n.children) {
			s = s[:len(s)-1]
			continue
		}
		var ch *node
		var err error
		if s, ch, err = c.push(s, *top, top.ci); err != nil {
			return nil, false, err
		}
		if ch.hasValue {
			return s, true, nil
		}
	}
	return nil, false, nil
}

// descendLast extends s through last children down to a node without any.
func (c *Cursor) descendLast(s []frame) ([]frame, error) {
	for {
		top := &s[len(s)-1]
		if len(top.n.children) == 0 {
			return s, nil
		}
		top.ci = len(top.n.children) - 1
		var err error
		if s, _, err = c.push(s, *top, top.ci); err != nil {
			return nil, err
		}
	}
}

// retreat moves s to the previous node holding a value.
func (c *Cursor) retreat(s []frame) ([]frame, bool, error) {
	s = append([]frame(nil), s...)
	for len(s) > 1 {
		s = s[:len(s)-1]
		top := &s[len(s)-1]
		if top.ci > 0 {
			top.ci--
			var err error
			if s, _, err = c.push(s, *top, top.ci); err != nil {
				return nil, false, err
			}
			if s, err = c.descendLast(s); err != nil {
				return nil, false, err
			}
			if s[len(s)-1].n.hasValue {
				return s, true, nil
			}
			continue
		}
		top.ci = -1
		if top.n.hasValue {
			return s, true, nil
		}
	}
	return nil, false, nil
}

func (c *Cursor) rootFrame() ([]frame, error) {
	root, err := c.c.rootNode()
	if err != nil || root == nil {
		return nil, err
	}
	return []frame{{n: root, key: tree.Clone(root.seg), ci: -1}}, nil
}

func (c *Cursor) first() ([]frame, bool, error) {
	s, err := c.rootFrame()
	if err != nil || s == nil {
		return nil, false, err
	}
	if s[0].n.hasValue {
		return s, true, nil
	}
	return c.advance(s)
}

func (c *Cursor) last() ([]frame, bool, error) {
	s, err := c.rootFrame()
	if err != nil || s == nil {
		return nil, false, err
	}
	if s, err = c.descendLast(s); err != nil {
		return nil, false, err
	}
	if s[len(s)-1].n.hasValue {
		return s, true, nil
	}
	return c.retreat(s)
}

// seek returns the stack of the first key >= key.
func (c *Cursor) seek(key []byte) ([]frame, bool, error) {
	s, err := c.rootFrame()
	if err != nil || s == nil {
		return nil, false, err
	}
	rest := key
	for {
		top := &s[len(s)-1]
		n := top.n
		if len(rest) == 0 {
			if n.hasValue {
				return s, true, nil
			}
			return c.advance(s)
		}
		i, _ := n.findChild(rest[0])
		if i == len(n.children) {
			// every child sorts before the key
			top.ci = len(n.children) - 1
			return c.advance(s)
		}
		label := n.children[i].label
		if label > rest[0] {
			top.ci = i - 1
			return c.advance(s)
		}
		ch, err := c.c.childAt(n, i)
		if err != nil {
			return nil, false, err
		}
		r := rest[1:]
		cp := commonPrefix(ch.seg, r)
		switch {
		case cp == len(ch.seg):
			top.ci = i
			s = append(s, frame{n: ch, key: childKey(top.key, label, ch.seg), ci: -1})
			rest = r[cp:]
		case cp == len(r) || ch.seg[cp] > r[cp]:
			// the whole child subtree sorts after the key
			top.ci = i - 1
			return c.advance(s)
		default:
			top.ci = i
			return c.advance(s)
		}
	}
}

func (c *Cursor) top() *frame {
	return &c.stack[len(c.stack)-1]
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
	if !c.on {
		return c.try(c.first())
	}
	return c.try(c.advance(c.stack))
}

// Prev moves to the previous pair.
func (c *Cursor) Prev() bool {
	if !c.ready() {
		return false
	}
	switch c.pend {
	case pendAhead:
		c.pend = pendNone
		if c.try(c.retreat(c.stack)) {
			return true
		}
		if c.err == nil {
			c.pend = pendAhead
		}
		return false
	case pendBehind:
		c.pend = pendNone
		return true
	}
	if !c.on {
		return c.try(c.last())
	}
	return c.try(c.retreat(c.stack))
}

// NextDup always fails: a trie holds one value per key.
func (c *Cursor) NextDup() bool {
	c.ready()
	return false
}

// PrevDup always fails: a trie holds one value per key.
func (c *Cursor) PrevDup() bool {
	c.ready()
	return false
}

// NextNoDup moves to the first pair of the next key.
func (c *Cursor) NextNoDup() bool { return c.Next() }

// PrevNoDup moves to the previous key.
func (c *Cursor) PrevNoDup() bool { return c.Prev() }

// Key returns the key at the cursor position.
func (c *Cursor) Key() []byte {
	if !c.on {
		return nil
	}
	return c.top().key
}

// Value returns the value at the cursor position.
func (c *Cursor) Value() []byte {
	if !c.on {
		return nil
	}
	return c.top().n.value
}

func (c *Cursor) landed(s []frame, ok bool, err error) bool {
	if c.try(s, ok, err) {
		c.pend = pendNone
		return true
	}
	return false
}

// SeekKey positions the cursor on the first pair of key.
func (c *Cursor) SeekKey(key []byte) bool {
	return c.seekExact(key, func([]byte) bool { return true })
}

// SeekRange positions the cursor on the first key greater than or equal to key.
func (c *Cursor) SeekRange(key []byte) bool {
	if !c.ready() {
		return false
	}
	return c.landed(c.seek(key))
}

// SeekBoth positions the cursor on the exact pair.
func (c *Cursor) SeekBoth(key, value []byte) bool {
	return c.seekExact(key, func(v []byte) bool { return bytes.Equal(v, value) })
}

// SeekBothRange positions the cursor on key and its first value greater than or equal to value.
func (c *Cursor) SeekBothRange(key, value []byte) bool {
	return c.seekExact(key, func(v []byte) bool { return bytes.Compare(v, value) >= 0 })
}

func (c *Cursor) seekExact(key []byte, accept func(value []byte) bool) bool {
	if !c.ready() {
		return false
	}
	s, ok, err := c.seek(key)
	if err != nil {
		c.err = err
		return false
	}
	if !ok {
		return false
	}
	top := s[len(s)-1]
	if !bytes.Equal(top.key, key) || !accept(top.n.value) {
		return false
	}
	return c.landed(s, true, nil)
}

// Count returns the number of values of the current key.
func (c *Cursor) Count() int {
	if !c.on {
		return 0
	}
	return 1
}

// DeleteCurrent deletes the pair at the cursor position.
func (c *Cursor) DeleteCurrent() (bool, error) {
	if c.mutable == nil {
		return false, tree.ErrReadOnlyCursor
	}
	if !c.ready() {
		return false, c.err
	}
	if !c.on || c.pend != pendNone {
		return false, tree.ErrNotPositioned
	}
	return c.mutable.Delete(c.top().key)
}

// Err returns the error that stopped the cursor, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Close releases the cursor.
func (c *Cursor) Close() {
	c.closed = true
	c.stack = nil
}

// position captures everything a failed composite move must restore.
type position struct {
	stack   []frame
	on      bool
	pend    pending
	lostKey []byte
}

func (c *Cursor) position() position {
	return position{stack: c.stack, on: c.on, pend: c.pend, lostKey: c.lostKey}
}

func (c *Cursor) restore(p position) {
	c.stack, c.on, c.pend, c.lostKey = p.stack, p.on, p.pend, p.lostKey
}

func (c *Cursor) reseek() error {
	c.modCount = c.c.modCount
	if !c.on {
		return nil
	}
	target := c.top().key
	if c.pend != pendNone {
		target = c.lostKey
	}
	s, ok, err := c.seek(target)
	if err != nil {
		return err
	}
	if ok {
		c.stack = s
		if bytes.Equal(s[len(s)-1].key, target) {
			c.pend = pendNone
		} else {
			c.pend = pendAhead
		}
		c.lostKey = target
		return nil
	}
	if s, ok, err = c.last(); err != nil {
		return err
	}
	if !ok {
		c.stack, c.on, c.pend = nil, false, pendNone
		return nil
	}
	c.stack, c.pend, c.lostKey = s, pendBehind, target
	return nil
}
