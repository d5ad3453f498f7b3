package patricia

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// Composite keys join an escaped key and an escaped value with a zero byte:
//
//	esc(key) 0x00 esc(value) -> uvarint(len(esc(key)))
//
// Escaping rewrites 0x00 as 0x01 0x01 and 0x01 as 0x01 0x02, which keeps
// byte order and leaves the separator as the only zero byte.
const (
	escapeByte    byte = 0x01
	separatorByte byte = 0x00
)

func escape(dst, b []byte) []byte {
	for _, c := range b {
		switch c {
		case 0x00:
			dst = append(dst, escapeByte, 0x01)
		case 0x01:
			dst = append(dst, escapeByte, 0x02)
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

func unescape(b []byte) ([]byte, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != escapeByte {
			out = append(out, b[i])
			continue
		}
		i++
		if i == len(b) || (b[i] != 0x01 && b[i] != 0x02) {
			return nil, fmt.Errorf("%w: bad escape in composite key", tree.ErrCorruptedNode)
		}
		out = append(out, b[i]-1)
	}
	return out, nil
}

// keyPrefix returns the prefix shared by every composite key of key.
func keyPrefix(key []byte) []byte {
	return append(escape(nil, key), separatorByte)
}

func compositeKey(key, value []byte) []byte {
	return escape(keyPrefix(key), value)
}

func keyLength(key []byte) []byte {
	return binary.AppendUvarint(nil, uint64(len(escape(nil, key))))
}

// withByte returns a copy of b followed by c.
func withByte(b []byte, c byte) []byte {
	out := make([]byte, len(b), len(b)+1)
	copy(out, b)
	return append(out, c)
}

// escapedKey returns the escaped key part of a composite key.
func escapedKey(composite []byte) []byte {
	if i := bytes.IndexByte(composite, separatorByte); i >= 0 {
		return composite[:i]
	}
	return composite
}

// splitComposite decodes a composite key and the key length stored with it.
func splitComposite(composite, stored []byte) ([]byte, []byte, error) {
	n, w := binary.Uvarint(stored)
	if w <= 0 || n >= uint64(len(composite)) || composite[n] != separatorByte {
		return nil, nil, fmt.Errorf("%w: bad composite key", tree.ErrCorruptedNode)
	}
	key, err := unescape(composite[:n])
	if err != nil {
		return nil, nil, err
	}
	value, err := unescape(composite[n+1:])
	if err != nil {
		return nil, nil, err
	}
	return key, value, nil
}

// firstWithPrefix returns the first composite key starting with prefix.
func firstWithPrefix(c *core, prefix []byte) ([]byte, []byte, bool, error) {
	cur := newCursor(c, nil)
	s, ok, err := cur.seek(prefix)
	if err != nil || !ok {
		return nil, nil, false, err
	}
	top := s[len(s)-1]
	if !bytes.HasPrefix(top.key, prefix) {
		return nil, nil, false, nil
	}
	return top.key, top.n.value, true, nil
}

// countPrefix counts the composite keys starting with prefix.
func countPrefix(c *core, prefix []byte) (int, error) {
	cur := newCursor(c, nil)
	s, ok, err := cur.seek(prefix)
	n := 0
	for err == nil && ok && bytes.HasPrefix(s[len(s)-1].key, prefix) {
		n++
		s, ok, err = cur.advance(s)
	}
	return n, err
}

func dupGet(c *core, key []byte) ([]byte, error) {
	composite, stored, ok, err := firstWithPrefix(c, keyPrefix(key))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tree.ErrKeyNotFound
	}
	_, value, err := splitComposite(composite, stored)
	return value, err
}

func dupHasKey(c *core, key []byte) (bool, error) {
	_, _, ok, err := firstWithPrefix(c, keyPrefix(key))
	return ok, err
}

func dupHasPair(c *core, key, value []byte) (bool, error) {
	_, err := c.get(compositeKey(key, value))
	return found(err)
}

// DupPatricia is an immutable trie version that maps a key to several
// values.
type DupPatricia struct {
	t *Patricia
}

var _ tree.Tree = (*DupPatricia)(nil)

// WithDuplicates presents t, which must hold composite keys, as a tree with
// duplicates.
func WithDuplicates(t *Patricia) *DupPatricia {
	return &DupPatricia{t: t}
}

// StructureID returns the structure id the records of the tree are tagged with.
func (d *DupPatricia) StructureID() uint64 { return d.t.sid }

// Size returns the number of key/value pairs.
func (d *DupPatricia) Size() int64 { return d.t.size }

// Duplicates reports whether a key may hold several values.
func (d *DupPatricia) Duplicates() bool { return true }

// RootAddress returns the address of the saved root, or NullAddress if the
// tree was never saved.
func (d *DupPatricia) RootAddress() logstore.Address { return d.t.rootAddr }

// Trie returns the underlying trie of composite keys.
func (d *DupPatricia) Trie() *Patricia { return d.t }

// Get returns the value of key, the smallest one when key has duplicates.
func (d *DupPatricia) Get(key []byte) ([]byte, error) {
	return dupGet(d.t.reader(), key)
}

// HasKey reports whether key is present.
func (d *DupPatricia) HasKey(key []byte) (bool, error) {
	return dupHasKey(d.t.reader(), key)
}

// HasPair reports whether key holds value.
func (d *DupPatricia) HasPair(key, value []byte) (bool, error) {
	return dupHasPair(d.t.reader(), key, value)
}

// OpenCursor returns a cursor positioned before the first pair.
func (d *DupPatricia) OpenCursor() tree.Cursor {
	return &dupCursor{cur: newCursor(d.t.reader(), nil)}
}

// MutableCopy returns a mutable copy sharing the saved nodes.
func (d *DupPatricia) MutableCopy() tree.MutableTree {
	return d.Mutable()
}

// Mutable is MutableCopy with the concrete result type.
func (d *DupPatricia) Mutable() *DupMutablePatricia {
	return &DupMutablePatricia{m: d.t.Mutable()}
}

// ForEachAddress calls fn for every record reachable from the root.
func (d *DupPatricia) ForEachAddress(fn func(addr logstore.Address, length int64) error) error {
	return d.t.ForEachAddress(fn)
}

// Verify checks the structural invariants of the tree.
func (d *DupPatricia) Verify() error {
	return d.t.Verify()
}

// DupMutablePatricia stages edits over a DupPatricia.
type DupMutablePatricia struct {
	m *MutablePatricia
}

var _ tree.MutableTree = (*DupMutablePatricia)(nil)

// StructureID returns the structure id the records of the tree are tagged with.
func (d *DupMutablePatricia) StructureID() uint64 { return d.m.c.sid }

// Size returns the number of key/value pairs.
func (d *DupMutablePatricia) Size() int64 { return d.m.c.size }

// Duplicates reports whether a key may hold several values.
func (d *DupMutablePatricia) Duplicates() bool { return true }

// Changed reports whether the tree was modified since it was copied.
func (d *DupMutablePatricia) Changed() bool { return d.m.c.changed }

// Expired returns the records made obsolete by changes to the tree.
func (d *DupMutablePatricia) Expired() *tree.ExpiredLoggables { return d.m.c.expired }

// Get returns the value of key, the smallest one when key has duplicates.
func (d *DupMutablePatricia) Get(key []byte) ([]byte, error) {
	return dupGet(d.m.c, key)
}

// HasKey reports whether key is present.
func (d *DupMutablePatricia) HasKey(key []byte) (bool, error) {
	return dupHasKey(d.m.c, key)
}

// HasPair reports whether key holds value.
func (d *DupMutablePatricia) HasPair(key, value []byte) (bool, error) {
	return dupHasPair(d.m.c, key, value)
}

// OpenCursor returns a cursor positioned before the first pair.
func (d *DupMutablePatricia) OpenCursor() tree.Cursor {
	return &dupCursor{cur: d.m.Cursor()}
}

// Put adds the pair unless it exists.
func (d *DupMutablePatricia) Put(key, value []byte) (bool, error) {
	return d.m.c.insert(compositeKey(key, value), keyLength(key), false)
}

// Add stores the pair only if key is absent and reports whether it did.
func (d *DupMutablePatricia) Add(key, value []byte) (bool, error) {
	return d.Put(key, value)
}

// PutRight appends a pair whose key is greater than every key in the tree.
func (d *DupMutablePatricia) PutRight(key, value []byte) error {
	return d.m.PutRight(compositeKey(key, value), keyLength(key))
}

// Delete removes every value of key.
func (d *DupMutablePatricia) Delete(key []byte) (bool, error) {
	prefix := keyPrefix(key)
	deleted := false
	for {
		composite, _, ok, err := firstWithPrefix(d.m.c, prefix)
		if err != nil {
			return deleted, err
		}
		if !ok {
			return deleted, nil
		}
		if _, err := d.m.c.remove(composite); err != nil {
			return deleted, err
		}
		deleted = true
	}
}

// DeletePair removes a single key/value pair.
func (d *DupMutablePatricia) DeletePair(key, value []byte) (bool, error) {
	return d.m.c.remove(compositeKey(key, value))
}

// Save writes the changed nodes depth first and returns the new root address.
func (d *DupMutablePatricia) Save() (logstore.Address, error) {
	return d.m.Save()
}

// Reclaim thaws the live nodes among records so the next Save copies them forward.
func (d *DupMutablePatricia) Reclaim(records []logstore.Loggable) error {
	return d.m.Reclaim(records)
}

// Snapshot returns the immutable version last written by Save.
func (d *DupMutablePatricia) Snapshot() *DupPatricia {
	return WithDuplicates(d.m.Snapshot())
}

// Verify checks the structural invariants of the tree.
func (d *DupMutablePatricia) Verify() error {
	return d.m.Verify()
}

// dupCursor presents a cursor over composite keys as a cursor over pairs.
type dupCursor struct {
	cur *Cursor
	err error
}

var _ tree.Cursor = (*dupCursor)(nil)

func (d *dupCursor) decoded() ([]byte, []byte) {
	if !d.cur.on {
		return nil, nil
	}
	key, value, err := splitComposite(d.cur.Key(), d.cur.Value())
	if err != nil {
		d.err = err
		return nil, nil
	}
	return key, value
}

// anchor returns the composite key the cursor logically sits at, which is
// the lost pair while a reposition is pending.
func (d *dupCursor) anchor() []byte {
	if d.cur.pend != pendNone {
		return d.cur.lostKey
	}
	return d.cur.top().key
}

func (d *dupCursor) Next() bool { return d.cur.Next() }
func (d *dupCursor) Prev() bool { return d.cur.Prev() }

func (d *dupCursor) NextDup() bool {
	return d.sameKeyMove(d.cur.Next)
}

func (d *dupCursor) PrevDup() bool {
	return d.sameKeyMove(d.cur.Prev)
}

func (d *dupCursor) sameKeyMove(move func() bool) bool {
	if !d.cur.ready() || !d.cur.on {
		return false
	}
	want := escapedKey(d.anchor())
	pos := d.cur.position()
	if move() && bytes.Equal(escapedKey(d.cur.Key()), want) {
		return true
	}
	if d.cur.err == nil {
		d.cur.restore(pos)
	}
	return false
}

func (d *dupCursor) NextNoDup() bool {
	if !d.cur.ready() {
		return false
	}
	if !d.cur.on {
		return d.cur.Next()
	}
	bound := withByte(escapedKey(d.anchor()), separatorByte+1)
	return d.cur.landed(d.cur.seek(bound))
}

func (d *dupCursor) PrevNoDup() bool {
	if !d.cur.ready() {
		return false
	}
	if !d.cur.on {
		return d.cur.Prev()
	}
	prefix := withByte(escapedKey(d.anchor()), separatorByte)
	s, ok, err := d.cur.seek(prefix)
	if err == nil {
		if ok {
			s, ok, err = d.cur.retreat(s)
		} else {
			s, ok, err = d.cur.last()
		}
	}
	return d.cur.landed(s, ok, err)
}

func (d *dupCursor) Key() []byte {
	key, _ := d.decoded()
	return key
}

func (d *dupCursor) Value() []byte {
	_, value := d.decoded()
	return value
}

func (d *dupCursor) SeekKey(key []byte) bool {
	return d.seekPrefixed(keyPrefix(key), keyPrefix(key))
}

func (d *dupCursor) SeekRange(key []byte) bool {
	if !d.cur.ready() {
		return false
	}
	return d.cur.landed(d.cur.seek(escape(nil, key)))
}

func (d *dupCursor) SeekBoth(key, value []byte) bool {
	return d.cur.SeekKey(compositeKey(key, value))
}

func (d *dupCursor) SeekBothRange(key, value []byte) bool {
	return d.seekPrefixed(compositeKey(key, value), keyPrefix(key))
}

// seekPrefixed moves to the first composite key >= target if it starts
// with prefix.
func (d *dupCursor) seekPrefixed(target, prefix []byte) bool {
	if !d.cur.ready() {
		return false
	}
	s, ok, err := d.cur.seek(target)
	if err != nil {
		d.cur.err = err
		return false
	}
	if !ok || !bytes.HasPrefix(s[len(s)-1].key, prefix) {
		return false
	}
	return d.cur.landed(s, true, nil)
}

func (d *dupCursor) Count() int {
	if !d.cur.ready() || !d.cur.on {
		return 0
	}
	prefix := withByte(escapedKey(d.cur.Key()), separatorByte)
	n, err := countPrefix(d.cur.c, prefix)
	if err != nil {
		d.cur.err = err
		return 0
	}
	return n
}

func (d *dupCursor) DeleteCurrent() (bool, error) {
	return d.cur.DeleteCurrent()
}

func (d *dupCursor) Err() error {
	if d.err != nil {
		return d.err
	}
	return d.cur.Err()
}

func (d *dupCursor) Close() {
	d.cur.Close()
}
