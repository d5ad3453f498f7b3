package patricia

import (
	"bytes"
	"fmt"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// core holds one trie version plus, for mutable tries, its staged edits.
type core struct {
	log    tree.Log
	sid    uint64
	retain bool

	rootAddr   logstore.Address
	root       *node
	rootLoaded bool
	size       int64

	expired  *tree.ExpiredLoggables
	changed  bool
	modCount uint64
}

func newCore(log tree.Log, sid uint64, rootAddr logstore.Address, size int64) *core {
	return &core{
		log:        log,
		sid:        sid,
		rootAddr:   rootAddr,
		rootLoaded: rootAddr == logstore.NullAddress,
		size:       size,
	}
}

// decode parses a node record of this trie.
func (c *core) decode(rec logstore.Loggable) (*node, int64, error) {
	if rec.StructureID != c.sid {
		return nil, 0, fmt.Errorf("%w: node at %d belongs to %d, not %d",
			tree.ErrStructureDiffer, rec.Address, rec.StructureID, c.sid)
	}
	return decodeNode(rec)
}

func (c *core) load(addr logstore.Address) (*node, error) {
	rec, err := c.log.Read(addr)
	if err != nil {
		return nil, err
	}
	n, _, err := c.decode(rec)
	return n, err
}

func (c *core) rootNode() (*node, error) {
	if c.rootLoaded {
		return c.root, nil
	}
	rec, err := c.log.Read(c.rootAddr)
	if err != nil {
		return nil, err
	}
	if rec.Type != tree.TypePatriciaRoot {
		return nil, fmt.Errorf("%w: %s at %d is not a trie root", tree.ErrCorruptedNode, tree.TypeName(rec.Type), c.rootAddr)
	}
	n, size, err := c.decode(rec)
	if err != nil {
		return nil, err
	}
	c.size = size
	if c.retain {
		c.root = n
		c.rootLoaded = true
	}
	return n, nil
}

func (c *core) childAt(n *node, i int) (*node, error) {
	ch := &n.children[i]
	if ch.node != nil {
		return ch.node, nil
	}
	loaded, err := c.load(ch.ref)
	if err != nil {
		return nil, err
	}
	if c.retain {
		ch.node = loaded
	}
	return loaded, nil
}

func (c *core) markDirty(n *node) {
	if n.dirty {
		return
	}
	n.dirty = true
	c.expired.Add(n.addr, n.length)
}

func (c *core) touch() {
	c.changed = true
	c.modCount++
}

// find returns the node whose full key is key, or nil.
func (c *core) find(key []byte) (*node, error) {
	n, err := c.rootNode()
	if err != nil || n == nil {
		return nil, err
	}
	rest := key
	for {
		if !bytes.HasPrefix(rest, n.seg) {
			return nil, nil
		}
		rest = rest[len(n.seg):]
		if len(rest) == 0 {
			return n, nil
		}
		i, found := n.findChild(rest[0])
		if !found {
			return nil, nil
		}
		if n, err = c.childAt(n, i); err != nil {
			return nil, err
		}
		rest = rest[1:]
	}
}

func (c *core) get(key []byte) ([]byte, error) {
	n, err := c.find(key)
	if err != nil {
		return nil, err
	}
	if n == nil || !n.hasValue {
		return nil, tree.ErrKeyNotFound
	}
	return n.value, nil
}

func (c *core) insert(key, value []byte, overwrite bool) (bool, error) {
	root, err := c.rootNode()
	if err != nil {
		return false, err
	}
	fresh := root == nil
	if fresh {
		root = &node{addr: logstore.NullAddress, dirty: true}
	}
	// the root segment is empty, so the root is never replaced
	_, changed, err := c.put(root, key, value, overwrite)
	if err != nil || !changed {
		return false, err
	}
	if fresh {
		c.root = root
		c.rootLoaded = true
	}
	c.touch()
	return true, nil
}

// put stores value under rest below n and returns the node that takes n's
// place in its parent.
func (c *core) put(n *node, rest, value []byte, overwrite bool) (*node, bool, error) {
	common := commonPrefix(rest, n.seg)
	if common < len(n.seg) {
		mid := &node{seg: tree.Clone(n.seg[:common]), addr: logstore.NullAddress, dirty: true}
		c.markDirty(n)
		label := n.seg[common]
		n.seg = tree.Clone(n.seg[common+1:])
		mid.children = []child{{label: label, ref: n.addr, node: n}}
		if common == len(rest) {
			mid.hasValue = true
			mid.value = tree.Clone(value)
		} else {
			leaf := newNode(rest[common+1:], value)
			i, _ := mid.findChild(rest[common])
			mid.insertChild(i, child{label: rest[common], ref: logstore.NullAddress, node: leaf})
		}
		c.size++
		return mid, true, nil
	}

	rest = rest[common:]
	if len(rest) == 0 {
		if n.hasValue {
			if !overwrite || bytes.Equal(n.value, value) {
				return n, false, nil
			}
			c.markDirty(n)
			n.value = tree.Clone(value)
			return n, true, nil
		}
		c.markDirty(n)
		n.hasValue = true
		n.value = tree.Clone(value)
		c.size++
		return n, true, nil
	}

	i, found := n.findChild(rest[0])
	if !found {
		c.markDirty(n)
		n.insertChild(i, child{label: rest[0], ref: logstore.NullAddress, node: newNode(rest[1:], value)})
		c.size++
		return n, true, nil
	}
	ch, err := c.childAt(n, i)
	if err != nil {
		return nil, false, err
	}
	repl, changed, err := c.put(ch, rest[1:], value, overwrite)
	if err != nil || !changed {
		return n, false, err
	}
	c.markDirty(n)
	n.children[i].node = repl
	return n, true, nil
}

func (c *core) remove(key []byte) (bool, error) {
	root, err := c.rootNode()
	if err != nil || root == nil {
		return false, err
	}
	_, changed, err := c.del(root, key, true)
	if err != nil || !changed {
		return false, err
	}
	if !root.hasValue && len(root.children) == 0 {
		c.root = nil
	}
	c.touch()
	return true, nil
}

// del removes the value of rest below n and returns the node that takes n's
// place in its parent, nil when n disappears.
func (c *core) del(n *node, rest []byte, isRoot bool) (*node, bool, error) {
	if !bytes.HasPrefix(rest, n.seg) {
		return n, false, nil
	}
	rest = rest[len(n.seg):]
	if len(rest) == 0 {
		if !n.hasValue {
			return n, false, nil
		}
		c.markDirty(n)
		n.hasValue = false
		n.value = nil
		c.size--
	} else {
		i, found := n.findChild(rest[0])
		if !found {
			return n, false, nil
		}
		ch, err := c.childAt(n, i)
		if err != nil {
			return nil, false, err
		}
		repl, changed, err := c.del(ch, rest[1:], false)
		if err != nil || !changed {
			return n, false, err
		}
		c.markDirty(n)
		if repl == nil {
			n.removeChild(i)
		} else {
			n.children[i].node = repl
		}
	}
	if isRoot || n.hasValue || len(n.children) > 1 {
		return n, true, nil
	}
	if len(n.children) == 0 {
		return nil, true, nil
	}
	// a value-less link with one child folds into that child
	only, err := c.childAt(n, 0)
	if err != nil {
		return nil, false, err
	}
	c.markDirty(only)
	seg := make([]byte, 0, len(n.seg)+1+len(only.seg))
	seg = append(seg, n.seg...)
	seg = append(seg, n.children[0].label)
	only.seg = append(seg, only.seg...)
	return only, true, nil
}

func (c *core) save() (logstore.Address, error) {
	if !c.rootLoaded {
		return c.rootAddr, nil
	}
	if c.root == nil {
		c.rootAddr = logstore.NullAddress
		c.changed = false
		return c.rootAddr, nil
	}
	addr, err := c.saveNode(c.root, true)
	if err != nil {
		return logstore.NullAddress, err
	}
	c.rootAddr = addr
	c.changed = false
	return addr, nil
}

func (c *core) saveNode(n *node, root bool) (logstore.Address, error) {
	if !n.dirty {
		return n.addr, nil
	}
	for i := range n.children {
		ch := &n.children[i]
		if ch.node == nil {
			continue
		}
		addr, err := c.saveNode(ch.node, false)
		if err != nil {
			return logstore.NullAddress, err
		}
		ch.ref = addr
	}
	typ, payload := encodeNode(n, root, c.size)
	rec, err := c.log.Append(typ, c.sid, payload)
	if err != nil {
		return logstore.NullAddress, err
	}
	n.addr = rec.Address
	n.length = rec.Length
	n.dirty = false
	return n.addr, nil
}

func (c *core) forEachAddress(n *node, fn func(logstore.Address, int64) error) error {
	if err := fn(n.addr, n.length); err != nil {
		return err
	}
	for i := range n.children {
		ch, err := c.childAt(n, i)
		if err != nil {
			return err
		}
		if err := c.forEachAddress(ch, fn); err != nil {
			return err
		}
	}
	return nil
}

// lastKey returns the greatest key, or ok == false for an empty trie.
func (c *core) lastKey() ([]byte, bool, error) {
	n, err := c.rootNode()
	if err != nil || n == nil {
		return nil, false, err
	}
	key := tree.Clone(n.seg)
	for len(n.children) > 0 {
		i := len(n.children) - 1
		label := n.children[i].label
		if n, err = c.childAt(n, i); err != nil {
			return nil, false, err
		}
		key = childKey(key, label, n.seg)
	}
	return key, n.hasValue, nil
}
