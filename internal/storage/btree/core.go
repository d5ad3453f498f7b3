package btree

import (
	"fmt"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// core is the page engine shared by immutable trees, mutable trees and
// duplicates sub-trees.
type core struct {
	log     tree.Log
	sid     uint64
	cfg     Config
	dups    bool
	dupMode bool
	owner   []byte
	maxSize int

	// retain keeps loaded pages attached to their parents. Only mutable
	// cores retain; immutable reads decode pages per operation so that one
	// tree version can serve concurrent readers.
	retain bool

	rootAddr   logstore.Address
	root       *node
	rootLoaded bool
	size       int64

	expired  *tree.ExpiredLoggables
	changed  bool
	modCount uint64
}

func newCore(log tree.Log, sid uint64, dups bool, cfg Config, rootAddr logstore.Address, size int64) *core {
	return &core{
		log:        log,
		sid:        sid,
		cfg:        cfg,
		dups:       dups,
		maxSize:    cfg.PageMaxSize,
		rootAddr:   rootAddr,
		rootLoaded: rootAddr == logstore.NullAddress,
		size:       size,
	}
}

// newSub returns the core of the duplicates sub-tree of owner.
func (c *core) newSub(owner []byte, rootAddr logstore.Address) *core {
	return &core{
		log:        c.log,
		sid:        c.sid,
		cfg:        c.cfg,
		dupMode:    true,
		owner:      owner,
		maxSize:    c.cfg.DupPageMaxSize,
		retain:     c.retain,
		rootAddr:   rootAddr,
		rootLoaded: rootAddr == logstore.NullAddress,
		expired:    c.expired,
	}
}

func (c *core) loadPage(addr logstore.Address) (*node, pageInfo, error) {
	rec, err := c.log.Read(addr)
	if err != nil {
		return nil, pageInfo{}, err
	}
	if rec.StructureID != c.sid {
		return nil, pageInfo{}, fmt.Errorf("%w: page at %d belongs to %d, not %d",
			tree.ErrStructureDiffer, addr, rec.StructureID, c.sid)
	}
	return decodePage(rec, c.dupMode)
}

// rootNode returns the root page, or nil for an empty tree.
func (c *core) rootNode() (*node, error) {
	if c.rootLoaded {
		return c.root, nil
	}
	n, info, err := c.loadPage(c.rootAddr)
	if err != nil {
		return nil, err
	}
	if !info.root {
		return nil, fmt.Errorf("%w: %d is not a root page", tree.ErrCorruptedNode, c.rootAddr)
	}
	c.size = info.size
	if c.retain {
		c.root = n
		c.rootLoaded = true
	}
	return n, nil
}

func (c *core) childAt(n *node, i int) (*node, error) {
	e := &n.entries[i]
	if e.child != nil {
		return e.child, nil
	}
	child, _, err := c.loadPage(e.ref)
	if err != nil {
		return nil, err
	}
	if c.retain {
		e.child = child
	}
	return child, nil
}

// subAt returns the duplicates sub-tree of leaf entry i.
func (c *core) subAt(n *node, i int) (*core, error) {
	e := &n.entries[i]
	if e.sub != nil {
		return e.sub, nil
	}
	sub := c.newSub(e.key, e.ref)
	if _, err := sub.rootNode(); err != nil {
		return nil, err
	}
	if c.retain {
		e.sub = sub
	}
	return sub, nil
}

// markDirty schedules n for rewriting and expires the record it came from.
func (c *core) markDirty(n *node) {
	if n.dirty {
		return
	}
	n.dirty = true
	c.expired.Add(n.addr, n.length)
}

// retire expires the record of a node that is dropped from the tree.
func (c *core) retire(n *node) {
	if !n.dirty {
		c.expired.Add(n.addr, n.length)
		n.dirty = true
	}
}

func (c *core) touch() {
	c.changed = true
	c.modCount++
}

// retireTree expires every record of the tree.
func (c *core) retireTree() error {
	root, err := c.rootNode()
	if err != nil || root == nil {
		return err
	}
	return c.retireNode(root)
}

func (c *core) retireNode(n *node) error {
	for i := range n.entries {
		switch {
		case !n.leaf:
			child, err := c.childAt(n, i)
			if err != nil {
				return err
			}
			if err := c.retireNode(child); err != nil {
				return err
			}
		case n.entries[i].dup:
			sub, err := c.subAt(n, i)
			if err != nil {
				return err
			}
			if err := sub.retireTree(); err != nil {
				return err
			}
		}
	}
	c.retire(n)
	return nil
}

// findLeaf descends to the leaf that holds or would hold key.
func (c *core) findLeaf(key []byte) (*node, int, bool, error) {
	n, err := c.rootNode()
	if err != nil || n == nil {
		return nil, 0, false, err
	}
	for !n.leaf {
		if n, err = c.childAt(n, n.childIndex(key)); err != nil {
			return nil, 0, false, err
		}
	}
	i, found := n.findKeyIndex(key)
	return n, i, found, nil
}

// edge returns the first or last leaf entry.
func (c *core) edge(last bool) (*node, int, error) {
	n, err := c.rootNode()
	if err != nil || n == nil {
		return nil, 0, err
	}
	for {
		i := 0
		if last {
			i = len(n.entries) - 1
		}
		if n.leaf {
			return n, i, nil
		}
		if n, err = c.childAt(n, i); err != nil {
			return nil, 0, err
		}
	}
}

// leafOp edits leaf n at idx, where found reports whether the key is there.
type leafOp func(n *node, idx int, found bool) (bool, error)

// insert applies op at the leaf for key, splitting pages on the way back up.
func (c *core) insert(key []byte, op leafOp) (bool, error) {
	root, err := c.rootNode()
	if err != nil {
		return false, err
	}
	fresh := root == nil
	if fresh {
		root = newLeaf()
	}
	changed, atEnd, err := c.insertRec(root, key, op)
	if err != nil || !changed {
		return false, err
	}
	if fresh {
		c.root = root
		c.rootLoaded = true
	}
	if len(root.entries) > c.maxSize {
		sib := root.split(splitPoint(len(root.entries), atEnd))
		c.root = &node{
			entries: []entry{
				{key: root.minKey(), child: root, ref: logstore.NullAddress},
				{key: sib.minKey(), child: sib, ref: logstore.NullAddress},
			},
			addr:  logstore.NullAddress,
			dirty: true,
		}
	}
	c.touch()
	return true, nil
}

// insertRec reports whether the subtree changed and whether the last
// insertion into n happened at its final slot.
func (c *core) insertRec(n *node, key []byte, op leafOp) (bool, bool, error) {
	if n.leaf {
		before := len(n.entries)
		idx, found := n.findKeyIndex(key)
		changed, err := op(n, idx, found)
		if err != nil || !changed {
			return false, false, err
		}
		c.markDirty(n)
		return true, len(n.entries) > before && idx == len(n.entries)-1, nil
	}

	i := n.childIndex(key)
	child, err := c.childAt(n, i)
	if err != nil {
		return false, false, err
	}
	changed, atEnd, err := c.insertRec(child, key, op)
	if err != nil || !changed {
		return false, false, err
	}
	c.markDirty(n)
	n.entries[i].key = child.minKey()
	if len(child.entries) > c.maxSize {
		sib := child.split(splitPoint(len(child.entries), atEnd))
		n.insertAt(i+1, entry{key: sib.minKey(), child: sib, ref: logstore.NullAddress})
		return true, i+1 == len(n.entries)-1, nil
	}
	return true, false, nil
}

// delOp edits leaf n at idx, where the key was found.
type delOp func(n *node, idx int) (bool, error)

// remove applies op at the leaf holding key and rebalances on the way up.
func (c *core) remove(key []byte, op delOp) (bool, error) {
	root, err := c.rootNode()
	if err != nil || root == nil {
		return false, err
	}
	changed, err := c.removeRec(root, key, op)
	if err != nil || !changed {
		return false, err
	}
	if err := c.collapseRoot(); err != nil {
		return false, err
	}
	c.touch()
	return true, nil
}

func (c *core) removeRec(n *node, key []byte, op delOp) (bool, error) {
	if n.leaf {
		idx, found := n.findKeyIndex(key)
		if !found {
			return false, nil
		}
		changed, err := op(n, idx)
		if err != nil || !changed {
			return false, err
		}
		c.markDirty(n)
		return true, nil
	}

	i := n.childIndex(key)
	child, err := c.childAt(n, i)
	if err != nil {
		return false, err
	}
	changed, err := c.removeRec(child, key, op)
	if err != nil || !changed {
		return false, err
	}
	c.markDirty(n)
	return true, c.rebalance(n, i)
}

// rebalance drops an emptied child or merges it with a neighbour when both
// fit in 7/8 of a page.
func (c *core) rebalance(n *node, i int) error {
	child := n.entries[i].child
	if len(child.entries) == 0 {
		c.retire(child)
		n.removeAt(i)
		return nil
	}
	n.entries[i].key = child.minKey()

	j := i + 1
	if j >= len(n.entries) {
		j = i - 1
	}
	if j < 0 {
		return nil
	}
	l, r := i, j
	if j < i {
		l, r = j, i
	}
	left, err := c.childAt(n, l)
	if err != nil {
		return err
	}
	right, err := c.childAt(n, r)
	if err != nil {
		return err
	}
	combined := len(left.entries) + len(right.entries)
	if len(left.entries) != 0 && len(right.entries) != 0 && combined > c.maxSize*7/8 {
		return nil
	}

	c.markDirty(left)
	c.retire(right)
	left.entries = append(left.entries, right.entries...)
	n.removeAt(r)
	n.entries[l].key = left.minKey()
	return nil
}

// collapseRoot removes internal roots with a single child and empty roots.
func (c *core) collapseRoot() error {
	for {
		root := c.root
		if root == nil {
			return nil
		}
		if len(root.entries) == 0 {
			c.retire(root)
			c.root = nil
			return nil
		}
		if root.leaf || len(root.entries) > 1 {
			return nil
		}
		child, err := c.childAt(root, 0)
		if err != nil {
			return err
		}
		c.retire(root)
		// the child is rewritten as a root page
		c.markDirty(child)
		c.root = child
	}
}

// save writes dirty pages bottom-up and returns the root address.
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
	for i := range n.entries {
		e := &n.entries[i]
		switch {
		case !n.leaf && e.child != nil:
			addr, err := c.saveNode(e.child, false)
			if err != nil {
				return logstore.NullAddress, err
			}
			e.ref = addr
		case n.leaf && e.dup && e.sub != nil:
			addr, err := e.sub.save()
			if err != nil {
				return logstore.NullAddress, err
			}
			e.ref = addr
		}
	}
	typ, payload := encodePage(n, pageInfo{root: root, size: c.size, owner: c.owner}, c.dupMode)
	rec, err := c.log.Append(typ, c.sid, payload)
	if err != nil {
		return logstore.NullAddress, err
	}
	n.addr = rec.Address
	n.length = rec.Length
	n.dirty = false
	return n.addr, nil
}

// forEachAddress visits every record reachable from n.
func (c *core) forEachAddress(n *node, fn func(logstore.Address, int64) error) error {
	if err := fn(n.addr, n.length); err != nil {
		return err
	}
	for i := range n.entries {
		switch {
		case !n.leaf:
			child, err := c.childAt(n, i)
			if err != nil {
				return err
			}
			if err := c.forEachAddress(child, fn); err != nil {
				return err
			}
		case n.entries[i].dup:
			sub, err := c.subAt(n, i)
			if err != nil {
				return err
			}
			root, err := sub.rootNode()
			if err != nil {
				return err
			}
			if err := sub.forEachAddress(root, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
