package btree

import (
	"bytes"
	"fmt"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

func (c *core) verify() error {
	root, err := c.rootNode()
	if err != nil {
		return err
	}
	if root == nil {
		if c.size != 0 {
			return fmt.Errorf("%w: empty tree with size %d", tree.ErrCorruptedNode, c.size)
		}
		return nil
	}
	if !root.leaf && len(root.entries) < 2 {
		return fmt.Errorf("%w: internal root with %d entries", tree.ErrCorruptedNode, len(root.entries))
	}
	pairs, err := c.verifyNode(root, true)
	if err != nil {
		return err
	}
	if pairs != c.size {
		return fmt.Errorf("%w: size %d, counted %d", tree.ErrCorruptedNode, c.size, pairs)
	}
	return nil
}

func (c *core) verifyNode(n *node, root bool) (int64, error) {
	if len(n.entries) > c.maxSize {
		return 0, fmt.Errorf("%w: page at %d holds %d entries, max %d",
			tree.ErrCorruptedNode, n.addr, len(n.entries), c.maxSize)
	}
	if !root && len(n.entries) == 0 {
		return 0, fmt.Errorf("%w: empty page at %d", tree.ErrCorruptedNode, n.addr)
	}
	for i := 1; i < len(n.entries); i++ {
		if bytes.Compare(n.entries[i-1].key, n.entries[i].key) >= 0 {
			return 0, fmt.Errorf("%w: keys out of order in page at %d", tree.ErrCorruptedNode, n.addr)
		}
	}

	var pairs int64
	for i := range n.entries {
		e := &n.entries[i]
		switch {
		case !n.leaf:
			child, err := c.childAt(n, i)
			if err != nil {
				return 0, err
			}
			if !bytes.Equal(child.minKey(), e.key) {
				return 0, fmt.Errorf("%w: separator %q differs from child minimum %q",
					tree.ErrCorruptedNode, e.key, child.minKey())
			}
			sub, err := c.verifyNode(child, false)
			if err != nil {
				return 0, err
			}
			pairs += sub
		case e.dup:
			sub, err := c.subAt(n, i)
			if err != nil {
				return 0, err
			}
			if sub.size < 2 {
				return 0, fmt.Errorf("%w: duplicates of %q hold %d values", tree.ErrCorruptedNode, e.key, sub.size)
			}
			if err := sub.verify(); err != nil {
				return 0, err
			}
			pairs += sub.size
		default:
			pairs++
		}
	}
	return pairs, nil
}
