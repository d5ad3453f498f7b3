package patricia

import (
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
			return fmt.Errorf("%w: empty trie with size %d", tree.ErrCorruptedNode, c.size)
		}
		return nil
	}
	if len(root.seg) != 0 {
		return fmt.Errorf("%w: root segment %q", tree.ErrCorruptedNode, root.seg)
	}
	if !root.hasValue && len(root.children) == 0 {
		return fmt.Errorf("%w: empty root node", tree.ErrCorruptedNode)
	}
	count, err := c.verifyNode(root, true)
	if err != nil {
		return err
	}
	if count != c.size {
		return fmt.Errorf("%w: size %d, counted %d", tree.ErrCorruptedNode, c.size, count)
	}
	return nil
}

func (c *core) verifyNode(n *node, root bool) (int64, error) {
	if !root && !n.hasValue && len(n.children) < 2 {
		return 0, fmt.Errorf("%w: value-less node at %d with %d children",
			tree.ErrCorruptedNode, n.addr, len(n.children))
	}
	var count int64
	if n.hasValue {
		count++
	}
	for i := range n.children {
		if i > 0 && n.children[i-1].label >= n.children[i].label {
			return 0, fmt.Errorf("%w: children out of order at %d", tree.ErrCorruptedNode, n.addr)
		}
		ch, err := c.childAt(n, i)
		if err != nil {
			return 0, err
		}
		sub, err := c.verifyNode(ch, false)
		if err != nil {
			return 0, err
		}
		count += sub
	}
	return count, nil
}
