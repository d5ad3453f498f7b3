package btree

import (
	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// Reclaim marks the pages among records that are still part of the tree,
// together with their ancestors, so that the next Save moves them to the
// head of the log. Records that are no longer reachable are ignored.
func (m *MutableBTree) Reclaim(records []logstore.Loggable) error {
	c := m.c
	for _, rec := range records {
		if rec.StructureID != c.sid || !tree.IsBTreeType(rec.Type) {
			continue
		}
		dupPage := tree.IsDupType(rec.Type)
		n, info, err := decodePage(rec, dupPage)
		if err != nil {
			return err
		}
		if len(n.entries) == 0 {
			continue
		}
		if !dupPage {
			if _, err := c.thaw(n.minKey(), rec.Address); err != nil {
				return err
			}
			continue
		}
		if err := c.thawDup(info.owner, n.minKey(), rec.Address); err != nil {
			return err
		}
	}
	return nil
}

// pathTo returns the pages from the root towards key, stopping early at the
// page stored at stop unless stop is NullAddress.
func (c *core) pathTo(key []byte, stop logstore.Address) ([]*node, error) {
	n, err := c.rootNode()
	if err != nil || n == nil {
		return nil, err
	}
	nodes := []*node{n}
	for !n.leaf && (stop == logstore.NullAddress || n.addr != stop) {
		if n, err = c.childAt(n, n.childIndex(key)); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// thaw dirties the path to the page at addr whose minimum key is key.
func (c *core) thaw(key []byte, addr logstore.Address) (bool, error) {
	nodes, err := c.pathTo(key, addr)
	if err != nil || len(nodes) == 0 {
		return false, err
	}
	if nodes[len(nodes)-1].addr != addr {
		return false, nil
	}
	for _, n := range nodes {
		c.markDirty(n)
	}
	c.changed = true
	return true, nil
}

func (c *core) thawDup(owner, minValue []byte, addr logstore.Address) error {
	nodes, err := c.pathTo(owner, logstore.NullAddress)
	if err != nil || len(nodes) == 0 {
		return err
	}
	leaf := nodes[len(nodes)-1]
	i, found := leaf.findKeyIndex(owner)
	if !found || !leaf.entries[i].dup {
		return nil
	}
	sub, err := c.subAt(leaf, i)
	if err != nil {
		return err
	}
	thawed, err := sub.thaw(minValue, addr)
	if err != nil || !thawed {
		return err
	}
	for _, n := range nodes {
		c.markDirty(n)
	}
	c.changed = true
	return nil
}
