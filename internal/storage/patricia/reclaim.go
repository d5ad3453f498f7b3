package patricia

import (
	"bytes"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// reclaimSet indexes the records handed to Reclaim.
type reclaimSet struct {
	records map[logstore.Address]logstore.Loggable
	low     logstore.Address
	visited map[logstore.Address]bool
	reached int
}

// Reclaim thaws every node among records that is still part of the trie,
// together with its ancestors, so that the next Save copies it forward.
//
// Node records do not carry their full key, so the trie is walked from the
// root records of the set, in parallel with the live trie along the same
// key paths. Subtrees older than the set are never entered. Records not
// reached that way are looked up by a walk of the live trie.
func (m *MutablePatricia) Reclaim(records []logstore.Loggable) error {
	c := m.c
	set := &reclaimSet{
		records: make(map[logstore.Address]logstore.Loggable),
		visited: make(map[logstore.Address]bool),
	}
	for _, rec := range records {
		if rec.StructureID != c.sid || !tree.IsPatriciaType(rec.Type) {
			continue
		}
		if len(set.records) == 0 || rec.Address < set.low {
			set.low = rec.Address
		}
		set.records[rec.Address] = rec
	}
	if len(set.records) == 0 {
		return nil
	}

	for addr, rec := range set.records {
		if rec.Type != tree.TypePatriciaRoot {
			continue
		}
		if err := c.reclaimFrom(set, addr, nil); err != nil {
			return err
		}
	}
	if set.reached == len(set.records) {
		return nil
	}
	root, err := c.rootNode()
	if err != nil || root == nil {
		return err
	}
	return c.reclaimWalk(set, []*node{root})
}

// reclaimFrom visits the source node at addr whose full key starts with
// prefix, thawing the live node at the same key when it is the same record.
func (c *core) reclaimFrom(set *reclaimSet, addr logstore.Address, prefix []byte) error {
	if set.visited[addr] {
		return nil
	}
	rec, ok := set.records[addr]
	if !ok {
		var err error
		if rec, err = c.log.Read(addr); err != nil {
			return err
		}
	}
	set.visited[addr] = true
	src, _, err := c.decode(rec)
	if err != nil {
		return err
	}
	key := append(append([]byte(nil), prefix...), src.seg...)
	if ok {
		set.reached++
		nodes, err := c.locate(key)
		if err != nil {
			return err
		}
		if len(nodes) > 0 && nodes[len(nodes)-1].addr == addr {
			c.thaw(nodes)
		}
	}
	for _, ch := range src.children {
		if ch.ref < set.low {
			continue
		}
		if err := c.reclaimFrom(set, ch.ref, append(append([]byte(nil), key...), ch.label)); err != nil {
			return err
		}
	}
	return nil
}

// locate returns the live nodes from the root to the node whose full key is
// key, or nil when no node has exactly that key.
func (c *core) locate(key []byte) ([]*node, error) {
	n, err := c.rootNode()
	if err != nil || n == nil {
		return nil, err
	}
	nodes := []*node{n}
	rest := key
	for {
		if !bytes.HasPrefix(rest, n.seg) {
			return nil, nil
		}
		rest = rest[len(n.seg):]
		if len(rest) == 0 {
			return nodes, nil
		}
		i, found := n.findChild(rest[0])
		if !found {
			return nil, nil
		}
		if n, err = c.childAt(n, i); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
		rest = rest[1:]
	}
}

// reclaimWalk searches the live trie below the last node of path for clean
// nodes stored in the set. Clean subtrees older than the set are skipped.
func (c *core) reclaimWalk(set *reclaimSet, path []*node) error {
	n := path[len(path)-1]
	if !n.dirty {
		if n.addr < set.low {
			return nil
		}
		if _, ok := set.records[n.addr]; ok {
			c.thaw(path)
		}
	}
	for i := range n.children {
		ch, err := c.childAt(n, i)
		if err != nil {
			return err
		}
		if err := c.reclaimWalk(set, append(path[:len(path):len(path)], ch)); err != nil {
			return err
		}
	}
	return nil
}

func (c *core) thaw(nodes []*node) {
	for _, n := range nodes {
		c.markDirty(n)
	}
	c.changed = true
}
