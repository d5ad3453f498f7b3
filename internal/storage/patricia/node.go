package patricia

import (
	"fmt"
	"sort"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// Node layout:
//
//	flags byte
//	[root] uvarint trie size
//	segment (len-prefixed)
//	[flagHasValue] value (len-prefixed)
//	uvarint child count, then per child: label byte, address
const flagHasValue byte = 1

type node struct {
	seg      []byte
	hasValue bool
	value    []byte
	children []child

	addr   logstore.Address
	length int64
	dirty  bool
}

type child struct {
	label byte
	ref   logstore.Address
	node  *node
}

func newNode(seg, value []byte) *node {
	return &node{
		seg:      tree.Clone(seg),
		hasValue: true,
		value:    tree.Clone(value),
		addr:     logstore.NullAddress,
		dirty:    true,
	}
}

// findChild returns the index of label or the index it would be inserted at.
func (n *node) findChild(label byte) (int, bool) {
	i := sort.Search(len(n.children), func(i int) bool { return n.children[i].label >= label })
	return i, i < len(n.children) && n.children[i].label == label
}

func (n *node) insertChild(i int, c child) {
	n.children = append(n.children, child{})
	copy(n.children[i+1:], n.children[i:])
	n.children[i] = c
}

func (n *node) removeChild(i int) {
	copy(n.children[i:], n.children[i+1:])
	n.children[len(n.children)-1] = child{}
	n.children = n.children[:len(n.children)-1]
}

func commonPrefix(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// childKey returns the full key of a child of the node with full key parent.
func childKey(parent []byte, label byte, seg []byte) []byte {
	k := make([]byte, 0, len(parent)+1+len(seg))
	k = append(k, parent...)
	k = append(k, label)
	return append(k, seg...)
}

func encodeNode(n *node, root bool, size int64) (byte, []byte) {
	var enc tree.Encoder
	var flags byte
	if n.hasValue {
		flags |= flagHasValue
	}
	enc.Byte(flags)
	if root {
		enc.Uvarint(uint64(size))
	}
	enc.LenBytes(n.seg)
	if n.hasValue {
		enc.LenBytes(n.value)
	}
	enc.Uvarint(uint64(len(n.children)))
	for _, c := range n.children {
		enc.Byte(c.label)
		enc.Address(c.ref)
	}
	if root {
		return tree.TypePatriciaRoot, enc.Bytes()
	}
	return tree.TypePatriciaNode, enc.Bytes()
}

// decodeNode parses a node record and returns it with the trie size carried
// by root records.
func decodeNode(rec logstore.Loggable) (*node, int64, error) {
	if !tree.IsPatriciaType(rec.Type) {
		return nil, 0, fmt.Errorf("%w: %s at %d", tree.ErrUnexpectedType, tree.TypeName(rec.Type), rec.Address)
	}
	d := tree.NewDecoder(rec.Data)
	flags := d.Byte()
	var size int64
	if rec.Type == tree.TypePatriciaRoot {
		size = int64(d.Uvarint())
	}
	n := &node{
		seg:      d.LenBytes(),
		hasValue: flags&flagHasValue != 0,
		addr:     rec.Address,
		length:   rec.Length,
	}
	if n.hasValue {
		n.value = d.LenBytes()
	}
	count := d.Uvarint()
	if d.Err() == nil && count > 256 {
		return nil, 0, fmt.Errorf("%w: %d children at %d", tree.ErrCorruptedNode, count, rec.Address)
	}
	n.children = make([]child, int(count))
	for i := range n.children {
		n.children[i].label = d.Byte()
		n.children[i].ref = d.Address()
		if i > 0 && d.Err() == nil && n.children[i-1].label >= n.children[i].label {
			return nil, 0, fmt.Errorf("%w: children out of order at %d", tree.ErrCorruptedNode, rec.Address)
		}
	}
	if err := d.Err(); err != nil {
		return nil, 0, fmt.Errorf("node at %d: %w", rec.Address, err)
	}
	return n, size, nil
}
