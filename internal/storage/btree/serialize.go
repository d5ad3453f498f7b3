package btree

import (
	"fmt"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// Page layout:
//
//	[dup pages]  owner key (len-prefixed)
//	[root pages] uvarint tree size
//	uvarint entry count, then per entry:
//	  leaf:          key, flag, value | dup root address
//	  dup leaf:      key
//	  internal:      key, child address

const (
	flagValue byte = 0
	flagDup   byte = 1
)

// pageInfo carries the page header fields not kept in node.
type pageInfo struct {
	root  bool
	size  int64
	owner []byte
}

func pageType(leaf, root, dupMode bool) byte {
	switch {
	case dupMode && leaf && root:
		return tree.TypeDupLeafRoot
	case dupMode && leaf:
		return tree.TypeDupLeaf
	case dupMode && root:
		return tree.TypeDupInternalRoot
	case dupMode:
		return tree.TypeDupInternal
	case leaf && root:
		return tree.TypeBTreeLeafRoot
	case leaf:
		return tree.TypeBTreeLeaf
	case root:
		return tree.TypeBTreeInternalRoot
	default:
		return tree.TypeBTreeInternal
	}
}

// encodePage serializes n. Child and sub-tree addresses must be saved already.
func encodePage(n *node, info pageInfo, dupMode bool) (byte, []byte) {
	var enc tree.Encoder
	if dupMode {
		enc.LenBytes(info.owner)
	}
	if info.root {
		enc.Uvarint(uint64(info.size))
	}
	enc.Uvarint(uint64(len(n.entries)))
	for i := range n.entries {
		e := &n.entries[i]
		enc.LenBytes(e.key)
		switch {
		case !n.leaf:
			enc.Address(e.ref)
		case dupMode:
		case e.dup:
			enc.Byte(flagDup)
			enc.Address(e.ref)
		default:
			enc.Byte(flagValue)
			enc.LenBytes(e.value)
		}
	}
	return pageType(n.leaf, info.root, dupMode), enc.Bytes()
}

// decodePage parses a page record.
func decodePage(rec logstore.Loggable, dupMode bool) (*node, pageInfo, error) {
	if !tree.IsBTreeType(rec.Type) || tree.IsDupType(rec.Type) != dupMode {
		return nil, pageInfo{}, fmt.Errorf("%w: %s at %d", tree.ErrUnexpectedType, tree.TypeName(rec.Type), rec.Address)
	}
	leaf := rec.Type == tree.TypeBTreeLeaf || rec.Type == tree.TypeBTreeLeafRoot ||
		rec.Type == tree.TypeDupLeaf || rec.Type == tree.TypeDupLeafRoot
	info := pageInfo{root: tree.IsRootType(rec.Type)}

	d := tree.NewDecoder(rec.Data)
	if dupMode {
		info.owner = d.LenBytes()
	}
	if info.root {
		info.size = int64(d.Uvarint())
	}
	count := d.Uvarint()
	if d.Err() == nil && count > uint64(len(rec.Data)) {
		return nil, pageInfo{}, fmt.Errorf("%w: entry count %d at %d", tree.ErrCorruptedNode, count, rec.Address)
	}

	n := &node{
		leaf:    leaf,
		entries: make([]entry, int(count)),
		addr:    rec.Address,
		length:  rec.Length,
	}
	for i := range n.entries {
		e := &n.entries[i]
		e.key = d.LenBytes()
		e.ref = logstore.NullAddress
		switch {
		case !leaf:
			e.ref = d.Address()
		case dupMode:
		default:
			if d.Byte() == flagDup {
				e.dup = true
				e.ref = d.Address()
			} else {
				e.value = d.LenBytes()
			}
		}
	}
	if err := d.Err(); err != nil {
		return nil, pageInfo{}, fmt.Errorf("page at %d: %w", rec.Address, err)
	}
	return n, info, nil
}
