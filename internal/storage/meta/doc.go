// Package meta implements the meta-tree: the versioned index that maps
// store names to their metadata and structure ids to current root
// addresses.
//
// The meta-tree is a Patricia trie with two kinds of keys:
//
//	name 0x00            -> cbor StoreMeta
//	big-endian(id)       -> uvarint root address
//
// Structure ids are never multiples of 256, so an id key never ends in a
// zero byte while a name key always does.
//
// Every saved generation is anchored by a database root record holding the
// trie root address, the last allocated structure id and a check value
// derived from both. On open, the newest record whose check holds and whose
// trie can be read becomes the current generation.
package meta
