// Package patricia implements the copy-on-write Patricia trie of cowdb.
//
// Each node stores a key segment, an optional value and a set of children
// labelled by single bytes, kept in label order. The full key of a node is
// the concatenation, from the root down, of every segment and every child
// label on the way; the root segment is always empty.
//
// Insertion matches the longest common prefix of the remaining key and the
// node segment and splits the node when they diverge. Deletion merges a node
// that lost its value and kept exactly one child with that child, so no
// non-root node is a value-less single-child link.
//
// The trie itself keeps one value per key. WithDuplicates layers
// multi-value semantics on top by escaping keys and values into one
// composite key.
package patricia
