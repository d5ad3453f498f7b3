// Package tree defines the contracts shared by the copy-on-write trees of
// cowdb: record types, the immutable and mutable tree interfaces, cursors,
// and the expired-record collection handed to the garbage collector.
//
// A tree version is fully described by its root address, its size, its
// duplicates flag and its structure id. Immutable trees are never modified.
// A MutableTree stages edits in memory and, on Save, writes every changed
// node bottom-up so parents can embed the addresses just assigned to their
// children. Records superseded by those writes are collected in an
// ExpiredLoggables set that the caller forwards to the garbage collector.
package tree
