// Package logstore provides the append-only, address-indexed record log that
// backs every cowdb tree.
//
// # Addresses
//
// The log is a sequence of fixed-capacity files. A record's address is the
// address of its file plus the record's byte offset inside that file, so the
// file holding an address is found by rounding down to a multiple of the file
// size. Addresses are assigned monotonically and are never reused.
//
// # File Format
//
// Every file starts with a 32-byte header:
//
//	magic(4) version(2) reserved(2) environment-uuid(16) file-address(8)
//
// followed by records:
//
//	type(1) flags(1) uvarint(structureID) uvarint(len) payload crc32c(4)
//
// A zero type byte marks padding written when a record did not fit into the
// rest of a file. Bit 0 of flags marks a snappy-compressed payload.
//
// # Durability
//
// Writers bracket groups of records with BeginWrite and EndWrite. EndWrite
// flushes buffered records and, when configured, syncs the file. On open the
// tail of the newest file is scanned and a torn final record is truncated.
//
// # Removal
//
// Files are only ever removed whole, by the garbage collector, once no tree
// version that could reference them is reachable.
package logstore
