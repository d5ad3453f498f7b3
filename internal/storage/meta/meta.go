package meta

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

const (
	// StructureID is the structure id of the meta-tree itself.
	StructureID uint64 = 1

	// RootCheckConstant is folded into the check value of every database
	// root record.
	RootCheckConstant uint64 = 0x6d65_7461_726f_6f74
)

// Meta-tree errors.
var (
	ErrInvalidDatabaseRoot = errors.New("invalid database root record")
	ErrInvalidStoreMeta    = errors.New("invalid store metadata")
	ErrInvalidStoreName    = errors.New("invalid store name")
	ErrInvalidStructureID  = errors.New("invalid structure id")
)

// StoreMeta is the persistent description of a store.
type StoreMeta struct {
	StructureID uint64 `cbor:"1,keyasint"`
	Duplicates  bool   `cbor:"2,keyasint,omitempty"`
	Prefixing   bool   `cbor:"3,keyasint,omitempty"`
}

var metaEncMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func encodeStoreMeta(m StoreMeta) ([]byte, error) {
	return metaEncMode.Marshal(m)
}

func decodeStoreMeta(b []byte) (StoreMeta, error) {
	var m StoreMeta
	if err := cbor.Unmarshal(b, &m); err != nil {
		return StoreMeta{}, fmt.Errorf("%w: %v", ErrInvalidStoreMeta, err)
	}
	if !ValidStructureID(m.StructureID) {
		return StoreMeta{}, fmt.Errorf("%w: structure id %d", ErrInvalidStoreMeta, m.StructureID)
	}
	return m, nil
}

// NameKey returns the meta-tree key of a store name.
func NameKey(name string) []byte {
	k := make([]byte, 0, len(name)+1)
	k = append(k, name...)
	return append(k, 0)
}

// IDKey returns the meta-tree key of a structure id: its big-endian bytes
// without leading zeros.
func IDKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	return append([]byte(nil), buf[i:]...)
}

// ValidStructureID reports whether id may identify a store.
func ValidStructureID(id uint64) bool {
	return id > StructureID && id%256 != 0
}

// NextStructureID returns the id allocated after last, skipping multiples
// of 256.
func NextStructureID(last uint64) uint64 {
	next := last + 1
	if next%256 == 0 {
		next++
	}
	return next
}

func encodeRoot(addr logstore.Address) []byte {
	var enc tree.Encoder
	enc.Address(addr)
	return enc.Bytes()
}

func decodeRoot(b []byte) (logstore.Address, error) {
	d := tree.NewDecoder(b)
	addr := d.Address()
	if err := d.Err(); err != nil {
		return logstore.NullAddress, err
	}
	return addr, nil
}

// rootCheck derives the check value of a database root record.
func rootCheck(metaRoot logstore.Address, lastStructureID uint64) uint64 {
	return uint64(metaRoot) + lastStructureID + RootCheckConstant
}

func encodeDatabaseRoot(metaRoot logstore.Address, lastStructureID uint64) []byte {
	var enc tree.Encoder
	enc.Address(metaRoot)
	enc.Uvarint(lastStructureID)
	enc.Uvarint(rootCheck(metaRoot, lastStructureID))
	return enc.Bytes()
}

// DatabaseRoot is the decoded payload of a database root record.
type DatabaseRoot struct {
	MetaRoot        logstore.Address
	LastStructureID uint64
}

// DecodeDatabaseRoot parses and checks a database root record.
func DecodeDatabaseRoot(rec logstore.Loggable) (DatabaseRoot, error) {
	if rec.Type != tree.TypeDatabaseRoot {
		return DatabaseRoot{}, fmt.Errorf("%w: %s at %d", ErrInvalidDatabaseRoot, tree.TypeName(rec.Type), rec.Address)
	}
	d := tree.NewDecoder(rec.Data)
	root := DatabaseRoot{MetaRoot: d.Address(), LastStructureID: d.Uvarint()}
	check := d.Uvarint()
	if d.Err() != nil || !d.Done() {
		return DatabaseRoot{}, fmt.Errorf("%w: malformed record at %d", ErrInvalidDatabaseRoot, rec.Address)
	}
	if check != rootCheck(root.MetaRoot, root.LastStructureID) {
		return DatabaseRoot{}, fmt.Errorf("%w: check mismatch at %d", ErrInvalidDatabaseRoot, rec.Address)
	}
	if root.MetaRoot != logstore.NullAddress && root.MetaRoot >= rec.Address {
		return DatabaseRoot{}, fmt.Errorf("%w: meta root %d after record %d", ErrInvalidDatabaseRoot, root.MetaRoot, rec.Address)
	}
	return root, nil
}
