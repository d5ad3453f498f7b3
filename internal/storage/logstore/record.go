package logstore

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"
)

// Address identifies a record in the log.
type Address int64

// NullAddress is the address of nothing.
const NullAddress Address = -1

// PaddingType is the record type written to fill the end of a file.
const PaddingType byte = 0

const (
	flagSnappy byte = 1 << 0

	// maxRecordHeader bounds type, flags and two uvarints.
	maxRecordHeader = 2 + 2*binary.MaxVarintLen64
	crcSize         = 4
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Loggable is one record read from the log.
type Loggable struct {
	Address     Address
	Type        byte
	StructureID uint64
	Data        []byte
	// Length is the number of bytes the record occupies in the log.
	Length int64
}

// End returns the address following the record.
func (l Loggable) End() Address {
	return l.Address + Address(l.Length)
}

// encodeRecord serializes a record, compressing the payload when it pays off.
func encodeRecord(typ byte, structureID uint64, payload []byte, compressThreshold int) []byte {
	var flags byte
	if compressThreshold > 0 && len(payload) >= compressThreshold {
		if c := snappy.Encode(nil, payload); len(c) < len(payload) {
			payload = c
			flags |= flagSnappy
		}
	}

	buf := make([]byte, 0, maxRecordHeader+len(payload)+crcSize)
	buf = append(buf, typ, flags)
	buf = binary.AppendUvarint(buf, structureID)
	buf = binary.AppendUvarint(buf, uint64(len(payload)))
	buf = append(buf, payload...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.Checksum(buf, crcTable))
	return buf
}

// recordHeader is the decoded prefix of a record.
type recordHeader struct {
	typ         byte
	flags       byte
	structureID uint64
	length      int
	headerLen   int
}

// total returns the full encoded size of the record.
func (h recordHeader) total() int {
	return h.headerLen + h.length + crcSize
}

// decodeHeader parses the record prefix in buf.
// A file sealed with one byte to spare ends in a lone padding byte.
func decodeHeader(buf []byte) (recordHeader, error) {
	if len(buf) >= 1 && buf[0] == PaddingType {
		return recordHeader{typ: PaddingType}, nil
	}
	if len(buf) < 2 {
		return recordHeader{}, fmt.Errorf("%w: short record header", ErrCorrupted)
	}
	h := recordHeader{typ: buf[0], flags: buf[1]}
	sid, n := binary.Uvarint(buf[2:])
	if n <= 0 {
		return recordHeader{}, fmt.Errorf("%w: bad structure id", ErrCorrupted)
	}
	length, m := binary.Uvarint(buf[2+n:])
	if m <= 0 || length > uint64(MaxFileSize) {
		return recordHeader{}, fmt.Errorf("%w: bad record length", ErrCorrupted)
	}
	h.structureID = sid
	h.length = int(length)
	h.headerLen = 2 + n + m
	return h, nil
}

// decodeBody verifies the checksum of a full record and returns its payload.
func decodeBody(h recordHeader, buf []byte) ([]byte, error) {
	if len(buf) < h.total() {
		return nil, fmt.Errorf("%w: truncated record", ErrCorrupted)
	}
	body := buf[:h.headerLen+h.length]
	want := binary.LittleEndian.Uint32(buf[h.headerLen+h.length:])
	if crc32.Checksum(body, crcTable) != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupted)
	}
	payload := body[h.headerLen:]
	if h.flags&flagSnappy != 0 {
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		return out, nil
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}
