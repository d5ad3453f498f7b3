package tree

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
)

// Encoder appends node fields to a payload buffer.
type Encoder struct {
	buf []byte
}

// Bytes returns the encoded payload.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Byte appends one byte.
func (e *Encoder) Byte(b byte) {
	e.buf = append(e.buf, b)
}

// Uvarint appends an unsigned varint.
func (e *Encoder) Uvarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

// Address appends an address, encoding NullAddress as zero.
func (e *Encoder) Address(a logstore.Address) {
	e.Uvarint(uint64(a + 1))
}

// LenBytes appends a length-prefixed byte string.
func (e *Encoder) LenBytes(b []byte) {
	e.Uvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

// Decoder reads node fields from a payload.
type Decoder struct {
	buf []byte
	off int
	err error
}

// NewDecoder returns a decoder over payload.
func NewDecoder(payload []byte) *Decoder {
	return &Decoder{buf: payload}
}

// Err returns the first decoding error.
func (d *Decoder) Err() error {
	return d.err
}

// Done reports whether the whole payload has been consumed.
func (d *Decoder) Done() bool {
	return d.off >= len(d.buf)
}

func (d *Decoder) fail(what string) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: bad %s at offset %d", ErrCorruptedNode, what, d.off)
	}
}

// Byte reads one byte.
func (d *Decoder) Byte() byte {
	if d.err != nil {
		return 0
	}
	if d.off >= len(d.buf) {
		d.fail("byte")
		return 0
	}
	b := d.buf[d.off]
	d.off++
	return b
}

// Uvarint reads an unsigned varint.
func (d *Decoder) Uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 {
		d.fail("varint")
		return 0
	}
	d.off += n
	return v
}

// Address reads an address written by Encoder.Address.
func (d *Decoder) Address() logstore.Address {
	return logstore.Address(d.Uvarint()) - 1
}

// LenBytes reads a length-prefixed byte string. The result is a copy.
func (d *Decoder) LenBytes() []byte {
	n := d.Uvarint()
	if d.err != nil {
		return nil
	}
	if uint64(len(d.buf)-d.off) < n {
		d.fail("byte string")
		return nil
	}
	out := bytes.Clone(d.buf[d.off : d.off+int(n)])
	d.off += int(n)
	return out
}

// CompareKeys compares two byte strings lexicographically.
func CompareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Clone returns a copy of b that never aliases the caller's buffer.
func Clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return bytes.Clone(b)
}
