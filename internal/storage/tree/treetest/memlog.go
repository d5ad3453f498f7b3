// Package treetest provides an in-memory record log for tree tests.
package treetest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
)

// recordOverhead approximates the framing bytes of a real record.
const recordOverhead = 8

// MemLog keeps records in memory. Addresses grow like log offsets.
type MemLog struct {
	mu      sync.Mutex
	records map[logstore.Address]logstore.Loggable
	next    logstore.Address
}

// NewMemLog returns an empty log.
func NewMemLog() *MemLog {
	return &MemLog{records: make(map[logstore.Address]logstore.Loggable)}
}

// Read returns the record at addr.
func (m *MemLog) Read(addr logstore.Address) (logstore.Loggable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[addr]
	if !ok {
		return logstore.Loggable{}, fmt.Errorf("%w: %d", logstore.ErrInvalidAddress, addr)
	}
	return rec, nil
}

// Append stores a record at the next address.
func (m *MemLog) Append(typ byte, structureID uint64, payload []byte) (logstore.Loggable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := logstore.Loggable{
		Address:     m.next,
		Type:        typ,
		StructureID: structureID,
		Data:        append([]byte(nil), payload...),
		Length:      int64(len(payload) + recordOverhead),
	}
	m.records[rec.Address] = rec
	m.next = rec.End()
	return rec, nil
}

// Len returns the number of records written.
func (m *MemLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// High returns the address the next record will get.
func (m *MemLog) High() logstore.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

// Records returns every record in address order.
func (m *MemLog) Records() []logstore.Loggable {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]logstore.Loggable, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Forget drops a record so that reading it fails.
func (m *MemLog) Forget(addr logstore.Address) {
	m.mu.Lock()
	delete(m.records, addr)
	m.mu.Unlock()
}

// LastRecordOfType returns the newest record of type typ accepted by valid.
func (m *MemLog) LastRecordOfType(typ byte, valid func(logstore.Loggable) bool) (logstore.Loggable, bool, error) {
	recs := m.Records()
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Type == typ && valid(recs[i]) {
			return recs[i], true, nil
		}
	}
	return logstore.Loggable{}, false, nil
}

// Corrupt replaces the payload of a record.
func (m *MemLog) Corrupt(addr logstore.Address, payload []byte) {
	m.mu.Lock()
	if rec, ok := m.records[addr]; ok {
		rec.Data = payload
		m.records[addr] = rec
	}
	m.mu.Unlock()
}
