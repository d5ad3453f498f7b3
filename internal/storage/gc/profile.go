package gc

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/env"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// FileUtilization describes the live share of one log file.
type FileUtilization struct {
	File    logstore.Address
	Length  int64
	Expired int64
	// Utilization is the live percentage of the file's record bytes.
	Utilization int
}

// UtilizationProfile counts expired bytes per log file. It is safe for
// concurrent use.
type UtilizationProfile struct {
	log *logstore.Log

	mu      sync.Mutex
	expired map[logstore.Address]int64
}

// NewUtilizationProfile returns an empty profile for log.
func NewUtilizationProfile(log *logstore.Log) *UtilizationProfile {
	return &UtilizationProfile{
		log:     log,
		expired: make(map[logstore.Address]int64),
	}
}

// Fetch accounts expired records to their files.
func (p *UtilizationProfile) Fetch(records []tree.ExpiredLoggable) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range records {
		p.expired[p.log.FileAddress(r.Address)] += r.Length
	}
}

// Expired returns the expired bytes of file.
func (p *UtilizationProfile) Expired(file logstore.Address) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.expired[file]
}

// RemoveFile forgets a deleted file.
func (p *UtilizationProfile) RemoveFile(file logstore.Address) {
	p.mu.Lock()
	delete(p.expired, file)
	p.mu.Unlock()
}

// Utilization returns the live percentage of file.
func (p *UtilizationProfile) Utilization(file logstore.Address) int {
	return utilization(p.log.FileLength(file), p.Expired(file))
}

func utilization(length, expired int64) int {
	payload := length - logstore.FileHeaderSize
	if payload <= 0 {
		return 100
	}
	live := payload - expired
	if live < 0 {
		live = 0
	}
	return int(live * 100 / payload)
}

// Files returns the utilization of every file of the log, oldest first.
func (p *UtilizationProfile) Files() []FileUtilization {
	files := p.log.Files()
	present := make(map[logstore.Address]bool, len(files))
	out := make([]FileUtilization, 0, len(files))

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range files {
		present[f] = true
		length, expired := p.log.FileLength(f), p.expired[f]
		out = append(out, FileUtilization{
			File:        f,
			Length:      length,
			Expired:     expired,
			Utilization: utilization(length, expired),
		})
	}
	for f := range p.expired {
		if !present[f] {
			delete(p.expired, f)
		}
	}
	return out
}

// ComputeFromScratch rebuilds the profile from the trees of the current
// generation. Live addresses are kept in a bloom filter, so a record may be
// taken for live when it is not; expired bytes are never overestimated.
// Records written after the generation was pinned count as live.
func (p *UtilizationProfile) ComputeFromScratch(ctx context.Context, e *env.Environment, falsePositiveRate float64) error {
	txn, err := e.BeginReadonlyTransaction()
	if err != nil {
		return err
	}
	defer txn.Abort()

	var n uint
	err = txn.ForEachAddress(func(logstore.Address, int64) error {
		n++
		return nil
	})
	if err != nil {
		return err
	}
	filter := bloom.NewWithEstimates(max(n, 1), falsePositiveRate)
	var key [8]byte
	err = txn.ForEachAddress(func(addr logstore.Address, _ int64) error {
		binary.BigEndian.PutUint64(key[:], uint64(addr))
		filter.Add(key[:])
		return nil
	})
	if err != nil {
		return err
	}

	limit := txn.Snapshot().DatabaseRoot().End()
	expired := make(map[logstore.Address]int64)
	it := e.Log().ReadIterator(0)
	for it.Next() {
		rec := it.Loggable()
		if rec.Address >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		binary.BigEndian.PutUint64(key[:], uint64(rec.Address))
		if !filter.Test(key[:]) {
			expired[e.Log().FileAddress(rec.Address)] += rec.Length
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("scan log: %w", err)
	}

	p.mu.Lock()
	p.expired = expired
	p.mu.Unlock()
	return nil
}
