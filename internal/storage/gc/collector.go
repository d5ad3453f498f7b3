package gc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/KilimcininKorOglu/cowdb/internal/logging"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/env"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tx"
)

// Collector errors.
var (
	ErrAlreadyRunning = errors.New("garbage collector is already running")
	ErrNotRunning     = errors.New("garbage collector is not running")
	ErrClosed         = errors.New("garbage collector is closed")
	ErrSuspended      = errors.New("garbage collector is suspended")
	ErrWritableFile   = errors.New("the writable log file cannot be cleaned")
	ErrConflict       = errors.New("cleaning transaction conflicted")
)

// Stats holds collector statistics.
type Stats struct {
	// Runs is the number of cleaning passes that committed.
	Runs uint64

	// FilesCleaned is the number of files deleted.
	FilesCleaned uint64

	// RecordsScanned is the number of records handed to the trees.
	RecordsScanned uint64

	// BytesReclaimed is the size of the deleted files.
	BytesReclaimed uint64

	LastRunTime     time.Time
	LastRunDuration time.Duration
}

// Collector cleans the log of one environment. It is safe for concurrent
// use.
type Collector struct {
	env     *env.Environment
	log     *logstore.Log
	opts    Options
	logger  logging.Logger
	profile *UtilizationProfile

	// cleanMu serializes cleaning passes.
	cleanMu   sync.Mutex
	suspended atomic.Int32

	mu      sync.Mutex
	running bool
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

var _ env.GarbageCollector = (*Collector)(nil)

// New creates a collector and attaches it to e, so that every commit feeds
// its profile. The background loop is not started.
func New(e *env.Environment, opts Options) (*Collector, error) {
	opts = opts.normalized()
	logger := opts.Logger
	if logger == nil {
		logger = e.Logger()
	}
	c := &Collector{
		env:     e,
		log:     e.Log(),
		opts:    opts,
		logger:  logger.WithFields("component", "gc"),
		profile: NewUtilizationProfile(e.Log()),
	}
	if opts.UtilizationFromScratch {
		start := time.Now()
		if err := c.profile.ComputeFromScratch(context.Background(), e, opts.BloomFalsePositiveRate); err != nil {
			return nil, fmt.Errorf("compute utilization: %w", err)
		}
		c.logger.Info("computed utilization from scratch", "files", len(c.log.Files()), "duration", time.Since(start))
	}
	e.AttachGC(c)
	return c, nil
}

// Profile returns the utilization profile.
func (c *Collector) Profile() *UtilizationProfile { return c.profile }

// Options returns the normalized options.
func (c *Collector) Options() Options { return c.opts }

// Start starts the background cleaning loop.
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.running {
		return ErrAlreadyRunning
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.running = true
	go c.runBackground(c.stopCh, c.doneCh)
	c.logger.Debug("collector started", "interval", c.opts.Interval)
	return nil
}

// Stop stops the background loop and waits for a running pass to end.
func (c *Collector) Stop() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	stopCh, doneCh := c.stopCh, c.doneCh
	c.running = false
	c.stopCh, c.doneCh = nil, nil
	c.mu.Unlock()

	close(stopCh)
	<-doneCh
	return nil
}

// Close stops the loop. Later passes fail with ErrClosed.
func (c *Collector) Close() error {
	if err := c.Stop(); err != nil && !errors.Is(err, ErrNotRunning) && !errors.Is(err, ErrClosed) {
		return err
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *Collector) runBackground(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stopCh
		cancel()
	}()

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			err := c.Clean(ctx)
			switch {
			case err == nil, errors.Is(err, ErrSuspended), errors.Is(err, context.Canceled):
			case errors.Is(err, tx.ErrAcquireTimeout):
				c.logger.Debug("skipped cleaning pass", "error", err)
			default:
				c.logger.Warn("cleaning pass failed", "error", err)
			}
		}
	}
}

// Suspend pauses cleaning until the matching Resume.
func (c *Collector) Suspend() {
	c.suspended.Add(1)
}

// Resume undoes one Suspend.
func (c *Collector) Resume() {
	for {
		n := c.suspended.Load()
		if n <= 0 || c.suspended.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Suspended reports whether cleaning is paused.
func (c *Collector) Suspended() bool {
	return c.suspended.Load() > 0
}

func (c *Collector) ready() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if c.Suspended() {
		return ErrSuspended
	}
	return nil
}

// Fetch accounts records expired by a commit.
func (c *Collector) Fetch(expired []tree.ExpiredLoggable) {
	c.profile.Fetch(expired)
}

// Clean cleans every file whose utilization is below the threshold,
// except the newest FilesToKeep files and the writable file.
func (c *Collector) Clean(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	files := c.candidates()
	if len(files) == 0 {
		c.logger.Debug("nothing to clean")
		return nil
	}
	return c.CleanFiles(ctx, files)
}

func (c *Collector) candidates() []logstore.Address {
	files := c.profile.Files()
	keep := len(files) - c.opts.FilesToKeep
	if keep <= 0 {
		return nil
	}
	writable := c.log.WritableFile()
	var picked []FileUtilization
	for _, f := range files[:keep] {
		if f.File != writable && f.Utilization < c.opts.MinUtilization {
			picked = append(picked, f)
		}
	}
	sort.Slice(picked, func(i, j int) bool {
		if picked[i].Utilization != picked[j].Utilization {
			return picked[i].Utilization < picked[j].Utilization
		}
		return picked[i].File < picked[j].File
	})
	out := make([]logstore.Address, len(picked))
	for i, f := range picked {
		out[i] = f.File
	}
	return out
}

// CleanFiles copies the live records of files to the end of the log in an
// exclusive transaction and deletes the files once no transaction can read
// them anymore.
func (c *Collector) CleanFiles(ctx context.Context, files []logstore.Address) error {
	if err := c.ready(); err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}
	c.cleanMu.Lock()
	defer c.cleanMu.Unlock()

	writable := c.log.WritableFile()
	for _, f := range files {
		if f == writable {
			return fmt.Errorf("%w: %d", ErrWritableFile, f)
		}
		if c.log.FileLength(f) == 0 {
			return fmt.Errorf("%w: no file at %d", logstore.ErrInvalidAddress, f)
		}
	}

	start := time.Now()
	txn, err := c.env.BeginTransaction(env.ExclusiveWithin(c.opts.TransactionTimeout), env.WithContext(ctx))
	if err != nil {
		return err
	}
	defer txn.Abort()

	var scanned int
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		records, err := c.readFile(f)
		if err != nil {
			return fmt.Errorf("read file %d: %w", f, err)
		}
		if err := txn.Reclaim(records); err != nil {
			return fmt.Errorf("reclaim file %d: %w", f, err)
		}
		scanned += len(records)
	}
	ok, err := txn.Commit()
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}

	removed := append([]logstore.Address(nil), files...)
	c.env.RunTransactionSafeTask(func() { c.removeFiles(removed) })

	duration := time.Since(start)
	c.statsMu.Lock()
	c.stats.Runs++
	c.stats.RecordsScanned += uint64(scanned)
	c.stats.LastRunTime = start
	c.stats.LastRunDuration = duration
	c.statsMu.Unlock()

	c.logger.Info("cleaned log files",
		"files", len(files),
		"records", scanned,
		"duration", duration,
	)
	return nil
}

func (c *Collector) readFile(f logstore.Address) ([]logstore.Loggable, error) {
	var records []logstore.Loggable
	it := c.log.FileIterator(f)
	for it.Next() {
		records = append(records, it.Loggable())
	}
	return records, it.Err()
}

// removeFiles runs once no transaction pinned before the cleaning commit
// remains.
func (c *Collector) removeFiles(files []logstore.Address) {
	var size int64
	removed := 0
	for _, f := range files {
		length := c.log.FileLength(f)
		if err := c.log.RemoveFile(f); err != nil {
			c.logger.Warn("remove cleaned file", "file", f, "error", err)
			continue
		}
		c.profile.RemoveFile(f)
		size += length
		removed++
	}

	c.statsMu.Lock()
	c.stats.FilesCleaned += uint64(removed)
	c.stats.BytesReclaimed += uint64(size)
	c.statsMu.Unlock()

	if removed > 0 {
		c.logger.Info("removed log files", "files", removed, "size", humanize.Bytes(uint64(size)))
	}
}

// Stats returns collector statistics.
func (c *Collector) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}
