package tx

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Dispatcher errors.
var (
	ErrAcquireTimeout       = errors.New("could not acquire transaction permits in time")
	ErrExclusiveWithPermits = errors.New("exclusive permits requested by an owner already holding permits")
	ErrNotHeld              = errors.New("permits are not held by the owner")
	ErrInvalidPermits       = errors.New("invalid number of permits")
)

// Owner identifies the holder of permits. Transactions opened on behalf of
// the same caller share an owner, which makes acquisition reentrant.
type Owner uint64

var lastOwner atomic.Uint64

// NewOwner returns a fresh owner token.
func NewOwner() Owner {
	return Owner(lastOwner.Add(1))
}

type waiter struct {
	owner   Owner
	permits int
	ready   chan struct{}
	granted bool
	elem    *list.Element
}

// Dispatcher is a counting semaphore over a fixed number of permits with
// a regular and a nested waiting queue. It is safe for concurrent use.
type Dispatcher struct {
	max int

	mu        sync.Mutex
	available int
	held      map[Owner]int
	regular   *list.List
	nested    *list.List
}

// NewDispatcher returns a dispatcher with the given number of permits.
func NewDispatcher(permits int) (*Dispatcher, error) {
	if permits < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPermits, permits)
	}
	return &Dispatcher{
		max:       permits,
		available: permits,
		held:      make(map[Owner]int),
		regular:   list.New(),
		nested:    list.New(),
	}, nil
}

// MaxPermits returns the size of the permit pool.
func (d *Dispatcher) MaxPermits() int { return d.max }

// Available returns the number of free permits.
func (d *Dispatcher) Available() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available
}

// Held returns the number of permits held by owner.
func (d *Dispatcher) Held(owner Owner) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held[owner]
}

// Waiting returns the number of queued acquisitions.
func (d *Dispatcher) Waiting() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regular.Len() + d.nested.Len()
}

// Acquire obtains one permit for owner and returns the number of permits
// acquired. An owner already holding every permit gets zero more.
func (d *Dispatcher) Acquire(ctx context.Context, owner Owner) (int, error) {
	d.mu.Lock()
	held := d.held[owner]
	if held == d.max {
		d.mu.Unlock()
		return 0, nil
	}
	queue := d.regular
	if held > 0 {
		queue = d.nested
	}
	return d.wait(ctx, owner, 1, queue)
}

// AcquireExclusive obtains every permit for owner. The owner must not hold
// any permit.
func (d *Dispatcher) AcquireExclusive(ctx context.Context, owner Owner) (int, error) {
	d.mu.Lock()
	if d.held[owner] > 0 {
		d.mu.Unlock()
		return 0, ErrExclusiveWithPermits
	}
	return d.wait(ctx, owner, d.max, d.regular)
}

// TryAcquireExclusive is AcquireExclusive bounded by timeout. It returns
// ErrAcquireTimeout when the permits could not be obtained in time.
func (d *Dispatcher) TryAcquireExclusive(owner Owner, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := d.AcquireExclusive(ctx, owner)
	if errors.Is(err, context.DeadlineExceeded) {
		return 0, ErrAcquireTimeout
	}
	return n, err
}

// wait is entered with d.mu held and releases it.
func (d *Dispatcher) wait(ctx context.Context, owner Owner, permits int, queue *list.List) (int, error) {
	if d.grantable(queue, permits) {
		d.grant(owner, permits)
		d.mu.Unlock()
		return permits, nil
	}
	w := &waiter{owner: owner, permits: permits, ready: make(chan struct{})}
	w.elem = queue.PushBack(w)
	d.mu.Unlock()

	select {
	case <-w.ready:
		return permits, nil
	case <-ctx.Done():
	}

	d.mu.Lock()
	if w.granted {
		d.releaseLocked(owner, permits)
	} else {
		queue.Remove(w.elem)
		d.dispatch()
	}
	d.mu.Unlock()
	return 0, ctx.Err()
}

// grantable reports whether a new request may skip the queue.
func (d *Dispatcher) grantable(queue *list.List, permits int) bool {
	if d.available < permits || queue.Len() > 0 {
		return false
	}
	return queue == d.nested || d.nested.Len() == 0
}

func (d *Dispatcher) grant(owner Owner, permits int) {
	d.available -= permits
	d.held[owner] += permits
}

// Release returns permits held by owner.
func (d *Dispatcher) Release(owner Owner, permits int) error {
	if permits == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if permits < 0 || d.held[owner] < permits {
		return fmt.Errorf("%w: owner %d releases %d of %d", ErrNotHeld, owner, permits, d.held[owner])
	}
	d.releaseLocked(owner, permits)
	return nil
}

func (d *Dispatcher) releaseLocked(owner Owner, permits int) {
	d.available += permits
	if d.held[owner] -= permits; d.held[owner] == 0 {
		delete(d.held, owner)
	}
	d.dispatch()
}

// Downgrade turns the exclusive permits of owner into a single permit and
// returns the number of permits still held.
func (d *Dispatcher) Downgrade(owner Owner) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held[owner] != d.max {
		return d.held[owner], fmt.Errorf("%w: owner %d is not exclusive", ErrNotHeld, owner)
	}
	if d.max > 1 {
		d.releaseLocked(owner, d.max-1)
	}
	return 1, nil
}

// dispatch wakes queued waiters, nested queue first, in arrival order.
func (d *Dispatcher) dispatch() {
	for _, queue := range []*list.List{d.nested, d.regular} {
		for queue.Len() > 0 {
			w := queue.Front().Value.(*waiter)
			if d.available < w.permits {
				return
			}
			queue.Remove(w.elem)
			d.grant(w.owner, w.permits)
			w.granted = true
			close(w.ready)
		}
	}
}
