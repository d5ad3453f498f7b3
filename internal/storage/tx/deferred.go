package tx

import (
	"sort"
	"sync"
)

type deferredJob struct {
	version uint64
	run     func()
}

// DeferredQueue holds jobs that may only run once every transaction that
// pinned a version older than the job has finished. It is safe for
// concurrent use.
type DeferredQueue struct {
	mu   sync.Mutex
	jobs []deferredJob
}

// NewDeferredQueue returns an empty queue.
func NewDeferredQueue() *DeferredQueue {
	return &DeferredQueue{}
}

// Add registers job to run once no transaction older than version is
// active.
func (q *DeferredQueue) Add(version uint64, job func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := deferredJob{version: version, run: job}
	i := sort.Search(len(q.jobs), func(i int) bool { return q.jobs[i].version > version })
	q.jobs = append(q.jobs, deferredJob{})
	copy(q.jobs[i+1:], q.jobs[i:])
	q.jobs[i] = j
}

// Len returns the number of pending jobs.
func (q *DeferredQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Run runs the jobs that active no longer blocks and returns how many ran.
// Jobs run in registration order per version, outside the queue lock.
func (q *DeferredQueue) Run(active *ActiveSet) int {
	oldest, busy := active.Oldest()
	q.mu.Lock()
	n := len(q.jobs)
	if busy {
		n = sort.Search(len(q.jobs), func(i int) bool { return q.jobs[i].version > oldest.Version })
	}
	ready := append([]deferredJob(nil), q.jobs[:n]...)
	q.jobs = append(q.jobs[:0], q.jobs[n:]...)
	q.mu.Unlock()

	for _, j := range ready {
		j.run()
	}
	return len(ready)
}

// Drain runs every pending job regardless of active transactions.
func (q *DeferredQueue) Drain() int {
	q.mu.Lock()
	ready := q.jobs
	q.jobs = nil
	q.mu.Unlock()
	for _, j := range ready {
		j.run()
	}
	return len(ready)
}
