// Package tx provides the transaction plumbing shared by the environment
// and the garbage collector.
//
// # Dispatcher
//
// A Dispatcher bounds the number of concurrent read-write transactions with
// a fixed pool of permits. A transaction normally holds one permit; an
// exclusive transaction holds all of them.
//
//	owner := tx.NewOwner()
//	permits, err := d.Acquire(ctx, owner)
//	if err != nil {
//	    return err
//	}
//	defer d.Release(owner, permits)
//
// Waiters queue in two FIFOs. Owners that already hold permits wait in the
// nested queue, which is always served before the regular one, so that a
// transaction opened while another one of the same owner is active never
// waits behind fresh acquisitions.
//
// # Active Set
//
// An ActiveSet orders the running transactions by the meta-tree version
// they pinned. Its oldest entry bounds which log records may be deleted.
//
// # Deferred Jobs
//
// A DeferredQueue holds jobs that must not run while a transaction older
// than the job is active, such as deleting a log file whose records were
// copied forward.
package tx
