// Package env implements transactional environments over a record log.
//
// An Environment owns one log directory and the current meta-tree
// generation. Transactions pin a generation when they begin and read
// through immutable trees; read-write transactions stage their changes in
// mutable overlays of the stores they touch. Committing saves the overlays,
// writes a new meta-tree generation and swaps it in, provided no other
// transaction committed since the snapshot was pinned. Otherwise Flush and
// Commit report a conflict and the caller reverts the transaction, which
// replays its staged operations on the newest generation:
//
//	for {
//		if ok, err := txn.Commit(); err != nil || ok {
//			return err
//		}
//		if err := txn.Revert(); err != nil {
//			return err
//		}
//	}
//
// ExecuteInTransaction wraps this loop and runs its function again on
// every conflict.
//
// Read-write transactions are admitted by a tx.Dispatcher. A transaction
// that keeps conflicting is escalated to exclusive permits so that it
// eventually commits.
//
// Corruption found while reading, and any failure while writing a commit,
// makes the environment inoperative: the log is switched to read-only and
// every later operation fails with ErrInoperative.
package env
