package env

import (
	"errors"

	"github.com/KilimcininKorOglu/cowdb/internal/storage/logstore"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/meta"
	"github.com/KilimcininKorOglu/cowdb/internal/storage/tree"
)

// Environment errors.
var (
	ErrClosed              = errors.New("environment is closed")
	ErrInoperative         = errors.New("environment is inoperative")
	ErrReadOnlyEnvironment = errors.New("environment is read-only")
	ErrActiveTransactions  = errors.New("environment has unfinished transactions")
	ErrNoCollector         = errors.New("no garbage collector attached")
)

// Transaction errors.
var (
	ErrTransactionFinished = errors.New("transaction is finished")
	ErrReadOnlyTransaction = errors.New("transaction is read-only")
	ErrStaleCursor         = errors.New("cursor belongs to an older snapshot of its transaction")
	ErrForeignTransaction  = errors.New("transaction belongs to another environment")
)

// Store errors.
var (
	ErrStoreNotFound       = errors.New("store not found")
	ErrStoreConfigMismatch = errors.New("store exists with a different configuration")
	ErrKeyNotFound         = tree.ErrKeyNotFound
	ErrPutRightOrder       = tree.ErrPutRightOrder
)

// isCorruption reports whether err means the persisted state cannot be
// trusted.
func isCorruption(err error) bool {
	return errors.Is(err, logstore.ErrCorrupted) ||
		errors.Is(err, tree.ErrCorruptedNode) ||
		errors.Is(err, tree.ErrUnexpectedType) ||
		errors.Is(err, tree.ErrStructureDiffer) ||
		errors.Is(err, tree.ErrNodeNotLocated) ||
		errors.Is(err, meta.ErrInvalidDatabaseRoot) ||
		errors.Is(err, meta.ErrInvalidStoreMeta) ||
		errors.Is(err, meta.ErrInvalidStructureID)
}
