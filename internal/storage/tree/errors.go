package tree

import "errors"

// Tree errors.
var (
	ErrKeyNotFound     = errors.New("key not found")
	ErrPutRightOrder   = errors.New("putRight key is not greater than the current maximum")
	ErrCorruptedNode   = errors.New("corrupted tree node")
	ErrUnexpectedType  = errors.New("unexpected record type")
	ErrReadOnlyCursor  = errors.New("cursor over an immutable tree cannot delete")
	ErrNotPositioned   = errors.New("cursor is not positioned")
	ErrNodeNotLocated  = errors.New("reclaimed node could not be located")
	ErrStructureDiffer = errors.New("record belongs to another structure")
)
