package env

import (
	"fmt"
)

type opKind uint8

const (
	opCreateStore opKind = iota + 1
	opRemoveStore
	opTruncateStore
	opPut
	opPutRight
	opAdd
	opDelete
	opDeletePair
)

func (k opKind) String() string {
	switch k {
	case opCreateStore:
		return "create"
	case opRemoveStore:
		return "remove"
	case opTruncateStore:
		return "truncate"
	case opPut:
		return "put"
	case opPutRight:
		return "putRight"
	case opAdd:
		return "add"
	case opDelete:
		return "delete"
	case opDeletePair:
		return "deletePair"
	default:
		return "unknown"
	}
}

// op is one staged change, kept so that it can be replayed on a newer
// snapshot.
type op struct {
	kind   opKind
	store  string
	config StoreConfig
	key    []byte
	value  []byte
}

func (t *Transaction) record(o op) {
	t.ops = append(t.ops, o)
}

// apply re-executes o without recording it.
func (t *Transaction) apply(o op) error {
	switch o.kind {
	case opCreateStore:
		st, err := t.lookup(o.store)
		if err != nil {
			return err
		}
		if st != nil {
			if st.meta.Duplicates != o.config.Duplicates || st.meta.Prefixing != o.config.Prefixing {
				return fmt.Errorf("%w: %q", ErrStoreConfigMismatch, o.store)
			}
			return nil
		}
		_, err = t.createStore(o.store, o.config)
		return err
	case opRemoveStore:
		_, err := t.removeStore(o.store)
		return err
	case opTruncateStore:
		return t.truncateStore(o.store)
	default:
		_, err := t.applyData(o)
		return err
	}
}

// applyData executes a data operation on the mutable tree of its store.
func (t *Transaction) applyData(o op) (bool, error) {
	st, err := t.lookup(o.store)
	if err != nil {
		return false, err
	}
	if st == nil {
		return false, fmt.Errorf("%w: %q", ErrStoreNotFound, o.store)
	}
	m := st.writable()
	switch o.kind {
	case opPut:
		return m.Put(o.key, o.value)
	case opAdd:
		return m.Add(o.key, o.value)
	case opPutRight:
		if err := m.PutRight(o.key, o.value); err != nil {
			return false, err
		}
		return true, nil
	case opDelete:
		return m.Delete(o.key)
	case opDeletePair:
		return m.DeletePair(o.key, o.value)
	default:
		return false, fmt.Errorf("unexpected operation %s", o.kind)
	}
}
