package cache

import (
	"encoding/json"

	"github.com/bassista/go_learn/internal/operation"
)

// ReadOnlyStore is the minimal cache API for inspection endpoints.
type ReadOnlyStore interface {
	Snapshot() map[string]Record
	Size() int
}

// ResettableStore is the cache API needed by the logout flow.
type ResettableStore interface {
	ReadOnlyStore
	Reset()
}

// OperationStore is the cache API the client facade works with.
type OperationStore interface {
	Read(op *operation.Operation) (json.RawMessage, error)
	Write(op *operation.Operation, data json.RawMessage) error
	Changes() (<-chan struct{}, func())
}

var (
	_ ResettableStore = (*Store)(nil)
	_ OperationStore  = (*Store)(nil)
)
