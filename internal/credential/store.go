package credential

import (
	"fmt"
	"sync"

	"github.com/bassista/go_learn/internal/logger"
)

// Store is a persistent key/value store holding client-side session values.
// Reads never block on I/O.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

const (
	StoreTypeFile   = "file"
	StoreTypeMemory = "memory"
)

// NewStoreFromConfig creates a Store based on the configured type.
// "file" (default) persists to path; "memory" keeps values for the process lifetime.
func NewStoreFromConfig(storeType, path string) (Store, error) {
	switch storeType {
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeFile, "":
		return NewFileStore(path)
	default:
		return nil, fmt.Errorf("unknown credential store type: %s (supported: %s, %s)", storeType, StoreTypeFile, StoreTypeMemory)
	}
}

// MemoryStore is a Store that lives only as long as the process.
// Tests and the CLI's --ephemeral mode use it.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	logger.WithComponent("credential").Debugf("memory store set: %s", key)
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	logger.WithComponent("credential").Debugf("memory store remove: %s", key)
	delete(m.values, key)
	return nil
}

// Source is the single read/clear handle on the bearer token.
// It is what the transports and the session invalidator depend on.
type Source struct {
	store Store
	key   string
}

func NewSource(store Store, key string) *Source {
	return &Source{store: store, key: key}
}

// Token returns the current bearer token. An empty stored value counts as absent.
func (s *Source) Token() (string, bool) {
	v, ok := s.store.Get(s.key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Save stores a new token, as the login flow does.
func (s *Source) Save(token string) error {
	if token == "" {
		return fmt.Errorf("empty token")
	}
	return s.store.Set(s.key, token)
}

// Clear removes the token.
func (s *Source) Clear() error {
	return s.store.Remove(s.key)
}

// Key returns the store key the token lives under.
func (s *Source) Key() string {
	return s.key
}
