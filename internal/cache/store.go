// Package cache implements the normalized client cache.
//
// Responses are split into one record per entity, keyed "Typename:id", plus
// root records for the operation types. Nested entities are replaced by
// references, so two responses that mention the same entity update the same
// record. Reads rebuild response data from the records for a given operation.
package cache

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/containerd/errdefs"
)

// ErrMiss is returned when the cache cannot answer an operation completely.
var ErrMiss = fmt.Errorf("cache miss: %w", errdefs.ErrNotFound)

// Root record keys.
const (
	RootQuery        = "ROOT_QUERY"
	RootMutation     = "ROOT_MUTATION"
	RootSubscription = "ROOT_SUBSCRIPTION"
)

// Ref points at a normalized entity record.
type Ref struct {
	Key string
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"__ref": r.Key})
}

// Record holds the stored fields of one entity or root, by storage key.
type Record map[string]any

// Store is the normalized cache. It is safe for concurrent use; writes are
// applied in the order they acquire the lock.
type Store struct {
	mu       sync.RWMutex
	records  map[string]Record
	policies *Policies

	watchMu  sync.Mutex
	watchers map[int]chan struct{}
	nextID   int
}

// NewStore creates an empty cache governed by policies. Nil policies means
// DefaultPolicies.
func NewStore(policies *Policies) *Store {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Store{
		records:  map[string]Record{},
		policies: policies,
		watchers: map[int]chan struct{}{},
	}
}

// Policies returns the registry the cache was built with.
func (s *Store) Policies() *Policies {
	return s.policies
}

// Identify returns the cache key of obj, when it has an identity.
func (s *Store) Identify(obj map[string]any) (string, bool) {
	typename, _ := obj["__typename"].(string)
	return s.identify(typename, obj)
}

func (s *Store) identify(typename string, obj map[string]any) (string, bool) {
	if typename == "" {
		return "", false
	}
	fields, ok := s.policies.KeyFields(typename)
	if !ok {
		for _, name := range []string{"id", "_id"} {
			if v, present := obj[name]; present && v != nil {
				return typename + ":" + fmt.Sprint(v), true
			}
		}
		return "", false
	}

	if len(fields) == 1 {
		v, present := obj[fields[0]]
		if !present || v == nil {
			return "", false
		}
		return typename + ":" + fmt.Sprint(v), true
	}
	key := make(map[string]any, len(fields))
	for _, f := range fields {
		v, present := obj[f]
		if !present || v == nil {
			return "", false
		}
		key[f] = v
	}
	raw, err := json.Marshal(key)
	if err != nil {
		return "", false
	}
	return typename + ":" + string(raw), true
}

// ReadEntity returns a copy of the stored record for key.
func (s *Store) ReadEntity(key string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, false
	}
	return deepCopy(rec).(Record), true
}

// WriteField sets one field of an existing entity, for local state the
// server does not send back (e.g. Course.isEnrolled after enrolling).
func (s *Store) WriteField(key, field string, value any) error {
	s.mu.Lock()
	rec, ok := s.records[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: entity %s", ErrMiss, key)
	}
	rec[field] = deepCopy(value)
	s.mu.Unlock()
	s.broadcast()
	return nil
}

// Evict removes an entity record. References to it become cache misses.
func (s *Store) Evict(key string) bool {
	s.mu.Lock()
	_, ok := s.records[key]
	delete(s.records, key)
	s.mu.Unlock()
	if ok {
		s.broadcast()
	}
	return ok
}

// Reset drops every record, as logout does.
func (s *Store) Reset() {
	s.mu.Lock()
	s.records = map[string]Record{}
	s.mu.Unlock()
	s.broadcast()
}

// Size returns the number of records, roots included.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns a deep copy of every record. References marshal as
// {"__ref": key}.
func (s *Store) Snapshot() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(s.records))
	for k, rec := range s.records {
		out[k] = deepCopy(rec).(Record)
	}
	return out
}

// Changes returns a channel that receives after cache writes, and a func
// that stops delivery. Notifications coalesce; a slow reader sees one.
func (s *Store) Changes() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	s.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.watchMu.Lock()
			delete(s.watchers, id)
			s.watchMu.Unlock()
		})
	}
}

func (s *Store) broadcast() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// deepCopy copies the containers of a stored value. Scalars and refs are
// immutable and shared.
func deepCopy(v any) any {
	switch t := v.(type) {
	case Record:
		out := make(Record, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
