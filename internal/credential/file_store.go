package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bassista/go_learn/internal/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
)

// Metadata holds versioning info used to decide whether a disk change is newer.
type Metadata struct {
	LastUpdate int64 `json:"lastUpdate"` // Unix timestamp in milliseconds
}

// document is the persisted JSON structure.
type document struct {
	Metadata Metadata          `json:"metadata"`
	Values   map[string]string `json:"values" validate:"dive,keys,required,endkeys,omitempty"`
}

// FileStore keeps credentials in a JSON file and serves reads from memory.
// Login and logout may happen in another process (the CLI, another shell),
// so StartWatcher reloads the file when it changes on disk.
type FileStore struct {
	path      string
	dir       string
	base      string
	validator *validator.Validate

	mu         sync.RWMutex
	values     map[string]string
	lastUpdate int64
}

// NewFileStore opens (creating if needed) the credential file at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("credential file path is required")
	}

	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}

	s := &FileStore{
		path:      path,
		dir:       dir,
		base:      filepath.Base(path),
		validator: validator.New(),
		values:    map[string]string{},
	}

	if err := s.ensureFile(); err != nil {
		return nil, err
	}

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	s.values = doc.Values
	s.lastUpdate = doc.Metadata.LastUpdate
	return s, nil
}

// ensureFile creates the parent directory and an empty document when missing.
func (s *FileStore) ensureFile() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat credential file: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	return s.save(&document{Values: map[string]string{}})
}

func (s *FileStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *FileStore) Set(key, value string) error {
	return s.mutate(func(values map[string]string) { values[key] = value })
}

func (s *FileStore) Remove(key string) error {
	return s.mutate(func(values map[string]string) { delete(values, key) })
}

// mutate applies fn to a copy of the values and persists it before swapping it in,
// so a failed write leaves memory and disk consistent.
func (s *FileStore) mutate(fn func(map[string]string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]string, len(s.values)+1)
	for k, v := range s.values {
		next[k] = v
	}
	fn(next)

	doc := &document{
		Metadata: Metadata{LastUpdate: time.Now().UnixMilli()},
		Values:   next,
	}
	if err := s.save(doc); err != nil {
		return err
	}
	s.values = next
	s.lastUpdate = doc.Metadata.LastUpdate
	logger.WithComponent("credential").Debugf("credential file updated: %s", s.path)
	return nil
}

// load reads, decodes and validates the file.
func (s *FileStore) load() (*document, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open credential file: %w", err)
	}
	defer file.Close()

	var doc document
	if err := json.NewDecoder(file).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode credential file: %w", err)
	}
	if doc.Values == nil {
		doc.Values = map[string]string{}
	}
	if err := s.validator.Struct(&doc); err != nil {
		return nil, fmt.Errorf("validate credential file: %w", err)
	}
	return &doc, nil
}

// save writes the document atomically (temp file + rename) with owner-only permissions.
func (s *FileStore) save(doc *document) error {
	if err := s.validator.Struct(doc); err != nil {
		return fmt.Errorf("validate before save: %w", err)
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.dir, s.base+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}()

	if err := tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmpFile.Write(payload); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), s.path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}

// StartWatcher reloads the in-memory values when the file changes on disk.
// It watches the parent directory so atomic replaces (temp+rename) are observed,
// filters events by basename and debounces bursts into one reload.
// Cancel ctx to stop the goroutine and close the watcher.
func (s *FileStore) StartWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch dir: %w", err)
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		schedule := func() {
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, s.Reload)
		}

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != s.base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					schedule()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithComponent("credential").Warnf("watcher error: %v", err)
			}
		}
	}()

	return nil
}

// Reload re-reads the file and swaps in its values when the disk copy is at
// least as new as memory. A removed file means every value was cleared.
func (s *FileStore) Reload() {
	doc, err := s.load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.values = map[string]string{}
			s.mu.Unlock()
			logger.WithComponent("credential").Info("credential file removed, session cleared")
			return
		}
		logger.WithComponent("credential").Warnf("credential reload failed: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.Metadata.LastUpdate < s.lastUpdate {
		logger.WithComponent("credential").Debugf("disk credentials older than memory (%d < %d), skipping reload",
			doc.Metadata.LastUpdate, s.lastUpdate)
		return
	}
	s.values = doc.Values
	s.lastUpdate = doc.Metadata.LastUpdate
	logger.WithComponent("credential").Debug("credentials reloaded from disk")
}
