// Package yamlstore persists a string-keyed map as a YAML file. Writes go
// through a temp file followed by an atomic rename so a crash mid-save never
// leaves a truncated database behind.
package yamlstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// DB is a file-backed map. The zero value is not usable, call Open.
type DB[V any] struct {
	path string

	mu   sync.RWMutex
	data map[string]V
}

// Open loads the database at path, creating an empty one (and its parent
// directory) when the file does not exist. A file that exists but cannot be
// decoded is an error: refusing to start beats silently discarding state.
func Open[V any](path string) (*DB[V], error) {
	db := &DB[V]{path: path, data: map[string]V{}}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
		}
		if err := db.save(); err != nil {
			return nil, err
		}
		return db, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &db.data); err != nil {
		return nil, fmt.Errorf("corrupt database %s: %w", path, err)
	}
	if db.data == nil {
		db.data = map[string]V{}
	}
	return db, nil
}

// Path returns the backing file path.
func (db *DB[V]) Path() string { return db.path }

// View runs fn with read access to the map. The map must not be mutated or
// retained past the call.
func (db *DB[V]) View(fn func(data map[string]V)) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	fn(db.data)
}

// Get returns the value stored under key.
func (db *DB[V]) Get(key string) (V, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.data[key]
	return v, ok
}

// Update runs fn with write access to the map, then persists it. When fn
// returns an error nothing is saved and the error is returned as is.
func (db *DB[V]) Update(fn func(data map[string]V) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := fn(db.data); err != nil {
		return err
	}
	return db.save()
}

func (db *DB[V]) save() error {
	raw, err := yaml.Marshal(db.data)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", db.path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(db.path), filepath.Base(db.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("saving %s: %w", db.path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("saving %s: %w", db.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("saving %s: %w", db.path, err)
	}
	if err := os.Rename(tmp.Name(), db.path); err != nil {
		return fmt.Errorf("saving %s: %w", db.path, err)
	}
	return nil
}
