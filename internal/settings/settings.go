// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package settings persists typed server settings in a badger key-value
// store. Values are JSON-encoded; reads hit an in-memory cache that writes
// invalidate.
package settings

import (
	"errors"
	"sync"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/ManuGH/nexa/internal/log"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("settings: key not found")

// Store is the typed settings store. Safe for concurrent use.
type Store struct {
	db *badger.DB

	mu    sync.RWMutex
	cache map[string][]byte
}

// Open opens (or creates) the settings store at dir. An empty dir opens an
// in-memory store, used by tests.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, cache: make(map[string][]byte)}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// GetRaw returns the stored JSON for key, or ErrNotFound.
func (s *Store) GetRaw(key string) ([]byte, error) {
	s.mu.RLock()
	if buf, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return buf, nil
	}
	s.mu.RUnlock()

	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = out
	s.mu.Unlock()
	return out, nil
}

// SetRaw stores JSON under key and refreshes the cache.
func (s *Store) SetRaw(key string, buf []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), buf)
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[key] = buf
	s.mu.Unlock()
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	return nil
}

// GetAll returns every stored key with its raw JSON value.
func (s *Store) GetAll() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if err := item.Value(func(val []byte) error {
				out[key] = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the value for key, or def when the key is absent or does not
// decode into T.
func Get[T any](s *Store, key string, def T) T {
	buf, err := s.GetRaw(key)
	if err != nil {
		return def
	}
	var v T
	if err := json.Unmarshal(buf, &v); err != nil {
		logger := log.WithComponent("settings")
		logger.Warn().
			Str("key", key).Err(err).Msg("stored value does not decode, using default")
		return def
	}
	return v
}

// Set stores v under key.
func Set[T any](s *Store, key string, v T) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.SetRaw(key, buf)
}
