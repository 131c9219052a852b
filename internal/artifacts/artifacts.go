// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package artifacts handles the sharded on-disk artifact tree under
// <cache>/media: GoP indexes, BIF trickplay files and selected artwork.
// Writes are atomic and concurrent writers for the same key are serialized.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
)

// ShardDir returns the two-level shard directory for a metadata UUID:
// first two hex characters, then the next two.
func ShardDir(root, uuid string) string {
	u := strings.ReplaceAll(strings.ToLower(uuid), "-", "")
	if len(u) < 4 {
		// Malformed UUIDs land in a catch-all shard rather than erroring;
		// the store layer validates UUIDs before handing them down.
		return filepath.Join(root, "00", "00")
	}
	return filepath.Join(root, u[0:2], u[2:4])
}

// GopIndexPath returns the GoP index file for (uuid, partIndex).
func GopIndexPath(root, uuid string, partIndex int) string {
	return filepath.Join(ShardDir(root, uuid), fmt.Sprintf("%s.%d.xml", uuid, partIndex))
}

// BifPath returns the trickplay file for (uuid, partIndex).
func BifPath(root, uuid string, partIndex int) string {
	return filepath.Join(ShardDir(root, uuid), fmt.Sprintf("%s.%d.bif", uuid, partIndex))
}

// ArtworkPath returns the selected artwork file for a role ("poster",
// "backdrop", "logo") in the item's artwork directory.
func ArtworkPath(root, uuid, role, ext string) string {
	return filepath.Join(ShardDir(root, uuid), uuid, "artwork", role+"."+strings.TrimPrefix(ext, "."))
}

// WriteAtomic writes data to path via a temp file and rename, creating the
// shard directory as needed. The fsync before rename is what makes a crashed
// writer leave either the old file or the new one, never a torn mix.
func WriteAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	return nil
}

// KeyLocks serializes writers per artifact key. Keys are
// "<uuid>.<partIndex>" strings; locks are created on first use and never
// reaped, which is fine for library-sized key counts.
type KeyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyLocks returns an empty lock table.
func NewKeyLocks() *KeyLocks {
	return &KeyLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for key and returns the unlock function.
func (k *KeyLocks) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Key builds the canonical per-part lock key.
func Key(uuid string, partIndex int) string {
	return fmt.Sprintf("%s.%d", uuid, partIndex)
}
