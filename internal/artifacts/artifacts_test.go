// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package artifacts

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShardDir(t *testing.T) {
	got := ShardDir("/cache/media", "abcdef12-3456-7890-abcd-ef1234567890")
	require.Equal(t, filepath.Join("/cache/media", "ab", "cd"), got)
}

func TestShardDirMalformed(t *testing.T) {
	got := ShardDir("/cache/media", "ab")
	require.Equal(t, filepath.Join("/cache/media", "00", "00"), got)
}

func TestArtifactPaths(t *testing.T) {
	uuid := "aabb0000-0000-0000-0000-000000000000"
	require.Equal(t,
		filepath.Join("/m", "aa", "bb", uuid+".2.xml"),
		GopIndexPath("/m", uuid, 2))
	require.Equal(t,
		filepath.Join("/m", "aa", "bb", uuid+".0.bif"),
		BifPath("/m", uuid, 0))
	require.Equal(t,
		filepath.Join("/m", "aa", "bb", uuid, "artwork", "poster.jpg"),
		ArtworkPath("/m", uuid, "poster", ".jpg"))
}

func TestWriteAtomicCreatesShardDirs(t *testing.T) {
	root := t.TempDir()
	path := GopIndexPath(root, "ccdd0000-0000-0000-0000-000000000000", 0)

	require.NoError(t, WriteAtomic(path, []byte("payload")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "payload", string(raw))
}

func TestKeyLocksSerialize(t *testing.T) {
	locks := NewKeyLocks()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("same-key")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	require.Equal(t, 16, counter)
}
