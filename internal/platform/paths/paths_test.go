// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndEnsure(t *testing.T) {
	data := filepath.Join(t.TempDir(), "data")
	cache := filepath.Join(t.TempDir(), "cache")

	p := New(data, cache)
	assert.Equal(t, filepath.Join(data, "nexa.db"), p.DB)
	assert.Equal(t, filepath.Join(cache, "transcodes"), p.Transcodes)

	require.NoError(t, p.Ensure())
	for _, dir := range []string{p.Settings, p.Artifacts, p.Transcodes, p.Temp, p.Log, p.Backup} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
}

func TestConfineAcceptsInside(t *testing.T) {
	root := t.TempDir()
	got, err := Confine(root, filepath.Join(root, "a", "b.m4s"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b.m4s"), got)
}

func TestConfineRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	_, err := Confine(root, filepath.Join(root, "..", "escape"))
	require.Error(t, err)
}

func TestConfineRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation needs privileges on windows")
	}
	outside := t.TempDir()
	root := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	_, err := Confine(root, filepath.Join(root, "link", "file"))
	require.Error(t, err)
}
