// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package paths computes every directory root the server writes to, once,
// from the two configured base directories.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths are the resolved on-disk roots. Build with New, then Ensure once at
// startup; everything downstream treats the fields as constants.
type Paths struct {
	Data       string
	Cache      string
	DB         string // sqlite database file
	Settings   string // badger settings store
	Artifacts  string // sharded gop/bif/artwork tree
	Transcodes string // per-job segment output dirs
	Temp       string // atomic-write scratch
	Log        string
	Backup     string
}

// New derives the full layout. cacheDir may equal a subdirectory of dataDir;
// the two never need to share a filesystem.
func New(dataDir, cacheDir string) Paths {
	return Paths{
		Data:       dataDir,
		Cache:      cacheDir,
		DB:         filepath.Join(dataDir, "nexa.db"),
		Settings:   filepath.Join(dataDir, "settings"),
		Artifacts:  filepath.Join(dataDir, "artifacts"),
		Transcodes: filepath.Join(cacheDir, "transcodes"),
		Temp:       filepath.Join(cacheDir, "tmp"),
		Log:        filepath.Join(dataDir, "logs"),
		Backup:     filepath.Join(dataDir, "backups"),
	}
}

// Ensure creates every directory root. The DB path is a file; only its
// parent is created.
func (p Paths) Ensure() error {
	for _, dir := range []string{
		p.Data, p.Cache, p.Settings, p.Artifacts, p.Transcodes, p.Temp, p.Log, p.Backup,
	} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("ensure %s: %w", dir, err)
		}
	}
	return nil
}

// Confine verifies that candidate resolves inside root and returns the
// cleaned absolute path. Symlinks in existing path components are resolved
// so a link cannot escape the root.
func Confine(root, candidate string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", err
	}

	// Resolve the deepest existing ancestor; the leaf may not exist yet.
	resolved := abs
	probe := abs
	for {
		r, err := filepath.EvalSymlinks(probe)
		if err == nil {
			resolved = filepath.Join(r, strings.TrimPrefix(abs, probe))
			break
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	resolvedRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		resolvedRoot = absRoot
	}
	rel, err := filepath.Rel(resolvedRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes %s", candidate, root)
	}
	return abs, nil
}
