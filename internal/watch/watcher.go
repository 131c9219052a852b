// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/nexa/internal/config"
	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
	"github.com/ManuGH/nexa/internal/metrics"
)

// Watcher keeps native notifications on each section location down to a
// configured depth and polls tracked directories below it. Settled changes
// come out of the coalescer as CoalescedChangeEvents.
type Watcher struct {
	store     *store.Store
	cfg       config.WatcherConfig
	coalescer *Coalescer
	fsw       *fsnotify.Watcher
	log       zerolog.Logger

	mu       sync.Mutex
	sections map[int64]*watchedSection
	// rescan marks sections whose watch state is no longer trustworthy.
	rescan map[int64]bool
}

type watchedSection struct {
	section *media.LibrarySection
	roots   []string
}

// New builds a watcher dispatching settled events to onChange.
func New(st *store.Store, cfg config.WatcherConfig, onChange func(CoalescedChangeEvent)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		store:    st,
		cfg:      cfg,
		fsw:      fsw,
		log:      log.WithComponent("watcher"),
		sections: make(map[int64]*watchedSection),
		rescan:   make(map[int64]bool),
	}
	w.coalescer = NewCoalescer(st, cfg.RenameWindow, cfg.Debounce, onChange)
	return w, nil
}

// WatchSection registers native watches for every location of the section,
// recursing to the configured depth.
func (w *Watcher) WatchSection(section *media.LibrarySection) error {
	ws := &watchedSection{section: section}
	for _, loc := range section.Locations {
		if !loc.Available {
			continue
		}
		ws.roots = append(ws.roots, loc.RootPath)
		if err := w.addTree(loc.RootPath, w.cfg.Depth); err != nil {
			w.markRescan(section.ID, err)
		}
	}
	w.mu.Lock()
	w.sections[section.ID] = ws
	w.mu.Unlock()
	return nil
}

// UnwatchSection drops the section's watches. Paths are removed lazily: a
// stale fsnotify watch on a removed section only produces events that no
// longer map to a section and are dropped.
func (w *Watcher) UnwatchSection(sectionID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ws, ok := w.sections[sectionID]; ok {
		for _, root := range ws.roots {
			_ = w.fsw.Remove(root)
		}
		delete(w.sections, sectionID)
	}
	delete(w.rescan, sectionID)
}

// RequiresFullRescan reports whether watcher errors invalidated the
// section's incremental state. Cleared by ClearRescan after a full scan.
func (w *Watcher) RequiresFullRescan(sectionID int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rescan[sectionID]
}

func (w *Watcher) ClearRescan(sectionID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.rescan, sectionID)
}

// Run consumes native events and drives the deep-subtree poll until ctx
// ends.
func (w *Watcher) Run(ctx context.Context) error {
	poll := time.NewTicker(w.pollInterval())
	defer poll.Stop()
	defer w.coalescer.Stop()
	defer func() { _ = w.fsw.Close() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			metrics.WatcherErrors.Inc()
			w.markAllRescan(err)
		case <-poll.C:
			w.pollDeep(ctx)
		}
	}
}

func (w *Watcher) pollInterval() time.Duration {
	if w.cfg.PollInterval > 0 {
		return w.cfg.PollInterval
	}
	return 60 * time.Second
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	sectionID, root, ok := w.sectionFor(ev.Name)
	if !ok {
		return
	}
	var kind rawKind
	switch {
	case ev.Has(fsnotify.Create):
		kind = rawCreate
		// New directories inside the native depth get their own watch.
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if depthBelow(root, ev.Name) < w.cfg.Depth {
				if err := w.fsw.Add(ev.Name); err != nil {
					metrics.WatcherErrors.Inc()
					w.markRescan(sectionID, err)
				}
			}
			return
		}
	case ev.Has(fsnotify.Write):
		kind = rawWrite
	case ev.Has(fsnotify.Remove):
		kind = rawRemove
	case ev.Has(fsnotify.Rename):
		kind = rawRename
	default:
		return // chmod noise
	}
	w.coalescer.Observe(ctx, sectionID, ev.Name, kind)
}

// pollDeep stats tracked directories deeper than the native depth; a mtime
// drift turns into a synthetic write for the coalescer.
func (w *Watcher) pollDeep(ctx context.Context) {
	w.mu.Lock()
	watched := make([]*watchedSection, 0, len(w.sections))
	for _, ws := range w.sections {
		watched = append(watched, ws)
	}
	w.mu.Unlock()

	for _, ws := range watched {
		var after int64
		for {
			dirs, err := w.store.ListDirectoriesAfter(ctx, ws.section.ID, after, 500)
			if err != nil {
				w.log.Warn().Err(err).Msg("poll listing failed")
				return
			}
			if len(dirs) == 0 {
				break
			}
			for _, d := range dirs {
				after = d.ID
				root, ok := rootOf(ws.roots, d.Path)
				if !ok || depthBelow(root, d.Path) <= w.cfg.Depth {
					continue
				}
				info, err := os.Stat(d.Path)
				if err != nil {
					if os.IsNotExist(err) && d.MissingSince == nil {
						w.coalescer.Observe(ctx, ws.section.ID, d.Path, rawRemove)
					}
					continue
				}
				if !sameMtime(info.ModTime(), d.MtimeSeen) {
					w.coalescer.Observe(ctx, ws.section.ID, d.Path, rawWrite)
				}
			}
		}
	}
}

// addTree registers path and its subdirectories down to depth levels.
func (w *Watcher) addTree(path string, depth int) error {
	if err := w.fsw.Add(path); err != nil {
		return err
	}
	if depth <= 0 {
		return nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := w.addTree(filepath.Join(path, e.Name()), depth-1); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) sectionFor(path string) (int64, string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, ws := range w.sections {
		if root, ok := rootOf(ws.roots, path); ok {
			return id, root, true
		}
	}
	return 0, "", false
}

func (w *Watcher) markRescan(sectionID int64, err error) {
	w.log.Warn().Int64("section", sectionID).Err(err).Msg("watch degraded, full rescan required")
	w.mu.Lock()
	w.rescan[sectionID] = true
	w.mu.Unlock()
}

func (w *Watcher) markAllRescan(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.log.Warn().Err(err).Msg("watcher error, full rescan required everywhere")
	for id := range w.sections {
		w.rescan[id] = true
	}
}

func rootOf(roots []string, path string) (string, bool) {
	for _, root := range roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root, true
		}
	}
	return "", false
}

// depthBelow counts path separators between root and path.
func depthBelow(root, path string) int {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return 0
	}
	return strings.Count(rel, string(filepath.Separator)) + 1
}

// sameMtime mirrors the second-granularity comparison used by discovery.
func sameMtime(a, b time.Time) bool {
	return a.Truncate(time.Second).Equal(b.Truncate(time.Second))
}
