// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package watch turns raw filesystem notifications into debounced,
// library-scoped change events that feed micro-scans.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media/store"
	"github.com/ManuGH/nexa/internal/metrics"
)

// ChangeKind classifies a coalesced group of raw events.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
	ChangeRenamed  ChangeKind = "renamed"
)

// CoalescedChangeEvent is one settled batch of filesystem changes under a
// tracked directory.
type CoalescedChangeEvent struct {
	SectionID int64
	Paths     []string
	Kind      ChangeKind
}

// rawKind is the watcher-level event class before coalescing.
type rawKind int

const (
	rawCreate rawKind = iota
	rawWrite
	rawRemove
	rawRename
)

type rawEvent struct {
	sectionID int64
	path      string
	kind      rawKind
	at        time.Time
}

// Coalescer groups raw events under the nearest tracked directory, drops
// transient create+delete pairs inside the rename window, and emits a
// CoalescedChangeEvent once a group has been quiet for the debounce
// interval.
type Coalescer struct {
	store        *store.Store
	renameWindow time.Duration
	debounce     time.Duration
	emit         func(CoalescedChangeEvent)
	now          func() time.Time
	log          zerolog.Logger

	mu     sync.Mutex
	groups map[groupKey]*group
}

type groupKey struct {
	sectionID int64
	dir       string
}

type group struct {
	timer *time.Timer
	// pending maps path → latest raw event; a create later followed by a
	// remove within the rename window cancels out.
	pending map[string]rawEvent
}

func NewCoalescer(st *store.Store, renameWindow, debounce time.Duration, emit func(CoalescedChangeEvent)) *Coalescer {
	if renameWindow <= 0 {
		renameWindow = 500 * time.Millisecond
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Coalescer{
		store:        st,
		renameWindow: renameWindow,
		debounce:     debounce,
		emit:         emit,
		now:          time.Now,
		log:          log.WithComponent("coalescer"),
		groups:       make(map[groupKey]*group),
	}
}

func (k rawKind) String() string {
	switch k {
	case rawCreate:
		return "create"
	case rawWrite:
		return "write"
	case rawRemove:
		return "remove"
	default:
		return "rename"
	}
}

// Observe feeds one raw event. Safe for concurrent use.
func (c *Coalescer) Observe(ctx context.Context, sectionID int64, path string, kind rawKind) {
	metrics.WatcherEvents.WithLabelValues(kind.String()).Inc()

	dir := path
	if tracked, err := c.store.NearestTrackedDirectory(ctx, sectionID, filepath.Dir(path)); err == nil && tracked != nil {
		dir = tracked.Path
	} else {
		dir = filepath.Dir(path)
	}
	key := groupKey{sectionID, dir}
	ev := rawEvent{sectionID: sectionID, path: path, kind: kind, at: c.now()}

	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groups[key]
	if !ok {
		g = &group{pending: make(map[string]rawEvent)}
		g.timer = time.AfterFunc(c.debounce, func() { c.flush(key) })
		c.groups[key] = g
	} else {
		g.timer.Reset(c.debounce)
	}

	if prev, ok := g.pending[path]; ok {
		// A create immediately undone by a remove is editor temp-file churn.
		if prev.kind == rawCreate && kind == rawRemove && ev.at.Sub(prev.at) <= c.renameWindow {
			delete(g.pending, path)
			return
		}
	}
	g.pending[path] = ev
}

// flush emits the settled group. Runs on the group's timer goroutine.
func (c *Coalescer) flush(key groupKey) {
	c.mu.Lock()
	g, ok := c.groups[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.groups, key)
	c.mu.Unlock()

	if len(g.pending) == 0 {
		return
	}

	var paths []string
	counts := map[rawKind]int{}
	for _, ev := range g.pending {
		paths = append(paths, ev.path)
		counts[ev.kind]++
	}

	kind := ChangeModified
	switch {
	case counts[rawRename] > 0, counts[rawCreate] > 0 && counts[rawRemove] > 0:
		kind = ChangeRenamed
	case counts[rawRemove] > 0 && counts[rawCreate] == 0 && counts[rawWrite] == 0:
		kind = ChangeRemoved
	case counts[rawCreate] > 0 && counts[rawWrite] == 0 && counts[rawRemove] == 0:
		kind = ChangeAdded
	}

	metrics.WatcherCoalesced.Inc()
	c.emit(CoalescedChangeEvent{SectionID: key.sectionID, Paths: paths, Kind: kind})
}

// Stop cancels pending groups without emitting them.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, g := range c.groups {
		g.timer.Stop()
		delete(c.groups, key)
	}
}
