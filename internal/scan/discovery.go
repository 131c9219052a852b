// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scan

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/ManuGH/nexa/internal/config"
	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
	"github.com/ManuGH/nexa/internal/metrics"
)

// EventKind classifies what discovery observed about one file.
type EventKind string

const (
	EventSeen     EventKind = "seen"
	EventAdded    EventKind = "added"
	EventModified EventKind = "modified"
	EventMissing  EventKind = "missing"
)

// FileEvent is one discovery observation handed to the resolver stage.
type FileEvent struct {
	Kind      EventKind
	SectionID int64
	Directory *media.Directory
	Part      *media.MediaPart // tracked row; nil for Added
	Path      string
	Size      int64
	Mtime     time.Time
}

var mediaExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".m4v": true, ".avi": true, ".mov": true,
	".wmv": true, ".ts": true, ".webm": true, ".mpg": true, ".mpeg": true,
	".flv": true, ".m2ts": true,
	".mp3": true, ".flac": true, ".m4a": true, ".aac": true, ".ogg": true,
	".opus": true, ".wav": true, ".wma": true,
	".jpg": true, ".jpeg": true, ".png": true, ".heic": true, ".webp": true,
	".gif": true, ".tiff": true, ".raw": true,
	".epub": true, ".pdf": true, ".mobi": true, ".azw3": true,
	".cbz": true, ".cbr": true,
}

// Discovery walks section locations breadth-first, diffing real entries
// against the tracked tree. One directory is one transaction: its upserts,
// missing marks, and (every CheckpointEvery directories) the scan checkpoint
// commit together.
type Discovery struct {
	fs    afero.Fs
	store *store.Store
	cfg   config.ScannerConfig
	log   zerolog.Logger
}

// NewDiscovery reads through fs; tests pass a memfs.
func NewDiscovery(fs afero.Fs, st *store.Store, cfg config.ScannerConfig) *Discovery {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 25
	}
	return &Discovery{fs: fs, store: st, cfg: cfg, log: log.WithComponent("discovery")}
}

type walkItem struct {
	path     string
	parentID *int64
}

// Walk scans one location, emitting events. The scan's counters and
// checkpoint are updated as it goes. When sc.Checkpoint is already set the
// walk fast-forwards past directories visited before the crash, re-observing
// them idempotently without emitting duplicate work.
func (d *Discovery) Walk(ctx context.Context, sc *media.LibraryScan, loc media.SectionLocation, emit func(context.Context, FileEvent) error) error {
	resumeCursor := int64(0)
	if sc.Checkpoint != nil {
		resumeCursor = sc.Checkpoint.CursorDirectoryID
	}

	queue := []walkItem{{path: loc.RootPath}}
	sinceCheckpoint := 0

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := queue[0]
		queue = queue[1:]

		sinceCheckpoint++
		checkpointDue := sinceCheckpoint >= d.cfg.CheckpointEvery
		if checkpointDue {
			sinceCheckpoint = 0
		}

		children, dirID, err := d.visitDirectory(ctx, sc, loc, item, resumeCursor, checkpointDue, emit)
		if err != nil {
			// A per-directory failure is captured, not fatal to the walk.
			sc.ErrorCount++
			d.log.Warn().Str("path", item.path).Err(err).Msg("directory visit failed")
			metrics.ScanErrors.WithLabelValues("discovery").Inc()
			continue
		}
		for _, child := range children {
			id := dirID
			queue = append(queue, walkItem{path: child, parentID: &id})
		}
	}
	return nil
}

// visitDirectory diffs one directory and returns child dirs plus the tracked
// directory id.
func (d *Discovery) visitDirectory(ctx context.Context, sc *media.LibraryScan, loc media.SectionLocation, item walkItem, resumeCursor int64, checkpointDue bool, emit func(context.Context, FileEvent) error) ([]string, int64, error) {
	info, err := d.fs.Stat(item.path)
	if err != nil {
		return nil, 0, fmt.Errorf("stat %s: %w", item.path, err)
	}

	entries, err := afero.ReadDir(d.fs, item.path)
	if err != nil {
		return nil, 0, fmt.Errorf("read dir %s: %w", item.path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// .nomedia excludes the directory and everything below it.
	for _, e := range entries {
		if e.Name() == ".nomedia" {
			return nil, 0, nil
		}
	}

	tx, err := d.store.BeginTx(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	dir := &media.Directory{
		SectionID:  loc.SectionID,
		LocationID: loc.ID,
		ParentID:   item.parentID,
		Path:       item.path,
		MtimeSeen:  info.ModTime(),
	}
	tracked, _ := d.store.GetDirectoryByPath(ctx, loc.SectionID, item.path)
	if err := d.store.UpsertDirectory(ctx, tx, dir); err != nil {
		return nil, 0, err
	}

	// Fast-forward on resume: a directory committed before the crash with an
	// unchanged mtime needs no re-diff.
	if tracked != nil && tracked.ID <= resumeCursor && sameMtime(tracked.MtimeSeen, info.ModTime()) {
		var children []string
		for _, e := range entries {
			if e.IsDir() && d.include(e.Name()) {
				children = append(children, filepath.Join(item.path, e.Name()))
			}
		}
		if checkpointDue {
			if err := d.checkpoint(ctx, tx, sc, dir.ID); err != nil {
				return nil, 0, err
			}
		}
		return children, dir.ID, tx.Commit()
	}

	trackedParts, err := d.store.ListPartsInDirectory(ctx, dir.ID)
	if err != nil {
		return nil, 0, err
	}
	byPath := make(map[string]*media.MediaPart, len(trackedParts))
	for i := range trackedParts {
		byPath[trackedParts[i].Path] = &trackedParts[i]
	}

	var children []string
	var events []FileEvent
	onDisk := make(map[string]bool)

	for _, e := range entries {
		if !d.include(e.Name()) {
			continue
		}
		full := filepath.Join(item.path, e.Name())
		if e.IsDir() {
			children = append(children, full)
			continue
		}
		if !d.isMedia(full, e.Name()) {
			continue
		}
		onDisk[full] = true
		sc.TotalItems++

		prev := byPath[full]
		switch {
		case prev == nil:
			sc.Added++
			events = append(events, FileEvent{
				Kind: EventAdded, SectionID: loc.SectionID, Directory: dir,
				Path: full, Size: e.Size(), Mtime: e.ModTime(),
			})
		case prev.Size != e.Size() || !sameMtime(prev.MtimeSeen, e.ModTime()) || prev.MissingSince != nil:
			sc.Modified++
			events = append(events, FileEvent{
				Kind: EventModified, SectionID: loc.SectionID, Directory: dir, Part: prev,
				Path: full, Size: e.Size(), Mtime: e.ModTime(),
			})
		default:
			events = append(events, FileEvent{
				Kind: EventSeen, SectionID: loc.SectionID, Directory: dir, Part: prev,
				Path: full, Size: prev.Size, Mtime: prev.MtimeSeen,
			})
		}
	}

	now := time.Now()
	for _, prev := range trackedParts {
		if onDisk[prev.Path] || prev.MissingSince != nil {
			continue
		}
		sc.Removed++
		p := prev
		if err := d.store.MarkPartMissing(ctx, tx, p.ID, now); err != nil {
			return nil, 0, err
		}
		events = append(events, FileEvent{
			Kind: EventMissing, SectionID: loc.SectionID, Directory: dir, Part: &p, Path: p.Path,
		})
	}

	if checkpointDue {
		if err := d.checkpoint(ctx, tx, sc, dir.ID); err != nil {
			return nil, 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}

	for _, ev := range events {
		metrics.ScanItemsProcessed.WithLabelValues("discovery").Inc()
		if err := emit(ctx, ev); err != nil {
			return nil, 0, err
		}
	}
	return children, dir.ID, nil
}

// checkpoint persists the cursor inside the current directory transaction so
// resume state and the entity rows it points at commit atomically.
func (d *Discovery) checkpoint(ctx context.Context, tx *sql.Tx, sc *media.LibraryScan, cursorDirID int64) error {
	sc.Checkpoint = &media.Checkpoint{
		CursorDirectoryID: cursorDirID,
		ProcessedFiles:    sc.TotalItems,
		Added:             sc.Added,
		Modified:          sc.Modified,
		Removed:           sc.Removed,
	}
	return d.store.SaveScanProgress(ctx, tx, sc)
}

// sameMtime compares at the second granularity timestamps are stored with.
func sameMtime(a, b time.Time) bool {
	return a.Truncate(time.Second).Equal(b.Truncate(time.Second))
}

func (d *Discovery) include(name string) bool {
	if d.cfg.IncludeHidden {
		return true
	}
	return !strings.HasPrefix(name, ".")
}

// isMedia accepts known extensions and falls back to content sniffing for
// extensionless files.
func (d *Discovery) isMedia(path, name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != "" {
		return mediaExtensions[ext]
	}
	f, err := d.fs.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return false
	}
	top := strings.SplitN(mt.String(), "/", 2)[0]
	return top == "video" || top == "audio" || top == "image"
}
