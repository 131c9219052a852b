// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/nexa/internal/artifacts/bif"
	"github.com/ManuGH/nexa/internal/artifacts/gop"
	"github.com/ManuGH/nexa/internal/ffmpeg"
	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
)

// trickplayIntervalMs is the spacing between preview thumbnails.
const trickplayIntervalMs = 10_000

// FFmpegTrickplayer extracts a thumbnail strip with ffmpeg and packs it into
// the item's BIF artifact. With an analyzer and GoP store attached it also
// writes the keyframe index seeks rely on.
type FFmpegTrickplayer struct {
	FFmpegPath string
	Bif        *bif.Store
	Gop        *gop.Store       // nil skips keyframe indexing
	Analyzer   *ffmpeg.Analyzer // required when Gop is set
	log        zerolog.Logger
}

func NewFFmpegTrickplayer(ffmpegPath string, bs *bif.Store) *FFmpegTrickplayer {
	return &FFmpegTrickplayer{
		FFmpegPath: ffmpegPath,
		Bif:        bs,
		log:        log.WithComponent("trickplay"),
	}
}

// Generate renders one thumbnail per interval into a scratch directory, then
// writes the BIF atomically. An existing artifact newer than the file is
// left alone.
func (t *FFmpegTrickplayer) Generate(ctx context.Context, item *media.MetadataItem, part *media.MediaPart) error {
	if t.Gop != nil && t.Analyzer != nil {
		if err := t.generateGopIndex(ctx, item, part); err != nil {
			t.log.Warn().Str("item", item.UUID).Err(err).Msg("gop index failed")
		}
	}
	if meta, err := t.Bif.ReadMetadata(item.UUID, part.PartIndex); err == nil && meta != nil {
		return nil
	}

	dir, err := os.MkdirTemp("", "nexa-trickplay-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	runner := ffmpeg.NewRunner(t.FFmpegPath, []string{
		"-hide_banner", "-loglevel", "error",
		"-skip_frame", "nokey",
		"-i", part.Path,
		"-vf", fmt.Sprintf("fps=1/%d,scale=320:-1", trickplayIntervalMs/1000),
		"-q:v", "6",
		filepath.Join(dir, "thumb-%05d.jpg"),
	})
	if _, err := runner.Start(ctx); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	if code, err := runner.Wait(); err != nil || code != 0 {
		return fmt.Errorf("ffmpeg exited %d: %v (%v)", code, runner.LastLogLines(3), err)
	}

	names, err := filepath.Glob(filepath.Join(dir, "thumb-*.jpg"))
	if err != nil || len(names) == 0 {
		return fmt.Errorf("no thumbnails produced for %s", part.Path)
	}
	sort.Strings(names)
	thumbs := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		thumbs = append(thumbs, data)
	}
	return t.Bif.Write(item.UUID, part.PartIndex, thumbs, trickplayIntervalMs)
}

// generateGopIndex probes video keyframes and persists the seek index. Each
// entry's GoP duration is the gap to the next keyframe.
func (t *FFmpegTrickplayer) generateGopIndex(ctx context.Context, item *media.MetadataItem, part *media.MediaPart) error {
	if ix, err := t.Gop.Read(item.UUID, part.PartIndex); err == nil && ix != nil {
		return nil
	}
	frames, err := t.Analyzer.Keyframes(ctx, part.Path)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no keyframes in %s", part.Path)
	}
	ix := &gop.Index{Entries: make([]gop.Entry, len(frames))}
	for i, kf := range frames {
		e := gop.Entry{PtsMs: kf.PtsMs, ByteOffset: kf.ByteOffset, IsKeyframe: true}
		if i+1 < len(frames) {
			e.GopDurationMs = frames[i+1].PtsMs - kf.PtsMs
		}
		ix.Entries[i] = e
	}
	return t.Gop.Write(item.UUID, part.PartIndex, ix)
}

// CollectionImager regenerates collection artwork, debounced so a burst of
// scanned items triggers one pass per section.
type CollectionImager struct {
	store    *store.Store
	debounce time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	timers map[int64]*time.Timer
}

func NewCollectionImager(st *store.Store, debounce time.Duration) *CollectionImager {
	if debounce <= 0 {
		debounce = 5 * time.Minute
	}
	return &CollectionImager{
		store:    st,
		debounce: debounce,
		log:      log.WithComponent("collection-images"),
		timers:   make(map[int64]*time.Timer),
	}
}

// Touch marks a section dirty. The regeneration fires debounce after the
// last Touch.
func (c *CollectionImager) Touch(sectionID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[sectionID]; ok {
		t.Reset(c.debounce)
		return
	}
	c.timers[sectionID] = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		delete(c.timers, sectionID)
		c.mu.Unlock()
		if err := c.regenerate(context.Background(), sectionID); err != nil {
			c.log.Warn().Int64("section", sectionID).Err(err).Msg("collection image pass failed")
		}
	})
}

// Stop cancels pending passes. Called on shutdown.
func (c *CollectionImager) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

// regenerate gives each collection without artwork the poster of its first
// member.
func (c *CollectionImager) regenerate(ctx context.Context, sectionID int64) error {
	q := store.SectionChildrenQuery{SectionID: sectionID, Type: media.TypeCollection, Limit: 500}
	collections, _, err := c.store.ListSectionChildren(ctx, q)
	if err != nil {
		return err
	}
	for _, col := range collections {
		if col.ThumbURI != "" {
			continue
		}
		members, err := c.store.ListRelations(ctx, col.ID, media.RelInCollection)
		if err != nil || len(members) == 0 {
			continue
		}
		first, err := c.store.GetMetadataItem(ctx, members[0].ToID)
		if err != nil || first.ThumbURI == "" {
			continue
		}
		col.ThumbURI = first.ThumbURI
		col.ThumbHash = first.ThumbHash
		item := col
		if err := c.store.UpdateMetadataItem(ctx, &item); err != nil {
			c.log.Warn().Int64("collection", col.ID).Err(err).Msg("artwork update failed")
		}
	}
	return nil
}
