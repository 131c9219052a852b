// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package playlist materializes and navigates server-side play queues. A
// generator owns a lazily-filled item table; navigation mutates the cursor
// under a per-generator lock.
package playlist

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
)

// nextIdempotencyWindow collapses double-taps from one session into a single
// cursor advance.
const nextIdempotencyWindow = time.Second

// Seed describes what a playlist is generated from. Items is only set for
// explicit seeds.
type Seed struct {
	Type  media.PlaylistSeedType
	ID    int64
	Items []int64
}

// Chunk is one window of a generator's item table. Items may be sparse when
// parts of the window were never materialized.
type Chunk struct {
	Items        []media.PlaylistEntry `json:"items"`
	StartIndex   int                   `json:"startIndex"`
	CurrentIndex int                   `json:"currentIndex"`
	TotalCount   int                   `json:"totalCount"`
	HasMore      bool                  `json:"hasMore"`
	Shuffle      bool                  `json:"shuffle"`
	Repeat       bool                  `json:"repeat"`
}

type genState struct {
	mu        sync.Mutex
	lastNext  time.Time
	lastEntry *media.PlaylistEntry
}

// Service creates and drives playlist generators.
type Service struct {
	store     *store.Store
	chunkSize int
	log       zerolog.Logger

	mu   sync.Mutex
	gens map[string]*genState
}

func New(st *store.Store, chunkSize int) *Service {
	if chunkSize <= 0 {
		chunkSize = 20
	}
	return &Service{
		store:     st,
		chunkSize: chunkSize,
		log:       log.WithComponent("playlist"),
		gens:      map[string]*genState{},
	}
}

func (s *Service) state(id string) *genState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.gens[id]
	if !ok {
		st = &genState{}
		s.gens[id] = st
	}
	return st
}

// Create builds a generator for a session. The first chunk around index 0 is
// materialized eagerly so playback can begin without a second round-trip.
func (s *Service) Create(ctx context.Context, sessionID int64, seed Seed) (*media.PlaylistGenerator, error) {
	total, err := s.totalFor(ctx, seed)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, errdef.NotFound("playlist seed %s/%d has no playable items", seed.Type, seed.ID)
	}

	g := &media.PlaylistGenerator{
		UUID:       uuid.NewString(),
		SessionID:  sessionID,
		SeedType:   seed.Type,
		SeedID:     seed.ID,
		TotalCount: total,
		Active:     true,
	}
	if err := s.store.CreateGenerator(ctx, g); err != nil {
		return nil, err
	}

	if seed.Type == media.SeedExplicit {
		entries, err := s.entriesForIDs(ctx, g.UUID, 0, seed.Items)
		if err != nil {
			return nil, err
		}
		if err := s.store.PutEntries(ctx, g.UUID, entries); err != nil {
			return nil, err
		}
		return g, nil
	}
	if err := s.materialize(ctx, g, 0, s.chunkSize); err != nil {
		return nil, err
	}
	return g, nil
}

// GetChunk returns a window of the item table, materializing it on demand.
func (s *Service) GetChunk(ctx context.Context, generatorID string, startIndex, limit int) (*Chunk, error) {
	g, err := s.store.GetGenerator(ctx, generatorID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.chunkSize {
		limit = s.chunkSize
	}
	if startIndex < 0 {
		startIndex = 0
	}
	end := startIndex + limit
	if end > g.TotalCount {
		end = g.TotalCount
	}

	if !g.Shuffle {
		if err := s.materialize(ctx, g, startIndex, end-startIndex); err != nil {
			return nil, err
		}
	}
	items, err := s.store.ListEntries(ctx, g.UUID, startIndex, end)
	if err != nil {
		return nil, err
	}
	return &Chunk{
		Items:        items,
		StartIndex:   startIndex,
		CurrentIndex: g.Cursor,
		TotalCount:   g.TotalCount,
		HasMore:      end < g.TotalCount,
		Shuffle:      g.Shuffle,
		Repeat:       g.Repeat,
	}, nil
}

// Next advances the cursor and returns the new current entry, or nil when
// the queue is exhausted and repeat is off. Concurrent calls serialize;
// within the idempotency window the second caller gets the first result.
func (s *Service) Next(ctx context.Context, generatorID string) (*media.PlaylistEntry, error) {
	st := s.state(generatorID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if time.Since(st.lastNext) < nextIdempotencyWindow {
		return st.lastEntry, nil
	}

	g, err := s.store.GetGenerator(ctx, generatorID)
	if err != nil {
		return nil, err
	}
	cursor := g.Cursor + 1
	if cursor >= g.TotalCount {
		if !g.Repeat {
			st.lastNext = time.Now()
			st.lastEntry = nil
			return nil, nil
		}
		cursor = 0
	}
	entry, err := s.moveTo(ctx, g, cursor)
	if err != nil {
		return nil, err
	}
	st.lastNext = time.Now()
	st.lastEntry = entry
	return entry, nil
}

// Previous moves the cursor back, wrapping only under repeat.
func (s *Service) Previous(ctx context.Context, generatorID string) (*media.PlaylistEntry, error) {
	st := s.state(generatorID)
	st.mu.Lock()
	defer st.mu.Unlock()

	g, err := s.store.GetGenerator(ctx, generatorID)
	if err != nil {
		return nil, err
	}
	cursor := g.Cursor - 1
	if cursor < 0 {
		if g.Repeat {
			cursor = g.TotalCount - 1
		} else {
			cursor = 0
		}
	}
	return s.moveTo(ctx, g, cursor)
}

// JumpTo moves the cursor to an absolute index.
func (s *Service) JumpTo(ctx context.Context, generatorID string, index int) (*media.PlaylistEntry, error) {
	st := s.state(generatorID)
	st.mu.Lock()
	defer st.mu.Unlock()

	g, err := s.store.GetGenerator(ctx, generatorID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= g.TotalCount {
		return nil, errdef.Invalid("index %d outside queue of %d", index, g.TotalCount)
	}
	return s.moveTo(ctx, g, index)
}

// Current returns the entry under the cursor.
func (s *Service) Current(ctx context.Context, generatorID string) (*media.PlaylistEntry, error) {
	g, err := s.store.GetGenerator(ctx, generatorID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureIndex(ctx, g, g.Cursor); err != nil {
		return nil, err
	}
	return s.store.GetEntry(ctx, g.UUID, g.Cursor)
}

// SetShuffle toggles shuffle. Enabling regenerates a Fisher-Yates permutation
// with the current entry pinned to position 0; disabling rebuilds the natural
// order with the cursor following the current entry.
func (s *Service) SetShuffle(ctx context.Context, generatorID string, shuffle bool) (*media.PlaylistEntry, error) {
	st := s.state(generatorID)
	st.mu.Lock()
	defer st.mu.Unlock()

	g, err := s.store.GetGenerator(ctx, generatorID)
	if err != nil {
		return nil, err
	}
	if g.Shuffle == shuffle {
		return s.store.GetEntry(ctx, g.UUID, g.Cursor)
	}

	if err := s.ensureIndex(ctx, g, g.Cursor); err != nil {
		return nil, err
	}
	current, err := s.store.GetEntry(ctx, g.UUID, g.Cursor)
	if err != nil {
		return nil, err
	}

	var reordered []media.PlaylistEntry
	if shuffle {
		// The table still holds natural order; permute it.
		all, err := s.allEntries(ctx, g)
		if err != nil {
			return nil, err
		}
		reordered = shufflePinned(all, current.ItemID)
	} else if g.SeedType == media.SeedExplicit {
		// Explicit seeds have no source query to rebuild from; restore the
		// order persisted at creation.
		reordered, err = s.store.ListEntries(ctx, g.UUID, 0, g.TotalCount)
		if err != nil {
			return nil, err
		}
		sort.Slice(reordered, func(i, j int) bool {
			return reordered[i].NaturalIndex < reordered[j].NaturalIndex
		})
	} else {
		items, err := s.sourceSlice(ctx, g, 0, g.TotalCount)
		if err != nil {
			return nil, err
		}
		reordered = make([]media.PlaylistEntry, 0, len(items))
		for i, item := range items {
			reordered = append(reordered, media.PlaylistEntry{
				NaturalIndex: i,
				ItemID:       item.ID,
				Title:        item.Title,
				Type:         item.Type,
				DurationMs:   item.DurationMs,
			})
		}
	}
	cursor := 0
	for i := range reordered {
		reordered[i].Index = i
		reordered[i].GeneratorUUID = g.UUID
		if reordered[i].ItemID == current.ItemID {
			cursor = i
		}
	}

	if err := s.store.ClearEntries(ctx, g.UUID); err != nil {
		return nil, err
	}
	if err := s.store.PutEntries(ctx, g.UUID, reordered); err != nil {
		return nil, err
	}
	g.Shuffle = shuffle
	g.Cursor = cursor
	g.TotalCount = len(reordered)
	if err := s.store.UpdateGenerator(ctx, g); err != nil {
		return nil, err
	}
	return s.store.GetEntry(ctx, g.UUID, cursor)
}

// SetRepeat toggles repeat and returns the current entry.
func (s *Service) SetRepeat(ctx context.Context, generatorID string, repeat bool) (*media.PlaylistEntry, error) {
	g, err := s.store.GetGenerator(ctx, generatorID)
	if err != nil {
		return nil, err
	}
	g.Repeat = repeat
	if err := s.store.UpdateGenerator(ctx, g); err != nil {
		return nil, err
	}
	return s.store.GetEntry(ctx, g.UUID, g.Cursor)
}

// Deactivate marks a generator inactive; rows stay for session history.
func (s *Service) Deactivate(ctx context.Context, generatorID string) error {
	g, err := s.store.GetGenerator(ctx, generatorID)
	if err != nil {
		if errdef.IsKind(err, errdef.KindNotFound) {
			return nil
		}
		return err
	}
	g.Active = false
	return s.store.UpdateGenerator(ctx, g)
}

// Delete removes a generator and its entries.
func (s *Service) Delete(ctx context.Context, generatorID string) error {
	s.mu.Lock()
	delete(s.gens, generatorID)
	s.mu.Unlock()
	return s.store.DeleteGenerator(ctx, generatorID)
}

func (s *Service) moveTo(ctx context.Context, g *media.PlaylistGenerator, cursor int) (*media.PlaylistEntry, error) {
	if err := s.ensureIndex(ctx, g, cursor); err != nil {
		return nil, err
	}
	entry, err := s.store.GetEntry(ctx, g.UUID, cursor)
	if err != nil {
		return nil, err
	}
	g.Cursor = cursor
	if err := s.store.UpdateGenerator(ctx, g); err != nil {
		return nil, err
	}
	if err := s.store.MarkServed(ctx, g.UUID, cursor); err != nil {
		return nil, err
	}
	entry.Served = true
	return entry, nil
}

// ensureIndex materializes the chunk containing index unless shuffle already
// materialized the whole table.
func (s *Service) ensureIndex(ctx context.Context, g *media.PlaylistGenerator, index int) error {
	if g.Shuffle || g.SeedType == media.SeedExplicit {
		return nil
	}
	start := (index / s.chunkSize) * s.chunkSize
	return s.materialize(ctx, g, start, s.chunkSize)
}

// materialize fills [start, start+limit) of the entry table from the seed
// source, skipping rows already present.
func (s *Service) materialize(ctx context.Context, g *media.PlaylistGenerator, start, limit int) error {
	end := start + limit
	if end > g.TotalCount {
		end = g.TotalCount
	}
	if start >= end {
		return nil
	}
	existing, err := s.store.ListEntries(ctx, g.UUID, start, end)
	if err != nil {
		return err
	}
	if len(existing) == end-start {
		return nil
	}

	items, err := s.sourceSlice(ctx, g, start, end-start)
	if err != nil {
		return err
	}
	have := map[int]bool{}
	for _, e := range existing {
		have[e.Index] = true
	}
	var missing []media.PlaylistEntry
	for i, item := range items {
		idx := start + i
		if have[idx] {
			continue
		}
		missing = append(missing, media.PlaylistEntry{
			GeneratorUUID: g.UUID,
			Index:         idx,
			NaturalIndex:  idx,
			ItemID:        item.ID,
			Title:         item.Title,
			Type:          item.Type,
			DurationMs:    item.DurationMs,
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return s.store.PutEntries(ctx, g.UUID, missing)
}

func (s *Service) allEntries(ctx context.Context, g *media.PlaylistGenerator) ([]media.PlaylistEntry, error) {
	for start := 0; start < g.TotalCount; start += s.chunkSize {
		if err := s.materialize(ctx, g, start, s.chunkSize); err != nil {
			return nil, err
		}
	}
	return s.store.ListEntries(ctx, g.UUID, 0, g.TotalCount)
}

// shufflePinned returns a permutation with the current item first.
func shufflePinned(entries []media.PlaylistEntry, currentItemID int64) []media.PlaylistEntry {
	out := make([]media.PlaylistEntry, len(entries))
	copy(out, entries)
	for i, e := range out {
		if e.ItemID == currentItemID {
			out[0], out[i] = out[i], out[0]
			break
		}
	}
	rest := out[1:]
	rand.Shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})
	return out
}

func (s *Service) totalFor(ctx context.Context, seed Seed) (int, error) {
	switch seed.Type {
	case media.SeedSingle:
		return 1, nil
	case media.SeedExplicit:
		return len(seed.Items), nil
	case media.SeedAlbum, media.SeedSeason:
		return s.store.CountChildren(ctx, seed.ID)
	case media.SeedShow:
		seasons, err := s.store.ListChildren(ctx, seed.ID, 0, 500)
		if err != nil {
			return 0, err
		}
		total := 0
		for _, season := range seasons {
			n, err := s.store.CountChildren(ctx, season.ID)
			if err != nil {
				return 0, err
			}
			total += n
		}
		return total, nil
	case media.SeedLibrary:
		section, err := s.store.GetSection(ctx, seed.ID)
		if err != nil {
			return 0, err
		}
		_, total, err := s.store.ListSectionChildren(ctx, store.SectionChildrenQuery{
			SectionID: seed.ID, Type: libraryLeafType(section.Type), Limit: 1,
		})
		return total, err
	default:
		return 0, errdef.Invalid("unknown playlist seed type %q", string(seed.Type))
	}
}

// sourceSlice reads [offset, offset+limit) of the seed's natural order.
func (s *Service) sourceSlice(ctx context.Context, g *media.PlaylistGenerator, offset, limit int) ([]media.MetadataItem, error) {
	switch g.SeedType {
	case media.SeedSingle:
		item, err := s.store.GetMetadataItem(ctx, g.SeedID)
		if err != nil {
			return nil, err
		}
		return []media.MetadataItem{*item}, nil
	case media.SeedAlbum, media.SeedSeason:
		return s.store.ListChildren(ctx, g.SeedID, offset, limit)
	case media.SeedShow:
		return s.showSlice(ctx, g.SeedID, offset, limit)
	case media.SeedLibrary:
		section, err := s.store.GetSection(ctx, g.SeedID)
		if err != nil {
			return nil, err
		}
		items, _, err := s.store.ListSectionChildren(ctx, store.SectionChildrenQuery{
			SectionID: g.SeedID,
			Type:      libraryLeafType(section.Type),
			Sort:      "title",
			Offset:    offset,
			Limit:     limit,
		})
		return items, err
	default:
		return nil, errdef.Invalid("seed type %q has no source query", string(g.SeedType))
	}
}

// showSlice flattens season episode lists in season order.
func (s *Service) showSlice(ctx context.Context, showID int64, offset, limit int) ([]media.MetadataItem, error) {
	seasons, err := s.store.ListChildren(ctx, showID, 0, 500)
	if err != nil {
		return nil, err
	}
	var out []media.MetadataItem
	skip := offset
	for _, season := range seasons {
		if len(out) >= limit {
			break
		}
		episodes, err := s.store.ListChildren(ctx, season.ID, 0, 10000)
		if err != nil {
			return nil, err
		}
		for _, ep := range episodes {
			if skip > 0 {
				skip--
				continue
			}
			out = append(out, ep)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Service) entriesForIDs(ctx context.Context, generatorID string, start int, ids []int64) ([]media.PlaylistEntry, error) {
	entries := make([]media.PlaylistEntry, 0, len(ids))
	for i, id := range ids {
		item, err := s.store.GetMetadataItem(ctx, id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, media.PlaylistEntry{
			GeneratorUUID: generatorID,
			Index:         start + i,
			NaturalIndex:  start + i,
			ItemID:        item.ID,
			Title:         item.Title,
			Type:          item.Type,
			DurationMs:    item.DurationMs,
		})
	}
	return entries, nil
}

func libraryLeafType(lt media.LibraryType) media.MetadataType {
	switch lt {
	case media.LibraryTvShows:
		return media.TypeEpisode
	case media.LibraryMusic, media.LibraryPodcasts, media.LibraryAudiobooks:
		return media.TypeTrack
	case media.LibraryPhotos, media.LibraryPictures:
		return media.TypePhoto
	case media.LibraryBooks, media.LibraryMagazines:
		return media.TypeBook
	case media.LibraryComics, media.LibraryManga:
		return media.TypeComic
	default:
		return media.TypeMovie
	}
}
