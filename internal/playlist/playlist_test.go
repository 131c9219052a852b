// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package playlist

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "nexa.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedAlbum creates an album with n tracks and returns the album id.
func seedAlbum(t *testing.T, s *store.Store, n int) int64 {
	t.Helper()
	ctx := context.Background()
	sec := &media.LibrarySection{Name: "Music", Type: media.LibraryMusic}
	require.NoError(t, s.CreateSection(ctx, sec))

	album := &media.MetadataItem{SectionID: sec.ID, Type: media.TypeAlbumRelease, Title: "OK Computer"}
	require.NoError(t, s.CreateMetadataItem(ctx, nil, album))
	for i := 1; i <= n; i++ {
		track := &media.MetadataItem{
			SectionID: sec.ID, Type: media.TypeTrack,
			Title: "Track", Index: i, ParentID: &album.ID,
		}
		require.NoError(t, s.CreateMetadataItem(ctx, nil, track))
	}
	return album.ID
}

// seedSession creates the playback session a generator hangs off.
func seedSession(t *testing.T, s *store.Store, itemID int64) int64 {
	t.Helper()
	ps := &media.PlaybackSession{UserID: "listener", ItemID: itemID}
	require.NoError(t, s.CreateSession(context.Background(), ps))
	return ps.ID
}

func TestCreateAlbumSeedMaterializesFirstChunk(t *testing.T) {
	s := newTestStore(t)
	svc := New(s, 5)
	albumID := seedAlbum(t, s, 12)

	g, err := svc.Create(context.Background(), seedSession(t, s, albumID), Seed{Type: media.SeedAlbum, ID: albumID})
	require.NoError(t, err)
	require.Equal(t, 12, g.TotalCount)
	require.Equal(t, 0, g.Cursor)

	entries, err := s.ListEntries(context.Background(), g.UUID, 0, 12)
	require.NoError(t, err)
	require.Len(t, entries, 5) // first chunk only
}

func TestCreateEmptySeedFails(t *testing.T) {
	s := newTestStore(t)
	svc := New(s, 5)
	albumID := seedAlbum(t, s, 0)

	_, err := svc.Create(context.Background(), seedSession(t, s, albumID), Seed{Type: media.SeedAlbum, ID: albumID})
	require.True(t, errdef.IsKind(err, errdef.KindNotFound))
}

func TestGetChunkMaterializesLazily(t *testing.T) {
	s := newTestStore(t)
	svc := New(s, 5)
	ctx := context.Background()
	albumID := seedAlbum(t, s, 12)

	g, err := svc.Create(ctx, seedSession(t, s, albumID), Seed{Type: media.SeedAlbum, ID: albumID})
	require.NoError(t, err)

	chunk, err := svc.GetChunk(ctx, g.UUID, 10, 5)
	require.NoError(t, err)
	require.Len(t, chunk.Items, 2) // indexes 10, 11
	require.Equal(t, 10, chunk.Items[0].Index)
	require.Equal(t, 12, chunk.TotalCount)
	require.False(t, chunk.HasMore)
}

func TestNextAdvancesAndStopsAtEnd(t *testing.T) {
	s := newTestStore(t)
	svc := New(s, 5)
	ctx := context.Background()
	albumID := seedAlbum(t, s, 3)

	g, err := svc.Create(ctx, seedSession(t, s, albumID), Seed{Type: media.SeedAlbum, ID: albumID})
	require.NoError(t, err)

	first, err := svc.Next(ctx, g.UUID)
	require.NoError(t, err)
	require.Equal(t, 1, first.Index)
	require.True(t, first.Served)

	// Idempotency: within the window the second call returns the same entry.
	again, err := svc.Next(ctx, g.UUID)
	require.NoError(t, err)
	require.Equal(t, first.Index, again.Index)
}

func TestNextWrapsUnderRepeat(t *testing.T) {
	s := newTestStore(t)
	svc := New(s, 5)
	ctx := context.Background()
	albumID := seedAlbum(t, s, 2)

	g, err := svc.Create(ctx, seedSession(t, s, albumID), Seed{Type: media.SeedAlbum, ID: albumID})
	require.NoError(t, err)
	_, err = svc.SetRepeat(ctx, g.UUID, true)
	require.NoError(t, err)
	_, err = svc.JumpTo(ctx, g.UUID, 1)
	require.NoError(t, err)

	// Fresh state for the idempotency window.
	svc.gens = map[string]*genState{}
	entry, err := svc.Next(ctx, g.UUID)
	require.NoError(t, err)
	require.Equal(t, 0, entry.Index)
}

func TestNextExhaustedWithoutRepeat(t *testing.T) {
	s := newTestStore(t)
	svc := New(s, 5)
	ctx := context.Background()
	albumID := seedAlbum(t, s, 1)

	g, err := svc.Create(ctx, seedSession(t, s, albumID), Seed{Type: media.SeedSingle, ID: albumID})
	require.NoError(t, err)

	entry, err := svc.Next(ctx, g.UUID)
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestConcurrentNextSerialized(t *testing.T) {
	s := newTestStore(t)
	svc := New(s, 20)
	ctx := context.Background()
	albumID := seedAlbum(t, s, 10)

	g, err := svc.Create(ctx, seedSession(t, s, albumID), Seed{Type: media.SeedAlbum, ID: albumID})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*media.PlaylistEntry, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := svc.Next(ctx, g.UUID)
			require.NoError(t, err)
			results[i] = e
		}(i)
	}
	wg.Wait()

	// All calls land within the window; the cursor moved exactly once.
	for _, e := range results {
		require.NotNil(t, e)
		require.Equal(t, 1, e.Index)
	}
}

func TestJumpToValidatesBounds(t *testing.T) {
	s := newTestStore(t)
	svc := New(s, 5)
	ctx := context.Background()
	albumID := seedAlbum(t, s, 3)

	g, err := svc.Create(ctx, seedSession(t, s, albumID), Seed{Type: media.SeedAlbum, ID: albumID})
	require.NoError(t, err)

	_, err = svc.JumpTo(ctx, g.UUID, 3)
	require.True(t, errdef.IsKind(err, errdef.KindInvalidInput))

	entry, err := svc.JumpTo(ctx, g.UUID, 2)
	require.NoError(t, err)
	require.Equal(t, 2, entry.Index)
}

func TestShufflePinsCurrentAtZero(t *testing.T) {
	s := newTestStore(t)
	svc := New(s, 5)
	ctx := context.Background()
	albumID := seedAlbum(t, s, 12)

	g, err := svc.Create(ctx, seedSession(t, s, albumID), Seed{Type: media.SeedAlbum, ID: albumID})
	require.NoError(t, err)
	current, err := svc.JumpTo(ctx, g.UUID, 7)
	require.NoError(t, err)

	entry, err := svc.SetShuffle(ctx, g.UUID, true)
	require.NoError(t, err)
	require.Equal(t, 0, entry.Index)
	require.Equal(t, current.ItemID, entry.ItemID)

	// Whole table materialized; a permutation of all 12 items.
	all, err := s.ListEntries(ctx, g.UUID, 0, 12)
	require.NoError(t, err)
	require.Len(t, all, 12)
	seen := map[int64]bool{}
	for _, e := range all {
		require.False(t, seen[e.ItemID])
		seen[e.ItemID] = true
	}
}

func TestUnshuffleRestoresNaturalOrder(t *testing.T) {
	s := newTestStore(t)
	svc := New(s, 5)
	ctx := context.Background()
	albumID := seedAlbum(t, s, 6)

	g, err := svc.Create(ctx, seedSession(t, s, albumID), Seed{Type: media.SeedAlbum, ID: albumID})
	require.NoError(t, err)
	shuffled, err := svc.SetShuffle(ctx, g.UUID, true)
	require.NoError(t, err)

	restored, err := svc.SetShuffle(ctx, g.UUID, false)
	require.NoError(t, err)
	require.Equal(t, shuffled.ItemID, restored.ItemID)

	all, err := s.ListEntries(ctx, g.UUID, 0, 6)
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i := 1; i < len(all); i++ {
		require.Greater(t, all[i].ItemID, all[i-1].ItemID)
	}
}

func TestExplicitSeed(t *testing.T) {
	s := newTestStore(t)
	svc := New(s, 5)
	ctx := context.Background()
	albumID := seedAlbum(t, s, 3)

	tracks, err := s.ListChildren(ctx, albumID, 0, 10)
	require.NoError(t, err)
	ids := []int64{tracks[2].ID, tracks[0].ID}

	g, err := svc.Create(ctx, seedSession(t, s, albumID), Seed{Type: media.SeedExplicit, Items: ids})
	require.NoError(t, err)
	require.Equal(t, 2, g.TotalCount)

	chunk, err := svc.GetChunk(ctx, g.UUID, 0, 5)
	require.NoError(t, err)
	require.Equal(t, tracks[2].ID, chunk.Items[0].ItemID)
	require.Equal(t, tracks[0].ID, chunk.Items[1].ItemID)
}

func TestExplicitSeedUnshuffleRestoresCreationOrder(t *testing.T) {
	s := newTestStore(t)
	svc := New(s, 5)
	ctx := context.Background()
	albumID := seedAlbum(t, s, 8)

	tracks, err := s.ListChildren(ctx, albumID, 0, 10)
	require.NoError(t, err)
	// Deliberately not the album's own order.
	ids := []int64{tracks[5].ID, tracks[1].ID, tracks[7].ID, tracks[0].ID,
		tracks[3].ID, tracks[6].ID, tracks[2].ID, tracks[4].ID}

	g, err := svc.Create(ctx, seedSession(t, s, albumID), Seed{Type: media.SeedExplicit, Items: ids})
	require.NoError(t, err)

	_, err = svc.SetShuffle(ctx, g.UUID, true)
	require.NoError(t, err)
	_, err = svc.SetShuffle(ctx, g.UUID, false)
	require.NoError(t, err)

	all, err := s.ListEntries(ctx, g.UUID, 0, 8)
	require.NoError(t, err)
	require.Len(t, all, 8)
	for i, e := range all {
		require.Equal(t, ids[i], e.ItemID)
	}
}
