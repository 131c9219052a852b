// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scan

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/nexa/internal/config"
	"github.com/ManuGH/nexa/internal/dedup"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
	"github.com/ManuGH/nexa/internal/notify"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "nexa.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestSection(t *testing.T, s *store.Store, typ media.LibraryType, root string) *media.LibrarySection {
	t.Helper()
	sec := &media.LibrarySection{
		Name:      "Test",
		Type:      typ,
		Locations: []media.SectionLocation{{RootPath: root, Available: true}},
	}
	require.NoError(t, s.CreateSection(context.Background(), sec))
	loaded, err := s.GetSection(context.Background(), sec.ID)
	require.NoError(t, err)
	return loaded
}

func writeFile(t *testing.T, fs afero.Fs, path string, size int) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, afero.WriteFile(fs, path, make([]byte, size), 0o644))
}

func TestParseFileName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want ParsedName
	}{
		{
			name: "movie with year and id",
			in:   "The Matrix (1999) {tmdb-603}.mkv",
			want: ParsedName{Title: "The Matrix", Year: 1999, Season: -1, Episode: -1,
				ExternalIDs: map[string]string{"tmdb": "603"}},
		},
		{
			name: "multi part",
			in:   "Lawrence of Arabia (1962) pt2.mkv",
			want: ParsedName{Title: "Lawrence of Arabia", Year: 1962, Season: -1, Episode: -1, PartIndex: 2},
		},
		{
			name: "season episode",
			in:   "Breaking.Bad.S02E07.Negro.y.Azul.mkv",
			want: ParsedName{Title: "Breaking Bad", Season: 2, Episode: 7},
		},
		{
			name: "cross notation",
			in:   "show 3x12.mkv",
			want: ParsedName{Title: "show", Season: 3, Episode: 12},
		},
		{
			name: "track number",
			in:   "03 - Karma Police.flac",
			want: ParsedName{Title: "Karma Police", Season: -1, Episode: -1, TrackNumber: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseFileName(tt.in)
			assert.Equal(t, tt.want.Title, got.Title)
			assert.Equal(t, tt.want.Year, got.Year)
			assert.Equal(t, tt.want.Season, got.Season)
			assert.Equal(t, tt.want.Episode, got.Episode)
			assert.Equal(t, tt.want.PartIndex, got.PartIndex)
			assert.Equal(t, tt.want.TrackNumber, got.TrackNumber)
			if tt.want.ExternalIDs != nil {
				assert.Equal(t, tt.want.ExternalIDs, got.ExternalIDs)
			}
		})
	}
}

func TestParseFileNameAirDate(t *testing.T) {
	got := ParseFileName("The Daily Show 2024-05-17.mkv")
	assert.True(t, got.Episodic())
	assert.Equal(t, "2024-05-17", got.AirDate.Format("2006-01-02"))
}

func collectEvents(t *testing.T, s *store.Store, fs afero.Fs, sec *media.LibrarySection, sc *media.LibraryScan) []FileEvent {
	t.Helper()
	d := NewDiscovery(fs, s, config.Defaults().Scanner)
	var events []FileEvent
	for _, loc := range sec.Locations {
		err := d.Walk(context.Background(), sc, loc, func(_ context.Context, ev FileEvent) error {
			events = append(events, ev)
			return nil
		})
		require.NoError(t, err)
	}
	return events
}

func TestDiscoveryAddsThenSees(t *testing.T) {
	s := newTestStore(t)
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/movies/The Matrix (1999).mkv", 10)
	writeFile(t, fs, "/movies/sub/Heat (1995).mkv", 20)
	sec := newTestSection(t, s, media.LibraryMovies, "/movies")

	sc := &media.LibraryScan{ID: "scan-1", SectionID: sec.ID}
	events := collectEvents(t, s, fs, sec, sc)
	kinds := map[EventKind]int{}
	for _, ev := range events {
		kinds[ev.Kind]++
	}
	assert.Equal(t, 2, kinds[EventAdded])
	assert.Equal(t, 2, sc.Added)

	// Parts must be tracked for the second pass to see them unchanged. The
	// resolver normally does this; simulate it.
	registerParts(t, s, sec, events)

	sc2 := &media.LibraryScan{ID: "scan-2", SectionID: sec.ID}
	second := collectEvents(t, s, fs, sec, sc2)
	for _, ev := range second {
		assert.Equal(t, EventSeen, ev.Kind, ev.Path)
	}
	assert.Zero(t, sc2.Added)
}

func registerParts(t *testing.T, s *store.Store, sec *media.LibrarySection, events []FileEvent) {
	t.Helper()
	ctx := context.Background()
	for _, ev := range events {
		if ev.Kind != EventAdded {
			continue
		}
		item := &media.MetadataItem{SectionID: sec.ID, Type: media.TypeMovie, Title: ev.Path}
		require.NoError(t, s.CreateMetadataItem(ctx, nil, item))
		mi := &media.MediaItem{MetadataID: item.ID, SectionID: sec.ID}
		require.NoError(t, s.UpsertMediaItem(ctx, nil, mi))
		tx, err := s.BeginTx(ctx)
		require.NoError(t, err)
		part := &media.MediaPart{
			ItemID: mi.ID, DirectoryID: ev.Directory.ID, SectionID: sec.ID,
			PartIndex: 1, Path: ev.Path, Size: ev.Size, MtimeSeen: ev.Mtime,
		}
		require.NoError(t, s.UpsertMediaPart(ctx, tx, part))
		require.NoError(t, tx.Commit())
	}
}

func TestDiscoveryNomediaExcludesSubtree(t *testing.T) {
	s := newTestStore(t)
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/movies/keep/Heat (1995).mkv", 10)
	writeFile(t, fs, "/movies/skip/.nomedia", 0)
	writeFile(t, fs, "/movies/skip/Secret (2001).mkv", 10)
	writeFile(t, fs, "/movies/.hidden/Ghost (1990).mkv", 10)
	sec := newTestSection(t, s, media.LibraryMovies, "/movies")

	sc := &media.LibraryScan{ID: "scan-1", SectionID: sec.ID}
	events := collectEvents(t, s, fs, sec, sc)
	var paths []string
	for _, ev := range events {
		paths = append(paths, ev.Path)
	}
	assert.Equal(t, []string{"/movies/keep/Heat (1995).mkv"}, paths)
}

func TestDiscoveryMissing(t *testing.T) {
	s := newTestStore(t)
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/movies/Heat (1995).mkv", 10)
	writeFile(t, fs, "/movies/Gone (2000).mkv", 10)
	sec := newTestSection(t, s, media.LibraryMovies, "/movies")

	sc := &media.LibraryScan{ID: "scan-1", SectionID: sec.ID}
	events := collectEvents(t, s, fs, sec, sc)
	registerParts(t, s, sec, events)

	require.NoError(t, fs.Remove("/movies/Gone (2000).mkv"))
	sc2 := &media.LibraryScan{ID: "scan-2", SectionID: sec.ID}
	second := collectEvents(t, s, fs, sec, sc2)

	var missing []string
	for _, ev := range second {
		if ev.Kind == EventMissing {
			missing = append(missing, ev.Path)
		}
	}
	assert.Equal(t, []string{"/movies/Gone (2000).mkv"}, missing)
	assert.Equal(t, 1, sc2.Removed)

	part, err := s.GetPartByPath(context.Background(), sec.ID, "/movies/Gone (2000).mkv")
	require.NoError(t, err)
	assert.NotNil(t, part.MissingSince)
}

func resolveAll(t *testing.T, s *store.Store, sec *media.LibrarySection, events []FileEvent) []*Resolved {
	t.Helper()
	r := NewResolver(s, dedup.New(s), sec)
	var out []*Resolved
	for _, ev := range events {
		res, err := r.Resolve(context.Background(), ev)
		require.NoError(t, err)
		if res != nil {
			out = append(out, res)
		}
	}
	return out
}

func TestResolverMultiPartMovie(t *testing.T) {
	s := newTestStore(t)
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/movies/Lawrence of Arabia (1962) pt1.mkv", 10)
	writeFile(t, fs, "/movies/Lawrence of Arabia (1962) pt2.mkv", 10)
	sec := newTestSection(t, s, media.LibraryMovies, "/movies")

	sc := &media.LibraryScan{ID: "scan-1", SectionID: sec.ID}
	resolved := resolveAll(t, s, sec, collectEvents(t, s, fs, sec, sc))
	require.Len(t, resolved, 2)
	assert.Equal(t, resolved[0].Item.ID, resolved[1].Item.ID)
	assert.Equal(t, resolved[0].Media.ID, resolved[1].Media.ID)

	parts, err := s.ListPartsForItem(context.Background(), resolved[0].Media.ID)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, 1, parts[0].PartIndex)
	assert.Equal(t, 2, parts[1].PartIndex)
	assert.Equal(t, "Lawrence of Arabia", resolved[0].Item.Title)
	assert.Equal(t, 1962, resolved[0].Item.Year)
}

func TestResolverEpisodeHierarchy(t *testing.T) {
	s := newTestStore(t)
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/tv/Breaking Bad (2008) {tvdb-81189}/Season 02/Breaking Bad S02E07.mkv", 10)
	writeFile(t, fs, "/tv/Breaking Bad (2008) {tvdb-81189}/Season 02/Breaking Bad S02E08.mkv", 10)
	sec := newTestSection(t, s, media.LibraryTvShows, "/tv")

	sc := &media.LibraryScan{ID: "scan-1", SectionID: sec.ID}
	resolved := resolveAll(t, s, sec, collectEvents(t, s, fs, sec, sc))
	require.Len(t, resolved, 2)

	ctx := context.Background()
	ep := resolved[0].Item
	assert.Equal(t, media.TypeEpisode, ep.Type)
	assert.Equal(t, 7, ep.Index)

	require.NotNil(t, ep.ParentID)
	season, err := s.GetMetadataItem(ctx, *ep.ParentID)
	require.NoError(t, err)
	assert.Equal(t, media.TypeSeason, season.Type)
	assert.Equal(t, 2, season.Index)

	require.NotNil(t, season.ParentID)
	show, err := s.GetMetadataItem(ctx, *season.ParentID)
	require.NoError(t, err)
	assert.Equal(t, media.TypeShow, show.Type)
	assert.Equal(t, "Breaking Bad", show.Title)
	assert.Equal(t, "81189", show.ExternalIDs["tvdb"])

	// Both episodes share the season and show nodes.
	ep2 := resolved[1].Item
	assert.Equal(t, *ep.ParentID, *ep2.ParentID)
}

func TestResolverAlbumGrouping(t *testing.T) {
	s := newTestStore(t)
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/music/OK Computer (1997)/01 - Airbag.flac", 10)
	writeFile(t, fs, "/music/OK Computer (1997)/02 - Paranoid Android.flac", 10)
	sec := newTestSection(t, s, media.LibraryMusic, "/music")

	sc := &media.LibraryScan{ID: "scan-1", SectionID: sec.ID}
	resolved := resolveAll(t, s, sec, collectEvents(t, s, fs, sec, sc))
	require.Len(t, resolved, 2)

	for i, r := range resolved {
		assert.Equal(t, media.TypeTrack, r.Item.Type)
		assert.Equal(t, i+1, r.Item.Index)
		require.NotNil(t, r.Item.ParentID)
	}
	assert.Equal(t, *resolved[0].Item.ParentID, *resolved[1].Item.ParentID)

	album, err := s.GetMetadataItem(context.Background(), *resolved[0].Item.ParentID)
	require.NoError(t, err)
	assert.Equal(t, media.TypeAlbumRelease, album.Type)
	assert.Equal(t, "OK Computer", album.Title)
	assert.Equal(t, 1997, album.Year)
}

func newTestPipeline(s *store.Store, fs afero.Fs) *Pipeline {
	return NewPipeline(s, fs, nil, nil, nil, nil, nil, config.Defaults().Scanner)
}

func TestPipelineFullScan(t *testing.T) {
	s := newTestStore(t)
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/movies/The Matrix (1999).mkv", 10)
	writeFile(t, fs, "/movies/Heat (1995).mkv", 10)
	sec := newTestSection(t, s, media.LibraryMovies, "/movies")

	sc := &media.LibraryScan{ID: "scan-1", SectionID: sec.ID}
	var lastCompleted atomic.Int64
	pl := newTestPipeline(s, fs)
	progress := func(completed, total int) {
		if c := int64(completed); c > lastCompleted.Load() {
			lastCompleted.Store(c)
		}
	}

	require.NoError(t, pl.Run(context.Background(), sc, sec, progress))
	assert.Equal(t, 2, sc.Added)
	assert.EqualValues(t, 2, lastCompleted.Load())

	q := store.SectionChildrenQuery{SectionID: sec.ID, Type: media.TypeMovie, Limit: 10}
	items, total, err := s.ListSectionChildren(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 2)
}

func TestPipelineMicroScanRestrictsPaths(t *testing.T) {
	s := newTestStore(t)
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/movies/a/The Matrix (1999).mkv", 10)
	writeFile(t, fs, "/movies/b/Heat (1995).mkv", 10)
	sec := newTestSection(t, s, media.LibraryMovies, "/movies")

	sc := &media.LibraryScan{ID: "scan-1", SectionID: sec.ID}
	pl := newTestPipeline(s, fs)
	require.NoError(t, pl.RunMicro(context.Background(), sc, sec, []string{"/movies/a"}, nil))
	assert.Equal(t, 1, sc.Added)
}

func waitTerminal(t *testing.T, s *store.Store, id string) *media.LibraryScan {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sc, err := s.GetScan(context.Background(), id)
		require.NoError(t, err)
		if sc.State.Terminal() {
			return sc
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("scan never reached a terminal state")
	return nil
}

func TestManagerScanLifecycle(t *testing.T) {
	s := newTestStore(t)
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/movies/The Matrix (1999).mkv", 10)
	sec := newTestSection(t, s, media.LibraryMovies, "/movies")

	fabric := notify.New(time.Hour)
	m := NewManager(s, newTestPipeline(s, fs), fabric)
	t.Cleanup(m.Shutdown)

	sc, err := m.Start(context.Background(), sec.ID)
	require.NoError(t, err)

	final := waitTerminal(t, s, sc.ID)
	assert.Equal(t, media.ScanCompleted, final.State)

	entries := fabric.Snapshot()
	require.NotEmpty(t, entries)
	assert.Equal(t, media.JobCompleted, entries[0].Status)
}

func TestManagerConcurrentSectionsKeepProgressSeparate(t *testing.T) {
	s := newTestStore(t)
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/movies/The Matrix (1999).mkv", 10)
	writeFile(t, fs, "/movies/Heat (1995).mkv", 10)
	writeFile(t, fs, "/shows/Severance/Season 01/Severance - S01E01.mkv", 10)
	secA := newTestSection(t, s, media.LibraryMovies, "/movies")
	secB := newTestSection(t, s, media.LibraryTvShows, "/shows")

	fabric := notify.New(time.Hour)
	m := NewManager(s, newTestPipeline(s, fs), fabric)
	t.Cleanup(m.Shutdown)

	scA, err := m.Start(context.Background(), secA.ID)
	require.NoError(t, err)
	scB, err := m.Start(context.Background(), secB.ID)
	require.NoError(t, err)

	waitTerminal(t, s, scA.ID)
	waitTerminal(t, s, scB.ID)

	// Each section's fabric entry must carry its own counts; the movie
	// section never sees the show section's totals or vice versa.
	bySection := map[int64]media.JobNotificationEntry{}
	for _, e := range fabric.Snapshot() {
		if e.JobType == media.JobScan {
			bySection[e.SectionID] = e
		}
	}
	require.Contains(t, bySection, secA.ID)
	require.Contains(t, bySection, secB.ID)
	assert.Equal(t, media.JobCompleted, bySection[secA.ID].Status)
	assert.Equal(t, media.JobCompleted, bySection[secB.ID].Status)
	assert.Equal(t, 2, bySection[secA.ID].Completed)
	assert.Equal(t, 1, bySection[secB.ID].Completed)
}

func TestManagerCancelQueuedScan(t *testing.T) {
	s := newTestStore(t)
	sec := newTestSection(t, s, media.LibraryMovies, "/movies")

	sc, err := s.CreateScan(context.Background(), sec.ID)
	require.NoError(t, err)

	m := NewManager(s, newTestPipeline(s, afero.NewMemMapFs()), notify.New(time.Hour))
	t.Cleanup(m.Shutdown)
	require.NoError(t, m.Cancel(context.Background(), sc.ID))

	got, err := s.GetScan(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.Equal(t, media.ScanCancelled, got.State)
}

func TestManagerRejectsConcurrentScan(t *testing.T) {
	s := newTestStore(t)
	sec := newTestSection(t, s, media.LibraryMovies, "/movies")

	// A queued scan row is enough to block a second start.
	_, err := s.CreateScan(context.Background(), sec.ID)
	require.NoError(t, err)

	m := NewManager(s, newTestPipeline(s, afero.NewMemMapFs()), notify.New(time.Hour))
	t.Cleanup(m.Shutdown)
	_, err = m.Start(context.Background(), sec.ID)
	require.Error(t, err)
}
