// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/media"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nexa.db"), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestSection(t *testing.T, s *Store) *media.LibrarySection {
	t.Helper()
	sec := &media.LibrarySection{Name: "Movies", Type: media.LibraryMovies}
	require.NoError(t, s.CreateSection(context.Background(), sec))
	return sec
}

func TestMetadataItemRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sec := newTestSection(t, s)

	item := &media.MetadataItem{
		SectionID:   sec.ID,
		Type:        media.TypeMovie,
		Title:       "The Matrix",
		Year:        1999,
		Genres:      []string{"sci-fi", "action"},
		ExternalIDs: map[string]string{"tmdb": "603"},
		Extra:       map[string]string{"edition": "theatrical"},
	}
	require.NoError(t, s.CreateMetadataItem(ctx, nil, item))
	require.NotZero(t, item.ID)
	require.NotEmpty(t, item.UUID)
	require.Equal(t, "matrix", item.SortTitle)

	got, err := s.GetMetadataItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, "The Matrix", got.Title)
	require.Equal(t, []string{"sci-fi", "action"}, got.Genres)
	require.Equal(t, "603", got.ExternalIDs["tmdb"])
	require.Equal(t, "theatrical", got.Extra["edition"])

	byUUID, err := s.GetMetadataItemByUUID(ctx, item.UUID)
	require.NoError(t, err)
	require.Equal(t, item.ID, byUUID.ID)

	got.Summary = "A hacker learns the truth."
	got.LockedFields = []string{"summary"}
	require.NoError(t, s.UpdateMetadataItem(ctx, got))

	again, err := s.GetMetadataItem(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, "A hacker learns the truth.", again.Summary)
	require.True(t, again.Locked("summary"))

	_, err = s.GetMetadataItem(ctx, 9999)
	require.True(t, errdef.IsKind(err, errdef.KindNotFound))
}

func TestFindByExternalID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sec := newTestSection(t, s)

	first := &media.MetadataItem{
		SectionID:   sec.ID,
		Type:        media.TypeMovie,
		Title:       "Heat",
		ExternalIDs: map[string]string{"imdb": "tt0113277"},
	}
	require.NoError(t, s.CreateMetadataItem(ctx, nil, first))

	got, err := s.FindByExternalID(ctx, sec.ID, media.TypeMovie, "imdb", "tt0113277")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, first.ID, got.ID)

	// Unknown id resolves to nil, not an error.
	got, err = s.FindByExternalID(ctx, sec.ID, media.TypeMovie, "imdb", "tt0000000")
	require.NoError(t, err)
	require.Nil(t, got)

	// Type mismatch does not resolve.
	got, err = s.FindByExternalID(ctx, sec.ID, media.TypeShow, "imdb", "tt0113277")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSectionChildrenFiltering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sec := newTestSection(t, s)

	for _, title := range []string{"Alien", "Blade Runner", "2001: A Space Odyssey"} {
		item := &media.MetadataItem{SectionID: sec.ID, Type: media.TypeMovie, Title: title}
		require.NoError(t, s.CreateMetadataItem(ctx, nil, item))
	}

	all, total, err := s.ListSectionChildren(ctx, SectionChildrenQuery{
		SectionID: sec.ID, Type: media.TypeMovie, Limit: 10,
	})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, all, 3)

	nonAlpha, _, err := s.ListSectionChildren(ctx, SectionChildrenQuery{
		SectionID: sec.ID, Type: media.TypeMovie, Letter: "#", Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, nonAlpha, 1)
	require.Equal(t, "2001: A Space Odyssey", nonAlpha[0].Title)

	b, _, err := s.ListSectionChildren(ctx, SectionChildrenQuery{
		SectionID: sec.ID, Type: media.TypeMovie, Letter: "b", Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, b, 1)
	require.Equal(t, "Blade Runner", b[0].Title)
}

func TestRelationsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sec := newTestSection(t, s)

	movie := &media.MetadataItem{SectionID: sec.ID, Type: media.TypeMovie, Title: "Heat"}
	require.NoError(t, s.CreateMetadataItem(ctx, nil, movie))
	var people []int64
	for _, name := range []string{"Al Pacino", "Robert De Niro", "Val Kilmer"} {
		p := &media.MetadataItem{SectionID: sec.ID, Type: media.TypePerson, Title: name}
		require.NoError(t, s.CreateMetadataItem(ctx, nil, p))
		people = append(people, p.ID)
	}

	rels := []media.MetadataRelation{
		{ToID: people[1], Ordering: 1, Role: "Neil McCauley"},
		{ToID: people[0], Ordering: 0, Role: "Vincent Hanna"},
		{ToID: people[2], Ordering: 2, Role: "Chris Shiherlis"},
	}
	require.NoError(t, s.ReplaceRelations(ctx, movie.ID, media.RelActor, rels))

	got, err := s.ListRelations(ctx, movie.ID, media.RelActor)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, people[0], got[0].ToID)
	require.Equal(t, "Vincent Hanna", got[0].Role)
	require.Equal(t, people[2], got[2].ToID)

	// Replace shrinks the set.
	require.NoError(t, s.ReplaceRelations(ctx, movie.ID, media.RelActor, rels[:1]))
	got, err = s.ListRelations(ctx, movie.ID, media.RelActor)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestScanLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sec := newTestSection(t, s)

	sc, err := s.CreateScan(ctx, sec.ID)
	require.NoError(t, err)
	require.Equal(t, media.ScanQueued, sc.State)

	active, err := s.ActiveScan(ctx, sec.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, sc.ID, active.ID)

	require.NoError(t, s.SetScanState(ctx, sc.ID, media.ScanRunning, ""))

	sc.Added = 10
	sc.Checkpoint = &media.Checkpoint{CursorDirectoryID: 42, ProcessedFiles: 100, Added: 10}
	require.NoError(t, s.SaveScanProgress(ctx, nil, sc))

	resumable, err := s.ListResumableScans(ctx)
	require.NoError(t, err)
	require.Len(t, resumable, 1)
	require.NotNil(t, resumable[0].Checkpoint)
	require.Equal(t, int64(42), resumable[0].Checkpoint.CursorDirectoryID)
	require.True(t, resumable[0].Resumable())

	require.NoError(t, s.SetScanState(ctx, sc.ID, media.ScanCompleted, ""))

	// Terminal states are final.
	err = s.SetScanState(ctx, sc.ID, media.ScanCancelled, "")
	require.True(t, errdef.IsKind(err, errdef.KindConflict))

	got, err := s.GetScan(ctx, sc.ID)
	require.NoError(t, err)
	require.Equal(t, media.ScanCompleted, got.State)
	require.NotNil(t, got.FinishedAt)

	active, err = s.ActiveScan(ctx, sec.ID)
	require.NoError(t, err)
	require.Nil(t, active)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sec := newTestSection(t, s)
	item := &media.MetadataItem{SectionID: sec.ID, Type: media.TypeMovie, Title: "Heat"}
	require.NoError(t, s.CreateMetadataItem(ctx, nil, item))

	ps := &media.PlaybackSession{UserID: "u1", ItemID: item.ID, CapabilityVersion: 3}
	require.NoError(t, s.CreateSession(ctx, ps))
	require.Equal(t, media.SessionPreparing, ps.State)

	ps.Plan = &media.StreamPlan{Mode: media.ModeDirectPlay}
	ps.State = media.SessionPlaying
	require.NoError(t, s.UpdateSession(ctx, ps))

	got, err := s.GetSession(ctx, ps.UUID)
	require.NoError(t, err)
	require.NotNil(t, got.Plan)
	require.Equal(t, media.ModeDirectPlay, got.Plan.Mode)

	require.NoError(t, s.TouchSession(ctx, ps.UUID, 90_000, media.SessionPaused))
	got, err = s.GetSession(ctx, ps.UUID)
	require.NoError(t, err)
	require.Equal(t, int64(90_000), got.PlayheadMs)
	require.Equal(t, media.SessionPaused, got.State)

	expired, err := s.ListExpiredSessions(ctx, time.Nanosecond)
	require.NoError(t, err)
	require.Len(t, expired, 1)

	require.NoError(t, s.DeleteSession(ctx, ps.UUID))
	_, err = s.GetSession(ctx, ps.UUID)
	require.True(t, errdef.IsKind(err, errdef.KindNotFound))
}

func TestCapabilityProfileVersionBump(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	caps := media.Caps{Containers: []string{"mp4"}, VideoCodecs: []string{"h264"}}
	cp, err := s.UpsertCapabilityProfile(ctx, "u1", "tv", caps)
	require.NoError(t, err)
	require.Equal(t, 1, cp.Version)

	caps.VideoCodecs = append(caps.VideoCodecs, "hevc")
	cp, err = s.UpsertCapabilityProfile(ctx, "u1", "tv", caps)
	require.NoError(t, err)
	require.Equal(t, 2, cp.Version)
	require.Contains(t, cp.Profile.VideoCodecs, "hevc")
}

func TestTranscodeProgressMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sec := newTestSection(t, s)
	item := &media.MetadataItem{SectionID: sec.ID, Type: media.TypeMovie, Title: "Heat"}
	require.NoError(t, s.CreateMetadataItem(ctx, nil, item))
	ps := &media.PlaybackSession{ItemID: item.ID}
	require.NoError(t, s.CreateSession(ctx, ps))

	j := &media.TranscodeJob{SessionID: ps.ID, MediaPartID: 1, Protocol: media.ProtocolHLS, OutputPath: "/tmp/out"}
	require.NoError(t, s.CreateTranscodeJob(ctx, j))
	require.Equal(t, -1, j.LastSegmentIndex)

	require.NoError(t, s.SetTranscodeState(ctx, j.UUID, media.TranscodeRunning, 1234, ""))
	require.NoError(t, s.SaveTranscodeProgress(ctx, j.UUID, 0.5, 10))
	// A late out-of-order report never regresses either value.
	require.NoError(t, s.SaveTranscodeProgress(ctx, j.UUID, 0.3, 4))

	got, err := s.GetTranscodeJob(ctx, j.UUID)
	require.NoError(t, err)
	require.Equal(t, 0.5, got.Progress)
	require.Equal(t, 10, got.LastSegmentIndex)

	require.NoError(t, s.SetTranscodeState(ctx, j.UUID, media.TranscodeCompleted, 0, ""))
	err = s.SetTranscodeState(ctx, j.UUID, media.TranscodeRunning, 0, "")
	require.True(t, errdef.IsKind(err, errdef.KindConflict))
}

func TestPlaylistEntriesSparse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sec := newTestSection(t, s)
	item := &media.MetadataItem{SectionID: sec.ID, Type: media.TypeMovie, Title: "Heat"}
	require.NoError(t, s.CreateMetadataItem(ctx, nil, item))
	ps := &media.PlaybackSession{ItemID: item.ID}
	require.NoError(t, s.CreateSession(ctx, ps))

	g := &media.PlaylistGenerator{
		UUID: "gen-1", SessionID: ps.ID,
		SeedType: media.SeedLibrary, TotalCount: 100,
	}
	require.NoError(t, s.CreateGenerator(ctx, g))

	// Materialize only the first chunk.
	var chunk []media.PlaylistEntry
	for i := 0; i < 20; i++ {
		chunk = append(chunk, media.PlaylistEntry{Index: i, ItemID: item.ID, Title: "Heat"})
	}
	require.NoError(t, s.PutEntries(ctx, g.UUID, chunk))

	e, err := s.GetEntry(ctx, g.UUID, 5)
	require.NoError(t, err)
	require.NotNil(t, e)

	// Positions beyond the materialized chunk are nil, not errors.
	e, err = s.GetEntry(ctx, g.UUID, 50)
	require.NoError(t, err)
	require.Nil(t, e)

	window, err := s.ListEntries(ctx, g.UUID, 15, 30)
	require.NoError(t, err)
	require.Len(t, window, 5)

	require.NoError(t, s.MarkServed(ctx, g.UUID, 0))
	e, err = s.GetEntry(ctx, g.UUID, 0)
	require.NoError(t, err)
	require.True(t, e.Served)
}

func TestNotificationsFlushLoadPurge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	entries := []media.JobNotificationEntry{
		{SectionID: 1, JobType: media.JobScan, Epoch: 2, Total: 100, Completed: 40,
			Status: media.JobRunning, LastUpdate: time.Now()},
		{SectionID: 2, JobType: media.JobTrickplay, Epoch: 1, Total: 10, Completed: 10,
			Status: media.JobCompleted, LastUpdate: old},
	}
	require.NoError(t, s.FlushNotifications(ctx, entries))

	loaded, err := s.LoadNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	require.NoError(t, s.PurgeNotifications(ctx, 24*time.Hour))
	loaded, err = s.LoadNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, media.JobScan, loaded[0].JobType)
}

func TestCurationRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hc := &media.HubConfiguration{
		Context: media.HubHome,
		Enabled: []string{"continue_watching", "recently_added"},
		Hidden:  []string{"future_hub_type"},
	}
	require.NoError(t, s.SaveHubConfiguration(ctx, hc))
	require.NotZero(t, hc.ID)

	got, err := s.GetHubConfiguration(ctx, media.HubHome, 0, "")
	require.NoError(t, err)
	require.NotNil(t, got)
	// Unknown hub types survive the round trip.
	require.Equal(t, []string{"future_hub_type"}, got.Hidden)

	missing, err := s.GetHubConfiguration(ctx, media.HubItemDetail, 0, media.TypeMovie)
	require.NoError(t, err)
	require.Nil(t, missing)

	f := &media.CustomFieldDefinition{
		Key: "edition", Label: "Edition", Widget: media.WidgetBadge,
		AppliesTo: []media.MetadataType{media.TypeMovie}, Enabled: true,
	}
	require.NoError(t, s.SaveCustomField(ctx, f))
	fields, err := s.ListCustomFields(ctx)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	require.Equal(t, media.WidgetBadge, fields[0].Widget)
	require.NoError(t, s.DeleteCustomField(ctx, "edition"))

	dc := &media.DetailFieldConfiguration{
		MetadataType:     media.TypeMovie,
		DisabledBuiltins: []string{"tagline"},
		Groups:           []media.FieldGroup{{Key: "main", Title: "Details", Layout: media.GroupVertical}},
		Assignments:      map[string]string{"studio": "main"},
	}
	require.NoError(t, s.SaveDetailFieldConfiguration(ctx, dc))

	gotDC, err := s.GetDetailFieldConfiguration(ctx, media.TypeMovie, 0)
	require.NoError(t, err)
	require.NotNil(t, gotDC)
	require.Equal(t, []string{"tagline"}, gotDC.DisabledBuiltins)
	require.Equal(t, "main", gotDC.Assignments["studio"])

	require.NoError(t, s.ResetDetailFieldConfiguration(ctx, media.TypeMovie, 0))
	gotDC, err = s.GetDetailFieldConfiguration(ctx, media.TypeMovie, 0)
	require.NoError(t, err)
	require.Nil(t, gotDC)
}
