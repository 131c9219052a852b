// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package credits

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ManuGH/nexa/internal/agents"
	"github.com/ManuGH/nexa/internal/dedup"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
)

func setup(t *testing.T) (*Service, *store.Store, *media.MetadataItem) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "nexa.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	sec := &media.LibrarySection{Name: "Movies", Type: media.LibraryMovies}
	require.NoError(t, st.CreateSection(ctx, sec))
	item := &media.MetadataItem{SectionID: sec.ID, Type: media.TypeMovie, Title: "Heat"}
	require.NoError(t, st.CreateMetadataItem(ctx, nil, item))

	return New(st, dedup.New(st)), st, item
}

func TestApplyWritesOrderedCast(t *testing.T) {
	svc, st, item := setup(t)
	ctx := context.Background()

	people := []agents.PersonCredit{
		{Name: "Robert De Niro", Role: "Neil McCauley", Relation: media.RelActor, Ordering: 1,
			ExternalIDs: map[string]string{"tmdb": "380"}},
		{Name: "Al Pacino", Role: "Vincent Hanna", Relation: media.RelActor, Ordering: 0,
			ExternalIDs: map[string]string{"tmdb": "1158"}},
		{Name: "Michael Mann", Relation: media.RelDirector, Ordering: 0,
			ExternalIDs: map[string]string{"tmdb": "638"}},
	}
	require.NoError(t, svc.Apply(ctx, item, people, nil))

	cast, err := st.ListRelations(ctx, item.ID, media.RelActor)
	require.NoError(t, err)
	require.Len(t, cast, 2)
	require.Equal(t, "Vincent Hanna", cast[0].Role)
	require.Equal(t, "Neil McCauley", cast[1].Role)

	directors, err := st.ListRelations(ctx, item.ID, media.RelDirector)
	require.NoError(t, err)
	require.Len(t, directors, 1)

	director, err := st.GetMetadataItem(ctx, directors[0].ToID)
	require.NoError(t, err)
	require.Equal(t, media.TypePerson, director.Type)
	require.Equal(t, "Michael Mann", director.Title)
}

func TestApplyDedupsPeopleAcrossItems(t *testing.T) {
	svc, st, item := setup(t)
	ctx := context.Background()

	second := &media.MetadataItem{SectionID: item.SectionID, Type: media.TypeMovie, Title: "The Irishman"}
	require.NoError(t, st.CreateMetadataItem(ctx, nil, second))

	credit := []agents.PersonCredit{{
		Name: "Robert De Niro", Relation: media.RelActor,
		ExternalIDs: map[string]string{"tmdb": "380"},
	}}
	require.NoError(t, svc.Apply(ctx, item, credit, nil))
	require.NoError(t, svc.Apply(ctx, second, credit, nil))

	a, err := st.ListRelations(ctx, item.ID, media.RelActor)
	require.NoError(t, err)
	b, err := st.ListRelations(ctx, second.ID, media.RelActor)
	require.NoError(t, err)
	require.Equal(t, a[0].ToID, b[0].ToID)
}

func TestApplyFallbackByNameAndBirthYear(t *testing.T) {
	svc, st, item := setup(t)
	ctx := context.Background()

	// Two homonyms with distinct birth years stay apart.
	people := []agents.PersonCredit{
		{Name: "John Smith", BirthYear: 1960, Relation: media.RelWriter, Ordering: 0},
		{Name: "John Smith", BirthYear: 1982, Relation: media.RelWriter, Ordering: 1},
	}
	require.NoError(t, svc.Apply(ctx, item, people, nil))

	writers, err := st.ListRelations(ctx, item.ID, media.RelWriter)
	require.NoError(t, err)
	require.Len(t, writers, 2)
	require.NotEqual(t, writers[0].ToID, writers[1].ToID)

	// The same name and year resolves to the existing row.
	again := []agents.PersonCredit{{Name: "John Smith", BirthYear: 1960, Relation: media.RelWriter}}
	require.NoError(t, svc.Apply(ctx, item, again, nil))
	writers, err = st.ListRelations(ctx, item.ID, media.RelWriter)
	require.NoError(t, err)
	require.Len(t, writers, 1)
	require.Equal(t, 1960, mustGet(t, st, writers[0].ToID).Year)
}

func TestApplyGroups(t *testing.T) {
	svc, st, item := setup(t)
	ctx := context.Background()

	groups := []agents.GroupCredit{{
		Name: "The Heat Ensemble", Relation: media.RelBandMember,
		ExternalIDs: map[string]string{"musicbrainz": "abc"},
	}}
	require.NoError(t, svc.Apply(ctx, item, nil, groups))

	rels, err := st.ListRelations(ctx, item.ID, media.RelBandMember)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	require.Equal(t, media.TypeGroup, mustGet(t, st, rels[0].ToID).Type)
}

func mustGet(t *testing.T, st *store.Store, id int64) *media.MetadataItem {
	t.Helper()
	item, err := st.GetMetadataItem(context.Background(), id)
	require.NoError(t, err)
	return item
}
