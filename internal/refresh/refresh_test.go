// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package refresh

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/nexa/internal/agents"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
)

func strp(s string) *string { return &s }
func intp(n int) *int       { return &n }

func TestMergeFirstOpinionWins(t *testing.T) {
	item := &media.MetadataItem{Title: "old", Type: media.TypeMovie}
	outcomes := []agents.Outcome{
		{Result: &agents.Result{Title: strp("first"), Year: intp(1999)}},
		{Result: &agents.Result{Title: strp("second"), Summary: strp("plot")}},
	}
	out := Merge(item, outcomes, nil)
	assert.True(t, out.Changed)
	assert.Equal(t, "first", item.Title)
	assert.Equal(t, 1999, item.Year)
	assert.Equal(t, "plot", item.Summary)
}

func TestMergeSkipsFailedAgents(t *testing.T) {
	item := &media.MetadataItem{Type: media.TypeMovie}
	outcomes := []agents.Outcome{
		{Err: assert.AnError},
		{Result: &agents.Result{Title: strp("b-title")}},
	}
	Merge(item, outcomes, nil)
	assert.Equal(t, "b-title", item.Title)
}

func TestMergeRespectsLockedFields(t *testing.T) {
	item := &media.MetadataItem{
		Title:        "curated",
		Summary:      "curated summary",
		LockedFields: []string{FieldTitle, FieldSummary},
	}
	outcomes := []agents.Outcome{
		{Result: &agents.Result{Title: strp("agent"), Summary: strp("agent summary")}},
	}

	out := Merge(item, outcomes, nil)
	assert.False(t, out.Changed)
	assert.Equal(t, "curated", item.Title)

	out = Merge(item, outcomes, []string{FieldTitle})
	assert.True(t, out.Changed)
	assert.Equal(t, "agent", item.Title)
	assert.Equal(t, "curated summary", item.Summary)
}

func TestMergeAccumulatesExternalIDs(t *testing.T) {
	item := &media.MetadataItem{ExternalIDs: map[string]string{"tmdb": "603"}}
	outcomes := []agents.Outcome{
		{Result: &agents.Result{ExternalIDs: map[string]string{"tmdb": "999", "imdb": "tt0133093"}}},
	}
	Merge(item, outcomes, nil)
	// Existing ids stay stable; new providers are added.
	assert.Equal(t, "603", item.ExternalIDs["tmdb"])
	assert.Equal(t, "tt0133093", item.ExternalIDs["imdb"])
}

func TestMergeDerivesSortTitle(t *testing.T) {
	item := &media.MetadataItem{}
	outcomes := []agents.Outcome{
		{Result: &agents.Result{Title: strp("The Matrix")}},
	}
	Merge(item, outcomes, nil)
	assert.Equal(t, "matrix", item.SortTitle)
}

func TestMergeCreditsFromFirstProvider(t *testing.T) {
	item := &media.MetadataItem{}
	outcomes := []agents.Outcome{
		{Result: &agents.Result{People: []agents.PersonCredit{{Name: "Keanu Reeves"}}}},
		{Result: &agents.Result{People: []agents.PersonCredit{{Name: "Someone Else"}}}},
	}
	out := Merge(item, outcomes, nil)
	require.Len(t, out.People, 1)
	assert.Equal(t, "Keanu Reeves", out.People[0].Name)
}

type fixedAgent struct {
	name   string
	result *agents.Result
	images []agents.ImageCandidate
	calls  int
}

func (f *fixedAgent) Name() string                    { return f.name }
func (f *fixedAgent) Category() agents.Category       { return agents.CategoryLocal }
func (f *fixedAgent) AppliesTo() []media.MetadataType { return []media.MetadataType{media.TypeMovie} }
func (f *fixedAgent) Fetch(_ context.Context, _ agents.Request) (*agents.Result, error) {
	f.calls++
	return f.result, nil
}
func (f *fixedAgent) ProvideImages(_ context.Context, _ agents.Request) ([]agents.ImageCandidate, error) {
	return f.images, nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store, *media.MetadataItem) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "nexa.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	sec := &media.LibrarySection{Name: "Movies", Type: media.LibraryMovies}
	require.NoError(t, s.CreateSection(ctx, sec))
	item := &media.MetadataItem{SectionID: sec.ID, Type: media.TypeMovie, Title: "matrix"}
	require.NoError(t, s.CreateMetadataItem(ctx, nil, item))

	reg := agents.NewRegistry()
	reg.Register(&fixedAgent{
		name: "fixture",
		result: &agents.Result{
			Title:   strp("The Matrix"),
			Year:    intp(1999),
			Summary: strp("A hacker learns the truth."),
		},
		images: []agents.ImageCandidate{{Role: agents.RolePoster, URI: "file:///poster.jpg", Score: 10, Source: "fixture"}},
	}, "Fixture", "")

	o := NewOrchestrator(s, agents.NewFanout(reg, 3), nil, nil, nil, nil)
	return o, s, item
}

func TestRefreshMergesAndPersists(t *testing.T) {
	o, s, item := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, o.Refresh(ctx, item.UUID, Options{SkipAnalysis: true}))

	got, err := s.GetMetadataItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", got.Title)
	assert.Equal(t, 1999, got.Year)
	assert.Equal(t, "file:///poster.jpg", got.ThumbURI)
	assert.NotEmpty(t, got.ThumbHash)
}

func TestRefreshIsIdempotent(t *testing.T) {
	o, s, item := newTestOrchestrator(t)
	ctx := context.Background()

	require.NoError(t, o.Refresh(ctx, item.UUID, Options{SkipAnalysis: true}))
	first, err := s.GetMetadataItem(ctx, item.ID)
	require.NoError(t, err)

	require.NoError(t, o.Refresh(ctx, item.UUID, Options{SkipAnalysis: true}))
	second, err := s.GetMetadataItem(ctx, item.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Title, second.Title)
	assert.Equal(t, first.ThumbURI, second.ThumbURI)
	assert.Equal(t, first.ThumbHash, second.ThumbHash)
}

func TestRefreshUnknownItem(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	err := o.Refresh(context.Background(), "no-such-uuid", Options{})
	require.Error(t, err)
}
