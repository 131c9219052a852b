// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package agents

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/nexa/internal/config"
	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/media"
)

type fakeAgent struct {
	name     string
	category Category
	types    []media.MetadataType
	result   *Result
	err      error
	calls    atomic.Int32
}

func (f *fakeAgent) Name() string                    { return f.name }
func (f *fakeAgent) Category() Category              { return f.category }
func (f *fakeAgent) AppliesTo() []media.MetadataType { return f.types }

func (f *fakeAgent) Fetch(context.Context, Request) (*Result, error) {
	f.calls.Add(1)
	return f.result, f.err
}

func movieTypes() []media.MetadataType { return []media.MetadataType{media.TypeMovie} }

func TestRegistryDispatchOrder(t *testing.T) {
	r := NewRegistry()
	remote := &fakeAgent{name: "moviedb", category: CategoryRemote, types: movieTypes()}
	sidecar := &fakeAgent{name: "sidecar", category: CategorySidecar, types: movieTypes()}
	embedded := &fakeAgent{name: "embedded", category: CategoryEmbedded, types: movieTypes()}
	r.Register(remote, "MovieDB", "")
	r.Register(sidecar, "Sidecar", "")
	r.Register(embedded, "Embedded", "")

	// No configured order: sidecar, then embedded, then remote.
	got := r.ForItem(media.TypeMovie, nil)
	require.Len(t, got, 3)
	require.Equal(t, "sidecar", got[0].Name())
	require.Equal(t, "embedded", got[1].Name())
	require.Equal(t, "moviedb", got[2].Name())

	// Configured order wins; unknown names are skipped.
	got = r.ForItem(media.TypeMovie, []string{"moviedb", "missing", "sidecar"})
	require.Equal(t, "moviedb", got[0].Name())
	require.Equal(t, "sidecar", got[1].Name())
	require.Equal(t, "embedded", got[2].Name())

	// Type filter applies.
	require.Empty(t, r.ForItem(media.TypeTrack, nil))
}

func TestFanoutContinuesPastFailure(t *testing.T) {
	r := NewRegistry()
	broken := &fakeAgent{name: "broken", category: CategorySidecar, types: movieTypes(),
		err: errors.New("parse failure")}
	title := "From Agent"
	working := &fakeAgent{name: "working", category: CategoryRemote, types: movieTypes(),
		result: &Result{Title: &title}}
	r.Register(broken, "Broken", "")
	r.Register(working, "Working", "")

	f := NewFanout(r, 3)
	item := &media.MetadataItem{ID: 1, Type: media.TypeMovie}
	outcomes, err := f.Fetch(context.Background(), Request{Item: item}, nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.Error(t, outcomes[0].Err)
	require.NoError(t, outcomes[1].Err)
	require.Equal(t, "From Agent", *outcomes[1].Result.Title)
	require.EqualValues(t, 1, working.calls.Load())
}

func TestClientRetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"title":"Heat"}`))
	}))
	defer srv.Close()

	f := NewFactory(config.AgentsConfig{
		Timeout: 0,
		Overrides: map[string]config.AgentOverride{
			"test": {RatePerSec: 1000, Burst: 10},
		},
	})
	// httptest binds loopback, which the default policy blocks.
	f.policy.AllowHTTP = true
	f.policy.AllowPrivate = true

	var out struct {
		Title string `json:"title"`
	}
	c := f.ClientFor("test")
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))
	require.Equal(t, "Heat", out.Title)
	require.EqualValues(t, 3, hits.Load())
}

func TestClient4xxTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFactory(config.AgentsConfig{})
	f.policy.AllowHTTP = true
	f.policy.AllowPrivate = true

	err := f.ClientFor("test").GetJSON(context.Background(), srv.URL, &struct{}{})
	require.True(t, errdef.IsKind(err, errdef.KindNotFound))
	require.EqualValues(t, 1, hits.Load(), "4xx must not retry")
}

func TestSidecarNFO(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/lib/Heat (1995).nfo", []byte(`
	<movie>
		<title>Heat</title>
		<year>1995</year>
		<plot>A crew of thieves.</plot>
		<mpaa>R</mpaa>
		<genre>Crime</genre>
		<genre>Thriller</genre>
		<uniqueid type="tmdb">949</uniqueid>
		<actor><name>Al Pacino</name><role>Vincent Hanna</role><order>0</order></actor>
		<director>Michael Mann</director>
	</movie>`), 0o644))

	a := NewSidecarAgent(fs)
	res, err := a.Fetch(context.Background(), Request{
		Item: &media.MetadataItem{Type: media.TypeMovie},
		Media: &media.MediaItem{Parts: []media.MediaPart{
			{Path: "/lib/Heat (1995).mkv"},
		}},
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, "Heat", *res.Title)
	require.Equal(t, 1995, *res.Year)
	require.Equal(t, "949", res.ExternalIDs["tmdb"])
	require.Equal(t, []string{"Crime", "Thriller"}, res.Genres)
	require.Len(t, res.People, 2)
	require.Equal(t, media.RelActor, res.People[0].Relation)
	require.Equal(t, media.RelDirector, res.People[1].Relation)
}

func TestSidecarCorruptIsArtifactCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/lib/x.metadata.json", []byte("{nope"), 0o644))

	a := NewSidecarAgent(fs)
	_, err := a.Fetch(context.Background(), Request{
		Item: &media.MetadataItem{Type: media.TypeMovie},
		Media: &media.MediaItem{Parts: []media.MediaPart{
			{Path: "/lib/x.mkv"},
		}},
	})
	require.True(t, errdef.IsKind(err, errdef.KindArtifactCorrupt))
}

func TestSidecarMissingIsNoOpinion(t *testing.T) {
	a := NewSidecarAgent(afero.NewMemMapFs())
	res, err := a.Fetch(context.Background(), Request{
		Item: &media.MetadataItem{Type: media.TypeMovie},
		Media: &media.MediaItem{Parts: []media.MediaPart{
			{Path: "/lib/x.mkv"},
		}},
	})
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestEmbeddedAgentFilename(t *testing.T) {
	a := NewEmbeddedAgent()
	res, err := a.Fetch(context.Background(), Request{
		Item: &media.MetadataItem{Type: media.TypeMovie},
		Media: &media.MediaItem{
			DurationMs: 170_000,
			Parts:      []media.MediaPart{{Path: "/lib/Heat.1995.Remux (1995).mkv"}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1995, *res.Year)
	require.Equal(t, "Heat 1995 Remux", *res.Title)
	require.EqualValues(t, 170_000, *res.DurationMs)
}

func TestSelectImagesPrecedence(t *testing.T) {
	winners := SelectImages([]ImageCandidate{
		{Role: RolePoster, URI: "remote-a", Source: CategoryRemote, Score: 9},
		{Role: RolePoster, URI: "local", Source: CategorySidecar, Score: 0.1},
		{Role: RoleBackdrop, URI: "remote-b", Source: CategoryRemote, Score: 1},
		{Role: RoleBackdrop, URI: "remote-c", Source: CategoryRemote, Score: 2},
	})
	require.Equal(t, "local", winners[RolePoster].URI)
	require.Equal(t, "remote-c", winners[RoleBackdrop].URI)
}
