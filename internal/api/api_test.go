// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/nexa/internal/artifacts/gop"
	"github.com/ManuGH/nexa/internal/config"
	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/fields"
	"github.com/ManuGH/nexa/internal/health"
	"github.com/ManuGH/nexa/internal/hubs"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
	"github.com/ManuGH/nexa/internal/notify"
	"github.com/ManuGH/nexa/internal/playback"
	"github.com/ManuGH/nexa/internal/playlist"
	"github.com/ManuGH/nexa/internal/settings"
	"github.com/ManuGH/nexa/internal/transcode"
)

const testToken = "secret"

type apiFixture struct {
	srv   *httptest.Server
	store *store.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "nexa.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	set, err := settings.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = set.Close() })

	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.CacheDir = t.TempDir()
	cfg.Server.APIToken = testToken

	trans := transcode.NewManager(st, cfg.Transcode)
	playlists := playlist.New(st, cfg.Playback.PlaylistChunkSize)
	orch := playback.New(st, playlists, gop.NewStore(cfg.CacheDir), trans, cfg.Playback)

	srv := NewServer(Deps{
		Config:     cfg,
		Store:      st,
		Hubs:       hubs.New(st, nil, cfg.Hubs.CacheTTL, cfg.Hubs.PageSize),
		Fields:     fields.New(st),
		Playback:   orch,
		Playlists:  playlists,
		Transcodes: trans,
		Items:      notify.NewItemHub(),
		Settings:   set,
		Health:     health.NewRegistry("test"),
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &apiFixture{srv: ts, store: st}
}

// do issues an authenticated request and decodes the JSON response body.
func (f *apiFixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp.StatusCode, out
}

func TestAuthRejectsMissingAndWrongToken(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := http.Get(f.srv.URL + "/api/v1/sections")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/v1/sections", nil)
	req.Header.Set("Authorization", "Bearer nope")
	resp, err = f.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthFailsClosedWithoutConfiguredToken(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "nexa.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Defaults()
	cfg.Server.APIToken = ""
	srv := NewServer(Deps{Config: cfg, Store: st})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/sections", nil)
	req.Header.Set("Authorization", "Bearer anything")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestQueryTokenRejectedOnCommandSurface(t *testing.T) {
	f := newAPIFixture(t)
	resp, err := http.Get(f.srv.URL + "/api/v1/sections?token=" + testToken)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthBypassesAuth(t *testing.T) {
	f := newAPIFixture(t)
	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAddSectionValidation(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/v1/sections", map[string]any{
		"name": "Movies", "type": "movie",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, string(errdef.KindInvalidInput), body["kind"])

	code, body = f.do(t, http.MethodPost, "/api/v1/sections", map[string]any{
		"name": "Movies", "type": "movie", "paths": []string{"relative/path"},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "absolute")
}

func TestSectionLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	root := t.TempDir()

	code, body := f.do(t, http.MethodPost, "/api/v1/sections", map[string]any{
		"name": "Movies", "type": "movie", "paths": []string{root},
	})
	require.Equal(t, http.StatusCreated, code)
	lib := body["library"].(map[string]any)
	uuid := lib["uuid"].(string)
	require.NotEmpty(t, uuid)

	code, body = f.do(t, http.MethodGet, "/api/v1/sections", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["sections"], 1)

	code, _ = f.do(t, http.MethodDelete, "/api/v1/sections/"+uuid, nil)
	require.Equal(t, http.StatusOK, code)

	code, body = f.do(t, http.MethodGet, "/api/v1/sections", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["sections"])
}

func TestItemDetailNotFoundShape(t *testing.T) {
	f := newAPIFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/v1/items/no-such-uuid", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, string(errdef.KindNotFound), body["kind"])
	assert.Equal(t, false, body["retryable"])
}

func TestSectionChildrenPagination(t *testing.T) {
	f := newAPIFixture(t)
	ctx := t.Context()

	sec := &media.LibrarySection{
		Name: "Movies", Type: media.LibraryMovies,
		Locations: []media.SectionLocation{{RootPath: "/movies", Available: true}},
	}
	require.NoError(t, f.store.CreateSection(ctx, sec))
	for _, title := range []string{"Alien", "Blade Runner", "Casablanca"} {
		item := &media.MetadataItem{SectionID: sec.ID, Type: media.TypeMovie, Title: title}
		require.NoError(t, f.store.CreateMetadataItem(ctx, nil, item))
	}

	code, body := f.do(t, http.MethodGet,
		"/api/v1/sections/"+itoa(sec.ID)+"/children?limit=2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["items"], 2)
	assert.EqualValues(t, 3, body["total"])

	code, body = f.do(t, http.MethodGet,
		"/api/v1/sections/"+itoa(sec.ID)+"/children?offset=2&limit=2", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["items"], 1)
}

func TestSettingsPatchReportsRestart(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.do(t, http.MethodPatch, "/api/v1/settings", map[string]any{
		settings.KeyMaxTranscodes: 4,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["restartRequired"])

	code, body = f.do(t, http.MethodPatch, "/api/v1/settings", map[string]any{
		settings.KeyBindAddr: "127.0.0.1:9999",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["restartRequired"])

	code, body = f.do(t, http.MethodGet, "/api/v1/settings", nil)
	require.Equal(t, http.StatusOK, code)
	got := body["settings"].(map[string]any)
	assert.EqualValues(t, 4, got[settings.KeyMaxTranscodes])
}

func TestPlaylistChunkUnknownGenerator(t *testing.T) {
	f := newAPIFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/v1/playlists/no-such-generator", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, string(errdef.KindNotFound), body["kind"])
}

func TestTranscodeStatusesEmpty(t *testing.T) {
	f := newAPIFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/v1/transcodes", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["jobs"])
}

func TestRequestIDEchoed(t *testing.T) {
	f := newAPIFixture(t)
	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}

func TestHomeHubsEmptyLibrary(t *testing.T) {
	f := newAPIFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/v1/hubs/home", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["hubs"])
}

func TestCustomFieldLifecycle(t *testing.T) {
	f := newAPIFixture(t)

	def := media.CustomFieldDefinition{
		Key:     "custom.vault_id",
		Label:   "Vault ID",
		Widget:  media.WidgetText,
		Enabled: true,
	}
	code, body := f.do(t, http.MethodPut, "/api/v1/fields/custom", def)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "field")

	code, body = f.do(t, http.MethodGet, "/api/v1/fields/custom", nil)
	require.Equal(t, http.StatusOK, code)
	fieldsOut, ok := body["fields"].([]any)
	require.True(t, ok)
	require.Len(t, fieldsOut, 1)

	code, _ = f.do(t, http.MethodDelete, "/api/v1/fields/custom/custom.vault_id", nil)
	require.Equal(t, http.StatusOK, code)

	code, body = f.do(t, http.MethodGet, "/api/v1/fields/custom", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["fields"])
}

func TestCustomFieldRejectsUnknownWidget(t *testing.T) {
	f := newAPIFixture(t)
	code, body := f.do(t, http.MethodPut, "/api/v1/fields/custom", map[string]any{
		"key": "custom.x", "label": "X", "widget": "hologram",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, string(errdef.KindInvalidInput), body["kind"])
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
