// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api is the HTTP surface: a chi router over the library, scan,
// curation, playback and streaming services, plus WebSocket subscriptions
// for job progress and item updates.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/nexa/internal/artifacts/bif"
	"github.com/ManuGH/nexa/internal/config"
	"github.com/ManuGH/nexa/internal/fields"
	"github.com/ManuGH/nexa/internal/health"
	"github.com/ManuGH/nexa/internal/hubs"
	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media/store"
	"github.com/ManuGH/nexa/internal/notify"
	"github.com/ManuGH/nexa/internal/playback"
	"github.com/ManuGH/nexa/internal/playlist"
	"github.com/ManuGH/nexa/internal/refresh"
	"github.com/ManuGH/nexa/internal/scan"
	"github.com/ManuGH/nexa/internal/settings"
	"github.com/ManuGH/nexa/internal/subtitles"
	"github.com/ManuGH/nexa/internal/transcode"
)

// Deps carries everything the handlers call. Nil optional members disable
// their routes.
type Deps struct {
	Config     *config.Config
	Store      *store.Store
	Scans      *scan.Manager
	Refresher  *refresh.Orchestrator
	Hubs       *hubs.Service
	Fields     *fields.Service
	Playback   *playback.Orchestrator
	Playlists  *playlist.Service
	Transcodes *transcode.Manager
	Subtitles  *subtitles.Extractor
	Fabric     *notify.Fabric
	Items      *notify.ItemHub
	Settings   *settings.Store
	Bif        *bif.Store
	Health     *health.Registry
}

type Server struct {
	cfg        *config.Config
	store      *store.Store
	scans      *scan.Manager
	refresher  *refresh.Orchestrator
	hubs       *hubs.Service
	fields     *fields.Service
	playback   *playback.Orchestrator
	playlists  *playlist.Service
	transcodes *transcode.Manager
	subs       *subtitles.Extractor
	fabric     *notify.Fabric
	items      *notify.ItemHub
	settings   *settings.Store
	bif        *bif.Store
	health     *health.Registry

	validate *validator.Validate
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewServer(d Deps) *Server {
	return &Server{
		cfg:        d.Config,
		store:      d.Store,
		scans:      d.Scans,
		refresher:  d.Refresher,
		hubs:       d.Hubs,
		fields:     d.Fields,
		playback:   d.Playback,
		playlists:  d.Playlists,
		transcodes: d.Transcodes,
		subs:       d.Subtitles,
		fabric:     d.Fabric,
		items:      d.Items,
		settings:   d.Settings,
		bif:        d.Bif,
		health:     d.Health,
		validate:   validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients are same-origin or pass the CORS allowlist on
			// the upgrade request; players are not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log.WithComponent("api"),
	}
}

// Router assembles the full middleware stack and route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(recoverer)
	r.Use(securityHeaders)
	r.Use(cors(s.cfg.Server.CORSOrigins))
	r.Use(requestLogger)
	if rl := s.cfg.RateLimit; rl.Enabled {
		if rl.RequestsPerMin > 0 {
			r.Use(httprate.Limit(rl.RequestsPerMin, time.Minute))
		}
		if rl.PerIPRequestsMin > 0 {
			r.Use(httprate.LimitByIP(rl.PerIPRequestsMin, time.Minute))
		}
	}

	if s.health != nil {
		r.Method(http.MethodGet, "/healthz", s.health.LivenessHandler())
		r.Method(http.MethodGet, "/readyz", s.health.ReadinessHandler())
	}
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireToken(false))

		r.Get("/sections", s.handleListSections)
		r.Post("/sections", s.handleAddSection)
		r.Delete("/sections/{uuid}", s.handleRemoveSection)
		r.Get("/sections/{id}/children", s.handleSectionChildren)
		r.Get("/sections/{id}/hubs", s.handleSectionHubs)

		r.Post("/scans", s.handleStartScan)
		r.Post("/scans/{id}/cancel", s.handleCancelScan)
		r.Post("/scans/resume", s.handleResumeScans)
		r.Get("/scans/{sectionID}", s.handleScanStatus)
		r.Get("/jobs", s.handleJobSnapshot)

		r.Get("/items/{uuid}", s.handleItemDetail)
		r.Get("/items/{uuid}/children", s.handleItemChildren)
		r.Get("/items/{uuid}/hubs", s.handleItemHubs)
		r.Post("/items/{uuid}/refresh", s.handleRefreshItem)
		r.Post("/items/{uuid}/analyze", s.handleAnalyzeItem)
		r.Post("/items/{uuid}/promote", s.handlePromoteItem)
		r.Delete("/items/{uuid}/promote", s.handleUnpromoteItem)

		r.Get("/hubs/home", s.handleHomeHubs)
		r.Get("/hubs/config", s.handleGetHubConfig)
		r.Put("/hubs/config", s.handleSaveHubConfig)

		r.Get("/fields/layout", s.handleFieldLayout)
		r.Get("/fields/config", s.handleGetFieldConfig)
		r.Put("/fields/config", s.handleSaveFieldConfig)
		r.Delete("/fields/config", s.handleResetFieldConfig)
		r.Get("/fields/custom", s.handleListCustomFields)
		r.Put("/fields/custom", s.handleSaveCustomField)
		r.Delete("/fields/custom/{key}", s.handleDeleteCustomField)

		r.Post("/playback/capability", s.handleUpsertCapability)
		r.Post("/playback/start", s.handlePlaybackStart)
		r.Post("/playback/heartbeat", s.handlePlaybackHeartbeat)
		r.Post("/playback/decide", s.handlePlaybackDecide)
		r.Post("/playback/seek", s.handlePlaybackSeek)
		r.Post("/playback/resume", s.handlePlaybackResume)
		r.Post("/playback/stop", s.handlePlaybackStop)

		r.Get("/playlists/{uuid}", s.handlePlaylistChunk)
		r.Post("/playlists/{uuid}/next", s.handlePlaylistNext)
		r.Post("/playlists/{uuid}/previous", s.handlePlaylistPrevious)
		r.Post("/playlists/{uuid}/jump", s.handlePlaylistJump)
		r.Post("/playlists/{uuid}/shuffle", s.handlePlaylistShuffle)
		r.Post("/playlists/{uuid}/repeat", s.handlePlaylistRepeat)

		r.Get("/transcodes", s.handleTranscodeStatuses)
		r.Post("/transcodes/{uuid}/ping", s.handleTranscodePing)
		r.Post("/transcodes/{uuid}/cancel", s.handleTranscodeCancel)

		r.Get("/settings", s.handleGetSettings)
		r.Patch("/settings", s.handleUpdateSettings)

		r.Get("/filesystem/roots", s.handleFilesystemRoots)
		r.Get("/filesystem/browse", s.handleBrowseDirectory)
	})

	// Streaming endpoints: players cannot set headers, so the token rides
	// the query string.
	r.Group(func(r chi.Router) {
		r.Use(s.requireToken(true))

		r.Get("/library/parts/{id}/file", s.handlePartFile)
		r.Get("/library/parts/{id}/remux.mp4", s.handlePartRemux)
		r.Get("/library/parts/{id}/manifest.mpd", s.handlePartManifest)
		r.Get("/library/parts/{id}/subtitles/{index}", s.handlePartSubtitles)
		r.Get("/library/items/{uuid}/trickplay/{part}", s.handleTrickplay)
		r.Get("/transcodes/{uuid}/segments/{name}", s.handleTranscodeSegment)

		r.Get("/ws/jobs", s.handleJobStream)
		r.Get("/ws/items", s.handleItemStream)
	})

	return otelhttp.NewHandler(r, "nexa-api")
}
