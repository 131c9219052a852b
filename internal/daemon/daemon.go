// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package daemon assembles and runs the server: storage, scan pipeline,
// watcher, playback services, the HTTP API and the background sweepers, all
// under one errgroup with coordinated shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/nexa/internal/agents"
	"github.com/ManuGH/nexa/internal/api"
	"github.com/ManuGH/nexa/internal/artifacts/bif"
	"github.com/ManuGH/nexa/internal/artifacts/gop"
	"github.com/ManuGH/nexa/internal/config"
	"github.com/ManuGH/nexa/internal/credits"
	"github.com/ManuGH/nexa/internal/dedup"
	"github.com/ManuGH/nexa/internal/ffmpeg"
	"github.com/ManuGH/nexa/internal/fields"
	"github.com/ManuGH/nexa/internal/health"
	"github.com/ManuGH/nexa/internal/hubs"
	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media/store"
	"github.com/ManuGH/nexa/internal/notify"
	"github.com/ManuGH/nexa/internal/platform/paths"
	"github.com/ManuGH/nexa/internal/playback"
	"github.com/ManuGH/nexa/internal/playlist"
	"github.com/ManuGH/nexa/internal/refresh"
	"github.com/ManuGH/nexa/internal/scan"
	"github.com/ManuGH/nexa/internal/settings"
	"github.com/ManuGH/nexa/internal/subtitles"
	"github.com/ManuGH/nexa/internal/telemetry"
	"github.com/ManuGH/nexa/internal/transcode"
	"github.com/ManuGH/nexa/internal/watch"
)

const (
	shutdownGrace = 5 * time.Second
	sweepInterval = 30 * time.Second
)

// App is the fully wired server.
type App struct {
	cfg     *config.Config
	cfgPath string
	version string
	log     zerolog.Logger

	paths     paths.Paths
	store     *store.Store
	settings  *settings.Store
	redis     *redis.Client
	telemetry *telemetry.Provider

	fabric     *notify.Fabric
	items      *notify.ItemHub
	scans      *scan.Manager
	watcher    *watch.Watcher
	refresher  *refresh.Orchestrator
	hubs       *hubs.Service
	fields     *fields.Service
	playlists  *playlist.Service
	playback   *playback.Orchestrator
	transcodes *transcode.Manager
	collection *scan.CollectionImager
	health     *health.Registry
	srvDeps    api.Deps
	httpSrv    *http.Server
}

// New loads configuration, runs startup checks and wires every subsystem.
// Nothing is running yet; call Run.
func New(ctx context.Context, cfgPath, version string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log.Configure(log.Config{
		Level:      cfg.Log.Level,
		Service:    "nexa",
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.DataDir, "cache")
	}
	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, cfgPath: cfgPath, version: version, log: log.WithComponent("daemon")}
	a.paths = paths.New(cfg.DataDir, cfg.CacheDir)
	if err := a.paths.Ensure(); err != nil {
		return nil, err
	}

	caps, err := ffmpeg.Probe(ctx, cfg.Transcode.FFmpegPath)
	if err != nil {
		return nil, err
	}
	if a.cfg.Transcode.HWAccel == "auto" {
		a.cfg.Transcode.HWAccel = string(caps.Recommended)
	}
	a.log.Info().
		Str("ffmpeg_version", caps.Version).
		Str("hwaccel", a.cfg.Transcode.HWAccel).
		Msg("ffmpeg capabilities probed")

	a.store, err = store.Open(a.paths.DB, store.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.settings, err = settings.Open(a.paths.Settings)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	a.telemetry, err = telemetry.NewProvider(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	if cfg.Hubs.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Hubs.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.log.Warn().Err(err).Str("addr", cfg.Hubs.RedisAddr).Msg("redis unreachable, hub cache disabled")
			a.redis = nil
		}
	}

	a.wireServices()
	a.wireHealth()
	a.wireHTTP()
	return a, nil
}

func (a *App) wireServices() {
	cfg := a.cfg

	bifStore := bif.NewStore(a.paths.Artifacts)
	gopStore := gop.NewStore(a.paths.Artifacts)
	analyzer := ffmpeg.NewAnalyzer(cfg.Transcode.FFprobePath)

	a.fabric = notify.New(cfg.Notify.FlushInterval)
	a.items = notify.NewItemHub()

	registry := agents.NewRegistry()
	registry.Register(agents.NewSidecarAgent(afero.NewOsFs()), "Local Sidecars", "Reads .nfo and .json companions next to media files")
	registry.Register(agents.NewEmbeddedAgent(), "Embedded Tags", "Uses metadata embedded in the media container")
	fanout := agents.NewFanout(registry, int64(cfg.Agents.GlobalConcurrency))

	creditsSvc := credits.New(a.store, dedup.New(a.store))
	trickplay := scan.NewFFmpegTrickplayer(cfg.Transcode.FFmpegPath, bifStore)
	trickplay.Gop = gopStore
	trickplay.Analyzer = analyzer
	a.collection = scan.NewCollectionImager(a.store, cfg.Scanner.ArtifactDebounce)

	pipeline := scan.NewPipeline(a.store, afero.NewOsFs(), analyzer, fanout, creditsSvc, trickplay, a.collection, cfg.Scanner)
	a.scans = scan.NewManager(a.store, pipeline, a.fabric)

	a.refresher = refresh.NewOrchestrator(a.store, fanout, analyzer, creditsSvc, trickplay, a.fabric)
	a.refresher.SetItemHub(a.items)

	a.hubs = hubs.New(a.store, a.redis, cfg.Hubs.CacheTTL, cfg.Hubs.PageSize)
	a.fields = fields.New(a.store)
	a.playlists = playlist.New(a.store, cfg.Playback.PlaylistChunkSize)
	a.transcodes = transcode.NewManager(a.store, cfg.Transcode)
	a.playback = playback.New(a.store, a.playlists, gopStore, a.transcodes, cfg.Playback)

	var err error
	a.watcher, err = watch.New(a.store, cfg.Watcher, func(ev watch.CoalescedChangeEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := a.scans.Micro(ctx, ev.SectionID, ev.Paths); err != nil {
			a.log.Warn().Int64("section", ev.SectionID).Err(err).Msg("micro-scan failed")
		}
	})
	if err != nil {
		// Inotify exhaustion degrades to poll-only operation inside the
		// watcher; a constructor error means no watching at all.
		a.log.Warn().Err(err).Msg("filesystem watcher disabled")
		a.watcher = nil
	}

	a.srvDeps = api.Deps{
		Config:     cfg,
		Store:      a.store,
		Scans:      a.scans,
		Refresher:  a.refresher,
		Hubs:       a.hubs,
		Fields:     a.fields,
		Playback:   a.playback,
		Playlists:  a.playlists,
		Transcodes: a.transcodes,
		Subtitles:  subtitles.NewExtractor(cfg.Transcode),
		Fabric:     a.fabric,
		Items:      a.items,
		Settings:   a.settings,
		Bif:        bifStore,
	}
}

func (a *App) wireHealth() {
	a.health = health.NewRegistry(a.version)
	a.health.Register("database", func(ctx context.Context) health.CheckResult {
		if err := a.store.Ping(ctx); err != nil {
			return health.CheckResult{Status: health.StatusUnhealthy, Error: err.Error()}
		}
		return health.CheckResult{Status: health.StatusHealthy}
	})
	a.health.Register("ffmpeg", health.BinaryCheck(a.cfg.Transcode.FFmpegPath))
	a.health.Register("data-dir", health.DirCheck(a.cfg.DataDir))
	a.health.Register("cache-dir", health.DirCheck(a.cfg.CacheDir))
	a.srvDeps.Health = a.health
}

func (a *App) wireHTTP() {
	srv := api.NewServer(a.srvDeps)
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.BindAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Run starts every subsystem and blocks until ctx is cancelled or one of
// them fails fatally.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Recover state left by a previous process before accepting work.
	if err := a.transcodes.CleanupStaleJobs(ctx); err != nil {
		a.log.Warn().Err(err).Msg("stale transcode cleanup failed")
	}
	if err := a.scans.Resume(ctx); err != nil {
		a.log.Warn().Err(err).Msg("scan resume failed")
	}
	a.watchAllSections(ctx)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info().Str("addr", a.cfg.Server.BindAddr).Str("version", a.version).Msg("http server listening")
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.httpSrv.Shutdown(shutCtx)
	})
	g.Go(func() error { return a.fabric.Run(ctx) })
	if a.watcher != nil {
		g.Go(func() error {
			if err := a.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("watcher: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error { return a.sweep(ctx) })
	g.Go(func() error { return a.reloadOnSIGHUP(ctx) })

	err := g.Wait()
	a.shutdown()
	return err
}

// watchAllSections registers every library root with the watcher.
func (a *App) watchAllSections(ctx context.Context) {
	if a.watcher == nil {
		return
	}
	sections, err := a.store.ListSections(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("listing sections for watch failed")
		return
	}
	for i := range sections {
		if err := a.watcher.WatchSection(&sections[i]); err != nil {
			a.log.Warn().Int64("section", sections[i].ID).Err(err).Msg("watch failed")
		}
	}
}

// sweep is the periodic janitor: expired sessions, idle transcodes, stale
// notifications, long-missing parts and finished job directories.
func (a *App) sweep(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.sweepOnce(ctx)
		}
	}
}

func (a *App) sweepOnce(ctx context.Context) {
	expired, err := a.store.ListExpiredSessions(ctx, a.cfg.Playback.SessionTTL)
	if err != nil {
		a.log.Warn().Err(err).Msg("expired session listing failed")
	}
	for _, sess := range expired {
		if err := a.playback.Stop(ctx, sess.UUID); err != nil {
			a.log.Warn().Str("session", sess.UUID).Err(err).Msg("expired session stop failed")
		}
	}

	if err := a.transcodes.ReapIdle(ctx); err != nil {
		a.log.Warn().Err(err).Msg("idle transcode reap failed")
	}
	a.transcodes.Cache().EvictIdle(10 * time.Minute)

	retention := time.Duration(a.cfg.Notify.RetentionDays) * 24 * time.Hour
	a.fabric.Purge(time.Now().Add(-retention))
	if err := a.store.PurgeNotifications(ctx, retention); err != nil {
		a.log.Warn().Err(err).Msg("notification purge failed")
	}

	if n, err := a.store.DeletePartsMissingBefore(ctx, time.Now().Add(-a.cfg.Scanner.MissingRetention)); err != nil {
		a.log.Warn().Err(err).Msg("missing part purge failed")
	} else if n > 0 {
		a.log.Info().Int64("parts", n).Msg("purged long-missing parts")
	}

	dirs, err := a.store.DeleteTerminalJobs(ctx, time.Hour)
	if err != nil {
		a.log.Warn().Err(err).Msg("terminal job purge failed")
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			a.log.Warn().Str("dir", dir).Err(err).Msg("segment dir removal failed")
		}
	}

	a.rescanDirtySections(ctx)
}

// rescanDirtySections runs a full scan for sections whose watch state
// overflowed or errored.
func (a *App) rescanDirtySections(ctx context.Context) {
	if a.watcher == nil {
		return
	}
	sections, err := a.store.ListSections(ctx)
	if err != nil {
		return
	}
	for i := range sections {
		id := sections[i].ID
		if !a.watcher.RequiresFullRescan(id) {
			continue
		}
		if _, err := a.scans.Start(ctx, id); err != nil {
			a.log.Warn().Int64("section", id).Err(err).Msg("recovery rescan failed to start")
			continue
		}
		a.watcher.ClearRescan(id)
	}
}

// reloadOnSIGHUP applies the hot-reloadable config subset in place and logs
// when a restart is needed for the rest.
func (a *App) reloadOnSIGHUP(ctx context.Context) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			hot, restart, err := config.Reload(a.cfgPath, a.cfg)
			if err != nil {
				a.log.Error().Err(err).Msg("config reload failed")
				continue
			}
			log.SetLevel(hot.LogLevel)
			a.cfg.Watcher = hot.Watcher
			if restart {
				a.log.Warn().Msg("config changes require a restart to fully apply")
			} else {
				a.log.Info().Msg("config reloaded")
			}
		}
	}
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	a.scans.Shutdown()
	a.collection.Stop()
	if err := a.transcodes.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("transcode shutdown incomplete")
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if err := a.settings.Close(); err != nil {
		a.log.Warn().Err(err).Msg("settings close failed")
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("store close failed")
	}
	a.log.Info().Msg("shutdown complete")
}
