// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scan

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/nexa/internal/agents"
	"github.com/ManuGH/nexa/internal/config"
	"github.com/ManuGH/nexa/internal/credits"
	"github.com/ManuGH/nexa/internal/dedup"
	"github.com/ManuGH/nexa/internal/ffmpeg"
	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
	"github.com/ManuGH/nexa/internal/metrics"
	"github.com/ManuGH/nexa/internal/refresh"
)

// Trickplayer generates seek-preview artifacts for one playable file.
type Trickplayer interface {
	Generate(ctx context.Context, item *media.MetadataItem, part *media.MediaPart) error
}

// Pipeline is the staged scan graph:
//
//	discovery → resolver → analyzer → agents → images → artifacts
//
// Queues between stages are bounded channels; a slow stage back-pressures
// producers. Per-item failures are recorded on the item and never abort a
// stage.
type Pipeline struct {
	store       *store.Store
	fs          afero.Fs
	analyzer    *ffmpeg.Analyzer
	fanout      *agents.Fanout
	credits     *credits.Service
	trickplay   Trickplayer // nil disables artifact generation
	collections *CollectionImager
	cfg         config.ScannerConfig
	log         zerolog.Logger
}

// ProgressFunc is invoked with (completed, total) as items move through the
// resolver stage. Both values grow while discovery is still walking. It is
// per-run state: concurrent scans of different sections each carry their own.
type ProgressFunc func(completed, total int)

func NewPipeline(st *store.Store, fs afero.Fs, analyzer *ffmpeg.Analyzer, fanout *agents.Fanout, cs *credits.Service, trick Trickplayer, ci *CollectionImager, cfg config.ScannerConfig) *Pipeline {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Pipeline{
		store:       st,
		fs:          fs,
		analyzer:    analyzer,
		fanout:      fanout,
		credits:     cs,
		trickplay:   trick,
		collections: ci,
		cfg:         cfg,
		log:         log.WithComponent("pipeline"),
	}
}

func resolverWorkers(p int) int {
	if w := p * 3 / 4; w > 2 {
		return w
	}
	return 2
}

func analyzerWorkers(p int) int {
	w := p / 2
	if w < 2 {
		w = 2
	}
	if w > 4 {
		w = 4
	}
	return w
}

func imageWorkers(p int) int {
	if w := p / 2; w > 1 {
		return w
	}
	return 1
}

// Restriction narrows a run to a path subset; the zero value means a full
// walk of every location.
type Restriction struct {
	Paths []string
}

// Run executes the pipeline for one scan. It returns only on walk-level
// failure or context cancellation; per-item errors accumulate on the scan.
// progress may be nil.
func (pl *Pipeline) Run(ctx context.Context, sc *media.LibraryScan, section *media.LibrarySection, progress ProgressFunc) error {
	return pl.run(ctx, sc, section, Restriction{}, progress)
}

// RunMicro executes the restricted pipeline (discovery + resolver + refresh)
// over the given paths only.
func (pl *Pipeline) RunMicro(ctx context.Context, sc *media.LibraryScan, section *media.LibrarySection, paths []string, progress ProgressFunc) error {
	return pl.run(ctx, sc, section, Restriction{Paths: paths}, progress)
}

func (pl *Pipeline) run(ctx context.Context, sc *media.LibraryScan, section *media.LibrarySection, restrict Restriction, progress ProgressFunc) error {
	p := runtime.NumCPU()
	dd := dedup.New(pl.store)
	defer dd.Reset()
	resolver := NewResolver(pl.store, dd, section)
	disc := NewDiscovery(pl.fs, pl.store, pl.cfg)

	events := make(chan FileEvent, 256)
	resolved := make(chan *Resolved, 64)
	analyzed := make(chan *Resolved, 64)
	enriched := make(chan *Resolved, 64)
	decorated := make(chan *Resolved, 64)

	var total, completed, errs atomic.Int64

	g, gctx := errgroup.WithContext(ctx)

	// Discovery walks locations in order so the checkpoint cursor stays
	// meaningful for resume.
	g.Go(func() error {
		defer close(events)
		emit := func(ctx context.Context, ev FileEvent) error {
			if ev.Kind == EventAdded || ev.Kind == EventModified {
				total.Add(1)
			}
			metrics.ScanQueueDepth.WithLabelValues("resolver").Set(float64(len(events)))
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for _, loc := range pl.locations(section, restrict) {
			if !loc.Available {
				continue
			}
			if err := disc.Walk(gctx, sc, loc, emit); err != nil {
				return err
			}
		}
		return nil
	})

	runStage(g, gctx, resolverWorkers(p), events, resolved, func(ctx context.Context, ev FileEvent) (*Resolved, bool) {
		res, err := resolver.Resolve(ctx, ev)
		if err != nil {
			errs.Add(1)
			metrics.ScanErrors.WithLabelValues("resolver").Inc()
			pl.log.Warn().Str("path", ev.Path).Err(err).Msg("resolve failed")
			return nil, false
		}
		if res != nil {
			completed.Add(1)
			if progress != nil {
				progress(int(completed.Load()), int(total.Load()))
			}
			metrics.ScanItemsProcessed.WithLabelValues("resolver").Inc()
		}
		return res, res != nil
	})

	runStage(g, gctx, analyzerWorkers(p), resolved, analyzed, func(ctx context.Context, r *Resolved) (*Resolved, bool) {
		if err := pl.analyze(ctx, r); err != nil {
			errs.Add(1)
			pl.itemError(ctx, r, "analyzer", err)
		}
		return r, true
	})

	agentCount := 1
	if pl.fanout != nil {
		agentCount = 3
	}
	runStage(g, gctx, agentCount, analyzed, enriched, func(ctx context.Context, r *Resolved) (*Resolved, bool) {
		if err := pl.enrich(ctx, r, section); err != nil {
			errs.Add(1)
			pl.itemError(ctx, r, "agents", err)
		}
		return r, true
	})

	runStage(g, gctx, imageWorkers(p), enriched, decorated, func(ctx context.Context, r *Resolved) (*Resolved, bool) {
		if err := pl.selectImages(ctx, r, section); err != nil {
			errs.Add(1)
			pl.itemError(ctx, r, "images", err)
		}
		return r, true
	})

	runStage(g, gctx, 1, decorated, (chan *Resolved)(nil), func(ctx context.Context, r *Resolved) (*Resolved, bool) {
		if pl.trickplay != nil && isVideo(section.Type) {
			if err := pl.trickplay.Generate(ctx, r.Item, r.Part); err != nil {
				errs.Add(1)
				metrics.ArtifactWrites.WithLabelValues("bif", "error").Inc()
				pl.log.Warn().Int64("item", r.Item.ID).Err(err).Msg("trickplay generation failed")
			} else {
				metrics.ArtifactWrites.WithLabelValues("bif", "ok").Inc()
			}
		}
		if pl.collections != nil {
			pl.collections.Touch(section.ID)
		}
		return nil, false
	})

	err := g.Wait()
	sc.ErrorCount += int(errs.Load())
	return err
}

// runStage spawns n workers draining in. Results flagged for forwarding go
// to out, which closes once in is exhausted and every worker returned.
func runStage[I, O any](g *errgroup.Group, ctx context.Context, n int, in <-chan I, out chan O, work func(context.Context, I) (O, bool)) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			defer wg.Done()
			for {
				select {
				case item, ok := <-in:
					if !ok {
						return nil
					}
					o, forward := work(ctx, item)
					if !forward || out == nil {
						continue
					}
					select {
					case out <- o:
					case <-ctx.Done():
						return ctx.Err()
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
	}
	g.Go(func() error {
		wg.Wait()
		if out != nil {
			close(out)
		}
		return nil
	})
}

// locations returns the walk roots, restricted to the micro-scan subset when
// one is given.
func (pl *Pipeline) locations(section *media.LibrarySection, restrict Restriction) []media.SectionLocation {
	if len(restrict.Paths) == 0 {
		return section.Locations
	}
	locs := make([]media.SectionLocation, 0, len(restrict.Paths))
	for _, path := range restrict.Paths {
		for _, loc := range section.Locations {
			if within(path, loc.RootPath) {
				l := loc
				l.RootPath = path
				locs = append(locs, l)
				break
			}
		}
	}
	return locs
}

func (pl *Pipeline) analyze(ctx context.Context, r *Resolved) error {
	if pl.analyzer == nil || r.Part == nil {
		return nil
	}
	probed, err := pl.analyzer.Analyze(ctx, r.Part.Path)
	if err != nil {
		return err
	}
	m := r.Media
	m.DurationMs = probed.DurationMs
	m.Bitrate = probed.Bitrate
	m.Width = probed.Width
	m.Height = probed.Height
	m.Container = probed.Container
	m.VideoCodec = probed.VideoCodec
	m.AudioCodec = probed.AudioCodec
	m.HDR = probed.HDR
	m.Rotation = probed.Rotation
	m.Interlaced = probed.Interlaced
	m.Streams = probed.Streams
	if err := pl.store.UpsertMediaItem(ctx, nil, m); err != nil {
		return err
	}
	if r.Item.DurationMs != m.DurationMs && !r.Item.Locked(refresh.FieldDuration) {
		r.Item.DurationMs = m.DurationMs
		return pl.store.UpdateMetadataItem(ctx, r.Item)
	}
	return nil
}

func (pl *Pipeline) enrich(ctx context.Context, r *Resolved, section *media.LibrarySection) error {
	if pl.fanout == nil {
		return nil
	}
	req := agents.Request{
		Item:     r.Item,
		Media:    r.Media,
		Language: section.Settings.MetadataLanguage,
	}
	outcomes, err := pl.fanout.Fetch(ctx, req, section.Settings.AgentOrder)
	if err != nil {
		return err
	}
	merged := refresh.Merge(r.Item, outcomes, nil)
	if merged.Changed {
		if err := pl.store.UpdateMetadataItem(ctx, r.Item); err != nil {
			return err
		}
	}
	if pl.credits != nil && (len(merged.People) > 0 || len(merged.Groups) > 0) {
		return pl.credits.Apply(ctx, r.Item, merged.People, merged.Groups)
	}
	return nil
}

func (pl *Pipeline) selectImages(ctx context.Context, r *Resolved, section *media.LibrarySection) error {
	if pl.fanout == nil {
		return nil
	}
	req := agents.Request{Item: r.Item, Media: r.Media, Language: section.Settings.MetadataLanguage}
	winners := agents.SelectImages(pl.fanout.FetchImages(ctx, req, section.Settings.AgentOrder))
	poster, ok := winners[agents.RolePoster]
	if !ok || r.Item.ThumbURI == poster.URI {
		return nil
	}
	sum := sha1.Sum([]byte(poster.URI))
	r.Item.ThumbURI = poster.URI
	r.Item.ThumbHash = hex.EncodeToString(sum[:8])
	return pl.store.UpdateMetadataItem(ctx, r.Item)
}

// itemError records a per-item stage failure without propagating it.
func (pl *Pipeline) itemError(ctx context.Context, r *Resolved, stage string, err error) {
	metrics.ScanErrors.WithLabelValues(stage).Inc()
	pl.log.Warn().Str("stage", stage).Int64("item", r.Item.ID).Err(err).Msg("item failed")
	if serr := pl.store.SetItemError(ctx, r.Item.ID, err.Error()); serr != nil {
		pl.log.Error().Err(serr).Msg("recording item error failed")
	}
}

func isVideo(t media.LibraryType) bool {
	switch t {
	case media.LibraryMovies, media.LibraryTvShows, media.LibraryMusicVideos, media.LibraryHomeVideos:
		return true
	}
	return false
}

func within(path, root string) bool {
	return path == root || strings.HasPrefix(path, root+"/")
}
