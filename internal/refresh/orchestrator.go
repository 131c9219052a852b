// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package refresh

import (
	"context"
	"crypto/sha1"
	"encoding/hex"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/nexa/internal/agents"
	"github.com/ManuGH/nexa/internal/credits"
	"github.com/ManuGH/nexa/internal/ffmpeg"
	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
	"github.com/ManuGH/nexa/internal/notify"
)

// Trickplayer regenerates seek previews after a refresh re-analyzed a file.
type Trickplayer interface {
	Generate(ctx context.Context, item *media.MetadataItem, part *media.MediaPart) error
}

// Options tunes one refresh request.
type Options struct {
	// OverrideFields are written even when locked.
	OverrideFields []string
	// SkipAnalysis suppresses the follow-up probe and trickplay pass.
	SkipAnalysis bool
}

// Orchestrator refreshes a single item: agent and image stages run
// concurrently, results merge under precedence and field locks, and the item
// is persisted exactly once.
type Orchestrator struct {
	store     *store.Store
	fanout    *agents.Fanout
	analyzer  *ffmpeg.Analyzer
	credits   *credits.Service
	trickplay Trickplayer
	fabric    *notify.Fabric
	items     *notify.ItemHub
	log       zerolog.Logger
}

// SetItemHub enables item-updated events for subscription streams.
func (o *Orchestrator) SetItemHub(h *notify.ItemHub) { o.items = h }

func NewOrchestrator(st *store.Store, fanout *agents.Fanout, analyzer *ffmpeg.Analyzer, cs *credits.Service, trick Trickplayer, fabric *notify.Fabric) *Orchestrator {
	return &Orchestrator{
		store:     st,
		fanout:    fanout,
		analyzer:  analyzer,
		credits:   cs,
		trickplay: trick,
		fabric:    fabric,
		log:       log.WithComponent("refresh"),
	}
}

// Refresh runs the full single-item pass. Re-running with unchanged sources
// converges to the same state.
func (o *Orchestrator) Refresh(ctx context.Context, itemUUID string, opts Options) error {
	item, err := o.store.GetMetadataItemByUUID(ctx, itemUUID)
	if err != nil {
		return err
	}
	section, err := o.store.GetSection(ctx, item.SectionID)
	if err != nil {
		return err
	}

	if o.fabric != nil {
		o.fabric.Start(section.ID, media.JobMetadataRefresh, 1)
		defer o.fabric.Complete(section.ID, media.JobMetadataRefresh)
	}

	items, err := o.store.ListMediaItems(ctx, item.ID)
	if err != nil {
		return err
	}
	var mi *media.MediaItem
	if len(items) > 0 {
		mi = &items[0]
	}

	req := agents.Request{Item: item, Media: mi, Language: section.Settings.MetadataLanguage}

	var (
		outcomes   []agents.Outcome
		candidates []agents.ImageCandidate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		outcomes, err = o.fanout.Fetch(gctx, req, section.Settings.AgentOrder)
		return err
	})
	g.Go(func() error {
		candidates = o.fanout.FetchImages(gctx, req, section.Settings.AgentOrder)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	merged := Merge(item, outcomes, opts.OverrideFields)
	changed := merged.Changed

	if poster, ok := agents.SelectImages(candidates)[agents.RolePoster]; ok && item.ThumbURI != poster.URI {
		sum := sha1.Sum([]byte(poster.URI))
		item.ThumbURI = poster.URI
		item.ThumbHash = hex.EncodeToString(sum[:8])
		changed = true
	}

	if changed {
		if err := o.store.UpdateMetadataItem(ctx, item); err != nil {
			return err
		}
		if o.items != nil {
			o.items.Publish(item.UUID)
		}
	}
	if o.credits != nil && (len(merged.People) > 0 || len(merged.Groups) > 0) {
		if err := o.credits.Apply(ctx, item, merged.People, merged.Groups); err != nil {
			return err
		}
	}

	if opts.SkipAnalysis || mi == nil {
		return nil
	}
	return o.reanalyze(ctx, item, mi)
}

// Analyze re-probes an item's files without touching metadata.
func (o *Orchestrator) Analyze(ctx context.Context, itemUUID string) error {
	item, err := o.store.GetMetadataItemByUUID(ctx, itemUUID)
	if err != nil {
		return err
	}
	items, err := o.store.ListMediaItems(ctx, item.ID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return o.reanalyze(ctx, item, &items[0])
}

// reanalyze re-probes every part and refreshes trickplay. Probe failures on
// individual parts are recorded on the item, not returned.
func (o *Orchestrator) reanalyze(ctx context.Context, item *media.MetadataItem, mi *media.MediaItem) error {
	parts, err := o.store.ListPartsForItem(ctx, mi.ID)
	if err != nil {
		return err
	}
	for i := range parts {
		part := &parts[i]
		if o.analyzer != nil {
			probed, err := o.analyzer.Analyze(ctx, part.Path)
			if err != nil {
				o.log.Warn().Str("path", part.Path).Err(err).Msg("probe failed")
				if serr := o.store.SetItemError(ctx, item.ID, err.Error()); serr != nil {
					o.log.Error().Err(serr).Msg("recording item error failed")
				}
				continue
			}
			probed.ID = mi.ID
			probed.MetadataID = mi.MetadataID
			probed.SectionID = mi.SectionID
			if err := o.store.UpsertMediaItem(ctx, nil, probed); err != nil {
				return err
			}
		}
		if o.trickplay != nil {
			if err := o.trickplay.Generate(ctx, item, part); err != nil {
				o.log.Warn().Int64("item", item.ID).Err(err).Msg("trickplay refresh failed")
			}
		}
	}
	return nil
}
