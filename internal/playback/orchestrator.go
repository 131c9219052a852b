// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package playback negotiates client capabilities into stream plans and
// drives sessions from start to stop.
package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/nexa/internal/artifacts/gop"
	"github.com/ManuGH/nexa/internal/config"
	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
	"github.com/ManuGH/nexa/internal/metrics"
	"github.com/ManuGH/nexa/internal/playlist"
)

// TranscodeStopper cancels every transcode a session owns. Implemented by the
// transcode manager.
type TranscodeStopper interface {
	StopSession(ctx context.Context, sessionID int64, deleteSegments bool) error
}

// StartInput is the playback.start request.
type StartInput struct {
	ItemID            int64
	UserID            string
	DeviceID          string
	CapabilityVersion int
	OriginatorType    media.PlaylistSeedType // empty means single
	OriginatorID      int64
	Shuffle           bool
	Repeat            bool
}

// StartResponse carries everything the client needs to begin playing.
type StartResponse struct {
	SessionID           string            `json:"playbackSessionId"`
	PlaylistGeneratorID string            `json:"playlistGeneratorId,omitempty"`
	PlaybackURL         string            `json:"playbackUrl"`
	TrickplayURL        string            `json:"trickplayUrl,omitempty"`
	DurationMs          int64             `json:"durationMs"`
	Plan                *media.StreamPlan `json:"streamPlan"`
	CapabilityVersion   int               `json:"capabilityVersion"`
}

// Direction is the client's navigation intent in playback.decide.
type Direction string

const (
	DirectionNext     Direction = "next"
	DirectionPrevious Direction = "previous"
	DirectionJump     Direction = "jump"
	DirectionStay     Direction = "stay"
	DirectionStop     Direction = "stop"
)

// DecideInput is the playback.decide request.
type DecideInput struct {
	SessionID  string
	DeviceID   string
	Direction  Direction
	JumpIndex  int
	ProgressMs int64
}

// DecideResponse mirrors what the server actually did.
type DecideResponse struct {
	Action        Direction         `json:"action"`
	PlaybackURL   string            `json:"playbackUrl,omitempty"`
	Plan          *media.StreamPlan `json:"streamPlan,omitempty"`
	NextItemID    int64             `json:"nextItemId,omitempty"`
	NextItemTitle string            `json:"nextItemTitle,omitempty"`
	NextIndex     int               `json:"nextIndex,omitempty"`
	DurationMs    int64             `json:"durationMs,omitempty"`
}

// SeekResponse is the GoP-aligned answer for one seek target.
type SeekResponse struct {
	KeyframeMs       int64 `json:"keyframeMs"`
	GopDurationMs    int64 `json:"gopDurationMs"`
	HasGopIndex      bool  `json:"hasGopIndex"`
	OriginalTargetMs int64 `json:"originalTargetMs"`
}

// Orchestrator owns the playback session lifecycle.
type Orchestrator struct {
	store      *store.Store
	planner    *Planner
	playlists  *playlist.Service
	gop        *gop.Store
	transcodes TranscodeStopper
	cfg        config.PlaybackConfig
	log        zerolog.Logger
}

func New(st *store.Store, playlists *playlist.Service, gopStore *gop.Store, transcodes TranscodeStopper, cfg config.PlaybackConfig) *Orchestrator {
	return &Orchestrator{
		store:      st,
		planner:    &Planner{MaxBitrateKbps: cfg.MaxBitrateKbps},
		playlists:  playlists,
		gop:        gopStore,
		transcodes: transcodes,
		cfg:        cfg,
		log:        log.WithComponent("playback"),
	}
}

// UpsertCapability stores the client capability set and returns the new
// version. Plans built before the bump are stale.
func (o *Orchestrator) UpsertCapability(ctx context.Context, userID, deviceID string, caps media.Caps) (int, error) {
	profile, err := o.store.UpsertCapabilityProfile(ctx, userID, deviceID, caps)
	if err != nil {
		return 0, err
	}
	return profile.Version, nil
}

// Start negotiates a stream plan and opens a session.
func (o *Orchestrator) Start(ctx context.Context, in StartInput) (*StartResponse, error) {
	profile, err := o.store.GetCapabilityProfile(ctx, in.UserID, in.DeviceID)
	if err != nil {
		return nil, err
	}
	if in.CapabilityVersion != profile.Version {
		return nil, errdef.New(errdef.KindCapabilityMismatch,
			"capability version %d is stale (current %d)", in.CapabilityVersion, profile.Version)
	}

	item, err := o.store.GetMetadataItem(ctx, in.ItemID)
	if err != nil {
		return nil, err
	}
	plan, mi, err := o.planFor(ctx, item, profile.Profile)
	if err != nil {
		return nil, err
	}

	session := &media.PlaybackSession{
		UserID:            in.UserID,
		ItemID:            item.ID,
		CapabilityVersion: profile.Version,
	}
	if err := o.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	if in.OriginatorType != "" && in.OriginatorType != media.SeedSingle {
		g, err := o.playlists.Create(ctx, session.ID, playlist.Seed{
			Type: in.OriginatorType,
			ID:   in.OriginatorID,
		})
		if err != nil {
			return nil, err
		}
		if in.Shuffle {
			if _, err := o.playlists.SetShuffle(ctx, g.UUID, true); err != nil {
				return nil, err
			}
		}
		if in.Repeat {
			if _, err := o.playlists.SetRepeat(ctx, g.UUID, true); err != nil {
				return nil, err
			}
		}
		session.PlaylistGeneratorID = g.UUID
	}

	session.Plan = plan
	session.State = media.SessionPlaying
	if err := o.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}

	metrics.PlaybackSessionsActive.Inc()
	metrics.PlaybackStarts.WithLabelValues(plan.Mode.String()).Inc()
	o.log.Info().Str("session", session.UUID).Int64("item", item.ID).
		Stringer("mode", plan.Mode).Msg("playback started")

	return &StartResponse{
		SessionID:           session.UUID,
		PlaylistGeneratorID: session.PlaylistGeneratorID,
		PlaybackURL:         plan.URL(),
		TrickplayURL:        fmt.Sprintf("/library/items/%s/trickplay/%d", item.UUID, partIndexOf(mi, plan.MediaPartID)),
		DurationMs:          mi.DurationMs,
		Plan:                plan,
		CapabilityVersion:   profile.Version,
	}, nil
}

// Heartbeat records the playhead and reports plan staleness.
func (o *Orchestrator) Heartbeat(ctx context.Context, sessionID string, playheadMs int64, paused bool, capabilityVersion int) (bool, error) {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	state := media.SessionPlaying
	if paused {
		state = media.SessionPaused
	}
	if err := o.store.TouchSession(ctx, sessionID, playheadMs, state); err != nil {
		return false, err
	}
	return capabilityVersion != session.CapabilityVersion, nil
}

// Decide advances the session's playlist per the client's intent and returns
// a fresh plan for the item it landed on.
func (o *Orchestrator) Decide(ctx context.Context, in DecideInput) (*DecideResponse, error) {
	session, err := o.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if in.ProgressMs > 0 {
		session.PlayheadMs = in.ProgressMs
	}

	switch in.Direction {
	case DirectionStop:
		if err := o.Stop(ctx, in.SessionID); err != nil {
			return nil, err
		}
		return &DecideResponse{Action: DirectionStop}, nil
	case DirectionStay:
		return &DecideResponse{
			Action:      DirectionStay,
			PlaybackURL: session.Plan.URL(),
			Plan:        session.Plan,
		}, nil
	}

	if session.PlaylistGeneratorID == "" {
		// No queue to navigate; a single item ends after itself.
		if err := o.Stop(ctx, in.SessionID); err != nil {
			return nil, err
		}
		return &DecideResponse{Action: DirectionStop}, nil
	}

	var entry *media.PlaylistEntry
	switch in.Direction {
	case DirectionNext:
		entry, err = o.playlists.Next(ctx, session.PlaylistGeneratorID)
	case DirectionPrevious:
		entry, err = o.playlists.Previous(ctx, session.PlaylistGeneratorID)
	case DirectionJump:
		entry, err = o.playlists.JumpTo(ctx, session.PlaylistGeneratorID, in.JumpIndex)
	default:
		return nil, errdef.Invalid("unknown direction %q", string(in.Direction))
	}
	if err != nil {
		return nil, err
	}
	if entry == nil {
		if err := o.Stop(ctx, in.SessionID); err != nil {
			return nil, err
		}
		return &DecideResponse{Action: DirectionStop}, nil
	}

	item, err := o.store.GetMetadataItem(ctx, entry.ItemID)
	if err != nil {
		return nil, err
	}
	profile, err := o.store.GetCapabilityProfile(ctx, session.UserID, in.DeviceID)
	if err != nil {
		return nil, err
	}
	plan, mi, err := o.planFor(ctx, item, profile.Profile)
	if err != nil {
		return nil, err
	}

	session.ItemID = item.ID
	session.Plan = plan
	session.PlayheadMs = 0
	session.State = media.SessionPlaying
	session.LastHeartbeatAt = time.Now()
	if err := o.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}

	return &DecideResponse{
		Action:        in.Direction,
		PlaybackURL:   plan.URL(),
		Plan:          plan,
		NextItemID:    item.ID,
		NextItemTitle: item.Title,
		NextIndex:     entry.Index,
		DurationMs:    mi.DurationMs,
	}, nil
}

// Seek maps a target to the nearest preceding keyframe using the part's GoP
// index. Without an index the exact target comes back and the player falls
// back to a coarse seek.
func (o *Orchestrator) Seek(ctx context.Context, sessionID string, mediaPartID, targetMs int64) (*SeekResponse, error) {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Plan != nil && session.Plan.Mode == media.ModeDirectPlay {
		return nil, errdef.Invalid("direct-play sessions seek client-side")
	}

	part, err := o.store.GetMediaPart(ctx, mediaPartID)
	if err != nil {
		return nil, err
	}
	item, err := o.itemForPart(ctx, part)
	if err != nil {
		return nil, err
	}

	resp := &SeekResponse{KeyframeMs: targetMs, OriginalTargetMs: targetMs}
	ix, err := o.gop.Read(item.UUID, part.PartIndex)
	if err != nil {
		o.log.Warn().Err(err).Int64("part", part.ID).Msg("gop index unreadable, exact seek")
		return resp, nil
	}
	if ix == nil {
		return resp, nil
	}
	if kf, ok := ix.NearestKeyframe(targetMs); ok {
		resp.KeyframeMs = kf.PtsMs
		resp.GopDurationMs = kf.GopDurationMs
		resp.HasGopIndex = true
	}
	return resp, nil
}

// Resume returns the session if it is still within its TTL; expired sessions
// resolve to nil so the client starts fresh.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) (*media.PlaybackSession, error) {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		if errdef.IsKind(err, errdef.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if session.State == media.SessionStopped || session.Expired(time.Now(), o.cfg.SessionTTL) {
		return nil, nil
	}
	return session, nil
}

// Stop terminates the session, cancels its transcodes and retires the
// playlist generator. Stopping twice is a no-op.
func (o *Orchestrator) Stop(ctx context.Context, sessionID string) error {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		if errdef.IsKind(err, errdef.KindNotFound) {
			return nil
		}
		return err
	}
	if session.State == media.SessionStopped {
		return nil
	}

	if o.transcodes != nil {
		if err := o.transcodes.StopSession(ctx, session.ID, true); err != nil {
			o.log.Warn().Err(err).Str("session", sessionID).Msg("transcode teardown failed")
		}
	}
	if session.PlaylistGeneratorID != "" {
		if err := o.playlists.Deactivate(ctx, session.PlaylistGeneratorID); err != nil {
			o.log.Warn().Err(err).Str("session", sessionID).Msg("generator deactivation failed")
		}
	}

	session.State = media.SessionStopped
	if err := o.store.UpdateSession(ctx, session); err != nil {
		return err
	}
	metrics.PlaybackSessionsActive.Dec()
	o.log.Info().Str("session", sessionID).Msg("playback stopped")
	return nil
}

// planFor picks the best playable variant of an item and plans it.
func (o *Orchestrator) planFor(ctx context.Context, item *media.MetadataItem, caps media.Caps) (*media.StreamPlan, *media.MediaItem, error) {
	variants, err := o.store.ListMediaItems(ctx, item.ID)
	if err != nil {
		return nil, nil, err
	}
	for i := range variants {
		parts, err := o.store.ListPartsForItem(ctx, variants[i].ID)
		if err != nil {
			return nil, nil, err
		}
		variants[i].Parts = parts
	}
	mi, part := selectMediaItem(variants)
	if mi == nil {
		return nil, nil, errdef.Unavailable("item %d has no present media", item.ID)
	}
	plan, err := o.planner.Plan(mi, part, caps)
	if err != nil {
		return nil, nil, err
	}
	return plan, mi, nil
}

func (o *Orchestrator) itemForPart(ctx context.Context, part *media.MediaPart) (*media.MetadataItem, error) {
	mi, err := o.store.GetMediaItem(ctx, part.ItemID)
	if err != nil {
		return nil, err
	}
	return o.store.GetMetadataItem(ctx, mi.MetadataID)
}

func partIndexOf(mi *media.MediaItem, partID int64) int {
	for _, p := range mi.Parts {
		if p.ID == partID {
			return p.PartIndex
		}
	}
	return 1
}
