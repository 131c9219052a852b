// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package playback

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/nexa/internal/artifacts/gop"
	"github.com/ManuGH/nexa/internal/config"
	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
	"github.com/ManuGH/nexa/internal/playlist"
)

type fixture struct {
	store *store.Store
	orch  *Orchestrator
	gop   *gop.Store
	sec   *media.LibrarySection
	dir   *media.Directory
	stops *stopRecorder
}

type stopRecorder struct {
	sessions []int64
}

func (r *stopRecorder) StopSession(_ context.Context, sessionID int64, _ bool) error {
	r.sessions = append(r.sessions, sessionID)
	return nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "nexa.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	sec := &media.LibrarySection{
		Name: "Movies", Type: media.LibraryMovies,
		Locations: []media.SectionLocation{{RootPath: "/movies", Available: true}},
	}
	require.NoError(t, s.CreateSection(ctx, sec))
	loaded, err := s.GetSection(ctx, sec.ID)
	require.NoError(t, err)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	dir := &media.Directory{
		SectionID: loaded.ID, LocationID: loaded.Locations[0].ID,
		Path: "/movies", MtimeSeen: time.Now(),
	}
	require.NoError(t, s.UpsertDirectory(ctx, tx, dir))
	require.NoError(t, tx.Commit())

	gopStore := gop.NewStore(t.TempDir())
	stops := &stopRecorder{}
	cfg := config.Defaults().Playback
	orch := New(s, playlist.New(s, 20), gopStore, stops, cfg)
	return &fixture{store: s, orch: orch, gop: gopStore, sec: loaded, dir: dir, stops: stops}
}

type variant struct {
	container  string
	videoCodec string
	audioCodec string
	width      int
	height     int
	bitrate    int64
	durationMs int64
	hdr        bool
}

func (f *fixture) addItem(t *testing.T, title string, v variant) *media.MetadataItem {
	t.Helper()
	ctx := context.Background()
	item := &media.MetadataItem{SectionID: f.sec.ID, Type: media.TypeMovie, Title: title}
	require.NoError(t, f.store.CreateMetadataItem(ctx, nil, item))

	mi := &media.MediaItem{
		MetadataID: item.ID, SectionID: f.sec.ID,
		DurationMs: v.durationMs, Bitrate: v.bitrate,
		Width: v.width, Height: v.height,
		Container: v.container, VideoCodec: v.videoCodec, AudioCodec: v.audioCodec,
		HDR: v.hdr,
	}
	require.NoError(t, f.store.UpsertMediaItem(ctx, nil, mi))

	tx, err := f.store.BeginTx(ctx)
	require.NoError(t, err)
	part := &media.MediaPart{
		ItemID: mi.ID, DirectoryID: f.dir.ID, SectionID: f.sec.ID,
		PartIndex: 1, Path: "/movies/" + title + "." + v.container,
		Size: 1 << 20, MtimeSeen: time.Now(), Container: v.container,
	}
	require.NoError(t, f.store.UpsertMediaPart(ctx, tx, part))
	require.NoError(t, tx.Commit())
	return item
}

var h264Caps = media.Caps{
	Containers:  []string{"mp4", "mkv"},
	VideoCodecs: []string{"h264"},
	AudioCodecs: []string{"aac"},
	SupportsHDR: false,
}

func (f *fixture) capability(t *testing.T, caps media.Caps) int {
	t.Helper()
	v, err := f.orch.UpsertCapability(context.Background(), "u1", "d1", caps)
	require.NoError(t, err)
	return v
}

func mp4H264() variant {
	return variant{
		container: "mp4", videoCodec: "h264", audioCodec: "aac",
		width: 1920, height: 1080, bitrate: 4_000_000, durationMs: 7_200_000,
	}
}

func TestStartDirectPlay(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(t, "Heat", mp4H264())
	version := f.capability(t, h264Caps)

	resp, err := f.orch.Start(context.Background(), StartInput{
		ItemID: item.ID, UserID: "u1", DeviceID: "d1", CapabilityVersion: version,
	})
	require.NoError(t, err)
	assert.Equal(t, media.ModeDirectPlay, resp.Plan.Mode)
	assert.NotEmpty(t, resp.SessionID)
	assert.Empty(t, resp.PlaylistGeneratorID)
	assert.Equal(t, int64(7_200_000), resp.DurationMs)
	assert.Equal(t, resp.Plan.FileURL, resp.PlaybackURL)
}

func TestStartDirectStreamOnContainerMismatch(t *testing.T) {
	f := newFixture(t)
	v := mp4H264()
	v.container = "mkv"
	item := f.addItem(t, "Heat", v)
	caps := h264Caps
	caps.Containers = []string{"mp4"}
	version := f.capability(t, caps)

	resp, err := f.orch.Start(context.Background(), StartInput{
		ItemID: item.ID, UserID: "u1", DeviceID: "d1", CapabilityVersion: version,
	})
	require.NoError(t, err)
	assert.Equal(t, media.ModeDirectStream, resp.Plan.Mode)
	assert.True(t, resp.Plan.AllowRemuxing)
}

func TestStartTranscodeWithLadder(t *testing.T) {
	f := newFixture(t)
	v := mp4H264()
	v.videoCodec = "hevc"
	item := f.addItem(t, "Heat", v)
	version := f.capability(t, h264Caps)

	resp, err := f.orch.Start(context.Background(), StartInput{
		ItemID: item.ID, UserID: "u1", DeviceID: "d1", CapabilityVersion: version,
	})
	require.NoError(t, err)
	assert.Equal(t, media.ModeTranscode, resp.Plan.Mode)
	assert.Equal(t, string(media.ProtocolDASH), resp.Plan.Protocol)
	require.NotEmpty(t, resp.Plan.Ladder)
	for _, r := range resp.Plan.Ladder {
		assert.LessOrEqual(t, r.Height, 1080)
	}
}

func TestStartRejectsStaleCapabilityVersion(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(t, "Heat", mp4H264())
	version := f.capability(t, h264Caps)
	f.capability(t, h264Caps) // bump

	_, err := f.orch.Start(context.Background(), StartInput{
		ItemID: item.ID, UserID: "u1", DeviceID: "d1", CapabilityVersion: version,
	})
	require.True(t, errdef.IsKind(err, errdef.KindCapabilityMismatch))
}

func TestStartZeroDurationUnsupported(t *testing.T) {
	f := newFixture(t)
	v := mp4H264()
	v.durationMs = 0
	item := f.addItem(t, "Broken", v)
	version := f.capability(t, h264Caps)

	_, err := f.orch.Start(context.Background(), StartInput{
		ItemID: item.ID, UserID: "u1", DeviceID: "d1", CapabilityVersion: version,
	})
	require.True(t, errdef.IsKind(err, errdef.KindPlaybackUnsupported))
}

func TestHeartbeatReportsMismatch(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(t, "Heat", mp4H264())
	version := f.capability(t, h264Caps)

	resp, err := f.orch.Start(context.Background(), StartInput{
		ItemID: item.ID, UserID: "u1", DeviceID: "d1", CapabilityVersion: version,
	})
	require.NoError(t, err)

	mismatch, err := f.orch.Heartbeat(context.Background(), resp.SessionID, 60_000, false, version)
	require.NoError(t, err)
	assert.False(t, mismatch)

	mismatch, err = f.orch.Heartbeat(context.Background(), resp.SessionID, 61_000, true, version+1)
	require.NoError(t, err)
	assert.True(t, mismatch)

	session, err := f.store.GetSession(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(61_000), session.PlayheadMs)
	assert.Equal(t, media.SessionPaused, session.State)
}

func TestStopCancelsTranscodesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(t, "Heat", mp4H264())
	version := f.capability(t, h264Caps)

	resp, err := f.orch.Start(context.Background(), StartInput{
		ItemID: item.ID, UserID: "u1", DeviceID: "d1", CapabilityVersion: version,
	})
	require.NoError(t, err)

	require.NoError(t, f.orch.Stop(context.Background(), resp.SessionID))
	require.Len(t, f.stops.sessions, 1)
	require.NoError(t, f.orch.Stop(context.Background(), resp.SessionID))
	require.Len(t, f.stops.sessions, 1) // second stop is a no-op

	session, err := f.store.GetSession(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, media.SessionStopped, session.State)
}

func TestResumeWithinTTL(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(t, "Heat", mp4H264())
	version := f.capability(t, h264Caps)

	resp, err := f.orch.Start(context.Background(), StartInput{
		ItemID: item.ID, UserID: "u1", DeviceID: "d1", CapabilityVersion: version,
	})
	require.NoError(t, err)

	session, err := f.orch.Resume(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.NotNil(t, session)

	require.NoError(t, f.orch.Stop(context.Background(), resp.SessionID))
	session, err = f.orch.Resume(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Nil(t, session)

	session, err = f.orch.Resume(context.Background(), "no-such-session")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestDecideSingleItemStops(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(t, "Heat", mp4H264())
	version := f.capability(t, h264Caps)

	resp, err := f.orch.Start(context.Background(), StartInput{
		ItemID: item.ID, UserID: "u1", DeviceID: "d1", CapabilityVersion: version,
	})
	require.NoError(t, err)

	decision, err := f.orch.Decide(context.Background(), DecideInput{
		SessionID: resp.SessionID, DeviceID: "d1", Direction: DirectionNext,
	})
	require.NoError(t, err)
	assert.Equal(t, DirectionStop, decision.Action)
}

func TestDecideAdvancesPlaylist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	album := &media.MetadataItem{SectionID: f.sec.ID, Type: media.TypeAlbumRelease, Title: "Album"}
	require.NoError(t, f.store.CreateMetadataItem(ctx, nil, album))
	var first *media.MetadataItem
	for i := 1; i <= 3; i++ {
		v := mp4H264()
		track := f.addItem(t, fmt.Sprintf("Track %d", i), v)
		track.ParentID = &album.ID
		track.Type = media.TypeTrack
		track.Index = i
		require.NoError(t, f.store.UpdateMetadataItem(ctx, track))
		if first == nil {
			first = track
		}
	}
	version := f.capability(t, h264Caps)

	resp, err := f.orch.Start(ctx, StartInput{
		ItemID: first.ID, UserID: "u1", DeviceID: "d1", CapabilityVersion: version,
		OriginatorType: media.SeedAlbum, OriginatorID: album.ID,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.PlaylistGeneratorID)

	decision, err := f.orch.Decide(ctx, DecideInput{
		SessionID: resp.SessionID, DeviceID: "d1", Direction: DirectionNext, ProgressMs: 1000,
	})
	require.NoError(t, err)
	assert.Equal(t, DirectionNext, decision.Action)
	assert.Equal(t, 1, decision.NextIndex)
	require.NotNil(t, decision.Plan)

	session, err := f.store.GetSession(ctx, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, decision.NextItemID, session.ItemID)
	assert.Zero(t, session.PlayheadMs)
}

func TestSeekUsesGopIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := mp4H264()
	v.videoCodec = "hevc" // forces transcode so seek is server-side
	item := f.addItem(t, "Heat", v)
	version := f.capability(t, h264Caps)

	resp, err := f.orch.Start(ctx, StartInput{
		ItemID: item.ID, UserID: "u1", DeviceID: "d1", CapabilityVersion: version,
	})
	require.NoError(t, err)

	loaded, err := f.store.GetMetadataItem(ctx, item.ID)
	require.NoError(t, err)
	ix := &gop.Index{Entries: []gop.Entry{
		{PtsMs: 0, IsKeyframe: true, GopDurationMs: 4000},
		{PtsMs: 4000, IsKeyframe: true, GopDurationMs: 4000},
		{PtsMs: 8000, IsKeyframe: true, GopDurationMs: 4000},
	}}
	require.NoError(t, f.gop.Write(loaded.UUID, 1, ix))

	seek, err := f.orch.Seek(ctx, resp.SessionID, resp.Plan.MediaPartID, 5500)
	require.NoError(t, err)
	assert.True(t, seek.HasGopIndex)
	assert.Equal(t, int64(4000), seek.KeyframeMs)
	assert.Equal(t, int64(5500), seek.OriginalTargetMs)
}

func TestSeekWithoutIndexReturnsTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := mp4H264()
	v.videoCodec = "hevc"
	item := f.addItem(t, "Heat", v)
	version := f.capability(t, h264Caps)

	resp, err := f.orch.Start(ctx, StartInput{
		ItemID: item.ID, UserID: "u1", DeviceID: "d1", CapabilityVersion: version,
	})
	require.NoError(t, err)

	seek, err := f.orch.Seek(ctx, resp.SessionID, resp.Plan.MediaPartID, 5500)
	require.NoError(t, err)
	assert.False(t, seek.HasGopIndex)
	assert.Equal(t, int64(5500), seek.KeyframeMs)
}

func TestSeekRejectedForDirectPlay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.addItem(t, "Heat", mp4H264())
	version := f.capability(t, h264Caps)

	resp, err := f.orch.Start(ctx, StartInput{
		ItemID: item.ID, UserID: "u1", DeviceID: "d1", CapabilityVersion: version,
	})
	require.NoError(t, err)

	_, err = f.orch.Seek(ctx, resp.SessionID, resp.Plan.MediaPartID, 5500)
	require.True(t, errdef.IsKind(err, errdef.KindInvalidInput))
}
