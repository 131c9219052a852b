// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestPlaybackModeJSON(t *testing.T) {
	// Numeric write.
	buf, err := json.Marshal(ModeDirectStream)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "1" {
		t.Errorf("marshal = %s, want 1", buf)
	}

	tests := []struct {
		name    string
		raw     string
		want    PlaybackMode
		wantErr bool
	}{
		{"numeric direct play", "0", ModeDirectPlay, false},
		{"numeric transcode", "2", ModeTranscode, false},
		{"legacy string", `"DirectStream"`, ModeDirectStream, false},
		{"out of range", "9", 0, true},
		{"unknown string", `"Remux"`, 0, true},
		{"wrong type", "true", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m PlaybackMode
			err := json.Unmarshal([]byte(tt.raw), &m)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && m != tt.want {
				t.Errorf("mode = %v, want %v", m, tt.want)
			}
		})
	}
}

func TestStreamPlanRoundTrip(t *testing.T) {
	plan := &StreamPlan{
		Mode:        ModeTranscode,
		MediaPartID: 42,
		ManifestURL: "/transcodes/abc/manifest.mpd",
		Protocol:    "dash",
		Ladder: []Rung{
			{Width: 640, Height: 360, BitrateKbps: 700},
			{Width: 1920, Height: 1080, BitrateKbps: 5000, IsSource: true},
		},
	}
	raw, err := EncodePlan(plan)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodePlan(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Mode != ModeTranscode || got.MediaPartID != 42 || len(got.Ladder) != 2 {
		t.Errorf("decoded plan mismatch: %+v", got)
	}
	if got.URL() != "/transcodes/abc/manifest.mpd" {
		t.Errorf("URL() = %s", got.URL())
	}
}

func TestDecodePlanEmpty(t *testing.T) {
	p, err := DecodePlan(nil)
	if err != nil || p != nil {
		t.Errorf("DecodePlan(nil) = %v, %v", p, err)
	}
}

func TestParseLibraryType(t *testing.T) {
	if _, err := ParseLibraryType("movies"); err != nil {
		t.Errorf("movies rejected: %v", err)
	}
	if _, err := ParseLibraryType("vhs"); err == nil {
		t.Error("vhs accepted")
	}
}

func TestScanStateTerminal(t *testing.T) {
	for _, s := range []ScanState{ScanCompleted, ScanFailed, ScanCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []ScanState{ScanQueued, ScanRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestSessionExpiry(t *testing.T) {
	now := time.Now()
	s := &PlaybackSession{LastHeartbeatAt: now.Add(-121 * time.Second)}
	if !s.Expired(now, 120*time.Second) {
		t.Error("session should be expired")
	}
	s.LastHeartbeatAt = now.Add(-10 * time.Second)
	if s.Expired(now, 120*time.Second) {
		t.Error("session should be live")
	}
}

func TestLockedFieldCheck(t *testing.T) {
	m := &MetadataItem{LockedFields: []string{FieldTitle, FieldSummary}}
	if !m.Locked(FieldTitle) {
		t.Error("title should be locked")
	}
	if m.Locked(FieldYear) {
		t.Error("year should not be locked")
	}
}

func TestCapsSupport(t *testing.T) {
	c := Caps{
		Containers:  []string{"mp4", "mkv"},
		VideoCodecs: []string{"h264"},
		AudioCodecs: []string{"aac", "mp3"},
	}
	if !c.SupportsContainer("MKV") {
		t.Error("container match should be case-insensitive")
	}
	if c.SupportsVideo("hevc") {
		t.Error("hevc should be unsupported")
	}
	if !c.SupportsAudio("aac") {
		t.Error("aac should be supported")
	}
}
