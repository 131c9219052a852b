// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import (
	json "github.com/goccy/go-json"
)

// Rung is one ABR ladder entry.
type Rung struct {
	Width       int   `json:"Width"`
	Height      int   `json:"Height"`
	BitrateKbps int   `json:"BitrateKbps"`
	IsSource    bool  `json:"IsSource,omitempty"`
	BandwidthBs int64 `json:"-"`
}

// StreamPlan is the persisted playback decision for one session. Mode is
// numeric on the wire; older persisted plans with string modes still load.
type StreamPlan struct {
	Mode        PlaybackMode `json:"Mode"`
	MediaPartID int64        `json:"MediaPartId"`
	FileURL     string       `json:"FileUrl,omitempty"`
	RemuxURL    string       `json:"RemuxUrl,omitempty"`
	ManifestURL string       `json:"ManifestUrl,omitempty"`
	Protocol    string       `json:"Protocol,omitempty"`

	VideoStreamIndex    int `json:"VideoStreamIndex,omitempty"`
	AudioStreamIndex    int `json:"AudioStreamIndex,omitempty"`
	SubtitleStreamIndex int `json:"SubtitleStreamIndex,omitempty"`

	// AllowRemuxing is set on DirectStream plans whose container conversion
	// needs no re-encode.
	AllowRemuxing bool `json:"AllowRemuxing,omitempty"`

	Ladder []Rung `json:"Ladder,omitempty"`

	// Reasons records why the planner rejected the simpler modes. Diagnostic
	// only.
	Reasons []string `json:"Reasons,omitempty"`
}

// URL returns the client-facing playback URL for the plan's mode.
func (p *StreamPlan) URL() string {
	switch p.Mode {
	case ModeDirectPlay:
		return p.FileURL
	case ModeDirectStream:
		return p.RemuxURL
	case ModeTranscode:
		return p.ManifestURL
	}
	return ""
}

// EncodePlan serializes a plan for the sessions table.
func EncodePlan(p *StreamPlan) ([]byte, error) {
	return json.Marshal(p)
}

// DecodePlan parses a persisted plan.
func DecodePlan(raw []byte) (*StreamPlan, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var p StreamPlan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
