// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package abr builds the adaptive-bitrate ladder handed to transcode plans.
package abr

import (
	"sort"

	"github.com/ManuGH/nexa/internal/media"
)

// catalog is the fixed rung set, ascending by bitrate.
var catalog = []media.Rung{
	{Width: 426, Height: 240, BitrateKbps: 400},
	{Width: 640, Height: 360, BitrateKbps: 700},
	{Width: 854, Height: 480, BitrateKbps: 1200},
	{Width: 1280, Height: 720, BitrateKbps: 2500},
	{Width: 1920, Height: 1080, BitrateKbps: 5000},
	{Width: 2560, Height: 1440, BitrateKbps: 10000},
	{Width: 3840, Height: 2160, BitrateKbps: 20000},
}

// Input describes the source and the client-side constraints.
type Input struct {
	SrcWidth       int
	SrcHeight      int
	SrcBitrateKbps int // 0 means unknown
	MaxBitrateKbps int // 0 means uncapped
	IncludeSource  bool
}

// Ladder returns the rung set for a source, ascending by bitrate. Rungs never
// upscale and never exceed the bitrate cap; when everything is filtered the
// lowest catalog rung is returned anyway so playback always has one option.
func Ladder(in Input) []media.Rung {
	var rungs []media.Rung
	for _, r := range catalog {
		if in.SrcHeight > 0 && r.Height > in.SrcHeight {
			continue
		}
		if in.MaxBitrateKbps > 0 && r.BitrateKbps > in.MaxBitrateKbps {
			continue
		}
		rungs = append(rungs, r)
	}

	if in.IncludeSource && in.SrcHeight > 0 && !hasRung(rungs, in.SrcHeight, in.SrcBitrateKbps) {
		src := media.Rung{
			Width:       in.SrcWidth,
			Height:      in.SrcHeight,
			BitrateKbps: in.SrcBitrateKbps,
			IsSource:    true,
		}
		if src.BitrateKbps == 0 {
			src.BitrateKbps = nearestCatalogBitrate(in.SrcHeight)
		}
		rungs = append(rungs, src)
		sort.SliceStable(rungs, func(i, j int) bool {
			return rungs[i].BitrateKbps < rungs[j].BitrateKbps
		})
	}

	if len(rungs) == 0 {
		rungs = []media.Rung{catalog[0]}
	}
	for i := range rungs {
		rungs[i].BandwidthBs = int64(rungs[i].BitrateKbps) * 125
	}
	return rungs
}

func hasRung(rungs []media.Rung, height, bitrate int) bool {
	for _, r := range rungs {
		if r.Height == height && (bitrate == 0 || r.BitrateKbps == bitrate) {
			return true
		}
	}
	return false
}

// nearestCatalogBitrate estimates a source bitrate from the catalog when the
// probe did not report one.
func nearestCatalogBitrate(height int) int {
	best := catalog[0].BitrateKbps
	for _, r := range catalog {
		if r.Height <= height {
			best = r.BitrateKbps
		}
	}
	return best
}
