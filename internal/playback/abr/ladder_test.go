// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package abr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLadderNeverUpscales(t *testing.T) {
	rungs := Ladder(Input{SrcWidth: 1280, SrcHeight: 720})
	require.Len(t, rungs, 4)
	for _, r := range rungs {
		require.LessOrEqual(t, r.Height, 720)
	}
}

func TestLadderHonorsBitrateCap(t *testing.T) {
	rungs := Ladder(Input{SrcWidth: 3840, SrcHeight: 2160, MaxBitrateKbps: 3000})
	require.Len(t, rungs, 4) // 240..720
	require.Equal(t, 2500, rungs[len(rungs)-1].BitrateKbps)
}

func TestLadderIncludesSourceInOrder(t *testing.T) {
	rungs := Ladder(Input{
		SrcWidth: 1920, SrcHeight: 1080, SrcBitrateKbps: 8000, IncludeSource: true,
	})
	var src int = -1
	for i, r := range rungs {
		if r.IsSource {
			src = i
		}
		if i > 0 {
			require.GreaterOrEqual(t, r.BitrateKbps, rungs[i-1].BitrateKbps)
		}
	}
	require.NotEqual(t, -1, src)
	require.Equal(t, 8000, rungs[src].BitrateKbps)
}

func TestLadderSourceMatchingRungNotDuplicated(t *testing.T) {
	rungs := Ladder(Input{
		SrcWidth: 1920, SrcHeight: 1080, SrcBitrateKbps: 5000, IncludeSource: true,
	})
	count := 0
	for _, r := range rungs {
		if r.Height == 1080 {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestLadderAllFilteredReturnsLowestRung(t *testing.T) {
	// 240p source with a cap below every catalog bitrate.
	rungs := Ladder(Input{SrcWidth: 426, SrcHeight: 240, MaxBitrateKbps: 100})
	require.Len(t, rungs, 1)
	require.Equal(t, 240, rungs[0].Height)
	require.Equal(t, 400, rungs[0].BitrateKbps)
}

func TestLadderBandwidthDerived(t *testing.T) {
	rungs := Ladder(Input{SrcWidth: 640, SrcHeight: 360})
	require.Equal(t, int64(400*125), rungs[0].BandwidthBs)
}
