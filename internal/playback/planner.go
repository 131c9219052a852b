// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package playback

import (
	"fmt"

	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/playback/abr"
)

// remuxableContainers can be rewrapped without re-encode when the codecs
// already fit the target container.
var remuxableContainers = map[string]bool{
	"mkv": true, "avi": true, "mov": true, "ts": true, "m2ts": true,
	"mp4": true, "webm": true,
}

// Planner turns a probed media item plus client capabilities into a stream
// plan. URL templates are filled by the API layer's base URL.
type Planner struct {
	MaxBitrateKbps int
}

// Plan chooses the cheapest mode the capability profile can play. The part
// must carry a probed duration; duration zero means analysis never ran and
// nothing sensible can be planned.
func (pl *Planner) Plan(item *media.MediaItem, part *media.MediaPart, caps media.Caps) (*media.StreamPlan, error) {
	if item.DurationMs == 0 {
		return nil, errdef.New(errdef.KindPlaybackUnsupported,
			"part %d has no probed duration; cannot plan playback", part.ID)
	}

	var reasons []string

	videoOK := item.VideoCodec == "" || caps.SupportsVideo(item.VideoCodec)
	audioOK := item.AudioCodec == "" || caps.SupportsAudio(item.AudioCodec)
	containerOK := caps.SupportsContainer(part.Container)
	hdrOK := !item.HDR || caps.SupportsHDR
	sizeOK := (caps.MaxWidth == 0 || item.Width <= caps.MaxWidth) &&
		(caps.MaxHeight == 0 || item.Height <= caps.MaxHeight)
	bitrateOK := caps.MaxBitrateKbps == 0 || item.Bitrate/1000 <= int64(caps.MaxBitrateKbps)

	if !videoOK {
		reasons = append(reasons, fmt.Sprintf("video codec %s unsupported", item.VideoCodec))
	}
	if !audioOK {
		reasons = append(reasons, fmt.Sprintf("audio codec %s unsupported", item.AudioCodec))
	}
	if !hdrOK {
		reasons = append(reasons, "client cannot render HDR")
	}
	if !sizeOK {
		reasons = append(reasons, fmt.Sprintf("source %dx%d exceeds client limit", item.Width, item.Height))
	}
	if !bitrateOK {
		reasons = append(reasons, fmt.Sprintf("source bitrate %d kbps exceeds client cap", item.Bitrate/1000))
	}

	if videoOK && audioOK && hdrOK && sizeOK && bitrateOK {
		if containerOK {
			return &media.StreamPlan{
				Mode:        media.ModeDirectPlay,
				MediaPartID: part.ID,
				FileURL:     fmt.Sprintf("/library/parts/%d/file", part.ID),
			}, nil
		}
		// Only the container is wrong: remux.
		if remuxableContainers[part.Container] {
			return &media.StreamPlan{
				Mode:          media.ModeDirectStream,
				MediaPartID:   part.ID,
				RemuxURL:      fmt.Sprintf("/library/parts/%d/remux.mp4", part.ID),
				AllowRemuxing: true,
				Reasons:       []string{fmt.Sprintf("container %s unsupported", part.Container)},
			}, nil
		}
		reasons = append(reasons, fmt.Sprintf("container %s not remuxable", part.Container))
	} else if !containerOK {
		reasons = append(reasons, fmt.Sprintf("container %s unsupported", part.Container))
	}

	bitrateCap := pl.MaxBitrateKbps
	if caps.MaxBitrateKbps > 0 && (bitrateCap == 0 || caps.MaxBitrateKbps < bitrateCap) {
		bitrateCap = caps.MaxBitrateKbps
	}
	ladder := abr.Ladder(abr.Input{
		SrcWidth:       item.Width,
		SrcHeight:      item.Height,
		SrcBitrateKbps: int(item.Bitrate / 1000),
		MaxBitrateKbps: bitrateCap,
		IncludeSource:  videoOK && hdrOK,
	})
	return &media.StreamPlan{
		Mode:        media.ModeTranscode,
		MediaPartID: part.ID,
		ManifestURL: fmt.Sprintf("/library/parts/%d/manifest.mpd", part.ID),
		Protocol:    string(media.ProtocolDASH),
		Ladder:      ladder,
		Reasons:     reasons,
	}, nil
}

// selectMediaItem picks the highest-quality playable variant: parts present
// and not missing, preferring resolution then bitrate.
func selectMediaItem(variants []media.MediaItem) (*media.MediaItem, *media.MediaPart) {
	var (
		best     *media.MediaItem
		bestPart *media.MediaPart
	)
	for i := range variants {
		v := &variants[i]
		part := firstPresentPart(v.Parts)
		if part == nil {
			continue
		}
		if best == nil || v.Height > best.Height ||
			(v.Height == best.Height && v.Bitrate > best.Bitrate) {
			best, bestPart = v, part
		}
	}
	return best, bestPart
}

func firstPresentPart(parts []media.MediaPart) *media.MediaPart {
	for i := range parts {
		if parts[i].MissingSince == nil {
			return &parts[i]
		}
	}
	return nil
}
