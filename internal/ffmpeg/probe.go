// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/ManuGH/nexa/internal/media"
)

// Analyzer runs ffprobe against media files and maps results onto the media
// model. One Analyzer is shared by the file-analyzer stage and the refresh
// orchestrator.
type Analyzer struct {
	FFprobePath string
	Timeout     time.Duration
}

// NewAnalyzer returns an analyzer with the default 30s per-file timeout.
func NewAnalyzer(ffprobePath string) *Analyzer {
	return &Analyzer{FFprobePath: ffprobePath, Timeout: 30 * time.Second}
}

// probeFormat mirrors the ffprobe -show_format JSON.
type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

type probeStream struct {
	Index         int    `json:"index"`
	CodecType     string `json:"codec_type"`
	CodecName     string `json:"codec_name"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Channels      int    `json:"channels"`
	ChannelLayout string `json:"channel_layout"`
	FieldOrder    string `json:"field_order"`
	ColorTransfer string `json:"color_transfer"`

	Tags struct {
		Language string `json:"language"`
		Title    string `json:"title"`
		Rotate   string `json:"rotate"`
	} `json:"tags"`
	SideDataList []struct {
		SideDataType string `json:"side_data_type"`
		Rotation     int    `json:"rotation"`
	} `json:"side_data_list"`
	Disposition struct {
		Default int `json:"default"`
		Forced  int `json:"forced"`
	} `json:"disposition"`
}

type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

// Analyze probes one file and returns the technical characteristics for the
// owning MediaItem. The caller merges the result into the model under the
// field-lock rules.
func (a *Analyzer) Analyze(ctx context.Context, path string) (*media.MediaItem, error) {
	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-i", path,
	}
	cmd := exec.CommandContext(ctx, a.FFprobePath, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output for %s: %w", path, err)
	}
	return mapProbe(&out), nil
}

func mapProbe(out *probeOutput) *media.MediaItem {
	item := &media.MediaItem{
		Container: firstFormat(out.Format.FormatName),
	}
	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		item.DurationMs = int64(d * 1000)
	}
	if br, err := strconv.ParseInt(out.Format.BitRate, 10, 64); err == nil {
		item.Bitrate = br
	}

	for _, s := range out.Streams {
		info := media.StreamInfo{
			Index:    s.Index,
			Codec:    s.CodecName,
			Language: s.Tags.Language,
			Title:    s.Tags.Title,
			Default:  s.Disposition.Default == 1,
			Forced:   s.Disposition.Forced == 1,
		}
		switch s.CodecType {
		case "video":
			info.Type = media.StreamVideo
			info.Width = s.Width
			info.Height = s.Height
			if item.VideoCodec == "" {
				item.VideoCodec = s.CodecName
				item.Width = s.Width
				item.Height = s.Height
				item.HDR = isHDRTransfer(s.ColorTransfer)
				item.Rotation = rotationOf(s)
				item.Interlaced = isInterlaced(s.FieldOrder)
			}
		case "audio":
			info.Type = media.StreamAudio
			info.Channels = s.Channels
			info.Layout = s.ChannelLayout
			if item.AudioCodec == "" {
				item.AudioCodec = s.CodecName
			}
		case "subtitle":
			info.Type = media.StreamSubtitle
		default:
			continue
		}
		item.Streams = append(item.Streams, info)
	}
	return item
}

// firstFormat picks the canonical container from ffprobe's comma list
// ("matroska,webm" → "matroska").
func firstFormat(name string) string {
	first, _, _ := strings.Cut(name, ",")
	return first
}

func isHDRTransfer(transfer string) bool {
	switch transfer {
	case "smpte2084", "arib-std-b67": // PQ and HLG
		return true
	}
	return false
}

func isInterlaced(fieldOrder string) bool {
	switch fieldOrder {
	case "", "progressive", "unknown":
		return false
	}
	return true
}

func rotationOf(s probeStream) int {
	for _, sd := range s.SideDataList {
		if strings.EqualFold(sd.SideDataType, "Display Matrix") {
			// ffprobe reports counter-clockwise; normalize to [0,360).
			return ((-sd.Rotation % 360) + 360) % 360
		}
	}
	if s.Tags.Rotate != "" {
		if r, err := strconv.Atoi(s.Tags.Rotate); err == nil {
			return ((r % 360) + 360) % 360
		}
	}
	return 0
}
