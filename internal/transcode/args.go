// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcode

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/ManuGH/nexa/internal/ffmpeg"
	"github.com/ManuGH/nexa/internal/media"
)

// encoderFor maps the configured hardware accel kind to an h264 encoder.
// "auto" stays software here; the capability prober upgrades it at wiring
// time when a hardware encoder verified out.
func encoderFor(hwaccel string) string {
	switch hwaccel {
	case "nvenc":
		return "h264_nvenc"
	case "qsv":
		return "h264_qsv"
	case "vaapi":
		return "h264_vaapi"
	case "videotoolbox":
		return "h264_videotoolbox"
	case "amf":
		return "h264_amf"
	default:
		return "libx264"
	}
}

func accelKind(hwaccel string) ffmpeg.AccelKind {
	switch hwaccel {
	case "nvenc":
		return ffmpeg.AccelNVENC
	case "qsv":
		return ffmpeg.AccelQSV
	case "vaapi":
		return ffmpeg.AccelVAAPI
	case "videotoolbox":
		return ffmpeg.AccelVideoToolbox
	case "amf":
		return ffmpeg.AccelAMF
	default:
		return ffmpeg.AccelNone
	}
}

// scaleFilter picks the scaler that keeps frames in the accel family's
// memory; software gets plain scale.
func scaleFilter(kind ffmpeg.AccelKind, width, height int) string {
	switch kind {
	case ffmpeg.AccelNVENC:
		return fmt.Sprintf("scale_cuda=%d:%d", width, height)
	case ffmpeg.AccelQSV:
		return fmt.Sprintf("scale_qsv=%d:%d", width, height)
	case ffmpeg.AccelVAAPI:
		return fmt.Sprintf("scale_vaapi=%d:%d", width, height)
	case ffmpeg.AccelVideoToolbox:
		return fmt.Sprintf("scale_vt=%d:%d", width, height)
	default:
		return fmt.Sprintf("scale=%d:%d", width, height)
	}
}

// ladderFilters builds the per-rung scale chains for the requested accel
// kind and validates them. Any invalid chain drops the whole invocation to
// software: mixed hw/sw rungs would need hwupload/hwdownload bridges that
// cost more than they save.
func ladderFilters(ladder []media.Rung, kind ffmpeg.AccelKind) ([]string, ffmpeg.AccelKind) {
	filters := make([]string, len(ladder))
	vctx := ffmpeg.VideoFilterContext{
		HardwareDecoder: kind != ffmpeg.AccelNone,
		HardwareEncoder: kind != ffmpeg.AccelNone,
		Accel:           kind,
	}
	for i, rung := range ladder {
		if rung.IsSource {
			continue
		}
		f := scaleFilter(kind, rung.Width, rung.Height)
		if res := ffmpeg.ValidateFilterChain(f, vctx); !res.Valid {
			return ladderFilters(ladder, ffmpeg.AccelNone)
		}
		filters[i] = f
	}
	return filters, kind
}

// BuildDASHArgs assembles the FFmpeg invocation for a ladder transcode into
// outputPath/manifest.mpd with chunk-streamN-XXXXX.m4s segments. One output
// stream per rung, audio transcoded once to aac.
func BuildDASHArgs(inputPath, outputPath string, ladder []media.Rung, opts Options, hwaccel string) []string {
	args := []string{}
	if opts.StartTimeMs > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", float64(opts.StartTimeMs)/1000))
	}
	args = append(args, "-i", inputPath)

	filters, kind := ladderFilters(ladder, accelKind(hwaccel))
	encoder := encoderFor(string(kind))
	for i, rung := range ladder {
		idx := strconv.Itoa(i)
		args = append(args, "-map", "0:v:0")
		if rung.IsSource {
			args = append(args,
				"-c:v:"+idx, encoder,
				"-b:v:"+idx, strconv.Itoa(rung.BitrateKbps)+"k",
			)
		} else {
			args = append(args,
				"-c:v:"+idx, encoder,
				"-b:v:"+idx, strconv.Itoa(rung.BitrateKbps)+"k",
				"-filter:v:"+idx, filters[i],
			)
		}
	}
	args = append(args,
		"-map", "0:a:0?",
		"-c:a", "aac",
		"-b:a", "192k",
		"-f", "dash",
		"-seg_duration", strconv.Itoa(opts.SegmentLengthS),
		"-init_seg_name", "init-stream$RepresentationID$."+opts.SegmentExtension,
		"-media_seg_name", opts.SegmentPrefix+"$RepresentationID$-$Number%05d$."+opts.SegmentExtension,
		"-use_template", "1",
		"-use_timeline", "0",
		filepath.Join(outputPath, "manifest.mpd"),
	)
	return args
}
