// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package subtitles converts subtitle streams between formats. Text formats
// (srt, vtt, ass) convert in-process with optional cue-time windowing;
// image-based formats (pgs, vobsub) come out of the container via FFmpeg.
package subtitles

import (
	"bytes"
	"io"

	"github.com/ManuGH/nexa/internal/errdef"
)

// Format names a subtitle codec/container.
type Format string

const (
	FormatSRT    Format = "srt"
	FormatVTT    Format = "vtt"
	FormatASS    Format = "ass"
	FormatPGS    Format = "pgs"
	FormatVobSub Format = "vobsub"
)

// ticksPerMs converts 100ns ticks, the unit clients send for subtitle
// windows, to milliseconds.
const ticksPerMs = 10_000

// Cue is one timed subtitle event. Text uses \n for line breaks and carries
// no format-specific markup except what the source format embeds inline.
type Cue struct {
	StartMs int64
	EndMs   int64
	Text    string
}

// GetMimeType returns the content type served for a subtitle format.
func GetMimeType(f Format) string {
	switch f {
	case FormatVTT:
		return "text/vtt"
	case FormatSRT:
		return "application/x-subrip"
	case FormatASS:
		return "text/x-ssa"
	default:
		return "application/octet-stream"
	}
}

func textFormat(f Format) bool {
	switch f {
	case FormatSRT, FormatVTT, FormatASS:
		return true
	}
	return false
}

// Convert reads a text subtitle stream in inputFmt and returns it rendered
// as outputFmt. startTicks/endTicks (100ns units, 0 = unbounded) window the
// output to cues overlapping that span; cue times stay absolute.
// Image-based inputs are rejected here: they only exist inside containers,
// see Extractor.
func Convert(r io.Reader, inputFmt, outputFmt Format, startTicks, endTicks int64) (io.Reader, error) {
	if !textFormat(inputFmt) {
		return nil, errdef.Invalid("subtitle format %q is not text-convertible", inputFmt)
	}
	if !textFormat(outputFmt) {
		return nil, errdef.Invalid("cannot render text subtitles as %q", outputFmt)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var cues []Cue
	switch inputFmt {
	case FormatSRT:
		cues, err = parseSRT(data)
	case FormatVTT:
		cues, err = parseVTT(data)
	case FormatASS:
		cues, err = parseASS(data)
	}
	if err != nil {
		return nil, err
	}
	cues = window(cues, startTicks, endTicks)

	var buf bytes.Buffer
	switch outputFmt {
	case FormatSRT:
		writeSRT(&buf, cues)
	case FormatVTT:
		writeVTT(&buf, cues)
	case FormatASS:
		writeASS(&buf, cues)
	}
	return &buf, nil
}

// window keeps cues overlapping [start, end). A zero end means unbounded.
func window(cues []Cue, startTicks, endTicks int64) []Cue {
	if startTicks == 0 && endTicks == 0 {
		return cues
	}
	startMs := startTicks / ticksPerMs
	endMs := endTicks / ticksPerMs
	out := make([]Cue, 0, len(cues))
	for _, c := range cues {
		if c.EndMs <= startMs {
			continue
		}
		if endMs > 0 && c.StartMs >= endMs {
			continue
		}
		out = append(out, c)
	}
	return out
}
