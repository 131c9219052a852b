// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ffmpeg wraps the FFmpeg toolchain: the one-shot capability probe,
// the ffprobe media analyzer, the filter-chain validator and the supervised
// process runner. Nothing else in the tree spawns FFmpeg directly.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/log"
)

// AccelKind is a hardware acceleration family.
type AccelKind string

const (
	AccelNone         AccelKind = "none"
	AccelNVENC        AccelKind = "nvenc"
	AccelQSV          AccelKind = "qsv"
	AccelVAAPI        AccelKind = "vaapi"
	AccelVideoToolbox AccelKind = "videotoolbox"
	AccelAMF          AccelKind = "amf"
)

// accelPriority orders kinds best-first for the recommendation.
var accelPriority = []AccelKind{AccelNVENC, AccelQSV, AccelVAAPI, AccelVideoToolbox, AccelAMF}

// referencePairs maps each accel kind to the h264 decoder/encoder pair that
// must both be present for the kind to be usable.
var referencePairs = map[AccelKind][2]string{
	AccelNVENC:        {"h264_cuvid", "h264_nvenc"},
	AccelQSV:          {"h264_qsv", "h264_qsv"},
	AccelVAAPI:        {"h264", "h264_vaapi"}, // VAAPI decodes via hwaccel, not a named decoder
	AccelVideoToolbox: {"h264", "h264_videotoolbox"},
	AccelAMF:          {"h264", "h264_amf"},
}

// Capabilities is the materialized result of the startup probe. All lookups
// are O(1) set membership.
type Capabilities struct {
	Version     string
	Encoders    map[string]struct{}
	Decoders    map[string]struct{}
	Filters     map[string]struct{}
	HWAccels    map[AccelKind]struct{}
	Recommended AccelKind
}

// SupportsEncoder reports whether name is an available encoder.
func (c *Capabilities) SupportsEncoder(name string) bool {
	_, ok := c.Encoders[name]
	return ok
}

// SupportsDecoder reports whether name is an available decoder.
func (c *Capabilities) SupportsDecoder(name string) bool {
	_, ok := c.Decoders[name]
	return ok
}

// SupportsFilter reports whether name is an available filter.
func (c *Capabilities) SupportsFilter(name string) bool {
	_, ok := c.Filters[name]
	return ok
}

// SupportsAccel reports whether the hwaccel kind is available.
func (c *Capabilities) SupportsAccel(kind AccelKind) bool {
	if kind == AccelNone {
		return true
	}
	_, ok := c.HWAccels[kind]
	return ok
}

var probeGroup singleflight.Group

// Probe runs the FFmpeg binary once and materializes its capability sets.
// Concurrent callers share one probe. A missing binary is a fatal
// configuration error; everything downstream must tolerate accel=None.
func Probe(ctx context.Context, ffmpegPath string) (*Capabilities, error) {
	v, err, _ := probeGroup.Do(ffmpegPath, func() (any, error) {
		return probe(ctx, ffmpegPath)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Capabilities), nil
}

func probe(ctx context.Context, ffmpegPath string) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	version, err := run(ctx, ffmpegPath, "-version")
	if err != nil {
		return nil, errdef.Wrap(errdef.KindConfig, err, "ffmpeg binary not usable at %q", ffmpegPath)
	}

	caps := &Capabilities{
		Version:  parseVersion(version),
		Encoders: make(map[string]struct{}),
		Decoders: make(map[string]struct{}),
		Filters:  make(map[string]struct{}),
		HWAccels: make(map[AccelKind]struct{}),
	}

	if out, err := run(ctx, ffmpegPath, "-hide_banner", "-encoders"); err == nil {
		parseCodecList(out, caps.Encoders)
	}
	if out, err := run(ctx, ffmpegPath, "-hide_banner", "-decoders"); err == nil {
		parseCodecList(out, caps.Decoders)
	}
	if out, err := run(ctx, ffmpegPath, "-hide_banner", "-filters"); err == nil {
		parseFilterList(out, caps.Filters)
	}
	if out, err := run(ctx, ffmpegPath, "-hide_banner", "-hwaccels"); err == nil {
		parseHWAccels(out, caps.HWAccels)
	}

	caps.Recommended = recommend(caps)
	logger := log.WithComponent("ffmpeg")
	logger.Info().
		Str("version", caps.Version).
		Int("encoders", len(caps.Encoders)).
		Int("filters", len(caps.Filters)).
		Str("accel", string(caps.Recommended)).
		Msg("ffmpeg capabilities probed")
	return caps, nil
}

func run(ctx context.Context, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w", bin, strings.Join(args, " "), err)
	}
	return out.String(), nil
}

func parseVersion(out string) string {
	// First line: "ffmpeg version 6.1.1 Copyright ...".
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	if len(fields) >= 3 && fields[0] == "ffmpeg" && fields[1] == "version" {
		return fields[2]
	}
	return strings.TrimSpace(line)
}

// parseCodecList handles the -encoders/-decoders table. Lines look like
// " V....D h264_nvenc           NVIDIA NVENC H.264 encoder"; the table is
// preceded by a legend ending in "------".
func parseCodecList(out string, into map[string]struct{}) {
	parseTable(out, func(fields []string) {
		if len(fields) >= 2 {
			into[fields[1]] = struct{}{}
		}
	})
}

// parseFilterList handles the -filters table: " ... scale V->V Scale the
// input video size".
func parseFilterList(out string, into map[string]struct{}) {
	parseTable(out, func(fields []string) {
		if len(fields) >= 2 {
			into[fields[1]] = struct{}{}
		}
	})
}

func parseTable(out string, visit func(fields []string)) {
	sc := bufio.NewScanner(strings.NewReader(out))
	inTable := false
	for sc.Scan() {
		line := sc.Text()
		if !inTable {
			if strings.Contains(line, "-----") {
				inTable = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		visit(fields)
	}
}

func parseHWAccels(out string, into map[AccelKind]struct{}) {
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		switch name {
		case "cuda", "nvdec", "cuvid":
			into[AccelNVENC] = struct{}{}
		case "qsv":
			into[AccelQSV] = struct{}{}
		case "vaapi":
			into[AccelVAAPI] = struct{}{}
		case "videotoolbox":
			into[AccelVideoToolbox] = struct{}{}
		case "amf", "d3d11va":
			into[AccelAMF] = struct{}{}
		}
	}
}

// recommend picks the best accel kind whose reference decoder/encoder pair
// is present. Kinds advertised by -hwaccels but missing the pair are skipped.
func recommend(caps *Capabilities) AccelKind {
	for _, kind := range accelPriority {
		if _, ok := caps.HWAccels[kind]; !ok {
			continue
		}
		pair := referencePairs[kind]
		if caps.SupportsDecoder(pair[0]) && caps.SupportsEncoder(pair[1]) {
			return kind
		}
	}
	return AccelNone
}
