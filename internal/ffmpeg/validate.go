// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"fmt"
	"strings"
)

// VideoFilterContext describes the pipeline surrounding a candidate filter
// graph. The stream planner fills this in from the media item, the
// capability profile and the probed capabilities.
type VideoFilterContext struct {
	SourceCodec  string
	TargetCodec  string
	SourceWidth  int
	SourceHeight int
	TargetWidth  int
	TargetHeight int

	HDRSource      bool
	HDRTarget      bool
	ToneMapEnabled bool
	Rotation       int
	Interlaced     bool
	BurnSubtitles  bool

	HardwareDecoder bool
	HardwareEncoder bool
	Accel           AccelKind

	Capabilities *Capabilities
}

// ValidationResult is advisory to the stream planner; validation never
// panics and never returns a Go error.
type ValidationResult struct {
	Valid                    bool
	Errors                   []string
	RequiresSoftwareFallback bool
}

// hwFrameFilters maps filters that operate on hardware frames to their
// accel family. Everything not listed here (and not hwupload/hwdownload)
// consumes system-memory frames.
var hwFrameFilters = map[string]AccelKind{
	"scale_cuda":         AccelNVENC,
	"scale_npp":          AccelNVENC,
	"overlay_cuda":       AccelNVENC,
	"yadif_cuda":         AccelNVENC,
	"tonemap_cuda":       AccelNVENC,
	"scale_qsv":          AccelQSV,
	"overlay_qsv":        AccelQSV,
	"deinterlace_qsv":    AccelQSV,
	"vpp_qsv":            AccelQSV,
	"scale_vaapi":        AccelVAAPI,
	"overlay_vaapi":      AccelVAAPI,
	"deinterlace_vaapi":  AccelVAAPI,
	"tonemap_vaapi":      AccelVAAPI,
	"scale_vt":           AccelVideoToolbox,
	"yadif_videotoolbox": AccelVideoToolbox,
}

// toneMapFilters are accepted as satisfying the HDR-to-SDR requirement.
var toneMapFilters = map[string]struct{}{
	"tonemap": {}, "tonemap_vaapi": {}, "tonemap_cuda": {}, "tonemapx": {},
	"zscale": {},
}

// ValidateFilterChain checks a candidate video filter graph against the
// context. Returned errors are actionable strings for the planner log; a
// missing filter additionally flags the software fallback.
func ValidateFilterChain(graph string, vctx VideoFilterContext) ValidationResult {
	res := ValidationResult{Valid: true}
	fail := func(format string, args ...any) {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}

	filters := splitGraph(graph)
	if len(filters) == 0 && graph != "" {
		fail("filter graph %q did not parse", graph)
		return res
	}

	// Rule: hardware decoder emits hw frames; the first system-memory
	// filter needs a preceding hwdownload.
	if vctx.HardwareDecoder && len(filters) > 0 {
		first := filters[0]
		if !isHWFrameFilter(first) && first != "hwdownload" {
			fail("hardware decoder output feeds system-memory filter %q; insert hwdownload first", first)
		}
	}

	// Rule: hardware encoder consumes hw frames; the final filter must leave
	// frames in hardware memory or be followed by hwupload.
	if vctx.HardwareEncoder && len(filters) > 0 {
		last := filters[len(filters)-1]
		if !isHWFrameFilter(last) && last != "hwupload" && !strings.HasPrefix(last, "hwupload") {
			fail("hardware encoder input requires hwupload after system-memory filter %q", last)
		}
	}

	// Rule: one hardware device family per graph.
	seen := AccelNone
	for _, f := range filters {
		kind, ok := hwFrameFilters[f]
		if !ok {
			continue
		}
		if seen == AccelNone {
			seen = kind
			continue
		}
		if seen != kind {
			fail("filter graph mixes %s and %s hardware frames", seen, kind)
			break
		}
	}
	if seen != AccelNone && vctx.Accel != AccelNone && seen != vctx.Accel {
		fail("filter graph uses %s frames but the session accel is %s", seen, vctx.Accel)
	}

	// Rule: every referenced filter must exist in the probed capabilities;
	// a miss is what the software fallback is for.
	if vctx.Capabilities != nil {
		for _, f := range filters {
			if !vctx.Capabilities.SupportsFilter(f) {
				fail("filter %q not supported by this ffmpeg build", f)
				res.RequiresSoftwareFallback = true
			}
		}
	}

	// Rule: HDR source to SDR target with tone mapping enabled needs a
	// tone-map filter; conversely a tone-map filter is wrong anywhere else.
	needsToneMap := vctx.HDRSource && !vctx.HDRTarget && vctx.ToneMapEnabled
	hasToneMap := false
	for _, f := range filters {
		if _, ok := toneMapFilters[f]; ok {
			hasToneMap = true
			break
		}
	}
	if needsToneMap && !hasToneMap {
		fail("HDR source with SDR target requires a tone-map filter")
	}
	if !needsToneMap && hasToneMap {
		fail("tone-map filter present but no HDR-to-SDR conversion is needed")
	}

	return res
}

func isHWFrameFilter(name string) bool {
	_, ok := hwFrameFilters[name]
	return ok
}

// splitGraph extracts filter names from a simple filtergraph string:
// "scale=1280:720,tonemap=hable" yields ["scale", "tonemap"]. Labelled
// multi-chain graphs keep only the filter tokens.
func splitGraph(graph string) []string {
	var names []string
	for _, chain := range strings.Split(graph, ";") {
		for _, stage := range strings.Split(chain, ",") {
			stage = strings.TrimSpace(stage)
			if stage == "" {
				continue
			}
			// Strip link labels: "[0:v]scale=..[out]".
			for strings.HasPrefix(stage, "[") {
				end := strings.Index(stage, "]")
				if end < 0 {
					break
				}
				stage = stage[end+1:]
			}
			if i := strings.Index(stage, "["); i >= 0 {
				stage = stage[:i]
			}
			name, _, _ := strings.Cut(stage, "=")
			name = strings.TrimSpace(name)
			if name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}
