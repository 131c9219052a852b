// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package subtitles

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ManuGH/nexa/internal/errdef"
)

// vttTimeRe allows the short "MM:SS.mmm" form WebVTT permits alongside the
// full hour form. Cue settings after the end time are dropped.
var vttTimeRe = regexp.MustCompile(`^(?:(\d+):)?(\d{2}):(\d{2})\.(\d{3})\s*-->\s*(?:(\d+):)?(\d{2}):(\d{2})\.(\d{3})`)

func parseVTT(data []byte) ([]Cue, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if !sc.Scan() || !strings.HasPrefix(strings.TrimPrefix(sc.Text(), "\ufeff"), "WEBVTT") {
		return nil, errdef.New(errdef.KindArtifactCorrupt, "missing WEBVTT header")
	}

	var cues []Cue
	var cur *Cue
	var text []string
	skipBlock := false
	flush := func() {
		if cur != nil {
			cur.Text = strings.Join(text, "\n")
			cues = append(cues, *cur)
		}
		cur = nil
		text = nil
	}
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
			skipBlock = false
		case skipBlock:
			// NOTE/STYLE/REGION content runs to the next blank line.
		case cur != nil:
			text = append(text, line)
		case strings.HasPrefix(trimmed, "NOTE") || trimmed == "STYLE" || trimmed == "REGION":
			skipBlock = true
		default:
			if m := vttTimeRe.FindStringSubmatch(trimmed); m != nil {
				cur = &Cue{StartMs: vttTimestamp(m[1:5]), EndMs: vttTimestamp(m[5:9])}
			}
			// Otherwise it is a cue identifier; the time line follows.
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return cues, nil
}

func vttTimestamp(m []string) int64 {
	var h int64
	if m[0] != "" {
		h, _ = strconv.ParseInt(m[0], 10, 64)
	}
	mi, _ := strconv.ParseInt(m[1], 10, 64)
	s, _ := strconv.ParseInt(m[2], 10, 64)
	ms, _ := strconv.ParseInt(m[3], 10, 64)
	return ((h*60+mi)*60+s)*1000 + ms
}

func writeVTT(buf *bytes.Buffer, cues []Cue) {
	buf.WriteString("WEBVTT\n\n")
	for _, c := range cues {
		fmt.Fprintf(buf, "%s --> %s\n%s\n\n",
			formatVTTTime(c.StartMs), formatVTTTime(c.EndMs), c.Text)
	}
}

func formatVTTTime(ms int64) string {
	return fmt.Sprintf("%02d:%02d:%02d.%03d",
		ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}
