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

// srtTimeRe matches "00:01:02,345 --> 00:01:04,000" with either comma or
// dot milliseconds, since files in the wild mix both.
var srtTimeRe = regexp.MustCompile(`^(\d+):(\d{2}):(\d{2})[,.](\d{1,3})\s*-->\s*(\d+):(\d{2}):(\d{2})[,.](\d{1,3})`)

func parseSRT(data []byte) ([]Cue, error) {
	var cues []Cue
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var cur *Cue
	var text []string
	flush := func() {
		if cur != nil {
			cur.Text = strings.Join(text, "\n")
			cues = append(cues, *cur)
		}
		cur = nil
		text = nil
	}
	for sc.Scan() {
		line := strings.TrimRight(strings.TrimPrefix(sc.Text(), "\ufeff"), "\r")
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case cur == nil:
			if m := srtTimeRe.FindStringSubmatch(trimmed); m != nil {
				cur = &Cue{StartMs: srtTimestamp(m[1:5]), EndMs: srtTimestamp(m[5:9])}
			}
			// Anything else before the time line is the numeric counter.
		default:
			text = append(text, line)
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(cues) == 0 && len(bytes.TrimSpace(data)) > 0 {
		return nil, errdef.New(errdef.KindArtifactCorrupt, "srt input has no parseable cues")
	}
	return cues, nil
}

func srtTimestamp(m []string) int64 {
	h, _ := strconv.ParseInt(m[0], 10, 64)
	mi, _ := strconv.ParseInt(m[1], 10, 64)
	s, _ := strconv.ParseInt(m[2], 10, 64)
	ms, _ := strconv.ParseInt(padMillis(m[3]), 10, 64)
	return ((h*60+mi)*60+s)*1000 + ms
}

// padMillis right-pads short fractions: "5" means 500ms, not 5ms.
func padMillis(s string) string {
	for len(s) < 3 {
		s += "0"
	}
	return s
}

func writeSRT(buf *bytes.Buffer, cues []Cue) {
	for i, c := range cues {
		fmt.Fprintf(buf, "%d\n%s --> %s\n%s\n\n",
			i+1, formatSRTTime(c.StartMs), formatSRTTime(c.EndMs), c.Text)
	}
}

func formatSRTTime(ms int64) string {
	return fmt.Sprintf("%02d:%02d:%02d,%03d",
		ms/3600000, ms/60000%60, ms/1000%60, ms%1000)
}
