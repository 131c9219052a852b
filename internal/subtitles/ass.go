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

// assTimeRe matches "0:00:01.00" (centisecond precision).
var assTimeRe = regexp.MustCompile(`^(\d+):(\d{2}):(\d{2})\.(\d{2})$`)

// assTagRe strips inline override blocks like {\i1} when leaving the format.
var assTagRe = regexp.MustCompile(`\{[^}]*\}`)

// parseASS reads the [Events] section. The Format: line fixes the field
// order; Text is always the trailing field and may itself contain commas.
func parseASS(data []byte) ([]Cue, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	inEvents := false
	startIdx, endIdx, fieldCount := -1, -1, 0
	var cues []Cue
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		switch {
		case strings.HasPrefix(line, "["):
			inEvents = strings.EqualFold(line, "[Events]")
		case !inEvents:
		case strings.HasPrefix(line, "Format:"):
			fields := strings.Split(strings.TrimPrefix(line, "Format:"), ",")
			fieldCount = len(fields)
			for i, f := range fields {
				switch strings.TrimSpace(f) {
				case "Start":
					startIdx = i
				case "End":
					endIdx = i
				}
			}
		case strings.HasPrefix(line, "Dialogue:"):
			if startIdx < 0 || endIdx < 0 {
				return nil, errdef.New(errdef.KindArtifactCorrupt, "ass events lack a Format line")
			}
			parts := strings.SplitN(strings.TrimSpace(strings.TrimPrefix(line, "Dialogue:")), ",", fieldCount)
			if len(parts) < fieldCount {
				continue
			}
			start, ok1 := assTimestamp(strings.TrimSpace(parts[startIdx]))
			end, ok2 := assTimestamp(strings.TrimSpace(parts[endIdx]))
			if !ok1 || !ok2 {
				continue
			}
			text := assTagRe.ReplaceAllString(parts[fieldCount-1], "")
			text = strings.ReplaceAll(text, `\N`, "\n")
			text = strings.ReplaceAll(text, `\n`, "\n")
			cues = append(cues, Cue{StartMs: start, EndMs: end, Text: text})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return cues, nil
}

func assTimestamp(s string) (int64, bool) {
	m := assTimeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.ParseInt(m[1], 10, 64)
	mi, _ := strconv.ParseInt(m[2], 10, 64)
	sec, _ := strconv.ParseInt(m[3], 10, 64)
	cs, _ := strconv.ParseInt(m[4], 10, 64)
	return ((h*60+mi)*60+sec)*1000 + cs*10, true
}

const assHeader = `[Script Info]
ScriptType: v4.00+
PlayResX: 384
PlayResY: 288

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Default,Arial,16,&H00FFFFFF,&H000000FF,&H00000000,&H00000000,0,0,0,0,100,100,0,0,1,1,0,2,10,10,10,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
`

func writeASS(buf *bytes.Buffer, cues []Cue) {
	buf.WriteString(assHeader)
	for _, c := range cues {
		fmt.Fprintf(buf, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			formatASSTime(c.StartMs), formatASSTime(c.EndMs),
			strings.ReplaceAll(c.Text, "\n", `\N`))
	}
}

func formatASSTime(ms int64) string {
	return fmt.Sprintf("%d:%02d:%02d.%02d",
		ms/3600000, ms/60000%60, ms/1000%60, ms%1000/10)
}
