// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package subtitles

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/nexa/internal/config"
	"github.com/ManuGH/nexa/internal/errdef"
)

const sampleSRT = `1
00:00:01,000 --> 00:00:02,500
Hello there.

2
00:00:04,000 --> 00:00:06,000
Two lines
of dialogue.

3
00:00:10,000 --> 00:00:12,000
<i>Farewell.</i>
`

const sampleVTT = `WEBVTT

NOTE generated for tests

00:00:01.000 --> 00:00:02.500
Hello there.

intro-2
00:00:04.000 --> 00:00:06.000 line:90%
Two lines
of dialogue.
`

const sampleASS = `[Script Info]
ScriptType: v4.00+

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text
Dialogue: 0,0:00:01.00,0:00:02.50,Default,,0,0,0,,{\i1}Hello{\i0} there.
Dialogue: 0,0:00:04.00,0:00:06.00,Default,,0,0,0,,Two lines\Nof dialogue.
`

func convert(t *testing.T, input string, in, out Format, startTicks, endTicks int64) string {
	t.Helper()
	r, err := Convert(strings.NewReader(input), in, out, startTicks, endTicks)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestParseSRT(t *testing.T) {
	cues, err := parseSRT([]byte(sampleSRT))
	require.NoError(t, err)
	require.Len(t, cues, 3)
	assert.Equal(t, Cue{StartMs: 1000, EndMs: 2500, Text: "Hello there."}, cues[0])
	assert.Equal(t, "Two lines\nof dialogue.", cues[1].Text)
	assert.Equal(t, int64(10_000), cues[2].StartMs)
}

func TestParseVTTSkipsNotesAndSettings(t *testing.T) {
	cues, err := parseVTT([]byte(sampleVTT))
	require.NoError(t, err)
	require.Len(t, cues, 2)
	assert.Equal(t, int64(1000), cues[0].StartMs)
	assert.Equal(t, "Two lines\nof dialogue.", cues[1].Text)
}

func TestParseVTTRequiresHeader(t *testing.T) {
	_, err := parseVTT([]byte("00:00:01.000 --> 00:00:02.000\nhi\n"))
	require.Error(t, err)
	assert.True(t, errdef.IsKind(err, errdef.KindArtifactCorrupt))
}

func TestParseASSStripsOverrideTags(t *testing.T) {
	cues, err := parseASS([]byte(sampleASS))
	require.NoError(t, err)
	require.Len(t, cues, 2)
	assert.Equal(t, Cue{StartMs: 1000, EndMs: 2500, Text: "Hello there."}, cues[0])
	assert.Equal(t, "Two lines\nof dialogue.", cues[1].Text)
}

func TestConvertSRTToVTT(t *testing.T) {
	out := convert(t, sampleSRT, FormatSRT, FormatVTT, 0, 0)
	assert.True(t, strings.HasPrefix(out, "WEBVTT\n"))
	assert.Contains(t, out, "00:00:01.000 --> 00:00:02.500\nHello there.")
	assert.Contains(t, out, "Two lines\nof dialogue.")
}

func TestConvertVTTToSRT(t *testing.T) {
	out := convert(t, sampleVTT, FormatVTT, FormatSRT, 0, 0)
	assert.Contains(t, out, "1\n00:00:01,000 --> 00:00:02,500\nHello there.")
	assert.Contains(t, out, "2\n00:00:04,000 --> 00:00:06,000\nTwo lines\nof dialogue.")
}

func TestConvertASSToSRT(t *testing.T) {
	out := convert(t, sampleASS, FormatASS, FormatSRT, 0, 0)
	assert.Contains(t, out, "Hello there.")
	assert.NotContains(t, out, `{\i1}`)
}

func TestConvertSRTToASS(t *testing.T) {
	out := convert(t, sampleSRT, FormatSRT, FormatASS, 0, 0)
	assert.Contains(t, out, "[Events]")
	assert.Contains(t, out, `Dialogue: 0,0:00:04.00,0:00:06.00,Default,,0,0,0,,Two lines\Nof dialogue.`)
}

func TestConvertRoundTripPreservesCues(t *testing.T) {
	vtt := convert(t, sampleSRT, FormatSRT, FormatVTT, 0, 0)
	back := convert(t, vtt, FormatVTT, FormatSRT, 0, 0)
	orig, err := parseSRT([]byte(sampleSRT))
	require.NoError(t, err)
	got, err := parseSRT([]byte(back))
	require.NoError(t, err)
	assert.Equal(t, orig, got)
}

func TestConvertWindowsCueTimes(t *testing.T) {
	// 3s..7s window keeps only the cue overlapping it; times stay absolute.
	start := int64(3000) * ticksPerMs
	end := int64(7000) * ticksPerMs
	out := convert(t, sampleSRT, FormatSRT, FormatVTT, start, end)
	assert.NotContains(t, out, "Hello there.")
	assert.Contains(t, out, "00:00:04.000")
	assert.NotContains(t, out, "Farewell.")
}

func TestConvertOpenEndedWindow(t *testing.T) {
	out := convert(t, sampleSRT, FormatSRT, FormatSRT, int64(9000)*ticksPerMs, 0)
	assert.Contains(t, out, "Farewell.")
	assert.NotContains(t, out, "Hello there.")
}

func TestConvertRejectsImageFormats(t *testing.T) {
	_, err := Convert(strings.NewReader(""), FormatPGS, FormatVTT, 0, 0)
	require.Error(t, err)
	assert.True(t, errdef.IsKind(err, errdef.KindInvalidInput))

	_, err = Convert(strings.NewReader(sampleSRT), FormatSRT, FormatVobSub, 0, 0)
	require.Error(t, err)
	assert.True(t, errdef.IsKind(err, errdef.KindInvalidInput))
}

func TestGetMimeType(t *testing.T) {
	assert.Equal(t, "text/vtt", GetMimeType(FormatVTT))
	assert.Equal(t, "application/x-subrip", GetMimeType(FormatSRT))
	assert.Equal(t, "text/x-ssa", GetMimeType(FormatASS))
	assert.Equal(t, "application/octet-stream", GetMimeType(FormatPGS))
}

func TestExtractorRunsFFmpegAndCleansUp(t *testing.T) {
	e := NewExtractor(config.Defaults().Transcode)
	var gotArgs []string
	e.run = func(_ context.Context, args []string) error {
		gotArgs = args
		// The output path is the trailing arg; fake the ffmpeg write.
		return os.WriteFile(args[len(args)-1], []byte(sampleSRT), 0o644)
	}

	rc, err := e.Extract(context.Background(), "/media/Heat.mkv", 2, FormatSRT)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, sampleSRT, string(data))

	path := gotArgs[len(gotArgs)-1]
	assert.Contains(t, gotArgs, "0:s:2")
	require.NoError(t, rc.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestExtractConvertedWindows(t *testing.T) {
	e := NewExtractor(config.Defaults().Transcode)
	e.run = func(_ context.Context, args []string) error {
		return os.WriteFile(args[len(args)-1], []byte(sampleSRT), 0o644)
	}

	r, err := e.ExtractConverted(context.Background(), "/media/Heat.mkv", 0, FormatVTT,
		int64(3000)*ticksPerMs, int64(7000)*ticksPerMs)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Two lines")
	assert.NotContains(t, string(data), "Hello there.")
}

func TestExtractRejectsVobSubTarget(t *testing.T) {
	e := NewExtractor(config.Defaults().Transcode)
	_, err := e.Extract(context.Background(), "/media/Heat.mkv", 0, FormatVobSub)
	require.Error(t, err)
	assert.True(t, errdef.IsKind(err, errdef.KindInvalidInput))
}
