// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/nexa/internal/media"
)

const sampleProbe = `{
  "format": {"format_name": "matroska,webm", "duration": "5400.220000", "bit_rate": "8234567"},
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "hevc", "width": 3840, "height": 2160,
     "field_order": "progressive", "color_transfer": "smpte2084",
     "side_data_list": [{"side_data_type": "Display Matrix", "rotation": -90}],
     "disposition": {"default": 1}},
    {"index": 1, "codec_type": "audio", "codec_name": "eac3", "channels": 6,
     "channel_layout": "5.1(side)", "tags": {"language": "eng"}, "disposition": {"default": 1}},
    {"index": 2, "codec_type": "subtitle", "codec_name": "subrip",
     "tags": {"language": "ger", "title": "German"}, "disposition": {"forced": 1}}
  ]
}`

func TestMapProbe(t *testing.T) {
	var out probeOutput
	require.NoError(t, json.Unmarshal([]byte(sampleProbe), &out))

	item := mapProbe(&out)
	require.Equal(t, "matroska", item.Container)
	require.Equal(t, int64(5400220), item.DurationMs)
	require.Equal(t, int64(8234567), item.Bitrate)
	require.Equal(t, "hevc", item.VideoCodec)
	require.Equal(t, "eac3", item.AudioCodec)
	require.Equal(t, 3840, item.Width)
	require.True(t, item.HDR)
	require.False(t, item.Interlaced)
	require.Equal(t, 90, item.Rotation)
	require.Len(t, item.Streams, 3)

	sub := item.Streams[2]
	require.Equal(t, media.StreamSubtitle, sub.Type)
	require.Equal(t, "ger", sub.Language)
	require.True(t, sub.Forced)
}

func TestMapProbeInterlaced(t *testing.T) {
	out := &probeOutput{Streams: []probeStream{{CodecType: "video", CodecName: "mpeg2video", FieldOrder: "tt"}}}
	require.True(t, mapProbe(out).Interlaced)
}

func TestRotationFromLegacyTag(t *testing.T) {
	s := probeStream{}
	s.Tags.Rotate = "270"
	require.Equal(t, 270, rotationOf(s))
}
