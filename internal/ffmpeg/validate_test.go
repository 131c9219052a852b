// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func capsWith(filters ...string) *Capabilities {
	c := &Capabilities{
		Encoders: map[string]struct{}{},
		Decoders: map[string]struct{}{},
		Filters:  map[string]struct{}{},
		HWAccels: map[AccelKind]struct{}{},
	}
	for _, f := range filters {
		c.Filters[f] = struct{}{}
	}
	return c
}

func TestSplitGraph(t *testing.T) {
	require.Equal(t, []string{"scale", "tonemap"}, splitGraph("scale=1280:720,tonemap=hable"))
	require.Equal(t, []string{"scale", "overlay"}, splitGraph("[0:v]scale=640:360[a];[a][1:v]overlay[out]"))
	require.Nil(t, splitGraph(""))
}

func TestSoftwareGraphValid(t *testing.T) {
	res := ValidateFilterChain("scale=1280:720", VideoFilterContext{
		Capabilities: capsWith("scale"),
	})
	require.True(t, res.Valid)
	require.Empty(t, res.Errors)
	require.False(t, res.RequiresSoftwareFallback)
}

func TestHardwareDecoderNeedsHwdownload(t *testing.T) {
	res := ValidateFilterChain("scale=1280:720", VideoFilterContext{
		HardwareDecoder: true,
		Accel:           AccelVAAPI,
		Capabilities:    capsWith("scale"),
	})
	require.False(t, res.Valid)
	require.Contains(t, res.Errors[0], "hwdownload")

	res = ValidateFilterChain("hwdownload,scale=1280:720", VideoFilterContext{
		HardwareDecoder: true,
		Accel:           AccelVAAPI,
		Capabilities:    capsWith("hwdownload", "scale"),
	})
	require.True(t, res.Valid)
}

func TestHardwareEncoderNeedsHwupload(t *testing.T) {
	res := ValidateFilterChain("scale=1280:720", VideoFilterContext{
		HardwareEncoder: true,
		Accel:           AccelVAAPI,
		Capabilities:    capsWith("scale"),
	})
	require.False(t, res.Valid)
	require.Contains(t, res.Errors[0], "hwupload")

	res = ValidateFilterChain("scale=1280:720,hwupload", VideoFilterContext{
		HardwareEncoder: true,
		Accel:           AccelVAAPI,
		Capabilities:    capsWith("scale", "hwupload"),
	})
	require.True(t, res.Valid)
}

func TestCrossVendorChainRejected(t *testing.T) {
	res := ValidateFilterChain("scale_cuda=1280:720,tonemap_vaapi", VideoFilterContext{
		Accel:          AccelNVENC,
		HDRSource:      true,
		ToneMapEnabled: true,
		Capabilities:   capsWith("scale_cuda", "tonemap_vaapi"),
	})
	require.False(t, res.Valid)
	require.Contains(t, res.Errors[0], "mixes")
}

func TestUnsupportedFilterFlagsSoftwareFallback(t *testing.T) {
	res := ValidateFilterChain("scale_qsv=1280:720", VideoFilterContext{
		Accel:        AccelQSV,
		Capabilities: capsWith("scale"), // scale_qsv missing
	})
	require.False(t, res.Valid)
	require.True(t, res.RequiresSoftwareFallback)
}

func TestToneMapRequiredForHDRToSDR(t *testing.T) {
	vctx := VideoFilterContext{
		HDRSource:      true,
		HDRTarget:      false,
		ToneMapEnabled: true,
		Capabilities:   capsWith("scale", "tonemap"),
	}
	res := ValidateFilterChain("scale=1920:1080", vctx)
	require.False(t, res.Valid)

	res = ValidateFilterChain("scale=1920:1080,tonemap=hable", vctx)
	require.True(t, res.Valid)
}

func TestToneMapRejectedWhenNotNeeded(t *testing.T) {
	res := ValidateFilterChain("tonemap=hable", VideoFilterContext{
		Capabilities: capsWith("tonemap"),
	})
	require.False(t, res.Valid)
}

func TestRecommendSkipsKindsMissingPair(t *testing.T) {
	caps := capsWith()
	caps.HWAccels[AccelNVENC] = struct{}{}
	caps.HWAccels[AccelVAAPI] = struct{}{}
	// NVENC advertised but encoder pair missing; VAAPI pair complete.
	caps.Decoders["h264"] = struct{}{}
	caps.Encoders["h264_vaapi"] = struct{}{}

	require.Equal(t, AccelVAAPI, recommend(caps))
}

func TestRecommendNoneWithoutHardware(t *testing.T) {
	require.Equal(t, AccelNone, recommend(capsWith()))
}

func TestParseCodecList(t *testing.T) {
	out := `Encoders:
 V..... = Video
 ------
 V....D libx264              libx264 H.264 / AVC
 V....D h264_vaapi           H.264 (VAAPI)
 A....D aac                  AAC (Advanced Audio Coding)`

	into := map[string]struct{}{}
	parseCodecList(out, into)
	require.Contains(t, into, "libx264")
	require.Contains(t, into, "h264_vaapi")
	require.Contains(t, into, "aac")
}

func TestParseVersion(t *testing.T) {
	require.Equal(t, "6.1.1", parseVersion("ffmpeg version 6.1.1 Copyright (c) 2000-2023"))
}
