// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package subtitles

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/nexa/internal/config"
	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/ffmpeg"
	"github.com/ManuGH/nexa/internal/log"
)

// Extractor pulls embedded subtitle streams out of media containers with
// FFmpeg. Text streams re-encode to the requested format; image-based
// streams (pgs) come out as raw .sup for clients that render them.
type Extractor struct {
	cfg config.TranscodeConfig
	run func(ctx context.Context, args []string) error
	log zerolog.Logger
}

func NewExtractor(cfg config.TranscodeConfig) *Extractor {
	e := &Extractor{cfg: cfg, log: log.WithComponent("subtitles")}
	e.run = func(ctx context.Context, args []string) error {
		r := ffmpeg.NewRunner(cfg.FFmpegPath, args)
		if _, err := r.Start(ctx); err != nil {
			return err
		}
		code, err := r.Wait()
		if code != 0 {
			return errdef.New(errdef.KindUnavailable, "ffmpeg exit %d: %s",
				code, strings.Join(r.LastLogLines(3), "; "))
		}
		return err
	}
	return e
}

// Extract demuxes subtitle stream streamIndex (0-based among subtitle
// streams) from mediaPath and returns it as outputFmt. The caller owns the
// returned reader; Close deletes the scratch file.
func (e *Extractor) Extract(ctx context.Context, mediaPath string, streamIndex int, outputFmt Format) (io.ReadCloser, error) {
	codec, muxer, err := extractTarget(outputFmt)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp("", "nexa-sub-*."+string(outputFmt))
	if err != nil {
		return nil, err
	}
	path := tmp.Name()
	_ = tmp.Close()

	args := []string{
		"-i", mediaPath,
		"-map", fmt.Sprintf("0:s:%d", streamIndex),
		"-c:s", codec,
		"-f", muxer,
		"-y", path,
	}
	if err := e.run(ctx, args); err != nil {
		_ = os.Remove(path)
		e.log.Warn().Err(err).Str("media", filepath.Base(mediaPath)).
			Int("stream", streamIndex).Msg("subtitle extraction failed")
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return &tempFile{File: f, path: path}, nil
}

// ExtractConverted extracts a text stream and applies cue-time windowing in
// one step, the shape the streaming handler wants.
func (e *Extractor) ExtractConverted(ctx context.Context, mediaPath string, streamIndex int, outputFmt Format, startTicks, endTicks int64) (io.Reader, error) {
	if !textFormat(outputFmt) {
		return nil, errdef.Invalid("windowed extraction needs a text format, got %q", outputFmt)
	}
	// Extract losslessly to srt, then window/render in-process.
	raw, err := e.Extract(ctx, mediaPath, streamIndex, FormatSRT)
	if err != nil {
		return nil, err
	}
	defer raw.Close()
	return Convert(raw, FormatSRT, outputFmt, startTicks, endTicks)
}

func extractTarget(f Format) (codec, muxer string, err error) {
	switch f {
	case FormatSRT:
		return "srt", "srt", nil
	case FormatVTT:
		return "webvtt", "webvtt", nil
	case FormatASS:
		return "ass", "ass", nil
	case FormatPGS:
		return "copy", "sup", nil
	default:
		return "", "", errdef.Invalid("unsupported extraction format %q", f)
	}
}

// tempFile deletes its backing file on Close.
type tempFile struct {
	*os.File
	path string
}

func (t *tempFile) Close() error {
	err := t.File.Close()
	_ = os.Remove(t.path)
	return err
}
