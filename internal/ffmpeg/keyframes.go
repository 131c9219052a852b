// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Keyframe is one video packet position from the container index.
type Keyframe struct {
	PtsMs      int64
	ByteOffset int64
}

// Keyframes lists the video keyframe positions of path, ascending by PTS.
// It reads packet headers only, so even large files finish quickly.
func (a *Analyzer) Keyframes(ctx context.Context, path string) ([]Keyframe, error) {
	ctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-select_streams", "v:0",
		"-show_entries", "packet=pts_time,pos,flags",
		"-of", "csv=print_section=0",
		"-i", path,
	}
	cmd := exec.CommandContext(ctx, a.FFprobePath, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe keyframes %s: %w", path, err)
	}
	return parseKeyframes(stdout.String()), nil
}

// parseKeyframes filters the csv packet listing down to keyframes. Lines are
// "pts_time,pos,flags"; packets without a PTS show "N/A" and are skipped.
func parseKeyframes(out string) []Keyframe {
	var frames []Keyframe
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimSpace(line), ",")
		if len(fields) < 3 || !strings.Contains(fields[2], "K") {
			continue
		}
		pts, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		kf := Keyframe{PtsMs: int64(pts * 1000)}
		if pos, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
			kf.ByteOffset = pos
		}
		frames = append(frames, kf)
	}
	return frames
}
