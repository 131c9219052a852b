// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package transcode

import (
	"os"
	"regexp"
	"strconv"
)

// segmentRe matches DASH segment names like chunk-stream0-00042.m4s.
var segmentRe = regexp.MustCompile(`^chunk-stream\d+-(\d+)\.m4s$`)

// GetCurrentTranscodingIndex scans the output directory and returns the
// highest segment index written so far, or -1 when no segment exists yet.
func GetCurrentTranscodingIndex(outputPath string) (int, error) {
	entries, err := os.ReadDir(outputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return -1, nil
		}
		return -1, err
	}
	best := -1
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := segmentRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > best {
			best = n
		}
	}
	return best, nil
}
