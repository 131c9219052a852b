// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scan

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// {tmdb-603} style pre-extracted ids anywhere in the name.
	externalIDRe = regexp.MustCompile(`\{([a-z]+)-([^}]+)\}`)
	yearRe       = regexp.MustCompile(`\(((?:19|20)\d{2})\)`)
	// pt1 / part2 / cd1 / disc 2 multi-part suffixes.
	multiPartRe = regexp.MustCompile(`(?i)[ ._-](?:pt|part|cd|disc|disk)[ ._]?(\d{1,2})\b`)
	// S01E02, optionally multi-episode S01E02E03 (first episode wins).
	seasonEpisodeRe = regexp.MustCompile(`(?i)\bs(\d{1,2})[ ._-]?e(\d{1,3})`)
	// 1x02 alternative.
	crossEpisodeRe = regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{2,3})\b`)
	// 2024-05-17 date-based airing.
	airDateRe = regexp.MustCompile(`\b((?:19|20)\d{2})[-.](\d{2})[-.](\d{2})\b`)
	// Track number prefix "03 - Title".
	trackRe = regexp.MustCompile(`^(\d{1,3})[ ._-]+`)
)

// ParsedName is everything the resolver can read off a file name.
type ParsedName struct {
	Title       string
	Year        int
	Season      int // -1 when not episodic
	Episode     int // -1 when not episodic
	AirDate     time.Time
	PartIndex   int // 1-based for pt1/cd1 splits, 0 for single files
	TrackNumber int
	ExternalIDs map[string]string
}

// Episodic reports whether the name carried season/episode or air-date
// information.
func (p ParsedName) Episodic() bool {
	return (p.Season >= 0 && p.Episode >= 0) || !p.AirDate.IsZero()
}

// ParseFileName extracts structure from one media file name. Parsing is
// forgiving: anything unrecognized stays in the title.
func ParseFileName(name string) ParsedName {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	p := ParsedName{Season: -1, Episode: -1}

	for _, m := range externalIDRe.FindAllStringSubmatch(base, -1) {
		if p.ExternalIDs == nil {
			p.ExternalIDs = make(map[string]string)
		}
		p.ExternalIDs[m[1]] = m[2]
	}
	base = externalIDRe.ReplaceAllString(base, "")

	if m := yearRe.FindStringSubmatch(base); m != nil {
		p.Year, _ = strconv.Atoi(m[1])
		base = strings.Replace(base, m[0], "", 1)
	}
	if m := multiPartRe.FindStringSubmatch(base); m != nil {
		p.PartIndex, _ = strconv.Atoi(m[1])
		base = strings.Replace(base, m[0], "", 1)
	}
	if m := seasonEpisodeRe.FindStringSubmatch(base); m != nil {
		p.Season, _ = strconv.Atoi(m[1])
		p.Episode, _ = strconv.Atoi(m[2])
		base = base[:strings.Index(base, m[0])]
	} else if m := crossEpisodeRe.FindStringSubmatch(base); m != nil {
		p.Season, _ = strconv.Atoi(m[1])
		p.Episode, _ = strconv.Atoi(m[2])
		base = base[:strings.Index(base, m[0])]
	} else if m := airDateRe.FindStringSubmatch(base); m != nil {
		if t, err := time.Parse("2006-01-02",
			fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])); err == nil {
			p.AirDate = t
			base = base[:strings.Index(base, m[0])]
		}
	}
	if m := trackRe.FindStringSubmatch(base); m != nil && !p.Episodic() {
		p.TrackNumber, _ = strconv.Atoi(m[1])
		base = base[len(m[0]):]
	}

	p.Title = cleanTitle(base)
	return p
}

// cleanTitle normalizes separators and trims release-name residue.
func cleanTitle(s string) string {
	s = strings.NewReplacer(".", " ", "_", " ").Replace(s)
	s = strings.Trim(s, " -")
	return strings.Join(strings.Fields(s), " ")
}

// PathKey is the fallback identity for items without any external id: a
// stable hash of the normalized path scoped to the section. Renames produce
// a new key, which is the accepted tradeoff for id-less files.
func PathKey(sectionID int64, path string) map[string]string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%d:%s", sectionID, filepath.Clean(path))))
	return map[string]string{"nexa-path": hex.EncodeToString(sum[:])}
}

// groupKey strips the multi-part suffix so `movie-pt1.mkv` and
// `movie-pt2.mkv` group into one candidate item.
func groupKey(path string) string {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	return multiPartRe.ReplaceAllString(base, "")
}
