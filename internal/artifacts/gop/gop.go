// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package gop reads and writes GoP index artifacts. An index is the sorted
// keyframe table of one media part; the playback orchestrator uses it to
// align seeks to GoP boundaries.
package gop

import (
	"encoding/xml"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ManuGH/nexa/internal/artifacts"
	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/log"
)

// Entry is one indexed frame position.
type Entry struct {
	PtsMs         int64 `xml:"pts,attr"`
	ByteOffset    int64 `xml:"offset,attr"`
	IsKeyframe    bool  `xml:"key,attr"`
	GopDurationMs int64 `xml:"gopDur,attr"`
}

// Index is the full per-part table, sorted ascending by PtsMs.
type Index struct {
	XMLName xml.Name `xml:"gopIndex"`
	Version int      `xml:"version,attr"`
	Entries []Entry  `xml:"entry"`
}

const currentVersion = 1

// SeekResult is the GoP-aligned answer for one seek target.
type SeekResult struct {
	KeyframeMs    int64 `json:"keyframeMs"`
	GopDurationMs int64 `json:"gopDurationMs"`
	HasGopIndex   bool  `json:"hasGopIndex"`
	OriginalMs    int64 `json:"originalTargetMs"`
}

// NearestKeyframe returns the latest keyframe with PTS <= targetMs. When
// every keyframe lies after the target, the first keyframe is returned; a
// keyframe-free index reports ok=false.
func (ix *Index) NearestKeyframe(targetMs int64) (Entry, bool) {
	// Entries are sorted; binary search over the keyframe subset would need
	// a separate slice, and indexes are small enough that a linear pass from
	// the search point is simpler.
	i := sort.Search(len(ix.Entries), func(i int) bool {
		return ix.Entries[i].PtsMs > targetMs
	})
	for j := i - 1; j >= 0; j-- {
		if ix.Entries[j].IsKeyframe {
			return ix.Entries[j], true
		}
	}
	for j := i; j < len(ix.Entries); j++ {
		if ix.Entries[j].IsKeyframe {
			return ix.Entries[j], true
		}
	}
	return Entry{}, false
}

// Store persists GoP indexes in the sharded artifact tree.
type Store struct {
	root  string
	locks *artifacts.KeyLocks
	log   zerolog.Logger
}

// NewStore returns a store rooted at the media artifact directory.
func NewStore(root string) *Store {
	return &Store{root: root, locks: artifacts.NewKeyLocks(), log: log.WithComponent("gop")}
}

// Write persists the index atomically. Entries are sorted before encoding so
// readers can rely on ascending PTS order.
func (s *Store) Write(uuid string, partIndex int, ix *Index) error {
	unlock := s.locks.Lock(artifacts.Key(uuid, partIndex))
	defer unlock()

	ix.Version = currentVersion
	sort.Slice(ix.Entries, func(i, j int) bool {
		return ix.Entries[i].PtsMs < ix.Entries[j].PtsMs
	})

	buf, err := xml.Marshal(ix)
	if err != nil {
		return fmt.Errorf("encode gop index: %w", err)
	}
	return artifacts.WriteAtomic(artifacts.GopIndexPath(s.root, uuid, partIndex), append([]byte(xml.Header), buf...))
}

// Read loads the index for (uuid, partIndex). A missing file returns
// (nil, nil): playback then seeks without GoP alignment. Corrupt files are
// logged and also return nil.
func (s *Store) Read(uuid string, partIndex int) (*Index, error) {
	raw, err := os.ReadFile(artifacts.GopIndexPath(s.root, uuid, partIndex))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read gop index: %w", err)
	}
	var ix Index
	if err := xml.Unmarshal(raw, &ix); err != nil {
		s.log.Warn().Str("uuid", uuid).Int("part", partIndex).Err(err).Msg("corrupt gop index ignored")
		return nil, errdef.Wrap(errdef.KindArtifactCorrupt, err, "gop index %s.%d", uuid, partIndex)
	}
	return &ix, nil
}

// Remove deletes the index, ignoring a missing file.
func (s *Store) Remove(uuid string, partIndex int) error {
	err := os.Remove(artifacts.GopIndexPath(s.root, uuid, partIndex))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
