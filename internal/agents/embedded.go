// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package agents

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ManuGH/nexa/internal/media"
)

var embeddedYearRe = regexp.MustCompile(`\((19|20)\d{2}\)`)

// EmbeddedAgent derives metadata from the file itself: probed duration plus
// filename-level title and year. It ranks below sidecars and above remote
// agents, so it fills gaps without overriding curated data.
type EmbeddedAgent struct{}

func NewEmbeddedAgent() *EmbeddedAgent { return &EmbeddedAgent{} }

func (a *EmbeddedAgent) Name() string       { return "embedded" }
func (a *EmbeddedAgent) Category() Category { return CategoryEmbedded }

func (a *EmbeddedAgent) AppliesTo() []media.MetadataType {
	return []media.MetadataType{
		media.TypeMovie, media.TypeEpisode, media.TypeTrack,
		media.TypePhoto, media.TypeBook, media.TypeComic,
	}
}

func (a *EmbeddedAgent) Fetch(_ context.Context, req Request) (*Result, error) {
	r := &Result{}
	if req.Media != nil && req.Media.DurationMs > 0 {
		d := req.Media.DurationMs
		r.DurationMs = &d
	}
	if req.Media != nil && len(req.Media.Parts) > 0 {
		name := filepath.Base(req.Media.Parts[0].Path)
		name = strings.TrimSuffix(name, filepath.Ext(name))
		if loc := embeddedYearRe.FindStringIndex(name); loc != nil {
			year, _ := strconv.Atoi(name[loc[0]+1 : loc[1]-1])
			r.Year = &year
			name = name[:loc[0]]
		}
		title := strings.TrimSpace(strings.NewReplacer(".", " ", "_", " ").Replace(name))
		setString(&r.Title, title)
	}
	if r.Empty() {
		return nil, nil
	}
	return r, nil
}
