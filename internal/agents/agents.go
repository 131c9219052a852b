// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package agents catalogs metadata providers as capability sets: every agent
// declares its name, category, and applicable metadata types, and may fetch
// fields, provide images, or parse sidecars. Dispatch goes by capability,
// never by concrete type.
package agents

import (
	"context"
	"time"

	"github.com/ManuGH/nexa/internal/media"
)

// Category places an agent in the precedence order: local sidecars first,
// then embedded in-file data, then remote services.
type Category string

const (
	CategoryEmbedded Category = "embedded"
	CategoryLocal    Category = "local"
	CategoryRemote   Category = "remote"
	CategorySidecar  Category = "sidecar"
)

// Request carries one item's context into an agent call.
type Request struct {
	Item *media.MetadataItem
	// Media is the probed playable unit, when one exists.
	Media *media.MediaItem
	// Language is the section's metadata language preference.
	Language string
	// Settings holds the agent-specific overrides from the section settings.
	Settings map[string]string
}

// Result is what one agent learned about an item. Nil pointers and nil
// slices mean "no opinion"; the merge never treats them as clearing a field.
type Result struct {
	Title         *string
	OriginalTitle *string
	SortTitle     *string
	Year          *int
	ReleaseDate   *time.Time
	Summary       *string
	Tagline       *string
	Studio        *string
	ContentRating *string
	DurationMs    *int64
	Genres        []string
	ExternalIDs   map[string]string
	Extra         map[string]string

	People []PersonCredit
	Groups []GroupCredit
	Images []ImageCandidate
}

// Empty reports whether the agent learned nothing.
func (r *Result) Empty() bool {
	if r == nil {
		return true
	}
	return r.Title == nil && r.OriginalTitle == nil && r.SortTitle == nil &&
		r.Year == nil && r.ReleaseDate == nil && r.Summary == nil && r.Tagline == nil &&
		r.Studio == nil && r.ContentRating == nil && r.DurationMs == nil &&
		len(r.Genres) == 0 && len(r.ExternalIDs) == 0 && len(r.Extra) == 0 &&
		len(r.People) == 0 && len(r.Groups) == 0 && len(r.Images) == 0
}

// PersonCredit is one person attached to an item, pre-dedup.
type PersonCredit struct {
	Name        string
	Role        string
	Relation    media.RelationType
	Ordering    int
	BirthYear   int
	ExternalIDs map[string]string
	ThumbURI    string
}

// GroupCredit is one group (band, studio ensemble) attached to an item.
type GroupCredit struct {
	Name        string
	Relation    media.RelationType
	Ordering    int
	ExternalIDs map[string]string
}

// ImageRole classifies an image candidate.
type ImageRole string

const (
	RolePoster   ImageRole = "poster"
	RoleBackdrop ImageRole = "backdrop"
	RoleLogo     ImageRole = "logo"
	RoleThumb    ImageRole = "thumb"
)

// ImageCandidate is one artwork option offered by an agent. Source carries
// the offering agent's category so selection can apply precedence.
type ImageCandidate struct {
	Role   ImageRole
	URI    string
	Width  int
	Height int
	Score  float64
	Source Category
}

// Agent is the minimal capability every provider implements.
type Agent interface {
	Name() string
	Category() Category
	AppliesTo() []media.MetadataType
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// ImageProvider is the optional image capability.
type ImageProvider interface {
	Agent
	ProvideImages(ctx context.Context, req Request) ([]ImageCandidate, error)
}

// Descriptor is the registry's catalog entry surfaced to the admin API.
type Descriptor struct {
	Name        string               `json:"name"`
	Category    Category             `json:"category"`
	AppliesTo   []media.MetadataType `json:"appliesTo"`
	DisplayName string               `json:"displayName"`
	Description string               `json:"description,omitempty"`
}
