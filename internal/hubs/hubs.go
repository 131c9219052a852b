// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package hubs computes the hub sets behind Home, Library Discover and Item
// Detail surfaces: type-default templates overlaid with admin configuration,
// with content reads behind a short-TTL cache.
package hubs

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
)

// Hub type identifiers.
const (
	TypeRecentlyAdded    = "recently_added"
	TypeContinueWatching = "continue_watching"
	TypePromoted         = "promoted"
	TypeByGenre          = "by_genre"
	TypeCast             = "cast"
	TypeCrew             = "crew"
	TypeSimilar          = "similar"
	TypeRelated          = "related"
)

// defaultTemplates maps a hub context and library type to its default hub
// order. Missing entries fall back to the context-wide default.
var defaultTemplates = map[media.HubContext]map[media.LibraryType][]string{
	media.HubHome: {
		"": {TypeContinueWatching, TypeRecentlyAdded, TypePromoted},
	},
	media.HubLibraryDiscover: {
		"":                 {TypeRecentlyAdded, TypePromoted, TypeByGenre},
		media.LibraryMusic: {TypeRecentlyAdded, TypeByGenre},
	},
	media.HubItemDetail: {
		"":                 {TypeCast, TypeCrew, TypeSimilar, TypeRelated},
		media.LibraryMusic: {TypeRelated, TypeSimilar},
	},
}

var knownTypes = map[string]bool{
	TypeRecentlyAdded: true, TypeContinueWatching: true, TypePromoted: true,
	TypeByGenre: true, TypeCast: true, TypeCrew: true, TypeSimilar: true,
	TypeRelated: true,
}

// Hub is one computed row of a surface.
type Hub struct {
	Type  string               `json:"type"`
	Title string               `json:"title"`
	Key   string               `json:"key"` // stable identity incl. genre qualifier
	Items []media.MetadataItem `json:"items"`
	More  bool                 `json:"more"`
}

// Service resolves hub layouts and fills them with content.
type Service struct {
	store    *store.Store
	cache    *redis.Client // nil disables caching
	ttl      time.Duration
	pageSize int
	log      zerolog.Logger
}

func New(st *store.Store, cache *redis.Client, ttl time.Duration, pageSize int) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Service{
		store:    st,
		cache:    cache,
		ttl:      ttl,
		pageSize: pageSize,
		log:      log.WithComponent("hubs"),
	}
}

// DefaultTypes returns the template order for a context and library type.
func DefaultTypes(hc media.HubContext, lt media.LibraryType) []string {
	byType, ok := defaultTemplates[hc]
	if !ok {
		return nil
	}
	if tpl, ok := byType[lt]; ok {
		return append([]string(nil), tpl...)
	}
	return append([]string(nil), byType[""]...)
}

// EffectiveTypes overlays the admin configuration (most specific first:
// section+type, section, global) onto the default template. Disabled types
// drop out; configured order wins; unknown configured types are skipped for
// rendering but survive in the stored config.
func (s *Service) EffectiveTypes(ctx context.Context, hc media.HubContext, section *media.LibrarySection, mt media.MetadataType) ([]string, error) {
	var sectionID int64
	var lt media.LibraryType
	if section != nil {
		sectionID = section.ID
		lt = section.Type
	}

	cfg, err := s.lookupConfig(ctx, hc, sectionID, mt)
	if err != nil {
		return nil, err
	}
	defaults := DefaultTypes(hc, lt)
	if cfg == nil {
		return defaults, nil
	}

	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, d := range cfg.Disabled {
		disabled[d] = true
	}

	var out []string
	seen := map[string]bool{}
	for _, t := range cfg.Enabled {
		if !knownTypes[t] || disabled[t] || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	// Template types the config never mentions stay visible after the
	// configured ones.
	mentioned := seen
	for _, d := range cfg.Disabled {
		mentioned[d] = true
	}
	for _, t := range defaults {
		if !mentioned[t] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Service) lookupConfig(ctx context.Context, hc media.HubContext, sectionID int64, mt media.MetadataType) (*media.HubConfiguration, error) {
	for _, probe := range []struct {
		section int64
		mt      media.MetadataType
	}{{sectionID, mt}, {sectionID, ""}, {0, ""}} {
		cfg, err := s.store.GetHubConfiguration(ctx, hc, probe.section, probe.mt)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			return cfg, nil
		}
	}
	return nil, nil
}

// SaveConfiguration persists an admin layout, preserving hub types the
// caller's build does not know by moving them to Hidden instead of dropping
// them.
func (s *Service) SaveConfiguration(ctx context.Context, cfg *media.HubConfiguration) error {
	prev, err := s.store.GetHubConfiguration(ctx, cfg.Context, cfg.SectionID, cfg.MetadataType)
	if err != nil {
		return err
	}

	var enabled, hidden []string
	for _, t := range cfg.Enabled {
		if knownTypes[t] {
			enabled = append(enabled, t)
		} else {
			hidden = append(hidden, t)
		}
	}
	if prev != nil {
		present := map[string]bool{}
		for _, t := range append(append([]string{}, enabled...), hidden...) {
			present[t] = true
		}
		for _, t := range prev.Hidden {
			if !present[t] {
				hidden = append(hidden, t)
			}
		}
	}
	cfg.Enabled = enabled
	cfg.Hidden = hidden
	return s.store.SaveHubConfiguration(ctx, cfg)
}

// Page is one pagination window.
type Page struct {
	Offset int
	Limit  int
}

func (s *Service) page(p Page) Page {
	if p.Limit <= 0 || p.Limit > s.pageSize {
		p.Limit = s.pageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// ForSection computes the Library Discover hubs of one section.
func (s *Service) ForSection(ctx context.Context, section *media.LibrarySection, p Page) ([]Hub, error) {
	types, err := s.EffectiveTypes(ctx, media.HubLibraryDiscover, section, "")
	if err != nil {
		return nil, err
	}
	p = s.page(p)

	var hubs []Hub
	for _, t := range types {
		switch t {
		case TypeByGenre:
			genreHubs, err := s.genreHubs(ctx, section, p)
			if err != nil {
				return nil, err
			}
			hubs = append(hubs, genreHubs...)
		default:
			h, err := s.fill(ctx, section, t, "", p)
			if err != nil {
				return nil, err
			}
			if len(h.Items) > 0 {
				hubs = append(hubs, h)
			}
		}
	}
	return hubs, nil
}

// ForHome computes the cross-section Home hubs.
func (s *Service) ForHome(ctx context.Context, sections []media.LibrarySection, p Page) ([]Hub, error) {
	p = s.page(p)
	var hubs []Hub
	for i := range sections {
		section := &sections[i]
		types, err := s.EffectiveTypes(ctx, media.HubHome, section, "")
		if err != nil {
			return nil, err
		}
		for _, t := range types {
			h, err := s.fill(ctx, section, t, "", p)
			if err != nil {
				return nil, err
			}
			if len(h.Items) > 0 {
				h.Title = fmt.Sprintf("%s · %s", section.Name, h.Title)
				hubs = append(hubs, h)
			}
		}
	}
	return hubs, nil
}

// ForItem computes the Item Detail hubs.
func (s *Service) ForItem(ctx context.Context, section *media.LibrarySection, item *media.MetadataItem, p Page) ([]Hub, error) {
	types, err := s.EffectiveTypes(ctx, media.HubItemDetail, section, item.Type)
	if err != nil {
		return nil, err
	}
	p = s.page(p)

	var hubs []Hub
	for _, t := range types {
		var (
			items []media.MetadataItem
			title string
		)
		switch t {
		case TypeCast:
			title = "Cast"
			items, err = s.store.RelatedPeople(ctx, item.ID, media.RelActor, p.Limit)
		case TypeCrew:
			title = "Crew"
			items, err = s.store.RelatedPeople(ctx, item.ID, media.RelDirector, p.Limit)
		case TypeSimilar:
			title = "Similar"
			items, err = s.store.ListSimilar(ctx, item.ID, p.Limit)
		case TypeRelated:
			title = "Related"
			items, err = s.store.ListRelatedTo(ctx, item.ID, media.RelActor, p.Limit)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			hubs = append(hubs, Hub{Type: t, Title: title, Key: t, Items: items})
		}
	}
	return hubs, nil
}

// fill computes one section-level hub, consulting the cache first.
func (s *Service) fill(ctx context.Context, section *media.LibrarySection, hubType, genre string, p Page) (Hub, error) {
	key := fmt.Sprintf("hubs:%d:%s:%s:%d:%d", section.ID, hubType, genre, p.Offset, p.Limit)
	if h, ok := s.cached(ctx, key); ok {
		return h, nil
	}

	var (
		items []media.MetadataItem
		title string
		err   error
	)
	// One extra row answers "is there more" without a count query.
	probe := p.Limit + 1
	switch hubType {
	case TypeRecentlyAdded:
		title = "Recently Added"
		items, err = s.store.ListRecentlyAdded(ctx, section.ID, leafTypes(section.Type), probe, p.Offset)
	case TypeContinueWatching:
		title = "Continue Watching"
		items, err = s.store.ListContinueWatching(ctx, section.ID, probe, p.Offset)
	case TypePromoted:
		title = "Promoted"
		items, err = s.store.ListPromoted(ctx, section.ID, probe, p.Offset)
	case TypeByGenre:
		title = genre
		items, err = s.store.ListByGenre(ctx, section.ID, genre, probe, p.Offset)
	default:
		return Hub{}, nil
	}
	if err != nil {
		return Hub{}, err
	}

	h := Hub{Type: hubType, Title: title, Key: hubType}
	if genre != "" {
		h.Key = hubType + ":" + genre
	}
	if len(items) > p.Limit {
		h.More = true
		items = items[:p.Limit]
	}
	h.Items = items
	s.put(ctx, key, h)
	return h, nil
}

func (s *Service) genreHubs(ctx context.Context, section *media.LibrarySection, p Page) ([]Hub, error) {
	genres, err := s.store.ListSectionGenres(ctx, section.ID, 6)
	if err != nil {
		return nil, err
	}
	var hubs []Hub
	for _, g := range genres {
		h, err := s.fill(ctx, section, TypeByGenre, g, p)
		if err != nil {
			return nil, err
		}
		if len(h.Items) > 0 {
			hubs = append(hubs, h)
		}
	}
	return hubs, nil
}

func (s *Service) cached(ctx context.Context, key string) (Hub, bool) {
	if s.cache == nil {
		return Hub{}, false
	}
	raw, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		return Hub{}, false
	}
	var h Hub
	if err := json.Unmarshal(raw, &h); err != nil {
		return Hub{}, false
	}
	return h, true
}

func (s *Service) put(ctx context.Context, key string, h Hub) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.log.Debug().Err(err).Msg("hub cache write failed")
	}
}

// leafTypes are the playable/leaf types surfaced in recently-added rows.
func leafTypes(lt media.LibraryType) []media.MetadataType {
	switch lt {
	case media.LibraryTvShows:
		return []media.MetadataType{media.TypeEpisode}
	case media.LibraryMusic, media.LibraryPodcasts, media.LibraryAudiobooks:
		return []media.MetadataType{media.TypeAlbumRelease}
	case media.LibraryPhotos, media.LibraryPictures:
		return []media.MetadataType{media.TypePhoto}
	case media.LibraryBooks, media.LibraryMagazines:
		return []media.MetadataType{media.TypeBook}
	case media.LibraryComics, media.LibraryManga:
		return []media.MetadataType{media.TypeComic}
	default:
		return []media.MetadataType{media.TypeMovie}
	}
}
