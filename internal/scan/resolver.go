// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scan

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/nexa/internal/dedup"
	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
)

// Resolved is the resolver's output: the leaf metadata item owning the file,
// its physical media item, and the tracked part row.
type Resolved struct {
	Event FileEvent
	Item  *media.MetadataItem
	Media *media.MediaItem
	Part  *media.MediaPart
	IsNew bool // leaf item was created by this resolution
}

var seasonDirRe = regexp.MustCompile(`(?i)^(?:season[ ._-]?(\d{1,3})|specials)$`)

// Resolver maps file events to the metadata tree for one section. Safe for
// concurrent use; identity races are absorbed by the dedup resolver.
type Resolver struct {
	store   *store.Store
	dedup   *dedup.Resolver
	section *media.LibrarySection
	log     zerolog.Logger
}

func NewResolver(st *store.Store, dd *dedup.Resolver, section *media.LibrarySection) *Resolver {
	return &Resolver{
		store:   st,
		dedup:   dd,
		section: section,
		log:     log.WithComponent("resolver").With().Int64("section", section.ID).Logger(),
	}
}

// Resolve handles one Added or Modified event. Seen and Missing events carry
// no resolution work and return nil.
func (r *Resolver) Resolve(ctx context.Context, ev FileEvent) (*Resolved, error) {
	if ev.Kind != EventAdded && ev.Kind != EventModified {
		return nil, nil
	}

	parsed := ParseFileName(ev.Path)

	var (
		item  *media.MetadataItem
		isNew bool
		err   error
	)
	switch r.section.Type {
	case media.LibraryTvShows:
		item, isNew, err = r.resolveEpisode(ctx, ev, parsed)
	case media.LibraryMusic, media.LibraryPodcasts, media.LibraryAudiobooks:
		item, isNew, err = r.resolveTrack(ctx, ev, parsed)
	default:
		item, isNew, err = r.resolveLeaf(ctx, ev, parsed, leafTypeFor(r.section.Type))
	}
	if err != nil {
		return nil, err
	}

	mi, err := r.mediaItemFor(ctx, item)
	if err != nil {
		return nil, err
	}

	part := ev.Part
	if part == nil {
		part = &media.MediaPart{}
	}
	part.ItemID = mi.ID
	part.DirectoryID = ev.Directory.ID
	part.SectionID = ev.SectionID
	part.Path = ev.Path
	part.Size = ev.Size
	part.MtimeSeen = ev.Mtime
	part.MissingSince = nil
	if parsed.PartIndex > 0 {
		part.PartIndex = parsed.PartIndex
	} else {
		part.PartIndex = 1
	}
	part.Container = strings.TrimPrefix(strings.ToLower(filepath.Ext(ev.Path)), ".")
	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.store.UpsertMediaPart(ctx, tx, part); err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Resolved{Event: ev, Item: item, Media: mi, Part: part, IsNew: isNew}, nil
}

// resolveLeaf handles flat libraries: one item per file, multi-part movie
// splits grouped by the part-stripped path key.
func (r *Resolver) resolveLeaf(ctx context.Context, ev FileEvent, parsed ParsedName, typ media.MetadataType) (*media.MetadataItem, bool, error) {
	ids := parsed.ExternalIDs
	if len(ids) == 0 {
		ids = PathKey(ev.SectionID, groupKey(ev.Path))
	}
	return r.resolve(ctx, typ, ids, func() *media.MetadataItem {
		return &media.MetadataItem{
			SectionID: ev.SectionID,
			Type:      typ,
			Title:     parsed.Title,
			Year:      parsed.Year,
		}
	})
}

// resolveEpisode builds the show → season → episode chain. Show identity
// comes from ids in the show directory name, falling back to the directory
// path; episode identity from the file.
func (r *Resolver) resolveEpisode(ctx context.Context, ev FileEvent, parsed ParsedName) (*media.MetadataItem, bool, error) {
	if !parsed.Episodic() {
		// Loose video directly in a show library: treat as a special of the
		// nearest show candidate with season 0 semantics skipped.
		return r.resolveLeaf(ctx, ev, parsed, media.TypeMovie)
	}

	showDir := filepath.Dir(ev.Path)
	season := parsed.Season
	if m := seasonDirRe.FindStringSubmatch(filepath.Base(showDir)); m != nil {
		if season < 0 {
			if m[1] == "" {
				season = 0 // Specials
			} else {
				season, _ = strconv.Atoi(m[1])
			}
		}
		showDir = filepath.Dir(showDir)
	}
	if season < 0 {
		season = 1 // date-based airing defaults to season one
	}

	showName := ParseFileName(filepath.Base(showDir))
	showIDs := showName.ExternalIDs
	if len(showIDs) == 0 {
		showIDs = PathKey(ev.SectionID, showDir)
	}
	show, _, err := r.resolve(ctx, media.TypeShow, showIDs, func() *media.MetadataItem {
		return &media.MetadataItem{
			SectionID: ev.SectionID,
			Type:      media.TypeShow,
			Title:     showName.Title,
			Year:      showName.Year,
		}
	})
	if err != nil {
		return nil, false, err
	}

	seasonIDs := PathKey(ev.SectionID, fmt.Sprintf("%s#season-%d", showDir, season))
	seasonItem, _, err := r.resolve(ctx, media.TypeSeason, seasonIDs, func() *media.MetadataItem {
		title := fmt.Sprintf("Season %d", season)
		if season == 0 {
			title = "Specials"
		}
		return &media.MetadataItem{
			SectionID: ev.SectionID,
			ParentID:  &show.ID,
			Type:      media.TypeSeason,
			Title:     title,
			Index:     season,
		}
	})
	if err != nil {
		return nil, false, err
	}

	epIDs := parsed.ExternalIDs
	if len(epIDs) == 0 {
		epIDs = PathKey(ev.SectionID, groupKey(ev.Path))
	}
	return r.resolve(ctx, media.TypeEpisode, epIDs, func() *media.MetadataItem {
		ep := &media.MetadataItem{
			SectionID: ev.SectionID,
			ParentID:  &seasonItem.ID,
			Type:      media.TypeEpisode,
			Title:     parsed.Title,
			Index:     parsed.Episode,
		}
		if !parsed.AirDate.IsZero() {
			d := parsed.AirDate
			ep.ReleaseDate = &d
			if ep.Title == "" {
				ep.Title = d.Format("2006-01-02")
			}
		}
		return ep
	})
}

// resolveTrack groups audio by album directory.
func (r *Resolver) resolveTrack(ctx context.Context, ev FileEvent, parsed ParsedName) (*media.MetadataItem, bool, error) {
	albumDir := filepath.Dir(ev.Path)
	albumName := ParseFileName(filepath.Base(albumDir))
	albumIDs := albumName.ExternalIDs
	if len(albumIDs) == 0 {
		albumIDs = PathKey(ev.SectionID, albumDir)
	}
	album, _, err := r.resolve(ctx, media.TypeAlbumRelease, albumIDs, func() *media.MetadataItem {
		return &media.MetadataItem{
			SectionID: ev.SectionID,
			Type:      media.TypeAlbumRelease,
			Title:     albumName.Title,
			Year:      albumName.Year,
		}
	})
	if err != nil {
		return nil, false, err
	}

	ids := parsed.ExternalIDs
	if len(ids) == 0 {
		ids = PathKey(ev.SectionID, ev.Path)
	}
	return r.resolve(ctx, media.TypeTrack, ids, func() *media.MetadataItem {
		return &media.MetadataItem{
			SectionID: ev.SectionID,
			ParentID:  &album.ID,
			Type:      media.TypeTrack,
			Title:     parsed.Title,
			Index:     parsed.TrackNumber,
		}
	})
}

func (r *Resolver) resolve(ctx context.Context, typ media.MetadataType, ids map[string]string, build func() *media.MetadataItem) (*media.MetadataItem, bool, error) {
	created := false
	item, err := r.dedup.Resolve(ctx, r.section.ID, typ, ids, func(ctx context.Context) (*media.MetadataItem, error) {
		m := build()
		m.ExternalIDs = ids
		if err := r.store.CreateMetadataItem(ctx, nil, m); err != nil {
			return nil, err
		}
		created = true
		return m, nil
	})
	return item, created, err
}

// mediaItemFor returns the physical row for item, creating a placeholder the
// analyzer stage later fills with probe results. Multi-part files land on the
// same media item.
func (r *Resolver) mediaItemFor(ctx context.Context, item *media.MetadataItem) (*media.MediaItem, error) {
	existing, err := r.store.ListMediaItems(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return &existing[0], nil
	}
	mi := &media.MediaItem{MetadataID: item.ID, SectionID: item.SectionID}
	if err := r.store.UpsertMediaItem(ctx, nil, mi); err != nil {
		return nil, err
	}
	return mi, nil
}

// leafTypeFor maps flat library types to their item type.
func leafTypeFor(t media.LibraryType) media.MetadataType {
	switch t {
	case media.LibraryPhotos, media.LibraryPictures:
		return media.TypePhoto
	case media.LibraryBooks, media.LibraryAudiobooks, media.LibraryMagazines:
		return media.TypeBook
	case media.LibraryComics, media.LibraryManga:
		return media.TypeComic
	default:
		return media.TypeMovie
	}
}
