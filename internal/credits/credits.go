// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package credits turns aggregated person and group credits into metadata
// items and typed relations: people dedup by external id, falling back to
// normalized name plus birth year, and cast ordering carries billing.
package credits

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ManuGH/nexa/internal/agents"
	"github.com/ManuGH/nexa/internal/dedup"
	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
)

// Service writes credits for refreshed items.
type Service struct {
	store    *store.Store
	resolver *dedup.Resolver
	log      zerolog.Logger
}

// New shares the scan's dedup resolver so a person appearing in two movies
// of one batch gets a single row.
func New(st *store.Store, resolver *dedup.Resolver) *Service {
	return &Service{store: st, resolver: resolver, log: log.WithComponent("credits")}
}

// fallbackID synthesizes an external id for people without one, keyed by
// normalized name and birth year so homonyms with known years stay apart.
func fallbackID(name string, birthYear int) map[string]string {
	key := media.SortTitle(name)
	if birthYear > 0 {
		key = fmt.Sprintf("%s:%d", key, birthYear)
	}
	return map[string]string{"nexa-name": key}
}

// Apply upserts every credited person and group and replaces the item's
// relations of the involved types. Relation types untouched by the credits
// keep their existing edges.
func (s *Service) Apply(ctx context.Context, item *media.MetadataItem, people []agents.PersonCredit, groups []agents.GroupCredit) error {
	byType := make(map[media.RelationType][]media.MetadataRelation)

	for _, pc := range people {
		person, err := s.upsertPerson(ctx, item.SectionID, pc)
		if err != nil {
			return fmt.Errorf("upsert person %q: %w", pc.Name, err)
		}
		byType[pc.Relation] = append(byType[pc.Relation], media.MetadataRelation{
			ToID: person.ID, Ordering: pc.Ordering, Role: pc.Role,
		})
	}
	for _, gc := range groups {
		group, err := s.upsertGroup(ctx, item.SectionID, gc)
		if err != nil {
			return fmt.Errorf("upsert group %q: %w", gc.Name, err)
		}
		byType[gc.Relation] = append(byType[gc.Relation], media.MetadataRelation{
			ToID: group.ID, Ordering: gc.Ordering,
		})
	}

	for typ, rels := range byType {
		sort.SliceStable(rels, func(i, j int) bool { return rels[i].Ordering < rels[j].Ordering })
		if err := s.store.ReplaceRelations(ctx, item.ID, typ, rels); err != nil {
			return fmt.Errorf("replace %s relations: %w", typ, err)
		}
	}
	return nil
}

func (s *Service) upsertPerson(ctx context.Context, sectionID int64, pc agents.PersonCredit) (*media.MetadataItem, error) {
	ids := pc.ExternalIDs
	if len(ids) == 0 {
		ids = fallbackID(pc.Name, pc.BirthYear)
	}
	return s.resolver.Resolve(ctx, sectionID, media.TypePerson, ids, func(ctx context.Context) (*media.MetadataItem, error) {
		person := &media.MetadataItem{
			SectionID:   sectionID,
			Type:        media.TypePerson,
			Title:       pc.Name,
			Year:        pc.BirthYear,
			ThumbURI:    pc.ThumbURI,
			ExternalIDs: ids,
		}
		return person, s.store.CreateMetadataItem(ctx, nil, person)
	})
}

func (s *Service) upsertGroup(ctx context.Context, sectionID int64, gc agents.GroupCredit) (*media.MetadataItem, error) {
	ids := gc.ExternalIDs
	if len(ids) == 0 {
		ids = fallbackID(gc.Name, 0)
	}
	return s.resolver.Resolve(ctx, sectionID, media.TypeGroup, ids, func(ctx context.Context) (*media.MetadataItem, error) {
		group := &media.MetadataItem{
			SectionID:   sectionID,
			Type:        media.TypeGroup,
			Title:       gc.Name,
			ExternalIDs: ids,
		}
		return group, s.store.CreateMetadataItem(ctx, nil, group)
	})
}
