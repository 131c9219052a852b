// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"fmt"

	"github.com/ManuGH/nexa/internal/media"
)

// Hub content queries. All are page-sized reads over metadata_items; the hub
// service caches their results.

// ListRecentlyAdded returns the newest leaf items in a section.
func (s *Store) ListRecentlyAdded(ctx context.Context, sectionID int64, types []media.MetadataType, limit, offset int) ([]media.MetadataItem, error) {
	query := fmt.Sprintf(`
	SELECT %s FROM metadata_items
	WHERE section_id = ? AND type IN (%s)
	ORDER BY added_at DESC, id DESC LIMIT ? OFFSET ?
	`, metadataColumns, placeholders(len(types)))
	return s.listItems(ctx, query, appendArgs([]any{sectionID}, types, limit, offset)...)
}

// ListContinueWatching returns items with an in-progress view offset,
// most recently touched first.
func (s *Store) ListContinueWatching(ctx context.Context, sectionID int64, limit, offset int) ([]media.MetadataItem, error) {
	query := `
	SELECT ` + metadataColumns + ` FROM metadata_items
	WHERE section_id = ? AND view_offset_ms > 0
	  AND (duration_ms = 0 OR view_offset_ms < duration_ms)
	ORDER BY updated_at DESC LIMIT ? OFFSET ?
	`
	return s.listItems(ctx, query, sectionID, limit, offset)
}

// ListPromoted returns admin-promoted items.
func (s *Store) ListPromoted(ctx context.Context, sectionID int64, limit, offset int) ([]media.MetadataItem, error) {
	query := `
	SELECT ` + metadataColumns + ` FROM metadata_items
	WHERE section_id = ? AND is_promoted = 1
	ORDER BY sort_title LIMIT ? OFFSET ?
	`
	return s.listItems(ctx, query, sectionID, limit, offset)
}

// ListByGenre returns items whose genre list contains genre.
func (s *Store) ListByGenre(ctx context.Context, sectionID int64, genre string, limit, offset int) ([]media.MetadataItem, error) {
	query := `
	SELECT ` + metadataColumns + ` FROM metadata_items
	WHERE section_id = ? AND genres LIKE '%' || ? || '%'
	ORDER BY sort_title LIMIT ? OFFSET ?
	`
	return s.listItems(ctx, query, sectionID, fmt.Sprintf("%q", genre), limit, offset)
}

// ListSectionGenres returns the distinct genres present in a section,
// alphabetical. Genres live in a JSON array column, so this unpacks with
// json_each.
func (s *Store) ListSectionGenres(ctx context.Context, sectionID int64, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT DISTINCT je.value FROM metadata_items mi, json_each(mi.genres) je
	WHERE mi.section_id = ? ORDER BY je.value LIMIT ?
	`, sectionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var genres []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		genres = append(genres, g)
	}
	return genres, rows.Err()
}

// ListRelatedTo returns items sharing a relation target with the given item:
// the "appears with" set behind cast/crew hubs.
func (s *Store) ListRelatedTo(ctx context.Context, itemID int64, typ media.RelationType, limit int) ([]media.MetadataItem, error) {
	query := `
	SELECT ` + prefixed(metadataColumns, "m") + ` FROM metadata_items m
	JOIN metadata_relations other ON other.from_id = m.id AND other.type = ?
	JOIN metadata_relations mine ON mine.to_id = other.to_id AND mine.type = ?
	WHERE mine.from_id = ? AND m.id != ?
	GROUP BY m.id ORDER BY COUNT(*) DESC LIMIT ?
	`
	return s.listItems(ctx, query, string(typ), string(typ), itemID, itemID, limit)
}

// ListSimilar returns same-type items sharing at least one genre,
// most-overlapping first.
func (s *Store) ListSimilar(ctx context.Context, itemID int64, limit int) ([]media.MetadataItem, error) {
	query := `
	SELECT ` + prefixed(metadataColumns, "m") + ` FROM metadata_items m
	JOIN json_each(m.genres) mg
	JOIN metadata_items src ON src.id = ?
	JOIN json_each(src.genres) sg ON sg.value = mg.value
	WHERE m.id != src.id AND m.type = src.type AND m.section_id = src.section_id
	GROUP BY m.id ORDER BY COUNT(*) DESC, m.sort_title LIMIT ?
	`
	return s.listItems(ctx, query, itemID, limit)
}

// RelatedPeople returns the people (or groups) attached to an item in
// billing order.
func (s *Store) RelatedPeople(ctx context.Context, itemID int64, typ media.RelationType, limit int) ([]media.MetadataItem, error) {
	query := `
	SELECT ` + prefixed(metadataColumns, "m") + ` FROM metadata_items m
	JOIN metadata_relations r ON r.to_id = m.id
	WHERE r.from_id = ? AND r.type = ? ORDER BY r.ordering LIMIT ?
	`
	return s.listItems(ctx, query, itemID, string(typ), limit)
}

func (s *Store) listItems(ctx context.Context, query string, args ...any) ([]media.MetadataItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []media.MetadataItem
	for rows.Next() {
		m, err := scanMetadataItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *m)
	}
	return items, rows.Err()
}

func placeholders(n int) string {
	if n == 0 {
		return "''"
	}
	out := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ", "...)
		}
		out = append(out, '?')
	}
	return string(out)
}

func appendArgs(args []any, types []media.MetadataType, rest ...any) []any {
	for _, t := range types {
		args = append(args, string(t))
	}
	return append(args, rest...)
}
