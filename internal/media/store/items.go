// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/media"
)

const metadataColumns = `id, uuid, section_id, parent_id, type, title, original_title, sort_title,
	year, release_date, summary, tagline, studio, content_rating, genres, duration_ms,
	view_count, view_offset_ms, thumb_uri, thumb_hash, is_promoted, item_index,
	locked_fields, extra, last_error, added_at, updated_at`

func scanMetadataItem(row interface{ Scan(...any) error }) (*media.MetadataItem, error) {
	var (
		m                     media.MetadataItem
		parentID              sql.NullInt64
		typ                   string
		releaseDate           sql.NullString
		genres, locked, extra string
		promoted              int
		addedAt, updatedAt    string
	)
	if err := row.Scan(&m.ID, &m.UUID, &m.SectionID, &parentID, &typ, &m.Title, &m.OriginalTitle,
		&m.SortTitle, &m.Year, &releaseDate, &m.Summary, &m.Tagline, &m.Studio, &m.ContentRating,
		&genres, &m.DurationMs, &m.ViewCount, &m.ViewOffsetMs, &m.ThumbURI, &m.ThumbHash,
		&promoted, &m.Index, &locked, &extra, &m.LastError, &addedAt, &updatedAt); err != nil {
		return nil, err
	}
	if parentID.Valid {
		m.ParentID = &parentID.Int64
	}
	m.Type = media.MetadataType(typ)
	m.ReleaseDate = timePtr(releaseDate)
	m.IsPromoted = promoted != 0
	m.AddedAt = parseTime(addedAt)
	m.UpdatedAt = parseTime(updatedAt)
	if err := decodeJSON(genres, &m.Genres); err != nil {
		return nil, err
	}
	if err := decodeJSON(locked, &m.LockedFields); err != nil {
		return nil, err
	}
	if err := decodeJSON(extra, &m.Extra); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMetadataItem inserts a new logical node, assigning UUID and sort
// title when absent. External ids supplied on the item are registered in the
// same transaction.
func (s *Store) CreateMetadataItem(ctx context.Context, tx *sql.Tx, m *media.MetadataItem) error {
	if m.UUID == "" {
		m.UUID = uuid.NewString()
	}
	if m.SortTitle == "" {
		m.SortTitle = media.SortTitle(m.Title)
	}
	now := time.Now()
	m.AddedAt = now
	m.UpdatedAt = now

	genres, err := encodeJSON(m.Genres)
	if err != nil {
		return err
	}
	locked, err := encodeJSON(m.LockedFields)
	if err != nil {
		return err
	}
	extra, err := encodeJSON(m.Extra)
	if err != nil {
		return err
	}

	var parent any
	if m.ParentID != nil {
		parent = *m.ParentID
	}

	exec := execerFor(s, tx)
	res, err := exec.ExecContext(ctx, `
	INSERT INTO metadata_items (uuid, section_id, parent_id, type, title, original_title,
		sort_title, year, release_date, summary, tagline, studio, content_rating, genres,
		duration_ms, view_count, view_offset_ms, thumb_uri, thumb_hash, is_promoted,
		item_index, locked_fields, extra, last_error, added_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.UUID, m.SectionID, parent, string(m.Type), m.Title, m.OriginalTitle, m.SortTitle,
		m.Year, fmtTimePtr(m.ReleaseDate), m.Summary, m.Tagline, m.Studio, m.ContentRating,
		genres, m.DurationMs, m.ViewCount, m.ViewOffsetMs, m.ThumbURI, m.ThumbHash,
		boolInt(m.IsPromoted), m.Index, locked, extra, m.LastError, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert metadata item %q: %w", m.Title, err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return err
	}

	for provider, extID := range m.ExternalIDs {
		if err := s.registerExternalID(ctx, exec, m.ID, provider, extID); err != nil {
			return err
		}
	}
	return nil
}

// UpdateMetadataItem replaces the mutable fields of an item. The refresh
// orchestrator calls this exactly once per refresh, after the merge.
func (s *Store) UpdateMetadataItem(ctx context.Context, m *media.MetadataItem) error {
	m.UpdatedAt = time.Now()
	genres, err := encodeJSON(m.Genres)
	if err != nil {
		return err
	}
	locked, err := encodeJSON(m.LockedFields)
	if err != nil {
		return err
	}
	extra, err := encodeJSON(m.Extra)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
	UPDATE metadata_items SET title = ?, original_title = ?, sort_title = ?, year = ?,
		release_date = ?, summary = ?, tagline = ?, studio = ?, content_rating = ?,
		genres = ?, duration_ms = ?, thumb_uri = ?, thumb_hash = ?, is_promoted = ?,
		item_index = ?, locked_fields = ?, extra = ?, last_error = ?, updated_at = ?
	WHERE id = ?
	`, m.Title, m.OriginalTitle, m.SortTitle, m.Year, fmtTimePtr(m.ReleaseDate), m.Summary,
		m.Tagline, m.Studio, m.ContentRating, genres, m.DurationMs, m.ThumbURI, m.ThumbHash,
		boolInt(m.IsPromoted), m.Index, locked, extra, m.LastError, fmtTime(m.UpdatedAt), m.ID)
	if err != nil {
		return fmt.Errorf("update metadata item %d: %w", m.ID, err)
	}
	if err := requireRow(res, "metadata item %d", m.ID); err != nil {
		return err
	}

	for provider, extID := range m.ExternalIDs {
		if err := s.registerExternalID(ctx, s.db, m.ID, provider, extID); err != nil {
			return err
		}
	}
	return nil
}

// GetMetadataItem loads one item with its external ids.
func (s *Store) GetMetadataItem(ctx context.Context, id int64) (*media.MetadataItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+metadataColumns+` FROM metadata_items WHERE id = ?`, id)
	m, err := scanMetadataItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdef.NotFound("metadata item %d", id)
	}
	if err != nil {
		return nil, err
	}
	m.ExternalIDs, err = s.externalIDs(ctx, m.ID)
	return m, err
}

// GetMetadataItemByUUID loads one item by public UUID.
func (s *Store) GetMetadataItemByUUID(ctx context.Context, id string) (*media.MetadataItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+metadataColumns+` FROM metadata_items WHERE uuid = ?`, id)
	m, err := scanMetadataItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdef.NotFound("metadata item %s", id)
	}
	if err != nil {
		return nil, err
	}
	m.ExternalIDs, err = s.externalIDs(ctx, m.ID)
	return m, err
}

func (s *Store) externalIDs(ctx context.Context, itemID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, external_id FROM external_ids WHERE metadata_id = ?`, itemID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[string]string)
	for rows.Next() {
		var provider, extID string
		if err := rows.Scan(&provider, &extID); err != nil {
			return nil, err
		}
		ids[provider] = extID
	}
	if len(ids) == 0 {
		return nil, rows.Err()
	}
	return ids, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func execerFor(s *Store, tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return s.db
}

func (s *Store) registerExternalID(ctx context.Context, exec execer, itemID int64, provider, extID string) error {
	_, err := exec.ExecContext(ctx, `
	INSERT INTO external_ids (metadata_id, provider, external_id) VALUES (?, ?, ?)
	ON CONFLICT(metadata_id, provider) DO UPDATE SET external_id = excluded.external_id
	`, itemID, provider, extID)
	if err != nil {
		return fmt.Errorf("register external id %s:%s: %w", provider, extID, err)
	}
	return nil
}

// FindByExternalID resolves items carrying (provider, externalID) within a
// section and type. Ties break by earliest row id.
func (s *Store) FindByExternalID(ctx context.Context, sectionID int64, typ media.MetadataType, provider, externalID string) (*media.MetadataItem, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT `+prefixed(metadataColumns, "m")+`
	FROM metadata_items m
	JOIN external_ids x ON x.metadata_id = m.id
	WHERE x.provider = ? AND x.external_id = ? AND m.section_id = ? AND m.type = ?
	ORDER BY m.id LIMIT 1
	`, provider, externalID, sectionID, string(typ))
	m, err := scanMetadataItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.ExternalIDs, err = s.externalIDs(ctx, m.ID)
	return m, err
}

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(columns, prefix string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// ListChildren pages through the children of a parent ordered by item index,
// then sort title.
func (s *Store) ListChildren(ctx context.Context, parentID int64, offset, limit int) ([]media.MetadataItem, error) {
	return s.queryItems(ctx, `
	SELECT `+metadataColumns+` FROM metadata_items WHERE parent_id = ?
	ORDER BY item_index, sort_title LIMIT ? OFFSET ?
	`, parentID, limit, offset)
}

// CountChildren returns the child count of a parent.
func (s *Store) CountChildren(ctx context.Context, parentID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM metadata_items WHERE parent_id = ?`, parentID).Scan(&n)
	return n, err
}

// SectionChildrenQuery filters the top-level listing of a section.
type SectionChildrenQuery struct {
	SectionID int64
	Type      media.MetadataType
	Letter    string // first sort-title letter, "#" for non-alpha
	Sort      string // "title", "added", "year", "release"
	Desc      bool
	Offset    int
	Limit     int
}

// ListSectionChildren returns a filtered page of a section's items of the
// given type plus the unfiltered total.
func (s *Store) ListSectionChildren(ctx context.Context, q SectionChildrenQuery) ([]media.MetadataItem, int, error) {
	where := []string{"section_id = ?", "type = ?"}
	args := []any{q.SectionID, string(q.Type)}

	if q.Letter == "#" {
		where = append(where, `substr(upper(sort_title), 1, 1) NOT BETWEEN 'A' AND 'Z'`)
	} else if q.Letter != "" {
		where = append(where, `upper(sort_title) LIKE ?`)
		args = append(args, strings.ToUpper(q.Letter)+"%")
	}

	order := "sort_title"
	switch q.Sort {
	case "added":
		order = "added_at"
	case "year":
		order = "year"
	case "release":
		order = "release_date"
	}
	if q.Desc {
		order += " DESC"
	}

	whereSQL := strings.Join(where, " AND ")
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM metadata_items WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	items, err := s.queryItems(ctx,
		`SELECT `+metadataColumns+` FROM metadata_items WHERE `+whereSQL+
			` ORDER BY `+order+` LIMIT ? OFFSET ?`,
		append(args, limit, q.Offset)...)
	return items, total, err
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]media.MetadataItem, error) {
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

// SetPromoted flips the promotion flag used by the Promoted hub.
func (s *Store) SetPromoted(ctx context.Context, id int64, promoted bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE metadata_items SET is_promoted = ?, updated_at = ? WHERE id = ?`,
		boolInt(promoted), fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	return requireRow(res, "metadata item %d", id)
}

// SetViewState updates watch progress. The check constraint plus this guard
// keep view_offset within the known duration.
func (s *Store) SetViewState(ctx context.Context, id int64, viewCount int, viewOffsetMs int64) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE metadata_items SET
		view_count = ?,
		view_offset_ms = CASE WHEN duration_ms > 0 AND ? > duration_ms THEN duration_ms ELSE ? END,
		updated_at = ?
	WHERE id = ?
	`, viewCount, viewOffsetMs, viewOffsetMs, fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	return requireRow(res, "metadata item %d", id)
}

// SetItemError records a per-item pipeline failure without touching other
// fields.
func (s *Store) SetItemError(ctx context.Context, id int64, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE metadata_items SET last_error = ? WHERE id = ?`, msg, id)
	return err
}

// DeleteMetadataItem removes an item; children, relations, media items and
// external ids cascade.
func (s *Store) DeleteMetadataItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM metadata_items WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "metadata item %d", id)
}

// ReplaceRelations rewrites the outgoing relations of one type for an item,
// preserving the supplied ordering.
func (s *Store) ReplaceRelations(ctx context.Context, fromID int64, typ media.RelationType, rels []media.MetadataRelation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM metadata_relations WHERE from_id = ? AND type = ?`, fromID, string(typ)); err != nil {
		return err
	}
	for i := range rels {
		r := &rels[i]
		r.FromID = fromID
		r.Type = typ
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO metadata_relations (from_id, to_id, type, ordering, role)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(from_id, to_id, type) DO UPDATE SET ordering = excluded.ordering, role = excluded.role
		`, r.FromID, r.ToID, string(r.Type), r.Ordering, r.Role); err != nil {
			return fmt.Errorf("insert relation %d->%d: %w", r.FromID, r.ToID, err)
		}
	}
	return tx.Commit()
}

// ListRelations returns an item's outgoing relations of one type in billing
// order.
func (s *Store) ListRelations(ctx context.Context, fromID int64, typ media.RelationType) ([]media.MetadataRelation, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, from_id, to_id, type, ordering, role FROM metadata_relations
	WHERE from_id = ? AND type = ? ORDER BY ordering
	`, fromID, string(typ))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rels []media.MetadataRelation
	for rows.Next() {
		var (
			r   media.MetadataRelation
			typ string
		)
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &typ, &r.Ordering, &r.Role); err != nil {
			return nil, err
		}
		r.Type = media.RelationType(typ)
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// UpsertMediaItem writes the technical characteristics of a playable unit.
func (s *Store) UpsertMediaItem(ctx context.Context, tx *sql.Tx, mi *media.MediaItem) error {
	streams, err := encodeJSON(mi.Streams)
	if err != nil {
		return err
	}
	exec := execerFor(s, tx)
	if mi.ID == 0 {
		res, err := exec.ExecContext(ctx, `
		INSERT INTO media_items (metadata_id, section_id, duration_ms, bitrate, width, height,
			container, video_codec, audio_codec, hdr, rotation, interlaced, streams)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, mi.MetadataID, mi.SectionID, mi.DurationMs, mi.Bitrate, mi.Width, mi.Height,
			mi.Container, mi.VideoCodec, mi.AudioCodec, boolInt(mi.HDR), mi.Rotation,
			boolInt(mi.Interlaced), streams)
		if err != nil {
			return fmt.Errorf("insert media item: %w", err)
		}
		mi.ID, err = res.LastInsertId()
		return err
	}
	_, err = exec.ExecContext(ctx, `
	UPDATE media_items SET duration_ms = ?, bitrate = ?, width = ?, height = ?, container = ?,
		video_codec = ?, audio_codec = ?, hdr = ?, rotation = ?, interlaced = ?, streams = ?
	WHERE id = ?
	`, mi.DurationMs, mi.Bitrate, mi.Width, mi.Height, mi.Container, mi.VideoCodec,
		mi.AudioCodec, boolInt(mi.HDR), mi.Rotation, boolInt(mi.Interlaced), streams, mi.ID)
	return err
}

const mediaItemColumns = `id, metadata_id, section_id, duration_ms, bitrate, width, height,
	container, video_codec, audio_codec, hdr, rotation, interlaced, streams`

func scanMediaItem(row interface{ Scan(...any) error }) (*media.MediaItem, error) {
	var (
		mi              media.MediaItem
		hdr, interlaced int
		streams         string
	)
	if err := row.Scan(&mi.ID, &mi.MetadataID, &mi.SectionID, &mi.DurationMs, &mi.Bitrate,
		&mi.Width, &mi.Height, &mi.Container, &mi.VideoCodec, &mi.AudioCodec, &hdr,
		&mi.Rotation, &interlaced, &streams); err != nil {
		return nil, err
	}
	mi.HDR = hdr != 0
	mi.Interlaced = interlaced != 0
	if err := decodeJSON(streams, &mi.Streams); err != nil {
		return nil, err
	}
	return &mi, nil
}

// ListMediaItems returns the playable units of a metadata item with their
// parts, best quality first.
func (s *Store) ListMediaItems(ctx context.Context, metadataID int64) ([]media.MediaItem, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+mediaItemColumns+` FROM media_items WHERE metadata_id = ?
	ORDER BY height DESC, bitrate DESC
	`, metadataID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []media.MediaItem
	for rows.Next() {
		mi, err := scanMediaItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *mi)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		items[i].Parts, err = s.ListPartsForItem(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}

// GetMediaItem loads one playable unit with parts.
func (s *Store) GetMediaItem(ctx context.Context, id int64) (*media.MediaItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mediaItemColumns+` FROM media_items WHERE id = ?`, id)
	mi, err := scanMediaItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdef.NotFound("media item %d", id)
	}
	if err != nil {
		return nil, err
	}
	mi.Parts, err = s.ListPartsForItem(ctx, mi.ID)
	return mi, err
}
