// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/media"
)

const generatorColumns = `uuid, session_id, seed_type, seed_id, cursor, total_count,
	shuffle, repeat, active, created_at`

func scanGenerator(row interface{ Scan(...any) error }) (*media.PlaylistGenerator, error) {
	var (
		g                       media.PlaylistGenerator
		seedType                string
		shuffle, repeat, active int
		created                 string
	)
	if err := row.Scan(&g.UUID, &g.SessionID, &seedType, &g.SeedID, &g.Cursor, &g.TotalCount,
		&shuffle, &repeat, &active, &created); err != nil {
		return nil, err
	}
	g.SeedType = media.PlaylistSeedType(seedType)
	g.Shuffle = shuffle != 0
	g.Repeat = repeat != 0
	g.Active = active != 0
	g.CreatedAt = parseTime(created)
	return &g, nil
}

// CreateGenerator stores a new play-queue generator.
func (s *Store) CreateGenerator(ctx context.Context, g *media.PlaylistGenerator) error {
	g.Active = true
	g.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO playlist_generators (uuid, session_id, seed_type, seed_id, cursor,
		total_count, shuffle, repeat, active, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
	`, g.UUID, g.SessionID, string(g.SeedType), g.SeedID, g.Cursor, g.TotalCount,
		boolInt(g.Shuffle), boolInt(g.Repeat), fmtTime(g.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert playlist generator %s: %w", g.UUID, err)
	}
	return nil
}

// GetGenerator loads one generator.
func (s *Store) GetGenerator(ctx context.Context, id string) (*media.PlaylistGenerator, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+generatorColumns+` FROM playlist_generators WHERE uuid = ?`, id)
	g, err := scanGenerator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdef.NotFound("playlist generator %s", id)
	}
	return g, err
}

// UpdateGenerator persists cursor and mode changes.
func (s *Store) UpdateGenerator(ctx context.Context, g *media.PlaylistGenerator) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE playlist_generators SET cursor = ?, total_count = ?, shuffle = ?, repeat = ?, active = ?
	WHERE uuid = ?
	`, g.Cursor, g.TotalCount, boolInt(g.Shuffle), boolInt(g.Repeat), boolInt(g.Active), g.UUID)
	if err != nil {
		return err
	}
	return requireRow(res, "playlist generator %s", g.UUID)
}

// DeleteGenerator removes a generator and its entries.
func (s *Store) DeleteGenerator(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM playlist_generators WHERE uuid = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "playlist generator %s", id)
}

// PutEntries writes a batch of materialized entries in one transaction.
// Re-materializing after a shuffle overwrites positions in place.
func (s *Store) PutEntries(ctx context.Context, generatorID string, entries []media.PlaylistEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i := range entries {
		e := &entries[i]
		e.GeneratorUUID = generatorID
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO playlist_entries (generator_uuid, idx, natural_idx, item_id, title, metadata_type, duration_ms, served)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(generator_uuid, idx) DO UPDATE SET
			natural_idx = excluded.natural_idx, item_id = excluded.item_id,
			title = excluded.title, metadata_type = excluded.metadata_type,
			duration_ms = excluded.duration_ms, served = excluded.served
		`, generatorID, e.Index, e.NaturalIndex, e.ItemID, e.Title, string(e.Type), e.DurationMs, boolInt(e.Served)); err != nil {
			return fmt.Errorf("put playlist entry %s[%d]: %w", generatorID, e.Index, err)
		}
	}
	return tx.Commit()
}

// ClearEntries drops every materialized entry of a generator. Used before
// re-materializing an explicit reorder.
func (s *Store) ClearEntries(ctx context.Context, generatorID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM playlist_entries WHERE generator_uuid = ?`, generatorID)
	return err
}

// GetEntry returns the entry at one position, or nil when the position is not
// yet materialized.
func (s *Store) GetEntry(ctx context.Context, generatorID string, index int) (*media.PlaylistEntry, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT generator_uuid, idx, natural_idx, item_id, title, metadata_type, duration_ms, served
	FROM playlist_entries WHERE generator_uuid = ? AND idx = ?
	`, generatorID, index)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// ListEntries returns the materialized entries inside [from, to), ordered by
// position. Gaps are simply absent.
func (s *Store) ListEntries(ctx context.Context, generatorID string, from, to int) ([]media.PlaylistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT generator_uuid, idx, natural_idx, item_id, title, metadata_type, duration_ms, served
	FROM playlist_entries WHERE generator_uuid = ? AND idx >= ? AND idx < ?
	ORDER BY idx
	`, generatorID, from, to)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []media.PlaylistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// MarkServed flags an entry as handed to the client.
func (s *Store) MarkServed(ctx context.Context, generatorID string, index int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE playlist_entries SET served = 1 WHERE generator_uuid = ? AND idx = ?`,
		generatorID, index)
	if err != nil {
		return err
	}
	return requireRow(res, "playlist entry %s[%d]", generatorID, index)
}

func scanEntry(row interface{ Scan(...any) error }) (*media.PlaylistEntry, error) {
	var (
		e      media.PlaylistEntry
		typ    string
		served int
	)
	if err := row.Scan(&e.GeneratorUUID, &e.Index, &e.NaturalIndex, &e.ItemID, &e.Title, &typ,
		&e.DurationMs, &served); err != nil {
		return nil, err
	}
	e.Type = media.MetadataType(typ)
	e.Served = served != 0
	return &e, nil
}
