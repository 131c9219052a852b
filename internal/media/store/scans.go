// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/media"
)

const scanColumns = `id, section_id, state, started_at, finished_at, checkpoint,
	total_items, added, modified, removed, error_count, error`

func scanLibraryScan(row interface{ Scan(...any) error }) (*media.LibraryScan, error) {
	var (
		sc         media.LibraryScan
		state      string
		startedAt  string
		finishedAt sql.NullString
		checkpoint sql.NullString
	)
	if err := row.Scan(&sc.ID, &sc.SectionID, &state, &startedAt, &finishedAt, &checkpoint,
		&sc.TotalItems, &sc.Added, &sc.Modified, &sc.Removed, &sc.ErrorCount, &sc.Error); err != nil {
		return nil, err
	}
	sc.State = media.ScanState(state)
	sc.StartedAt = parseTime(startedAt)
	sc.FinishedAt = timePtr(finishedAt)
	if checkpoint.Valid && checkpoint.String != "" {
		var cp media.Checkpoint
		if err := decodeJSON(checkpoint.String, &cp); err != nil {
			return nil, fmt.Errorf("decode scan checkpoint %s: %w", sc.ID, err)
		}
		sc.Checkpoint = &cp
	}
	return &sc, nil
}

// CreateScan records a new scan run. State starts queued; the scan manager
// promotes it to running when a worker picks it up.
func (s *Store) CreateScan(ctx context.Context, sectionID int64) (*media.LibraryScan, error) {
	sc := &media.LibraryScan{
		ID:        uuid.NewString(),
		SectionID: sectionID,
		State:     media.ScanQueued,
		StartedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO library_scans (id, section_id, state, started_at) VALUES (?, ?, ?, ?)
	`, sc.ID, sc.SectionID, string(sc.State), fmtTime(sc.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("insert scan for section %d: %w", sectionID, err)
	}
	return sc, nil
}

// GetScan loads one scan run.
func (s *Store) GetScan(ctx context.Context, id string) (*media.LibraryScan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scanColumns+` FROM library_scans WHERE id = ?`, id)
	sc, err := scanLibraryScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdef.NotFound("scan %s", id)
	}
	return sc, err
}

// SetScanState transitions a scan. Transitions out of a terminal state are
// rejected with a conflict so a late cancel cannot resurrect a finished run.
func (s *Store) SetScanState(ctx context.Context, id string, state media.ScanState, scanErr string) error {
	var finished any
	if state.Terminal() {
		finished = fmtTime(time.Now())
	}
	res, err := s.db.ExecContext(ctx, `
	UPDATE library_scans SET state = ?, error = ?, finished_at = COALESCE(?, finished_at)
	WHERE id = ? AND state NOT IN ('completed', 'failed', 'cancelled')
	`, string(state), scanErr, finished, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetScan(ctx, id); err != nil {
			return err
		}
		return errdef.Conflict("scan %s already finished", id)
	}
	return nil
}

// SaveScanProgress writes counters and checkpoint atomically. The discovery
// stage passes the batch transaction so a crash resumes from the last
// committed cursor, never a partially counted one; tx may be nil.
func (s *Store) SaveScanProgress(ctx context.Context, tx *sql.Tx, sc *media.LibraryScan) error {
	var checkpoint any
	if sc.Checkpoint != nil {
		raw, err := encodeJSON(sc.Checkpoint)
		if err != nil {
			return err
		}
		checkpoint = raw
	}
	res, err := execerFor(s, tx).ExecContext(ctx, `
	UPDATE library_scans SET total_items = ?, added = ?, modified = ?, removed = ?,
		error_count = ?, checkpoint = ?
	WHERE id = ?
	`, sc.TotalItems, sc.Added, sc.Modified, sc.Removed, sc.ErrorCount, checkpoint, sc.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "scan %s", sc.ID)
}

// ActiveScan returns the queued or running scan of a section, or nil.
func (s *Store) ActiveScan(ctx context.Context, sectionID int64) (*media.LibraryScan, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT `+scanColumns+` FROM library_scans
	WHERE section_id = ? AND state IN ('queued', 'running')
	ORDER BY started_at DESC LIMIT 1
	`, sectionID)
	sc, err := scanLibraryScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sc, err
}

// ListResumableScans returns scans left running by a previous process. The
// daemon re-queues them on startup.
func (s *Store) ListResumableScans(ctx context.Context) ([]media.LibraryScan, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+scanColumns+` FROM library_scans WHERE state = 'running' ORDER BY started_at
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var scans []media.LibraryScan
	for rows.Next() {
		sc, err := scanLibraryScan(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, *sc)
	}
	return scans, rows.Err()
}

// ListScans returns a section's scan history, newest first.
func (s *Store) ListScans(ctx context.Context, sectionID int64, limit int) ([]media.LibraryScan, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+scanColumns+` FROM library_scans WHERE section_id = ?
	ORDER BY started_at DESC LIMIT ?
	`, sectionID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var scans []media.LibraryScan
	for rows.Next() {
		sc, err := scanLibraryScan(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, *sc)
	}
	return scans, rows.Err()
}
