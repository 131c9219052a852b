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

// UpsertDirectory records a directory sighting and fills d.ID. Re-seeing a
// directory clears any missing mark. Called inside a scan batch transaction.
func (s *Store) UpsertDirectory(ctx context.Context, tx *sql.Tx, d *media.Directory) error {
	var parent any
	if d.ParentID != nil {
		parent = *d.ParentID
	}
	_, err := tx.ExecContext(ctx, `
	INSERT INTO directories (section_id, location_id, parent_id, path, mtime_seen, missing_since)
	VALUES (?, ?, ?, ?, ?, NULL)
	ON CONFLICT(section_id, path) DO UPDATE SET
		location_id = excluded.location_id,
		parent_id = excluded.parent_id,
		mtime_seen = excluded.mtime_seen,
		missing_since = NULL
	`, d.SectionID, d.LocationID, parent, d.Path, fmtTime(d.MtimeSeen))
	if err != nil {
		return fmt.Errorf("upsert directory %s: %w", d.Path, err)
	}
	return tx.QueryRowContext(ctx,
		`SELECT id FROM directories WHERE section_id = ? AND path = ?`,
		d.SectionID, d.Path,
	).Scan(&d.ID)
}

const directoryColumns = `id, section_id, location_id, parent_id, path, mtime_seen, missing_since`

func scanDirectory(row interface{ Scan(...any) error }) (*media.Directory, error) {
	var (
		d        media.Directory
		parentID sql.NullInt64
		mtime    string
		missing  sql.NullString
	)
	if err := row.Scan(&d.ID, &d.SectionID, &d.LocationID, &parentID, &d.Path, &mtime, &missing); err != nil {
		return nil, err
	}
	if parentID.Valid {
		d.ParentID = &parentID.Int64
	}
	d.MtimeSeen = parseTime(mtime)
	d.MissingSince = timePtr(missing)
	return &d, nil
}

// GetDirectory retrieves one directory row.
func (s *Store) GetDirectory(ctx context.Context, id int64) (*media.Directory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+directoryColumns+` FROM directories WHERE id = ?`, id)
	d, err := scanDirectory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdef.NotFound("directory %d", id)
	}
	return d, err
}

// GetDirectoryByPath retrieves the tracked directory at an exact path.
func (s *Store) GetDirectoryByPath(ctx context.Context, sectionID int64, path string) (*media.Directory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+directoryColumns+` FROM directories WHERE section_id = ? AND path = ?`,
		sectionID, path)
	d, err := scanDirectory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdef.NotFound("directory %s", path)
	}
	return d, err
}

// NearestTrackedDirectory finds the deepest tracked directory containing
// path. The watcher groups raw events under it.
func (s *Store) NearestTrackedDirectory(ctx context.Context, sectionID int64, path string) (*media.Directory, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT `+directoryColumns+` FROM directories
	WHERE section_id = ? AND (path = ? OR ? LIKE path || '/%')
	ORDER BY LENGTH(path) DESC
	LIMIT 1
	`, sectionID, path, path)
	d, err := scanDirectory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdef.NotFound("no tracked directory above %s", path)
	}
	return d, err
}

// ListChildDirectories returns the direct children of a directory.
func (s *Store) ListChildDirectories(ctx context.Context, parentID int64) ([]media.Directory, error) {
	return s.queryDirectories(ctx,
		`SELECT `+directoryColumns+` FROM directories WHERE parent_id = ? ORDER BY path`, parentID)
}

// ListRootDirectories returns the top-level directories of one location.
func (s *Store) ListRootDirectories(ctx context.Context, locationID int64) ([]media.Directory, error) {
	return s.queryDirectories(ctx,
		`SELECT `+directoryColumns+` FROM directories WHERE location_id = ? AND parent_id IS NULL ORDER BY path`,
		locationID)
}

// ListDirectoriesAfter pages section directories by ascending id. The scan
// checkpoint cursor resumes iteration here.
func (s *Store) ListDirectoriesAfter(ctx context.Context, sectionID, afterID int64, limit int) ([]media.Directory, error) {
	return s.queryDirectories(ctx, `
	SELECT `+directoryColumns+` FROM directories
	WHERE section_id = ? AND id > ?
	ORDER BY id
	LIMIT ?
	`, sectionID, afterID, limit)
}

func (s *Store) queryDirectories(ctx context.Context, query string, args ...any) ([]media.Directory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var dirs []media.Directory
	for rows.Next() {
		d, err := scanDirectory(rows)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, *d)
	}
	return dirs, rows.Err()
}

// MarkDirectoryMissing stamps a directory (and nothing below it; callers walk
// the subtree) as gone from disk at the given time.
func (s *Store) MarkDirectoryMissing(ctx context.Context, tx *sql.Tx, id int64, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE directories SET missing_since = ? WHERE id = ? AND missing_since IS NULL`,
		fmtTime(at), id)
	return err
}

// DeleteDirectoriesMissingBefore drops directories whose missing mark is
// older than cutoff. Parts and child directories cascade.
func (s *Store) DeleteDirectoriesMissingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM directories WHERE missing_since IS NOT NULL AND missing_since < ?`,
		fmtTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountDirectories reports tracked directories per section.
func (s *Store) CountDirectories(ctx context.Context, sectionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM directories WHERE section_id = ?`, sectionID).Scan(&n)
	return n, err
}

// UpsertMediaPart records a file sighting and fills p.ID. Re-seeing a part
// clears any missing mark. Called inside a scan batch transaction.
func (s *Store) UpsertMediaPart(ctx context.Context, tx *sql.Tx, p *media.MediaPart) error {
	_, err := tx.ExecContext(ctx, `
	INSERT INTO media_parts (item_id, directory_id, section_id, part_index, path, size, mtime_seen, container, missing_since)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)
	ON CONFLICT(section_id, path) DO UPDATE SET
		item_id = excluded.item_id,
		directory_id = excluded.directory_id,
		part_index = excluded.part_index,
		size = excluded.size,
		mtime_seen = excluded.mtime_seen,
		container = excluded.container,
		missing_since = NULL
	`, p.ItemID, p.DirectoryID, p.SectionID, p.PartIndex, p.Path, p.Size, fmtTime(p.MtimeSeen), p.Container)
	if err != nil {
		return fmt.Errorf("upsert part %s: %w", p.Path, err)
	}
	return tx.QueryRowContext(ctx,
		`SELECT id FROM media_parts WHERE section_id = ? AND path = ?`,
		p.SectionID, p.Path,
	).Scan(&p.ID)
}

const partColumns = `id, item_id, directory_id, section_id, part_index, path, size, mtime_seen, container, missing_since`

func scanPart(row interface{ Scan(...any) error }) (*media.MediaPart, error) {
	var (
		p       media.MediaPart
		mtime   string
		missing sql.NullString
	)
	if err := row.Scan(&p.ID, &p.ItemID, &p.DirectoryID, &p.SectionID, &p.PartIndex,
		&p.Path, &p.Size, &mtime, &p.Container, &missing); err != nil {
		return nil, err
	}
	p.MtimeSeen = parseTime(mtime)
	p.MissingSince = timePtr(missing)
	return &p, nil
}

// GetMediaPart retrieves one part row.
func (s *Store) GetMediaPart(ctx context.Context, id int64) (*media.MediaPart, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+partColumns+` FROM media_parts WHERE id = ?`, id)
	p, err := scanPart(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdef.NotFound("media part %d", id)
	}
	return p, err
}

// GetPartByPath retrieves the part tracked at an exact path.
func (s *Store) GetPartByPath(ctx context.Context, sectionID int64, path string) (*media.MediaPart, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+partColumns+` FROM media_parts WHERE section_id = ? AND path = ?`,
		sectionID, path)
	p, err := scanPart(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdef.NotFound("media part %s", path)
	}
	return p, err
}

// ListPartsInDirectory returns live and missing parts of one directory.
func (s *Store) ListPartsInDirectory(ctx context.Context, directoryID int64) ([]media.MediaPart, error) {
	return s.queryParts(ctx,
		`SELECT `+partColumns+` FROM media_parts WHERE directory_id = ? ORDER BY path`, directoryID)
}

// ListPartsForItem returns the parts of one media item ordered by part index.
func (s *Store) ListPartsForItem(ctx context.Context, itemID int64) ([]media.MediaPart, error) {
	return s.queryParts(ctx,
		`SELECT `+partColumns+` FROM media_parts WHERE item_id = ? ORDER BY part_index`, itemID)
}

func (s *Store) queryParts(ctx context.Context, query string, args ...any) ([]media.MediaPart, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var parts []media.MediaPart
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, err
		}
		parts = append(parts, *p)
	}
	return parts, rows.Err()
}

// MarkPartMissing stamps a part as gone from disk at the given time.
func (s *Store) MarkPartMissing(ctx context.Context, tx *sql.Tx, id int64, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE media_parts SET missing_since = ? WHERE id = ? AND missing_since IS NULL`,
		fmtTime(at), id)
	return err
}

// DeletePartsMissingBefore drops parts whose missing mark is older than
// cutoff, then prunes items left without any file.
func (s *Store) DeletePartsMissingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM media_parts WHERE missing_since IS NOT NULL AND missing_since < ?`,
		fmtTime(cutoff))
	if err != nil {
		return 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		if err := s.PruneOrphans(ctx); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// PruneOrphans removes media items without parts, then metadata nodes left
// without media or children. People, groups and collections survive; their
// relations cascade away with the deleted endpoints.
func (s *Store) PruneOrphans(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
	DELETE FROM media_items WHERE id NOT IN (SELECT DISTINCT item_id FROM media_parts)
	`); err != nil {
		return fmt.Errorf("prune media items: %w", err)
	}

	// Leaves first, then emptied containers; the tree is at most three
	// levels deep so a short fixed loop converges.
	for i := 0; i < 4; i++ {
		res, err := s.db.ExecContext(ctx, `
		DELETE FROM metadata_items
		WHERE type NOT IN ('person', 'group', 'collection')
		  AND id NOT IN (SELECT DISTINCT metadata_id FROM media_items)
		  AND id NOT IN (SELECT DISTINCT parent_id FROM metadata_items WHERE parent_id IS NOT NULL)
		`)
		if err != nil {
			return fmt.Errorf("prune metadata items: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
	}
	return nil
}
