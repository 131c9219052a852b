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

// CreateSection inserts a section together with its locations and fills in
// the generated ids. A missing UUID is assigned here.
func (s *Store) CreateSection(ctx context.Context, sec *media.LibrarySection) error {
	if sec.UUID == "" {
		sec.UUID = uuid.NewString()
	}
	now := time.Now()
	sec.CreatedAt = now
	sec.UpdatedAt = now

	settings, err := encodeJSON(sec.Settings)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
	INSERT INTO library_sections (uuid, name, type, settings, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`, sec.UUID, sec.Name, string(sec.Type), settings, fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert section: %w", err)
	}
	sec.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}

	for i := range sec.Locations {
		loc := &sec.Locations[i]
		loc.SectionID = sec.ID
		res, err := tx.ExecContext(ctx, `
		INSERT INTO section_locations (section_id, root_path, available)
		VALUES (?, ?, ?)
		`, sec.ID, loc.RootPath, boolInt(loc.Available))
		if err != nil {
			return fmt.Errorf("insert location %s: %w", loc.RootPath, err)
		}
		if loc.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const sectionColumns = `id, uuid, name, type, settings, created_at, updated_at`

func scanSection(row interface{ Scan(...any) error }) (*media.LibrarySection, error) {
	var (
		sec                  media.LibrarySection
		typ, settings        string
		createdAt, updatedAt string
	)
	if err := row.Scan(&sec.ID, &sec.UUID, &sec.Name, &typ, &settings, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	sec.Type = media.LibraryType(typ)
	sec.CreatedAt = parseTime(createdAt)
	sec.UpdatedAt = parseTime(updatedAt)
	if err := decodeJSON(settings, &sec.Settings); err != nil {
		return nil, err
	}
	return &sec, nil
}

// GetSection retrieves one section with its locations.
func (s *Store) GetSection(ctx context.Context, id int64) (*media.LibrarySection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sectionColumns+` FROM library_sections WHERE id = ?`, id)
	sec, err := scanSection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdef.NotFound("library section %d", id)
	}
	if err != nil {
		return nil, err
	}
	sec.Locations, err = s.ListSectionLocations(ctx, sec.ID)
	return sec, err
}

// GetSectionByUUID retrieves one section by its public UUID.
func (s *Store) GetSectionByUUID(ctx context.Context, id string) (*media.LibrarySection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sectionColumns+` FROM library_sections WHERE uuid = ?`, id)
	sec, err := scanSection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdef.NotFound("library section %s", id)
	}
	if err != nil {
		return nil, err
	}
	sec.Locations, err = s.ListSectionLocations(ctx, sec.ID)
	return sec, err
}

// ListSections returns all sections with locations, ordered by name.
func (s *Store) ListSections(ctx context.Context) ([]media.LibrarySection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sectionColumns+` FROM library_sections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sections []media.LibrarySection
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		sections = append(sections, *sec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sections {
		sections[i].Locations, err = s.ListSectionLocations(ctx, sections[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return sections, nil
}

// UpdateSection renames a section and replaces its settings.
func (s *Store) UpdateSection(ctx context.Context, id int64, name string, settings media.SectionSettings) error {
	raw, err := encodeJSON(settings)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
	UPDATE library_sections SET name = ?, settings = ?, updated_at = ? WHERE id = ?
	`, name, raw, fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	return requireRow(res, "library section %d", id)
}

// DeleteSection removes the section; directories, items, parts, scans and
// configs referencing it cascade away.
func (s *Store) DeleteSection(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM library_sections WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "library section %d", id)
}

// ListSectionLocations returns the location roots of a section.
func (s *Store) ListSectionLocations(ctx context.Context, sectionID int64) ([]media.SectionLocation, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, section_id, root_path, available FROM section_locations
	WHERE section_id = ? ORDER BY root_path
	`, sectionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var locs []media.SectionLocation
	for rows.Next() {
		var (
			loc       media.SectionLocation
			available int
		)
		if err := rows.Scan(&loc.ID, &loc.SectionID, &loc.RootPath, &available); err != nil {
			return nil, err
		}
		loc.Available = available != 0
		locs = append(locs, loc)
	}
	return locs, rows.Err()
}

// AddSectionLocation attaches a new filesystem root to a section.
func (s *Store) AddSectionLocation(ctx context.Context, sectionID int64, rootPath string) (*media.SectionLocation, error) {
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO section_locations (section_id, root_path, available) VALUES (?, ?, 1)
	`, sectionID, rootPath)
	if err != nil {
		return nil, fmt.Errorf("insert location: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &media.SectionLocation{ID: id, SectionID: sectionID, RootPath: rootPath, Available: true}, nil
}

// RemoveSectionLocation detaches a root; its directories and parts cascade.
func (s *Store) RemoveSectionLocation(ctx context.Context, locationID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM section_locations WHERE id = ?`, locationID)
	if err != nil {
		return err
	}
	return requireRow(res, "section location %d", locationID)
}

// SetLocationAvailable flips the mount-availability flag. Scans skip
// unavailable roots instead of mass-deleting their items.
func (s *Store) SetLocationAvailable(ctx context.Context, locationID int64, available bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE section_locations SET available = ? WHERE id = ?`,
		boolInt(available), locationID)
	if err != nil {
		return err
	}
	return requireRow(res, "section location %d", locationID)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// requireRow converts a zero-row update into NotFound.
func requireRow(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errdef.NotFound(format, args...)
	}
	return nil
}
