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

// SaveHubConfiguration upserts the admin hub layout for one (context,
// section, type) scope.
func (s *Store) SaveHubConfiguration(ctx context.Context, hc *media.HubConfiguration) error {
	enabled, err := encodeJSON(hc.Enabled)
	if err != nil {
		return err
	}
	disabled, err := encodeJSON(hc.Disabled)
	if err != nil {
		return err
	}
	hidden, err := encodeJSON(hc.Hidden)
	if err != nil {
		return err
	}
	hc.UpdatedAt = time.Now()

	if _, err := s.db.ExecContext(ctx, `
	INSERT INTO hub_configurations (context, section_id, metadata_type, enabled, disabled, hidden, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(context, section_id, metadata_type) DO UPDATE SET
		enabled = excluded.enabled, disabled = excluded.disabled,
		hidden = excluded.hidden, updated_at = excluded.updated_at
	`, string(hc.Context), hc.SectionID, string(hc.MetadataType), enabled, disabled, hidden,
		fmtTime(hc.UpdatedAt)); err != nil {
		return fmt.Errorf("save hub configuration %s/%d: %w", hc.Context, hc.SectionID, err)
	}
	return s.db.QueryRowContext(ctx, `
	SELECT id FROM hub_configurations WHERE context = ? AND section_id = ? AND metadata_type = ?
	`, string(hc.Context), hc.SectionID, string(hc.MetadataType)).Scan(&hc.ID)
}

// GetHubConfiguration returns the saved layout for a scope, or nil when the
// admin never touched it.
func (s *Store) GetHubConfiguration(ctx context.Context, hubCtx media.HubContext, sectionID int64, typ media.MetadataType) (*media.HubConfiguration, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT id, context, section_id, metadata_type, enabled, disabled, hidden, updated_at
	FROM hub_configurations WHERE context = ? AND section_id = ? AND metadata_type = ?
	`, string(hubCtx), sectionID, string(typ))
	hc, err := scanHubConfiguration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return hc, err
}

func scanHubConfiguration(row interface{ Scan(...any) error }) (*media.HubConfiguration, error) {
	var (
		hc                        media.HubConfiguration
		hubCtx, typ               string
		enabled, disabled, hidden string
		updated                   string
	)
	if err := row.Scan(&hc.ID, &hubCtx, &hc.SectionID, &typ, &enabled, &disabled, &hidden, &updated); err != nil {
		return nil, err
	}
	hc.Context = media.HubContext(hubCtx)
	hc.MetadataType = media.MetadataType(typ)
	hc.UpdatedAt = parseTime(updated)
	if err := decodeJSON(enabled, &hc.Enabled); err != nil {
		return nil, err
	}
	if err := decodeJSON(disabled, &hc.Disabled); err != nil {
		return nil, err
	}
	if err := decodeJSON(hidden, &hc.Hidden); err != nil {
		return nil, err
	}
	return &hc, nil
}

// SaveCustomField upserts an admin-defined metadata field.
func (s *Store) SaveCustomField(ctx context.Context, f *media.CustomFieldDefinition) error {
	appliesTo, err := encodeJSON(f.AppliesTo)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO custom_fields (key, label, widget, applies_to, sort_order, enabled)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		label = excluded.label, widget = excluded.widget, applies_to = excluded.applies_to,
		sort_order = excluded.sort_order, enabled = excluded.enabled
	`, f.Key, f.Label, string(f.Widget), appliesTo, f.SortOrder, boolInt(f.Enabled))
	if err != nil {
		return fmt.Errorf("save custom field %s: %w", f.Key, err)
	}
	return nil
}

// ListCustomFields returns every defined field in sort order.
func (s *Store) ListCustomFields(ctx context.Context) ([]media.CustomFieldDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT key, label, widget, applies_to, sort_order, enabled FROM custom_fields ORDER BY sort_order, key
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var fields []media.CustomFieldDefinition
	for rows.Next() {
		var (
			f         media.CustomFieldDefinition
			widget    string
			appliesTo string
			enabled   int
		)
		if err := rows.Scan(&f.Key, &f.Label, &widget, &appliesTo, &f.SortOrder, &enabled); err != nil {
			return nil, err
		}
		f.Widget = media.FieldWidget(widget)
		f.Enabled = enabled != 0
		if err := decodeJSON(appliesTo, &f.AppliesTo); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// DeleteCustomField removes a field definition. Item values under the key
// stay in their extra blobs and simply stop rendering.
func (s *Store) DeleteCustomField(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM custom_fields WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return requireRow(res, "custom field %s", key)
}

// SaveDetailFieldConfiguration upserts the detail-page layout for one
// (metadata type, section) scope.
func (s *Store) SaveDetailFieldConfiguration(ctx context.Context, dc *media.DetailFieldConfiguration) error {
	enabledB, err := encodeJSON(dc.EnabledBuiltins)
	if err != nil {
		return err
	}
	disabledB, err := encodeJSON(dc.DisabledBuiltins)
	if err != nil {
		return err
	}
	disabledC, err := encodeJSON(dc.DisabledCustomKeys)
	if err != nil {
		return err
	}
	groups, err := encodeJSON(dc.Groups)
	if err != nil {
		return err
	}
	assignments, err := encodeJSON(dc.Assignments)
	if err != nil {
		return err
	}
	dc.UpdatedAt = time.Now()

	if _, err := s.db.ExecContext(ctx, `
	INSERT INTO detail_field_configurations (metadata_type, section_id, enabled_builtins,
		disabled_builtins, disabled_custom_keys, groups, assignments, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(metadata_type, section_id) DO UPDATE SET
		enabled_builtins = excluded.enabled_builtins,
		disabled_builtins = excluded.disabled_builtins,
		disabled_custom_keys = excluded.disabled_custom_keys,
		groups = excluded.groups, assignments = excluded.assignments,
		updated_at = excluded.updated_at
	`, string(dc.MetadataType), dc.SectionID, enabledB, disabledB, disabledC, groups,
		assignments, fmtTime(dc.UpdatedAt)); err != nil {
		return fmt.Errorf("save detail field configuration %s/%d: %w", dc.MetadataType, dc.SectionID, err)
	}
	return s.db.QueryRowContext(ctx, `
	SELECT id FROM detail_field_configurations WHERE metadata_type = ? AND section_id = ?
	`, string(dc.MetadataType), dc.SectionID).Scan(&dc.ID)
}

// GetDetailFieldConfiguration returns the saved layout for a scope, or nil.
func (s *Store) GetDetailFieldConfiguration(ctx context.Context, typ media.MetadataType, sectionID int64) (*media.DetailFieldConfiguration, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT id, metadata_type, section_id, enabled_builtins, disabled_builtins,
		disabled_custom_keys, groups, assignments, updated_at
	FROM detail_field_configurations WHERE metadata_type = ? AND section_id = ?
	`, string(typ), sectionID)

	var (
		dc                             media.DetailFieldConfiguration
		mt                             string
		enabledB, disabledB, disabledC string
		groups, assignments            string
		updated                        string
	)
	err := row.Scan(&dc.ID, &mt, &dc.SectionID, &enabledB, &disabledB, &disabledC,
		&groups, &assignments, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	dc.MetadataType = media.MetadataType(mt)
	dc.UpdatedAt = parseTime(updated)
	for _, col := range []struct {
		raw string
		dst any
	}{
		{enabledB, &dc.EnabledBuiltins},
		{disabledB, &dc.DisabledBuiltins},
		{disabledC, &dc.DisabledCustomKeys},
		{groups, &dc.Groups},
		{assignments, &dc.Assignments},
	} {
		if err := decodeJSON(col.raw, col.dst); err != nil {
			return nil, err
		}
	}
	return &dc, nil
}

// ResetDetailFieldConfiguration drops the saved layout for a scope so the
// builtin defaults apply again.
func (s *Store) ResetDetailFieldConfiguration(ctx context.Context, typ media.MetadataType, sectionID int64) error {
	res, err := s.db.ExecContext(ctx, `
	DELETE FROM detail_field_configurations WHERE metadata_type = ? AND section_id = ?
	`, string(typ), sectionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errdef.NotFound("detail field configuration %s/%d", typ, sectionID)
	}
	return nil
}
