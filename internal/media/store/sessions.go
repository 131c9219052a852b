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

const sessionColumns = `id, uuid, user_id, item_id, capability_version, plan,
	playlist_generator_id, playhead_ms, state, created_at, last_heartbeat_at`

func scanSession(row interface{ Scan(...any) error }) (*media.PlaybackSession, error) {
	var (
		ps        media.PlaybackSession
		plan      sql.NullString
		state     string
		created   string
		heartbeat string
	)
	if err := row.Scan(&ps.ID, &ps.UUID, &ps.UserID, &ps.ItemID, &ps.CapabilityVersion,
		&plan, &ps.PlaylistGeneratorID, &ps.PlayheadMs, &state, &created, &heartbeat); err != nil {
		return nil, err
	}
	ps.State = media.SessionState(state)
	ps.CreatedAt = parseTime(created)
	ps.LastHeartbeatAt = parseTime(heartbeat)
	if plan.Valid && plan.String != "" {
		var sp media.StreamPlan
		if err := decodeJSON(plan.String, &sp); err != nil {
			return nil, fmt.Errorf("decode stream plan for session %s: %w", ps.UUID, err)
		}
		ps.Plan = &sp
	}
	return &ps, nil
}

// CreateSession registers a new playback session in the preparing state.
func (s *Store) CreateSession(ctx context.Context, ps *media.PlaybackSession) error {
	if ps.UUID == "" {
		ps.UUID = uuid.NewString()
	}
	now := time.Now()
	ps.State = media.SessionPreparing
	ps.CreatedAt = now
	ps.LastHeartbeatAt = now

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO playback_sessions (uuid, user_id, item_id, capability_version, plan,
		playlist_generator_id, playhead_ms, state, created_at, last_heartbeat_at)
	VALUES (?, ?, ?, ?, NULL, ?, ?, ?, ?, ?)
	`, ps.UUID, ps.UserID, ps.ItemID, ps.CapabilityVersion, ps.PlaylistGeneratorID,
		ps.PlayheadMs, string(ps.State), fmtTime(now), fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert playback session: %w", err)
	}
	ps.ID, err = res.LastInsertId()
	return err
}

// GetSession loads a session by public UUID.
func (s *Store) GetSession(ctx context.Context, id string) (*media.PlaybackSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM playback_sessions WHERE uuid = ?`, id)
	ps, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdef.NotFound("playback session %s", id)
	}
	return ps, err
}

// UpdateSession persists the mutable session fields after an orchestrator
// transition.
func (s *Store) UpdateSession(ctx context.Context, ps *media.PlaybackSession) error {
	var plan any
	if ps.Plan != nil {
		raw, err := encodeJSON(ps.Plan)
		if err != nil {
			return err
		}
		plan = raw
	}
	res, err := s.db.ExecContext(ctx, `
	UPDATE playback_sessions SET item_id = ?, capability_version = ?, plan = ?,
		playlist_generator_id = ?, playhead_ms = ?, state = ?, last_heartbeat_at = ?
	WHERE uuid = ?
	`, ps.ItemID, ps.CapabilityVersion, plan, ps.PlaylistGeneratorID, ps.PlayheadMs,
		string(ps.State), fmtTime(ps.LastHeartbeatAt), ps.UUID)
	if err != nil {
		return err
	}
	return requireRow(res, "playback session %s", ps.UUID)
}

// TouchSession records a heartbeat and the reported playhead.
func (s *Store) TouchSession(ctx context.Context, id string, playheadMs int64, state media.SessionState) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE playback_sessions SET playhead_ms = ?, state = ?, last_heartbeat_at = ? WHERE uuid = ?
	`, playheadMs, string(state), fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	return requireRow(res, "playback session %s", id)
}

// DeleteSession removes a session; its transcode jobs and playlist generators
// cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM playback_sessions WHERE uuid = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "playback session %s", id)
}

// ListExpiredSessions returns sessions whose last heartbeat is older than ttl.
// The sweeper stops and deletes them.
func (s *Store) ListExpiredSessions(ctx context.Context, ttl time.Duration) ([]media.PlaybackSession, error) {
	cutoff := time.Now().Add(-ttl)
	rows, err := s.db.QueryContext(ctx, `
	SELECT `+sessionColumns+` FROM playback_sessions WHERE last_heartbeat_at < ?
	`, fmtTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []media.PlaybackSession
	for rows.Next() {
		ps, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *ps)
	}
	return sessions, rows.Err()
}

// ListSessions returns all live sessions, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]media.PlaybackSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM playback_sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []media.PlaybackSession
	for rows.Next() {
		ps, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *ps)
	}
	return sessions, rows.Err()
}

// UpsertCapabilityProfile stores a client capability set and bumps its
// version. The returned version lets the orchestrator stamp new plans.
func (s *Store) UpsertCapabilityProfile(ctx context.Context, userID, deviceID string, caps media.Caps) (*media.CapabilityProfile, error) {
	profile, err := encodeJSON(caps)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if _, err := s.db.ExecContext(ctx, `
	INSERT INTO capability_profiles (user_id, device_id, version, profile, updated_at)
	VALUES (?, ?, 1, ?, ?)
	ON CONFLICT(user_id, device_id) DO UPDATE SET
		version = version + 1, profile = excluded.profile, updated_at = excluded.updated_at
	`, userID, deviceID, profile, fmtTime(now)); err != nil {
		return nil, fmt.Errorf("upsert capability profile %s/%s: %w", userID, deviceID, err)
	}
	return s.GetCapabilityProfile(ctx, userID, deviceID)
}

// GetCapabilityProfile loads one client's declared capabilities.
func (s *Store) GetCapabilityProfile(ctx context.Context, userID, deviceID string) (*media.CapabilityProfile, error) {
	var (
		cp      media.CapabilityProfile
		profile string
		updated string
	)
	err := s.db.QueryRowContext(ctx, `
	SELECT user_id, device_id, version, profile, updated_at FROM capability_profiles
	WHERE user_id = ? AND device_id = ?
	`, userID, deviceID).Scan(&cp.UserID, &cp.DeviceID, &cp.Version, &profile, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdef.NotFound("capability profile %s/%s", userID, deviceID)
	}
	if err != nil {
		return nil, err
	}
	cp.UpdatedAt = parseTime(updated)
	if err := decodeJSON(profile, &cp.Profile); err != nil {
		return nil, err
	}
	return &cp, nil
}
