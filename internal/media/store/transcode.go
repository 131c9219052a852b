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

const transcodeColumns = `id, uuid, session_id, media_part_id, protocol, output_path, pid,
	state, progress, segment_length_s, start_time_ms, segment_prefix, segment_extension,
	last_ping_at, last_segment_index, error, created_at`

func scanTranscodeJob(row interface{ Scan(...any) error }) (*media.TranscodeJob, error) {
	var (
		j        media.TranscodeJob
		protocol string
		state    string
		pinged   string
		created  string
	)
	if err := row.Scan(&j.ID, &j.UUID, &j.SessionID, &j.MediaPartID, &protocol, &j.OutputPath,
		&j.PID, &state, &j.Progress, &j.SegmentLengthS, &j.StartTimeMs, &j.SegmentPrefix,
		&j.SegmentExtension, &pinged, &j.LastSegmentIndex, &j.Error, &created); err != nil {
		return nil, err
	}
	j.Protocol = media.StreamProtocol(protocol)
	j.State = media.TranscodeState(state)
	j.LastPingAt = parseTime(pinged)
	j.CreatedAt = parseTime(created)
	return &j, nil
}

// CreateTranscodeJob registers a queued job.
func (s *Store) CreateTranscodeJob(ctx context.Context, j *media.TranscodeJob) error {
	if j.UUID == "" {
		j.UUID = uuid.NewString()
	}
	now := time.Now()
	j.State = media.TranscodeQueued
	j.LastPingAt = now
	j.CreatedAt = now
	if j.LastSegmentIndex == 0 {
		j.LastSegmentIndex = -1
	}
	if j.SegmentLengthS == 0 {
		j.SegmentLengthS = 4
	}

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO transcode_jobs (uuid, session_id, media_part_id, protocol, output_path, pid,
		state, progress, segment_length_s, start_time_ms, segment_prefix, segment_extension,
		last_ping_at, last_segment_index, error, created_at)
	VALUES (?, ?, ?, ?, ?, 0, ?, 0, ?, ?, ?, ?, ?, ?, '', ?)
	`, j.UUID, j.SessionID, j.MediaPartID, string(j.Protocol), j.OutputPath, string(j.State),
		j.SegmentLengthS, j.StartTimeMs, j.SegmentPrefix, j.SegmentExtension, fmtTime(now),
		j.LastSegmentIndex, fmtTime(now))
	if err != nil {
		return fmt.Errorf("insert transcode job: %w", err)
	}
	j.ID, err = res.LastInsertId()
	return err
}

// GetTranscodeJob loads a job by public UUID.
func (s *Store) GetTranscodeJob(ctx context.Context, id string) (*media.TranscodeJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+transcodeColumns+` FROM transcode_jobs WHERE uuid = ?`, id)
	j, err := scanTranscodeJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errdef.NotFound("transcode job %s", id)
	}
	return j, err
}

// SetTranscodeState transitions a job. Transitions from a terminal state are
// rejected so a stray progress report cannot reopen a finished job.
func (s *Store) SetTranscodeState(ctx context.Context, id string, state media.TranscodeState, pid int, jobErr string) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE transcode_jobs SET state = ?, pid = ?, error = ?, last_ping_at = ?
	WHERE uuid = ? AND state NOT IN ('completed', 'cancelled', 'failed')
	`, string(state), pid, jobErr, fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetTranscodeJob(ctx, id); err != nil {
			return err
		}
		return errdef.Conflict("transcode job %s already finished", id)
	}
	return nil
}

// SaveTranscodeProgress records progress and the highest finished segment.
// Progress never regresses; out-of-order reports keep the furthest value.
func (s *Store) SaveTranscodeProgress(ctx context.Context, id string, progress float64, segmentIndex int) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE transcode_jobs SET
		progress = MAX(progress, ?),
		last_segment_index = MAX(last_segment_index, ?),
		last_ping_at = ?
	WHERE uuid = ?
	`, progress, segmentIndex, fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	return requireRow(res, "transcode job %s", id)
}

// PingTranscodeJob marks client interest, deferring the idle reaper.
func (s *Store) PingTranscodeJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transcode_jobs SET last_ping_at = ? WHERE uuid = ?`, fmtTime(time.Now()), id)
	if err != nil {
		return err
	}
	return requireRow(res, "transcode job %s", id)
}

// ListSessionJobs returns a session's jobs, newest first.
func (s *Store) ListSessionJobs(ctx context.Context, sessionID int64) ([]media.TranscodeJob, error) {
	return s.queryJobs(ctx, `
	SELECT `+transcodeColumns+` FROM transcode_jobs WHERE session_id = ? ORDER BY created_at DESC
	`, sessionID)
}

// ListActiveJobs returns jobs in a non-terminal state.
func (s *Store) ListActiveJobs(ctx context.Context) ([]media.TranscodeJob, error) {
	return s.queryJobs(ctx, `
	SELECT `+transcodeColumns+` FROM transcode_jobs
	WHERE state IN ('queued', 'starting', 'running') ORDER BY created_at
	`)
}

// ListIdleJobs returns running jobs not pinged within idle. The sweeper kills
// their processes and fails them.
func (s *Store) ListIdleJobs(ctx context.Context, idle time.Duration) ([]media.TranscodeJob, error) {
	cutoff := time.Now().Add(-idle)
	return s.queryJobs(ctx, `
	SELECT `+transcodeColumns+` FROM transcode_jobs
	WHERE state IN ('starting', 'running') AND last_ping_at < ?
	`, fmtTime(cutoff))
}

// DeleteTerminalJobs removes finished jobs older than retention and returns
// their output paths for directory cleanup.
func (s *Store) DeleteTerminalJobs(ctx context.Context, retention time.Duration) ([]string, error) {
	cutoff := fmtTime(time.Now().Add(-retention))
	rows, err := s.db.QueryContext(ctx, `
	SELECT output_path FROM transcode_jobs
	WHERE state IN ('completed', 'cancelled', 'failed') AND last_ping_at < ?
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
	DELETE FROM transcode_jobs
	WHERE state IN ('completed', 'cancelled', 'failed') AND last_ping_at < ?
	`, cutoff)
	return paths, err
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]media.TranscodeJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var jobs []media.TranscodeJob
	for rows.Next() {
		j, err := scanTranscodeJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}
