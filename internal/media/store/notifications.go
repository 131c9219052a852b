// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/nexa/internal/media"
)

// FlushNotifications writes a batch of dirty entries in one transaction. The
// fabric coalesces in memory; this is the only writer of job_notifications.
func (s *Store) FlushNotifications(ctx context.Context, entries []media.JobNotificationEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i := range entries {
		e := &entries[i]
		if _, err := tx.ExecContext(ctx, `
		INSERT INTO job_notifications (section_id, job_type, epoch, total, completed, status, error, last_update)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(section_id, job_type) DO UPDATE SET
			epoch = excluded.epoch, total = excluded.total, completed = excluded.completed,
			status = excluded.status, error = excluded.error, last_update = excluded.last_update
		`, e.SectionID, string(e.JobType), e.Epoch, e.Total, e.Completed, string(e.Status),
			e.Error, fmtTime(e.LastUpdate)); err != nil {
			return fmt.Errorf("flush notification %d/%s: %w", e.SectionID, e.JobType, err)
		}
	}
	return tx.Commit()
}

// LoadNotifications returns every persisted entry. The fabric seeds its
// in-memory table from this on startup.
func (s *Store) LoadNotifications(ctx context.Context) ([]media.JobNotificationEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT section_id, job_type, epoch, total, completed, status, error, last_update
	FROM job_notifications
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []media.JobNotificationEntry
	for rows.Next() {
		var (
			e       media.JobNotificationEntry
			jobType string
			status  string
			updated string
		)
		if err := rows.Scan(&e.SectionID, &jobType, &e.Epoch, &e.Total, &e.Completed,
			&status, &e.Error, &updated); err != nil {
			return nil, err
		}
		e.JobType = media.JobType(jobType)
		e.Status = media.JobStatus(status)
		e.LastUpdate = parseTime(updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PurgeNotifications deletes terminal entries not updated within retention.
func (s *Store) PurgeNotifications(ctx context.Context, retention time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
	DELETE FROM job_notifications
	WHERE status IN ('completed', 'failed') AND last_update < ?
	`, fmtTime(time.Now().Add(-retention)))
	return err
}
