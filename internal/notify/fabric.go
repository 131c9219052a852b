// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package notify is the job-progress notification fabric: an in-memory
// aggregator keyed by (library section, job type), drained on a fixed
// cadence and fanned out to subscribers.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/metrics"
)

// Key identifies one aggregation entry.
type Key struct {
	SectionID int64
	JobType   media.JobType
}

// Fabric aggregates job progress. Components report through Start,
// ReportProgress, Complete and Fail; Run drains dirty entries to
// subscribers every flush interval.
type Fabric struct {
	mu      sync.Mutex
	entries map[Key]*media.JobNotificationEntry

	hub *Hub

	flushInterval time.Duration
	now           func() time.Time
	log           zerolog.Logger
}

// Option tweaks fabric construction in tests.
type Option func(*Fabric)

// WithClock injects a deterministic time source.
func WithClock(now func() time.Time) Option {
	return func(f *Fabric) { f.now = now }
}

// New returns an idle fabric; call Run to start the flush loop.
func New(flushInterval time.Duration, opts ...Option) *Fabric {
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	f := &Fabric{
		entries:       make(map[Key]*media.JobNotificationEntry),
		hub:           NewHub(),
		flushInterval: flushInterval,
		now:           time.Now,
		log:           log.WithComponent("notify"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Hub exposes the subscriber hub for the API layer.
func (f *Fabric) Hub() *Hub { return f.hub }

// Start opens (or restarts) the epoch for key. Restarting a live epoch
// resets completed to zero and bumps the epoch so clients can discard
// frames from the previous run.
func (f *Fabric) Start(sectionID int64, jobType media.JobType, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := Key{SectionID: sectionID, JobType: jobType}
	e, ok := f.entries[k]
	if !ok {
		e = &media.JobNotificationEntry{SectionID: sectionID, JobType: jobType, Epoch: 1}
		f.entries[k] = e
	} else if e.Status == media.JobRunning || e.Status == media.JobPending {
		// Idempotent within an epoch only when nothing has progressed yet.
		if e.Completed == 0 && e.Total == total {
			e.LastUpdate = f.now()
			e.Dirty = true
			return
		}
		e.Epoch++
	} else {
		e.Epoch++
	}
	e.Total = total
	e.Completed = 0
	e.Status = media.JobRunning
	e.Error = ""
	e.LastUpdate = f.now()
	e.Dirty = true
}

// ReportProgress records completion counts. Progress is monotonic within an
// epoch: regressions clamp to the last value; completed never exceeds total.
func (f *Fabric) ReportProgress(sectionID int64, jobType media.JobType, completed, total int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[Key{SectionID: sectionID, JobType: jobType}]
	if !ok || e.Status.Terminal() {
		return
	}
	if total > e.Total {
		e.Total = total
	}
	if completed > e.Completed {
		e.Completed = completed
	}
	if e.Completed > e.Total {
		e.Completed = e.Total
	}
	e.Status = media.JobRunning
	e.LastUpdate = f.now()
	e.Dirty = true
}

// Complete marks the epoch finished. Further reports are ignored until a new
// Start.
func (f *Fabric) Complete(sectionID int64, jobType media.JobType) {
	f.terminal(sectionID, jobType, media.JobCompleted, "")
}

// Fail marks the epoch failed with msg.
func (f *Fabric) Fail(sectionID int64, jobType media.JobType, msg string) {
	f.terminal(sectionID, jobType, media.JobFailed, msg)
}

func (f *Fabric) terminal(sectionID int64, jobType media.JobType, status media.JobStatus, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[Key{SectionID: sectionID, JobType: jobType}]
	if !ok || e.Status.Terminal() {
		return
	}
	if status == media.JobCompleted {
		e.Completed = e.Total
	}
	e.Status = status
	e.Error = msg
	e.LastUpdate = f.now()
	e.Dirty = true
}

// Snapshot returns a copy of every live entry, for the active-jobs query.
func (f *Fabric) Snapshot() []media.JobNotificationEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]media.JobNotificationEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, *e)
	}
	return out
}

// Purge drops terminal entries last updated before cutoff. The sweeper calls
// this with the configured retention window.
func (f *Fabric) Purge(cutoff time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for k, e := range f.entries {
		if e.Status.Terminal() && e.LastUpdate.Before(cutoff) {
			delete(f.entries, k)
			n++
		}
	}
	return n
}

// Flush drains dirty entries once and publishes them. Multiple updates since
// the previous flush coalesce into the latest state.
func (f *Fabric) Flush() []media.JobNotificationEntry {
	f.mu.Lock()
	var dirty []media.JobNotificationEntry
	for _, e := range f.entries {
		if e.Dirty {
			e.Dirty = false
			dirty = append(dirty, *e)
		}
	}
	f.mu.Unlock()

	if len(dirty) > 0 {
		f.hub.Publish(dirty)
		metrics.NotifyFlushes.Inc()
	}
	return dirty
}

// Run drives the flush loop until ctx is done. A final flush on shutdown
// delivers whatever is still pending.
func (f *Fabric) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.flushInterval)
	defer ticker.Stop()

	f.log.Info().Dur("interval", f.flushInterval).Msg("notification fabric started")
	for {
		select {
		case <-ctx.Done():
			f.Flush()
			return nil
		case <-ticker.C:
			f.Flush()
		}
	}
}
