// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
	"github.com/ManuGH/nexa/internal/metrics"
	"github.com/ManuGH/nexa/internal/notify"
)

// cancelGrace is how long workers get to finalize after cancellation before
// the scan is forced to Failed.
const cancelGrace = 5 * time.Second

// Manager owns scan lifecycles: one active scan per section, cancellation
// with a grace window, and resume of scans interrupted by a crash.
type Manager struct {
	store    *store.Store
	pipeline *Pipeline
	fabric   *notify.Fabric
	log      zerolog.Logger

	mu      sync.Mutex
	running map[string]*run // scan uuid → run
	wg      sync.WaitGroup
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(st *store.Store, pl *Pipeline, fabric *notify.Fabric) *Manager {
	return &Manager{
		store:    st,
		pipeline: pl,
		fabric:   fabric,
		log:      log.WithComponent("scan-manager"),
		running:  make(map[string]*run),
	}
}

// Start queues a full scan of the section. A second Start while one is
// queued or running is a conflict; the active scan is returned alongside.
func (m *Manager) Start(ctx context.Context, sectionID int64) (*media.LibraryScan, error) {
	section, err := m.store.GetSection(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if active, err := m.store.ActiveScan(ctx, sectionID); err != nil {
		return nil, err
	} else if active != nil {
		return active, errdef.Conflict("scan %s already active for section %d", active.ID, sectionID)
	}

	sc, err := m.store.CreateScan(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	m.launch(sc, section, nil)
	return sc, nil
}

// Micro runs the restricted pipeline over paths only. Used by the watcher;
// shares the one-active-scan-per-section rule with full scans.
func (m *Manager) Micro(ctx context.Context, sectionID int64, paths []string) (*media.LibraryScan, error) {
	section, err := m.store.GetSection(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if active, err := m.store.ActiveScan(ctx, sectionID); err != nil {
		return nil, err
	} else if active != nil {
		return active, errdef.Conflict("scan %s already active for section %d", active.ID, sectionID)
	}
	sc, err := m.store.CreateScan(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	m.launch(sc, section, paths)
	return sc, nil
}

// Resume relaunches scans left in Running state with a checkpoint by a
// previous process. Called once at startup.
func (m *Manager) Resume(ctx context.Context) error {
	scans, err := m.store.ListResumableScans(ctx)
	if err != nil {
		return err
	}
	for i := range scans {
		sc := scans[i]
		section, err := m.store.GetSection(ctx, sc.SectionID)
		if err != nil {
			m.log.Warn().Str("scan", sc.ID).Err(err).Msg("resume skipped, section load failed")
			continue
		}
		m.log.Info().Str("scan", sc.ID).Int64("section", sc.SectionID).Msg("resuming interrupted scan")
		m.launch(&sc, section, nil)
	}
	return nil
}

// Cancel signals the scan's workers and waits the grace window. Workers
// that finalize in time leave the scan Cancelled; otherwise it is forced to
// Failed.
func (m *Manager) Cancel(ctx context.Context, scanID string) error {
	m.mu.Lock()
	r, ok := m.running[scanID]
	m.mu.Unlock()
	if !ok {
		sc, err := m.store.GetScan(ctx, scanID)
		if err != nil {
			return err
		}
		if sc.State.Terminal() {
			return nil
		}
		// Queued but not yet launched by this process.
		return m.store.SetScanState(ctx, scanID, media.ScanCancelled, "")
	}

	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-time.After(cancelGrace):
		m.log.Warn().Str("scan", scanID).Msg("cancel grace expired, forcing failure")
		err := m.store.SetScanState(ctx, scanID, media.ScanFailed, "forced")
		if errdef.IsKind(err, errdef.KindConflict) {
			return nil // workers finalized during the state write
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the active scan for a section, or nil.
func (m *Manager) Status(ctx context.Context, sectionID int64) (*media.LibraryScan, error) {
	return m.store.ActiveScan(ctx, sectionID)
}

// Shutdown cancels every running scan and waits for the runners to exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, r := range m.running {
		r.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) launch(sc *media.LibraryScan, section *media.LibrarySection, microPaths []string) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.running[sc.ID] = r
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		defer close(r.done)
		defer func() {
			m.mu.Lock()
			delete(m.running, sc.ID)
			m.mu.Unlock()
		}()
		m.execute(ctx, sc, section, microPaths)
	}()
}

func (m *Manager) execute(ctx context.Context, sc *media.LibraryScan, section *media.LibrarySection, microPaths []string) {
	if err := m.store.SetScanState(ctx, sc.ID, media.ScanRunning, ""); err != nil {
		m.log.Error().Str("scan", sc.ID).Err(err).Msg("scan could not start")
		return
	}
	sc.State = media.ScanRunning
	metrics.ScansRunning.Inc()
	defer metrics.ScansRunning.Dec()

	m.fabric.Start(section.ID, media.JobScan, 0)
	progress := func(completed, total int) {
		m.fabric.ReportProgress(section.ID, media.JobScan, completed, total)
	}

	var err error
	if len(microPaths) > 0 {
		err = m.pipeline.RunMicro(ctx, sc, section, microPaths, progress)
	} else {
		err = m.pipeline.Run(ctx, sc, section, progress)
	}

	// Finalization uses a fresh context: the run context is already dead on
	// cancellation.
	fctx, fcancel := context.WithTimeout(context.Background(), cancelGrace)
	defer fcancel()

	switch {
	case err == nil:
		m.finish(fctx, sc, media.ScanCompleted, "")
		m.fabric.Complete(section.ID, media.JobScan)
	case errors.Is(err, context.Canceled):
		m.finish(fctx, sc, media.ScanCancelled, "")
		m.fabric.Fail(section.ID, media.JobScan, "cancelled")
	default:
		m.finish(fctx, sc, media.ScanFailed, err.Error())
		m.fabric.Fail(section.ID, media.JobScan, err.Error())
	}
}

func (m *Manager) finish(ctx context.Context, sc *media.LibraryScan, state media.ScanState, msg string) {
	if err := m.store.SaveScanProgress(ctx, nil, sc); err != nil {
		m.log.Error().Str("scan", sc.ID).Err(err).Msg("final progress write failed")
	}
	if err := m.store.SetScanState(ctx, sc.ID, state, msg); err != nil && !errdef.IsKind(err, errdef.KindConflict) {
		m.log.Error().Str("scan", sc.ID).Err(err).Msg("final state write failed")
	}
}
