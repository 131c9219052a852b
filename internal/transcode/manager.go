// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package transcode owns live FFmpeg transcode jobs: admission, supervision,
// idle reaping and the segment-serving process cache.
package transcode

import (
	"context"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/nexa/internal/config"
	"github.com/ManuGH/nexa/internal/errdef"
	"github.com/ManuGH/nexa/internal/ffmpeg"
	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/media"
	"github.com/ManuGH/nexa/internal/media/store"
	"github.com/ManuGH/nexa/internal/metrics"
	"github.com/ManuGH/nexa/internal/procgroup"
)

// proc is the supervised FFmpeg process surface; split out so tests run
// without a real binary.
type proc interface {
	Start(ctx context.Context) (int, error)
	Wait() (int, error)
	Stop() error
	LastLogLines(n int) []string
}

type spawnFunc func(args []string, onProgress func(ffmpeg.Progress)) proc

// Options carries the per-job segmenting parameters.
type Options struct {
	SegmentLengthS   int
	StartTimeMs      int64
	SegmentPrefix    string
	SegmentExtension string
}

type pendingStart struct {
	jobID string
	args  []string
}

type runningJob struct {
	proc       proc
	outputPath string
	cancelled  bool
}

// Manager admits, supervises and reaps transcode jobs. At most
// MaxConcurrent run; further starts queue FIFO.
type Manager struct {
	store *store.Store
	cfg   config.TranscodeConfig
	cache *processCache
	spawn spawnFunc
	log   zerolog.Logger

	mu      sync.Mutex
	running map[string]*runningJob
	queue   []pendingStart
	// progress keeps the last reported percentage per job so reports stay
	// monotonic.
	progress map[string]float64

	wg sync.WaitGroup
}

func NewManager(st *store.Store, cfg config.TranscodeConfig) *Manager {
	m := &Manager{
		store:    st,
		cfg:      cfg,
		cache:    newProcessCache(64),
		running:  map[string]*runningJob{},
		progress: map[string]float64{},
		log:      log.WithComponent("transcode"),
	}
	m.spawn = func(args []string, onProgress func(ffmpeg.Progress)) proc {
		r := ffmpeg.NewRunner(cfg.FFmpegPath, args)
		r.OnProgress = onProgress
		return r
	}
	return m
}

// Cache exposes the process cache to the segment-serving handlers.
func (m *Manager) Cache() *processCache { return m.cache }

// Create registers a queued job.
func (m *Manager) Create(ctx context.Context, sessionID, mediaPartID int64, protocol media.StreamProtocol, outputPath string, opts Options) (*media.TranscodeJob, error) {
	if opts.SegmentLengthS <= 0 {
		opts.SegmentLengthS = int(m.cfg.SegmentLength / time.Second)
	}
	if opts.SegmentPrefix == "" {
		opts.SegmentPrefix = "chunk-stream"
	}
	if opts.SegmentExtension == "" {
		opts.SegmentExtension = "m4s"
	}
	job := &media.TranscodeJob{
		SessionID:        sessionID,
		MediaPartID:      mediaPartID,
		Protocol:         protocol,
		OutputPath:       outputPath,
		SegmentLengthS:   opts.SegmentLengthS,
		StartTimeMs:      opts.StartTimeMs,
		SegmentPrefix:    opts.SegmentPrefix,
		SegmentExtension: opts.SegmentExtension,
	}
	if err := m.store.CreateTranscodeJob(ctx, job); err != nil {
		return nil, err
	}
	metrics.TranscodesQueued.Inc()
	return job, nil
}

// CanStartNewJob reports whether a slot is free.
func (m *Manager) CanStartNewJob() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running) < m.cfg.MaxConcurrent
}

// Start launches a queued job or, when every slot is busy, appends it to the
// FIFO start queue.
func (m *Manager) Start(ctx context.Context, jobID string, args []string) error {
	job, err := m.store.GetTranscodeJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != media.TranscodeQueued {
		return errdef.Conflict("transcode job %s is %s, not queued", jobID, job.State)
	}

	m.mu.Lock()
	if len(m.running) >= m.cfg.MaxConcurrent {
		m.queue = append(m.queue, pendingStart{jobID: jobID, args: args})
		m.mu.Unlock()
		m.log.Debug().Str("job", jobID).Msg("transcode queued for slot")
		return nil
	}
	m.mu.Unlock()
	return m.launch(ctx, job, args)
}

func (m *Manager) launch(ctx context.Context, job *media.TranscodeJob, args []string) error {
	if err := os.MkdirAll(job.OutputPath, 0o755); err != nil {
		return err
	}

	// The probed duration (minus the seek offset) turns out_time into a
	// percentage.
	var budgetMs int64
	if part, err := m.store.GetMediaPart(ctx, job.MediaPartID); err == nil {
		if mi, err := m.store.GetMediaItem(ctx, part.ItemID); err == nil {
			budgetMs = mi.DurationMs - job.StartTimeMs
		}
	}

	p := m.spawn(args, func(prog ffmpeg.Progress) {
		if prog.Done {
			return
		}
		m.reportRunnerProgress(job, prog, budgetMs)
	})
	pid, err := p.Start(ctx)
	if err != nil {
		_ = m.store.SetTranscodeState(ctx, job.UUID, media.TranscodeFailed, 0, err.Error())
		metrics.TranscodesQueued.Dec()
		metrics.TranscodeOutcomes.WithLabelValues("failed").Inc()
		return err
	}

	if err := m.store.SetTranscodeState(ctx, job.UUID, media.TranscodeStarting, pid, ""); err != nil {
		_ = p.Stop()
		return err
	}
	if err := m.store.SetTranscodeState(ctx, job.UUID, media.TranscodeRunning, pid, ""); err != nil {
		_ = p.Stop()
		return err
	}

	m.mu.Lock()
	m.running[job.UUID] = &runningJob{proc: p, outputPath: job.OutputPath}
	m.mu.Unlock()
	metrics.TranscodesQueued.Dec()
	metrics.TranscodesRunning.Inc()

	m.cache.Put(job.OutputPath, CacheEntry{
		JobID:            job.UUID,
		PID:              pid,
		SegmentPrefix:    job.SegmentPrefix,
		SegmentExtension: job.SegmentExtension,
		SegmentLengthS:   job.SegmentLengthS,
		StartTimeMs:      job.StartTimeMs,
	})
	m.log.Info().Str("job", job.UUID).Int("pid", pid).Str("output", job.OutputPath).Msg("transcode started")

	m.wg.Add(1)
	go m.supervise(job, p)
	return nil
}

// supervise waits for process exit and finalizes the job unless Cancel got
// there first.
func (m *Manager) supervise(job *media.TranscodeJob, p proc) {
	defer m.wg.Done()
	code, _ := p.Wait()

	m.mu.Lock()
	rj := m.running[job.UUID]
	cancelled := rj != nil && rj.cancelled
	delete(m.running, job.UUID)
	m.mu.Unlock()
	metrics.TranscodesRunning.Dec()
	m.cache.Delete(job.OutputPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	switch {
	case cancelled:
		// Cancel already wrote the terminal state.
	case code == 0:
		if err := m.store.SetTranscodeState(ctx, job.UUID, media.TranscodeCompleted, 0, ""); err != nil {
			m.log.Warn().Err(err).Str("job", job.UUID).Msg("complete transition failed")
		}
		metrics.TranscodeOutcomes.WithLabelValues("completed").Inc()
	default:
		msg := strings.Join(p.LastLogLines(3), "; ")
		if err := m.store.SetTranscodeState(ctx, job.UUID, media.TranscodeFailed, 0, msg); err != nil {
			m.log.Warn().Err(err).Str("job", job.UUID).Msg("fail transition failed")
		}
		metrics.TranscodeOutcomes.WithLabelValues("failed").Inc()
	}
	m.forget(job.UUID)
	m.startNextQueued(ctx)
}

func (m *Manager) startNextQueued(ctx context.Context) {
	m.mu.Lock()
	if len(m.queue) == 0 || len(m.running) >= m.cfg.MaxConcurrent {
		m.mu.Unlock()
		return
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	m.mu.Unlock()

	job, err := m.store.GetTranscodeJob(ctx, next.jobID)
	if err != nil || job.State != media.TranscodeQueued {
		m.startNextQueued(ctx)
		return
	}
	if err := m.launch(ctx, job, next.args); err != nil {
		m.log.Warn().Err(err).Str("job", next.jobID).Msg("queued transcode failed to launch")
		m.startNextQueued(ctx)
	}
}

// Ping marks the job as actively consumed.
func (m *Manager) Ping(ctx context.Context, jobID string) error {
	return m.store.PingTranscodeJob(ctx, jobID)
}

// ReportProgress persists a monotonically increasing completion percentage.
func (m *Manager) ReportProgress(ctx context.Context, jobID string, progress float64, segmentIndex int) error {
	m.mu.Lock()
	if progress < m.progress[jobID] {
		progress = m.progress[jobID]
	}
	m.progress[jobID] = progress
	m.mu.Unlock()
	return m.store.SaveTranscodeProgress(ctx, jobID, progress, segmentIndex)
}

func (m *Manager) reportRunnerProgress(job *media.TranscodeJob, prog ffmpeg.Progress, budgetMs int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	idx, _ := GetCurrentTranscodingIndex(job.OutputPath)
	var pct float64
	if budgetMs > 0 {
		pct = float64(prog.OutTimeMs) / float64(budgetMs) * 100
		if pct > 100 {
			pct = 100
		}
	}
	if err := m.ReportProgress(ctx, job.UUID, pct, idx); err != nil {
		m.log.Debug().Err(err).Str("job", job.UUID).Msg("progress write failed")
	}
}

// Complete marks a job finished.
func (m *Manager) Complete(ctx context.Context, jobID string) error {
	if err := m.store.SetTranscodeState(ctx, jobID, media.TranscodeCompleted, 0, ""); err != nil {
		return err
	}
	metrics.TranscodeOutcomes.WithLabelValues("completed").Inc()
	m.forget(jobID)
	return nil
}

// Fail marks a job failed with a reason.
func (m *Manager) Fail(ctx context.Context, jobID, msg string) error {
	if err := m.store.SetTranscodeState(ctx, jobID, media.TranscodeFailed, 0, msg); err != nil {
		return err
	}
	metrics.TranscodeOutcomes.WithLabelValues("failed").Inc()
	m.forget(jobID)
	return nil
}

// Cancel stops the process if live, marks the job cancelled and optionally
// deletes its segment directory.
func (m *Manager) Cancel(ctx context.Context, jobID string, deleteSegments bool) error {
	job, err := m.store.GetTranscodeJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return nil
	}

	m.mu.Lock()
	rj := m.running[jobID]
	if rj != nil {
		rj.cancelled = true
	}
	// Drop a queued start request if it never launched.
	for i, p := range m.queue {
		if p.jobID == jobID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if rj != nil {
		if err := rj.proc.Stop(); err != nil {
			m.log.Warn().Err(err).Str("job", jobID).Msg("process stop failed")
		}
	} else {
		metrics.TranscodesQueued.Dec()
	}

	if err := m.store.SetTranscodeState(ctx, jobID, media.TranscodeCancelled, 0, ""); err != nil {
		return err
	}
	metrics.TranscodeOutcomes.WithLabelValues("cancelled").Inc()
	m.cache.Delete(job.OutputPath)
	m.forget(jobID)

	if deleteSegments {
		if err := os.RemoveAll(job.OutputPath); err != nil {
			m.log.Warn().Err(err).Str("output", job.OutputPath).Msg("segment cleanup failed")
		}
	}
	m.log.Info().Str("job", jobID).Bool("delete_segments", deleteSegments).Msg("transcode cancelled")
	return nil
}

// StopSession cancels every non-terminal job a playback session owns.
func (m *Manager) StopSession(ctx context.Context, sessionID int64, deleteSegments bool) error {
	jobs, err := m.store.ListSessionJobs(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.State.Terminal() {
			continue
		}
		if err := m.Cancel(ctx, job.UUID, deleteSegments); err != nil {
			return err
		}
	}
	return nil
}

// ReapIdle cancels jobs without a ping for the idle timeout and evicts stale
// cache entries. Called by the sweeper.
func (m *Manager) ReapIdle(ctx context.Context) error {
	jobs, err := m.store.ListIdleJobs(ctx, m.cfg.IdleTimeout)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		m.log.Info().Str("job", job.UUID).Time("last_ping", job.LastPingAt).Msg("reaping idle transcode")
		if err := m.Cancel(ctx, job.UUID, true); err != nil {
			return err
		}
	}
	m.cache.EvictIdle(m.cfg.IdleTimeout)
	return nil
}

// CleanupStaleJobs runs at startup: kills orphan PIDs from a previous
// process, fails their rows and deletes their segments.
func (m *Manager) CleanupStaleJobs(ctx context.Context) error {
	jobs, err := m.store.ListActiveJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.PID > 0 {
			killOrphan(job.PID)
		}
		if err := m.store.SetTranscodeState(ctx, job.UUID, media.TranscodeFailed, 0, "orphaned at startup"); err != nil {
			m.log.Warn().Err(err).Str("job", job.UUID).Msg("orphan transition failed")
		}
		if err := os.RemoveAll(job.OutputPath); err != nil {
			m.log.Warn().Err(err).Str("output", job.OutputPath).Msg("orphan segment cleanup failed")
		}
		m.log.Info().Str("job", job.UUID).Int("pid", job.PID).Msg("cleaned up stale transcode")
	}
	return nil
}

// Shutdown cancels all running jobs and waits for their supervisors.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		if err := m.Cancel(ctx, id, false); err != nil {
			m.log.Warn().Err(err).Str("job", id).Msg("shutdown cancel failed")
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) forget(jobID string) {
	m.mu.Lock()
	delete(m.progress, jobID)
	m.mu.Unlock()
}

// killOrphan sends SIGTERM and, shortly after, SIGKILL to a leftover PID.
// The liveness check first skips PIDs already reused by other processes.
func killOrphan(pid int) {
	if !procgroup.Alive(pid) {
		return
	}
	_ = procgroup.SignalPID(pid, syscall.SIGTERM)
	time.Sleep(2 * time.Second)
	if procgroup.Alive(pid) {
		_ = procgroup.SignalPID(pid, syscall.SIGKILL)
	}
}
