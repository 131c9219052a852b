// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/nexa/internal/media"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func entryFor(f *Fabric, section int64, jt media.JobType) media.JobNotificationEntry {
	for _, e := range f.Snapshot() {
		if e.SectionID == section && e.JobType == jt {
			return e
		}
	}
	return media.JobNotificationEntry{}
}

func TestProgressMonotonicWithinEpoch(t *testing.T) {
	f := New(time.Second)
	f.Start(1, media.JobScan, 10)

	f.ReportProgress(1, media.JobScan, 4, 10)
	f.ReportProgress(1, media.JobScan, 2, 10) // regression, clamped
	e := entryFor(f, 1, media.JobScan)
	require.Equal(t, 4, e.Completed)

	f.ReportProgress(1, media.JobScan, 25, 10) // over total, clamped
	e = entryFor(f, 1, media.JobScan)
	require.Equal(t, 10, e.Completed)
	require.LessOrEqual(t, e.Completed, e.Total)
}

func TestSecondStartBumpsEpoch(t *testing.T) {
	f := New(time.Second)
	f.Start(1, media.JobScan, 10)
	f.ReportProgress(1, media.JobScan, 5, 10)

	f.Start(1, media.JobScan, 20)
	e := entryFor(f, 1, media.JobScan)
	require.Equal(t, 2, e.Epoch)
	require.Equal(t, 0, e.Completed)
	require.Equal(t, 20, e.Total)
}

func TestStartIdempotentBeforeProgress(t *testing.T) {
	f := New(time.Second)
	f.Start(1, media.JobScan, 10)
	f.Start(1, media.JobScan, 10)
	e := entryFor(f, 1, media.JobScan)
	require.Equal(t, 1, e.Epoch)
}

func TestTerminalIgnoresFurtherReports(t *testing.T) {
	f := New(time.Second)
	f.Start(1, media.JobTrickplay, 5)
	f.Complete(1, media.JobTrickplay)

	f.ReportProgress(1, media.JobTrickplay, 1, 5)
	f.Fail(1, media.JobTrickplay, "late failure")

	e := entryFor(f, 1, media.JobTrickplay)
	require.Equal(t, media.JobCompleted, e.Status)
	require.Equal(t, 5, e.Completed)
	require.Empty(t, e.Error)

	// A new Start reopens the key under the next epoch.
	f.Start(1, media.JobTrickplay, 3)
	e = entryFor(f, 1, media.JobTrickplay)
	require.Equal(t, 2, e.Epoch)
	require.Equal(t, media.JobRunning, e.Status)
}

func TestFlushCoalescesToLatest(t *testing.T) {
	f := New(time.Second)
	sub := f.Hub().Subscribe(0)
	defer sub.Close()

	f.Start(2, media.JobScan, 100)
	f.ReportProgress(2, media.JobScan, 10, 100)
	f.ReportProgress(2, media.JobScan, 60, 100)

	frame := f.Flush()
	require.Len(t, frame, 1)
	require.Equal(t, 60, frame[0].Completed)

	// Nothing dirty: second flush publishes nothing.
	require.Empty(t, f.Flush())

	got := <-sub.C()
	require.Equal(t, 60, got[0].Completed)
}

func TestSubscriberSectionFilter(t *testing.T) {
	f := New(time.Second)
	only2 := f.Hub().Subscribe(2)
	defer only2.Close()

	f.Start(1, media.JobScan, 1)
	f.Flush()
	select {
	case frame := <-only2.C():
		t.Fatalf("unexpected frame for section filter: %v", frame)
	default:
	}

	f.Start(2, media.JobScan, 1)
	f.Flush()
	frame := <-only2.C()
	require.Len(t, frame, 1)
	require.EqualValues(t, 2, frame[0].SectionID)
}

func TestPurgeDropsTerminalEntries(t *testing.T) {
	now := time.Now()
	f := New(time.Second, WithClock(func() time.Time { return now.Add(-8 * 24 * time.Hour) }))
	f.Start(1, media.JobScan, 1)
	f.Complete(1, media.JobScan)

	require.Equal(t, 1, f.Purge(now.Add(-7*24*time.Hour)))
	require.Empty(t, f.Snapshot())
}

func TestPurgeKeepsRunningEntries(t *testing.T) {
	f := New(time.Second, WithClock(func() time.Time { return time.Unix(0, 0) }))
	f.Start(1, media.JobScan, 1)
	require.Zero(t, f.Purge(time.Now()))
}

func TestRunFlushesOnShutdown(t *testing.T) {
	f := New(time.Hour) // interval never fires in this test
	sub := f.Hub().Subscribe(0)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = f.Run(ctx)
		close(done)
	}()

	f.Start(1, media.JobScan, 1)
	cancel()
	<-done

	frame := <-sub.C()
	require.Len(t, frame, 1)
}
