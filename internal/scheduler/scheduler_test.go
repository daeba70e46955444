package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/athenaai/athena/internal/repo"
	"github.com/athenaai/athena/internal/services"
)

func TestAdd_EmptySpecDisables(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("noop", "  ", func(context.Context) error { return nil }))
	require.Empty(t, s.Jobs())
	_, ok := s.Next("noop")
	require.False(t, ok)
}

func TestAdd_Validation(t *testing.T) {
	s := New()
	require.Error(t, s.Add("bad", "not a cron", func(context.Context) error { return nil }))
	require.Error(t, s.Add("nil", "@every 1m", nil))

	require.NoError(t, s.Add("ok", "@every 1m", func(context.Context) error { return nil }))
	require.Error(t, s.Add("ok", "@hourly", func(context.Context) error { return nil }))
	require.Equal(t, []string{"ok"}, s.Jobs())
}

func TestAdd_SixFieldSpec(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("secs", "*/30 * * * * *", func(context.Context) error { return nil }))
}

func TestRun_FiresJobsAndStopsOnCancel(t *testing.T) {
	s := New()
	var runs atomic.Int32
	var sawCtx atomic.Bool
	require.NoError(t, s.Add("tick", "@every 1s", func(ctx context.Context) error {
		sawCtx.Store(ctx.Err() == nil)
		runs.Add(1)
		return nil
	}))
	next, ok := s.Next("tick")
	require.True(t, ok)
	require.True(t, next.IsZero(), "next is set once the runner starts")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	require.True(t, sawCtx.Load())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRun_SkipsOverlappingRuns(t *testing.T) {
	s := New()
	var started atomic.Int32
	release := make(chan struct{})
	require.NoError(t, s.Add("slow", "@every 1s", func(ctx context.Context) error {
		started.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return started.Load() == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(2200 * time.Millisecond)
	require.EqualValues(t, 1, started.Load())

	close(release)
	cancel()
	<-done
}

func TestRun_JobKeepsRunningAfterPanic(t *testing.T) {
	s := New()
	var runs atomic.Int32
	require.NoError(t, s.Add("boom", "@every 1s", func(context.Context) error {
		runs.Add(1)
		panic("boom")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 4*time.Second, 20*time.Millisecond)
	cancel()
	<-done
}

type fakeRefresher struct{ n atomic.Int32 }

func (f *fakeRefresher) Refresh(context.Context) error { f.n.Add(1); return nil }

func TestRefreshKnowledge(t *testing.T) {
	r := &fakeRefresher{}
	require.NoError(t, RefreshKnowledge(r)(context.Background()))
	require.EqualValues(t, 1, r.n.Load())
}

type fakeResumer struct {
	size int
	err  error
}

func (f *fakeResumer) Resume(_ context.Context, n int) (services.Report, error) {
	f.size = n
	return services.Report{Scanned: 4, Updated: 1, Completed: true}, f.err
}

func TestResumeBackfill(t *testing.T) {
	r := &fakeResumer{}
	require.NoError(t, ResumeBackfill(r, 250)(context.Background()))
	require.Equal(t, 250, r.size)

	r.err = services.ErrBackfillRunning
	require.NoError(t, ResumeBackfill(r, 250)(context.Background()))

	r.err = errors.New("disk full")
	require.Error(t, ResumeBackfill(r, 250)(context.Background()))
}

func TestPurgeEvents(t *testing.T) {
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	require.NoError(t, repo.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	ctx := context.Background()
	_, err = repo.CreateProcessedEvent(ctx, db, "discord", "old", "m1", -time.Minute)
	require.NoError(t, err)
	_, err = repo.CreateProcessedEvent(ctx, db, "discord", "fresh", "m2", time.Hour)
	require.NoError(t, err)

	require.NoError(t, PurgeEvents(db)(ctx))

	_, err = repo.GetProcessedEvent(ctx, db, "discord", "fresh", time.Now().UTC())
	require.NoError(t, err)
	var n int64
	require.NoError(t, db.Table("processed_events").Count(&n).Error)
	require.EqualValues(t, 1, n)
}
