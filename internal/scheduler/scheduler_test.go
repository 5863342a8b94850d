package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/i474232898/garden-weather/internal/weather"
)

type fakeJobs struct {
	refreshes *atomic.Int64
	sweeps    *atomic.Int64

	// release blocks RefreshAll until closed when non-nil.
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		refreshes: atomic.NewInt64(0),
		sweeps:    atomic.NewInt64(0),
	}
}

func (f *fakeJobs) RefreshAll(ctx context.Context) (weather.BatchResult, error) {
	f.refreshes.Inc()
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.release != nil {
		<-f.release
	}
	return weather.BatchResult{}, nil
}

func (f *fakeJobs) Sweep(ctx context.Context) weather.SweepResult {
	f.sweeps.Inc()
	return weather.SweepResult{}
}

func TestRunRefreshSkipsWhileRunning(t *testing.T) {
	jobs := newFakeJobs()
	jobs.release = make(chan struct{})
	jobs.started = make(chan struct{})
	s := New(jobs, Config{}, nil)

	done := make(chan bool)
	go func() { done <- s.RunRefresh() }()
	<-jobs.started

	assert.False(t, s.RunRefresh(), "overlapping tick must be dropped")
	close(jobs.release)
	assert.True(t, <-done)
	assert.Equal(t, int64(1), jobs.refreshes.Load())

	assert.True(t, s.RunRefresh(), "flag is cleared after the run")
	assert.Equal(t, int64(2), jobs.refreshes.Load())
}

func TestRunSweepIsIndependentOfRefresh(t *testing.T) {
	jobs := newFakeJobs()
	jobs.release = make(chan struct{})
	jobs.started = make(chan struct{})
	s := New(jobs, Config{}, nil)

	go s.RunRefresh()
	<-jobs.started

	assert.True(t, s.RunSweep())
	assert.Equal(t, int64(1), jobs.sweeps.Load())
	close(jobs.release)
}

func TestStartRunsJobsImmediately(t *testing.T) {
	jobs := newFakeJobs()
	s := New(jobs, Config{RefreshInterval: time.Hour, SweepInterval: time.Hour}, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return jobs.refreshes.Load() == 1 && jobs.sweeps.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartWithSweepCron(t *testing.T) {
	jobs := newFakeJobs()
	s := New(jobs, Config{RefreshInterval: time.Hour, SweepCron: "0 3 * * *"}, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return jobs.refreshes.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStartRejectsBadCron(t *testing.T) {
	s := New(newFakeJobs(), Config{SweepCron: "not a cron"}, nil)
	assert.Error(t, s.Start())
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(newFakeJobs(), Config{}, nil)
	assert.Equal(t, defaultInterval, s.cfg.RefreshInterval)
	assert.Equal(t, defaultInterval, s.cfg.SweepInterval)
}

type deadlineJobs struct {
	*fakeJobs
	remaining time.Duration
}

func (d *deadlineJobs) RefreshAll(ctx context.Context) (weather.BatchResult, error) {
	if dl, ok := ctx.Deadline(); ok {
		d.remaining = time.Until(dl)
	}
	return d.fakeJobs.RefreshAll(ctx)
}

func TestRefreshTimeoutFollowsInterval(t *testing.T) {
	jobs := &deadlineJobs{fakeJobs: newFakeJobs()}
	s := New(jobs, Config{RefreshInterval: 30 * time.Minute}, nil)
	assert.Equal(t, 30*time.Minute, s.cfg.RefreshTimeout)

	require.True(t, s.RunRefresh())
	assert.Greater(t, jobs.remaining, 29*time.Minute)
}

func TestRefreshTimeoutOverride(t *testing.T) {
	jobs := &deadlineJobs{fakeJobs: newFakeJobs()}
	s := New(jobs, Config{RefreshInterval: 30 * time.Minute, RefreshTimeout: 45 * time.Minute}, nil)

	require.True(t, s.RunRefresh())
	assert.Greater(t, jobs.remaining, 44*time.Minute)
	assert.LessOrEqual(t, jobs.remaining, 45*time.Minute)
}
