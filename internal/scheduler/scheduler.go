package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/atomic"

	"github.com/i474232898/garden-weather/internal/logger"
	"github.com/i474232898/garden-weather/internal/weather"
)

const (
	defaultInterval = 10 * time.Minute
	sweepTimeout    = time.Minute
)

// Jobs is the work the scheduler drives.
type Jobs interface {
	RefreshAll(ctx context.Context) (weather.BatchResult, error)
	Sweep(ctx context.Context) weather.SweepResult
}

// Config sets job cadence. A zero RefreshTimeout bounds each batch by
// RefreshInterval; a non-empty SweepCron replaces SweepInterval.
type Config struct {
	RefreshInterval time.Duration
	RefreshTimeout  time.Duration
	SweepInterval   time.Duration
	SweepCron       string
}

// Scheduler periodically refreshes site weather and sweeps stale rows.
// A tick that fires while the previous run of the same job is still going
// is dropped.
type Scheduler struct {
	scheduler *gocron.Scheduler
	jobs      Jobs
	cfg       Config
	log       *logger.Logger

	refreshing *atomic.Bool
	sweeping   *atomic.Bool
}

// New creates a new Scheduler.
func New(jobs Jobs, cfg Config, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultInterval
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = cfg.RefreshInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultInterval
	}
	return &Scheduler{
		scheduler:  gocron.NewScheduler(time.UTC),
		jobs:       jobs,
		cfg:        cfg,
		log:        log,
		refreshing: atomic.NewBool(false),
		sweeping:   atomic.NewBool(false),
	}
}

// Start schedules both jobs and starts the underlying scheduler. Each job
// runs once right away.
func (s *Scheduler) Start() error {
	if s.jobs == nil {
		return errors.New("scheduler: no jobs configured")
	}

	if _, err := s.scheduler.Every(s.cfg.RefreshInterval).Do(func() { s.RunRefresh() }); err != nil {
		return err
	}

	var err error
	if s.cfg.SweepCron != "" {
		_, err = s.scheduler.Cron(s.cfg.SweepCron).Do(func() { s.RunSweep() })
	} else {
		_, err = s.scheduler.Every(s.cfg.SweepInterval).Do(func() { s.RunSweep() })
	}
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.log.Info("scheduler started", map[string]any{
		"refresh_interval": s.cfg.RefreshInterval.String(),
		"refresh_timeout":  s.cfg.RefreshTimeout.String(),
		"sweep_interval":   s.cfg.SweepInterval.String(),
		"sweep_cron":       s.cfg.SweepCron,
	})
	return nil
}

// RunRefresh performs one batch refresh unless one is already running.
// It reports whether the run happened.
func (s *Scheduler) RunRefresh() bool {
	if !s.refreshing.CAS(false, true) {
		s.log.Warning("scheduler: refresh still running, skipping tick")
		return false
	}
	defer s.refreshing.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RefreshTimeout)
	defer cancel()

	if _, err := s.jobs.RefreshAll(ctx); err != nil {
		s.log.Error(err, map[string]any{"job": "refresh"})
	}
	return true
}

// RunSweep performs one retention sweep unless one is already running.
func (s *Scheduler) RunSweep() bool {
	if !s.sweeping.CAS(false, true) {
		s.log.Warning("scheduler: sweep still running, skipping tick")
		return false
	}
	defer s.sweeping.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	s.jobs.Sweep(ctx)
	return true
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
