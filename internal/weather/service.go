package weather

import (
	"time"

	"github.com/i474232898/garden-weather/internal/cache"
	"github.com/i474232898/garden-weather/internal/logger"
)

const (
	defaultConcurrency     = 10
	defaultRetentionMonths = 6
	maxHistoryDays         = 30
)

// Service orchestrates provider fetches, persistence, cached reads and retention.
type Service struct {
	sites    SiteStore
	store    Store
	provider Provider
	cache    *cache.ReadCache
	notifier *Notifier
	log      *logger.Logger

	concurrency     int
	retentionMonths int
	now             func() time.Time
}

type Option func(*Service)

// WithConcurrency caps in-flight site refreshes during a batch.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithRetentionMonths(months int) Option {
	return func(s *Service) {
		if months > 0 {
			s.retentionMonths = months
		}
	}
}

// WithClock replaces the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new Service.
func NewService(
	sites SiteStore,
	store Store,
	provider Provider,
	readCache *cache.ReadCache,
	notifier *Notifier,
	log *logger.Logger,
	opts ...Option,
) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Service{
		sites:           sites,
		store:           store,
		provider:        provider,
		cache:           readCache,
		notifier:        notifier,
		log:             log,
		concurrency:     defaultConcurrency,
		retentionMonths: defaultRetentionMonths,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
