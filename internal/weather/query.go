package weather

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/i474232898/garden-weather/internal/cache"
)

// Current returns the latest observation for a site through the read cache.
func (s *Service) Current(ctx context.Context, siteID int64) (Observation, error) {
	return cache.Load(s.cache, siteID, cache.KindCurrent, func() (Observation, error) {
		if err := s.ensureSite(ctx, siteID); err != nil {
			return Observation{}, err
		}
		return s.store.LatestObservation(ctx, siteID)
	})
}

// Hourly returns hourly buckets from now on, ascending.
func (s *Service) Hourly(ctx context.Context, siteID int64) ([]HourlyForecast, error) {
	return cache.Load(s.cache, siteID, cache.KindHourly, func() ([]HourlyForecast, error) {
		if err := s.ensureSite(ctx, siteID); err != nil {
			return nil, err
		}
		return s.store.HourlyFrom(ctx, siteID, s.now())
	})
}

// Daily returns daily buckets from the start of today (UTC), ascending.
func (s *Service) Daily(ctx context.Context, siteID int64) ([]DailyForecast, error) {
	return cache.Load(s.cache, siteID, cache.KindDaily, func() ([]DailyForecast, error) {
		if err := s.ensureSite(ctx, siteID); err != nil {
			return nil, err
		}
		return s.store.DailyFrom(ctx, siteID, DayBucket(s.now()))
	})
}

// History summarises observations per UTC day between the days of from and
// to inclusive. The range is validated before storage is touched.
func (s *Service) History(ctx context.Context, siteID int64, from, to time.Time) ([]DaySummary, error) {
	start, end, err := historyWindow(from, to)
	if err != nil {
		return nil, err
	}
	if err := s.ensureSite(ctx, siteID); err != nil {
		return nil, err
	}

	obs, err := s.store.ObservationsBetween(ctx, siteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("loading history for site %d: %w", siteID, err)
	}
	if len(obs) == 0 {
		return nil, ErrNotFound
	}
	return SummarizeDays(obs), nil
}

func historyWindow(from, to time.Time) (time.Time, time.Time, error) {
	if from.IsZero() || to.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start and end are required", ErrInvalidRange)
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start is after end", ErrInvalidRange)
	}
	start := DayBucket(from)
	end := DayBucket(to).Add(24*time.Hour - time.Millisecond)
	days := int(math.Ceil(end.Sub(start).Hours() / 24))
	if days > maxHistoryDays {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: range spans %d days, maximum is %d", ErrInvalidRange, days, maxHistoryDays)
	}
	return start, end, nil
}

// ForceRefresh refreshes one site synchronously, bypassing the scheduler.
func (s *Service) ForceRefresh(ctx context.Context, siteID int64) (RefreshResult, error) {
	site, err := s.sites.GetSite(ctx, siteID)
	if err != nil {
		return RefreshResult{}, err
	}
	if !site.Active {
		return RefreshResult{}, ErrSiteInactive
	}
	if !site.HasCoordinates() {
		return RefreshResult{}, ErrNoCoordinates
	}

	s.cache.InvalidateSite(siteID)

	updated, err := s.refreshSite(ctx, site)
	if err != nil {
		return RefreshResult{}, err
	}
	return RefreshResult{Success: true, LastUpdated: updated}, nil
}

// ClearCache drops one site's entries, or everything when siteID is nil.
func (s *Service) ClearCache(siteID *int64) {
	if siteID == nil {
		s.cache.Clear()
		s.log.Info("weather cache cleared")
		return
	}
	s.cache.InvalidateSite(*siteID)
	s.log.Info("weather cache cleared for site", map[string]any{"site_id": *siteID})
}

// ensureSite maps an unknown site to ErrNotFound for read paths.
func (s *Service) ensureSite(ctx context.Context, siteID int64) error {
	_, err := s.sites.GetSite(ctx, siteID)
	if errors.Is(err, ErrSiteNotFound) {
		return fmt.Errorf("%w: site %d", ErrNotFound, siteID)
	}
	return err
}
