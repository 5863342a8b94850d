package weather

import "context"

// earliestOffset is the westernmost UTC offset in use (UTC-12). A daily
// bucket is only swept once its date is over everywhere.
const earliestOffset = -12 * 60 * 60

// SweepForecasts drops hourly buckets already in the past and daily buckets
// whose local date has ended in every timezone.
func (s *Service) SweepForecasts(ctx context.Context) (hourly, daily int64) {
	now := s.now().UTC()

	hourly, err := s.store.DeleteHourlyBefore(ctx, now)
	if err != nil {
		s.log.Error(err, map[string]any{"sweep": "hourly"})
		hourly = 0
	}
	daily, err = s.store.DeleteDailyBefore(ctx, LocalDay(now, earliestOffset))
	if err != nil {
		s.log.Error(err, map[string]any{"sweep": "daily"})
		daily = 0
	}
	return hourly, daily
}

// SweepObservations drops observations older than the retention window.
func (s *Service) SweepObservations(ctx context.Context) int64 {
	cutoff := s.now().UTC().AddDate(0, -s.retentionMonths, 0)
	n, err := s.store.DeleteObservationsBefore(ctx, cutoff)
	if err != nil {
		s.log.Error(err, map[string]any{"sweep": "observations"})
		return 0
	}
	return n
}

// Sweep runs both retention passes. Failures are logged, never returned.
func (s *Service) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	res.Hourly, res.Daily = s.SweepForecasts(ctx)
	res.Observations = s.SweepObservations(ctx)

	if res.Hourly+res.Daily+res.Observations > 0 {
		s.log.Info("retention sweep removed rows", map[string]any{
			"hourly":       res.Hourly,
			"daily":        res.Daily,
			"observations": res.Observations,
		})
	}
	return res
}
