package weather

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// RefreshAll refreshes every active site with coordinates, at most
// s.concurrency at a time. A failing site never stops the others; it is
// counted, logged and handed to the notifier.
func (s *Service) RefreshAll(ctx context.Context) (BatchResult, error) {
	sites, err := s.sites.ListActiveSites(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("listing active sites: %w", err)
	}

	result := BatchResult{RunID: uuid.NewString(), Total: len(sites)}
	started := s.now()

	var (
		succeeded = atomic.NewInt64(0)
		failed    = atomic.NewInt64(0)
		mu        sync.Mutex
		failedIDs []int64
		g         errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, site := range sites {
		if !site.HasCoordinates() {
			result.Skipped++
			s.log.Info("skipping site without coordinates", map[string]any{
				"run_id":  result.RunID,
				"site_id": site.ID,
			})
			continue
		}

		site := site
		g.Go(func() error {
			if _, err := s.refreshSite(ctx, site); err != nil {
				failed.Inc()
				mu.Lock()
				failedIDs = append(failedIDs, site.ID)
				mu.Unlock()
				return nil
			}
			succeeded.Inc()
			return nil
		})
	}
	_ = g.Wait()

	result.Succeeded = int(succeeded.Load())
	result.Failed = int(failed.Load())
	result.FailedSiteIDs = failedIDs

	fields := map[string]any{
		"run_id":    result.RunID,
		"total":     result.Total,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
		"duration":  s.now().Sub(started).String(),
	}
	if result.Failed > 0 {
		fields["failed_site_ids"] = failedIDs
		s.log.Warning("batch weather refresh finished with failures", fields)
	} else {
		s.log.Info("batch weather refresh finished", fields)
	}
	return result, nil
}

// refreshSite fetches, persists and invalidates the cache for one site.
// Provider and persistence failures are reported to the notifier.
func (s *Service) refreshSite(ctx context.Context, site Site) (time.Time, error) {
	if !site.HasCoordinates() {
		return time.Time{}, ErrNoCoordinates
	}

	env, err := s.provider.Fetch(ctx, *site.Latitude, *site.Longitude)
	if err != nil {
		s.reportFailure(ctx, site.ID, err)
		return time.Time{}, err
	}

	now := s.now().UTC()
	normalize(&env, site.ID, now)

	if err := s.store.SaveRefresh(ctx, site.ID, env); err != nil {
		err = fmt.Errorf("persisting refresh for site %d: %w", site.ID, err)
		s.reportFailure(ctx, site.ID, err)
		return time.Time{}, err
	}

	s.cache.InvalidateSite(site.ID)
	s.log.Debug("site weather refreshed", map[string]any{
		"site_id":  site.ID,
		"provider": env.Provider,
		"hourly":   len(env.Hourly),
		"daily":    len(env.Daily),
	})
	return now, nil
}

func (s *Service) reportFailure(ctx context.Context, siteID int64, cause error) {
	s.log.Error(cause, map[string]any{"site_id": siteID})
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Notify(ctx, siteID, cause); err != nil {
		s.log.Error(fmt.Errorf("recording failure alert: %w", err), map[string]any{"site_id": siteID})
	}
}

// normalize stamps site and fetch time onto every row. An observation without
// a provider timestamp is recorded at the refresh instant.
func normalize(env *Envelope, siteID int64, now time.Time) {
	env.Current.SiteID = siteID
	if env.Current.ObservedAt.IsZero() {
		env.Current.ObservedAt = now
	}
	for i := range env.Hourly {
		env.Hourly[i].SiteID = siteID
		env.Hourly[i].ForecastedAt = now
	}
	for i := range env.Daily {
		env.Daily[i].SiteID = siteID
		env.Daily[i].ForecastedAt = now
	}
}
