package weather

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/garden-weather/internal/cache"
)

func TestRefreshAllCapsConcurrency(t *testing.T) {
	var sites []Site
	for i := int64(1); i <= 50; i++ {
		sites = append(sites, siteAt(i, float64(i), 100))
	}
	env := newTestEnv(sites...)
	env.provider.delay = 20 * time.Millisecond

	res, err := env.svc.RefreshAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 50, res.Total)
	assert.Equal(t, 50, res.Succeeded)
	assert.Zero(t, res.Failed)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, int64(50), env.provider.calls.Load())
	assert.LessOrEqual(t, env.provider.maxSeen.Load(), int64(defaultConcurrency))
	assert.Greater(t, env.provider.maxSeen.Load(), int64(1))
}

func TestRefreshAllSkipsSitesWithoutCoordinates(t *testing.T) {
	env := newTestEnv(
		siteAt(1, 10, 106),
		Site{ID: 2, Name: "balcony", Active: true},
		Site{ID: 3, Name: "half", Latitude: fp(1), Active: true},
	)

	res, err := env.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, int64(1), env.provider.calls.Load())
}

func TestRefreshAllIsolatesFailures(t *testing.T) {
	env := newTestEnv(siteAt(1, 10, 0), siteAt(2, 20, 0), siteAt(3, 30, 0))
	env.provider.fail[20] = true

	res, err := env.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []int64{2}, res.FailedSiteIDs)
	assert.Len(t, env.store.saved, 2)
}

func TestRepeatedFailuresRaiseOneAlert(t *testing.T) {
	env := newTestEnv(siteAt(7, 10, 106))
	env.provider.err = errors.New("upstream down")

	for i := 0; i < 2; i++ {
		res, err := env.svc.RefreshAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
	}

	require.Len(t, env.alerts.created, 1)
	alert := env.alerts.created[0]
	assert.Equal(t, int64(7), alert.SiteID)
	assert.Equal(t, AlertCategoryWeatherFailure, alert.Category)
	assert.Equal(t, AlertOpen, alert.Status)
	assert.Contains(t, alert.Message, "Weather refresh failed for site 7")
	assert.NotEmpty(t, alert.ID)
}

func TestPersistenceFailureIsAlerted(t *testing.T) {
	env := newTestEnv(siteAt(1, 10, 106))
	env.store.saveErr = errors.New("database is locked")

	_, err := env.svc.ForceRefresh(context.Background(), 1)
	require.Error(t, err)
	assert.Len(t, env.alerts.created, 1)
}

func TestRefreshStampsRows(t *testing.T) {
	env := newTestEnv(siteAt(4, 10, 106))

	res, err := env.svc.ForceRefresh(context.Background(), 4)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, env.now, res.LastUpdated)

	require.Len(t, env.store.saved, 1)
	saved := env.store.saved[0]
	assert.Equal(t, int64(4), saved.Current.SiteID)
	assert.Equal(t, env.now, saved.Current.ObservedAt, "missing provider timestamp falls back to refresh time")
	assert.Equal(t, env.now, saved.Hourly[0].ForecastedAt)
	assert.Equal(t, int64(4), saved.Daily[0].SiteID)
}

func TestForceRefreshRejectsSitesItCannotFetch(t *testing.T) {
	inactive := siteAt(2, 1, 1)
	inactive.Active = false
	env := newTestEnv(Site{ID: 1, Name: "no coords", Active: true}, inactive)

	env.cache.Set(1, cache.KindCurrent, Observation{SiteID: 1})

	_, err := env.svc.ForceRefresh(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoCoordinates)

	_, err = env.svc.ForceRefresh(context.Background(), 2)
	assert.ErrorIs(t, err, ErrSiteInactive)

	_, err = env.svc.ForceRefresh(context.Background(), 99)
	assert.ErrorIs(t, err, ErrSiteNotFound)

	assert.Zero(t, env.provider.calls.Load())
	assert.Equal(t, 1, env.cache.Len(), "cache untouched when no refresh happens")
	assert.Empty(t, env.alerts.created)
}

func TestCurrentIsServedFromCache(t *testing.T) {
	env := newTestEnv(siteAt(1, 10, 106))
	_, err := env.svc.ForceRefresh(context.Background(), 1)
	require.NoError(t, err)

	first, err := env.svc.Current(context.Background(), 1)
	require.NoError(t, err)
	reads := env.store.readCount()

	second, err := env.svc.Current(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, reads, env.store.readCount(), "hit must not touch storage")

	env.now = env.now.Add(15 * time.Minute)
	_, err = env.svc.Current(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, reads+1, env.store.readCount(), "expired entry reloads")
}

func TestRefreshInvalidatesCache(t *testing.T) {
	env := newTestEnv(siteAt(1, 10, 106))
	_, err := env.svc.ForceRefresh(context.Background(), 1)
	require.NoError(t, err)

	_, err = env.svc.Hourly(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, env.cache.Len())

	_, err = env.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, env.cache.Len())
}

func TestReadsOfUnknownSiteAreNotFound(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.Current(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.svc.Hourly(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.svc.Daily(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, env.store.readCount())
	assert.Zero(t, env.cache.Len(), "errors are not cached")
}

func TestCurrentWithoutObservationsIsNotFound(t *testing.T) {
	env := newTestEnv(siteAt(1, 10, 106))
	_, err := env.svc.Current(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHistoryValidatesBeforeStorage(t *testing.T) {
	env := newTestEnv(siteAt(1, 10, 106))
	day := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	_, err := env.svc.History(context.Background(), 1, day, day.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = env.svc.History(context.Background(), 1, day.AddDate(0, 0, -30), day)
	assert.ErrorIs(t, err, ErrInvalidRange, "31 whole days")

	_, err = env.svc.History(context.Background(), 1, time.Time{}, day)
	assert.ErrorIs(t, err, ErrInvalidRange)

	assert.Zero(t, env.store.readCount())
	assert.Zero(t, env.sites.calls)
}

func TestHistorySummarisesWholeDays(t *testing.T) {
	env := newTestEnv(siteAt(1, 10, 106))
	day := time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC)
	env.store.obs = []Observation{
		{SiteID: 1, ObservedAt: day.Add(1 * time.Hour), Conditions: Conditions{Temperature: 20, Humidity: 50, Main: CategoryRain}},
		{SiteID: 1, ObservedAt: day.Add(23 * time.Hour), Conditions: Conditions{Temperature: 24, Humidity: 70, Main: CategoryClear}},
		{SiteID: 1, ObservedAt: day.Add(25 * time.Hour), Conditions: Conditions{Temperature: 18, Humidity: 90, Main: CategoryClouds}},
		{SiteID: 2, ObservedAt: day.Add(2 * time.Hour), Conditions: Conditions{Temperature: 99}},
	}

	// Mid-day bounds still cover both full days.
	days, err := env.svc.History(context.Background(), 1, day.Add(12*time.Hour), day.Add(30*time.Hour))
	require.NoError(t, err)
	require.Len(t, days, 2)

	assert.Equal(t, "2024-06-08", days[0].Date)
	assert.Equal(t, 2, days[0].Observations)
	assert.Equal(t, 20.0, days[0].MinTemperature)
	assert.Equal(t, 24.0, days[0].MaxTemperature)
	assert.Equal(t, 22.0, days[0].AvgTemperature)
	assert.Equal(t, 60.0, days[0].AvgHumidity)
	assert.Equal(t, CategoryRain, days[0].DominantCategory)

	assert.Equal(t, "2024-06-09", days[1].Date)
	assert.Equal(t, 1, days[1].Observations)
}

func TestHistoryEmptyIsNotFound(t *testing.T) {
	env := newTestEnv(siteAt(1, 10, 106))
	day := time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC)

	_, err := env.svc.History(context.Background(), 1, day, day)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.History(context.Background(), 42, day, day)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClearCache(t *testing.T) {
	env := newTestEnv()
	env.cache.Set(1, cache.KindCurrent, 1)
	env.cache.Set(2, cache.KindCurrent, 2)

	id := int64(1)
	env.svc.ClearCache(&id)
	assert.Equal(t, 1, env.cache.Len())

	env.svc.ClearCache(nil)
	assert.Zero(t, env.cache.Len())
}

func TestSweepCutoffs(t *testing.T) {
	env := newTestEnv()
	env.now = time.Date(2024, 6, 10, 12, 30, 0, 0, time.UTC)

	res := env.svc.Sweep(context.Background())
	assert.Equal(t, SweepResult{Hourly: 3, Daily: 2, Observations: 1}, res)
	assert.Equal(t, env.now, env.store.hourlyCutoff)
	assert.Equal(t, time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), env.store.dailyCutoff)
	assert.Equal(t, time.Date(2023, 12, 10, 12, 30, 0, 0, time.UTC), env.store.obsCutoff)
}

func TestSweepKeepsDailyRowsStillRunningWestOfUTC(t *testing.T) {
	env := newTestEnv()
	// 05:00 UTC on the 10th is still the 9th in UTC-10.
	env.now = time.Date(2024, 6, 10, 5, 0, 0, 0, time.UTC)

	env.svc.Sweep(context.Background())
	assert.Equal(t, time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC), env.store.dailyCutoff)
}

func TestSweepSwallowsErrors(t *testing.T) {
	env := newTestEnv()
	env.store.deleteErr = errors.New("disk I/O error")

	res := env.svc.Sweep(context.Background())
	assert.Zero(t, res.Hourly)
	assert.Equal(t, int64(2), res.Daily)
	assert.Equal(t, int64(1), res.Observations)
}

func TestRetentionMonthsOption(t *testing.T) {
	env := newTestEnv()
	WithRetentionMonths(12)(env.svc)
	env.svc.SweepObservations(context.Background())
	assert.Equal(t, env.now.AddDate(-1, 0, 0), env.store.obsCutoff)
}

func TestCurrentDoesNotCacheRowReadBeforeForceRefresh(t *testing.T) {
	env := newTestEnv(siteAt(1, 1, 106))
	_, err := env.svc.ForceRefresh(context.Background(), 1)
	require.NoError(t, err)

	readDone := make(chan struct{})
	release := make(chan struct{})
	env.store.afterLatest = func() {
		close(readDone)
		<-release
	}

	stale := make(chan Observation)
	go func() {
		obs, _ := env.svc.Current(context.Background(), 1)
		stale <- obs
	}()
	<-readDone

	// A newer refresh lands while the first read is still in flight.
	env.store.mu.Lock()
	env.store.afterLatest = nil
	env.store.mu.Unlock()
	env.sites.mu.Lock()
	env.sites.sites[1] = siteAt(1, 42, 106)
	env.sites.mu.Unlock()
	_, err = env.svc.ForceRefresh(context.Background(), 1)
	require.NoError(t, err)

	close(release)
	assert.Equal(t, 1.0, (<-stale).Temperature)

	obs, err := env.svc.Current(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 42.0, obs.Temperature)
}
