package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/garden-weather/internal/weather"
)

type fakeService struct {
	err          error
	historyCalls int
	from, to     time.Time
	cleared      []*int64
	refreshed    []int64
}

func (f *fakeService) Current(ctx context.Context, siteID int64) (weather.Observation, error) {
	if f.err != nil {
		return weather.Observation{}, f.err
	}
	return weather.Observation{SiteID: siteID, Conditions: weather.Conditions{Temperature: 21.5, Main: weather.CategoryRain}}, nil
}

func (f *fakeService) Hourly(ctx context.Context, siteID int64) ([]weather.HourlyForecast, error) {
	return []weather.HourlyForecast{{SiteID: siteID}, {SiteID: siteID}}, f.err
}

func (f *fakeService) Daily(ctx context.Context, siteID int64) ([]weather.DailyForecast, error) {
	return []weather.DailyForecast{{SiteID: siteID}}, f.err
}

func (f *fakeService) History(ctx context.Context, siteID int64, from, to time.Time) ([]weather.DaySummary, error) {
	f.historyCalls++
	f.from, f.to = from, to
	if f.err != nil {
		return nil, f.err
	}
	return []weather.DaySummary{{Date: "2024-06-01", Observations: 3, DominantCategory: weather.CategoryClear}}, nil
}

func (f *fakeService) ForceRefresh(ctx context.Context, siteID int64) (weather.RefreshResult, error) {
	f.refreshed = append(f.refreshed, siteID)
	if f.err != nil {
		return weather.RefreshResult{}, f.err
	}
	return weather.RefreshResult{Success: true, LastUpdated: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}, nil
}

func (f *fakeService) ClearCache(siteID *int64) {
	f.cleared = append(f.cleared, siteID)
}

func newTestApp(svc WeatherService) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, svc)
	return app
}

func do(t *testing.T, app *fiber.App, method, target string) (int, map[string]any, []byte) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, target, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var obj map[string]any
	_ = json.Unmarshal(body, &obj)
	return resp.StatusCode, obj, body
}

func TestCurrent(t *testing.T) {
	app := newTestApp(&fakeService{})
	status, body, _ := do(t, app, http.MethodGet, "/weather/site/5/current")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 21.5, body["temp"])
	assert.Equal(t, "Rain", body["weatherMain"])
}

func TestForecastEndpointsReturnArrays(t *testing.T) {
	app := newTestApp(&fakeService{})

	status, _, raw := do(t, app, http.MethodGet, "/weather/site/5/hourly")
	require.Equal(t, http.StatusOK, status)
	var hourly []map[string]any
	require.NoError(t, json.Unmarshal(raw, &hourly))
	assert.Len(t, hourly, 2)

	status, _, raw = do(t, app, http.MethodGet, "/weather/site/5/daily")
	require.Equal(t, http.StatusOK, status)
	var daily []map[string]any
	require.NoError(t, json.Unmarshal(raw, &daily))
	assert.Len(t, daily, 1)
}

func TestNonNumericSiteIDIsBadRequest(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc)

	for _, target := range []string{
		"/weather/site/abc/current",
		"/weather/site/-1/hourly",
		"/weather/site/x/history",
	} {
		status, body, _ := do(t, app, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, status, target)
		assert.Equal(t, true, body["error"])
	}

	status, _, _ := do(t, app, http.MethodPost, "/weather/site/abc/refresh")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Empty(t, svc.refreshed)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", weather.ErrNotFound, http.StatusNotFound},
		{"unknown site", weather.ErrSiteNotFound, http.StatusNotFound},
		{"inactive", weather.ErrSiteInactive, http.StatusConflict},
		{"no coordinates", weather.ErrNoCoordinates, http.StatusConflict},
		{"provider", &weather.FetchError{Provider: "weatherapi", Attempts: 4, StatusCode: 502, Err: errors.New("bad gateway")}, http.StatusInternalServerError},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(&fakeService{err: tc.err})
			status, body, _ := do(t, app, http.MethodPost, "/weather/site/3/refresh")
			assert.Equal(t, tc.status, status)
			assert.Equal(t, true, body["error"])
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestRefreshSuccess(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc)
	status, body, _ := do(t, app, http.MethodPost, "/weather/site/9/refresh")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "2024-06-01T10:00:00Z", body["lastUpdated"])
	assert.Equal(t, []int64{9}, svc.refreshed)
}

func TestHistoryInvertedRangeNeverReachesService(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc)

	status, body, _ := do(t, app, http.MethodGet, "/weather/site/1/history?startDate=2024-06-10&endDate=2024-06-01")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, true, body["error"])
	assert.Zero(t, svc.historyCalls)
}

func TestHistoryRejectsBadDates(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc)

	status, _, _ := do(t, app, http.MethodGet, "/weather/site/1/history?startDate=yesterday")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Zero(t, svc.historyCalls)
}

func TestHistoryServiceRangeErrorIsBadRequest(t *testing.T) {
	svc := &fakeService{err: weather.ErrInvalidRange}
	app := newTestApp(svc)

	status, _, _ := do(t, app, http.MethodGet, "/weather/site/1/history?startDate=2024-01-01&endDate=2024-06-01")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHistoryParsesDateFormats(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc)

	status, _, raw := do(t, app, http.MethodGet, "/weather/site/1/history?startDate=2024-06-01&endDate=1717545600")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), svc.from)
	assert.Equal(t, time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC), svc.to)

	var days []map[string]any
	require.NoError(t, json.Unmarshal(raw, &days))
	require.Len(t, days, 1)
	assert.Equal(t, "Clear", days[0]["dominantWeather"])

	status, _, _ = do(t, app, http.MethodGet, "/weather/site/1/history?startDate=2024-06-01T08:00:00%2B02:00&endDate=2024-06-02")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC), svc.from)
}

func TestHistoryDefaultsToLastWeek(t *testing.T) {
	svc := &fakeService{}
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	now := time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)
	h := &handlers{service: svc, now: func() time.Time { return now }}
	app.Get("/weather/site/:id/history", h.history)

	status, _, _ := do(t, app, http.MethodGet, "/weather/site/1/history")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, now, svc.to)
	assert.Equal(t, now.AddDate(0, 0, -7), svc.from)
}

func TestClearCache(t *testing.T) {
	svc := &fakeService{}
	app := newTestApp(svc)

	status, body, _ := do(t, app, http.MethodGet, "/weather/site/4/clear-cache")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, body, _ = do(t, app, http.MethodGet, "/weather/clear-cache")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	require.Len(t, svc.cleared, 2)
	require.NotNil(t, svc.cleared[0])
	assert.Equal(t, int64(4), *svc.cleared[0])
	assert.Nil(t, svc.cleared[1])
}
