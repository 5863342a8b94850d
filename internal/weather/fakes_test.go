package weather

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/i474232898/garden-weather/internal/cache"
)

func fp(v float64) *float64 { return &v }

func siteAt(id int64, lat, lon float64) Site {
	return Site{ID: id, Name: "plot", Latitude: fp(lat), Longitude: fp(lon), Active: true}
}

type fakeSites struct {
	mu    sync.Mutex
	sites map[int64]Site
	calls int
}

func newFakeSites(sites ...Site) *fakeSites {
	f := &fakeSites{sites: make(map[int64]Site)}
	for _, s := range sites {
		f.sites[s.ID] = s
	}
	return f
}

func (f *fakeSites) GetSite(ctx context.Context, id int64) (Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	s, ok := f.sites[id]
	if !ok {
		return Site{}, ErrSiteNotFound
	}
	return s, nil
}

func (f *fakeSites) ListActiveSites(ctx context.Context) ([]Site, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Site
	for id := int64(1); id <= int64(len(f.sites))+100; id++ {
		if s, ok := f.sites[id]; ok && s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeStore struct {
	mu      sync.Mutex
	saved   []Envelope
	obs     []Observation
	reads   int
	saveErr error

	// afterLatest, when set, runs after LatestObservation has read its row
	// and before it returns.
	afterLatest func()

	hourlyCutoff, dailyCutoff, obsCutoff time.Time
	deleteErr                            error
}

func (f *fakeStore) SaveRefresh(ctx context.Context, siteID int64, env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, env)
	f.obs = append(f.obs, env.Current)
	return nil
}

func (f *fakeStore) LatestObservation(ctx context.Context, siteID int64) (Observation, error) {
	f.mu.Lock()
	f.reads++
	found, ok := Observation{}, false
	for i := len(f.obs) - 1; i >= 0; i-- {
		if f.obs[i].SiteID == siteID {
			found, ok = f.obs[i], true
			break
		}
	}
	hook := f.afterLatest
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ok {
		return Observation{}, ErrNotFound
	}
	return found, nil
}

func (f *fakeStore) ObservationsBetween(ctx context.Context, siteID int64, from, to time.Time) ([]Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	var out []Observation
	for _, o := range f.obs {
		if o.SiteID == siteID && !o.ObservedAt.Before(from) && !o.ObservedAt.After(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeStore) HourlyFrom(ctx context.Context, siteID int64, from time.Time) ([]HourlyForecast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	out := []HourlyForecast{}
	for _, env := range f.saved {
		for _, h := range env.Hourly {
			if h.SiteID == siteID && !h.ForecastFor.Before(from) {
				out = append(out, h)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) DailyFrom(ctx context.Context, siteID int64, from time.Time) ([]DailyForecast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return []DailyForecast{}, nil
}

func (f *fakeStore) DeleteHourlyBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.hourlyCutoff = cutoff
	return 3, f.deleteErr
}

func (f *fakeStore) DeleteDailyBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.dailyCutoff = cutoff
	return 2, nil
}

func (f *fakeStore) DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.obsCutoff = cutoff
	return 1, nil
}

func (f *fakeStore) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

type fakeAlerts struct {
	mu      sync.Mutex
	open    map[int64]bool
	created []Alert
}

func newFakeAlerts() *fakeAlerts {
	return &fakeAlerts{open: make(map[int64]bool)}
}

func (f *fakeAlerts) HasOpenAlert(ctx context.Context, siteID int64, category string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open[siteID], nil
}

func (f *fakeAlerts) CreateAlert(ctx context.Context, a Alert) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open[a.SiteID] {
		return false, nil
	}
	f.open[a.SiteID] = true
	f.created = append(f.created, a)
	return true, nil
}

// fakeProvider tracks how many fetches are in flight at once.
type fakeProvider struct {
	calls    *atomic.Int64
	inFlight *atomic.Int64
	maxSeen  *atomic.Int64
	delay    time.Duration
	fail     map[float64]bool
	err      error
	observed time.Time
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls:    atomic.NewInt64(0),
		inFlight: atomic.NewInt64(0),
		maxSeen:  atomic.NewInt64(0),
		fail:     map[float64]bool{},
	}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Fetch(ctx context.Context, lat, lon float64) (Envelope, error) {
	p.calls.Inc()
	n := p.inFlight.Inc()
	defer p.inFlight.Dec()
	for {
		seen := p.maxSeen.Load()
		if n <= seen || p.maxSeen.CAS(seen, n) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	if p.err != nil || p.fail[lat] {
		err := p.err
		if err == nil {
			err = errors.New("boom")
		}
		return Envelope{}, &FetchError{Provider: "fake", Attempts: 1, StatusCode: 503, Err: err}
	}
	return Envelope{
		Provider: "fake",
		Current: Observation{
			ObservedAt: p.observed,
			Conditions: Conditions{Temperature: lat, Humidity: 60, Main: CategoryRain},
		},
		Hourly: []HourlyForecast{{ForecastFor: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}},
		Daily:  []DailyForecast{{ForecastFor: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}},
	}, nil
}

type testEnv struct {
	sites    *fakeSites
	store    *fakeStore
	alerts   *fakeAlerts
	provider *fakeProvider
	cache    *cache.ReadCache
	now      time.Time
	svc      *Service
}

func newTestEnv(sites ...Site) *testEnv {
	env := &testEnv{
		sites:    newFakeSites(sites...),
		store:    &fakeStore{},
		alerts:   newFakeAlerts(),
		provider: newFakeProvider(),
		cache:    cache.New(cache.DefaultTTLs()),
		now:      time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }
	env.cache.SetClock(clock)
	env.svc = NewService(env.sites, env.store, env.provider, env.cache, NewNotifier(env.alerts, nil), nil, WithClock(clock))
	return env
}
