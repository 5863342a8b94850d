package cache

import (
	"sync"
	"time"
)

// Kind identifies which read model an entry holds.
type Kind string

const (
	KindCurrent Kind = "current"
	KindHourly  Kind = "hourly"
	KindDaily   Kind = "daily"
)

// TTLs holds the freshness window per kind.
type TTLs struct {
	Current time.Duration
	Hourly  time.Duration
	Daily   time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		Current: 15 * time.Minute,
		Hourly:  60 * time.Minute,
		Daily:   6 * time.Hour,
	}
}

func (t TTLs) forKind(k Kind) time.Duration {
	switch k {
	case KindCurrent:
		return t.Current
	case KindHourly:
		return t.Hourly
	case KindDaily:
		return t.Daily
	default:
		return 0
	}
}

type key struct {
	siteID int64
	kind   Kind
}

type entry struct {
	payload   any
	fetchedAt time.Time
}

// ReadCache is a concurrency-safe in-memory cache of per-site read models.
type ReadCache struct {
	mu sync.RWMutex

	data map[key]entry
	ttl  TTLs
	now  func() time.Time

	// Bumped by InvalidateSite and Clear so an in-flight Load cannot
	// write back a payload read before the invalidation.
	gens  map[int64]uint64
	epoch uint64
}

type generation struct {
	epoch uint64
	site  uint64
}

// New creates an empty cache. Zero TTLs fall back to the defaults.
func New(ttl TTLs) *ReadCache {
	def := DefaultTTLs()
	if ttl.Current <= 0 {
		ttl.Current = def.Current
	}
	if ttl.Hourly <= 0 {
		ttl.Hourly = def.Hourly
	}
	if ttl.Daily <= 0 {
		ttl.Daily = def.Daily
	}
	return &ReadCache{
		data: make(map[key]entry),
		ttl:  ttl,
		now:  time.Now,
		gens: make(map[int64]uint64),
	}
}

// SetClock replaces the time source. Intended for tests.
func (c *ReadCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get returns the payload if it is younger than the kind's TTL.
func (c *ReadCache) Get(siteID int64, kind Kind) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.data[key{siteID, kind}]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.fetchedAt) >= c.ttl.forKind(kind) {
		return nil, false
	}
	return e.payload, true
}

// Set stores payload stamped with the current time.
func (c *ReadCache) Set(siteID int64, kind Kind, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key{siteID, kind}] = entry{payload: payload, fetchedAt: c.now()}
}

func (c *ReadCache) generation(siteID int64) generation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return generation{epoch: c.epoch, site: c.gens[siteID]}
}

// setIfCurrent stores payload only if the site was not invalidated since gen
// was taken.
func (c *ReadCache) setIfCurrent(siteID int64, kind Kind, payload any, gen generation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != gen.epoch || c.gens[siteID] != gen.site {
		return false
	}
	c.data[key{siteID, kind}] = entry{payload: payload, fetchedAt: c.now()}
	return true
}

// InvalidateSite drops every kind cached for the site.
func (c *ReadCache) InvalidateSite(siteID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range []Kind{KindCurrent, KindHourly, KindDaily} {
		delete(c.data, key{siteID, k})
	}
	c.gens[siteID]++
}

// Clear drops everything.
func (c *ReadCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[key]entry)
	c.epoch++
}

func (c *ReadCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Load is the read-through path: a fresh entry is returned as is, otherwise
// load is called and a successful result is cached. Errors are not cached,
// and neither is a result whose site was invalidated while load ran.
func Load[T any](c *ReadCache, siteID int64, kind Kind, load func() (T, error)) (T, error) {
	if v, ok := c.Get(siteID, kind); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	gen := c.generation(siteID)
	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}
	c.setIfCurrent(siteID, kind, v, gen)
	return v, nil
}
