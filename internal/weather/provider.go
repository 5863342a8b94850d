package weather

import (
	"context"
	"time"
)

// Provider fetches current conditions and forecasts for a coordinate pair.
// Failures are reported as *FetchError.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, lat, lon float64) (Envelope, error)
}

// SiteStore exposes the site registry owned by the surrounding platform.
type SiteStore interface {
	// GetSite returns ErrSiteNotFound for unknown IDs.
	GetSite(ctx context.Context, id int64) (Site, error)
	ListActiveSites(ctx context.Context) ([]Site, error)
}

// Store persists observations and forecast buckets.
type Store interface {
	// SaveRefresh appends env.Current and upserts every forecast point in a
	// single transaction.
	SaveRefresh(ctx context.Context, siteID int64, env Envelope) error

	// LatestObservation returns ErrNotFound when the site has none.
	LatestObservation(ctx context.Context, siteID int64) (Observation, error)
	ObservationsBetween(ctx context.Context, siteID int64, from, to time.Time) ([]Observation, error)
	HourlyFrom(ctx context.Context, siteID int64, from time.Time) ([]HourlyForecast, error)
	DailyFrom(ctx context.Context, siteID int64, from time.Time) ([]DailyForecast, error)

	DeleteHourlyBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteDailyBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertStore records operator-facing alerts.
type AlertStore interface {
	HasOpenAlert(ctx context.Context, siteID int64, category string) (bool, error)
	// CreateAlert reports false when an open alert of the same category
	// already exists for the site.
	CreateAlert(ctx context.Context, alert Alert) (bool, error)
}
