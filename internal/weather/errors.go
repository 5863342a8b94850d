package weather

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a site is unknown or has no data yet.
	ErrNotFound      = errors.New("no weather data for site")
	ErrSiteNotFound  = errors.New("site not found")
	ErrSiteInactive  = errors.New("site is not active")
	ErrNoCoordinates = errors.New("site has no coordinates")
	// ErrInvalidRange covers inverted, unparsable or too wide history ranges.
	ErrInvalidRange = errors.New("invalid date range")
)

// FetchError is returned when every provider in the chain failed.
type FetchError struct {
	Provider   string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("weather fetch failed (provider=%s attempts=%d status=%d): %v",
			e.Provider, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("weather fetch failed (provider=%s attempts=%d): %v", e.Provider, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
