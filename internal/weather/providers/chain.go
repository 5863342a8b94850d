package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/i474232898/garden-weather/internal/logger"
	"github.com/i474232898/garden-weather/internal/weather"
)

// Chain tries the primary provider and, if it fails, the secondary exactly once.
type Chain struct {
	primary   weather.Provider
	secondary weather.Provider
	log       *logger.Logger
}

// NewChain builds a provider chain. secondary may be nil.
func NewChain(primary, secondary weather.Provider, log *logger.Logger) *Chain {
	if log == nil {
		log = logger.NewNop()
	}
	return &Chain{primary: primary, secondary: secondary, log: log}
}

func (c *Chain) Name() string {
	if c.secondary == nil {
		return c.primary.Name()
	}
	return c.primary.Name() + "+" + c.secondary.Name()
}

func (c *Chain) Fetch(ctx context.Context, lat, lon float64) (weather.Envelope, error) {
	env, err := c.primary.Fetch(ctx, lat, lon)
	if err == nil {
		return env, nil
	}
	primaryErr := asFetchError(c.primary.Name(), err)

	if c.secondary == nil || ctx.Err() != nil {
		return weather.Envelope{}, primaryErr
	}

	c.log.Warning("primary provider failed, trying fallback", map[string]any{
		"primary":  c.primary.Name(),
		"fallback": c.secondary.Name(),
		"attempts": primaryErr.Attempts,
		"status":   primaryErr.StatusCode,
		"error":    primaryErr.Err.Error(),
	})

	env, err = c.secondary.Fetch(ctx, lat, lon)
	if err == nil {
		return env, nil
	}
	secondaryErr := asFetchError(c.secondary.Name(), err)

	return weather.Envelope{}, &weather.FetchError{
		Provider:   secondaryErr.Provider,
		Attempts:   primaryErr.Attempts + secondaryErr.Attempts,
		StatusCode: secondaryErr.StatusCode,
		Err:        fmt.Errorf("%s: %w; %s: %w", primaryErr.Provider, primaryErr.Err, secondaryErr.Provider, secondaryErr.Err),
	}
}

func asFetchError(provider string, err error) *weather.FetchError {
	var fe *weather.FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &weather.FetchError{Provider: provider, Attempts: 1, StatusCode: statusCode(err), Err: err}
}
