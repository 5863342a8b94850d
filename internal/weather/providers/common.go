package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/garden-weather/internal/logger"
	"github.com/i474232898/garden-weather/internal/weather"
)

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultBackoff waits 1s, 2s, 4s... between up to three attempts.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
	Sleep   SleepFunc
}

// Options configures a provider. A zero Backoff means a single attempt.
type Options struct {
	Client  *http.Client
	APIKey  string
	BaseURL string
	Backoff BackoffConfig
	Sleep   SleepFunc
	Log     *logger.Logger
}

func (o Options) httpConfig() HTTPClientConfig {
	b := o.Backoff
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = 1
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	sleep := o.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return HTTPClientConfig{Client: o.Client, Backoff: b, Sleep: sleep}
}

func (o Options) logger() *logger.Logger {
	if o.Log == nil {
		return logger.NewNop()
	}
	return o.Log
}

// NewHTTPClient returns a client with a per-call timeout and a redirect cap.
func NewHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
	})
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}

var (
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
	errMissingAPIKey = errors.New("api key is not configured")
)

// retryable reports whether another attempt may succeed: transport errors,
// timeouts, 429 and 5xx.
func retryable(err error) bool {
	if errors.Is(err, errCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return true
}

func statusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// doRequestWithResilience executes the HTTP request with retries, exponential
// backoff and a circuit breaker. It returns the number of attempts made.
// Non-retryable client errors do not count against the breaker.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	log *logger.Logger,
	buildRequest func() (*http.Request, error),
) (*http.Response, int, error) {
	if cfg.Client == nil {
		return nil, 0, errNoHTTPClient
	}
	if cfg.Backoff.MaxAttempts <= 0 || cfg.Backoff.InitialInterval <= 0 {
		return nil, 0, errInvalidConfig
	}

	var lastErr error

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return nil, attempt - 1, ctx.Err()
		}

		req, err := buildRequest()
		if err != nil {
			return nil, attempt - 1, err
		}
		req = req.WithContext(ctx)

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, readStatusError(resp)
			}
			return resp, nil
		})

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, attempt, fmt.Errorf("unexpected result type from circuit breaker")
			}
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, attempt, nil
			}
			// 4xx other than 429: retrying will not help.
			return nil, attempt, readStatusError(resp)
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			// The breaker rejected this attempt before any request went out.
			return nil, attempt - 1, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}

		lastErr = err
		if !retryable(err) || attempt >= cfg.Backoff.MaxAttempts {
			return nil, attempt, lastErr
		}

		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt-1)))
		if cfg.Backoff.MaxInterval > 0 && delay > cfg.Backoff.MaxInterval {
			delay = cfg.Backoff.MaxInterval
		}

		log.Warning("provider request failed, retrying", map[string]any{
			"breaker": cb.Name(),
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})

		if err := cfg.Sleep(ctx, delay); err != nil {
			return nil, attempt, err
		}
	}
}

func readStatusError(resp *http.Response) *StatusError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func fetchError(provider string, attempts int, err error) *weather.FetchError {
	return &weather.FetchError{
		Provider:   provider,
		Attempts:   attempts,
		StatusCode: statusCode(err),
		Err:        err,
	}
}

// epoch decodes provider timestamps that may arrive as numbers, numeric
// strings, null or garbage. Anything unusable decodes to 0.
type epoch int64

func (e *epoch) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if json.Unmarshal(b, &s) != nil {
			*e = 0
			return nil
		}
		n = json.Number(s)
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(n.String(), 64)
		if ferr != nil {
			*e = 0
			return nil
		}
		v = int64(f)
	}
	*e = epoch(v)
	return nil
}

func (e epoch) Time() (time.Time, bool) {
	return weather.UnixToTime(int64(e))
}

// categorize runs an OpenWeatherMap-style code through the canonical table and
// logs codes that fall outside it.
func categorize(log *logger.Logger, provider string, code int) weather.Category {
	cat, ok := weather.CategoryFromCode(code)
	if !ok {
		log.Warning("unknown weather code, defaulting to Clear", map[string]any{
			"provider": provider,
			"code":     code,
		})
	}
	return cat
}

func floatPtr(v float64) *float64 {
	return &v
}
