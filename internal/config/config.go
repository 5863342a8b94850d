package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/garden-weather/internal/weather"
)

const (
	FallbackWeatherAPI = "weatherapi"
	FallbackOpenMeteo  = "openmeteo"
	FallbackNone       = "none"
)

type AppConfig struct {
	OpenWeatherAPIKey  string `envconfig:"OPENWEATHER_API_KEY" required:"true" validate:"required"`
	OpenWeatherBaseURL string `envconfig:"OPENWEATHER_BASE_URL" validate:"omitempty,url"`

	WeatherAPIKey     string `envconfig:"WEATHERAPI_API_KEY"`
	WeatherAPIBaseURL string `envconfig:"WEATHERAPI_BASE_URL" validate:"omitempty,url"`
	OpenMeteoBaseURL  string `envconfig:"OPENMETEO_BASE_URL" validate:"omitempty,url"`
	FallbackProvider  string `envconfig:"FALLBACK_PROVIDER" default:"weatherapi" validate:"oneof=weatherapi openmeteo none"`

	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"10m" validate:"gte=1s"`
	RefreshTimeout  time.Duration `envconfig:"REFRESH_TIMEOUT" validate:"gte=0"`
	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"10m" validate:"gte=1s"`
	SweepCron       string        `envconfig:"SWEEP_CRON"`

	ObservationRetentionMonths int `envconfig:"OBSERVATION_RETENTION_MONTHS" default:"6" validate:"gte=1,lte=120"`

	CacheTTLCurrent time.Duration `envconfig:"CACHE_TTL_CURRENT" default:"15m" validate:"gt=0"`
	CacheTTLHourly  time.Duration `envconfig:"CACHE_TTL_HOURLY" default:"60m" validate:"gt=0"`
	CacheTTLDaily   time.Duration `envconfig:"CACHE_TTL_DAILY" default:"6h" validate:"gt=0"`

	RefreshConcurrency int `envconfig:"REFRESH_CONCURRENCY" default:"10" validate:"gte=1,lte=100"`

	HTTPTimeout      time.Duration `envconfig:"HTTP_TIMEOUT" default:"10s" validate:"gt=0"`
	HTTPMaxRedirects int           `envconfig:"HTTP_MAX_REDIRECTS" default:"5" validate:"gte=0"`
	RetryAttempts    int           `envconfig:"RETRY_ATTEMPTS" default:"3" validate:"gte=1,lte=10"`
	RetryBaseDelay   time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s" validate:"gte=0"`

	DatabasePath string `envconfig:"DATABASE_PATH" default:"data/garden-weather.db" validate:"required"`
	SitesFile    string `envconfig:"SITES_FILE"`

	Port     string `envconfig:"PORT" default:"8080" validate:"required,numeric"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
}

// Load reads .env when present, then the environment.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv()
}

// FromEnv decodes and validates the process environment.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.SweepCron != "" {
		if _, err := cron.ParseStandard(c.SweepCron); err != nil {
			return fmt.Errorf("invalid SWEEP_CRON %q: %w", c.SweepCron, err)
		}
	}
	return nil
}

type siteFile struct {
	Sites []siteEntry `yaml:"sites"`
}

type siteEntry struct {
	ID        int64    `yaml:"id" validate:"gt=0"`
	Name      string   `yaml:"name"`
	Latitude  *float64 `yaml:"latitude" validate:"omitempty,latitude"`
	Longitude *float64 `yaml:"longitude" validate:"omitempty,longitude"`
	Active    *bool    `yaml:"active"`
}

// LoadSites reads the site seed file. Sites are active unless stated otherwise.
func LoadSites(path string) ([]weather.Site, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sites file: %w", err)
	}

	var file siteFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing sites file: %w", err)
	}

	validate := validator.New()
	seen := make(map[int64]bool, len(file.Sites))
	sites := make([]weather.Site, 0, len(file.Sites))
	for i, e := range file.Sites {
		if err := validate.Struct(e); err != nil {
			return nil, fmt.Errorf("site #%d: %w", i+1, err)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("site #%d: duplicate id %d", i+1, e.ID)
		}
		seen[e.ID] = true

		active := true
		if e.Active != nil {
			active = *e.Active
		}
		sites = append(sites, weather.Site{
			ID:        e.ID,
			Name:      e.Name,
			Latitude:  e.Latitude,
			Longitude: e.Longitude,
			Active:    active,
		})
	}
	return sites, nil
}
