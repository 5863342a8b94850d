package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/garden-weather/internal/api/http"
	"github.com/i474232898/garden-weather/internal/cache"
	"github.com/i474232898/garden-weather/internal/config"
	"github.com/i474232898/garden-weather/internal/logger"
	"github.com/i474232898/garden-weather/internal/scheduler"
	"github.com/i474232898/garden-weather/internal/store"
	"github.com/i474232898/garden-weather/internal/weather"
	"github.com/i474232898/garden-weather/internal/weather/providers"
)

const appName = "garden-weather"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewZapLogger(appName, "info").Fatal("failed to load config", map[string]any{"error": err.Error()})
	}

	log := logger.NewZapLogger(appName, cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error(err)
		_ = log.Stop()
		os.Exit(1)
	}
	_ = log.Stop()
}

// run owns every resource it opens; deferred cleanup always runs before it
// returns.
func run(cfg *config.AppConfig, log *logger.Logger) error {
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database %s: %w", cfg.DatabasePath, err)
	}
	defer db.Close()

	if err := seedSites(context.Background(), db, cfg.SitesFile, log); err != nil {
		return fmt.Errorf("seeding sites: %w", err)
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := providers.NewHTTPClient(cfg.HTTPTimeout, cfg.HTTPMaxRedirects)

	primary := providers.NewOpenWeatherProvider(providers.Options{
		Client:  httpClient,
		APIKey:  cfg.OpenWeatherAPIKey,
		BaseURL: cfg.OpenWeatherBaseURL,
		Backoff: providers.BackoffConfig{
			MaxAttempts:     cfg.RetryAttempts,
			InitialInterval: cfg.RetryBaseDelay,
			MaxInterval:     providers.DefaultBackoff().MaxInterval,
		},
		Log: log,
	})
	provider := providers.NewChain(primary, fallbackProvider(cfg, httpClient, log), log)

	readCache := cache.New(cache.TTLs{
		Current: cfg.CacheTTLCurrent,
		Hourly:  cfg.CacheTTLHourly,
		Daily:   cfg.CacheTTLDaily,
	})

	service := weather.NewService(
		db,
		db,
		provider,
		readCache,
		weather.NewNotifier(db, log),
		log,
		weather.WithConcurrency(cfg.RefreshConcurrency),
		weather.WithRetentionMonths(cfg.ObservationRetentionMonths),
	)

	sched := scheduler.New(service, scheduler.Config{
		RefreshInterval: cfg.RefreshInterval,
		RefreshTimeout:  cfg.RefreshTimeout,
		SweepInterval:   cfg.SweepInterval,
		SweepCron:       cfg.SweepCron,
	}, log)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"service":  appName,
			"provider": provider.Name(),
		})
	})

	httpapi.RegisterRoutes(app, service)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", map[string]any{"port": cfg.Port})
		serveErr <- app.Listen(":" + cfg.Port)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serveErr:
		return fmt.Errorf("fiber server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	return nil
}

// fallbackProvider builds the secondary provider, or nil when none applies.
func fallbackProvider(cfg *config.AppConfig, client *http.Client, log *logger.Logger) weather.Provider {
	switch cfg.FallbackProvider {
	case config.FallbackWeatherAPI:
		if cfg.WeatherAPIKey == "" {
			log.Warning("WEATHERAPI_API_KEY not set, running without a fallback provider")
			return nil
		}
		return providers.NewWeatherAPIProvider(providers.Options{
			Client:  client,
			APIKey:  cfg.WeatherAPIKey,
			BaseURL: cfg.WeatherAPIBaseURL,
			Log:     log,
		})
	case config.FallbackOpenMeteo:
		return providers.NewOpenMeteoProvider(providers.Options{
			Client:  client,
			BaseURL: cfg.OpenMeteoBaseURL,
			Log:     log,
		})
	}
	return nil
}

func seedSites(ctx context.Context, db *store.SQLiteStore, path string, log *logger.Logger) error {
	if path == "" {
		return nil
	}
	sites, err := config.LoadSites(path)
	if err != nil {
		return err
	}
	for _, site := range sites {
		if err := db.UpsertSite(ctx, site); err != nil {
			return fmt.Errorf("seeding site %d: %w", site.ID, err)
		}
	}
	log.Info("sites seeded", map[string]any{"count": len(sites), "file": path})
	return nil
}
