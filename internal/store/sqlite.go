package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/i474232898/garden-weather/internal/weather"
)

// SQLiteStore persists sites, observations, forecasts and alerts.
// Instants are stored as unix seconds (UTC).
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at path and ensures the
// schema. Use ":memory:" for a throwaway database.
func Open(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: writers serialize and :memory: stays a single database.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sites (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			latitude REAL,
			longitude REAL,
			active INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS weather_observations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			site_id INTEGER NOT NULL,
			observed_at INTEGER NOT NULL,
			temp REAL NOT NULL,
			feels_like REAL NOT NULL,
			dew_point REAL NOT NULL,
			pressure REAL NOT NULL,
			humidity REAL NOT NULL,
			clouds REAL NOT NULL,
			visibility REAL NOT NULL,
			uvi REAL NOT NULL,
			wind_speed REAL NOT NULL,
			wind_deg REAL NOT NULL,
			wind_gust REAL,
			rain_1h REAL,
			snow_1h REAL,
			weather_main TEXT NOT NULL,
			weather_desc TEXT NOT NULL,
			icon_code TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_observations_site_time ON weather_observations(site_id, observed_at);

		CREATE TABLE IF NOT EXISTS hourly_forecasts (
			site_id INTEGER NOT NULL,
			forecast_for INTEGER NOT NULL,
			forecasted_at INTEGER NOT NULL,
			temp REAL NOT NULL,
			feels_like REAL NOT NULL,
			dew_point REAL NOT NULL,
			pressure REAL NOT NULL,
			humidity REAL NOT NULL,
			clouds REAL NOT NULL,
			visibility REAL NOT NULL,
			uvi REAL NOT NULL,
			wind_speed REAL NOT NULL,
			wind_deg REAL NOT NULL,
			wind_gust REAL,
			pop REAL NOT NULL,
			rain_1h REAL,
			snow_1h REAL,
			weather_main TEXT NOT NULL,
			weather_desc TEXT NOT NULL,
			icon_code TEXT NOT NULL,
			PRIMARY KEY (site_id, forecast_for)
		);

		CREATE TABLE IF NOT EXISTS daily_forecasts (
			site_id INTEGER NOT NULL,
			forecast_for INTEGER NOT NULL,
			forecasted_at INTEGER NOT NULL,
			temp_day REAL NOT NULL,
			temp_min REAL NOT NULL,
			temp_max REAL NOT NULL,
			temp_night REAL NOT NULL,
			feels_like_day REAL NOT NULL,
			pressure REAL NOT NULL,
			humidity REAL NOT NULL,
			clouds REAL NOT NULL,
			uvi REAL NOT NULL,
			pop REAL NOT NULL,
			rain REAL,
			snow REAL,
			wind_speed REAL NOT NULL,
			wind_deg REAL NOT NULL,
			wind_gust REAL,
			weather_main TEXT NOT NULL,
			weather_desc TEXT NOT NULL,
			icon_code TEXT NOT NULL,
			PRIMARY KEY (site_id, forecast_for)
		);

		CREATE TABLE IF NOT EXISTS weather_alerts (
			id TEXT PRIMARY KEY,
			site_id INTEGER NOT NULL,
			category TEXT NOT NULL,
			message TEXT NOT NULL,
			suggestion TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_one_open
			ON weather_alerts(site_id, category) WHERE status = 'open';
	`)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// UpsertSite inserts or replaces a site record.
func (s *SQLiteStore) UpsertSite(ctx context.Context, site weather.Site) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (id, name, latitude, longitude, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			active = excluded.active`,
		site.ID, site.Name, nullFloat(site.Latitude), nullFloat(site.Longitude), site.Active)
	if err != nil {
		return fmt.Errorf("upserting site %d: %w", site.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSite(ctx context.Context, id int64) (weather.Site, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, latitude, longitude, active FROM sites WHERE id = ?`, id)
	site, err := scanSite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return weather.Site{}, weather.ErrSiteNotFound
	}
	if err != nil {
		return weather.Site{}, fmt.Errorf("loading site %d: %w", id, err)
	}
	return site, nil
}

func (s *SQLiteStore) ListActiveSites(ctx context.Context) ([]weather.Site, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, latitude, longitude, active FROM sites WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing sites: %w", err)
	}
	defer rows.Close()

	var sites []weather.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning site: %w", err)
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSite(sc scanner) (weather.Site, error) {
	var (
		site     weather.Site
		lat, lon sql.NullFloat64
	)
	if err := sc.Scan(&site.ID, &site.Name, &lat, &lon, &site.Active); err != nil {
		return weather.Site{}, err
	}
	site.Latitude = floatPtr(lat)
	site.Longitude = floatPtr(lon)
	return site, nil
}

const upsertHourlySQL = `
	INSERT INTO hourly_forecasts (
		site_id, forecast_for, forecasted_at, temp, feels_like, dew_point, pressure, humidity,
		clouds, visibility, uvi, wind_speed, wind_deg, wind_gust, pop, rain_1h, snow_1h,
		weather_main, weather_desc, icon_code
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(site_id, forecast_for) DO UPDATE SET
		forecasted_at = excluded.forecasted_at,
		temp = excluded.temp,
		feels_like = excluded.feels_like,
		dew_point = excluded.dew_point,
		pressure = excluded.pressure,
		humidity = excluded.humidity,
		clouds = excluded.clouds,
		visibility = excluded.visibility,
		uvi = excluded.uvi,
		wind_speed = excluded.wind_speed,
		wind_deg = excluded.wind_deg,
		wind_gust = excluded.wind_gust,
		pop = excluded.pop,
		rain_1h = excluded.rain_1h,
		snow_1h = excluded.snow_1h,
		weather_main = excluded.weather_main,
		weather_desc = excluded.weather_desc,
		icon_code = excluded.icon_code`

const upsertDailySQL = `
	INSERT INTO daily_forecasts (
		site_id, forecast_for, forecasted_at, temp_day, temp_min, temp_max, temp_night,
		feels_like_day, pressure, humidity, clouds, uvi, pop, rain, snow, wind_speed,
		wind_deg, wind_gust, weather_main, weather_desc, icon_code
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(site_id, forecast_for) DO UPDATE SET
		forecasted_at = excluded.forecasted_at,
		temp_day = excluded.temp_day,
		temp_min = excluded.temp_min,
		temp_max = excluded.temp_max,
		temp_night = excluded.temp_night,
		feels_like_day = excluded.feels_like_day,
		pressure = excluded.pressure,
		humidity = excluded.humidity,
		clouds = excluded.clouds,
		uvi = excluded.uvi,
		pop = excluded.pop,
		rain = excluded.rain,
		snow = excluded.snow,
		wind_speed = excluded.wind_speed,
		wind_deg = excluded.wind_deg,
		wind_gust = excluded.wind_gust,
		weather_main = excluded.weather_main,
		weather_desc = excluded.weather_desc,
		icon_code = excluded.icon_code`

var errMissingForecastTime = errors.New("forecast point has no forecast time")

// SaveRefresh appends the observation and upserts every forecast bucket in
// one transaction. Hourly points are keyed by hour and daily points by UTC day.
func (s *SQLiteStore) SaveRefresh(ctx context.Context, siteID int64, env weather.Envelope) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning refresh transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	obs := env.Current
	c := obs.Conditions
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO weather_observations (
			site_id, observed_at, temp, feels_like, dew_point, pressure, humidity, clouds,
			visibility, uvi, wind_speed, wind_deg, wind_gust, rain_1h, snow_1h,
			weather_main, weather_desc, icon_code
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		siteID, obs.ObservedAt.Unix(), c.Temperature, c.FeelsLike, c.DewPoint, c.Pressure,
		c.Humidity, c.Clouds, c.Visibility, c.UVIndex, c.WindSpeed, c.WindDeg,
		nullFloat(c.WindGust), nullFloat(c.Rain1h), nullFloat(c.Snow1h),
		string(c.Main), c.Description, c.Icon,
	); err != nil {
		return fmt.Errorf("inserting observation: %w", err)
	}

	if len(env.Hourly) > 0 {
		stmt, perr := tx.PrepareContext(ctx, upsertHourlySQL)
		if perr != nil {
			err = fmt.Errorf("preparing hourly upsert: %w", perr)
			return err
		}
		defer stmt.Close()

		for _, h := range env.Hourly {
			if h.ForecastFor.IsZero() {
				err = errMissingForecastTime
				return err
			}
			hc := h.Conditions
			if _, err = stmt.ExecContext(ctx,
				siteID, weather.HourBucket(h.ForecastFor).Unix(), h.ForecastedAt.Unix(),
				hc.Temperature, hc.FeelsLike, hc.DewPoint, hc.Pressure, hc.Humidity,
				hc.Clouds, hc.Visibility, hc.UVIndex, hc.WindSpeed, hc.WindDeg,
				nullFloat(hc.WindGust), h.Pop, nullFloat(hc.Rain1h), nullFloat(hc.Snow1h),
				string(hc.Main), hc.Description, hc.Icon,
			); err != nil {
				return fmt.Errorf("upserting hourly forecast: %w", err)
			}
		}
	}

	if len(env.Daily) > 0 {
		stmt, perr := tx.PrepareContext(ctx, upsertDailySQL)
		if perr != nil {
			err = fmt.Errorf("preparing daily upsert: %w", perr)
			return err
		}
		defer stmt.Close()

		for _, d := range env.Daily {
			if d.ForecastFor.IsZero() {
				err = errMissingForecastTime
				return err
			}
			if _, err = stmt.ExecContext(ctx,
				siteID, weather.DayBucket(d.ForecastFor).Unix(), d.ForecastedAt.Unix(),
				d.TempDay, d.TempMin, d.TempMax, d.TempNight, d.FeelsLikeDay, d.Pressure,
				d.Humidity, d.Clouds, d.UVIndex, d.Pop, nullFloat(d.Rain), nullFloat(d.Snow),
				d.WindSpeed, d.WindDeg, nullFloat(d.WindGust),
				string(d.Main), d.Description, d.Icon,
			); err != nil {
				return fmt.Errorf("upserting daily forecast: %w", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing refresh: %w", err)
	}
	return nil
}

const observationColumns = `id, site_id, observed_at, temp, feels_like, dew_point, pressure,
	humidity, clouds, visibility, uvi, wind_speed, wind_deg, wind_gust, rain_1h, snow_1h,
	weather_main, weather_desc, icon_code`

func scanObservation(sc scanner) (weather.Observation, error) {
	var (
		o                weather.Observation
		observedAt       int64
		gust, rain, snow sql.NullFloat64
		main             string
	)
	c := &o.Conditions
	if err := sc.Scan(&o.ID, &o.SiteID, &observedAt, &c.Temperature, &c.FeelsLike, &c.DewPoint,
		&c.Pressure, &c.Humidity, &c.Clouds, &c.Visibility, &c.UVIndex, &c.WindSpeed, &c.WindDeg,
		&gust, &rain, &snow, &main, &c.Description, &c.Icon); err != nil {
		return weather.Observation{}, err
	}
	o.ObservedAt = time.Unix(observedAt, 0).UTC()
	c.WindGust = floatPtr(gust)
	c.Rain1h = floatPtr(rain)
	c.Snow1h = floatPtr(snow)
	c.Main = weather.Category(main)
	return o, nil
}

func (s *SQLiteStore) LatestObservation(ctx context.Context, siteID int64) (weather.Observation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+observationColumns+`
		FROM weather_observations WHERE site_id = ?
		ORDER BY observed_at DESC, id DESC LIMIT 1`, siteID)
	o, err := scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return weather.Observation{}, weather.ErrNotFound
	}
	if err != nil {
		return weather.Observation{}, fmt.Errorf("loading latest observation: %w", err)
	}
	return o, nil
}

// ObservationsBetween returns observations with from <= observed_at <= to, oldest first.
func (s *SQLiteStore) ObservationsBetween(ctx context.Context, siteID int64, from, to time.Time) ([]weather.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+observationColumns+`
		FROM weather_observations
		WHERE site_id = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at, id`, siteID, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("querying observations: %w", err)
	}
	defer rows.Close()

	var out []weather.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning observation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// HourlyFrom returns hourly buckets at or after from, ascending.
func (s *SQLiteStore) HourlyFrom(ctx context.Context, siteID int64, from time.Time) ([]weather.HourlyForecast, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT site_id, forecast_for, forecasted_at, temp, feels_like, dew_point, pressure,
			humidity, clouds, visibility, uvi, wind_speed, wind_deg, wind_gust, pop, rain_1h,
			snow_1h, weather_main, weather_desc, icon_code
		FROM hourly_forecasts
		WHERE site_id = ? AND forecast_for >= ?
		ORDER BY forecast_for`, siteID, from.Unix())
	if err != nil {
		return nil, fmt.Errorf("querying hourly forecasts: %w", err)
	}
	defer rows.Close()

	out := []weather.HourlyForecast{}
	for rows.Next() {
		var (
			h                       weather.HourlyForecast
			forecastFor, forecasted int64
			gust, rain, snow        sql.NullFloat64
			main                    string
		)
		c := &h.Conditions
		if err := rows.Scan(&h.SiteID, &forecastFor, &forecasted, &c.Temperature, &c.FeelsLike,
			&c.DewPoint, &c.Pressure, &c.Humidity, &c.Clouds, &c.Visibility, &c.UVIndex,
			&c.WindSpeed, &c.WindDeg, &gust, &h.Pop, &rain, &snow, &main, &c.Description,
			&c.Icon); err != nil {
			return nil, fmt.Errorf("scanning hourly forecast: %w", err)
		}
		h.ForecastFor = time.Unix(forecastFor, 0).UTC()
		h.ForecastedAt = time.Unix(forecasted, 0).UTC()
		c.WindGust = floatPtr(gust)
		c.Rain1h = floatPtr(rain)
		c.Snow1h = floatPtr(snow)
		c.Main = weather.Category(main)
		out = append(out, h)
	}
	return out, rows.Err()
}

// DailyFrom returns daily buckets at or after from, ascending.
func (s *SQLiteStore) DailyFrom(ctx context.Context, siteID int64, from time.Time) ([]weather.DailyForecast, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT site_id, forecast_for, forecasted_at, temp_day, temp_min, temp_max, temp_night,
			feels_like_day, pressure, humidity, clouds, uvi, pop, rain, snow, wind_speed,
			wind_deg, wind_gust, weather_main, weather_desc, icon_code
		FROM daily_forecasts
		WHERE site_id = ? AND forecast_for >= ?
		ORDER BY forecast_for`, siteID, from.Unix())
	if err != nil {
		return nil, fmt.Errorf("querying daily forecasts: %w", err)
	}
	defer rows.Close()

	out := []weather.DailyForecast{}
	for rows.Next() {
		var (
			d                       weather.DailyForecast
			forecastFor, forecasted int64
			rain, snow, gust        sql.NullFloat64
			main                    string
		)
		if err := rows.Scan(&d.SiteID, &forecastFor, &forecasted, &d.TempDay, &d.TempMin,
			&d.TempMax, &d.TempNight, &d.FeelsLikeDay, &d.Pressure, &d.Humidity, &d.Clouds,
			&d.UVIndex, &d.Pop, &rain, &snow, &d.WindSpeed, &d.WindDeg, &gust, &main,
			&d.Description, &d.Icon); err != nil {
			return nil, fmt.Errorf("scanning daily forecast: %w", err)
		}
		d.ForecastFor = time.Unix(forecastFor, 0).UTC()
		d.ForecastedAt = time.Unix(forecasted, 0).UTC()
		d.Rain = floatPtr(rain)
		d.Snow = floatPtr(snow)
		d.WindGust = floatPtr(gust)
		d.Main = weather.Category(main)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteHourlyBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, "hourly_forecasts", "forecast_for", cutoff)
}

func (s *SQLiteStore) DeleteDailyBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, "daily_forecasts", "forecast_for", cutoff)
}

func (s *SQLiteStore) DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, "weather_observations", "observed_at", cutoff)
}

func (s *SQLiteStore) deleteBefore(ctx context.Context, table, column string, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s < ?`, table, column), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", table, err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) HasOpenAlert(ctx context.Context, siteID int64, category string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM weather_alerts
		WHERE site_id = ? AND category = ? AND status = 'open'`, siteID, category).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking open alerts: %w", err)
	}
	return n > 0, nil
}

// CreateAlert inserts an alert unless an open one of the same category
// already exists for the site.
func (s *SQLiteStore) CreateAlert(ctx context.Context, a weather.Alert) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO weather_alerts (id, site_id, category, message, suggestion, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SiteID, a.Category, a.Message, a.Suggestion, string(a.Status), a.CreatedAt.Unix())
	if err != nil {
		return false, fmt.Errorf("creating alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
