package weather

import "time"

// Category is the canonical weather bucket every provider code is mapped into.
type Category string

const (
	CategoryThunderstorm Category = "Thunderstorm"
	CategoryDrizzle      Category = "Drizzle"
	CategoryRain         Category = "Rain"
	CategorySnow         Category = "Snow"
	CategoryAtmosphere   Category = "Atmosphere"
	CategoryClear        Category = "Clear"
	CategoryClouds       Category = "Clouds"
)

// Site is a garden whose weather is tracked. Sites without coordinates are
// never refreshed.
type Site struct {
	ID        int64    `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Latitude  *float64 `json:"latitude,omitempty" yaml:"latitude"`
	Longitude *float64 `json:"longitude,omitempty" yaml:"longitude"`
	Active    bool     `json:"active" yaml:"active"`
}

// HasCoordinates reports whether the site can be refreshed.
func (s Site) HasCoordinates() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// Conditions holds the measurement fields shared by observations and hourly points.
type Conditions struct {
	Temperature float64  `json:"temp"`
	FeelsLike   float64  `json:"feelsLike"`
	DewPoint    float64  `json:"dewPoint"`
	Pressure    float64  `json:"pressure"`
	Humidity    float64  `json:"humidity"`
	Clouds      float64  `json:"clouds"`
	Visibility  float64  `json:"visibility"`
	UVIndex     float64  `json:"uvi"`
	WindSpeed   float64  `json:"windSpeed"`
	WindDeg     float64  `json:"windDeg"`
	WindGust    *float64 `json:"windGust,omitempty"`
	Rain1h      *float64 `json:"rain1h,omitempty"`
	Snow1h      *float64 `json:"snow1h,omitempty"`
	Main        Category `json:"weatherMain"`
	Description string   `json:"weatherDesc"`
	Icon        string   `json:"iconCode"`
}

// Observation is an append-only snapshot of current conditions.
type Observation struct {
	ID         int64     `json:"id,omitempty"`
	SiteID     int64     `json:"siteId"`
	ObservedAt time.Time `json:"observedAt"`
	Conditions
}

// HourlyForecast is one hourly bucket, unique per (site, ForecastFor).
type HourlyForecast struct {
	SiteID       int64     `json:"siteId"`
	ForecastFor  time.Time `json:"forecastFor"`
	ForecastedAt time.Time `json:"forecastedAt"`
	Pop          float64   `json:"pop"`
	Conditions
}

// DailyForecast is one daily bucket, unique per (site, ForecastFor) where
// ForecastFor is UTC midnight of the day.
type DailyForecast struct {
	SiteID       int64     `json:"siteId"`
	ForecastFor  time.Time `json:"forecastFor"`
	ForecastedAt time.Time `json:"forecastedAt"`
	TempDay      float64   `json:"tempDay"`
	TempMin      float64   `json:"tempMin"`
	TempMax      float64   `json:"tempMax"`
	TempNight    float64   `json:"tempNight"`
	FeelsLikeDay float64   `json:"feelsLikeDay"`
	Pressure     float64   `json:"pressure"`
	Humidity     float64   `json:"humidity"`
	Clouds       float64   `json:"clouds"`
	UVIndex      float64   `json:"uvi"`
	Pop          float64   `json:"pop"`
	Rain         *float64  `json:"rain,omitempty"`
	Snow         *float64  `json:"snow,omitempty"`
	WindSpeed    float64   `json:"windSpeed"`
	WindDeg      float64   `json:"windDeg"`
	WindGust     *float64  `json:"windGust,omitempty"`
	Main         Category  `json:"weatherMain"`
	Description  string    `json:"weatherDesc"`
	Icon         string    `json:"iconCode"`
}

// Envelope is the provider-independent result of one fetch.
type Envelope struct {
	Provider string
	Current  Observation
	Hourly   []HourlyForecast
	Daily    []DailyForecast
}

type AlertStatus string

const (
	AlertOpen     AlertStatus = "open"
	AlertResolved AlertStatus = "resolved"
	AlertIgnored  AlertStatus = "ignored"
)

// AlertCategoryWeatherFailure marks alerts raised by failed refreshes.
const AlertCategoryWeatherFailure = "weather_failure"

type Alert struct {
	ID         string      `json:"id"`
	SiteID     int64       `json:"siteId"`
	Category   string      `json:"category"`
	Message    string      `json:"message"`
	Suggestion string      `json:"suggestion"`
	Status     AlertStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// DaySummary aggregates one UTC calendar day of observations.
type DaySummary struct {
	Date             string   `json:"date"`
	MinTemperature   float64  `json:"minTemp"`
	MaxTemperature   float64  `json:"maxTemp"`
	AvgTemperature   float64  `json:"avgTemp"`
	MinHumidity      float64  `json:"minHumidity"`
	MaxHumidity      float64  `json:"maxHumidity"`
	AvgHumidity      float64  `json:"avgHumidity"`
	DominantCategory Category `json:"dominantWeather"`
	Observations     int      `json:"observationCount"`
}

// BatchResult summarises one batch refresh run.
type BatchResult struct {
	RunID         string
	Total         int
	Succeeded     int
	Failed        int
	Skipped       int
	FailedSiteIDs []int64
}

// SweepResult reports how many rows each retention sweep removed.
type SweepResult struct {
	Hourly       int64
	Daily        int64
	Observations int64
}

type RefreshResult struct {
	Success     bool      `json:"success"`
	LastUpdated time.Time `json:"lastUpdated"`
}
