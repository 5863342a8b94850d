package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/garden-weather/internal/logger"
	"github.com/i474232898/garden-weather/internal/weather"
)

const openMeteoBaseURL = "https://api.open-meteo.com/v1/forecast"

var (
	openMeteoCurrent = []string{
		"temperature_2m", "relative_humidity_2m", "apparent_temperature", "is_day",
		"rain", "snowfall", "weather_code", "cloud_cover", "pressure_msl",
		"wind_speed_10m", "wind_direction_10m", "wind_gusts_10m",
	}
	openMeteoHourly = []string{
		"temperature_2m", "relative_humidity_2m", "dew_point_2m", "apparent_temperature",
		"precipitation_probability", "rain", "snowfall", "weather_code", "pressure_msl",
		"cloud_cover", "visibility", "wind_speed_10m", "wind_direction_10m",
		"wind_gusts_10m", "uv_index", "is_day",
	}
	openMeteoDaily = []string{
		"weather_code", "temperature_2m_max", "temperature_2m_min", "apparent_temperature_max",
		"uv_index_max", "rain_sum", "snowfall_sum", "precipitation_probability_max",
		"wind_speed_10m_max", "wind_gusts_10m_max", "wind_direction_10m_dominant",
	}
)

// OpenMeteoProvider implements weather.Provider for Open-Meteo. It needs no
// API key, which makes it a convenient fallback.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	log     *logger.Logger
}

func NewOpenMeteoProvider(opts Options) *OpenMeteoProvider {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = openMeteoBaseURL
	}
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: baseURL,
		httpCfg: opts.httpConfig(),
		circuit: newCircuitBreaker("openmeteo"),
		log:     opts.logger(),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

type omResponse struct {
	UTCOffset int `json:"utc_offset_seconds"`
	Current   struct {
		Time          epoch    `json:"time"`
		Temperature   float64  `json:"temperature_2m"`
		Humidity      float64  `json:"relative_humidity_2m"`
		FeelsLike     float64  `json:"apparent_temperature"`
		IsDay         int      `json:"is_day"`
		Rain          float64  `json:"rain"`
		Snowfall      float64  `json:"snowfall"`
		WeatherCode   int      `json:"weather_code"`
		CloudCover    float64  `json:"cloud_cover"`
		Pressure      float64  `json:"pressure_msl"`
		WindSpeed     float64  `json:"wind_speed_10m"`
		WindDirection float64  `json:"wind_direction_10m"`
		WindGusts     *float64 `json:"wind_gusts_10m"`
	} `json:"current"`
	Hourly struct {
		Time          []epoch   `json:"time"`
		Temperature   []float64 `json:"temperature_2m"`
		Humidity      []float64 `json:"relative_humidity_2m"`
		DewPoint      []float64 `json:"dew_point_2m"`
		FeelsLike     []float64 `json:"apparent_temperature"`
		PrecipProb    []float64 `json:"precipitation_probability"`
		Rain          []float64 `json:"rain"`
		Snowfall      []float64 `json:"snowfall"`
		WeatherCode   []int     `json:"weather_code"`
		Pressure      []float64 `json:"pressure_msl"`
		CloudCover    []float64 `json:"cloud_cover"`
		Visibility    []float64 `json:"visibility"`
		WindSpeed     []float64 `json:"wind_speed_10m"`
		WindDirection []float64 `json:"wind_direction_10m"`
		WindGusts     []float64 `json:"wind_gusts_10m"`
		UVIndex       []float64 `json:"uv_index"`
		IsDay         []int     `json:"is_day"`
	} `json:"hourly"`
	Daily struct {
		Time          []epoch   `json:"time"`
		WeatherCode   []int     `json:"weather_code"`
		TempMax       []float64 `json:"temperature_2m_max"`
		TempMin       []float64 `json:"temperature_2m_min"`
		FeelsLikeMax  []float64 `json:"apparent_temperature_max"`
		UVIndexMax    []float64 `json:"uv_index_max"`
		RainSum       []float64 `json:"rain_sum"`
		SnowfallSum   []float64 `json:"snowfall_sum"`
		PrecipProbMax []float64 `json:"precipitation_probability_max"`
		WindSpeedMax  []float64 `json:"wind_speed_10m_max"`
		WindGustsMax  []float64 `json:"wind_gusts_10m_max"`
		WindDirection []float64 `json:"wind_direction_10m_dominant"`
	} `json:"daily"`
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, lat, lon float64) (weather.Envelope, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
		values.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
		values.Set("current", strings.Join(openMeteoCurrent, ","))
		values.Set("hourly", strings.Join(openMeteoHourly, ","))
		values.Set("daily", strings.Join(openMeteoDaily, ","))
		values.Set("timeformat", "unixtime")
		values.Set("timezone", "auto")
		values.Set("wind_speed_unit", "ms")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, attempts, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, p.log, buildRequest)
	if err != nil {
		return weather.Envelope{}, fetchError(p.name, attempts, err)
	}
	defer resp.Body.Close()

	var payload omResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Envelope{}, fetchError(p.name, attempts, fmt.Errorf("decode open-meteo response: %w", err))
	}

	return p.toEnvelope(payload), nil
}

func (p *OpenMeteoProvider) toEnvelope(payload omResponse) weather.Envelope {
	env := weather.Envelope{Provider: p.name}

	cur := payload.Current
	code := wmoToOWM(cur.WeatherCode)
	env.Current = weather.Observation{Conditions: weather.Conditions{
		Temperature: cur.Temperature,
		FeelsLike:   cur.FeelsLike,
		Pressure:    cur.Pressure,
		Humidity:    cur.Humidity,
		Clouds:      cur.CloudCover,
		WindSpeed:   cur.WindSpeed,
		WindDeg:     cur.WindDirection,
		WindGust:    cur.WindGusts,
		Main:        categorize(p.log, p.name, code),
		Description: wmoDescription(cur.WeatherCode),
		Icon:        owmIcon(code, cur.IsDay == 1),
	}}
	if cur.Rain > 0 {
		env.Current.Rain1h = floatPtr(cur.Rain)
	}
	if cur.Snowfall > 0 {
		env.Current.Snow1h = floatPtr(cur.Snowfall * 10)
	}
	if ts, ok := cur.Time.Time(); ok {
		env.Current.ObservedAt = ts
	}

	h := payload.Hourly
	middayPressure := make(map[time.Time]float64)
	for i, raw := range h.Time {
		ts, ok := raw.Time()
		if !ok {
			continue
		}
		code := wmoToOWM(intAt(h.WeatherCode, i))
		point := weather.HourlyForecast{
			ForecastFor: ts,
			Pop:         floatAt(h.PrecipProb, i) / 100,
			Conditions: weather.Conditions{
				Temperature: floatAt(h.Temperature, i),
				FeelsLike:   floatAt(h.FeelsLike, i),
				DewPoint:    floatAt(h.DewPoint, i),
				Pressure:    floatAt(h.Pressure, i),
				Humidity:    floatAt(h.Humidity, i),
				Clouds:      floatAt(h.CloudCover, i),
				Visibility:  floatAt(h.Visibility, i),
				UVIndex:     floatAt(h.UVIndex, i),
				WindSpeed:   floatAt(h.WindSpeed, i),
				WindDeg:     floatAt(h.WindDirection, i),
				WindGust:    floatPtr(floatAt(h.WindGusts, i)),
				Main:        categorize(p.log, p.name, code),
				Description: wmoDescription(intAt(h.WeatherCode, i)),
				Icon:        owmIcon(code, intAt(h.IsDay, i) == 1),
			},
		}
		if v := floatAt(h.Rain, i); v > 0 {
			point.Rain1h = floatPtr(v)
		}
		if v := floatAt(h.Snowfall, i); v > 0 {
			point.Snow1h = floatPtr(v * 10)
		}
		if ts.Add(time.Duration(payload.UTCOffset)*time.Second).Hour() == 12 {
			middayPressure[weather.LocalDay(ts, payload.UTCOffset)] = point.Pressure
		}
		env.Hourly = append(env.Hourly, point)
	}

	d := payload.Daily
	for i, raw := range d.Time {
		ts, ok := raw.Time()
		if !ok {
			continue
		}
		day := weather.LocalDay(ts, payload.UTCOffset)
		code := wmoToOWM(intAt(d.WeatherCode, i))
		point := weather.DailyForecast{
			ForecastFor:  day,
			TempDay:      (floatAt(d.TempMax, i) + floatAt(d.TempMin, i)) / 2,
			TempMin:      floatAt(d.TempMin, i),
			TempMax:      floatAt(d.TempMax, i),
			TempNight:    floatAt(d.TempMin, i),
			FeelsLikeDay: floatAt(d.FeelsLikeMax, i),
			Pressure:     middayPressure[day],
			UVIndex:      floatAt(d.UVIndexMax, i),
			Pop:          floatAt(d.PrecipProbMax, i) / 100,
			WindSpeed:    floatAt(d.WindSpeedMax, i),
			WindDeg:      floatAt(d.WindDirection, i),
			WindGust:     floatPtr(floatAt(d.WindGustsMax, i)),
			Main:         categorize(p.log, p.name, code),
			Description:  wmoDescription(intAt(d.WeatherCode, i)),
			Icon:         owmIcon(code, true),
		}
		if v := floatAt(d.RainSum, i); v > 0 {
			point.Rain = floatPtr(v)
		}
		if v := floatAt(d.SnowfallSum, i); v > 0 {
			point.Snow = floatPtr(v * 10)
		}
		env.Daily = append(env.Daily, point)
	}

	return env
}

// wmoToOWM maps WMO weather interpretation codes to OpenWeatherMap codes.
// Unknown codes return 0.
func wmoToOWM(code int) int {
	switch code {
	case 0:
		return 800
	case 1:
		return 801
	case 2:
		return 802
	case 3:
		return 804
	case 45, 48:
		return 741
	case 51:
		return 300
	case 53:
		return 301
	case 55:
		return 302
	case 56, 57, 66, 67:
		return 511
	case 61:
		return 500
	case 63:
		return 501
	case 65:
		return 502
	case 71, 77:
		return 600
	case 73:
		return 601
	case 75:
		return 602
	case 80:
		return 520
	case 81:
		return 521
	case 82:
		return 522
	case 85:
		return 620
	case 86:
		return 621
	case 95:
		return 211
	case 96:
		return 201
	case 99:
		return 202
	default:
		return 0
	}
}

var wmoDescriptions = map[int]string{
	0: "clear sky", 1: "mainly clear", 2: "partly cloudy", 3: "overcast",
	45: "fog", 48: "depositing rime fog",
	51: "light drizzle", 53: "moderate drizzle", 55: "dense drizzle",
	56: "light freezing drizzle", 57: "dense freezing drizzle",
	61: "slight rain", 63: "moderate rain", 65: "heavy rain",
	66: "light freezing rain", 67: "heavy freezing rain",
	71: "slight snow fall", 73: "moderate snow fall", 75: "heavy snow fall", 77: "snow grains",
	80: "slight rain showers", 81: "moderate rain showers", 82: "violent rain showers",
	85: "slight snow showers", 86: "heavy snow showers",
	95: "thunderstorm", 96: "thunderstorm with slight hail", 99: "thunderstorm with heavy hail",
}

func wmoDescription(code int) string {
	return wmoDescriptions[code]
}

// owmIcon picks the OpenWeatherMap icon for a code, e.g. 500 by day is "10d".
func owmIcon(code int, day bool) string {
	suffix := "n"
	if day {
		suffix = "d"
	}
	var prefix string
	switch {
	case code >= 200 && code < 300:
		prefix = "11"
	case code >= 300 && code < 400, code >= 520 && code < 600:
		prefix = "09"
	case code == 511, code >= 600 && code < 700:
		prefix = "13"
	case code >= 500 && code < 600:
		prefix = "10"
	case code >= 700 && code < 800:
		prefix = "50"
	case code == 801:
		prefix = "02"
	case code == 802:
		prefix = "03"
	case code == 803, code == 804:
		prefix = "04"
	default:
		prefix = "01"
	}
	return prefix + suffix
}

func floatAt(xs []float64, i int) float64 {
	if i < len(xs) {
		return xs[i]
	}
	return 0
}

func intAt(xs []int, i int) int {
	if i < len(xs) {
		return xs[i]
	}
	return 0
}
