package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sony/gobreaker"

	"github.com/i474232898/garden-weather/internal/logger"
	"github.com/i474232898/garden-weather/internal/weather"
)

const openWeatherBaseURL = "https://api.openweathermap.org/data/3.0/onecall"

// OpenWeatherProvider implements weather.Provider against the One Call API.
// It is the primary provider and the only one that retries.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	log     *logger.Logger
}

func NewOpenWeatherProvider(opts Options) *OpenWeatherProvider {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = openWeatherBaseURL
	}
	return &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  opts.APIKey,
		baseURL: baseURL,
		httpCfg: opts.httpConfig(),
		circuit: newCircuitBreaker("openweather"),
		log:     opts.logger(),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

type owmCondition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type owmVolume struct {
	OneH *float64 `json:"1h"`
}

type owmPoint struct {
	Dt         epoch          `json:"dt"`
	Temp       float64        `json:"temp"`
	FeelsLike  float64        `json:"feels_like"`
	Pressure   float64        `json:"pressure"`
	Humidity   float64        `json:"humidity"`
	DewPoint   float64        `json:"dew_point"`
	UVI        float64        `json:"uvi"`
	Clouds     float64        `json:"clouds"`
	Visibility float64        `json:"visibility"`
	WindSpeed  float64        `json:"wind_speed"`
	WindDeg    float64        `json:"wind_deg"`
	WindGust   *float64       `json:"wind_gust"`
	Pop        float64        `json:"pop"`
	Rain       *owmVolume     `json:"rain"`
	Snow       *owmVolume     `json:"snow"`
	Weather    []owmCondition `json:"weather"`
}

type owmDaily struct {
	Dt   epoch `json:"dt"`
	Temp struct {
		Day   float64 `json:"day"`
		Min   float64 `json:"min"`
		Max   float64 `json:"max"`
		Night float64 `json:"night"`
	} `json:"temp"`
	FeelsLike struct {
		Day float64 `json:"day"`
	} `json:"feels_like"`
	Pressure  float64        `json:"pressure"`
	Humidity  float64        `json:"humidity"`
	UVI       float64        `json:"uvi"`
	Clouds    float64        `json:"clouds"`
	WindSpeed float64        `json:"wind_speed"`
	WindDeg   float64        `json:"wind_deg"`
	WindGust  *float64       `json:"wind_gust"`
	Pop       float64        `json:"pop"`
	Rain      *float64       `json:"rain"`
	Snow      *float64       `json:"snow"`
	Weather   []owmCondition `json:"weather"`
}

type oneCallResponse struct {
	TimezoneOffset int        `json:"timezone_offset"`
	Current        owmPoint   `json:"current"`
	Hourly         []owmPoint `json:"hourly"`
	Daily          []owmDaily `json:"daily"`
}

func (p *OpenWeatherProvider) Fetch(ctx context.Context, lat, lon float64) (weather.Envelope, error) {
	if p.apiKey == "" {
		return weather.Envelope{}, fetchError(p.name, 0, errMissingAPIKey)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
		values.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
		values.Set("appid", p.apiKey)
		values.Set("units", "metric")
		values.Set("exclude", "minutely,alerts")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, attempts, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, p.log, buildRequest)
	if err != nil {
		return weather.Envelope{}, fetchError(p.name, attempts, err)
	}
	defer resp.Body.Close()

	var payload oneCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Envelope{}, fetchError(p.name, attempts, fmt.Errorf("decode one call response: %w", err))
	}

	return p.toEnvelope(payload), nil
}

func (p *OpenWeatherProvider) toEnvelope(payload oneCallResponse) weather.Envelope {
	env := weather.Envelope{Provider: p.name}

	env.Current = weather.Observation{Conditions: p.conditions(payload.Current)}
	if ts, ok := payload.Current.Dt.Time(); ok {
		env.Current.ObservedAt = ts
	}

	for _, h := range payload.Hourly {
		ts, ok := h.Dt.Time()
		if !ok {
			p.log.Warning("dropping hourly point without timestamp", map[string]any{"provider": p.name})
			continue
		}
		env.Hourly = append(env.Hourly, weather.HourlyForecast{
			ForecastFor: ts,
			Pop:         h.Pop,
			Conditions:  p.conditions(h),
		})
	}

	for _, d := range payload.Daily {
		ts, ok := d.Dt.Time()
		if !ok {
			p.log.Warning("dropping daily point without timestamp", map[string]any{"provider": p.name})
			continue
		}
		cond := firstCondition(d.Weather)
		env.Daily = append(env.Daily, weather.DailyForecast{
			ForecastFor:  weather.LocalDay(ts, payload.TimezoneOffset),
			TempDay:      d.Temp.Day,
			TempMin:      d.Temp.Min,
			TempMax:      d.Temp.Max,
			TempNight:    d.Temp.Night,
			FeelsLikeDay: d.FeelsLike.Day,
			Pressure:     d.Pressure,
			Humidity:     d.Humidity,
			Clouds:       d.Clouds,
			UVIndex:      d.UVI,
			Pop:          d.Pop,
			Rain:         d.Rain,
			Snow:         d.Snow,
			WindSpeed:    d.WindSpeed,
			WindDeg:      d.WindDeg,
			WindGust:     d.WindGust,
			Main:         categorize(p.log, p.name, cond.ID),
			Description:  cond.Description,
			Icon:         cond.Icon,
		})
	}

	return env
}

func (p *OpenWeatherProvider) conditions(pt owmPoint) weather.Conditions {
	cond := firstCondition(pt.Weather)
	c := weather.Conditions{
		Temperature: pt.Temp,
		FeelsLike:   pt.FeelsLike,
		DewPoint:    pt.DewPoint,
		Pressure:    pt.Pressure,
		Humidity:    pt.Humidity,
		Clouds:      pt.Clouds,
		Visibility:  pt.Visibility,
		UVIndex:     pt.UVI,
		WindSpeed:   pt.WindSpeed,
		WindDeg:     pt.WindDeg,
		WindGust:    pt.WindGust,
		Main:        categorize(p.log, p.name, cond.ID),
		Description: cond.Description,
		Icon:        cond.Icon,
	}
	if pt.Rain != nil {
		c.Rain1h = pt.Rain.OneH
	}
	if pt.Snow != nil {
		c.Snow1h = pt.Snow.OneH
	}
	return c
}

// firstCondition returns the primary weather entry. A missing array yields
// code 0, which canonicalizes to Clear with a warning.
func firstCondition(items []owmCondition) owmCondition {
	if len(items) == 0 {
		return owmCondition{}
	}
	return items[0]
}
