package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/garden-weather/internal/common"
	"github.com/i474232898/garden-weather/internal/logger"
	"github.com/i474232898/garden-weather/internal/weather"
)

const weatherAPIBaseURL = "https://api.weatherapi.com/v1/forecast.json"

// WeatherAPIProvider implements weather.Provider for WeatherAPI.com and maps
// its payload onto the same envelope as the primary provider.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	days    int
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	log     *logger.Logger
}

func NewWeatherAPIProvider(opts Options) *WeatherAPIProvider {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = weatherAPIBaseURL
	}
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  opts.APIKey,
		baseURL: baseURL,
		days:    7,
		httpCfg: opts.httpConfig(),
		circuit: newCircuitBreaker("weatherapi"),
		log:     opts.logger(),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

type waCondition struct {
	Text string `json:"text"`
	Icon string `json:"icon"`
	Code int    `json:"code"`
}

type waPoint struct {
	Epoch       epoch       `json:"time_epoch"`
	LastUpdated epoch       `json:"last_updated_epoch"`
	TempC       float64     `json:"temp_c"`
	FeelsLikeC  float64     `json:"feelslike_c"`
	DewPointC   float64     `json:"dewpoint_c"`
	PressureMb  float64     `json:"pressure_mb"`
	Humidity    float64     `json:"humidity"`
	Cloud       float64     `json:"cloud"`
	VisKm       float64     `json:"vis_km"`
	UV          float64     `json:"uv"`
	WindKph     float64     `json:"wind_kph"`
	WindDegree  float64     `json:"wind_degree"`
	GustKph     float64     `json:"gust_kph"`
	PrecipMm    float64     `json:"precip_mm"`
	WillItSnow  int         `json:"will_it_snow"`
	ChanceRain  float64     `json:"chance_of_rain"`
	ChanceSnow  float64     `json:"chance_of_snow"`
	IsDay       int         `json:"is_day"`
	Condition   waCondition `json:"condition"`
}

type waForecastDay struct {
	DateEpoch epoch `json:"date_epoch"`
	Day       struct {
		MaxTempC      float64     `json:"maxtemp_c"`
		MinTempC      float64     `json:"mintemp_c"`
		AvgTempC      float64     `json:"avgtemp_c"`
		MaxWindKph    float64     `json:"maxwind_kph"`
		TotalPrecipMm float64     `json:"totalprecip_mm"`
		AvgHumidity   float64     `json:"avghumidity"`
		WillItSnow    int         `json:"daily_will_it_snow"`
		ChanceOfRain  float64     `json:"daily_chance_of_rain"`
		ChanceOfSnow  float64     `json:"daily_chance_of_snow"`
		UV            float64     `json:"uv"`
		Condition     waCondition `json:"condition"`
	} `json:"day"`
	Hour []waPoint `json:"hour"`
}

type waResponse struct {
	Current  waPoint `json:"current"`
	Forecast struct {
		ForecastDay []waForecastDay `json:"forecastday"`
	} `json:"forecast"`
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, lat, lon float64) (weather.Envelope, error) {
	if p.apiKey == "" {
		return weather.Envelope{}, fetchError(p.name, 0, errMissingAPIKey)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("key", p.apiKey)
		values.Set("q", fmt.Sprintf("%s,%s",
			strconv.FormatFloat(lat, 'f', -1, 64),
			strconv.FormatFloat(lon, 'f', -1, 64)))
		values.Set("days", strconv.Itoa(p.days))
		values.Set("aqi", "no")
		values.Set("alerts", "no")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, attempts, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, p.log, buildRequest)
	if err != nil {
		return weather.Envelope{}, fetchError(p.name, attempts, err)
	}
	defer resp.Body.Close()

	var payload waResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Envelope{}, fetchError(p.name, attempts, fmt.Errorf("decode forecast response: %w", err))
	}

	return p.toEnvelope(payload), nil
}

func (p *WeatherAPIProvider) toEnvelope(payload waResponse) weather.Envelope {
	env := weather.Envelope{Provider: p.name}

	env.Current = weather.Observation{Conditions: p.conditions(payload.Current)}
	if ts, ok := payload.Current.LastUpdated.Time(); ok {
		env.Current.ObservedAt = ts
	}

	for _, day := range payload.Forecast.ForecastDay {
		for _, h := range day.Hour {
			ts, ok := h.Epoch.Time()
			if !ok {
				continue
			}
			env.Hourly = append(env.Hourly, weather.HourlyForecast{
				ForecastFor: ts,
				Pop:         maxFloat(h.ChanceRain, h.ChanceSnow) / 100,
				Conditions:  p.conditions(h),
			})
		}

		ts, ok := day.DateEpoch.Time()
		if !ok {
			continue
		}
		env.Daily = append(env.Daily, p.daily(ts, day))
	}

	return env
}

func (p *WeatherAPIProvider) daily(ts time.Time, day waForecastDay) weather.DailyForecast {
	d := day.Day
	midday, hasMidday := hourAt(day.Hour, 12)
	night, hasNight := hourAt(day.Hour, 0)

	out := weather.DailyForecast{
		ForecastFor:  ts,
		TempDay:      d.AvgTempC,
		TempMin:      d.MinTempC,
		TempMax:      d.MaxTempC,
		TempNight:    d.MinTempC,
		FeelsLikeDay: d.AvgTempC,
		Pressure:     meanPressure(day.Hour),
		Humidity:     d.AvgHumidity,
		UVIndex:      d.UV,
		Pop:          maxFloat(d.ChanceOfRain, d.ChanceOfSnow) / 100,
		WindSpeed:    kphToMS(d.MaxWindKph),
		Main:         categorize(p.log, p.name, p.owmCode(d.Condition)),
		Description:  strings.ToLower(d.Condition.Text),
		Icon:         iconCode(d.Condition.Icon, 1),
	}
	if hasMidday {
		out.FeelsLikeDay = midday.FeelsLikeC
		if midday.PressureMb > 0 {
			out.Pressure = midday.PressureMb
		}
		out.WindDeg = midday.WindDegree
		out.Clouds = midday.Cloud
	}
	if hasNight {
		out.TempNight = night.TempC
	}
	if d.TotalPrecipMm > 0 {
		if d.WillItSnow == 1 {
			out.Snow = floatPtr(d.TotalPrecipMm)
		} else {
			out.Rain = floatPtr(d.TotalPrecipMm)
		}
	}
	return out
}

func (p *WeatherAPIProvider) conditions(pt waPoint) weather.Conditions {
	c := weather.Conditions{
		Temperature: pt.TempC,
		FeelsLike:   pt.FeelsLikeC,
		DewPoint:    pt.DewPointC,
		Pressure:    pt.PressureMb,
		Humidity:    pt.Humidity,
		Clouds:      pt.Cloud,
		Visibility:  pt.VisKm * 1000,
		UVIndex:     pt.UV,
		WindSpeed:   kphToMS(pt.WindKph),
		WindDeg:     pt.WindDegree,
		WindGust:    floatPtr(kphToMS(pt.GustKph)),
		Main:        categorize(p.log, p.name, p.owmCode(pt.Condition)),
		Description: strings.ToLower(pt.Condition.Text),
		Icon:        iconCode(pt.Condition.Icon, pt.IsDay),
	}
	if pt.PrecipMm > 0 {
		if pt.WillItSnow == 1 {
			c.Snow1h = floatPtr(pt.PrecipMm)
		} else {
			c.Rain1h = floatPtr(pt.PrecipMm)
		}
	}
	return c
}

// owmCode translates a WeatherAPI.com condition to the equivalent
// OpenWeatherMap code, falling back to the condition text.
func (p *WeatherAPIProvider) owmCode(c waCondition) int {
	if code, ok := weatherAPICodes[c.Code]; ok {
		return code
	}
	return codeFromText(c.Text)
}

func codeFromText(text string) int {
	t := strings.ToLower(text)
	switch {
	case common.HasAny(t, "thunder"):
		return 200
	case common.HasAny(t, "drizzle"):
		return 300
	case common.HasAny(t, "rain"):
		return 500
	case common.HasAny(t, "snow", "blizzard", "sleet", "ice"):
		return 600
	case common.HasAny(t, "mist", "fog", "haze", "dust"):
		return 701
	case common.HasAny(t, "clear", "sunny"):
		return 800
	case common.HasAny(t, "cloud", "overcast"):
		return 803
	default:
		return 800
	}
}

var weatherAPICodes = map[int]int{
	1000: 800, 1003: 801, 1006: 802, 1009: 804,
	1030: 741, 1063: 500, 1066: 600, 1069: 612,
	1072: 511, 1087: 210, 1114: 601, 1117: 602,
	1135: 701, 1147: 741, 1150: 300, 1153: 300,
	1168: 511, 1171: 511, 1180: 500, 1183: 500,
	1186: 501, 1189: 501, 1192: 502, 1195: 502,
	1198: 511, 1201: 511, 1204: 612, 1207: 613,
	1210: 600, 1213: 600, 1216: 601, 1219: 601,
	1222: 602, 1225: 602, 1237: 611, 1240: 500,
	1243: 501, 1246: 503, 1249: 612, 1252: 613,
	1255: 620, 1258: 621, 1261: 611, 1264: 611,
	1273: 200, 1276: 201, 1279: 620, 1282: 622,
}

// Icon file numbers used by WeatherAPI.com, mapped to OpenWeatherMap icon prefixes.
var weatherAPIIcons = map[int]string{
	113: "01", 116: "02", 119: "03", 122: "04", 143: "50",
	176: "09", 179: "13", 182: "13", 185: "09", 200: "11",
	227: "13", 230: "13", 248: "50", 260: "50", 263: "09",
	266: "09", 281: "09", 284: "09", 293: "10", 296: "10",
	299: "10", 302: "10", 305: "10", 308: "10", 311: "13",
	314: "13", 317: "13", 320: "13", 323: "13", 326: "13",
	329: "13", 332: "13", 335: "13", 338: "13", 350: "13",
	353: "09", 356: "09", 359: "09", 362: "13", 365: "13",
	368: "13", 371: "13", 374: "13", 377: "13", 386: "11",
	389: "11", 392: "11", 395: "11",
}

var iconFile = regexp.MustCompile(`/(\d+)\.png$`)

// iconCode converts "//cdn.weatherapi.com/weather/64x64/day/116.png" to "02d".
func iconCode(icon string, isDay int) string {
	suffix := "n"
	if isDay == 1 {
		suffix = "d"
	}
	prefix := "01"
	if m := iconFile.FindStringSubmatch(icon); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			if p, ok := weatherAPIIcons[n]; ok {
				prefix = p
			}
		}
	}
	return prefix + suffix
}

// meanPressure averages the reported hourly pressures, zero when none are.
func meanPressure(hours []waPoint) float64 {
	var sum float64
	var n int
	for _, h := range hours {
		if h.PressureMb > 0 {
			sum += h.PressureMb
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// hourAt finds the hourly entry whose UTC hour matches.
func hourAt(hours []waPoint, hour int) (waPoint, bool) {
	for _, h := range hours {
		ts, ok := h.Epoch.Time()
		if ok && ts.Hour() == hour {
			return h, true
		}
	}
	return waPoint{}, false
}

func kphToMS(kph float64) float64 {
	return kph / 3.6
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
