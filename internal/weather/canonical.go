package weather

import "time"

// CategoryFromCode maps an OpenWeatherMap-style condition code onto the
// canonical vocabulary. Codes outside every known range map to Clear with
// ok == false so callers can log them.
func CategoryFromCode(code int) (cat Category, ok bool) {
	switch {
	case code >= 200 && code <= 299:
		return CategoryThunderstorm, true
	case code >= 300 && code <= 399:
		return CategoryDrizzle, true
	case code >= 500 && code <= 599:
		return CategoryRain, true
	case code >= 600 && code <= 699:
		return CategorySnow, true
	case code >= 700 && code <= 799:
		return CategoryAtmosphere, true
	case code == 800:
		return CategoryClear, true
	case code >= 801 && code <= 899:
		return CategoryClouds, true
	default:
		return CategoryClear, false
	}
}

// UnixToTime converts provider epoch seconds to a UTC instant. Zero and
// negative values are treated as absent.
func UnixToTime(sec int64) (time.Time, bool) {
	if sec <= 0 {
		return time.Time{}, false
	}
	return time.Unix(sec, 0).UTC(), true
}

// HourBucket is the key hourly forecasts are stored under.
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// DayBucket returns UTC midnight of t's day.
func DayBucket(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// LocalDay returns UTC midnight of the calendar date t falls on at the given
// UTC offset. Daily forecasts are keyed this way so a site's local day keeps
// its own date whatever its offset.
func LocalDay(t time.Time, offsetSeconds int) time.Time {
	return DayBucket(t.UTC().Add(time.Duration(offsetSeconds) * time.Second))
}
