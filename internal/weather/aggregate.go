package weather

import (
	"math"
	"sort"
)

// SummarizeDays groups observations by UTC calendar day, oldest day first.
// Temperature and humidity get min, max and mean; the dominant category is the
// most frequent one, ties going to whichever appeared first that day.
func SummarizeDays(obs []Observation) []DaySummary {
	type acc struct {
		summary     DaySummary
		sumTemp     float64
		sumHumidity float64
		counts      map[Category]int
		order       []Category
	}

	byDay := make(map[string]*acc)
	var days []string

	for _, o := range obs {
		key := o.ObservedAt.UTC().Format("2006-01-02")
		a, ok := byDay[key]
		if !ok {
			a = &acc{
				summary: DaySummary{
					Date:           key,
					MinTemperature: math.Inf(1),
					MaxTemperature: math.Inf(-1),
					MinHumidity:    math.Inf(1),
					MaxHumidity:    math.Inf(-1),
				},
				counts: make(map[Category]int),
			}
			byDay[key] = a
			days = append(days, key)
		}

		a.summary.Observations++
		a.sumTemp += o.Temperature
		a.sumHumidity += o.Humidity
		a.summary.MinTemperature = math.Min(a.summary.MinTemperature, o.Temperature)
		a.summary.MaxTemperature = math.Max(a.summary.MaxTemperature, o.Temperature)
		a.summary.MinHumidity = math.Min(a.summary.MinHumidity, o.Humidity)
		a.summary.MaxHumidity = math.Max(a.summary.MaxHumidity, o.Humidity)

		if a.counts[o.Main] == 0 {
			a.order = append(a.order, o.Main)
		}
		a.counts[o.Main]++
	}

	sort.Strings(days)

	out := make([]DaySummary, 0, len(days))
	for _, key := range days {
		a := byDay[key]
		n := float64(a.summary.Observations)
		a.summary.AvgTemperature = round2(a.sumTemp / n)
		a.summary.AvgHumidity = round2(a.sumHumidity / n)

		best, bestCount := CategoryClear, 0
		for _, cat := range a.order {
			if a.counts[cat] > bestCount {
				best, bestCount = cat, a.counts[cat]
			}
		}
		a.summary.DominantCategory = best
		out = append(out, a.summary)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
