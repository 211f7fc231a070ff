// Package signal turns per-sample viral measurements into a weekly ordinal
// severity per site and renders sites as a GeoJSON point layer.
package signal

import (
	"math"
	"sort"
	"strconv"
	"time"
)

// Level is one ordinal severity level.
type Level struct {
	Value   int    `json:"value"`
	French  string `json:"french"`
	English string `json:"english"`
	Color   string `json:"color,omitempty"`
}

// Levels lists the severity scale; level 0 means no data.
var Levels = []Level{
	{0, "Pas de données", "No Data", ""},
	{1, "Très faible", "Very Low", "#6da06f"},
	{2, "Faible", "Low", "#b6e9d1"},
	{3, "Moyennement élevé", "Somewhat high", "#ffbb43"},
	{4, "Élevé", "High", "#ff8652"},
	{5, "Très élevé", "Very high", "#c13525"},
}

// MaxBins is the highest severity a week can receive.
var MaxBins = len(Levels) - 1

var (
	// DefaultStart opens the classification window when none is given.
	DefaultStart = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	// Epoch buckets observations that carry no timestamp.
	Epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
)

// WeekLayout formats week keys.
const WeekLayout = "2006-01-02"

// LastSunday returns midnight UTC of the Sunday on or before t. The zero
// time maps to the Sunday before Epoch.
func LastSunday(t time.Time) time.Time {
	if t.IsZero() {
		t = Epoch
	}
	t = t.UTC()
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return d.AddDate(0, 0, -int(d.Weekday()))
}

// WeeklyRange lists every Sunday from the Sunday on or before start up to
// end inclusive.
func WeeklyRange(start, end time.Time) []time.Time {
	var weeks []time.Time
	for w := LastSunday(start); !w.After(end); w = w.AddDate(0, 0, 7) {
		weeks = append(weeks, w)
	}
	return weeks
}

// Observation is one normalized viral ratio and the instant it is plotted
// at; At is zero when the sample has no usable timestamp.
type Observation struct {
	At    time.Time
	Ratio float64
}

// Weekly averages observations per Sunday bucket.
func Weekly(obs []Observation) map[time.Time]float64 {
	sums := make(map[time.Time]float64)
	counts := make(map[time.Time]int)
	for _, o := range obs {
		w := LastSunday(o.At)
		sums[w] += o.Ratio
		counts[w]++
	}
	out := make(map[time.Time]float64, len(sums))
	for w, s := range sums {
		out[w] = s / float64(counts[w])
	}
	return out
}

// Classify assigns every week between start and end a severity from "0" to
// "5", keyed by the week's Sunday as YYYY-MM-DD. Weeks without data get
// "0". The defined weekly values are cut into min(count, 5) equal width bins
// and a week's severity is its bin index; a lone value gets "1".
func Classify(weekly map[time.Time]float64, start, end time.Time) map[string]string {
	weeks := WeeklyRange(start, end)
	out := make(map[string]string, len(weeks))
	var values []float64
	for _, w := range weeks {
		out[w.Format(WeekLayout)] = "0"
		if v, ok := weekly[w]; ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return out
	}
	bins := len(values)
	if bins > MaxBins {
		bins = MaxBins
	}
	edges := binEdges(values, bins)
	for _, w := range weeks {
		v, ok := weekly[w]
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		level := 1
		if bins > 1 {
			level = binOf(edges, v)
		}
		if level > 0 {
			out[w.Format(WeekLayout)] = strconv.Itoa(level)
		}
	}
	return out
}

// binEdges returns bins+1 equal width, right-closed edges spanning values.
// The lowest edge is pulled down by 0.1% of the range so the minimum lands
// in the first bin; a zero range is widened by 0.1% on each side.
func binEdges(values []float64, bins int) []float64 {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	edges := make([]float64, bins+1)
	if lo == hi {
		pad := 0.001
		if lo != 0 {
			pad = 0.001 * math.Abs(lo)
		}
		lo, hi = lo-pad, hi+pad
		fill(edges, lo, hi)
		return edges
	}
	fill(edges, lo, hi)
	edges[0] -= (hi - lo) * 0.001
	return edges
}

func fill(edges []float64, lo, hi float64) {
	n := len(edges) - 1
	for i := range edges {
		edges[i] = lo + (hi-lo)*float64(i)/float64(n)
	}
	edges[n] = hi
}

// binOf returns the 1-based index of the (edges[i-1], edges[i]] interval
// holding v, or 0 when v is outside every interval.
func binOf(edges []float64, v float64) int {
	i := sort.SearchFloat64s(edges, v)
	if i == 0 || i >= len(edges) {
		return 0
	}
	return i
}
