package signal

import (
	"math"
	"strings"
	"time"

	"odmcore/internal/consolidate"
	"odmcore/pkg/frame"
)

// DefaultThreshold is the sample count a collection method needs before it
// is preferred over methods with fewer samples.
const DefaultThreshold = 7

// CollectionMethods are the collection method codes a series can be plotted
// for, in selection order.
var CollectionMethods = []string{"ps", "cp", "grb"}

// Window bounds the plotted period as [Start, End). A zero Start means
// DefaultStart; a zero End means now.
type Window struct {
	Start time.Time
	End   time.Time
}

// Resolve fills in the defaults of w.
func (w Window) Resolve(now time.Time) Window {
	if w.Start.IsZero() {
		w.Start = DefaultStart
	}
	if w.End.IsZero() {
		w.End = now
	}
	return w
}

// Contains reports whether t is inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// SamplesForSite returns the merged rows whose sample site matches siteID,
// ignoring case.
func SamplesForSite(rows []frame.Row, siteID string) []frame.Row {
	var out []frame.Row
	for _, r := range rows {
		if strings.EqualFold(r.Text(consolidate.ColSampleSiteID), siteID) {
			out = append(out, r)
		}
	}
	return out
}

// InWindow keeps the rows whose plot time falls inside w. Rows without a
// plot time are dropped.
func InWindow(rows []frame.Row, w Window) []frame.Row {
	var out []frame.Row
	for _, r := range rows {
		if at, ok := consolidate.PlotTime(r); ok && w.Contains(at) {
			out = append(out, r)
		}
	}
	return out
}

func ofMethod(rows []frame.Row, method string) []frame.Row {
	var out []frame.Row
	for _, r := range rows {
		if strings.Contains(strings.ToLower(r.Text(consolidate.ColSampleCollection)), method) {
			out = append(out, r)
		}
	}
	return out
}

// MethodStats summarizes the samples of one collection method.
type MethodStats struct {
	Method string
	Count  int
	Latest time.Time
}

// Stats counts the samples of every collection method and finds each
// method's latest plot time.
func Stats(rows []frame.Row) []MethodStats {
	out := make([]MethodStats, len(CollectionMethods))
	for i, m := range CollectionMethods {
		st := MethodStats{Method: m}
		for _, r := range ofMethod(rows, m) {
			st.Count++
			if at, ok := consolidate.PlotTime(r); ok && at.After(st.Latest) {
				st.Latest = at
			}
		}
		out[i] = st
	}
	return out
}

// SelectCollectionMethod picks the method whose series is plotted: among
// methods with at least one dated sample, the one with the most recent
// sample, restricted to methods holding threshold samples or more unless
// none does. Ties go to the later method in CollectionMethods.
func SelectCollectionMethod(rows []frame.Row, threshold int) (string, bool) {
	stats := Stats(rows)
	var dated []MethodStats
	for _, st := range stats {
		if !st.Latest.IsZero() {
			dated = append(dated, st)
		}
	}
	meets := false
	for _, st := range dated {
		if st.Count >= threshold {
			meets = true
			break
		}
	}
	best := -1
	for i, st := range dated {
		if meets && st.Count < threshold {
			continue
		}
		if best < 0 || !st.Latest.Before(dated[best].Latest) {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return dated[best].Method, true
}

// ViralColumns splits the merged table's viral measurement columns into
// SARS-CoV-2 and PMMoV columns. A column qualifies when it is a WWMeasure
// column naming covN2 or nPMMoV in gene copies and its pivoted name has the
// five fraction_type_unit_aggregation_feature parts.
func ViralColumns(columns []string) (sars, pmmov []string) {
	for _, c := range columns {
		l := strings.ToLower(c)
		if !strings.Contains(l, "wwmeasure") || !strings.Contains(l, "gc") ||
			!(strings.Contains(l, "covn2") || strings.Contains(l, "npmmov")) {
			continue
		}
		parts := strings.Split(l, "_")
		if len(parts) != 5 {
			continue
		}
		switch virus := parts[1]; {
		case strings.Contains(virus, "cov"):
			sars = append(sars, c)
		case strings.Contains(virus, "pmmov"):
			pmmov = append(pmmov, c)
		}
	}
	return sars, pmmov
}

func rowMean(r frame.Row, cols []string) (float64, bool) {
	var sum float64
	var n int
	for _, c := range cols {
		if v, ok := r.Get(c).Float(); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// ViralSeries computes the SARS-CoV-2 over PMMoV ratio of every row.
// Rows where either mean is missing or the ratio is not finite are dropped.
func ViralSeries(rows []frame.Row, columns []string) []Observation {
	sarsCols, pmmovCols := ViralColumns(columns)
	var out []Observation
	for _, r := range rows {
		sars, ok := rowMean(r, sarsCols)
		if !ok {
			continue
		}
		pmmov, ok := rowMean(r, pmmovCols)
		if !ok {
			continue
		}
		ratio := sars / pmmov
		if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
			continue
		}
		at, _ := consolidate.PlotTime(r)
		out = append(out, Observation{At: at, Ratio: ratio})
	}
	return out
}
