package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"odmcore/internal/consolidate"
	"odmcore/internal/core"
	"odmcore/pkg/frame"
	"odmcore/pkg/schema"
	fixtures "odmcore/testutil"
)

func date(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func TestLastSunday(t *testing.T) {
	cases := []struct {
		in, want time.Time
	}{
		{date(2021, 1, 1), date(2020, 12, 27)},
		{date(2021, 1, 3), date(2021, 1, 3)},
		{time.Date(2021, 1, 9, 23, 59, 0, 0, time.UTC), date(2021, 1, 3)},
		{time.Time{}, date(2019, 12, 29)},
	}
	for _, tc := range cases {
		if got := LastSunday(tc.in); !got.Equal(tc.want) {
			t.Fatalf("LastSunday(%v): want %v got %v", tc.in, tc.want, got)
		}
	}
}

func TestWeeklyRange(t *testing.T) {
	weeks := WeeklyRange(date(2021, 1, 1), date(2021, 1, 17))
	want := []time.Time{date(2020, 12, 27), date(2021, 1, 3), date(2021, 1, 10), date(2021, 1, 17)}
	if diff := cmp.Diff(want, weeks); diff != "" {
		t.Fatalf("weeks mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyMonotonic(t *testing.T) {
	start := date(2021, 1, 3)
	weekly := map[time.Time]float64{}
	for i := 0; i < 5; i++ {
		weekly[start.AddDate(0, 0, 7*i)] = float64(i + 1)
	}
	got := Classify(weekly, start, start.AddDate(0, 0, 35))
	want := map[string]string{
		"2021-01-03": "1",
		"2021-01-10": "2",
		"2021-01-17": "3",
		"2021-01-24": "4",
		"2021-01-31": "5",
		"2021-02-07": "0",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("classification mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyFewerWeeksThanLevels(t *testing.T) {
	start := date(2021, 1, 3)
	weekly := map[time.Time]float64{
		start:                   0.2,
		start.AddDate(0, 0, 7):  0.1,
		start.AddDate(0, 0, 14): 0.3,
	}
	got := Classify(weekly, start, start.AddDate(0, 0, 14))
	want := map[string]string{"2021-01-03": "2", "2021-01-10": "1", "2021-01-17": "3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("classification mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyEdgeCases(t *testing.T) {
	start := date(2021, 1, 3)
	end := start.AddDate(0, 0, 21)

	for k, v := range Classify(nil, start, end) {
		if v != "0" {
			t.Fatalf("undated site week %s got %s", k, v)
		}
	}

	single := Classify(map[time.Time]float64{start.AddDate(0, 0, 7): 3}, start, end)
	if single["2021-01-10"] != "1" || single["2021-01-03"] != "0" {
		t.Fatalf("single value: %v", single)
	}

	flat := Classify(map[time.Time]float64{start: 0, start.AddDate(0, 0, 7): 0}, start, end)
	if flat["2021-01-03"] != "1" || flat["2021-01-10"] != "1" {
		t.Fatalf("equal values fall in the first bin: %v", flat)
	}

	outside := Classify(map[time.Time]float64{date(2020, 6, 7): 9}, start, end)
	for k, v := range outside {
		if v != "0" {
			t.Fatalf("values outside the range must be ignored, %s got %s", k, v)
		}
	}
}

type sample struct {
	method string
	at     time.Time
}

func sampleRows(t *testing.T, site string, samples []sample) []frame.Row {
	t.Helper()
	f := frame.New(
		frame.Column{Name: consolidate.ColSampleID, Kind: frame.Text},
		frame.Column{Name: consolidate.ColSampleSiteID, Kind: frame.Text},
		frame.Column{Name: consolidate.ColSampleCollection, Kind: frame.Text},
		frame.Column{Name: consolidate.ColSampleDateTime, Kind: frame.Timestamp},
		frame.Column{Name: consolidate.ColSampleEnd, Kind: frame.Timestamp},
	)
	for i, s := range samples {
		var instant, end frame.Value = frame.Null(frame.Timestamp), frame.Null(frame.Timestamp)
		if s.method == "grb" {
			instant = frame.Time(s.at)
		} else {
			end = frame.Time(s.at)
		}
		if err := f.AppendRow(frame.Str(fmt.Sprintf("s%d", i)), frame.Str(site), frame.Str(s.method), instant, end); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return f.Rows()
}

func TestSelectCollectionMethod(t *testing.T) {
	var samples []sample
	for i := 0; i < 3; i++ {
		samples = append(samples, sample{"grb", date(2021, 5, 1).AddDate(0, 0, -i)})
	}
	for i := 0; i < 10; i++ {
		samples = append(samples, sample{"cpTP24h", date(2021, 4, 1).AddDate(0, 0, -i)})
	}
	rows := sampleRows(t, "qc_01", samples)
	if m, ok := SelectCollectionMethod(rows, DefaultThreshold); !ok || m != "cp" {
		t.Fatalf("expected cp, got %q %v", m, ok)
	}
	if m, _ := SelectCollectionMethod(rows, 20); m != "grb" {
		t.Fatalf("without any method meeting the threshold the latest wins, got %q", m)
	}
	if _, ok := SelectCollectionMethod(sampleRows(t, "qc_01", []sample{{"cp", time.Time{}}}), DefaultThreshold); ok {
		t.Fatalf("undated samples give no method")
	}
	tie := sampleRows(t, "qc_01", []sample{{"ps", date(2021, 2, 1)}, {"cp", date(2021, 2, 1)}})
	if m, _ := SelectCollectionMethod(tie, 0); m != "cp" {
		t.Fatalf("ties go to the later method, got %q", m)
	}
}

func TestSamplesForSiteAndWindow(t *testing.T) {
	rows := sampleRows(t, "QC_01", []sample{{"grb", date(2020, 12, 31)}, {"grb", date(2021, 1, 1)}, {"grb", date(2021, 2, 1)}})
	mine := SamplesForSite(rows, "qc_01")
	if len(mine) != 3 {
		t.Fatalf("site match must ignore case, got %d", len(mine))
	}
	in := InWindow(mine, Window{Start: DefaultStart, End: date(2021, 2, 1)})
	if len(in) != 1 {
		t.Fatalf("window is [start, end), got %d rows", len(in))
	}
}

func TestViralColumnsAndSeries(t *testing.T) {
	cols := []string{
		"WWMeasure.liquid_covN2_gcml_single_value",
		"WWMeasure.solid_covN2_gcgs_single_value",
		"WWMeasure.liquid_nPMMoV_gcml_single_value",
		"WWMeasure.liquid_covN1_gcml_single_value",
		"WWMeasure.liquid_nPMMoV_Ct_single_value",
		"SiteMeasure.envTemp_degC_single_value",
	}
	sars, pmmov := ViralColumns(cols)
	if diff := cmp.Diff([]string{cols[0], cols[1]}, sars); diff != "" {
		t.Fatalf("sars columns (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{cols[2]}, pmmov); diff != "" {
		t.Fatalf("pmmov columns (-want +got):\n%s", diff)
	}

	f := frame.New(
		frame.Column{Name: consolidate.ColSampleCollection, Kind: frame.Text},
		frame.Column{Name: consolidate.ColSampleDateTime, Kind: frame.Timestamp},
		frame.Column{Name: cols[0], Kind: frame.Numeric},
		frame.Column{Name: cols[1], Kind: frame.Numeric},
		frame.Column{Name: cols[2], Kind: frame.Numeric},
	)
	at := frame.Time(date(2021, 3, 3))
	_ = f.AppendRow(frame.Str("grb"), at, frame.Num(10), frame.Num(30), frame.Num(100))
	_ = f.AppendRow(frame.Str("grb"), at, frame.Num(10), frame.Null(frame.Numeric), frame.Num(0))
	_ = f.AppendRow(frame.Str("grb"), at, frame.Num(10), frame.Null(frame.Numeric), frame.Null(frame.Numeric))
	obs := ViralSeries(f.Rows(), f.ColumnNames())
	if len(obs) != 1 || obs[0].Ratio != 0.2 || !obs[0].At.Equal(date(2021, 3, 3)) {
		t.Fatalf("unexpected series %+v", obs)
	}
}

func TestBuildSiteLayer(t *testing.T) {
	ctx := context.Background()
	src := fixtures.Dataset(fixtures.DatasetOptions{Seed: 11, Sites: 2, Weeks: 8, Start: date(2021, 3, 1)})
	src.Add(schema.TableSite, map[string]frame.Value{"siteID": frame.Str("QC_01"), "name": frame.Str("duplicate")})
	src.Add(schema.TableSite, map[string]frame.Value{"siteID": frame.Str("mtl_99"), "geoLat": frame.Num(45.5), "geoLong": frame.Num(-73.6), "type": frame.Str("ltcf")})
	src.Add(schema.TableSite, map[string]frame.Value{"siteID": frame.Str("mtl_98"), "geoLat": frame.Num(45.5), "name": frame.Str("unmapped")})
	store := core.NewStore()
	if _, err := store.Append(ctx, src); err != nil {
		t.Fatalf("append: %v", err)
	}
	combined, err := consolidate.CombinePerSample(ctx, store.Snapshot(), consolidate.Options{})
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	window := Window{Start: date(2021, 2, 28), End: date(2021, 5, 1)}
	fc, err := BuildSiteLayer(store.Table(schema.TableSite), combined, LayerOptions{Window: window})
	if err != nil {
		t.Fatalf("layer: %v", err)
	}
	if len(fc.Features) != 4 {
		t.Fatalf("expected 4 sites, got %d", len(fc.Features))
	}
	byID := map[string]map[string]any{}
	for _, f := range fc.Features {
		byID[f.Properties["siteID"].(string)] = f.Properties
		if f.Properties["siteID"] == "mtl_98" && f.Geometry != nil {
			t.Fatalf("site without longitude must have no geometry, got %v", f.Geometry)
		}
	}
	if byID["mtl_98"]["name"] != "unmapped" {
		t.Fatalf("unexpected mtl_98 properties %v", byID["mtl_98"])
	}

	qc := byID["qc_01"]
	if qc["municipality"] != "Québec" || qc["name"] == "duplicate" {
		t.Fatalf("unexpected qc_01 properties %v", qc)
	}
	if label, ok := qc["collection_method"].(MethodLabel); !ok || label.English != "Composite" {
		t.Fatalf("expected composite label, got %v", qc["collection_method"])
	}
	colors := qc["date_color"].(map[string]string)
	if len(colors) != len(WeeklyRange(window.Start, window.End)) {
		t.Fatalf("every week in range needs a level, got %d", len(colors))
	}
	seen := map[string]bool{}
	for _, v := range colors {
		seen[v] = true
	}
	if !seen["1"] || !seen["0"] {
		t.Fatalf("expected both data and empty weeks, got %v", colors)
	}

	mtl := byID["mtl_99"]
	if mtl["collection_method"] != "" || mtl["clean_type"] != "Établissement de soins de longue durée" {
		t.Fatalf("unexpected mtl_99 properties %v", mtl)
	}
	for _, v := range mtl["date_color"].(map[string]string) {
		if v != "0" {
			t.Fatalf("site without samples must be all 0, got %v", mtl["date_color"])
		}
	}

	raw, err := json.Marshal(fc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Features []struct {
			Geometry *struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	nulls := 0
	for _, f := range decoded.Features {
		if f.Geometry == nil {
			nulls++
			continue
		}
		if f.Geometry.Coordinates[0] > 0 {
			t.Fatalf("longitude must come first, got %v", f.Geometry.Coordinates)
		}
	}
	if nulls != 1 {
		t.Fatalf("expected one null geometry, got %d", nulls)
	}
}

func TestBuildSiteLayerRejectsEmptyWindow(t *testing.T) {
	w := Window{Start: date(2021, 5, 1), End: date(2021, 1, 1)}
	if _, err := BuildSiteLayer(nil, nil, LayerOptions{Window: w}); err == nil {
		t.Fatalf("expected window error")
	}
}
