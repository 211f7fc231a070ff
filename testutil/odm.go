package testutil

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"odmcore/pkg/frame"
	"odmcore/pkg/schema"
)

// Tables is an in-memory table source for tests. It satisfies the store's
// Source contract without importing it.
type Tables struct {
	Invalid bool
	Frames  map[string]*frame.Frame
}

// NewTables returns an empty, valid source.
func NewTables() *Tables {
	return &Tables{Frames: make(map[string]*frame.Frame)}
}

// Validates reports whether the source declares itself valid.
func (t *Tables) Validates() bool { return !t.Invalid }

// Table returns the named frame, or nil when none was added.
func (t *Tables) Table(name string) *frame.Frame { return t.Frames[name] }

// Add appends a record to the named canonical table, creating the table on
// first use. It panics on records that do not fit the registry, which is a
// bug in the test.
func (t *Tables) Add(table string, rec map[string]frame.Value) *Tables {
	f, ok := t.Frames[table]
	if !ok {
		f = frame.FromSchema(schema.MustLookup(table))
		t.Frames[table] = f
	}
	if err := f.AppendRecord(rec); err != nil {
		panic(fmt.Sprintf("testutil: %s: %v", table, err))
	}
	return t
}

// DatasetOptions sizes a synthetic dataset.
type DatasetOptions struct {
	Seed  int64
	Sites int
	Weeks int
	// Start is the Monday of the first sampled week.
	Start time.Time
}

// Site area used by Dataset; Square covers every generated site when
// written with latitude on the X axis.
const (
	minLat, maxLat   = 46.70, 46.90
	minLong, maxLong = -71.40, -71.10
	Square           = "POLYGON((46.5 -71.6, 47.1 -71.6, 47.1 -70.9, 46.5 -70.9, 46.5 -71.6))"
)

// Dataset generates a reproducible ODM dataset: sites inside one sewer
// catchment polygon, one 24 hour composite sample per site and week with
// SARS-CoV-2 and PMMoV measurements, and a daily flow site measure.
func Dataset(opts DatasetOptions) *Tables {
	if opts.Sites <= 0 {
		opts.Sites = 3
	}
	if opts.Weeks <= 0 {
		opts.Weeks = 8
	}
	if opts.Start.IsZero() {
		opts.Start = time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	}
	fake := gofakeit.New(opts.Seed)
	out := NewTables()
	out.Add(schema.TablePolygon, map[string]frame.Value{
		"polygonID": frame.Str("qc_swrcat_01"),
		"name":      frame.Str(fake.City()),
		"pop":       frame.Num(float64(fake.IntRange(10000, 500000))),
		"type":      frame.Str("swrCat"),
		"wkt":       frame.Str(Square),
	})
	for s := 1; s <= opts.Sites; s++ {
		siteID := fmt.Sprintf("qc_%02d", s)
		lat, _ := fake.LatitudeInRange(minLat, maxLat)
		long, _ := fake.LongitudeInRange(minLong, maxLong)
		out.Add(schema.TableSite, map[string]frame.Value{
			"siteID":      frame.Str(siteID),
			"name":        frame.Str(fake.City()),
			"description": frame.Str(fake.Sentence(4)),
			"type":        frame.Str(fake.RandomString([]string{"wwtpMuC", "pStat", "hosptl"})),
			"geoLat":      frame.Num(lat),
			"geoLong":     frame.Num(long),
			"popServed":   frame.Num(float64(fake.IntRange(1000, 100000))),
		})
		for w := 0; w < opts.Weeks; w++ {
			start := opts.Start.AddDate(0, 0, 7*w).Add(time.Duration(fake.IntRange(6, 10)) * time.Hour)
			sampleID := fmt.Sprintf("%s_cp_%s", siteID, start.Format("2006-01-02"))
			out.Add(schema.TableSample, map[string]frame.Value{
				"sampleID":      frame.Str(sampleID),
				"siteID":        frame.Str(siteID),
				"dateTimeStart": frame.Time(start),
				"dateTimeEnd":   frame.Time(start.Add(24 * time.Hour)),
				"type":          frame.Str("rawWW"),
				"collection":    frame.Str("cp"),
			})
			for _, m := range []struct {
				typ      string
				min, max float64
			}{{"covN2", 5, 80}, {"nPMMoV", 1000, 8000}} {
				out.Add(schema.TableViralMeasure, map[string]frame.Value{
					"uWwMeasureID":     frame.Str(fake.UUID()),
					"sampleID":         frame.Str(sampleID),
					"fractionAnalyzed": frame.Str("liquid"),
					"type":             frame.Str(m.typ),
					"unit":             frame.Str("gcml"),
					"aggregation":      frame.Str("single"),
					"value":            frame.Num(fake.Float64Range(m.min, m.max)),
					"accessToPublic":   frame.Flag(true),
				})
			}
			out.Add(schema.TableSiteMeasure, map[string]frame.Value{
				"uSiteMeasureID": frame.Str(fake.UUID()),
				"siteID":         frame.Str(siteID),
				"dateTime":       frame.Time(start.Add(12 * time.Hour)),
				"type":           frame.Str("envTemp"),
				"unit":           frame.Str("degC"),
				"aggregation":    frame.Str("single"),
				"value":          frame.Num(fake.Float64Range(5, 25)),
			})
		}
	}
	return out
}
