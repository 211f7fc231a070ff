// Package consolidate merges the canonical ODM tables into a single
// denormalized table holding one row per (sample, site).
package consolidate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"odmcore/internal/core"
	"odmcore/internal/geo"
	"odmcore/pkg/frame"
	"odmcore/pkg/schema"
)

// Options tunes CombinePerSample.
type Options struct {
	// PointOrder maps site coordinates onto polygon coordinates.
	PointOrder geo.AxisOrder
	// PublicHealth enables the public health join by polygon and day.
	PublicHealth bool
	Logger       *zap.Logger
	Metrics      core.MetricsRecorder
}

func (o Options) withDefaults() Options {
	if o.PointOrder == "" {
		o.PointOrder = geo.LatLong
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Combined is the merged per-sample table. Index names the column rows are
// keyed by; it is empty when the inputs carried no samples.
type Combined struct {
	Frame *frame.Frame
	Index string
}

// Len returns the number of merged rows.
func (c *Combined) Len() int { return c.Frame.Len() }

// Lookup returns the rows keyed by key.
func (c *Combined) Lookup(key string) []frame.Row {
	if c.Index == "" {
		return nil
	}
	var out []frame.Row
	for _, r := range c.Frame.Rows() {
		if r.Text(c.Index) == key {
			out = append(out, r)
		}
	}
	return out
}

// CombinePerSample joins viral measures, site measures, sites, polygons and
// optionally public health data onto the sample table.
func CombinePerSample(ctx context.Context, src core.Source, opts Options) (out *Combined, err error) {
	opts = opts.withDefaults()
	start := time.Now()
	if opts.Metrics != nil {
		defer func() {
			opts.Metrics.Observe(ctx, "combine_per_sample", err == nil, time.Since(start))
		}()
	}
	log := opts.Logger

	viral, err := ParseViralMeasure(src.Table(schema.TableViralMeasure))
	if err != nil {
		return nil, err
	}
	samples, err := ParseSample(src.Table(schema.TableSample))
	if err != nil {
		return nil, err
	}
	merged, err := passThrough(samples, viral, func() (*frame.Frame, error) {
		return samples.LeftJoin(viral, ColSampleID, ColViralSampleID)
	})
	if err != nil {
		return nil, fmt.Errorf("join viral measures: %w", err)
	}
	log.Debug("joined viral measures", zap.Int("samples", samples.Len()), zap.Int("rows", merged.Len()))

	siteMeasures, err := ParseSiteMeasure(src.Table(schema.TableSiteMeasure))
	if err != nil {
		return nil, err
	}
	left := merged
	merged, err = passThrough(left, siteMeasures, func() (*frame.Frame, error) {
		return left.LeftJoinFunc(siteMeasures, withinSampleInterval)
	})
	if err != nil {
		return nil, fmt.Errorf("join site measures: %w", err)
	}
	log.Debug("joined site measures", zap.Int("rows", merged.Len()))

	sites := ParseSite(src.Table(schema.TableSite))
	left = merged
	merged, err = passThrough(left, sites, func() (*frame.Frame, error) {
		if !left.Has(ColSampleSiteID) {
			return left, nil
		}
		return left.LeftJoin(sites, ColSampleSiteID, ColSiteID)
	})
	if err != nil {
		return nil, fmt.Errorf("join sites: %w", err)
	}
	log.Debug("joined sites", zap.Int("rows", merged.Len()))

	merged, err = addPolygonIDs(merged, src.Table(schema.TablePolygon), opts)
	if err != nil {
		return nil, err
	}

	if opts.PublicHealth {
		health, err := ParsePublicHealth(src.Table(schema.TablePublicHealth))
		if err != nil {
			return nil, err
		}
		if merged, err = joinPublicHealth(merged, health); err != nil {
			return nil, fmt.Errorf("join public health: %w", err)
		}
		log.Debug("joined public health", zap.Int("rows", merged.Len()))
	}

	out = &Combined{Frame: merged.DropDuplicates()}
	if out.Frame.Has(ColSampleID) {
		out.Index = ColSampleID
	}
	log.Info("combined samples", zap.Int("rows", out.Len()), zap.Int("columns", len(out.Frame.Columns())))
	return out, nil
}

// passThrough applies the empty-side rule shared by every join: when either
// side has no rows the other side is returned unchanged.
func passThrough(left, right *frame.Frame, join func() (*frame.Frame, error)) (*frame.Frame, error) {
	switch {
	case left.Empty() && right.Empty():
		if left == nil {
			return frame.New(), nil
		}
		return left, nil
	case left.Empty():
		return right, nil
	case right.Empty():
		return left, nil
	}
	return join()
}

// withinSampleInterval matches a site measure taken within the sample's
// collection interval, bounds included.
func withinSampleInterval(l, r frame.Row) bool {
	at, ok := r.Get(ColSiteMeasureTime).Time()
	if !ok {
		return false
	}
	start, ok := l.Get(ColSampleStart).Time()
	if !ok {
		return false
	}
	end, ok := l.Get(ColSampleEnd).Time()
	if !ok {
		return false
	}
	return !at.Before(start) && !at.After(end)
}

// addPolygonIDs stores, per row, the IDs of every polygon containing the
// row's site. Unparseable shapes and rows without coordinates contribute
// nothing.
func addPolygonIDs(merged, polygons *frame.Frame, opts Options) (*frame.Frame, error) {
	if merged == nil {
		merged = frame.New()
	}
	out := merged.Clone()
	if err := out.AddColumn(frame.Column{Name: ColPolygonIDs, Kind: frame.Text}); err != nil {
		return nil, fmt.Errorf("polygon ids: %w", err)
	}
	var regions []geo.Region
	if !polygons.Empty() {
		ids := make([]string, 0, polygons.Len())
		shapes := make([]string, 0, polygons.Len())
		for _, r := range polygons.Rows() {
			ids = append(ids, r.Text("polygonID"))
			shapes = append(shapes, r.Text("wkt"))
		}
		var errs []error
		regions, errs = geo.Regions(ids, shapes)
		for _, e := range errs {
			opts.Logger.Warn("polygon shape ignored", zap.Error(e))
		}
	}
	for i, r := range out.Rows() {
		var found []string
		lat, latOK := r.Get(ColSiteLat).Float()
		long, longOK := r.Get(ColSiteLong).Float()
		if latOK && longOK {
			found = geo.Containing(regions, geo.Point(lat, long, opts.PointOrder))
		}
		if err := out.Set(i, ColPolygonIDs, frame.Str(strings.Join(found, PolygonSeparator))); err != nil {
			return nil, fmt.Errorf("polygon ids: %w", err)
		}
	}
	return out, nil
}

// joinPublicHealth attaches, to every row, the public health records of the
// row's polygons dated on the sample's calendar day. Several matching
// records are reduced column by column.
func joinPublicHealth(merged, health *frame.Frame) (*frame.Frame, error) {
	if merged.Empty() || health.Empty() {
		return merged, nil
	}
	out := merged.Clone()
	cols := health.Columns()
	for _, c := range cols {
		if err := out.AddColumn(c); err != nil {
			return nil, err
		}
	}
	type dayKey struct {
		polygon string
		day     string
	}
	index := make(map[dayKey][]frame.Row)
	for _, r := range health.Rows() {
		at, ok := r.Get(ColHealthDate).Time()
		if !ok {
			continue
		}
		k := dayKey{polygon: r.Text(ColHealthPolygonID), day: at.Format(time.DateOnly)}
		index[k] = append(index[k], r)
	}
	for i, r := range out.Rows() {
		at, ok := PlotTime(r)
		if !ok {
			continue
		}
		var matches []frame.Row
		for _, id := range strings.Split(r.Text(ColPolygonIDs), PolygonSeparator) {
			if id == "" {
				continue
			}
			matches = append(matches, index[dayKey{polygon: id, day: at.Format(time.DateOnly)}]...)
		}
		if len(matches) == 0 {
			continue
		}
		vals := make([]frame.Value, len(matches))
		for _, c := range cols {
			for j, m := range matches {
				vals[j] = m.Get(c.Name)
			}
			if err := out.Set(i, c.Name, frame.ReducerFor(c.Kind)(vals)); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// PlotTime is the instant a merged sample row is plotted at: the sampling
// instant for grab samples, otherwise the midpoint of the collection
// interval, or its end when only the end is known.
func PlotTime(r frame.Row) (time.Time, bool) {
	if strings.Contains(strings.ToLower(r.Text(ColSampleCollection)), "grb") {
		if at, ok := r.Get(ColSampleDateTime).Time(); ok {
			return at, true
		}
	}
	start, hasStart := r.Get(ColSampleStart).Time()
	end, hasEnd := r.Get(ColSampleEnd).Time()
	switch {
	case hasStart && hasEnd:
		return start.Add(end.Sub(start) / 2), true
	case hasEnd:
		return end, true
	}
	return time.Time{}, false
}
