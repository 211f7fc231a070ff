package core

import (
	"strings"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"odmcore/internal/geo"
	"odmcore/pkg/frame"
	"odmcore/pkg/schema"
)

// PolygonGeoJSON renders the Polygon table as a FeatureCollection. Only
// polygons whose type matches one of types (case-insensitive) are included;
// no types means every polygon. Rows without a shape are skipped, as are
// rows whose shape cannot be parsed.
func (s *Store) PolygonGeoJSON(types ...string) *geojson.FeatureCollection {
	return PolygonFeatures(s.Table(schema.TablePolygon), s.logger, types...)
}

// PolygonFeatures is PolygonGeoJSON over an arbitrary Polygon frame.
func PolygonFeatures(polygons *frame.Frame, logger *zap.Logger, types ...string) *geojson.FeatureCollection {
	if logger == nil {
		logger = zap.NewNop()
	}
	fc := geojson.NewFeatureCollection()
	if polygons.Empty() {
		return fc
	}
	wanted := make(map[string]struct{}, len(types))
	for _, t := range types {
		wanted[strings.ToLower(t)] = struct{}{}
	}
	cols := polygons.Columns()
	for i, row := range polygons.Rows() {
		if len(wanted) > 0 {
			if _, ok := wanted[strings.ToLower(row.Text("type"))]; !ok {
				continue
			}
		}
		shape := row.Text("wkt")
		if strings.TrimSpace(shape) == "" {
			continue
		}
		props := make(map[string]any, len(cols))
		for _, c := range cols {
			if strings.Contains(c.Name, "wkt") {
				continue
			}
			props[c.Name] = PropertyValue(row.Get(c.Name))
		}
		f, err := geo.ShapeFeature(shape, props)
		if err != nil {
			logger.Warn("skipping polygon with unreadable shape",
				zap.String("polygonID", row.Text("polygonID")), zap.Error(err))
			continue
		}
		f.ID = i
		fc.Append(f)
	}
	return fc
}

// PropertyValue converts a cell into a GeoJSON property value. Nulls become
// the empty string and timestamps their text form.
func PropertyValue(v frame.Value) any {
	if v.IsNull() {
		return ""
	}
	if v.Kind() == frame.Timestamp {
		return v.String()
	}
	return v.Any()
}
