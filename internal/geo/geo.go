// Package geo parses polygon shapes stored as WKT, answers point-in-polygon
// questions and assembles GeoJSON features.
package geo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// ErrEmptyShape is returned for blank WKT text.
var ErrEmptyShape = errors.New("geo: empty shape")

// AxisOrder selects how a site's coordinates map onto a point's X and Y.
type AxisOrder string

const (
	// LatLong places latitude on X. Containment against WKT drawn in
	// (longitude latitude) order only matches if the shapes are stored with
	// the same swap; kept as the default because stored data was built that way.
	LatLong AxisOrder = "latlong"
	// LongLat is the GeoJSON convention.
	LongLat AxisOrder = "longlat"
)

// ParseAxisOrder validates a configured axis order; empty means LatLong.
func ParseAxisOrder(s string) (AxisOrder, error) {
	switch AxisOrder(strings.ToLower(strings.TrimSpace(s))) {
	case "", LatLong:
		return LatLong, nil
	case LongLat:
		return LongLat, nil
	}
	return "", fmt.Errorf("geo: unknown axis order %q", s)
}

// Point builds a point from a site's latitude and longitude.
func Point(lat, long float64, order AxisOrder) orb.Point {
	if order == LongLat {
		return orb.Point{long, lat}
	}
	return orb.Point{lat, long}
}

// ParseWKT parses shape text.
func ParseWKT(s string) (orb.Geometry, error) {
	if strings.TrimSpace(s) == "" {
		return nil, ErrEmptyShape
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("geo: parse wkt: %w", err)
	}
	return g, nil
}

// Contains reports whether p lies in the interior of g. Points on a ring,
// holes included, are not contained. Only areal geometries can contain a
// point; a nil geometry contains nothing.
func Contains(g orb.Geometry, p orb.Point) bool {
	switch s := g.(type) {
	case orb.Polygon:
		return !onBoundary(s, p) && planar.PolygonContains(s, p)
	case orb.MultiPolygon:
		for _, poly := range s {
			if Contains(poly, p) {
				return true
			}
		}
	case orb.Bound:
		return Contains(s.ToPolygon(), p)
	case orb.Collection:
		for _, sub := range s {
			if Contains(sub, p) {
				return true
			}
		}
	}
	return false
}

func onBoundary(poly orb.Polygon, p orb.Point) bool {
	for _, ring := range poly {
		for i := 1; i < len(ring); i++ {
			if planar.DistanceFromSegment(ring[i-1], ring[i], p) == 0 {
				return true
			}
		}
	}
	return false
}

// Region is a parsed polygon tagged with its identifier.
type Region struct {
	ID    string
	Shape orb.Geometry
}

// Regions parses every (id, wkt) pair. Shapes that fail to parse are kept
// with a nil geometry so that they contain nothing; their errors are
// returned alongside for logging.
func Regions(ids, shapes []string) ([]Region, []error) {
	out := make([]Region, 0, len(ids))
	var errs []error
	for i, id := range ids {
		g, err := ParseWKT(shapes[i])
		if err != nil {
			errs = append(errs, fmt.Errorf("polygon %s: %w", id, err))
			g = nil
		}
		out = append(out, Region{ID: id, Shape: g})
	}
	return out, errs
}

// Containing returns the IDs of the regions that contain p, in region order.
func Containing(regions []Region, p orb.Point) []string {
	var ids []string
	for _, r := range regions {
		if r.Shape != nil && Contains(r.Shape, p) {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// PointFeature builds a GeoJSON point feature with [longitude, latitude]
// coordinates.
func PointFeature(lat, long float64, props map[string]any) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{long, lat})
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

// NullFeature builds a GeoJSON feature whose geometry encodes as null.
func NullFeature(props map[string]any) *geojson.Feature {
	f := geojson.NewFeature(nil)
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

// ShapeFeature builds a GeoJSON feature from WKT text.
func ShapeFeature(shape string, props map[string]any) (*geojson.Feature, error) {
	g, err := ParseWKT(shape)
	if err != nil {
		return nil, err
	}
	f := geojson.NewFeature(g)
	for k, v := range props {
		f.Properties[k] = v
	}
	return f, nil
}
