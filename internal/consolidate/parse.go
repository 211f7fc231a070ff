package consolidate

import (
	"fmt"
	"strings"

	"odmcore/internal/core"
	"odmcore/internal/pivot"
	"odmcore/pkg/frame"
)

// Column prefixes and well-known columns of the merged per-sample table.
const (
	PrefixViral        = "WWMeasure."
	PrefixSample       = "Sample."
	PrefixSiteMeasure  = "SiteMeasure."
	PrefixSite         = "Site."
	PrefixPublicHealth = "CPHD."

	ColSampleID         = PrefixSample + "sampleID"
	ColSampleSiteID     = PrefixSample + "siteID"
	ColSampleDateTime   = PrefixSample + "dateTime"
	ColSampleStart      = PrefixSample + "dateTimeStart"
	ColSampleEnd        = PrefixSample + "dateTimeEnd"
	ColSampleCollection = PrefixSample + "collection"
	ColViralSampleID    = PrefixViral + "sampleID"
	ColSiteMeasureTime  = PrefixSiteMeasure + "dateTime"
	ColSiteID           = PrefixSite + "siteID"
	ColSiteLat          = PrefixSite + "geoLat"
	ColSiteLong         = PrefixSite + "geoLong"
	ColPolygonIDs       = "polygonIDs"
	ColHealthPolygonID  = PrefixPublicHealth + "polygonID"
	ColHealthDate       = PrefixPublicHealth + "date"
)

// PolygonSeparator joins the polygon IDs stored in ColPolygonIDs.
const PolygonSeparator = ";"

var (
	viralQualifiers       = []string{"fractionAnalyzed", "type", "unit", "aggregation"}
	siteMeasureQualifiers = []string{"type", "unit", "aggregation"}
	healthQualifiers      = []string{"type", "dateType"}
	valueFeature          = []string{"value"}
)

// stripAccess drops every access-control column.
func stripAccess(f *frame.Frame) *frame.Frame {
	return f.DropFunc(func(c frame.Column) bool {
		return strings.Contains(strings.ToLower(c.Name), "access")
	})
}

// ParseViralMeasure widens WWMeasure on its qualifiers and collapses it to one
// row per sample.
func ParseViralMeasure(f *frame.Frame) (*frame.Frame, error) {
	if f.Empty() {
		return f, nil
	}
	wide, err := pivot.Widen(stripAccess(f), valueFeature, viralQualifiers)
	if err != nil {
		return nil, fmt.Errorf("parse viral measure: %w", err)
	}
	wide = wide.Drop("index").AddPrefix(PrefixViral)
	out, err := wide.GroupBy(ColViralSampleID)
	if err != nil {
		return nil, fmt.Errorf("parse viral measure: %w", err)
	}
	return out, nil
}

// ParseSample fans out samples taken at several sites: the first listed
// site stays on the original row and every other site gets a copy of the row
// appended to the table.
func ParseSample(f *frame.Frame) (*frame.Frame, error) {
	if f.Empty() {
		return f, nil
	}
	out := f.Clone()
	for i, row := range f.Rows() {
		raw := row.Text("siteID")
		if !strings.Contains(raw, core.SiteSeparator) {
			continue
		}
		ids := core.SplitSiteIDs(raw)
		if len(ids) == 0 {
			continue
		}
		if err := out.Set(i, "siteID", frame.Str(ids[0])); err != nil {
			return nil, fmt.Errorf("parse sample: %w", err)
		}
		for _, id := range ids[1:] {
			rec := row.Record()
			rec["siteID"] = frame.Str(id)
			if err := out.AppendRecord(rec); err != nil {
				return nil, fmt.Errorf("parse sample: %w", err)
			}
		}
	}
	return out.AddPrefix(PrefixSample), nil
}

// ParseSiteMeasure widens SiteMeasure and collapses it to one row per
// timestamp.
func ParseSiteMeasure(f *frame.Frame) (*frame.Frame, error) {
	if f.Empty() {
		return f, nil
	}
	wide, err := pivot.Widen(stripAccess(f), valueFeature, siteMeasureQualifiers)
	if err != nil {
		return nil, fmt.Errorf("parse site measure: %w", err)
	}
	grouped, err := wide.GroupBy("dateTime")
	if err != nil {
		return nil, fmt.Errorf("parse site measure: %w", err)
	}
	return grouped.AddPrefix(PrefixSiteMeasure), nil
}

// ParseSite namespaces the Site table.
func ParseSite(f *frame.Frame) *frame.Frame {
	if f.Empty() {
		return f
	}
	return f.AddPrefix(PrefixSite)
}

// ParsePublicHealth widens public health data on its type and date type,
// keeping the polygon and date columns it is joined on.
func ParsePublicHealth(f *frame.Frame) (*frame.Frame, error) {
	if f.Empty() {
		return f, nil
	}
	wide, err := pivot.Widen(stripAccess(f), valueFeature, healthQualifiers)
	if err != nil {
		return nil, fmt.Errorf("parse public health: %w", err)
	}
	return wide.AddPrefix(PrefixPublicHealth), nil
}
