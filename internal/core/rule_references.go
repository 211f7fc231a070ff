package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"odmcore/pkg/schema"
)

// SiteSeparator delimits multiple site identifiers in Sample.siteID.
const SiteSeparator = ";"

// SplitSiteIDs splits a multi-site identifier into trimmed, distinct IDs in
// first-seen order.
func SplitSiteIDs(raw string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, SiteSeparator) {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// NewSampleSiteReferenceRule warns about samples naming sites that are not
// present in the Site table.
func NewSampleSiteReferenceRule() Rule {
	return sampleSiteReferenceRule{}
}

type sampleSiteReferenceRule struct{}

func (sampleSiteReferenceRule) Name() string { return "sample_site_reference" }

func (r sampleSiteReferenceRule) Evaluate(_ context.Context, state, _ TableView) (Result, error) {
	samples := state.Table(schema.TableSample)
	sites := state.Table(schema.TableSite)
	if samples.Empty() || sites.Empty() {
		return Result{}, nil
	}
	known := make(map[string]struct{}, sites.Len())
	for _, row := range sites.Rows() {
		known[row.Text("siteID")] = struct{}{}
	}
	missing := make(map[string]struct{})
	for _, row := range samples.Rows() {
		for _, id := range SplitSiteIDs(row.Text("siteID")) {
			if _, ok := known[id]; !ok {
				missing[id] = struct{}{}
			}
		}
	}
	if len(missing) == 0 {
		return Result{}, nil
	}
	ids := make([]string, 0, len(missing))
	for id := range missing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Result{Violations: []Violation{{
		Rule:     r.Name(),
		Severity: SeverityWarn,
		Message:  fmt.Sprintf("samples reference %d unknown sites: %s", len(ids), strings.Join(ids, ", ")),
		Table:    schema.TableSample,
	}}}, nil
}

// NewSiteCoordinatesRule warns about sites whose coordinates are outside the
// valid latitude and longitude ranges.
func NewSiteCoordinatesRule() Rule {
	return siteCoordinatesRule{}
}

type siteCoordinatesRule struct{}

func (siteCoordinatesRule) Name() string { return "site_coordinates" }

func (r siteCoordinatesRule) Evaluate(_ context.Context, state, _ TableView) (Result, error) {
	res := Result{}
	sites := state.Table(schema.TableSite)
	if sites.Empty() {
		return res, nil
	}
	for _, row := range sites.Rows() {
		lat, latOK := row.Get("geoLat").Float()
		long, longOK := row.Get("geoLong").Float()
		if (latOK && (lat < -90 || lat > 90)) || (longOK && (long < -180 || long > 180)) {
			res.Violations = append(res.Violations, Violation{
				Rule:     r.Name(),
				Severity: SeverityWarn,
				Message:  fmt.Sprintf("site %s has out of range coordinates (%v, %v)", row.Text("siteID"), lat, long),
				Table:    schema.TableSite,
			})
		}
	}
	return res, nil
}
