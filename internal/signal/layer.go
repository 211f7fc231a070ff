package signal

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"odmcore/internal/consolidate"
	"odmcore/internal/geo"
	"odmcore/pkg/frame"
)

var siteTypes = map[string]string{
	"wwtpmuc": "Station de traitement des eaux usées municipale pour égouts combinés",
	"pstat":   "Station de pompage",
	"ltcf":    "Établissement de soins de longue durée",
	"airpln":  "Avion",
	"corfcil": "Prison",
	"school":  "École",
	"hosptl":  "Hôpital",
	"shelter": "Refuge",
	"swgtrck": "Camion de vidange",
	"ucampus": "Campus universitaire",
	"mswrppl": "Collecteur d'égouts",
	"holdtnk": "Bassin de stockage",
	"retpond": "Bassin de rétention",
	"wwtpmus": "Station de traitement des eaux usées municipales pour égouts sanitaires seulement",
	"wwtpind": "Station de traitement des eaux usées industrielle",
	"lagoon":  "Système de lagunage pour traitement des eaux usées",
	"septtnk": "Fosse septique.",
	"river":   "Rivière",
	"lake":    "Lac",
	"estuary": "Estuaire",
	"sea":     "Mer",
	"ocean":   "Océan",
}

var municipalities = map[string]string{
	"qc":   "Québec",
	"mtl":  "Montréal",
	"lvl":  "Laval",
	"tr":   "Trois-Rivières",
	"dr":   "Drummondville",
	"vc":   "Victoriaville",
	"riki": "Rimouski",
	"rdl":  "Rivière-du-Loup",
	"stak": "Saint-Alexandre-de-Kamouraska",
	"3p":   "Trois-Pistoles",
	"mtn":  "Matane",
}

// MethodLabel is the display label of a collection method.
type MethodLabel struct {
	French  string `json:"french"`
	English string `json:"english"`
}

var methodLabels = map[string]MethodLabel{
	"cp":  {French: "Composite", English: "Composite"},
	"grb": {French: "Ponctuel", English: "Grab"},
	"ps":  {French: "Passif", English: "Passive"},
}

// CleanType returns the French label of a site type code, or "".
func CleanType(code string) string {
	return siteTypes[strings.ToLower(strings.TrimSpace(code))]
}

// Municipality derives a site's municipality from the leading segment of its
// identifier, or "".
func Municipality(siteID string) string {
	city, _, _ := strings.Cut(strings.ToLower(siteID), "_")
	return municipalities[city]
}

// LayerOptions tunes BuildSiteLayer.
type LayerOptions struct {
	Window    Window
	Threshold int
	Now       func() time.Time
	Logger    *zap.Logger
}

// SiteSignal is the classification of one site.
type SiteSignal struct {
	SiteID    string
	Method    string
	Severity  map[string]string
	NumSample int
}

// ClassifySite runs the full classification for one site over the merged
// rows: site selection, window, collection method, weekly ratio and
// binning.
func ClassifySite(rows []frame.Row, columns []string, siteID string, w Window, threshold int) SiteSignal {
	inRange := InWindow(SamplesForSite(rows, siteID), w)
	sig := SiteSignal{SiteID: siteID}
	var weekly map[time.Time]float64
	if method, ok := SelectCollectionMethod(inRange, threshold); ok {
		plotted := ofMethod(inRange, method)
		sig.Method = method
		sig.NumSample = len(plotted)
		weekly = Weekly(ViralSeries(plotted, columns))
	}
	sig.Severity = Classify(weekly, w.Start, w.End)
	return sig
}

// BuildSiteLayer renders one point feature per site carrying its weekly
// severity. Site identifiers are lower-cased and only the first row of each
// site is used. Sites without coordinates keep their properties under a
// null geometry.
func BuildSiteLayer(sites *frame.Frame, combined *consolidate.Combined, opts LayerOptions) (*geojson.FeatureCollection, error) {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	w := opts.Window.Resolve(opts.Now().UTC())
	if !w.Start.Before(w.End) {
		return nil, fmt.Errorf("signal: empty window [%s, %s)", w.Start.Format(WeekLayout), w.End.Format(WeekLayout))
	}

	var rows []frame.Row
	var columns []string
	if combined != nil && combined.Frame != nil {
		rows = uniqueSampleSites(combined.Frame.Rows())
		columns = combined.Frame.ColumnNames()
	}

	fc := geojson.NewFeatureCollection()
	if sites.Empty() {
		return fc, nil
	}
	seen := make(map[string]struct{})
	for _, site := range sites.Rows() {
		id := strings.ToLower(site.Text("siteID"))
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		sig := ClassifySite(rows, columns, id, w, opts.Threshold)
		var method any = ""
		if label, ok := methodLabels[sig.Method]; ok {
			method = label
		}
		props := map[string]any{
			"siteID":            id,
			"name":              site.Text("name"),
			"description":       site.Text("description"),
			"clean_type":        CleanType(site.Text("type")),
			"polygonID":         site.Text("polygonID"),
			"municipality":      Municipality(id),
			"collection_method": method,
			"date_color":        sig.Severity,
		}
		lat, latOK := site.Get("geoLat").Float()
		long, longOK := site.Get("geoLong").Float()
		if latOK && longOK {
			fc.Append(geo.PointFeature(lat, long, props))
		} else {
			opts.Logger.Warn("site has no coordinates", zap.String("siteID", id))
			fc.Append(geo.NullFeature(props))
		}
		opts.Logger.Debug("site classified",
			zap.String("siteID", id), zap.String("method", sig.Method), zap.Int("samples", sig.NumSample))
	}
	return fc, nil
}

// uniqueSampleSites keeps the first merged row of every (sample, site) pair.
func uniqueSampleSites(rows []frame.Row) []frame.Row {
	type key struct{ sample, site string }
	seen := make(map[key]struct{}, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		k := key{r.Text(consolidate.ColSampleID), strings.ToLower(r.Text(consolidate.ColSampleSiteID))}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}
