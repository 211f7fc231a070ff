// Package schema declares the canonical ODM tables: for each table the ordered
// list of allowed fields, their semantic kind and the primary key. Every
// external boundary (store append/load, CSV and relational readers) checks
// incoming columns against these descriptors.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the semantic type of a field.
type Kind string

const (
	// KindNumeric holds floating point measurements.
	KindNumeric Kind = "numeric"
	// KindText holds identifiers, categorical codes and free text.
	KindText Kind = "text"
	// KindTimestamp holds instants.
	KindTimestamp Kind = "timestamp"
	// KindBool holds flags.
	KindBool Kind = "bool"
)

// Canonical table names as used in file names and relational storage.
const (
	TableSample       = "Sample"
	TableViralMeasure = "WWMeasure"
	TableSite         = "Site"
	TableSiteMeasure  = "SiteMeasure"
	TableReporter     = "Reporter"
	TableLab          = "Lab"
	TableAssayMethod  = "AssayMethod"
	TableInstrument   = "Instrument"
	TablePolygon      = "Polygon"
	TablePublicHealth = "CovidPublicHealthData"
)

// Field describes a single column.
type Field struct {
	Name string
	Kind Kind
}

// Table describes a canonical table.
type Table struct {
	Name   string
	Fields []Field
	Key    []string
}

// FieldNames returns the field names in declaration order.
func (t Table) FieldNames() []string {
	out := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		out[i] = f.Name
	}
	return out
}

// Field returns the descriptor of the named field.
func (t Table) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Validate reports columns that are not declared for the table.
func (t Table) Validate(columns []string) error {
	var unknown []string
	for _, c := range columns {
		if _, ok := t.Field(c); !ok {
			unknown = append(unknown, c)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("table %s: unknown columns %s", t.Name, strings.Join(unknown, ", "))
}

func text(names ...string) []Field {
	out := make([]Field, len(names))
	for i, n := range names {
		out[i] = Field{Name: n, Kind: KindText}
	}
	return out
}

func fields(groups ...[]Field) []Field {
	var out []Field
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func num(name string) []Field  { return []Field{{Name: name, Kind: KindNumeric}} }
func ts(name string) []Field   { return []Field{{Name: name, Kind: KindTimestamp}} }
func flag(name string) []Field { return []Field{{Name: name, Kind: KindBool}} }

func accessFields() []Field {
	return fields(
		flag("accessToPublic"),
		flag("accessToAllOrg"),
		flag("accessToPHAC"),
		flag("accessToLocalHA"),
		flag("accessToProvHA"),
		flag("accessToOtherProv"),
		flag("accessToDetails"),
	)
}

var registry = []Table{
	{
		Name: TableSample,
		Key:  []string{"sampleID"},
		Fields: fields(
			text("sampleID", "siteID", "instrumentID", "reporterID"),
			ts("dateTime"), ts("dateTimeStart"), ts("dateTimeEnd"),
			text("type", "typeOther", "collection", "preTreatment"),
			flag("pooled"),
			text("children", "parent"),
			num("sizeL"), num("fieldSampleTempC"),
			flag("shippedOnIce"),
			num("storageTempC"),
			flag("qualityFlag"),
			text("notes"),
		),
	},
	{
		Name: TableViralMeasure,
		Key:  []string{"uWwMeasureID"},
		Fields: fields(
			text("uWwMeasureID", "wwMeasureID", "reporterID", "sampleID", "labID", "assayMethodID"),
			ts("analysisDate"), ts("reportDate"),
			text("fractionAnalyzed", "type", "typeOther", "unit", "unitOther", "aggregation", "aggregationOther", "index"),
			num("value"),
			flag("qualityFlag"),
			accessFields(),
			text("notes"),
		),
	},
	{
		Name: TableSite,
		Key:  []string{"siteID"},
		Fields: fields(
			text("siteID", "name", "description", "reporterID", "type", "typeOther", "sampleShed", "polygonID",
				"sewerNetworkFileLink", "sewerNetworkFileBLOB"),
			num("popServed"), num("geoLat"), num("geoLong"),
			text("notes"),
		),
	},
	{
		Name: TableSiteMeasure,
		Key:  []string{"uSiteMeasureID"},
		Fields: fields(
			text("uSiteMeasureID", "siteMeasureID", "siteID", "instrumentID", "reporterID"),
			ts("dateTime"),
			text("type", "typeOther", "unit", "unitOther", "aggregation", "aggregationOther"),
			num("value"),
			accessFields(),
			text("notes"),
		),
	},
	{
		Name: TableReporter,
		Key:  []string{"reporterID"},
		Fields: text("reporterID", "siteIDDefault", "labIDDefault", "contactName", "contactEmail",
			"contactPhone", "notes"),
	},
	{
		Name: TableLab,
		Key:  []string{"labID"},
		Fields: fields(
			text("labID", "assayMethodIDDefault", "laboratoryName", "contactName", "contactEmail", "contactPhone"),
			ts("labUpdateDate"),
			text("notes"),
		),
	},
	{
		Name: TableAssayMethod,
		Key:  []string{"assayMethodID"},
		Fields: fields(
			text("assayMethodID", "version"),
			num("sampleSizeL"), num("loq"), num("lod"),
			text("units", "unitsOther", "concentrationMethod", "extractionMethod", "pcrMethod",
				"qualityAssuranceQC", "inhibition", "surrogateRecovery"),
			ts("assayDate"),
			text("notes"),
		),
	},
	{
		Name:   TableInstrument,
		Key:    []string{"instrumentID"},
		Fields: text("instrumentID", "name", "model", "description", "alias", "type", "typeOther", "notes"),
	},
	{
		Name: TablePolygon,
		Key:  []string{"polygonID"},
		Fields: fields(
			text("polygonID", "name"),
			num("pop"),
			text("type", "wkt", "file", "link", "notes"),
		),
	},
	{
		Name: TablePublicHealth,
		Key:  []string{"cphdID"},
		Fields: fields(
			text("cphdID", "reporterID", "polygonID"),
			ts("date"),
			text("type", "dateType"),
			num("value"),
			accessFields(),
			text("notes"),
		),
	},
}

var byName = func() map[string]Table {
	m := make(map[string]Table, len(registry))
	for _, t := range registry {
		m[t.Name] = t
	}
	return m
}()

// Tables returns every canonical table descriptor in canonical order.
func Tables() []Table {
	out := make([]Table, len(registry))
	copy(out, registry)
	return out
}

// TableNames returns the canonical table names in canonical order.
func TableNames() []string {
	out := make([]string, len(registry))
	for i, t := range registry {
		out[i] = t.Name
	}
	return out
}

// Lookup returns the descriptor for a canonical table name.
func Lookup(name string) (Table, bool) {
	t, ok := byName[name]
	return t, ok
}

// MustLookup is Lookup for names known at compile time.
func MustLookup(name string) Table {
	t, ok := byName[name]
	if !ok {
		panic(fmt.Sprintf("schema: unknown table %q", name))
	}
	return t
}
