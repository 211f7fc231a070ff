package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"odmcore/pkg/frame"
	"odmcore/pkg/schema"
	fixtures "odmcore/testutil"
)

func rowTexts(f *frame.Frame) []string {
	out := make([]string, f.Len())
	for i, r := range f.Rows() {
		var s string
		for _, v := range r.Values() {
			s += v.String() + "|"
		}
		out[i] = s
	}
	return out
}

func TestAppendIdempotent(t *testing.T) {
	ctx := context.Background()
	src := fixtures.Dataset(fixtures.DatasetOptions{Seed: 7, Sites: 2, Weeks: 3})
	once := NewStore()
	if _, err := once.Append(ctx, src); err != nil {
		t.Fatalf("append: %v", err)
	}
	twice := NewStore()
	for i := 0; i < 2; i++ {
		if _, err := twice.Append(ctx, src); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	for _, name := range schema.TableNames() {
		if diff := cmp.Diff(rowTexts(once.Table(name)), rowTexts(twice.Table(name))); diff != "" {
			t.Fatalf("%s differs after second append (-once +twice):\n%s", name, diff)
		}
	}
	if once.Len(schema.TableSample) != 6 {
		t.Fatalf("expected 6 samples, got %d", once.Len(schema.TableSample))
	}
}

func TestAppendAccumulatesAndDedupes(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	a := fixtures.NewTables().
		Add(schema.TableSite, map[string]frame.Value{"siteID": frame.Str("qc_01")}).
		Add(schema.TableSite, map[string]frame.Value{"siteID": frame.Str("qc_02")})
	b := fixtures.NewTables().
		Add(schema.TableSite, map[string]frame.Value{"siteID": frame.Str("qc_02")}).
		Add(schema.TableSite, map[string]frame.Value{"siteID": frame.Str("qc_03")})
	for _, src := range []Source{a, b} {
		if _, err := store.Append(ctx, src); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got := store.Table(schema.TableSite).Values("siteID")
	want := []string{"qc_01", "qc_02", "qc_03"}
	if len(got) != len(want) {
		t.Fatalf("want %d sites, got %d", len(want), len(got))
	}
	for i, w := range want {
		if s, _ := got[i].Text(); s != w {
			t.Fatalf("site %d: want %s got %s", i, w, s)
		}
	}
	if cols := store.Table(schema.TableSite).ColumnNames(); len(cols) != len(schema.MustLookup(schema.TableSite).Fields) {
		t.Fatalf("store table must carry every registry column, got %v", cols)
	}
}

func TestAppendRejectsInvalidSourceAtomically(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	good := fixtures.NewTables().Add(schema.TableSite, map[string]frame.Value{"siteID": frame.Str("qc_01")})
	if _, err := store.Append(ctx, good); err != nil {
		t.Fatalf("append: %v", err)
	}

	invalid := fixtures.NewTables().Add(schema.TableSite, map[string]frame.Value{"siteID": frame.Str("qc_02")})
	invalid.Invalid = true
	_, err := store.Append(ctx, invalid)
	if !errors.Is(err, ErrInvalidData) {
		t.Fatalf("expected ErrInvalidData, got %v", err)
	}

	stray := frame.New(frame.Column{Name: "siteID", Kind: frame.Text}, frame.Column{Name: "colour", Kind: frame.Text})
	_ = stray.AppendRow(frame.Str("qc_03"), frame.Str("blue"))
	mixed := fixtures.NewTables().Add(schema.TableSample, map[string]frame.Value{"sampleID": frame.Str("s1")})
	mixed.Frames[schema.TableSite] = stray
	_, err = store.Append(ctx, mixed)
	var verr ValidationError
	if !errors.As(err, &verr) || verr.Table != schema.TableSite {
		t.Fatalf("expected validation error on Site, got %v", err)
	}
	if store.Len(schema.TableSite) != 1 || store.Len(schema.TableSample) != 0 {
		t.Fatalf("store mutated by rejected append")
	}
}

func TestAppendRejectsWrongKind(t *testing.T) {
	bad := frame.New(frame.Column{Name: "siteID", Kind: frame.Text}, frame.Column{Name: "geoLat", Kind: frame.Text})
	_ = bad.AppendRow(frame.Str("qc_01"), frame.Str("north"))
	src := fixtures.NewTables()
	src.Frames[schema.TableSite] = bad
	if _, err := NewStore().Append(context.Background(), src); !errors.Is(err, ErrInvalidData) {
		t.Fatalf("expected kind mismatch to be rejected, got %v", err)
	}
}

func TestLoadReplacesAndDedupes(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	first := fixtures.NewTables().Add(schema.TableLab, map[string]frame.Value{"labID": frame.Str("lab1")})
	if _, err := store.Append(ctx, first); err != nil {
		t.Fatalf("append: %v", err)
	}
	second := fixtures.NewTables().
		Add(schema.TableSite, map[string]frame.Value{"siteID": frame.Str("qc_01")}).
		Add(schema.TableSite, map[string]frame.Value{"siteID": frame.Str("qc_01")})
	if _, err := store.Load(ctx, second); err != nil {
		t.Fatalf("load: %v", err)
	}
	if store.Len(schema.TableLab) != 0 {
		t.Fatalf("load must replace every table")
	}
	if store.Len(schema.TableSite) != 1 {
		t.Fatalf("load must dedupe, got %d sites", store.Len(schema.TableSite))
	}
}

func TestWarningsDoNotBlock(t *testing.T) {
	src := fixtures.NewTables().
		Add(schema.TableSite, map[string]frame.Value{"siteID": frame.Str("qc_01"), "geoLat": frame.Num(123)}).
		Add(schema.TableSample, map[string]frame.Value{"sampleID": frame.Str("s1"), "siteID": frame.Str("qc_01;qc_09")})
	res, err := NewStore().Append(context.Background(), src)
	if err != nil {
		t.Fatalf("warnings must not block: %v", err)
	}
	rules := map[string]bool{}
	for _, v := range res.Violations {
		rules[v.Rule] = true
	}
	if !rules["sample_site_reference"] || !rules["site_coordinates"] {
		t.Fatalf("expected both warnings, got %+v", res.Violations)
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "always_block" }

func (blockingRule) Evaluate(context.Context, TableView, TableView) (Result, error) {
	return Result{Violations: []Violation{{Rule: "always_block", Severity: SeverityBlock, Message: "no", Table: schema.TableLab}}}, nil
}

func TestBlockingRuleLeavesStoreUntouched(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(blockingRule{})
	store := NewStore(WithRulesEngine(engine))
	src := fixtures.NewTables().Add(schema.TableLab, map[string]frame.Value{"labID": frame.Str("lab1")})
	res, err := store.Append(context.Background(), src)
	if !errors.Is(err, ErrInvalidData) || !res.HasBlocking() {
		t.Fatalf("expected blocking result, got %v", err)
	}
	if store.Len(schema.TableLab) != 0 {
		t.Fatalf("blocked append committed")
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	src := fixtures.NewTables().Add(schema.TableSite, map[string]frame.Value{"siteID": frame.Str("qc_01")})
	if _, err := store.Append(ctx, src); err != nil {
		t.Fatalf("append: %v", err)
	}
	snap := store.Snapshot()
	if _, err := store.Append(ctx, fixtures.NewTables().Add(schema.TableSite, map[string]frame.Value{"siteID": frame.Str("qc_02")})); err != nil {
		t.Fatalf("append: %v", err)
	}
	if snap.Table(schema.TableSite).Len() != 1 {
		t.Fatalf("snapshot must not observe later appends")
	}
	if _, err := snap.Require("Nope"); err == nil {
		t.Fatalf("expected unknown table error")
	}

	other := NewStore()
	if _, err := other.Append(ctx, snap); err != nil {
		t.Fatalf("store to store append: %v", err)
	}
	if other.Len(schema.TableSite) != 1 {
		t.Fatalf("snapshot append lost rows")
	}
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)
	store := NewStore(WithMetrics(rec))
	ctx := context.Background()
	_, _ = store.Append(ctx, fixtures.NewTables().Add(schema.TableSite, map[string]frame.Value{"siteID": frame.Str("qc_01")}))
	_, _ = store.Append(ctx, &fixtures.Tables{Invalid: true})
	if got := testutil.ToFloat64(rec.results.WithLabelValues("append", "success")); got != 1 {
		t.Fatalf("success count %v", got)
	}
	if got := testutil.ToFloat64(rec.results.WithLabelValues("append", "error")); got != 1 {
		t.Fatalf("error count %v", got)
	}
	if got := testutil.ToFloat64(rec.rows.WithLabelValues(schema.TableSite)); got != 1 {
		t.Fatalf("row gauge %v", got)
	}
	rec.Observe(ctx, "", true, time.Second)
}
