package sqlite

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"odmcore/internal/core"
	"odmcore/internal/entitymodel/sqlbundle"
	"odmcore/pkg/frame"
	"odmcore/pkg/schema"
	fixtures "odmcore/testutil"
)

func seededStore(t *testing.T) *core.Store {
	t.Helper()
	store := core.NewStore()
	if _, err := store.Append(context.Background(), fixtures.Dataset(fixtures.DatasetOptions{Seed: 5, Sites: 2, Weeks: 3})); err != nil {
		t.Fatalf("append: %v", err)
	}
	return store
}

func TestExportAndReadBack(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "odm.db")
	store := seededStore(t)

	report, err := Export(ctx, path, store.Snapshot(), Options{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if report.Rows[schema.TableSample] != 6 || report.Rows[schema.TableViralMeasure] != 12 {
		t.Fatalf("unexpected report %+v", report.Rows)
	}
	if _, ok := report.Rows[schema.TableLab]; ok {
		t.Fatalf("empty tables must be skipped")
	}

	// Exporting again replaces rows by primary key instead of duplicating.
	if _, err := Export(ctx, path, store.Snapshot(), Options{}); err != nil {
		t.Fatalf("second export: %v", err)
	}

	src, err := Read(ctx, path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	back := core.NewStore()
	if _, err := back.Append(ctx, src); err != nil {
		t.Fatalf("append read back: %v", err)
	}
	for _, name := range schema.TableNames() {
		if back.Len(name) != store.Len(name) {
			t.Fatalf("%s: want %d rows, got %d", name, store.Len(name), back.Len(name))
		}
	}
	site := back.Table(schema.TableSite)
	lat, ok := site.Row(0).Get("geoLat").Float()
	want, _ := store.Table(schema.TableSite).Row(0).Get("geoLat").Float()
	if !ok || lat != want {
		t.Fatalf("geoLat: want %v got %v", want, lat)
	}
	access, ok := back.Table(schema.TableViralMeasure).Row(0).Get("accessToPublic").Bool()
	if !ok || !access {
		t.Fatalf("flags must survive the round trip")
	}
	start, _ := back.Table(schema.TableSample).Row(0).Get("dateTimeStart").Time()
	orig, _ := store.Table(schema.TableSample).Row(0).Get("dateTimeStart").Time()
	if !start.Equal(orig) {
		t.Fatalf("timestamps: want %v got %v", orig, start)
	}
}

func TestExportFailsWithoutDDL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "odm.db")
	_, err := Export(context.Background(), path, seededStore(t).Snapshot(), Options{DDL: RemoteDDL(srv.URL)})
	if !errors.Is(err, sqlbundle.ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("no database may be created when the ddl cannot be fetched")
	}
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".tmp-*"))
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}

func TestExportReportsColumnsMissingFromDatabase(t *testing.T) {
	ddl := func(context.Context) (string, error) {
		return `CREATE TABLE "Site" ("siteID" TEXT PRIMARY KEY, "name" TEXT);`, nil
	}
	src := fixtures.NewTables()
	src.Add(schema.TableSite, map[string]frame.Value{"siteID": frame.Str("qc_01"), "name": frame.Str("Est"), "geoLat": frame.Num(46.8)})
	path := filepath.Join(t.TempDir(), "odm.db")

	report, err := Export(context.Background(), path, src, Options{DDL: ddl}, schema.TableSite)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if report.Rows[schema.TableSite] != 1 || len(report.Skipped[schema.TableSite]) == 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	src.Add(schema.TableSample, map[string]frame.Value{"sampleID": frame.Str("s1")})
	if _, err := Export(context.Background(), path, src, Options{}, schema.TableSample); err == nil {
		t.Fatalf("a table absent from the database must fail the export")
	}
	if _, err := Export(context.Background(), path, src, Options{}, "Bogus"); err == nil {
		t.Fatalf("unknown table must fail")
	}
}

func TestReadMissingDatabase(t *testing.T) {
	if _, err := Read(context.Background(), filepath.Join(t.TempDir(), "none.db")); err == nil {
		t.Fatalf("expected error for missing database")
	}
}
