package sqlbundle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"odmcore/pkg/schema"
)

func TestSplitStatements(t *testing.T) {
	stmts := SplitStatements(SQLite())
	if len(stmts) != len(schema.Tables()) {
		t.Fatalf("expected one statement per table, got %d", len(stmts))
	}
	for _, stmt := range stmts {
		if strings.HasPrefix(strings.TrimSpace(stmt), "--") {
			t.Fatalf("statement unexpectedly starts with comment: %q", stmt)
		}
		if !strings.HasSuffix(strings.TrimSpace(stmt), ";") {
			t.Fatalf("statement missing semicolon terminator: %q", stmt)
		}
	}
	if got := SplitStatements("CREATE TABLE a (x TEXT);\n-- note\n\nCREATE TABLE b (y TEXT)"); len(got) != 2 {
		t.Fatalf("unterminated tail must be kept, got %q", got)
	}
}

func TestDialects(t *testing.T) {
	site := schema.MustLookup(schema.TableSite)
	lite := CreateTable(DialectSQLite, site)
	if !strings.Contains(lite, `"geoLat" REAL`) || !strings.Contains(lite, `PRIMARY KEY ("siteID")`) {
		t.Fatalf("unexpected sqlite ddl:\n%s", lite)
	}
	pg := Postgres()
	for _, want := range []string{`"dateTime" TIMESTAMPTZ`, `"accessToPublic" BOOLEAN`, `"value" DOUBLE PRECISION`, `CREATE TABLE IF NOT EXISTS "CovidPublicHealthData"`} {
		if !strings.Contains(pg, want) {
			t.Fatalf("postgres ddl missing %q", want)
		}
	}
	if Quote(`a"b`) != `"a""b"` {
		t.Fatalf("quote must double embedded quotes")
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ddl.sql" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("CREATE TABLE Site (siteID TEXT);"))
	}))
	defer srv.Close()

	ddl, err := Fetch(context.Background(), srv.Client(), srv.URL+"/ddl.sql")
	if err != nil || !strings.Contains(ddl, "CREATE TABLE Site") {
		t.Fatalf("fetch: %q %v", ddl, err)
	}
	if _, err := Fetch(context.Background(), srv.Client(), srv.URL+"/missing.sql"); !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch on 404, got %v", err)
	}
	if _, err := Fetch(context.Background(), nil, "http://127.0.0.1:0/x"); !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch on dial failure, got %v", err)
	}
}
