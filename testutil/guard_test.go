package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDriverImport(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"modernc.org/sqlite", true},
		{"modernc.org/sqlite/lib", true},
		{"github.com/jackc/pgx/v5/stdlib", true},
		{"github.com/aws/aws-sdk-go-v2/service/s3", true},
		{"github.com/aws/aws-sdk-go-v2@v1.41.5", true},
		{"modernc.org/sqlitex", false},
		{"odmcore/pkg/frame", false},
		{"", false},
	}
	for _, c := range cases {
		if got := DriverImport(c.in); got != c.want {
			t.Fatalf("DriverImport(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestAnyOf(t *testing.T) {
	pred := AnyOf(InternalImport, DriverImport)
	cases := map[string]bool{
		"odmcore/internal/core":   true,
		"modernc.org/sqlite":      true,
		"odmcore/pkg/schema":      false,
		"github.com/paulmach/orb": false,
	}
	for in, want := range cases {
		if got := pred(in); got != want {
			t.Fatalf("AnyOf(%q)=%v want %v", in, got, want)
		}
	}
	if AnyOf()("anything") {
		t.Fatalf("empty AnyOf must match nothing")
	}
}

func writeGo(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// TestCheckDirectSkips covers test files, subdirectories and non-Go files,
// none of which are scanned.
func TestCheckDirectSkips(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "x.go", "package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}")
	writeGo(t, dir, "x_test.go", "package tmp\nimport \"modernc.org/sqlite\"\n")
	writeGo(t, dir, "notes.txt", "import \"modernc.org/sqlite\"")
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeGo(t, sub, "y.go", "package sub\nimport \"modernc.org/sqlite\"\n")
	Boundary{Reason: "drivers", Forbidden: DriverImport}.CheckDirect(t, dir)
}

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestDirectImportsReported(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "x.go", "package tmp\nimport _ \"github.com/jackc/pgx/v5/stdlib\"\n")
	found, err := directImports(dir, DriverImport)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(found) != 1 || !strings.Contains(found[0], "x.go") {
		t.Fatalf("unexpected imports %v", found)
	}
	var rec recordingFatal
	Boundary{Reason: "drivers"}.report(&rec, "direct import", found)
	if !strings.Contains(rec.msg, "github.com/jackc/pgx/v5/stdlib") || !strings.Contains(rec.msg, "drivers") {
		t.Fatalf("failure must name the import and reason, got %q", rec.msg)
	}
	if _, err := directImports(filepath.Join(dir, "missing"), DriverImport); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestCheckTransitive(t *testing.T) {
	prev := loadDeps
	t.Cleanup(func() { loadDeps = prev })
	loadDeps = func(string) ([]string, error) {
		return []string{"fmt", "odmcore/pkg/frame"}, nil
	}
	Boundary{Reason: "drivers", Forbidden: DriverImport}.CheckTransitive(t, "./...")

	var rec recordingFatal
	Boundary{Reason: "drivers"}.report(&rec, "transitive dependency", []string{"modernc.org/sqlite", "github.com/jackc/pgx/v5"})
	if !strings.HasSuffix(rec.msg, "github.com/jackc/pgx/v5\nmodernc.org/sqlite") {
		t.Fatalf("violations must be sorted, got %q", rec.msg)
	}
}
