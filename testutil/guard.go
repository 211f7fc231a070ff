// Package testutil provides synthetic ODM fixtures and import boundary checks
// shared by package tests.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// ImportPredicate reports whether an import path is off limits.
type ImportPredicate func(path string) bool

// AnyOf matches when any predicate matches.
func AnyOf(preds ...ImportPredicate) ImportPredicate {
	return func(path string) bool {
		for _, p := range preds {
			if p(path) {
				return true
			}
		}
		return false
	}
}

// driverModules are the modules that reach databases or cloud storage.
var driverModules = []string{
	"modernc.org/sqlite",
	"github.com/jackc/pgx",
	"github.com/aws/aws-sdk-go-v2",
}

// DriverImport matches database driver and cloud SDK packages.
func DriverImport(path string) bool {
	for _, m := range driverModules {
		if path == m || strings.HasPrefix(path, m+"/") || strings.HasPrefix(path, m+"@") {
			return true
		}
	}
	return false
}

// InternalImport matches packages under an internal/ tree.
func InternalImport(path string) bool {
	return strings.Contains(path, "/internal/")
}

// Boundary names the imports a package must not reach and why.
type Boundary struct {
	Reason    string
	Forbidden ImportPredicate
}

// CheckDirect parses the non-test Go files in dir and fails t on any
// forbidden import. Build tags are ignored.
func (b Boundary) CheckDirect(t testing.TB, dir string) {
	t.Helper()
	found, err := directImports(dir, b.Forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	b.report(t, "direct import", found)
}

// CheckTransitive loads pattern with its full dependency graph and fails t
// when any dependency is forbidden.
func (b Boundary) CheckTransitive(t testing.TB, pattern string) {
	t.Helper()
	deps, err := loadDeps(pattern)
	if err != nil {
		t.Fatalf("load %s: %v", pattern, err)
	}
	var found []string
	for _, dep := range deps {
		if b.Forbidden(dep) {
			found = append(found, dep)
		}
	}
	b.report(t, "transitive dependency", found)
}

type fatalf interface {
	Fatalf(format string, args ...any)
}

func (b Boundary) report(t fatalf, kind string, found []string) {
	if len(found) == 0 {
		return
	}
	sort.Strings(found)
	t.Fatalf("forbidden %s (%s):\n%s", kind, b.Reason, strings.Join(found, "\n"))
}

// loadDeps lists every package pattern depends on, itself excluded.
var loadDeps = func(pattern string) ([]string, error) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	roots, err := packages.Load(cfg, pattern)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, r := range roots {
		seen[r.PkgPath] = true
	}
	var deps []string
	packages.Visit(roots, nil, func(p *packages.Package) {
		if seen[p.PkgPath] {
			return
		}
		seen[p.PkgPath] = true
		deps = append(deps, p.PkgPath)
	})
	return deps, nil
}

func directImports(dir string, forbidden ImportPredicate) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var found []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range file.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			if forbidden(path) {
				found = append(found, fmt.Sprintf("%s (in %s)", path, name))
			}
		}
	}
	return found, nil
}
