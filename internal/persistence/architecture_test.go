package persistence

import (
	"go/types"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestDatabaseDriversStayInBackends ensures only the relational backends
// register database drivers, so every export goes through this package.
func TestDatabaseDriversStayInBackends(t *testing.T) {
	drivers := map[string]string{
		"modernc.org/sqlite":             "odmcore/internal/infra/persistence/sqlite",
		"github.com/jackc/pgx/v5/stdlib": "odmcore/internal/infra/persistence/postgres",
	}
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "odmcore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	var violations []string
	for _, p := range pkgs {
		for imp := range p.Imports {
			owner, watched := drivers[imp]
			if !watched || p.PkgPath == owner {
				continue
			}
			violations = append(violations, p.PkgPath+": "+imp)
		}
	}
	sort.Strings(violations)
	for _, v := range violations {
		t.Errorf("database driver imported outside its backend: %s", v)
	}
}

// TestSourceImplementationsHardening ensures only sanctioned packages
// provide concrete table sources, keeping the set of readers explicit.
func TestSourceImplementationsHardening(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedTypes}
	pkgs, err := packages.Load(cfg, "odmcore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	var source *types.Interface
	for _, p := range pkgs {
		if p.PkgPath != "odmcore/internal/core" {
			continue
		}
		obj := p.Types.Scope().Lookup("Source")
		if obj == nil {
			t.Fatalf("core.Source not found")
		}
		iface, ok := obj.Type().Underlying().(*types.Interface)
		if !ok {
			t.Fatalf("core.Source is not an interface")
		}
		source = iface
	}
	if source == nil {
		t.Fatalf("failed to resolve Source interface")
	}
	allowed := map[string]struct{}{
		"odmcore/internal/core":                      {}, // store snapshots
		"odmcore/internal/adapters/csvfiles":         {},
		"odmcore/internal/infra/persistence/tabular": {}, // relational readback
		"odmcore/testutil":                           {},
	}
	var unexpected []string
	for _, p := range pkgs {
		if p.Types == nil || p.Types.Scope() == nil {
			continue
		}
		for _, name := range p.Types.Scope().Names() {
			named, ok := p.Types.Scope().Lookup(name).Type().(*types.Named)
			if !ok {
				continue
			}
			if _, ok := named.Underlying().(*types.Struct); !ok {
				continue
			}
			if types.Implements(types.NewPointer(named), source) {
				if _, ok := allowed[p.PkgPath]; !ok {
					unexpected = append(unexpected, p.PkgPath+"."+name)
				}
			}
		}
	}
	if len(unexpected) > 0 {
		_, file, line, _ := runtime.Caller(0)
		t.Fatalf("unexpected Source implementations (update allowed list intentionally if adding a reader):\nfile=%s:%d\n%s",
			filepath.Base(file), line, strings.Join(unexpected, "\n"))
	}
}
