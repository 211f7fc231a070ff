package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"odmcore/internal/core"
	"odmcore/internal/entitymodel/sqlbundle"
	"odmcore/internal/infra/persistence/postgres"
	"odmcore/pkg/schema"
	fixtures "odmcore/testutil"
)

func TestExportAndReadAcrossFileBackends(t *testing.T) {
	ctx := context.Background()
	data := fixtures.Dataset(fixtures.DatasetOptions{Seed: 3, Sites: 2, Weeks: 2})
	store := core.NewStore()
	if _, err := store.Append(ctx, data); err != nil {
		t.Fatalf("append: %v", err)
	}
	dir := t.TempDir()
	cases := []Config{
		{Driver: DriverCSV, CSVDir: dir, CSVPrefix: "qc"},
		{Driver: DriverSQLite, SQLitePath: filepath.Join(dir, "odm.db")},
	}
	for _, cfg := range cases {
		t.Run(string(cfg.Driver), func(t *testing.T) {
			report, err := Export(ctx, cfg, store.Snapshot(), nil)
			if err != nil {
				t.Fatalf("export: %v", err)
			}
			if report.Rows[schema.TableSample] != store.Len(schema.TableSample) {
				t.Fatalf("unexpected report %+v", report.Rows)
			}
			if _, ok := report.Rows[schema.TableLab]; ok {
				t.Fatalf("empty tables must not be reported")
			}
			src, err := Read(ctx, cfg)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			back := core.NewStore()
			if _, err := back.Append(ctx, src); err != nil {
				t.Fatalf("append readback: %v", err)
			}
			for _, name := range schema.TableNames() {
				if back.Len(name) != store.Len(name) {
					t.Fatalf("%s: want %d rows, got %d", name, store.Len(name), back.Len(name))
				}
			}
		})
	}
}

func TestConfigDefaultsAndValidation(t *testing.T) {
	cfg := Config{}.WithDefaults()
	if cfg.Driver != DriverSQLite || cfg.SQLitePath != DefaultSQLitePath || cfg.DDLSource != DDLGenerated {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.DDLURL != sqlbundle.DefaultURL || cfg.PostgresDSN != postgres.DefaultDSN {
		t.Fatalf("unexpected remote defaults %+v", cfg)
	}
	if err := (Config{Driver: "oracle"}).Validate(); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if err := (Config{DDLSource: "ftp"}).Validate(); err == nil {
		t.Fatalf("expected unknown ddl source error")
	}
	if _, err := Export(context.Background(), Config{Driver: "oracle"}, fixtures.NewTables(), nil); err == nil {
		t.Fatalf("export must reject unknown drivers")
	}
	if _, err := Read(context.Background(), Config{Driver: "oracle"}); err == nil {
		t.Fatalf("read must reject unknown drivers")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ODM_STORAGE_DRIVER", "POSTGRES")
	t.Setenv("ODM_POSTGRES_DSN", "postgres://db/odm")
	t.Setenv("ODM_DDL_SOURCE", DDLRemote)
	cfg := ConfigFromEnv(Config{SQLitePath: "keep.db"})
	if cfg.Driver != DriverPostgres || cfg.PostgresDSN != "postgres://db/odm" || cfg.DDLSource != DDLRemote {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.SQLitePath != "keep.db" {
		t.Fatalf("unset variables must keep the base value")
	}
}
