// Package persistence selects a table export backend (CSV files, SQLite or
// Postgres) from configuration and dispatches exports and readbacks to it.
package persistence

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"odmcore/internal/adapters/csvfiles"
	"odmcore/internal/core"
	"odmcore/internal/entitymodel/sqlbundle"
	"odmcore/internal/infra/persistence/postgres"
	"odmcore/internal/infra/persistence/sqlite"
	"odmcore/internal/infra/persistence/tabular"
	"odmcore/pkg/schema"
)

// Driver identifies a concrete export backend.
type Driver string

const (
	DriverCSV      Driver = "csv"      // one CSV file per table
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// DDL sources for new SQLite databases.
const (
	DDLGenerated = "generated"
	DDLRemote    = "remote"
)

// Config selects and parameterizes a backend.
type Config struct {
	Driver      Driver `yaml:"driver"`
	CSVDir      string `yaml:"csv_dir"`
	CSVPrefix   string `yaml:"csv_prefix"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	DDLSource   string `yaml:"ddl_source"`
	DDLURL      string `yaml:"ddl_url"`
}

// Defaults for unset fields.
const (
	DefaultCSVDir     = "./out"
	DefaultSQLitePath = "./odm.db"
)

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.CSVDir == "" {
		c.CSVDir = DefaultCSVDir
	}
	if c.SQLitePath == "" {
		c.SQLitePath = DefaultSQLitePath
	}
	if c.PostgresDSN == "" {
		c.PostgresDSN = postgres.DefaultDSN
	}
	if c.DDLSource == "" {
		c.DDLSource = DDLGenerated
	}
	if c.DDLURL == "" {
		c.DDLURL = sqlbundle.DefaultURL
	}
	return c
}

// Validate reports unknown drivers or DDL sources.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverCSV, DriverSQLite, DriverPostgres, "":
	default:
		return fmt.Errorf("unknown storage driver %s", c.Driver)
	}
	switch c.DDLSource {
	case DDLGenerated, DDLRemote, "":
	default:
		return fmt.Errorf("unknown ddl source %s", c.DDLSource)
	}
	return nil
}

// ConfigFromEnv overlays environment variables onto base.
//
//	ODM_STORAGE_DRIVER: csv|sqlite|postgres
//	ODM_CSV_DIR, ODM_CSV_PREFIX: CSV output location
//	ODM_SQLITE_PATH: path to the sqlite file
//	ODM_POSTGRES_DSN: postgres DSN
//	ODM_DDL_SOURCE: generated|remote, ODM_DDL_URL: remote DDL location
func ConfigFromEnv(base Config) Config {
	set := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("ODM_STORAGE_DRIVER"); ok {
		base.Driver = Driver(strings.ToLower(v))
	}
	set("ODM_CSV_DIR", &base.CSVDir)
	set("ODM_CSV_PREFIX", &base.CSVPrefix)
	set("ODM_SQLITE_PATH", &base.SQLitePath)
	set("ODM_POSTGRES_DSN", &base.PostgresDSN)
	set("ODM_DDL_SOURCE", &base.DDLSource)
	set("ODM_DDL_URL", &base.DDLURL)
	return base
}

// Export writes the named tables of src (all when none are named) to the
// configured backend.
func Export(ctx context.Context, cfg Config, src core.Source, logger *zap.Logger, tables ...string) (tabular.Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return tabular.Report{}, err
	}
	logger = logger.With(zap.String("driver", string(cfg.Driver)))
	switch cfg.Driver {
	case DriverCSV:
		paths, err := csvfiles.Write(ctx, cfg.CSVDir, cfg.CSVPrefix, src, tables...)
		if err != nil {
			return tabular.Report{}, err
		}
		logger.Info("csv files written", zap.Strings("paths", paths))
		return csvReport(src, tables), nil
	case DriverSQLite:
		opts := sqlite.Options{Logger: logger}
		if cfg.DDLSource == DDLRemote {
			opts.DDL = sqlite.RemoteDDL(cfg.DDLURL)
		}
		return sqlite.Export(ctx, cfg.SQLitePath, src, opts, tables...)
	default:
		return postgres.Export(ctx, cfg.PostgresDSN, src, postgres.Options{Logger: logger}, tables...)
	}
}

func csvReport(src core.Source, tables []string) tabular.Report {
	if len(tables) == 0 {
		tables = schema.TableNames()
	}
	report := tabular.NewReport()
	for _, name := range tables {
		if f := src.Table(name); !f.Empty() {
			report.Rows[name] = f.Len()
		}
	}
	return report
}

// Read loads every table the configured backend holds.
func Read(ctx context.Context, cfg Config) (core.Source, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case DriverCSV:
		return csvfiles.Read(ctx, cfg.CSVDir, cfg.CSVPrefix)
	case DriverSQLite:
		return sqlite.Read(ctx, cfg.SQLitePath)
	default:
		return postgres.Read(ctx, cfg.PostgresDSN)
	}
}
