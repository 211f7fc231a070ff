// Package postgres exports the canonical tables into Postgres through the
// pgx database/sql driver, upserting on each table's primary key.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"go.uber.org/zap"

	"odmcore/internal/core"
	"odmcore/internal/entitymodel/sqlbundle"
	"odmcore/internal/infra/persistence/tabular"
	"odmcore/pkg/frame"
	"odmcore/pkg/schema"
)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/odm?sslmode=disable"
	// undefinedTable is the SQLSTATE for a missing relation.
	undefinedTable = "42P01"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Options tunes Export.
type Options struct {
	Logger *zap.Logger
}

func open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func ident(name string) string { return pgx.Identifier{name}.Sanitize() }

func identList(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = ident(c)
	}
	return strings.Join(q, ", ")
}

// Export applies the generated DDL and upserts the non-empty named tables
// of src (all registry tables when none are named) in one transaction.
func Export(ctx context.Context, dsn string, src core.Source, opts Options, tables ...string) (tabular.Report, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(tables) == 0 {
		tables = schema.TableNames()
	}
	db, err := open(ctx, dsn)
	if err != nil {
		return tabular.Report{}, err
	}
	defer func() { _ = db.Close() }()
	if err := applyDDL(ctx, db); err != nil {
		return tabular.Report{}, err
	}

	report := tabular.NewReport()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, name := range tables {
		t, ok := schema.Lookup(name)
		if !ok {
			return report, core.ErrUnknownTable{Name: name}
		}
		f := src.Table(name)
		if f.Empty() {
			continue
		}
		declared := make(map[string]bool, len(t.Fields))
		for _, fld := range t.Fields {
			declared[fld.Name] = true
		}
		cols, skipped := tabular.Writable(f, declared)
		if len(skipped) > 0 {
			report.Skipped[name] = skipped
		}
		if err := upsert(ctx, tx, t, cols, f); err != nil {
			return report, fmt.Errorf("write %s: %w", name, err)
		}
		report.Rows[name] = f.Len()
		opts.Logger.Debug("table exported", zap.String("table", name), zap.Int("rows", f.Len()))
	}
	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return report, nil
}

func applyDDL(ctx context.Context, db *sql.DB) error {
	for _, stmt := range sqlbundle.SplitStatements(sqlbundle.Postgres()) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

func stagingName(table string) string { return "odm_staging_" + strings.ToLower(table) }

// upsert stages f in a temp table dropped at commit, then merges it with
// INSERT ... ON CONFLICT (key) DO UPDATE.
func upsert(ctx context.Context, tx *sql.Tx, t schema.Table, cols []string, f *frame.Frame) error {
	staging := ident(stagingName(t.Name))
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP", staging, ident(t.Name))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create staging: %w", err)
	}
	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = fmt.Sprintf("$%d", i+1)
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", staging, identList(cols), strings.Join(marks, ", "))
	for _, row := range f.Rows() {
		if _, err := tx.ExecContext(ctx, insert, tabular.Args(row, cols, tabular.NativeBinder)...); err != nil {
			return fmt.Errorf("stage row: %w", err)
		}
	}
	keys := make(map[string]bool, len(t.Key))
	for _, k := range t.Key {
		keys[k] = true
	}
	var sets []string
	for _, c := range cols {
		if !keys[c] {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", ident(c), ident(c)))
		}
	}
	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	// The staging table is insert-only, so ctid follows insertion order and
	// the last staged row wins for each key.
	merge := fmt.Sprintf("INSERT INTO %s (%s) SELECT DISTINCT ON (%s) %s FROM %s ORDER BY %s, ctid DESC ON CONFLICT (%s) %s",
		ident(t.Name), identList(cols), identList(t.Key), identList(cols), staging, identList(t.Key), identList(t.Key), action)
	if _, err := tx.ExecContext(ctx, merge); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	return nil
}

// Read loads every registry table from the database at dsn. Missing tables
// stay absent.
func Read(ctx context.Context, dsn string) (*tabular.Source, error) {
	db, err := open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	src := &tabular.Source{Tables: make(map[string]*frame.Frame)}
	for _, t := range schema.Tables() {
		rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", identList(t.FieldNames()), ident(t.Name)))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
				continue
			}
			return nil, fmt.Errorf("select %s: %w", t.Name, err)
		}
		f, err := tabular.ScanFrame(rows, t)
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
		src.Tables[t.Name] = f
	}
	return src, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
