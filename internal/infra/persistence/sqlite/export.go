// Package sqlite exports the canonical tables into an SQLite database and
// reads them back, using the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"odmcore/internal/core"
	"odmcore/internal/entitymodel/sqlbundle"
	"odmcore/internal/infra/persistence/tabular"
	"odmcore/pkg/frame"
	"odmcore/pkg/schema"
)

const (
	driverName = "sqlite"
	// stagingTable receives each table's rows before they are merged.
	stagingTable = "myTempTable"
)

// DDLSource yields the script that creates a new database.
type DDLSource func(ctx context.Context) (string, error)

// GeneratedDDL renders the registry.
func GeneratedDDL(context.Context) (string, error) { return sqlbundle.SQLite(), nil }

// RemoteDDL fetches the published creation script from url.
func RemoteDDL(url string) DDLSource {
	return func(ctx context.Context) (string, error) { return sqlbundle.Fetch(ctx, nil, url) }
}

// Options tunes Export.
type Options struct {
	DDL    DDLSource
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.DDL == nil {
		o.DDL = GeneratedDDL
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Export writes the non-empty named tables of src (all registry tables when
// none are named) into the database at path. A missing database is created
// from the DDL in a temp file and moved into place only once the schema is
// complete. Rows replace existing rows with the same primary key. All
// tables are written in one transaction.
func Export(ctx context.Context, path string, src core.Source, opts Options, tables ...string) (tabular.Report, error) {
	opts = opts.withDefaults()
	if len(tables) == 0 {
		tables = schema.TableNames()
	}
	if err := ensureDatabase(ctx, path, opts); err != nil {
		return tabular.Report{}, err
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return tabular.Report{}, fmt.Errorf("open sqlite: %w", err)
	}
	defer func() { _ = db.Close() }()

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
		if _, ok := schema.Lookup(name); !ok {
			return report, core.ErrUnknownTable{Name: name}
		}
		f := src.Table(name)
		if f.Empty() {
			continue
		}
		target, err := tableColumns(ctx, tx, name)
		if err != nil {
			return report, err
		}
		if len(target) == 0 {
			return report, fmt.Errorf("table %s missing from %s", name, path)
		}
		cols, skipped := tabular.Writable(f, target)
		if len(skipped) > 0 {
			report.Skipped[name] = skipped
			opts.Logger.Warn("columns missing from database table",
				zap.String("table", name), zap.Strings("columns", skipped))
		}
		if err := replaceRows(ctx, tx, name, cols, f); err != nil {
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

func ensureDatabase(ctx context.Context, path string, opts Options) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, iofs.ErrNotExist) {
		return err
	}
	ddl, err := opts.DDL(ctx)
	if err != nil {
		opts.Logger.Error("cannot obtain ddl, no database created", zap.String("path", path), zap.Error(err))
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*.db")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	db, err := sql.Open(driverName, tmpPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	for _, stmt := range sqlbundle.SplitStatements(ddl) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	if err := db.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	opts.Logger.Info("database created", zap.String("path", path))
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func tableColumns(ctx context.Context, q querier, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func quoteAll(cols []string) string {
	q := make([]string, len(cols))
	for i, c := range cols {
		q[i] = sqlbundle.Quote(c)
	}
	return strings.Join(q, ", ")
}

// replaceRows loads f into a fresh staging table and merges it with
// REPLACE INTO, so rows sharing a primary key are overwritten.
func replaceRows(ctx context.Context, tx *sql.Tx, table string, cols []string, f *frame.Frame) error {
	staging := sqlbundle.Quote(stagingTable)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+staging); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TEMP TABLE %s (%s)", staging, quoteAll(cols))); err != nil {
		return fmt.Errorf("create staging: %w", err)
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", staging, quoteAll(cols), marks))
	if err != nil {
		return err
	}
	for _, row := range f.Rows() {
		if _, err := stmt.ExecContext(ctx, tabular.Args(row, cols, tabular.TextTimeBinder)...); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("stage row: %w", err)
		}
	}
	if err := stmt.Close(); err != nil {
		return err
	}
	merge := fmt.Sprintf("REPLACE INTO %s (%s) SELECT %s FROM %s",
		sqlbundle.Quote(table), quoteAll(cols), quoteAll(cols), staging)
	if _, err := tx.ExecContext(ctx, merge); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	_, err = tx.ExecContext(ctx, "DROP TABLE "+staging)
	return err
}
