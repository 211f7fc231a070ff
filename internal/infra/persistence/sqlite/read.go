package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"

	"odmcore/internal/entitymodel/sqlbundle"
	"odmcore/internal/infra/persistence/tabular"
	"odmcore/pkg/frame"
	"odmcore/pkg/schema"
)

// Read loads every registry table present in the database at path. Only
// registry columns are selected; tables the database lacks stay absent.
func Read(ctx context.Context, path string) (*tabular.Source, error) {
	if _, err := os.Stat(path); errors.Is(err, iofs.ErrNotExist) {
		return nil, fmt.Errorf("sqlite database %s: %w", path, err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer func() { _ = db.Close() }()

	src := &tabular.Source{Tables: make(map[string]*frame.Frame)}
	for _, t := range schema.Tables() {
		present, err := tableColumns(ctx, db, t.Name)
		if err != nil {
			return nil, err
		}
		var cols []string
		for _, f := range t.Fields {
			if present[f.Name] {
				cols = append(cols, f.Name)
			}
		}
		if len(cols) == 0 {
			continue
		}
		rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", quoteAll(cols), sqlbundle.Quote(t.Name)))
		if err != nil {
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
