// Package csvfiles reads and writes the canonical tables as one
// comma-delimited file per table, named <prefix>_<Table>.csv, with missing
// values written as "na".
package csvfiles

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"odmcore/internal/core"
	"odmcore/pkg/frame"
	"odmcore/pkg/schema"
)

// FileName returns the file a table is stored in.
func FileName(prefix, table string) string {
	if prefix == "" {
		return table + ".csv"
	}
	return prefix + "_" + table + ".csv"
}

// Encode writes f as CSV with a header row. Nulls are written as
// frame.NullToken.
func Encode(w io.Writer, f *frame.Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.ColumnNames()); err != nil {
		return err
	}
	for _, row := range f.Rows() {
		vals := row.Values()
		record := make([]string, len(vals))
		for i, v := range vals {
			if v.IsNull() {
				record[i] = frame.NullToken
				continue
			}
			record[i] = v.String()
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Write stores the named tables of src under dir, creating dir if needed.
// With no names every registry table is considered. Empty tables are
// skipped. Each file is written to a temp file and renamed into place.
// It returns the paths written.
func Write(ctx context.Context, dir, prefix string, src core.Source, tables ...string) ([]string, error) {
	if len(tables) == 0 {
		tables = schema.TableNames()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	var written []string
	for _, name := range tables {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if _, ok := schema.Lookup(name); !ok {
			return written, core.ErrUnknownTable{Name: name}
		}
		f := src.Table(name)
		if f.Empty() {
			continue
		}
		path := filepath.Join(dir, FileName(prefix, name))
		if err := writeFile(path, f); err != nil {
			return written, fmt.Errorf("write %s: %w", name, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func writeFile(path string, f *frame.Frame) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.csv")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	err = Encode(tmp, f)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Source is the table set read back from a directory. It validates only
// when every file parsed cleanly against the registry.
type Source struct {
	tables   map[string]*frame.Frame
	problems []string
}

// Validates reports whether every file conformed to the registry.
func (s *Source) Validates() bool { return len(s.problems) == 0 }

// Table returns the named table, or nil when no file was present.
func (s *Source) Table(name string) *frame.Frame { return s.tables[name] }

// Problems lists the reasons Validates is false.
func (s *Source) Problems() []string { return append([]string(nil), s.problems...) }

// Read loads every <prefix>_<Table>.csv found in dir. Missing files leave
// the table absent. I/O failures are returned; content that does not fit
// the registry is recorded on the Source instead.
func Read(ctx context.Context, dir, prefix string) (*Source, error) {
	src := &Source{tables: make(map[string]*frame.Frame)}
	for _, t := range schema.Tables() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file, err := os.Open(filepath.Join(dir, FileName(prefix, t.Name)))
		if errors.Is(err, iofs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		f, problems, err := Decode(file, t)
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", t.Name, err)
		}
		for _, p := range problems {
			src.problems = append(src.problems, t.Name+": "+p)
		}
		src.tables[t.Name] = f
	}
	return src, nil
}

// Decode parses CSV content for table t. Columns outside the registry are
// dropped and reported; cells that fail to parse become null and are
// reported. Only malformed CSV is an error.
func Decode(r io.Reader, t schema.Table) (*frame.Frame, []string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return frame.FromSchema(t), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var problems []string
	cols := make([]frame.Column, 0, len(header))
	pos := make([]int, 0, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		field, ok := t.Field(name)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown column %q", name))
			continue
		}
		cols = append(cols, frame.Column{Name: field.Name, Kind: field.Kind})
		pos = append(pos, i)
	}
	f := frame.New(cols...)
	line := 1
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		line++
		vals := make([]frame.Value, len(cols))
		for j, c := range cols {
			raw := ""
			if pos[j] < len(record) {
				raw = record[pos[j]]
			}
			v, err := frame.Parse(c.Kind, raw)
			if err != nil {
				problems = append(problems, fmt.Sprintf("line %d: %v", line, err))
				v = frame.Null(c.Kind)
			}
			vals[j] = v
		}
		if err := f.AppendRow(vals...); err != nil {
			return nil, nil, err
		}
	}
	return f, problems, nil
}
