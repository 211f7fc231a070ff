// Package tabular holds the frame to database/sql plumbing shared by the
// relational exporters.
package tabular

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"odmcore/pkg/frame"
	"odmcore/pkg/schema"
)

// Binder turns a value into a driver argument.
type Binder func(frame.Value) any

// NativeBinder passes values through as their Go payload. Suits drivers with
// native timestamp and boolean types.
func NativeBinder(v frame.Value) any { return v.Any() }

// TextTimeBinder stores timestamps as RFC 3339 text and flags as 0/1, for
// engines without those types.
func TextTimeBinder(v frame.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case frame.Timestamp:
		t, _ := v.Time()
		return t.UTC().Format(time.RFC3339Nano)
	case frame.Bool:
		b, _ := v.Bool()
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v.Any()
}

// Args binds the named columns of r in order.
func Args(r frame.Row, cols []string, bind Binder) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = bind(r.Get(c))
	}
	return out
}

// FromDriver converts a scanned driver value into a value of kind k.
func FromDriver(k frame.Kind, raw any) (frame.Value, error) {
	switch v := raw.(type) {
	case nil:
		return frame.Null(k), nil
	case []byte:
		return frame.Parse(k, string(v))
	case string:
		return frame.Parse(k, v)
	case time.Time:
		if k == frame.Text {
			return frame.Str(v.UTC().Format(time.RFC3339Nano)), nil
		}
		if k != frame.Timestamp {
			return frame.Value{}, fmt.Errorf("timestamp scanned into %s column", k)
		}
		return frame.Time(v), nil
	case bool:
		if k == frame.Text {
			return frame.Str(strconv.FormatBool(v)), nil
		}
		if k != frame.Bool {
			return frame.Value{}, fmt.Errorf("bool scanned into %s column", k)
		}
		return frame.Flag(v), nil
	case int64:
		return fromNumber(k, float64(v))
	case float64:
		return fromNumber(k, v)
	}
	return frame.Value{}, fmt.Errorf("unsupported driver value %T", raw)
}

func fromNumber(k frame.Kind, f float64) (frame.Value, error) {
	switch k {
	case frame.Numeric:
		return frame.Num(f), nil
	case frame.Bool:
		return frame.Flag(f != 0), nil
	case frame.Text:
		return frame.Str(strconv.FormatFloat(f, 'f', -1, 64)), nil
	}
	return frame.Value{}, fmt.Errorf("number scanned into %s column", k)
}

// ScanFrame reads every row of rows into a frame typed by t. Columns of the
// result set that t does not declare are skipped.
func ScanFrame(rows *sql.Rows, t schema.Table) (*frame.Frame, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var cols []frame.Column
	var keep []int
	for i, n := range names {
		if f, ok := t.Field(n); ok {
			cols = append(cols, frame.Column{Name: f.Name, Kind: f.Kind})
			keep = append(keep, i)
		}
	}
	out := frame.New(cols...)
	raw := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		vals := make([]frame.Value, len(cols))
		for j, i := range keep {
			v, err := FromDriver(cols[j].Kind, raw[i])
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Name, cols[j].Name, err)
			}
			vals[j] = v
		}
		if err := out.AppendRow(vals...); err != nil {
			return nil, err
		}
	}
	return out, rows.Err()
}

// Source is a table set read back from a database.
type Source struct {
	Tables map[string]*frame.Frame
}

// Validates is always true: rows were typed against the registry on read.
func (s *Source) Validates() bool { return true }

// Table returns the named table or nil.
func (s *Source) Table(name string) *frame.Frame { return s.Tables[name] }

// Report summarizes an export.
type Report struct {
	Rows    map[string]int
	Skipped map[string][]string
}

// NewReport returns an empty report.
func NewReport() Report {
	return Report{Rows: make(map[string]int), Skipped: make(map[string][]string)}
}

// Writable intersects the columns of f with the target table's columns,
// returning the columns to write and those the target lacks.
func Writable(f *frame.Frame, target map[string]bool) (write, skipped []string) {
	for _, c := range f.ColumnNames() {
		if target[c] {
			write = append(write, c)
		} else {
			skipped = append(skipped, c)
		}
	}
	return write, skipped
}
