// Package frame implements the typed, column-ordered tables that every ODM
// transform consumes and produces. Transforms never mutate their receiver;
// they return new frames.
package frame

import (
	"fmt"
	"sort"
	"strings"

	"odmcore/pkg/schema"
)

// Column names a column and its kind.
type Column struct {
	Name string
	Kind Kind
}

// Frame is an ordered set of typed columns and a list of rows.
type Frame struct {
	cols  []Column
	index map[string]int
	rows  [][]Value
}

// New constructs an empty frame. Duplicate column names panic.
func New(cols ...Column) *Frame {
	f := &Frame{index: make(map[string]int, len(cols))}
	for _, c := range cols {
		if err := f.AddColumn(c); err != nil {
			panic(err)
		}
	}
	return f
}

// FromSchema constructs an empty frame holding every field of t.
func FromSchema(t schema.Table) *Frame {
	cols := make([]Column, len(t.Fields))
	for i, fd := range t.Fields {
		cols[i] = Column{Name: fd.Name, Kind: fd.Kind}
	}
	return New(cols...)
}

// AddColumn appends a column; existing rows receive nulls.
func (f *Frame) AddColumn(c Column) error {
	if _, dup := f.index[c.Name]; dup {
		return fmt.Errorf("frame: duplicate column %q", c.Name)
	}
	f.index[c.Name] = len(f.cols)
	f.cols = append(f.cols, c)
	for i := range f.rows {
		f.rows[i] = append(f.rows[i], Null(c.Kind))
	}
	return nil
}

// Columns returns a copy of the column descriptors.
func (f *Frame) Columns() []Column {
	out := make([]Column, len(f.cols))
	copy(out, f.cols)
	return out
}

// ColumnNames returns the column names in order.
func (f *Frame) ColumnNames() []string {
	out := make([]string, len(f.cols))
	for i, c := range f.cols {
		out[i] = c.Name
	}
	return out
}

// Has reports whether the frame carries the named column.
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// KindOf returns the kind of the named column.
func (f *Frame) KindOf(name string) (Kind, bool) {
	i, ok := f.index[name]
	if !ok {
		return "", false
	}
	return f.cols[i].Kind, true
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.rows)
}

// Empty reports whether the frame has no rows.
func (f *Frame) Empty() bool { return f.Len() == 0 }

// Row returns a read handle on row i.
func (f *Frame) Row(i int) Row { return Row{frame: f, vals: f.rows[i]} }

// Rows returns read handles on every row.
func (f *Frame) Rows() []Row {
	out := make([]Row, len(f.rows))
	for i, r := range f.rows {
		out[i] = Row{frame: f, vals: r}
	}
	return out
}

// Values returns the named column's values.
func (f *Frame) Values(name string) []Value {
	i, ok := f.index[name]
	if !ok {
		return nil
	}
	out := make([]Value, len(f.rows))
	for r, row := range f.rows {
		out[r] = row[i]
	}
	return out
}

func (f *Frame) checkKind(c Column, v Value) error {
	if v.kind != c.Kind && !v.IsNull() {
		return fmt.Errorf("frame: column %q is %s, got %s value", c.Name, c.Kind, v.kind)
	}
	return nil
}

// AppendRow appends one row given in column order.
func (f *Frame) AppendRow(vals ...Value) error {
	if len(vals) != len(f.cols) {
		return fmt.Errorf("frame: row has %d values, want %d", len(vals), len(f.cols))
	}
	row := make([]Value, len(vals))
	for i, v := range vals {
		if err := f.checkKind(f.cols[i], v); err != nil {
			return err
		}
		if v.IsNull() {
			v = Null(f.cols[i].Kind)
		}
		row[i] = v
	}
	f.rows = append(f.rows, row)
	return nil
}

// AppendRecord appends one row given by column name. Missing columns are
// null; unknown columns are an error.
func (f *Frame) AppendRecord(rec map[string]Value) error {
	row := make([]Value, len(f.cols))
	for i, c := range f.cols {
		row[i] = Null(c.Kind)
	}
	for name, v := range rec {
		i, ok := f.index[name]
		if !ok {
			return fmt.Errorf("frame: unknown column %q", name)
		}
		if err := f.checkKind(f.cols[i], v); err != nil {
			return err
		}
		if !v.IsNull() {
			row[i] = v
		}
	}
	f.rows = append(f.rows, row)
	return nil
}

// Set overwrites a single cell.
func (f *Frame) Set(row int, name string, v Value) error {
	i, ok := f.index[name]
	if !ok {
		return fmt.Errorf("frame: unknown column %q", name)
	}
	if err := f.checkKind(f.cols[i], v); err != nil {
		return err
	}
	if v.IsNull() {
		v = Null(f.cols[i].Kind)
	}
	f.rows[row][i] = v
	return nil
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	out := New(f.cols...)
	out.rows = make([][]Value, len(f.rows))
	for i, r := range f.rows {
		out.rows[i] = append([]Value(nil), r...)
	}
	return out
}

// emptyLike returns an empty frame with the same columns.
func (f *Frame) emptyLike() *Frame { return New(f.cols...) }

func rowKey(vals []Value) string {
	var b strings.Builder
	for _, v := range vals {
		v.key(&b)
		b.WriteByte(0x1f)
	}
	return b.String()
}

// DropDuplicates removes rows equal in every column, keeping the first.
func (f *Frame) DropDuplicates() *Frame {
	out := f.emptyLike()
	seen := make(map[string]struct{}, len(f.rows))
	for _, r := range f.rows {
		k := rowKey(r)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out.rows = append(out.rows, append([]Value(nil), r...))
	}
	return out
}

// Concat appends other's rows below f's. Columns are unioned by name; a
// column present on both sides must have the same kind.
func (f *Frame) Concat(other *Frame) (*Frame, error) {
	out := f.Clone()
	for _, c := range other.cols {
		if k, ok := out.KindOf(c.Name); ok {
			if k != c.Kind {
				return nil, fmt.Errorf("frame: concat column %q kind %s vs %s", c.Name, k, c.Kind)
			}
			continue
		}
		if err := out.AddColumn(c); err != nil {
			return nil, err
		}
	}
	for _, r := range other.rows {
		row := make([]Value, len(out.cols))
		for i, c := range out.cols {
			row[i] = Null(c.Kind)
		}
		for j, c := range other.cols {
			row[out.index[c.Name]] = r[j]
		}
		out.rows = append(out.rows, row)
	}
	return out, nil
}

// AddPrefix renames every column to prefix+name.
func (f *Frame) AddPrefix(prefix string) *Frame {
	cols := make([]Column, len(f.cols))
	for i, c := range f.cols {
		cols[i] = Column{Name: prefix + c.Name, Kind: c.Kind}
	}
	out := New(cols...)
	out.rows = f.Clone().rows
	return out
}

// Rename returns a copy with one column renamed.
func (f *Frame) Rename(from, to string) (*Frame, error) {
	i, ok := f.index[from]
	if !ok {
		return nil, fmt.Errorf("frame: unknown column %q", from)
	}
	cols := f.Columns()
	cols[i].Name = to
	out := New(cols...)
	out.rows = f.Clone().rows
	return out, nil
}

// DropFunc removes every column for which drop returns true.
func (f *Frame) DropFunc(drop func(Column) bool) *Frame {
	var keep []int
	var cols []Column
	for i, c := range f.cols {
		if drop(c) {
			continue
		}
		keep = append(keep, i)
		cols = append(cols, c)
	}
	out := New(cols...)
	out.rows = make([][]Value, len(f.rows))
	for r, row := range f.rows {
		nr := make([]Value, len(keep))
		for j, i := range keep {
			nr[j] = row[i]
		}
		out.rows[r] = nr
	}
	return out
}

// Drop removes the named columns; unknown names are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return f.DropFunc(func(c Column) bool {
		_, ok := set[c.Name]
		return ok
	})
}

// Select keeps only the named columns, in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	cols := make([]Column, len(names))
	idx := make([]int, len(names))
	for j, n := range names {
		i, ok := f.index[n]
		if !ok {
			return nil, fmt.Errorf("frame: unknown column %q", n)
		}
		cols[j] = f.cols[i]
		idx[j] = i
	}
	out := New(cols...)
	out.rows = make([][]Value, len(f.rows))
	for r, row := range f.rows {
		nr := make([]Value, len(idx))
		for j, i := range idx {
			nr[j] = row[i]
		}
		out.rows[r] = nr
	}
	return out, nil
}

// Filter keeps the rows for which keep returns true.
func (f *Frame) Filter(keep func(Row) bool) *Frame {
	out := f.emptyLike()
	for _, r := range f.rows {
		if keep(Row{frame: f, vals: r}) {
			out.rows = append(out.rows, append([]Value(nil), r...))
		}
	}
	return out
}

// SortBy returns a copy ordered by the named column (stable, nulls last).
func (f *Frame) SortBy(name string) (*Frame, error) {
	i, ok := f.index[name]
	if !ok {
		return nil, fmt.Errorf("frame: unknown column %q", name)
	}
	out := f.Clone()
	sort.SliceStable(out.rows, func(a, b int) bool { return less(out.rows[a][i], out.rows[b][i]) })
	return out, nil
}

// GroupBy collapses rows sharing the same value of key into one row, reducing
// every other column with its kind's Reducer. Rows with a null key are
// dropped and groups are ordered by key.
func (f *Frame) GroupBy(key string) (*Frame, error) {
	ki, ok := f.index[key]
	if !ok {
		return nil, fmt.Errorf("frame: unknown group key %q", key)
	}
	type group struct {
		key  Value
		rows [][]Value
	}
	var order []*group
	groups := make(map[Value]*group)
	for _, r := range f.rows {
		k := r[ki]
		if k.IsNull() {
			continue
		}
		g, ok := groups[k]
		if !ok {
			g = &group{key: k}
			groups[k] = g
			order = append(order, g)
		}
		g.rows = append(g.rows, r)
	}
	sort.SliceStable(order, func(a, b int) bool { return less(order[a].key, order[b].key) })

	out := f.emptyLike()
	reducers := make([]Reducer, len(f.cols))
	for i, c := range f.cols {
		reducers[i] = ReducerFor(c.Kind)
	}
	col := make([]Value, 0)
	for _, g := range order {
		row := make([]Value, len(f.cols))
		for i := range f.cols {
			if i == ki {
				row[i] = g.key
				continue
			}
			col = col[:0]
			for _, r := range g.rows {
				col = append(col, r[i])
			}
			row[i] = reducers[i](col)
		}
		out.rows = append(out.rows, row)
	}
	return out, nil
}

func joinColumns(left, right *Frame) (*Frame, error) {
	out := left.emptyLike()
	for _, c := range right.cols {
		if err := out.AddColumn(c); err != nil {
			return nil, fmt.Errorf("join: %w", err)
		}
	}
	return out, nil
}

func joinRow(left, right []Value, rightCols []Column) []Value {
	row := make([]Value, 0, len(left)+len(rightCols))
	row = append(row, left...)
	if right == nil {
		for _, c := range rightCols {
			row = append(row, Null(c.Kind))
		}
		return row
	}
	return append(row, right...)
}

// LeftJoin joins right onto f where f[leftKey] equals right[rightKey]. Every
// left row appears at least once; a left row matching n right rows appears n
// times. Null keys never match.
func (f *Frame) LeftJoin(right *Frame, leftKey, rightKey string) (*Frame, error) {
	li, ok := f.index[leftKey]
	if !ok {
		return nil, fmt.Errorf("join: unknown left key %q", leftKey)
	}
	ri, ok := right.index[rightKey]
	if !ok {
		return nil, fmt.Errorf("join: unknown right key %q", rightKey)
	}
	out, err := joinColumns(f, right)
	if err != nil {
		return nil, err
	}
	lookup := make(map[Value][][]Value)
	for _, r := range right.rows {
		if r[ri].IsNull() {
			continue
		}
		lookup[r[ri]] = append(lookup[r[ri]], r)
	}
	for _, l := range f.rows {
		matches := lookup[l[li]]
		if l[li].IsNull() || len(matches) == 0 {
			out.rows = append(out.rows, joinRow(l, nil, right.cols))
			continue
		}
		for _, r := range matches {
			out.rows = append(out.rows, joinRow(l, r, right.cols))
		}
	}
	return out, nil
}

// LeftJoinFunc joins right onto f using an arbitrary predicate, with the same
// multiplicity rules as LeftJoin.
func (f *Frame) LeftJoinFunc(right *Frame, match func(l, r Row) bool) (*Frame, error) {
	out, err := joinColumns(f, right)
	if err != nil {
		return nil, err
	}
	for _, l := range f.rows {
		lr := Row{frame: f, vals: l}
		matched := false
		for _, r := range right.rows {
			if match(lr, Row{frame: right, vals: r}) {
				out.rows = append(out.rows, joinRow(l, r, right.cols))
				matched = true
			}
		}
		if !matched {
			out.rows = append(out.rows, joinRow(l, nil, right.cols))
		}
	}
	return out, nil
}

// Row is a read-only view of a frame row.
type Row struct {
	frame *Frame
	vals  []Value
}

// Get returns the named cell, or a null text value for unknown columns.
func (r Row) Get(name string) Value {
	i, ok := r.frame.index[name]
	if !ok {
		return Null(Text)
	}
	return r.vals[i]
}

// Text returns the named cell as text; non-text and null cells yield "".
func (r Row) Text(name string) string {
	s, _ := r.Get(name).Text()
	return s
}

// Values returns a copy of the row's cells in column order.
func (r Row) Values() []Value { return append([]Value(nil), r.vals...) }

// Record returns the row keyed by column name.
func (r Row) Record() map[string]Value {
	out := make(map[string]Value, len(r.vals))
	for i, c := range r.frame.cols {
		out[c.Name] = r.vals[i]
	}
	return out
}
