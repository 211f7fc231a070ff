package frame

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func sampleFrame(t *testing.T) *Frame {
	t.Helper()
	f := New(Column{Name: "id", Kind: Text}, Column{Name: "v", Kind: Numeric}, Column{Name: "note", Kind: Text})
	rows := [][]Value{
		{Str("b"), Num(2), Str("x")},
		{Str("a"), Num(1), Null(Text)},
		{Str("b"), Num(4), Str("y")},
		{Str("a"), Null(Numeric), Str("z")},
		{Null(Text), Num(9), Str("orphan")},
	}
	for _, r := range rows {
		if err := f.AppendRow(r...); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	return f
}

func TestNumRejectsNonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if !Num(f).IsNull() {
			t.Fatalf("expected %v to be null", f)
		}
	}
	if Num(0).IsNull() {
		t.Fatalf("zero must not be null")
	}
}

func TestAppendRowKindMismatch(t *testing.T) {
	f := New(Column{Name: "v", Kind: Numeric})
	if err := f.AppendRow(Str("1")); err == nil {
		t.Fatalf("expected kind error")
	}
	if err := f.AppendRow(Null(Text)); err != nil {
		t.Fatalf("nulls of any kind are accepted: %v", err)
	}
	if k := f.Row(0).Get("v").Kind(); k != Numeric {
		t.Fatalf("null should take column kind, got %s", k)
	}
}

func TestAppendRecordUnknownColumn(t *testing.T) {
	f := New(Column{Name: "v", Kind: Numeric})
	if err := f.AppendRecord(map[string]Value{"w": Num(1)}); err == nil {
		t.Fatalf("expected unknown column error")
	}
}

func TestDropDuplicatesKeepsFirst(t *testing.T) {
	f := New(Column{Name: "id", Kind: Text}, Column{Name: "v", Kind: Numeric})
	_ = f.AppendRow(Str("a"), Num(1))
	_ = f.AppendRow(Str("a"), Num(2))
	_ = f.AppendRow(Str("a"), Num(1))
	_ = f.AppendRow(Str("a"), Null(Numeric))
	_ = f.AppendRow(Str("a"), Null(Numeric))
	out := f.DropDuplicates()
	if out.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", out.Len())
	}
	if v, _ := out.Row(1).Get("v").Float(); v != 2 {
		t.Fatalf("order not preserved: %v", v)
	}
}

func TestDropDuplicatesKeepsRowsWithSeparatorBytes(t *testing.T) {
	f := New(Column{Name: "a", Kind: Text}, Column{Name: "b", Kind: Text})
	rows := [][]Value{
		{Str("x\x1fsy"), Str("z")},
		{Str("x"), Str("y\x1fsz")},
		{Str(""), Null(Text)},
		{Null(Text), Str("")},
		{Str("s1:a"), Str("")},
		{Str(""), Str("s1:a")},
	}
	for _, r := range rows {
		if err := f.AppendRow(r...); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if got := f.DropDuplicates().Len(); got != len(rows) {
		t.Fatalf("distinct rows collapsed: want %d got %d", len(rows), got)
	}
}

func TestGroupByReducesByKind(t *testing.T) {
	out, err := sampleFrame(t).GroupBy("id")
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if out.Len() != 2 {
		t.Fatalf("null keys must be dropped, got %d groups", out.Len())
	}
	got := map[string][2]string{}
	for _, r := range out.Rows() {
		got[r.Text("id")] = [2]string{r.Get("v").String(), r.Text("note")}
	}
	want := map[string][2]string{
		"a": {"1", "z"},
		"b": {"3", "x"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("group mismatch (-want +got):\n%s", diff)
	}
	if out.Row(0).Text("id") != "a" {
		t.Fatalf("groups must be sorted by key")
	}
}

func TestLeftJoinMultiplicity(t *testing.T) {
	left := New(Column{Name: "k", Kind: Text})
	for _, k := range []string{"a", "b", "c"} {
		_ = left.AppendRow(Str(k))
	}
	_ = left.AppendRow(Null(Text))
	right := New(Column{Name: "rk", Kind: Text}, Column{Name: "x", Kind: Numeric})
	_ = right.AppendRow(Str("a"), Num(1))
	_ = right.AppendRow(Str("a"), Num(2))
	_ = right.AppendRow(Str("b"), Num(3))
	_ = right.AppendRow(Null(Text), Num(4))

	out, err := left.LeftJoin(right, "k", "rk")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if out.Len() != 5 {
		t.Fatalf("expected 5 rows, got %d", out.Len())
	}
	if !out.Row(3).Get("x").IsNull() || !out.Row(4).Get("x").IsNull() {
		t.Fatalf("unmatched rows must carry nulls")
	}
}

func TestJoinColumnCollision(t *testing.T) {
	left := New(Column{Name: "k", Kind: Text})
	right := New(Column{Name: "k", Kind: Text})
	if _, err := left.LeftJoin(right, "k", "k"); err == nil {
		t.Fatalf("expected collision error")
	}
}

func TestConcatUnionsColumns(t *testing.T) {
	a := New(Column{Name: "id", Kind: Text})
	_ = a.AppendRow(Str("a"))
	b := New(Column{Name: "id", Kind: Text}, Column{Name: "v", Kind: Numeric})
	_ = b.AppendRow(Str("b"), Num(1))
	out, err := a.Concat(b)
	if err != nil {
		t.Fatalf("concat: %v", err)
	}
	if out.Len() != 2 || !out.Has("v") || !out.Row(0).Get("v").IsNull() {
		t.Fatalf("unexpected concat result %v", out.ColumnNames())
	}
	c := New(Column{Name: "id", Kind: Numeric})
	if _, err := a.Concat(c); err == nil {
		t.Fatalf("expected kind conflict")
	}
}

func TestParseRoundTrip(t *testing.T) {
	ts := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	cases := []Value{Num(1.25), Str("qc_01"), Time(ts), Time(ts.Add(250 * time.Millisecond)), Time(ts.Add(42)), Flag(true), Flag(false)}
	for _, v := range cases {
		got, err := Parse(v.Kind(), v.String())
		if err != nil {
			t.Fatalf("parse %v: %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %v -> %v", v, got)
		}
	}
	if got := Time(ts).String(); got != "2021-03-04 05:06:07" {
		t.Fatalf("whole seconds must render without a fraction, got %q", got)
	}
	if got := Time(ts.Add(250 * time.Millisecond)).String(); got != "2021-03-04 05:06:07.25" {
		t.Fatalf("unexpected sub-second rendering %q", got)
	}
	for _, raw := range []string{"", "na", "NA"} {
		v, err := Parse(Numeric, raw)
		if err != nil || !v.IsNull() {
			t.Fatalf("%q should parse as null", raw)
		}
	}
	if _, err := Parse(Timestamp, "yesterday"); err == nil {
		t.Fatalf("expected timestamp parse error")
	}
}

func TestTransformsDoNotMutateReceiver(t *testing.T) {
	f := sampleFrame(t)
	before := f.Len()
	_ = f.AddPrefix("X.")
	_ = f.Drop("v")
	_, _ = f.GroupBy("id")
	if f.Len() != before || !f.Has("v") || f.Has("X.id") {
		t.Fatalf("receiver mutated")
	}
}
