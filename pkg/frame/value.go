package frame

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"odmcore/pkg/schema"
)

// Kind aliases the schema kind so callers rarely need both imports.
type Kind = schema.Kind

// Kind values re-exported for convenience.
const (
	Numeric   = schema.KindNumeric
	Text      = schema.KindText
	Timestamp = schema.KindTimestamp
	Bool      = schema.KindBool
)

// Value is a single cell. It is comparable with == and the zero value of a
// given kind is that kind's null.
type Value struct {
	kind  Kind
	valid bool
	num   float64
	str   string
	nanos int64
	flag  bool
}

// Null returns the null value of kind k.
func Null(k Kind) Value { return Value{kind: k} }

// Num returns a numeric value. NaN and infinities are stored as null.
func Num(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null(Numeric)
	}
	return Value{kind: Numeric, valid: true, num: f}
}

// Str returns a text value. The empty string is a valid, non-null value.
func Str(s string) Value { return Value{kind: Text, valid: true, str: s} }

// Time returns a timestamp value normalised to UTC. The zero time is null.
func Time(t time.Time) Value {
	if t.IsZero() {
		return Null(Timestamp)
	}
	return Value{kind: Timestamp, valid: true, nanos: t.UTC().UnixNano()}
}

// Flag returns a boolean value.
func Flag(b bool) Value { return Value{kind: Bool, valid: true, flag: b} }

// Kind reports the kind of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is missing.
func (v Value) IsNull() bool { return !v.valid }

// IsBlank reports whether the value is null or an all-space string.
func (v Value) IsBlank() bool {
	if !v.valid {
		return true
	}
	return v.kind == Text && strings.TrimSpace(v.str) == ""
}

// Float returns the numeric payload.
func (v Value) Float() (float64, bool) {
	if !v.valid || v.kind != Numeric {
		return 0, false
	}
	return v.num, true
}

// Text returns the text payload.
func (v Value) Text() (string, bool) {
	if !v.valid || v.kind != Text {
		return "", false
	}
	return v.str, true
}

// Time returns the timestamp payload in UTC.
func (v Value) Time() (time.Time, bool) {
	if !v.valid || v.kind != Timestamp {
		return time.Time{}, false
	}
	return time.Unix(0, v.nanos).UTC(), true
}

// Bool returns the boolean payload.
func (v Value) Bool() (bool, bool) {
	if !v.valid || v.kind != Bool {
		return false, false
	}
	return v.flag, true
}

// String renders the value the way it is written to CSV. Nulls render empty.
func (v Value) String() string {
	if !v.valid {
		return ""
	}
	switch v.kind {
	case Numeric:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case Timestamp:
		return time.Unix(0, v.nanos).UTC().Format(TimeLayout)
	case Bool:
		if v.flag {
			return "True"
		}
		return "False"
	default:
		return v.str
	}
}

// Any returns the payload as a plain Go value (nil for null), suitable for
// database/sql arguments and JSON encoding.
func (v Value) Any() any {
	if !v.valid {
		return nil
	}
	switch v.kind {
	case Numeric:
		return v.num
	case Timestamp:
		return time.Unix(0, v.nanos).UTC()
	case Bool:
		return v.flag
	default:
		return v.str
	}
}

// key is an unambiguous encoding used for hashing rows and groups.
func (v Value) key(b *strings.Builder) {
	if !v.valid {
		b.WriteString("\x00")
		return
	}
	switch v.kind {
	case Numeric:
		b.WriteString("n")
		b.WriteString(strconv.FormatFloat(v.num, 'g', -1, 64))
	case Timestamp:
		b.WriteString("t")
		b.WriteString(strconv.FormatInt(v.nanos, 10))
	case Bool:
		if v.flag {
			b.WriteString("b1")
		} else {
			b.WriteString("b0")
		}
	default:
		b.WriteString("s")
		b.WriteString(strconv.Itoa(len(v.str)))
		b.WriteByte(':')
		b.WriteString(v.str)
	}
}

// less orders two values of the same kind; nulls sort last.
func less(a, b Value) bool {
	if !a.valid || !b.valid {
		return a.valid && !b.valid
	}
	switch a.kind {
	case Numeric:
		return a.num < b.num
	case Timestamp:
		return a.nanos < b.nanos
	case Bool:
		return !a.flag && b.flag
	default:
		return a.str < b.str
	}
}

// TimeLayout is the layout used when rendering timestamps as text. Fractional
// seconds are written only when non-zero.
const TimeLayout = "2006-01-02 15:04:05.999999999"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// NullToken is the literal written for missing values in CSV exports.
const NullToken = "na"

// Parse converts a textual cell into a value of kind k. Empty cells and the
// NullToken are null.
func Parse(k Kind, raw string) (Value, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, NullToken) {
		return Null(k), nil
	}
	switch k {
	case Numeric:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse numeric %q: %w", raw, err)
		}
		return Num(f), nil
	case Timestamp:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return Time(t), nil
			}
		}
		return Value{}, fmt.Errorf("parse timestamp %q: unsupported layout", raw)
	case Bool:
		switch strings.ToLower(s) {
		case "true", "1", "yes", "t":
			return Flag(true), nil
		case "false", "0", "no", "f":
			return Flag(false), nil
		}
		return Value{}, fmt.Errorf("parse bool %q", raw)
	default:
		return Str(raw), nil
	}
}
