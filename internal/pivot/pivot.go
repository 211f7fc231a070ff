// Package pivot reshapes long-format measurement tables into wide tables with
// one column per (qualifier combination, feature) pair.
package pivot

import (
	"fmt"
	"strings"

	"odmcore/pkg/frame"
)

// Delimiter joins qualifier values into a combination key and the key to the
// feature name.
const Delimiter = "_"

// QualityFlag is the boolean qualifier that receives readable state tags.
const QualityFlag = "qualityFlag"

const (
	qualityIssue   = "quality-issue"
	noQualityIssue = "no-quality-issue"
)

// UnknownTag is the placeholder used for a blank qualifier value.
func UnknownTag(qualifier string) string { return "unknown-" + qualifier }

// QualifierValue renders the qualifier cell of a row as a column-name safe
// token.
func QualifierValue(qualifier string, v frame.Value) string {
	if v.IsBlank() {
		return UnknownTag(qualifier)
	}
	s := v.String()
	if b, ok := v.Bool(); ok && qualifier == QualityFlag {
		if b {
			s = qualityIssue
		} else {
			s = noQualityIssue
		}
	} else if qualifier == QualityFlag {
		s = strings.NewReplacer("True", qualityIssue, "False", noQualityIssue).Replace(s)
	}
	return strings.ReplaceAll(s, "/", "-")
}

// CombinationKey returns the positional combination of a row's qualifiers.
func CombinationKey(r frame.Row, qualifiers []string) string {
	parts := make([]string, len(qualifiers))
	for i, q := range qualifiers {
		parts[i] = QualifierValue(q, r.Get(q))
	}
	return strings.Join(parts, Delimiter)
}

// ColumnName is the name of the wide column for a combination and feature.
func ColumnName(combination, feature string) string {
	return combination + Delimiter + feature
}

// Widen spreads each feature column over one new column per distinct
// qualifier combination. A row's feature value lands only in the column of
// its own combination; every other derived column is null on that row.
// Feature and qualifier columns are dropped. Row count is unchanged and an
// empty frame is returned as is.
func Widen(f *frame.Frame, features, qualifiers []string) (*frame.Frame, error) {
	if f.Empty() {
		return f, nil
	}
	kinds := make([]frame.Kind, len(features))
	for i, feat := range features {
		k, ok := f.KindOf(feat)
		if !ok {
			return nil, fmt.Errorf("pivot: unknown feature column %q", feat)
		}
		kinds[i] = k
	}
	for _, q := range qualifiers {
		if !f.Has(q) {
			return nil, fmt.Errorf("pivot: unknown qualifier column %q", q)
		}
	}

	rows := f.Rows()
	combos := make([]string, len(rows))
	var order []string
	seen := make(map[string]struct{})
	for i, r := range rows {
		key := CombinationKey(r, qualifiers)
		combos[i] = key
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			order = append(order, key)
		}
	}

	drop := make([]string, 0, len(features)+len(qualifiers))
	drop = append(drop, features...)
	drop = append(drop, qualifiers...)
	out := f.Drop(drop...)
	for _, combo := range order {
		for i, feat := range features {
			if err := out.AddColumn(frame.Column{Name: ColumnName(combo, feat), Kind: kinds[i]}); err != nil {
				return nil, fmt.Errorf("pivot: %w", err)
			}
		}
	}
	for i, r := range rows {
		for _, feat := range features {
			if err := out.Set(i, ColumnName(combos[i], feat), r.Get(feat)); err != nil {
				return nil, fmt.Errorf("pivot: %w", err)
			}
		}
	}
	return out, nil
}
