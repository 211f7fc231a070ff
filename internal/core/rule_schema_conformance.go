package core

import (
	"context"
	"fmt"

	"odmcore/pkg/schema"
)

// NewSchemaConformanceRule rejects source tables whose columns fall outside
// the registry or carry the wrong kind.
func NewSchemaConformanceRule() Rule {
	return schemaConformanceRule{}
}

type schemaConformanceRule struct{}

func (schemaConformanceRule) Name() string { return "schema_conformance" }

func (r schemaConformanceRule) Evaluate(_ context.Context, _, incoming TableView) (Result, error) {
	res := Result{}
	for _, t := range schema.Tables() {
		f := incoming.Table(t.Name)
		if f == nil {
			continue
		}
		if err := t.Validate(f.ColumnNames()); err != nil {
			res.Violations = append(res.Violations, Violation{
				Rule:     r.Name(),
				Severity: SeverityBlock,
				Message:  err.Error(),
				Table:    t.Name,
			})
			continue
		}
		for _, c := range f.Columns() {
			fd, _ := t.Field(c.Name)
			if fd.Kind != c.Kind {
				res.Violations = append(res.Violations, Violation{
					Rule:     r.Name(),
					Severity: SeverityBlock,
					Message:  fmt.Sprintf("column %s is %s, want %s", c.Name, c.Kind, fd.Kind),
					Table:    t.Name,
				})
			}
		}
	}
	return res, nil
}
