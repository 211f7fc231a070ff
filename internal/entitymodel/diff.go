package entitymodel

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDocument reads a registry document written by WriteDocument.
func LoadDocument(path string) (Document, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // baseline path is chosen by the operator
	if err != nil {
		return Document{}, err
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("parse baseline: %w", err)
	}
	return doc, nil
}

// WriteDocument stores doc as YAML at path.
func WriteDocument(path string, doc Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write baseline: %w", err)
	}
	return nil
}

// Diff lists the breaking changes from old to updated: removed tables and
// fields, retyped fields and changed keys. Added tables and fields are not
// breaking and are not reported.
func Diff(old, updated Document) []string {
	var issues []string
	current := make(map[string]Table, len(updated.Tables))
	for _, t := range updated.Tables {
		current[t.Name] = t
	}
	for _, oldTable := range old.Tables {
		newTable, ok := current[oldTable.Name]
		if !ok {
			issues = append(issues, fmt.Sprintf("table removed: %s", oldTable.Name))
			continue
		}
		kinds := make(map[string]string, len(newTable.Fields))
		for _, f := range newTable.Fields {
			kinds[f.Name] = f.Kind
		}
		for _, f := range oldTable.Fields {
			kind, ok := kinds[f.Name]
			switch {
			case !ok:
				issues = append(issues, fmt.Sprintf("table %s field removed: %s", oldTable.Name, f.Name))
			case kind != f.Kind:
				issues = append(issues, fmt.Sprintf("table %s field %s retyped: %s -> %s", oldTable.Name, f.Name, f.Kind, kind))
			}
		}
		if strings.Join(oldTable.Key, ",") != strings.Join(newTable.Key, ",") {
			issues = append(issues, fmt.Sprintf("table %s key changed: (%s) -> (%s)",
				oldTable.Name, strings.Join(oldTable.Key, ", "), strings.Join(newTable.Key, ", ")))
		}
	}
	sort.Strings(issues)
	return issues
}
