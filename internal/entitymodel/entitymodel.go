// Package entitymodel publishes the canonical table registry: a stable
// fingerprint used to stamp exports, a YAML document served over HTTP and a
// diff against a stored baseline that flags breaking schema changes.
package entitymodel

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"

	"odmcore/pkg/schema"
)

// Field is the published form of a schema field.
type Field struct {
	Name string `yaml:"name" json:"name"`
	Kind string `yaml:"kind" json:"kind"`
}

// Table is the published form of a schema table.
type Table struct {
	Name   string   `yaml:"name" json:"name"`
	Key    []string `yaml:"key" json:"key"`
	Fields []Field  `yaml:"fields" json:"fields"`
}

// Document is the registry as served to clients.
type Document struct {
	Version string  `yaml:"version" json:"version"`
	Tables  []Table `yaml:"tables" json:"tables"`
}

// Describe converts the registry into its published form.
func Describe() Document {
	tables := schema.Tables()
	doc := Document{Version: Version(), Tables: make([]Table, len(tables))}
	for i, t := range tables {
		out := Table{Name: t.Name, Key: append([]string(nil), t.Key...)}
		for _, f := range t.Fields {
			out.Fields = append(out.Fields, Field{Name: f.Name, Kind: string(f.Kind)})
		}
		doc.Tables[i] = out
	}
	return doc
}

// Version fingerprints the registry: the first 12 hex digits of a SHA-256
// over every table, key and field. It changes whenever a column is added,
// removed, renamed or retyped.
func Version() string {
	h := sha256.New()
	for _, t := range schema.Tables() {
		h.Write([]byte(t.Name + "|" + strings.Join(t.Key, ",") + "\n"))
		for _, f := range t.Fields {
			h.Write([]byte(f.Name + ":" + string(f.Kind) + "\n"))
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// YAML renders Describe as YAML.
func YAML() ([]byte, error) {
	return yaml.Marshal(Describe())
}

// NewSchemaHandler serves the registry document as YAML.
func NewSchemaHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		body, err := YAML()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
}
