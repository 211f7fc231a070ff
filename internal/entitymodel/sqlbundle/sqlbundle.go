// Package sqlbundle renders the schema registry as DDL for the relational
// exporters and fetches the published ODM creation script.
package sqlbundle

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"odmcore/pkg/schema"
)

// Dialect selects the SQL flavour to render.
type Dialect string

const (
	// DialectSQLite targets modernc.org/sqlite.
	DialectSQLite Dialect = "sqlite"
	// DialectPostgres targets Postgres through pgx.
	DialectPostgres Dialect = "postgres"
)

// DefaultURL is the published SQLite creation script of the ODM.
const DefaultURL = "https://raw.githubusercontent.com/Big-Life-Lab/covid-19-wastewater/dev/src/wbe_create_table_SQLITE_en.sql"

// ErrFetch wraps every failure to retrieve a remote script.
var ErrFetch = errors.New("sqlbundle: fetch ddl")

// Quote quotes an identifier for both dialects.
func Quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ColumnType maps a field kind to a column type.
func ColumnType(d Dialect, k schema.Kind) string {
	switch d {
	case DialectPostgres:
		switch k {
		case schema.KindNumeric:
			return "DOUBLE PRECISION"
		case schema.KindTimestamp:
			return "TIMESTAMPTZ"
		case schema.KindBool:
			return "BOOLEAN"
		}
	default:
		switch k {
		case schema.KindNumeric:
			return "REAL"
		case schema.KindBool:
			return "INTEGER"
		}
	}
	return "TEXT"
}

// CreateTable renders one CREATE TABLE IF NOT EXISTS statement.
func CreateTable(d Dialect, t schema.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", Quote(t.Name))
	for _, f := range t.Fields {
		fmt.Fprintf(&b, "    %s %s,\n", Quote(f.Name), ColumnType(d, f.Kind))
	}
	keys := make([]string, len(t.Key))
	for i, k := range t.Key {
		keys[i] = Quote(k)
	}
	fmt.Fprintf(&b, "    PRIMARY KEY (%s)\n);\n", strings.Join(keys, ", "))
	return b.String()
}

// Generate renders the DDL of every registry table.
func Generate(d Dialect) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- ODM tables, %s dialect\n", d)
	for _, t := range schema.Tables() {
		b.WriteString(CreateTable(d, t))
	}
	return b.String()
}

// SQLite returns the generated SQLite DDL.
func SQLite() string { return Generate(DialectSQLite) }

// Postgres returns the generated Postgres DDL.
func Postgres() string { return Generate(DialectPostgres) }

// Fetch downloads a DDL script. A nil client means http.DefaultClient.
// Every failure matches ErrFetch.
func Fetch(ctx context.Context, client *http.Client, url string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s returned %s", ErrFetch, url, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return string(body), nil
}

// SplitStatements splits a semicolon-terminated DDL script into executable statements.
// It drops blank lines and single-line comments that start with "--".
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return stmts
}
