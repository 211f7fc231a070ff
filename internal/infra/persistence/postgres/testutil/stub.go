// Package testutil provides a recording stub database for postgres exporter
// tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgconn"
)

// Exec is one recorded statement.
type Exec struct {
	Query string
	Args  []driver.Value
}

// Table is the canned result of selecting from one table.
type Table struct {
	Columns []string
	Rows    [][]driver.Value
}

// StubConn records statements and serves canned query results.
type StubConn struct {
	mu   sync.Mutex
	name string

	Execs     []Exec
	Tables    map[string]Table
	Missing   map[string]bool
	Commits   int
	Rollbacks int

	FailPing   bool
	FailBegin  bool
	FailCommit bool
	// FailExec makes every statement containing it fail.
	FailExec string
}

var seq atomic.Int64

// NewStubDB registers a driver backed by a fresh stub connection and opens
// a sql.DB on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string]Table), Missing: make(map[string]bool)}
	conn.name = fmt.Sprintf("stubpg%d", seq.Add(1))
	sql.Register(conn.name, &stubDriver{conn: conn})
	return conn.DB(), conn
}

// DB opens another sql.DB sharing the stub connection, for callers that
// close the handle they are given.
func (c *StubConn) DB() *sql.DB {
	db, err := sql.Open(c.name, "stub")
	if err != nil {
		panic(err)
	}
	return db
}

// Statements returns the recorded statements that contain substr.
func (c *StubConn) Statements(substr string) []Exec {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Exec
	for _, e := range c.Execs {
		if strings.Contains(e.Query, substr) {
			out = append(out, e)
		}
	}
	return out
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vals := make([]driver.Value, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	c.Execs = append(c.Execs, Exec{Query: query, Args: vals})
	if c.FailExec != "" && strings.Contains(query, c.FailExec) {
		return nil, fmt.Errorf("exec fail")
	}
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext. The table is the quoted
// identifier following FROM.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	table, err := fromTable(query)
	if err != nil {
		return nil, err
	}
	if c.Missing[table] {
		return nil, &pgconn.PgError{Code: "42P01", Message: fmt.Sprintf("relation %q does not exist", table)}
	}
	t := c.Tables[table]
	return &stubRows{cols: t.Columns, rows: t.Rows}, nil
}

func fromTable(query string) (string, error) {
	i := strings.LastIndex(query, " FROM ")
	if i < 0 {
		return "", fmt.Errorf("cannot parse select: %s", query)
	}
	fields := strings.Fields(query[i+len(" FROM "):])
	if len(fields) == 0 {
		return "", fmt.Errorf("cannot parse select: %s", query)
	}
	return strings.Trim(fields[0], `"`), nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	t.conn.Commits++
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.Rollbacks++
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
