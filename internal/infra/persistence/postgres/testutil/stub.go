// Package testutil provides a normalized stub database for postgres store tests.
// It understands the narrow statement shapes the experiment store issues:
// CREATE TABLE, INSERT with ON CONFLICT, DELETE and SELECT with a single
// equality predicate, and UPDATE ... SET col = col + 1 ... RETURNING.
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
)

// StubConn records normalized statements for the postgres store during tests.
type StubConn struct {
	mu         sync.Mutex
	Execs      []string
	Tables     map[string][]map[string]any
	FailExec   bool
	FailBegin  bool
	RowsErr    error
	FailTables map[string]bool
	FailCommit bool
}

var stubSeq atomic.Int64

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Rows returns a copy of the rows stored for table.
func (c *StubConn) Rows(table string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.Tables[table]))
	for _, row := range c.Tables[table] {
		cp := make(map[string]any, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

// SetRows replaces the rows stored for table.
func (c *StubConn) SetRows(table string, rows []map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Tables[table] = rows
}

// Statements returns the normalized statements executed so far.
func (c *StubConn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Execs...)
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailExec {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	query = normalize(query)
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	up := strings.ToUpper(query)
	switch {
	case strings.HasPrefix(up, "INSERT INTO"):
		return c.insert(query, args)
	case strings.HasPrefix(up, "DELETE FROM"):
		table, col, err := parseWhere(query, "delete from ")
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("missing args for delete %s", table)
		}
		var (
			filtered []map[string]any
			n        int64
		)
		for _, row := range c.Tables[table] {
			if row[col] == args[0].Value {
				n++
				continue
			}
			filtered = append(filtered, row)
		}
		c.Tables[table] = filtered
		return driver.RowsAffected(n), nil
	}
	return driver.RowsAffected(0), nil
}

func (c *StubConn) insert(query string, args []driver.NamedValue) (driver.Result, error) {
	table, cols, err := parseInsert(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("exec fail for %s", table)
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("column/arg mismatch for %s", table)
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	if conflict, ok := parseConflict(query); ok {
		for _, existing := range c.Tables[table] {
			if existing[conflict] != row[conflict] {
				continue
			}
			if strings.Contains(strings.ToUpper(query), "DO NOTHING") {
				return driver.RowsAffected(0), nil
			}
			for k, v := range row {
				existing[k] = v
			}
			return driver.RowsAffected(1), nil
		}
	}
	c.Tables[table] = append(c.Tables[table], row)
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	query = normalize(query)
	if strings.HasPrefix(strings.ToUpper(query), "UPDATE ") {
		c.Execs = append(c.Execs, query)
		return c.increment(query, args)
	}
	table, cols, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	var (
		whereCol string
		hasWhere = strings.Contains(strings.ToLower(query), " where ")
	)
	if hasWhere {
		if _, whereCol, err = parseWhere(query, "select "); err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("missing args for select %s", table)
		}
	}
	values := make([][]driver.Value, 0, len(c.Tables[table]))
	for _, row := range c.Tables[table] {
		if hasWhere && row[whereCol] != args[0].Value {
			continue
		}
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values, err: c.RowsErr}, nil
}

// increment handles UPDATE t SET col = col + 1 WHERE key = $1 RETURNING col.
func (c *StubConn) increment(query string, args []driver.NamedValue) (driver.Rows, error) {
	fields := strings.Fields(query)
	if len(fields) < 2 {
		return nil, fmt.Errorf("cannot parse update: %s", query)
	}
	table := strings.ToLower(fields[1])
	if c.FailExec || c.FailTables[table] {
		return nil, fmt.Errorf("exec fail for %s", table)
	}
	lower := strings.ToLower(query)
	setIdx := strings.Index(lower, " set ")
	whereIdx := strings.Index(lower, " where ")
	retIdx := strings.Index(lower, " returning ")
	if setIdx == -1 || whereIdx == -1 || retIdx == -1 || len(args) == 0 {
		return nil, fmt.Errorf("cannot parse update: %s", query)
	}
	col := strings.TrimSpace(strings.SplitN(lower[setIdx+len(" set "):whereIdx], "=", 2)[0])
	key := strings.TrimSpace(strings.SplitN(lower[whereIdx+len(" where "):retIdx], "=", 2)[0])
	ret := strings.TrimSpace(lower[retIdx+len(" returning "):])
	var values [][]driver.Value
	for _, row := range c.Tables[table] {
		if row[key] != args[0].Value {
			continue
		}
		v, _ := row[col].(int64)
		row[col] = v + 1
		values = append(values, []driver.Value{row[ret]})
	}
	return &stubRows{cols: []string{ret}, rows: values, err: c.RowsErr}, nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	return nil
}
func (t *stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	cols := splitColumns(rest[open+1 : closeIdx])
	return table, cols, nil
}

func parseConflict(query string) (string, bool) {
	lower := strings.ToLower(query)
	idx := strings.Index(lower, "on conflict (")
	if idx == -1 {
		return "", false
	}
	rest := lower[idx+len("on conflict ("):]
	end := strings.Index(rest, ")")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// parseWhere extracts the table and the column of a single equality predicate.
func parseWhere(query, prefix string) (string, string, error) {
	lower := strings.ToLower(query)
	if !strings.HasPrefix(lower, prefix) {
		return "", "", fmt.Errorf("cannot parse statement: %s", query)
	}
	whereIdx := strings.Index(lower, " where ")
	if whereIdx == -1 {
		return "", "", fmt.Errorf("cannot parse statement: %s", query)
	}
	table := ""
	if fromIdx := strings.Index(lower, " from "); fromIdx != -1 && fromIdx < whereIdx {
		table = strings.TrimSpace(lower[fromIdx+len(" from ") : whereIdx])
	} else {
		table = strings.TrimSpace(lower[len(prefix):whereIdx])
	}
	where := lower[whereIdx+len(" where "):]
	parts := strings.SplitN(where, "=", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("cannot parse predicate: %s", query)
	}
	return table, strings.TrimSpace(parts[0]), nil
}

func parseSelect(query string) (string, []string, error) {
	lower := strings.ToLower(query)
	selectPrefix := "select "
	fromToken := " from "
	if !strings.HasPrefix(lower, selectPrefix) {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, fromToken)
	if fromIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	cols := query[len(selectPrefix):fromIdx]
	table := strings.TrimSpace(query[fromIdx+len(fromToken):])
	if table == "" {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	table = strings.Fields(table)[0]
	return strings.ToLower(table), splitColumns(cols), nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
