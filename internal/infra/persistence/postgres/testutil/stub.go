// Package testutil provides an in-memory database/sql driver that stands in
// for Postgres behind the catalog store. It understands the catalog DDL, the
// TRUNCATE / INSERT statements persist issues and the SELECTs used on load.
// Writes inside a transaction are staged and only applied on commit.
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

// Catalog table names.
const (
	TableProbeModels = "probe_models"
	TableProbes      = "probes"
)

// ModelRow is one probe_models row.
type ModelRow struct {
	Name         string
	Manufacturer string
	Model        string
	NDim         int64
	Payload      []byte
}

// ProbeRow is one probes row.
type ProbeRow struct {
	Name       string
	Identifier string
	ProbeModel string
}

// StubConn records statements and holds the committed catalog rows.
type StubConn struct {
	mu sync.Mutex

	Execs  []string
	Models []ModelRow
	Probes []ProbeRow

	FailExec   bool
	FailBegin  bool
	FailCommit bool
	FailTables map[string]bool
	RowsErr    error

	tx *stubTx
}

var drivers atomic.Int64

// NewStubDB registers a fresh driver and returns a sql.DB bound to it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{}
	name := fmt.Sprintf("ndxstubpg%d", drivers.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn. Every statement goes through ExecContext
// or QueryContext instead.
func (c *StubConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("stub: prepare not supported: %s", query)
}

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailExec {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	c.tx = &stubTx{conn: c, models: cloneModels(c.Models), probes: cloneProbes(c.Probes)}
	return c.tx, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	models, probes := &c.Models, &c.Probes
	if c.tx != nil {
		models, probes = &c.tx.models, &c.tx.probes
	}
	stmt := strings.TrimSpace(query)
	upper := strings.ToUpper(stmt)
	switch {
	case strings.HasPrefix(upper, "CREATE "):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(upper, "TRUNCATE TABLE"):
		for _, table := range splitList(stmt[len("TRUNCATE TABLE"):]) {
			switch table {
			case TableProbeModels:
				*models = nil
			case TableProbes:
				*probes = nil
			default:
				return nil, fmt.Errorf("stub: unknown table %s", table)
			}
		}
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(upper, "INSERT INTO"):
		table, cols, err := parseInsert(stmt)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		if len(cols) != len(args) {
			return nil, fmt.Errorf("stub: %d columns but %d args for %s", len(cols), len(args), table)
		}
		values := make(map[string]driver.Value, len(cols))
		for i, col := range cols {
			values[col] = args[i].Value
		}
		switch table {
		case TableProbeModels:
			row, err := modelFromValues(values)
			if err != nil {
				return nil, err
			}
			*models = append(*models, row)
		case TableProbes:
			*probes = append(*probes, ProbeRow{
				Name:       asString(values["name"]),
				Identifier: asString(values["identifier"]),
				ProbeModel: asString(values["probe_model"]),
			})
		default:
			return nil, fmt.Errorf("stub: unknown table %s", table)
		}
		return driver.RowsAffected(1), nil
	}
	return nil, fmt.Errorf("stub: unsupported statement: %s", stmt)
}

// QueryContext implements driver.QueryerContext. It returns committed rows.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	table, cols, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	var records []map[string]driver.Value
	switch table {
	case TableProbeModels:
		for _, m := range c.Models {
			records = append(records, map[string]driver.Value{
				"name": m.Name, "manufacturer": m.Manufacturer, "model": m.Model, "ndim": m.NDim, "payload": m.Payload,
			})
		}
	case TableProbes:
		for _, p := range c.Probes {
			records = append(records, map[string]driver.Value{
				"name": p.Name, "identifier": p.Identifier, "probe_model": p.ProbeModel,
			})
		}
	default:
		return nil, fmt.Errorf("stub: unknown table %s", table)
	}
	rows := &stubRows{cols: cols, err: c.RowsErr}
	for _, rec := range records {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			v, ok := rec[col]
			if !ok {
				return nil, fmt.Errorf("stub: unknown column %s.%s", table, col)
			}
			vals[i] = v
		}
		rows.rows = append(rows.rows, vals)
	}
	return rows, nil
}

// ModelNames returns the committed probe_models names in row order.
func (c *StubConn) ModelNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Models))
	for i, m := range c.Models {
		out[i] = m.Name
	}
	return out
}

// ProbeNames returns the committed probes names in row order.
func (c *StubConn) ProbeNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Probes))
	for i, p := range c.Probes {
		out[i] = p.Name
	}
	return out
}

type stubTx struct {
	conn   *StubConn
	models []ModelRow
	probes []ProbeRow
}

func (t *stubTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tx = nil
	if c.FailCommit {
		return fmt.Errorf("commit fail")
	}
	c.Models, c.Probes = t.models, t.probes
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	if t.conn.tx == t {
		t.conn.tx = nil
	}
	return nil
}

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

func modelFromValues(values map[string]driver.Value) (ModelRow, error) {
	row := ModelRow{
		Name:         asString(values["name"]),
		Manufacturer: asString(values["manufacturer"]),
		Model:        asString(values["model"]),
	}
	switch v := values["ndim"].(type) {
	case int64:
		row.NDim = v
	case nil:
	default:
		return ModelRow{}, fmt.Errorf("stub: probe_models.ndim has type %T", v)
	}
	switch v := values["payload"].(type) {
	case []byte:
		row.Payload = append([]byte(nil), v...)
	case string:
		row.Payload = []byte(v)
	case nil:
	default:
		return ModelRow{}, fmt.Errorf("stub: probe_models.payload has type %T", v)
	}
	return row, nil
}

func asString(v driver.Value) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}

func cloneModels(in []ModelRow) []ModelRow { return append([]ModelRow(nil), in...) }
func cloneProbes(in []ProbeRow) []ProbeRow { return append([]ProbeRow(nil), in...) }

func parseInsert(stmt string) (string, []string, error) {
	rest := strings.TrimSpace(stmt[len("INSERT INTO"):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("stub: cannot parse insert: %s", stmt)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	return table, splitList(rest[open+1 : closeIdx]), nil
}

func parseSelect(query string) (string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	if !strings.HasPrefix(lower, "select ") {
		return "", nil, fmt.Errorf("stub: cannot parse select: %s", query)
	}
	cols, from, ok := strings.Cut(lower[len("select "):], " from ")
	if !ok || strings.TrimSpace(from) == "" {
		return "", nil, fmt.Errorf("stub: cannot parse select: %s", query)
	}
	return strings.Fields(from)[0], splitList(cols), nil
}

func splitList(raw string) []string {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), ";")
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
