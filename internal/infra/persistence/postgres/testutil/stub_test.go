package testutil

import (
	"context"
	"database/sql/driver"
	"strings"
	"testing"
)

func insertProbe(t *testing.T, conn *StubConn, name, model string) {
	t.Helper()
	_, err := conn.ExecContext(context.Background(), "INSERT INTO probes (name, identifier, probe_model) VALUES ($1, $2, $3)", []driver.NamedValue{
		{Value: name}, {Value: "SN-" + name}, {Value: model},
	})
	if err != nil {
		t.Fatalf("insert %s: %v", name, err)
	}
}

func TestStubCapturesCatalogRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	_, err := conn.ExecContext(ctx, "INSERT INTO probe_models (name, manufacturer, model, ndim, payload) VALUES ($1, $2, $3, $4, $5)", []driver.NamedValue{
		{Value: "NP1"}, {Value: "IMEC"}, {Value: "Neuropixels 1.0"}, {Value: int64(2)}, {Value: []byte(`{}`)},
	})
	if err != nil {
		t.Fatalf("insert model: %v", err)
	}
	insertProbe(t, conn, "probe0", "NP1")

	want := ModelRow{Name: "NP1", Manufacturer: "IMEC", Model: "Neuropixels 1.0", NDim: 2, Payload: []byte(`{}`)}
	if got := conn.Models[0]; got.Name != want.Name || got.Model != want.Model || got.NDim != want.NDim || string(got.Payload) != string(want.Payload) {
		t.Fatalf("unexpected model row %+v", got)
	}
	if got := conn.Probes[0]; got != (ProbeRow{Name: "probe0", Identifier: "SN-probe0", ProbeModel: "NP1"}) {
		t.Fatalf("unexpected probe row %+v", got)
	}

	rows, err := conn.QueryContext(ctx, "SELECT probe_model, name FROM probes", nil)
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	defer func() { _ = rows.Close() }()
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != "NP1" || dest[1] != "probe0" {
		t.Fatalf("unexpected row values: %v", dest)
	}
}

func TestStubStagesWritesUntilCommit(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	insertProbe(t, conn, "probe0", "NP1")

	tx, err := conn.BeginTx(ctx, driver.TxOptions{})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := conn.ExecContext(ctx, "TRUNCATE TABLE probes, probe_models", nil); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	insertProbe(t, conn, "probe1", "NP1")
	if got := conn.ProbeNames(); len(got) != 1 || got[0] != "probe0" {
		t.Fatalf("staged writes must not be visible before commit, got %v", got)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if got := conn.ProbeNames(); len(got) != 1 || got[0] != "probe0" {
		t.Fatalf("rollback must discard staged writes, got %v", got)
	}

	tx, _ = conn.BeginTx(ctx, driver.TxOptions{})
	if _, err := conn.ExecContext(ctx, "TRUNCATE TABLE probes", nil); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	insertProbe(t, conn, "probe2", "NP1")
	conn.FailCommit = true
	if err := tx.Commit(); err == nil {
		t.Fatalf("expected commit failure")
	}
	if got := conn.ProbeNames(); len(got) != 1 || got[0] != "probe0" {
		t.Fatalf("failed commit must keep committed rows, got %v", got)
	}

	conn.FailCommit = false
	tx, _ = conn.BeginTx(ctx, driver.TxOptions{})
	insertProbe(t, conn, "probe3", "NP1")
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := conn.ProbeNames(); len(got) != 2 || got[1] != "probe3" {
		t.Fatalf("commit must apply staged writes, got %v", got)
	}
}

func TestStubRejectsUnknownStatements(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	cases := map[string]string{
		"update":           "UPDATE probes SET name = $1",
		"unknown insert":   "INSERT INTO sessions (name) VALUES ($1)",
		"unknown truncate": "TRUNCATE TABLE sessions",
	}
	for name, stmt := range cases {
		if _, err := conn.ExecContext(ctx, stmt, []driver.NamedValue{{Value: "x"}}); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := conn.ExecContext(ctx, "INSERT INTO probes (name, identifier) VALUES ($1)", []driver.NamedValue{{Value: "x"}}); err == nil || !strings.Contains(err.Error(), "args") {
		t.Fatalf("expected column/arg mismatch, got %v", err)
	}
	insertProbe(t, conn, "probe0", "NP1")
	if _, err := conn.QueryContext(ctx, "SELECT missing FROM probes", nil); err == nil {
		t.Fatalf("expected unknown column error")
	}
	if _, err := conn.QueryContext(ctx, "SELECT name FROM sessions", nil); err == nil {
		t.Fatalf("expected unknown table error")
	}
	if _, err := conn.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS probes (name TEXT)", nil); err != nil {
		t.Fatalf("DDL is accepted: %v", err)
	}
}
