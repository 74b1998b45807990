// Package postgres provides a Postgres-backed device catalog that mirrors the
// in-memory semantics while storing probe models and probes in normalized
// tables created from the embedded DDL on startup.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"ndxchannels/internal/infra/persistence/memory"
	"ndxchannels/internal/schema/sqlbundle"
	"ndxchannels/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when NewStore receives an empty DSN.
	DefaultDSN = "postgres://localhost/ndxchannels?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	txMu sync.Mutex
}

// NewStore opens a Postgres-backed store using dsn, applies the catalog DDL
// and hydrates the in-memory store from the existing rows.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applyDDLStatements(ctx, db, sqlbundle.Postgres()); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

// RunInTransaction applies fn within a transaction, then writes the
// committed catalog to Postgres.
// When the write fails the in-memory catalog is rolled back to its state
// before fn.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	before := s.ExportState()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		s.ImportState(before)
		return res, err
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func applyDDLStatements(ctx context.Context, db execer, ddl string) error {
	for _, stmt := range sqlbundle.SplitStatements(ddl) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{
		ProbeModels: make(map[string]*domain.ProbeModel),
		Probes:      make(map[string]memory.ProbeRecord),
	}

	rows, err := db.QueryContext(ctx, `SELECT name, payload FROM probe_models`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select probe_models: %w", err)
	}
	for rows.Next() {
		var name string
		var payload []byte
		if err := rows.Scan(&name, &payload); err != nil {
			_ = rows.Close()
			return memory.Snapshot{}, fmt.Errorf("scan probe_models: %w", err)
		}
		var model domain.ProbeModel
		if err := json.Unmarshal(payload, &model); err != nil {
			_ = rows.Close()
			return memory.Snapshot{}, fmt.Errorf("decode probe model %s: %w", name, err)
		}
		snapshot.ProbeModels[name] = &model
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return memory.Snapshot{}, fmt.Errorf("iterate probe_models: %w", err)
	}
	_ = rows.Close()

	rows, err = db.QueryContext(ctx, `SELECT name, identifier, probe_model FROM probes`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select probes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var record memory.ProbeRecord
		if err := rows.Scan(&record.Name, &record.Identifier, &record.ProbeModel); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan probes: %w", err)
		}
		snapshot.Probes[record.Name] = record
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate probes: %w", err)
	}
	return snapshot, nil
}

// persist rewrites both catalog tables from the current snapshot.
func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `TRUNCATE TABLE probes, probe_models`); err != nil {
		return fmt.Errorf("truncate catalog: %w", err)
	}
	for _, name := range sortedNames(snapshot.ProbeModels) {
		model := snapshot.ProbeModels[name]
		payload, err := json.Marshal(model)
		if err != nil {
			return fmt.Errorf("encode probe model %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO probe_models (name, manufacturer, model, ndim, payload) VALUES ($1, $2, $3, $4, $5)`,
			name, model.Manufacturer(), model.Model(), model.NDim(), payload); err != nil {
			return fmt.Errorf("insert probe model %s: %w", name, err)
		}
	}
	for _, name := range sortedNames(snapshot.Probes) {
		record := snapshot.Probes[name]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO probes (name, identifier, probe_model) VALUES ($1, $2, $3)`,
			record.Name, record.Identifier, record.ProbeModel); err != nil {
			return fmt.Errorf("insert probe %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func sortedNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
