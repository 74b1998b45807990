package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"ndxchannels/pkg/domain"
)

func seedProbe(t *testing.T, name, modelName string) *domain.Probe {
	t.Helper()
	table := domain.NewContactsTable("", "")
	for i, y := range []float64{0, 20} {
		row := domain.ContactRow{
			RelativePosition: []float64{0, y},
			Shape:            domain.ShapeCircle,
			RadiusInUM:       domain.Float(5),
			WidthInUM:        domain.Float(domain.NotApplicable()),
			DeviceChannel:    domain.Int(i),
		}
		if err := table.AddRow(row); err != nil {
			t.Fatalf("add row: %v", err)
		}
	}
	model, err := domain.NewProbeModel(domain.ProbeModelParams{
		Name:              modelName,
		Manufacturer:      "Neurodevices",
		PlanarContourInUM: [][]float64{{-10, -10}, {10, -10}, {0, 40}},
	}, table)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	probe, err := domain.NewProbe(name, model, "SN-"+name)
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	return probe
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "catalog.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	want := seedProbe(t, "probe0", "NP1")
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.AddProbe(want); err != nil {
			return err
		}
		_, err := tx.AddProbe(seedProbe(t, "probe1", "NP1"))
		return err
	}); err != nil {
		t.Fatalf("add probes: %v", err)
	}
	if store.Path() != path {
		t.Fatalf("unexpected path %s", store.Path())
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	if got := len(reloaded.ListProbes()); got != 2 {
		t.Fatalf("expected 2 probes, got %d", got)
	}
	if got := len(reloaded.ListProbeModels()); got != 1 {
		t.Fatalf("expected 1 shared model, got %d", got)
	}
	got, ok := reloaded.GetProbe("probe0")
	if !ok || !got.Equal(want) {
		t.Fatalf("reloaded probe differs: %v", got)
	}
	if _, present := got.ProbeModel().Contacts().ShapeParam(domain.ColumnWidth); !present {
		t.Fatalf("expected width column to survive reload")
	}
}

func TestSQLiteStoreCreatesStateTable(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	var tableName string
	if err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", "state").Scan(&tableName); err != nil {
		t.Fatalf("lookup state table: %v", err)
	}
	if tableName != "state" {
		t.Fatalf("expected state table, got %s", tableName)
	}
	if len(store.ListProbes()) != 0 {
		t.Fatalf("fresh store must be empty")
	}
}

func TestSQLiteStoreFailedTransactionNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.AddProbe(seedProbe(t, "probe0", "NP1")); err != nil {
			return err
		}
		_, err := tx.AddProbe(seedProbe(t, "probe0", "NP1"))
		return err
	})
	if err == nil {
		t.Fatalf("expected duplicate probe error")
	}
	_ = store.Close()
	reloaded, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	if len(reloaded.ListProbes()) != 0 {
		t.Fatalf("failed transaction must not persist")
	}
}

func TestSQLiteStoreWriteFailureRollsBackCatalog(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.AddProbe(seedProbe(t, "probe0", "NP1"))
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := store.DB().Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if err := tx.DeleteProbe("probe0"); err != nil {
			return err
		}
		_, err := tx.AddProbe(seedProbe(t, "probe1", "NP2"))
		return err
	})
	if err == nil {
		t.Fatalf("expected write to a closed database to fail")
	}
	if _, ok := store.GetProbe("probe1"); ok {
		t.Fatalf("probe1 must not be visible after a failed write")
	}
	if _, ok := store.GetProbeModel("NP2"); ok {
		t.Fatalf("NP2 must not be visible after a failed write")
	}
	if _, ok := store.GetProbe("probe0"); !ok {
		t.Fatalf("probe0 must survive the rolled back delete")
	}
}
