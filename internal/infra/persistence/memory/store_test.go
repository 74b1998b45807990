package memory

import (
	"context"
	"errors"
	"testing"

	"ndxchannels/pkg/domain"
)

func newModel(t *testing.T, name string, radius float64) *domain.ProbeModel {
	t.Helper()
	table := domain.NewContactsTable("", "")
	row := domain.ContactRow{
		RelativePosition: []float64{0, 0},
		Shape:            domain.ShapeCircle,
		RadiusInUM:       domain.Float(radius),
	}
	if err := table.AddRow(row); err != nil {
		t.Fatalf("add row: %v", err)
	}
	model, err := domain.NewProbeModel(domain.ProbeModelParams{Name: name, Manufacturer: "Neurodevices"}, table)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	return model
}

func newProbe(t *testing.T, name string, model *domain.ProbeModel) *domain.Probe {
	t.Helper()
	probe, err := domain.NewProbe(name, model, name+"-serial")
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	return probe
}

func TestStoreAddProbeSharesModel(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	model := newModel(t, "NP1", 5)
	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		if _, err := tx.AddProbe(newProbe(t, "probe0", model)); err != nil {
			return err
		}
		_, err := tx.AddProbe(newProbe(t, "probe1", model))
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if got := store.ListProbeModels(); len(got) != 1 || got[0].Name() != "NP1" {
		t.Fatalf("expected one shared model, got %v", got)
	}
	probes := store.ListProbes()
	if len(probes) != 2 || probes[0].Name() != "probe0" || probes[1].Name() != "probe1" {
		t.Fatalf("unexpected probes %v", probes)
	}
	if probes[0].ProbeModel() != probes[1].ProbeModel() {
		t.Fatalf("listed probes must share one model instance")
	}
	got, ok := store.GetProbe("probe1")
	if !ok || got.Identifier() != "probe1-serial" {
		t.Fatalf("unexpected probe %v", got)
	}
}

func TestStoreRejectsConflictingDevices(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.AddProbe(newProbe(t, "probe0", newModel(t, "NP1", 5)))
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cases := map[string]func(tx Transaction) error{
		"duplicate probe": func(tx Transaction) error {
			_, err := tx.AddProbe(newProbe(t, "probe0", newModel(t, "NP1", 5)))
			return err
		},
		"model differs": func(tx Transaction) error {
			_, err := tx.AddProbeModel(newModel(t, "NP1", 7))
			return err
		},
		"model named like probe": func(tx Transaction) error {
			_, err := tx.AddProbeModel(newModel(t, "probe0", 5))
			return err
		},
	}
	for name, fn := range cases {
		if _, err := store.RunInTransaction(ctx, fn); !errors.Is(err, domain.ErrDuplicateDevice) {
			t.Fatalf("%s: expected duplicate device error, got %v", name, err)
		}
	}
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.AddProbeModel(newModel(t, "NP1", 5))
		return err
	}); err != nil {
		t.Fatalf("re-adding an equal model must succeed: %v", err)
	}
}

func TestStoreRollsBackOnError(t *testing.T) {
	store := NewStore(nil)
	errStop := errors.New("stop")
	_, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.AddProbe(newProbe(t, "probe0", newModel(t, "NP1", 5))); err != nil {
			return err
		}
		if _, ok := tx.Snapshot().FindProbe("probe0"); !ok {
			t.Fatalf("probe must be visible inside the transaction")
		}
		return errStop
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("expected stop error, got %v", err)
	}
	if len(store.ListProbes()) != 0 || len(store.ListProbeModels()) != 0 {
		t.Fatalf("failed transaction must not commit")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block_all" }

func (blockingRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	if len(changes) == 0 {
		return domain.Result{}, nil
	}
	return domain.Result{Violations: []domain.Violation{{Rule: "block_all", Severity: domain.SeverityBlock}}}, nil
}

func TestStoreBlockingRuleAbortsCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockingRule{})
	store := NewStore(engine)
	res, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.AddProbeModel(newModel(t, "NP1", 5))
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if !res.HasBlocking() {
		t.Fatalf("expected blocking result")
	}
	if _, ok := store.GetProbeModel("NP1"); ok {
		t.Fatalf("blocked transaction must not commit")
	}
	if store.RulesEngine() != engine {
		t.Fatalf("expected configured engine")
	}
}

func TestStoreDeleteProbeKeepsModel(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.AddProbe(newProbe(t, "probe0", newModel(t, "NP1", 5)))
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteProbe("probe0")
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.GetProbe("probe0"); ok {
		t.Fatalf("probe must be gone")
	}
	if _, ok := store.GetProbeModel("NP1"); !ok {
		t.Fatalf("model must remain")
	}
	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.DeleteProbe("probe0")
	})
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) || notFound.Name != "probe0" {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreReturnsDetachedCopies(t *testing.T) {
	store := NewStore(nil)
	model := newModel(t, "NP1", 5)
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.AddProbeModel(model)
		return err
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, _ := store.GetProbeModel("NP1")
	if got == model {
		t.Fatalf("store must not hand back the caller's instance")
	}
	if !got.Equal(model) {
		t.Fatalf("stored model differs from input")
	}
	if err := got.Contacts().AddRow(domain.ContactRow{RelativePosition: []float64{0, 20}, Shape: domain.ShapeCircle, RadiusInUM: domain.Float(5)}); err != nil {
		t.Fatalf("mutating copy: %v", err)
	}
	again, _ := store.GetProbeModel("NP1")
	if again.Contacts().Len() != 1 {
		t.Fatalf("mutating a returned copy leaked into the store")
	}
}

func TestStoreExportImportState(t *testing.T) {
	store := NewStore(nil)
	if _, err := store.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.AddProbe(newProbe(t, "probe0", newModel(t, "NP1", 5)))
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	snapshot := store.ExportState()
	snapshot.Probes["orphan"] = ProbeRecord{Name: "orphan", ProbeModel: "missing"}

	restored := NewStore(nil)
	restored.ImportState(snapshot)
	if _, ok := restored.GetProbe("orphan"); ok {
		t.Fatalf("probe without model must be dropped on import")
	}
	probe, ok := restored.GetProbe("probe0")
	if !ok || probe.ProbeModel().Name() != "NP1" {
		t.Fatalf("expected restored probe, got %v", probe)
	}
	err := restored.View(context.Background(), func(view TransactionView) error {
		if len(view.ListProbes()) != 1 {
			t.Fatalf("expected one probe in view")
		}
		if _, ok := view.FindProbeModel("NP1"); !ok {
			t.Fatalf("expected model in view")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
