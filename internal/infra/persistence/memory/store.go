// Package memory provides an in-memory implementation of the device catalog
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ndxchannels/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Probe aliases domain.Probe for in-memory persistence operations.
	Probe = domain.Probe
	// ProbeModel aliases domain.ProbeModel.
	ProbeModel = domain.ProbeModel
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// ProbeRecord is the stored form of a probe. The model is referenced by name.
type ProbeRecord struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier,omitempty"`
	ProbeModel string `json:"probe_model"`
}

// stored models are never mutated in place, so cloning the maps is enough
// for copy-on-write transactions.
type memoryState struct {
	models map[string]*ProbeModel
	probes map[string]ProbeRecord
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	ProbeModels map[string]*ProbeModel `json:"probe_models"`
	Probes      map[string]ProbeRecord `json:"probes"`
}

func newMemoryState() memoryState {
	return memoryState{
		models: make(map[string]*ProbeModel),
		probes: make(map[string]ProbeRecord),
	}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		models: make(map[string]*ProbeModel, len(s.models)),
		probes: make(map[string]ProbeRecord, len(s.probes)),
	}
	for k, v := range s.models {
		out.models[k] = v
	}
	for k, v := range s.probes {
		out.probes[k] = v
	}
	return out
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		ProbeModels: make(map[string]*ProbeModel, len(state.models)),
		Probes:      make(map[string]ProbeRecord, len(state.probes)),
	}
	for k, v := range state.models {
		s.ProbeModels[k] = v.Clone()
	}
	for k, v := range state.probes {
		s.Probes[k] = v
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.ProbeModels {
		if v == nil {
			continue
		}
		state.models[k] = v.Clone()
	}
	for k, v := range s.Probes {
		state.probes[k] = v
	}
	return state
}

// migrateSnapshot keys every record by its own name and drops probes whose
// model is missing from the snapshot.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	out := Snapshot{
		ProbeModels: make(map[string]*ProbeModel, len(snapshot.ProbeModels)),
		Probes:      make(map[string]ProbeRecord, len(snapshot.Probes)),
	}
	for _, model := range snapshot.ProbeModels {
		if model == nil {
			continue
		}
		out.ProbeModels[model.Name()] = model
	}
	for key, record := range snapshot.Probes {
		if record.Name == "" {
			record.Name = key
		}
		if _, ok := out.ProbeModels[record.ProbeModel]; !ok {
			continue
		}
		if _, clash := out.ProbeModels[record.Name]; clash {
			continue
		}
		out.Probes[record.Name] = record
	}
	return out
}

// Store provides an in-memory transactional store for the device catalog.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

type transaction struct {
	state   memoryState
	changes []Change
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListProbes returns all probes in the snapshot ordered by name. Probes that
// share a model share the returned model copy.
func (v transactionView) ListProbes() []*Probe {
	models := make(map[string]*ProbeModel)
	out := make([]*Probe, 0, len(v.state.probes))
	for _, name := range sortedKeys(v.state.probes) {
		record := v.state.probes[name]
		model, ok := models[record.ProbeModel]
		if !ok {
			model = v.state.models[record.ProbeModel].Clone()
			models[record.ProbeModel] = model
		}
		if probe, ok := materialize(record, model); ok {
			out = append(out, probe)
		}
	}
	return out
}

// ListProbeModels returns all probe models ordered by name.
func (v transactionView) ListProbeModels() []*ProbeModel {
	out := make([]*ProbeModel, 0, len(v.state.models))
	for _, name := range sortedKeys(v.state.models) {
		out = append(out, v.state.models[name].Clone())
	}
	return out
}

// FindProbe retrieves a probe by name from the snapshot.
func (v transactionView) FindProbe(name string) (*Probe, bool) {
	return findProbe(v.state, name)
}

// FindProbeModel retrieves a probe model by name from the snapshot.
func (v transactionView) FindProbeModel(name string) (*ProbeModel, bool) {
	return findProbeModel(v.state, name)
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{state: s.state.clone()}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindProbe exposes probe lookup within the transaction scope.
func (tx *transaction) FindProbe(name string) (*Probe, bool) {
	return findProbe(&tx.state, name)
}

// FindProbeModel exposes model lookup within the transaction scope.
func (tx *transaction) FindProbeModel(name string) (*ProbeModel, bool) {
	return findProbeModel(&tx.state, name)
}

// AddProbeModel stores a design. Adding a model equal to the stored one of
// the same name is a no-op; any other name collision fails.
func (tx *transaction) AddProbeModel(model *ProbeModel) (*ProbeModel, error) {
	if model == nil {
		return nil, fmt.Errorf("add probe model: nil model")
	}
	name := model.Name()
	if _, clash := tx.state.probes[name]; clash {
		return nil, domain.DuplicateDeviceError{Name: name}
	}
	if existing, ok := tx.state.models[name]; ok {
		if !existing.Equal(model) {
			return nil, domain.DuplicateDeviceError{Name: name}
		}
		return existing.Clone(), nil
	}
	stored := model.Clone()
	tx.state.models[name] = stored
	tx.recordChange(Change{Entity: domain.EntityProbeModel, Action: domain.ActionCreate, Name: name, After: stored.Clone()})
	return stored.Clone(), nil
}

// AddProbe stores a probe, linking it to the stored model of the same name
// or adding the model when it is new.
func (tx *transaction) AddProbe(probe *Probe) (*Probe, error) {
	if probe == nil {
		return nil, fmt.Errorf("add probe: nil probe")
	}
	name := probe.Name()
	if _, clash := tx.state.probes[name]; clash {
		return nil, domain.DuplicateDeviceError{Name: name}
	}
	if _, clash := tx.state.models[name]; clash {
		return nil, domain.DuplicateDeviceError{Name: name}
	}
	model, err := tx.AddProbeModel(probe.ProbeModel())
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", name, err)
	}
	record := ProbeRecord{Name: name, Identifier: probe.Identifier(), ProbeModel: model.Name()}
	tx.state.probes[name] = record
	stored, _ := materialize(record, model)
	tx.recordChange(Change{Entity: domain.EntityProbe, Action: domain.ActionCreate, Name: name, After: stored})
	return stored, nil
}

// DeleteProbe removes a probe. Its model stays in the catalog.
func (tx *transaction) DeleteProbe(name string) error {
	current, ok := findProbe(&tx.state, name)
	if !ok {
		return domain.ErrNotFound{Kind: string(domain.EntityProbe), Name: name}
	}
	delete(tx.state.probes, name)
	tx.recordChange(Change{Entity: domain.EntityProbe, Action: domain.ActionDelete, Name: name, Before: current})
	return nil
}

// GetProbe returns a probe by name.
func (s *Store) GetProbe(name string) (*Probe, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findProbe(&s.state, name)
}

// GetProbeModel returns a probe model by name.
func (s *Store) GetProbeModel(name string) (*ProbeModel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findProbeModel(&s.state, name)
}

// ListProbes returns all stored probes ordered by name.
func (s *Store) ListProbes() []*Probe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListProbes()
}

// ListProbeModels returns all stored probe models ordered by name.
func (s *Store) ListProbeModels() []*ProbeModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newTransactionView(&s.state).ListProbeModels()
}

func findProbe(state *memoryState, name string) (*Probe, bool) {
	record, ok := state.probes[name]
	if !ok {
		return nil, false
	}
	model, ok := state.models[record.ProbeModel]
	if !ok {
		return nil, false
	}
	return materialize(record, model.Clone())
}

func findProbeModel(state *memoryState, name string) (*ProbeModel, bool) {
	model, ok := state.models[name]
	if !ok {
		return nil, false
	}
	return model.Clone(), true
}

func materialize(record ProbeRecord, model *ProbeModel) (*Probe, bool) {
	if model == nil {
		return nil, false
	}
	probe, err := domain.NewProbe(record.Name, model, record.Identifier)
	if err != nil {
		return nil, false
	}
	return probe, true
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
