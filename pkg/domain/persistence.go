package domain

import "context"

// Transaction exposes the catalog operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	// AddProbeModel stores a design. An equal model under the same name is a no-op.
	AddProbeModel(*ProbeModel) (*ProbeModel, error)
	// AddProbe stores a probe and links it to the stored model of the same
	// name, adding the model when it is new.
	AddProbe(*Probe) (*Probe, error)
	DeleteProbe(name string) error
	FindProbe(name string) (*Probe, bool)
	FindProbeModel(name string) (*ProbeModel, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListProbes() []*Probe
	ListProbeModels() []*ProbeModel
	FindProbe(name string) (*Probe, bool)
	FindProbeModel(name string) (*ProbeModel, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetProbe(name string) (*Probe, bool)
	GetProbeModel(name string) (*ProbeModel, bool)
	ListProbes() []*Probe
	ListProbeModels() []*ProbeModel
}
