// Package core is the application layer over the device catalog: it imports
// and exports probeinterface documents, stores probes transactionally and
// archives them to blob storage.
package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ndxchannels/docs/schema"
	"ndxchannels/internal/blob"
	"ndxchannels/internal/infra/persistence/memory"
	"ndxchannels/internal/logging"
	"ndxchannels/pkg/convert"
	"ndxchannels/pkg/domain"
	"ndxchannels/pkg/probeinterface"
)

// Operation names reported to metrics, traces and logs.
const (
	OpImportProbeInterface = "import_probeinterface"
	OpExportProbeInterface = "export_probeinterface"
	OpArchiveProbe         = "archive_probe"
	OpRestoreProbe         = "restore_probe"
	OpDeleteProbe          = "delete_probe"
)

// ArchivePrefix is the blob key prefix of archived probes.
const ArchivePrefix = "probes/"

// EnvMetrics selects the metrics exporter in NewServiceFromEnv: expvar,
// prometheus, or empty for none.
const EnvMetrics = "NDXCHANNELS_METRICS"

// ErrNoBlobStore is returned by archive operations on a service built without WithBlobStore.
var ErrNoBlobStore = errors.New("core: no blob store configured")

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger    *logging.Logger
	metrics   MetricsRecorder
	tracer    Tracer
	clock     Clock
	blobs     blob.Store
	converter *convert.Converter
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger:  logging.NewNop(),
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *logging.Logger) ServiceOption {
	return func(o *serviceOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsRecorder sets the operation metrics recorder. A recorder that
// also implements convert.MetricsObserver receives conversion metrics.
func WithMetricsRecorder(m MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer wrapped around each operation.
func WithTracer(t Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithClock overrides the clock used to time operations.
func WithClock(c Clock) ServiceOption {
	return func(o *serviceOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithBlobStore enables ArchiveProbe and RestoreProbe.
func WithBlobStore(b blob.Store) ServiceOption {
	return func(o *serviceOptions) { o.blobs = b }
}

// WithConverter replaces the converter built from the logger and metrics options.
func WithConverter(c *convert.Converter) ServiceOption {
	return func(o *serviceOptions) { o.converter = c }
}

// Service exposes transactional catalog operations.
type Service struct {
	store     domain.PersistentStore
	blobs     blob.Store
	converter *convert.Converter
	log       *logging.Logger
	metrics   MetricsRecorder
	tracer    Tracer
	clock     Clock
}

// NewService constructs a service backed by store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	converter := o.converter
	if converter == nil {
		convOpts := []convert.Option{convert.WithLogger(o.logger)}
		if observer, ok := o.metrics.(convert.MetricsObserver); ok {
			convOpts = append(convOpts, convert.WithMetrics(observer))
		}
		converter = convert.NewConverter(convOpts...)
	}
	return &Service{
		store:     store,
		blobs:     o.blobs,
		converter: converter,
		log:       o.logger,
		metrics:   o.metrics,
		tracer:    o.tracer,
		clock:     o.clock,
	}
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *domain.RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// NewServiceFromEnv wires the logger, persistent store, blob store and
// metrics exporter from NDXCHANNELS_* environment variables.
func NewServiceFromEnv(ctx context.Context, opts ...ServiceOption) (*Service, error) {
	logger, err := logging.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	store, err := OpenPersistentStore(NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("persistent store: %w", err)
	}
	blobs, err := blob.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}
	base := []ServiceOption{WithLogger(logger), WithBlobStore(blobs)}
	switch mode := os.Getenv(EnvMetrics); mode {
	case "":
	case "expvar":
		base = append(base, WithMetricsRecorder(NewExpvarMetricsRecorder("")))
	case "prometheus":
		rec, err := NewPrometheusMetricsRecorder(prometheus.DefaultRegisterer)
		if err != nil {
			return nil, fmt.Errorf("prometheus metrics: %w", err)
		}
		base = append(base, WithMetricsRecorder(rec))
	default:
		return nil, fmt.Errorf("unknown metrics exporter %s", mode)
	}
	logger.Info("service configured", "blob_driver", blobs.Driver(), "metrics", os.Getenv(EnvMetrics))
	return NewService(store, append(base, opts...)...), nil
}

// Store returns the underlying persistent store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Close releases the store when it holds external resources.
func (s *Service) Close() error {
	if closer, ok := s.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// run wraps an operation with tracing, metrics and logging.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	err := fn(ctx)
	span.End(err)
	duration := s.clock.Now().Sub(start)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.log.Error("operation failed", "operation", op, "duration", duration, "error", err)
	} else {
		s.log.Debug("operation completed", "operation", op, "duration", duration)
	}
	return err
}

// ImportProbeInterface decodes a probeinterface document from r, converts
// every probe and stores them in one transaction. names overrides probe
// names as in convert.FromProbeGroup. The returned Result carries
// conversion warnings followed by rule violations.
func (s *Service) ImportProbeInterface(ctx context.Context, r io.Reader, names ...string) ([]*domain.Probe, domain.Result, error) {
	var stored []*domain.Probe
	var res domain.Result
	err := s.run(ctx, OpImportProbeInterface, func(ctx context.Context) error {
		group, err := probeinterface.Decode(r)
		if err != nil {
			return err
		}
		probes, convRes, err := s.converter.FromProbeGroup(group, names...)
		if err != nil {
			return err
		}
		res.Merge(convRes)
		ruleRes, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			stored = stored[:0]
			for _, p := range probes {
				added, err := tx.AddProbe(p)
				if err != nil {
					return err
				}
				stored = append(stored, added)
			}
			return nil
		})
		res.Merge(ruleRes)
		if err != nil {
			stored = nil
			return err
		}
		s.logViolations(OpImportProbeInterface, res)
		return nil
	})
	return stored, res, err
}

func (s *Service) logViolations(op string, res domain.Result) {
	for _, v := range res.Violations {
		s.log.Warn("rule violation", "operation", op, "rule", v.Rule, "severity", v.Severity, "entity", v.Entity, "name", v.Name, "message", v.Message)
	}
}

// ExportProbeInterface writes the named probe as a probeinterface document.
func (s *Service) ExportProbeInterface(ctx context.Context, name string, w io.Writer) error {
	return s.ExportProbeGroup(ctx, w, name)
}

// ExportProbeGroup writes the named probes, or every stored probe when no
// names are given, as one probeinterface document.
func (s *Service) ExportProbeGroup(ctx context.Context, w io.Writer, names ...string) error {
	return s.run(ctx, OpExportProbeInterface, func(context.Context) error {
		probes, err := s.lookup(names)
		if err != nil {
			return err
		}
		group, err := s.converter.ToProbeGroup(probes)
		if err != nil {
			return err
		}
		return probeinterface.Encode(w, group)
	})
}

func (s *Service) lookup(names []string) ([]*domain.Probe, error) {
	if len(names) == 0 {
		return s.store.ListProbes(), nil
	}
	probes := make([]*domain.Probe, 0, len(names))
	for _, name := range names {
		p, ok := s.store.GetProbe(name)
		if !ok {
			return nil, domain.ErrNotFound{Kind: "probe", Name: name}
		}
		probes = append(probes, p)
	}
	return probes, nil
}

// ArchiveKey returns the blob key ArchiveProbe writes for name.
func ArchiveKey(name string) string { return ArchivePrefix + name + ".json" }

// ArchiveProbe writes the named probe as probeinterface JSON to the blob
// store at ArchiveKey(name), replacing an earlier archive.
func (s *Service) ArchiveProbe(ctx context.Context, name string) (blob.Info, error) {
	var info blob.Info
	err := s.run(ctx, OpArchiveProbe, func(ctx context.Context) error {
		if s.blobs == nil {
			return ErrNoBlobStore
		}
		probes, err := s.lookup([]string{name})
		if err != nil {
			return err
		}
		group, err := s.converter.ToProbeGroup(probes)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := probeinterface.Encode(&buf, group); err != nil {
			return err
		}
		metadata := map[string]string{
			"probe":       name,
			"probe_model": probes[0].ProbeModel().Name(),
		}
		if version, err := schema.Version(); err == nil {
			metadata["ndx_version"] = version
		}
		info, err = s.blobs.Put(ctx, ArchiveKey(name), bytes.NewReader(buf.Bytes()), blob.PutOptions{
			ContentType: blob.ContentTypeJSON,
			Metadata:    metadata,
			Overwrite:   true,
		})
		if err != nil {
			return fmt.Errorf("archive probe %s: %w", name, err)
		}
		s.log.Info("probe archived", "probe", name, "key", info.Key, "size", info.Size, "driver", s.blobs.Driver())
		return nil
	})
	return info, err
}

// Archives lists the archived probe documents.
func (s *Service) Archives(ctx context.Context) ([]blob.Info, error) {
	if s.blobs == nil {
		return nil, ErrNoBlobStore
	}
	return s.blobs.List(ctx, ArchivePrefix)
}

// RestoreProbe imports the archive of name back into the catalog. An equal
// probe already in the catalog makes the restore fail with DuplicateDeviceError.
func (s *Service) RestoreProbe(ctx context.Context, name string) (*domain.Probe, domain.Result, error) {
	var doc []byte
	err := s.run(ctx, OpRestoreProbe, func(ctx context.Context) error {
		if s.blobs == nil {
			return ErrNoBlobStore
		}
		_, rc, err := s.blobs.Get(ctx, ArchiveKey(name))
		if err != nil {
			return fmt.Errorf("restore probe %s: %w", name, err)
		}
		defer func() { _ = rc.Close() }()
		doc, err = io.ReadAll(rc)
		return err
	})
	if err != nil {
		return nil, domain.Result{}, err
	}
	probes, res, err := s.ImportProbeInterface(ctx, bytes.NewReader(doc), name)
	if err != nil {
		return nil, res, err
	}
	return probes[0], res, nil
}

// DeleteProbe removes a probe; its model stays in the catalog.
func (s *Service) DeleteProbe(ctx context.Context, name string) (domain.Result, error) {
	var res domain.Result
	err := s.run(ctx, OpDeleteProbe, func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			return tx.DeleteProbe(name)
		})
		return err
	})
	return res, err
}

// Probe returns a stored probe by name.
func (s *Service) Probe(name string) (*domain.Probe, bool) {
	return s.store.GetProbe(name)
}

// Probes lists stored probes ordered by name.
func (s *Service) Probes() []*domain.Probe {
	return s.store.ListProbes()
}

// ProbeModels lists stored probe models ordered by name.
func (s *Service) ProbeModels() []*domain.ProbeModel {
	return s.store.ListProbeModels()
}
