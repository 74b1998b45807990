package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"ndxchannels/pkg/convert"
)

var expvarSeq uint64

// ExpvarMetricsRecorder publishes operation and conversion totals via expvar.
// Durations are accumulated in milliseconds per operation.
type ExpvarMetricsRecorder struct {
	name        string
	mu          sync.Mutex
	durations   map[string]float64
	results     map[string]map[string]int64
	conversions map[string]ConversionTotals
}

// ConversionTotals aggregates converter observations for one direction.
type ConversionTotals struct {
	Calls    int64 `json:"calls"`
	Errors   int64 `json:"errors"`
	Probes   int64 `json:"probes"`
	Warnings int64 `json:"warnings"`
}

// ExpvarMetricsSnapshot is a read-only copy of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Conversions map[string]ConversionTotals `json:"conversions_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder publishes a recorder under name. An empty name
// gets a generated unique one, since expvar names cannot be reused.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("ndxchannels_service_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:        name,
		durations:   make(map[string]float64),
		results:     make(map[string]map[string]int64),
		conversions: make(map[string]ConversionTotals),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name.
func (r *ExpvarMetricsRecorder) Name() string {
	return r.name
}

// Snapshot returns a copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	results := make(map[string]map[string]int64, len(r.results))
	for op, statusCounts := range r.results {
		cpy := make(map[string]int64, len(statusCounts))
		for status, count := range statusCounts {
			cpy[status] = count
		}
		results[op] = cpy
	}
	conversions := make(map[string]ConversionTotals, len(r.conversions))
	for dir, totals := range r.conversions {
		conversions[dir] = totals
	}
	return ExpvarMetricsSnapshot{
		DurationsMS: durations,
		Results:     results,
		Conversions: conversions,
		RecordedAt:  time.Now().UTC(),
	}
}

// Observe records a service operation outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)

	r.mu.Lock()
	r.durations[operation] += ms
	if _, ok := r.results[operation]; !ok {
		r.results[operation] = make(map[string]int64, 2)
	}
	r.results[operation][statusLabel(success)]++
	r.mu.Unlock()
}

// ObserveConversion implements convert.MetricsObserver.
func (r *ExpvarMetricsRecorder) ObserveConversion(direction convert.Direction, probes, warnings int, err error, _ time.Duration) {
	r.mu.Lock()
	totals := r.conversions[string(direction)]
	totals.Calls++
	if err != nil {
		totals.Errors++
	}
	totals.Probes += int64(probes)
	totals.Warnings += int64(warnings)
	r.conversions[string(direction)] = totals
	r.mu.Unlock()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// JSONTraceEntry is one span emitted by JSONTraceTracer.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes spans as JSON lines and retains them for inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
	now     func() time.Time
}

// NewJSONTracer constructs a tracer writing to w. A nil writer only retains spans.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	var enc *json.Encoder
	if w != nil {
		enc = json.NewEncoder(w)
	}
	return &JSONTraceTracer{enc: enc, now: func() time.Time { return time.Now().UTC() }}
}

// Entries returns a copy of all recorded spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JSONTraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: t.now()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
}

func (s *jsonTraceSpan) End(err error) {
	var errMsg string
	if err != nil {
		errMsg = err.Error()
	}
	ended := s.tracer.now()
	entry := JSONTraceEntry{
		Operation:  s.operation,
		Status:     statusLabel(err == nil),
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		Error:      errMsg,
		StartedAt:  s.started,
		EndedAt:    ended,
	}

	s.tracer.mu.Lock()
	s.tracer.entries = append(s.tracer.entries, entry)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(entry)
	}
	s.tracer.mu.Unlock()
}
