package core

import (
	"bytes"
	"context"
	"testing"
	"time"

	"ndxchannels/pkg/probeinterface"
)

// probeDoc encodes a probeinterface document holding one 2D probe per name.
// Every probe shares the same design unless modelName differs.
func probeDoc(t *testing.T, modelName string, names ...string) *bytes.Buffer {
	t.Helper()
	group := &probeinterface.ProbeGroup{}
	for i, name := range names {
		p, err := probeinterface.NewProbe(2, probeinterface.UnitMicrometer)
		if err != nil {
			t.Fatalf("new probe: %v", err)
		}
		positions := [][]float64{{0, 0}, {0, 20}, {16, 40}}
		params := []map[string]float64{{"radius": 6}}
		if err := p.SetContacts(positions, []string{"circle"}, params, nil, []string{"0", "0", "1"}); err != nil {
			t.Fatalf("set contacts: %v", err)
		}
		if err := p.SetPlanarContour([][]float64{{-10, -10}, {30, -10}, {10, 80}}); err != nil {
			t.Fatalf("set contour: %v", err)
		}
		p.Name = name
		p.SerialNumber = "SN-" + string(rune('A'+i))
		p.ModelName = modelName
		p.Manufacturer = "Neuronexus"
		group.Add(p)
	}
	var buf bytes.Buffer
	if err := probeinterface.Encode(&buf, group); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &buf
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

// steppingClock advances by step on every call.
type steppingClock struct {
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}
