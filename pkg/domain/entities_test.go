package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func newTestModel(t *testing.T, name string) *ProbeModel {
	t.Helper()
	table := NewContactsTable("", "")
	for _, row := range []ContactRow{circle(0, 0, 5), square(0, 20, 12)} {
		if err := table.AddRow(row); err != nil {
			t.Fatalf("add row: %v", err)
		}
	}
	model, err := NewProbeModel(ProbeModelParams{
		Name:              name,
		Manufacturer:      "Neurodevices",
		PlanarContourInUM: [][]float64{{-10, -10}, {10, -10}, {10, 30}, {-10, 30}},
	}, table)
	if err != nil {
		t.Fatalf("new probe model: %v", err)
	}
	return model
}

func TestNewProbeModelDefaults(t *testing.T) {
	model := newTestModel(t, "NP1")
	if model.Model() != "NP1" {
		t.Fatalf("expected model to default to name, got %q", model.Model())
	}
	if model.NDim() != 2 {
		t.Fatalf("expected ndim 2, got %d", model.NDim())
	}
	if len(model.PlanarContour()) != 4 {
		t.Fatalf("unexpected contour %v", model.PlanarContour())
	}
}

func TestNewProbeModelValidation(t *testing.T) {
	if _, err := NewProbeModel(ProbeModelParams{}, NewContactsTable("", "")); !errors.Is(err, ErrRequiredField) {
		t.Fatalf("expected missing name error, got %v", err)
	}
	if _, err := NewProbeModel(ProbeModelParams{Name: "m"}, nil); !errors.Is(err, ErrRequiredField) {
		t.Fatalf("expected missing contacts error, got %v", err)
	}
	if _, err := NewProbeModel(ProbeModelParams{Name: "m", NDim: 4}, NewContactsTable("", "")); !errors.Is(err, ErrDimension) {
		t.Fatalf("expected ndim error, got %v", err)
	}
	table := NewContactsTable("", "")
	if err := table.AddRow(circle(0, 0, 1)); err != nil {
		t.Fatalf("add row: %v", err)
	}
	if _, err := NewProbeModel(ProbeModelParams{Name: "m", NDim: 3}, table); !errors.Is(err, ErrDimension) {
		t.Fatalf("expected table ndim mismatch, got %v", err)
	}
	if _, err := NewProbeModel(ProbeModelParams{Name: "m", PlanarContourInUM: [][]float64{{0, 0, 0}}}, table); !errors.Is(err, ErrDimension) {
		t.Fatalf("expected contour vertex error, got %v", err)
	}
	if _, err := NewProbeModel(ProbeModelParams{Name: "m"}, table); err != nil {
		t.Fatalf("new probe model: %v", err)
	}
	if _, err := NewProbeModel(ProbeModelParams{Name: "other"}, table); !errors.Is(err, ErrTableOwned) {
		t.Fatalf("expected table ownership error, got %v", err)
	}
}

func TestProbeModelFixesEmptyTableDimension(t *testing.T) {
	table := NewContactsTable("", "")
	if _, err := NewProbeModel(ProbeModelParams{Name: "m", NDim: 3}, table); err != nil {
		t.Fatalf("new probe model: %v", err)
	}
	if err := table.AddRow(circle(0, 0, 1)); !errors.Is(err, ErrDimension) {
		t.Fatalf("expected 2D row to be rejected by 3D model table, got %v", err)
	}
}

func TestProbesShareModel(t *testing.T) {
	model := newTestModel(t, "NP1")
	a, err := NewProbe("probe-a", model, "SN1")
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	b, err := NewProbe("probe-b", model, "SN2")
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	if a.ProbeModel() != b.ProbeModel() {
		t.Fatalf("expected shared model")
	}
	if _, err := NewProbe("", model, ""); !errors.Is(err, ErrRequiredField) {
		t.Fatalf("expected missing name error, got %v", err)
	}
	if _, err := NewProbe("p", nil, ""); !errors.Is(err, ErrRequiredField) {
		t.Fatalf("expected missing model error, got %v", err)
	}
}

func TestProbeJSONRoundTrip(t *testing.T) {
	probe, err := NewProbe("probe-a", newTestModel(t, "NP1"), "SN1")
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	raw, err := json.Marshal(probe)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Probe
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !probe.Equal(&decoded) {
		t.Fatalf("round trip mismatch: %s", raw)
	}
}

func TestProbeInsertionValidation(t *testing.T) {
	insertion, err := NewProbeInsertion(ProbeInsertion{Hemisphere: HemisphereLeft, PositionMLInMM: Float(-1.5)})
	if err != nil {
		t.Fatalf("new insertion: %v", err)
	}
	if insertion.Name != DefaultProbeInsertionName {
		t.Fatalf("expected default name, got %q", insertion.Name)
	}
	cases := []ProbeInsertion{
		{Hemisphere: "middle"},
		{Hemisphere: HemisphereLeft, PositionMLInMM: Float(2)},
		{Hemisphere: HemisphereRight, PositionMLInMM: Float(-2)},
	}
	for _, tc := range cases {
		if _, err := NewProbeInsertion(tc); !errors.Is(err, ErrInvalidHemisphere) {
			t.Fatalf("expected hemisphere error for %+v, got %v", tc, err)
		}
	}
	if _, err := NewProbeInsertion(ProbeInsertion{Hemisphere: HemisphereRight}); err != nil {
		t.Fatalf("hemisphere without ml should pass: %v", err)
	}
}
