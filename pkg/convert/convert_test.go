package convert

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"ndxchannels/internal/logging"
	"ndxchannels/pkg/domain"
	"ndxchannels/pkg/probeinterface"
)

// mixedProbe builds a probe with one circle and one rect contact.
func mixedProbe(t *testing.T, unit probeinterface.Unit) *probeinterface.Probe {
	t.Helper()
	p, err := probeinterface.NewProbe(2, unit)
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	positions := [][]float64{{0, 0}, {0, 20}}
	params := []map[string]float64{{"radius": 5}, {"width": 10, "height": 12}}
	if err := p.SetContacts(positions, []string{"circle", "rect"}, params, nil, []string{"0", "1"}); err != nil {
		t.Fatalf("set contacts: %v", err)
	}
	if err := p.SetPlanarContour([][]float64{{-20, -20}, {20, -20}, {0, 60}}); err != nil {
		t.Fatalf("set contour: %v", err)
	}
	p.Name = "probe0"
	p.SerialNumber = "0123"
	p.ModelName = "a1x32"
	p.Manufacturer = "Neuronexus"
	return p
}

func importOne(t *testing.T, c *Converter, p *probeinterface.Probe, name string) (*domain.Probe, domain.Result) {
	t.Helper()
	probes, res, err := c.FromProbe(p, name)
	if err != nil {
		t.Fatalf("FromProbe: %v", err)
	}
	if len(probes) != 1 {
		t.Fatalf("expected one probe, got %d", len(probes))
	}
	return probes[0], res
}

func TestImportUnitConversion(t *testing.T) {
	cases := []struct {
		unit probeinterface.Unit
		want float64
	}{
		{probeinterface.UnitMicrometer, 5},
		{probeinterface.UnitMillimeter, 5000},
		{probeinterface.UnitMeter, 5000000},
	}
	for _, tc := range cases {
		probe, _ := importOne(t, NewConverter(), mixedProbe(t, tc.unit), "")
		radius, ok := probe.ProbeModel().Contacts().ShapeParam(domain.ColumnRadius)
		if !ok {
			t.Fatalf("%s: expected radius column", tc.unit)
		}
		if radius[0] != tc.want {
			t.Fatalf("%s: radius_in_um = %v, want %v", tc.unit, radius[0], tc.want)
		}
		factor, _ := ConversionFactor(tc.unit)
		positions := probe.ProbeModel().Contacts().Positions()
		if positions[1][1] != 20*factor {
			t.Fatalf("%s: position not scaled, got %v", tc.unit, positions[1])
		}
		if contour := probe.ProbeModel().PlanarContour(); contour[2][1] != 60*factor {
			t.Fatalf("%s: contour not scaled, got %v", tc.unit, contour)
		}
	}
	if _, err := ConversionFactor("ft"); !errors.Is(err, domain.ErrUnsupportedUnit) {
		t.Fatalf("expected unsupported unit, got %v", err)
	}
}

func TestImportRejectsUnsupportedUnit(t *testing.T) {
	p := mixedProbe(t, probeinterface.UnitMicrometer)
	p.SIUnits = "inch"
	_, _, err := FromProbe(p, "")
	var unitErr domain.UnsupportedUnitError
	if !errors.As(err, &unitErr) || unitErr.Unit != "inch" {
		t.Fatalf("expected unsupported unit error, got %v", err)
	}
}

func TestImportMapsScalarsAndTable(t *testing.T) {
	probe, res := importOne(t, NewConverter(), mixedProbe(t, probeinterface.UnitMicrometer), "")
	if len(res.Violations) != 0 {
		t.Fatalf("expected no warnings, got %+v", res.Violations)
	}
	model := probe.ProbeModel()
	if probe.Name() != "probe0" || probe.Identifier() != "0123" {
		t.Fatalf("unexpected probe scalars %s/%s", probe.Name(), probe.Identifier())
	}
	if model.Name() != "a1x32" || model.Model() != "a1x32" || model.Manufacturer() != "Neuronexus" || model.NDim() != 2 {
		t.Fatalf("unexpected model %+v", model.Params())
	}
	table := model.Contacts()
	if table.Description() != ContactsDescription {
		t.Fatalf("unexpected description %q", table.Description())
	}
	want := []domain.Column{
		domain.ColumnRelativePosition, domain.ColumnShape, domain.ColumnShankID, domain.ColumnPlaneAxes,
		domain.ColumnRadius, domain.ColumnWidth, domain.ColumnHeight,
	}
	if diff := cmp.Diff(want, table.Columns()); diff != "" {
		t.Fatalf("columns mismatch (-want +got):\n%s", diff)
	}
	if table.HasColumn(domain.ColumnContactID) || table.HasColumn(domain.ColumnDeviceChannel) {
		t.Fatalf("unset optional arrays must not become columns")
	}
}

func TestImportSentinelSemantics(t *testing.T) {
	probe, _ := importOne(t, NewConverter(), mixedProbe(t, probeinterface.UnitMicrometer), "")
	width, _ := probe.ProbeModel().Contacts().ShapeParam(domain.ColumnWidth)
	if !math.IsNaN(width[0]) {
		t.Fatalf("circle contact must carry NaN width, got %v", width[0])
	}
	again, _ := importOne(t, NewConverter(), mixedProbe(t, probeinterface.UnitMicrometer), "")
	if !probe.Equal(again) {
		t.Fatalf("NaN-aware equality must treat both imports as equal")
	}
}

func TestImportMissingModelNameWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := NewConverter(WithLogger(logging.FromZap(zap.New(core))))
	p := mixedProbe(t, probeinterface.UnitMicrometer)
	p.ModelName = ""
	probe, res := importOne(t, c, p, "")
	if probe.ProbeModel().Name() != domain.UnknownModelName {
		t.Fatalf("expected unknown model, got %s", probe.ProbeModel().Name())
	}
	warnings := res.Warnings()
	if len(warnings) != 1 || warnings[0].Rule != RuleModelName || res.HasBlocking() {
		t.Fatalf("expected one non-blocking warning, got %+v", res.Violations)
	}
	if logs.FilterMessage("Probe model name not found in probe annotations, setting to 'unknown'").Len() != 1 {
		t.Fatalf("expected one logged warning, got %v", logs.All())
	}
}

func TestImportNames(t *testing.T) {
	p := mixedProbe(t, probeinterface.UnitMicrometer)
	probe, _ := importOne(t, NewConverter(), p, "override")
	if probe.Name() != "override" {
		t.Fatalf("caller name must win, got %s", probe.Name())
	}

	p.Name = ""
	_, _, err := FromProbe(p, "")
	var missing domain.MissingNameError
	if !errors.As(err, &missing) || missing.Index != 0 {
		t.Fatalf("expected missing name error, got %v", err)
	}

	group := &probeinterface.ProbeGroup{}
	group.Add(mixedProbe(t, probeinterface.UnitMicrometer))
	group.Add(mixedProbe(t, probeinterface.UnitMillimeter))
	_, _, err = FromProbeGroup(group, "only-one")
	var mismatch domain.ArgumentCountMismatchError
	if !errors.As(err, &mismatch) || mismatch.Probes != 2 || mismatch.Names != 1 {
		t.Fatalf("expected argument count mismatch, got %v", err)
	}

	probes, _, err := FromProbeGroup(group, "", "probe3")
	if err != nil {
		t.Fatalf("FromProbeGroup: %v", err)
	}
	if probes[0].Name() != "probe0" || probes[1].Name() != "probe3" {
		t.Fatalf("unexpected names %s, %s", probes[0].Name(), probes[1].Name())
	}
}

func TestImportRejectsUnknownShapeParameter(t *testing.T) {
	p := mixedProbe(t, probeinterface.UnitMicrometer)
	p.ContactShapeParams[0]["depth"] = 3
	_, _, err := FromProbe(p, "")
	var unknown domain.UnknownShapeParameterError
	if !errors.As(err, &unknown) || unknown.Key != "depth" {
		t.Fatalf("expected unknown shape parameter, got %v", err)
	}
}

func TestColumnPresencePropagation(t *testing.T) {
	p := mixedProbe(t, probeinterface.UnitMicrometer)
	p.ShankIDs = nil
	probe, _ := importOne(t, NewConverter(), p, "")
	if probe.ProbeModel().Contacts().HasColumn(domain.ColumnShankID) {
		t.Fatalf("missing shank_ids must not create a shank column")
	}
	flat, err := ToProbeInterface(probe)
	if err != nil {
		t.Fatalf("ToProbeInterface: %v", err)
	}
	if flat.ShankIDs != nil || flat.ContactIDs != nil || flat.DeviceChannelIndices != nil {
		t.Fatalf("absent columns must export as unset arrays: %+v", flat)
	}
}

func TestExportShapeParamsCarryEveryColumn(t *testing.T) {
	probe, _ := importOne(t, NewConverter(), mixedProbe(t, probeinterface.UnitMillimeter), "")
	flat, err := ToProbeInterface(probe)
	if err != nil {
		t.Fatalf("ToProbeInterface: %v", err)
	}
	if flat.SIUnits != probeinterface.UnitMicrometer || flat.NDim != 2 {
		t.Fatalf("unexpected scalars %s/%d", flat.SIUnits, flat.NDim)
	}
	if flat.ModelName != "a1x32" || flat.SerialNumber != "0123" || flat.Manufacturer != "Neuronexus" || flat.Name != "probe0" {
		t.Fatalf("unexpected metadata %+v", flat)
	}
	want := []map[string]float64{
		{"radius": 5000, "width": math.NaN(), "height": math.NaN()},
		{"radius": math.NaN(), "width": 10000, "height": 12000},
	}
	if diff := cmp.Diff(want, flat.ContactShapeParams, cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("shape params mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]float64{{-20000, -20000}, {20000, -20000}, {0, 60000}}, flat.PlanarContour); diff != "" {
		t.Fatalf("contour mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripPreservesGeometry(t *testing.T) {
	original := mixedProbe(t, probeinterface.UnitMicrometer)
	if err := original.SetContactIDs([]string{"e0", "e1"}); err != nil {
		t.Fatalf("set ids: %v", err)
	}
	if err := original.SetDeviceChannelIndices([]int{1, -1}); err != nil {
		t.Fatalf("set channels: %v", err)
	}
	probe, _ := importOne(t, NewConverter(), original, "")
	flat, err := ToProbeInterface(probe)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	reimported, _ := importOne(t, NewConverter(), flat, "")
	if !probe.Equal(reimported) {
		t.Fatalf("import(export(P)) differs from P")
	}
	again, err := ToProbeInterface(reimported)
	if err != nil {
		t.Fatalf("second export: %v", err)
	}
	if diff := cmp.Diff(flat, again, cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("export is not stable (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(original.ContactPositions, flat.ContactPositions); diff != "" {
		t.Fatalf("positions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(original.ShankIDs, flat.ShankIDs); diff != "" {
		t.Fatalf("shank ids mismatch (-want +got):\n%s", diff)
	}
}

func TestConversionDoesNotMutateInput(t *testing.T) {
	p := mixedProbe(t, probeinterface.UnitMillimeter)
	before := mixedProbe(t, probeinterface.UnitMillimeter)
	probe, _ := importOne(t, NewConverter(), p, "")
	if diff := cmp.Diff(before, p); diff != "" {
		t.Fatalf("import mutated its input (-want +got):\n%s", diff)
	}
	flat, _ := ToProbeInterface(probe)
	flat.ContactPositions[0][0] = 999
	if probe.ProbeModel().Contacts().Positions()[0][0] == 999 {
		t.Fatalf("export must not alias table storage")
	}
}

func TestToProbeInterfaceNil(t *testing.T) {
	if _, err := ToProbeInterface(nil); err == nil {
		t.Fatalf("expected error for nil probe")
	}
}

type recordingMetrics struct {
	calls []Direction
	errs  int
	warns int
}

func (m *recordingMetrics) ObserveConversion(d Direction, _ int, warnings int, err error, _ time.Duration) {
	m.calls = append(m.calls, d)
	m.warns += warnings
	if err != nil {
		m.errs++
	}
}

func TestConverterReportsMetrics(t *testing.T) {
	m := &recordingMetrics{}
	c := NewConverter(WithMetrics(m))
	p := mixedProbe(t, probeinterface.UnitMicrometer)
	p.ModelName = ""
	probe, _ := importOne(t, c, p, "")
	if _, err := c.ToProbeInterface(probe); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, _, err := c.FromProbeGroup(&probeinterface.ProbeGroup{Probes: []*probeinterface.Probe{p}}, "a", "b"); err == nil {
		t.Fatalf("expected mismatch")
	}
	if diff := cmp.Diff([]Direction{DirectionImport, DirectionExport, DirectionImport}, m.calls); diff != "" {
		t.Fatalf("observations mismatch (-want +got):\n%s", diff)
	}
	if m.errs != 1 || m.warns != 1 {
		t.Fatalf("expected one error and one warning, got %d/%d", m.errs, m.warns)
	}
	group, err := c.ToProbeGroup([]*domain.Probe{probe, probe})
	if err != nil || len(group.Probes) != 2 {
		t.Fatalf("ToProbeGroup: %v", err)
	}
}

func TestAllNaNShapeColumnDropsThroughJSON(t *testing.T) {
	table := domain.NewContactsTable("", ContactsDescription)
	for _, y := range []float64{0, 20} {
		row := domain.ContactRow{
			RelativePosition: []float64{0, y},
			Shape:            domain.ShapeSquare,
			RadiusInUM:       domain.Float(domain.NotApplicable()),
			WidthInUM:        domain.Float(12),
		}
		if err := table.AddRow(row); err != nil {
			t.Fatalf("add row: %v", err)
		}
	}
	model, err := domain.NewProbeModel(domain.ProbeModelParams{Name: "sq2", Manufacturer: "IMEC"}, table)
	if err != nil {
		t.Fatalf("new model: %v", err)
	}
	probe, err := domain.NewProbe("probe0", model, "SN-1")
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}

	group, err := NewConverter().ToProbeGroup([]*domain.Probe{probe})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var buf bytes.Buffer
	if err := probeinterface.Encode(&buf, group); err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := probeinterface.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	imported, _, err := FromProbeGroup(decoded)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	contacts := imported[0].ProbeModel().Contacts()
	if contacts.HasColumn(domain.ColumnRadius) {
		t.Fatalf("an all-NaN radius column has no keys left to import")
	}
	width, ok := contacts.ShapeParam(domain.ColumnWidth)
	if !ok {
		t.Fatalf("expected width column")
	}
	if diff := cmp.Diff([]float64{12, 12}, width); diff != "" {
		t.Fatalf("width (-want +got):\n%s", diff)
	}
}
