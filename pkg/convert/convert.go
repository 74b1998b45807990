// Package convert translates between the flat probeinterface representation
// and the normalized ProbeModel / ContactsTable records.
//
// Imported positions, shape parameters and contours are scaled into
// micrometers. Exported probes always declare si_units "um".
package convert

import (
	"fmt"
	"sort"
	"time"

	"ndxchannels/internal/logging"
	"ndxchannels/pkg/domain"
	"ndxchannels/pkg/probeinterface"
)

// ContactsDescription is the description given to every imported contacts table.
const ContactsDescription = "Contacts Table, populated by ProbeInterface"

// RuleModelName names the warning raised when an imported probe carries no model name.
const RuleModelName = "probe_model_name"

// Direction identifies a conversion for metrics.
type Direction string

// Conversion directions.
const (
	DirectionImport Direction = "import"
	DirectionExport Direction = "export"
)

// MetricsObserver receives one observation per conversion call.
type MetricsObserver interface {
	ObserveConversion(direction Direction, probes, warnings int, err error, dur time.Duration)
}

// Option configures a Converter.
type Option func(*Converter)

// WithLogger sets the logger used for conversion warnings.
func WithLogger(l *logging.Logger) Option {
	return func(c *Converter) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics sets the conversion metrics observer.
func WithMetrics(m MetricsObserver) Option {
	return func(c *Converter) { c.metrics = m }
}

// Converter converts probes in both directions. It never mutates its inputs.
type Converter struct {
	log     *logging.Logger
	metrics MetricsObserver
	now     func() time.Time
}

// NewConverter builds a converter with a no-op logger.
func NewConverter(opts ...Option) *Converter {
	c := &Converter{log: logging.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultConverter = NewConverter()

// FromProbe converts a single probe using the default converter.
func FromProbe(p *probeinterface.Probe, name string) ([]*domain.Probe, domain.Result, error) {
	return defaultConverter.FromProbe(p, name)
}

// FromProbeGroup converts every probe of g using the default converter.
func FromProbeGroup(g *probeinterface.ProbeGroup, names ...string) ([]*domain.Probe, domain.Result, error) {
	return defaultConverter.FromProbeGroup(g, names...)
}

// ToProbeInterface flattens p using the default converter.
func ToProbeInterface(p *domain.Probe) (*probeinterface.Probe, error) {
	return defaultConverter.ToProbeInterface(p)
}

// ConversionFactor returns the multiplier from unit to micrometers.
func ConversionFactor(unit probeinterface.Unit) (float64, error) {
	switch unit {
	case probeinterface.UnitMicrometer:
		return 1, nil
	case probeinterface.UnitMillimeter:
		return 1e3, nil
	case probeinterface.UnitMeter:
		return 1e6, nil
	}
	return 0, domain.UnsupportedUnitError{Unit: string(unit)}
}

// FromProbe converts one probe. An empty name falls back to the probe's own name.
func (c *Converter) FromProbe(p *probeinterface.Probe, name string) ([]*domain.Probe, domain.Result, error) {
	if p == nil {
		return nil, domain.Result{}, fmt.Errorf("convert: nil probe")
	}
	return c.FromProbeGroup(&probeinterface.ProbeGroup{Probes: []*probeinterface.Probe{p}}, name)
}

// FromProbeGroup converts every probe of g. names is either empty or holds
// one entry per probe; empty entries fall back to the probe's own name. Any
// failure returns no probes.
func (c *Converter) FromProbeGroup(g *probeinterface.ProbeGroup, names ...string) (probes []*domain.Probe, result domain.Result, err error) {
	start := c.now()
	defer func() {
		if c.metrics != nil {
			c.metrics.ObserveConversion(DirectionImport, len(probes), len(result.Warnings()), err, c.now().Sub(start))
		}
	}()
	if g == nil {
		return nil, domain.Result{}, fmt.Errorf("convert: nil probe group")
	}
	if len(names) > 0 && len(names) != len(g.Probes) {
		return nil, domain.Result{}, domain.ArgumentCountMismatchError{Probes: len(g.Probes), Names: len(names)}
	}
	out := make([]*domain.Probe, 0, len(g.Probes))
	var res domain.Result
	for i, external := range g.Probes {
		name := ""
		if len(names) > 0 {
			name = names[i]
		}
		probe, warn, err := c.importProbe(i, external, name)
		if err != nil {
			return nil, domain.Result{}, fmt.Errorf("probe %d: %w", i, err)
		}
		if warn != nil {
			res.Merge(domain.Result{Violations: []domain.Violation{*warn}})
		}
		out = append(out, probe)
	}
	c.log.Debug("imported probes", "count", len(out), "warnings", len(res.Violations))
	return out, res, nil
}

func (c *Converter) importProbe(index int, p *probeinterface.Probe, name string) (*domain.Probe, *domain.Violation, error) {
	if p == nil {
		return nil, nil, fmt.Errorf("convert: nil probe")
	}
	factor, err := ConversionFactor(p.SIUnits)
	if err != nil {
		return nil, nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	if name == "" {
		name = p.Name
	}
	if name == "" {
		return nil, nil, domain.MissingNameError{Index: index}
	}
	columns, err := shapeParamColumns(p.ContactShapeParams)
	if err != nil {
		return nil, nil, err
	}

	table := domain.NewContactsTable("", ContactsDescription)
	for i := range p.ContactPositions {
		row := domain.ContactRow{
			RelativePosition: scale(p.ContactPositions[i], factor),
			Shape:            p.ContactShapes[i],
		}
		if p.ContactPlaneAxes != nil {
			row.PlaneAxes = p.ContactPlaneAxes[i]
		}
		for _, col := range columns {
			v := domain.NotApplicable()
			if p.ContactShapeParams != nil {
				if raw, ok := p.ContactShapeParams[i][col.ShapeParamKey()]; ok {
					v = raw * factor
				}
			}
			switch col {
			case domain.ColumnRadius:
				row.RadiusInUM = domain.Float(v)
			case domain.ColumnWidth:
				row.WidthInUM = domain.Float(v)
			case domain.ColumnHeight:
				row.HeightInUM = domain.Float(v)
			}
		}
		if p.ContactIDs != nil {
			row.ContactID = domain.String(p.ContactIDs[i])
		}
		if p.DeviceChannelIndices != nil {
			row.DeviceChannel = domain.Int(p.DeviceChannelIndices[i])
		}
		if p.ShankIDs != nil {
			row.ShankID = domain.String(p.ShankIDs[i])
		}
		if err := table.AddRow(row); err != nil {
			return nil, nil, fmt.Errorf("contact %d: %w", i, err)
		}
	}

	var warn *domain.Violation
	modelName := p.ModelName
	if modelName == "" {
		modelName = domain.UnknownModelName
		c.log.Warn("Probe model name not found in probe annotations, setting to 'unknown'", "probe", name, "index", index)
		warn = &domain.Violation{
			Rule:     RuleModelName,
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("probe %s has no model name, using %q", name, domain.UnknownModelName),
			Entity:   domain.EntityProbeModel,
			Name:     modelName,
		}
	}
	var contour [][]float64
	if p.PlanarContour != nil {
		contour = make([][]float64, len(p.PlanarContour))
		for i, vertex := range p.PlanarContour {
			contour[i] = scale(vertex, factor)
		}
	}
	model, err := domain.NewProbeModel(domain.ProbeModelParams{
		Name:              modelName,
		Manufacturer:      p.Manufacturer,
		Model:             modelName,
		NDim:              p.NDim,
		PlanarContourInUM: contour,
	}, table)
	if err != nil {
		return nil, nil, err
	}
	probe, err := domain.NewProbe(name, model, p.SerialNumber)
	if err != nil {
		return nil, nil, err
	}
	return probe, warn, nil
}

// shapeParamColumns returns the shape-parameter columns used by any contact,
// in schema order.
func shapeParamColumns(params []map[string]float64) ([]domain.Column, error) {
	seen := make(map[domain.Column]bool)
	for _, contact := range params {
		keys := make([]string, 0, len(contact))
		for k := range contact {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			col, ok := domain.ShapeParamColumn(k)
			if !ok {
				return nil, domain.UnknownShapeParameterError{Key: k}
			}
			seen[col] = true
		}
	}
	var out []domain.Column
	for _, col := range domain.ShapeParamColumns {
		if seen[col] {
			out = append(out, col)
		}
	}
	return out, nil
}

// ToProbeInterface flattens p. Optional arrays are set exactly when the
// corresponding column exists. Every contact gets a shape-parameter key for
// each shape column on the table, NaN included.
func (c *Converter) ToProbeInterface(p *domain.Probe) (out *probeinterface.Probe, err error) {
	start := c.now()
	defer func() {
		if c.metrics != nil {
			n := 0
			if out != nil {
				n = 1
			}
			c.metrics.ObserveConversion(DirectionExport, n, 0, err, c.now().Sub(start))
		}
	}()
	if p == nil || p.ProbeModel() == nil {
		return nil, fmt.Errorf("convert: nil probe")
	}
	model := p.ProbeModel()
	table := model.Contacts()

	params := make([]map[string]float64, table.Len())
	for i := range params {
		params[i] = make(map[string]float64)
	}
	for _, col := range domain.ShapeParamColumns {
		values, ok := table.ShapeParam(col)
		if !ok {
			continue
		}
		for i, v := range values {
			params[i][col.ShapeParamKey()] = v
		}
	}
	planeAxes, _ := table.PlaneAxes()
	shankIDs, _ := table.ShankIDs()

	out = &probeinterface.Probe{
		NDim:         model.NDim(),
		SIUnits:      probeinterface.UnitMicrometer,
		Name:         p.Name(),
		SerialNumber: p.Identifier(),
		ModelName:    model.Model(),
		Manufacturer: model.Manufacturer(),
	}
	if err := out.SetContacts(table.Positions(), table.Shapes(), params, planeAxes, shankIDs); err != nil {
		return nil, fmt.Errorf("probe %s: %w", p.Name(), err)
	}
	if ids, ok := table.ContactIDs(); ok {
		if err := out.SetContactIDs(ids); err != nil {
			return nil, fmt.Errorf("probe %s: %w", p.Name(), err)
		}
	}
	if channels, ok := table.DeviceChannels(); ok {
		if err := out.SetDeviceChannelIndices(channels); err != nil {
			return nil, fmt.Errorf("probe %s: %w", p.Name(), err)
		}
	}
	if err := out.SetPlanarContour(model.PlanarContour()); err != nil {
		return nil, fmt.Errorf("probe %s: %w", p.Name(), err)
	}
	c.log.Debug("exported probe", "probe", p.Name(), "contacts", table.Len())
	return out, nil
}

// ToProbeGroup flattens several probes into one group.
func (c *Converter) ToProbeGroup(probes []*domain.Probe) (*probeinterface.ProbeGroup, error) {
	group := &probeinterface.ProbeGroup{}
	for _, p := range probes {
		flat, err := c.ToProbeInterface(p)
		if err != nil {
			return nil, err
		}
		group.Add(flat)
	}
	return group, nil
}

func scale(values []float64, factor float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v * factor
	}
	return out
}
