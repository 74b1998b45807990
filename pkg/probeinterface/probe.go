// Package probeinterface models probes the way the probeinterface ecosystem
// does: flat parallel per-contact arrays plus a handful of scalars. It also
// reads and writes the probeinterface JSON file format.
package probeinterface

import (
	"errors"
	"fmt"
	"slices"

	"ndxchannels/pkg/domain"
)

// ErrInvalidProbe is returned when parallel arrays disagree in length or shape.
var ErrInvalidProbe = errors.New("probeinterface: invalid probe")

// Unit is a probeinterface si_units tag.
type Unit string

// Supported units.
const (
	UnitMicrometer Unit = "um"
	UnitMillimeter Unit = "mm"
	UnitMeter      Unit = "m"
)

// ParseUnit validates a unit tag.
func ParseUnit(s string) (Unit, error) {
	switch u := Unit(s); u {
	case UnitMicrometer, UnitMillimeter, UnitMeter:
		return u, nil
	}
	return "", domain.UnsupportedUnitError{Unit: s}
}

// Probe is a flat, columnar probe description. A nil slice means the array
// was never set. An empty string scalar means the value is absent.
type Probe struct {
	NDim         int
	SIUnits      Unit
	Name         string
	SerialNumber string
	ModelName    string
	Manufacturer string

	ContactPositions     [][]float64
	ContactPlaneAxes     [][][]float64
	ContactShapes        []string
	ContactShapeParams   []map[string]float64
	ContactIDs           []string
	DeviceChannelIndices []int
	ShankIDs             []string
	PlanarContour        [][]float64

	// Annotations holds probe annotations other than the named scalars.
	Annotations map[string]any
}

// NewProbe returns an empty probe. ndim must be 2 or 3.
func NewProbe(ndim int, unit Unit) (*Probe, error) {
	if ndim != 2 && ndim != 3 {
		return nil, fmt.Errorf("%w: ndim %d, want 2 or 3", ErrInvalidProbe, ndim)
	}
	if _, err := ParseUnit(string(unit)); err != nil {
		return nil, err
	}
	return &Probe{NDim: ndim, SIUnits: unit}, nil
}

// ContactCount returns the number of contacts.
func (p *Probe) ContactCount() int { return len(p.ContactPositions) }

// SetContacts replaces every per-contact geometry array. shapes and params
// hold either one entry applied to all contacts or one entry per contact.
// Nil planeAxes selects the identity basis; nil shankIDs leaves shanks unset.
func (p *Probe) SetContacts(positions [][]float64, shapes []string, params []map[string]float64, planeAxes [][][]float64, shankIDs []string) error {
	n := len(positions)
	for i, pos := range positions {
		if len(pos) != p.NDim {
			return fmt.Errorf("%w: contact %d position has %d values, want %d", ErrInvalidProbe, i, len(pos), p.NDim)
		}
	}
	expandedShapes, err := broadcast("contact_shapes", shapes, n, func(s string) string { return s })
	if err != nil {
		return err
	}
	if params == nil {
		params = []map[string]float64{{}}
	}
	expandedParams, err := broadcast("contact_shape_params", params, n, cloneParams)
	if err != nil {
		return err
	}
	if planeAxes == nil {
		planeAxes = make([][][]float64, n)
		for i := range planeAxes {
			planeAxes[i] = identityAxes(p.NDim)
		}
	} else if len(planeAxes) != n {
		return fmt.Errorf("%w: contact_plane_axes has %d entries, want %d", ErrInvalidProbe, len(planeAxes), n)
	}
	if shankIDs != nil && len(shankIDs) != n {
		return fmt.Errorf("%w: shank_ids has %d entries, want %d", ErrInvalidProbe, len(shankIDs), n)
	}
	p.ContactPositions = cloneMatrix(positions)
	p.ContactShapes = expandedShapes
	p.ContactShapeParams = expandedParams
	p.ContactPlaneAxes = cloneAxes(planeAxes)
	p.ShankIDs = slices.Clone(shankIDs)
	p.ContactIDs = nil
	p.DeviceChannelIndices = nil
	return p.Validate()
}

// SetContactIDs sets one id per contact.
func (p *Probe) SetContactIDs(ids []string) error {
	if len(ids) != p.ContactCount() {
		return fmt.Errorf("%w: contact_ids has %d entries, want %d", ErrInvalidProbe, len(ids), p.ContactCount())
	}
	p.ContactIDs = slices.Clone(ids)
	return nil
}

// SetDeviceChannelIndices sets the wiring of every contact; -1 marks an
// unconnected contact.
func (p *Probe) SetDeviceChannelIndices(indices []int) error {
	if len(indices) != p.ContactCount() {
		return fmt.Errorf("%w: device_channel_indices has %d entries, want %d", ErrInvalidProbe, len(indices), p.ContactCount())
	}
	p.DeviceChannelIndices = slices.Clone(indices)
	return nil
}

// SetPlanarContour sets the probe outline.
func (p *Probe) SetPlanarContour(contour [][]float64) error {
	for i, vertex := range contour {
		if len(vertex) != p.NDim {
			return fmt.Errorf("%w: contour vertex %d has %d values, want %d", ErrInvalidProbe, i, len(vertex), p.NDim)
		}
	}
	p.PlanarContour = cloneMatrix(contour)
	return nil
}

// Move translates contacts and contour by offset.
func (p *Probe) Move(offset []float64) error {
	if len(offset) != p.NDim {
		return fmt.Errorf("%w: offset has %d values, want %d", ErrInvalidProbe, len(offset), p.NDim)
	}
	for _, m := range [][][]float64{p.ContactPositions, p.PlanarContour} {
		for _, row := range m {
			for d := range row {
				row[d] += offset[d]
			}
		}
	}
	return nil
}

// Validate checks the parallel-array invariants.
func (p *Probe) Validate() error {
	if p.NDim != 2 && p.NDim != 3 {
		return fmt.Errorf("%w: ndim %d, want 2 or 3", ErrInvalidProbe, p.NDim)
	}
	if _, err := ParseUnit(string(p.SIUnits)); err != nil {
		return err
	}
	n := p.ContactCount()
	for i, pos := range p.ContactPositions {
		if len(pos) != p.NDim {
			return fmt.Errorf("%w: contact %d position has %d values, want %d", ErrInvalidProbe, i, len(pos), p.NDim)
		}
	}
	lengths := []struct {
		field string
		set   bool
		len   int
	}{
		{"contact_shapes", true, len(p.ContactShapes)},
		{"contact_shape_params", p.ContactShapeParams != nil, len(p.ContactShapeParams)},
		{"contact_plane_axes", p.ContactPlaneAxes != nil, len(p.ContactPlaneAxes)},
		{"contact_ids", p.ContactIDs != nil, len(p.ContactIDs)},
		{"device_channel_indices", p.DeviceChannelIndices != nil, len(p.DeviceChannelIndices)},
		{"shank_ids", p.ShankIDs != nil, len(p.ShankIDs)},
	}
	for _, l := range lengths {
		if l.set && l.len != n {
			return fmt.Errorf("%w: %s has %d entries, want %d", ErrInvalidProbe, l.field, l.len, n)
		}
	}
	for i, axes := range p.ContactPlaneAxes {
		if len(axes) != 2 {
			return fmt.Errorf("%w: contact %d has %d plane axes, want 2", ErrInvalidProbe, i, len(axes))
		}
		for _, axis := range axes {
			if len(axis) != p.NDim {
				return fmt.Errorf("%w: contact %d plane axis has %d values, want %d", ErrInvalidProbe, i, len(axis), p.NDim)
			}
		}
	}
	for i, vertex := range p.PlanarContour {
		if len(vertex) != p.NDim {
			return fmt.Errorf("%w: contour vertex %d has %d values, want %d", ErrInvalidProbe, i, len(vertex), p.NDim)
		}
	}
	return nil
}

// ProbeGroup is an ordered collection of probes sharing one coordinate space.
type ProbeGroup struct {
	Probes      []*Probe
	Annotations map[string]any
}

// Add appends a probe to the group.
func (g *ProbeGroup) Add(p *Probe) { g.Probes = append(g.Probes, p) }

func broadcast[T any](field string, values []T, n int, clone func(T) T) ([]T, error) {
	switch len(values) {
	case n:
	case 1:
		out := make([]T, n)
		for i := range out {
			out[i] = clone(values[0])
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s has %d entries, want 1 or %d", ErrInvalidProbe, field, len(values), n)
	}
	out := make([]T, n)
	for i, v := range values {
		out[i] = clone(v)
	}
	return out, nil
}

func identityAxes(ndim int) [][]float64 {
	axes := [][]float64{make([]float64, ndim), make([]float64, ndim)}
	axes[0][0] = 1
	axes[1][1] = 1
	return axes
}

func cloneParams(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneMatrix(m [][]float64) [][]float64 {
	if m == nil {
		return nil
	}
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = slices.Clone(row)
	}
	return out
}

func cloneAxes(a [][][]float64) [][][]float64 {
	if a == nil {
		return nil
	}
	out := make([][][]float64, len(a))
	for i, m := range a {
		out[i] = cloneMatrix(m)
	}
	return out
}
