package probeinterface

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
)

// Specification and FormatVersion are written into every encoded file.
const (
	Specification = "probeinterface"
	FormatVersion = "0.2.24"
)

// ErrInvalidFormat is returned when a document is not a probeinterface file.
var ErrInvalidFormat = errors.New("probeinterface: invalid file format")

const (
	annotationName         = "name"
	annotationSerialNumber = "serial_number"
	annotationModelName    = "model_name"
	annotationManufacturer = "manufacturer"
)

type fileJSON struct {
	Specification string         `json:"specification"`
	Version       string         `json:"version"`
	Annotations   map[string]any `json:"annotations,omitempty"`
	Probes        []probeJSON    `json:"probes"`
}

type probeJSON struct {
	NDim                 int                   `json:"ndim"`
	SIUnits              string                `json:"si_units"`
	Annotations          map[string]any        `json:"annotations"`
	ContactAnnotations   map[string]any        `json:"contact_annotations,omitempty"`
	ContactPositions     [][]float64           `json:"contact_positions"`
	ContactPlaneAxes     [][][]float64         `json:"contact_plane_axes,omitempty"`
	ContactShapes        []string              `json:"contact_shapes"`
	ContactShapeParams   []map[string]*float64 `json:"contact_shape_params"`
	PlanarContour        [][]float64           `json:"probe_planar_contour,omitempty"`
	DeviceChannelIndices []int                 `json:"device_channel_indices,omitempty"`
	ContactIDs           []string              `json:"contact_ids,omitempty"`
	ShankIDs             []string              `json:"shank_ids,omitempty"`
}

// Decode reads a probeinterface JSON document. Contact id and shank id arrays
// made only of empty strings decode as unset.
func Decode(r io.Reader) (*ProbeGroup, error) {
	var doc fileJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if doc.Specification != Specification {
		return nil, fmt.Errorf("%w: specification %q", ErrInvalidFormat, doc.Specification)
	}
	group := &ProbeGroup{Annotations: doc.Annotations}
	for i, raw := range doc.Probes {
		probe, err := decodeProbe(raw)
		if err != nil {
			return nil, fmt.Errorf("probe %d: %w", i, err)
		}
		group.Add(probe)
	}
	return group, nil
}

func decodeProbe(raw probeJSON) (*Probe, error) {
	unit, err := ParseUnit(raw.SIUnits)
	if err != nil {
		return nil, err
	}
	p := &Probe{
		NDim:                 raw.NDim,
		SIUnits:              unit,
		ContactPositions:     raw.ContactPositions,
		ContactPlaneAxes:     raw.ContactPlaneAxes,
		ContactShapes:        raw.ContactShapes,
		PlanarContour:        raw.PlanarContour,
		DeviceChannelIndices: raw.DeviceChannelIndices,
		ContactIDs:           blankToNil(raw.ContactIDs),
		ShankIDs:             blankToNil(raw.ShankIDs),
	}
	if p.ContactShapes == nil {
		p.ContactShapes = []string{}
	}
	if raw.ContactShapeParams != nil {
		p.ContactShapeParams = make([]map[string]float64, len(raw.ContactShapeParams))
		for i, params := range raw.ContactShapeParams {
			out := make(map[string]float64, len(params))
			for k, v := range params {
				if v != nil {
					out[k] = *v
				}
			}
			p.ContactShapeParams[i] = out
		}
	}
	for k, v := range raw.Annotations {
		s, isString := v.(string)
		switch {
		case k == annotationName && isString:
			p.Name = s
		case k == annotationSerialNumber && isString:
			p.SerialNumber = s
		case k == annotationModelName && isString:
			p.ModelName = s
		case k == annotationManufacturer && isString:
			p.Manufacturer = s
		case v == nil && (k == annotationName || k == annotationSerialNumber || k == annotationModelName || k == annotationManufacturer):
		default:
			if p.Annotations == nil {
				p.Annotations = make(map[string]any)
			}
			p.Annotations[k] = v
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Encode writes group as an indented probeinterface JSON document. NaN shape
// parameters are omitted since an absent key already means not applicable.
// A shape-parameter column that is NaN for every contact therefore leaves no
// key at all, and decoding plus import yields a table without that column.
func Encode(w io.Writer, group *ProbeGroup) error {
	if group == nil {
		return fmt.Errorf("%w: nil probe group", ErrInvalidFormat)
	}
	doc := fileJSON{
		Specification: Specification,
		Version:       FormatVersion,
		Annotations:   group.Annotations,
		Probes:        make([]probeJSON, 0, len(group.Probes)),
	}
	for i, p := range group.Probes {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("probe %d: %w", i, err)
		}
		doc.Probes = append(doc.Probes, encodeProbe(p))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func encodeProbe(p *Probe) probeJSON {
	annotations := make(map[string]any, len(p.Annotations)+4)
	for k, v := range p.Annotations {
		annotations[k] = v
	}
	for k, v := range map[string]string{
		annotationName:         p.Name,
		annotationSerialNumber: p.SerialNumber,
		annotationModelName:    p.ModelName,
		annotationManufacturer: p.Manufacturer,
	} {
		if v != "" {
			annotations[k] = v
		}
	}
	out := probeJSON{
		NDim:                 p.NDim,
		SIUnits:              string(p.SIUnits),
		Annotations:          annotations,
		ContactPositions:     p.ContactPositions,
		ContactPlaneAxes:     p.ContactPlaneAxes,
		ContactShapes:        p.ContactShapes,
		PlanarContour:        p.PlanarContour,
		DeviceChannelIndices: p.DeviceChannelIndices,
		ContactIDs:           p.ContactIDs,
		ShankIDs:             p.ShankIDs,
	}
	if out.ContactPositions == nil {
		out.ContactPositions = [][]float64{}
	}
	if out.ContactShapes == nil {
		out.ContactShapes = []string{}
	}
	out.ContactShapeParams = make([]map[string]*float64, len(p.ContactShapeParams))
	for i, params := range p.ContactShapeParams {
		m := make(map[string]*float64, len(params))
		for k, v := range params {
			if math.IsNaN(v) {
				continue
			}
			m[k] = &v
		}
		out.ContactShapeParams[i] = m
	}
	return out
}

func blankToNil(ids []string) []string {
	if ids == nil || slices.ContainsFunc(ids, func(s string) bool { return s != "" }) {
		return ids
	}
	return nil
}
