// Package domain defines the typed records of the ndx-extracellular-channels
// extension (contacts, probe models, probes, channels and series) together
// with the rule evaluation and persistence primitives built on them.
package domain

import (
	"encoding/json"
	"fmt"
)

// EntityType identifies the type of record stored in the device catalog.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityProbeModel identifies a probe design record.
	EntityProbeModel EntityType = "probe_model"
	// EntityProbe identifies a physical probe record.
	EntityProbe EntityType = "probe"
)

// Default names used by the extension schema.
const (
	DefaultProbeInsertionName = "probe_insertion"
	DefaultChannelsTableName  = "ChannelsTable"
	// UnknownModelName is substituted when an imported probe declares no model name.
	UnknownModelName = "unknown"
)

// ProbeModelParams carries the scalar attributes of a ProbeModel.
type ProbeModelParams struct {
	Name              string
	Description       string
	Manufacturer      string
	Model             string
	NDim              int
	PlanarContourInUM [][]float64
}

// ProbeModel describes a probe design. It owns exactly one ContactsTable.
type ProbeModel struct {
	name          string
	description   string
	manufacturer  string
	model         string
	ndim          int
	planarContour [][]float64
	contacts      *ContactsTable
}

// NewProbeModel validates params and takes ownership of contacts. Model
// defaults to Name and NDim defaults to 2.
func NewProbeModel(params ProbeModelParams, contacts *ContactsTable) (*ProbeModel, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("probe model: %w", requiredField("name"))
	}
	if contacts == nil {
		return nil, fmt.Errorf("probe model %s: %w", params.Name, requiredField(DefaultContactsTableName))
	}
	if contacts.owned {
		return nil, fmt.Errorf("probe model %s: %w: %s", params.Name, ErrTableOwned, contacts.Name())
	}
	ndim := params.NDim
	if ndim == 0 {
		ndim = 2
	}
	if ndim != 2 && ndim != 3 {
		return nil, DimensionError{Field: "ndim", Got: ndim, Want: "2 or 3"}
	}
	if contacts.NDim() != 0 && contacts.NDim() != ndim {
		return nil, DimensionError{Field: string(ColumnRelativePosition), Got: contacts.NDim(), Want: fmt.Sprint(ndim)}
	}
	for _, vertex := range params.PlanarContourInUM {
		if len(vertex) != ndim {
			return nil, DimensionError{Field: "planar_contour_in_um", Got: len(vertex), Want: fmt.Sprint(ndim)}
		}
	}
	model := params.Model
	if model == "" {
		model = params.Name
	}
	contacts.owned = true
	if contacts.ndim == 0 {
		contacts.ndim = ndim
	}
	return &ProbeModel{
		name:          params.Name,
		description:   params.Description,
		manufacturer:  params.Manufacturer,
		model:         model,
		ndim:          ndim,
		planarContour: cloneMatrix(params.PlanarContourInUM),
		contacts:      contacts,
	}, nil
}

// Name returns the device name of the model.
func (m *ProbeModel) Name() string { return m.name }

// Description returns the free-text description.
func (m *ProbeModel) Description() string { return m.description }

// Manufacturer returns the manufacturer.
func (m *ProbeModel) Manufacturer() string { return m.manufacturer }

// Model returns the display model name, e.g. "Neuropixels 1.0".
func (m *ProbeModel) Model() string { return m.model }

// NDim returns 2 or 3.
func (m *ProbeModel) NDim() int { return m.ndim }

// PlanarContour returns the contour vertices in micrometers.
func (m *ProbeModel) PlanarContour() [][]float64 { return cloneMatrix(m.planarContour) }

// Contacts returns the owned contacts table.
func (m *ProbeModel) Contacts() *ContactsTable { return m.contacts }

// Params returns the scalar attributes the model was built from.
func (m *ProbeModel) Params() ProbeModelParams {
	return ProbeModelParams{
		Name:              m.name,
		Description:       m.description,
		Manufacturer:      m.manufacturer,
		Model:             m.model,
		NDim:              m.ndim,
		PlanarContourInUM: cloneMatrix(m.planarContour),
	}
}

// Clone returns a deep copy of the model owning a copy of its contacts table.
func (m *ProbeModel) Clone() *ProbeModel {
	out := *m
	out.planarContour = cloneMatrix(m.planarContour)
	out.contacts = m.contacts.Clone()
	out.contacts.owned = true
	return &out
}

// Equal reports whether both models describe the same design.
func (m *ProbeModel) Equal(other *ProbeModel) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.name == other.name &&
		m.description == other.description &&
		m.manufacturer == other.manufacturer &&
		m.model == other.model &&
		m.ndim == other.ndim &&
		matrixEqual(m.planarContour, other.planarContour) &&
		m.contacts.Equal(other.contacts)
}

type probeModelJSON struct {
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Manufacturer  string         `json:"manufacturer,omitempty"`
	Model         string         `json:"model,omitempty"`
	NDim          int            `json:"ndim"`
	PlanarContour [][]float64    `json:"planar_contour_in_um,omitempty"`
	Contacts      *ContactsTable `json:"contacts_table"`
}

// MarshalJSON encodes the model with its contacts table nested.
func (m *ProbeModel) MarshalJSON() ([]byte, error) {
	return json.Marshal(probeModelJSON{
		Name:          m.name,
		Description:   m.description,
		Manufacturer:  m.manufacturer,
		Model:         m.model,
		NDim:          m.ndim,
		PlanarContour: m.planarContour,
		Contacts:      m.contacts,
	})
}

// UnmarshalJSON decodes and revalidates a model.
func (m *ProbeModel) UnmarshalJSON(data []byte) error {
	var aux probeModelJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	decoded, err := NewProbeModel(ProbeModelParams{
		Name:              aux.Name,
		Description:       aux.Description,
		Manufacturer:      aux.Manufacturer,
		Model:             aux.Model,
		NDim:              aux.NDim,
		PlanarContourInUM: aux.PlanarContour,
	}, aux.Contacts)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}

// Probe is one physical unit of a ProbeModel. Several probes may share a model.
type Probe struct {
	name       string
	identifier string
	model      *ProbeModel
}

// NewProbe constructs a probe instance. The identifier is usually a serial number.
func NewProbe(name string, model *ProbeModel, identifier string) (*Probe, error) {
	if name == "" {
		return nil, fmt.Errorf("probe: %w", requiredField("name"))
	}
	if model == nil {
		return nil, fmt.Errorf("probe %s: %w", name, requiredField("probe_model"))
	}
	return &Probe{name: name, identifier: identifier, model: model}, nil
}

// Name returns the device name.
func (p *Probe) Name() string { return p.name }

// Identifier returns the serial number, if any.
func (p *Probe) Identifier() string { return p.identifier }

// ProbeModel returns the linked design.
func (p *Probe) ProbeModel() *ProbeModel { return p.model }

// WithProbeModel returns a copy of p linked to model.
func (p *Probe) WithProbeModel(model *ProbeModel) *Probe {
	return &Probe{name: p.name, identifier: p.identifier, model: model}
}

// Equal reports whether both probes carry the same identity and an equal model.
func (p *Probe) Equal(other *Probe) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.name == other.name && p.identifier == other.identifier && p.model.Equal(other.model)
}

type probeJSON struct {
	Name       string      `json:"name"`
	Identifier string      `json:"identifier,omitempty"`
	ProbeModel *ProbeModel `json:"probe_model"`
}

// MarshalJSON encodes the probe with its model nested.
func (p *Probe) MarshalJSON() ([]byte, error) {
	return json.Marshal(probeJSON{Name: p.name, Identifier: p.identifier, ProbeModel: p.model})
}

// UnmarshalJSON decodes a probe and its nested model.
func (p *Probe) UnmarshalJSON(data []byte) error {
	var aux probeJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	decoded, err := NewProbe(aux.Name, aux.ProbeModel, aux.Identifier)
	if err != nil {
		return err
	}
	*p = *decoded
	return nil
}

// Hemisphere values accepted by ProbeInsertion.
const (
	HemisphereLeft  = "left"
	HemisphereRight = "right"
)

// ProbeInsertion records where and how a probe entered the brain. Positions
// are stereotactic millimeters relative to PositionReference (AP + anterior,
// ML + right, DV + up).
type ProbeInsertion struct {
	Name              string   `json:"name"`
	PositionReference string   `json:"reference,omitempty"`
	Hemisphere        string   `json:"hemisphere,omitempty"`
	DepthInMM         *float64 `json:"depth_in_mm,omitempty"`
	PositionAPInMM    *float64 `json:"insertion_position_ap_in_mm,omitempty"`
	PositionMLInMM    *float64 `json:"insertion_position_ml_in_mm,omitempty"`
	PositionDVInMM    *float64 `json:"insertion_position_dv_in_mm,omitempty"`
	AnglePitchInDeg   *float64 `json:"insertion_angle_pitch_in_deg,omitempty"`
	AngleYawInDeg     *float64 `json:"insertion_angle_yaw_in_deg,omitempty"`
	AngleRollInDeg    *float64 `json:"insertion_angle_roll_in_deg,omitempty"`
}

// NewProbeInsertion validates in and fills the default name.
func NewProbeInsertion(in ProbeInsertion) (ProbeInsertion, error) {
	if in.Name == "" {
		in.Name = DefaultProbeInsertionName
	}
	if err := in.Validate(); err != nil {
		return ProbeInsertion{}, err
	}
	return in, nil
}

// Validate checks the hemisphere tag and its agreement with the ML coordinate.
func (in ProbeInsertion) Validate() error {
	switch in.Hemisphere {
	case "":
		return nil
	case HemisphereLeft, HemisphereRight:
	default:
		return fmt.Errorf("%w %q: expected %s or %s", ErrInvalidHemisphere, in.Hemisphere, HemisphereLeft, HemisphereRight)
	}
	if in.PositionMLInMM == nil {
		return nil
	}
	ml := *in.PositionMLInMM
	if (in.Hemisphere == HemisphereLeft && ml >= 0) || (in.Hemisphere == HemisphereRight && ml <= 0) {
		return fmt.Errorf("%w: hemisphere %s is inconsistent with ml coordinate %g", ErrInvalidHemisphere, in.Hemisphere, ml)
	}
	return nil
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Name   string
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions captured by the store.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
)
