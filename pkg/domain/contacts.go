package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
)

// Column names a dataset of a ContactsTable or ChannelsTable.
type Column string

// ContactsTable column names, in schema order.
const (
	ColumnRelativePosition Column = "relative_position_in_um"
	ColumnShape            Column = "shape"
	ColumnContactID        Column = "contact_id"
	ColumnShankID          Column = "shank_id"
	ColumnPlaneAxes        Column = "plane_axes"
	ColumnRadius           Column = "radius_in_um"
	ColumnWidth            Column = "width_in_um"
	ColumnHeight           Column = "height_in_um"
	ColumnDeviceChannel    Column = "device_channel"
)

// Contact shapes understood by the probeinterface ecosystem.
const (
	ShapeCircle = "circle"
	ShapeSquare = "square"
	ShapeRect   = "rect"
)

// DefaultContactsTableName is the name a ProbeModel expects for its contacts table.
const DefaultContactsTableName = "contacts_table"

const shapeParamSuffix = "_in_um"

var optionalContactColumns = []Column{
	ColumnContactID,
	ColumnShankID,
	ColumnPlaneAxes,
	ColumnRadius,
	ColumnWidth,
	ColumnHeight,
	ColumnDeviceChannel,
}

// ShapeParamColumns lists the shape-parameter columns in export order.
var ShapeParamColumns = []Column{ColumnRadius, ColumnWidth, ColumnHeight}

// ShapeParamColumn maps a probeinterface shape parameter key (radius, width,
// height) to its contacts column.
func ShapeParamColumn(key string) (Column, bool) {
	col := Column(key + shapeParamSuffix)
	if slices.Contains(ShapeParamColumns, col) {
		return col, true
	}
	return "", false
}

// ShapeParamKey strips the unit suffix from a shape-parameter column.
func (c Column) ShapeParamKey() string {
	return strings.TrimSuffix(string(c), shapeParamSuffix)
}

// NotApplicable returns the NaN sentinel stored for a shape parameter that
// does not apply to a contact.
func NotApplicable() float64 { return math.NaN() }

// ContactRow is one contact appended to a ContactsTable. Nil optional fields
// mean the column is not populated; the choice must be the same for every
// row of a table.
type ContactRow struct {
	RelativePosition []float64
	Shape            string
	ContactID        *string
	ShankID          *string
	PlaneAxes        [][]float64
	RadiusInUM       *float64
	WidthInUM        *float64
	HeightInUM       *float64
	DeviceChannel    *int
}

func (r ContactRow) has(c Column) bool {
	switch c {
	case ColumnRelativePosition, ColumnShape:
		return true
	case ColumnContactID:
		return r.ContactID != nil
	case ColumnShankID:
		return r.ShankID != nil
	case ColumnPlaneAxes:
		return r.PlaneAxes != nil
	case ColumnRadius:
		return r.RadiusInUM != nil
	case ColumnWidth:
		return r.WidthInUM != nil
	case ColumnHeight:
		return r.HeightInUM != nil
	case ColumnDeviceChannel:
		return r.DeviceChannel != nil
	}
	return false
}

// ContactsTable stores the contacts of a probe model. Rows are append-only.
type ContactsTable struct {
	name              string
	description       string
	positionReference string

	ndim    int
	columns map[Column]bool

	positions      [][]float64
	shapes         []string
	contactIDs     []string
	shankIDs       []string
	planeAxes      [][][]float64
	radius         []float64
	width          []float64
	height         []float64
	deviceChannels []int

	ids   map[string]struct{}
	owned bool
}

// NewContactsTable constructs an empty contacts table. An empty name selects
// DefaultContactsTableName.
func NewContactsTable(name, description string) *ContactsTable {
	if name == "" {
		name = DefaultContactsTableName
	}
	return &ContactsTable{
		name:        name,
		description: description,
		ids:         make(map[string]struct{}),
	}
}

// Name returns the table name.
func (t *ContactsTable) Name() string { return t.name }

// Description returns the table description.
func (t *ContactsTable) Description() string { return t.description }

// Len returns the number of contacts.
func (t *ContactsTable) Len() int { return len(t.shapes) }

// NDim returns the position dimensionality, or 0 before it is fixed.
func (t *ContactsTable) NDim() int { return t.ndim }

// SetPositionReference records the reference point of relative_position_in_um.
func (t *ContactsTable) SetPositionReference(ref string) { t.positionReference = ref }

// PositionReference returns the reference point of relative_position_in_um.
func (t *ContactsTable) PositionReference() string { return t.positionReference }

// HasColumn reports whether the column exists on the table.
func (t *ContactsTable) HasColumn(c Column) bool {
	switch c {
	case ColumnRelativePosition, ColumnShape:
		return true
	}
	return t.columns[c]
}

// Columns returns the columns present on the table in schema order.
func (t *ContactsTable) Columns() []Column {
	cols := []Column{ColumnRelativePosition, ColumnShape}
	for _, c := range optionalContactColumns {
		if t.columns[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// AddRow appends a contact. The first row decides which optional columns
// exist; every later row must populate exactly the same set. A rejected row
// leaves the table unchanged.
func (t *ContactsTable) AddRow(row ContactRow) error {
	idx := t.Len()
	if row.Shape == "" {
		return fmt.Errorf("%s row %d: %w", t.name, idx, requiredField(string(ColumnShape)))
	}
	nd := len(row.RelativePosition)
	if nd != 2 && nd != 3 {
		return DimensionError{Field: string(ColumnRelativePosition), Got: nd, Want: "2 or 3"}
	}
	if t.ndim != 0 && nd != t.ndim {
		return DimensionError{Field: string(ColumnRelativePosition), Got: nd, Want: fmt.Sprint(t.ndim)}
	}
	if row.PlaneAxes != nil {
		if len(row.PlaneAxes) != 2 {
			return DimensionError{Field: string(ColumnPlaneAxes), Got: len(row.PlaneAxes), Want: "2 axis vectors"}
		}
		for _, axis := range row.PlaneAxes {
			if len(axis) != nd {
				return DimensionError{Field: string(ColumnPlaneAxes), Got: len(axis), Want: fmt.Sprint(nd)}
			}
		}
	}
	if idx > 0 {
		for _, c := range optionalContactColumns {
			if has := row.has(c); has != t.columns[c] {
				return ColumnPresenceError{Table: t.name, Column: c, Row: idx, Present: has}
			}
		}
	}
	if row.ContactID != nil && *row.ContactID != "" {
		if _, dup := t.ids[*row.ContactID]; dup {
			return DuplicateContactIDError{ContactID: *row.ContactID}
		}
	}

	if idx == 0 {
		if t.ndim == 0 {
			t.ndim = nd
		}
		t.columns = make(map[Column]bool, len(optionalContactColumns))
		for _, c := range optionalContactColumns {
			if row.has(c) {
				t.columns[c] = true
			}
		}
	}
	t.positions = append(t.positions, slices.Clone(row.RelativePosition))
	t.shapes = append(t.shapes, row.Shape)
	if row.ContactID != nil {
		t.contactIDs = append(t.contactIDs, *row.ContactID)
		if *row.ContactID != "" {
			if t.ids == nil {
				t.ids = make(map[string]struct{})
			}
			t.ids[*row.ContactID] = struct{}{}
		}
	}
	if row.ShankID != nil {
		t.shankIDs = append(t.shankIDs, *row.ShankID)
	}
	if row.PlaneAxes != nil {
		t.planeAxes = append(t.planeAxes, cloneMatrix(row.PlaneAxes))
	}
	if row.RadiusInUM != nil {
		t.radius = append(t.radius, *row.RadiusInUM)
	}
	if row.WidthInUM != nil {
		t.width = append(t.width, *row.WidthInUM)
	}
	if row.HeightInUM != nil {
		t.height = append(t.height, *row.HeightInUM)
	}
	if row.DeviceChannel != nil {
		t.deviceChannels = append(t.deviceChannels, *row.DeviceChannel)
	}
	return nil
}

// Row returns a copy of the contact at index i.
func (t *ContactsTable) Row(i int) (ContactRow, bool) {
	if i < 0 || i >= t.Len() {
		return ContactRow{}, false
	}
	row := ContactRow{
		RelativePosition: slices.Clone(t.positions[i]),
		Shape:            t.shapes[i],
	}
	if t.columns[ColumnContactID] {
		row.ContactID = String(t.contactIDs[i])
	}
	if t.columns[ColumnShankID] {
		row.ShankID = String(t.shankIDs[i])
	}
	if t.columns[ColumnPlaneAxes] {
		row.PlaneAxes = cloneMatrix(t.planeAxes[i])
	}
	if t.columns[ColumnRadius] {
		row.RadiusInUM = Float(t.radius[i])
	}
	if t.columns[ColumnWidth] {
		row.WidthInUM = Float(t.width[i])
	}
	if t.columns[ColumnHeight] {
		row.HeightInUM = Float(t.height[i])
	}
	if t.columns[ColumnDeviceChannel] {
		row.DeviceChannel = Int(t.deviceChannels[i])
	}
	return row, true
}

// Positions returns relative_position_in_um for every contact.
func (t *ContactsTable) Positions() [][]float64 { return cloneMatrix(t.positions) }

// Shapes returns the shape of every contact.
func (t *ContactsTable) Shapes() []string { return slices.Clone(t.shapes) }

// ShapeParam returns the values of a shape-parameter column; NaN marks
// contacts the parameter does not apply to.
func (t *ContactsTable) ShapeParam(c Column) ([]float64, bool) {
	if !t.columns[c] {
		return nil, false
	}
	switch c {
	case ColumnRadius:
		return slices.Clone(t.radius), true
	case ColumnWidth:
		return slices.Clone(t.width), true
	case ColumnHeight:
		return slices.Clone(t.height), true
	}
	return nil, false
}

// ContactIDs returns the contact_id column when present.
func (t *ContactsTable) ContactIDs() ([]string, bool) {
	if !t.columns[ColumnContactID] {
		return nil, false
	}
	return slices.Clone(t.contactIDs), true
}

// ShankIDs returns the shank_id column when present.
func (t *ContactsTable) ShankIDs() ([]string, bool) {
	if !t.columns[ColumnShankID] {
		return nil, false
	}
	return slices.Clone(t.shankIDs), true
}

// DeviceChannels returns the device_channel column when present.
func (t *ContactsTable) DeviceChannels() ([]int, bool) {
	if !t.columns[ColumnDeviceChannel] {
		return nil, false
	}
	return slices.Clone(t.deviceChannels), true
}

// PlaneAxes returns the plane_axes column when present.
func (t *ContactsTable) PlaneAxes() ([][][]float64, bool) {
	if !t.columns[ColumnPlaneAxes] {
		return nil, false
	}
	out := make([][][]float64, len(t.planeAxes))
	for i, m := range t.planeAxes {
		out[i] = cloneMatrix(m)
	}
	return out, true
}

// Clone returns an unowned deep copy of the table.
func (t *ContactsTable) Clone() *ContactsTable {
	out := &ContactsTable{
		name:              t.name,
		description:       t.description,
		positionReference: t.positionReference,
		ndim:              t.ndim,
		positions:         cloneMatrix(t.positions),
		shapes:            slices.Clone(t.shapes),
		contactIDs:        slices.Clone(t.contactIDs),
		shankIDs:          slices.Clone(t.shankIDs),
		radius:            slices.Clone(t.radius),
		width:             slices.Clone(t.width),
		height:            slices.Clone(t.height),
		deviceChannels:    slices.Clone(t.deviceChannels),
		ids:               make(map[string]struct{}, len(t.ids)),
	}
	if t.columns != nil {
		out.columns = make(map[Column]bool, len(t.columns))
		for c, v := range t.columns {
			out.columns[c] = v
		}
	}
	if t.planeAxes != nil {
		out.planeAxes = make([][][]float64, len(t.planeAxes))
		for i, m := range t.planeAxes {
			out.planeAxes[i] = cloneMatrix(m)
		}
	}
	for id := range t.ids {
		out.ids[id] = struct{}{}
	}
	return out
}

// Equal reports whether both tables hold the same columns and values. NaN
// shape parameters compare equal to NaN here and nowhere else.
func (t *ContactsTable) Equal(other *ContactsTable) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.name != other.name || t.description != other.description || t.positionReference != other.positionReference {
		return false
	}
	if t.Len() != other.Len() || !slices.Equal(t.Columns(), other.Columns()) {
		return false
	}
	if !matrixEqual(t.positions, other.positions) || !slices.Equal(t.shapes, other.shapes) {
		return false
	}
	if !slices.Equal(t.contactIDs, other.contactIDs) || !slices.Equal(t.shankIDs, other.shankIDs) {
		return false
	}
	if !slices.Equal(t.deviceChannels, other.deviceChannels) {
		return false
	}
	if !floatsEqual(t.radius, other.radius) || !floatsEqual(t.width, other.width) || !floatsEqual(t.height, other.height) {
		return false
	}
	if len(t.planeAxes) != len(other.planeAxes) {
		return false
	}
	for i := range t.planeAxes {
		if !matrixEqual(t.planeAxes[i], other.planeAxes[i]) {
			return false
		}
	}
	return true
}

type contactsTableJSON struct {
	Name              string        `json:"name"`
	Description       string        `json:"description,omitempty"`
	PositionReference string        `json:"position_reference,omitempty"`
	NDim              int           `json:"ndim,omitempty"`
	RelativePosition  [][]float64   `json:"relative_position_in_um"`
	Shape             []string      `json:"shape"`
	ContactID         []string      `json:"contact_id,omitempty"`
	ShankID           []string      `json:"shank_id,omitempty"`
	PlaneAxes         [][][]float64 `json:"plane_axes,omitempty"`
	Radius            []*float64    `json:"radius_in_um,omitempty"`
	Width             []*float64    `json:"width_in_um,omitempty"`
	Height            []*float64    `json:"height_in_um,omitempty"`
	DeviceChannel     []int         `json:"device_channel,omitempty"`
}

// MarshalJSON encodes the table column-wise. NaN shape parameters encode as null.
func (t *ContactsTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(contactsTableJSON{
		Name:              t.name,
		Description:       t.description,
		PositionReference: t.positionReference,
		NDim:              t.ndim,
		RelativePosition:  nonNilMatrix(t.positions),
		Shape:             nonNil(t.shapes),
		ContactID:         t.contactIDs,
		ShankID:           t.shankIDs,
		PlaneAxes:         t.planeAxes,
		Radius:            nanToNull(t.radius),
		Width:             nanToNull(t.width),
		Height:            nanToNull(t.height),
		DeviceChannel:     t.deviceChannels,
	})
}

// UnmarshalJSON rebuilds the table row by row so every invariant is rechecked.
func (t *ContactsTable) UnmarshalJSON(data []byte) error {
	var aux contactsTableJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	n := len(aux.Shape)
	if len(aux.RelativePosition) != n {
		return DimensionError{Field: string(ColumnRelativePosition), Got: len(aux.RelativePosition), Want: fmt.Sprint(n)}
	}
	// A present column must cover every row, empty arrays included.
	present := map[Column]int{}
	if aux.ContactID != nil {
		present[ColumnContactID] = len(aux.ContactID)
	}
	if aux.ShankID != nil {
		present[ColumnShankID] = len(aux.ShankID)
	}
	if aux.PlaneAxes != nil {
		present[ColumnPlaneAxes] = len(aux.PlaneAxes)
	}
	if aux.Radius != nil {
		present[ColumnRadius] = len(aux.Radius)
	}
	if aux.Width != nil {
		present[ColumnWidth] = len(aux.Width)
	}
	if aux.Height != nil {
		present[ColumnHeight] = len(aux.Height)
	}
	if aux.DeviceChannel != nil {
		present[ColumnDeviceChannel] = len(aux.DeviceChannel)
	}
	for _, c := range optionalContactColumns {
		if l, ok := present[c]; ok && l != n {
			return DimensionError{Field: string(c), Got: l, Want: fmt.Sprint(n)}
		}
	}
	out := NewContactsTable(aux.Name, aux.Description)
	out.positionReference = aux.PositionReference
	out.ndim = aux.NDim
	for i := 0; i < n; i++ {
		row := ContactRow{RelativePosition: aux.RelativePosition[i], Shape: aux.Shape[i]}
		if aux.ContactID != nil {
			row.ContactID = String(aux.ContactID[i])
		}
		if aux.ShankID != nil {
			row.ShankID = String(aux.ShankID[i])
		}
		if aux.PlaneAxes != nil {
			row.PlaneAxes = aux.PlaneAxes[i]
		}
		if aux.Radius != nil {
			row.RadiusInUM = nullToNaN(aux.Radius[i])
		}
		if aux.Width != nil {
			row.WidthInUM = nullToNaN(aux.Width[i])
		}
		if aux.Height != nil {
			row.HeightInUM = nullToNaN(aux.Height[i])
		}
		if aux.DeviceChannel != nil {
			row.DeviceChannel = Int(aux.DeviceChannel[i])
		}
		if err := out.AddRow(row); err != nil {
			return fmt.Errorf("decode contacts row %d: %w", i, err)
		}
	}
	*t = *out
	return nil
}

// String returns a pointer to v.
func String(v string) *string { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

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

func floatEqual(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return a == b
}

func floatsEqual(a, b []float64) bool {
	return slices.EqualFunc(a, b, floatEqual)
}

func matrixEqual(a, b [][]float64) bool {
	return slices.EqualFunc(a, b, floatsEqual)
}

func nanToNull(values []float64) []*float64 {
	if values == nil {
		return nil
	}
	out := make([]*float64, len(values))
	for i, v := range values {
		if !math.IsNaN(v) {
			out[i] = Float(v)
		}
	}
	return out
}

func nullToNaN(v *float64) *float64 {
	if v == nil {
		return Float(NotApplicable())
	}
	return Float(*v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nonNilMatrix(m [][]float64) [][]float64 {
	if m == nil {
		return [][]float64{}
	}
	return m
}
