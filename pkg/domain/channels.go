package domain

import (
	"fmt"
	"slices"
)

// ChannelsTable column names, in schema order.
const (
	ColumnContact             Column = "contact"
	ColumnReferenceContact    Column = "reference_contact"
	ColumnFilter              Column = "filter"
	ColumnEstimatedPositionAP Column = "estimated_position_ap_in_mm"
	ColumnEstimatedPositionML Column = "estimated_position_ml_in_mm"
	ColumnEstimatedPositionDV Column = "estimated_position_dv_in_mm"
	ColumnEstimatedBrainArea  Column = "estimated_brain_area"
	ColumnActualPositionAP    Column = "actual_position_ap_in_mm"
	ColumnActualPositionML    Column = "actual_position_ml_in_mm"
	ColumnActualPositionDV    Column = "actual_position_dv_in_mm"
	ColumnActualBrainArea     Column = "actual_brain_area"
)

var channelColumns = []Column{
	ColumnContact,
	ColumnReferenceContact,
	ColumnFilter,
	ColumnEstimatedPositionAP,
	ColumnEstimatedPositionML,
	ColumnEstimatedPositionDV,
	ColumnEstimatedBrainArea,
	ColumnActualPositionAP,
	ColumnActualPositionML,
	ColumnActualPositionDV,
	ColumnActualBrainArea,
}

// ChannelRow is one channel appended to a ChannelsTable. Contact and
// ReferenceContact are row indices into the contacts table of the probe's
// model. Every field is optional, but presence must agree across rows.
type ChannelRow struct {
	Contact                 *int
	ReferenceContact        *int
	Filter                  *string
	EstimatedPositionAPInMM *float64
	EstimatedPositionMLInMM *float64
	EstimatedPositionDVInMM *float64
	EstimatedBrainArea      *string
	ActualPositionAPInMM    *float64
	ActualPositionMLInMM    *float64
	ActualPositionDVInMM    *float64
	ActualBrainArea         *string
}

func (r ChannelRow) has(c Column) bool {
	switch c {
	case ColumnContact:
		return r.Contact != nil
	case ColumnReferenceContact:
		return r.ReferenceContact != nil
	case ColumnFilter:
		return r.Filter != nil
	case ColumnEstimatedPositionAP:
		return r.EstimatedPositionAPInMM != nil
	case ColumnEstimatedPositionML:
		return r.EstimatedPositionMLInMM != nil
	case ColumnEstimatedPositionDV:
		return r.EstimatedPositionDVInMM != nil
	case ColumnEstimatedBrainArea:
		return r.EstimatedBrainArea != nil
	case ColumnActualPositionAP:
		return r.ActualPositionAPInMM != nil
	case ColumnActualPositionML:
		return r.ActualPositionMLInMM != nil
	case ColumnActualPositionDV:
		return r.ActualPositionDVInMM != nil
	case ColumnActualBrainArea:
		return r.ActualBrainArea != nil
	}
	return false
}

func (r ChannelRow) clone() ChannelRow {
	out := ChannelRow{}
	out.Contact = clonePtr(r.Contact)
	out.ReferenceContact = clonePtr(r.ReferenceContact)
	out.Filter = clonePtr(r.Filter)
	out.EstimatedPositionAPInMM = clonePtr(r.EstimatedPositionAPInMM)
	out.EstimatedPositionMLInMM = clonePtr(r.EstimatedPositionMLInMM)
	out.EstimatedPositionDVInMM = clonePtr(r.EstimatedPositionDVInMM)
	out.EstimatedBrainArea = clonePtr(r.EstimatedBrainArea)
	out.ActualPositionAPInMM = clonePtr(r.ActualPositionAPInMM)
	out.ActualPositionMLInMM = clonePtr(r.ActualPositionMLInMM)
	out.ActualPositionDVInMM = clonePtr(r.ActualPositionDVInMM)
	out.ActualBrainArea = clonePtr(r.ActualBrainArea)
	return out
}

// ChannelsTableParams configures a ChannelsTable.
type ChannelsTableParams struct {
	Name        string
	Description string
	Probe       *Probe
	// ReferenceMode is e.g. "external wire" or "common reference".
	ReferenceMode              string
	ProbeInsertion             *ProbeInsertion
	EstimatedPositionReference string
	ActualPositionReference    string
}

// ChannelsTable describes the channels of one recording from one probe.
type ChannelsTable struct {
	params   ChannelsTableParams
	contacts *ContactsTable
	columns  map[Column]bool
	rows     []ChannelRow
}

// NewChannelsTable binds a channels table to its probe. The contact columns
// reference the contacts table of the probe's model.
func NewChannelsTable(params ChannelsTableParams) (*ChannelsTable, error) {
	if params.Probe == nil {
		return nil, fmt.Errorf("channels table: %w", requiredField("probe"))
	}
	if params.Name == "" {
		params.Name = DefaultChannelsTableName
	}
	if params.ProbeInsertion != nil {
		insertion, err := NewProbeInsertion(*params.ProbeInsertion)
		if err != nil {
			return nil, fmt.Errorf("channels table %s: %w", params.Name, err)
		}
		params.ProbeInsertion = &insertion
	}
	return &ChannelsTable{
		params:   params,
		contacts: params.Probe.ProbeModel().Contacts(),
	}, nil
}

// Name returns the table name.
func (t *ChannelsTable) Name() string { return t.params.Name }

// Description returns the table description.
func (t *ChannelsTable) Description() string { return t.params.Description }

// Probe returns the linked probe.
func (t *ChannelsTable) Probe() *Probe { return t.params.Probe }

// ReferenceMode returns the recording reference mode.
func (t *ChannelsTable) ReferenceMode() string { return t.params.ReferenceMode }

// ProbeInsertion returns the insertion record, if any.
func (t *ChannelsTable) ProbeInsertion() (ProbeInsertion, bool) {
	if t.params.ProbeInsertion == nil {
		return ProbeInsertion{}, false
	}
	return *t.params.ProbeInsertion, true
}

// EstimatedPositionReference returns the reference of the estimated positions.
func (t *ChannelsTable) EstimatedPositionReference() string {
	return t.params.EstimatedPositionReference
}

// ActualPositionReference returns the reference of the actual positions.
func (t *ChannelsTable) ActualPositionReference() string {
	return t.params.ActualPositionReference
}

// Len returns the number of channels.
func (t *ChannelsTable) Len() int { return len(t.rows) }

// HasColumn reports whether the column exists on the table.
func (t *ChannelsTable) HasColumn(c Column) bool { return t.columns[c] }

// Columns returns the present columns in schema order.
func (t *ChannelsTable) Columns() []Column {
	var cols []Column
	for _, c := range channelColumns {
		if t.columns[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// AddRow appends a channel. Contact indices are checked against the current
// length of the contacts table.
func (t *ChannelsTable) AddRow(row ChannelRow) error {
	idx := len(t.rows)
	if idx > 0 {
		for _, c := range channelColumns {
			if has := row.has(c); has != t.columns[c] {
				return ColumnPresenceError{Table: t.Name(), Column: c, Row: idx, Present: has}
			}
		}
	}
	for _, ref := range []*int{row.Contact, row.ReferenceContact} {
		if ref == nil {
			continue
		}
		if *ref < 0 || *ref >= t.contacts.Len() {
			return IndexOutOfRangeError{Table: t.contacts.Name(), Index: *ref, Len: t.contacts.Len()}
		}
	}
	if idx == 0 {
		t.columns = make(map[Column]bool)
		for _, c := range channelColumns {
			if row.has(c) {
				t.columns[c] = true
			}
		}
	}
	t.rows = append(t.rows, row.clone())
	return nil
}

// Row returns a copy of the channel at index i.
func (t *ChannelsTable) Row(i int) (ChannelRow, bool) {
	if i < 0 || i >= len(t.rows) {
		return ChannelRow{}, false
	}
	return t.rows[i].clone(), true
}

// Contact resolves the contact reference of channel i.
func (t *ChannelsTable) Contact(i int) (RowRef, bool) {
	if i < 0 || i >= len(t.rows) || t.rows[i].Contact == nil {
		return RowRef{}, false
	}
	return RowRef{Target: t.contacts, Index: *t.rows[i].Contact}, true
}

// ReferenceContact resolves the reference contact of channel i.
func (t *ChannelsTable) ReferenceContact(i int) (RowRef, bool) {
	if i < 0 || i >= len(t.rows) || t.rows[i].ReferenceContact == nil {
		return RowRef{}, false
	}
	return RowRef{Target: t.contacts, Index: *t.rows[i].ReferenceContact}, true
}

// ChannelColumns lists every ChannelsTable column in schema order.
func ChannelColumns() []Column { return slices.Clone(channelColumns) }

// ContactColumns lists every ContactsTable column in schema order.
func ContactColumns() []Column {
	return append([]Column{ColumnRelativePosition, ColumnShape}, optionalContactColumns...)
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
