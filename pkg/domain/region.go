package domain

import "slices"

// Table is any row-indexed record that references may target.
type Table interface {
	Name() string
	Len() int
}

// RowRef references one row of a target table.
type RowRef struct {
	Target Table
	Index  int
}

// NewRowRef checks index against the current length of target.
func NewRowRef(target Table, index int) (RowRef, error) {
	if target == nil {
		return RowRef{}, requiredField("target table")
	}
	if index < 0 || index >= target.Len() {
		return RowRef{}, IndexOutOfRangeError{Table: target.Name(), Index: index, Len: target.Len()}
	}
	return RowRef{Target: target, Index: index}, nil
}

// TableRegion selects an ordered set of rows in one target table.
type TableRegion struct {
	target  Table
	indices []int
}

// NewTableRegion checks every index against the current length of target.
func NewTableRegion(target Table, indices ...int) (TableRegion, error) {
	if target == nil {
		return TableRegion{}, requiredField("target table")
	}
	for _, idx := range indices {
		if idx < 0 || idx >= target.Len() {
			return TableRegion{}, IndexOutOfRangeError{Table: target.Name(), Index: idx, Len: target.Len()}
		}
	}
	return TableRegion{target: target, indices: slices.Clone(indices)}, nil
}

// FullRegion selects every current row of target in order.
func FullRegion(target Table) (TableRegion, error) {
	if target == nil {
		return TableRegion{}, requiredField("target table")
	}
	indices := make([]int, target.Len())
	for i := range indices {
		indices[i] = i
	}
	return TableRegion{target: target, indices: indices}, nil
}

// Target returns the referenced table.
func (r TableRegion) Target() Table { return r.target }

// Indices returns the selected row indices.
func (r TableRegion) Indices() []int { return slices.Clone(r.indices) }

// Len returns the number of selected rows.
func (r TableRegion) Len() int { return len(r.indices) }
