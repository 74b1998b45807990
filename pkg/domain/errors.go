package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below report the offending values and match
// their sentinel through errors.Is.
var (
	ErrUnsupportedUnit           = errors.New("domain: unsupported unit")
	ErrMissingName               = errors.New("domain: probe name not provided and not found in probe annotations")
	ErrArgumentCountMismatch     = errors.New("domain: number of names must match number of probes")
	ErrUnknownShapeParameter     = errors.New("domain: unknown shape parameter")
	ErrTransposedData            = errors.New("domain: data appears to be transposed")
	ErrChannelCountMismatch      = errors.New("domain: data channel count does not match channels region")
	ErrChannelConversionMismatch = errors.New("domain: channel_conversion length does not match channels region")
	ErrColumnPresence            = errors.New("domain: column presence differs from table")
	ErrDimension                 = errors.New("domain: invalid dimensions")
	ErrDuplicateContactID        = errors.New("domain: duplicate contact_id")
	ErrIndexOutOfRange           = errors.New("domain: row index out of range")
	ErrDuplicateDevice           = errors.New("domain: device name already in use")
	ErrTableOwned                = errors.New("domain: contacts table already owned by a probe model")
	ErrRaggedData                = errors.New("domain: data rows have different lengths")
	ErrMissingTiming             = errors.New("domain: one of timestamps or rate is required")
	ErrConflictingTiming         = errors.New("domain: timestamps and rate are mutually exclusive")
	ErrInvalidHemisphere         = errors.New("domain: invalid hemisphere")
	ErrRequiredField             = errors.New("domain: required field missing")
)

// UnsupportedUnitError reports a unit tag outside um, mm and m.
type UnsupportedUnitError struct {
	Unit string
}

func (e UnsupportedUnitError) Error() string {
	return fmt.Sprintf("unsupported unit %q: expected one of um, mm, m", e.Unit)
}

// Is reports whether target is ErrUnsupportedUnit.
func (e UnsupportedUnitError) Is(target error) bool { return target == ErrUnsupportedUnit }

// MissingNameError reports a probe (by position in its group) with no resolvable name.
type MissingNameError struct {
	Index int
}

func (e MissingNameError) Error() string {
	return fmt.Sprintf("probe %d: name not provided and not found in probe annotations, please provide a name", e.Index)
}

// Is reports whether target is ErrMissingName.
func (e MissingNameError) Is(target error) bool { return target == ErrMissingName }

// ArgumentCountMismatchError reports a name list whose length differs from the probe group.
type ArgumentCountMismatchError struct {
	Probes int
	Names  int
}

func (e ArgumentCountMismatchError) Error() string {
	return fmt.Sprintf("got %d names for %d probes: the number of names must match the number of probes", e.Names, e.Probes)
}

// Is reports whether target is ErrArgumentCountMismatch.
func (e ArgumentCountMismatchError) Is(target error) bool { return target == ErrArgumentCountMismatch }

// UnknownShapeParameterError reports a shape parameter with no matching contacts column.
type UnknownShapeParameterError struct {
	Key string
}

func (e UnknownShapeParameterError) Error() string {
	return fmt.Sprintf("unknown shape parameter %q: expected one of radius, width, height", e.Key)
}

// Is reports whether target is ErrUnknownShapeParameter.
func (e UnknownShapeParameterError) Is(target error) bool { return target == ErrUnknownShapeParameter }

// TransposedDataError is returned when the first data dimension matches the
// channel count but the second does not.
type TransposedDataError struct {
	Rows     int
	Cols     int
	Channels int
}

func (e TransposedDataError) Error() string {
	return fmt.Sprintf("data has shape (%d, %d) but the channels region has %d rows: the first dimension matches the number of channels, transpose data to (%d, %d)",
		e.Rows, e.Cols, e.Channels, e.Cols, e.Rows)
}

// Is reports whether target is ErrTransposedData.
func (e TransposedDataError) Is(target error) bool { return target == ErrTransposedData }

// ChannelCountMismatchError reports a data second dimension that differs from the channel count.
type ChannelCountMismatchError struct {
	Cols     int
	Channels int
}

func (e ChannelCountMismatchError) Error() string {
	return fmt.Sprintf("data has %d channels in its second dimension but the channels region has %d rows", e.Cols, e.Channels)
}

// Is reports whether target is ErrChannelCountMismatch.
func (e ChannelCountMismatchError) Is(target error) bool { return target == ErrChannelCountMismatch }

// ChannelConversionMismatchError reports a channel_conversion vector of the wrong length.
type ChannelConversionMismatchError struct {
	Len      int
	Channels int
}

func (e ChannelConversionMismatchError) Error() string {
	return fmt.Sprintf("channel_conversion has %d values but the channels region has %d rows", e.Len, e.Channels)
}

// Is reports whether target is ErrChannelConversionMismatch.
func (e ChannelConversionMismatchError) Is(target error) bool {
	return target == ErrChannelConversionMismatch
}

// ColumnPresenceError reports a row that would populate a column absent from
// the table, or omit one the table has.
type ColumnPresenceError struct {
	Table   string
	Column  Column
	Row     int
	Present bool
}

func (e ColumnPresenceError) Error() string {
	if e.Present {
		return fmt.Sprintf("%s row %d: column %s is set but the table has no such column", e.Table, e.Row, e.Column)
	}
	return fmt.Sprintf("%s row %d: column %s is missing but the table requires it for every row", e.Table, e.Row, e.Column)
}

// Is reports whether target is ErrColumnPresence.
func (e ColumnPresenceError) Is(target error) bool { return target == ErrColumnPresence }

// DimensionError reports a vector or matrix with the wrong shape.
type DimensionError struct {
	Field string
	Got   int
	Want  string
}

func (e DimensionError) Error() string {
	return fmt.Sprintf("%s: got %d values, want %s", e.Field, e.Got, e.Want)
}

// Is reports whether target is ErrDimension.
func (e DimensionError) Is(target error) bool { return target == ErrDimension }

// DuplicateContactIDError reports a contact_id already present in the table.
type DuplicateContactIDError struct {
	ContactID string
}

func (e DuplicateContactIDError) Error() string {
	return fmt.Sprintf("contact_id %q already exists in contacts table", e.ContactID)
}

// Is reports whether target is ErrDuplicateContactID.
func (e DuplicateContactIDError) Is(target error) bool { return target == ErrDuplicateContactID }

// IndexOutOfRangeError reports a reference outside the target table.
type IndexOutOfRangeError struct {
	Table string
	Index int
	Len   int
}

func (e IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("index %d out of range for table %s with %d rows", e.Index, e.Table, e.Len)
}

// Is reports whether target is ErrIndexOutOfRange.
func (e IndexOutOfRangeError) Is(target error) bool { return target == ErrIndexOutOfRange }

// DuplicateDeviceError reports a device name collision within a container.
type DuplicateDeviceError struct {
	Name string
}

func (e DuplicateDeviceError) Error() string {
	return fmt.Sprintf("device %s already exists", e.Name)
}

// Is reports whether target is ErrDuplicateDevice.
func (e DuplicateDeviceError) Is(target error) bool { return target == ErrDuplicateDevice }

// ErrNotFound is returned when a named record does not exist.
type ErrNotFound struct {
	Kind string
	Name string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

func requiredField(field string) error {
	return fmt.Errorf("%w: %s", ErrRequiredField, field)
}
