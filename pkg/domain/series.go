package domain

import (
	"fmt"
	"slices"
)

// Fixed attributes of an ExtracellularSeries.
const (
	SeriesUnit            = "microvolts"
	SeriesTimestampsUnit  = "seconds"
	ChannelConversionAxis = 1
)

// SeriesParams configures an ExtracellularSeries. Data is laid out as
// (num_times, num_channels). Exactly one of Timestamps or Rate must be set.
type SeriesParams struct {
	Name              string
	Description       string
	Comments          string
	Data              [][]float64
	Channels          TableRegion
	ChannelConversion []float64
	// Conversion defaults to 1 when zero.
	Conversion float64
	Offset     float64
	// Resolution defaults to -1 (unknown) when zero.
	Resolution   float64
	Timestamps   []float64
	Rate         float64
	StartingTime float64
}

// ExtracellularSeries is a voltage recording bound to rows of a ChannelsTable.
type ExtracellularSeries struct {
	params SeriesParams
}

// NewExtracellularSeries validates the data orientation against the channels
// region before building the series.
func NewExtracellularSeries(params SeriesParams) (*ExtracellularSeries, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("extracellular series: %w", requiredField("name"))
	}
	if params.Channels.Target() == nil {
		return nil, fmt.Errorf("extracellular series %s: %w", params.Name, requiredField("channels"))
	}
	if _, ok := params.Channels.Target().(*ChannelsTable); !ok {
		return nil, fmt.Errorf("extracellular series %s: channels must reference a ChannelsTable, got %s", params.Name, params.Channels.Target().Name())
	}
	channels := params.Channels.Len()
	rows := len(params.Data)
	cols := 0
	if rows > 0 {
		cols = len(params.Data[0])
	}
	for i, sample := range params.Data {
		if len(sample) != cols {
			return nil, fmt.Errorf("%w: row %d has %d values, row 0 has %d", ErrRaggedData, i, len(sample), cols)
		}
	}
	if rows > 0 && cols != channels {
		if rows == channels {
			return nil, TransposedDataError{Rows: rows, Cols: cols, Channels: channels}
		}
		return nil, ChannelCountMismatchError{Cols: cols, Channels: channels}
	}
	if params.ChannelConversion != nil && len(params.ChannelConversion) != channels {
		return nil, ChannelConversionMismatchError{Len: len(params.ChannelConversion), Channels: channels}
	}
	hasTimestamps := params.Timestamps != nil
	hasRate := params.Rate != 0
	switch {
	case hasTimestamps && hasRate:
		return nil, fmt.Errorf("extracellular series %s: %w", params.Name, ErrConflictingTiming)
	case !hasTimestamps && !hasRate:
		return nil, fmt.Errorf("extracellular series %s: %w", params.Name, ErrMissingTiming)
	}
	if hasTimestamps && len(params.Timestamps) != rows {
		return nil, DimensionError{Field: "timestamps", Got: len(params.Timestamps), Want: fmt.Sprint(rows)}
	}
	if params.Conversion == 0 {
		params.Conversion = 1
	}
	if params.Resolution == 0 {
		params.Resolution = -1
	}
	params.Data = cloneMatrix(params.Data)
	params.ChannelConversion = slices.Clone(params.ChannelConversion)
	params.Timestamps = slices.Clone(params.Timestamps)
	return &ExtracellularSeries{params: params}, nil
}

// Name returns the series name.
func (s *ExtracellularSeries) Name() string { return s.params.Name }

// Description returns the series description.
func (s *ExtracellularSeries) Description() string { return s.params.Description }

// Comments returns the free-text comments.
func (s *ExtracellularSeries) Comments() string { return s.params.Comments }

// Data returns a copy of the (num_times, num_channels) samples.
func (s *ExtracellularSeries) Data() [][]float64 { return cloneMatrix(s.params.Data) }

// Channels returns the bound channels region.
func (s *ExtracellularSeries) Channels() TableRegion { return s.params.Channels }

// ChannelsTable returns the table targeted by the channels region.
func (s *ExtracellularSeries) ChannelsTable() *ChannelsTable {
	table, _ := s.params.Channels.Target().(*ChannelsTable)
	return table
}

// ChannelConversion returns the per-channel factors, or nil if unset.
func (s *ExtracellularSeries) ChannelConversion() []float64 {
	return slices.Clone(s.params.ChannelConversion)
}

// ChannelConversionAxis is always 1, the channel axis of Data.
func (s *ExtracellularSeries) ChannelConversionAxis() int { return ChannelConversionAxis }

// Unit is fixed and cannot be overridden.
func (s *ExtracellularSeries) Unit() string { return SeriesUnit }

// Conversion returns the global conversion factor.
func (s *ExtracellularSeries) Conversion() float64 { return s.params.Conversion }

// Offset returns the additive offset.
func (s *ExtracellularSeries) Offset() float64 { return s.params.Offset }

// Resolution returns the smallest meaningful difference, or -1.
func (s *ExtracellularSeries) Resolution() float64 { return s.params.Resolution }

// Timestamps returns the sample times, or nil when the series is rate based.
func (s *ExtracellularSeries) Timestamps() []float64 { return slices.Clone(s.params.Timestamps) }

// TimestampsUnit is always seconds.
func (s *ExtracellularSeries) TimestampsUnit() string { return SeriesTimestampsUnit }

// Rate returns the sampling rate in Hz, or 0 when timestamps are used.
func (s *ExtracellularSeries) Rate() float64 { return s.params.Rate }

// StartingTime returns the time of the first sample for rate based series.
func (s *ExtracellularSeries) StartingTime() float64 { return s.params.StartingTime }

// Scaled returns Data in SeriesUnit: data * conversion * channel_conversion + offset.
func (s *ExtracellularSeries) Scaled() [][]float64 {
	out := make([][]float64, len(s.params.Data))
	for t, sample := range s.params.Data {
		row := make([]float64, len(sample))
		for c, v := range sample {
			factor := s.params.Conversion
			if s.params.ChannelConversion != nil {
				factor *= s.params.ChannelConversion[c]
			}
			row[c] = v*factor + s.params.Offset
		}
		out[t] = row
	}
	return out
}
