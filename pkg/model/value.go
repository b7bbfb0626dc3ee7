package model

import (
	"math"
	"time"
)

// Quality is the per-sample trust flag. The integer values are part of the
// persisted document format and must not change.
type Quality int

const (
	QualityBad       Quality = 0
	QualityUncertain Quality = 64
	QualityGood      Quality = 192
)

func (q Quality) String() string {
	switch q {
	case QualityBad:
		return "bad"
	case QualityUncertain:
		return "uncertain"
	case QualityGood:
		return "good"
	}
	return "unknown"
}

// MinQuality returns the lower of two qualities, ordering Bad < Uncertain < Good.
func MinQuality(a, b Quality) Quality {
	if a < b {
		return a
	}
	return b
}

// VisualizationHint advises rendering clients how to draw a series.
type VisualizationHint int

const (
	// TrailingEdge indicates step rendering: a value holds until the next one.
	TrailingEdge VisualizationHint = iota
	// Interpolated indicates linear rendering between adjacent values.
	Interpolated
)

// TagValue is a single immutable sample of a tag. For text and state tags
// NumericValue is NaN; for numeric tags TextValue is nil. State samples carry
// the state's integer code in NumericValue and its name in TextValue.
type TagValue struct {
	UtcSampleTime time.Time
	NumericValue  float64
	TextValue     *string
	Quality       Quality
	Units         string
}

// NewNumericValue builds a numeric sample.
func NewNumericValue(t time.Time, v float64, q Quality) TagValue {
	return TagValue{
		UtcSampleTime: t.UTC(),
		NumericValue:  v,
		Quality:       q,
	}
}

// NewTextValue builds a text sample. NumericValue is set to NaN.
func NewTextValue(t time.Time, text string, q Quality) TagValue {
	return TagValue{
		UtcSampleTime: t.UTC(),
		NumericValue:  math.NaN(),
		TextValue:     &text,
		Quality:       q,
	}
}

// NewStateValue builds a state sample carrying both the state code and name.
func NewStateValue(t time.Time, name string, code int32, q Quality) TagValue {
	return TagValue{
		UtcSampleTime: t.UTC(),
		NumericValue:  float64(code),
		TextValue:     &name,
		Quality:       q,
	}
}

// IsNumeric reports whether the sample carries a finite numeric value.
func (v TagValue) IsNumeric() bool {
	return !math.IsNaN(v.NumericValue) && !math.IsInf(v.NumericValue, 0)
}

// Text returns the text value or the empty string.
func (v TagValue) Text() string {
	if v.TextValue == nil {
		return ""
	}
	return *v.TextValue
}

// SameText reports whether two samples carry the same text value, treating
// nil and empty as distinct only in presence.
func (v TagValue) SameText(o TagValue) bool {
	if (v.TextValue == nil) != (o.TextValue == nil) {
		return false
	}
	if v.TextValue == nil {
		return true
	}
	return *v.TextValue == *o.TextValue
}

// ArchiveCandidate is the latest exceptional sample that has not yet been
// settled as archived, together with the narrowed compression corridor.
type ArchiveCandidate struct {
	Value               TagValue
	CompressionSlopeMin float64
	CompressionSlopeMax float64
}
