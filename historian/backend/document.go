package backend

import (
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aikadata/aika/pkg/model"
)

// TimestampFormat is UTC ISO-8601 with 7-digit fractional seconds, the format
// used for all timestamps serialized to the storage layer.
const TimestampFormat = "2006-01-02T15:04:05.0000000Z"

// Timestamp marshals as UTC ISO-8601 with 7-digit fractional seconds.
type Timestamp time.Time

func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

func (t Timestamp) String() string {
	return time.Time(t).UTC().Format(TimestampFormat)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return err
	}
	parsed, err := time.Parse(TimestampFormat, s)
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

// Float marshals non-finite values as null, since JSON cannot encode them.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

func (f *Float) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = Float(math.NaN())
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Property keys on archive-candidate documents.
const (
	PropCompressionAngleMinimum = "CompressionAngleMinimum"
	PropCompressionAngleMaximum = "CompressionAngleMaximum"
)

// ValueDocument is the persisted form of one sample.
type ValueDocument struct {
	ID            uuid.UUID        `json:"Id"`
	TagID         uuid.UUID        `json:"TagId"`
	UtcSampleTime Timestamp        `json:"UtcSampleTime"`
	NumericValue  Float            `json:"NumericValue"`
	TextValue     *string          `json:"TextValue,omitempty"`
	Quality       int              `json:"Quality"`
	Properties    map[string]Float `json:"Properties,omitempty"`
}

// NewValueDocument builds a document with a fresh surrogate id.
func NewValueDocument(tagID uuid.UUID, v model.TagValue) *ValueDocument {
	return &ValueDocument{
		ID:            uuid.New(),
		TagID:         tagID,
		UtcSampleTime: Timestamp(v.UtcSampleTime),
		NumericValue:  Float(v.NumericValue),
		TextValue:     v.TextValue,
		Quality:       int(v.Quality),
	}
}

// NewCandidateDocument builds an archive-candidate document carrying the
// compression corridor in its properties.
func NewCandidateDocument(tagID uuid.UUID, c model.ArchiveCandidate) *ValueDocument {
	doc := NewValueDocument(tagID, c.Value)
	doc.Properties = map[string]Float{
		PropCompressionAngleMinimum: Float(c.CompressionSlopeMin),
		PropCompressionAngleMaximum: Float(c.CompressionSlopeMax),
	}
	return doc
}

// Value converts the document back to a sample.
func (d *ValueDocument) Value(units string) model.TagValue {
	return model.TagValue{
		UtcSampleTime: d.UtcSampleTime.Time(),
		NumericValue:  float64(d.NumericValue),
		TextValue:     d.TextValue,
		Quality:       model.Quality(d.Quality),
		Units:         units,
	}
}

// Candidate converts an archive-candidate document back to a candidate. A
// document without corridor properties yields a NaN corridor, which restarts
// the compression filter on the next sample.
func (d *ValueDocument) Candidate(units string) model.ArchiveCandidate {
	c := model.ArchiveCandidate{
		Value:               d.Value(units),
		CompressionSlopeMin: math.NaN(),
		CompressionSlopeMax: math.NaN(),
	}
	if v, ok := d.Properties[PropCompressionAngleMinimum]; ok {
		c.CompressionSlopeMin = float64(v)
	}
	if v, ok := d.Properties[PropCompressionAngleMaximum]; ok {
		c.CompressionSlopeMax = float64(v)
	}
	return c
}
