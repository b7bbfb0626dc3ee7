package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// DataType describes the kind of samples a tag produces. The integer values
// are part of the persisted document format.
type DataType int

const (
	DataTypeFloatingPoint DataType = 0
	DataTypeInteger       DataType = 1
	DataTypeText          DataType = 2
	DataTypeState         DataType = 3
)

func (d DataType) String() string {
	switch d {
	case DataTypeFloatingPoint:
		return "float"
	case DataTypeInteger:
		return "integer"
	case DataTypeText:
		return "text"
	case DataTypeState:
		return "state"
	}
	return "unknown"
}

// IsNumeric reports whether values of this type carry meaningful numbers.
func (d DataType) IsNumeric() bool {
	return d == DataTypeFloatingPoint || d == DataTypeInteger
}

// LimitType selects how a filter limit is interpreted relative to the last
// retained value.
type LimitType int

const (
	LimitTypeAbsolute   LimitType = 0
	LimitTypeFraction   LimitType = 1
	LimitTypePercentage LimitType = 2
)

// FilterSettings configures the exception or compression filter of a tag.
// WindowSize bounds how long the filter may suppress samples: once it has
// elapsed since the last retained sample, the next sample passes regardless
// of deviation. A zero WindowSize disables the window entirely rather than
// making it always elapsed; samples then pass on deviation or quality change
// only.
type FilterSettings struct {
	Enabled    bool      `json:"IsEnabled" yaml:"enabled"`
	LimitType  LimitType `json:"LimitType" yaml:"limit_type"`
	Limit      float64   `json:"Limit" yaml:"limit"`
	WindowSize Duration  `json:"WindowSize" yaml:"window_size"`
}

// Threshold computes the deviation threshold relative to a reference value.
func (s FilterSettings) Threshold(reference float64) float64 {
	switch s.LimitType {
	case LimitTypeAbsolute:
		return s.Limit
	case LimitTypeFraction:
		return math.Abs(reference) * s.Limit
	case LimitTypePercentage:
		return math.Abs(reference) * s.Limit / 100
	}
	return s.Limit
}

// Claim is a single identity assertion, e.g. {"role", "operators"}.
type Claim struct {
	ClaimType string `json:"ClaimType"`
	Value     string `json:"Value"`
}

// Policy is an allow/deny claim list for one named operation. Deny entries
// override allow entries.
type Policy struct {
	Allow []Claim `json:"Allow"`
	Deny  []Claim `json:"Deny"`
}

// Security holds a tag's owner and its per-operation access policies.
type Security struct {
	Owner    string            `json:"Owner"`
	Policies map[string]Policy `json:"Policies"`
}

// Policy operation names.
const (
	PolicyReadData  = "ReadData"
	PolicyWriteData = "WriteData"
	PolicyConfigure = "Configure"
)

// Allows reports whether the given claims satisfy the named policy. A missing
// policy grants access; a deny match always wins.
func (s Security) Allows(policy string, claims []Claim) bool {
	p, ok := s.Policies[policy]
	if !ok {
		return true
	}
	for _, d := range p.Deny {
		for _, c := range claims {
			if c == d {
				return false
			}
		}
	}
	if len(p.Allow) == 0 {
		return true
	}
	for _, a := range p.Allow {
		for _, c := range claims {
			if c == a {
				return true
			}
		}
	}
	return false
}

// Metadata records audit information for a tag definition.
type Metadata struct {
	UtcCreatedAt      time.Time `json:"UtcCreatedAt"`
	Creator           string    `json:"Creator"`
	UtcLastModifiedAt time.Time `json:"UtcLastModifiedAt"`
	LastModifiedBy    string    `json:"LastModifiedBy"`
}

// TagDefinition is the persisted configuration of one tag.
type TagDefinition struct {
	ID                uuid.UUID      `json:"Id"`
	Name              string         `json:"Name"`
	Description       string         `json:"Description"`
	Units             string         `json:"Units"`
	DataType          DataType       `json:"DataType"`
	StateSet          string         `json:"StateSet,omitempty"`
	ExceptionFilter   FilterSettings `json:"ExceptionFilter"`
	CompressionFilter FilterSettings `json:"CompressionFilter"`
	Security          Security       `json:"Security"`
	Metadata          Metadata       `json:"Metadata"`
}

// Validate checks a definition for internal consistency.
func (t *TagDefinition) Validate() error {
	if t.Name == "" {
		return errRequired("tag name")
	}
	if t.DataType == DataTypeState && t.StateSet == "" {
		return errRequired("state set name for state tag")
	}
	if t.ExceptionFilter.Limit < 0 || t.CompressionFilter.Limit < 0 {
		return errNegativeLimit
	}
	return nil
}

// TagChangeHistory records one configuration change of a tag, including the
// full prior definition.
type TagChangeHistory struct {
	ID              uuid.UUID     `json:"Id"`
	TagID           uuid.UUID     `json:"TagId"`
	UtcTime         time.Time     `json:"UtcTime"`
	User            string        `json:"User"`
	Description     string        `json:"Description"`
	PreviousVersion TagDefinition `json:"PreviousVersion"`
}
