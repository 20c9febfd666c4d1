package domain

import (
	"fmt"
	"math"
)

// Tag identifies one monitored point. Last-transmitted state is not kept here;
// it belongs to the deadband filter.
type Tag struct {
	ID          string   `yaml:"id"`
	Type        DataType `yaml:"type"`
	Deadband    float64  `yaml:"deadband"`
	Source      string   `yaml:"source"`
	Alias       uint64   `yaml:"alias"`
	Units       string   `yaml:"units"`
	Description string   `yaml:"description"`
}

// Validate checks the registration-time invariants of a tag.
func (t Tag) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("tag id is required")
	}
	if t.Type.Kind() == KindInvalid {
		return fmt.Errorf("tag %q: unsupported data type %d", t.ID, t.Type)
	}
	if t.Deadband < 0 || math.IsNaN(t.Deadband) || math.IsInf(t.Deadband, 0) {
		return fmt.Errorf("tag %q: deadband must be a finite value >= 0", t.ID)
	}
	return nil
}

// DeadbandPolicy decides whether next differs enough from last to be sent.
type DeadbandPolicy interface {
	Exceeded(last, next Value) bool
}

// NumericDeadband accepts changes whose magnitude is at least Threshold.
// A zero threshold accepts every sample. Moving into or out of NaN is always
// a change; NaN followed by NaN is not.
type NumericDeadband struct {
	Threshold float64
}

func (n NumericDeadband) Exceeded(last, next Value) bool {
	if n.Threshold <= 0 {
		return true
	}
	lastNaN, nextNaN := math.IsNaN(last.Number), math.IsNaN(next.Number)
	if lastNaN || nextNaN {
		return lastNaN != nextNaN
	}
	return math.Abs(next.Number-last.Number) >= n.Threshold
}

// DiscreteDeadband accepts any change in value.
type DiscreteDeadband struct{}

func (DiscreteDeadband) Exceeded(last, next Value) bool {
	return !last.Equal(next)
}

// DeadbandFor selects the comparison strategy for a tag once, at registration.
func DeadbandFor(t Tag) DeadbandPolicy {
	if t.Type.IsNumeric() {
		return NumericDeadband{Threshold: t.Deadband}
	}
	return DiscreteDeadband{}
}
