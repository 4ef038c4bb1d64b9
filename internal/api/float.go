package api

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Float is a float64 that survives JSON: NaN encodes as null and the
// infinities as the strings "+Inf" and "-Inf". Results keep NaN for
// "undefined for this group" and +Inf for the unbounded ratio sentinel.
type Float float64

// NaN returns an undefined Float.
func NaN() Float { return Float(math.NaN()) }

// IsNaN reports whether f is undefined.
func (f Float) IsNaN() bool { return math.IsNaN(float64(f)) }

// Ptr returns a pointer to a copy of f.
func (f Float) Ptr() *Float { return &f }

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte("null"), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

func (f *Float) UnmarshalJSON(data []byte) error {
	s := string(data)
	switch s {
	case "null":
		*f = NaN()
		return nil
	case `"+Inf"`, `"Inf"`:
		*f = Float(math.Inf(1))
		return nil
	case `"-Inf"`:
		*f = Float(math.Inf(-1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid float %s: %w", s, err)
	}
	*f = Float(v)
	return nil
}
