package api

import "fmt"

// ValidationError is the only fatal error of an analysis: malformed or
// inconsistent input. Field names the offending input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error [%s]: %s", e.Field, e.Message)
}

// WarningKind classifies non-fatal conditions recorded in a result.
type WarningKind string

const (
	InsufficientSampleWarning WarningKind = "insufficient_sample"
	UndefinedMetricWarning    WarningKind = "undefined_metric"
	TooManyCellsWarning       WarningKind = "too_many_cells"
	SingleGroupWarning        WarningKind = "single_group"
)

// Warning is a non-fatal condition that degraded part of the output.
type Warning struct {
	Kind      WarningKind `json:"kind"`
	Attribute string      `json:"attribute,omitempty"`
	Group     string      `json:"group,omitempty"`
	Message   string      `json:"message"`
}

func (w Warning) String() string {
	if w.Group != "" {
		return fmt.Sprintf("%s [%s/%s]: %s", w.Kind, w.Attribute, w.Group, w.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", w.Kind, w.Attribute, w.Message)
}
