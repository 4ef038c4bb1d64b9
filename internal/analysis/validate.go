package analysis

import (
	"fmt"
	"strings"

	"github.com/fractal-lba/fairmind/internal/api"
)

func invalid(field, format string, args ...any) error {
	return &api.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate checks a request before any computation. It returns the first
// violation as a *api.ValidationError.
func Validate(req *api.AnalysisRequest) error {
	if err := req.Config.Validate(); err != nil {
		return err
	}

	if len(req.ProtectedAttributes) == 0 {
		return invalid("protected_attributes", "at least one protected attribute is required")
	}
	seen := make(map[string]bool, len(req.ProtectedAttributes))
	for _, a := range req.ProtectedAttributes {
		if strings.TrimSpace(a) == "" {
			return invalid("protected_attributes", "attribute names must be non-empty")
		}
		if seen[a] {
			return invalid("protected_attributes", "attribute %q listed twice", a)
		}
		seen[a] = true
	}

	for _, m := range req.Metrics {
		if !m.Valid() {
			return invalid("metrics", "unknown metric %s", m)
		}
	}

	ds := &req.Dataset
	n := ds.Len()
	if n == 0 {
		return invalid("dataset.predictions", "at least one prediction is required")
	}
	if len(ds.Attributes) != n {
		return invalid("dataset.attributes", "expected %d attribute rows, got %d", n, len(ds.Attributes))
	}
	if ds.GroundTruth != nil && len(ds.GroundTruth) != n {
		return invalid("dataset.ground_truth", "expected %d labels, got %d", n, len(ds.GroundTruth))
	}

	for i, row := range ds.Attributes {
		for _, a := range req.ProtectedAttributes {
			if _, ok := row[a]; !ok {
				return invalid(fmt.Sprintf("dataset.attributes[%d].%s", i, a), "protected attribute %q missing", a)
			}
		}
	}

	positive := req.Config.PositiveLabel
	found := false
	for _, p := range ds.Predictions {
		if p == positive {
			found = true
			break
		}
	}
	if !found {
		return invalid("config.positive_label", "positive label %d never occurs in predictions", positive)
	}
	return checkBinary(ds, positive)
}

// checkBinary requires predictions and labels to share one binary label
// space: the positive label plus at most one other value.
func checkBinary(ds *api.Dataset, positive int) error {
	negative, seen := 0, false
	check := func(v int) bool {
		switch {
		case v == positive:
		case !seen:
			negative, seen = v, true
		case v != negative:
			return false
		}
		return true
	}

	for i, p := range ds.Predictions {
		if !check(p) {
			return invalid(fmt.Sprintf("dataset.predictions[%d]", i),
				"value %d is neither the positive label %d nor the negative label %d", p, positive, negative)
		}
	}
	for i, gt := range ds.GroundTruth {
		if gt != nil && !check(*gt) {
			return invalid(fmt.Sprintf("dataset.ground_truth[%d]", i),
				"value %d is neither the positive label %d nor the negative label %d", *gt, positive, negative)
		}
	}
	return nil
}
