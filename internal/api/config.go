package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FairnessCriterion selects how a metric result is judged.
type FairnessCriterion string

const (
	// CriterionDisparity passes when max-min < Threshold.
	CriterionDisparity FairnessCriterion = "disparity"
	// CriterionRatio passes when min/max >= RatioThreshold (four-fifths rule).
	CriterionRatio FairnessCriterion = "ratio"
)

// AnalysisConfig is the configuration surface of the engine. Start from
// DefaultAnalysisConfig and override; JSON decoding does this automatically.
type AnalysisConfig struct {
	Threshold              float64           `json:"threshold" mapstructure:"threshold" validate:"gt=0,lte=1"`
	RatioThreshold         float64           `json:"ratio_threshold" mapstructure:"ratio_threshold" validate:"gt=0,lte=1"`
	FairnessCriterion      FairnessCriterion `json:"fairness_criterion" mapstructure:"fairness_criterion" validate:"oneof=disparity ratio"`
	BootstrapIterations    int               `json:"bootstrap_iterations" mapstructure:"bootstrap_iterations" validate:"gte=0,lte=1000000"`
	PermutationIterations  int               `json:"permutation_iterations" mapstructure:"permutation_iterations" validate:"gte=0,lte=1000000"`
	ConfidenceLevel        float64           `json:"confidence_level" mapstructure:"confidence_level" validate:"gt=0,lt=1"`
	MinCellSize            int               `json:"min_cell_size" mapstructure:"min_cell_size" validate:"gte=1"`
	MaxIntersectionOrder   int               `json:"max_intersection_order" mapstructure:"max_intersection_order" validate:"gte=2"`
	MaxCellsPerCombination int               `json:"max_cells_per_combination" mapstructure:"max_cells_per_combination" validate:"gte=1"`
	PositiveLabel          int               `json:"positive_label" mapstructure:"positive_label"`
	Workers                int               `json:"workers" mapstructure:"workers" validate:"gte=0"`
	RandomSeed             *int64            `json:"random_seed" mapstructure:"random_seed"`
}

// DefaultAnalysisConfig returns the documented defaults. RandomSeed is left
// unset on purpose: resampling refuses to run without an explicit seed.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		Threshold:              0.10,
		RatioThreshold:         0.8,
		FairnessCriterion:      CriterionDisparity,
		BootstrapIterations:    1000,
		PermutationIterations:  1000,
		ConfidenceLevel:        0.95,
		MinCellSize:            5,
		MaxIntersectionOrder:   4,
		MaxCellsPerCombination: 500,
		PositiveLabel:          1,
	}
}

// WithSeed returns a copy of c with RandomSeed set.
func (c AnalysisConfig) WithSeed(seed int64) AnalysisConfig {
	c.RandomSeed = &seed
	return c
}

// Seed returns the configured seed, 0 when unset.
func (c AnalysisConfig) Seed() int64 {
	if c.RandomSeed == nil {
		return 0
	}
	return *c.RandomSeed
}

// Resampling reports whether bootstrap or permutation work is requested.
func (c AnalysisConfig) Resampling() bool {
	return c.BootstrapIterations > 0 || c.PermutationIterations > 0
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks every field constraint and returns the first violation as
// a *ValidationError.
func (c AnalysisConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{
				Field:   "config." + fe.Field(),
				Message: fmt.Sprintf("value %v violates %s%s", fe.Value(), fe.Tag(), tagParam(fe.Param())),
			}
		}
		return &ValidationError{Field: "config", Message: err.Error()}
	}
	if c.Resampling() && c.RandomSeed == nil {
		return &ValidationError{
			Field:   "config.random_seed",
			Message: "an explicit seed is required when bootstrap or permutation iterations are enabled",
		}
	}
	return nil
}

func tagParam(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// UnmarshalJSON overlays the decoded fields on DefaultAnalysisConfig.
func (c *AnalysisConfig) UnmarshalJSON(data []byte) error {
	type plain AnalysisConfig
	p := plain(DefaultAnalysisConfig())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = AnalysisConfig(p)
	return nil
}

// UnmarshalJSON defaults Config when the request omits it.
func (r *AnalysisRequest) UnmarshalJSON(data []byte) error {
	type plain AnalysisRequest
	p := plain{Config: DefaultAnalysisConfig()}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = AnalysisRequest(p)
	return nil
}
