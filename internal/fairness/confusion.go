package fairness

import (
	"fmt"
	"math"

	"github.com/fractal-lba/fairmind/internal/api"
)

// ConfusionStats holds the confusion matrix of a subset and its derived
// rates. Rates with a zero denominator are NaN: undefined for the subset,
// never an error and never silently zero.
type ConfusionStats struct {
	N         int // rows in the subset
	Positives int // rows predicted positive
	Labeled   int // rows with ground truth

	TP int
	FP int
	TN int
	FN int

	TPR           float64 // TP / (TP + FN)
	FPR           float64 // FP / (FP + TN)
	PPV           float64 // TP / (TP + FP), precision
	SelectionRate float64 // Positives / N
}

// ComputeConfusion computes confusion statistics for aligned prediction and
// ground-truth sequences.
func ComputeConfusion(predictions, groundTruth []int, positive int) (ConfusionStats, error) {
	if len(predictions) != len(groundTruth) {
		return ConfusionStats{}, fmt.Errorf("predictions and ground truth length mismatch: %d != %d",
			len(predictions), len(groundTruth))
	}

	var cs ConfusionStats
	for i, p := range predictions {
		truth := groundTruth[i]
		cs.add(p == positive, &truth, positive)
	}
	cs.derive()
	return cs, nil
}

// Confusion computes confusion statistics over the rows of samples selected
// by indices. Unlabeled rows contribute to the selection rate only.
func Confusion(samples []api.Sample, indices []int, positive int) ConfusionStats {
	var cs ConfusionStats
	for _, idx := range indices {
		s := samples[idx]
		cs.add(s.Prediction == positive, s.GroundTruth, positive)
	}
	cs.derive()
	return cs
}

func (cs *ConfusionStats) add(predicted bool, truth *int, positive int) {
	cs.N++
	if predicted {
		cs.Positives++
	}
	if truth == nil {
		return
	}
	cs.Labeled++

	actual := *truth == positive
	switch {
	case predicted && actual:
		cs.TP++
	case predicted && !actual:
		cs.FP++
	case !predicted && actual:
		cs.FN++
	default:
		cs.TN++
	}
}

func (cs *ConfusionStats) derive() {
	cs.TPR = ratio(cs.TP, cs.TP+cs.FN)
	cs.FPR = ratio(cs.FP, cs.FP+cs.TN)
	cs.PPV = ratio(cs.TP, cs.TP+cs.FP)
	cs.SelectionRate = ratio(cs.Positives, cs.N)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return math.NaN()
	}
	return float64(num) / float64(den)
}
