package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fractal-lba/fairmind/internal/api"
)

const (
	colPrediction  = "prediction"
	colGroundTruth = "ground_truth"
)

// readCSV reads a dataset with a header row. The prediction column is
// required, ground_truth is optional (empty cells are unlabeled) and every
// other column is an attribute.
func readCSV(in io.Reader) (*api.Dataset, error) {
	r := csv.NewReader(in)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("csv: empty input")
		}
		return nil, fmt.Errorf("csv: %w", err)
	}
	predCol, gtCol := -1, -1
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
		switch header[i] {
		case colPrediction:
			predCol = i
		case colGroundTruth:
			gtCol = i
		}
	}
	if predCol < 0 {
		return nil, fmt.Errorf("csv: missing %q column", colPrediction)
	}

	ds := &api.Dataset{}
	labeled := false
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}

		pred, err := strconv.Atoi(strings.TrimSpace(rec[predCol]))
		if err != nil {
			return nil, fmt.Errorf("csv line %d: invalid prediction %q", line, rec[predCol])
		}
		ds.Predictions = append(ds.Predictions, pred)

		var gt *int
		if gtCol >= 0 {
			if cell := strings.TrimSpace(rec[gtCol]); cell != "" {
				v, err := strconv.Atoi(cell)
				if err != nil {
					return nil, fmt.Errorf("csv line %d: invalid ground truth %q", line, rec[gtCol])
				}
				gt = &v
				labeled = true
			}
		}
		ds.GroundTruth = append(ds.GroundTruth, gt)

		attrs := make(map[string]string, len(header))
		for i, h := range header {
			if i == predCol || i == gtCol {
				continue
			}
			attrs[h] = strings.TrimSpace(rec[i])
		}
		ds.Attributes = append(ds.Attributes, attrs)
	}
	if !labeled {
		ds.GroundTruth = nil
	}
	return ds, nil
}
