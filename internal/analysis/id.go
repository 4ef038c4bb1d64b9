package analysis

import (
	"github.com/google/uuid"

	"github.com/fractal-lba/fairmind/internal/api"
	"github.com/fractal-lba/fairmind/pkg/canonical"
)

// Namespace scopes analysis IDs.
var Namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/fractal-lba/fairmind/analysis"))

// fingerprint is the part of a request that determines its result.
type fingerprint struct {
	Dataset             api.Dataset        `json:"dataset"`
	ProtectedAttributes []string           `json:"protected_attributes"`
	Metrics             []api.Metric       `json:"metrics"`
	Intersectional      bool               `json:"intersectional"`
	Config              api.AnalysisConfig `json:"config"`
}

// Fingerprint returns the canonical digest of the request. Worker count is
// excluded since it never changes results.
func Fingerprint(req *api.AnalysisRequest) (string, error) {
	cfg := req.Config
	cfg.Workers = 0
	return canonical.Digest(fingerprint{
		Dataset:             req.Dataset,
		ProtectedAttributes: req.ProtectedAttributes,
		Metrics:             req.RequestedMetrics(),
		Intersectional:      req.Intersectional,
		Config:              cfg,
	})
}

// AnalysisID derives the stable ID of a request: identical requests map
// to the same ID.
func AnalysisID(req *api.AnalysisRequest) (string, error) {
	digest, err := Fingerprint(req)
	if err != nil {
		return "", err
	}
	return uuid.NewSHA1(Namespace, []byte(digest)).String(), nil
}
