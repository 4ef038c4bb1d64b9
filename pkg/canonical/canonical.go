// Package canonical produces stable byte encodings of JSON-shaped values,
// used to fingerprint analysis requests and sign stored results.
//
// Key requirements:
// - Floats rounded to exactly 9 decimal places
// - Object keys sorted
// - No whitespace in JSON output
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// F9 formats a float64 to exactly 9 decimal places.
//
// Example:
//
//	F9(1.23456789012345) // returns "1.234567890"
//	F9(0.5)              // returns "0.500000000"
func F9(x float64) string {
	return strconv.FormatFloat(x, 'f', 9, 64)
}

// Round9 rounds a float64 to 9 decimal places. Values too large to carry
// nine decimals are returned unchanged.
func Round9(x float64) float64 {
	const factor = 1e9
	if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) >= 1e9 {
		return x
	}
	return math.Round(x*factor) / factor
}

// CanonicalJSONBytes generates canonical JSON bytes for v.
//
// Rules:
//   - v is first encoded with encoding/json, so struct tags apply
//   - Non-integer numbers are rounded to 9 decimal places
//   - Keys sorted alphabetically
//   - No whitespace (compact JSON)
func CanonicalJSONBytes(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}

	normalized, err := normalize(tree)
	if err != nil {
		return nil, err
	}
	// json.Marshal sorts map keys
	return json.Marshal(normalized)
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			n, err := normalize(child)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case []any:
		for i, child := range t {
			n, err := normalize(child)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			return t, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("canonical: number %q: %w", s, err)
		}
		return Round9(f), nil
	default:
		return v, nil
	}
}

// Digest returns the hex SHA-256 of the canonical encoding of v.
func Digest(v any) (string, error) {
	payload, err := CanonicalJSONBytes(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
