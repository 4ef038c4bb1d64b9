package canonical

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

var (
	// ErrInvalidSignature indicates signature verification failed
	ErrInvalidSignature = errors.New("invalid HMAC signature")
)

// SignHMAC signs the canonical encoding of v using HMAC-SHA256 and returns
// the base64-encoded signature.
//
// Example:
//
//	signature, err := SignHMAC(result, []byte("my-secret-key"))
func SignHMAC(v any, key []byte) (string, error) {
	payload, err := CanonicalJSONBytes(v)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// VerifyHMAC verifies an HMAC-SHA256 signature over the canonical
// encoding of v.
//
// Returns:
//
//	nil if verification succeeds, error otherwise
func VerifyHMAC(v any, sigB64 string, key []byte) error {
	payload, err := CanonicalJSONBytes(v)
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	expected := mac.Sum(nil)

	got, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return err
	}

	// Constant-time comparison
	if !hmac.Equal(expected, got) {
		return ErrInvalidSignature
	}

	return nil
}
