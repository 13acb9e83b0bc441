// Package canonical produces byte-stable serialisations and digests.
//
// Integrity hashes must be a pure function of the hashed fields regardless of
// struct tag order or map insertion order, so everything is round-tripped
// through encoding/json (which sorts map keys at every level) before hashing.
package canonical

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Marshal serialises v with lexicographically ordered object keys at every
// nesting level. The output is identical for semantically equal inputs.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical: normalise: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical: remarshal: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 digest of the canonical form of v as lowercase hex.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HMAC returns the HMAC-SHA256 of the canonical form of v under key, as
// lowercase hex. The audit log uses this so chain hashes cannot be forged
// without the integrity key.
func HMAC(key []byte, v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(b)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Equal compares two hex digests in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
