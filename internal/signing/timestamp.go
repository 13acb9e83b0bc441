package signing

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// timestampClaims binds a content hash to an issuance instant. The token is
// signed with the same Ed25519 key as the attestation, acting as a
// lightweight trusted-timestamp in lieu of an external TSA.
type timestampClaims struct {
	ContentHash string `json:"contentHash"`
	jwt.RegisteredClaims
}

const timestampIssuer = "attestor-tsa"

// issueTimestampToken produces a signed token binding hash to now.
func issueTimestampToken(key *SigningKey, contentHash string, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, timestampClaims{
		ContentHash: contentHash,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   timestampIssuer,
			IssuedAt: jwt.NewNumericDate(now),
			Subject:  "attestation-timestamp",
		},
	})
	signed, err := token.SignedString(key.Private)
	if err != nil {
		return "", fmt.Errorf("signing: issue timestamp token: %w", err)
	}
	return signed, nil
}

// verifyTimestampToken checks the token signature and that it covers the
// expected content hash.
func verifyTimestampToken(pub ed25519.PublicKey, tokenString, expectedHash string) error {
	parsed, err := jwt.ParseWithClaims(tokenString, &timestampClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return pub, nil
	}, jwt.WithIssuer(timestampIssuer))
	if err != nil {
		return fmt.Errorf("signing: timestamp token invalid: %w", err)
	}
	claims, ok := parsed.Claims.(*timestampClaims)
	if !ok || !parsed.Valid {
		return fmt.Errorf("signing: timestamp token claims invalid")
	}
	if claims.ContentHash != expectedHash {
		return fmt.Errorf("signing: timestamp token covers a different content hash")
	}
	return nil
}
