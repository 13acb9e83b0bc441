package transform

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"attestor/pkg/sentinel"
)

// tokenPrefix marks tokenized field values.
const tokenPrefix = "tok_"

// TokenVault records token-to-original mappings so tokenized values can be
// recovered by an authorised lookup. Implementations must be safe for
// concurrent use.
type TokenVault interface {
	Store(ctx context.Context, token, original string) error
	Lookup(ctx context.Context, token string) (string, error)
}

// MemoryVault is the in-process backend for development and tests.
type MemoryVault struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{tokens: make(map[string]string)}
}

func (v *MemoryVault) Store(_ context.Context, token, original string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[token] = original
	return nil
}

func (v *MemoryVault) Lookup(_ context.Context, token string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	original, ok := v.tokens[token]
	if !ok {
		return "", fmt.Errorf("token %q: %w", token, sentinel.ErrNotFound)
	}
	return original, nil
}

// newToken returns a fresh opaque token. Randomness, not derivation: the same
// input tokenized twice yields two different tokens.
func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return tokenPrefix + hex.EncodeToString(buf), nil
}

// IsToken reports whether a value looks like a vault token.
func IsToken(v string) bool {
	return strings.HasPrefix(v, tokenPrefix)
}
