package transform

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	dErrors "attestor/pkg/domainerrors"
)

// ciphertextPrefix marks encrypted field values and carries the key name so
// the reverse operation can locate the right key without side tables.
const ciphertextPrefix = "enc:v1:"

// KeyRing derives named field-encryption keys from a master secret. Keys are
// derived lazily and cached; the same name always yields the same key, so
// ciphertext written before a restart stays decryptable.
type KeyRing struct {
	master []byte
	names  map[string]bool

	mu      sync.Mutex
	derived map[string][]byte
}

// NewKeyRing builds a ring over the master secret. Only the named keys may be
// referenced by rules; an unknown name is a hard per-field error.
func NewKeyRing(master []byte, names []string) *KeyRing {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	return &KeyRing{master: master, names: allowed, derived: make(map[string][]byte)}
}

func (r *KeyRing) key(name string) ([]byte, error) {
	if !r.names[name] {
		return nil, dErrors.New(dErrors.CodeTransformation, fmt.Sprintf("unknown encryption key %q", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if k, ok := r.derived[name]; ok {
		return k, nil
	}
	k := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, r.master, nil, []byte("attestor-field-key:"+name))
	if _, err := io.ReadFull(kdf, k); err != nil {
		return nil, fmt.Errorf("derive key %q: %w", name, err)
	}
	r.derived[name] = k
	return k, nil
}

// Encrypt seals a plaintext under the named key. The output embeds the key
// name and a random nonce, so encryption is intentionally non-deterministic.
func (r *KeyRing) Encrypt(name, plaintext string) (string, error) {
	k, err := r.key(name)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(k)
	if err != nil {
		return "", fmt.Errorf("encrypt field: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("encrypt field: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return ciphertextPrefix + name + ":" + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It fails on unknown key names, malformed
// envelopes, or authentication failures.
func (r *KeyRing) Decrypt(ciphertext string) (string, error) {
	rest, ok := strings.CutPrefix(ciphertext, ciphertextPrefix)
	if !ok {
		return "", dErrors.New(dErrors.CodeTransformation, "value is not an encrypted field")
	}
	name, encoded, ok := strings.Cut(rest, ":")
	if !ok {
		return "", dErrors.New(dErrors.CodeTransformation, "malformed encrypted field")
	}
	k, err := r.key(name)
	if err != nil {
		return "", err
	}
	sealed, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return "", dErrors.New(dErrors.CodeTransformation, "malformed encrypted field")
	}
	aead, err := chacha20poly1305.NewX(k)
	if err != nil {
		return "", fmt.Errorf("decrypt field: %w", err)
	}
	if len(sealed) < aead.NonceSize() {
		return "", dErrors.New(dErrors.CodeTransformation, "malformed encrypted field")
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", dErrors.New(dErrors.CodeTransformation, "encrypted field failed authentication")
	}
	return string(plain), nil
}

// IsCiphertext reports whether a value looks like an encrypted field.
func IsCiphertext(v string) bool {
	return strings.HasPrefix(v, ciphertextPrefix)
}
