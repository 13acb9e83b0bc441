package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"attestor/pkg/sentinel"
)

// KeyStatus tracks whether a key may be used for new signatures.
type KeyStatus string

const (
	KeyActive   KeyStatus = "active"
	KeyInactive KeyStatus = "inactive"
	KeyRevoked  KeyStatus = "revoked"
)

// AlgorithmEd25519 is the only algorithm family this core signs with.
const AlgorithmEd25519 = "Ed25519"

// SigningKey is a key pair held by a KeyStorage backend. Verification only
// needs the public half, so retired keys keep verifying old signatures.
type SigningKey struct {
	ID               string
	Algorithm        string
	Status           KeyStatus
	Private          ed25519.PrivateKey
	Public           ed25519.PublicKey
	CertificateChain []string
	CreatedAt        time.Time
}

// KeyMetadata is the lookup surface callers use to pre-check a key before
// requesting a signature.
type KeyMetadata struct {
	ID        string    `json:"id"`
	Algorithm string    `json:"algorithm"`
	Status    KeyStatus `json:"status"`
	PublicKey string    `json:"publicKey"`
	CreatedAt time.Time `json:"createdAt"`
}

// KeyStorage abstracts key custody so backends are swappable and testable in
// isolation. Implementations must be safe for concurrent use.
type KeyStorage interface {
	Get(ctx context.Context, keyID string) (*SigningKey, error)
	Put(ctx context.Context, key *SigningKey) error
	SetStatus(ctx context.Context, keyID string, status KeyStatus) error
	List(ctx context.Context) ([]KeyMetadata, error)
}

// InMemoryKeyStore is the default backend for development and tests.
type InMemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*SigningKey
}

func NewInMemoryKeyStore() *InMemoryKeyStore {
	return &InMemoryKeyStore{keys: make(map[string]*SigningKey)}
}

func (s *InMemoryKeyStore) Get(_ context.Context, keyID string) (*SigningKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", keyID, sentinel.ErrNotFound)
	}
	cp := *key
	return &cp, nil
}

func (s *InMemoryKeyStore) Put(_ context.Context, key *SigningKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[key.ID]; exists {
		return fmt.Errorf("key %q: %w", key.ID, sentinel.ErrConflict)
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *InMemoryKeyStore) SetStatus(_ context.Context, keyID string, status KeyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[keyID]
	if !ok {
		return fmt.Errorf("key %q: %w", keyID, sentinel.ErrNotFound)
	}
	key.Status = status
	return nil
}

func (s *InMemoryKeyStore) List(_ context.Context) ([]KeyMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]KeyMetadata, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, metadataOf(k))
	}
	return out, nil
}

// GenerateKey creates and stores a fresh Ed25519 key.
func GenerateKey(ctx context.Context, store KeyStorage) (KeyMetadata, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyMetadata{}, fmt.Errorf("signing: generate key: %w", err)
	}
	key := &SigningKey{
		ID:        "key-" + uuid.NewString(),
		Algorithm: AlgorithmEd25519,
		Status:    KeyActive,
		Private:   priv,
		Public:    pub,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Put(ctx, key); err != nil {
		return KeyMetadata{}, err
	}
	return metadataOf(key), nil
}

// RetireKey marks a key inactive. Existing signatures stay verifiable.
func RetireKey(ctx context.Context, store KeyStorage, keyID string) error {
	return store.SetStatus(ctx, keyID, KeyInactive)
}

func metadataOf(k *SigningKey) KeyMetadata {
	return KeyMetadata{
		ID:        k.ID,
		Algorithm: k.Algorithm,
		Status:    k.Status,
		PublicKey: hex.EncodeToString(k.Public),
		CreatedAt: k.CreatedAt,
	}
}
