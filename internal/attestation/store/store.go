// Package store persists attestations with tamper evidence. The integrity
// hash is computed once at write time over the immutable fields only, so it
// never changes when mutable metadata does.
package store

import (
	"context"
	"time"

	"attestor/internal/domain"
)

// MetadataPatch names the only fields that may change after activation.
type MetadataPatch struct {
	LastVerificationAttempt *time.Time
}

// QueryCriteria filters listings. Zero values mean "no filter".
type QueryCriteria struct {
	Status      domain.AttestationStatus
	SubjectID   string
	Type        domain.AttestationType
	ValidAt     *time.Time
	ExpiredBy   *time.Time // active records whose ValidUntil precedes this time
	Limit       int
	Offset      int
}

// BulkOperationType enumerates what a bulk item does.
type BulkOperationType string

const (
	BulkCreate BulkOperationType = "create"
	BulkRevoke BulkOperationType = "revoke"
	BulkUpdate BulkOperationType = "update"
)

// BulkItem is one operation in a batch.
type BulkItem struct {
	Type        BulkOperationType
	Attestation *domain.Attestation
	ID          string
	Revocation  *domain.RevocationInfo
	Metadata    *MetadataPatch
}

// BulkRequest applies a batch atomically (all-or-nothing) or best-effort
// (partial success, per-item results).
type BulkRequest struct {
	Operations []BulkItem
	Atomic     bool
}

// BulkItemResult reports one item's outcome independent of the aggregate.
type BulkItemResult struct {
	Index   int
	ID      string
	Success bool
	Error   string
}

// BulkResult aggregates a batch.
type BulkResult struct {
	Items     []BulkItemResult
	Succeeded int
	Failed    int
}

// AttestationStorage is the durable persistence surface. Implementations must
// be safe for concurrent use and must provide atomic compare-and-set status
// transitions so racing transitions fail cleanly instead of corrupting the
// record.
type AttestationStorage interface {
	// Store persists a new attestation, computes its integrity hash over
	// immutable fields, and returns the assigned id.
	Store(ctx context.Context, a *domain.Attestation) (string, error)

	Retrieve(ctx context.Context, id string) (*domain.Attestation, error)

	// UpdateMetadata mutates only the allowed mutable fields; the stored
	// integrity hash is untouched.
	UpdateMetadata(ctx context.Context, id string, patch MetadataPatch) error

	// Revoke atomically transitions to revoked. Fails with
	// sentinel.ErrAlreadyRevoked when already revoked.
	Revoke(ctx context.Context, id string, info domain.RevocationInfo) error

	// TransitionStatus is a compare-and-set on status. Fails with
	// sentinel.ErrConflict when the current status is not `from`.
	TransitionStatus(ctx context.Context, id string, from, to domain.AttestationStatus) error

	Query(ctx context.Context, criteria QueryCriteria) ([]*domain.Attestation, error)

	BulkOperation(ctx context.Context, req BulkRequest) (*BulkResult, error)
}
