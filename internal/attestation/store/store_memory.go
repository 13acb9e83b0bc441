package store

import (
	"context"
	"fmt"
	"sync"

	"attestor/internal/domain"
	"attestor/pkg/canonical"
	"attestor/pkg/sentinel"
)

// InMemory is the default backend for development and tests. A single mutex
// guards the map; per-record status transitions are CAS under that lock so a
// race between auto-expiry and revocation resolves to exactly one winner.
type InMemory struct {
	mu      sync.RWMutex
	records map[string]*domain.Attestation
	order   []string
}

func NewInMemory() *InMemory {
	return &InMemory{records: make(map[string]*domain.Attestation)}
}

func (s *InMemory) Store(_ context.Context, a *domain.Attestation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeLocked(a)
}

func (s *InMemory) storeLocked(a *domain.Attestation) (string, error) {
	if a.ID == "" {
		a.ID = domain.NewAttestationID()
	}
	if _, exists := s.records[a.ID]; exists {
		return "", fmt.Errorf("attestation %q: %w", a.ID, sentinel.ErrConflict)
	}
	if a.Version == 0 {
		a.Version = 1
	}
	hash, err := canonical.Hash(a.ImmutableContent())
	if err != nil {
		return "", err
	}
	cp := cloneAttestation(a)
	cp.IntegrityHash = hash
	a.IntegrityHash = hash
	s.records[a.ID] = cp
	s.order = append(s.order, a.ID)
	return a.ID, nil
}

func (s *InMemory) Retrieve(_ context.Context, id string) (*domain.Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("attestation %q: %w", id, sentinel.ErrNotFound)
	}
	return cloneAttestation(rec), nil
}

func (s *InMemory) UpdateMetadata(_ context.Context, id string, patch MetadataPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("attestation %q: %w", id, sentinel.ErrNotFound)
	}
	if patch.LastVerificationAttempt != nil {
		t := *patch.LastVerificationAttempt
		rec.Metadata.LastVerificationAttempt = &t
	}
	return nil
}

func (s *InMemory) Revoke(_ context.Context, id string, info domain.RevocationInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revokeLocked(id, info)
}

func (s *InMemory) revokeLocked(id string, info domain.RevocationInfo) error {
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("attestation %q: %w", id, sentinel.ErrNotFound)
	}
	if rec.Status == domain.StatusRevoked {
		return fmt.Errorf("attestation %q: %w", id, sentinel.ErrAlreadyRevoked)
	}
	if rec.Status == domain.StatusExpired {
		return fmt.Errorf("attestation %q: %w", id, sentinel.ErrExpired)
	}
	rec.Status = domain.StatusRevoked
	infoCopy := info
	rec.Revocation = &infoCopy
	return nil
}

func (s *InMemory) TransitionStatus(_ context.Context, id string, from, to domain.AttestationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("attestation %q: %w", id, sentinel.ErrNotFound)
	}
	if rec.Status != from {
		return fmt.Errorf("attestation %q is %s, expected %s: %w", id, rec.Status, from, sentinel.ErrConflict)
	}
	rec.Status = to
	return nil
}

func (s *InMemory) Query(_ context.Context, criteria QueryCriteria) ([]*domain.Attestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*domain.Attestation
	for _, id := range s.order {
		rec := s.records[id]
		if !matches(rec, criteria) {
			continue
		}
		matched = append(matched, cloneAttestation(rec))
	}

	if criteria.Offset > 0 {
		if criteria.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[criteria.Offset:]
	}
	if criteria.Limit > 0 && len(matched) > criteria.Limit {
		matched = matched[:criteria.Limit]
	}
	return matched, nil
}

func matches(a *domain.Attestation, c QueryCriteria) bool {
	if c.Status != "" && a.Status != c.Status {
		return false
	}
	if c.SubjectID != "" && a.SubjectID != c.SubjectID {
		return false
	}
	if c.Type != "" && a.Type != c.Type {
		return false
	}
	if c.ValidAt != nil {
		at := *c.ValidAt
		if at.Before(a.ValidFrom) || a.IsExpired(at) {
			return false
		}
	}
	if c.ExpiredBy != nil {
		if a.ValidUntil == nil || a.ValidUntil.After(*c.ExpiredBy) {
			return false
		}
	}
	return true
}

func (s *InMemory) BulkOperation(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &BulkResult{}

	if req.Atomic {
		// Validate everything first so nothing is applied on failure.
		for i, op := range req.Operations {
			if err := s.validateLocked(op); err != nil {
				return nil, fmt.Errorf("bulk item %d: %w", i, err)
			}
		}
	}

	for i, op := range req.Operations {
		id, err := s.applyLocked(op)
		item := BulkItemResult{Index: i, ID: id, Success: err == nil}
		if err != nil {
			item.Error = err.Error()
			result.Failed++
			if req.Atomic {
				// Validation above should make this unreachable; surface
				// it loudly rather than leaving a half-applied batch.
				return nil, fmt.Errorf("bulk item %d failed after validation: %w", i, err)
			}
		} else {
			result.Succeeded++
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

func (s *InMemory) validateLocked(op BulkItem) error {
	switch op.Type {
	case BulkCreate:
		if op.Attestation == nil {
			return fmt.Errorf("create item requires an attestation")
		}
		if op.Attestation.ID != "" {
			if _, exists := s.records[op.Attestation.ID]; exists {
				return fmt.Errorf("attestation %q: %w", op.Attestation.ID, sentinel.ErrConflict)
			}
		}
	case BulkRevoke:
		rec, ok := s.records[op.ID]
		if !ok {
			return fmt.Errorf("attestation %q: %w", op.ID, sentinel.ErrNotFound)
		}
		if rec.Status == domain.StatusRevoked {
			return fmt.Errorf("attestation %q: %w", op.ID, sentinel.ErrAlreadyRevoked)
		}
		if rec.Status == domain.StatusExpired {
			return fmt.Errorf("attestation %q: %w", op.ID, sentinel.ErrExpired)
		}
	case BulkUpdate:
		if _, ok := s.records[op.ID]; !ok {
			return fmt.Errorf("attestation %q: %w", op.ID, sentinel.ErrNotFound)
		}
	default:
		return fmt.Errorf("unknown bulk operation type %q", op.Type)
	}
	return nil
}

func (s *InMemory) applyLocked(op BulkItem) (string, error) {
	switch op.Type {
	case BulkCreate:
		if op.Attestation == nil {
			return "", fmt.Errorf("create item requires an attestation")
		}
		return s.storeLocked(op.Attestation)
	case BulkRevoke:
		if op.Revocation == nil {
			return op.ID, fmt.Errorf("revoke item requires revocation info")
		}
		return op.ID, s.revokeLocked(op.ID, *op.Revocation)
	case BulkUpdate:
		rec, ok := s.records[op.ID]
		if !ok {
			return op.ID, fmt.Errorf("attestation %q: %w", op.ID, sentinel.ErrNotFound)
		}
		if op.Metadata != nil && op.Metadata.LastVerificationAttempt != nil {
			t := *op.Metadata.LastVerificationAttempt
			rec.Metadata.LastVerificationAttempt = &t
		}
		return op.ID, nil
	default:
		return "", fmt.Errorf("unknown bulk operation type %q", op.Type)
	}
}

func cloneAttestation(a *domain.Attestation) *domain.Attestation {
	cp := *a
	if a.ValidUntil != nil {
		t := *a.ValidUntil
		cp.ValidUntil = &t
	}
	if a.DigitalSignature != nil {
		sig := *a.DigitalSignature
		sig.CertificateChain = append([]string(nil), a.DigitalSignature.CertificateChain...)
		cp.DigitalSignature = &sig
	}
	if a.Revocation != nil {
		rev := *a.Revocation
		cp.Revocation = &rev
	}
	if a.CulturalProtocols != nil {
		p := *a.CulturalProtocols
		p.ApprovedBy = append([]string(nil), a.CulturalProtocols.ApprovedBy...)
		p.Witnesses = append([]string(nil), a.CulturalProtocols.Witnesses...)
		p.SeasonalRestrictions = append([]domain.SeasonalRestriction(nil), a.CulturalProtocols.SeasonalRestrictions...)
		cp.CulturalProtocols = &p
	}
	if a.Metadata.LastVerificationAttempt != nil {
		t := *a.Metadata.LastVerificationAttempt
		cp.Metadata.LastVerificationAttempt = &t
	}
	cp.ComplianceFrameworks = append([]domain.ComplianceFramework(nil), a.ComplianceFrameworks...)
	cp.Metadata.AccessControlList = append([]string(nil), a.Metadata.AccessControlList...)
	// AttestationData is treated as immutable by contract once stored; a
	// shallow copy keeps reads cheap.
	return &cp
}
