// Package models defines the public request and response shapes for the
// attestation lifecycle. Every entry point validates explicitly and returns
// field-level errors; construction never throws.
package models

import (
	"time"

	"attestor/internal/attestation/store"
	"attestor/internal/domain"
	"attestor/internal/signing"
	dErrors "attestor/pkg/domainerrors"
)

// CreateAttestationRequest asks the lifecycle manager to create, sign and
// activate a new attestation.
type CreateAttestationRequest struct {
	Type                 domain.AttestationType     `json:"type"`
	SubjectID            string                     `json:"subjectId"`
	SubjectType          domain.SubjectType         `json:"subjectType"`
	AttestedBy           string                     `json:"attestedBy"`
	ValidFrom            time.Time                  `json:"validFrom"`
	ValidUntil           *time.Time                 `json:"validUntil,omitempty"`
	AttestationData      map[string]any             `json:"attestationData"`
	ComplianceFrameworks []domain.ComplianceFramework `json:"complianceFrameworks,omitempty"`
	CulturalProtocols    *domain.CulturalProtocols  `json:"culturalProtocols,omitempty"`
	Metadata             domain.GovernanceMetadata  `json:"metadata,omitempty"`
	SigningKeyID         string                     `json:"signingKeyId"`
	Witnesses            []string                   `json:"witnesses,omitempty"`
	RequestedBy          string                     `json:"requestedBy"`
}

// Validate reports every problem at once so the caller fixes one round trip.
func (r *CreateAttestationRequest) Validate(now time.Time) []*dErrors.Error {
	var errs []*dErrors.Error
	if r.Type == "" {
		errs = append(errs, dErrors.NewField(dErrors.CodeValidation, "type", "attestation type is required"))
	}
	if r.SubjectID == "" {
		errs = append(errs, dErrors.NewField(dErrors.CodeValidation, "subjectId", "subject id is required"))
	}
	if r.SubjectType == "" {
		errs = append(errs, dErrors.NewField(dErrors.CodeValidation, "subjectType", "subject type is required"))
	}
	if r.AttestedBy == "" {
		errs = append(errs, dErrors.NewField(dErrors.CodeValidation, "attestedBy", "attestor identity is required"))
	}
	if r.SigningKeyID == "" {
		errs = append(errs, dErrors.NewField(dErrors.CodeValidation, "signingKeyId", "signing key id is required"))
	}
	if len(r.AttestationData) == 0 {
		errs = append(errs, dErrors.NewField(dErrors.CodeValidation, "attestationData", "attestation data must not be empty"))
	}
	if r.ValidUntil != nil {
		if !r.ValidFrom.IsZero() && !r.ValidUntil.After(r.ValidFrom) {
			errs = append(errs, dErrors.NewField(dErrors.CodeValidation, "validUntil", "validUntil must be after validFrom"))
		}
		if r.ValidUntil.Before(now) {
			errs = append(errs, dErrors.NewField(dErrors.CodeValidation, "validUntil", "validUntil must not be in the past"))
		}
	}
	return errs
}

// VerifyAttestationRequest asks for verification of a stored attestation.
type VerifyAttestationRequest struct {
	AttestationID string                `json:"attestationId"`
	RequestedBy   string                `json:"requestedBy"`
	Options       signing.VerifyOptions `json:"options"`
}

func (r *VerifyAttestationRequest) Validate() []*dErrors.Error {
	var errs []*dErrors.Error
	if r.AttestationID == "" {
		errs = append(errs, dErrors.NewField(dErrors.CodeValidation, "attestationId", "attestation id is required"))
	}
	if r.RequestedBy == "" {
		errs = append(errs, dErrors.NewField(dErrors.CodeValidation, "requestedBy", "requesting actor is required"))
	}
	return errs
}

// RevokeAttestationRequest withdraws an active attestation.
type RevokeAttestationRequest struct {
	AttestationID     string                  `json:"attestationId"`
	RevokedBy         string                  `json:"revokedBy"`
	Reason            domain.RevocationReason `json:"reason"`
	Description       string                  `json:"description,omitempty"`
	CulturalReason    string                  `json:"culturalReason,omitempty"`
	ElderApproved     bool                    `json:"elderApproved,omitempty"`
	CascadeRevocation bool                    `json:"cascadeRevocation,omitempty"`
	ReplacementID     string                  `json:"replacementId,omitempty"`
	// EmergencyOverride bypasses governance checks; the override itself is
	// always audited.
	EmergencyOverride bool `json:"emergencyOverride,omitempty"`
}

func (r *RevokeAttestationRequest) Validate() []*dErrors.Error {
	var errs []*dErrors.Error
	if r.AttestationID == "" {
		errs = append(errs, dErrors.NewField(dErrors.CodeValidation, "attestationId", "attestation id is required"))
	}
	if r.RevokedBy == "" {
		errs = append(errs, dErrors.NewField(dErrors.CodeValidation, "revokedBy", "revoking actor is required"))
	}
	if r.Reason == "" {
		errs = append(errs, dErrors.NewField(dErrors.CodeValidation, "reason", "revocation reason is required"))
	}
	return errs
}

// BulkOperationRequest is one item in a bulk batch.
type BulkOperationRequest struct {
	Operation store.BulkOperationType    `json:"operation"`
	Create    *CreateAttestationRequest  `json:"create,omitempty"`
	Revoke    *RevokeAttestationRequest  `json:"revoke,omitempty"`
	UpdateID  string                     `json:"updateId,omitempty"`
	Metadata  *store.MetadataPatch       `json:"metadata,omitempty"`
}

// BulkAttestationRequest applies a batch of operations.
type BulkAttestationRequest struct {
	Operations      []BulkOperationRequest `json:"operations"`
	ExecutedBy      string                 `json:"executedBy"`
	AtomicExecution bool                   `json:"atomicExecution"`
}

func (r *BulkAttestationRequest) Validate() []*dErrors.Error {
	var errs []*dErrors.Error
	if len(r.Operations) == 0 {
		errs = append(errs, dErrors.NewField(dErrors.CodeValidation, "operations", "operations must not be empty"))
	}
	if r.ExecutedBy == "" {
		errs = append(errs, dErrors.NewField(dErrors.CodeValidation, "executedBy", "executing actor is required"))
	}
	return errs
}
