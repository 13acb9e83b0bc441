package models

import (
	"attestor/internal/attestation/store"
	"attestor/internal/domain"
	"attestor/internal/signing"
	dErrors "attestor/pkg/domainerrors"
)

// ResponseError is a structured failure surfaced across the public contract.
type ResponseError struct {
	Code    dErrors.Code `json:"code"`
	Field   string       `json:"field,omitempty"`
	Message string       `json:"message"`
}

// AttestationResponse is the shared envelope for lifecycle operations.
// Governance blocks set CulturalClearanceRequired with concrete NextSteps so
// callers remediate instead of retrying blindly.
type AttestationResponse struct {
	Success       bool                      `json:"success"`
	AttestationID string                    `json:"attestationId,omitempty"`
	Status        domain.AttestationStatus  `json:"status,omitempty"`
	Errors        []ResponseError           `json:"errors,omitempty"`
	Warnings      []string                  `json:"warnings,omitempty"`

	CulturalClearanceRequired bool     `json:"culturalClearanceRequired,omitempty"`
	NextSteps                 []string `json:"nextSteps,omitempty"`

	Verification *signing.VerificationResult `json:"verification,omitempty"`
}

// BulkAttestationResponse aggregates a batch alongside per-item outcomes.
type BulkAttestationResponse struct {
	Success    bool                   `json:"success"`
	Succeeded  int                    `json:"succeeded"`
	Failed     int                    `json:"failed"`
	DurationMS int64                  `json:"durationMs"`
	Items      []store.BulkItemResult `json:"items"`
	Errors     []ResponseError        `json:"errors,omitempty"`
}

// FailureResponse builds an error envelope from coded errors.
func FailureResponse(errs ...*dErrors.Error) *AttestationResponse {
	resp := &AttestationResponse{Success: false}
	for _, e := range errs {
		resp.Errors = append(resp.Errors, ResponseError{Code: e.Code, Field: e.Field, Message: e.Message})
	}
	return resp
}

// GovernanceBlockedResponse builds the distinct cultural-clearance envelope.
func GovernanceBlockedResponse(nextSteps []string) *AttestationResponse {
	return &AttestationResponse{
		Success:                   false,
		CulturalClearanceRequired: true,
		NextSteps:                 nextSteps,
		Errors: []ResponseError{{
			Code:    dErrors.CodeGovernance,
			Message: "cultural clearance required before this operation can proceed",
		}},
	}
}
