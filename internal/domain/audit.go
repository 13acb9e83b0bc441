package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType labels a lifecycle event observed by the audit log.
type EventType string

const (
	EventCreated                  EventType = "CREATED"
	EventVerified                 EventType = "VERIFIED"
	EventRevoked                  EventType = "REVOKED"
	EventExpired                  EventType = "EXPIRED"
	EventBulkOperationCompleted   EventType = "BULK_OPERATION_COMPLETED"
	EventCulturalClearanceGranted EventType = "CULTURAL_CLEARANCE_GRANTED"
	EventEmergencyOverride        EventType = "EMERGENCY_OVERRIDE"
	EventTransformApplied         EventType = "TRANSFORM_APPLIED"
)

// Result is the outcome of an audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultWarning Result = "warning"
)

// AuditEntry is one permanent record in the hash chain.
//
// Invariant: entries form a singly linked chain ordered by insertion,
// entry[i].PreviousEntryHash == entry[i-1].IntegrityHash. The integrity hash
// covers the canonical subset returned by HashableFields; it never changes
// after append.
type AuditEntry struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	EventType     EventType      `json:"eventType"`
	AttestationID string         `json:"attestationId,omitempty"`
	Actor         string         `json:"actor"`
	Operation     string         `json:"operation,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	Result        Result         `json:"result"`

	CulturallySensitive  bool                  `json:"culturallySensitive,omitempty"`
	ComplianceFrameworks []ComplianceFramework `json:"complianceFrameworks,omitempty"`

	IntegrityHash     string `json:"integrityHash"`
	PreviousEntryHash string `json:"previousEntryHash,omitempty"`
}

// HashableFields is the canonical subset covered by the integrity hash. The
// previous-entry hash is included so a reordered chain cannot re-hash clean.
func (e *AuditEntry) HashableFields() map[string]any {
	return map[string]any{
		"id":            e.ID,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"eventType":     e.EventType,
		"attestationId": e.AttestationID,
		"actor":         e.Actor,
		"operation":     e.Operation,
		"result":        e.Result,
		"previousHash":  e.PreviousEntryHash,
	}
}

// NewAuditEntryID returns a fresh audit entry identifier.
func NewAuditEntryID() string {
	return "aud-" + uuid.NewString()
}
