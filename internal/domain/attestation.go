package domain

import (
	"time"

	"github.com/google/uuid"
)

// AttestationStatus tracks the lifecycle state machine:
// pending -> active -> {revoked, expired}. Terminal states never return to
// active.
type AttestationStatus string

const (
	StatusPending AttestationStatus = "pending"
	StatusActive  AttestationStatus = "active"
	StatusRevoked AttestationStatus = "revoked"
	StatusExpired AttestationStatus = "expired"
)

// AttestationType enumerates the kinds of claims the core will sign.
type AttestationType string

const (
	TypeIdentity        AttestationType = "identity"
	TypeQualification   AttestationType = "qualification"
	TypeMembership      AttestationType = "membership"
	TypeConsentGrant    AttestationType = "consent_grant"
	TypeCulturalRole    AttestationType = "cultural_role"
	TypeSystemIntegrity AttestationType = "system_integrity"
)

// SubjectType classifies who or what the claim is about.
type SubjectType string

const (
	SubjectIndividual   SubjectType = "individual"
	SubjectOrganisation SubjectType = "organisation"
	SubjectSystem       SubjectType = "system"
	SubjectCommunity    SubjectType = "community"
	SubjectElderRole    SubjectType = "elder_role"
)

// ComplianceFramework names a regulatory regime an attestation or audit
// entry falls under.
type ComplianceFramework string

const (
	FrameworkGDPR        ComplianceFramework = "gdpr"
	FrameworkPrivacyAct  ComplianceFramework = "privacy_act"
	FrameworkHIPAA       ComplianceFramework = "hipaa"
	FrameworkSOC2        ComplianceFramework = "soc2"
	FrameworkCAREPrinciples ComplianceFramework = "care_principles"
)

// CulturalProtocols are governance rules attached to culturally sensitive
// attestations. The cultural evaluator is the single authority on whether
// they are satisfied.
type CulturalProtocols struct {
	Territory              string              `json:"territory,omitempty"`
	RequiresElderApproval  bool                `json:"requiresElderApproval,omitempty"`
	RequiresCommunityConsent bool              `json:"requiresCommunityConsent,omitempty"`
	WitnessQuorum          int                 `json:"witnessQuorum,omitempty"`
	SeasonalRestrictions   []SeasonalRestriction `json:"seasonalRestrictions,omitempty"`
	ApprovedBy             []string            `json:"approvedBy,omitempty"`
	Witnesses              []string            `json:"witnesses,omitempty"`
	CommunityConsentRef    string              `json:"communityConsentRef,omitempty"`
	ElderApprovalForRevocation bool            `json:"elderApprovalForRevocation,omitempty"`
}

// SeasonalRestriction blocks operations during a recurring window
// (months are 1-12, inclusive range; a wrap such as Nov-Feb is expressed
// with StartMonth > EndMonth).
type SeasonalRestriction struct {
	Name       string `json:"name"`
	StartMonth int    `json:"startMonth"`
	EndMonth   int    `json:"endMonth"`
}

// Active reports whether the restriction covers the given time.
func (r SeasonalRestriction) Active(at time.Time) bool {
	m := int(at.Month())
	if r.StartMonth <= r.EndMonth {
		return m >= r.StartMonth && m <= r.EndMonth
	}
	return m >= r.StartMonth || m <= r.EndMonth
}

// DigitalSignature is the cryptographic proof attached at activation.
type DigitalSignature struct {
	Algorithm        string    `json:"algorithm"`
	KeyID            string    `json:"keyId"`
	Signature        string    `json:"signature"`
	CertificateChain []string  `json:"certificateChain,omitempty"`
	TimestampToken   string    `json:"timestampToken,omitempty"`
	SignedAt         time.Time `json:"signedAt"`
}

// GovernanceMetadata captures jurisdiction and handling requirements. All of
// it is immutable once the attestation is active except LastVerificationAttempt.
type GovernanceMetadata struct {
	Jurisdiction        string        `json:"jurisdiction,omitempty"`
	DataResidency       string        `json:"dataResidency,omitempty"`
	RetentionPeriod     time.Duration `json:"retentionPeriod,omitempty"`
	EncryptionRequired  bool          `json:"encryptionRequired,omitempty"`
	AccessControlList   []string      `json:"accessControlList,omitempty"`
	AuditLevel          string        `json:"auditLevel,omitempty"`
	CulturallySensitive bool          `json:"culturallySensitive,omitempty"`

	// Mutable after activation.
	LastVerificationAttempt *time.Time `json:"lastVerificationAttempt,omitempty"`
}

// RevocationReason enumerates why an attestation was withdrawn.
type RevocationReason string

const (
	RevocationSuperseded        RevocationReason = "superseded"
	RevocationCompromised       RevocationReason = "compromised"
	RevocationSubjectRequest    RevocationReason = "subject_request"
	RevocationCulturalDirective RevocationReason = "cultural_directive"
	RevocationError             RevocationReason = "issued_in_error"
)

// RevocationInfo is terminal: once set the attestation can never return to
// active.
type RevocationInfo struct {
	Reason            RevocationReason `json:"reason"`
	Description       string           `json:"description,omitempty"`
	CulturalReason    string           `json:"culturalReason,omitempty"`
	ElderApproved     bool             `json:"elderApproved,omitempty"`
	EffectiveDate     time.Time        `json:"effectiveDate"`
	RevokedBy         string           `json:"revokedBy"`
	CascadeRevocation bool             `json:"cascadeRevocation,omitempty"`
	ReplacementID     string           `json:"replacementId,omitempty"`
	EmergencyOverride bool             `json:"emergencyOverride,omitempty"`
}

// Attestation is a signed, timestamped claim about a subject.
//
// Invariant: once Status is active, AttestationData, DigitalSignature and
// ImmutabilityProof never change. Only Status, revocation fields and
// Metadata.LastVerificationAttempt may change thereafter; the store's
// integrity hash covers the immutable fields only.
type Attestation struct {
	ID      string `json:"id"`
	Version int    `json:"version"`

	Type        AttestationType `json:"type"`
	SubjectID   string          `json:"subjectId"`
	SubjectType SubjectType     `json:"subjectType"`

	AttestedBy string     `json:"attestedBy"`
	AttestedAt time.Time  `json:"attestedAt"`
	ValidFrom  time.Time  `json:"validFrom"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`

	Status AttestationStatus `json:"status"`

	AttestationData      map[string]any        `json:"attestationData"`
	ComplianceFrameworks []ComplianceFramework `json:"complianceFrameworks,omitempty"`
	CulturalProtocols    *CulturalProtocols    `json:"culturalProtocols,omitempty"`

	DigitalSignature  *DigitalSignature `json:"digitalSignature,omitempty"`
	ImmutabilityProof string            `json:"immutabilityProof,omitempty"`

	Metadata   GovernanceMetadata `json:"metadata"`
	Revocation *RevocationInfo    `json:"revocation,omitempty"`

	IntegrityHash string `json:"integrityHash,omitempty"`
}

// ImmutableContent is the exact field set covered by the integrity hash and
// the digital signature. It deliberately excludes status, revocation, the
// hash itself, and mutable metadata so the hash stays stable across
// lifecycle transitions.
func (a *Attestation) ImmutableContent() map[string]any {
	content := map[string]any{
		"id":          a.ID,
		"version":     a.Version,
		"type":        a.Type,
		"subjectId":   a.SubjectID,
		"subjectType": a.SubjectType,
		"attestedBy":  a.AttestedBy,
		"attestedAt":  a.AttestedAt.UTC().Format(time.RFC3339Nano),
		"validFrom":   a.ValidFrom.UTC().Format(time.RFC3339Nano),
		"data":        a.AttestationData,
	}
	if a.ValidUntil != nil {
		content["validUntil"] = a.ValidUntil.UTC().Format(time.RFC3339Nano)
	}
	if len(a.ComplianceFrameworks) > 0 {
		content["complianceFrameworks"] = a.ComplianceFrameworks
	}
	if a.CulturalProtocols != nil {
		content["culturalProtocols"] = a.CulturalProtocols
	}
	return content
}

// IsExpired reports whether the validity window has passed at the given time.
func (a *Attestation) IsExpired(now time.Time) bool {
	return a.ValidUntil != nil && now.After(*a.ValidUntil)
}

// NewAttestationID returns a fresh attestation identifier.
func NewAttestationID() string {
	return "att-" + uuid.NewString()
}
