package signing

import (
	"attestor/internal/cultural"
	"attestor/internal/domain"
)

// SignRequest asks for a signature over an attestation's immutable content.
type SignRequest struct {
	Attestation *domain.Attestation
	KeyID       string
	Algorithm   string
	// Witnesses present at signing; checked against the attestation's
	// protocol quorum when one is declared.
	Witnesses []string
}

// SignResult carries the proof material the lifecycle manager persists.
// ImmutabilityProof is a canonical content hash independent of the signature
// itself, so integrity can be checked without re-verifying cryptography.
type SignResult struct {
	Signature         domain.DigitalSignature
	ImmutabilityProof string
	CulturalClearance *cultural.Clearance
}

// VerifyOptions toggles which checks run during verification.
type VerifyOptions struct {
	CheckIntegrity          bool `json:"checkIntegrity"`
	CheckCertificateChain   bool `json:"checkCertificateChain"`
	CheckTimestamp          bool `json:"checkTimestamp"`
	CheckCulturalCompliance bool `json:"checkCulturalCompliance"`
}

// DefaultVerifyOptions runs every check.
func DefaultVerifyOptions() VerifyOptions {
	return VerifyOptions{
		CheckIntegrity:          true,
		CheckCertificateChain:   true,
		CheckTimestamp:          true,
		CheckCulturalCompliance: true,
	}
}

// VerifyRequest names the attestation to verify and which checks to run.
type VerifyRequest struct {
	Attestation *domain.Attestation
	Options     VerifyOptions
}

// TrustLevel classifies the verifier's confidence in the attestation.
type TrustLevel string

const (
	TrustHigh      TrustLevel = "high"
	TrustMedium    TrustLevel = "medium"
	TrustLow       TrustLevel = "low"
	TrustUntrusted TrustLevel = "untrusted"
)

// CheckResult reports one individual verification check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// CulturalComplianceResult is the community-data sub-result of verification.
type CulturalComplianceResult struct {
	Compliant bool    `json:"compliant"`
	CAREScore float64 `json:"careScore"`
}

// VerificationResult is the structured outcome of Verify.
type VerificationResult struct {
	Valid      bool                      `json:"valid"`
	TrustLevel TrustLevel                `json:"trustLevel"`
	Score      float64                   `json:"score"`
	Checks     []CheckResult             `json:"checks"`
	Cultural   *CulturalComplianceResult `json:"cultural,omitempty"`
}
