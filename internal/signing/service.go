// Package signing holds key custody and produces the cryptographic proofs
// attached to attestations: an Ed25519 signature over canonical content, a
// content hash serving as the immutability proof, and a signed timestamp
// token. Verification recomputes everything and reports per-check results.
package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"attestor/internal/cultural"
	"attestor/internal/domain"
	"attestor/pkg/canonical"
	dErrors "attestor/pkg/domainerrors"
	"attestor/pkg/sentinel"
)

// Service signs and verifies attestations. Cryptographic failures are always
// fatal for the request; missing cultural witnesses surface as a distinct
// governance-blocked error so callers remediate differently.
type Service struct {
	keys      KeyStorage
	evaluator *cultural.Evaluator
	logger    *slog.Logger
}

func NewService(keys KeyStorage, evaluator *cultural.Evaluator, logger *slog.Logger) *Service {
	return &Service{keys: keys, evaluator: evaluator, logger: logger}
}

// GetKeyMetadata exposes key status and algorithm so callers can reject
// requests referencing non-active keys before attempting to sign.
func (s *Service) GetKeyMetadata(ctx context.Context, keyID string) (KeyMetadata, error) {
	key, err := s.keys.Get(ctx, keyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return KeyMetadata{}, dErrors.New(dErrors.CodeCryptographic, fmt.Sprintf("signing key %q not found", keyID))
		}
		return KeyMetadata{}, err
	}
	return metadataOf(key), nil
}

// Sign produces the signature, immutability proof and timestamp token for an
// unsigned attestation. It never partially signs: any failed precondition
// returns before proof material is produced.
func (s *Service) Sign(ctx context.Context, req SignRequest) (*SignResult, error) {
	if req.Attestation == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "attestation is required")
	}
	if req.Algorithm != "" && req.Algorithm != AlgorithmEd25519 {
		return nil, dErrors.New(dErrors.CodeCryptographic, fmt.Sprintf("unsupported algorithm %q", req.Algorithm))
	}

	key, err := s.keys.Get(ctx, req.KeyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeCryptographic, fmt.Sprintf("signing key %q not found", req.KeyID))
		}
		return nil, err
	}
	if key.Status != KeyActive {
		return nil, dErrors.New(dErrors.CodeCryptographic, fmt.Sprintf("signing key %q is %s", req.KeyID, key.Status))
	}
	if key.Algorithm != AlgorithmEd25519 {
		return nil, dErrors.New(dErrors.CodeCryptographic, fmt.Sprintf("key %q algorithm %q does not match %s", req.KeyID, key.Algorithm, AlgorithmEd25519))
	}

	var clearance *cultural.Clearance
	if p := req.Attestation.CulturalProtocols; p != nil {
		// Witnesses present at the signing ceremony count toward the quorum
		// alongside those already recorded on the protocols.
		merged := *p
		merged.Witnesses = witnessUnion(p.Witnesses, req.Witnesses)
		if p.WitnessQuorum > 0 && len(merged.Witnesses) < p.WitnessQuorum {
			return nil, dErrors.New(dErrors.CodeGovernance,
				fmt.Sprintf("witness quorum of %d not met", p.WitnessQuorum))
		}
		c := s.evaluator.EvaluateCreation(&merged, time.Now().UTC())
		if !c.Satisfied {
			return nil, dErrors.New(dErrors.CodeGovernance, "cultural protocol requirements unsatisfied")
		}
		clearance = &c
	}

	content, err := canonical.Marshal(req.Attestation.ImmutableContent())
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInternal, err.Error())
	}
	sum := sha256.Sum256(content)
	proof := hex.EncodeToString(sum[:])

	now := time.Now().UTC()
	sig := ed25519.Sign(key.Private, content)

	tsToken, err := issueTimestampToken(key, proof, now)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeCryptographic, err.Error())
	}

	s.logger.InfoContext(ctx, "attestation signed",
		"attestationId", req.Attestation.ID,
		"keyId", key.ID,
	)

	return &SignResult{
		Signature: domainSignature(key, sig, tsToken, now),
		ImmutabilityProof: proof,
		CulturalClearance: clearance,
	}, nil
}

// Verify recomputes hashes and signatures per the requested options and
// returns a structured result. It does not mutate the attestation.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*VerificationResult, error) {
	a := req.Attestation
	if a == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "attestation is required")
	}
	if a.DigitalSignature == nil {
		return nil, dErrors.New(dErrors.CodeCryptographic, "attestation carries no signature")
	}

	key, err := s.keys.Get(ctx, a.DigitalSignature.KeyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeCryptographic, fmt.Sprintf("verification key %q not found", a.DigitalSignature.KeyID))
		}
		return nil, err
	}

	content, err := canonical.Marshal(a.ImmutableContent())
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInternal, err.Error())
	}
	sum := sha256.Sum256(content)
	proof := hex.EncodeToString(sum[:])

	result := &VerificationResult{}

	// Signature check always runs; everything else is optional.
	sigBytes, decodeErr := hex.DecodeString(a.DigitalSignature.Signature)
	sigValid := decodeErr == nil && ed25519.Verify(key.Public, content, sigBytes)
	result.Checks = append(result.Checks, CheckResult{
		Name:   "signature",
		Passed: sigValid,
		Detail: detailUnless(sigValid, "signature does not verify against canonical content"),
	})

	if req.Options.CheckIntegrity {
		ok := canonical.Equal(proof, a.ImmutabilityProof)
		result.Checks = append(result.Checks, CheckResult{
			Name:   "integrity",
			Passed: ok,
			Detail: detailUnless(ok, "immutability proof does not match recomputed content hash"),
		})
	}
	if req.Options.CheckCertificateChain {
		ok := len(a.DigitalSignature.CertificateChain) == 0 || chainMatches(a.DigitalSignature.CertificateChain, key.CertificateChain)
		result.Checks = append(result.Checks, CheckResult{
			Name:   "certificate_chain",
			Passed: ok,
			Detail: detailUnless(ok, "certificate chain does not match key custody records"),
		})
	}
	if req.Options.CheckTimestamp {
		err := verifyTimestampToken(key.Public, a.DigitalSignature.TimestampToken, proof)
		result.Checks = append(result.Checks, CheckResult{
			Name:   "timestamp",
			Passed: err == nil,
			Detail: detailFromErr(err),
		})
	}
	if req.Options.CheckCulturalCompliance {
		score := s.evaluator.CAREScore(a.CulturalProtocols, time.Now().UTC())
		compliant := score >= 1.0
		result.Cultural = &CulturalComplianceResult{Compliant: compliant, CAREScore: score}
		result.Checks = append(result.Checks, CheckResult{
			Name:   "cultural_compliance",
			Passed: compliant,
			Detail: detailUnless(compliant, "cultural protocol adherence incomplete"),
		})
	}

	passed := 0
	for _, c := range result.Checks {
		if c.Passed {
			passed++
		}
	}
	result.Score = float64(passed) / float64(len(result.Checks))
	result.Valid = sigValid && passed == len(result.Checks)
	result.TrustLevel = trustLevelFor(sigValid, result.Score)

	return result, nil
}

func trustLevelFor(sigValid bool, score float64) TrustLevel {
	switch {
	case !sigValid:
		return TrustUntrusted
	case score >= 1.0:
		return TrustHigh
	case score >= 0.75:
		return TrustMedium
	default:
		return TrustLow
	}
}

func domainSignature(key *SigningKey, sig []byte, tsToken string, now time.Time) domain.DigitalSignature {
	return domain.DigitalSignature{
		Algorithm:        key.Algorithm,
		KeyID:            key.ID,
		Signature:        hex.EncodeToString(sig),
		CertificateChain: append([]string(nil), key.CertificateChain...),
		TimestampToken:   tsToken,
		SignedAt:         now,
	}
}

func chainMatches(presented, custody []string) bool {
	if len(presented) != len(custody) {
		return false
	}
	for i := range presented {
		if presented[i] != custody[i] {
			return false
		}
	}
	return true
}

func witnessUnion(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, w := range append(append([]string(nil), a...), b...) {
		if w != "" && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

func detailUnless(ok bool, detail string) string {
	if ok {
		return ""
	}
	return detail
}

func detailFromErr(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
