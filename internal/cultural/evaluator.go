// Package cultural centralises the clearance rules for culturally sensitive
// attestations. The lifecycle manager consults this evaluator on both the
// create and revoke paths so "what counts as sufficient clearance" lives in
// exactly one place.
package cultural

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"attestor/internal/domain"
)

// ClearanceLevel grades how completely the protocols were satisfied.
type ClearanceLevel string

const (
	ClearanceFull        ClearanceLevel = "full"
	ClearanceConditional ClearanceLevel = "conditional"
	ClearanceDenied      ClearanceLevel = "denied"
)

// Clearance is the outcome of evaluating a protocol set. When Satisfied is
// false, NextSteps lists the concrete remediation the caller must arrange.
type Clearance struct {
	Satisfied   bool
	ClearanceID string
	Territory   string
	Level       ClearanceLevel
	NextSteps   []string
}

// Evaluator applies protocol rules. It is pure domain logic with no I/O so
// the rules are independently testable.
type Evaluator struct {
	enabled bool
}

// NewEvaluator builds an evaluator. When disabled, every evaluation passes
// without issuing a clearance record.
func NewEvaluator(enabled bool) *Evaluator {
	return &Evaluator{enabled: enabled}
}

// Enabled reports whether cultural validation is active.
func (e *Evaluator) Enabled() bool { return e.enabled }

// EvaluateCreation checks elder approval, community consent, witness quorum
// and seasonal restrictions for a creation request. Rules are checked
// exhaustively so the caller gets every missing step at once, not one per
// round trip.
func (e *Evaluator) EvaluateCreation(p *domain.CulturalProtocols, at time.Time) Clearance {
	if !e.enabled || p == nil {
		return Clearance{Satisfied: true, Level: ClearanceFull}
	}

	var steps []string

	if p.RequiresElderApproval && len(p.ApprovedBy) == 0 {
		steps = append(steps, "obtain elder approval and record approvers")
	}
	if p.RequiresCommunityConsent && p.CommunityConsentRef == "" {
		steps = append(steps, "obtain community consent and attach the consent reference")
	}
	if p.WitnessQuorum > 0 && len(p.Witnesses) < p.WitnessQuorum {
		steps = append(steps, fmt.Sprintf("arrange %d witnesses (%d present)", p.WitnessQuorum, len(p.Witnesses)))
	}
	for _, r := range p.SeasonalRestrictions {
		if r.Active(at) {
			steps = append(steps, fmt.Sprintf("wait for seasonal restriction %q to lift", r.Name))
		}
	}

	if len(steps) > 0 {
		return Clearance{Satisfied: false, Territory: p.Territory, Level: ClearanceDenied, NextSteps: steps}
	}

	return Clearance{
		Satisfied:   true,
		ClearanceID: "clr-" + uuid.NewString(),
		Territory:   p.Territory,
		Level:       ClearanceFull,
	}
}

// EvaluateRevocation checks whether a revocation may proceed. Protocols that
// require elder approval for revocation block the request unless the caller
// attests that approval was given.
func (e *Evaluator) EvaluateRevocation(p *domain.CulturalProtocols, elderApproved bool) Clearance {
	if !e.enabled || p == nil {
		return Clearance{Satisfied: true, Level: ClearanceFull}
	}
	if p.ElderApprovalForRevocation && !elderApproved {
		return Clearance{
			Satisfied: false,
			Territory: p.Territory,
			Level:     ClearanceDenied,
			NextSteps: []string{"obtain elder approval for revocation and set the elder-approved flag"},
		}
	}
	return Clearance{Satisfied: true, Territory: p.Territory, Level: ClearanceFull}
}

// CAREScore reflects adherence to community-data principles for an existing
// attestation: each satisfied protocol dimension contributes equally. An
// attestation with no protocols scores 1.0 by definition.
func (e *Evaluator) CAREScore(p *domain.CulturalProtocols, at time.Time) float64 {
	if p == nil {
		return 1.0
	}
	checks, passed := 0, 0
	if p.RequiresElderApproval {
		checks++
		if len(p.ApprovedBy) > 0 {
			passed++
		}
	}
	if p.RequiresCommunityConsent {
		checks++
		if p.CommunityConsentRef != "" {
			passed++
		}
	}
	if p.WitnessQuorum > 0 {
		checks++
		if len(p.Witnesses) >= p.WitnessQuorum {
			passed++
		}
	}
	if len(p.SeasonalRestrictions) > 0 {
		checks++
		blocked := false
		for _, r := range p.SeasonalRestrictions {
			if r.Active(at) {
				blocked = true
				break
			}
		}
		if !blocked {
			passed++
		}
	}
	if checks == 0 {
		return 1.0
	}
	return float64(passed) / float64(checks)
}
