package cultural

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"attestor/internal/domain"
)

func june(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
}

func TestDisabledEvaluatorPassesEverything(t *testing.T) {
	e := NewEvaluator(false)
	c := e.EvaluateCreation(&domain.CulturalProtocols{RequiresElderApproval: true}, june(t))
	assert.True(t, c.Satisfied)
	assert.Empty(t, c.NextSteps)
}

func TestNilProtocolsPass(t *testing.T) {
	e := NewEvaluator(true)
	assert.True(t, e.EvaluateCreation(nil, june(t)).Satisfied)
	assert.Equal(t, 1.0, e.CAREScore(nil, june(t)))
}

func TestAllMissingStepsReportedAtOnce(t *testing.T) {
	e := NewEvaluator(true)
	c := e.EvaluateCreation(&domain.CulturalProtocols{
		Territory:                "yolngu",
		RequiresElderApproval:    true,
		RequiresCommunityConsent: true,
		WitnessQuorum:            2,
		Witnesses:                []string{"w1"},
	}, june(t))

	assert.False(t, c.Satisfied)
	assert.Equal(t, ClearanceDenied, c.Level)
	assert.Len(t, c.NextSteps, 3)
}

func TestSatisfiedProtocolsIssueClearance(t *testing.T) {
	e := NewEvaluator(true)
	c := e.EvaluateCreation(&domain.CulturalProtocols{
		Territory:                "yolngu",
		RequiresElderApproval:    true,
		ApprovedBy:               []string{"elder-1"},
		RequiresCommunityConsent: true,
		CommunityConsentRef:      "consent-77",
		WitnessQuorum:            1,
		Witnesses:                []string{"w1"},
	}, june(t))

	assert.True(t, c.Satisfied)
	assert.NotEmpty(t, c.ClearanceID)
	assert.Equal(t, "yolngu", c.Territory)
	assert.Equal(t, ClearanceFull, c.Level)
}

func TestSeasonalRestrictionBlocks(t *testing.T) {
	e := NewEvaluator(true)
	p := &domain.CulturalProtocols{
		SeasonalRestrictions: []domain.SeasonalRestriction{
			{Name: "ceremony season", StartMonth: 5, EndMonth: 7},
		},
	}
	blocked := e.EvaluateCreation(p, june(t))
	assert.False(t, blocked.Satisfied)

	clear := e.EvaluateCreation(p, time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, clear.Satisfied)
}

func TestSeasonalRestrictionWrapsYearEnd(t *testing.T) {
	r := domain.SeasonalRestriction{Name: "wet season", StartMonth: 11, EndMonth: 2}
	assert.True(t, r.Active(time.Date(2026, time.December, 10, 0, 0, 0, 0, time.UTC)))
	assert.True(t, r.Active(time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC)))
	assert.False(t, r.Active(time.Date(2026, time.June, 10, 0, 0, 0, 0, time.UTC)))
}

func TestEvaluateRevocationRequiresElderApproval(t *testing.T) {
	e := NewEvaluator(true)
	p := &domain.CulturalProtocols{ElderApprovalForRevocation: true}

	blocked := e.EvaluateRevocation(p, false)
	assert.False(t, blocked.Satisfied)
	assert.NotEmpty(t, blocked.NextSteps)

	approved := e.EvaluateRevocation(p, true)
	assert.True(t, approved.Satisfied)
}

func TestCAREScorePartial(t *testing.T) {
	e := NewEvaluator(true)
	p := &domain.CulturalProtocols{
		RequiresElderApproval:    true,
		ApprovedBy:               []string{"elder-1"},
		RequiresCommunityConsent: true, // no consent ref: fails this dimension
	}
	assert.InDelta(t, 0.5, e.CAREScore(p, june(t)), 1e-9)
}
