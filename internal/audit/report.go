package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"attestor/internal/domain"
)

// Period bounds a report.
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ComplianceMetrics summarises regulatory posture per framework.
type ComplianceMetrics struct {
	OperationsByFramework map[domain.ComplianceFramework]int `json:"operationsByFramework"`
	Violations            int                                `json:"violations"`
	// ComplianceScore is 1 - violations/operations, clamped at 0.
	ComplianceScore float64 `json:"complianceScore"`
}

// CulturalMetrics summarises community-data governance adherence.
type CulturalMetrics struct {
	ElderApprovalRate     float64        `json:"elderApprovalRate"`
	CommunityConsentRate  float64        `json:"communityConsentRate"`
	ProtocolViolations    int            `json:"protocolViolations"`
	TerritoryDistribution map[string]int `json:"territoryDistribution,omitempty"`
}

// SecurityMetrics surfaces findings that demand escalation, not aggregation.
type SecurityMetrics struct {
	IntegrityViolations   int      `json:"integrityViolations"`
	ChainBreaks           int      `json:"chainBreaks"`
	CryptographicFailures int      `json:"cryptographicFailures"`
	UnauthorizedAccess    int      `json:"unauthorizedAccess"`
	SuspiciousActors      []string `json:"suspiciousActors,omitempty"`
}

// Report is the aggregate compliance document.
type Report struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generatedAt"`
	GeneratedBy string    `json:"generatedBy"`
	Period      Period    `json:"period"`

	TotalEvents   int                      `json:"totalEvents"`
	EventCounts   map[domain.EventType]int `json:"eventCounts"`
	Successes     int                      `json:"successes"`
	Failures      int                      `json:"failures"`
	Warnings      int                      `json:"warnings"`
	SuccessRatio  float64                  `json:"successRatio"`

	Compliance ComplianceMetrics `json:"compliance"`
	Cultural   CulturalMetrics   `json:"cultural"`
	Security   SecurityMetrics   `json:"security"`

	Recommendations []string `json:"recommendations"`
}

// suspiciousFailureThreshold flags a single actor accumulating failures
// within the report period.
const suspiciousFailureThreshold = 5

// GenerateReport aggregates the audit trail for a period. Chain integrity is
// validated as part of report generation; a corrupted chain is a standalone
// report-level finding, never swallowed into a count silently.
func (l *Logger) GenerateReport(ctx context.Context, period Period, generatedBy string) (*Report, error) {
	entries, err := l.store.List(ctx, Query{From: &period.From, To: &period.To})
	if err != nil {
		return nil, err
	}
	integrity, err := l.ValidateIntegrity(ctx, nil)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:          "rpt-" + uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		GeneratedBy: generatedBy,
		Period:      period,
		TotalEvents: len(entries),
		EventCounts: make(map[domain.EventType]int),
		Compliance: ComplianceMetrics{
			OperationsByFramework: make(map[domain.ComplianceFramework]int),
		},
		Cultural: CulturalMetrics{TerritoryDistribution: make(map[string]int)},
	}

	failuresByActor := make(map[string]int)
	culturalOps, elderApproved, consentRecorded := 0, 0, 0

	for _, e := range entries {
		report.EventCounts[e.EventType]++
		switch e.Result {
		case domain.ResultSuccess:
			report.Successes++
		case domain.ResultFailure:
			report.Failures++
			failuresByActor[e.Actor]++
		case domain.ResultWarning:
			report.Warnings++
		}

		for _, f := range e.ComplianceFrameworks {
			report.Compliance.OperationsByFramework[f]++
		}
		if e.Result == domain.ResultFailure {
			report.Compliance.Violations++
		}

		if e.CulturallySensitive {
			culturalOps++
			if boolDetail(e, "elderApproved") {
				elderApproved++
			}
			if boolDetail(e, "communityConsent") {
				consentRecorded++
			}
			if e.Result == domain.ResultFailure {
				report.Cultural.ProtocolViolations++
			}
			if t, ok := e.Details["territory"].(string); ok && t != "" {
				report.Cultural.TerritoryDistribution[t]++
			}
		}

		if opDetail(e, "unauthorized") {
			report.Security.UnauthorizedAccess++
		}
		if opDetail(e, "cryptographicFailure") {
			report.Security.CryptographicFailures++
		}
	}

	if report.TotalEvents > 0 {
		report.SuccessRatio = float64(report.Successes) / float64(report.TotalEvents)
		score := 1.0 - float64(report.Compliance.Violations)/float64(report.TotalEvents)
		if score < 0 {
			score = 0
		}
		report.Compliance.ComplianceScore = score
	} else {
		report.SuccessRatio = 1.0
		report.Compliance.ComplianceScore = 1.0
	}
	if culturalOps > 0 {
		report.Cultural.ElderApprovalRate = float64(elderApproved) / float64(culturalOps)
		report.Cultural.CommunityConsentRate = float64(consentRecorded) / float64(culturalOps)
	}

	report.Security.IntegrityViolations = len(integrity.Corrupted)
	report.Security.ChainBreaks = len(integrity.ChainBreaks)
	for actor, failures := range failuresByActor {
		if failures >= suspiciousFailureThreshold {
			report.Security.SuspiciousActors = append(report.Security.SuspiciousActors, actor)
		}
	}

	report.Recommendations = recommendations(report)
	return report, nil
}

func recommendations(r *Report) []string {
	var recs []string
	if r.Security.IntegrityViolations > 0 || r.Security.ChainBreaks > 0 {
		recs = append(recs, fmt.Sprintf(
			"audit chain integrity compromised (%d corrupted entries, %d chain breaks): escalate to security response immediately",
			r.Security.IntegrityViolations, r.Security.ChainBreaks))
	}
	if r.Compliance.ComplianceScore < 0.95 && r.TotalEvents > 0 {
		recs = append(recs, "compliance score below 95%: review recent failure causes per framework")
	}
	if r.Cultural.ProtocolViolations > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d cultural protocol violations recorded: review clearance procedures with community representatives",
			r.Cultural.ProtocolViolations))
	}
	for _, actor := range r.Security.SuspiciousActors {
		recs = append(recs, fmt.Sprintf("actor %q accumulated repeated failures: review access and intent", actor))
	}
	if r.Security.CryptographicFailures > 0 {
		recs = append(recs, "cryptographic failures observed: audit key configuration and rotation schedule")
	}
	if len(recs) == 0 {
		recs = append(recs, "no findings for this period")
	}
	return recs
}

func boolDetail(e *domain.AuditEntry, key string) bool {
	v, ok := e.Details[key].(bool)
	return ok && v
}

func opDetail(e *domain.AuditEntry, key string) bool {
	return boolDetail(e, key)
}
