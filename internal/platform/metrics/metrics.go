package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the attestation core.
type Metrics struct {
	AttestationsCreated  prometheus.Counter
	AttestationsRevoked  prometheus.Counter
	AttestationsExpired  prometheus.Counter
	VerificationOutcomes *prometheus.CounterVec
	GovernanceBlocks     prometheus.Counter
	AuditEntriesAppended prometheus.Counter
	AuditChainFailures   prometheus.Counter
	TransformsApplied    *prometheus.CounterVec
	TransformDuration    prometheus.Histogram
	SigningDuration      prometheus.Histogram
}

// New creates and registers all metrics on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers on a caller-supplied registerer. Tests pass a fresh
// registry so repeated construction never collides.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AttestationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "attestor_attestations_created_total",
			Help: "Total attestations created and activated.",
		}),
		AttestationsRevoked: factory.NewCounter(prometheus.CounterOpts{
			Name: "attestor_attestations_revoked_total",
			Help: "Total attestations revoked.",
		}),
		AttestationsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "attestor_attestations_expired_total",
			Help: "Total attestations expired by sweep or verification.",
		}),
		VerificationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attestor_verifications_total",
			Help: "Verification attempts by outcome.",
		}, []string{"outcome"}),
		GovernanceBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "attestor_governance_blocks_total",
			Help: "Operations blocked pending cultural clearance.",
		}),
		AuditEntriesAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "attestor_audit_entries_total",
			Help: "Audit entries appended to the hash chain.",
		}),
		AuditChainFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "attestor_audit_chain_failures_total",
			Help: "Integrity or chain-break findings reported by validation.",
		}),
		TransformsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attestor_transforms_applied_total",
			Help: "Field transformations applied, by type.",
		}, []string{"type"}),
		TransformDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "attestor_transform_duration_seconds",
			Help:    "Duration of single transform operations.",
			Buckets: prometheus.DefBuckets,
		}),
		SigningDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "attestor_signing_duration_seconds",
			Help:    "Duration of signing operations.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
