// Package audit converts lifecycle events into a permanent, tamper-evident
// record. Entries form an HMAC-SHA256 hash chain: each entry embeds the
// previous entry's integrity hash, so retroactive tampering and reordering
// are both detectable. The log is append-only; findings are reported, never
// auto-corrected.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"attestor/internal/domain"
	"attestor/internal/events"
	"attestor/internal/platform/metrics"
	"attestor/pkg/canonical"
)

// Logger is the single append authority. The chain requires a strict total
// order of "last hash", so appends serialise on one mutex; everything else
// reads concurrently.
type Logger struct {
	store        AuditStorage
	integrityKey []byte
	logger       *slog.Logger
	metrics      *metrics.Metrics

	appendMu sync.Mutex
	lastHash string
	primed   bool
}

// NewLogger builds the audit logger. integrityKey is the 32-byte HMAC key
// from configuration.
func NewLogger(store AuditStorage, integrityKey []byte, logger *slog.Logger) *Logger {
	return &Logger{store: store, integrityKey: integrityKey, logger: logger}
}

// WithMetrics attaches append and chain-failure counters.
func (l *Logger) WithMetrics(m *metrics.Metrics) *Logger {
	l.metrics = m
	return l
}

// EntryParams is what callers supply; chain fields are filled in here.
type EntryParams struct {
	EventType            domain.EventType
	AttestationID        string
	Actor                string
	Operation            string
	Details              map[string]any
	Result               domain.Result
	CulturallySensitive  bool
	ComplianceFrameworks []domain.ComplianceFramework
	Timestamp            time.Time
}

// LogEvent appends one entry to the chain and returns it.
func (l *Logger) LogEvent(ctx context.Context, p EntryParams) (*domain.AuditEntry, error) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	if !l.primed {
		// Resume the chain from a pre-existing log after restart.
		last, err := l.store.LastHash(ctx)
		if err != nil {
			return nil, err
		}
		l.lastHash = last
		l.primed = true
	}

	entry := &domain.AuditEntry{
		ID:                   domain.NewAuditEntryID(),
		Timestamp:            p.Timestamp,
		EventType:            p.EventType,
		AttestationID:        p.AttestationID,
		Actor:                p.Actor,
		Operation:            p.Operation,
		Details:              p.Details,
		Result:               p.Result,
		CulturallySensitive:  p.CulturallySensitive,
		ComplianceFrameworks: p.ComplianceFrameworks,
		PreviousEntryHash:    l.lastHash,
	}

	hash, err := canonical.HMAC(l.integrityKey, entry.HashableFields())
	if err != nil {
		return nil, err
	}
	entry.IntegrityHash = hash

	if err := l.store.Append(ctx, entry); err != nil {
		return nil, err
	}
	l.lastHash = hash
	if l.metrics != nil {
		l.metrics.AuditEntriesAppended.Inc()
	}
	return entry, nil
}

// LogSigning records a signing operation outcome.
func (l *Logger) LogSigning(ctx context.Context, attestationID, actor, keyID string, result domain.Result) (*domain.AuditEntry, error) {
	return l.LogEvent(ctx, EntryParams{
		EventType:     domain.EventCreated,
		AttestationID: attestationID,
		Actor:         actor,
		Operation:     "sign",
		Details:       map[string]any{"keyId": keyID},
		Result:        result,
	})
}

// LogVerification records a verification attempt.
func (l *Logger) LogVerification(ctx context.Context, attestationID, actor string, valid bool) (*domain.AuditEntry, error) {
	result := domain.ResultSuccess
	if !valid {
		result = domain.ResultFailure
	}
	return l.LogEvent(ctx, EntryParams{
		EventType:     domain.EventVerified,
		AttestationID: attestationID,
		Actor:         actor,
		Operation:     "verify",
		Details:       map[string]any{"valid": valid},
		Result:        result,
	})
}

// LogRevocation records a revocation.
func (l *Logger) LogRevocation(ctx context.Context, attestationID, actor string, reason domain.RevocationReason) (*domain.AuditEntry, error) {
	return l.LogEvent(ctx, EntryParams{
		EventType:     domain.EventRevoked,
		AttestationID: attestationID,
		Actor:         actor,
		Operation:     "revoke",
		Details:       map[string]any{"reason": string(reason)},
		Result:        domain.ResultSuccess,
	})
}

// QueryAuditTrail returns filtered entries.
func (l *Logger) QueryAuditTrail(ctx context.Context, q Query) ([]*domain.AuditEntry, error) {
	return l.store.List(ctx, q)
}

// Handle subscribes the audit logger to the lifecycle event bus. Failures
// are logged but never propagated: the audit logger must not abort the
// lifecycle operation it observes.
func (l *Logger) Handle(ctx context.Context, ev events.Event) {
	_, err := l.LogEvent(ctx, EntryParams{
		EventType:            ev.Type,
		AttestationID:        ev.AttestationID,
		Actor:                ev.Actor,
		Operation:            ev.Operation,
		Details:              ev.Details,
		Result:               ev.Result,
		CulturallySensitive:  ev.CulturallySensitive,
		ComplianceFrameworks: ev.ComplianceFrameworks,
		Timestamp:            ev.Timestamp,
	})
	if err != nil && l.logger != nil {
		l.logger.ErrorContext(ctx, "audit append failed",
			"eventType", string(ev.Type),
			"attestationId", ev.AttestationID,
			"error", err,
		)
	}
}
