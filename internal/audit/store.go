package audit

import (
	"context"
	"time"

	"attestor/internal/domain"
)

// Query filters the audit trail. Zero values mean "no filter".
type Query struct {
	From                *time.Time
	To                  *time.Time
	EventTypes          []domain.EventType
	AttestationIDs      []string
	Actor               string
	Result              domain.Result
	CulturallySensitive *bool
	Limit               int
	Offset              int
	Descending          bool
}

// Matches reports whether an entry satisfies the query filters (pagination
// excluded). Shared by the memory store and validation paths.
func (q Query) Matches(e *domain.AuditEntry) bool {
	if q.From != nil && e.Timestamp.Before(*q.From) {
		return false
	}
	if q.To != nil && e.Timestamp.After(*q.To) {
		return false
	}
	if len(q.EventTypes) > 0 && !containsEventType(q.EventTypes, e.EventType) {
		return false
	}
	if len(q.AttestationIDs) > 0 && !containsString(q.AttestationIDs, e.AttestationID) {
		return false
	}
	if q.Actor != "" && e.Actor != q.Actor {
		return false
	}
	if q.Result != "" && e.Result != q.Result {
		return false
	}
	if q.CulturallySensitive != nil && e.CulturallySensitive != *q.CulturallySensitive {
		return false
	}
	return true
}

// AuditStorage persists chain entries. Append must preserve insertion order;
// the chain invariant depends on it. Implementations never mutate a stored
// entry.
type AuditStorage interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	List(ctx context.Context, q Query) ([]*domain.AuditEntry, error)
	// All returns every entry in insertion order, for chain validation.
	All(ctx context.Context) ([]*domain.AuditEntry, error)
	// LastHash returns the integrity hash of the most recent entry, or ""
	// for an empty log.
	LastHash(ctx context.Context) (string, error)
}

func containsEventType(types []domain.EventType, t domain.EventType) bool {
	for _, have := range types {
		if have == t {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, have := range list {
		if have == s {
			return true
		}
	}
	return false
}
