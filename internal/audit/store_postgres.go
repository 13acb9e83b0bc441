package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"attestor/internal/domain"
)

// PostgresStore persists chain entries. A monotonically assigned sequence
// column preserves insertion order; entries are never updated or deleted.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const SchemaPostgres = `
CREATE TABLE IF NOT EXISTS audit_entries (
	seq            BIGSERIAL PRIMARY KEY,
	id             TEXT NOT NULL UNIQUE,
	timestamp      TIMESTAMPTZ NOT NULL,
	event_type     TEXT NOT NULL,
	attestation_id TEXT,
	actor          TEXT NOT NULL,
	result         TEXT NOT NULL,
	sensitive      BOOLEAN NOT NULL DEFAULT false,
	integrity_hash TEXT NOT NULL,
	previous_hash  TEXT,
	entry          JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_entries_time_idx ON audit_entries (timestamp);
CREATE INDEX IF NOT EXISTS audit_entries_attestation_idx ON audit_entries (attestation_id);
`

func (s *PostgresStore) Append(ctx context.Context, entry *domain.AuditEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_entries (id, timestamp, event_type, attestation_id, actor, result, sensitive, integrity_hash, previous_hash, entry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.Timestamp, entry.EventType, entry.AttestationID, entry.Actor,
		entry.Result, entry.CulturallySensitive, entry.IntegrityHash, entry.PreviousEntryHash, raw,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, q Query) ([]*domain.AuditEntry, error) {
	query := `SELECT entry FROM audit_entries WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.From != nil {
		query += ` AND timestamp >= ` + arg(*q.From)
	}
	if q.To != nil {
		query += ` AND timestamp <= ` + arg(*q.To)
	}
	if len(q.EventTypes) > 0 {
		types := make([]string, 0, len(q.EventTypes))
		for _, t := range q.EventTypes {
			types = append(types, string(t))
		}
		query += ` AND event_type = ANY(` + arg(types) + `)`
	}
	if len(q.AttestationIDs) > 0 {
		query += ` AND attestation_id = ANY(` + arg(q.AttestationIDs) + `)`
	}
	if q.Actor != "" {
		query += ` AND actor = ` + arg(q.Actor)
	}
	if q.Result != "" {
		query += ` AND result = ` + arg(string(q.Result))
	}
	if q.CulturallySensitive != nil {
		query += ` AND sensitive = ` + arg(*q.CulturallySensitive)
	}
	if q.Descending {
		query += ` ORDER BY seq DESC`
	} else {
		query += ` ORDER BY seq`
	}
	if q.Limit > 0 {
		query += ` LIMIT ` + arg(q.Limit)
	}
	if q.Offset > 0 {
		query += ` OFFSET ` + arg(q.Offset)
	}

	return s.scanEntries(ctx, query, args...)
}

func (s *PostgresStore) All(ctx context.Context) ([]*domain.AuditEntry, error) {
	return s.scanEntries(ctx, `SELECT entry FROM audit_entries ORDER BY seq`)
}

func (s *PostgresStore) LastHash(ctx context.Context) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `SELECT integrity_hash FROM audit_entries ORDER BY seq DESC LIMIT 1`).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last audit hash: %w", err)
	}
	return hash, nil
}

func (s *PostgresStore) scanEntries(ctx context.Context, query string, args ...any) ([]*domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*domain.AuditEntry
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("list audit entries: scan: %w", err)
		}
		var e domain.AuditEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("list audit entries: decode: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
