package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"attestor/internal/domain"
	"attestor/pkg/canonical"
	"attestor/pkg/sentinel"
)

// Postgres persists attestations in a single JSONB-backed table with the
// hot filter columns broken out. Status transitions use conditional UPDATEs
// so the compare-and-set happens in the database.
type Postgres struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the bulk path can
// run the same statements inside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Schema is applied by deployment tooling; kept here so the store and its
// migrations stay in one place.
const Schema = `
CREATE TABLE IF NOT EXISTS attestations (
	id             TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	subject_id     TEXT NOT NULL,
	type           TEXT NOT NULL,
	valid_from     TIMESTAMPTZ NOT NULL,
	valid_until    TIMESTAMPTZ,
	integrity_hash TEXT NOT NULL,
	record         JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS attestations_status_idx ON attestations (status);
CREATE INDEX IF NOT EXISTS attestations_subject_idx ON attestations (subject_id);
CREATE INDEX IF NOT EXISTS attestations_valid_until_idx ON attestations (valid_until) WHERE valid_until IS NOT NULL;
`

func (s *Postgres) Store(ctx context.Context, a *domain.Attestation) (string, error) {
	return s.store(ctx, s.pool, a)
}

func (s *Postgres) store(ctx context.Context, q querier, a *domain.Attestation) (string, error) {
	if a.ID == "" {
		a.ID = domain.NewAttestationID()
	}
	if a.Version == 0 {
		a.Version = 1
	}
	hash, err := canonical.Hash(a.ImmutableContent())
	if err != nil {
		return "", err
	}
	a.IntegrityHash = hash

	record, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("store attestation: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO attestations (id, status, subject_id, type, valid_from, valid_until, integrity_hash, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Status, a.SubjectID, a.Type, a.ValidFrom, a.ValidUntil, a.IntegrityHash, record,
	)
	if err != nil {
		return "", fmt.Errorf("store attestation: %w", err)
	}
	return a.ID, nil
}

func (s *Postgres) Retrieve(ctx context.Context, id string) (*domain.Attestation, error) {
	var record []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM attestations WHERE id = $1`, id).Scan(&record)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("attestation %q: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("retrieve attestation: %w", err)
	}
	var a domain.Attestation
	if err := json.Unmarshal(record, &a); err != nil {
		return nil, fmt.Errorf("retrieve attestation: decode: %w", err)
	}
	return &a, nil
}

func (s *Postgres) UpdateMetadata(ctx context.Context, id string, patch MetadataPatch) error {
	return s.updateMetadata(ctx, s.pool, id, patch)
}

func (s *Postgres) updateMetadata(ctx context.Context, q querier, id string, patch MetadataPatch) error {
	if patch.LastVerificationAttempt == nil {
		return nil
	}
	tag, err := q.Exec(ctx, `
		UPDATE attestations
		SET record = jsonb_set(record, '{metadata,lastVerificationAttempt}', to_jsonb($2::timestamptz))
		WHERE id = $1`,
		id, *patch.LastVerificationAttempt,
	)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attestation %q: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Postgres) Revoke(ctx context.Context, id string, info domain.RevocationInfo) error {
	return s.revoke(ctx, s.pool, id, info)
}

func (s *Postgres) revoke(ctx context.Context, q querier, id string, info domain.RevocationInfo) error {
	revocation, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("revoke attestation: %w", err)
	}
	tag, err := q.Exec(ctx, `
		UPDATE attestations
		SET status = $2,
		    record = jsonb_set(jsonb_set(record, '{status}', to_jsonb($2::text)), '{revocation}', $3::jsonb)
		WHERE id = $1 AND status NOT IN ($2, $4)`,
		id, domain.StatusRevoked, revocation, domain.StatusExpired,
	)
	if err != nil {
		return fmt.Errorf("revoke attestation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Missing, already revoked, or terminally expired; distinguish for
		// the caller.
		var status domain.AttestationStatus
		err := q.QueryRow(ctx, `SELECT status FROM attestations WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("attestation %q: %w", id, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("revoke attestation: %w", err)
		}
		if status == domain.StatusExpired {
			return fmt.Errorf("attestation %q: %w", id, sentinel.ErrExpired)
		}
		return fmt.Errorf("attestation %q: %w", id, sentinel.ErrAlreadyRevoked)
	}
	return nil
}

func (s *Postgres) TransitionStatus(ctx context.Context, id string, from, to domain.AttestationStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE attestations
		SET status = $3, record = jsonb_set(record, '{status}', to_jsonb($3::text))
		WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return fmt.Errorf("transition status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := s.pool.QueryRow(ctx, `SELECT status FROM attestations WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("attestation %q: %w", id, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("transition status: %w", err)
		}
		return fmt.Errorf("attestation %q is %s, expected %s: %w", id, status, from, sentinel.ErrConflict)
	}
	return nil
}

func (s *Postgres) Query(ctx context.Context, criteria QueryCriteria) ([]*domain.Attestation, error) {
	query := `SELECT record FROM attestations WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if criteria.Status != "" {
		query += ` AND status = ` + arg(criteria.Status)
	}
	if criteria.SubjectID != "" {
		query += ` AND subject_id = ` + arg(criteria.SubjectID)
	}
	if criteria.Type != "" {
		query += ` AND type = ` + arg(criteria.Type)
	}
	if criteria.ValidAt != nil {
		at := arg(*criteria.ValidAt)
		query += ` AND valid_from <= ` + at + ` AND (valid_until IS NULL OR valid_until >= ` + at + `)`
	}
	if criteria.ExpiredBy != nil {
		query += ` AND valid_until IS NOT NULL AND valid_until <= ` + arg(*criteria.ExpiredBy)
	}
	query += ` ORDER BY created_at`
	if criteria.Limit > 0 {
		query += ` LIMIT ` + arg(criteria.Limit)
	}
	if criteria.Offset > 0 {
		query += ` OFFSET ` + arg(criteria.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attestations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Attestation
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("query attestations: scan: %w", err)
		}
		var a domain.Attestation
		if err := json.Unmarshal(record, &a); err != nil {
			return nil, fmt.Errorf("query attestations: decode: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// BulkOperation wraps the batch in a transaction when atomic; best-effort
// mode applies each item independently and records per-item outcomes.
func (s *Postgres) BulkOperation(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	if req.Atomic {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("bulk operation: begin: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		result := &BulkResult{}
		for i, op := range req.Operations {
			id, err := s.applyItem(ctx, tx, op)
			if err != nil {
				return nil, fmt.Errorf("bulk item %d: %w", i, err)
			}
			result.Succeeded++
			result.Items = append(result.Items, BulkItemResult{Index: i, ID: id, Success: true})
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("bulk operation: commit: %w", err)
		}
		return result, nil
	}

	result := &BulkResult{}
	for i, op := range req.Operations {
		id, err := s.applyItem(ctx, s.pool, op)
		item := BulkItemResult{Index: i, ID: id, Success: err == nil}
		if err != nil {
			item.Error = err.Error()
			result.Failed++
		} else {
			result.Succeeded++
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

func (s *Postgres) applyItem(ctx context.Context, q querier, op BulkItem) (string, error) {
	switch op.Type {
	case BulkCreate:
		if op.Attestation == nil {
			return "", fmt.Errorf("create item requires an attestation")
		}
		return s.store(ctx, q, op.Attestation)
	case BulkRevoke:
		if op.Revocation == nil {
			return op.ID, fmt.Errorf("revoke item requires revocation info")
		}
		return op.ID, s.revoke(ctx, q, op.ID, *op.Revocation)
	case BulkUpdate:
		if op.Metadata == nil {
			return op.ID, nil
		}
		return op.ID, s.updateMetadata(ctx, q, op.ID, *op.Metadata)
	default:
		return "", fmt.Errorf("unknown bulk operation type %q", op.Type)
	}
}
