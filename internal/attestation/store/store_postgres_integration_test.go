//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"attestor/internal/attestation/store"
	"attestor/internal/domain"
	"attestor/pkg/sentinel"
	"attestor/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(s.postgres.Exec(context.Background(), store.Schema))
	s.store = store.NewPostgres(s.postgres.Pool)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "attestations"))
}

func newActiveAttestation(subject string) *domain.Attestation {
	until := time.Now().UTC().Add(24 * time.Hour)
	return &domain.Attestation{
		Type:        domain.TypeIdentity,
		SubjectID:   subject,
		SubjectType: domain.SubjectIndividual,
		AttestedBy:  "attestor-1",
		AttestedAt:  time.Now().UTC(),
		ValidFrom:   time.Now().UTC().Add(-time.Hour),
		ValidUntil:  &until,
		Status:      domain.StatusActive,
		AttestationData: map[string]any{
			"claim": "is-over-18",
		},
	}
}

func (s *PostgresStoreSuite) TestStoreRetrieveRoundTrip() {
	ctx := context.Background()

	a := newActiveAttestation("subj-1")
	id, err := s.store.Store(ctx, a)
	s.Require().NoError(err)
	s.NotEmpty(id)
	s.NotEmpty(a.IntegrityHash)

	got, err := s.store.Retrieve(ctx, id)
	s.Require().NoError(err)
	s.Equal(a.SubjectID, got.SubjectID)
	s.Equal(a.IntegrityHash, got.IntegrityHash)
	s.Equal(domain.StatusActive, got.Status)
	s.Equal("is-over-18", got.AttestationData["claim"])
}

func (s *PostgresStoreSuite) TestRetrieveMissingIsNotFound() {
	_, err := s.store.Retrieve(context.Background(), "att-missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestDuplicateIDRejected() {
	ctx := context.Background()

	a := newActiveAttestation("subj-1")
	id, err := s.store.Store(ctx, a)
	s.Require().NoError(err)

	dup := newActiveAttestation("subj-2")
	dup.ID = id
	_, err = s.store.Store(ctx, dup)
	s.Error(err)
}

// TestConcurrentStatusTransition verifies the conditional UPDATE admits
// exactly one winner when transitions race.
func (s *PostgresStoreSuite) TestConcurrentStatusTransition() {
	ctx := context.Background()

	id, err := s.store.Store(ctx, newActiveAttestation("subj-1"))
	s.Require().NoError(err)

	const goroutines = 20
	var wg sync.WaitGroup
	var won, conflicted atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.TransitionStatus(ctx, id, domain.StatusActive, domain.StatusExpired)
			if err == nil {
				won.Add(1)
			} else if errors.Is(err, sentinel.ErrConflict) {
				conflicted.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), won.Load(), "exactly one transition should win")
	s.Equal(int32(goroutines-1), conflicted.Load(), "all others should conflict")

	got, err := s.store.Retrieve(ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.StatusExpired, got.Status)
}

func (s *PostgresStoreSuite) TestConcurrentRevocationSingleWinner() {
	ctx := context.Background()

	id, err := s.store.Store(ctx, newActiveAttestation("subj-1"))
	s.Require().NoError(err)

	info := domain.RevocationInfo{
		Reason:        domain.RevocationSuperseded,
		RevokedBy:     "admin",
		EffectiveDate: time.Now().UTC(),
	}

	const goroutines = 20
	var wg sync.WaitGroup
	var won, already atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.Revoke(ctx, id, info)
			if err == nil {
				won.Add(1)
			} else if errors.Is(err, sentinel.ErrAlreadyRevoked) {
				already.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), won.Load())
	s.Equal(int32(goroutines-1), already.Load())

	got, err := s.store.Retrieve(ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.StatusRevoked, got.Status)
	s.Require().NotNil(got.Revocation)
	s.Equal(domain.RevocationSuperseded, got.Revocation.Reason)
}

func (s *PostgresStoreSuite) TestRevokeExpiredIsRejected() {
	ctx := context.Background()

	id, err := s.store.Store(ctx, newActiveAttestation("subj-1"))
	s.Require().NoError(err)
	s.Require().NoError(s.store.TransitionStatus(ctx, id, domain.StatusActive, domain.StatusExpired))

	info := domain.RevocationInfo{
		Reason:        domain.RevocationSuperseded,
		RevokedBy:     "admin",
		EffectiveDate: time.Now().UTC(),
	}
	err = s.store.Revoke(ctx, id, info)
	s.ErrorIs(err, sentinel.ErrExpired)

	got, err := s.store.Retrieve(ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.StatusExpired, got.Status)
	s.Nil(got.Revocation)
}

func (s *PostgresStoreSuite) TestQueryFilters() {
	ctx := context.Background()

	a := newActiveAttestation("subj-1")
	_, err := s.store.Store(ctx, a)
	s.Require().NoError(err)

	expired := newActiveAttestation("subj-2")
	past := time.Now().UTC().Add(-time.Minute)
	expired.ValidUntil = &past
	_, err = s.store.Store(ctx, expired)
	s.Require().NoError(err)

	bySubject, err := s.store.Query(ctx, store.QueryCriteria{SubjectID: "subj-1"})
	s.Require().NoError(err)
	s.Len(bySubject, 1)

	now := time.Now().UTC()
	expiredBy, err := s.store.Query(ctx, store.QueryCriteria{Status: domain.StatusActive, ExpiredBy: &now})
	s.Require().NoError(err)
	s.Len(expiredBy, 1)
	s.Equal("subj-2", expiredBy[0].SubjectID)
}

func (s *PostgresStoreSuite) TestBulkAtomicRollsBack() {
	ctx := context.Background()

	info := domain.RevocationInfo{
		Reason:        domain.RevocationSuperseded,
		RevokedBy:     "admin",
		EffectiveDate: time.Now().UTC(),
	}
	_, err := s.store.BulkOperation(ctx, store.BulkRequest{
		Operations: []store.BulkItem{
			{Type: store.BulkCreate, Attestation: newActiveAttestation("subj-1")},
			{Type: store.BulkRevoke, ID: "att-missing", Revocation: &info},
		},
		Atomic: true,
	})
	s.Error(err)

	// The create inside the failed transaction must not be visible.
	all, err := s.store.Query(ctx, store.QueryCriteria{})
	s.Require().NoError(err)
	s.Empty(all)
}

func (s *PostgresStoreSuite) TestBulkBestEffortRecordsPerItemOutcomes() {
	ctx := context.Background()

	id, err := s.store.Store(ctx, newActiveAttestation("subj-1"))
	s.Require().NoError(err)

	info := domain.RevocationInfo{
		Reason:        domain.RevocationSuperseded,
		RevokedBy:     "admin",
		EffectiveDate: time.Now().UTC(),
	}
	result, err := s.store.BulkOperation(ctx, store.BulkRequest{
		Operations: []store.BulkItem{
			{Type: store.BulkCreate, Attestation: newActiveAttestation("subj-2")},
			{Type: store.BulkRevoke, ID: "att-missing", Revocation: &info},
			{Type: store.BulkRevoke, ID: id, Revocation: &info},
		},
	})
	s.Require().NoError(err)
	s.Equal(2, result.Succeeded)
	s.Equal(1, result.Failed)
	s.False(result.Items[1].Success)
	s.NotEmpty(result.Items[1].Error)
}

func (s *PostgresStoreSuite) TestUpdateMetadataSetsVerificationAttempt() {
	ctx := context.Background()

	id, err := s.store.Store(ctx, newActiveAttestation("subj-1"))
	s.Require().NoError(err)

	at := time.Now().UTC().Truncate(time.Millisecond)
	err = s.store.UpdateMetadata(ctx, id, store.MetadataPatch{LastVerificationAttempt: &at})
	s.Require().NoError(err)

	got, err := s.store.Retrieve(ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(got.Metadata.LastVerificationAttempt)
	s.WithinDuration(at, *got.Metadata.LastVerificationAttempt, time.Second)
}
