package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"attestor/internal/attestation/models"
	"attestor/internal/attestation/store"
	"attestor/internal/cultural"
	"attestor/internal/domain"
	"attestor/internal/events"
	"attestor/internal/platform/logger"
	"attestor/internal/platform/metrics"
	"attestor/internal/signing"
	dErrors "attestor/pkg/domainerrors"
)

// recorder collects lifecycle events across all types.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Handle(_ context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t domain.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type ManagerSuite struct {
	suite.Suite
	store    *store.InMemory
	keys     *signing.InMemoryKeyStore
	bus      *events.Bus
	manager  *Manager
	recorder *recorder
	keyID    string
	ctx      context.Context
	now      time.Time
}

func (s *ManagerSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	s.store = store.NewInMemory()
	s.keys = signing.NewInMemoryKeyStore()
	meta, err := signing.GenerateKey(s.ctx, s.keys)
	require.NoError(s.T(), err)
	s.keyID = meta.ID

	evaluator := cultural.NewEvaluator(true)
	s.bus = events.NewBus(logger.Discard())
	s.recorder = &recorder{}
	s.bus.RegisterAll(s.recorder)

	signer := signing.NewService(s.keys, evaluator, logger.Discard())
	s.manager = NewManager(
		s.store,
		signer,
		evaluator,
		s.bus,
		metrics.NewWith(prometheus.NewRegistry()),
		logger.Discard(),
		Config{DefaultRetention: 24 * time.Hour, CulturalRetention: 48 * time.Hour},
	).WithClock(func() time.Time { return s.now })
}

func (s *ManagerSuite) TearDownTest() {
	s.bus.Close()
}

func (s *ManagerSuite) createRequest() *models.CreateAttestationRequest {
	until := s.now.Add(30 * 24 * time.Hour)
	return &models.CreateAttestationRequest{
		Type:            domain.TypeIdentity,
		SubjectID:       "subj-1",
		SubjectType:     domain.SubjectIndividual,
		AttestedBy:      "attestor-1",
		ValidUntil:      &until,
		AttestationData: map[string]any{"claim": "is-community-member"},
		SigningKeyID:    s.keyID,
		RequestedBy:     "alice",
	}
}

func (s *ManagerSuite) create() string {
	resp := s.manager.CreateAttestation(s.ctx, s.createRequest())
	require.True(s.T(), resp.Success, "create failed: %+v", resp.Errors)
	return resp.AttestationID
}

func (s *ManagerSuite) eventually(condition func() bool) {
	require.Eventually(s.T(), condition, 2*time.Second, 10*time.Millisecond)
}

func (s *ManagerSuite) TestCreateSignsAndActivates() {
	id := s.create()

	stored, err := s.manager.GetAttestation(s.ctx, id)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), domain.StatusActive, stored.Status)
	require.NotNil(s.T(), stored.DigitalSignature)
	assert.NotEmpty(s.T(), stored.ImmutabilityProof)
	assert.NotEmpty(s.T(), stored.IntegrityHash)
	assert.Equal(s.T(), 24*time.Hour, stored.Metadata.RetentionPeriod)

	s.eventually(func() bool { return len(s.recorder.ofType(domain.EventCreated)) == 1 })
}

func (s *ManagerSuite) TestCreateRejectsPastValidUntil() {
	req := s.createRequest()
	past := s.now.Add(-time.Hour)
	req.ValidUntil = &past

	resp := s.manager.CreateAttestation(s.ctx, req)
	assert.False(s.T(), resp.Success)
	require.NotEmpty(s.T(), resp.Errors)
	assert.Equal(s.T(), dErrors.CodeValidation, resp.Errors[0].Code)
	assert.Equal(s.T(), "validUntil", resp.Errors[0].Field)
}

func (s *ManagerSuite) TestCreateBlockedByCulturalProtocols() {
	req := s.createRequest()
	req.CulturalProtocols = &domain.CulturalProtocols{
		Territory:             "yolngu",
		RequiresElderApproval: true,
	}

	resp := s.manager.CreateAttestation(s.ctx, req)
	assert.False(s.T(), resp.Success)
	assert.True(s.T(), resp.CulturalClearanceRequired)
	assert.NotEmpty(s.T(), resp.NextSteps)

	// Nothing stored on a governance block.
	all, err := s.store.Query(s.ctx, store.QueryCriteria{})
	require.NoError(s.T(), err)
	assert.Empty(s.T(), all)
}

func (s *ManagerSuite) TestCreateWithSatisfiedProtocolsEmitsClearance() {
	req := s.createRequest()
	req.CulturalProtocols = &domain.CulturalProtocols{
		Territory:             "yolngu",
		RequiresElderApproval: true,
		ApprovedBy:            []string{"elder-1"},
	}

	resp := s.manager.CreateAttestation(s.ctx, req)
	require.True(s.T(), resp.Success)

	s.eventually(func() bool {
		return len(s.recorder.ofType(domain.EventCulturalClearanceGranted)) == 1
	})

	stored, err := s.manager.GetAttestation(s.ctx, resp.AttestationID)
	require.NoError(s.T(), err)
	assert.True(s.T(), stored.Metadata.CulturallySensitive)
	assert.Equal(s.T(), 48*time.Hour, stored.Metadata.RetentionPeriod)
}

func (s *ManagerSuite) TestRequestWitnessesCountTowardQuorum() {
	req := s.createRequest()
	req.CulturalProtocols = &domain.CulturalProtocols{
		Territory:     "yolngu",
		WitnessQuorum: 2,
		Witnesses:     []string{"witness-1"},
	}

	// One protocol witness alone falls short of the quorum.
	blocked := s.manager.CreateAttestation(s.ctx, req)
	assert.False(s.T(), blocked.Success)
	assert.True(s.T(), blocked.CulturalClearanceRequired)

	// A ceremony witness named on the request completes it.
	req = s.createRequest()
	req.CulturalProtocols = &domain.CulturalProtocols{
		Territory:     "yolngu",
		WitnessQuorum: 2,
		Witnesses:     []string{"witness-1"},
	}
	req.Witnesses = []string{"witness-2"}

	resp := s.manager.CreateAttestation(s.ctx, req)
	require.True(s.T(), resp.Success, "create failed: %+v", resp.Errors)

	// Duplicates of a protocol witness do not inflate the count.
	req = s.createRequest()
	req.SubjectID = "subj-2"
	req.CulturalProtocols = &domain.CulturalProtocols{
		Territory:     "yolngu",
		WitnessQuorum: 2,
		Witnesses:     []string{"witness-1"},
	}
	req.Witnesses = []string{"witness-1", ""}

	dup := s.manager.CreateAttestation(s.ctx, req)
	assert.False(s.T(), dup.Success)
	assert.True(s.T(), dup.CulturalClearanceRequired)
}

func (s *ManagerSuite) TestBulkCreateCountsRequestWitnesses() {
	req := s.createRequest()
	req.CulturalProtocols = &domain.CulturalProtocols{
		Territory:     "yolngu",
		WitnessQuorum: 1,
	}
	req.Witnesses = []string{"witness-1"}

	resp := s.manager.ProcessBulkOperations(s.ctx, &models.BulkAttestationRequest{
		ExecutedBy: "batcher",
		Operations: []models.BulkOperationRequest{
			{Operation: store.BulkCreate, Create: req},
		},
	})
	assert.True(s.T(), resp.Success, "bulk create failed: %+v", resp.Items)
	assert.Equal(s.T(), 1, resp.Succeeded)
}

func (s *ManagerSuite) TestCreateWithRetiredKeyFails() {
	require.NoError(s.T(), signing.RetireKey(s.ctx, s.keys, s.keyID))

	resp := s.manager.CreateAttestation(s.ctx, s.createRequest())
	assert.False(s.T(), resp.Success)
	require.NotEmpty(s.T(), resp.Errors)
	assert.Equal(s.T(), dErrors.CodeCryptographic, resp.Errors[0].Code)
}

func (s *ManagerSuite) TestVerifyValidAttestation() {
	id := s.create()

	resp := s.manager.VerifyAttestation(s.ctx, &models.VerifyAttestationRequest{
		AttestationID: id,
		RequestedBy:   "bob",
		Options:       signing.DefaultVerifyOptions(),
	})
	assert.True(s.T(), resp.Success)
	require.NotNil(s.T(), resp.Verification)
	assert.True(s.T(), resp.Verification.Valid)
	assert.Equal(s.T(), signing.TrustHigh, resp.Verification.TrustLevel)

	stored, err := s.manager.GetAttestation(s.ctx, id)
	require.NoError(s.T(), err)
	assert.NotNil(s.T(), stored.Metadata.LastVerificationAttempt)

	s.eventually(func() bool { return len(s.recorder.ofType(domain.EventVerified)) == 1 })
}

func (s *ManagerSuite) TestVerifyExpiredFlipsStatus() {
	id := s.create()

	// Move past the validity window and verify again.
	s.now = s.now.Add(31 * 24 * time.Hour)

	resp := s.manager.VerifyAttestation(s.ctx, &models.VerifyAttestationRequest{
		AttestationID: id,
		RequestedBy:   "bob",
	})
	assert.False(s.T(), resp.Success)
	assert.Equal(s.T(), domain.StatusExpired, resp.Status)
	require.NotEmpty(s.T(), resp.Errors)
	assert.Equal(s.T(), dErrors.CodeState, resp.Errors[0].Code)

	stored, err := s.manager.GetAttestation(s.ctx, id)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), domain.StatusExpired, stored.Status)

	s.eventually(func() bool { return len(s.recorder.ofType(domain.EventExpired)) == 1 })
}

func (s *ManagerSuite) TestVerifyRevokedIsStateError() {
	id := s.create()
	s.revoke(id)

	resp := s.manager.VerifyAttestation(s.ctx, &models.VerifyAttestationRequest{
		AttestationID: id,
		RequestedBy:   "bob",
	})
	assert.False(s.T(), resp.Success)
	assert.Equal(s.T(), domain.StatusRevoked, resp.Status)
	require.NotEmpty(s.T(), resp.Errors)
	assert.Equal(s.T(), dErrors.CodeState, resp.Errors[0].Code)
}

func (s *ManagerSuite) revoke(id string) {
	resp := s.manager.RevokeAttestation(s.ctx, &models.RevokeAttestationRequest{
		AttestationID: id,
		RevokedBy:     "admin",
		Reason:        domain.RevocationSuperseded,
	})
	require.True(s.T(), resp.Success, "revoke failed: %+v", resp.Errors)
}

func (s *ManagerSuite) TestRevokeIsTerminalAndIdempotentlyRejected() {
	id := s.create()
	s.revoke(id)

	resp := s.manager.RevokeAttestation(s.ctx, &models.RevokeAttestationRequest{
		AttestationID: id,
		RevokedBy:     "admin",
		Reason:        domain.RevocationSuperseded,
	})
	assert.False(s.T(), resp.Success)
	assert.Equal(s.T(), domain.StatusRevoked, resp.Status)
	require.NotEmpty(s.T(), resp.Errors)
	assert.Equal(s.T(), dErrors.CodeState, resp.Errors[0].Code)

	// A rejected second revocation never emits a second REVOKED event.
	s.eventually(func() bool { return len(s.recorder.ofType(domain.EventRevoked)) == 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Len(s.T(), s.recorder.ofType(domain.EventRevoked), 1)
}

func (s *ManagerSuite) TestRevokeExpiredIsStateError() {
	id := s.create()
	s.now = s.now.Add(31 * 24 * time.Hour)
	expired, err := s.manager.ExpireExpiredAttestations(s.ctx)
	require.NoError(s.T(), err)
	require.Equal(s.T(), 1, expired)

	resp := s.manager.RevokeAttestation(s.ctx, &models.RevokeAttestationRequest{
		AttestationID: id,
		RevokedBy:     "admin",
		Reason:        domain.RevocationSuperseded,
	})
	assert.False(s.T(), resp.Success)
	assert.Equal(s.T(), domain.StatusExpired, resp.Status)
	require.NotEmpty(s.T(), resp.Errors)
	assert.Equal(s.T(), dErrors.CodeState, resp.Errors[0].Code)

	stored, err := s.manager.GetAttestation(s.ctx, id)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), domain.StatusExpired, stored.Status)
	assert.Nil(s.T(), stored.Revocation)

	// Expired records stay expired; the rejection emits no REVOKED event.
	s.eventually(func() bool { return len(s.recorder.ofType(domain.EventExpired)) == 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Empty(s.T(), s.recorder.ofType(domain.EventRevoked))
}

func (s *ManagerSuite) TestRevokeRequiresElderApproval() {
	req := s.createRequest()
	req.CulturalProtocols = &domain.CulturalProtocols{
		ElderApprovalForRevocation: true,
	}
	created := s.manager.CreateAttestation(s.ctx, req)
	require.True(s.T(), created.Success)

	blocked := s.manager.RevokeAttestation(s.ctx, &models.RevokeAttestationRequest{
		AttestationID: created.AttestationID,
		RevokedBy:     "admin",
		Reason:        domain.RevocationCulturalDirective,
	})
	assert.False(s.T(), blocked.Success)
	assert.True(s.T(), blocked.CulturalClearanceRequired)

	approved := s.manager.RevokeAttestation(s.ctx, &models.RevokeAttestationRequest{
		AttestationID: created.AttestationID,
		RevokedBy:     "admin",
		Reason:        domain.RevocationCulturalDirective,
		ElderApproved: true,
	})
	assert.True(s.T(), approved.Success)
}

func (s *ManagerSuite) TestEmergencyOverrideIsAudited() {
	req := s.createRequest()
	req.CulturalProtocols = &domain.CulturalProtocols{
		ElderApprovalForRevocation: true,
	}
	created := s.manager.CreateAttestation(s.ctx, req)
	require.True(s.T(), created.Success)

	resp := s.manager.RevokeAttestation(s.ctx, &models.RevokeAttestationRequest{
		AttestationID:     created.AttestationID,
		RevokedBy:         "incident-response",
		Reason:            domain.RevocationCompromised,
		EmergencyOverride: true,
	})
	assert.True(s.T(), resp.Success)

	s.eventually(func() bool {
		return len(s.recorder.ofType(domain.EventEmergencyOverride)) == 1 &&
			len(s.recorder.ofType(domain.EventRevoked)) == 1
	})
}

func (s *ManagerSuite) TestExpirySweep() {
	id := s.create()
	s.now = s.now.Add(31 * 24 * time.Hour)

	expired, err := s.manager.ExpireExpiredAttestations(s.ctx)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, expired)

	stored, err := s.manager.GetAttestation(s.ctx, id)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), domain.StatusExpired, stored.Status)

	// Re-running the sweep finds nothing.
	again, err := s.manager.ExpireExpiredAttestations(s.ctx)
	require.NoError(s.T(), err)
	assert.Zero(s.T(), again)
}

func (s *ManagerSuite) TestBulkBestEffort() {
	existing := s.create()

	resp := s.manager.ProcessBulkOperations(s.ctx, &models.BulkAttestationRequest{
		ExecutedBy: "batcher",
		Operations: []models.BulkOperationRequest{
			{Operation: store.BulkCreate, Create: s.createRequest()},
			{Operation: store.BulkRevoke, Revoke: &models.RevokeAttestationRequest{
				AttestationID: existing,
				RevokedBy:     "batcher",
				Reason:        domain.RevocationSuperseded,
			}},
			{Operation: store.BulkRevoke, Revoke: &models.RevokeAttestationRequest{
				AttestationID: "att-missing",
				RevokedBy:     "batcher",
				Reason:        domain.RevocationSuperseded,
			}},
		},
	})

	assert.False(s.T(), resp.Success)
	assert.Equal(s.T(), 2, resp.Succeeded)
	assert.Equal(s.T(), 1, resp.Failed)
	require.Len(s.T(), resp.Items, 3)
	assert.True(s.T(), resp.Items[0].Success)
	assert.True(s.T(), resp.Items[1].Success)
	assert.False(s.T(), resp.Items[2].Success)

	s.eventually(func() bool {
		return len(s.recorder.ofType(domain.EventBulkOperationCompleted)) == 1
	})
}

func (s *ManagerSuite) TestBulkAtomicFailsWhole() {
	resp := s.manager.ProcessBulkOperations(s.ctx, &models.BulkAttestationRequest{
		ExecutedBy:      "batcher",
		AtomicExecution: true,
		Operations: []models.BulkOperationRequest{
			{Operation: store.BulkCreate, Create: s.createRequest()},
			{Operation: store.BulkRevoke, Revoke: &models.RevokeAttestationRequest{
				AttestationID: "att-missing",
				RevokedBy:     "batcher",
				Reason:        domain.RevocationSuperseded,
			}},
		},
	})

	assert.False(s.T(), resp.Success)
	assert.NotEmpty(s.T(), resp.Errors)

	// The create in the failed atomic batch must not have been applied.
	all, err := s.store.Query(s.ctx, store.QueryCriteria{})
	require.NoError(s.T(), err)
	assert.Empty(s.T(), all)
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}
