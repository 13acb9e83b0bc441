package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"attestor/internal/attestation/service"
	"attestor/internal/attestation/store"
	"attestor/internal/audit"
	"attestor/internal/cultural"
	"attestor/internal/domain"
	"attestor/internal/events"
	"attestor/internal/platform/logger"
	"attestor/internal/platform/metrics"
	"attestor/internal/signing"
	"attestor/internal/transform"
)

type RouterSuite struct {
	suite.Suite
	server *httptest.Server
	keyID  string
	bus    *events.Bus
	engine *transform.Engine
}

func (s *RouterSuite) SetupTest() {
	ctx := context.Background()
	log := logger.Discard()
	m := metrics.NewWith(prometheus.NewRegistry())

	keys := signing.NewInMemoryKeyStore()
	meta, err := signing.GenerateKey(ctx, keys)
	require.NoError(s.T(), err)
	s.keyID = meta.ID

	evaluator := cultural.NewEvaluator(true)
	s.bus = events.NewBus(log)
	auditLogger := audit.NewLogger(audit.NewInMemoryStore(), bytes.Repeat([]byte{7}, 32), log)
	s.bus.RegisterAll(auditLogger)

	signer := signing.NewService(keys, evaluator, log)
	lifecycle := service.NewManager(store.NewInMemory(), signer, evaluator, s.bus, m, log, service.Config{
		DefaultRetention: 24 * time.Hour,
	})

	keyring := transform.NewKeyRing(bytes.Repeat([]byte{9}, 32), []string{"default"})
	s.engine = transform.NewEngine(keyring, transform.NewMemoryVault(), m, log)

	handler := NewHandler(lifecycle, s.engine, auditLogger, keys, log)
	s.server = httptest.NewServer(NewRouter(handler))
}

func (s *RouterSuite) TearDownTest() {
	s.server.Close()
	s.bus.Close()
}

func (s *RouterSuite) post(path string, body any) *http.Response {
	raw, err := json.Marshal(body)
	require.NoError(s.T(), err)
	resp, err := http.Post(s.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(s.T(), err)
	return resp
}

func (s *RouterSuite) get(path string) *http.Response {
	resp, err := http.Get(s.server.URL + path)
	require.NoError(s.T(), err)
	return resp
}

func (s *RouterSuite) decodeBody(resp *http.Response, into any) {
	defer resp.Body.Close()
	require.NoError(s.T(), json.NewDecoder(resp.Body).Decode(into))
}

func (s *RouterSuite) createAttestation() string {
	resp := s.post("/attestations", map[string]any{
		"type":            string(domain.TypeIdentity),
		"subjectId":       "subj-1",
		"subjectType":     string(domain.SubjectIndividual),
		"attestedBy":      "attestor-1",
		"validUntil":      time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
		"attestationData": map[string]any{"claim": "is-resident"},
		"signingKeyId":    s.keyID,
		"requestedBy":     "alice",
	})
	require.Equal(s.T(), http.StatusCreated, resp.StatusCode)

	var body struct {
		AttestationID string `json:"attestationId"`
	}
	s.decodeBody(resp, &body)
	require.NotEmpty(s.T(), body.AttestationID)
	return body.AttestationID
}

func (s *RouterSuite) TestCreateAndFetchAttestation() {
	id := s.createAttestation()

	resp := s.get("/attestations/" + id)
	assert.Equal(s.T(), http.StatusOK, resp.StatusCode)

	var a domain.Attestation
	s.decodeBody(resp, &a)
	assert.Equal(s.T(), id, a.ID)
	assert.Equal(s.T(), domain.StatusActive, a.Status)
	assert.NotNil(s.T(), a.DigitalSignature)
}

func (s *RouterSuite) TestCreateValidationFailureIs400() {
	resp := s.post("/attestations", map[string]any{
		"type": string(domain.TypeIdentity),
	})
	defer resp.Body.Close()
	assert.Equal(s.T(), http.StatusBadRequest, resp.StatusCode)
}

func (s *RouterSuite) TestUnknownFieldRejected() {
	resp := s.post("/attestations", map[string]any{
		"subjectId": "subj-1",
		"bogus":     true,
	})
	defer resp.Body.Close()
	assert.Equal(s.T(), http.StatusBadRequest, resp.StatusCode)
}

func (s *RouterSuite) TestGetMissingAttestationIs404() {
	resp := s.get("/attestations/att-missing")
	defer resp.Body.Close()
	assert.Equal(s.T(), http.StatusNotFound, resp.StatusCode)
}

func (s *RouterSuite) TestVerifyEndpoint() {
	id := s.createAttestation()

	resp := s.post("/attestations/"+id+"/verify", map[string]any{
		"requestedBy": "bob",
		"options": map[string]any{
			"checkIntegrity": true,
			"checkTimestamp": true,
		},
	})
	assert.Equal(s.T(), http.StatusOK, resp.StatusCode)

	var body struct {
		Success      bool `json:"success"`
		Verification *struct {
			Valid bool `json:"valid"`
		} `json:"verification"`
	}
	s.decodeBody(resp, &body)
	assert.True(s.T(), body.Success)
	require.NotNil(s.T(), body.Verification)
	assert.True(s.T(), body.Verification.Valid)
}

func (s *RouterSuite) TestRevokeThenSecondRevokeConflicts() {
	id := s.createAttestation()

	first := s.post("/attestations/"+id+"/revoke", map[string]any{
		"revokedBy": "admin",
		"reason":    string(domain.RevocationSuperseded),
	})
	first.Body.Close()
	assert.Equal(s.T(), http.StatusOK, first.StatusCode)

	second := s.post("/attestations/"+id+"/revoke", map[string]any{
		"revokedBy": "admin",
		"reason":    string(domain.RevocationSuperseded),
	})
	second.Body.Close()
	assert.Equal(s.T(), http.StatusConflict, second.StatusCode)
}

func (s *RouterSuite) TestGovernanceBlockedCreateIs403() {
	resp := s.post("/attestations", map[string]any{
		"type":            string(domain.TypeCulturalRole),
		"subjectId":       "subj-1",
		"subjectType":     string(domain.SubjectIndividual),
		"attestedBy":      "attestor-1",
		"attestationData": map[string]any{"claim": "custodianship"},
		"signingKeyId":    s.keyID,
		"requestedBy":     "alice",
		"culturalProtocols": map[string]any{
			"territory":             "yolngu",
			"requiresElderApproval": true,
		},
	})
	assert.Equal(s.T(), http.StatusForbidden, resp.StatusCode)

	var body struct {
		CulturalClearanceRequired bool     `json:"culturalClearanceRequired"`
		NextSteps                 []string `json:"nextSteps"`
	}
	s.decodeBody(resp, &body)
	assert.True(s.T(), body.CulturalClearanceRequired)
	assert.NotEmpty(s.T(), body.NextSteps)
}

func (s *RouterSuite) TestTransformEndpoint() {
	require.NoError(s.T(), s.engine.AddRule(transform.Rule{
		ID:            "redact-ssn",
		Name:          "redact social security numbers",
		Priority:      100,
		Enabled:       true,
		FieldPatterns: []string{"**.ssn"},
		Spec:          transform.Spec{Type: transform.TypeRedact},
	}))

	resp := s.post("/transform", map[string]any{
		"data": map[string]any{
			"patient": map[string]any{"ssn": "123-45-6789", "name": "Pat"},
		},
		"context": map[string]any{
			"actorId": "alice",
			"roles":   []string{"analyst"},
		},
	})
	assert.Equal(s.T(), http.StatusOK, resp.StatusCode)

	var body struct {
		TransformedData map[string]any `json:"transformedData"`
		Summary         struct {
			FieldsTransformed int `json:"fieldsTransformed"`
		} `json:"summary"`
	}
	s.decodeBody(resp, &body)
	assert.Equal(s.T(), 1, body.Summary.FieldsTransformed)
	patient := body.TransformedData["patient"].(map[string]any)
	assert.Equal(s.T(), transform.RedactedPlaceholder, patient["ssn"])
	assert.Equal(s.T(), "Pat", patient["name"])
}

func (s *RouterSuite) TestAuditEntriesEndpoint() {
	id := s.createAttestation()

	// The audit subscriber consumes bus events asynchronously.
	require.Eventually(s.T(), func() bool {
		resp := s.get("/audit/entries?attestationId=" + id)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var body struct {
			Count int `json:"count"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		return body.Count >= 1
	}, 2*time.Second, 20*time.Millisecond)
}

func (s *RouterSuite) TestAuditValidateEndpoint() {
	resp := s.get("/audit/validate")
	defer resp.Body.Close()
	assert.Equal(s.T(), http.StatusOK, resp.StatusCode)
}

func (s *RouterSuite) TestKeyLifecycleEndpoints() {
	created := s.post("/keys", nil)
	assert.Equal(s.T(), http.StatusCreated, created.StatusCode)

	var meta struct {
		ID string `json:"id"`
	}
	s.decodeBody(created, &meta)
	require.NotEmpty(s.T(), meta.ID)

	retired := s.post("/keys/"+meta.ID+"/retire", nil)
	retired.Body.Close()
	assert.Equal(s.T(), http.StatusOK, retired.StatusCode)
}

func (s *RouterSuite) TestHealthz() {
	resp := s.get("/healthz")
	defer resp.Body.Close()
	assert.Equal(s.T(), http.StatusOK, resp.StatusCode)
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}
