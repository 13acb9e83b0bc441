// Package service orchestrates the attestation lifecycle. It is the only
// component callers normally invoke directly: it validates requests, enforces
// governance preconditions, coordinates the sign-then-persist protocol, and
// emits lifecycle events for observers such as the audit logger.
package service

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"attestor/internal/attestation/models"
	"attestor/internal/attestation/store"
	"attestor/internal/cultural"
	"attestor/internal/domain"
	"attestor/internal/events"
	"attestor/internal/platform/metrics"
	"attestor/internal/signing"
	dErrors "attestor/pkg/domainerrors"
	"attestor/pkg/sentinel"
)

// Manager drives the state machine pending -> active -> {revoked, expired}.
type Manager struct {
	store     store.AttestationStorage
	signer    *signing.Service
	evaluator *cultural.Evaluator
	bus       *events.Bus
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	defaultRetention  time.Duration
	culturalRetention time.Duration

	now func() time.Time
}

// Config carries the manager's tunables.
type Config struct {
	DefaultRetention  time.Duration
	CulturalRetention time.Duration
}

func NewManager(
	st store.AttestationStorage,
	signer *signing.Service,
	evaluator *cultural.Evaluator,
	bus *events.Bus,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg Config,
) *Manager {
	return &Manager{
		store:             st,
		signer:            signer,
		evaluator:         evaluator,
		bus:               bus,
		metrics:           m,
		logger:            logger,
		tracer:            otel.Tracer("attestor/lifecycle"),
		defaultRetention:  cfg.DefaultRetention,
		culturalRetention: cfg.CulturalRetention,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// RegisterEventHandler subscribes a handler to one lifecycle event type.
func (m *Manager) RegisterEventHandler(t domain.EventType, h events.Handler) events.Subscription {
	return m.bus.Register(t, h)
}

// UnregisterEventHandler removes a previously registered handler.
func (m *Manager) UnregisterEventHandler(sub events.Subscription) {
	m.bus.Unregister(sub)
}

// CreateAttestation validates, clears governance, signs, persists and
// activates a new attestation. No record is stored for a failed creation.
func (m *Manager) CreateAttestation(ctx context.Context, req *models.CreateAttestationRequest) *models.AttestationResponse {
	ctx, span := m.tracer.Start(ctx, "lifecycle.create")
	defer span.End()

	now := m.now()
	if errs := req.Validate(now); len(errs) > 0 {
		return models.FailureResponse(errs...)
	}

	keyMeta, err := m.signer.GetKeyMetadata(ctx, req.SigningKeyID)
	if err != nil {
		return failureFromError(err)
	}
	if keyMeta.Status != signing.KeyActive {
		return models.FailureResponse(dErrors.NewField(dErrors.CodeCryptographic, "signingKeyId",
			"signing key is "+string(keyMeta.Status)))
	}

	protocols := protocolsWithWitnesses(req.CulturalProtocols, req.Witnesses)
	clearance := m.evaluator.EvaluateCreation(protocols, now)
	if !clearance.Satisfied {
		m.metrics.GovernanceBlocks.Inc()
		return models.GovernanceBlockedResponse(clearance.NextSteps)
	}

	a := m.buildAttestation(req, now)
	span.SetAttributes(attribute.String("attestation.id", a.ID))

	signStarted := time.Now()
	signResult, err := m.signer.Sign(ctx, signing.SignRequest{
		Attestation: a,
		KeyID:       req.SigningKeyID,
		Witnesses:   req.Witnesses,
	})
	m.metrics.SigningDuration.Observe(time.Since(signStarted).Seconds())
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeGovernance {
			m.metrics.GovernanceBlocks.Inc()
			return models.GovernanceBlockedResponse([]string{"satisfy the attestation's cultural protocols before signing"})
		}
		return failureFromError(err)
	}

	a.DigitalSignature = &signResult.Signature
	a.ImmutabilityProof = signResult.ImmutabilityProof
	a.Status = domain.StatusActive

	if _, err := m.store.Store(ctx, a); err != nil {
		m.logger.ErrorContext(ctx, "attestation persist failed", "attestationId", a.ID, "error", err)
		return failureFromError(err)
	}

	m.metrics.AttestationsCreated.Inc()
	m.publish(domain.EventCreated, a, req.RequestedBy, "create", domain.ResultSuccess, culturalDetails(a, nil))

	if signResult.CulturalClearance != nil && signResult.CulturalClearance.ClearanceID != "" {
		m.publish(domain.EventCulturalClearanceGranted, a, req.RequestedBy, "cultural_clearance",
			domain.ResultSuccess, map[string]any{
				"clearanceId": signResult.CulturalClearance.ClearanceID,
				"territory":   signResult.CulturalClearance.Territory,
				"level":       string(signResult.CulturalClearance.Level),
			})
	}

	return &models.AttestationResponse{
		Success:       true,
		AttestationID: a.ID,
		Status:        a.Status,
	}
}

// VerifyAttestation checks a stored attestation. A revoked attestation is
// rejected outright; one past its validity window is transitioned to expired
// as a side effect and reported as failed.
func (m *Manager) VerifyAttestation(ctx context.Context, req *models.VerifyAttestationRequest) *models.AttestationResponse {
	ctx, span := m.tracer.Start(ctx, "lifecycle.verify",
		trace.WithAttributes(attribute.String("attestation.id", req.AttestationID)))
	defer span.End()

	if errs := req.Validate(); len(errs) > 0 {
		return models.FailureResponse(errs...)
	}

	a, err := m.store.Retrieve(ctx, req.AttestationID)
	if err != nil {
		return failureFromError(err)
	}

	if a.Status == domain.StatusRevoked {
		m.metrics.VerificationOutcomes.WithLabelValues("revoked").Inc()
		resp := models.FailureResponse(dErrors.New(dErrors.CodeState, "attestation is revoked"))
		resp.Status = domain.StatusRevoked
		return resp
	}

	now := m.now()
	if a.IsExpired(now) {
		return m.expireDuringVerify(ctx, a, req.RequestedBy, now)
	}
	if a.Status == domain.StatusExpired {
		m.metrics.VerificationOutcomes.WithLabelValues("expired").Inc()
		resp := models.FailureResponse(dErrors.New(dErrors.CodeState, "attestation has expired"))
		resp.Status = domain.StatusExpired
		return resp
	}

	result, err := m.signer.Verify(ctx, signing.VerifyRequest{Attestation: a, Options: req.Options})
	if err != nil {
		m.metrics.VerificationOutcomes.WithLabelValues("error").Inc()
		return failureFromError(err)
	}

	attempt := now
	if err := m.store.UpdateMetadata(ctx, a.ID, store.MetadataPatch{LastVerificationAttempt: &attempt}); err != nil {
		m.logger.WarnContext(ctx, "recording verification attempt failed", "attestationId", a.ID, "error", err)
	}

	outcome := domain.ResultSuccess
	label := "valid"
	if !result.Valid {
		outcome = domain.ResultFailure
		label = "invalid"
	}
	m.metrics.VerificationOutcomes.WithLabelValues(label).Inc()
	m.publish(domain.EventVerified, a, req.RequestedBy, "verify", outcome, map[string]any{
		"valid":      result.Valid,
		"trustLevel": string(result.TrustLevel),
		"score":      result.Score,
	})

	return &models.AttestationResponse{
		Success:       result.Valid,
		AttestationID: a.ID,
		Status:        a.Status,
		Verification:  result,
	}
}

func (m *Manager) expireDuringVerify(ctx context.Context, a *domain.Attestation, actor string, now time.Time) *models.AttestationResponse {
	err := m.store.TransitionStatus(ctx, a.ID, domain.StatusActive, domain.StatusExpired)
	switch {
	case err == nil:
		m.metrics.AttestationsExpired.Inc()
		m.publish(domain.EventExpired, a, actor, "expire", domain.ResultSuccess, map[string]any{"during": "verify"})
	case errors.Is(err, sentinel.ErrConflict):
		// A racing transition won; report whatever state it reached.
	default:
		m.logger.ErrorContext(ctx, "expiry transition failed", "attestationId", a.ID, "error", err)
	}

	m.metrics.VerificationOutcomes.WithLabelValues("expired").Inc()
	resp := models.FailureResponse(dErrors.New(dErrors.CodeState, "attestation validity window has passed"))
	resp.AttestationID = a.ID
	resp.Status = domain.StatusExpired
	return resp
}

// RevokeAttestation transitions an attestation to the terminal revoked
// state. Cultural protocols requiring elder approval for revocation block
// the request unless approved or explicitly, auditably overridden.
func (m *Manager) RevokeAttestation(ctx context.Context, req *models.RevokeAttestationRequest) *models.AttestationResponse {
	ctx, span := m.tracer.Start(ctx, "lifecycle.revoke",
		trace.WithAttributes(attribute.String("attestation.id", req.AttestationID)))
	defer span.End()

	if errs := req.Validate(); len(errs) > 0 {
		return models.FailureResponse(errs...)
	}

	a, err := m.store.Retrieve(ctx, req.AttestationID)
	if err != nil {
		return failureFromError(err)
	}
	if a.Status == domain.StatusRevoked {
		resp := models.FailureResponse(dErrors.New(dErrors.CodeState, "attestation is already revoked"))
		resp.Status = domain.StatusRevoked
		return resp
	}
	if a.Status == domain.StatusExpired {
		// Expired is terminal just like revoked; no transition out of it.
		resp := models.FailureResponse(dErrors.New(dErrors.CodeState, "attestation has expired"))
		resp.Status = domain.StatusExpired
		return resp
	}

	clearance := m.evaluator.EvaluateRevocation(a.CulturalProtocols, req.ElderApproved)
	if !clearance.Satisfied {
		if !req.EmergencyOverride {
			m.metrics.GovernanceBlocks.Inc()
			return models.GovernanceBlockedResponse(clearance.NextSteps)
		}
		m.publish(domain.EventEmergencyOverride, a, req.RevokedBy, "revoke_override", domain.ResultWarning, map[string]any{
			"reason": string(req.Reason),
		})
	}

	now := m.now()
	info := domain.RevocationInfo{
		Reason:            req.Reason,
		Description:       req.Description,
		CulturalReason:    req.CulturalReason,
		ElderApproved:     req.ElderApproved,
		EffectiveDate:     now,
		RevokedBy:         req.RevokedBy,
		CascadeRevocation: req.CascadeRevocation,
		ReplacementID:     req.ReplacementID,
		EmergencyOverride: req.EmergencyOverride,
	}

	if err := m.store.Revoke(ctx, a.ID, info); err != nil {
		return failureFromError(err)
	}

	m.metrics.AttestationsRevoked.Inc()
	details := culturalDetails(a, map[string]any{
		"reason":        string(req.Reason),
		"elderApproved": req.ElderApproved,
	})
	m.publish(domain.EventRevoked, a, req.RevokedBy, "revoke", domain.ResultSuccess, details)

	resp := &models.AttestationResponse{
		Success:       true,
		AttestationID: a.ID,
		Status:        domain.StatusRevoked,
	}
	if req.CascadeRevocation {
		resp.Warnings = append(resp.Warnings,
			"cascade revocation declared: revoking dependent attestations is the caller's responsibility")
	}
	return resp
}

// ExpireExpiredAttestations sweeps active records past their validity window
// and expires each one individually. Returns the number expired.
func (m *Manager) ExpireExpiredAttestations(ctx context.Context) (int, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.expiry_sweep")
	defer span.End()

	now := m.now()
	candidates, err := m.store.Query(ctx, store.QueryCriteria{
		Status:    domain.StatusActive,
		ExpiredBy: &now,
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, a := range candidates {
		err := m.store.TransitionStatus(ctx, a.ID, domain.StatusActive, domain.StatusExpired)
		if errors.Is(err, sentinel.ErrConflict) {
			continue // a racing revoke or verify-expiry won
		}
		if err != nil {
			m.logger.ErrorContext(ctx, "expiry sweep transition failed", "attestationId", a.ID, "error", err)
			continue
		}
		expired++
		m.metrics.AttestationsExpired.Inc()
		m.publish(domain.EventExpired, a, "system", "expire", domain.ResultSuccess, map[string]any{"during": "sweep"})
	}
	return expired, nil
}

// GetAttestation retrieves a stored record.
func (m *Manager) GetAttestation(ctx context.Context, id string) (*domain.Attestation, error) {
	return m.store.Retrieve(ctx, id)
}

func (m *Manager) buildAttestation(req *models.CreateAttestationRequest, now time.Time) *domain.Attestation {
	validFrom := req.ValidFrom
	if validFrom.IsZero() {
		validFrom = now
	}
	meta := req.Metadata
	if req.CulturalProtocols != nil {
		meta.CulturallySensitive = true
	}
	if meta.RetentionPeriod == 0 {
		if meta.CulturallySensitive {
			meta.RetentionPeriod = m.culturalRetention
		} else {
			meta.RetentionPeriod = m.defaultRetention
		}
	}
	return &domain.Attestation{
		ID:                   domain.NewAttestationID(),
		Version:              1,
		Type:                 req.Type,
		SubjectID:            req.SubjectID,
		SubjectType:          req.SubjectType,
		AttestedBy:           req.AttestedBy,
		AttestedAt:           now,
		ValidFrom:            validFrom,
		ValidUntil:           req.ValidUntil,
		Status:               domain.StatusPending,
		AttestationData:      req.AttestationData,
		ComplianceFrameworks: req.ComplianceFrameworks,
		CulturalProtocols:    req.CulturalProtocols,
		Metadata:             meta,
	}
}

// protocolsWithWitnesses folds the ceremony witnesses named on the request
// into the protocol's witness list so they count toward the quorum. The
// input protocols are never mutated.
func protocolsWithWitnesses(p *domain.CulturalProtocols, witnesses []string) *domain.CulturalProtocols {
	if p == nil || len(witnesses) == 0 {
		return p
	}
	merged := *p
	seen := make(map[string]struct{}, len(p.Witnesses)+len(witnesses))
	union := make([]string, 0, len(p.Witnesses)+len(witnesses))
	for _, w := range p.Witnesses {
		if _, dup := seen[w]; w == "" || dup {
			continue
		}
		seen[w] = struct{}{}
		union = append(union, w)
	}
	for _, w := range witnesses {
		if _, dup := seen[w]; w == "" || dup {
			continue
		}
		seen[w] = struct{}{}
		union = append(union, w)
	}
	merged.Witnesses = union
	return &merged
}

func (m *Manager) publish(t domain.EventType, a *domain.Attestation, actor, operation string, result domain.Result, details map[string]any) {
	m.bus.Publish(events.Event{
		Type:                 t,
		AttestationID:        a.ID,
		Actor:                actor,
		Operation:            operation,
		Details:              details,
		Result:               result,
		CulturallySensitive:  a.Metadata.CulturallySensitive,
		ComplianceFrameworks: a.ComplianceFrameworks,
	})
}

func culturalDetails(a *domain.Attestation, extra map[string]any) map[string]any {
	details := make(map[string]any, len(extra)+3)
	for k, v := range extra {
		details[k] = v
	}
	if p := a.CulturalProtocols; p != nil {
		if p.Territory != "" {
			details["territory"] = p.Territory
		}
		if _, set := details["elderApproved"]; !set {
			details["elderApproved"] = len(p.ApprovedBy) > 0
		}
		details["communityConsent"] = p.CommunityConsentRef != ""
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func failureFromError(err error) *models.AttestationResponse {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return models.FailureResponse(de)
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return models.FailureResponse(dErrors.New(dErrors.CodeNotFound, "attestation not found"))
	case errors.Is(err, sentinel.ErrAlreadyRevoked):
		return models.FailureResponse(dErrors.New(dErrors.CodeState, "attestation is already revoked"))
	case errors.Is(err, sentinel.ErrExpired):
		return models.FailureResponse(dErrors.New(dErrors.CodeState, "attestation has expired"))
	case errors.Is(err, sentinel.ErrConflict):
		return models.FailureResponse(dErrors.New(dErrors.CodeState, "a concurrent transition won; re-read the record"))
	default:
		return models.FailureResponse(dErrors.New(dErrors.CodeInternal, err.Error()))
	}
}
