package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"attestor/internal/attestation/models"
	"attestor/internal/attestation/store"
	"attestor/internal/domain"
	"attestor/internal/events"
	"attestor/internal/signing"
	dErrors "attestor/pkg/domainerrors"
)

// ProcessBulkOperations prepares each item (validation, governance, signing)
// and hands the prepared batch to the store. In atomic mode any preparation
// or persistence failure rolls the whole batch back; in best-effort mode
// failed items are reported individually and the rest proceed. Exactly one
// aggregate event is emitted for the batch.
func (m *Manager) ProcessBulkOperations(ctx context.Context, req *models.BulkAttestationRequest) *models.BulkAttestationResponse {
	ctx, span := m.tracer.Start(ctx, "lifecycle.bulk",
		trace.WithAttributes(attribute.Int("bulk.operations", len(req.Operations))))
	defer span.End()

	started := m.now()
	if errs := req.Validate(); len(errs) > 0 {
		return bulkFailure(errs)
	}

	prepared := make([]store.BulkItem, 0, len(req.Operations))
	// origIndex[i] is the position in req.Operations that prepared[i] came from.
	origIndex := make([]int, 0, len(req.Operations))
	results := make([]store.BulkItemResult, len(req.Operations))
	created := make(map[int]*domain.Attestation, len(req.Operations))

	for i, op := range req.Operations {
		item, a, err := m.prepareBulkItem(ctx, op, started)
		if err != nil {
			if req.AtomicExecution {
				return bulkFailure([]*dErrors.Error{asDomainError(err, i)})
			}
			results[i] = store.BulkItemResult{Index: i, Success: false, Error: err.Error()}
			continue
		}
		if a != nil {
			created[i] = a
		}
		prepared = append(prepared, item)
		origIndex = append(origIndex, i)
	}

	var succeeded, failed int
	if len(prepared) > 0 {
		storeResult, err := m.store.BulkOperation(ctx, store.BulkRequest{
			Operations: prepared,
			Atomic:     req.AtomicExecution,
		})
		if err != nil {
			return bulkFailure([]*dErrors.Error{dErrors.New(dErrors.CodeInternal, err.Error())})
		}
		for _, r := range storeResult.Items {
			orig := origIndex[r.Index]
			r.Index = orig
			results[orig] = r
		}
	}

	for i := range results {
		if results[i].ID == "" && results[i].Error == "" {
			// Items never handed to the store in atomic short-circuit paths.
			results[i].Index = i
		}
		if results[i].Success {
			succeeded++
		} else {
			failed++
		}
	}

	for i, a := range created {
		if results[i].Success {
			m.metrics.AttestationsCreated.Inc()
			m.publish(domain.EventCreated, a, req.ExecutedBy, "bulk_create", domain.ResultSuccess, culturalDetails(a, nil))
		}
	}

	duration := m.now().Sub(started)
	m.bus.Publish(newBulkEvent(req.ExecutedBy, len(req.Operations), succeeded, failed, req.AtomicExecution, duration))

	return &models.BulkAttestationResponse{
		Success:    failed == 0,
		Succeeded:  succeeded,
		Failed:     failed,
		DurationMS: duration.Milliseconds(),
		Items:      results,
	}
}

func (m *Manager) prepareBulkItem(ctx context.Context, op models.BulkOperationRequest, now time.Time) (store.BulkItem, *domain.Attestation, error) {
	switch op.Operation {
	case store.BulkCreate:
		if op.Create == nil {
			return store.BulkItem{}, nil, dErrors.New(dErrors.CodeValidation, "create payload is required")
		}
		a, err := m.prepareCreation(ctx, op.Create, now)
		if err != nil {
			return store.BulkItem{}, nil, err
		}
		return store.BulkItem{Type: store.BulkCreate, Attestation: a}, a, nil

	case store.BulkRevoke:
		if op.Revoke == nil {
			return store.BulkItem{}, nil, dErrors.New(dErrors.CodeValidation, "revoke payload is required")
		}
		if errs := op.Revoke.Validate(); len(errs) > 0 {
			return store.BulkItem{}, nil, errs[0]
		}
		a, err := m.store.Retrieve(ctx, op.Revoke.AttestationID)
		if err != nil {
			return store.BulkItem{}, nil, err
		}
		switch a.Status {
		case domain.StatusRevoked:
			return store.BulkItem{}, nil, dErrors.New(dErrors.CodeState,
				"attestation "+a.ID+" is already revoked")
		case domain.StatusExpired:
			return store.BulkItem{}, nil, dErrors.New(dErrors.CodeState,
				"attestation "+a.ID+" has expired")
		}
		clearance := m.evaluator.EvaluateRevocation(a.CulturalProtocols, op.Revoke.ElderApproved)
		if !clearance.Satisfied && !op.Revoke.EmergencyOverride {
			return store.BulkItem{}, nil, dErrors.New(dErrors.CodeGovernance,
				"cultural clearance required to revoke "+op.Revoke.AttestationID)
		}
		info := domain.RevocationInfo{
			Reason:            op.Revoke.Reason,
			Description:       op.Revoke.Description,
			CulturalReason:    op.Revoke.CulturalReason,
			ElderApproved:     op.Revoke.ElderApproved,
			EffectiveDate:     now,
			RevokedBy:         op.Revoke.RevokedBy,
			CascadeRevocation: op.Revoke.CascadeRevocation,
			ReplacementID:     op.Revoke.ReplacementID,
			EmergencyOverride: op.Revoke.EmergencyOverride,
		}
		return store.BulkItem{Type: store.BulkRevoke, ID: a.ID, Revocation: &info}, nil, nil

	case store.BulkUpdate:
		if op.UpdateID == "" || op.Metadata == nil {
			return store.BulkItem{}, nil, dErrors.New(dErrors.CodeValidation, "update id and metadata patch are required")
		}
		return store.BulkItem{Type: store.BulkUpdate, ID: op.UpdateID, Metadata: op.Metadata}, nil, nil

	default:
		return store.BulkItem{}, nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown bulk operation %q", op.Operation))
	}
}

// prepareCreation runs the single-create pipeline up to, but not including,
// persistence. The caller decides how the prepared attestation is stored.
func (m *Manager) prepareCreation(ctx context.Context, req *models.CreateAttestationRequest, now time.Time) (*domain.Attestation, error) {
	if errs := req.Validate(now); len(errs) > 0 {
		return nil, errs[0]
	}
	keyMeta, err := m.signer.GetKeyMetadata(ctx, req.SigningKeyID)
	if err != nil {
		return nil, err
	}
	if keyMeta.Status != signing.KeyActive {
		return nil, dErrors.New(dErrors.CodeCryptographic, "signing key is "+string(keyMeta.Status))
	}
	clearance := m.evaluator.EvaluateCreation(protocolsWithWitnesses(req.CulturalProtocols, req.Witnesses), now)
	if !clearance.Satisfied {
		m.metrics.GovernanceBlocks.Inc()
		return nil, dErrors.New(dErrors.CodeGovernance, "cultural clearance required for subject "+req.SubjectID)
	}

	a := m.buildAttestation(req, now)
	signStarted := time.Now()
	signResult, err := m.signer.Sign(ctx, signing.SignRequest{
		Attestation: a,
		KeyID:       req.SigningKeyID,
		Witnesses:   req.Witnesses,
	})
	m.metrics.SigningDuration.Observe(time.Since(signStarted).Seconds())
	if err != nil {
		return nil, err
	}
	a.DigitalSignature = &signResult.Signature
	a.ImmutabilityProof = signResult.ImmutabilityProof
	a.Status = domain.StatusActive
	return a, nil
}

func newBulkEvent(actor string, total, succeeded, failed int, atomic bool, duration time.Duration) events.Event {
	return events.Event{
		Type:      domain.EventBulkOperationCompleted,
		Actor:     actor,
		Operation: "bulk",
		Result:    bulkResult(failed),
		Details: map[string]any{
			"operations": total,
			"succeeded":  succeeded,
			"failed":     failed,
			"atomic":     atomic,
			"durationMs": duration.Milliseconds(),
		},
	}
}

func bulkResult(failed int) domain.Result {
	if failed > 0 {
		return domain.ResultWarning
	}
	return domain.ResultSuccess
}

func asDomainError(err error, index int) *dErrors.Error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return dErrors.NewField(de.Code, fmt.Sprintf("operations[%d]", index), de.Message)
	}
	return dErrors.NewField(dErrors.CodeInternal, fmt.Sprintf("operations[%d]", index), err.Error())
}

func bulkFailure(errs []*dErrors.Error) *models.BulkAttestationResponse {
	resp := &models.BulkAttestationResponse{Success: false}
	for _, e := range errs {
		resp.Errors = append(resp.Errors, models.ResponseError{Code: e.Code, Field: e.Field, Message: e.Message})
	}
	return resp
}
