package transform

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"attestor/internal/domain"
	dErrors "attestor/pkg/domainerrors"
)

// BatchStatus is the aggregate outcome of a batch.
type BatchStatus string

const (
	BatchSuccess BatchStatus = "success"
	BatchPartial BatchStatus = "partial"
	BatchFailed  BatchStatus = "failed"
)

// BatchItem is one payload in a batch.
type BatchItem struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

// BatchOptions tunes batch execution.
type BatchOptions struct {
	Parallel        bool          `json:"parallel"`
	MaxConcurrency  int           `json:"maxConcurrency,omitempty"`
	ContinueOnError bool          `json:"continueOnError,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty"` // per item
}

// BatchTransformRequest applies the rule set to several payloads under one
// shared context.
type BatchTransformRequest struct {
	RequestID string                `json:"requestId"`
	Items     []BatchItem           `json:"items"`
	Context   domain.RequestContext `json:"context"`
	Options   BatchOptions          `json:"options"`
}

// BatchItemResult reports one item's outcome independent of the aggregate.
type BatchItemResult struct {
	ID      string           `json:"id"`
	Success bool             `json:"success"`
	Result  *TransformResult `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// BatchSummary counts outcomes across the batch.
type BatchSummary struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BatchTransformResult is the aggregate outcome.
type BatchTransformResult struct {
	RequestID string            `json:"requestId"`
	Status    BatchStatus       `json:"status"`
	Results   []BatchItemResult `json:"results"`
	Summary   BatchSummary      `json:"summary"`
}

// BatchTransform processes the items against the shared context. With
// continueOnError set, item failures are isolated and the aggregate becomes
// partial; without it, the first failure cancels outstanding items and fails
// the batch.
func (e *Engine) BatchTransform(ctx context.Context, req BatchTransformRequest) (*BatchTransformResult, error) {
	if len(req.Items) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "batch items must not be empty")
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = "bat-" + uuid.NewString()
	}

	results := make([]BatchItemResult, len(req.Items))
	ran := make([]bool, len(req.Items))

	g, groupCtx := errgroup.WithContext(ctx)
	limit := 1
	if req.Options.Parallel {
		limit = req.Options.MaxConcurrency
		if limit <= 0 {
			limit = len(req.Items)
		}
	}
	g.SetLimit(limit)

	for i, item := range req.Items {
		i, item := i, item
		g.Go(func() error {
			results[i] = e.transformItem(groupCtx, item, req.Context, req.Options.Timeout)
			ran[i] = true
			if !results[i].Success && !req.Options.ContinueOnError {
				return dErrors.New(dErrors.CodeTransformation, results[i].Error)
			}
			return nil
		})
	}
	batchErr := g.Wait()

	summary := BatchSummary{}
	for i := range results {
		if !ran[i] {
			// Cancelled by an earlier failure before it could run.
			results[i] = BatchItemResult{ID: req.Items[i].ID, Success: false, Error: "cancelled"}
		}
		if results[i].Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}

	status := BatchSuccess
	switch {
	case batchErr != nil:
		status = BatchFailed
	case summary.Failed > 0:
		status = BatchPartial
	}

	return &BatchTransformResult{
		RequestID: requestID,
		Status:    status,
		Results:   results,
		Summary:   summary,
	}, nil
}

func (e *Engine) transformItem(ctx context.Context, item BatchItem, reqCtx domain.RequestContext, timeout time.Duration) BatchItemResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return BatchItemResult{ID: item.ID, Success: false, Error: err.Error()}
	}
	result, err := e.Transform(ctx, TransformRequest{Data: item.Data, Context: reqCtx})
	if err != nil {
		return BatchItemResult{ID: item.ID, Success: false, Error: err.Error()}
	}
	return BatchItemResult{ID: item.ID, Success: true, Result: result}
}
