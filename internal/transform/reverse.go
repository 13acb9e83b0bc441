package transform

import (
	"context"
	"fmt"

	"attestor/internal/domain"
	dErrors "attestor/pkg/domainerrors"
)

// ReverseRequest asks for recovery of reversible transformations (tokens and
// ciphertext) in a payload. Irreversible values (hashes, masks, redactions)
// are passed through untouched.
type ReverseRequest struct {
	Data    map[string]any        `json:"data"`
	Context domain.RequestContext `json:"context"`
}

// ReverseResult carries the recovered payload.
type ReverseResult struct {
	Data           map[string]any `json:"data"`
	FieldsReversed int            `json:"fieldsReversed"`
}

// ReverseTransform recovers tokenized and encrypted values. Only actors
// holding an authorised reverse role may call it; everything else is a
// governance error.
func (e *Engine) ReverseTransform(ctx context.Context, req ReverseRequest) (*ReverseResult, error) {
	if req.Data == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "data payload is required")
	}
	authorised := false
	for _, role := range req.Context.Roles {
		if e.reverseRoles[role] {
			authorised = true
			break
		}
	}
	if !authorised {
		return nil, dErrors.New(dErrors.CodeGovernance, "actor is not authorised to reverse transformations")
	}

	reversed := 0
	out, err := e.reverseValue(ctx, req.Data, &reversed)
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "transformations reversed",
		"actorId", req.Context.ActorID,
		"fieldsReversed", reversed,
	)
	return &ReverseResult{Data: out.(map[string]any), FieldsReversed: reversed}, nil
}

func (e *Engine) reverseValue(ctx context.Context, value any, reversed *int) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, elem := range v {
			r, err := e.reverseValue(ctx, elem, reversed)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", key, err)
			}
			out[key] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			r, err := e.reverseValue(ctx, elem, reversed)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case string:
		switch {
		case IsToken(v):
			original, err := e.vault.Lookup(ctx, v)
			if err != nil {
				return nil, dErrors.New(dErrors.CodeTransformation, err.Error())
			}
			*reversed++
			return original, nil
		case IsCiphertext(v):
			original, err := e.keys.Decrypt(v)
			if err != nil {
				return nil, err
			}
			*reversed++
			return original, nil
		default:
			return v, nil
		}
	default:
		return value, nil
	}
}
