package transform

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"attestor/internal/domain"
	"attestor/internal/events"
	"attestor/internal/platform/metrics"
	dErrors "attestor/pkg/domainerrors"
)

// TransformRequest carries one payload and the caller's context.
type TransformRequest struct {
	Data    map[string]any        `json:"data"`
	Context domain.RequestContext `json:"context"`
}

// Summary reports what a transform pass changed.
type Summary struct {
	FieldsTransformed         int      `json:"fieldsTransformed"`
	ReversibleTransformations int      `json:"reversibleTransformations"`
	RulesApplied              []string `json:"rulesApplied,omitempty"`
}

// AuditRecord is the compliance trail attached to every transform result.
type AuditRecord struct {
	OperationID          string                       `json:"operationId"`
	ComplianceFrameworks []domain.ComplianceFramework `json:"complianceFrameworks,omitempty"`
	Timestamp            time.Time                    `json:"timestamp"`
}

// TransformResult is the outcome of a single transform pass.
type TransformResult struct {
	OperationID     string         `json:"operationId"`
	TransformedData map[string]any `json:"transformedData"`
	Summary         Summary        `json:"summary"`
	Audit           AuditRecord    `json:"audit"`
}

// Engine applies the loaded rule set to payloads. The rule set is replaced
// wholesale under a lock on mutation; transforms read a snapshot, so a
// mutation never affects a pass already in flight.
type Engine struct {
	mu    sync.RWMutex
	rules []Rule // sorted by descending priority

	keys    *KeyRing
	vault   TokenVault
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *slog.Logger

	// reverseRoles may call ReverseTransform.
	reverseRoles map[string]bool

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventBus makes the engine emit a TRANSFORM_APPLIED event per pass.
func WithEventBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithReverseRoles sets which actor roles may reverse transformations.
func WithReverseRoles(roles ...string) Option {
	return func(e *Engine) {
		e.reverseRoles = make(map[string]bool, len(roles))
		for _, r := range roles {
			e.reverseRoles[r] = true
		}
	}
}

func NewEngine(keys *KeyRing, vault TokenVault, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		keys:         keys,
		vault:        vault,
		metrics:      m,
		logger:       logger,
		reverseRoles: map[string]bool{"compliance_officer": true},
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddRule validates and installs a rule, replacing any rule with the same id.
// Takes effect for passes starting after the call.
func (e *Engine) AddRule(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	next := make([]Rule, 0, len(e.rules)+1)
	for _, r := range e.rules {
		if r.ID != rule.ID {
			next = append(next, r)
		}
	}
	next = append(next, rule)
	sort.SliceStable(next, func(i, j int) bool { return next[i].Priority > next[j].Priority })
	e.rules = next
	return nil
}

// RemoveRule uninstalls a rule by id.
func (e *Engine) RemoveRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.rules[:0:0]
	for _, r := range e.rules {
		if r.ID != id {
			next = append(next, r)
		}
	}
	e.rules = next
}

// Rules returns a copy of the installed rule set in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

func (e *Engine) activeRules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	active := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Enabled {
			active = append(active, r)
		}
	}
	return active
}

// Transform applies the active rule set to one payload. The input is never
// mutated. Any per-field hard error (unknown key, vault failure) fails the
// whole call.
func (e *Engine) Transform(ctx context.Context, req TransformRequest) (*TransformResult, error) {
	if req.Data == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "data payload is required")
	}
	started := e.now()
	pass := &transformPass{
		engine:  e,
		rules:   e.activeRules(),
		reqCtx:  req.Context,
		applied: make(map[string]bool),
	}

	out, err := pass.walkMap(ctx, nil, req.Data)
	if err != nil {
		return nil, err
	}

	operationID := "txf-" + uuid.NewString()
	result := &TransformResult{
		OperationID:     operationID,
		TransformedData: out,
		Summary:         pass.summary,
		Audit: AuditRecord{
			OperationID:          operationID,
			ComplianceFrameworks: req.Context.ComplianceFrameworks,
			Timestamp:            started,
		},
	}

	e.metrics.TransformDuration.Observe(e.now().Sub(started).Seconds())
	if e.bus != nil && pass.summary.FieldsTransformed > 0 {
		e.bus.Publish(events.Event{
			Type:      domain.EventTransformApplied,
			Actor:     req.Context.ActorID,
			Operation: "transform",
			Result:    domain.ResultSuccess,
			Details: map[string]any{
				"operationId":       operationID,
				"fieldsTransformed": pass.summary.FieldsTransformed,
				"rulesApplied":      pass.summary.RulesApplied,
			},
			ComplianceFrameworks: req.Context.ComplianceFrameworks,
		})
	}
	return result, nil
}

// transformPass carries the per-call state of one walk.
type transformPass struct {
	engine  *Engine
	rules   []Rule
	reqCtx  domain.RequestContext
	summary Summary
	applied map[string]bool // rule ids already counted in RulesApplied
}

// walkMap returns a transformed copy of m. Fields removed by a rule are
// absent from the copy.
func (p *transformPass) walkMap(ctx context.Context, path []string, m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for key, value := range m {
		fieldPath := make([]string, len(path)+1)
		copy(fieldPath, path)
		fieldPath[len(path)] = key
		transformed, dropped, err := p.walkValue(ctx, fieldPath, value)
		if err != nil {
			return nil, err
		}
		if !dropped {
			out[key] = transformed
		}
	}
	return out, nil
}

func (p *transformPass) walkValue(ctx context.Context, path []string, value any) (any, bool, error) {
	// Rules are pre-sorted by descending priority, so the first match wins
	// and the field is not reconsidered by lower-priority rules.
	for _, rule := range p.rules {
		if !rule.matches(path, value, p.reqCtx) {
			continue
		}
		out, dropped, err := p.engine.applyTransform(ctx, rule.Spec, value)
		if err != nil {
			return nil, false, fmt.Errorf("field %s: %w", JoinPath(path), err)
		}
		p.record(rule)
		p.engine.metrics.TransformsApplied.WithLabelValues(string(rule.Spec.Type)).Inc()
		return out, dropped, nil
	}

	// No rule matched this path directly; recurse into containers.
	switch v := value.(type) {
	case map[string]any:
		out, err := p.walkMap(ctx, path, v)
		return out, false, err
	case []any:
		out := make([]any, 0, len(v))
		for _, elem := range v {
			transformed, dropped, err := p.walkValue(ctx, path, elem)
			if err != nil {
				return nil, false, err
			}
			if !dropped {
				out = append(out, transformed)
			}
		}
		return out, false, nil
	default:
		return value, false, nil
	}
}

func (p *transformPass) record(rule Rule) {
	p.summary.FieldsTransformed++
	if rule.Spec.Reversible {
		p.summary.ReversibleTransformations++
	}
	if !p.applied[rule.ID] {
		p.applied[rule.ID] = true
		p.summary.RulesApplied = append(p.summary.RulesApplied, rule.ID)
	}
}
