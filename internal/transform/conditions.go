package transform

import (
	"errors"
	"fmt"

	"attestor/internal/domain"
)

// ConditionKind names what part of the request context (or the field value
// itself) a condition inspects.
type ConditionKind string

const (
	// ConditionRole passes when the actor holds any of the listed roles.
	ConditionRole ConditionKind = "role"
	// ConditionConsent passes when the context consent level is one of the
	// listed levels.
	ConditionConsent ConditionKind = "consent_level"
	// ConditionSovereignty passes when the context sovereignty level equals
	// the configured level.
	ConditionSovereignty ConditionKind = "sovereignty_level"
	// ConditionFramework passes when the request is subject to the framework.
	ConditionFramework ConditionKind = "compliance_framework"
	// ConditionFieldValue compares the matched field's literal value.
	ConditionFieldValue ConditionKind = "field_value"
)

// Condition is one predicate on a rule. Negate inverts the outcome, so
// "actor does NOT hold the clinician role" is expressible without a parallel
// operator set.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	Roles         []string                   `json:"roles,omitempty"`
	ConsentLevels []domain.ConsentLevel      `json:"consentLevels,omitempty"`
	Sovereignty   domain.SovereigntyLevel    `json:"sovereignty,omitempty"`
	Framework     domain.ComplianceFramework `json:"framework,omitempty"`
	Equals        any                        `json:"equals,omitempty"`

	Negate bool `json:"negate,omitempty"`
}

// Validate reports structural problems with a condition.
func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionRole:
		if len(c.Roles) == 0 {
			return errors.New("role condition needs at least one role")
		}
	case ConditionConsent:
		if len(c.ConsentLevels) == 0 {
			return errors.New("consent condition needs at least one level")
		}
	case ConditionSovereignty:
		if c.Sovereignty == "" {
			return errors.New("sovereignty condition needs a level")
		}
	case ConditionFramework:
		if c.Framework == "" {
			return errors.New("framework condition needs a framework")
		}
	case ConditionFieldValue:
		if c.Equals == nil {
			return errors.New("field value condition needs a comparison value")
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

// Evaluate applies the condition against the request context and the matched
// field value.
func (c Condition) Evaluate(ctx domain.RequestContext, value any) bool {
	var ok bool
	switch c.Kind {
	case ConditionRole:
		for _, r := range c.Roles {
			if ctx.HasRole(r) {
				ok = true
				break
			}
		}
	case ConditionConsent:
		for _, level := range c.ConsentLevels {
			if ctx.ConsentLevel == level {
				ok = true
				break
			}
		}
	case ConditionSovereignty:
		ok = ctx.SovereigntyLevel == c.Sovereignty
	case ConditionFramework:
		ok = ctx.HasFramework(c.Framework)
	case ConditionFieldValue:
		ok = literalEqual(value, c.Equals)
	}
	if c.Negate {
		return !ok
	}
	return ok
}

// literalEqual compares scalar values across the numeric representations JSON
// decoding produces.
func literalEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
