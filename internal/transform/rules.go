// Package transform applies prioritised, conditional field-transformation
// rules to structured payloads crossing a trust boundary. The engine holds no
// mutable state across calls beyond its rule set; rule mutation takes effect
// for calls starting after the change.
package transform

import (
	"fmt"
	"strings"

	"attestor/internal/domain"
	dErrors "attestor/pkg/domainerrors"
)

// Type enumerates the supported field transformations.
type Type string

const (
	TypeRedact     Type = "redact"
	TypeMask       Type = "mask"
	TypeHash       Type = "hash"
	TypeEncrypt    Type = "encrypt"
	TypeTokenize   Type = "tokenize"
	TypeGeneralize Type = "generalize"
	TypeRemove     Type = "remove"
)

// Spec describes the operation a rule applies to a matched field.
type Spec struct {
	Type       Type           `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`

	Reversible     bool `json:"reversible,omitempty"`
	Deterministic  bool `json:"deterministic,omitempty"`
	PreserveFormat bool `json:"preserveFormat,omitempty"`
}

// Justification records why a rule exists, for audit output.
type Justification struct {
	Frameworks []domain.ComplianceFramework `json:"frameworks,omitempty"`
	Reason     string                       `json:"reason,omitempty"`
}

// Rule is one declarative transformation instruction. Higher priority wins
// when several rules match the same field.
type Rule struct {
	ID            string        `json:"id"`
	Name          string        `json:"name,omitempty"`
	Priority      int           `json:"priority"`
	Enabled       bool          `json:"enabled"`
	FieldPatterns []string      `json:"fieldPatterns"`
	Conditions    []Condition   `json:"conditions,omitempty"`
	Spec          Spec          `json:"spec"`
	Justification Justification `json:"justification,omitempty"`
}

// Validate reports the first structural problem with a rule.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return dErrors.NewField(dErrors.CodeTransformation, "id", "rule id is required")
	}
	if len(r.FieldPatterns) == 0 {
		return dErrors.NewField(dErrors.CodeTransformation, "fieldPatterns", "at least one field pattern is required")
	}
	for _, p := range r.FieldPatterns {
		if strings.TrimSpace(p) == "" {
			return dErrors.NewField(dErrors.CodeTransformation, "fieldPatterns", "field pattern must not be blank")
		}
	}
	switch r.Spec.Type {
	case TypeRedact, TypeMask, TypeHash, TypeEncrypt, TypeTokenize, TypeGeneralize, TypeRemove:
	default:
		return dErrors.NewField(dErrors.CodeTransformation, "spec.type",
			fmt.Sprintf("unknown transformation type %q", r.Spec.Type))
	}
	if r.Spec.Type == TypeEncrypt {
		if _, ok := r.Spec.Parameters["keyName"].(string); !ok {
			return dErrors.NewField(dErrors.CodeTransformation, "spec.parameters.keyName",
				"encrypt rules must name a key")
		}
	}
	for i, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return dErrors.NewField(dErrors.CodeTransformation,
				fmt.Sprintf("conditions[%d]", i), err.Error())
		}
	}
	return nil
}

// matches reports whether the rule applies to a field at the given path with
// the given value, under the supplied context.
func (r *Rule) matches(path []string, value any, ctx domain.RequestContext) bool {
	matched := false
	for _, pattern := range r.FieldPatterns {
		if MatchPath(pattern, path) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, c := range r.Conditions {
		if !c.Evaluate(ctx, value) {
			return false
		}
	}
	return true
}

// paramString reads a string parameter with a default.
func (s Spec) paramString(name, fallback string) string {
	if v, ok := s.Parameters[name].(string); ok && v != "" {
		return v
	}
	return fallback
}

// paramInt reads an integer parameter with a default. JSON decoding yields
// float64, so both are accepted.
func (s Spec) paramInt(name string, fallback int) int {
	switch v := s.Parameters[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
