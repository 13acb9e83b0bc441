package domain

import "time"

// ConsentLevel orders how much processing the data subject has agreed to.
type ConsentLevel string

const (
	ConsentNone     ConsentLevel = "none"
	ConsentBasic    ConsentLevel = "basic"
	ConsentExtended ConsentLevel = "extended"
	ConsentFull     ConsentLevel = "full"
)

// SovereigntyLevel classifies who holds governance authority over the data
// subject's information.
type SovereigntyLevel string

const (
	SovereigntyIndividual       SovereigntyLevel = "individual"
	SovereigntyCommunity        SovereigntyLevel = "community"
	SovereigntyTraditionalOwner SovereigntyLevel = "traditional_owner"
	SovereigntyGovernment       SovereigntyLevel = "government"
)

// RequestContext is supplied by the caller on every governed operation. It is
// never stored as global state; both the lifecycle manager and the
// transformation engine condition their behaviour on it.
type RequestContext struct {
	ActorID              string                `json:"actorId"`
	Roles                []string              `json:"roles,omitempty"`
	ConsentLevel         ConsentLevel          `json:"consentLevel,omitempty"`
	SovereigntyLevel     SovereigntyLevel      `json:"sovereigntyLevel,omitempty"`
	Purpose              string                `json:"purpose,omitempty"`
	ComplianceFrameworks []ComplianceFramework `json:"complianceFrameworks,omitempty"`
	Location             string                `json:"location,omitempty"`
	RequestedAt          time.Time             `json:"requestedAt,omitempty"`
}

// HasRole reports whether the actor carries the given role.
func (c RequestContext) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasFramework reports whether the request is subject to the given regime.
func (c RequestContext) HasFramework(f ComplianceFramework) bool {
	for _, have := range c.ComplianceFrameworks {
		if have == f {
			return true
		}
	}
	return false
}

// Time returns the caller-supplied request time, falling back to now. Tests
// inject fixed times through RequestedAt.
func (c RequestContext) Time() time.Time {
	if !c.RequestedAt.IsZero() {
		return c.RequestedAt
	}
	return time.Now().UTC()
}
