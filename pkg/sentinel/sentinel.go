package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so services can translate them into domain
// errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrAlreadyRevoked: attestation is already in the revoked state
// - ErrExpired: attestation validity window has passed
// - ErrInvalidState: entity in wrong state for requested transition
// - ErrConflict: concurrent transition won the compare-and-set race
// - ErrUnavailable: backend temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domainerrors.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrExpired        = errors.New("expired")
	ErrAlreadyRevoked = errors.New("already revoked")
	ErrInvalidState   = errors.New("invalid state")
	ErrUnavailable    = errors.New("unavailable")
)
