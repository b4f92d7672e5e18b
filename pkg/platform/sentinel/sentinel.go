package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, caches and collaborators
// return these (optionally wrapped) so services can translate them into
// domain errors or pipeline rejections.
//
//   - ErrNotFound: entity does not exist in store
//   - ErrConflict: unique constraint would be violated
//   - ErrExpired: token or cache entry outlived its validity window
//   - ErrMalformed: input could not be decoded
//   - ErrInvalidState: entity in wrong state for requested operation
//   - ErrUnavailable: backing service could not be reached in time
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrMalformed    = errors.New("malformed")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
