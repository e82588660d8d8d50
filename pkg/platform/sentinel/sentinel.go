package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally wrapped)
// so services can translate them into domain errors:
//   - ErrNotFound: record does not exist in the store
//   - ErrConflict: compare-and-swap lost against a newer version, or id already taken
//   - ErrInvalidState: record is in the wrong state for the requested operation
//   - ErrUnavailable: backing service temporarily unavailable
//   - ErrTampered: stored data failed an integrity check
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrTampered     = errors.New("tampered")
)
