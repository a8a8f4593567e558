package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, the counter store and the
// reasoning client return these (optionally wrapped) so services can translate
// them into domain errors.
//
//   - ErrNotFound: row does not exist (job, user membership, run)
//   - ErrConflict: uniqueness violated (idempotency reservation already held)
//   - ErrUnavailable: backing service unreachable or timed out
//   - ErrMalformed: a collaborator returned data that could not be decoded
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
	ErrMalformed   = errors.New("malformed")
)
