package access

import "errors"

// Sentinel errors for the access subsystem. Handlers map these to distinct
// response codes; none are retried automatically since they are
// authorization decisions, not transient failures.
var (
	ErrNotFound  = errors.New("access: not found")
	ErrForbidden = errors.New("access: forbidden")
	ErrConflict  = errors.New("access: conflict")
)
