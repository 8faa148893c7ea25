package legion

import "errors"

// Error taxonomy. All of these are expected, recoverable conditions returned
// to the caller; none of them abort the orchestrator.
var (
	ErrValidation = errors.New("validation failed")
	ErrCapacity   = errors.New("legion at capacity")
	ErrPermission = errors.New("permission denied")
	ErrNotFound   = errors.New("not found")
	ErrRouting    = errors.New("routing failed")
)
