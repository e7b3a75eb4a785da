package engagement

import "errors"

var (
	ErrRateLimited     = errors.New("too many engagement submissions, slow down")
	ErrInvalidDetail   = errors.New("detail must be a JSON object")
	ErrPersistFailed   = errors.New("failed to persist observation")
	ErrMissingIdentity = errors.New("caller identity is required")
)
