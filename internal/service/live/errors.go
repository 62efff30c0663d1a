package live

import "errors"

// Error taxonomy for control-plane operations. The API layer maps these to
// HTTP statuses; callers must compare with errors.Is because wrapped causes
// ride along.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrUnauthorized    = errors.New("not allowed for this session")
	ErrNotFound        = errors.New("session not found")
	ErrSessionEnded    = errors.New("session has ended")
	ErrInvalidEvent    = errors.New("invalid control event")
	ErrQueueFull       = errors.New("event queue full")
)
