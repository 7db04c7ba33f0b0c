package protocol

// Error codes produced by the gateway itself. Device failures carry the
// manager's codes (CONNECT_FAILED, PERMISSION_ERROR, ...) unchanged.
const (
	ErrInvalidRequest  = "INVALID_REQUEST"
	ErrInvalidArgument = "INVALID_ARGUMENT"
	ErrNotImplemented  = "NOT_IMPLEMENTED"
	ErrRateLimited     = "RATE_LIMITED"
	ErrInternal        = "INTERNAL"
)
