package mesh

import "errors"

// Common errors
var (
	ErrMessageNotFound = errors.New("message not found")
	ErrChunkNotFound   = errors.New("chunk not found")
	ErrInvalidName     = errors.New("invalid mailbox or message name")
)

// Authentication errors. Each maps to an auth_failures_total reason.
var (
	ErrAuthMissing   = errors.New("missing authorization header")
	ErrAuthMalformed = errors.New("malformed authorization header")
	ErrAuthMismatch  = errors.New("authorization does not match")
	ErrAuthReplay    = errors.New("nonce already used")
)

// authReason returns the metrics label for an authentication error.
func authReason(err error) string {
	switch {
	case errors.Is(err, ErrAuthMissing):
		return "missing"
	case errors.Is(err, ErrAuthMalformed):
		return "malformed"
	case errors.Is(err, ErrAuthReplay):
		return "replay"
	default:
		return "mismatch"
	}
}
