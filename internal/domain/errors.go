package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries. Callers should use [errors.Is] to match these.
var (
	// ErrAddressBlocked indicates the source address is on the blocklist.
	ErrAddressBlocked = errors.New("address blocked")

	// ErrTooManyAttempts is returned when an address exceeds its
	// authentication-attempt rate limit.
	ErrTooManyAttempts = errors.New("too many authentication attempts")

	// ErrTokenInvalid covers malformed tokens and signature failures.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrTokenExpired means the token's validity window has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked means the token is in the revoked set.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrPhaseMismatch means the token's embedded safety phase exceeds the
	// current live safety phase.
	ErrPhaseMismatch = errors.New("safety phase mismatch")

	// ErrAuthenticationRequired is returned for non-auth frames on an
	// unauthenticated connection.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrRateLimitExceeded is returned when a connection exceeds its
	// message-rate limit.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrBreakerOpen means a circuit breaker for the command is open.
	ErrBreakerOpen = errors.New("circuit breaker open")

	// ErrUnknownCommand means the command kind or sub-operation is not
	// recognized.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrConnectionNotFound means the connection id is not registered.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrAlreadyRunning is reported when Start is called on a running
	// bridge service.
	ErrAlreadyRunning = errors.New("bridge already running")
)

// BridgeError carries a stable wire error code alongside a human-readable
// message. Handlers return it when a failure must surface a specific code
// to the remote client.
type BridgeError struct {
	Code    string
	Message string
	Err     error
}

func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// NewBridgeError builds a [BridgeError] with a formatted message.
func NewBridgeError(code, format string, args ...any) *BridgeError {
	return &BridgeError{Code: code, Message: fmt.Sprintf(format, args...)}
}
