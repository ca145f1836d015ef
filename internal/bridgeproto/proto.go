// Package bridgeproto defines the JSON wire protocol exchanged between the
// automatus bridge server and remote clients over a WebSocket connection.
package bridgeproto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luCUBEratur/automatus/internal/domain"
)

// Command kinds identify the type of payload carried by an [Envelope].
const (
	KindAuthRequest      = "auth_request"
	KindWorkspaceQuery   = "workspace_query"
	KindFileOperation    = "file_operation"
	KindCommandExecution = "command_execution"
	KindContextRequest   = "context_request"
	KindPing             = "ping"
)

// KnownKind reports whether kind names a command kind the protocol
// defines.
func KnownKind(kind string) bool {
	switch kind {
	case KindAuthRequest, KindWorkspaceQuery, KindFileOperation,
		KindCommandExecution, KindContextRequest, KindPing:
		return true
	}
	return false
}

// TypeAuthChallenge is the server-initiated frame sent on connect.
const TypeAuthChallenge = "auth_challenge"

// Stable wire error codes. Clients match on these, never on messages.
const (
	CodeUnknownCommand         = "UNKNOWN_COMMAND"
	CodeCircuitBreakerOpen     = "CIRCUIT_BREAKER_OPEN"
	CodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	CodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	CodeInvalidToken           = "INVALID_TOKEN"
	CodeTokenExpired           = "TOKEN_EXPIRED"
	CodeTokenRevoked           = "TOKEN_REVOKED"
	CodeAddressBlocked         = "ADDRESS_BLOCKED"
	CodeTooManyAttempts        = "TOO_MANY_ATTEMPTS"
	CodeSafetyPhaseMismatch    = "SAFETY_PHASE_MISMATCH"
	CodeAuthorizationDenied    = "AUTHORIZATION_DENIED"
	CodeInvalidFormat          = "INVALID_MESSAGE_FORMAT"
	CodeExecutionFailed        = "EXECUTION_FAILED"
)

// Envelope is the top-level frame sent by clients. Exactly one command kind
// is active per envelope; Payload's shape is fully determined by Type.
type Envelope struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Timestamp        int64           `json:"timestamp,omitempty"`
	RequiresApproval bool            `json:"requiresApproval,omitempty"`
}

// Command is implemented by each envelope payload variant.
type Command interface {
	CommandKind() string
}

// AuthRequest presents a session token for connection authentication.
type AuthRequest struct {
	Token string `json:"token"`
}

// WorkspaceQuery asks the capability provider a read-only question about
// the workspace.
type WorkspaceQuery struct {
	QueryType string         `json:"queryType"`
	Args      map[string]any `json:"args,omitempty"`
}

// FileOperation requests a file action through the capability provider.
type FileOperation struct {
	Operation string `json:"operation"`
	Path      string `json:"path"`
	Content   string `json:"content,omitempty"`
}

// CommandExecution runs a named editor command at a requested safety level.
type CommandExecution struct {
	CommandName string   `json:"commandName"`
	Args        []string `json:"args,omitempty"`
	SafetyLevel string   `json:"safetyLevel"`
}

// ContextRequest asks for a snapshot of editor context.
type ContextRequest struct {
	ContextType string `json:"contextType"`
}

// Ping is the client heartbeat. It carries no payload.
type Ping struct{}

func (AuthRequest) CommandKind() string      { return KindAuthRequest }
func (WorkspaceQuery) CommandKind() string   { return KindWorkspaceQuery }
func (FileOperation) CommandKind() string    { return KindFileOperation }
func (CommandExecution) CommandKind() string { return KindCommandExecution }
func (ContextRequest) CommandKind() string   { return KindContextRequest }
func (Ping) CommandKind() string             { return KindPing }

// Command decodes the envelope payload into its kind-specific variant.
// Unknown kinds return [domain.ErrUnknownCommand]; payloads carrying fields
// from another kind are rejected.
func (e *Envelope) Command() (Command, error) {
	switch e.Type {
	case KindAuthRequest:
		var c AuthRequest
		if err := decodePayload(e.Payload, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindWorkspaceQuery:
		var c WorkspaceQuery
		if err := decodePayload(e.Payload, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindFileOperation:
		var c FileOperation
		if err := decodePayload(e.Payload, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindCommandExecution:
		var c CommandExecution
		if err := decodePayload(e.Payload, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindContextRequest:
		var c ContextRequest
		if err := decodePayload(e.Payload, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindPing:
		return Ping{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCommand, e.Type)
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// AuthChallenge is sent by the server immediately after a connection is
// accepted, before any client frame.
type AuthChallenge struct {
	Type         string   `json:"type"`
	ConnectionID string   `json:"connectionId"`
	AuthMethods  []string `json:"authMethods"`
}

// NewAuthChallenge builds the challenge frame for a connection.
func NewAuthChallenge(connectionID string) AuthChallenge {
	return AuthChallenge{
		Type:         TypeAuthChallenge,
		ConnectionID: connectionID,
		AuthMethods:  []string{"token"},
	}
}

// ErrorDetail is the structured error carried by failed responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response correlates 1:1 with a request envelope by ID and carries either
// a success payload or a structured error.
type Response struct {
	ID        string       `json:"id"`
	Success   bool         `json:"success"`
	Data      any          `json:"data,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// OK builds a success response correlated to id.
func OK(id string, data any) Response {
	return Response{
		ID:        id,
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Fail builds an error response correlated to id.
func Fail(id, code, message string) Response {
	return Response{
		ID:        id,
		Success:   false,
		Error:     &ErrorDetail{Code: code, Message: message},
		Timestamp: time.Now().UnixMilli(),
	}
}

// FailErr builds an error response from err, resolving its wire code.
func FailErr(id string, err error) Response {
	return Fail(id, CodeForError(err), err.Error())
}

// CodeForError resolves the stable wire code for err. Typed
// [domain.BridgeError] values carry their own code; sentinel errors map to
// their protocol codes; anything else is an execution failure.
func CodeForError(err error) string {
	var be *domain.BridgeError
	if errors.As(err, &be) {
		return be.Code
	}
	switch {
	case errors.Is(err, domain.ErrUnknownCommand):
		return CodeUnknownCommand
	case errors.Is(err, domain.ErrBreakerOpen):
		return CodeCircuitBreakerOpen
	case errors.Is(err, domain.ErrRateLimitExceeded):
		return CodeRateLimitExceeded
	case errors.Is(err, domain.ErrAuthenticationRequired):
		return CodeAuthenticationRequired
	case errors.Is(err, domain.ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, domain.ErrTokenRevoked):
		return CodeTokenRevoked
	case errors.Is(err, domain.ErrAddressBlocked):
		return CodeAddressBlocked
	case errors.Is(err, domain.ErrTooManyAttempts):
		return CodeTooManyAttempts
	case errors.Is(err, domain.ErrPhaseMismatch):
		return CodeSafetyPhaseMismatch
	case errors.Is(err, domain.ErrTokenInvalid):
		return CodeInvalidToken
	default:
		return CodeExecutionFailed
	}
}
