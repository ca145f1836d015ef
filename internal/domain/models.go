// Package domain defines the core data types shared across the automatus
// bridge server, token authority, and store layers.
package domain

import "time"

// Safety phases bound how much capability a session may exercise. Higher
// phases unlock strictly more permissions.
const (
	PhaseMin = 1
	PhaseMax = 4
)

// Permission names embedded in session tokens. Each safety phase grants a
// strict superset of the phase below it.
const (
	PermissionRead            = "read"
	PermissionQuery           = "query"
	PermissionContext         = "context"
	PermissionWriteControlled = "write_controlled"
	PermissionExecuteExpanded = "execute_expanded"
	PermissionAdmin           = "admin"
)

// ClientDescriptor identifies the remote client a token was issued to.
type ClientDescriptor struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
}

// TokenPayload is the decoded content of a validated session token. It is
// stamped onto a connection at authenticate time so subsequent policy
// checks do not re-decode the token.
type TokenPayload struct {
	Subject     string
	SessionID   string
	TokenID     string
	Permissions []string
	SafetyPhase int
	Client      ClientDescriptor
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// HasPermission reports whether the payload's permission set contains name.
func (p TokenPayload) HasPermission(name string) bool {
	for _, perm := range p.Permissions {
		if perm == name {
			return true
		}
	}
	return false
}

// TokenMetadata is the issuance record kept in the active-token index and
// persisted for introspection and mass revocation. The token itself is
// never stored.
type TokenMetadata struct {
	TokenID      string
	Subject      string
	SessionID    string
	Client       ClientDescriptor
	SafetyPhase  int
	Permissions  []string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	LastUsedAt   *time.Time
	RevokedAt    *time.Time
	RevokeReason string
}

// IPBlock records an address barred from authenticating, either by the
// automatic failure threshold or by administrative action.
type IPBlock struct {
	Address   string
	Reason    string
	BlockedAt time.Time
	ExpiresAt time.Time
}

// AuditEntry is an append-only record of a privileged operation.
type AuditEntry struct {
	Operation   string
	Data        map[string]any
	SafetyPhase int
	Timestamp   time.Time
}
