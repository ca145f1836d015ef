// Package provider defines the capability-provider interface consumed by
// the bridge command handlers, plus a workspace-rooted local
// implementation so the shipped binary works end-to-end.
package provider

import "context"

// Provider performs workspace, file, command, and context operations on
// behalf of an authorized request. The bridge core treats it as opaque:
// it only needs success or failure and a serializable result.
type Provider interface {
	Query(ctx context.Context, queryType string, args map[string]any) (any, error)
	FileOp(ctx context.Context, operation, path, content string) (any, error)
	RunNamedCommand(ctx context.Context, name string, args []string) (any, error)
	GetContext(ctx context.Context, contextType string) (any, error)
}
