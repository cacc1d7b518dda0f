// ABOUTME: Authenticated agent identity carried through request handlers
// ABOUTME: Provides WithAgent/AgentFromContext for propagating the token's agent via context

package auth

import (
	"context"
)

// agentContextKey is the key type for storing the agent ID in context.Context.
type agentContextKey struct{}

// WithAgent returns a new context carrying the authenticated agent ID.
func WithAgent(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentContextKey{}, agentID)
}

// AgentFromContext returns the authenticated agent ID, or "" if absent.
func AgentFromContext(ctx context.Context) string {
	id, _ := ctx.Value(agentContextKey{}).(string)
	return id
}
