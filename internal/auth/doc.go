// Package auth handles agent bearer tokens.
//
// # Tokens
//
// Tokens are HS256 JWTs with an agent_id claim and an exp claim. The server
// side issues and verifies them:
//
//	v := auth.NewJWTVerifier(secret)
//	token, err := v.Generate("agent-a", auth.DefaultTokenTTL)
//	agentID, err := v.Verify(token)
//
// Clients never hold the secret. They treat tokens as opaque credentials but
// may Inspect the claims to catch an expired token or a token minted for a
// different agent before opening a stream:
//
//	claims, err := auth.CheckToken(token, "agent-a", time.Now())
//
// # HTTP
//
// HTTPAuthMiddleware reads the Authorization header; QueryTokenMiddleware
// reads the token query parameter used by event-stream connections.
// Failures are written as {"detail": "..."} bodies.
//
// # Token file
//
// CLI clients persist the token at ~/.config/agentcomm/token (respecting
// XDG_CONFIG_HOME). AGENTCOMM_TOKEN takes precedence.
package auth
