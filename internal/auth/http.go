// ABOUTME: HTTP middleware for bearer-token authentication on the messaging API
// ABOUTME: Extracts the JWT from the Authorization header and adds the agent to context

package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "Not authenticated"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "Invalid authentication credentials"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "Not authenticated"
	}
	return token, ""
}

// WriteDetail writes a {"detail": msg} error body, the shape API clients
// decode into a status error.
func WriteDetail(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": msg})
}

// verifyStatus maps a verification error to a response status and detail.
func verifyStatus(err error) (int, string) {
	if errors.Is(err, ErrExpiredToken) {
		return http.StatusUnauthorized, "Token expired"
	}
	return http.StatusUnauthorized, "Invalid token"
}

// HTTPAuthMiddleware creates an HTTP middleware that validates the bearer
// token and stores its agent in the request context.
func HTTPAuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				WriteDetail(w, http.StatusUnauthorized, errMsg)
				return
			}

			agentID, err := verifier.Verify(token)
			if err != nil {
				status, detail := verifyStatus(err)
				WriteDetail(w, status, detail)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAgent(r.Context(), agentID)))
		})
	}
}

// QueryTokenMiddleware authenticates with the "token" query parameter, for
// event-stream clients that cannot set headers. The token's agent must match
// the "agent_id" query parameter.
func QueryTokenMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			token := q.Get("token")
			if token == "" {
				WriteDetail(w, http.StatusUnauthorized, "Invalid authentication token")
				return
			}

			agentID, err := verifier.Verify(token)
			if err != nil {
				WriteDetail(w, http.StatusUnauthorized, "Invalid authentication token")
				return
			}
			if agentID != q.Get("agent_id") {
				WriteDetail(w, http.StatusForbidden, "Invalid token or agent_id mismatch")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAgent(r.Context(), agentID)))
		})
	}
}

// RequireAgentParam rejects requests whose "agent_id" query parameter does
// not match the authenticated agent. Must be used after HTTPAuthMiddleware.
func RequireAgentParam() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agentID := AgentFromContext(r.Context())
			if agentID == "" {
				WriteDetail(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			if r.URL.Query().Get("agent_id") != agentID {
				WriteDetail(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
