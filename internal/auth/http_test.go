// ABOUTME: Tests for the bearer-token and query-token HTTP middleware
// ABOUTME: Verifies detail error bodies, status codes, and agent propagation via context

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func echoAgent() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(AgentFromContext(r.Context())))
	})
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding detail body %q: %v", rec.Body.String(), err)
	}
	return body.Detail
}

func TestHTTPAuthMiddleware(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	valid, _ := verifier.Generate("agent-a", time.Hour)
	expired, _ := verifier.Generate("agent-a", -time.Hour)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
		wantDetail string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, "agent-a", ""},
		{"missing header", "", http.StatusUnauthorized, "", "Not authenticated"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "", "Invalid authentication credentials"},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, "", "Not authenticated"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "", "Token expired"},
		{"garbage", "Bearer nope", http.StatusUnauthorized, "", "Invalid token"},
	}

	handler := HTTPAuthMiddleware(verifier)(echoAgent())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/agents", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantDetail != "" {
				if got := decodeDetail(t, rec); got != tt.wantDetail {
					t.Errorf("detail = %q, want %q", got, tt.wantDetail)
				}
				return
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestQueryTokenMiddleware(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	token, _ := verifier.Generate("agent-a", time.Hour)
	handler := QueryTokenMiddleware(verifier)(echoAgent())

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{"valid", "?agent_id=agent-a&token=" + token, http.StatusOK},
		{"missing token", "?agent_id=agent-a", http.StatusUnauthorized},
		{"bad token", "?agent_id=agent-a&token=nope", http.StatusUnauthorized},
		{"agent mismatch", "?agent_id=agent-b&token=" + token, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/stream"+tt.query, nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequireAgentParam(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	token, _ := verifier.Generate("agent-a", time.Hour)
	handler := HTTPAuthMiddleware(verifier)(RequireAgentParam()(echoAgent()))

	for query, want := range map[string]int{
		"?agent_id=agent-a": http.StatusOK,
		"?agent_id=agent-b": http.StatusForbidden,
		"":                  http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/agents"+query, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("%q: status = %d, want %d", query, rec.Code, want)
		}
	}
}

func TestRequireAgentParam_Unauthenticated(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireAgentParam()(echoAgent()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agents?agent_id=a", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
