// ABOUTME: HTTP API handlers for agent messaging: tokens, send, peers, history, and inbox
// ABOUTME: Errors use {"detail": ...} bodies; history endpoints emit naive UTC timestamps

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agentcomm/internal/auth"
	"github.com/2389/agentcomm/internal/message"
	"github.com/2389/agentcomm/internal/store"
)

// Timestamp layouts on the wire. Send responses and stream frames carry an
// offset; history and inbox rows are naive UTC.
const (
	zonedLayout = "2006-01-02T15:04:05.999999-07:00"
	naiveLayout = "2006-01-02T15:04:05.999999"
)

// TokenRequest is the JSON request body for POST /token.
type TokenRequest struct {
	AgentID string `json:"agent_id"`
}

// TokenResponse is the JSON response body for POST /token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// SendRequest is the JSON request body for POST /messages/send.
type SendRequest struct {
	SenderID      string  `json:"sender_id"`
	RecipientID   *string `json:"recipient_id"`
	MessageType   int     `json:"message_type"`
	Payload       *string `json:"payload"`
	CorrelationID *string `json:"correlation_id"`
}

// SendResponse is the JSON response body for POST /messages/send.
type SendResponse struct {
	Status      string  `json:"status"`
	MessageID   string  `json:"message_id"`
	Timestamp   string  `json:"timestamp"`
	SenderID    string  `json:"sender_id"`
	RecipientID *string `json:"recipient_id"`
}

// MessageResponse is one message row as returned by the read endpoints.
type MessageResponse struct {
	MessageID     string  `json:"message_id"`
	SenderID      string  `json:"sender_id"`
	RecipientID   *string `json:"recipient_id"`
	MessageType   int     `json:"message_type"`
	Payload       *string `json:"payload"`
	Timestamp     string  `json:"timestamp"`
	CorrelationID *string `json:"correlation_id"`
}

// AgentResponse is one row of GET /agents.
type AgentResponse struct {
	AgentID         string `json:"agent_id"`
	LastMessageTime string `json:"last_message_time"`
}

func newMessageResponse(m message.Message, layout string) MessageResponse {
	return MessageResponse{
		MessageID:     m.ID,
		SenderID:      m.SenderID,
		RecipientID:   m.RecipientID,
		MessageType:   m.Type,
		Payload:       m.Payload,
		Timestamp:     m.Timestamp.UTC().Format(layout),
		CorrelationID: m.CorrelationID,
	}
}

func messageRows(msgs []message.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageResponse(m, naiveLayout))
	}
	return out
}

// handleHealth reports that the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleToken issues a token for the requested agent. There is no
// credential check; this is a development server.
func (g *Gateway) handleToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		auth.WriteDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.AgentID == "" {
		auth.WriteDetail(w, http.StatusBadRequest, "Missing agent_id")
		return
	}

	token, err := g.IssueToken(req.AgentID)
	if err != nil {
		g.logger.Error("failed to issue token", "agent_id", req.AgentID, "error", err)
		auth.WriteDetail(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	g.logger.Info("issued token", "agent_id", req.AgentID)
	g.writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "bearer"})
}

// handleSend stores a message from the authenticated agent.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		auth.WriteDetail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if req.SenderID != auth.AgentFromContext(r.Context()) {
		auth.WriteDetail(w, http.StatusForbidden, "Cannot send messages as another agent")
		return
	}
	if req.MessageType < message.MinType || req.MessageType > message.MaxType {
		auth.WriteDetail(w, http.StatusBadRequest, "message_type must be between 0 and 127")
		return
	}
	if req.RecipientID != nil && *req.RecipientID == "" {
		req.RecipientID = nil
	}

	msg := message.Message{
		ID:            uuid.NewString(),
		SenderID:      req.SenderID,
		RecipientID:   req.RecipientID,
		Type:          req.MessageType,
		Payload:       req.Payload,
		Timestamp:     g.config.Now().UTC().Truncate(time.Microsecond),
		CorrelationID: req.CorrelationID,
	}

	if _, err := g.store.SaveMessage(r.Context(), msg); err != nil {
		g.logger.Error("failed to save message", "sender_id", msg.SenderID, "error", err)
		auth.WriteDetail(w, http.StatusInternalServerError, "Failed to store message")
		return
	}
	g.metrics.Sent.Inc()

	g.logger.Debug("message stored",
		"message_id", msg.ID,
		"sender_id", msg.SenderID,
		"recipient_id", msg.Recipient(),
	)
	g.writeJSON(w, http.StatusOK, SendResponse{
		Status:      "success",
		MessageID:   msg.ID,
		Timestamp:   msg.Timestamp.Format(zonedLayout),
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
	})
}

// handleAgents lists the agents the caller has exchanged direct messages with.
func (g *Gateway) handleAgents(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")

	agents, err := g.store.Counterparts(r.Context(), agentID)
	if err != nil {
		g.logger.Error("failed to list agents", "agent_id", agentID, "error", err)
		auth.WriteDetail(w, http.StatusInternalServerError, "Failed to list agents")
		return
	}

	out := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		row := AgentResponse{AgentID: a.ID}
		if a.LastMessageTime != nil {
			row.LastMessageTime = a.LastMessageTime.UTC().Format(naiveLayout)
		}
		out = append(out, row)
	}
	g.writeJSON(w, http.StatusOK, out)
}

// handleConversation returns one page of the conversation between the
// caller and {other}, newest first.
func (g *Gateway) handleConversation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := parsePage(q.Get("limit"), q.Get("offset"), DefaultConversationLimit)
	if err != nil {
		auth.WriteDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	agentID := q.Get("agent_id")
	other := r.PathValue("other")
	msgs, err := g.store.Conversation(r.Context(), agentID, other, limit, offset)
	if err != nil {
		g.logger.Error("failed to load conversation", "agent_id", agentID, "other", other, "error", err)
		auth.WriteDetail(w, http.StatusInternalServerError, "Failed to load conversation")
		return
	}
	g.writeJSON(w, http.StatusOK, messageRows(msgs))
}

// handleMessages returns the caller's inbox, newest first.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agentID := q.Get("agent_id")
	if agentID != auth.AgentFromContext(r.Context()) {
		auth.WriteDetail(w, http.StatusForbidden, "Forbidden to access other agent's messages")
		return
	}

	iq := store.InboxQuery{AgentID: agentID}
	var err error
	if iq.Limit, iq.Offset, err = parsePage(q.Get("limit"), q.Get("offset"), DefaultInboxLimit); err != nil {
		auth.WriteDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if iq.Start, err = parseTimeParam(q.Get("start_time"), "start_time"); err != nil {
		auth.WriteDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if iq.End, err = parseTimeParam(q.Get("end_time"), "end_time"); err != nil {
		auth.WriteDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	if s := q.Get("message_type"); s != "" {
		mt, err := strconv.Atoi(s)
		if err != nil {
			auth.WriteDetail(w, http.StatusBadRequest, "message_type must be an integer")
			return
		}
		iq.MessageType = &mt
	}

	msgs, err := g.store.Inbox(r.Context(), iq)
	if err != nil {
		g.logger.Error("failed to load messages", "agent_id", agentID, "error", err)
		auth.WriteDetail(w, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	g.writeJSON(w, http.StatusOK, messageRows(msgs))
}

// parsePage parses limit and offset query values.
func parsePage(limitStr, offsetStr string, defaultLimit int) (limit, offset int, err error) {
	limit = defaultLimit
	if limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
	}
	if offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func parseTimeParam(s, name string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := message.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, errors.New(name + " must be an ISO-8601 timestamp")
	}
	return t, nil
}

// writeJSON writes v as a JSON response.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}
