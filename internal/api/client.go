// ABOUTME: HTTP client for the agent messaging server API
// ABOUTME: Wraps token issue, send, conversation history, inbox, and agent discovery endpoints

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/2389/agentcomm/internal/message"
)

// DefaultHistoryLimit is the page size the server uses when none is given.
const DefaultHistoryLimit = 50

// Sentinel errors matched by StatusError via errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNoToken      = errors.New("client has no token")
)

// StatusError is returned for non-2xx responses. Detail carries the
// server's {"detail": ...} message when present.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("server returned status %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("server returned status %d", e.Code)
}

// Is lets callers test errors.Is(err, api.ErrUnauthorized).
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	case ErrForbidden:
		return e.Code == http.StatusForbidden
	}
	return false
}

// TokenResponse is the body of POST /token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// SendRequest is the body of POST /messages/send.
type SendRequest struct {
	SenderID      string  `json:"sender_id"`
	RecipientID   *string `json:"recipient_id"`
	MessageType   int     `json:"message_type"`
	Payload       string  `json:"payload"`
	CorrelationID *string `json:"correlation_id,omitempty"`
}

// sendResponse is the body returned by POST /messages/send.
type sendResponse struct {
	Status      string  `json:"status"`
	MessageID   string  `json:"message_id"`
	Timestamp   string  `json:"timestamp"`
	SenderID    string  `json:"sender_id"`
	RecipientID *string `json:"recipient_id"`
}

// MessagesQuery filters GET /messages. Zero values are omitted.
type MessagesQuery struct {
	AgentID     string
	Start       time.Time
	End         time.Time
	MessageType *int
	Limit       int
	Offset      int
}

// Client communicates with the messaging server HTTP API.
type Client struct {
	baseURL string
	client  *http.Client

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithToken sets the bearer token used for authenticated calls.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// NewClient creates a new API client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// CurrentToken returns the bearer token, or "".
func (c *Client) CurrentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, false, nil)
}

// Token requests a token for agentID and stores it on the client.
func (c *Client) Token(ctx context.Context, agentID string) (TokenResponse, error) {
	var resp TokenResponse
	body := map[string]string{"agent_id": agentID}
	if err := c.do(ctx, http.MethodPost, "/token", nil, body, false, &resp); err != nil {
		return TokenResponse{}, fmt.Errorf("requesting token: %w", err)
	}
	if resp.AccessToken == "" {
		return TokenResponse{}, errors.New("requesting token: empty access_token")
	}
	c.SetToken(resp.AccessToken)
	return resp, nil
}

// Send posts a message and returns the server's record of it. The server
// response omits the payload and type, so they are taken from req.
func (c *Client) Send(ctx context.Context, req SendRequest) (message.Message, error) {
	var resp sendResponse
	if err := c.do(ctx, http.MethodPost, "/messages/send", nil, req, true, &resp); err != nil {
		return message.Message{}, fmt.Errorf("sending message: %w", err)
	}
	if resp.MessageID == "" {
		return message.Message{}, errors.New("sending message: response has no message_id")
	}

	payload := req.Payload
	m := message.Message{
		ID:            resp.MessageID,
		SenderID:      resp.SenderID,
		RecipientID:   resp.RecipientID,
		Type:          req.MessageType,
		Payload:       &payload,
		CorrelationID: req.CorrelationID,
	}
	if m.SenderID == "" {
		m.SenderID = req.SenderID
	}
	if resp.Timestamp != "" {
		ts, err := message.ParseTimestamp(resp.Timestamp)
		if err != nil {
			return message.Message{}, fmt.Errorf("sending message: %w", err)
		}
		m.Timestamp = ts
	}
	return m, nil
}

// Conversation fetches one page of the conversation between agentID and
// other, newest first.
func (c *Client) Conversation(ctx context.Context, agentID, other string, limit, offset int) ([]message.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	q := url.Values{}
	q.Set("agent_id", agentID)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var page []message.Message
	path := "/conversations/" + url.PathEscape(other)
	if err := c.do(ctx, http.MethodGet, path, q, nil, true, &page); err != nil {
		return nil, fmt.Errorf("fetching conversation with %s: %w", other, err)
	}
	return page, nil
}

// Messages queries the inbox of q.AgentID: messages it sent, received, or
// that were broadcast. Newest first.
func (c *Client) Messages(ctx context.Context, q MessagesQuery) ([]message.Message, error) {
	v := url.Values{}
	v.Set("agent_id", q.AgentID)
	if !q.Start.IsZero() {
		v.Set("start_time", message.FormatTimestamp(q.Start))
	}
	if !q.End.IsZero() {
		v.Set("end_time", message.FormatTimestamp(q.End))
	}
	if q.MessageType != nil {
		v.Set("message_type", strconv.Itoa(*q.MessageType))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}

	var out []message.Message
	if err := c.do(ctx, http.MethodGet, "/messages", v, nil, true, &out); err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	return out, nil
}

// Agents lists the peers agentID has exchanged direct messages with,
// most recently active first.
func (c *Client) Agents(ctx context.Context, agentID string) ([]message.Agent, error) {
	q := url.Values{}
	q.Set("agent_id", agentID)

	var agents []message.Agent
	if err := c.do(ctx, http.MethodGet, "/agents", q, nil, true, &agents); err != nil {
		return nil, fmt.Errorf("fetching agents: %w", err)
	}
	return agents, nil
}

// StreamURL returns the event-stream URL for agentID with the token in the
// query, as event-stream clients cannot send headers.
func StreamURL(baseURL, agentID, token string) string {
	q := url.Values{}
	q.Set("agent_id", agentID)
	q.Set("token", token)
	return strings.TrimSuffix(baseURL, "/") + "/messages/stream?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, authed bool, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if authed {
		token := c.CurrentToken()
		if token == "" {
			return ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// handleErrorResponse extracts the error detail from non-2xx responses.
func handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	se := &StatusError{Code: resp.StatusCode}

	var errResp struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		var detail string
		switch {
		case json.Unmarshal(errResp.Detail, &detail) == nil && detail != "":
			se.Detail = detail
		case len(errResp.Detail) > 0 && string(errResp.Detail) != "null":
			// validation errors carry a list of objects
			se.Detail = string(errResp.Detail)
		case errResp.Error != "":
			se.Detail = errResp.Error
		}
		return se
	}
	se.Detail = strings.TrimSpace(string(body))
	return se
}
