// ABOUTME: Message and Agent types exchanged between agents, plus their JSON wire form
// ABOUTME: Handles provisional ids, timestamp parsing, and frame validation

package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProvisionalPrefix marks client-generated placeholder ids.
const ProvisionalPrefix = "temp-"

// Message type bounds and well-known values.
const (
	MinType = 0
	MaxType = 127

	// TypeChat is the conventional tag for a plain chat message.
	TypeChat = 1
)

// Validation errors
var (
	ErrMissingSender = errors.New("missing sender_id")
	ErrMissingID     = errors.New("missing message_id")
	ErrTypeRange     = errors.New("message_type out of range")
)

// Message is the unit of communication between two agents, or from one
// agent to everyone when RecipientID is nil.
type Message struct {
	ID            string
	SenderID      string
	RecipientID   *string
	Type          int
	Payload       *string
	Timestamp     time.Time
	CorrelationID *string
}

// Agent is a peer as reported by the discovery endpoint.
type Agent struct {
	ID              string
	LastMessageTime *time.Time
}

// IsProvisional reports whether the message carries a client-generated id.
func (m *Message) IsProvisional() bool {
	return IsProvisionalID(m.ID)
}

// IsBroadcast reports whether the message has no recipient.
func (m *Message) IsBroadcast() bool {
	return m.RecipientID == nil || *m.RecipientID == ""
}

// Recipient returns the recipient id or "" for broadcasts.
func (m *Message) Recipient() string {
	if m.RecipientID == nil {
		return ""
	}
	return *m.RecipientID
}

// Text returns the payload or "" when absent.
func (m *Message) Text() string {
	if m.Payload == nil {
		return ""
	}
	return *m.Payload
}

// Validate checks the fields every parsed message must carry.
func (m *Message) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if m.SenderID == "" {
		return ErrMissingSender
	}
	if m.Type < MinType || m.Type > MaxType {
		return fmt.Errorf("%w: %d", ErrTypeRange, m.Type)
	}
	return nil
}

// IsProvisionalID reports whether id is in the provisional namespace.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// SameString compares two optional strings, treating nil and nil as equal.
func SameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// wireMessage is the JSON shape used by the history, inbox and stream endpoints.
type wireMessage struct {
	MessageID     string  `json:"message_id"`
	SenderID      string  `json:"sender_id"`
	RecipientID   *string `json:"recipient_id"`
	MessageType   int     `json:"message_type"`
	Payload       *string `json:"payload"`
	Timestamp     *string `json:"timestamp"`
	CorrelationID *string `json:"correlation_id"`
}

// MarshalJSON encodes the message in its wire form.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		MessageID:     m.ID,
		SenderID:      m.SenderID,
		RecipientID:   m.RecipientID,
		MessageType:   m.Type,
		Payload:       m.Payload,
		CorrelationID: m.CorrelationID,
	}
	if !m.Timestamp.IsZero() {
		ts := FormatTimestamp(m.Timestamp)
		w.Timestamp = &ts
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form. It does not validate; call Validate.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*m = Message{
		ID:            w.MessageID,
		SenderID:      w.SenderID,
		RecipientID:   w.RecipientID,
		Type:          w.MessageType,
		Payload:       w.Payload,
		CorrelationID: w.CorrelationID,
	}
	if w.Timestamp != nil && *w.Timestamp != "" {
		ts, err := ParseTimestamp(*w.Timestamp)
		if err != nil {
			return err
		}
		m.Timestamp = ts
	}
	return nil
}

// Parse decodes and validates a single JSON-encoded message.
func Parse(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decoding message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

type wireAgent struct {
	AgentID         string  `json:"agent_id"`
	LastMessageTime *string `json:"last_message_time"`
}

// MarshalJSON encodes the agent in its wire form.
func (a Agent) MarshalJSON() ([]byte, error) {
	w := wireAgent{AgentID: a.ID}
	if a.LastMessageTime != nil {
		ts := FormatTimestamp(*a.LastMessageTime)
		w.LastMessageTime = &ts
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the wire form of an agent.
func (a *Agent) UnmarshalJSON(data []byte) error {
	var w wireAgent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*a = Agent{ID: w.AgentID}
	if w.LastMessageTime != nil && *w.LastMessageTime != "" {
		ts, err := ParseTimestamp(*w.LastMessageTime)
		if err != nil {
			return err
		}
		a.LastMessageTime = &ts
	}
	return nil
}

// timestampLayouts lists accepted ISO-8601 forms. The server emits zone-qualified
// timestamps on the stream and naive ones from the history endpoints.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp. Naive values are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// FormatTimestamp renders t as an RFC 3339 timestamp in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
