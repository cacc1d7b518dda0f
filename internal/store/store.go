// ABOUTME: Store interface and query types for the development server's message persistence
// ABOUTME: Defines the inbox filter, stream cursor records, and the Store interface

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/agentcomm/internal/message"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateMessage is returned when a message id is already stored
var ErrDuplicateMessage = errors.New("message already exists")

// Record is a stored message with its insertion sequence. Sequences grow
// strictly and are the cursor for the event stream.
type Record struct {
	Seq     int64
	Message message.Message
}

// InboxQuery filters an agent's inbox. Zero values are not applied.
type InboxQuery struct {
	AgentID     string
	Start       time.Time
	End         time.Time
	MessageType *int
	Limit       int
	Offset      int
}

// Store persists messages exchanged between agents.
type Store interface {
	// SaveMessage stores msg and returns its sequence.
	SaveMessage(ctx context.Context, msg message.Message) (int64, error)
	GetMessage(ctx context.Context, id string) (message.Message, error)

	// Conversation returns messages between agentID and other, newest first.
	// A limit of 0 or less returns everything after offset.
	Conversation(ctx context.Context, agentID, other string, limit, offset int) ([]message.Message, error)

	// Inbox returns messages sent by, addressed to, or broadcast to
	// q.AgentID, newest first.
	Inbox(ctx context.Context, q InboxQuery) ([]message.Message, error)

	// Counterparts returns the agents agentID exchanged direct messages
	// with, most recently active first. Broadcasts and self-messages are
	// not counted.
	Counterparts(ctx context.Context, agentID string) ([]message.Agent, error)

	// LatestSeq returns the highest sequence stored, or 0.
	LatestSeq(ctx context.Context) (int64, error)

	// Since returns inbox messages of agentID stored after the given
	// sequence, oldest first, at most limit of them (0 for all).
	Since(ctx context.Context, agentID string, afterSeq int64, limit int) ([]Record, error)

	Close() error
}
