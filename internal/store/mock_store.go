// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/2389/agentcomm/internal/message"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	records []Record       // in sequence order
	byID    map[string]int // message id -> index into records
	closed  bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		byID: make(map[string]int),
	}
}

// SaveMessage stores a message.
func (m *MockStore) SaveMessage(ctx context.Context, msg message.Message) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[msg.ID]; ok {
		return 0, ErrDuplicateMessage
	}

	seq := int64(len(m.records) + 1)
	msg.Timestamp = msg.Timestamp.UTC()
	m.byID[msg.ID] = len(m.records)
	m.records = append(m.records, Record{Seq: seq, Message: msg})
	return seq, nil
}

// GetMessage retrieves a message by id.
func (m *MockStore) GetMessage(ctx context.Context, id string) (message.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.byID[id]
	if !ok {
		return message.Message{}, ErrNotFound
	}
	return m.records[i].Message, nil
}

// Conversation returns messages between two agents, newest first.
func (m *MockStore) Conversation(ctx context.Context, agentID, other string, limit, offset int) ([]message.Message, error) {
	return m.newestFirst(func(msg *message.Message) bool {
		to := msg.Recipient()
		if msg.IsBroadcast() {
			return false
		}
		return (msg.SenderID == agentID && to == other) || (msg.SenderID == other && to == agentID)
	}, limit, offset), nil
}

// Inbox returns an agent's messages matching q, newest first.
func (m *MockStore) Inbox(ctx context.Context, q InboxQuery) ([]message.Message, error) {
	return m.newestFirst(func(msg *message.Message) bool {
		if !visibleTo(msg, q.AgentID) {
			return false
		}
		if !q.Start.IsZero() && msg.Timestamp.Before(q.Start) {
			return false
		}
		if !q.End.IsZero() && msg.Timestamp.After(q.End) {
			return false
		}
		if q.MessageType != nil && msg.Type != *q.MessageType {
			return false
		}
		return true
	}, q.Limit, q.Offset), nil
}

// Counterparts lists the agents agentID has exchanged direct messages with.
func (m *MockStore) Counterparts(ctx context.Context, agentID string) ([]message.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	last := make(map[string]message.Agent)
	for _, r := range m.records {
		msg := r.Message
		if msg.IsBroadcast() || msg.SenderID == msg.Recipient() {
			continue
		}

		var peer string
		switch agentID {
		case msg.SenderID:
			peer = msg.Recipient()
		case msg.Recipient():
			peer = msg.SenderID
		default:
			continue
		}

		ts := msg.Timestamp
		if cur, ok := last[peer]; !ok || ts.After(*cur.LastMessageTime) {
			last[peer] = message.Agent{ID: peer, LastMessageTime: &ts}
		}
	}

	agents := make([]message.Agent, 0, len(last))
	for _, a := range last {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].LastMessageTime.After(*agents[j].LastMessageTime)
	})
	if len(agents) == 0 {
		return nil, nil
	}
	return agents, nil
}

// LatestSeq returns the highest stored sequence.
func (m *MockStore) LatestSeq(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

// Since returns an agent's messages stored after afterSeq, oldest first.
func (m *MockStore) Since(ctx context.Context, agentID string, afterSeq int64, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, r := range m.records {
		if r.Seq <= afterSeq || !visibleTo(&r.Message, agentID) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// newestFirst filters records and pages the result in (timestamp, seq)
// descending order.
func (m *MockStore) newestFirst(keep func(*message.Message) bool, limit, offset int) []message.Message {
	m.mu.RLock()
	var matched []Record
	for _, r := range m.records {
		if keep(&r.Message) {
			matched = append(matched, r)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.Message.Timestamp.Equal(b.Message.Timestamp) {
			return a.Message.Timestamp.After(b.Message.Timestamp)
		}
		return a.Seq > b.Seq
	})

	if offset >= len(matched) {
		return nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]message.Message, len(matched))
	for i, r := range matched {
		out[i] = r.Message
	}
	return out
}

func visibleTo(msg *message.Message, agentID string) bool {
	return msg.SenderID == agentID || msg.IsBroadcast() || msg.Recipient() == agentID
}

var _ Store = (*MockStore)(nil)
var _ Store = (*SQLiteStore)(nil)
