// ABOUTME: Conversation membership rules for routing messages to a counterpart
// ABOUTME: Decides which conversation a message belongs to relative to the local agent

package reconcile

import "github.com/2389/agentcomm/internal/message"

// Scope identifies the local agent of a session.
type Scope struct {
	Local string
}

// CounterpartOf returns the agent on the other side of m from the local
// agent. ok is false for broadcasts and for messages the local agent is not
// a party to.
func (s Scope) CounterpartOf(m *message.Message) (counterpart string, ok bool) {
	if m.IsBroadcast() {
		return "", false
	}
	recipient := m.Recipient()
	switch s.Local {
	case m.SenderID:
		return recipient, true
	case recipient:
		return m.SenderID, true
	default:
		return "", false
	}
}

// Belongs reports whether m is part of the conversation between the local
// agent and counterpart, in either direction.
func (s Scope) Belongs(m *message.Message, counterpart string) bool {
	if counterpart == "" {
		return false
	}
	c, ok := s.CounterpartOf(m)
	return ok && c == counterpart
}
