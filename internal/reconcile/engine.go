// ABOUTME: Reconciliation engine merging one incoming message into a conversation view
// ABOUTME: Applies exact-id dedup, provisional replacement, or timestamp-ordered insert

package reconcile

import (
	"time"

	"github.com/2389/agentcomm/internal/message"
)

// DefaultMatchWindow is the clock tolerance used when pairing a provisional
// message with its server-confirmed record.
const DefaultMatchWindow = 2 * time.Second

// Outcome describes which rule was applied by Apply.
type Outcome int

const (
	// Duplicate means an entry with the same id already existed.
	Duplicate Outcome = iota
	// Replaced means a provisional entry was swapped for the incoming record.
	Replaced
	// Appended means the message was inserted as a new entry.
	Appended
)

func (o Outcome) String() string {
	switch o {
	case Duplicate:
		return "duplicate"
	case Replaced:
		return "replaced"
	case Appended:
		return "appended"
	default:
		return "unknown"
	}
}

// Engine holds the matching parameters. The zero value uses DefaultMatchWindow.
type Engine struct {
	MatchWindow time.Duration
}

// New creates an Engine with the given provisional match window.
// A non-positive window selects DefaultMatchWindow.
func New(window time.Duration) *Engine {
	return &Engine{MatchWindow: window}
}

func (e *Engine) window() time.Duration {
	if e == nil || e.MatchWindow <= 0 {
		return DefaultMatchWindow
	}
	return e.MatchWindow
}

// Apply merges incoming into view and returns the next view with the rule
// that was applied, and the index the incoming message occupies (or the
// index of the existing duplicate). The input slice is never modified.
func (e *Engine) Apply(view []message.Message, incoming message.Message) ([]message.Message, Outcome, int) {
	if i := IndexOf(view, incoming.ID); i >= 0 {
		return view, Duplicate, i
	}

	if !incoming.IsProvisional() {
		if i := e.provisionalMatch(view, incoming); i >= 0 {
			next := clone(view)
			next[i] = incoming
			return next, Replaced, i
		}
	}

	i := insertionIndex(view, incoming)
	next := make([]message.Message, 0, len(view)+1)
	next = append(next, view[:i]...)
	next = append(next, incoming)
	next = append(next, view[i:]...)
	return next, Appended, i
}

// provisionalMatch returns the index of the earliest provisional entry that
// the incoming server record confirms, or -1.
func (e *Engine) provisionalMatch(view []message.Message, incoming message.Message) int {
	window := e.window()
	for i := range view {
		candidate := &view[i]
		if !candidate.IsProvisional() {
			continue
		}
		if candidate.SenderID != incoming.SenderID ||
			!message.SameString(candidate.RecipientID, incoming.RecipientID) ||
			!message.SameString(candidate.Payload, incoming.Payload) {
			continue
		}
		if absDuration(candidate.Timestamp.Sub(incoming.Timestamp)) < window {
			return i
		}
	}
	return -1
}

// IndexOf returns the position of the entry with the given id, or -1.
func IndexOf(view []message.Message, id string) int {
	for i := range view {
		if view[i].ID == id {
			return i
		}
	}
	return -1
}

// insertionIndex finds the slot after the last entry ordered at or before m.
// Scanning from the tail makes the common in-order case O(1).
func insertionIndex(view []message.Message, m message.Message) int {
	for i := len(view) - 1; i >= 0; i-- {
		if !less(m, view[i]) {
			return i + 1
		}
	}
	return 0
}

// less orders by timestamp, then id, so equal-time entries converge.
func less(a, b message.Message) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

func clone(view []message.Message) []message.Message {
	next := make([]message.Message, len(view))
	copy(next, view)
	return next
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
