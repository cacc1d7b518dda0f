// ABOUTME: Conversation view store holding per-counterpart ordered message lists
// ABOUTME: Routes ingested messages through the reconciliation engine and tracks the active counterpart

package conversation

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agentcomm/internal/message"
	"github.com/2389/agentcomm/internal/metrics"
	"github.com/2389/agentcomm/internal/reconcile"
)

// backgroundLimit bounds how many messages are retained for a conversation
// that is not selected. Selecting it reloads from history anyway.
const backgroundLimit = 500

// broadcastLimit bounds the broadcast feed.
const broadcastLimit = 500

// ErrNoRecipient is returned when a provisional message has nowhere to go.
var ErrNoRecipient = errors.New("no recipient and no active conversation")

// Route describes where an ingested message ended up.
type Route int

const (
	RouteConversation Route = iota // a direct conversation with the local agent
	RouteBroadcast                 // the broadcast feed
	RouteIgnored                   // not addressed to or from the local agent
)

func (r Route) String() string {
	switch r {
	case RouteConversation:
		return "conversation"
	case RouteBroadcast:
		return "broadcast"
	case RouteIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Result reports the effect of Ingest.
type Result struct {
	Route       Route
	Counterpart string
	Outcome     reconcile.Outcome
	Active      bool // the active view changed or already held the message
	Index       int
}

// Handle identifies a provisional message so it can be confirmed or rolled back.
type Handle struct {
	ID          string
	Counterpart string // "" for broadcast sends
}

// Options configures a Store.
type Options struct {
	Engine      *reconcile.Engine
	Broadcaster *Broadcaster
	Metrics     *metrics.Store
	Logger      *slog.Logger
	Now         func() time.Time
	NewID       func() string
}

// Store is the in-memory view of every conversation of one local agent.
// All mutation happens under its mutex, so concurrent deliveries from the
// stream, history fetches and sends are serialized.
type Store struct {
	mu         sync.RWMutex
	scope      reconcile.Scope
	engine     *reconcile.Engine
	selected   string
	views      map[string][]message.Message
	broadcasts []message.Message
	activity   map[string]time.Time

	events  *Broadcaster
	metrics *metrics.Store
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// NewStore creates a store for the given local agent.
func NewStore(localAgent string, opts Options) *Store {
	if opts.Engine == nil {
		opts.Engine = reconcile.New(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return message.ProvisionalPrefix + uuid.New().String() }
	}
	return &Store{
		scope:    reconcile.Scope{Local: localAgent},
		engine:   opts.Engine,
		views:    make(map[string][]message.Message),
		activity: make(map[string]time.Time),
		events:   opts.Broadcaster,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With("component", "store", "agent_id", localAgent),
		now:      opts.Now,
		newID:    opts.NewID,
	}
}

// LocalAgent returns the agent this store belongs to.
func (s *Store) LocalAgent() string {
	return s.scope.Local
}

// SelectCounterpart makes agentID the active conversation and clears its view.
// The caller repopulates it with LoadHistory.
func (s *Store) SelectCounterpart(agentID string) {
	s.mu.Lock()
	s.selected = agentID
	delete(s.views, agentID)
	s.mu.Unlock()

	s.logger.Debug("selected counterpart", "counterpart", agentID)
	s.publish(Change{Kind: ChangeSelected, Counterpart: agentID, Active: true})
}

// Selected returns the active counterpart, or "".
func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// LoadHistory installs a fetched page (newest first, as the server returns
// it) as the view of counterpart. Messages that reached the view since the
// selection, including provisional sends, are merged back on top. The page is
// discarded if counterpart is no longer selected.
func (s *Store) LoadHistory(counterpart string, newestFirst []message.Message) bool {
	s.mu.Lock()
	if s.selected != counterpart {
		s.mu.Unlock()
		s.logger.Debug("discarding stale history", "counterpart", counterpart)
		return false
	}

	var next []message.Message
	for i := len(newestFirst) - 1; i >= 0; i-- {
		m := newestFirst[i]
		if !s.scope.Belongs(&m, counterpart) {
			continue
		}
		next = appendUnique(next, m)
	}
	for _, m := range s.views[counterpart] {
		next, _, _ = s.engine.Apply(next, m)
	}
	s.views[counterpart] = next
	for i := range next {
		s.touchLocked(counterpart, next[i].Timestamp)
	}
	s.mu.Unlock()

	s.logger.Debug("loaded history", "counterpart", counterpart, "count", len(next))
	s.publish(Change{Kind: ChangeLoaded, Counterpart: counterpart, Active: true})
	return true
}

// appendUnique keeps server order for history but drops repeated ids.
func appendUnique(view []message.Message, m message.Message) []message.Message {
	if reconcile.IndexOf(view, m.ID) >= 0 {
		return view
	}
	return append(view, m)
}

// Ingest merges a fetched or streamed message into its conversation.
func (s *Store) Ingest(m message.Message) Result {
	counterpart, ok := s.scope.CounterpartOf(&m)
	if !ok {
		if m.IsBroadcast() {
			return s.ingestBroadcast(m)
		}
		s.logger.Debug("ignoring message for other agents",
			"message_id", m.ID,
			"sender_id", m.SenderID,
			"recipient_id", m.Recipient())
		s.count(RouteIgnored, reconcile.Duplicate)
		return Result{Route: RouteIgnored, Index: -1}
	}

	s.mu.Lock()
	view := s.views[counterpart]
	next, outcome, idx := s.engine.Apply(view, m)
	active := counterpart == s.selected
	if outcome != reconcile.Duplicate {
		if !active && len(next) > backgroundLimit {
			trim := len(next) - backgroundLimit
			next = next[trim:]
			idx -= trim
		}
		s.views[counterpart] = next
	}
	s.touchLocked(counterpart, m.Timestamp)
	s.mu.Unlock()

	s.count(RouteConversation, outcome)
	result := Result{
		Route:       RouteConversation,
		Counterpart: counterpart,
		Outcome:     outcome,
		Active:      active,
		Index:       idx,
	}

	s.logger.Debug("ingested message",
		"message_id", m.ID,
		"counterpart", counterpart,
		"outcome", outcome.String(),
		"active", active)

	switch outcome {
	case reconcile.Appended:
		s.publish(Change{Kind: ChangeAppended, Counterpart: counterpart, Active: active, Index: idx, Message: &m})
	case reconcile.Replaced:
		s.publish(Change{Kind: ChangeReplaced, Counterpart: counterpart, Active: active, Index: idx, Message: &m})
	}
	return result
}

func (s *Store) ingestBroadcast(m message.Message) Result {
	s.mu.Lock()
	next, outcome, idx := s.engine.Apply(s.broadcasts, m)
	if len(next) > broadcastLimit {
		trim := len(next) - broadcastLimit
		next = next[trim:]
		idx -= trim
	}
	s.broadcasts = next
	if m.SenderID != s.scope.Local {
		s.touchLocked(m.SenderID, m.Timestamp)
	}
	s.mu.Unlock()

	s.count(RouteBroadcast, outcome)
	if outcome != reconcile.Duplicate {
		s.publish(Change{Kind: ChangeBroadcast, Counterpart: m.SenderID, Index: idx, Message: &m})
	}
	return Result{Route: RouteBroadcast, Counterpart: m.SenderID, Outcome: outcome, Index: idx}
}

// CreateProvisional appends a placeholder for an outgoing message so the
// sender sees it at once. An empty recipient targets the active counterpart.
func (s *Store) CreateProvisional(recipient string, payload string, messageType int) (Handle, message.Message, error) {
	if recipient == "" {
		recipient = s.Selected()
	}
	if recipient == "" {
		return Handle{}, message.Message{}, ErrNoRecipient
	}

	m := message.Message{
		ID:          s.newID(),
		SenderID:    s.scope.Local,
		RecipientID: message.StringPtr(recipient),
		Type:        messageType,
		Payload:     &payload,
		Timestamp:   s.now(),
	}

	s.mu.Lock()
	// Appended, not inserted by time: the placeholder stays where the user
	// saw it appear.
	s.views[recipient] = append(slices.Clip(s.views[recipient]), m)
	idx := len(s.views[recipient]) - 1
	active := recipient == s.selected
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeAppended, Counterpart: recipient, Active: active, Index: idx, Message: &m})
	return Handle{ID: m.ID, Counterpart: recipient}, m, nil
}

// CreateBroadcast appends a placeholder for a message with no recipient to
// the broadcast feed.
func (s *Store) CreateBroadcast(payload string, messageType int) (Handle, message.Message) {
	m := message.Message{
		ID:        s.newID(),
		SenderID:  s.scope.Local,
		Type:      messageType,
		Payload:   &payload,
		Timestamp: s.now(),
	}

	s.mu.Lock()
	s.broadcasts = append(slices.Clip(s.broadcasts), m)
	idx := len(s.broadcasts) - 1
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeBroadcast, Index: idx, Message: &m})
	return Handle{ID: m.ID}, m
}

// Confirm reconciles the provisional message behind h with the server's
// record of the same send. The handle pins the exact entry, so this works
// even when client and server clocks disagree by more than the match window.
func (s *Store) Confirm(h Handle, confirmed message.Message) Result {
	s.mu.Lock()
	view := s.viewLocked(h.Counterpart)
	i := reconcile.IndexOf(view, h.ID)
	if i < 0 {
		// Already replaced by a stream delivery or cleared by a reselect.
		s.mu.Unlock()
		return s.Ingest(confirmed)
	}

	next := slices.Clone(view)
	kind := ChangeReplaced
	if j := reconcile.IndexOf(view, confirmed.ID); j >= 0 {
		// The stream delivered the confirmed record before the send returned
		// and it missed the provisional match. Keep the confirmed entry.
		next = slices.Delete(next, i, i+1)
		kind = ChangeRemoved
	} else {
		next[i] = confirmed
	}
	s.setViewLocked(h.Counterpart, next)
	active := h.Counterpart != "" && h.Counterpart == s.selected
	s.mu.Unlock()

	s.logger.Debug("confirmed provisional",
		"provisional_id", h.ID,
		"message_id", confirmed.ID,
		"change", kind)

	if kind == ChangeRemoved {
		s.publish(Change{Kind: kind, Counterpart: h.Counterpart, Active: active, Index: i, Message: &confirmed})
		return Result{Route: routeOf(h), Counterpart: h.Counterpart, Outcome: reconcile.Duplicate, Active: active, Index: reconcile.IndexOf(next, confirmed.ID)}
	}
	s.publish(Change{Kind: kind, Counterpart: h.Counterpart, Active: active, Index: i, Message: &confirmed})
	return Result{Route: routeOf(h), Counterpart: h.Counterpart, Outcome: reconcile.Replaced, Active: active, Index: i}
}

// Rollback deletes the provisional message behind h after a failed send.
// It reports whether the entry was still present.
func (s *Store) Rollback(h Handle) bool {
	s.mu.Lock()
	view := s.viewLocked(h.Counterpart)
	i := reconcile.IndexOf(view, h.ID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	removed := view[i]
	s.setViewLocked(h.Counterpart, slices.Delete(slices.Clone(view), i, i+1))
	active := h.Counterpart != "" && h.Counterpart == s.selected
	s.mu.Unlock()

	s.logger.Debug("rolled back provisional", "provisional_id", h.ID)
	s.publish(Change{Kind: ChangeRemoved, Counterpart: h.Counterpart, Active: active, Index: i, Message: &removed})
	return true
}

// Messages returns a copy of the active view.
func (s *Store) Messages() []message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == "" {
		return nil
	}
	return slices.Clone(s.views[s.selected])
}

// View returns a copy of the retained messages for counterpart.
func (s *Store) View(counterpart string) []message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.views[counterpart])
}

// Broadcasts returns a copy of the broadcast feed.
func (s *Store) Broadcasts() []message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.broadcasts)
}

// LastActivity returns the newest message time seen for a peer.
func (s *Store) LastActivity(peer string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.activity[peer]
	return t, ok
}

func (s *Store) viewLocked(counterpart string) []message.Message {
	if counterpart == "" {
		return s.broadcasts
	}
	return s.views[counterpart]
}

func (s *Store) setViewLocked(counterpart string, view []message.Message) {
	if counterpart == "" {
		s.broadcasts = view
		return
	}
	s.views[counterpart] = view
}

func (s *Store) touchLocked(peer string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	if prev, ok := s.activity[peer]; !ok || ts.After(prev) {
		s.activity[peer] = ts
	}
}

func (s *Store) publish(c Change) {
	if s.events != nil {
		s.events.Publish(c)
	}
}

func (s *Store) count(r Route, o reconcile.Outcome) {
	if s.metrics == nil {
		return
	}
	outcome := o.String()
	if r == RouteIgnored {
		outcome = "ignored"
	}
	s.metrics.Ingested.WithLabelValues(r.String(), outcome).Inc()
}

func routeOf(h Handle) Route {
	if h.Counterpart == "" {
		return RouteBroadcast
	}
	return RouteConversation
}
