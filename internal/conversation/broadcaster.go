// ABOUTME: In-memory fan-out of view changes to presentation subscribers
// ABOUTME: Publishes store mutations and connectivity transitions without blocking the writer

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/agentcomm/internal/message"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// ChangeKind identifies what happened to the store.
type ChangeKind string

const (
	ChangeSelected     ChangeKind = "selected"     // active counterpart switched, view cleared
	ChangeLoaded       ChangeKind = "loaded"       // history installed as the active view
	ChangeAppended     ChangeKind = "appended"     // new entry in a conversation
	ChangeReplaced     ChangeKind = "replaced"     // provisional entry confirmed in place
	ChangeRemoved      ChangeKind = "removed"      // provisional entry rolled back
	ChangeBroadcast    ChangeKind = "broadcast"    // message with no recipient
	ChangeConnectivity ChangeKind = "connectivity" // stream connected or disconnected
	ChangePeers        ChangeKind = "peers"        // peer list refreshed
)

// Change is a single notification delivered to subscribers.
type Change struct {
	Kind        ChangeKind
	Counterpart string
	Active      bool // the change touched the active view
	Index       int
	Message     *message.Message
	Connected   bool            // only meaningful for ChangeConnectivity
	Peers       []message.Agent // only meaningful for ChangePeers
}

// Broadcaster provides in-memory pub/sub for Changes. Slow subscribers lose
// changes rather than stall the publisher; a reader that falls behind should
// re-read the store.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Change
	closed      bool
	done        chan struct{} // closed by Close
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Change),
		done:        make(chan struct{}),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber and returns its channel and id. The
// subscription is removed when ctx is cancelled or the broadcaster is
// closed. Subscribing to a closed
// broadcaster returns an already-closed channel.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Change, string) {
	subID := uuid.New().String()
	ch := make(chan Change, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		select {
		case <-ctx.Done():
			b.Unsubscribe(subID)
		case <-b.done:
		}
	}()

	return ch, subID
}

// Publish delivers c to every subscriber without blocking.
func (b *Broadcaster) Publish(c Change) {
	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- c:
		default:
			b.logger.Debug("dropped change for slow subscriber",
				"sub_id", id,
				"kind", c.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}

	b.logger.Debug("broadcaster closed")
}
