// ABOUTME: Tests for the conversation view store
// ABOUTME: Covers selection, history load, provisional confirm/rollback, and conversation isolation

package conversation

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agentcomm/internal/message"
	"github.com/2389/agentcomm/internal/metrics"
	"github.com/2389/agentcomm/internal/reconcile"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func chat(id, from, to, text string, offset time.Duration) message.Message {
	return message.Message{
		ID:          id,
		SenderID:    from,
		RecipientID: message.StringPtr(to),
		Type:        message.TypeChat,
		Payload:     message.StringPtr(text),
		Timestamp:   t0.Add(offset),
	}
}

func ids(view []message.Message) []string {
	out := make([]string, len(view))
	for i, m := range view {
		out[i] = m.ID
	}
	return out
}

// newTestStore returns a store for agent "A" with a fixed clock and
// sequential provisional ids temp-1, temp-2, ...
func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	now := t0
	seq := 0
	s := NewStore("A", Options{
		Now: func() time.Time { return now },
		NewID: func() string {
			seq++
			return fmt.Sprintf("temp-%d", seq)
		},
	})
	return s, &now
}

func TestStore_IngestActiveConversation(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")

	r := s.Ingest(chat("1", "B", "A", "hello", 0))

	assert.Equal(t, RouteConversation, r.Route)
	assert.Equal(t, "B", r.Counterpart)
	assert.Equal(t, reconcile.Appended, r.Outcome)
	assert.True(t, r.Active)
	assert.Equal(t, []string{"1"}, ids(s.Messages()))
}

func TestStore_IngestIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")
	m := chat("1", "A", "B", "hi", 0)

	s.Ingest(m)
	once := s.Messages()
	r := s.Ingest(m)
	twice := s.Messages()

	assert.Equal(t, reconcile.Duplicate, r.Outcome)
	assert.Equal(t, once, twice)
}

func TestStore_NoCrossConversationLeakage(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("C")

	r := s.Ingest(chat("1", "B", "A", "for the A-B conversation", 0))

	assert.False(t, r.Active)
	assert.Empty(t, s.Messages(), "A-B message must not appear while C is selected")
	assert.Equal(t, []string{"1"}, ids(s.View("B")), "retained at store level")

	last, ok := s.LastActivity("B")
	require.True(t, ok)
	assert.Equal(t, t0, last)
}

func TestStore_IgnoresMessagesNotInvolvingLocalAgent(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")

	r := s.Ingest(chat("1", "B", "C", "not for A", 0))

	assert.Equal(t, RouteIgnored, r.Route)
	assert.Empty(t, s.Messages())
	assert.Empty(t, s.View("C"))
}

func TestStore_BroadcastsNeverEnterConversationView(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")

	r := s.Ingest(chat("1", "B", "", "everyone", 0))
	s.Ingest(chat("1", "B", "", "everyone", 0))

	assert.Equal(t, RouteBroadcast, r.Route)
	assert.Empty(t, s.Messages())
	assert.Equal(t, []string{"1"}, ids(s.Broadcasts()))
}

func TestStore_SelectClearsView(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")
	s.Ingest(chat("1", "B", "A", "hello", 0))

	s.SelectCounterpart("C")
	s.SelectCounterpart("B")

	assert.Equal(t, "B", s.Selected())
	assert.Empty(t, s.Messages())
}

func TestStore_LoadHistoryReversesToOldestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")

	newestFirst := []message.Message{
		chat("3", "B", "A", "c", 2*time.Second),
		chat("2", "A", "B", "b", time.Second),
		chat("1", "B", "A", "a", 0),
	}
	ok := s.LoadHistory("B", newestFirst)

	require.True(t, ok)
	assert.Equal(t, []string{"1", "2", "3"}, ids(s.Messages()))
}

func TestStore_LoadHistoryMergesRacingDeliveries(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")

	// stream delivers before the fetch completes; one overlaps the page
	s.Ingest(chat("3", "B", "A", "c", 2*time.Second))
	s.Ingest(chat("4", "B", "A", "d", 3*time.Second))

	s.LoadHistory("B", []message.Message{
		chat("3", "B", "A", "c", 2*time.Second),
		chat("2", "A", "B", "b", time.Second),
	})

	assert.Equal(t, []string{"2", "3", "4"}, ids(s.Messages()))
}

func TestStore_LoadHistoryIgnoredWhenSelectionMoved(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")
	s.SelectCounterpart("C")

	ok := s.LoadHistory("B", []message.Message{chat("1", "B", "A", "late", 0)})

	assert.False(t, ok)
	assert.Empty(t, s.Messages())
}

func TestStore_LoadHistoryDropsForeignEntries(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")

	s.LoadHistory("B", []message.Message{
		chat("2", "C", "A", "wrong conversation", time.Second),
		chat("1", "B", "A", "right", 0),
	})

	assert.Equal(t, []string{"1"}, ids(s.Messages()))
}

func TestStore_ProvisionalReplacementPreservesPosition(t *testing.T) {
	s, now := newTestStore(t)
	s.SelectCounterpart("B")
	s.LoadHistory("B", []message.Message{
		chat("2", "B", "A", "two", -time.Second),
		chat("1", "A", "B", "one", -2*time.Second),
	})
	n := len(s.Messages())

	h, _, err := s.CreateProvisional("B", "hi", message.TypeChat)
	require.NoError(t, err)
	k := len(s.Messages()) - 1

	// a later message from B arrives before the confirmation
	*now = t0.Add(time.Second)
	s.Ingest(chat("3", "B", "A", "three", time.Second))

	r := s.Ingest(chat("srv-99", "A", "B", "hi", 400*time.Millisecond))

	view := s.Messages()
	assert.Equal(t, reconcile.Replaced, r.Outcome)
	assert.Len(t, view, n+2)
	assert.Equal(t, "srv-99", view[k].ID)
	assert.Equal(t, []string{"1", "2", "srv-99", "3"}, ids(view))
	assert.NotEmpty(t, h.ID)
}

func TestStore_ScenarioProvisionalThenStream(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")

	_, provisional, err := s.CreateProvisional("B", "hi", message.TypeChat)
	require.NoError(t, err)
	assert.Equal(t, "temp-1", provisional.ID)
	assert.True(t, provisional.IsProvisional())

	s.Ingest(chat("srv-99", "A", "B", "hi", 400*time.Millisecond))

	view := s.Messages()
	require.Len(t, view, 1)
	assert.Equal(t, "srv-99", view[0].ID)
}

func TestStore_EmptyPayloadProvisionalMatchesStreamEcho(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")

	_, provisional, err := s.CreateProvisional("B", "", message.TypeChat)
	require.NoError(t, err)
	require.NotNil(t, provisional.Payload)
	assert.Equal(t, "", *provisional.Payload)

	echo, err := message.Parse([]byte(`{"message_id":"srv-1","sender_id":"A","recipient_id":"B",` +
		`"message_type":2,"payload":"","timestamp":"2024-05-01T10:00:00.400000+00:00"}`))
	require.NoError(t, err)
	s.Ingest(echo)

	view := s.Messages()
	require.Len(t, view, 1)
	assert.Equal(t, "srv-1", view[0].ID)
}

func TestStore_CreateProvisionalDefaultsToSelected(t *testing.T) {
	s, _ := newTestStore(t)

	_, _, err := s.CreateProvisional("", "hi", message.TypeChat)
	assert.ErrorIs(t, err, ErrNoRecipient)

	s.SelectCounterpart("B")
	h, m, err := s.CreateProvisional("", "hi", message.TypeChat)
	require.NoError(t, err)
	assert.Equal(t, "B", h.Counterpart)
	assert.Equal(t, "B", m.Recipient())
	assert.Equal(t, "A", m.SenderID)
}

func TestStore_ConfirmByHandleToleratesClockSkew(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")
	h, _, _ := s.CreateProvisional("B", "hi", message.TypeChat)

	// server clock 30s ahead: outside the heuristic window
	confirmed := chat("srv-1", "A", "B", "hi", 30*time.Second)
	r := s.Confirm(h, confirmed)

	assert.Equal(t, reconcile.Replaced, r.Outcome)
	assert.Equal(t, []string{"srv-1"}, ids(s.Messages()))

	// the stream delivery that follows is a duplicate
	r = s.Ingest(confirmed)
	assert.Equal(t, reconcile.Duplicate, r.Outcome)
	assert.Len(t, s.Messages(), 1)
}

func TestStore_ConfirmAfterStreamReplacedIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")
	h, _, _ := s.CreateProvisional("B", "hi", message.TypeChat)
	confirmed := chat("srv-1", "A", "B", "hi", 100*time.Millisecond)

	s.Ingest(confirmed)
	r := s.Confirm(h, confirmed)

	assert.Equal(t, reconcile.Duplicate, r.Outcome)
	assert.Equal(t, []string{"srv-1"}, ids(s.Messages()))
}

func TestStore_ConfirmDropsProvisionalWhenStreamAppendedFirst(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")
	h, _, _ := s.CreateProvisional("B", "hi", message.TypeChat)

	// skewed stream delivery misses the heuristic and is appended
	confirmed := chat("srv-1", "A", "B", "hi", time.Minute)
	s.Ingest(confirmed)
	require.Equal(t, []string{"temp-1", "srv-1"}, ids(s.Messages()))

	s.Confirm(h, confirmed)
	assert.Equal(t, []string{"srv-1"}, ids(s.Messages()))
}

func TestStore_RollbackRemovesProvisional(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")
	s.Ingest(chat("1", "B", "A", "hello", -time.Second))
	h, _, _ := s.CreateProvisional("B", "hi", message.TypeChat)

	assert.True(t, s.Rollback(h))
	assert.Equal(t, []string{"1"}, ids(s.Messages()))
	assert.False(t, s.Rollback(h), "second rollback finds nothing")
}

func TestStore_ProvisionalSurvivesHistoryLoad(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")
	s.CreateProvisional("B", "sent before history arrived", message.TypeChat)

	s.LoadHistory("B", []message.Message{chat("1", "B", "A", "old", -time.Minute)})

	assert.Equal(t, []string{"1", "temp-1"}, ids(s.Messages()))
}

func TestStore_BroadcastProvisional(t *testing.T) {
	s, _ := newTestStore(t)
	h, m := s.CreateBroadcast("all hands", 2)

	assert.Empty(t, h.Counterpart)
	assert.True(t, m.IsBroadcast())
	assert.Equal(t, []string{"temp-1"}, ids(s.Broadcasts()))

	confirmed := m
	confirmed.ID = "srv-7"
	s.Confirm(h, confirmed)
	assert.Equal(t, []string{"srv-7"}, ids(s.Broadcasts()))
}

func TestStore_PublishesChanges(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ch, _ := b.Subscribe(t.Context())

	s := NewStore("A", Options{Broadcaster: b})
	s.SelectCounterpart("B")
	s.Ingest(chat("1", "B", "A", "hello", 0))
	s.Ingest(chat("2", "C", "A", "background", 0))

	c := receive(t, ch)
	assert.Equal(t, ChangeSelected, c.Kind)

	c = receive(t, ch)
	assert.Equal(t, ChangeAppended, c.Kind)
	assert.True(t, c.Active)
	assert.Equal(t, "1", c.Message.ID)

	c = receive(t, ch)
	assert.Equal(t, ChangeAppended, c.Kind)
	assert.False(t, c.Active)
	assert.Equal(t, "C", c.Counterpart)
}

func TestStore_BackgroundViewIsBounded(t *testing.T) {
	s, _ := newTestStore(t)
	s.SelectCounterpart("B")

	for i := 0; i < backgroundLimit+10; i++ {
		s.Ingest(chat(fmt.Sprintf("m-%04d", i), "C", "A", "x", time.Duration(i)*time.Millisecond))
	}

	view := s.View("C")
	assert.Len(t, view, backgroundLimit)
	assert.Equal(t, "m-0010", view[0].ID)
}

func TestStore_CountsIngestOutcomes(t *testing.T) {
	m := metrics.NewStore(prometheus.NewRegistry())
	s := NewStore("A", Options{Metrics: m})
	s.SelectCounterpart("B")

	s.Ingest(chat("1", "B", "A", "hello", 0))
	s.Ingest(chat("1", "B", "A", "hello", 0))
	s.Ingest(chat("2", "B", "C", "foreign", 0))
	s.Ingest(chat("3", "B", "", "all", 0))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ingested.WithLabelValues("conversation", "appended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ingested.WithLabelValues("conversation", "duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ingested.WithLabelValues("ignored", "ignored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ingested.WithLabelValues("broadcast", "appended")))
}
