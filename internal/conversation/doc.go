// Package conversation holds the client-side view of an agent's conversations.
//
// # Overview
//
// A Store keeps, per counterpart agent, the ordered list of messages and the
// identity of the counterpart currently selected for display. Every message,
// whether it was fetched, streamed or created locally, passes through the
// reconcile engine so the lists never contain duplicate ids.
//
// # Sending
//
// A send creates a provisional entry first:
//
//	h, m, err := store.CreateProvisional(peer, text, message.TypeChat)
//	confirmed, err := api.Send(ctx, ...)
//	if err != nil {
//	    store.Rollback(h)
//	} else {
//	    store.Confirm(h, confirmed)
//	}
//
// # Selection
//
// SelectCounterpart clears the chosen conversation. LoadHistory installs the
// fetched page and merges anything that arrived while the fetch was running.
// Messages for conversations that are not selected are retained (bounded) and
// update peer activity, but never appear in the active view.
//
// # Notifications
//
// Presentation code subscribes to a Broadcaster to learn about changes. The
// broadcaster drops changes for slow subscribers; the Store itself is the
// source of truth and can be re-read at any time.
package conversation
