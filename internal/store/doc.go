// Package store provides persistent message storage for the development
// server using SQLite.
//
// # Architecture
//
// Store is the interface the server depends on. SQLiteStore implements it on
// modernc.org/sqlite (pure Go, no cgo); MockStore implements it in memory for
// handler tests.
//
// Every message gets a strictly increasing sequence when saved. The event
// stream uses the sequence, not the timestamp, as its cursor, so messages
// stored within the same clock tick are neither skipped nor repeated.
//
// # Visibility
//
// An agent's inbox holds the messages it sent, the messages addressed to it,
// and every broadcast (messages with a NULL recipient_id). A conversation
// holds only direct messages between two agents, in either direction.
//
// # Schema
//
//	agent_messages(seq, message_id UNIQUE, sender_id, recipient_id NULL,
//	               message_type 0..127, payload, correlation_id, created_at)
//
// created_at holds Unix nanoseconds in UTC. Columns added after the first
// release are applied by runMigrations on open.
package store
