// Package stream maintains the live event stream of one agent.
//
// A Manager opens GET {endpoint}/messages/stream?agent_id=..&token=.. and
// reads Server-Sent Events from it. Each data frame carries one message as
// JSON. Frames whose payload is a heartbeat token, SSE comments and empty
// frames are discarded. Frames that fail to parse or validate are logged at
// warn and dropped; they never affect connection state.
//
// States move idle → connecting → connected ⇄ disconnected → connecting …
// When a connection fails, is refused, or goes silent for IdleTimeout, the
// manager waits ReconnectInterval (3s by default) and tries again. There is
// no backoff growth and no retry limit; only Close stops it.
//
//	m := stream.NewManager(stream.Options{
//	    OnMessage: func(msg message.Message) { store.Ingest(msg) },
//	})
//	m.Open(ctx, stream.Scope{Endpoint: url, AgentID: id, Token: token})
//	defer m.Close()
//
// Message ids already delivered during the scope, such as rows replayed by
// the server after a reconnect, are suppressed before OnMessage. Consumers
// must still treat delivery as at-least-once.
package stream
