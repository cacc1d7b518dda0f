// Package gateway implements the agent messaging HTTP server.
//
// It is the development counterpart of the service the client talks to,
// used by the agentcomm-devserver command and by end-to-end tests.
//
// # Endpoints
//
//	GET  /health                     {"status":"ok"}
//	POST /token                      {"agent_id"} -> {"access_token","token_type":"bearer"}
//	POST /messages/send              bearer; sender_id must be the token's agent
//	GET  /agents?agent_id            bearer; direct-message counterparts, most recent first
//	GET  /conversations/{other}      bearer; ?agent_id&limit=50&offset=0, newest first
//	GET  /messages                   bearer; inbox with start_time, end_time, message_type filters
//	GET  /messages/stream            ?agent_id&token; Server-Sent Events
//	GET  /metrics                    Prometheus exposition
//
// Errors are JSON objects of the form {"detail": "..."}.
//
// # Event stream
//
// A stream starts at the newest stored message and polls the store every
// PollInterval. New messages visible to the agent (sent by it, addressed to
// it, or broadcast) are written as "data: {json}" frames in storage order,
// followed by a ":heartbeat" comment on every poll. Shutdown ends all open
// streams before stopping the HTTP server.
//
// # Usage
//
//	st, _ := store.NewSQLiteStore(path)
//	gw, err := gateway.New(gateway.Config{Addr: ":8000", JWTSecret: secret}, st, logger)
//	if err != nil { ... }
//	return gw.Run(ctx)
package gateway
