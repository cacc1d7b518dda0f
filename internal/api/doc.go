// Package api is the HTTP client for the agent messaging server.
//
// Every authenticated call sends the client's bearer token; obtain one with
// Token or set it with SetToken. Non-2xx responses are returned as
// *StatusError, which matches ErrUnauthorized and ErrForbidden with
// errors.Is:
//
//	c := api.NewClient("http://localhost:8000")
//	if _, err := c.Token(ctx, "agent-a"); err != nil { ... }
//	page, err := c.Conversation(ctx, "agent-a", "agent-b", 50, 0)
//
// History and inbox pages are returned newest first, as the server orders
// them.
package api
