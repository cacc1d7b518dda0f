// Package message defines the Message and Agent types shared by every
// component, together with their JSON wire representation.
//
// Server-assigned ids are opaque and stable. Ids starting with
// ProvisionalPrefix are placeholders created on the client for a send that
// the server has not yet acknowledged.
package message
