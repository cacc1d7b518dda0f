// Package reconcile merges message observations into a per-conversation view.
//
// # Rules
//
// Apply evaluates, in order:
//
//  1. Exact id: an entry with the same message_id exists. No-op.
//  2. Provisional replacement: the incoming message is server-confirmed and a
//     provisional entry has the same sender, recipient and payload with a
//     timestamp inside MatchWindow. The earliest such entry is replaced in
//     place, keeping its position.
//  3. Insert: the message is placed after the last entry whose
//     (timestamp, id) is not greater than its own. For in-order arrival this
//     is a plain append.
//
// Apply is pure. It never performs I/O and never mutates its input slice, so
// callers can publish the previous view to readers while computing the next.
//
// Known ambiguity: two identical payloads sent to the same recipient within
// MatchWindow are paired first-in-first-matched. If confirmations arrive out
// of order the two entries swap ids, which is invisible to readers because the
// content is identical.
package reconcile
