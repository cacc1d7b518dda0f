// Package dedupe provides a bounded window of recently seen message ids used
// to drop frames that a server replays after a reconnect.
package dedupe
