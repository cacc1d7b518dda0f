// ABOUTME: Server-Sent Events frame reader for the message stream
// ABOUTME: Splits the body into comment and data frames and recognises heartbeat tokens

package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// maxFrameSize bounds a single SSE line.
const maxFrameSize = 1 << 20

// DefaultHeartbeatTokens are the keep-alive payloads the server may send,
// either as an SSE comment (":heartbeat") or as a data frame.
var DefaultHeartbeatTokens = []string{"heartbeat", ":heartbeat"}

// Frame is one unit read from the event stream.
type Frame struct {
	Comment bool   // an SSE comment line; Data holds the line including the colon
	Data    string // data lines of an event, joined with "\n"
}

// readFrames reads SSE frames from body and calls onFrame for each. onLine
// is called for every line read, including blank ones, so callers can track
// liveness. It returns when body ends, fails, or ctx is cancelled.
func readFrames(ctx context.Context, body io.Reader, onLine func(), onFrame func(Frame)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var dataLines []string
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if onLine != nil {
			onLine()
		}

		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if len(dataLines) > 0 {
				onFrame(Frame{Data: strings.Join(dataLines, "\n")})
			}
			dataLines = nil
			continue
		}

		if strings.HasPrefix(line, ":") {
			onFrame(Frame{Comment: true, Data: line})
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			dataLines = append(dataLines, value)
		case "event", "id", "retry":
			// the server sends only unnamed message events
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return io.EOF
}

// heartbeatSet matches frames against the configured keep-alive tokens.
type heartbeatSet map[string]struct{}

func newHeartbeatSet(tokens []string) heartbeatSet {
	if len(tokens) == 0 {
		tokens = DefaultHeartbeatTokens
	}
	set := make(heartbeatSet, len(tokens))
	for _, t := range tokens {
		set[strings.TrimSpace(t)] = struct{}{}
	}
	return set
}

func (h heartbeatSet) match(f Frame) bool {
	_, ok := h[strings.TrimSpace(f.Data)]
	return ok
}
