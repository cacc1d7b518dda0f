// ABOUTME: Server-Sent Events endpoint delivering an agent's new messages as they are stored
// ABOUTME: Polls the store on an interval from a sequence cursor and writes a heartbeat after each poll

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/agentcomm/internal/auth"
)

// heartbeatFrame is written after every poll, with or without messages.
const heartbeatFrame = ":heartbeat\n\n"

// handleStream streams messages stored after the connection opened. Each
// message is one data frame of JSON; the caller's own sends and broadcasts
// are included.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agentID := auth.AgentFromContext(ctx)
	rc := http.NewResponseController(w)

	cursor, err := g.store.LatestSeq(ctx)
	if err != nil {
		g.logger.Error("failed to read stream cursor", "agent_id", agentID, "error", err)
		auth.WriteDetail(w, http.StatusInternalServerError, "Failed to open stream")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		g.logger.Error("streaming not supported", "error", err)
		return
	}

	g.metrics.Streams.Inc()
	defer g.metrics.Streams.Dec()

	logger := g.logger.With("agent_id", agentID)
	logger.Info("event stream opened", "cursor", cursor)
	defer logger.Info("event stream closed")

	ticker := time.NewTicker(g.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.done.Done():
			return
		case <-ticker.C:
		}

		records, err := g.store.Since(ctx, agentID, cursor, 0)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to poll messages", "error", err)
			continue
		}

		for _, rec := range records {
			data, err := json.Marshal(newMessageResponse(rec.Message, zonedLayout))
			if err != nil {
				logger.Error("failed to marshal stream message", "message_id", rec.Message.ID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			cursor = rec.Seq
		}

		if _, err := fmt.Fprint(w, heartbeatFrame); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
