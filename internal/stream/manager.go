// ABOUTME: Stream connection manager owning the live event-stream connection of one agent session
// ABOUTME: Parses frames, drops heartbeats and malformed frames, and reconnects at a fixed interval

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/2389/agentcomm/internal/api"
	"github.com/2389/agentcomm/internal/dedupe"
	"github.com/2389/agentcomm/internal/message"
	"github.com/2389/agentcomm/internal/metrics"
)

const (
	// DefaultReconnectInterval is the fixed delay between connection attempts.
	DefaultReconnectInterval = 3 * time.Second
	// DefaultIdleTimeout tears down a connection that has sent nothing,
	// not even a heartbeat, for this long.
	DefaultIdleTimeout = 30 * time.Second

	replayTTL  = 30 * time.Minute
	replaySize = 10000
)

// ErrStreamClosed is returned by a connection attempt when the server ends
// the stream.
var ErrStreamClosed = errors.New("event stream closed by server")

// State is the connectivity of the manager.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Scope identifies whose stream to open.
type Scope struct {
	Endpoint string
	AgentID  string
	Token    string
}

// Complete reports whether every credential is present.
func (s Scope) Complete() bool {
	return s.Endpoint != "" && s.AgentID != "" && s.Token != ""
}

func (s Scope) sameTarget(o Scope) bool {
	return s.Endpoint == o.Endpoint && s.AgentID == o.AgentID
}

// Options configures a Manager.
type Options struct {
	ReconnectInterval time.Duration
	IdleTimeout       time.Duration // negative disables
	HeartbeatTokens   []string
	HTTPClient        *http.Client
	Logger            *slog.Logger
	Metrics           *metrics.Stream

	// OnMessage receives each parsed message, in arrival order, from the
	// connection goroutine.
	OnMessage func(message.Message)
	// OnActivity is called after each delivered message; sessions use it to
	// refresh the peer list.
	OnActivity func()
	// OnState is called on every state transition.
	OnState func(State)
}

// Manager owns at most one live event-stream connection.
type Manager struct {
	opts       Options
	heartbeats heartbeatSet
	logger     *slog.Logger
	metrics    *metrics.Stream

	// lifecycle guards Open/Close; it is never taken by the connection goroutine.
	lifecycle sync.Mutex
	scope     Scope
	cancel    context.CancelFunc
	done      chan struct{}
	replays   *dedupe.Window

	stateMu sync.Mutex
	state   State
}

// NewManager creates an idle manager.
func NewManager(opts Options) *Manager {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.HTTPClient == nil {
		// no client timeout: the response body is read for the life of the stream
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewStream(nil)
	}
	return &Manager{
		opts:       opts,
		heartbeats: newHeartbeatSet(opts.HeartbeatTokens),
		logger:     opts.Logger.With("component", "stream"),
		metrics:    opts.Metrics,
		replays:    dedupe.New(replayTTL, replaySize),
		state:      StateIdle,
	}
}

// State returns the current connectivity state.
func (m *Manager) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

// Connected reports whether the stream is currently connected.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Open starts streaming for scope, closing any previous connection first.
// It returns immediately; connection attempts run in the background until
// ctx is cancelled or Close is called. Open with incomplete credentials does
// nothing.
func (m *Manager) Open(ctx context.Context, scope Scope) {
	if !scope.Complete() {
		m.logger.Debug("not opening stream: incomplete credentials",
			"has_endpoint", scope.Endpoint != "",
			"has_agent", scope.AgentID != "",
			"has_token", scope.Token != "")
		return
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.stopLocked()

	// ids delivered to another agent or server say nothing about this one
	if !m.scope.sameTarget(scope) {
		m.replays.Reset()
	}
	m.scope = scope

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go m.run(ctx, scope, m.replays, done)
}

// Close tears down the connection and cancels any pending reconnection. It
// waits for the connection goroutine to exit and leaves the manager
// disconnected, even if it was never opened. Safe to call more than once.
func (m *Manager) Close() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.stopLocked()
	m.setState(StateDisconnected)
}

// stopLocked cancels and waits for the running connection goroutine. It
// reports whether one was running.
func (m *Manager) stopLocked() bool {
	if m.cancel == nil {
		return false
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
	return true
}

func (m *Manager) run(ctx context.Context, scope Scope, replays *dedupe.Window, done chan struct{}) {
	defer close(done)

	logger := m.logger.With("agent_id", scope.AgentID)
	for {
		m.setState(StateConnecting)
		err := m.connectOnce(ctx, scope, replays, logger)
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return
		}

		m.setState(StateDisconnected)
		m.metrics.Disconnect.Inc()
		logger.Warn("event stream disconnected",
			"error", err,
			"retry_in", m.opts.ReconnectInterval)

		timer := time.NewTimer(m.opts.ReconnectInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connectOnce opens one connection and reads it until it fails.
func (m *Manager) connectOnce(ctx context.Context, scope Scope, replays *dedupe.Window, logger *slog.Logger) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet,
		api.StreamURL(scope.Endpoint, scope.AgentID, scope.Token), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &api.StatusError{Code: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
	}

	m.setState(StateConnected)
	m.metrics.Connects.Inc()
	logger.Info("event stream connected")

	var onLine func()
	if m.opts.IdleTimeout > 0 {
		idle := time.AfterFunc(m.opts.IdleTimeout, cancel)
		defer idle.Stop()
		onLine = func() { idle.Reset(m.opts.IdleTimeout) }
	}

	err = readFrames(connCtx, resp.Body, onLine, func(f Frame) {
		m.handleFrame(f, replays, logger)
	})
	if ctx.Err() == nil && connCtx.Err() != nil {
		return fmt.Errorf("no data for %s", m.opts.IdleTimeout)
	}
	if errors.Is(err, io.EOF) {
		return ErrStreamClosed
	}
	return err
}

func (m *Manager) handleFrame(f Frame, replays *dedupe.Window, logger *slog.Logger) {
	if m.heartbeats.match(f) {
		m.metrics.Frame(metrics.FrameHeartbeat)
		return
	}
	if f.Comment || strings.TrimSpace(f.Data) == "" {
		return
	}

	msg, err := message.Parse([]byte(f.Data))
	if err != nil {
		m.metrics.Frame(metrics.FrameMalformed)
		logger.Warn("dropping malformed stream frame", "error", err, "frame", truncate(f.Data, 200))
		return
	}

	if replays.Observe(msg.ID) {
		m.metrics.Frame(metrics.FrameReplayed)
		logger.Debug("suppressing replayed frame", "message_id", msg.ID)
		return
	}

	m.metrics.Frame(metrics.FrameMessage)
	if m.opts.OnMessage != nil {
		m.opts.OnMessage(msg)
	}
	if m.opts.OnActivity != nil {
		m.opts.OnActivity()
	}
}

func (m *Manager) setState(s State) {
	m.stateMu.Lock()
	if m.state == s {
		m.stateMu.Unlock()
		return
	}
	m.state = s
	m.stateMu.Unlock()

	if s == StateConnected {
		m.metrics.Connected.Set(1)
	} else {
		m.metrics.Connected.Set(0)
	}
	if m.opts.OnState != nil {
		m.opts.OnState(s)
	}
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
