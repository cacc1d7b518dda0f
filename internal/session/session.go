// ABOUTME: Agent messaging session composing login, live stream, view store, peers, and API client
// ABOUTME: Owns every goroutine and timer it starts; Close tears them all down

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/agentcomm/internal/api"
	"github.com/2389/agentcomm/internal/auth"
	"github.com/2389/agentcomm/internal/conversation"
	"github.com/2389/agentcomm/internal/message"
	"github.com/2389/agentcomm/internal/metrics"
	"github.com/2389/agentcomm/internal/peers"
	"github.com/2389/agentcomm/internal/reconcile"
	"github.com/2389/agentcomm/internal/stream"
)

// Session errors
var (
	ErrMissingEndpoint = errors.New("endpoint is required")
	ErrMissingAgent    = errors.New("agent id is required")
	ErrClosed          = errors.New("session closed")
)

// SendError reports a failed send. Input is the text the user typed so the
// composer can be restored.
type SendError struct {
	Recipient string
	Input     string
	Err       error
}

func (e *SendError) Error() string {
	if e.Recipient == "" {
		return fmt.Sprintf("broadcast failed: %v", e.Err)
	}
	return fmt.Sprintf("send to %s failed: %v", e.Recipient, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Config holds the session parameters.
type Config struct {
	Endpoint          string
	AgentID           string
	Token             string // reused when valid for AgentID, otherwise a new one is requested
	HistoryLimit      int
	MatchWindow       time.Duration
	ReconnectInterval time.Duration
	IdleTimeout       time.Duration
	PeerPollInterval  time.Duration
	HeartbeatTokens   []string
}

// Options carries collaborators that tests and commands may override.
type Options struct {
	Logger     *slog.Logger
	Registerer prometheus.Registerer
	HTTPClient *http.Client // for request/response calls
	Now        func() time.Time
	// OnToken is called with a newly issued token so callers can persist it.
	OnToken func(token string)
}

// Session is one agent's live view of its conversations.
type Session struct {
	cfg     Config
	client  *api.Client
	store   *conversation.Store
	events  *conversation.Broadcaster
	stream  *stream.Manager
	peers   *peers.Tracker
	logger  *slog.Logger
	now     func() time.Time
	onToken func(string)

	mu      sync.Mutex
	started bool
	closed  bool
}

// New builds a session without touching the network.
func New(cfg Config, opts Options) (*Session, error) {
	if cfg.Endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	if cfg.AgentID == "" {
		return nil, ErrMissingAgent
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = api.DefaultHistoryLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := opts.Logger.With("agent_id", cfg.AgentID)

	var clientOpts []api.Option
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, api.WithHTTPClient(opts.HTTPClient))
	}
	client := api.NewClient(cfg.Endpoint, clientOpts...)

	events := conversation.NewBroadcaster(logger)
	store := conversation.NewStore(cfg.AgentID, conversation.Options{
		Engine:      reconcile.New(cfg.MatchWindow),
		Broadcaster: events,
		Metrics:     metrics.NewStore(opts.Registerer),
		Logger:      logger,
		Now:         opts.Now,
	})

	s := &Session{
		cfg:     cfg,
		client:  client,
		store:   store,
		events:  events,
		logger:  logger.With("component", "session"),
		now:     opts.Now,
		onToken: opts.OnToken,
	}

	s.peers = peers.NewTracker(client, cfg.AgentID, peers.Options{
		PollInterval: cfg.PeerPollInterval,
		Logger:       logger,
		OnUpdate: func(agents []message.Agent) {
			events.Publish(conversation.Change{Kind: conversation.ChangePeers, Peers: agents})
		},
	})

	s.stream = stream.NewManager(stream.Options{
		ReconnectInterval: cfg.ReconnectInterval,
		IdleTimeout:       cfg.IdleTimeout,
		HeartbeatTokens:   cfg.HeartbeatTokens,
		Logger:            logger,
		Metrics:           metrics.NewStream(opts.Registerer),
		OnMessage:         func(m message.Message) { store.Ingest(m) },
		OnActivity:        s.peers.Refresh,
		OnState: func(st stream.State) {
			events.Publish(conversation.Change{
				Kind:      conversation.ChangeConnectivity,
				Connected: st == stream.StateConnected,
			})
		},
	})

	return s, nil
}

// Start obtains a usable token, then begins peer polling and the live
// stream. It returns once the token is in hand; connecting happens in the
// background.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}

	token, err := s.ensureToken(ctx)
	if err != nil {
		return err
	}
	s.client.SetToken(token)

	s.peers.Start(ctx)
	s.stream.Open(ctx, stream.Scope{
		Endpoint: s.client.BaseURL(),
		AgentID:  s.cfg.AgentID,
		Token:    token,
	})
	s.started = true

	s.logger.Info("session started", "endpoint", s.client.BaseURL())
	return nil
}

func (s *Session) ensureToken(ctx context.Context) (string, error) {
	if s.cfg.Token != "" {
		_, err := auth.CheckToken(s.cfg.Token, s.cfg.AgentID, s.now())
		if err == nil {
			return s.cfg.Token, nil
		}
		s.logger.Info("saved token unusable, requesting a new one", "reason", err)
	}

	resp, err := s.client.Token(ctx, s.cfg.AgentID)
	if err != nil {
		return "", fmt.Errorf("logging in as %s: %w", s.cfg.AgentID, err)
	}
	if s.onToken != nil {
		s.onToken(resp.AccessToken)
	}
	return resp.AccessToken, nil
}

// Select makes peer the active conversation and loads its latest page of
// history. Stream deliveries that race the fetch are kept.
func (s *Session) Select(ctx context.Context, peer string) error {
	s.store.SelectCounterpart(peer)

	page, err := s.client.Conversation(ctx, s.cfg.AgentID, peer, s.cfg.HistoryLimit, 0)
	if err != nil {
		return err
	}
	s.store.LoadHistory(peer, page)
	return nil
}

// Send sends a chat message to recipient, or to the active conversation when
// recipient is empty. The message appears in the view at once as a
// provisional entry; on failure it is removed and a *SendError is returned.
func (s *Session) Send(ctx context.Context, recipient, text string) (message.Message, error) {
	return s.SendMessage(ctx, recipient, text, message.TypeChat)
}

// SendMessage is Send with an explicit message type.
func (s *Session) SendMessage(ctx context.Context, recipient, text string, messageType int) (message.Message, error) {
	h, provisional, err := s.store.CreateProvisional(recipient, text, messageType)
	if err != nil {
		return message.Message{}, &SendError{Recipient: recipient, Input: text, Err: err}
	}

	confirmed, err := s.client.Send(ctx, api.SendRequest{
		SenderID:    s.cfg.AgentID,
		RecipientID: provisional.RecipientID,
		MessageType: messageType,
		Payload:     text,
	})
	if err != nil {
		s.store.Rollback(h)
		s.logger.Warn("send failed", "recipient", h.Counterpart, "error", err)
		return message.Message{}, &SendError{Recipient: h.Counterpart, Input: text, Err: err}
	}

	s.store.Confirm(h, confirmed)
	s.peers.Refresh()
	return confirmed, nil
}

// Broadcast sends a message with no recipient.
func (s *Session) Broadcast(ctx context.Context, text string, messageType int) (message.Message, error) {
	h, _ := s.store.CreateBroadcast(text, messageType)

	confirmed, err := s.client.Send(ctx, api.SendRequest{
		SenderID:    s.cfg.AgentID,
		MessageType: messageType,
		Payload:     text,
	})
	if err != nil {
		s.store.Rollback(h)
		return message.Message{}, &SendError{Input: text, Err: err}
	}

	s.store.Confirm(h, confirmed)
	return confirmed, nil
}

// Inbox returns the agent's recent messages across all conversations,
// including broadcasts, newest first.
func (s *Session) Inbox(ctx context.Context, q api.MessagesQuery) ([]message.Message, error) {
	q.AgentID = s.cfg.AgentID
	return s.client.Messages(ctx, q)
}

// Subscribe returns a channel of store and connectivity changes.
func (s *Session) Subscribe(ctx context.Context) (<-chan conversation.Change, string) {
	return s.events.Subscribe(ctx)
}

// AgentID returns the local agent.
func (s *Session) AgentID() string { return s.cfg.AgentID }

// Store exposes the conversation view store for reading.
func (s *Session) Store() *conversation.Store { return s.store }

// Messages returns the active conversation.
func (s *Session) Messages() []message.Message { return s.store.Messages() }

// Peers returns the latest peer list.
func (s *Session) Peers() []message.Agent { return s.peers.Agents() }

// Connected reports whether the live stream is up.
func (s *Session) Connected() bool { return s.stream.Connected() }

// Close stops the stream, its reconnect timer, peer polling, and closes all
// subscriptions. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true

	s.stream.Close()
	s.peers.Stop()
	s.events.Close()
	s.logger.Info("session closed")
}
