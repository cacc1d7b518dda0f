// ABOUTME: Messaging gateway wiring the HTTP API, token issuer, message store, and metrics
// ABOUTME: Handles route registration, serving, and graceful shutdown

package gateway

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/agentcomm/internal/auth"
	"github.com/2389/agentcomm/internal/metrics"
	"github.com/2389/agentcomm/internal/store"
)

const (
	// DefaultPollInterval is how often an open event stream checks for new messages.
	DefaultPollInterval = time.Second
	// DefaultConversationLimit and DefaultInboxLimit are the page sizes used
	// when a request gives none.
	DefaultConversationLimit = 50
	DefaultInboxLimit        = 100
)

// Config configures a Gateway.
type Config struct {
	Addr         string
	JWTSecret    []byte        // random per process when empty
	TokenTTL     time.Duration // defaults to auth.DefaultTokenTTL
	PollInterval time.Duration // defaults to DefaultPollInterval

	// Registry receives the server's collectors and backs /metrics. A
	// private registry is created when nil.
	Registry *prometheus.Registry
	// Now is the clock used for message timestamps.
	Now func() time.Time
}

// Gateway serves the agent messaging API.
type Gateway struct {
	config     Config
	store      store.Store
	verifier   *auth.JWTVerifier
	metrics    *metrics.Server
	registry   *prometheus.Registry
	logger     *slog.Logger
	httpServer *http.Server

	// streams are ended when done is cancelled so shutdown does not wait on them
	done   context.Context
	cancel context.CancelFunc
}

// New creates a gateway over st. The gateway owns st and closes it on Shutdown.
func New(cfg Config, st store.Store, logger *slog.Logger) (*Gateway, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	if len(cfg.JWTSecret) == 0 {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		cfg.JWTSecret = secret
		logger.Warn("no jwt secret configured, using a random one; tokens will not survive a restart")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = auth.DefaultTokenTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
		cfg.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	done, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		config:   cfg,
		store:    st,
		verifier: auth.NewJWTVerifier(cfg.JWTSecret),
		metrics:  metrics.NewServer(cfg.Registry),
		registry: cfg.Registry,
		logger:   logger,
		done:     done,
		cancel:   cancel,
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	authed := auth.HTTPAuthMiddleware(g.verifier)
	ownAgent := func(h http.HandlerFunc) http.Handler {
		return authed(auth.RequireAgentParam()(h))
	}

	g.route(mux, "GET /health", http.HandlerFunc(g.handleHealth))
	g.route(mux, "POST /token", http.HandlerFunc(g.handleToken))
	g.route(mux, "POST /messages/send", authed(http.HandlerFunc(g.handleSend)))
	g.route(mux, "GET /messages/stream", auth.QueryTokenMiddleware(g.verifier)(http.HandlerFunc(g.handleStream)))
	g.route(mux, "GET /messages", authed(http.HandlerFunc(g.handleMessages)))
	g.route(mux, "GET /agents", ownAgent(g.handleAgents))
	g.route(mux, "GET /conversations/{other}", ownAgent(g.handleConversation))
	mux.Handle("GET /metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))

	return mux
}

// route registers h under pattern, counting responses by route and status.
func (g *Gateway) route(mux *http.ServeMux, pattern string, h http.Handler) {
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		g.metrics.Requests.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
	}))
}

// statusRecorder captures the response status. Unwrap lets
// http.ResponseController reach the underlying writer's Flush.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// IssueToken returns a token for agentID signed with the gateway's secret.
func (g *Gateway) IssueToken(agentID string) (string, error) {
	return g.verifier.Generate(agentID, g.config.TokenTTL)
}

// Run listens on the configured address and serves until ctx is cancelled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Addr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown ends open event streams, stops the HTTP server, and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.cancel()

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// CloseStreams ends every open event stream without stopping the server.
// Tests use it before closing an httptest server.
func (g *Gateway) CloseStreams() {
	g.cancel()
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}
