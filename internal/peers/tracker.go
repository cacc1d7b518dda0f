// ABOUTME: Peer list tracker that polls the agents endpoint and refreshes on demand
// ABOUTME: On-demand refreshes are coalesced and rate limited so stream bursts cost one fetch

package peers

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/agentcomm/internal/message"
)

const (
	// DefaultPollInterval is how often the peer list is refetched without a trigger.
	DefaultPollInterval = 5 * time.Second
	// DefaultRefreshRate bounds on-demand refreshes per second.
	DefaultRefreshRate = 1.0
	fetchTimeout       = 10 * time.Second
)

// Fetcher returns the peers of agentID. *api.Client satisfies it.
type Fetcher interface {
	Agents(ctx context.Context, agentID string) ([]message.Agent, error)
}

// Options configures a Tracker.
type Options struct {
	PollInterval time.Duration
	RefreshRate  float64 // refreshes per second, burst 1
	Logger       *slog.Logger
	OnUpdate     func([]message.Agent)
}

// Tracker keeps the latest peer list of one agent.
type Tracker struct {
	fetcher  Fetcher
	agentID  string
	interval time.Duration
	limiter  *rate.Limiter
	onUpdate func([]message.Agent)
	logger   *slog.Logger

	trigger chan struct{}

	mu     sync.RWMutex
	agents []message.Agent
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker creates a tracker. Call Start to begin polling.
func NewTracker(f Fetcher, agentID string, opts Options) *Tracker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RefreshRate <= 0 {
		opts.RefreshRate = DefaultRefreshRate
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Tracker{
		fetcher:  f,
		agentID:  agentID,
		interval: opts.PollInterval,
		limiter:  rate.NewLimiter(rate.Limit(opts.RefreshRate), 1),
		onUpdate: opts.OnUpdate,
		logger:   opts.Logger.With("component", "peers", "agent_id", agentID),
		trigger:  make(chan struct{}, 1),
	}
}

// Start fetches once immediately and then polls until ctx is cancelled or
// Stop is called. Calling Start on a running tracker is a no-op.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(ctx)
}

// Stop ends polling and waits for the loop to exit. Idempotent.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}

// Refresh requests a fetch soon. Requests made while one is pending are
// merged into it.
func (t *Tracker) Refresh() {
	select {
	case t.trigger <- struct{}{}:
	default:
	}
}

// Agents returns a copy of the latest peer list.
func (t *Tracker) Agents() []message.Agent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.agents)
}

func (t *Tracker) run(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.fetch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fetch(ctx)
		case <-t.trigger:
			if err := t.limiter.Wait(ctx); err != nil {
				return
			}
			t.fetch(ctx)
		}
	}
}

func (t *Tracker) fetch(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	agents, err := t.fetcher.Agents(fetchCtx, t.agentID)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Warn("failed to fetch peers", "error", err)
		}
		return
	}

	t.mu.Lock()
	t.agents = agents
	t.mu.Unlock()

	t.logger.Debug("fetched peers", "count", len(agents))
	if t.onUpdate != nil {
		t.onUpdate(slices.Clone(agents))
	}
}
