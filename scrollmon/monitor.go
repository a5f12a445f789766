// Package scrollmon measures how often the page scrolls.
//
// Window scroll events pass through a leading-edge throttle. Every admitted
// event is counted; once more than a second has gone by since the last
// measurement the count is stored as the scroll rate and, in debug mode,
// logged.
package scrollmon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/densefeed/dom"
	"github.com/hazyhaar/densefeed/state"
	"github.com/hazyhaar/densefeed/throttle"
)

// DefaultWindow is the throttle window between two counted scroll events.
const DefaultWindow = 100 * time.Millisecond

// Period is the measurement period of the scroll rate.
const Period = time.Second

// Config controls the monitor.
type Config struct {
	// Window is the throttle window. Default: 100ms.
	Window time.Duration
	// Clock replaces time.Now, for tests.
	Clock func() time.Time
	// Logger receives the rate lines. Default: discard.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// Monitor counts scroll events of one document.
type Monitor struct {
	cfg     Config
	doc     dom.Document
	st      *state.State
	limiter *throttle.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	sub     dom.Subscription
	stopCtx func() bool
	count   int
	since   time.Time
}

// New creates a Monitor reporting into st.
func New(doc dom.Document, st *state.State, cfg Config) *Monitor {
	cfg.defaults()
	return &Monitor{
		cfg:     cfg,
		doc:     doc,
		st:      st,
		limiter: throttle.New(cfg.Window, throttle.WithClock(cfg.Clock)),
		logger:  cfg.Logger,
	}
}

// Start subscribes to scroll events. Calling Start on a running monitor
// returns the existing registration. The monitor stops when ctx is done or
// the returned Subscription is cancelled.
func (m *Monitor) Start(ctx context.Context) (dom.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub != nil {
		return dom.CancelFunc(m.Stop), nil
	}
	sub, err := m.doc.OnScroll(m.handle)
	if err != nil {
		return nil, fmt.Errorf("scrollmon: subscribe: %w", err)
	}
	m.sub = sub
	m.count = 0
	m.since = m.cfg.Clock()
	m.stopCtx = context.AfterFunc(ctx, m.Stop)
	m.logger.Debug("scrollmon: performance monitoring set up", "window", m.cfg.Window)
	return dom.CancelFunc(m.Stop), nil
}

// Stop cancels the subscription. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	sub, stopCtx := m.sub, m.stopCtx
	m.sub, m.stopCtx = nil, nil
	m.mu.Unlock()
	if sub == nil {
		return
	}
	if stopCtx != nil {
		stopCtx()
	}
	sub.Cancel()
}

// Running reports whether a subscription is installed.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sub != nil
}

func (m *Monitor) handle() {
	if !m.limiter.Allow() {
		return
	}
	now := m.cfg.Clock()
	m.mu.Lock()
	if m.sub == nil {
		m.mu.Unlock()
		return
	}
	m.st.Scroll()
	m.count++
	if now.Sub(m.since) <= Period {
		m.mu.Unlock()
		return
	}
	n := m.count
	m.count, m.since = 0, now
	m.mu.Unlock()

	m.st.SetScrollRate(n)
	if m.st.DebugMode() {
		m.logger.Info("scrollmon: scroll events per second", "count", n)
	}
}
