// Package mutwatch reruns the tweet pass when the page inserts new tweets.
//
// One subtree-wide added-node subscription is installed on the body. Each
// batch is scanned for elements that are, or contain, a tweet; a hit runs
// the pass through a leading-edge throttle so a burst of insertions inside
// one window yields a single pass. Calls landing in the cooldown are dropped
// and counted, never queued.
package mutwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/densefeed/dom"
	"github.com/hazyhaar/densefeed/state"
	"github.com/hazyhaar/densefeed/throttle"
)

// DefaultWindow is the throttle window between two tweet passes.
const DefaultWindow = 50 * time.Millisecond

// ErrNoSelector is returned by Start when the tweet role has no selector.
var ErrNoSelector = errors.New("mutwatch: empty tweet selector")

// Config controls the watcher.
type Config struct {
	// Selector matches tweet elements.
	Selector string
	// Window is the throttle window. Default: 50ms.
	Window time.Duration
	// Clock replaces time.Now in the throttle, for tests.
	Clock func() time.Time
	// Logger receives debug output. Default: discard.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// Watcher observes one document.
type Watcher struct {
	cfg     Config
	doc     dom.Document
	st      *state.State
	pass    func(context.Context)
	limiter *throttle.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	sub     dom.Subscription
	stopCtx func() bool
	passes  int64
}

// New creates a Watcher that calls pass for every admitted batch. pass is
// responsible for its own serialisation against other DOM work.
func New(doc dom.Document, st *state.State, pass func(context.Context), cfg Config) *Watcher {
	cfg.defaults()
	var opts []throttle.Option
	if cfg.Clock != nil {
		opts = append(opts, throttle.WithClock(cfg.Clock))
	}
	return &Watcher{
		cfg:     cfg,
		doc:     doc,
		st:      st,
		pass:    pass,
		limiter: throttle.New(cfg.Window, opts...),
		logger:  cfg.Logger,
	}
}

// Start installs the subscription. Calling Start on a running watcher
// returns the existing registration. The watcher stops when ctx is done or
// the returned Subscription is cancelled.
func (w *Watcher) Start(ctx context.Context) (dom.Subscription, error) {
	if w.cfg.Selector == "" {
		return nil, ErrNoSelector
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != nil {
		return dom.CancelFunc(w.Stop), nil
	}

	sub, err := w.doc.ObserveAdded(func(added []dom.Element) {
		w.handle(ctx, added)
	})
	if err != nil {
		return nil, fmt.Errorf("mutwatch: observe: %w", err)
	}
	w.sub = sub
	w.stopCtx = context.AfterFunc(ctx, w.Stop)
	w.st.SetObserverActive(true)
	w.logger.Debug("mutwatch: observer started", "selector", w.cfg.Selector, "window", w.cfg.Window)
	return dom.CancelFunc(w.Stop), nil
}

// Stop cancels the subscription and clears the observer-active flag. It is
// safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	sub, stopCtx := w.sub, w.stopCtx
	w.sub, w.stopCtx = nil, nil
	w.mu.Unlock()
	if sub == nil {
		return
	}
	if stopCtx != nil {
		stopCtx()
	}
	sub.Cancel()
	w.st.SetObserverActive(false)
	w.logger.Debug("mutwatch: observer stopped")
}

// Running reports whether a subscription is installed.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sub != nil
}

// Passes returns how many tweet passes the watcher has run.
func (w *Watcher) Passes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.passes
}

func (w *Watcher) handle(ctx context.Context, added []dom.Element) {
	if ctx.Err() != nil {
		return
	}
	if !w.containsTweet(added) {
		return
	}
	if !w.limiter.Allow() {
		w.st.Throttled()
		w.logger.Debug("mutwatch: batch dropped in cooldown", "added", len(added))
		return
	}
	w.mu.Lock()
	w.passes++
	w.mu.Unlock()
	w.pass(ctx)
}

// containsTweet reports whether any added element is a tweet or has one
// among its descendants.
func (w *Watcher) containsTweet(added []dom.Element) bool {
	for _, el := range added {
		ok, err := el.Matches(w.cfg.Selector)
		if err != nil {
			w.st.Error()
			w.logger.Warn("mutwatch: match", "selector", w.cfg.Selector, "error", err)
			return false
		}
		if ok {
			return true
		}
		inner, err := el.Query(w.cfg.Selector)
		if err != nil {
			w.st.Error()
			w.logger.Warn("mutwatch: query", "selector", w.cfg.Selector, "error", err)
			return false
		}
		if inner != nil {
			return true
		}
	}
	return false
}
