package densefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/densefeed/csscache"
	"github.com/hazyhaar/densefeed/densefeed/internal/sink"
	"github.com/hazyhaar/densefeed/diagnostics"
	"github.com/hazyhaar/densefeed/dom"
	"github.com/hazyhaar/densefeed/idgen"
	"github.com/hazyhaar/densefeed/mutwatch"
	"github.com/hazyhaar/densefeed/role"
	"github.com/hazyhaar/densefeed/scrollmon"
	"github.com/hazyhaar/densefeed/state"
	"github.com/hazyhaar/densefeed/transform"
)

// Toggle modes accepted by Session.Toggle.
const (
	ModePerformance = "performance"
	ModeDebug       = "debug"
)

// StatusInitialized is the status sent once a Session has started.
const StatusInitialized = "initialized"

// ErrUnknownMode is returned by Toggle for a mode it does not know.
var ErrUnknownMode = errors.New("densefeed: unknown mode")

// SessionConfig configures one Session.
type SessionConfig struct {
	// ID names the session. Default: a generated "ses_" id.
	ID    string
	Roles role.Map

	// Throttle is the mutation watcher window. Default: 50ms.
	Throttle time.Duration
	// ScrollThrottle is the scroll monitor window. Default: 100ms.
	ScrollThrottle time.Duration
	// CacheTTL is the CSS cache expiry. Default: 30s.
	CacheTTL time.Duration

	// DiagnosticsInterval between automatic passes. Default: 5s.
	DiagnosticsInterval time.Duration
	// AutoRun starts the periodic diagnostics loop. Without it passes only
	// run on demand.
	AutoRun bool
	// Panel renders the in-page overlay after every pass.
	Panel bool

	// Performance and Debug are the initial modes.
	Performance bool
	Debug       bool

	// Sink receives status messages and reports. Optional.
	Sink sink.Sink
	// LogLevel, when set, is lowered to Debug while debug mode is on.
	LogLevel *slog.LevelVar
	Logger   *slog.Logger
}

func (c *SessionConfig) defaults() {
	if c.ID == "" {
		c.ID = idgen.Prefixed("ses_", idgen.Default)()
	}
	if c.Roles.Selector(role.Tweet) == "" {
		c.Roles = role.Default()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Session is the per-page context object. It owns the transform state, the
// CSS cache, the transformer, the mutation watcher and the diagnostics
// engine for one document, and serialises every DOM pass behind one mutex.
type Session struct {
	cfg    SessionConfig
	doc    dom.Document
	logger *slog.Logger

	// mu serialises DOM work: transform passes, tweet passes, diagnostics
	// and shortcut handling.
	mu sync.Mutex

	st      *state.State
	cache   *csscache.Cache
	tf      *transform.Transformer
	watcher *mutwatch.Watcher
	scroll  *scrollmon.Monitor
	engine  *diagnostics.Engine

	baseLevel slog.Level

	ctx atomic.Pointer[context.Context]

	life      sync.Mutex
	cancel    context.CancelFunc
	stopAfter func() bool
	subs      []dom.Subscription
	started   bool
	startedAt time.Time
	reloads   int
}

// NewSession wires a Session over doc. Nothing touches the document until
// Start.
func NewSession(doc dom.Document, cfg SessionConfig) *Session {
	cfg.defaults()
	s := &Session{
		cfg:    cfg,
		doc:    doc,
		logger: cfg.Logger.With("session", cfg.ID),
		st:     state.New(),
	}
	bg := context.Background()
	s.ctx.Store(&bg)
	if cfg.LogLevel != nil {
		s.baseLevel = cfg.LogLevel.Level()
	}
	s.cache = csscache.New(s.st, csscache.WithTTL(cfg.CacheTTL))
	s.tf = transform.New(doc, cfg.Roles, s.st, s.cache, s.logger)
	s.watcher = mutwatch.New(doc, s.st, s.tweetPass, mutwatch.Config{
		Selector: cfg.Roles.Selector(role.Tweet),
		Window:   cfg.Throttle,
		Logger:   s.logger,
	})
	s.scroll = scrollmon.New(doc, s.st, scrollmon.Config{
		Window: cfg.ScrollThrottle,
		Logger: s.logger,
	})
	s.engine = diagnostics.New(doc, cfg.Roles, s.st, diagnostics.Config{
		Interval:    cfg.DiagnosticsInterval,
		Panel:       cfg.Panel,
		Locker:      &s.mu,
		CacheSize:   s.cache.Len,
		CacheErrors: s.cacheErrors,
		OnReport:    s.deliverReport,
		Logger:      s.logger,
	})
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.cfg.ID }

// URL returns the document URL.
func (s *Session) URL() string { return s.doc.URL() }

// Start runs the full start sequence: stylesheet, full transform pass,
// mutation watcher, keyboard shortcuts, scroll monitor, reload hook,
// diagnostics, status message. A failing step is logged and counted; later
// steps still run. Start on a started session is a no-op. The session stops
// by itself when ctx is done.
func (s *Session) Start(ctx context.Context) error {
	s.life.Lock()
	defer s.life.Unlock()
	if s.started {
		return nil
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.ctx.Store(&ctx)

	s.mu.Lock()
	if err := transform.Inject(s.doc); err != nil {
		s.failed("inject stylesheet", err)
	}
	if s.cfg.Performance {
		if err := s.setPerformance(true); err != nil {
			s.failed("performance mode", err)
		}
	}
	if s.cfg.Debug {
		s.setDebug(true)
	}
	res := s.tf.Apply(ctx)
	s.st.SetInitialized(true)
	dom.Release(s.doc)
	s.mu.Unlock()
	s.logger.Info("densefeed: transform applied",
		"elements", res.Elements, "tweets", res.Tweets, "buttons", res.Buttons,
		"labels", res.Labels, "promoted", res.Promoted, "errors", res.Errors)

	if sub, err := s.watcher.Start(ctx); err != nil {
		s.failed("mutation watcher", err)
	} else {
		s.subs = append(s.subs, sub)
	}

	if sub, err := s.doc.OnShortcut(s.handleShortcut); err != nil {
		s.failed("keyboard shortcuts", err)
	} else {
		s.subs = append(s.subs, sub)
	}

	if sub, err := s.scroll.Start(ctx); err != nil {
		s.failed("scroll monitor", err)
	} else {
		s.subs = append(s.subs, sub)
	}

	if sub, err := s.doc.OnLoad(s.reload); err != nil {
		s.failed("reload hook", err)
	} else {
		s.subs = append(s.subs, sub)
	}

	if s.cfg.AutoRun {
		s.subs = append(s.subs, s.engine.Start(ctx))
	}

	s.started = true
	s.startedAt = time.Now()
	s.stopAfter = context.AfterFunc(ctx, s.Stop)

	if s.cfg.Sink != nil {
		st := sink.Status{
			Type:      sink.StatusType,
			SessionID: s.cfg.ID,
			Status:    StatusInitialized,
			URL:       s.doc.URL(),
			Timestamp: s.startedAt.UnixMilli(),
		}
		if err := s.cfg.Sink.SendStatus(ctx, st); err != nil {
			s.logger.Warn("densefeed: send status", "error", err)
		}
	}
	s.logger.Info("densefeed: session started", "url", s.doc.URL())
	return nil
}

// Stop cancels every subscription. The session mutex is not held while
// cancelling: the diagnostics loop may be waiting on it.
func (s *Session) Stop() {
	s.life.Lock()
	defer s.life.Unlock()
	if !s.started {
		return
	}
	s.stopAfter()
	for _, sub := range slices.Backward(s.subs) {
		sub.Cancel()
	}
	s.subs = nil
	s.watcher.Stop()
	s.scroll.Stop()
	s.cancel()
	s.started = false
	s.logger.Info("densefeed: session stopped")
}

// Running reports whether Start has run and neither Stop nor the
// cancellation of the Start context has happened since.
func (s *Session) Running() bool {
	s.life.Lock()
	defer s.life.Unlock()
	return s.started
}

// Stats returns a snapshot of the session counters and flags.
func (s *Session) Stats() state.Stats { return s.st.Snapshot() }

// LastReport returns the latest diagnostics report.
func (s *Session) LastReport() (diagnostics.Report, bool) { return s.engine.Last() }

// Rescan runs a diagnostics pass synchronously.
func (s *Session) Rescan(ctx context.Context) diagnostics.Report {
	return s.engine.Run(ctx)
}

// Reapply runs a full transform pass. Already transformed elements are
// skipped.
func (s *Session) Reapply(ctx context.Context) transform.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer dom.Release(s.doc)
	return s.tf.Apply(ctx)
}

// Toggle flips a mode and returns its new value.
func (s *Session) Toggle(mode string) (bool, error) {
	switch mode {
	case ModePerformance:
		s.mu.Lock()
		defer s.mu.Unlock()
		defer dom.Release(s.doc)
		on := !s.st.PerformanceMode()
		if err := s.setPerformance(on); err != nil {
			s.st.Error()
			return !on, err
		}
		return on, nil
	case ModeDebug:
		on := !s.st.DebugMode()
		s.setDebug(on)
		return on, nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

func (s *Session) handleShortcut(sc dom.Shortcut) {
	s.logger.Debug("densefeed: shortcut", "keys", string(sc))
	switch sc {
	case dom.ShortcutPerformance:
		if _, err := s.Toggle(ModePerformance); err != nil {
			s.logger.Warn("densefeed: toggle performance", "error", err)
		}
	case dom.ShortcutDebug:
		_, _ = s.Toggle(ModeDebug)
		s.engine.Trigger()
	case dom.ShortcutRescan:
		s.engine.Trigger()
	}
}

// setPerformance mirrors the flag onto the body class. Caller holds mu.
func (s *Session) setPerformance(on bool) error {
	s.st.SetPerformance(on)
	body, err := s.doc.Body()
	if err != nil {
		return fmt.Errorf("densefeed: body: %w", err)
	}
	if body == nil {
		return nil
	}
	if on {
		err = body.AddClass(role.ClassPerformance)
	} else {
		err = body.RemoveClass(role.ClassPerformance)
	}
	if err != nil {
		return fmt.Errorf("densefeed: performance class: %w", err)
	}
	s.logger.Info("densefeed: performance mode", "on", on)
	return nil
}

func (s *Session) setDebug(on bool) {
	s.st.SetDebug(on)
	if lv := s.cfg.LogLevel; lv != nil {
		if on {
			lv.Set(slog.LevelDebug)
		} else {
			lv.Set(s.baseLevel)
		}
	}
	s.logger.Info("densefeed: debug mode", "on", on)
}

func (s *Session) tweetPass(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer dom.Release(s.doc)
	res := s.tf.TransformTweets(ctx)
	res.Promoted = s.tf.SuppressPromoted(ctx).Promoted
	if res.Tweets > 0 || res.Promoted > 0 {
		s.logger.Debug("densefeed: tweet pass", "tweets", res.Tweets, "promoted", res.Promoted)
	}
}

// reload reruns the DOM steps of Start on a freshly loaded document: the
// stylesheet, the performance class and the full transform pass. The
// subscriptions survive the load.
func (s *Session) reload() {
	ctx := *s.ctx.Load()
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	dom.Release(s.doc)
	if err := transform.Inject(s.doc); err != nil {
		s.failed("reload: inject stylesheet", err)
	}
	if s.st.PerformanceMode() {
		if err := s.setPerformance(true); err != nil {
			s.failed("reload: performance mode", err)
		}
	}
	res := s.tf.Apply(ctx)
	dom.Release(s.doc)
	s.mu.Unlock()

	s.life.Lock()
	s.reloads++
	s.life.Unlock()
	s.logger.Info("densefeed: page loaded, transform reapplied",
		"url", s.doc.URL(), "tweets", res.Tweets, "buttons", res.Buttons,
		"promoted", res.Promoted, "errors", res.Errors)
}

func (s *Session) cacheErrors() []string {
	verrs := s.cache.ValidationErrors()
	out := make([]string, 0, len(verrs))
	for _, v := range verrs {
		out = append(out, v.Error())
	}
	return out
}

func (s *Session) deliverReport(rep diagnostics.Report) {
	if s.cfg.Sink == nil {
		return
	}
	if err := s.cfg.Sink.SendReport(*s.ctx.Load(), rep); err != nil {
		s.logger.Warn("densefeed: send report", "report", rep.ID, "error", err)
	}
}

func (s *Session) failed(step string, err error) {
	s.st.Error()
	s.logger.Warn("densefeed: start step failed", "step", step, "error", err)
}

// SessionInfo summarises a Session for the control surfaces.
type SessionInfo struct {
	ID      string      `json:"id"`
	URL     string      `json:"url"`
	Running bool        `json:"running"`
	Started time.Time   `json:"started,omitzero"`
	Reloads int         `json:"reloads"`
	Stats   state.Stats `json:"stats"`
}

// Info returns a summary of the session.
func (s *Session) Info() SessionInfo {
	s.life.Lock()
	running, started, reloads := s.started, s.startedAt, s.reloads
	s.life.Unlock()
	return SessionInfo{
		ID:      s.cfg.ID,
		URL:     s.doc.URL(),
		Running: running,
		Started: started,
		Reloads: reloads,
		Stats:   s.st.Snapshot(),
	}
}
