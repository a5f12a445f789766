// Package densefeed rewrites the x.com web client into a dense monospace
// layout inside a Chrome tab driven over the DevTools protocol, and keeps a
// diagnostics overlay checking the result.
//
// A Coordinator owns the browser and one Session per qualifying page. A
// Session is the per-page context object: it applies the transform, watches
// for inserted tweets, listens for keyboard shortcuts and runs diagnostics.
// Status messages and reports flow out through sinks (stdout JSON lines,
// in-process callbacks); MCP tools and a loopback HTTP API drive sessions.
package densefeed

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/densefeed/dbopen"
	"github.com/hazyhaar/densefeed/densefeed/internal/browser"
	"github.com/hazyhaar/densefeed/densefeed/internal/config"
	"github.com/hazyhaar/densefeed/densefeed/internal/sink"
	"github.com/hazyhaar/densefeed/dom"
	"github.com/hazyhaar/densefeed/dom/roddom"
	"github.com/hazyhaar/densefeed/idgen"
	"github.com/hazyhaar/densefeed/role"
)

// Errors returned by the Coordinator.
var (
	ErrNotMatched     = errors.New("densefeed: url does not match any configured host")
	ErrUnknownSession = errors.New("densefeed: unknown session")
	ErrDuplicate      = errors.New("densefeed: session already exists")
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithSinks adds output sinks.
func WithSinks(s ...Sink) Option { return func(c *Coordinator) { c.sinks = append(c.sinks, s...) } }

// WithLogLevel hands sessions the level variable debug mode lowers.
func WithLogLevel(lv *slog.LevelVar) Option { return func(c *Coordinator) { c.level = lv } }

// Coordinator is the host glue: it owns the browser and starts one Session
// per qualifying page.
type Coordinator struct {
	cfg    *Config
	roles  role.Map
	mgr    *browser.Manager
	sinks  []Sink
	sinkR  *sink.Router
	level  *slog.LevelVar
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	pages    map[string]*rod.Page
}

// New creates a Coordinator. The browser is not started until Start.
func New(cfg *Config, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	roles, err := cfg.Roles()
	if err != nil {
		return nil, err
	}
	mode, err := browser.ParseMode(cfg.Browser.Stealth)
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		cfg:      cfg,
		roles:    roles,
		sessions: make(map[string]*Session),
		pages:    make(map[string]*rod.Page),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.sinkR = sink.NewRouter(c.logger, c.sinks...)
	c.mgr = browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Mode:             mode,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           c.logger,
	})
	return c, nil
}

// Start launches the browser, opens every configured page (file and sites
// table) and, with a remote browser, attaches to already open matching
// tabs. A page that fails to open is logged and skipped.
func (c *Coordinator) Start(ctx context.Context) error {
	if _, err := c.mgr.Start(ctx); err != nil {
		return fmt.Errorf("densefeed: start browser: %w", err)
	}
	c.mgr.OnRecycle(func(*rod.Browser) { c.reopen(ctx) })

	pages, err := c.configuredPages(ctx)
	if err != nil {
		c.logger.Error("densefeed: load sites", "error", err)
	}
	for _, p := range pages {
		if _, err := c.OpenPage(ctx, p); err != nil {
			c.logger.Error("densefeed: open page", "url", p.URL, "error", err)
		}
	}

	if c.cfg.Browser.Remote != "" {
		n, err := c.Attach(ctx)
		if err != nil {
			c.logger.Warn("densefeed: attach", "error", err)
		}
		c.logger.Info("densefeed: attached to open tabs", "count", n)
	}
	return nil
}

// configuredPages merges the file's pages with the active rows of the
// sites table.
func (c *Coordinator) configuredPages(ctx context.Context) ([]PageConfig, error) {
	pages := slices.Clone(c.cfg.Pages)
	if c.cfg.Database == "" {
		return pages, nil
	}
	db, err := dbopen.Open(c.cfg.Database, dbopen.WithMkdirAll(), dbopen.WithSchema(config.Schema))
	if err != nil {
		return pages, err
	}
	defer db.Close()
	sites, err := config.LoadSites(ctx, db)
	if err != nil {
		return pages, err
	}
	return append(pages, sites...), nil
}

// OpenPage opens a tab on p.URL and starts a Session on it.
func (c *Coordinator) OpenPage(ctx context.Context, p PageConfig) (*Session, error) {
	if !c.cfg.Matches(p.URL) {
		return nil, fmt.Errorf("%w: %s", ErrNotMatched, p.URL)
	}
	page, err := c.mgr.OpenTab(ctx, p.URL)
	if err != nil {
		return nil, err
	}
	doc := roddom.New(ctx, page, roddom.WithLogger(c.logger))
	s, err := c.AddDocument(ctx, p, doc)
	if err != nil {
		_ = page.Close()
		return nil, err
	}
	c.mu.Lock()
	c.pages[s.ID()] = page
	c.mu.Unlock()
	return s, nil
}

// Attach starts sessions on already open tabs whose URL matches. Tabs that
// already have a session are skipped.
func (c *Coordinator) Attach(ctx context.Context) (int, error) {
	pages, err := c.mgr.AttachTab(c.cfg.Matches)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, page := range pages {
		if c.hasPage(page) {
			continue
		}
		doc := roddom.New(ctx, page, roddom.WithLogger(c.logger))
		s, err := c.AddDocument(ctx, PageConfig{URL: doc.URL()}, doc)
		if err != nil {
			c.logger.Warn("densefeed: attach tab", "error", err)
			continue
		}
		c.mu.Lock()
		c.pages[s.ID()] = page
		c.mu.Unlock()
		n++
	}
	return n, nil
}

func (c *Coordinator) hasPage(page *rod.Page) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pages {
		if p.TargetID == page.TargetID {
			return true
		}
	}
	return false
}

// AddDocument starts a Session over an existing document.
func (c *Coordinator) AddDocument(ctx context.Context, p PageConfig, doc dom.Document) (*Session, error) {
	id := p.ID
	if id == "" {
		id = idgen.Prefixed("ses_", idgen.Default)()
	}

	c.mu.Lock()
	if _, ok := c.sessions[id]; ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, id)
	}
	s := NewSession(doc, SessionConfig{
		ID:                  id,
		Roles:               c.roles,
		Throttle:            c.cfg.Transform.Throttle,
		ScrollThrottle:      c.cfg.Transform.ScrollThrottle,
		CacheTTL:            c.cfg.Transform.CacheTTL,
		DiagnosticsInterval: c.cfg.Diagnostics.Interval,
		AutoRun:             c.cfg.Diagnostics.AutoRunEnabled(),
		Panel:               c.cfg.Diagnostics.PanelEnabled(),
		Performance:         p.Performance,
		Debug:               p.Debug,
		Sink:                c.sinkR,
		LogLevel:            c.level,
		Logger:              c.logger,
	})
	c.sessions[id] = s
	c.mu.Unlock()

	if err := s.Start(ctx); err != nil {
		c.mu.Lock()
		delete(c.sessions, id)
		c.mu.Unlock()
		return nil, err
	}
	return s, nil
}

// Session returns the session with the given id.
func (c *Coordinator) Session(id string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s, nil
}

// Sessions returns every session ordered by id.
func (c *Coordinator) Sessions() []*Session {
	c.mu.Lock()
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	c.mu.Unlock()
	slices.SortFunc(out, func(a, b *Session) int { return cmp.Compare(a.ID(), b.ID()) })
	return out
}

// Close stops one session and closes its tab, if it owns one.
func (c *Coordinator) Close(id string) error {
	c.mu.Lock()
	s, ok := c.sessions[id]
	page := c.pages[id]
	delete(c.sessions, id)
	delete(c.pages, id)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	s.Stop()
	if page != nil {
		return page.Close()
	}
	return nil
}

// Stop stops every session, the sinks and the browser.
func (c *Coordinator) Stop() {
	c.stopSessions()
	if err := c.sinkR.Close(); err != nil {
		c.logger.Warn("densefeed: close sinks", "error", err)
	}
	if err := c.mgr.Close(); err != nil {
		c.logger.Warn("densefeed: close browser", "error", err)
	}
}

func (c *Coordinator) stopSessions() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*Session)
	c.pages = make(map[string]*rod.Page)
	c.mu.Unlock()
	for id, s := range sessions {
		s.Stop()
		c.logger.Info("densefeed: stopped session", "id", id)
	}
}

// reopen runs after a browser recycle: the old tabs are gone, so sessions
// are dropped and the configured pages opened again.
func (c *Coordinator) reopen(ctx context.Context) {
	c.stopSessions()
	pages, err := c.configuredPages(ctx)
	if err != nil {
		c.logger.Error("densefeed: load sites", "error", err)
	}
	for _, p := range pages {
		if _, err := c.OpenPage(ctx, p); err != nil {
			c.logger.Error("densefeed: reopen page", "url", p.URL, "error", err)
		}
	}
}
