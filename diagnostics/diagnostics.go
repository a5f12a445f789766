// Package diagnostics scans the transformed page for visual regressions and
// renders the findings into a fixed overlay panel.
//
// A pass runs five independent checks (text overlap, broken buttons, layout,
// style conflicts, selector misses). Each check runs under recover: a check
// that panics or errors contributes zero findings and a recorded check error,
// and the remaining checks and the panel update still happen. Every pass
// produces a fresh Report that fully replaces the previous one.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/densefeed/dom"
	"github.com/hazyhaar/densefeed/idgen"
	"github.com/hazyhaar/densefeed/role"
	"github.com/hazyhaar/densefeed/state"
)

// Category names one of the five checks.
type Category string

const (
	TextOverlap    Category = "text-overlap"
	BrokenButtons  Category = "broken-buttons"
	Layout         Category = "layout"
	StyleConflicts Category = "style-conflicts"
	SelectorMisses Category = "selector-misses"
)

// Categories lists the checks in report order.
var Categories = []Category{TextOverlap, BrokenButtons, Layout, StyleConflicts, SelectorMisses}

// Issue is one finding. Element is nil for findings not tied to a node. Its
// handle is released when the pass ends; use Selector to find it again.
type Issue struct {
	Category Category    `json:"category"`
	Type     string      `json:"type"`
	Element  dom.Element `json:"-"`
	Selector string      `json:"selector"`
	Message  string      `json:"message"`
}

// CategoryReport holds the findings of one check.
type CategoryReport struct {
	Category Category `json:"category"`
	Issues   []Issue  `json:"issues"`
	// Err is set when the check failed and its findings were discarded.
	Err string `json:"error,omitempty"`
}

// Report is the outcome of one pass.
type Report struct {
	ID         string           `json:"id"`
	URL        string           `json:"url"`
	Started    time.Time        `json:"started"`
	Finished   time.Time        `json:"finished"`
	Total      int              `json:"total"`
	Categories []CategoryReport `json:"categories"`
	Stats      state.Stats      `json:"stats"`
	CacheSize  int              `json:"cache_size"`

	// CacheErrors are the most recent CSS cache validation failures.
	CacheErrors []string `json:"cache_errors,omitempty"`
}

// Count returns the number of findings in category c.
func (r Report) Count(c Category) int {
	for _, cr := range r.Categories {
		if cr.Category == c {
			return len(cr.Issues)
		}
	}
	return 0
}

// Issues returns the findings of category c.
func (r Report) Issues(c Category) []Issue {
	for _, cr := range r.Categories {
		if cr.Category == c {
			return cr.Issues
		}
	}
	return nil
}

// Phase is the engine's scan state.
type Phase int32

const (
	Idle Phase = iota
	Scanning
	Reporting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Reporting:
		return "reporting"
	}
	return fmt.Sprintf("phase(%d)", int32(p))
}

// DefaultInterval is the time between two automatic passes.
const DefaultInterval = 5 * time.Second

// Config controls the engine.
type Config struct {
	// Interval between automatic passes. Default: 5s.
	Interval time.Duration
	// Panel enables the overlay.
	Panel bool
	// Locker, when set, is held for the duration of each pass so scans do
	// not interleave with other DOM work.
	Locker sync.Locker
	// CacheSize reports the CSS cache size for the panel. Optional.
	CacheSize func() int
	// CacheErrors reports the CSS cache validation failures, oldest first.
	// Optional.
	CacheErrors func() []string
	// OnReport receives every finished Report. Optional.
	OnReport func(Report)
	// Logger receives one line per category per pass. Default: discard.
	Logger *slog.Logger
	// Now replaces time.Now, for tests.
	Now func() time.Time
	// IDs generates report ids. Default: "rpt_" + UUIDv7.
	IDs idgen.Generator
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.IDs == nil {
		c.IDs = idgen.Prefixed("rpt_", idgen.Default)
	}
}

// Engine runs diagnostics passes over one document.
type Engine struct {
	cfg    Config
	doc    dom.Document
	roles  role.Map
	st     *state.State
	logger *slog.Logger
	checks func() []check

	phase   atomic.Int32
	trigger chan struct{}

	mu      sync.Mutex
	last    *Report
	running bool
}

// New creates an Engine.
func New(doc dom.Document, roles role.Map, st *state.State, cfg Config) *Engine {
	cfg.defaults()
	e := &Engine{
		cfg:     cfg,
		doc:     doc,
		roles:   roles,
		st:      st,
		logger:  cfg.Logger,
		trigger: make(chan struct{}, 1),
	}
	e.checks = e.builtinChecks
	return e
}

// Phase returns the current scan state.
func (e *Engine) Phase() Phase { return Phase(e.phase.Load()) }

// Last returns the most recent Report, if any.
func (e *Engine) Last() (Report, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return Report{}, false
	}
	return *e.last, true
}

// Run performs one pass synchronously and returns its Report.
func (e *Engine) Run(ctx context.Context) Report {
	if e.cfg.Locker != nil {
		e.cfg.Locker.Lock()
		defer e.cfg.Locker.Unlock()
	}

	e.phase.Store(int32(Scanning))
	defer e.phase.Store(int32(Idle))

	rep := Report{
		ID:      e.cfg.IDs(),
		URL:     e.doc.URL(),
		Started: e.cfg.Now(),
	}
	for _, c := range e.checks() {
		cr := CategoryReport{Category: c.category}
		issues, err := e.safeRun(ctx, c)
		if err != nil {
			cr.Err = err.Error()
			e.st.Error()
			e.logger.Warn("diagnostics: check failed", "category", string(c.category), "error", err)
		} else {
			cr.Issues = issues
		}
		rep.Total += len(cr.Issues)
		rep.Categories = append(rep.Categories, cr)
	}

	e.phase.Store(int32(Reporting))
	e.st.DiagnosticsPass(rep.Total)
	rep.Stats = e.st.Snapshot()
	if e.cfg.CacheSize != nil {
		rep.CacheSize = e.cfg.CacheSize()
	}
	if e.cfg.CacheErrors != nil {
		rep.CacheErrors = e.cfg.CacheErrors()
	}
	rep.Finished = e.cfg.Now()

	if e.cfg.Panel {
		if err := e.renderPanel(rep); err != nil {
			e.st.Error()
			e.logger.Warn("diagnostics: render panel", "error", err)
		}
	}
	e.logSummary(rep)
	dom.Release(e.doc)

	e.mu.Lock()
	e.last = &rep
	e.mu.Unlock()

	if e.cfg.OnReport != nil {
		e.cfg.OnReport(rep)
	}
	return rep
}

// safeRun isolates one check: a panic or an error discards its findings.
func (e *Engine) safeRun(ctx context.Context, c check) (issues []Issue, err error) {
	defer func() {
		if r := recover(); r != nil {
			issues = nil
			err = fmt.Errorf("diagnostics: %s: panic: %v", c.category, r)
		}
	}()
	issues, err = c.run(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: %s: %w", c.category, err)
	}
	return issues, nil
}

func (e *Engine) logSummary(rep Report) {
	if rep.Total == 0 {
		e.logger.Info("diagnostics: no issues detected", "report", rep.ID)
	}
	for _, cr := range rep.Categories {
		attrs := []any{"category", string(cr.Category), "count", len(cr.Issues), "report", rep.ID}
		if cr.Err != "" {
			attrs = append(attrs, "error", cr.Err)
		}
		for i, is := range cr.Issues {
			if i == 2 {
				break
			}
			attrs = append(attrs, fmt.Sprintf("issue_%d", i), is.Message)
		}
		level := slog.LevelInfo
		if len(cr.Issues) == 0 && cr.Err == "" {
			level = slog.LevelDebug
		}
		e.logger.Log(context.Background(), level, "diagnostics: category", attrs...)
	}
}

// Start runs a first pass, then one pass per interval and one per Trigger
// until ctx is done or the Subscription is cancelled.
func (e *Engine) Start(ctx context.Context) dom.Subscription {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
		}()

		e.Run(ctx)
		ticker := time.NewTicker(e.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Run(ctx)
			case <-e.trigger:
				e.Run(ctx)
			}
		}
	}()
	return dom.CancelFunc(func() {
		cancel()
		<-done
	})
}

// Trigger requests an immediate pass. With Start running the pass happens on
// the engine's goroutine; otherwise a goroutine is spawned for it. Requests
// arriving while one is pending are coalesced.
func (e *Engine) Trigger() {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		go e.Run(context.Background())
		return
	}
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}
