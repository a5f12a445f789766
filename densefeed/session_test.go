package densefeed

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/densefeed/diagnostics"
	"github.com/hazyhaar/densefeed/dom"
	"github.com/hazyhaar/densefeed/dom/memdom"
	"github.com/hazyhaar/densefeed/role"
	"github.com/hazyhaar/densefeed/transform"
)

const feedPage = `<html><head></head><body>
<nav data-testid="sidebarColumn">nav</nav>
<main data-testid="primaryColumn">
  <article data-testid="tweet">
    <div data-testid="User-Name">Ada</div>
    <div data-testid="tweetText">hello</div>
    <button data-testid="like"></button>
    <button data-testid="reply"></button>
  </article>
  <article data-testid="tweet"><div data-testid="tweetText">world</div></article>
  <div data-testid="promotedTweet">ad</div>
</main>
</body></html>`

var discard = slog.New(slog.DiscardHandler)

// recorder is a callback sink that keeps everything it receives.
type recorder struct {
	mu       sync.Mutex
	statuses []Status
	reports  chan diagnostics.Report
}

func newRecorder() *recorder {
	return &recorder{reports: make(chan diagnostics.Report, 16)}
}

func (r *recorder) sink() Sink {
	return NewCallbackSink(
		func(_ context.Context, st Status) error {
			r.mu.Lock()
			r.statuses = append(r.statuses, st)
			r.mu.Unlock()
			return nil
		},
		func(_ context.Context, rep diagnostics.Report) error {
			r.reports <- rep
			return nil
		},
	)
}

func (r *recorder) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

func (r *recorder) next(t *testing.T) diagnostics.Report {
	t.Helper()
	select {
	case rep := <-r.reports:
		return rep
	case <-time.After(5 * time.Second):
		t.Fatal("no report delivered")
	}
	return diagnostics.Report{}
}

func newDoc(t *testing.T) *memdom.Document {
	t.Helper()
	doc, err := memdom.New(feedPage)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func startSession(t *testing.T, doc *memdom.Document, cfg SessionConfig) *Session {
	t.Helper()
	if cfg.ID == "" {
		cfg.ID = "ses_test"
	}
	cfg.Logger = discard
	s := NewSession(doc, cfg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return s
}

func bodyHas(t *testing.T, doc *memdom.Document, class string) bool {
	t.Helper()
	body, _ := doc.Body()
	ok, err := body.HasClass(class)
	if err != nil {
		t.Fatal(err)
	}
	return ok
}

func TestSession_Start(t *testing.T) {
	doc := newDoc(t)
	rec := newRecorder()
	s := startSession(t, doc, SessionConfig{Sink: rec.sink(), Panel: true})

	if !s.Running() {
		t.Fatal("not running after Start")
	}
	st := s.Stats()
	if !st.Initialized || !st.ObserverActive {
		t.Errorf("flags = %+v", st)
	}
	if st.TweetsTransformed != 2 || st.ButtonsTransformed != 2 || st.PromotedHidden != 1 {
		t.Errorf("counters = %+v", st)
	}
	if _, ok := doc.Stylesheet(transform.StylesheetID); !ok {
		t.Error("stylesheet not injected")
	}

	statuses := rec.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("statuses = %d, want 1", len(statuses))
	}
	got := statuses[0]
	if got.Type != "DEBUG_INFO" || got.Status != StatusInitialized || got.SessionID != "ses_test" ||
		got.URL != "https://x.com/home" || got.Timestamp <= 0 {
		t.Errorf("status = %+v", got)
	}

	// Start is idempotent.
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(rec.Statuses()); n != 1 {
		t.Errorf("statuses after second Start = %d, want 1", n)
	}
}

func TestSession_InitialModes(t *testing.T) {
	doc := newDoc(t)
	lv := new(slog.LevelVar)
	s := startSession(t, doc, SessionConfig{Performance: true, Debug: true, LogLevel: lv})

	if !bodyHas(t, doc, role.ClassPerformance) {
		t.Error("performance class missing on body")
	}
	st := s.Stats()
	if !st.PerformanceMode || !st.DebugMode {
		t.Errorf("modes = %+v", st)
	}
	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
}

func TestSession_WatchesInsertedTweets(t *testing.T) {
	doc := newDoc(t)
	s := startSession(t, doc, SessionConfig{})

	added, err := doc.Insert(`[data-testid="primaryColumn"]`,
		`<article data-testid="tweet"><div data-testid="tweetText">late</div></article>`)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := added[0].HasClass(role.ClassApplied); !ok {
		t.Error("inserted tweet not transformed")
	}
	if got := s.Stats().TweetsTransformed; got != 3 {
		t.Errorf("tweets = %d, want 3", got)
	}
}

func TestSession_Shortcuts(t *testing.T) {
	doc := newDoc(t)
	rec := newRecorder()
	lv := new(slog.LevelVar)
	lv.Set(slog.LevelWarn)
	s := startSession(t, doc, SessionConfig{Sink: rec.sink(), LogLevel: lv, Panel: true})

	doc.Press(dom.ShortcutPerformance)
	if !s.Stats().PerformanceMode || !bodyHas(t, doc, role.ClassPerformance) {
		t.Error("ctrl+shift+p did not enable performance mode")
	}
	doc.Press(dom.ShortcutPerformance)
	if s.Stats().PerformanceMode || bodyHas(t, doc, role.ClassPerformance) {
		t.Error("second ctrl+shift+p did not disable performance mode")
	}

	doc.Press(dom.ShortcutDebug)
	if !s.Stats().DebugMode || lv.Level() != slog.LevelDebug {
		t.Error("ctrl+shift+d did not enable debug mode")
	}
	rep := rec.next(t)
	if rep.Stats.DiagnosticsPasses < 1 {
		t.Errorf("report stats = %+v", rep.Stats)
	}
	if doc.Panel(diagnostics.PanelID) == "" {
		t.Error("panel not rendered")
	}

	doc.Press(dom.ShortcutDebug)
	rec.next(t)
	if s.Stats().DebugMode || lv.Level() != slog.LevelWarn {
		t.Errorf("debug off: level = %v, want restored warn", lv.Level())
	}

	doc.Press(dom.ShortcutRescan)
	rec.next(t)
	if s.Stats().DebugMode {
		t.Error("ctrl+shift+r changed debug mode")
	}
}

func TestSession_Toggle(t *testing.T) {
	s := startSession(t, newDoc(t), SessionConfig{})

	on, err := s.Toggle(ModePerformance)
	if err != nil || !on {
		t.Fatalf("Toggle(performance) = %v, %v", on, err)
	}
	on, err = s.Toggle(ModeDebug)
	if err != nil || !on {
		t.Fatalf("Toggle(debug) = %v, %v", on, err)
	}
	if _, err := s.Toggle("turbo"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("got %v, want ErrUnknownMode", err)
	}
}

func TestSession_RescanAndReapply(t *testing.T) {
	s := startSession(t, newDoc(t), SessionConfig{})

	if _, ok := s.LastReport(); ok {
		t.Fatal("report before any pass")
	}
	rep := s.Rescan(context.Background())
	last, ok := s.LastReport()
	if !ok || last.ID != rep.ID {
		t.Errorf("LastReport = %q, %v; want %q", last.ID, ok, rep.ID)
	}
	if res := s.Reapply(context.Background()); res != (transform.Result{}) {
		t.Errorf("reapply on a transformed page = %+v, want zero", res)
	}
}

func TestSession_AutoRun(t *testing.T) {
	rec := newRecorder()
	startSession(t, newDoc(t), SessionConfig{Sink: rec.sink(), AutoRun: true, DiagnosticsInterval: time.Hour})
	if rep := rec.next(t); rep.ID == "" {
		t.Error("first automatic pass has no id")
	}
}

func TestSession_Stop(t *testing.T) {
	doc := newDoc(t)
	s := startSession(t, doc, SessionConfig{AutoRun: true, DiagnosticsInterval: time.Hour})
	s.Stop()
	s.Stop()

	if s.Running() {
		t.Error("running after Stop")
	}
	if s.Stats().ObserverActive {
		t.Error("observer active after Stop")
	}
	if n := doc.Observers(); n != 0 {
		t.Errorf("observers = %d, want 0", n)
	}
	doc.Press(dom.ShortcutPerformance)
	if s.Stats().PerformanceMode {
		t.Error("shortcut handled after Stop")
	}
	if info := s.Info(); info.Running || info.ID != "ses_test" {
		t.Errorf("info = %+v", info)
	}
}

func TestSession_ReloadReapplies(t *testing.T) {
	doc := newDoc(t)
	s := startSession(t, doc, SessionConfig{Performance: true})

	if err := doc.Reload(feedPage); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc.Stylesheet(transform.StylesheetID); !ok {
		t.Error("stylesheet not re-injected after reload")
	}
	if !bodyHas(t, doc, role.ClassPerformance) {
		t.Error("performance class not restored after reload")
	}
	tweets, _ := doc.QueryAll(`[data-testid="tweet"]`)
	for _, tw := range tweets {
		if ok, _ := tw.HasClass(role.ClassApplied); !ok {
			t.Errorf("%s not transformed after reload", tw.Describe())
		}
	}
	if link, _ := doc.Query("." + role.ClassSkipLink); link == nil {
		t.Error("skip link not re-added")
	}
	if got := s.Stats().TweetsTransformed; got != 4 {
		t.Errorf("tweets = %d, want 4", got)
	}
	if info := s.Info(); info.Reloads != 1 || !info.Running {
		t.Errorf("info = %+v", info)
	}

	// The watcher keeps working on the new document.
	added, err := doc.Insert(`[data-testid="primaryColumn"]`,
		`<article data-testid="tweet"><div data-testid="tweetText">after reload</div></article>`)
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := added[0].HasClass(role.ClassApplied); !ok {
		t.Error("tweet inserted after reload not transformed")
	}
}

func TestSession_ReleasesHandles(t *testing.T) {
	doc := newDoc(t)
	s := startSession(t, doc, SessionConfig{})
	check := func(step string) {
		t.Helper()
		if n := doc.Handles(); n != 0 {
			t.Errorf("%s: %d element handles left", step, n)
		}
	}
	check("start")
	s.Rescan(context.Background())
	check("rescan")
	s.Reapply(context.Background())
	check("reapply")
	s.Toggle(ModePerformance)
	check("toggle")
	doc.Insert(`[data-testid="primaryColumn"]`, `<article data-testid="tweet"></article>`)
	check("tweet pass")
}

func TestSession_StopsWhenContextCancelled(t *testing.T) {
	doc := newDoc(t)
	s := NewSession(doc, SessionConfig{ID: "ses_ctx", Logger: discard})
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for s.Running() {
		if time.Now().After(deadline) {
			t.Fatal("session still running after its context was cancelled")
		}
		time.Sleep(time.Millisecond)
	}
	if s.Info().Running {
		t.Error("info reports running")
	}
	if n := doc.Observers(); n != 0 {
		t.Errorf("observers = %d, want 0", n)
	}

	// A fresh Start after the cancellation works.
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if !s.Running() {
		t.Error("restart did not run")
	}
}

func TestSession_ScrollMonitor(t *testing.T) {
	doc := newDoc(t)
	s := startSession(t, doc, SessionConfig{ScrollThrottle: time.Hour})
	doc.Scroll()
	doc.Scroll()
	if got := s.Stats().ScrollEvents; got != 1 {
		t.Errorf("scroll events = %d, want 1 inside one window", got)
	}
}

func TestSession_CacheErrorsReachReport(t *testing.T) {
	doc := newDoc(t)
	s := startSession(t, doc, SessionConfig{})
	body, _ := doc.Body()
	err := s.cache.ApplyOptimized(doc, body, "div[", map[string]string{"font-family": "x", "color": "y", "background": "z"})
	if err == nil {
		t.Fatal("invalid selector accepted")
	}
	rep := s.Rescan(context.Background())
	if len(rep.CacheErrors) != 1 || !strings.Contains(rep.CacheErrors[0], "div[") {
		t.Errorf("cache errors = %v", rep.CacheErrors)
	}
}
