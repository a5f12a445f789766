package diagnostics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/densefeed/dom"
	"github.com/hazyhaar/densefeed/dom/memdom"
	"github.com/hazyhaar/densefeed/idgen"
	"github.com/hazyhaar/densefeed/role"
	"github.com/hazyhaar/densefeed/state"
)

// clean lays every role out without collisions so a pass reports nothing.
const clean = `<html><head></head><body>
<nav data-testid="sidebarColumn" style="left: 0; top: 0; width: 240px; height: 800px">nav</nav>
<main data-testid="primaryColumn" style="left: 250px; top: 0; width: 600px; height: 800px">
  <article data-testid="tweet" style="left: 250px; top: 0; width: 600px; height: 180px">
    <div data-testid="User-Name" style="left: 260px; top: 10px; width: 100px; height: 20px">Ada</div>
    <div data-testid="UserScreenName" style="left: 260px; top: 40px; width: 100px; height: 20px">@ada</div>
    <div data-testid="tweetText" style="left: 260px; top: 70px; width: 400px; height: 40px">hello</div>
    <button data-testid="like" style="left: 260px; top: 130px; width: 40px; height: 20px">Like</button>
    <button data-testid="retweet" style="left: 320px; top: 130px; width: 40px; height: 20px">Retweet</button>
    <button data-testid="reply" style="left: 380px; top: 130px; width: 40px; height: 20px">Reply</button>
    <button data-testid="bookmark" style="left: 440px; top: 130px; width: 40px; height: 20px">Bookmark</button>
    <button data-testid="share" style="left: 500px; top: 130px; width: 40px; height: 20px">Share</button>
  </article>
  <div data-testid="promotedTweet" style="left: 250px; top: 200px; width: 600px; height: 100px">ad</div>
</main>
</body></html>`

func newDoc(t *testing.T, src string, opts ...memdom.Option) *memdom.Document {
	t.Helper()
	doc, err := memdom.New(src, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func newEngine(doc dom.Document, roles role.Map, st *state.State, cfg Config) *Engine {
	cfg.Panel = true
	cfg.IDs = idgen.Prefixed("rpt_", idgen.Sequence())
	return New(doc, roles, st, cfg)
}

func query(t *testing.T, doc *memdom.Document, sel string) dom.Element {
	t.Helper()
	el, err := doc.Query(sel)
	if err != nil || el == nil {
		t.Fatalf("query %s: %v, %v", sel, el, err)
	}
	return el
}

func types(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.Type)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRun_CleanPage(t *testing.T) {
	doc := newDoc(t, clean)
	st := state.New()
	e := newEngine(doc, role.Default(), st, Config{})

	rep := e.Run(context.Background())
	if rep.Total != 0 {
		for _, cr := range rep.Categories {
			t.Logf("%s: %v %s", cr.Category, types(cr.Issues), cr.Err)
		}
		t.Fatalf("total = %d, want 0", rep.Total)
	}
	if rep.ID != "rpt_1" {
		t.Errorf("id = %q, want rpt_1", rep.ID)
	}
	if rep.URL != "https://x.com/home" {
		t.Errorf("url = %q", rep.URL)
	}
	if len(rep.Categories) != len(Categories) {
		t.Fatalf("categories = %d, want %d", len(rep.Categories), len(Categories))
	}
	for i, c := range Categories {
		if rep.Categories[i].Category != c {
			t.Errorf("category %d = %s, want %s", i, rep.Categories[i].Category, c)
		}
	}
	if s := st.Snapshot(); s.DiagnosticsPasses != 1 || s.LastIssueCount != 0 {
		t.Errorf("stats = %+v", s)
	}
	if e.Phase() != Idle {
		t.Errorf("phase = %s, want idle", e.Phase())
	}

	panel := doc.Panel(PanelID)
	for _, want := range []string{"UX Fixer Debug Panel", "Issues Found: 0", "No issues detected", "Diagnostics Passes: 1"} {
		if !strings.Contains(panel, want) {
			t.Errorf("panel missing %q:\n%s", want, panel)
		}
	}

	last, ok := e.Last()
	if !ok || last.ID != rep.ID {
		t.Errorf("Last() = %v, %v", last.ID, ok)
	}
}

func TestTextOverlap_OncePerPair(t *testing.T) {
	doc := newDoc(t, clean)
	e := newEngine(doc, role.Default(), state.New(), Config{})

	r := dom.RectXYWH(260, 10, 100, 20)
	doc.SetRect(query(t, doc, `[data-testid="User-Name"]`), r)
	doc.SetRect(query(t, doc, `[data-testid="UserScreenName"]`), r)

	rep := e.Run(context.Background())
	if got := types(rep.Issues(TextOverlap)); !equal(got, []string{"overlap"}) {
		t.Fatalf("issues = %v, want one overlap", got)
	}

	doc.SetRect(query(t, doc, `[data-testid="tweetText"]`), r)
	rep = e.Run(context.Background())
	if got := rep.Count(TextOverlap); got != 3 {
		t.Errorf("three stacked elements: %d issues, want 3", got)
	}
}

func TestTextOverlap_InvisibleAndOverflow(t *testing.T) {
	doc := newDoc(t, clean)
	e := newEngine(doc, role.Default(), state.New(), Config{})

	doc.SetRect(query(t, doc, `[data-testid="tweetText"]`), dom.Rect{})
	doc.SetScroll(query(t, doc, `[data-testid="User-Name"]`),
		dom.Size{Width: 220, Height: 20}, dom.Size{Width: 100, Height: 20})

	rep := e.Run(context.Background())
	if got := types(rep.Issues(TextOverlap)); !equal(got, []string{"overflow", "invisible"}) {
		t.Errorf("issues = %v, want [overflow invisible]", got)
	}
}

func TestBrokenButtons(t *testing.T) {
	src := strings.Replace(clean, ">Reply</button>", "></button>", 1)
	doc := newDoc(t, src)
	e := newEngine(doc, role.Default(), state.New(), Config{})

	doc.SetComputed(query(t, doc, `[data-testid="like"]`), "display", "none")
	doc.SetComputed(query(t, doc, `[data-testid="retweet"]`), "visibility", "hidden")
	doc.SetRect(query(t, doc, `[data-testid="bookmark"]`), dom.RectXYWH(2000, 130, 40, 20))

	rep := e.Run(context.Background())
	want := []string{"invisible", "hidden", "no-text", "off-screen"}
	if got := types(rep.Issues(BrokenButtons)); !equal(got, want) {
		t.Errorf("issues = %v, want %v", got, want)
	}
	if rep.Total != 4 {
		t.Errorf("total = %d, want 4", rep.Total)
	}
}

func TestLayout(t *testing.T) {
	doc := newDoc(t, clean)
	e := newEngine(doc, role.Default(), state.New(), Config{})

	doc.SetRect(query(t, doc, `[data-testid="primaryColumn"]`), dom.RectXYWH(-50, 0, 200, 800))
	doc.SetRect(query(t, doc, `[data-testid="sidebarColumn"]`), dom.RectXYWH(10, 0, 100, 800))

	rep := e.Run(context.Background())
	want := []string{"narrow-column", "column-offset", "sidebar-narrow"}
	if got := types(rep.Issues(Layout)); !equal(got, want) {
		t.Errorf("issues = %v, want %v", got, want)
	}
	if msg := rep.Issues(Layout)[0].Message; msg != "Primary column too narrow: 200px" {
		t.Errorf("message = %q", msg)
	}
}

func TestStyleConflicts(t *testing.T) {
	mark := func(doc *memdom.Document) {
		query(t, doc, `[data-testid="tweetText"]`).AddClass(role.ClassApplied, role.ClassMono)
		query(t, doc, `[data-testid="like"]`).AddClass(role.ClassApplied, role.ClassCompact)
	}

	doc := newDoc(t, clean)
	mark(doc)
	rep := newEngine(doc, role.Default(), state.New(), Config{}).Run(context.Background())
	want := []string{"font-override", "padding-override"}
	if got := types(rep.Issues(StyleConflicts)); !equal(got, want) {
		t.Errorf("page rules winning: %v, want %v", got, want)
	}

	styled := newDoc(t, clean,
		memdom.WithClassStyle(role.ClassMono, "font-family", "Monaco, Menlo, monospace"),
		memdom.WithClassStyle(role.ClassCompact, "padding", CompactPadding))
	mark(styled)
	rep = newEngine(styled, role.Default(), state.New(), Config{}).Run(context.Background())
	if got := rep.Count(StyleConflicts); got != 0 {
		t.Errorf("marker rules applied: %d issues, want 0", got)
	}
}

func TestSelectorMisses_OnePerMissingRole(t *testing.T) {
	src := clean
	for _, drop := range []string{
		`<nav data-testid="sidebarColumn" style="left: 0; top: 0; width: 240px; height: 800px">nav</nav>`,
		`<div data-testid="promotedTweet" style="left: 250px; top: 200px; width: 600px; height: 100px">ad</div>`,
	} {
		src = strings.Replace(src, drop, "", 1)
	}
	doc := newDoc(t, src)
	st := state.New()
	e := newEngine(doc, role.Default(), st, Config{})

	for pass := 1; pass <= 2; pass++ {
		rep := e.Run(context.Background())
		issues := rep.Issues(SelectorMisses)
		if len(issues) != 2 {
			t.Fatalf("pass %d: %d misses, want 2", pass, len(issues))
		}
		roles := role.Default()
		if issues[0].Selector != roles.Selector(role.Sidebar) || issues[1].Selector != roles.Selector(role.PromotedTweet) {
			t.Errorf("pass %d: selectors = %q, %q", pass, issues[0].Selector, issues[1].Selector)
		}
		if issues[0].Type != "missing" || issues[0].Element != nil {
			t.Errorf("pass %d: issue = %+v", pass, issues[0])
		}
		if rep.Total != 2 {
			t.Errorf("pass %d: total = %d, want 2", pass, rep.Total)
		}
	}
	if got := st.Snapshot().LastIssueCount; got != 2 {
		t.Errorf("last issue count = %d, want 2", got)
	}
}

func TestSelectorMisses_InvalidSelector(t *testing.T) {
	doc := newDoc(t, clean)
	roles := role.Default().With(role.PromotedTweet, "div[")
	rep := newEngine(doc, roles, state.New(), Config{}).Run(context.Background())

	issues := rep.Issues(SelectorMisses)
	if got := types(issues); !equal(got, []string{"invalid"}) {
		t.Fatalf("issues = %v, want [invalid]", got)
	}
	if issues[0].Selector != "div[" {
		t.Errorf("selector = %q", issues[0].Selector)
	}
}

func TestRun_CheckFailureIsolated(t *testing.T) {
	doc := newDoc(t, clean)
	st := state.New()
	e := newEngine(doc, role.Default(), st, Config{})
	e.checks = func() []check {
		return []check{
			{TextOverlap, func(context.Context) ([]Issue, error) { panic("boom") }},
			{Layout, func(context.Context) ([]Issue, error) {
				return []Issue{issue(Layout, "narrow-column", nil, "main", "too narrow")}, nil
			}},
			{StyleConflicts, func(context.Context) ([]Issue, error) {
				return []Issue{issue(StyleConflicts, "x", nil, "", "discarded")}, errors.New("nope")
			}},
		}
	}

	rep := e.Run(context.Background())
	if rep.Total != 1 {
		t.Errorf("total = %d, want 1", rep.Total)
	}
	if cr := rep.Categories[0]; len(cr.Issues) != 0 || !strings.Contains(cr.Err, "panic: boom") {
		t.Errorf("panicking check = %+v", cr)
	}
	if cr := rep.Categories[2]; len(cr.Issues) != 0 || !strings.Contains(cr.Err, "nope") {
		t.Errorf("failing check = %+v", cr)
	}
	if got := st.Snapshot().Errors; got != 2 {
		t.Errorf("errors = %d, want 2", got)
	}
	if panel := doc.Panel(PanelID); !strings.Contains(panel, "check failed") {
		t.Errorf("panel does not show the failure:\n%s", panel)
	}
}

func TestStart_Trigger(t *testing.T) {
	doc := newDoc(t, clean)
	reports := make(chan Report, 4)
	e := newEngine(doc, role.Default(), state.New(), Config{
		Interval: time.Hour,
		OnReport: func(r Report) { reports <- r },
	})

	next := func() Report {
		t.Helper()
		select {
		case r := <-reports:
			return r
		case <-time.After(5 * time.Second):
			t.Fatal("no report")
		}
		return Report{}
	}

	sub := e.Start(context.Background())
	if r := next(); r.ID != "rpt_1" {
		t.Errorf("first pass id = %q", r.ID)
	}
	e.Trigger()
	if r := next(); r.ID != "rpt_2" {
		t.Errorf("triggered pass id = %q", r.ID)
	}
	sub.Cancel()

	// Without the loop a trigger still runs a pass.
	e.Trigger()
	if r := next(); r.ID != "rpt_3" {
		t.Errorf("standalone pass id = %q", r.ID)
	}
}

var errDetached = errors.New("node detached")

// flakyDoc hands out elements whose reads fail for the one described as bad.
type flakyDoc struct {
	dom.Document
	bad string
}

func (d flakyDoc) QueryAll(sel string) ([]dom.Element, error) {
	els, err := d.Document.QueryAll(sel)
	for i, el := range els {
		if el.Describe() == d.bad {
			els[i] = flakyElement{el}
		}
	}
	return els, err
}

func (d flakyDoc) Query(sel string) (dom.Element, error) {
	els, err := d.QueryAll(sel)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

type flakyElement struct{ dom.Element }

func (flakyElement) Rect() (dom.Rect, error)              { return dom.Rect{}, errDetached }
func (flakyElement) ComputedStyle(string) (string, error) { return "", errDetached }
func (flakyElement) HasClass(string) (bool, error)        { return false, errDetached }

func TestBrokenButtons_ElementFailureIsContained(t *testing.T) {
	src := strings.Replace(clean, ">Reply</button>", "></button>", 1)
	doc := newDoc(t, src)
	doc.SetComputed(query(t, doc, `[data-testid="like"]`), "display", "none")
	st := state.New()
	e := newEngine(flakyDoc{doc, `[data-testid="share"]`}, role.Default(), st, Config{})

	rep := e.Run(context.Background())
	for _, cr := range rep.Categories {
		if cr.Err != "" {
			t.Errorf("%s: check failed: %s", cr.Category, cr.Err)
		}
	}
	if got := types(rep.Issues(BrokenButtons)); !equal(got, []string{"invisible", "no-text"}) {
		t.Errorf("issues = %v, want [invisible no-text]", got)
	}
	if got := st.Snapshot().Errors; got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestTextOverlap_ElementFailureIsContained(t *testing.T) {
	doc := newDoc(t, clean)
	r := dom.RectXYWH(260, 40, 100, 20)
	doc.SetRect(query(t, doc, `[data-testid="tweetText"]`), r)
	e := newEngine(flakyDoc{doc, `[data-testid="User-Name"]`}, role.Default(), state.New(), Config{})

	rep := e.Run(context.Background())
	if cr := rep.Categories[0]; cr.Err != "" || !equal(types(cr.Issues), []string{"overlap"}) {
		t.Errorf("text overlap = %v, err %q; want one overlap", types(cr.Issues), cr.Err)
	}
}

func TestLayout_ElementFailureIsContained(t *testing.T) {
	doc := newDoc(t, clean)
	doc.SetRect(query(t, doc, `[data-testid="sidebarColumn"]`), dom.RectXYWH(10, 0, 100, 800))
	e := newEngine(flakyDoc{doc, `[data-testid="primaryColumn"]`}, role.Default(), state.New(), Config{})

	rep := e.Run(context.Background())
	if got := types(rep.Issues(Layout)); !equal(got, []string{"sidebar-narrow"}) {
		t.Errorf("issues = %v, want [sidebar-narrow]", got)
	}
}

func TestStyleConflicts_ElementFailureIsContained(t *testing.T) {
	doc := newDoc(t, clean)
	query(t, doc, `[data-testid="tweetText"]`).AddClass(role.ClassApplied, role.ClassMono)
	query(t, doc, `[data-testid="like"]`).AddClass(role.ClassApplied, role.ClassCompact)
	e := newEngine(flakyDoc{doc, `[data-testid="like"]`}, role.Default(), state.New(), Config{})

	rep := e.Run(context.Background())
	if got := types(rep.Issues(StyleConflicts)); !equal(got, []string{"font-override"}) {
		t.Errorf("issues = %v, want [font-override]", got)
	}
}

func TestRun_ReleasesHandles(t *testing.T) {
	doc := newDoc(t, clean)
	e := newEngine(doc, role.Default(), state.New(), Config{})
	e.Run(context.Background())
	if n := doc.Handles(); n != 0 {
		t.Errorf("%d element handles left after a pass", n)
	}
}

func TestRun_CacheErrors(t *testing.T) {
	doc := newDoc(t, clean)
	e := newEngine(doc, role.Default(), state.New(), Config{
		CacheErrors: func() []string { return []string{`csscache: validate "div[": bad`} },
	})
	rep := e.Run(context.Background())
	if len(rep.CacheErrors) != 1 {
		t.Fatalf("cache errors = %v", rep.CacheErrors)
	}
	if panel := doc.Panel(PanelID); !strings.Contains(panel, "css-cache") || !strings.Contains(panel, "Cache Validation Errors: 1") {
		t.Errorf("panel does not show cache errors:\n%s", panel)
	}
}
