// Package transform rewrites the host page into the dense monospace layout.
//
// Every pass is idempotent: an element already carrying role.ClassApplied is
// skipped, so the mutation watcher may rerun the tweet pass over the same
// nodes any number of times. Missing elements are never errors. A failure on
// one element is counted and logged and the pass moves on.
package transform

import (
	"context"
	"log/slog"
	"maps"

	"github.com/hazyhaar/densefeed/csscache"
	"github.com/hazyhaar/densefeed/dom"
	"github.com/hazyhaar/densefeed/role"
	"github.com/hazyhaar/densefeed/state"
)

// MonoStack is the font-family applied to text roles.
const MonoStack = "Monaco, Menlo, monospace"

// SidebarMinViewport is the viewport width from which the sidebar is pinned.
const SidebarMinViewport = 1024

// Result counts what one pass changed.
type Result struct {
	Elements int `json:"elements"`
	Tweets   int `json:"tweets"`
	Buttons  int `json:"buttons"`
	Labels   int `json:"labels"`
	Promoted int `json:"promoted"`
	Errors   int `json:"errors"`
}

func (r *Result) add(o Result) {
	r.Elements += o.Elements
	r.Tweets += o.Tweets
	r.Buttons += o.Buttons
	r.Labels += o.Labels
	r.Promoted += o.Promoted
	r.Errors += o.Errors
}

// Transformer applies the per-role classes and inline styles.
type Transformer struct {
	doc    dom.Document
	roles  role.Map
	st     *state.State
	cache  *csscache.Cache
	logger *slog.Logger
}

// New creates a Transformer. A nil logger discards output.
func New(doc dom.Document, roles role.Map, st *state.State, cache *csscache.Cache, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Transformer{doc: doc, roles: roles, st: st, cache: cache, logger: logger}
}

// Apply runs the full pass: feed container, tweets, navigation, action
// buttons, promoted suppression and the skip link.
func (t *Transformer) Apply(ctx context.Context) Result {
	var res Result
	steps := []func() Result{
		t.transformFeedContainer,
		t.transformTweets,
		t.transformNavigation,
		t.transformButtons,
		t.suppressPromoted,
		t.addSkipLink,
	}
	for _, step := range steps {
		if ctx.Err() != nil {
			break
		}
		res.add(step())
	}
	t.logger.Debug("transform: pass applied",
		"elements", res.Elements, "tweets", res.Tweets, "buttons", res.Buttons,
		"labels", res.Labels, "promoted", res.Promoted, "errors", res.Errors)
	return res
}

// TransformTweets is the tweet-only pass the mutation watcher reruns.
func (t *Transformer) TransformTweets(ctx context.Context) Result {
	if ctx.Err() != nil {
		return Result{}
	}
	return t.transformTweets()
}

// SuppressPromoted hides every promoted tweet with role.ClassHidden.
func (t *Transformer) SuppressPromoted(ctx context.Context) Result {
	if ctx.Err() != nil {
		return Result{}
	}
	return t.suppressPromoted()
}

func (t *Transformer) fail(res *Result, msg string, err error, attrs ...any) {
	res.Errors++
	t.st.Error()
	t.logger.Warn(msg, append(attrs, "error", err)...)
}

// pending returns the elements matching selector not yet marked applied.
func (t *Transformer) pending(res *Result, selector string) []dom.Element {
	if selector == "" {
		return nil
	}
	els, err := t.doc.QueryAll(selector)
	if err != nil {
		t.fail(res, "transform: query", err, "selector", selector)
		return nil
	}
	out := els[:0]
	for _, el := range els {
		done, err := el.HasClass(role.ClassApplied)
		if err != nil {
			t.fail(res, "transform: read classes", err, "selector", selector)
			continue
		}
		if !done {
			out = append(out, el)
		}
	}
	return out
}

func (t *Transformer) setStyles(el dom.Element, styles [][2]string) error {
	for _, kv := range styles {
		if err := el.SetStyle(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transformer) transformFeedContainer() Result {
	var res Result
	sel := t.roles.Selector(role.PrimaryColumn)
	cols := t.pending(&res, sel)
	if len(cols) == 0 {
		t.logger.Debug("transform: primary column not found or already applied")
		return res
	}
	col := cols[0]
	err := col.AddClass(role.ClassApplied, role.ClassDense)
	if err == nil {
		err = t.setStyles(col, [][2]string{
			{"max-width", "none"},
			{"width", "100%"},
			{"padding", "0"},
			{"margin", "0"},
		})
	}
	if err != nil {
		t.fail(&res, "transform: feed container", err)
		return res
	}
	res.Elements++
	t.st.AddElements(1)
	return res
}

func (t *Transformer) transformNavigation() Result {
	var res Result
	sel := t.roles.Selector(role.Sidebar)
	bars := t.pending(&res, sel)
	if len(bars) == 0 {
		t.logger.Debug("transform: sidebar not found or already applied")
		return res
	}
	bar := bars[0]
	if err := bar.AddClass(role.ClassApplied); err != nil {
		t.fail(&res, "transform: sidebar", err)
		return res
	}
	vp, err := t.doc.Viewport()
	if err != nil {
		t.fail(&res, "transform: viewport", err)
		return res
	}
	if vp.Width >= SidebarMinViewport {
		err := t.setStyles(bar, [][2]string{
			{"position", "fixed"},
			{"left", "0"},
			{"top", "0"},
			{"height", "100vh"},
			{"width", "200px"},
			{"z-index", "1000"},
			{"background-color", "#ffffff"},
			{"border-right", "1px solid #e1e8ed"},
		})
		if err != nil {
			t.fail(&res, "transform: sidebar styles", err)
			return res
		}
	}
	res.Elements++
	t.st.AddElements(1)
	return res
}

type styleSet struct {
	selector string
	styles   map[string]string
}

// textStyles are the cached style sets per text role. Every set carries the
// cache baseline.
func (t *Transformer) textStyles() []styleSet {
	base := map[string]string{
		"font-family": MonoStack,
		"color":       "inherit",
		"background":  "transparent",
	}
	with := func(extra map[string]string) map[string]string {
		m := maps.Clone(base)
		maps.Copy(m, extra)
		return m
	}
	small := with(map[string]string{"font-size": "12px", "color": "#536471"})
	return []styleSet{
		{t.roles.Selector(role.TweetText), with(map[string]string{
			"white-space":   "pre-wrap",
			"word-wrap":     "break-word",
			"overflow-wrap": "break-word",
			"margin-top":    "4px",
			"margin-bottom": "8px",
		})},
		{t.roles.Selector(role.UserName), with(map[string]string{"margin-bottom": "2px"})},
		{t.roles.Selector(role.ScreenName), small},
		{"time", small},
	}
}

func (t *Transformer) transformTweets() Result {
	var res Result
	tweets := t.pending(&res, t.roles.Selector(role.Tweet))
	if len(tweets) == 0 {
		return res
	}
	sets := t.textStyles()
	for _, tweet := range tweets {
		if err := tweet.AddClass(role.ClassApplied, role.ClassCompact); err != nil {
			t.fail(&res, "transform: tweet", err, "element", tweet.Describe())
			continue
		}
		res.Tweets++
		res.Elements++
		for _, set := range sets {
			if set.selector == "" {
				continue
			}
			children, err := tweet.QueryAll(set.selector)
			if err != nil {
				t.fail(&res, "transform: tweet children", err, "selector", set.selector)
				continue
			}
			for _, child := range children {
				if err := child.AddClass(role.ClassMono); err != nil {
					t.fail(&res, "transform: mono", err, "element", child.Describe())
					continue
				}
				if err := t.cache.ApplyOptimized(t.doc, child, set.selector, set.styles); err != nil {
					res.Errors++
					t.logger.Warn("transform: text styles", "selector", set.selector, "error", err)
					continue
				}
				res.Elements++
			}
		}
	}
	t.st.AddTweets(res.Tweets)
	t.st.AddElements(res.Elements)
	t.logger.Debug("transform: tweets transformed", "count", res.Tweets)
	return res
}

var buttonStyles = [][2]string{
	{"padding", "8px 12px"},
	{"margin", "2px"},
	{"border-radius", "4px"},
	{"border", "1px solid transparent"},
	{"background-color", "transparent"},
	{"cursor", "pointer"},
	{"display", "inline-flex"},
	{"align-items", "center"},
	{"justify-content", "center"},
	{"min-height", "32px"},
	{"min-width", "32px"},
}

func (t *Transformer) transformButtons() Result {
	var res Result
	sel := t.roles.Join(role.Buttons...)
	if sel == "" {
		return res
	}
	for _, b := range t.pending(&res, sel) {
		if err := b.AddClass(role.ClassApplied, role.ClassCompact); err != nil {
			t.fail(&res, "transform: button", err, "element", b.Describe())
			continue
		}
		added, err := LabelButton(b)
		if err != nil {
			t.fail(&res, "transform: button label", err, "element", b.Describe())
		} else if added {
			res.Labels++
		}
		if err := t.setStyles(b, buttonStyles); err != nil {
			t.fail(&res, "transform: button styles", err, "element", b.Describe())
			continue
		}
		res.Buttons++
		res.Elements++
	}
	t.st.AddButtons(res.Buttons)
	t.st.AddLabels(res.Labels)
	t.st.AddElements(res.Elements)
	t.logger.Debug("transform: action buttons transformed", "count", res.Buttons, "labels", res.Labels)
	return res
}

func (t *Transformer) suppressPromoted() Result {
	var res Result
	sel := t.roles.Selector(role.PromotedTweet)
	if sel == "" {
		return res
	}
	promoted, err := t.doc.QueryAll(sel)
	if err != nil {
		t.fail(&res, "transform: query", err, "selector", sel)
		return res
	}
	for _, el := range promoted {
		hidden, err := el.HasClass(role.ClassHidden)
		if err != nil {
			t.fail(&res, "transform: read classes", err, "element", el.Describe())
			continue
		}
		if hidden {
			continue
		}
		if err := el.AddClass(role.ClassHidden); err != nil {
			t.fail(&res, "transform: hide promoted", err, "element", el.Describe())
			continue
		}
		res.Promoted++
	}
	t.st.AddPromoted(res.Promoted)
	if len(promoted) > 0 {
		t.logger.Info("transform: promotional tweets hidden", "count", len(promoted), "new", res.Promoted)
	}
	return res
}

func (t *Transformer) addSkipLink() Result {
	var res Result
	existing, err := t.doc.Query("." + role.ClassSkipLink)
	if err != nil {
		t.fail(&res, "transform: skip link", err)
		return res
	}
	if existing != nil {
		return res
	}
	body, err := t.doc.Body()
	if err != nil || body == nil {
		if err != nil {
			t.fail(&res, "transform: body", err)
		}
		return res
	}
	attrs := map[string]string{"href": "#main-content", "class": role.ClassSkipLink}
	if err := body.PrependChild("a", attrs, "Skip to main content"); err != nil {
		t.fail(&res, "transform: skip link", err)
		return res
	}
	if sel := t.roles.Selector(role.PrimaryColumn); sel != "" {
		col, err := t.doc.Query(sel)
		if err != nil {
			t.fail(&res, "transform: query", err, "selector", sel)
			return res
		}
		if col != nil {
			if err := col.SetAttr("id", "main-content"); err != nil {
				t.fail(&res, "transform: main content anchor", err)
			}
		}
	}
	t.logger.Debug("transform: skip link added")
	return res
}
