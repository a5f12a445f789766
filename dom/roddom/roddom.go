// Package roddom implements dom.Document over a live Chrome tab driven by
// go-rod. Reads and writes are small Runtime.callFunctionOn evaluations bound
// to the element; added-node notifications come from CDP DOM events and
// keyboard chords from a Runtime binding.
package roddom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/densefeed/dom"
)

// Runtime bindings the page calls back through.
const (
	keyBinding    = "__densefeed_key"
	scrollBinding = "__densefeed_scroll"
)

// DefaultBatchWindow groups CDP childNodeInserted events into one batch.
const DefaultBatchWindow = 10 * time.Millisecond

// Document wraps one page.
type Document struct {
	ctx    context.Context
	page   *rod.Page
	logger *slog.Logger
	window time.Duration

	trackMu sync.Mutex
	tracked bool

	hmu     sync.Mutex
	handles map[*Element]struct{}
}

var (
	_ dom.Document = (*Document)(nil)
	_ dom.Releaser = (*Document)(nil)
)

// Option configures a Document.
type Option func(*Document)

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option { return func(d *Document) { d.logger = l } }

// WithBatchWindow sets how long inserted nodes are collected before an
// ObserveAdded callback fires. Default: 10ms.
func WithBatchWindow(w time.Duration) Option {
	return func(d *Document) {
		if w > 0 {
			d.window = w
		}
	}
}

// New wraps page. Every CDP call is bound to ctx.
func New(ctx context.Context, page *rod.Page, opts ...Option) *Document {
	d := &Document{
		ctx:     ctx,
		page:    page.Context(ctx),
		logger:  slog.New(slog.DiscardHandler),
		window:  DefaultBatchWindow,
		handles: make(map[*Element]struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Page returns the underlying page.
func (d *Document) Page() *rod.Page { return d.page }

func (d *Document) URL() string {
	info, err := d.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (d *Document) QueryAll(selector string) ([]dom.Element, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil, queryErr(selector, err)
	}
	return d.wrapAll(els), nil
}

func (d *Document) Query(selector string) (dom.Element, error) {
	return first(d.QueryAll(selector))
}

// Count evaluates querySelectorAll in the page and returns only its length.
func (d *Document) Count(selector string) (int, error) {
	res, err := d.page.Eval(`(sel) => document.querySelectorAll(sel).length`, selector)
	if err != nil {
		return 0, queryErr(selector, err)
	}
	return res.Value.Int(), nil
}

func (d *Document) Body() (dom.Element, error) {
	return d.Query("body")
}

func (d *Document) Viewport() (dom.Size, error) {
	res, err := d.page.Eval(`() => ({width: window.innerWidth, height: window.innerHeight})`)
	if err != nil {
		return dom.Size{}, fmt.Errorf("roddom: viewport: %w", err)
	}
	var s dom.Size
	if err := res.Value.Unmarshal(&s); err != nil {
		return dom.Size{}, fmt.Errorf("roddom: viewport: %w", err)
	}
	return s, nil
}

func (d *Document) InjectStylesheet(id, css string) error {
	_, err := d.page.Eval(`(id, css) => {
		if (document.getElementById(id)) return;
		const s = document.createElement('style');
		s.id = id;
		s.textContent = css;
		(document.head || document.documentElement).appendChild(s);
	}`, id, css)
	if err != nil {
		return fmt.Errorf("roddom: inject stylesheet: %w", err)
	}
	return nil
}

func (d *Document) RenderPanel(id, html string) error {
	_, err := d.page.Eval(`(id, html) => {
		let p = document.getElementById(id);
		if (!p) {
			p = document.createElement('div');
			p.id = id;
			document.body.appendChild(p);
		}
		p.innerHTML = html;
	}`, id, html)
	if err != nil {
		return fmt.Errorf("roddom: render panel: %w", err)
	}
	return nil
}

// Release frees every element handle handed out since the last call.
func (d *Document) Release() {
	d.hmu.Lock()
	els := make([]*Element, 0, len(d.handles))
	for el := range d.handles {
		els = append(els, el)
	}
	clear(d.handles)
	d.hmu.Unlock()
	for _, el := range els {
		el.free()
	}
	if len(els) > 0 {
		d.logger.Debug("roddom: handles released", "count", len(els))
	}
}

// trackDOM asks Chrome for the whole tree so childNodeInserted fires for
// nodes at any depth. A new document drops the tracked tree, so it runs
// again after every DOM.documentUpdated.
func (d *Document) trackDOM() error {
	d.trackMu.Lock()
	defer d.trackMu.Unlock()
	if d.tracked {
		return nil
	}
	if err := (proto.DOMEnable{}).Call(d.page); err != nil {
		return fmt.Errorf("roddom: DOM.enable: %w", err)
	}
	depth := -1
	if _, err := (proto.DOMGetDocument{Depth: &depth, Pierce: true}).Call(d.page); err != nil {
		return fmt.Errorf("roddom: DOM.getDocument: %w", err)
	}
	d.tracked = true
	return nil
}

func (d *Document) retrack() {
	d.trackMu.Lock()
	d.tracked = false
	d.trackMu.Unlock()
	if err := d.trackDOM(); err != nil {
		d.logger.Warn("roddom: re-track after document update", "error", err)
		return
	}
	d.logger.Debug("roddom: document updated, tracking re-initialised")
}

// ObserveAdded delivers element nodes inserted anywhere in the document.
// The elements passed to fn are released when fn returns.
func (d *Document) ObserveAdded(fn func([]dom.Element)) (dom.Subscription, error) {
	if err := d.trackDOM(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(d.ctx)
	b := &batcher{window: d.window, flush: func(nodes []*proto.DOMNode) {
		if ctx.Err() != nil {
			return
		}
		els := make([]dom.Element, 0, len(nodes))
		for _, n := range nodes {
			el, err := d.page.ElementFromNode(n)
			if err != nil {
				// Node already detached.
				d.logger.Debug("roddom: resolve inserted node", "node", n.NodeName, "error", err)
				continue
			}
			els = append(els, &Element{el: el, d: d})
		}
		if len(els) == 0 {
			return
		}
		fn(els)
		for _, el := range els {
			el.(*Element).free()
		}
	}}

	wait := d.page.Context(ctx).EachEvent(
		func(e *proto.DOMChildNodeInserted) {
			if e.Node != nil && e.Node.NodeType == 1 {
				b.add(e.Node)
			}
		},
		func(*proto.DOMDocumentUpdated) {
			go d.retrack()
		},
	)
	go wait()
	return dom.CancelFunc(func() {
		cancel()
		b.stop()
	}), nil
}

const keyScript = `(name) => {
	if (window.__densefeedKeys) return;
	window.__densefeedKeys = true;
	document.addEventListener('keydown', (e) => {
		if (!e.ctrlKey || !e.shiftKey) return;
		const k = (e.key || '').toLowerCase();
		if (k !== 'p' && k !== 'd' && k !== 'r') return;
		e.preventDefault();
		window[name]('ctrl+shift+' + k);
	}, true);
}`

const scrollScript = `(name) => {
	if (window.__densefeedScroll) return;
	window.__densefeedScroll = true;
	window.addEventListener('scroll', () => window[name](''), {passive: true});
}`

func (d *Document) OnShortcut(fn func(dom.Shortcut)) (dom.Subscription, error) {
	return d.bind(keyBinding, keyScript, func(payload string) {
		s := dom.Shortcut(payload)
		if slices.Contains(dom.Shortcuts, s) {
			fn(s)
		}
	})
}

func (d *Document) OnScroll(fn func()) (dom.Subscription, error) {
	return d.bind(scrollBinding, scrollScript, func(string) { fn() })
}

// bind installs a Runtime binding and a listener script that calls it. The
// script runs in the current document and in every document loaded later.
func (d *Document) bind(name, script string, fn func(payload string)) (dom.Subscription, error) {
	if err := (proto.RuntimeAddBinding{Name: name}).Call(d.page); err != nil {
		d.logger.Warn("roddom: addBinding failed (may already exist)", "binding", name, "error", err)
	}
	remove, err := d.page.EvalOnNewDocument(fmt.Sprintf("(%s)(%q)", script, name))
	if err != nil {
		return nil, fmt.Errorf("roddom: install %s on new documents: %w", name, err)
	}
	if _, err := d.page.Eval(script, name); err != nil {
		_ = remove()
		return nil, fmt.Errorf("roddom: install %s: %w", name, err)
	}

	ctx, cancel := context.WithCancel(d.ctx)
	wait := d.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name == name {
			fn(e.Payload)
		}
	})
	go wait()
	return dom.CancelFunc(func() {
		cancel()
		_ = remove()
		_ = proto.RuntimeRemoveBinding{Name: name}.Call(d.page)
	}), nil
}

// OnLoad calls fn, on its own goroutine, after each Page.loadEventFired.
func (d *Document) OnLoad(fn func()) (dom.Subscription, error) {
	if err := (proto.PageEnable{}).Call(d.page); err != nil {
		return nil, fmt.Errorf("roddom: Page.enable: %w", err)
	}
	ctx, cancel := context.WithCancel(d.ctx)
	wait := d.page.Context(ctx).EachEvent(func(*proto.PageLoadEventFired) {
		d.logger.Debug("roddom: page loaded", "url", d.URL())
		go fn()
	})
	go wait()
	return dom.CancelFunc(cancel), nil
}

// batcher coalesces inserted nodes arriving within one window.
type batcher struct {
	window time.Duration
	flush  func([]*proto.DOMNode)

	mu      sync.Mutex
	pending []*proto.DOMNode
	timer   *time.Timer
	stopped bool
}

func (b *batcher) add(n *proto.DOMNode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.pending = append(b.pending, n)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.fire)
	}
}

func (b *batcher) fire() {
	b.mu.Lock()
	nodes := b.pending
	b.pending, b.timer = nil, nil
	stopped := b.stopped
	b.mu.Unlock()
	if !stopped && len(nodes) > 0 {
		b.flush(nodes)
	}
}

func (b *batcher) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.pending = nil
}

// queryErr classifies a failed querySelectorAll: a JS exception means the
// selector was rejected.
func queryErr(selector string, err error) error {
	var evalErr *rod.EvalError
	if errors.As(err, &evalErr) {
		return dom.InvalidSelector(selector, err)
	}
	return fmt.Errorf("roddom: query %q: %w", selector, err)
}

func (d *Document) wrapAll(els rod.Elements) []dom.Element {
	out := make([]dom.Element, 0, len(els))
	d.hmu.Lock()
	for _, el := range els {
		w := &Element{el: el, d: d}
		d.handles[w] = struct{}{}
		out = append(out, w)
	}
	d.hmu.Unlock()
	return out
}

func first(els []dom.Element, err error) (dom.Element, error) {
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}
