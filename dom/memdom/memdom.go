// Package memdom is an in-memory dom.Document backed by golang.org/x/net/html.
//
// It has no layout engine. Geometry comes from inline px styles (left, top,
// width, height) or explicit SetRect overrides; computed styles resolve
// overrides, then inline styles, then class rules registered with
// WithClassStyle, then a small set of browser defaults. That is enough to
// drive the transformer, the mutation watcher and every diagnostics check
// without Chrome.
package memdom

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/densefeed/dom"
)

// Default element box when no geometry is given.
const (
	defaultWidth  = 100
	defaultHeight = 20
)

var defaultComputed = map[string]string{
	"display":     "block",
	"visibility":  "visible",
	"font-family": "Times New Roman",
	"padding":     "0px",
}

type classRule struct {
	class, prop, value string
}

type layout struct {
	rect     *dom.Rect
	scroll   *dom.Size
	client   *dom.Size
	computed map[string]string
}

// Document is safe for concurrent use.
type Document struct {
	mu         sync.Mutex
	root       *html.Node
	body       *html.Node
	url        string
	viewport   dom.Size
	classRules []classRule
	layout     map[*html.Node]*layout
	sheets     map[string]string
	panels     map[string]string

	nextSub   int
	observers map[int]func([]dom.Element)
	keys      map[int]func(dom.Shortcut)
	scrolls   map[int]func()
	loads     map[int]func()

	hmu     sync.Mutex
	handles map[*Element]struct{}
}

// Option configures a Document.
type Option func(*Document)

// WithURL sets the document URL. Default: https://x.com/home.
func WithURL(u string) Option { return func(d *Document) { d.url = u } }

// WithViewport sets the viewport size. Default: 1280x800.
func WithViewport(w, h float64) Option {
	return func(d *Document) { d.viewport = dom.Size{Width: w, Height: h} }
}

// WithClassStyle registers a stylesheet-like rule: elements carrying class
// resolve prop to value unless an inline style or override says otherwise.
func WithClassStyle(class, prop, value string) Option {
	return func(d *Document) {
		d.classRules = append(d.classRules, classRule{class: class, prop: prop, value: value})
	}
}

// New parses src as a full HTML document.
func New(src string, opts ...Option) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("memdom: parse: %w", err)
	}
	d := &Document{
		root:      root,
		url:       "https://x.com/home",
		viewport:  dom.Size{Width: 1280, Height: 800},
		layout:    make(map[*html.Node]*layout),
		sheets:    make(map[string]string),
		panels:    make(map[string]string),
		observers: make(map[int]func([]dom.Element)),
		keys:      make(map[int]func(dom.Shortcut)),
		scrolls:   make(map[int]func()),
		loads:     make(map[int]func()),
		handles:   make(map[*Element]struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	d.body = findTag(root, "body")
	if d.body == nil {
		return nil, fmt.Errorf("memdom: document has no body")
	}
	return d, nil
}

// --- dom.Document ---

func (d *Document) URL() string { return d.url }

func (d *Document) QueryAll(selector string) ([]dom.Element, error) {
	return d.queryAll(nil, selector)
}

func (d *Document) Query(selector string) (dom.Element, error) {
	return first(d.QueryAll(selector))
}

func (d *Document) Body() (dom.Element, error) {
	d.mu.Lock()
	body := d.body
	d.mu.Unlock()
	return d.wrap(body), nil
}

func (d *Document) Viewport() (dom.Size, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewport, nil
}

func (d *Document) InjectStylesheet(id, css string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.sheets[id]; ok {
		return nil
	}
	d.sheets[id] = css
	return nil
}

func (d *Document) RenderPanel(id, content string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.panels[id] = content
	return nil
}

func (d *Document) Count(selector string) (int, error) {
	sel, err := compile(selector)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(selectAll(d.root, sel)), nil
}

func (d *Document) ObserveAdded(fn func([]dom.Element)) (dom.Subscription, error) {
	return subscribe(d, d.observers, fn), nil
}

func (d *Document) OnShortcut(fn func(dom.Shortcut)) (dom.Subscription, error) {
	return subscribe(d, d.keys, fn), nil
}

func (d *Document) OnScroll(fn func()) (dom.Subscription, error) {
	return subscribe(d, d.scrolls, fn), nil
}

func (d *Document) OnLoad(fn func()) (dom.Subscription, error) {
	return subscribe(d, d.loads, fn), nil
}

// Release forgets every handle handed out so far.
func (d *Document) Release() {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	clear(d.handles)
}

func subscribe[F any](d *Document, m map[int]F, fn F) dom.Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	m[id] = fn
	return dom.CancelFunc(func() {
		d.mu.Lock()
		delete(m, id)
		d.mu.Unlock()
	})
}

// listeners returns the callbacks of m in subscription order. Caller holds
// d.mu.
func listeners[F any](m map[int]F) []F {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]F, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m[id])
	}
	return fns
}

// --- test controls ---

// Insert parses fragment and appends its nodes to the first element matching
// parentSelector, then notifies ObserveAdded subscribers with the inserted
// top-level elements as one batch.
func (d *Document) Insert(parentSelector, fragment string) ([]dom.Element, error) {
	parent, err := d.Query(parentSelector)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("memdom: insert: no element matches %q", parentSelector)
	}
	pn := parent.(*Element).n

	d.mu.Lock()
	nodes, err := html.ParseFragment(strings.NewReader(fragment), pn)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("memdom: parse fragment: %w", err)
	}
	var added []dom.Element
	for _, n := range nodes {
		pn.AppendChild(n)
		if n.Type == html.ElementNode {
			added = append(added, d.wrap(n))
		}
	}
	observers := listeners(d.observers)
	d.mu.Unlock()

	if len(added) > 0 {
		for _, fn := range observers {
			fn(added)
		}
	}
	return added, nil
}

// Press delivers a keyboard chord to OnShortcut subscribers.
func (d *Document) Press(s dom.Shortcut) {
	d.mu.Lock()
	fns := listeners(d.keys)
	d.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Scroll delivers one window scroll event to OnScroll subscribers.
func (d *Document) Scroll() {
	d.mu.Lock()
	fns := listeners(d.scrolls)
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Reload replaces the page with a freshly parsed src, as a navigation
// would: injected stylesheets, panels and layout overrides are gone.
// Subscriptions survive and OnLoad subscribers are notified.
func (d *Document) Reload(src string) error {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("memdom: parse: %w", err)
	}
	body := findTag(root, "body")
	if body == nil {
		return fmt.Errorf("memdom: document has no body")
	}
	d.mu.Lock()
	d.root, d.body = root, body
	clear(d.layout)
	clear(d.sheets)
	clear(d.panels)
	fns := listeners(d.loads)
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return nil
}

// Handles returns the number of element handles handed out and not yet
// released.
func (d *Document) Handles() int {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	return len(d.handles)
}

// SetRect overrides the bounding box of el.
func (d *Document) SetRect(el dom.Element, r dom.Rect) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layoutLocked(el.(*Element).n).rect = &r
}

// SetScroll overrides the scroll and client sizes of el.
func (d *Document) SetScroll(el dom.Element, scroll, client dom.Size) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := d.layoutLocked(el.(*Element).n)
	l.scroll, l.client = &scroll, &client
}

// SetComputed overrides one computed style property of el.
func (d *Document) SetComputed(el dom.Element, prop, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := d.layoutLocked(el.(*Element).n)
	if l.computed == nil {
		l.computed = make(map[string]string)
	}
	l.computed[prop] = value
}

// SetViewport changes the viewport size.
func (d *Document) SetViewport(w, h float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.viewport = dom.Size{Width: w, Height: h}
}

// Stylesheet returns the stylesheet injected under id.
func (d *Document) Stylesheet(id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	css, ok := d.sheets[id]
	return css, ok
}

// Panel returns the last HTML rendered into panel id.
func (d *Document) Panel(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.panels[id]
}

// Observers returns the number of live ObserveAdded subscriptions.
func (d *Document) Observers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observers)
}

// HTML serialises the current tree.
func (d *Document) HTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	html.Render(&buf, d.root)
	return buf.String()
}

// --- internals ---

func (d *Document) wrap(n *html.Node) *Element {
	if n == nil {
		return nil
	}
	el := &Element{d: d, n: n}
	d.hmu.Lock()
	d.handles[el] = struct{}{}
	d.hmu.Unlock()
	return el
}

// queryAll matches under root, or under the whole document when root is nil.
func (d *Document) queryAll(root *html.Node, selector string) ([]dom.Element, error) {
	sel, err := compile(selector)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	if root == nil {
		root = d.root
	}
	nodes := selectAll(root, sel)
	d.mu.Unlock()
	out := make([]dom.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.wrap(n))
	}
	return out, nil
}

func (d *Document) layoutLocked(n *html.Node) *layout {
	l, ok := d.layout[n]
	if !ok {
		l = &layout{}
		d.layout[n] = l
	}
	return l
}

func first(els []dom.Element, err error) (dom.Element, error) {
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

func findTag(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findTag(c, tag); f != nil {
			return f
		}
	}
	return nil
}

// parseStyle splits an inline style attribute into ordered declarations.
func parseStyle(s string) [][2]string {
	var out [][2]string
	for _, decl := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k == "" {
			continue
		}
		out = append(out, [2]string{k, v})
	}
	return out
}

func formatStyle(decls [][2]string) string {
	parts := make([]string, 0, len(decls))
	for _, kv := range decls {
		parts = append(parts, kv[0]+": "+kv[1])
	}
	return strings.Join(parts, "; ")
}

func styleValue(n *html.Node, prop string) (string, bool) {
	for _, kv := range parseStyle(getAttr(n, "style")) {
		if kv[0] == prop {
			return kv[1], true
		}
	}
	return "", false
}

// px parses "12px" or "12" into 12.
func px(v string) (float64, bool) {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
