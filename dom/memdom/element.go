package memdom

import (
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/densefeed/dom"
)

// Element wraps one element node of a Document.
type Element struct {
	d *Document
	n *html.Node
}

var _ dom.Element = (*Element)(nil)

// Node exposes the underlying node for assertions in tests.
func (e *Element) Node() *html.Node { return e.n }

func (e *Element) Matches(selector string) (bool, error) {
	sel, err := compile(selector)
	if err != nil {
		return false, err
	}
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return sel.Match(e.n), nil
}

func (e *Element) QueryAll(selector string) ([]dom.Element, error) {
	return e.d.queryAll(e.n, selector)
}

func (e *Element) Query(selector string) (dom.Element, error) {
	return first(e.QueryAll(selector))
}

func (e *Element) Tag() string { return e.n.Data }

func (e *Element) Attr(name string) (string, bool, error) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	v, ok := lookupAttr(e.n, name)
	return v, ok, nil
}

func (e *Element) SetAttr(name, value string) error {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	setAttr(e.n, name, value)
	return nil
}

func (e *Element) HasClass(name string) (bool, error) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return hasClass(e.n, name), nil
}

func (e *Element) AddClass(names ...string) error {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	classes := strings.Fields(getAttr(e.n, "class"))
	for _, name := range names {
		if !slices.Contains(classes, name) {
			classes = append(classes, name)
		}
	}
	setAttr(e.n, "class", strings.Join(classes, " "))
	return nil
}

func (e *Element) RemoveClass(names ...string) error {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	classes := slices.DeleteFunc(strings.Fields(getAttr(e.n, "class")), func(c string) bool {
		return slices.Contains(names, c)
	})
	setAttr(e.n, "class", strings.Join(classes, " "))
	return nil
}

func (e *Element) Classes() ([]string, error) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return strings.Fields(getAttr(e.n, "class")), nil
}

func (e *Element) SetStyle(prop, value string) error {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	prop = strings.ToLower(prop)
	decls := parseStyle(getAttr(e.n, "style"))
	replaced := false
	for i := range decls {
		if decls[i][0] == prop {
			decls[i][1] = value
			replaced = true
		}
	}
	if !replaced {
		decls = append(decls, [2]string{prop, value})
	}
	setAttr(e.n, "style", formatStyle(decls))
	return nil
}

func (e *Element) InlineStyle(prop string) (string, error) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	v, _ := styleValue(e.n, strings.ToLower(prop))
	return v, nil
}

func (e *Element) ComputedStyle(prop string) (string, error) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return e.computedLocked(strings.ToLower(prop)), nil
}

func (e *Element) computedLocked(prop string) string {
	if l, ok := e.d.layout[e.n]; ok {
		if v, ok := l.computed[prop]; ok {
			return v
		}
	}
	if v, ok := styleValue(e.n, prop); ok {
		return v
	}
	value, found := "", false
	for _, r := range e.d.classRules {
		if r.prop == prop && hasClass(e.n, r.class) {
			value, found = r.value, true
		}
	}
	if found {
		return value
	}
	return defaultComputed[prop]
}

func (e *Element) Rect() (dom.Rect, error) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return e.rectLocked(), nil
}

func (e *Element) rectLocked() dom.Rect {
	if l, ok := e.d.layout[e.n]; ok && l.rect != nil {
		return *l.rect
	}
	if e.computedLocked("display") == "none" {
		return dom.Rect{}
	}
	dim := func(prop string, def float64) float64 {
		if v, ok := styleValue(e.n, prop); ok {
			if f, ok := px(v); ok {
				return f
			}
		}
		return def
	}
	return dom.RectXYWH(dim("left", 0), dim("top", 0), dim("width", defaultWidth), dim("height", defaultHeight))
}

func (e *Element) ScrollSize() (dom.Size, error) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	if l, ok := e.d.layout[e.n]; ok && l.scroll != nil {
		return *l.scroll, nil
	}
	r := e.rectLocked()
	return dom.Size{Width: r.Width(), Height: r.Height()}, nil
}

func (e *Element) ClientSize() (dom.Size, error) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	if l, ok := e.d.layout[e.n]; ok && l.client != nil {
		return *l.client, nil
	}
	r := e.rectLocked()
	return dom.Size{Width: r.Width(), Height: r.Height()}, nil
}

func (e *Element) Text() (string, error) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.n)
	return b.String(), nil
}

func (e *Element) AppendChild(tag string, attrs map[string]string, text string) error {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	e.n.AppendChild(newElement(tag, attrs, text))
	return nil
}

func (e *Element) PrependChild(tag string, attrs map[string]string, text string) error {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	e.n.InsertBefore(newElement(tag, attrs, text), e.n.FirstChild)
	return nil
}

func (e *Element) Describe() string {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return dom.Describe(e.n.Data, getAttr(e.n, "id"), getAttr(e.n, "data-testid"))
}

func (e *Element) Release() {
	e.d.hmu.Lock()
	delete(e.d.handles, e)
	e.d.hmu.Unlock()
}

func newElement(tag string, attrs map[string]string, text string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		n.Attr = append(n.Attr, html.Attribute{Key: k, Val: attrs[k]})
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	return n
}
