package roddom

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/densefeed/dom"
)

// Element wraps a remote element handle.
type Element struct {
	el *rod.Element
	d  *Document
}

var _ dom.Element = (*Element)(nil)

// Rod returns the underlying handle.
func (e *Element) Rod() *rod.Element { return e.el }

func (e *Element) eval(op, js string, args ...any) (*proto.RuntimeRemoteObject, error) {
	res, err := e.el.Eval(js, args...)
	if err != nil {
		return nil, fmt.Errorf("roddom: %s: %w", op, err)
	}
	return res, nil
}

func (e *Element) Matches(selector string) (bool, error) {
	ok, err := e.el.Matches(selector)
	if err != nil {
		return false, queryErr(selector, err)
	}
	return ok, nil
}

func (e *Element) QueryAll(selector string) ([]dom.Element, error) {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, queryErr(selector, err)
	}
	return e.d.wrapAll(els), nil
}

func (e *Element) Query(selector string) (dom.Element, error) {
	return first(e.QueryAll(selector))
}

func (e *Element) Tag() string {
	res, err := e.eval("tag", `() => this.tagName.toLowerCase()`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

func (e *Element) Attr(name string) (string, bool, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", false, fmt.Errorf("roddom: attr %s: %w", name, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *Element) SetAttr(name, value string) error {
	_, err := e.eval("set attr", `(n, v) => this.setAttribute(n, v)`, name, value)
	return err
}

func (e *Element) HasClass(name string) (bool, error) {
	res, err := e.eval("has class", `(c) => this.classList.contains(c)`, name)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (e *Element) AddClass(names ...string) error {
	_, err := e.eval("add class", `(c) => this.classList.add(...c)`, names)
	return err
}

func (e *Element) RemoveClass(names ...string) error {
	_, err := e.eval("remove class", `(c) => this.classList.remove(...c)`, names)
	return err
}

func (e *Element) Classes() ([]string, error) {
	res, err := e.eval("classes", `() => this.getAttribute('class') || ''`)
	if err != nil {
		return nil, err
	}
	return strings.Fields(res.Value.Str()), nil
}

func (e *Element) SetStyle(prop, value string) error {
	_, err := e.eval("set style", `(p, v) => this.style.setProperty(p, v)`, prop, value)
	return err
}

func (e *Element) InlineStyle(prop string) (string, error) {
	res, err := e.eval("inline style", `(p) => this.style.getPropertyValue(p)`, prop)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e *Element) ComputedStyle(prop string) (string, error) {
	res, err := e.eval("computed style", `(p) => window.getComputedStyle(this).getPropertyValue(p)`, prop)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e *Element) Rect() (dom.Rect, error) {
	res, err := e.eval("rect", `() => {
		const r = this.getBoundingClientRect();
		return {left: r.left, top: r.top, right: r.right, bottom: r.bottom};
	}`)
	if err != nil {
		return dom.Rect{}, err
	}
	var r dom.Rect
	if err := res.Value.Unmarshal(&r); err != nil {
		return dom.Rect{}, fmt.Errorf("roddom: rect: %w", err)
	}
	return r, nil
}

func (e *Element) ScrollSize() (dom.Size, error) {
	return e.size("scroll size", `() => ({width: this.scrollWidth, height: this.scrollHeight})`)
}

func (e *Element) ClientSize() (dom.Size, error) {
	return e.size("client size", `() => ({width: this.clientWidth, height: this.clientHeight})`)
}

func (e *Element) size(op, js string) (dom.Size, error) {
	res, err := e.eval(op, js)
	if err != nil {
		return dom.Size{}, err
	}
	var s dom.Size
	if err := res.Value.Unmarshal(&s); err != nil {
		return dom.Size{}, fmt.Errorf("roddom: %s: %w", op, err)
	}
	return s, nil
}

func (e *Element) Text() (string, error) {
	res, err := e.eval("text", `() => this.textContent || ''`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

const insertJS = `(tag, attrs, text, prepend) => {
	const n = document.createElement(tag);
	for (const [k, v] of Object.entries(attrs || {})) n.setAttribute(k, v);
	if (text) n.textContent = text;
	if (prepend) this.prepend(n); else this.append(n);
}`

func (e *Element) AppendChild(tag string, attrs map[string]string, text string) error {
	_, err := e.eval("append child", insertJS, tag, attrs, text, false)
	return err
}

func (e *Element) PrependChild(tag string, attrs map[string]string, text string) error {
	_, err := e.eval("prepend child", insertJS, tag, attrs, text, true)
	return err
}

func (e *Element) Describe() string {
	res, err := e.eval("describe", `() => [this.tagName.toLowerCase(), this.id || '', this.getAttribute('data-testid') || '']`)
	if err != nil {
		return "?"
	}
	var parts [3]string
	if err := res.Value.Unmarshal(&parts); err != nil {
		return "?"
	}
	return dom.Describe(parts[0], parts[1], parts[2])
}

func (e *Element) Release() {
	e.d.hmu.Lock()
	delete(e.d.handles, e)
	e.d.hmu.Unlock()
	e.free()
}

// free releases the remote object. A handle whose document is gone is
// already released on the browser side.
func (e *Element) free() {
	if err := e.el.Release(); err != nil {
		e.d.logger.Debug("roddom: release handle", "error", err)
	}
}
