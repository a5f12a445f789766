// Package dom defines the capability interface densefeed uses to read and
// mutate a live page. The transform, watcher and diagnostics packages only
// see these interfaces: roddom backs them with a Chrome tab over CDP, memdom
// with an in-memory HTML tree for tests.
package dom

import (
	"errors"
	"fmt"
)

// ErrInvalidSelector is wrapped by every error caused by a selector the
// document cannot parse.
var ErrInvalidSelector = errors.New("dom: invalid selector")

// InvalidSelector returns an error wrapping ErrInvalidSelector.
func InvalidSelector(selector string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %q", ErrInvalidSelector, selector)
	}
	return fmt.Errorf("%w: %q: %w", ErrInvalidSelector, selector, cause)
}

// Rect is an axis-aligned bounding box in viewport coordinates, as returned
// by getBoundingClientRect.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// RectXYWH builds a Rect from an origin and a size.
func RectXYWH(x, y, w, h float64) Rect {
	return Rect{Left: x, Top: y, Right: x + w, Bottom: y + h}
}

func (r Rect) Width() float64  { return r.Right - r.Left }
func (r Rect) Height() float64 { return r.Bottom - r.Top }

// Empty reports a zero-area box (zero width or zero height).
func (r Rect) Empty() bool { return r.Width() == 0 || r.Height() == 0 }

// Overlaps reports whether two boxes intersect. Touching edges count as an
// overlap. The predicate is symmetric.
func (r Rect) Overlaps(o Rect) bool {
	return !(r.Right < o.Left || r.Left > o.Right || r.Bottom < o.Top || r.Top > o.Bottom)
}

// Size is a width/height pair (viewport, scroll or client box).
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Shortcut identifies a global keyboard chord.
type Shortcut string

const (
	ShortcutPerformance Shortcut = "ctrl+shift+p"
	ShortcutDebug       Shortcut = "ctrl+shift+d"
	ShortcutRescan      Shortcut = "ctrl+shift+r"
)

// Shortcuts lists every chord a document should listen for.
var Shortcuts = []Shortcut{ShortcutPerformance, ShortcutDebug, ShortcutRescan}

// Subscription is a cancellable event registration.
type Subscription interface {
	Cancel()
}

// CancelFunc adapts a function to Subscription.
type CancelFunc func()

func (f CancelFunc) Cancel() {
	if f != nil {
		f()
	}
}

// Element is a single element node.
type Element interface {
	// Matches reports whether the element itself matches selector.
	Matches(selector string) (bool, error)
	// QueryAll returns matching descendants in document order.
	QueryAll(selector string) ([]Element, error)
	// Query returns the first matching descendant, or nil when none match.
	Query(selector string) (Element, error)

	Tag() string
	Attr(name string) (string, bool, error)
	SetAttr(name, value string) error

	HasClass(name string) (bool, error)
	AddClass(names ...string) error
	RemoveClass(names ...string) error
	Classes() ([]string, error)

	// SetStyle sets one inline style property (CSS property name, e.g.
	// "max-width").
	SetStyle(prop, value string) error
	InlineStyle(prop string) (string, error)
	ComputedStyle(prop string) (string, error)

	Rect() (Rect, error)
	ScrollSize() (Size, error)
	ClientSize() (Size, error)
	Text() (string, error)

	// AppendChild creates a child element with attributes and text content
	// as the last child. PrependChild inserts it as the first child.
	AppendChild(tag string, attrs map[string]string, text string) error
	PrependChild(tag string, attrs map[string]string, text string) error

	// Describe returns a short human-readable locator: #id, the data-testid
	// attribute selector, or the tag name.
	Describe() string

	// Release frees the element's remote handle. The element must not be
	// used afterwards.
	Release()
}

// Document is the page.
type Document interface {
	URL() string
	QueryAll(selector string) ([]Element, error)
	Query(selector string) (Element, error)
	// Count returns how many elements match selector without handing out
	// element handles.
	Count(selector string) (int, error)
	Body() (Element, error)
	Viewport() (Size, error)

	// InjectStylesheet adds a <style> block once per id.
	InjectStylesheet(id, css string) error
	// RenderPanel creates or replaces the content of a fixed overlay panel.
	RenderPanel(id, html string) error

	// ObserveAdded calls fn with the element nodes added anywhere under the
	// body, one call per mutation batch.
	ObserveAdded(fn func(added []Element)) (Subscription, error)
	// OnShortcut calls fn for every chord in Shortcuts pressed on the page.
	// The listener survives page loads.
	OnShortcut(fn func(Shortcut)) (Subscription, error)
	// OnScroll calls fn for every scroll event of the window.
	OnScroll(fn func()) (Subscription, error)
	// OnLoad calls fn after every new document finished loading in the
	// page. Element handles obtained before the load are stale.
	OnLoad(fn func()) (Subscription, error)
}

// Releaser is implemented by documents that track the element handles they
// hand out. Release frees all of them at once.
type Releaser interface {
	Release()
}

// Release frees every handle doc has handed out, when doc tracks them.
func Release(doc Document) {
	if r, ok := doc.(Releaser); ok {
		r.Release()
	}
}

// Describe builds the locator used in Element.Describe from raw attributes.
func Describe(tag, id, testID string) string {
	if id != "" {
		return "#" + id
	}
	if testID != "" {
		return fmt.Sprintf("[data-testid=%q]", testID)
	}
	return tag
}
