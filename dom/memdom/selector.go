package memdom

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/densefeed/dom"
)

// compile parses sel with cascadia. Parse failures are reported as
// dom.ErrInvalidSelector, the error path a browser takes on a malformed
// selector.
func compile(sel string) (cascadia.Selector, error) {
	if strings.TrimSpace(sel) == "" {
		return nil, dom.InvalidSelector(sel, fmt.Errorf("empty selector"))
	}
	s, err := cascadia.Compile(sel)
	if err != nil {
		return nil, dom.InvalidSelector(sel, err)
	}
	return s, nil
}

// selectAll returns element descendants of root (root excluded) matching s,
// in document order. As in Element.querySelectorAll, ancestors above root
// still count for descendant combinators.
func selectAll(root *html.Node, s cascadia.Selector) []*html.Node {
	return cascadia.QueryAll(root, s)
}

func getAttr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func hasClass(n *html.Node, cls string) bool {
	for _, c := range strings.Fields(getAttr(n, "class")) {
		if c == cls {
			return true
		}
	}
	return false
}
