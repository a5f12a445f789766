package diagnostics

import (
	"context"
	"fmt"
	"strings"

	"github.com/hazyhaar/densefeed/dom"
	"github.com/hazyhaar/densefeed/role"
)

// Layout thresholds.
const (
	MinPrimaryWidth = 300
	MinSidebarWidth = 200
)

// CompactPadding is the padding every compact-marked element must resolve to.
const CompactPadding = "8px 12px"

// monoFamilies are the family names accepted as proof the monospace stack
// survived the page's own rules.
var monoFamilies = []string{"Monaco", "Menlo", "monospace"}

type check struct {
	category Category
	run      func(ctx context.Context) ([]Issue, error)
}

func (e *Engine) builtinChecks() []check {
	return []check{
		{TextOverlap, e.checkTextOverlap},
		{BrokenButtons, e.checkBrokenButtons},
		{Layout, e.checkLayout},
		{StyleConflicts, e.checkStyleConflicts},
		{SelectorMisses, e.checkSelectorMisses},
	}
}

func issue(c Category, typ string, el dom.Element, selector, msg string) Issue {
	return Issue{Category: c, Type: typ, Element: el, Selector: selector, Message: msg}
}

// skip records a failed read on one element. The element contributes no
// findings; the rest of the check carries on.
func (e *Engine) skip(c Category, el dom.Element, err error) {
	e.st.Error()
	e.logger.Warn("diagnostics: element skipped", "category", string(c), "element", el.Describe(), "error", err)
}

// checkTextOverlap flags invisible text, overflowing text, and every
// unordered pair of visible text elements whose boxes intersect.
func (e *Engine) checkTextOverlap(ctx context.Context) ([]Issue, error) {
	sel := e.roles.Join(role.TextRoles...)
	if sel == "" {
		return nil, nil
	}
	els, err := e.doc.QueryAll(sel)
	if err != nil {
		return nil, err
	}

	type box struct {
		el   dom.Element
		desc string
		rect dom.Rect
	}
	var issues []Issue
	var visible []box
	for _, el := range els {
		if err := ctx.Err(); err != nil {
			return issues, err
		}
		r, err := el.Rect()
		if err != nil {
			e.skip(TextOverlap, el, err)
			continue
		}
		desc := el.Describe()
		if r.Empty() {
			issues = append(issues, issue(TextOverlap, "invisible", el, desc, "Text element has zero dimensions"))
			continue
		}
		scroll, err := el.ScrollSize()
		if err != nil {
			e.skip(TextOverlap, el, err)
			continue
		}
		client, err := el.ClientSize()
		if err != nil {
			e.skip(TextOverlap, el, err)
			continue
		}
		if scroll.Width > client.Width || scroll.Height > client.Height {
			issues = append(issues, issue(TextOverlap, "overflow", el, desc, "Text content overflows container"))
		}
		visible = append(visible, box{el: el, desc: desc, rect: r})
	}

	for i := range visible {
		for j := i + 1; j < len(visible); j++ {
			a, b := visible[i], visible[j]
			if a.rect.Overlaps(b.rect) {
				issues = append(issues, issue(TextOverlap, "overlap", a.el, a.desc, "Overlaps with "+b.desc))
			}
		}
	}
	return issues, nil
}

// checkBrokenButtons flags action controls that cannot be seen or used.
func (e *Engine) checkBrokenButtons(ctx context.Context) ([]Issue, error) {
	sel := e.roles.Join(role.Buttons...)
	if sel == "" {
		return nil, nil
	}
	buttons, err := e.doc.QueryAll(sel)
	if err != nil {
		return nil, err
	}
	vp, err := e.doc.Viewport()
	if err != nil {
		return nil, err
	}

	var issues []Issue
	for _, b := range buttons {
		if err := ctx.Err(); err != nil {
			return issues, err
		}
		desc := b.Describe()
		r, err := b.Rect()
		if err != nil {
			e.skip(BrokenButtons, b, err)
			continue
		}
		if r.Empty() {
			issues = append(issues, issue(BrokenButtons, "invisible", b, desc, "Button has zero dimensions"))
			continue
		}

		display, err := b.ComputedStyle("display")
		if err != nil {
			e.skip(BrokenButtons, b, err)
			continue
		}
		visibility, err := b.ComputedStyle("visibility")
		if err != nil {
			e.skip(BrokenButtons, b, err)
			continue
		}
		if display == "none" || visibility == "hidden" {
			issues = append(issues, issue(BrokenButtons, "hidden", b, desc, "Button is hidden"))
			continue
		}

		text, err := b.Text()
		if err != nil {
			e.skip(BrokenButtons, b, err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			issues = append(issues, issue(BrokenButtons, "no-text", b, desc, "Button has no visible text"))
		}

		if r.Right < 0 || r.Bottom < 0 || r.Left > vp.Width || r.Top > vp.Height {
			issues = append(issues, issue(BrokenButtons, "off-screen", b, desc, "Button positioned off-screen"))
		}
	}
	return issues, nil
}

// checkLayout flags a narrow or shifted primary column and a narrow
// floating sidebar.
func (e *Engine) checkLayout(ctx context.Context) ([]Issue, error) {
	var issues []Issue

	if sel := e.roles.Selector(role.PrimaryColumn); sel != "" {
		col, err := e.doc.Query(sel)
		if err != nil {
			return nil, err
		}
		if col != nil {
			if r, err := col.Rect(); err != nil {
				e.skip(Layout, col, err)
			} else {
				issues = append(issues, primaryColumnIssues(col, sel, r)...)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return issues, err
	}

	if sel := e.roles.Selector(role.Sidebar); sel != "" {
		bar, err := e.doc.Query(sel)
		if err != nil {
			return issues, err
		}
		if bar != nil {
			if r, err := bar.Rect(); err != nil {
				e.skip(Layout, bar, err)
			} else if r.Left > 0 && r.Width() < MinSidebarWidth {
				issues = append(issues, issue(Layout, "sidebar-narrow", bar, sel,
					fmt.Sprintf("Sidebar too narrow: %gpx", r.Width())))
			}
		}
	}
	return issues, nil
}

func primaryColumnIssues(col dom.Element, sel string, r dom.Rect) []Issue {
	var issues []Issue
	if r.Width() < MinPrimaryWidth {
		issues = append(issues, issue(Layout, "narrow-column", col, sel,
			fmt.Sprintf("Primary column too narrow: %gpx", r.Width())))
	}
	if r.Left < 0 {
		issues = append(issues, issue(Layout, "column-offset", col, sel,
			fmt.Sprintf("Primary column positioned off-screen: left=%gpx", r.Left)))
	}
	return issues
}

// checkStyleConflicts verifies the marker classes still resolve to the
// intended computed styles.
func (e *Engine) checkStyleConflicts(ctx context.Context) ([]Issue, error) {
	els, err := e.doc.QueryAll("." + role.ClassApplied + ", ." + role.ClassCompact + ", ." + role.ClassMono)
	if err != nil {
		return nil, err
	}

	var issues []Issue
	for _, el := range els {
		if err := ctx.Err(); err != nil {
			return issues, err
		}
		found, err := e.styleConflicts(el)
		if err != nil {
			e.skip(StyleConflicts, el, err)
			continue
		}
		issues = append(issues, found...)
	}
	return issues, nil
}

func (e *Engine) styleConflicts(el dom.Element) ([]Issue, error) {
	var issues []Issue
	mono, err := el.HasClass(role.ClassMono)
	if err != nil {
		return nil, err
	}
	if mono {
		family, err := el.ComputedStyle("font-family")
		if err != nil {
			return nil, err
		}
		if !containsAny(family, monoFamilies) {
			issues = append(issues, issue(StyleConflicts, "font-override", el, el.Describe(),
				"Monospace font not applied: "+family))
		}
	}

	compact, err := el.HasClass(role.ClassCompact)
	if err != nil {
		return nil, err
	}
	if compact {
		padding, err := el.ComputedStyle("padding")
		if err != nil {
			return nil, err
		}
		if padding != CompactPadding {
			issues = append(issues, issue(StyleConflicts, "padding-override", el, el.Describe(),
				"Compact padding not applied: "+padding))
		}
	}
	return issues, nil
}

// checkSelectorMisses flags every mapped role whose selector matches
// nothing. A selector the document rejects is reported as invalid instead.
func (e *Engine) checkSelectorMisses(ctx context.Context) ([]Issue, error) {
	var issues []Issue
	for _, r := range role.All {
		if err := ctx.Err(); err != nil {
			return issues, err
		}
		sel := e.roles.Selector(r)
		if sel == "" {
			continue
		}
		n, err := e.doc.Count(sel)
		if err != nil {
			issues = append(issues, issue(SelectorMisses, "invalid", nil, sel,
				fmt.Sprintf("Invalid selector for %s: %v", r, err)))
			continue
		}
		if n == 0 {
			issues = append(issues, issue(SelectorMisses, "missing", nil, sel,
				"No elements found for selector: "+sel))
			continue
		}
		e.logger.Debug("diagnostics: selector matched", "role", r.String(), "count", n)
	}
	return issues, nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
