// Package role maps the symbolic element roles of the host page to the CSS
// attribute selectors that find them, and names the marker classes the
// transformer applies.
package role

import (
	"fmt"
	"strings"
)

// Role is a symbolic element class of the host page.
type Role int

const (
	PrimaryColumn Role = iota
	Sidebar
	Tweet
	TweetText
	UserName
	ScreenName
	LikeButton
	RetweetButton
	ReplyButton
	BookmarkButton
	ShareButton
	PromotedTweet
)

// All lists every role in declaration order.
var All = []Role{
	PrimaryColumn, Sidebar, Tweet, TweetText, UserName, ScreenName,
	LikeButton, RetweetButton, ReplyButton, BookmarkButton, ShareButton,
	PromotedTweet,
}

// Buttons are the interactive action controls.
var Buttons = []Role{LikeButton, RetweetButton, ReplyButton, BookmarkButton, ShareButton}

// TextRoles are the text-bearing roles checked for overlap.
var TextRoles = []Role{TweetText, UserName, ScreenName}

var names = map[Role]string{
	PrimaryColumn:  "primaryColumn",
	Sidebar:        "sidebarColumn",
	Tweet:          "tweet",
	TweetText:      "tweetText",
	UserName:       "userName",
	ScreenName:     "userScreenName",
	LikeButton:     "likeButton",
	RetweetButton:  "retweetButton",
	ReplyButton:    "replyButton",
	BookmarkButton: "bookmarkButton",
	ShareButton:    "shareButton",
	PromotedTweet:  "promotedTweet",
}

func (r Role) String() string {
	if n, ok := names[r]; ok {
		return n
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Parse resolves a role name as printed by String (case-insensitive).
func Parse(s string) (Role, error) {
	for r, n := range names {
		if strings.EqualFold(n, s) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("role: unknown role %q", s)
}

// Marker and presentation classes.
const (
	ClassApplied     = "ux-fixer-applied"
	ClassHidden      = "ux-fixer-hidden"
	ClassCompact     = "ux-fixer-compact"
	ClassMono        = "ux-fixer-mono"
	ClassDense       = "ux-fixer-dense"
	ClassButtonLabel = "ux-fixer-button-label"
	ClassPerformance = "ux-fixer-performance-mode"
	ClassSkipLink    = "skip-link"
)

// Map is an immutable role → selector mapping. The zero value is empty;
// use Default.
type Map struct {
	sel map[Role]string
}

// Default returns the selectors matching the host page's data-testid
// conventions.
func Default() Map {
	return Map{sel: map[Role]string{
		PrimaryColumn:  `[data-testid="primaryColumn"]`,
		Sidebar:        `[data-testid="sidebarColumn"]`,
		Tweet:          `[data-testid="tweet"]`,
		TweetText:      `[data-testid="tweetText"]`,
		UserName:       `[data-testid="User-Name"]`,
		ScreenName:     `[data-testid="UserScreenName"]`,
		LikeButton:     `[data-testid="like"]`,
		RetweetButton:  `[data-testid="retweet"]`,
		ReplyButton:    `[data-testid="reply"]`,
		BookmarkButton: `[data-testid="bookmark"]`,
		ShareButton:    `[data-testid="share"]`,
		PromotedTweet:  `[data-testid="promotedTweet"]`,
	}}
}

// Selector returns the selector for r, or "" when r is unmapped.
func (m Map) Selector(r Role) string { return m.sel[r] }

// With returns a copy of m with r mapped to selector.
func (m Map) With(r Role, selector string) Map {
	out := Map{sel: make(map[Role]string, len(m.sel)+1)}
	for k, v := range m.sel {
		out.sel[k] = v
	}
	out.sel[r] = selector
	return out
}

// Join returns the selector list matching any of roles.
func (m Map) Join(roles ...Role) string {
	parts := make([]string, 0, len(roles))
	for _, r := range roles {
		if s := m.sel[r]; s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

var labels = map[string]string{
	"like":     "Like",
	"retweet":  "Retweet",
	"reply":    "Reply",
	"bookmark": "Bookmark",
	"share":    "Share",
}

// Label returns the text label for a control's data-testid.
func Label(testID string) (string, bool) {
	l, ok := labels[testID]
	return l, ok
}
