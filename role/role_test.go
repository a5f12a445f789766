package role

import (
	"strings"
	"testing"
)

func TestDefault_EveryRoleMapped(t *testing.T) {
	m := Default()
	for _, r := range All {
		if m.Selector(r) == "" {
			t.Errorf("%s: no selector", r)
		}
	}
	if got := len(All); got != 12 {
		t.Errorf("len(All) = %d, want 12", got)
	}
}

func TestWith_DoesNotMutate(t *testing.T) {
	base := Default()
	over := base.With(Tweet, "article")
	if got := over.Selector(Tweet); got != "article" {
		t.Errorf("override = %q, want article", got)
	}
	if got := base.Selector(Tweet); got != `[data-testid="tweet"]` {
		t.Errorf("base changed: %q", got)
	}
}

func TestJoin_SkipsUnmapped(t *testing.T) {
	m := Map{}.With(LikeButton, "a").With(ShareButton, "b")
	if got := m.Join(Buttons...); got != "a, b" {
		t.Errorf("Join = %q, want %q", got, "a, b")
	}
	if got := (Map{}).Join(Buttons...); got != "" {
		t.Errorf("empty Join = %q", got)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	for _, r := range All {
		got, err := Parse(strings.ToUpper(r.String()))
		if err != nil {
			t.Fatalf("Parse(%s): %v", r, err)
		}
		if got != r {
			t.Errorf("Parse(%s) = %v", r, got)
		}
	}
	if _, err := Parse("sidebar"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestLabel(t *testing.T) {
	cases := map[string]string{"like": "Like", "retweet": "Retweet", "reply": "Reply", "bookmark": "Bookmark", "share": "Share"}
	for id, want := range cases {
		got, ok := Label(id)
		if !ok || got != want {
			t.Errorf("Label(%q) = %q, %v; want %q", id, got, ok, want)
		}
	}
	if _, ok := Label("caret"); ok {
		t.Error("unknown control got a label")
	}
}
