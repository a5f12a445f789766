package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	if len(id) != 36 {
		t.Fatalf("length: got %d, want 36", len(id))
	}
	if id[14] != '7' {
		t.Fatalf("version nibble: got %c, want 7 (id=%s)", id[14], id)
	}
	if _, err := Parse(id); err != nil {
		t.Fatalf("Parse(%q): %v", id, err)
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for range 100 {
		id := gen()
		if id == prev {
			t.Fatalf("duplicate id %s", id)
		}
		// Same-millisecond ids share a prefix; only the timestamp part is
		// guaranteed monotonic.
		if id[:13] < prev[:13] {
			t.Fatalf("not time-sorted: %s after %s", id, prev)
		}
		prev = id
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("rpt_", Default)()
	if !strings.HasPrefix(id, "rpt_") {
		t.Fatalf("got %q, want prefix rpt_", id)
	}
	if len(id) != 4+36 {
		t.Fatalf("length: got %d, want 40", len(id))
	}
}

func TestSequence(t *testing.T) {
	gen := Prefixed("ses_", Sequence())
	for _, want := range []string{"ses_1", "ses_2", "ses_3"} {
		if got := gen(); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("expected error")
	}
}
