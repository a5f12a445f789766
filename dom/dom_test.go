package dom

import (
	"errors"
	"testing"
)

func TestRectOverlaps_Symmetric(t *testing.T) {
	rects := []Rect{
		RectXYWH(0, 0, 100, 20),
		RectXYWH(50, 10, 100, 20),
		RectXYWH(100, 0, 10, 10), // touches the first on its right edge
		RectXYWH(200, 200, 5, 5),
		RectXYWH(-50, -50, 10, 10),
		{},
	}
	for i, a := range rects {
		for j, b := range rects {
			if a.Overlaps(b) != b.Overlaps(a) {
				t.Errorf("rects %d/%d: Overlaps not symmetric", i, j)
			}
		}
	}
}

func TestRectOverlaps(t *testing.T) {
	a := RectXYWH(0, 0, 100, 20)
	cases := []struct {
		name string
		b    Rect
		want bool
	}{
		{"intersecting", RectXYWH(50, 10, 100, 20), true},
		{"touching edge", RectXYWH(100, 0, 10, 10), true},
		{"right of", RectXYWH(101, 0, 10, 10), false},
		{"below", RectXYWH(0, 21, 10, 10), false},
		{"contained", RectXYWH(10, 5, 5, 5), true},
	}
	for _, c := range cases {
		if got := a.Overlaps(c.b); got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}

func TestRectEmpty(t *testing.T) {
	if !(Rect{}).Empty() {
		t.Error("zero rect should be empty")
	}
	if !RectXYWH(5, 5, 0, 10).Empty() {
		t.Error("zero width should be empty")
	}
	if RectXYWH(5, 5, 1, 1).Empty() {
		t.Error("1x1 should not be empty")
	}
}

func TestInvalidSelector(t *testing.T) {
	cause := errors.New("bad token")
	err := InvalidSelector("div >", cause)
	if !errors.Is(err, ErrInvalidSelector) {
		t.Errorf("errors.Is(ErrInvalidSelector) = false for %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("cause not wrapped: %v", err)
	}
}

func TestCancelFunc(t *testing.T) {
	n := 0
	var s Subscription = CancelFunc(func() { n++ })
	s.Cancel()
	if n != 1 {
		t.Errorf("cancel ran %d times, want 1", n)
	}
	CancelFunc(nil).Cancel()
}

type trackingDoc struct {
	Document
	released int
}

func (d *trackingDoc) Release() { d.released++ }

func TestRelease(t *testing.T) {
	d := &trackingDoc{}
	Release(d)
	Release(d)
	if d.released != 2 {
		t.Errorf("released %d times, want 2", d.released)
	}
	// Documents without handle tracking are left alone.
	Release(struct{ Document }{})
}
