// Package csscache remembers style sets already validated for a selector so
// repeated applications skip the validation round trip.
//
// Entries expire after a fixed TTL and are evicted lazily on read. There is
// no size bound: a Cache lives as long as the page it belongs to.
package csscache

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/hazyhaar/densefeed/dom"
	"github.com/hazyhaar/densefeed/state"
)

// DefaultTTL is the lifetime of a cache entry.
const DefaultTTL = 30 * time.Second

// maxValidationErrors bounds the validation-error history.
const maxValidationErrors = 64

// Baseline lists the properties every cached style set must carry.
var Baseline = []string{"font-family", "color", "background"}

// ErrMissingBaseline is wrapped when a style set lacks a baseline property.
var ErrMissingBaseline = errors.New("csscache: missing baseline property")

// ValidationError records why ApplyOptimized refused a style set.
type ValidationError struct {
	Selector string
	At       time.Time
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("csscache: validate %q: %v", e.Selector, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

type entry struct {
	styles   map[string]string
	storedAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	st      *state.State
	entries map[string]entry
	invalid []ValidationError
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty cache reporting hits, misses and errors to st.
func New(st *state.State, opts ...Option) *Cache {
	c := &Cache{
		ttl:     DefaultTTL,
		now:     time.Now,
		st:      st,
		entries: make(map[string]entry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns a copy of the styles stored for selector if the entry is
// younger than the TTL. An expired entry is removed and counts as a miss.
func (c *Cache) Get(selector string) (map[string]string, bool) {
	c.mu.Lock()
	e, ok := c.entries[selector]
	if ok && c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, selector)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		c.st.CacheMiss()
		return nil, false
	}
	c.st.CacheHit()
	return maps.Clone(e.styles), true
}

// Put stores styles for selector with a fresh timestamp, replacing any
// previous entry.
func (c *Cache) Put(selector string, styles map[string]string) {
	c.mu.Lock()
	c.entries[selector] = entry{styles: maps.Clone(styles), storedAt: c.now()}
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ValidationErrors returns the most recent validation failures, oldest first.
func (c *Cache) ValidationErrors() []ValidationError {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ValidationError, len(c.invalid))
	copy(out, c.invalid)
	return out
}

// ApplyOptimized sets styles on el. On a cache hit the cached set is applied
// directly. On a miss the selector must resolve against doc and styles must
// carry every Baseline property; a failure is recorded, counted and
// returned as a *ValidationError without touching el.
func (c *Cache) ApplyOptimized(doc dom.Document, el dom.Element, selector string, styles map[string]string) error {
	if cached, ok := c.Get(selector); ok {
		return c.apply(el, cached)
	}

	if err := c.validate(doc, selector, styles); err != nil {
		verr := &ValidationError{Selector: selector, At: c.now(), Err: err}
		c.record(*verr)
		c.st.Error()
		return verr
	}
	if err := c.apply(el, styles); err != nil {
		return err
	}
	c.Put(selector, styles)
	c.st.CacheApplied()
	return nil
}

func (c *Cache) validate(doc dom.Document, selector string, styles map[string]string) error {
	if _, err := doc.QueryAll(selector); err != nil {
		return err
	}
	for _, prop := range Baseline {
		if _, ok := styles[prop]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingBaseline, prop)
		}
	}
	return nil
}

func (c *Cache) apply(el dom.Element, styles map[string]string) error {
	for _, prop := range slices.Sorted(maps.Keys(styles)) {
		if err := el.SetStyle(prop, styles[prop]); err != nil {
			c.st.Error()
			return fmt.Errorf("csscache: set %s: %w", prop, err)
		}
	}
	return nil
}

func (c *Cache) record(v ValidationError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalid = append(c.invalid, v)
	if n := len(c.invalid); n > maxValidationErrors {
		c.invalid = append(c.invalid[:0:0], c.invalid[n-maxValidationErrors:]...)
	}
}
