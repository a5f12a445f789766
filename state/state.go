// Package state holds the per-page transform state: mode flags and the
// counters surfaced by the diagnostics panel. One State is constructed per
// Session and handed to every subsystem; there is no package-level instance.
package state

import "sync/atomic"

// State is safe for concurrent use.
type State struct {
	initialized     atomic.Bool
	observerActive  atomic.Bool
	performanceMode atomic.Bool
	debugMode       atomic.Bool

	elements     atomic.Int64
	tweets       atomic.Int64
	buttons      atomic.Int64
	labels       atomic.Int64
	promoted     atomic.Int64
	cacheHits    atomic.Int64
	cacheMisses  atomic.Int64
	cacheApplied atomic.Int64
	errors       atomic.Int64
	throttled    atomic.Int64
	passes       atomic.Int64
	lastIssues   atomic.Int64
	scrolls      atomic.Int64
	scrollRate   atomic.Int64
}

// New returns a zeroed State.
func New() *State { return &State{} }

func (s *State) SetInitialized(v bool) { s.initialized.Store(v) }
func (s *State) Initialized() bool { return s.initialized.Load() }
func (s *State) SetObserverActive(v bool) { s.observerActive.Store(v) }
func (s *State) ObserverActive() bool { return s.observerActive.Load() }
func (s *State) PerformanceMode() bool { return s.performanceMode.Load() }
func (s *State) DebugMode() bool { return s.debugMode.Load() }

// TogglePerformance flips performance mode and returns the new value.
func (s *State) TogglePerformance() bool { return toggle(&s.performanceMode) }

// ToggleDebug flips debug mode and returns the new value.
func (s *State) ToggleDebug() bool { return toggle(&s.debugMode) }

// SetPerformance forces performance mode and reports whether it changed.
func (s *State) SetPerformance(v bool) bool { return s.performanceMode.Swap(v) != v }

// SetDebug forces debug mode and reports whether it changed.
func (s *State) SetDebug(v bool) bool { return s.debugMode.Swap(v) != v }

func toggle(b *atomic.Bool) bool {
	for {
		old := b.Load()
		if b.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (s *State) AddElements(n int) { s.elements.Add(int64(n)) }
func (s *State) AddTweets(n int) { s.tweets.Add(int64(n)) }
func (s *State) AddButtons(n int) { s.buttons.Add(int64(n)) }
func (s *State) AddLabels(n int) { s.labels.Add(int64(n)) }
func (s *State) AddPromoted(n int) { s.promoted.Add(int64(n)) }
func (s *State) CacheHit() { s.cacheHits.Add(1) }
func (s *State) CacheMiss() { s.cacheMisses.Add(1) }
func (s *State) CacheApplied() { s.cacheApplied.Add(1) }
func (s *State) Error() { s.errors.Add(1) }
func (s *State) Throttled() { s.throttled.Add(1) }
func (s *State) Scroll() { s.scrolls.Add(1) }

// SetScrollRate stores the last measured scroll events per second.
func (s *State) SetScrollRate(n int) { s.scrollRate.Store(int64(n)) }

func (s *State) DiagnosticsPass(issues int) {
	s.passes.Add(1)
	s.lastIssues.Store(int64(issues))
}

// Stats is a point-in-time copy of State.
type Stats struct {
	Initialized         bool  `json:"initialized"`
	ObserverActive      bool  `json:"observer_active"`
	PerformanceMode     bool  `json:"performance_mode"`
	DebugMode           bool  `json:"debug_mode"`
	ElementsTransformed int64 `json:"elements_transformed"`
	TweetsTransformed   int64 `json:"tweets_transformed"`
	ButtonsTransformed  int64 `json:"buttons_transformed"`
	LabelsAdded         int64 `json:"labels_added"`
	PromotedHidden      int64 `json:"promoted_hidden"`
	CacheHits           int64 `json:"cache_hits"`
	CacheMisses         int64 `json:"cache_misses"`
	CacheApplied        int64 `json:"cache_applied"`
	Errors              int64 `json:"errors"`
	ThrottledDrops      int64 `json:"throttled_drops"`
	DiagnosticsPasses   int64 `json:"diagnostics_passes"`
	LastIssueCount      int64 `json:"last_issue_count"`
	ScrollEvents        int64 `json:"scroll_events"`
	ScrollRate          int64 `json:"scroll_rate"`
}

// Snapshot copies the current flags and counters.
func (s *State) Snapshot() Stats {
	return Stats{
		Initialized:         s.initialized.Load(),
		ObserverActive:      s.observerActive.Load(),
		PerformanceMode:     s.performanceMode.Load(),
		DebugMode:           s.debugMode.Load(),
		ElementsTransformed: s.elements.Load(),
		TweetsTransformed:   s.tweets.Load(),
		ButtonsTransformed:  s.buttons.Load(),
		LabelsAdded:         s.labels.Load(),
		PromotedHidden:      s.promoted.Load(),
		CacheHits:           s.cacheHits.Load(),
		CacheMisses:         s.cacheMisses.Load(),
		CacheApplied:        s.cacheApplied.Load(),
		Errors:              s.errors.Load(),
		ThrottledDrops:      s.throttled.Load(),
		DiagnosticsPasses:   s.passes.Load(),
		LastIssueCount:      s.lastIssues.Load(),
		ScrollEvents:        s.scrolls.Load(),
		ScrollRate:          s.scrollRate.Load(),
	}
}
