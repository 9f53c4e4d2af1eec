// Package screen tracks which of the game's screens is visible.
package screen

import "sync"

// Screen identifies one of the four mutually-exclusive screens.
type Screen string

const (
	Start       Screen = "start"
	LevelSelect Screen = "levelSelect"
	Mission     Screen = "mission"
	Debrief     Screen = "debrief"
)

// Navigator holds the single visible screen. Exclusivity is structural:
// there is one field, so showing a screen hides the previous one.
// Transitions are driven by session lifecycle events, not by views.
type Navigator struct {
	mu      sync.Mutex
	current Screen
	subs    []func(Screen)
}

// NewNavigator creates a navigator showing the start screen.
func NewNavigator() *Navigator {
	return &Navigator{current: Start}
}

// Current returns the visible screen.
func (n *Navigator) Current() Screen {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Show makes s the visible screen and notifies subscribers. Showing the
// already-visible screen is a no-op.
func (n *Navigator) Show(s Screen) {
	n.mu.Lock()
	if n.current == s {
		n.mu.Unlock()
		return
	}
	n.current = s
	subs := make([]func(Screen), len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

// Subscribe registers a callback invoked after every screen change.
// Callbacks run outside the navigator lock and must not block.
func (n *Navigator) Subscribe(fn func(Screen)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, fn)
}
