package tutor

import (
	"sync"

	"github.com/vistoamigo/tutor/compose"
)

// Window is the bounded, insertion-ordered buffer of messages retained for
// presentation. It deduplicates by message ID across the whole window and
// evicts the oldest entries once capacity is exceeded. It never renders
// anything itself.
type Window struct {
	mu       sync.Mutex
	capacity int
	msgs     []compose.Message
}

// NewWindow creates a Window. Capacity must be positive; the general tutor
// stream uses [compose.CapContext], achievement-bearing streams use
// [compose.CapAchievements].
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = compose.CapContext
	}
	return &Window{capacity: capacity}
}

// Append adds messages in order, skipping IDs already present anywhere in
// the window, then evicts the oldest entries down to capacity.
func (w *Window) Append(msgs []compose.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, m := range msgs {
		if w.contains(m.ID) {
			continue
		}
		w.msgs = append(w.msgs, m)
	}
	if over := len(w.msgs) - w.capacity; over > 0 {
		w.msgs = append(w.msgs[:0:0], w.msgs[over:]...)
	}
}

// Snapshot returns a copy of the window contents, oldest first.
func (w *Window) Snapshot() []compose.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]compose.Message, len(w.msgs))
	copy(out, w.msgs)
	return out
}

// Len returns the number of retained messages.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

// Reset empties the window.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = nil
}

func (w *Window) contains(id string) bool {
	for _, m := range w.msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}
