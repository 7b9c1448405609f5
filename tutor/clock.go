package tutor

import "time"

// Timer is a cancellable one-shot timer handle.
type Timer interface {
	// C returns the channel that fires when the timer expires.
	C() <-chan time.Time
	// Stop cancels the timer. The channel never fires after Stop returns true.
	Stop() bool
}

// Clock creates timers. The engine takes its debounce timing from a Clock
// so tests can drive the quiet period without wall-clock sleeps.
type Clock interface {
	NewTimer(d time.Duration) Timer
	Now() time.Time
}

// SystemClock returns the wall-clock implementation.
func SystemClock() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) NewTimer(d time.Duration) Timer { return systemTimer{time.NewTimer(d)} }
func (systemClock) Now() time.Time                 { return time.Now() }

type systemTimer struct{ t *time.Timer }

func (t systemTimer) C() <-chan time.Time { return t.t.C }
func (t systemTimer) Stop() bool          { return t.t.Stop() }
