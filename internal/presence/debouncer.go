// Package presence turns streams of discrete activity pulses (typing
// keystrokes, recording keep-alives) into a boolean is-active state with a
// trailing-edge timeout. The protocol is unreliable-keep-alive based: a lost
// stop signal is tolerated because the state decays on its own.
package presence

import (
	"sync"
	"time"
)

// Standard windows and cadences for the two presence protocols. The sender
// pulses faster than the receiver decays so that a single dropped pulse does
// not flicker the indicator.
const (
	// TypingWindow is how long a typing indicator stays up after the last
	// inbound typing pulse.
	TypingWindow = 1000 * time.Millisecond

	// RecordingPulseInterval is how often the recording side emits a
	// keep-alive pulse while actively recording.
	RecordingPulseInterval = 800 * time.Millisecond

	// RecordingWindow is how long the receiving side treats the partner as
	// recording after the last received pulse.
	RecordingWindow = 1500 * time.Millisecond
)

// Debouncer tracks a single ephemeral activity signal. Pulse records activity
// now; Active reports whether a pulse landed within the configured window.
// When the window elapses with no pulse, the onInactive callback fires exactly
// once. The debouncer owns one pending timer, cancelled and rearmed on every
// pulse.
type Debouncer struct {
	window     time.Duration
	onInactive func()

	mu    sync.Mutex
	last  time.Time
	armed bool // true while a decay timer is pending
	timer *time.Timer
}

// NewDebouncer creates a debouncer with the given decay window. onInactive
// may be nil; when set it is invoked from a timer goroutine once per silence
// period, so it must not block.
func NewDebouncer(window time.Duration, onInactive func()) *Debouncer {
	return &Debouncer{window: window, onInactive: onInactive}
}

// Pulse records activity now and rearms the decay timer.
func (d *Debouncer) Pulse() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.last = time.Now()
	d.armed = true

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.expire)
}

// Active reports whether a pulse was recorded within the window. It is
// computed from the last pulse timestamp, not from the timer, so the state
// decays correctly even if the timer callback is delayed.
func (d *Debouncer) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed && time.Since(d.last) < d.window
}

// Reset cancels any pending decay and clears the active state without firing
// the inactive notification. Used when the session is torn down or requeued.
func (d *Debouncer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.armed = false
	d.last = time.Time{}
}

// expire is the timer callback. A pulse may have rearmed the timer between
// the callback firing and the lock being acquired, so the window is
// re-checked before flipping inactive.
func (d *Debouncer) expire() {
	d.mu.Lock()
	if !d.armed || time.Since(d.last) < d.window {
		d.mu.Unlock()
		return
	}
	d.armed = false
	cb := d.onInactive
	d.mu.Unlock()

	if cb != nil {
		cb()
	}
}
