package chatlog

import "sync"

// Playback is the explicit playback-state object for a voice event. The UI
// layer observes it and drives it through transition methods instead of
// wiring audio element callbacks straight into log mutation.
type Playback struct {
	mu       sync.Mutex
	duration float64 // seconds
	position float64 // seconds from start
	playing  bool
}

// NewPlayback creates a stopped playback state for a clip of the given
// duration in seconds.
func NewPlayback(duration float64) *Playback {
	if duration < 0 {
		duration = 0
	}
	return &Playback{duration: duration}
}

// Play starts (or resumes) playback. Playing a finished clip restarts it.
func (p *Playback) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.position >= p.duration {
		p.position = 0
	}
	p.playing = true
}

// Pause stops advancing without losing position.
func (p *Playback) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
}

// Seek moves the position, clamped to [0, duration].
func (p *Playback) Seek(position float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if position < 0 {
		position = 0
	}
	if position > p.duration {
		position = p.duration
	}
	p.position = position
}

// Tick advances playback by dt seconds. When the clip end is reached the
// state flips back to stopped. No-op while paused.
func (p *Playback) Tick(dt float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing || dt <= 0 {
		return
	}
	p.position += dt
	if p.position >= p.duration {
		p.position = p.duration
		p.playing = false
	}
}

// Playing reports whether the clip is currently advancing.
func (p *Playback) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Remaining returns the seconds left in the clip.
func (p *Playback) Remaining() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration - p.position
}

// RemainingClock returns the remaining time formatted as M:SS for display.
func (p *Playback) RemainingClock() string {
	return FormatClock(p.Remaining())
}
