// Package recorder drives the local voice capture lifecycle: start, pause,
// resume, stop, cancel. While recording it keeps the partner's indicator
// alive with periodic pulses, and on a clean stop it uploads the finished
// audio and announces the voice note through the session machine. It never
// emits on the channel itself.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sayhello/pairchat/internal/presence"
	"github.com/sayhello/pairchat/internal/protocol"
)

// State is the recording lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
)

var (
	// ErrCaptureUnavailable wraps a failed capture handle acquisition
	// (permission denied, no device). Start aborts and stays Idle.
	ErrCaptureUnavailable = errors.New("recorder: capture unavailable")

	// ErrBadState is returned for a lifecycle call that does not apply to
	// the current state, like pausing while idle.
	ErrBadState = errors.New("recorder: invalid state for operation")
)

// Capture is the audio capture device. Acquire is permission-gated and may
// suspend for an arbitrary time; the handle is reused across start/stop
// cycles within one chat attempt so the user is not re-prompted.
type Capture interface {
	Acquire(ctx context.Context) error
	Begin() error
	Pause() error
	Resume() error
	// Finalize ends the clip and returns the captured audio and its content
	// type. Called for both stop and cancel; cancel discards the result.
	Finalize() (data []byte, contentType string, err error)
	Release()
}

// Uploader stores a finished clip and returns its public URL. Satisfied by
// *upload.Uploader.
type Uploader interface {
	Upload(ctx context.Context, audio []byte, contentType string) (string, error)
}

// Signaler is the slice of the session machine the controller talks through:
// recording lifecycle signals and the final voice announcement.
type Signaler interface {
	SendRecordingSignal(event string)
	SendVoice(audioURL string, durationSeconds float64) error
}

// Config wires the controller's collaborators.
type Config struct {
	Capture  Capture
	Uploads  Uploader
	Signals  Signaler
	Interval time.Duration // pulse cadence while recording; 0 means presence.RecordingPulseInterval

	OnStateChange func(State)
	OnDeleteCue   func() // played when a recording is cancelled
}

// Controller is the recording state machine. One per chat attempt.
type Controller struct {
	cfg Config

	mu          sync.Mutex
	state       State
	handleHeld  bool
	startedAt   time.Time     // wall-clock sample at start/resume
	accumulated time.Duration // captured time before the current run
	stopPulse   chan struct{}
}

// New creates an idle controller.
func New(cfg Config) *Controller {
	if cfg.Interval == 0 {
		cfg.Interval = presence.RecordingPulseInterval
	}
	return &Controller{cfg: cfg, state: StateIdle}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Elapsed returns the captured duration so far. It is computed from wall
// clock samples, not tick counts, so a suspended process does not drift the
// displayed time away from the captured audio.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsedLocked()
}

func (c *Controller) elapsedLocked() time.Duration {
	if c.state == StateRecording {
		return c.accumulated + time.Since(c.startedAt)
	}
	return c.accumulated
}

// Start acquires the capture handle if this attempt does not hold one yet,
// begins a new clip and starts the keep-alive pulses. A failed acquisition
// surfaces ErrCaptureUnavailable and leaves the controller Idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrBadState, st)
	}
	held := c.handleHeld
	c.mu.Unlock()

	if !held {
		// Suspension point: re-validate state on resume.
		if err := c.cfg.Capture.Acquire(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
		}
		c.mu.Lock()
		if c.state != StateIdle {
			st := c.state
			c.mu.Unlock()
			return fmt.Errorf("%w: start while %s", ErrBadState, st)
		}
		c.handleHeld = true
		c.mu.Unlock()
	}

	if err := c.cfg.Capture.Begin(); err != nil {
		return fmt.Errorf("recorder: begin capture: %w", err)
	}

	c.mu.Lock()
	c.setStateLocked(StateRecording)
	c.startedAt = time.Now()
	c.accumulated = 0
	c.startPulsesLocked()
	c.mu.Unlock()

	c.cfg.Signals.SendRecordingSignal(protocol.EventStartRecording)
	return nil
}

// Pause suspends the clock and the pulse cadence without discarding captured
// audio.
func (c *Controller) Pause() error {
	c.mu.Lock()
	if c.state != StateRecording {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: pause while %s", ErrBadState, st)
	}
	c.accumulated += time.Since(c.startedAt)
	c.setStateLocked(StatePaused)
	c.stopPulsesLocked()
	c.mu.Unlock()

	if err := c.cfg.Capture.Pause(); err != nil {
		log.Printf("recorder: pause capture: %v", err)
	}
	c.cfg.Signals.SendRecordingSignal(protocol.EventPauseRecording)
	return nil
}

// Resume restarts the clock and pulses after a pause.
func (c *Controller) Resume() error {
	c.mu.Lock()
	if c.state != StatePaused {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: resume while %s", ErrBadState, st)
	}
	c.startedAt = time.Now()
	c.setStateLocked(StateRecording)
	c.startPulsesLocked()
	c.mu.Unlock()

	if err := c.cfg.Capture.Resume(); err != nil {
		log.Printf("recorder: resume capture: %v", err)
	}
	c.cfg.Signals.SendRecordingSignal(protocol.EventResumeRecording)
	return nil
}

// Stop finalizes the clip, uploads it, and only after the upload succeeds
// announces the voice note with the resulting URL and duration. The capture
// handle is kept for the next recording in this attempt.
func (c *Controller) Stop(ctx context.Context) error {
	duration, err := c.finish()
	if err != nil {
		return err
	}

	data, contentType, err := c.cfg.Capture.Finalize()

	c.mu.Lock()
	c.setStateLocked(StateIdle)
	c.accumulated = 0
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("recorder: finalize capture: %w", err)
	}

	url, err := c.cfg.Uploads.Upload(ctx, data, contentType)
	if err != nil {
		return fmt.Errorf("recorder: upload: %w", err)
	}
	return c.cfg.Signals.SendVoice(url, duration.Seconds())
}

// Cancel finalizes and discards the clip, skips upload and announce, and
// plays the delete cue. The peer still gets the stop signal so its indicator
// drops immediately.
func (c *Controller) Cancel() error {
	if _, err := c.finish(); err != nil {
		return err
	}

	if _, _, err := c.cfg.Capture.Finalize(); err != nil {
		log.Printf("recorder: finalize discarded capture: %v", err)
	}

	c.mu.Lock()
	c.setStateLocked(StateIdle)
	c.accumulated = 0
	c.mu.Unlock()

	if c.cfg.OnDeleteCue != nil {
		c.cfg.OnDeleteCue()
	}
	return nil
}

// finish moves Recording or Paused into Stopping, settles the clock, stops
// the pulses and emits the final stop signal.
func (c *Controller) finish() (time.Duration, error) {
	c.mu.Lock()
	if c.state != StateRecording && c.state != StatePaused {
		st := c.state
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: stop while %s", ErrBadState, st)
	}
	if c.state == StateRecording {
		c.accumulated += time.Since(c.startedAt)
	}
	duration := c.accumulated
	c.setStateLocked(StateStopping)
	c.stopPulsesLocked()
	c.mu.Unlock()

	c.cfg.Signals.SendRecordingSignal(protocol.EventStopRecording)
	return duration, nil
}

// Release drops the capture handle at the end of the chat attempt. The next
// attempt acquires a fresh one.
func (c *Controller) Release() {
	c.mu.Lock()
	held := c.handleHeld
	c.handleHeld = false
	c.stopPulsesLocked()
	if c.state != StateIdle {
		c.setStateLocked(StateIdle)
		c.accumulated = 0
	}
	c.mu.Unlock()

	if held {
		c.cfg.Capture.Release()
	}
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.cfg.OnStateChange != nil {
		go c.cfg.OnStateChange(s)
	}
}

// startPulsesLocked begins the keep-alive loop. The peer's indicator decays
// after presence.RecordingWindow of silence, so pulses repeat the start
// signal well inside that window.
func (c *Controller) startPulsesLocked() {
	if c.stopPulse != nil {
		return
	}
	stop := make(chan struct{})
	c.stopPulse = stop

	go func() {
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.cfg.Signals.SendRecordingSignal(protocol.EventStartRecording)
			}
		}
	}()
}

func (c *Controller) stopPulsesLocked() {
	if c.stopPulse != nil {
		close(c.stopPulse)
		c.stopPulse = nil
	}
}
