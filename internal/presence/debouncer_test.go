package presence

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestActiveAfterPulse(t *testing.T) {
	d := NewDebouncer(200*time.Millisecond, nil)

	if d.Active() {
		t.Fatal("expected inactive before any pulse")
	}

	d.Pulse()
	if !d.Active() {
		t.Fatal("expected active immediately after pulse")
	}
}

func TestDecaysAfterWindow(t *testing.T) {
	d := NewDebouncer(50*time.Millisecond, nil)

	d.Pulse()
	time.Sleep(200 * time.Millisecond)

	if d.Active() {
		t.Fatal("expected inactive after window elapsed with no pulse")
	}
}

func TestPulseResetsDecay(t *testing.T) {
	d := NewDebouncer(150*time.Millisecond, nil)

	// Keep pulsing faster than the window; the state must stay active.
	for i := 0; i < 5; i++ {
		d.Pulse()
		time.Sleep(40 * time.Millisecond)
		if !d.Active() {
			t.Fatalf("expected active while pulsing, went inactive after pulse %d", i)
		}
	}
}

func TestInactiveFiresExactlyOnce(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(50*time.Millisecond, func() {
		fired.Add(1)
	})

	d.Pulse()

	// Wait several windows worth of silence; the notification must not repeat.
	time.Sleep(400 * time.Millisecond)

	if got := fired.Load(); got != 1 {
		t.Fatalf("expected inactive notification exactly once, got %d", got)
	}
}

func TestInactiveFiresOncePerSilencePeriod(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(50*time.Millisecond, func() {
		fired.Add(1)
	})

	d.Pulse()
	time.Sleep(200 * time.Millisecond)
	d.Pulse()
	time.Sleep(200 * time.Millisecond)

	if got := fired.Load(); got != 2 {
		t.Fatalf("expected one notification per silence period, got %d", got)
	}
}

func TestResetSuppressesNotification(t *testing.T) {
	var fired atomic.Int32
	d := NewDebouncer(50*time.Millisecond, func() {
		fired.Add(1)
	})

	d.Pulse()
	d.Reset()

	if d.Active() {
		t.Fatal("expected inactive immediately after reset")
	}

	time.Sleep(200 * time.Millisecond)
	if got := fired.Load(); got != 0 {
		t.Fatalf("expected no notification after reset, got %d", got)
	}
}

func TestRecordingCadenceOutpacesDecay(t *testing.T) {
	// The sender-side pulse cadence must be comfortably shorter than the
	// receiver-side decay window, otherwise the indicator flickers.
	if RecordingPulseInterval >= RecordingWindow {
		t.Fatalf("pulse interval %s must be shorter than decay window %s",
			RecordingPulseInterval, RecordingWindow)
	}
}
