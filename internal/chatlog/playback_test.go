package chatlog

import "testing"

func TestPlaybackLifecycle(t *testing.T) {
	p := NewPlayback(10)

	if p.Playing() {
		t.Fatal("expected stopped initially")
	}
	if p.Remaining() != 10 {
		t.Fatalf("expected 10s remaining, got %v", p.Remaining())
	}

	p.Play()
	p.Tick(4)
	if !p.Playing() {
		t.Fatal("expected still playing mid-clip")
	}
	if p.Remaining() != 6 {
		t.Fatalf("expected 6s remaining, got %v", p.Remaining())
	}

	p.Pause()
	p.Tick(100)
	if p.Remaining() != 6 {
		t.Fatalf("tick while paused must not advance, got %v remaining", p.Remaining())
	}

	p.Play()
	p.Tick(7)
	if p.Playing() {
		t.Fatal("expected stopped at clip end")
	}
	if p.Remaining() != 0 {
		t.Fatalf("expected 0s remaining at end, got %v", p.Remaining())
	}
}

func TestPlaybackSeekClamped(t *testing.T) {
	p := NewPlayback(10)

	p.Seek(-5)
	if p.Remaining() != 10 {
		t.Errorf("seek below 0 should clamp to start, remaining %v", p.Remaining())
	}

	p.Seek(25)
	if p.Remaining() != 0 {
		t.Errorf("seek past end should clamp to duration, remaining %v", p.Remaining())
	}
}

func TestPlaybackRestartAfterEnd(t *testing.T) {
	p := NewPlayback(5)
	p.Play()
	p.Tick(5)

	p.Play()
	if p.Remaining() != 5 {
		t.Fatalf("replay after end should restart, got remaining %v", p.Remaining())
	}
	if !p.Playing() {
		t.Fatal("expected playing after restart")
	}
}

func TestPlaybackRemainingClock(t *testing.T) {
	p := NewPlayback(65)
	p.Play()
	p.Tick(3)
	if got := p.RemainingClock(); got != "1:02" {
		t.Errorf("RemainingClock = %q, want %q", got, "1:02")
	}
}
