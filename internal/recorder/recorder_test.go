package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sayhello/pairchat/internal/protocol"
)

type fakeCapture struct {
	mu         sync.Mutex
	acquireErr error
	acquires   int
	begins     int
	releases   int
	data       []byte
}

func (f *fakeCapture) Acquire(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	return f.acquireErr
}

func (f *fakeCapture) Begin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins++
	return nil
}

func (f *fakeCapture) Pause() error  { return nil }
func (f *fakeCapture) Resume() error { return nil }

func (f *fakeCapture) Finalize() ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data, "audio/webm", nil
}

func (f *fakeCapture) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
}

type fakeUploader struct {
	mu       sync.Mutex
	url      string
	err      error
	uploads  int
	lastData []byte
}

func (f *fakeUploader) Upload(ctx context.Context, audio []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	f.lastData = audio
	return f.url, f.err
}

type fakeSignals struct {
	mu      sync.Mutex
	signals []string
	voices  []float64
}

func (f *fakeSignals) SendRecordingSignal(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, event)
}

func (f *fakeSignals) SendVoice(url string, duration float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voices = append(f.voices, duration)
	return nil
}

func (f *fakeSignals) signalCount(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.signals {
		if s == event {
			n++
		}
	}
	return n
}

func newController(t *testing.T, capt *fakeCapture, up *fakeUploader, sig *fakeSignals) *Controller {
	t.Helper()
	if up.url == "" {
		up.url = "https://cdn.example/clip.webm"
	}
	return New(Config{
		Capture:  capt,
		Uploads:  up,
		Signals:  sig,
		Interval: 10 * time.Millisecond,
	})
}

func TestStartStopUploadsThenAnnounces(t *testing.T) {
	capt := &fakeCapture{data: []byte("audio-bytes")}
	up := &fakeUploader{}
	sig := &fakeSignals{}
	c := newController(t, capt, up, sig)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if c.State() != StateRecording {
		t.Fatalf("expected recording, got %s", c.State())
	}
	if sig.signalCount(protocol.EventStartRecording) == 0 {
		t.Fatal("expected an immediate start signal")
	}

	time.Sleep(60 * time.Millisecond)

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle after stop, got %s", c.State())
	}
	if sig.signalCount(protocol.EventStopRecording) != 1 {
		t.Fatal("expected one stop signal")
	}
	if up.uploads != 1 || string(up.lastData) != "audio-bytes" {
		t.Fatalf("expected the captured audio uploaded once, got %d uploads", up.uploads)
	}

	sig.mu.Lock()
	defer sig.mu.Unlock()
	if len(sig.voices) != 1 {
		t.Fatalf("expected one voice announcement, got %d", len(sig.voices))
	}
	if d := sig.voices[0]; d < 0.04 || d > 1 {
		t.Errorf("announced duration %.3fs outside the recorded range", d)
	}
}

func TestKeepAlivePulsesWhileRecording(t *testing.T) {
	capt := &fakeCapture{}
	sig := &fakeSignals{}
	c := newController(t, capt, &fakeUploader{}, sig)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	before := sig.signalCount(protocol.EventStartRecording)
	if before < 3 {
		t.Fatalf("expected repeated keep-alive pulses, got %d", before)
	}

	if err := c.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	after := sig.signalCount(protocol.EventStartRecording)
	if after != before {
		t.Fatalf("pulses continued across pause: %d -> %d", before, after)
	}

	if err := c.Resume(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if sig.signalCount(protocol.EventStartRecording) <= after {
		t.Fatal("expected pulses to resume")
	}

	if err := c.Cancel(); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
}

func TestPauseSuspendsElapsed(t *testing.T) {
	capt := &fakeCapture{}
	c := newController(t, capt, &fakeUploader{}, &fakeSignals{})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := c.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	frozen := c.Elapsed()
	if frozen < 40*time.Millisecond {
		t.Fatalf("elapsed too short after 50ms of recording: %v", frozen)
	}
	time.Sleep(50 * time.Millisecond)
	if got := c.Elapsed(); got != frozen {
		t.Fatalf("elapsed advanced while paused: %v -> %v", frozen, got)
	}

	if err := c.Resume(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if got := c.Elapsed(); got <= frozen {
		t.Fatalf("elapsed did not advance after resume: %v", got)
	}
}

func TestCancelSkipsUpload(t *testing.T) {
	capt := &fakeCapture{data: []byte("discard-me")}
	up := &fakeUploader{}
	sig := &fakeSignals{}
	cued := false
	c := New(Config{
		Capture:     capt,
		Uploads:     up,
		Signals:     sig,
		Interval:    10 * time.Millisecond,
		OnDeleteCue: func() { cued = true },
	})

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := c.Cancel(); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if up.uploads != 0 {
		t.Fatalf("cancel must not upload, got %d uploads", up.uploads)
	}
	sig.mu.Lock()
	voices := len(sig.voices)
	sig.mu.Unlock()
	if voices != 0 {
		t.Fatal("cancel must not announce a voice note")
	}
	if sig.signalCount(protocol.EventStopRecording) != 1 {
		t.Fatal("cancel must still signal stop so the peer indicator drops")
	}
	if !cued {
		t.Fatal("expected delete cue on cancel")
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle after cancel, got %s", c.State())
	}
}

func TestCaptureUnavailable(t *testing.T) {
	capt := &fakeCapture{acquireErr: errors.New("permission denied")}
	c := newController(t, capt, &fakeUploader{}, &fakeSignals{})

	err := c.Start(context.Background())
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Fatalf("expected ErrCaptureUnavailable, got %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("expected controller left idle, got %s", c.State())
	}
	if capt.begins != 0 {
		t.Fatal("capture must not begin after a failed acquire")
	}
}

func TestHandleReusedAcrossCycles(t *testing.T) {
	capt := &fakeCapture{}
	c := newController(t, capt, &fakeUploader{}, &fakeSignals{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.Start(ctx); err != nil {
			t.Fatalf("cycle %d start failed: %v", i, err)
		}
		if err := c.Stop(ctx); err != nil {
			t.Fatalf("cycle %d stop failed: %v", i, err)
		}
	}
	if capt.acquires != 1 {
		t.Fatalf("expected one acquisition across cycles, got %d", capt.acquires)
	}

	// A new attempt releases the handle and acquires fresh.
	c.Release()
	if capt.releases != 1 {
		t.Fatalf("expected handle released, got %d", capt.releases)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("post-release start failed: %v", err)
	}
	if capt.acquires != 2 {
		t.Fatalf("expected fresh acquisition after release, got %d", capt.acquires)
	}
	_ = c.Cancel()
}

func TestUploadFailureSurfaced(t *testing.T) {
	capt := &fakeCapture{data: []byte("x")}
	up := &fakeUploader{err: errors.New("storage down")}
	sig := &fakeSignals{}
	c := newController(t, capt, up, sig)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := c.Stop(context.Background()); err == nil {
		t.Fatal("expected upload failure surfaced")
	}

	sig.mu.Lock()
	defer sig.mu.Unlock()
	if len(sig.voices) != 0 {
		t.Fatal("announcement must not happen when upload fails")
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle after failed stop, got %s", c.State())
	}
}

func TestLifecycleGuards(t *testing.T) {
	c := newController(t, &fakeCapture{}, &fakeUploader{}, &fakeSignals{})

	if err := c.Pause(); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState pausing while idle, got %v", err)
	}
	if err := c.Resume(); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState resuming while idle, got %v", err)
	}
	if err := c.Stop(context.Background()); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState stopping while idle, got %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrBadState) {
		t.Fatalf("expected ErrBadState for double start, got %v", err)
	}
	_ = c.Cancel()
}
