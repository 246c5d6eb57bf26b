// Package session owns the chat session lifecycle: acquiring a one-time
// pairing token, joining the real-time channel, reconciling partner presence
// with the message log, and restarting the whole cycle on requeue. The
// machine is the only component that emits on the channel; recording, typing
// and the UI all request outbound actions through it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sayhello/pairchat/internal/channel"
	"github.com/sayhello/pairchat/internal/chatlog"
	"github.com/sayhello/pairchat/internal/metrics"
	"github.com/sayhello/pairchat/internal/presence"
	"github.com/sayhello/pairchat/internal/protocol"
	"github.com/sayhello/pairchat/internal/ratelimit"
)

// State is the session lifecycle state. Exactly one chat attempt is live at a
// time; requeue destroys the current attempt and builds a new one.
type State string

const (
	StateIdle           State = "idle"
	StateAcquiringToken State = "acquiring_token"
	StateConnecting     State = "connecting"
	StateWaiting        State = "waiting"
	StatePaired         State = "paired"
	StateEnded          State = "ended"
)

// Local validation and lifecycle errors. None of these reach the network.
var (
	// ErrNoPartner is returned when a send is attempted outside Paired.
	ErrNoPartner = errors.New("session: no partner connected")

	// ErrEmptyBody is returned for a blank text send attempt.
	ErrEmptyBody = errors.New("session: message body is empty")

	// ErrRateLimited is returned when a local throttle rejects the action.
	ErrRateLimited = errors.New("session: rate limited")

	// ErrSuperseded is returned when an attempt was replaced by a newer
	// requeue or exit while it was still suspended on I/O.
	ErrSuperseded = errors.New("session: attempt superseded")
)

// Notice codes surfaced to the UI layer as transient user-facing messages.
const (
	NoticeTokenFailed  = "token_failed"
	NoticeChannelError = "channel_error"
	NoticeRateLimited  = "rate_limited"
)

// TokenClient acquires pairing tokens. Satisfied by token.Client.
type TokenClient interface {
	Acquire(ctx context.Context, displayName string) (string, error)
}

// Transport is the subset of the channel connection the machine drives.
// Satisfied by *channel.Conn.
type Transport interface {
	Emit(name string, payload interface{}) error
	Close() error
}

// Dialer establishes a transport. The production dialer wraps channel.Dial;
// tests substitute a scripted fake.
type Dialer func(ctx context.Context, cfg channel.Config) (Transport, error)

// DefaultReconnectDelay is how long a requeue waits between acquiring the new
// token and dialing, giving the server time to tear down the old room slot.
const DefaultReconnectDelay = 500 * time.Millisecond

// Config wires the machine's collaborators and callbacks. Callbacks are
// invoked outside the machine's lock but from its internal goroutines; they
// must not block.
type Config struct {
	ServerURL      string // websocket URL of the pairing server
	DisplayName    string
	Tokens         TokenClient
	Dial           Dialer
	ReconnectDelay time.Duration // 0 means DefaultReconnectDelay

	// TypingWindow and RecordingWindow override the inbound presence decay
	// windows; zero means the presence package defaults.
	TypingWindow    time.Duration
	RecordingWindow time.Duration

	OnStateChange   func(State)
	OnNotice        func(code string, err error)
	OnLogChange     func()     // fired after any message log mutation
	OnPartnerTyping func(bool) // leading and trailing edges only
	OnPartnerRecord func(bool)
	OnUserCount     func(int)
}

// Machine is the connection state machine.
type Machine struct {
	cfg Config

	mu          sync.Mutex
	state       State
	gen         uint64 // attempt generation; inbound events from older gens are dropped
	conn        Transport
	selfID      string
	usersOnline int

	log         *chatlog.Log
	limiter     *ratelimit.Limiter
	typingIn    *presence.Debouncer
	recordingIn *presence.Debouncer

	partnerTyping    bool
	partnerRecording bool
}

// New creates a machine in Idle with an empty log.
func New(cfg Config) *Machine {
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.TypingWindow == 0 {
		cfg.TypingWindow = presence.TypingWindow
	}
	if cfg.RecordingWindow == 0 {
		cfg.RecordingWindow = presence.RecordingWindow
	}
	m := &Machine{
		cfg:     cfg,
		state:   StateIdle,
		log:     chatlog.New(),
		limiter: ratelimit.NewLimiter(),
	}
	m.typingIn = presence.NewDebouncer(cfg.TypingWindow, func() {
		m.setPartnerTyping(false)
	})
	m.recordingIn = presence.NewDebouncer(cfg.RecordingWindow, func() {
		m.setPartnerRecording(false)
	})
	return m
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Log returns the message log for the current attempt.
func (m *Machine) Log() *chatlog.Log {
	return m.log
}

// SelfID returns the transport-assigned identity of this connection, or ""
// before the handshake. Self/peer classification uses this, never the display
// name, because names are not unique.
func (m *Machine) SelfID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selfID
}

// UsersOnline returns the last user count reported by the server.
func (m *Machine) UsersOnline() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usersOnline
}

// PartnerTyping reports whether the partner typed within the decay window.
func (m *Machine) PartnerTyping() bool {
	return m.typingIn.Active()
}

// PartnerRecording reports whether the partner's recording keep-alive is live.
func (m *Machine) PartnerRecording() bool {
	return m.recordingIn.Active()
}

// Start drives Idle -> AcquiringToken -> Connecting. It returns once the join
// has been emitted (pairing continues asynchronously via inbound events), or
// with the surfaced error if token acquisition or dialing failed.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("session: cannot start from state %q", st)
	}
	gen := m.gen
	m.setStateLocked(StateAcquiringToken)
	m.mu.Unlock()

	return m.runAttempt(ctx, gen, 0)
}

// Requeue abandons the current attempt and begins a new one: the channel is
// told to leave and closed, the log is cleared, presence flags and throttles
// reset, and a fresh token cycle starts. All of that happens before the new
// token request resolves; inbound events from the superseded attempt are
// dropped by generation.
func (m *Machine) Requeue(ctx context.Context) error {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.teardownLocked()
	m.setStateLocked(StateAcquiringToken)
	m.mu.Unlock()

	metrics.Requeues.Inc()
	m.notifyPresence()

	return m.runAttempt(ctx, gen, m.cfg.ReconnectDelay)
}

// Exit ends the session: leave is emitted best-effort, the channel is closed,
// and the state moves to Ended. Any in-flight I/O from the attempt is
// invalidated by the generation bump.
func (m *Machine) Exit() {
	m.mu.Lock()
	m.gen++
	m.teardownLocked()
	m.setStateLocked(StateEnded)
	m.mu.Unlock()

	m.notifyPresence()
}

// runAttempt performs the token -> (delay) -> dial -> join sequence for one
// generation. Every suspension point re-validates the generation on resume: a
// token or dial resolving after a requeue or exit is discarded, not acted on.
func (m *Machine) runAttempt(ctx context.Context, gen uint64, delay time.Duration) error {
	tok, err := m.cfg.Tokens.Acquire(ctx, m.cfg.DisplayName)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		// No automatic retry: surface and end the attempt.
		m.setStateLocked(StateEnded)
		m.mu.Unlock()
		m.notice(NoticeTokenFailed, err)
		return err
	}
	m.mu.Unlock()

	if delay > 0 {
		// The delayed reconnect is an explicit cancellable wait tied to the
		// generation, so a superseded attempt's timer never fires against
		// stale state.
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return ErrSuperseded
		}
		m.mu.Unlock()
	}

	conn, err := m.cfg.Dial(ctx, channel.Config{
		URL: m.cfg.ServerURL,
		OnEvent: func(name string, raw json.RawMessage) {
			m.handleEvent(gen, name, raw)
		},
		OnClose: func(err error) {
			m.handleChannelError(gen, err)
		},
	})

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrSuperseded
	}
	if err != nil {
		m.setStateLocked(StateEnded)
		m.mu.Unlock()
		m.notice(NoticeChannelError, err)
		return fmt.Errorf("session: connect: %w", err)
	}
	m.conn = conn
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	// The token is consumed here; it is invalid once the handshake completes.
	if err := conn.Emit(protocol.EventJoin, protocol.JoinEvent{Token: tok}); err != nil {
		m.handleChannelError(gen, err)
		return fmt.Errorf("session: join: %w", err)
	}
	return nil
}

// handleChannelError processes a transport-level disconnect that the user did
// not initiate. While Waiting or Paired it reads like the partner vanishing,
// so the UI gets a partner-left banner and the conversation stays visible;
// only requeue and exit clear the log. The generation is marked stale either
// way, so recovery is a full reconnect, never a resume.
func (m *Machine) handleChannelError(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	log.Printf("session: channel error gen=%d state=%s: %v", gen, m.state, err)

	inRoom := m.state == StatePaired || m.state == StateWaiting
	m.gen++
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.typingIn.Reset()
	m.recordingIn.Reset()
	m.partnerTyping = false
	m.partnerRecording = false
	if inRoom {
		m.log.Append(chatlog.NewSystem(chatlog.KeyPartnerLeft))
	}
	m.setStateLocked(StateEnded)
	m.mu.Unlock()

	if inRoom {
		m.logChanged()
	}
	m.notifyPresence()
	m.notice(NoticeChannelError, err)
}

// teardownLocked releases the attempt's resources: best-effort leave, close,
// clear log, reset presence and throttles. Caller holds the lock.
func (m *Machine) teardownLocked() {
	if m.conn != nil {
		// Best effort; the connection may already be dead.
		_ = m.conn.Emit(protocol.EventLeave, protocol.LeaveEvent{})
		_ = m.conn.Close()
		m.conn = nil
	}
	m.selfID = ""
	m.log.Clear()
	m.typingIn.Reset()
	m.recordingIn.Reset()
	m.partnerTyping = false
	m.partnerRecording = false
	m.limiter.Reset()
}

// setStateLocked records a transition. Caller holds the lock.
func (m *Machine) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	metrics.SessionTransitions.WithLabelValues(string(s)).Inc()
	if m.cfg.OnStateChange != nil {
		// Fired from a fresh goroutine so a callback reading machine state
		// does not deadlock against the held lock.
		go m.cfg.OnStateChange(s)
	}
}

func (m *Machine) notice(code string, err error) {
	if m.cfg.OnNotice != nil {
		m.cfg.OnNotice(code, err)
	}
}

func (m *Machine) logChanged() {
	if m.cfg.OnLogChange != nil {
		m.cfg.OnLogChange()
	}
}

func (m *Machine) setPartnerTyping(v bool) {
	m.mu.Lock()
	changed := m.partnerTyping != v
	m.partnerTyping = v
	m.mu.Unlock()
	if changed && m.cfg.OnPartnerTyping != nil {
		m.cfg.OnPartnerTyping(v)
	}
}

func (m *Machine) setPartnerRecording(v bool) {
	m.mu.Lock()
	changed := m.partnerRecording != v
	m.partnerRecording = v
	m.mu.Unlock()
	if changed && m.cfg.OnPartnerRecord != nil {
		m.cfg.OnPartnerRecord(v)
	}
}

// notifyPresence pushes the cleared indicator state after teardown.
func (m *Machine) notifyPresence() {
	m.setPartnerTyping(false)
	m.setPartnerRecording(false)
}
