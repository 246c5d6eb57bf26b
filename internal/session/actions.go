package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sayhello/pairchat/internal/chatlog"
	"github.com/sayhello/pairchat/internal/metrics"
	"github.com/sayhello/pairchat/internal/protocol"
	"github.com/sayhello/pairchat/internal/ratelimit"
)

// SendText sends a text message to the partner. The event is appended to the
// log optimistically before the server echo; the echo carries the same id and
// is deduplicated on arrival. Blank bodies and sends outside Paired are
// rejected locally with no network traffic.
func (m *Machine) SendText(body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyBody
	}

	m.mu.Lock()
	if m.state != StatePaired {
		m.mu.Unlock()
		return ErrNoPartner
	}
	if !m.limiter.Allow(ratelimit.RuleMessage) {
		m.mu.Unlock()
		m.notice(NoticeRateLimited, nil)
		return ErrRateLimited
	}
	conn := m.conn
	id := uuid.NewString()
	m.log.Append(chatlog.NewText(id, m.selfID, m.cfg.DisplayName, body, true, time.Now()))
	m.mu.Unlock()

	m.logChanged()
	metrics.MessagesTotal.WithLabelValues("sent").Inc()

	return conn.Emit(protocol.EventSendMessage, protocol.SendMessageEvent{ID: id, Text: body})
}

// SendVoice announces an uploaded voice note. Like SendText it appends
// optimistically and relies on id-based dedup for the echo.
func (m *Machine) SendVoice(audioURL string, durationSeconds float64) error {
	if audioURL == "" {
		return ErrEmptyBody
	}

	m.mu.Lock()
	if m.state != StatePaired {
		m.mu.Unlock()
		return ErrNoPartner
	}
	conn := m.conn
	id := uuid.NewString()
	m.log.Append(chatlog.NewVoice(id, m.selfID, m.cfg.DisplayName, audioURL, durationSeconds, true, time.Now()))
	m.mu.Unlock()

	m.logChanged()
	metrics.MessagesTotal.WithLabelValues("sent").Inc()

	return conn.Emit(protocol.EventSendVoice, protocol.SendVoiceEvent{
		ID:       id,
		URL:      audioURL,
		Duration: durationSeconds,
	})
}

// SendTyping emits a typing pulse. Outside Paired it is a silent no-op, and a
// local throttle keeps per-keystroke calls from flooding the channel (the
// partner's indicator only needs a pulse inside its decay window).
func (m *Machine) SendTyping() {
	m.mu.Lock()
	if m.state != StatePaired || m.conn == nil {
		m.mu.Unlock()
		return
	}
	if !m.limiter.Allow(ratelimit.RuleTyping) {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.mu.Unlock()

	_ = conn.Emit(protocol.EventTyping, protocol.TypingEvent{})
}

// SendRecordingSignal emits one of the recording lifecycle events
// (startRecording, pauseRecording, resumeRecording, stopRecording). The
// recording controller calls this; outside Paired it is a silent no-op.
func (m *Machine) SendRecordingSignal(event string) {
	m.mu.Lock()
	if m.state != StatePaired || m.conn == nil {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.mu.Unlock()

	_ = conn.Emit(event, protocol.RecordingEvent{})
}

// ToggleReaction toggles a reaction symbol on a logged message. The local log
// is updated optimistically; the server's whole-state newReaction event is
// authoritative and reconciles any divergence.
func (m *Machine) ToggleReaction(eventID, symbol string) error {
	m.mu.Lock()
	if m.state != StatePaired || m.conn == nil {
		m.mu.Unlock()
		return ErrNoPartner
	}
	if !m.limiter.Allow(ratelimit.RuleReaction) {
		m.mu.Unlock()
		return ErrRateLimited
	}
	conn := m.conn
	toggled := m.log.ToggleReaction(eventID, symbol, m.cfg.DisplayName)
	m.mu.Unlock()

	if !toggled {
		return nil // unknown id; nothing to toggle, nothing to send
	}
	m.logChanged()

	return conn.Emit(protocol.EventReact, protocol.ReactEvent{
		MessageID: eventID,
		Reaction:  symbol,
		Sender:    m.cfg.DisplayName,
	})
}
