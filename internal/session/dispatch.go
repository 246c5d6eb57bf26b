package session

import (
	"encoding/json"
	"log"
	"time"

	"github.com/sayhello/pairchat/internal/chatlog"
	"github.com/sayhello/pairchat/internal/metrics"
	"github.com/sayhello/pairchat/internal/protocol"
)

// handleEvent dispatches one inbound channel event. Events are processed
// strictly in delivery order; the only drops are generation-stale events and
// id duplicates. gen is the generation the connection was dialed under; if a
// requeue or exit has bumped the machine's generation since, the event
// belongs to a dead attempt and is discarded. Handlers mutate the log in the
// same critical section as the generation check, so a concurrent requeue
// cannot land between the check and the mutation.
func (m *Machine) handleEvent(gen uint64, name string, raw json.RawMessage) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		metrics.StaleEventsDropped.Inc()
		return
	}
	m.mu.Unlock()

	_, evt, err := protocol.ParseServerEvent(raw)
	if err != nil {
		log.Printf("session: dropping malformed %q event: %v", name, err)
		return
	}

	switch e := evt.(type) {
	case protocol.WaitingEvent:
		m.onWaiting(gen, e)
	case protocol.ConnectedEvent:
		m.onConnected(gen, e)
	case protocol.PartnerLeftEvent:
		m.onPartnerLeft(gen)
	case protocol.UserCountEvent:
		m.onUserCount(gen, e)
	case protocol.NewMessageEvent:
		m.onNewMessage(gen, e)
	case protocol.NewVoiceEvent:
		m.onNewVoice(gen, e)
	case protocol.TypingEvent:
		m.onTyping(gen)
	case protocol.PartnerRecordingEvent:
		m.onPartnerRecording(gen, e)
	case protocol.NewReactionEvent:
		m.onNewReaction(gen, e)
	default:
		log.Printf("session: unhandled event type %T", evt)
	}
}

// onWaiting handles "joined, no partner yet". The waiting banner is appended
// at most once per attempt; the log's replace-last-of-kind rule absorbs
// repeats across reconnects within the attempt.
func (m *Machine) onWaiting(gen uint64, e protocol.WaitingEvent) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if e.SelfID != "" {
		m.selfID = e.SelfID
	}
	m.setStateLocked(StateWaiting)
	m.log.Append(chatlog.NewSystem(chatlog.KeyWaiting))
	m.mu.Unlock()

	m.logChanged()
}

// onConnected handles a partner becoming available. Exactly one connected
// banner is appended for the transition, and any waiting banner from this
// attempt is resolved away.
func (m *Machine) onConnected(gen uint64, e protocol.ConnectedEvent) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if e.SelfID != "" {
		m.selfID = e.SelfID
	}
	m.setStateLocked(StatePaired)
	m.log.RemoveSystem(chatlog.KeyWaiting)
	m.log.Append(chatlog.NewSystem(chatlog.KeyConnected))
	m.mu.Unlock()

	m.logChanged()
}

// onPartnerLeft moves Paired back to Waiting. The room slot stays joinable
// for a new partner without a fresh token; that matches the server's
// persistent-slot semantics.
func (m *Machine) onPartnerLeft(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateWaiting)
	m.typingIn.Reset()
	m.recordingIn.Reset()
	m.log.Append(chatlog.NewSystem(chatlog.KeyPartnerLeft))
	m.mu.Unlock()

	m.notifyPresence()
	m.logChanged()
}

func (m *Machine) onUserCount(gen uint64, e protocol.UserCountEvent) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.usersOnline = e.Count
	m.mu.Unlock()

	metrics.UsersOnline.Set(float64(e.Count))
	if m.cfg.OnUserCount != nil {
		m.cfg.OnUserCount(e.Count)
	}
}

// onNewMessage appends an inbound text event. The sender is classified as
// self or peer by transport identity; a self-classified event is normally the
// echo of an optimistic append and is dropped by id dedup.
func (m *Machine) onNewMessage(gen uint64, e protocol.NewMessageEvent) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	self := e.SenderID == m.selfID && m.selfID != ""
	ev := chatlog.NewText(e.ID, e.SenderID, e.SenderName, e.Text, self, parseEventTime(e.Time))
	appended := m.log.Append(ev)
	m.mu.Unlock()

	if !appended {
		metrics.MessagesTotal.WithLabelValues("duplicate").Inc()
		return
	}
	metrics.MessagesTotal.WithLabelValues("received").Inc()
	if !self {
		// A message ends any live typing indicator immediately.
		m.typingIn.Reset()
		m.setPartnerTyping(false)
	}
	m.logChanged()
}

// onNewVoice appends an inbound voice event, with the same echo-dedup rule as
// text.
func (m *Machine) onNewVoice(gen uint64, e protocol.NewVoiceEvent) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	self := e.SenderID == m.selfID && m.selfID != ""
	ev := chatlog.NewVoice(e.ID, e.SenderID, e.SenderName, e.URL, e.Duration, self, parseEventTime(e.Time))
	appended := m.log.Append(ev)
	m.mu.Unlock()

	if !appended {
		metrics.MessagesTotal.WithLabelValues("duplicate").Inc()
		return
	}
	metrics.MessagesTotal.WithLabelValues("received").Inc()
	m.logChanged()
}

// onTyping records a partner typing pulse. The server relays typing only to
// the partner, so no self-filtering is needed here.
func (m *Machine) onTyping(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StatePaired {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.typingIn.Pulse()
	m.setPartnerTyping(true)
}

// onPartnerRecording handles the recording keep-alive. True pulses rearm the
// decay window; an explicit false is a clean stop and drops the indicator at
// once instead of waiting out the window.
func (m *Machine) onPartnerRecording(gen uint64, e protocol.PartnerRecordingEvent) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if e.Recording {
		m.recordingIn.Pulse()
		m.setPartnerRecording(true)
		return
	}
	m.recordingIn.Reset()
	m.setPartnerRecording(false)
}

// onNewReaction applies the server's whole-state reaction update. An update
// for an id the log has never seen is ignored; the message itself will arrive
// (or was superseded by a requeue) either way.
func (m *Machine) onNewReaction(gen uint64, e protocol.NewReactionEvent) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	changed := m.log.SetReactions(e.MessageID, e.Reactions)
	m.mu.Unlock()

	if changed {
		m.logChanged()
	}
}

// parseEventTime decodes the wire timestamp, falling back to arrival time for
// anything unparseable.
func parseEventTime(s string) time.Time {
	if s == "" {
		return time.Now()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now()
	}
	return t
}
