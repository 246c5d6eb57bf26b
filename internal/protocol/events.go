// Package protocol defines the real-time channel events exchanged between the
// pairchat client and the pairing server. All events are serialized as JSON
// and follow a consistent envelope format with an "event" discriminator.
// Payloads are validated at the boundary so that nothing past this package
// ever sees a half-formed event.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ---------------------------------------------------------------------------
// Event name constants
// ---------------------------------------------------------------------------

// Client -> Server event names.
const (
	EventJoin            = "join"
	EventLeave           = "leave"
	EventSendMessage     = "sendMessage"
	EventSendVoice       = "sendVoice"
	EventTyping          = "typing"
	EventStartRecording  = "startRecording"
	EventPauseRecording  = "pauseRecording"
	EventResumeRecording = "resumeRecording"
	EventStopRecording   = "stopRecording"
	EventReact           = "react"
)

// Server -> Client event names.
const (
	EventConnected        = "connected"
	EventWaiting          = "waiting"
	EventPartnerLeft      = "partner_left"
	EventUserCount        = "user_count"
	EventNewMessage       = "newMessage"
	EventNewVoice         = "newVoice"
	EventPartnerRecording = "partnerRecording"
	EventNewReaction      = "newReaction"
)

// validate is the shared validator instance for payload structs. It is
// compiled once and safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the event name and the raw JSON payload for deferred parsing
// into a concrete struct.
type Envelope struct {
	Event string          `json:"event"`
	Raw   json.RawMessage `json:"-"`
}

// UnmarshalJSON implements json.Unmarshaler. It captures the full raw bytes
// and extracts only the "event" field so that the rest of the payload can be
// decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Event == "" {
		return fmt.Errorf("protocol: missing or empty \"event\" field")
	}
	e.Event = partial.Event
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// JoinEvent consumes a one-time pairing token to enter the room slot the
// token was issued for.
type JoinEvent struct {
	Event string `json:"event"`
	Token string `json:"token" validate:"required"`
}

// LeaveEvent tells the server the client is abandoning its room slot.
type LeaveEvent struct {
	Event string `json:"event"`
}

// SendMessageEvent carries a text message. The id is assigned by the sender
// so that the server echo can be deduplicated against the optimistic local
// append.
type SendMessageEvent struct {
	Event string `json:"event"`
	ID    string `json:"id" validate:"required"`
	Text  string `json:"text" validate:"required"`
}

// SendVoiceEvent announces an uploaded voice note to the partner.
type SendVoiceEvent struct {
	Event    string  `json:"event"`
	ID       string  `json:"id" validate:"required"`
	URL      string  `json:"url" validate:"required,url"`
	Duration float64 `json:"duration" validate:"gte=0"`
}

// TypingEvent is an ephemeral typing pulse. It carries no payload; the server
// relays it only to the partner.
type TypingEvent struct {
	Event string `json:"event"`
}

// RecordingEvent covers the four recording lifecycle signals
// (start/pause/resume/stop). The event name alone distinguishes them.
type RecordingEvent struct {
	Event string `json:"event"`
}

// ReactEvent toggles a reaction symbol on a message for the given sender.
type ReactEvent struct {
	Event     string `json:"event"`
	MessageID string `json:"messageId" validate:"required"`
	Reaction  string `json:"reaction" validate:"required"`
	Sender    string `json:"sender" validate:"required"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// ConnectedEvent is sent when a partner is present in the room. The sender id
// assigned to this connection rides along so the client can classify later
// messages as self vs peer without relying on display names.
type ConnectedEvent struct {
	Event    string `json:"event"`
	SelfID   string `json:"selfId"`
	RoomSize int    `json:"roomSize,omitempty"`
}

// WaitingEvent is sent when the client joined but no partner is available yet.
type WaitingEvent struct {
	Event  string `json:"event"`
	SelfID string `json:"selfId"`
}

// PartnerLeftEvent is sent when the partner disconnected or requeued. The room
// slot stays joinable for a new partner.
type PartnerLeftEvent struct {
	Event string `json:"event"`
}

// UserCountEvent reports the number of users currently online.
type UserCountEvent struct {
	Event string `json:"event"`
	Count int    `json:"count" validate:"gte=0"`
}

// NewMessageEvent relays a text message into the room, including the sender's
// own echo.
type NewMessageEvent struct {
	Event      string `json:"event"`
	ID         string `json:"id" validate:"required"`
	SenderID   string `json:"senderId" validate:"required"`
	SenderName string `json:"senderName"`
	Text       string `json:"text" validate:"required"`
	Time       string `json:"time"` // RFC 3339
}

// NewVoiceEvent relays a voice note into the room.
type NewVoiceEvent struct {
	Event      string  `json:"event"`
	ID         string  `json:"id" validate:"required"`
	SenderID   string  `json:"senderId" validate:"required"`
	SenderName string  `json:"senderName"`
	URL        string  `json:"url" validate:"required"`
	Duration   float64 `json:"duration" validate:"gte=0"`
	Time       string  `json:"time"` // RFC 3339
}

// PartnerRecordingEvent relays the partner's recording keep-alive state. True
// pulses arrive repeatedly while the partner records; false is sent once when
// they stop cleanly (a lost false is tolerated by the receiver-side decay).
type PartnerRecordingEvent struct {
	Event     string `json:"event"`
	Recording bool   `json:"recording"`
}

// NewReactionEvent carries the full updated reaction state of one message.
// The server sends the whole map rather than a delta so a lost event cannot
// leave the two sides permanently diverged.
type NewReactionEvent struct {
	Event     string              `json:"event"`
	MessageID string              `json:"messageId" validate:"required"`
	Reactions map[string][]string `json:"reactions"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseServerEvent parses raw channel bytes into a typed server event. It
// returns the event name, the decoded struct, and any error encountered. An
// error is returned for unknown or client-only event names, and for payloads
// that fail validation.
func ParseServerEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		evt interface{}
		err error
	)

	switch env.Event {
	case EventConnected:
		var e ConnectedEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventWaiting:
		var e WaitingEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventPartnerLeft:
		var e PartnerLeftEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventUserCount:
		var e UserCountEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventNewMessage:
		var e NewMessageEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventNewVoice:
		var e NewVoiceEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventTyping:
		var e TypingEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventPartnerRecording:
		var e PartnerRecordingEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventNewReaction:
		var e NewReactionEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	default:
		return env.Event, nil, fmt.Errorf("protocol: unknown server event: %q", env.Event)
	}

	if err != nil {
		return env.Event, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Event, err)
	}
	if err := validate.Struct(evt); err != nil {
		return env.Event, nil, fmt.Errorf("protocol: invalid %q payload: %w", env.Event, err)
	}
	return env.Event, evt, nil
}

// ParseClientEvent parses raw channel bytes into a typed client event. It is
// the server-side counterpart of ParseServerEvent, used by the dev pairing
// server.
func ParseClientEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		evt interface{}
		err error
	)

	switch env.Event {
	case EventJoin:
		var e JoinEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventLeave:
		var e LeaveEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventSendMessage:
		var e SendMessageEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventSendVoice:
		var e SendVoiceEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventTyping:
		var e TypingEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventStartRecording, EventPauseRecording, EventResumeRecording, EventStopRecording:
		var e RecordingEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case EventReact:
		var e ReactEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	default:
		return env.Event, nil, fmt.Errorf("protocol: unknown client event: %q", env.Event)
	}

	if err != nil {
		return env.Event, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Event, err)
	}
	if err := validate.Struct(evt); err != nil {
		return env.Event, nil, fmt.Errorf("protocol: invalid %q payload: %w", env.Event, err)
	}
	return env.Event, evt, nil
}

// NewEvent creates a JSON-encoded byte slice for an event. The event name is
// injected into the payload under the "event" key so callers can leave the
// Event field of the payload struct zero.
func NewEvent(name string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["event"] = name

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal event: %w", err)
	}
	return out, nil
}
