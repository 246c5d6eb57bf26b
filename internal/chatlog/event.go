// Package chatlog maintains the ordered, deduplicated sequence of
// conversation events for one chat attempt. Text and voice events are keyed
// by id; system events are keyed by their localization key and follow a
// replace-last-of-kind rule instead.
package chatlog

import (
	"fmt"
	"time"
)

// Kind discriminates the event union.
type Kind string

const (
	KindText   Kind = "text"
	KindVoice  Kind = "voice"
	KindSystem Kind = "system"
)

// Localization keys for system events. These match the keys the UI layer
// translates.
const (
	KeyConnected   = "CHAT.CONNECTED"
	KeyWaiting     = "CHAT.WAITING"
	KeyPartnerLeft = "CHAT.PARTNER_LEFT"
)

// Event is one entry in the log. Text and voice events carry an ID assigned
// by the sender; system events carry a Key and no ID. The Playback field on
// voice events is UI-transient and is never part of the event's identity.
type Event struct {
	Kind Kind
	ID   string // empty for system events

	SenderID   string
	SenderName string
	Self       bool // classified by transport identity, not by name

	Text string // text body
	Key  string // system localization key

	AudioURL string
	Duration float64 // seconds

	Time time.Time

	// Reactions maps a reaction symbol to the display names that applied it.
	// An entry with no members is removed, never kept empty.
	Reactions map[string][]string

	// Playback is the transient playback state of a voice event.
	Playback *Playback
}

// NewText builds a text event.
func NewText(id, senderID, senderName, body string, self bool, at time.Time) *Event {
	return &Event{
		Kind:       KindText,
		ID:         id,
		SenderID:   senderID,
		SenderName: senderName,
		Self:       self,
		Text:       body,
		Time:       at,
	}
}

// NewVoice builds a voice event with fresh playback state.
func NewVoice(id, senderID, senderName, audioURL string, duration float64, self bool, at time.Time) *Event {
	return &Event{
		Kind:       KindVoice,
		ID:         id,
		SenderID:   senderID,
		SenderName: senderName,
		Self:       self,
		AudioURL:   audioURL,
		Duration:   duration,
		Time:       at,
		Playback:   NewPlayback(duration),
	}
}

// NewSystem builds a system event for the given localization key.
func NewSystem(key string) *Event {
	return &Event{Kind: KindSystem, Key: key}
}

// FormatTime renders a timestamp the way the chat UI displays it: 12-hour
// clock with an AM/PM suffix.
func FormatTime(t time.Time) string {
	return t.Format("3:04 PM")
}

// FormatClock renders a duration in seconds as M:SS, e.g. 4.2 -> "0:04".
func FormatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
