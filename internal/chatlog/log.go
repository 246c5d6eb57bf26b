package chatlog

import "sync"

// Log is the ordered event sequence for one chat attempt. Insertion order is
// display order. It is goroutine-safe; mutation after append is limited to
// reaction state and voice playback transients.
type Log struct {
	mu     sync.RWMutex
	events []*Event
	byID   map[string]*Event // text/voice events only
}

// New creates an empty log.
func New() *Log {
	return &Log{byID: make(map[string]*Event)}
}

// Append adds an event to the log. For text/voice events it is a no-op
// returning false when an event with the same id already exists; duplicates
// are expected under reconnect and redelivery, not an error. Before appending
// a waiting system event, any existing waiting event is removed so reconnects
// within one attempt do not stack waiting banners.
func (l *Log) Append(e *Event) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Kind != KindSystem {
		if e.ID == "" {
			return false
		}
		if _, dup := l.byID[e.ID]; dup {
			return false
		}
		l.byID[e.ID] = e
		l.events = append(l.events, e)
		return true
	}

	if e.Key == KeyWaiting {
		l.removeSystemLocked(KeyWaiting)
	}
	l.events = append(l.events, e)
	return true
}

// FindByID returns the text/voice event with the given id, or nil.
func (l *Log) FindByID(id string) *Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.byID[id]
}

// RemoveSystem removes all system events with the given key. Returns true if
// at least one was removed. Used when the waiting banner resolves into a
// connected one.
func (l *Log) RemoveSystem(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.removeSystemLocked(key)
}

func (l *Log) removeSystemLocked(key string) bool {
	removed := false
	kept := l.events[:0]
	for _, e := range l.events {
		if e.Kind == KindSystem && e.Key == key {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	l.events = kept
	return removed
}

// ToggleReaction toggles actor's membership in the symbol's reaction set on
// the event with the given id. A second toggle by the same actor removes the
// first; a reaction entry left with no members is deleted entirely. Returns
// false if no such event exists.
func (l *Log) ToggleReaction(id, symbol, actor string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byID[id]
	if !ok {
		return false
	}

	if e.Reactions == nil {
		e.Reactions = make(map[string][]string)
	}

	members := e.Reactions[symbol]
	for i, name := range members {
		if name == actor {
			members = append(members[:i], members[i+1:]...)
			if len(members) == 0 {
				delete(e.Reactions, symbol)
			} else {
				e.Reactions[symbol] = members
			}
			if len(e.Reactions) == 0 {
				e.Reactions = nil
			}
			return true
		}
	}

	e.Reactions[symbol] = append(members, actor)
	return true
}

// SetReactions replaces the full reaction state of an event. The server sends
// whole-state reaction updates, so this is the authoritative path for inbound
// newReaction events. Entries with empty member sets are dropped.
func (l *Log) SetReactions(id string, reactions map[string][]string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byID[id]
	if !ok {
		return false
	}

	if len(reactions) == 0 {
		e.Reactions = nil
		return true
	}

	clean := make(map[string][]string, len(reactions))
	for symbol, members := range reactions {
		if len(members) == 0 {
			continue
		}
		clean[symbol] = append([]string(nil), members...)
	}
	if len(clean) == 0 {
		e.Reactions = nil
	} else {
		e.Reactions = clean
	}
	return true
}

// Events returns a snapshot of the log in display order.
func (l *Log) Events() []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of events in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Clear removes all events. Called on requeue; the next attempt starts from
// an empty log.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
	l.byID = make(map[string]*Event)
}
