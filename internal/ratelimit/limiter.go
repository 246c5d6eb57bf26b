// Package ratelimit provides local throttling of outbound actions. Typing
// pulses in particular are generated per keystroke and would flood the
// channel unthrottled; the server applies its own limits, but emitting at a
// rate it would drop anyway is wasted traffic.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Rule defines a throttling policy: a name for lookups plus a sustained rate
// and burst size.
type Rule struct {
	Name  string
	Limit rate.Limit // events per second
	Burst int
}

// Standard client-side rules.
var (
	// RuleTyping allows roughly three typing pulses per second. Keystrokes
	// arrive far faster; the partner-side indicator only needs a pulse well
	// inside its 1s decay window.
	RuleTyping = Rule{Name: "typing", Limit: 3, Burst: 1}

	// RuleMessage allows 5 messages per 10 seconds, mirroring the server's
	// published limit so the client rejects locally instead of being dropped.
	RuleMessage = Rule{Name: "message", Limit: 0.5, Burst: 5}

	// RuleReaction allows quick reaction toggling without letting a held-down
	// key saturate the channel.
	RuleReaction = Rule{Name: "reaction", Limit: 5, Burst: 10}
)

// Limiter performs rule-based throttling. One token bucket is maintained per
// rule name.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLimiter creates an empty limiter. Buckets are created lazily on first use.
func NewLimiter() *Limiter {
	return &Limiter{buckets: make(map[string]*rate.Limiter)}
}

// Allow reports whether an action under the given rule may proceed now,
// consuming a token if so.
func (l *Limiter) Allow(rule Rule) bool {
	l.mu.Lock()
	b, ok := l.buckets[rule.Name]
	if !ok {
		b = rate.NewLimiter(rule.Limit, rule.Burst)
		l.buckets[rule.Name] = b
	}
	l.mu.Unlock()

	return b.Allow()
}

// Reset discards all buckets. Called on requeue so a new attempt starts with
// full burst allowances.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.buckets = make(map[string]*rate.Limiter)
	l.mu.Unlock()
}
