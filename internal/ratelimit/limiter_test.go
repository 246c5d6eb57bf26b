package ratelimit

import (
	"testing"

	"golang.org/x/time/rate"
)

func TestAllowWithinBurst(t *testing.T) {
	l := NewLimiter()
	rule := Rule{Name: "test", Limit: 1, Burst: 3}

	for i := 0; i < 3; i++ {
		if !l.Allow(rule) {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
	if l.Allow(rule) {
		t.Fatal("request beyond burst should be denied")
	}
}

func TestRulesIndependent(t *testing.T) {
	l := NewLimiter()
	a := Rule{Name: "a", Limit: 1, Burst: 1}
	b := Rule{Name: "b", Limit: 1, Burst: 1}

	if !l.Allow(a) {
		t.Fatal("first request under rule a should be allowed")
	}
	if !l.Allow(b) {
		t.Fatal("exhausting rule a must not affect rule b")
	}
}

func TestResetRestoresBurst(t *testing.T) {
	l := NewLimiter()
	rule := Rule{Name: "test", Limit: rate.Limit(0.001), Burst: 1}

	if !l.Allow(rule) {
		t.Fatal("first request should be allowed")
	}
	if l.Allow(rule) {
		t.Fatal("second request should be denied")
	}

	l.Reset()

	if !l.Allow(rule) {
		t.Fatal("request after reset should be allowed")
	}
}
