package token

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAcquire(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/start-chat" {
			t.Errorf("expected /start-chat, got %s", r.URL.Path)
		}
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		if body.Name != "Alice" {
			t.Errorf("expected name %q, got %q", "Alice", body.Name)
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	tok, err := c.Acquire(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "tok-1" {
		t.Errorf("expected token %q, got %q", "tok-1", tok)
	}
}

func TestAcquireServerRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.Acquire(context.Background(), "Alice")
	if !errors.Is(err, ErrServerRejected) {
		t.Fatalf("expected ErrServerRejected, got %v", err)
	}
}

func TestAcquireNetworkError(t *testing.T) {
	// Point at a closed server so the dial fails.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.Acquire(context.Background(), "Alice")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestAcquireEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": ""})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.Acquire(context.Background(), "Alice")
	if !errors.Is(err, ErrServerRejected) {
		t.Fatalf("expected ErrServerRejected for empty token, got %v", err)
	}
}

func TestAcquireEmptyName(t *testing.T) {
	c := NewClient("http://unused.invalid", nil)
	if _, err := c.Acquire(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty display name, got nil")
	}
}

func TestAcquireContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL, nil)
	_, err := c.Acquire(ctx, "Alice")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork for cancelled context, got %v", err)
	}
}
