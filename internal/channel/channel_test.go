package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/sayhello/pairchat/internal/protocol"
)

// startEchoServer runs a WebSocket server that upgrades each connection,
// sends it a greeting event, and then echoes every client event back.
func startEchoServer(t *testing.T) (url string, closeFn func()) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()

			greeting, _ := protocol.NewEvent(protocol.EventWaiting, protocol.WaitingEvent{SelfID: "s-1"})
			if err := wsutil.WriteServerMessage(conn, ws.OpText, greeting); err != nil {
				return
			}

			for {
				data, err := wsutil.ReadClientText(conn)
				if err != nil {
					return
				}
				if err := wsutil.WriteServerMessage(conn, ws.OpText, data); err != nil {
					return
				}
			}
		}()
	}))

	return "ws" + strings.TrimPrefix(srv.URL, "http"), srv.Close
}

func TestDialAndReceive(t *testing.T) {
	url, stop := startEchoServer(t)
	defer stop()

	type received struct {
		name string
		raw  json.RawMessage
	}
	events := make(chan received, 16)

	c, err := Dial(context.Background(), Config{
		URL: url,
		OnEvent: func(name string, raw json.RawMessage) {
			events <- received{name, raw}
		},
	})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()

	select {
	case got := <-events:
		if got.name != protocol.EventWaiting {
			t.Fatalf("expected %q greeting, got %q", protocol.EventWaiting, got.name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for greeting event")
	}
}

func TestEmitRoundTrip(t *testing.T) {
	url, stop := startEchoServer(t)
	defer stop()

	events := make(chan string, 16)
	c, err := Dial(context.Background(), Config{
		URL: url,
		OnEvent: func(name string, raw json.RawMessage) {
			events <- name
		},
	})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()

	if err := c.Emit(protocol.EventSendMessage, protocol.SendMessageEvent{ID: "m-1", Text: "hi"}); err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case name := <-events:
			if name == protocol.EventSendMessage {
				m := c.GetMetrics()
				if m.EventsSent != 1 {
					t.Errorf("expected 1 event sent, got %d", m.EventsSent)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for echoed event")
		}
	}
}

func TestOnCloseFiresForServerDisconnect(t *testing.T) {
	url, stop := startEchoServer(t)

	closed := make(chan error, 1)
	c, err := Dial(context.Background(), Config{
		URL:     url,
		OnClose: func(err error) { closed <- err },
	})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer c.Close()

	// Tear the server down underneath the client.
	stop()

	select {
	case err := <-closed:
		if err == nil {
			t.Error("expected a non-nil close error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}
}

func TestLocalCloseSuppressesOnClose(t *testing.T) {
	url, stop := startEchoServer(t)
	defer stop()

	var mu sync.Mutex
	fired := false
	c, err := Dial(context.Background(), Config{
		URL: url,
		OnClose: func(err error) {
			mu.Lock()
			fired = true
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	c.Close()
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Fatal("OnClose must not fire for a locally initiated close")
	}
}

func TestEmitAfterClose(t *testing.T) {
	url, stop := startEchoServer(t)
	defer stop()

	c, err := Dial(context.Background(), Config{URL: url})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	c.Close()

	if err := c.Emit(protocol.EventTyping, protocol.TypingEvent{}); err == nil {
		t.Fatal("expected error emitting on a closed connection")
	}
}

func TestCloseIdempotent(t *testing.T) {
	url, stop := startEchoServer(t)
	defer stop()

	c, err := Dial(context.Background(), Config{URL: url})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}
