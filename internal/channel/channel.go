// Package channel owns the real-time WebSocket connection to the pairing
// server. It connects using gobwas/ws, runs a background read loop, and hands
// every inbound event envelope to a single callback. The session layer is the
// only component that emits on a channel; everything else requests outbound
// actions through it.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/sayhello/pairchat/internal/protocol"
)

// Metrics tracks per-connection counters.
type Metrics struct {
	ConnectLatency time.Duration
	EventsReceived int
	EventsSent     int
	ParseErrors    int
}

// Config holds the callbacks a connection dispatches into. OnEvent is called
// from the read loop goroutine for every well-formed envelope, so it must not
// block for extended periods. OnClose is called at most once, and only for
// closures not initiated through Close.
type Config struct {
	URL     string
	OnEvent func(name string, raw json.RawMessage)
	OnClose func(err error)
}

// Conn is a single client connection to the pairing server.
type Conn struct {
	conn      net.Conn
	cfg       Config
	mu        sync.Mutex // serializes writes
	metrics   Metrics
	mmu       sync.Mutex // guards metrics
	done      chan struct{}
	closeOnce sync.Once
}

// Dial establishes the WebSocket connection and starts the read loop. Inbound
// events begin flowing into cfg.OnEvent before Dial returns.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("channel: url is empty")
	}

	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("channel: dial %s: %w", cfg.URL, err)
	}

	c := &Conn{
		conn: conn,
		cfg:  cfg,
		done: make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Emit builds the named event with protocol.NewEvent and writes it as a text
// frame. It is goroutine-safe.
func (c *Conn) Emit(name string, payload interface{}) error {
	data, err := protocol.NewEvent(name, payload)
	if err != nil {
		return err
	}
	return c.EmitRaw(data)
}

// EmitRaw writes pre-encoded event bytes as a text frame.
func (c *Conn) EmitRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("channel: connection closed")
	default:
	}

	if err := wsutil.WriteClientMessage(c.conn, ws.OpText, data); err != nil {
		return fmt.Errorf("channel: write: %w", err)
	}

	c.mmu.Lock()
	c.metrics.EventsSent++
	c.mmu.Unlock()
	return nil
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times, and it suppresses the OnClose callback; a close requested
// by the caller is not a channel error.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// GetMetrics returns a copy of the connection's metrics.
func (c *Conn) GetMetrics() Metrics {
	c.mmu.Lock()
	defer c.mmu.Unlock()
	return c.metrics
}

// readLoop continuously reads frames from the server and dispatches envelopes
// to the OnEvent callback. It runs until the connection closes; a read error
// on a connection that was not closed locally is reported through OnClose.
func (c *Conn) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Intentionally closed; not a channel error.
				return
			default:
			}
			c.Close()
			if c.cfg.OnClose != nil {
				c.cfg.OnClose(err)
			}
			return
		}

		c.mmu.Lock()
		c.metrics.EventsReceived++
		c.mmu.Unlock()

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.mmu.Lock()
			c.metrics.ParseErrors++
			c.mmu.Unlock()
			continue
		}

		if c.cfg.OnEvent != nil {
			c.cfg.OnEvent(env.Event, env.Raw)
		}
	}
}
