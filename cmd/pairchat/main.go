// Package main is the terminal chat client. It pairs with a stranger through
// the pairing server and drives the whole session from stdin: text messages,
// reactions, voice recording, requeue and exit.
//
// Usage:
//
//	pairchat [-name Alice] [-server http://localhost:8080] [-ws ws://localhost:8080/ws]
//
// Commands at the prompt:
//
//	/next               leave the current partner and pair with a new one
//	/exit               end the session
//	/typing             send a typing pulse
//	/react <id> <sym>   toggle a reaction on a message
//	/record /pause /resume /stop /cancel
//	                    drive the voice recorder
//	anything else       send as a text message
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sayhello/pairchat/internal/channel"
	"github.com/sayhello/pairchat/internal/chatlog"
	"github.com/sayhello/pairchat/internal/config"
	"github.com/sayhello/pairchat/internal/metrics"
	"github.com/sayhello/pairchat/internal/recorder"
	"github.com/sayhello/pairchat/internal/session"
	"github.com/sayhello/pairchat/internal/token"
	"github.com/sayhello/pairchat/internal/upload"
)

func main() {
	name := flag.String("name", "", "display name (overrides PAIRCHAT_NAME)")
	server := flag.String("server", "", "pairing server HTTP base URL")
	wsURL := flag.String("ws", "", "pairing server websocket URL")
	flag.Parse()

	if *name != "" {
		os.Setenv("PAIRCHAT_NAME", *name)
	}
	if *server != "" {
		os.Setenv("PAIRCHAT_SERVER_URL", *server)
	}
	if *wsURL != "" {
		os.Setenv("PAIRCHAT_WS_URL", *wsURL)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("pairchat: %v", err)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Printf("pairchat: metrics on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Printf("pairchat: metrics server: %v", err)
			}
		}()
	}

	ui := &printer{out: os.Stdout}

	machine := session.New(session.Config{
		ServerURL:       cfg.ServerWSURL,
		DisplayName:     cfg.DisplayName,
		Tokens:          token.NewClient(cfg.ServerHTTPURL, nil),
		ReconnectDelay:  cfg.ReconnectDelay,
		TypingWindow:    time.Duration(cfg.TypingWindowMs) * time.Millisecond,
		RecordingWindow: time.Duration(cfg.RecordingWindowMs) * time.Millisecond,
		Dial: func(ctx context.Context, c channel.Config) (session.Transport, error) {
			conn, err := channel.Dial(ctx, c)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		OnStateChange:   func(s session.State) { ui.status("state: %s", s) },
		OnNotice:        func(code string, err error) { ui.status("notice: %s (%v)", code, err) },
		OnLogChange:     func() { ui.logChanged() },
		OnPartnerTyping: func(v bool) { ui.indicator("typing", v) },
		OnPartnerRecord: func(v bool) { ui.indicator("recording", v) },
		OnUserCount:     func(n int) { ui.status("%d users online", n) },
	})
	ui.events = func() []*chatlog.Event { return machine.Log().Events() }

	rec := recorder.New(recorder.Config{
		Capture: &silenceCapture{},
		Uploads: upload.NewUploader(cfg.ServerHTTPURL, nil),
		Signals: machine,
		OnStateChange: func(s recorder.State) { ui.status("recorder: %s", s) },
		OnDeleteCue:   func() { ui.status("recording discarded") },
	})

	ctx := context.Background()
	if err := machine.Start(ctx); err != nil {
		log.Fatalf("pairchat: start: %v", err)
	}
	fmt.Printf("Connected as %s. Type a message, or /exit to quit.\n", cfg.DisplayName)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if err := machine.SendText(line); err != nil {
				ui.status("send failed: %v", err)
			}
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/next":
			rec.Release()
			if err := machine.Requeue(ctx); err != nil {
				ui.status("requeue failed: %v", err)
			}
		case "/exit":
			rec.Release()
			machine.Exit()
			return
		case "/typing":
			machine.SendTyping()
		case "/react":
			if len(fields) != 3 {
				ui.status("usage: /react <message-id> <symbol>")
				continue
			}
			if err := machine.ToggleReaction(fields[1], fields[2]); err != nil {
				ui.status("react failed: %v", err)
			}
		case "/record":
			if err := rec.Start(ctx); err != nil {
				ui.status("record failed: %v", err)
			}
		case "/pause":
			if err := rec.Pause(); err != nil {
				ui.status("pause failed: %v", err)
			}
		case "/resume":
			if err := rec.Resume(); err != nil {
				ui.status("resume failed: %v", err)
			}
		case "/stop":
			if err := rec.Stop(ctx); err != nil {
				ui.status("stop failed: %v", err)
			}
		case "/cancel":
			if err := rec.Cancel(); err != nil {
				ui.status("cancel failed: %v", err)
			}
		default:
			ui.status("unknown command %s", fields[0])
		}
	}

	rec.Release()
	machine.Exit()
}

// printer renders log events incrementally. The log can replace events in
// place (the waiting banner becomes the connected banner at the same index),
// so it diffs by event identity rather than by length.
type printer struct {
	events func() []*chatlog.Event
	out    io.Writer

	mu   sync.Mutex
	seen []*chatlog.Event
}

func (p *printer) logChanged() {
	p.mu.Lock()
	defer p.mu.Unlock()

	events := p.events()
	if len(events) == 0 && len(p.seen) > 0 {
		fmt.Fprintln(p.out, "--- new chat ---")
	}
	from := 0
	for from < len(p.seen) && from < len(events) && p.seen[from] == events[from] {
		from++
	}
	for _, e := range events[from:] {
		fmt.Fprintln(p.out, renderEvent(e))
	}
	p.seen = events
}

func (p *printer) status(format string, args ...interface{}) {
	fmt.Fprintf(p.out, "* "+format+"\n", args...)
}

func (p *printer) indicator(what string, active bool) {
	if active {
		fmt.Fprintf(p.out, "* partner is %s...\n", what)
	} else {
		fmt.Fprintf(p.out, "* partner stopped %s\n", what)
	}
}

func renderEvent(e *chatlog.Event) string {
	switch e.Kind {
	case chatlog.KindSystem:
		return fmt.Sprintf("--- %s ---", systemText(e.Key))
	case chatlog.KindVoice:
		return fmt.Sprintf("[%s] %s: voice note %s (%s) id=%s",
			chatlog.FormatTime(e.Time), senderLabel(e), e.AudioURL,
			chatlog.FormatClock(e.Duration), e.ID)
	default:
		return fmt.Sprintf("[%s] %s: %s id=%s",
			chatlog.FormatTime(e.Time), senderLabel(e), e.Text, e.ID)
	}
}

func senderLabel(e *chatlog.Event) string {
	if e.Self {
		return "you"
	}
	if e.SenderName != "" {
		return e.SenderName
	}
	return "partner"
}

func systemText(key string) string {
	switch key {
	case chatlog.KeyWaiting:
		return "waiting for a partner"
	case chatlog.KeyConnected:
		return "partner connected"
	case chatlog.KeyPartnerLeft:
		return "partner left"
	default:
		return key
	}
}
