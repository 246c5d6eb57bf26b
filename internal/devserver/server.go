// Package devserver is the in-memory pairing server used for local
// development and integration tests. It implements the client's full
// external surface: token issuance, the websocket channel with two-slot
// room pairing, voice uploads, and the online user counter. State lives in
// process memory only.
package devserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/sayhello/pairchat/internal/metrics"
)

// Config holds the server's tunable parameters.
type Config struct {
	ListenAddr     string
	MaxConnections int
	WriteTimeout   time.Duration
	TokenTTL       time.Duration // how long an unconsumed token stays valid
}

// DefaultConfig returns a Config with local development defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		MaxConnections: 1024,
		WriteTimeout:   10 * time.Second,
		TokenTTL:       2 * time.Minute,
	}
}

type pendingToken struct {
	name     string
	issuedAt time.Time
}

// Server issues tokens, upgrades websocket connections and brokers pairing.
type Server struct {
	config Config
	broker *broker

	mu      sync.Mutex
	tokens  map[string]pendingToken // token -> pending join
	uploads map[string][]byte       // upload id -> audio bytes
	ctypes  map[string]string       // upload id -> content type

	httpServer *http.Server
}

// New creates a Server ready to start.
func New(config Config) *Server {
	s := &Server{
		config:  config,
		tokens:  make(map[string]pendingToken),
		uploads: make(map[string][]byte),
		ctypes:  make(map[string]string),
	}
	s.broker = newBroker(config.WriteTimeout)
	return s
}

// Handler returns the server's HTTP handler. Tests mount it on httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/start-chat", s.handleStartChat)
	mux.HandleFunc("/upload-voice", s.handleUploadVoice)
	mux.HandleFunc("/voice/", s.handleVoice)
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start begins serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.Handler(),
	}
	log.Printf("devserver: listening on %s", s.config.ListenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("devserver: http server error: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP listener. Live websocket connections are closed by
// their read loops failing.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

// handleStartChat issues a single-use pairing token bound to a display name.
func (s *Server) handleStartChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}

	tok := uuid.NewString()
	s.mu.Lock()
	s.pruneTokensLocked()
	s.tokens[tok] = pendingToken{name: req.Name, issuedAt: time.Now()}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": tok})
}

// consumeToken redeems a token exactly once, returning the bound name.
func (s *Server) consumeToken(tok string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.tokens[tok]
	if !ok {
		return "", false
	}
	delete(s.tokens, tok)
	if time.Since(p.issuedAt) > s.config.TokenTTL {
		return "", false
	}
	return p.name, true
}

func (s *Server) pruneTokensLocked() {
	for tok, p := range s.tokens {
		if time.Since(p.issuedAt) > s.config.TokenTTL {
			delete(s.tokens, tok)
		}
	}
}

// handleUploadVoice accepts a multipart audio blob and returns a URL the
// partner can fetch it from.
func (s *Server) handleUploadVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	file, header, err := r.FormFile("voice")
	if err != nil {
		http.Error(w, "missing audio part", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}

	id := uuid.NewString()
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	s.mu.Lock()
	s.uploads[id] = data
	s.ctypes[id] = contentType
	s.mu.Unlock()

	url := fmt.Sprintf("http://%s/voice/%s", r.Host, id)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": url})
}

// handleVoice serves a previously uploaded clip.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/voice/")

	s.mu.Lock()
	data, ok := s.uploads[id]
	contentType := s.ctypes[id]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleUpgrade upgrades to websocket and hands the connection to the broker.
// The first frame must be a join carrying a valid token; the read loop
// enforces that before the client enters a room.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.broker.count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("devserver: upgrade failed: %v", err)
		return
	}

	go s.serveConn(conn)
}

// serveConn runs one connection's read loop.
func (s *Server) serveConn(conn net.Conn) {
	c := &client{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: s.config.WriteTimeout,
	}
	defer s.broker.disconnect(c)

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		if !s.broker.handle(c, data, s.consumeToken) {
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "ok",
		"users_online": s.broker.count(),
	})
}
