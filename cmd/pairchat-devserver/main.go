// Package main runs the in-memory pairing server for local development:
// token issuance, websocket pairing and relay, and voice uploads, all in one
// process with no external dependencies.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sayhello/pairchat/internal/devserver"
)

func main() {
	config := devserver.DefaultConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}
	if v := os.Getenv("TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.TokenTTL = d
		}
	}

	srv := devserver.New(config)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Printf("devserver: shutting down")
		srv.Shutdown()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("devserver: %v", err)
	}
}
