// Package token acquires one-time pairing tokens from the pairing server. A
// token binds a display name to a pending pairing request and is consumed
// exactly once by the session when it joins the real-time channel.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Sentinel errors distinguishing transport failures from server refusals.
// Callers should test with errors.Is; neither condition is retried here.
var (
	// ErrNetwork indicates the request could not complete at all.
	ErrNetwork = errors.New("token: network error")

	// ErrServerRejected indicates the server answered with a non-success status.
	ErrServerRejected = errors.New("token: server rejected request")
)

// DefaultTimeout bounds a single token request.
const DefaultTimeout = 10 * time.Second

// Client requests pairing tokens over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a token client for the given server base URL
// (e.g. "https://pairchat.example"). If httpClient is nil a client with
// DefaultTimeout is used.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// Acquire requests a fresh pairing token for the given display name via
// POST /start-chat. The returned token is single-use: it is invalid after the
// channel handshake completes, so every requeue needs a new call.
func (c *Client) Acquire(ctx context.Context, displayName string) (string, error) {
	if displayName == "" {
		return "", fmt.Errorf("token: display name is empty")
	}

	body, err := json.Marshal(map[string]string{"name": displayName})
	if err != nil {
		return "", fmt.Errorf("token: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/start-chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("token: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain the body so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: status %d", ErrServerRejected, resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrServerRejected, err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("%w: empty token in response", ErrServerRejected)
	}
	return out.Token, nil
}
