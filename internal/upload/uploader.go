// Package upload sends finished voice notes to the storage endpoint. The
// resulting URL is what gets announced over the channel; nothing is announced
// until the upload has succeeded.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sayhello/pairchat/internal/metrics"
)

var (
	// ErrNetwork indicates the upload request could not complete.
	ErrNetwork = errors.New("upload: network error")

	// ErrServerRejected indicates the server answered with a non-success status.
	ErrServerRejected = errors.New("upload: server rejected request")
)

// DefaultTimeout bounds a single upload. Voice notes are short but mobile
// uplinks are slow, so this is looser than the token timeout.
const DefaultTimeout = 60 * time.Second

// Uploader posts audio blobs to the /upload-voice endpoint.
type Uploader struct {
	baseURL string
	http    *http.Client
}

// NewUploader creates an uploader for the given server base URL. If
// httpClient is nil a client with DefaultTimeout is used.
func NewUploader(baseURL string, httpClient *http.Client) *Uploader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Uploader{baseURL: baseURL, http: httpClient}
}

// Upload sends the encoded audio bytes as a multipart form and returns the
// URL the server stored the blob under.
func (u *Uploader) Upload(ctx context.Context, audio []byte, contentType string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("upload: audio blob is empty")
	}
	if contentType == "" {
		contentType = "audio/webm"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="voice"; filename="voice.webm"`}
	hdr["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("upload: failed to create form part: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("upload: failed to write form part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("upload: failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/upload-voice", &body)
	if err != nil {
		return "", fmt.Errorf("upload: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := u.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	metrics.VoiceUploadSeconds.Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: status %d", ErrServerRejected, resp.StatusCode)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrServerRejected, err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("%w: empty url in response", ErrServerRejected)
	}
	return out.URL, nil
}
