package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUpload(t *testing.T) {
	audio := []byte{0x1a, 0x45, 0xdf, 0xa3, 0x00, 0x01, 0x02}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload-voice" {
			t.Errorf("expected /upload-voice, got %s", r.URL.Path)
		}
		file, hdr, err := r.FormFile("voice")
		if err != nil {
			t.Fatalf("failed to read form file: %v", err)
		}
		defer file.Close()
		got, err := io.ReadAll(file)
		if err != nil {
			t.Fatalf("failed to read file contents: %v", err)
		}
		if !bytes.Equal(got, audio) {
			t.Errorf("uploaded bytes do not match: got %d bytes, want %d", len(got), len(audio))
		}
		if ct := hdr.Header.Get("Content-Type"); ct != "audio/webm" {
			t.Errorf("expected part content type audio/webm, got %q", ct)
		}
		json.NewEncoder(w).Encode(map[string]string{"url": "https://cdn.example/voice/v-1.webm"})
	}))
	defer srv.Close()

	u := NewUploader(srv.URL, nil)
	url, err := u.Upload(context.Background(), audio, "audio/webm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://cdn.example/voice/v-1.webm" {
		t.Errorf("unexpected url %q", url)
	}
}

func TestUploadServerRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	u := NewUploader(srv.URL, nil)
	_, err := u.Upload(context.Background(), []byte{1, 2, 3}, "")
	if !errors.Is(err, ErrServerRejected) {
		t.Fatalf("expected ErrServerRejected, got %v", err)
	}
}

func TestUploadNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	u := NewUploader(srv.URL, nil)
	_, err := u.Upload(context.Background(), []byte{1, 2, 3}, "")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestUploadEmptyBlob(t *testing.T) {
	u := NewUploader("http://unused.invalid", nil)
	if _, err := u.Upload(context.Background(), nil, ""); err == nil {
		t.Fatal("expected error for empty blob, got nil")
	}
}
