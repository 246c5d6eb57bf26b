package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"time"
)

// silenceCapture is the stand-in audio device for the terminal client: it
// tracks how long recording ran and finalizes to a silent PCM WAV of that
// length, so the upload/announce path carries a real playable clip.
type silenceCapture struct {
	mu        sync.Mutex
	recording bool
	startedAt time.Time
	captured  time.Duration
}

const captureSampleRate = 8000

func (c *silenceCapture) Acquire(ctx context.Context) error { return nil }

func (c *silenceCapture) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recording = true
	c.startedAt = time.Now()
	c.captured = 0
	return nil
}

func (c *silenceCapture) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.recording {
		c.captured += time.Since(c.startedAt)
		c.recording = false
	}
	return nil
}

func (c *silenceCapture) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		c.startedAt = time.Now()
		c.recording = true
	}
	return nil
}

func (c *silenceCapture) Finalize() ([]byte, string, error) {
	c.mu.Lock()
	if c.recording {
		c.captured += time.Since(c.startedAt)
		c.recording = false
	}
	d := c.captured
	c.captured = 0
	c.mu.Unlock()

	return silentWAV(d), "audio/wav", nil
}

func (c *silenceCapture) Release() {}

// silentWAV builds a mono 16-bit PCM WAV of silence for the given duration.
func silentWAV(d time.Duration) []byte {
	samples := int(d.Seconds() * captureSampleRate)
	dataLen := samples * 2

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(captureSampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(captureSampleRate*2))
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}
