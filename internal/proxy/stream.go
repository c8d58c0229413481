package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/tidwall/gjson"
)

const (
	streamReadSize = 32 * 1024
	// maxPendingEvent caps the reassembly buffer; oversized events are skipped for parsing only.
	maxPendingEvent = 1 << 20
)

// Stream is a forward-only, single-pass view of an event-stream body.
// Chunks are returned exactly as read from upstream. Events are reassembled on
// the side to pick up usage and model fields.
type Stream struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	buf    []byte

	mu       sync.Mutex
	tracker  sseTracker
	done     bool
	closed   bool
	bytesOut int64
}

func newStream(body io.ReadCloser, cancel context.CancelFunc) *Stream {
	return &Stream{
		body:   body,
		cancel: cancel,
		buf:    make([]byte, streamReadSize),
	}
}

// Next returns the next raw chunk. It returns io.EOF once upstream finishes.
// The returned slice is only valid until the next call.
func (s *Stream) Next() ([]byte, error) {
	s.mu.Lock()
	if s.done || s.closed {
		s.mu.Unlock()
		return nil, io.EOF
	}
	s.mu.Unlock()

	n, errRead := s.body.Read(s.buf)
	var chunk []byte
	if n > 0 {
		chunk = s.buf[:n]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.bytesOut += int64(n)
		s.tracker.feed(chunk)
	}
	if errRead != nil {
		s.done = true
		s.tracker.flush()
		if errors.Is(errRead, io.EOF) {
			if n > 0 {
				return chunk, nil
			}
			return nil, io.EOF
		}
		if n > 0 {
			return chunk, nil
		}
		return nil, errRead
	}
	return chunk, nil
}

// Close releases the upstream connection. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	errClose := s.body.Close()
	if s.cancel != nil {
		s.cancel()
	}
	return errClose
}

// Usage returns the usage parsed so far.
func (s *Stream) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.usage
}

// Model returns the model name seen in the stream, if any.
func (s *Stream) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.model
}

// Bytes returns the number of body bytes passed through.
func (s *Stream) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesOut
}

// sseTracker splits a byte stream into events on blank lines and extracts
// usage from their data lines. Parse failures are ignored.
type sseTracker struct {
	pending  []byte
	overflow bool
	usage    Usage
	model    string
}

func (t *sseTracker) feed(chunk []byte) {
	if t.overflow {
		// Drop input until the oversized event ends.
		idx, sepLen := findEventBoundary(chunk)
		if idx < 0 {
			return
		}
		t.overflow = false
		chunk = chunk[idx+sepLen:]
	}
	t.pending = append(t.pending, chunk...)
	for {
		idx, sepLen := findEventBoundary(t.pending)
		if idx < 0 {
			break
		}
		t.handleEvent(t.pending[:idx])
		t.pending = t.pending[idx+sepLen:]
	}
	if len(t.pending) > maxPendingEvent {
		t.pending = nil
		t.overflow = true
	}
	if len(t.pending) == 0 {
		t.pending = nil
	}
}

func (t *sseTracker) flush() {
	if len(t.pending) > 0 && !t.overflow {
		t.handleEvent(t.pending)
	}
	t.pending = nil
}

// findEventBoundary locates the first blank line in b.
func findEventBoundary(b []byte) (int, int) {
	best, bestLen := -1, 0
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n"), []byte("\r\r")} {
		if idx := bytes.Index(b, sep); idx >= 0 && (best < 0 || idx < best) {
			best, bestLen = idx, len(sep)
		}
	}
	return best, bestLen
}

func (t *sseTracker) handleEvent(event []byte) {
	var data []byte
	for _, line := range bytes.Split(event, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		value := bytes.TrimPrefix(line[len("data:"):], []byte(" "))
		if len(data) > 0 {
			data = append(data, '\n')
		}
		data = append(data, value...)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("[DONE]")) || !gjson.ValidBytes(data) {
		return
	}
	t.handleData(gjson.ParseBytes(data))
}

func (t *sseTracker) handleData(root gjson.Result) {
	if model := root.Get("model").String(); model != "" && t.model == "" {
		t.model = model
	}

	if usage, ok := usageFromResult(root); ok {
		t.usage = usage
		return
	}

	switch root.Get("type").String() {
	case "message_start":
		message := root.Get("message")
		if model := message.Get("model").String(); model != "" && t.model == "" {
			t.model = model
		}
		if usage, ok := usageFromResult(message); ok {
			t.usage = usage
		}
	case "message_delta":
		usage := root.Get("usage")
		if !usage.IsObject() {
			return
		}
		if in := usage.Get("input_tokens"); in.Exists() {
			t.usage.PromptTokens = in.Int()
		}
		if out := usage.Get("output_tokens"); out.Exists() {
			t.usage.CompletionTokens = out.Int()
		}
		t.usage.TotalTokens = t.usage.PromptTokens + t.usage.CompletionTokens
	}
}
