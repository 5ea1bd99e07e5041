package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/coachloop/coachloop/internal/event"
)

func encodeEnvelope(e event.Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Reader turns an SSE response body into an ordered, cancellable envelope
// sequence. Usage mirrors bufio.Scanner:
//
//	for r.Scan() {
//	    e := r.Envelope()
//	    ...
//	}
//	if err := r.Err(); err != nil { ... }
//
// Scan returns false after a terminal envelope, on transport failure, or
// after Close. Closing mid-stream is normal termination, not an error: Err
// stays nil. A line that fails to decode is skipped, not fatal.
type Reader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	mu      sync.Mutex
	closed  bool
	done    bool
	current event.Envelope
	err     error
}

// NewReader wraps an open SSE response body.
func NewReader(body io.ReadCloser) *Reader {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), 2*1024*1024)
	return &Reader{body: body, scanner: sc}
}

// Scan advances to the next envelope.
func (r *Reader) Scan() bool {
	if r.isClosed() || r.done {
		return false
	}

	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimPrefix(line, "data:")
		payload = strings.TrimPrefix(payload, " ")

		e, err := event.Decode([]byte(payload))
		if err != nil {
			// One undecodable frame must not abort the sequence.
			continue
		}

		r.current = e
		if e.Terminal() {
			r.done = true
		}
		return true
	}

	if err := r.scanner.Err(); err != nil && !r.isClosed() {
		r.err = fmt.Errorf("read stream: %w", err)
	}
	r.done = true
	return false
}

// Envelope returns the envelope produced by the last successful Scan.
func (r *Reader) Envelope() event.Envelope {
	return r.current
}

// Err returns the first transport error. It is nil after clean termination
// and after cancellation via Close.
func (r *Reader) Err() error {
	return r.err
}

// Close cancels consumption. Safe to call concurrently with Scan and more
// than once.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.body.Close()
}

func (r *Reader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
