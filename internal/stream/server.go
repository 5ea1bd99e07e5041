package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coachloop/coachloop/internal/event"
)

// Producer generates the envelope sequence for one connection. It must stop
// promptly when ctx is cancelled; emit returns false once the consumer is
// gone, after which further envelopes are dropped.
type Producer func(ctx context.Context, emit func(event.Envelope) bool)

// Server writes envelope streams as server-sent events.
type Server struct {
	// KeepAlive is the comment interval during producer silence.
	KeepAlive time.Duration
	// Budget is the hard wall-clock bound on a connection. On expiry the
	// server emits a terminal error envelope and closes.
	Budget time.Duration
	Logger *slog.Logger
}

const envelopeBuffer = 32

// Stream runs produce in its own goroutine and forwards each envelope to the
// response as one SSE frame, interleaved with keep-alive comments. It returns
// when the producer finishes, the budget expires, or the client disconnects;
// on disconnect the producer is cancelled immediately and nothing further is
// written.
func (s *Server) Stream(w http.ResponseWriter, r *http.Request, seq *event.Sequencer, produce Producer) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	pctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := make(chan event.Envelope, envelopeBuffer)
	go func() {
		defer close(out)
		produce(pctx, func(e event.Envelope) bool {
			select {
			case out <- e:
				return true
			case <-pctx.Done():
				return false
			}
		})
	}()

	keepAlive := time.NewTimer(s.KeepAlive)
	defer keepAlive.Stop()
	budget := time.NewTimer(s.Budget)
	defer budget.Stop()

	for {
		select {
		case e, ok := <-out:
			if !ok {
				// Producer finished; it has already emitted its terminal
				// envelope.
				return
			}
			if err := writeEnvelope(w, e); err != nil {
				s.Logger.Debug("stream write failed", "error", err)
				return
			}
			flusher.Flush()
			if !keepAlive.Stop() {
				select {
				case <-keepAlive.C:
				default:
				}
			}
			keepAlive.Reset(s.KeepAlive)

		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			keepAlive.Reset(s.KeepAlive)

		case <-budget.C:
			cancel()
			errEnv, err := seq.Next(event.TypeError, event.ErrorPayload{
				Code:    "stream_budget_exceeded",
				Message: "connection exceeded its time budget",
			})
			if err == nil {
				if werr := writeEnvelope(w, errEnv); werr == nil {
					flusher.Flush()
				}
			}
			s.Logger.Warn("stream budget exceeded", "budget", s.Budget)
			return

		case <-r.Context().Done():
			// Client went away: stop the producer and write nothing more.
			cancel()
			return
		}
	}
}

func writeEnvelope(w http.ResponseWriter, e event.Envelope) error {
	data, err := encodeEnvelope(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
