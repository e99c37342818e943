// Package mcptransport implements the async response delivery pipeline
// (§4.E): SSE and streamable-HTTP drain loops that poll a session's message
// queue in mcpstorage and stream it to the client as it fills.
//
// The framing (SSEStream, http.Flusher usage) is lifted directly from the
// teacher's internal/mcpserver/server/sse.go; what's new is DrainLoop, which
// the teacher only ever drove from an external <-stream.Done() without an
// actual queue behind it.
package mcptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Stream manages a single SSE (or streamable-HTTP) connection.
type Stream struct {
	mu        sync.Mutex
	w         http.ResponseWriter
	flusher   http.Flusher
	eventID   int
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewStream prepares w for event-stream output and returns a Stream bound to
// ctx; cancelling the returned Stream's context (via Close, or the caller's
// ctx being cancelled) stops any DrainLoop running over it.
func NewStream(ctx context.Context, w http.ResponseWriter, sessionID string) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("mcptransport: streaming not supported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	streamCtx, cancel := context.WithCancel(ctx)
	return &Stream{w: w, flusher: flusher, sessionID: sessionID, ctx: streamCtx, cancel: cancel}, nil
}

// SendEndpoint writes the initial SSE "endpoint" event (§4.E) carrying the
// POST URL bound to this stream's session, so the client knows where to send
// subsequent JSON-RPC requests.
func (s *Stream) SendEndpoint(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.w, "event: endpoint\ndata: %s\n\n", url); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SendMessage writes one JSON-RPC payload as an SSE "message" event.
func (s *Stream) SendMessage(payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.eventID++
	if _, err := fmt.Fprintf(s.w, "event: message\nid: %d\ndata: %s\n\n", s.eventID, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// sendKeepalive writes an SSE comment line, which clients ignore but which
// keeps intermediaries from timing out the connection.
func (s *Stream) sendKeepalive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, ": keepalive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close cancels the stream's context, stopping any DrainLoop over it.
func (s *Stream) Close() {
	s.cancel()
}

// Done reports when the stream's context is cancelled (by Close, by the
// parent ctx, or by the client disconnecting — net/http cancels the
// request's context on disconnect).
func (s *Stream) Done() <-chan struct{} {
	return s.ctx.Done()
}
