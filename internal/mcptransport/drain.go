package mcptransport

import (
	"context"
	"time"

	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage"
	"github.com/rs/zerolog/log"
)

// DefaultKeepaliveInterval matches the spec's sse.keepalive_interval default.
const DefaultKeepaliveInterval = 15 * time.Second

// DefaultPollInterval is how often DrainLoop checks the queue while
// recently active.
const DefaultPollInterval = 200 * time.Millisecond

// DefaultSwitchIntervalAfter is how long a session must sit idle (no new
// messages) before DrainLoop backs off to DefaultSlowPollInterval.
const DefaultSwitchIntervalAfter = 30 * time.Second

// DefaultSlowPollInterval is the backed-off poll interval for idle sessions.
const DefaultSlowPollInterval = 2 * time.Second

// DefaultMaxConnectionTime bounds a single SSE connection's lifetime; the
// client is expected to reconnect (MCP streamable-http clients do this
// transparently), bounding per-connection resource usage on long-lived
// polling loops.
const DefaultMaxConnectionTime = 30 * time.Minute

// DefaultBackpressureSoftCap bounds how many undelivered messages DrainLoop
// tolerates in the queue before dropping the oldest to make room, per the
// backpressure invariant (§8).
const DefaultBackpressureSoftCap = 1000

// DrainConfig configures DrainLoop. Zero values fall back to the package
// defaults.
type DrainConfig struct {
	KeepaliveInterval   time.Duration
	PollInterval        time.Duration
	SwitchIntervalAfter time.Duration
	SlowPollInterval    time.Duration
	MaxConnectionTime   time.Duration
	BackpressureSoftCap int

	// TestMode performs exactly one drain pass (list, send, delete) and
	// returns, instead of looping — enabled by the sse/streamable_http
	// test_mode config options and by tests that don't want to depend on
	// wall-clock polling.
	TestMode bool
}

func (c DrainConfig) withDefaults() DrainConfig {
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SwitchIntervalAfter == 0 {
		c.SwitchIntervalAfter = DefaultSwitchIntervalAfter
	}
	if c.SlowPollInterval == 0 {
		c.SlowPollInterval = DefaultSlowPollInterval
	}
	if c.MaxConnectionTime == 0 {
		c.MaxConnectionTime = DefaultMaxConnectionTime
	}
	if c.BackpressureSoftCap == 0 {
		c.BackpressureSoftCap = DefaultBackpressureSoftCap
	}
	return c
}

// DrainLoop drains sessionID's message queue into stream until ctx is
// cancelled, the stream closes, MaxConnectionTime elapses, or (in TestMode)
// after one pass. It is the single shared implementation behind both the
// SSE GET handler and the streamable-HTTP GET handler (§9 Open
// Question, decided in DESIGN.md).
func DrainLoop(ctx context.Context, store mcpstorage.MessageStore, stream *Stream, sessionID string, cfg DrainConfig) error {
	cfg = cfg.withDefaults()

	deadline := time.Now().Add(cfg.MaxConnectionTime)
	poll := cfg.PollInterval
	lastMessageAt := time.Now()

	pollTimer := time.NewTimer(poll)
	defer pollTimer.Stop()
	keepalive := time.NewTicker(cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		sent, err := drainOnce(ctx, store, stream, sessionID, cfg.BackpressureSoftCap)
		if err != nil {
			return err
		}
		if sent > 0 {
			lastMessageAt = time.Now()
		}

		if cfg.TestMode {
			return nil
		}

		if time.Now().After(deadline) {
			return nil
		}

		if time.Since(lastMessageAt) > cfg.SwitchIntervalAfter {
			poll = cfg.SlowPollInterval
		} else {
			poll = cfg.PollInterval
		}
		pollTimer.Reset(poll)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stream.Done():
			return nil
		case <-keepalive.C:
			if err := stream.sendKeepalive(); err != nil {
				return err
			}
		case <-pollTimer.C:
			// fall through to next drainOnce
		}
	}
}

// drainOnce lists sessionID's pending messages, applies the backpressure
// soft cap (dropping the oldest messages beyond it), sends the rest in
// order, and deletes each as it's successfully flushed so a reconnecting
// client never sees a message twice.
func drainOnce(ctx context.Context, store mcpstorage.MessageStore, stream *Stream, sessionID string, softCap int) (int, error) {
	messages, err := store.List(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if len(messages) > softCap {
		drop := len(messages) - softCap
		log.Warn().
			Str("session_id", sessionID).
			Int("dropped", drop).
			Msg("message queue exceeded backpressure soft cap, dropping oldest")
		for _, m := range messages[:drop] {
			_ = store.Delete(ctx, m.ID)
		}
		messages = messages[drop:]
	}

	sent := 0
	for _, m := range messages {
		if err := stream.SendMessage(m.Payload); err != nil {
			return sent, err
		}
		if err := store.Delete(ctx, m.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
