// Package mcpsession implements the MCP session manager (§4.F): version-
// encoded session IDs, TTL-based expiry, and a bounded per-session set of
// seen JSON-RPC request IDs used to reject duplicates (§8 invariant).
//
// It generalizes the teacher's mutex+map SessionManager
// (internal/mcpserver/server/session.go) to be backed by mcpstorage.Store
// instead of an unexported local map, so sessions survive process restarts
// when a durable store is configured.
package mcpsession

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage"
	"github.com/erauner12/toolbridge-mcp/internal/mcpversion"
	"github.com/rs/zerolog/log"
)

// DefaultTTL is how long a session lives after creation; reading a session
// does not extend it.
const DefaultTTL = time.Hour

// DefaultIDSetCapacity bounds the per-session seen-request-ID ring (§9 Open
// Question, decided in DESIGN.md: bounded ring over an unbounded map).
const DefaultIDSetCapacity = 4096

// ErrDuplicateID is returned by Manager.ObserveRequestID when a request ID
// has already been seen on this session, per the JSON-RPC "Invalid Request"
// duplicate-id invariant (§7, code -32600).
var ErrDuplicateID = fmt.Errorf("mcpsession: duplicate request id")

// Manager creates and tracks MCP sessions against a mcpstorage.SessionStore.
type Manager struct {
	store      mcpstorage.SessionStore
	negotiator *mcpversion.Negotiator
	ttl        time.Duration
	idCapacity int

	mu    sync.Mutex
	rings map[string]*idRing // sessionID -> bounded seen-ID ring, in-process only
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithIDSetCapacity overrides DefaultIDSetCapacity.
func WithIDSetCapacity(n int) Option {
	return func(m *Manager) { m.idCapacity = n }
}

// New creates a Manager backed by store, negotiating versions via neg.
func New(store mcpstorage.SessionStore, neg *mcpversion.Negotiator, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		negotiator: neg,
		ttl:        DefaultTTL,
		idCapacity: DefaultIDSetCapacity,
		rings:      make(map[string]*idRing),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// newSessionID mints a "<protocolVersion>_<128-bit-hex>" session ID (§4.F).
func newSessionID(protocolVersion string) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("mcpsession: generate id: %w", err)
	}
	return protocolVersion + "_" + hex.EncodeToString(b), nil
}

// Create negotiates clientVersion against the Manager's Negotiator and
// creates a new session for the given tenant/user, returning the session
// along with the negotiated protocol version actually stored on it.
func (m *Manager) Create(ctx context.Context, clientVersion string, tenantID, userID int64) (*mcpstorage.Session, error) {
	negotiated := m.negotiator.Negotiate(clientVersion)

	id, err := newSessionID(negotiated)
	if err != nil {
		return nil, err
	}

	sess := &mcpstorage.Session{
		ID:              id,
		ProtocolVersion: negotiated,
		TenantID:        tenantID,
		UserID:          userID,
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Now().Add(m.ttl),
	}
	if err := m.store.PutSession(ctx, sess, m.ttl); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.rings[id] = newIDRing(m.idCapacity)
	m.mu.Unlock()

	log.Debug().
		Str("session_id", id).
		Str("protocol_version", negotiated).
		Str("client_requested_version", clientVersion).
		Msg("created mcp session")

	return sess, nil
}

// Get retrieves a session by ID, returning mcpstorage.ErrNotFound if it
// doesn't exist or has expired.
func (m *Manager) Get(ctx context.Context, id string) (*mcpstorage.Session, error) {
	return m.store.GetSession(ctx, id)
}

// Delete removes a session and its in-process request-ID ring.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.rings, id)
	m.mu.Unlock()
	return m.store.DeleteSession(ctx, id)
}

// ObserveRequestID records a JSON-RPC request ID as seen on sessionID. It
// returns ErrDuplicateID if the same ID (compared as its raw JSON text) has
// already been observed on this session since the ring last evicted it.
func (m *Manager) ObserveRequestID(sessionID, rawID string) error {
	m.mu.Lock()
	ring, ok := m.rings[sessionID]
	if !ok {
		ring = newIDRing(m.idCapacity)
		m.rings[sessionID] = ring
	}
	m.mu.Unlock()

	if !ring.add(rawID) {
		return ErrDuplicateID
	}
	return nil
}

// StartCleanup launches the background expiry sweep on the given interval,
// following the teacher's cleanupExpired ticker goroutine. It returns at
// once; the sweep goroutine stops when ctx is cancelled.
func (m *Manager) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := m.store.CleanupExpiredSessions(ctx)
				if err != nil {
					log.Warn().Err(err).Msg("session cleanup sweep failed")
					continue
				}
				if n > 0 {
					m.gcRings()
					log.Info().Int("count", n).Msg("cleaned up expired mcp sessions")
				}
			}
		}
	}()
}

// gcRings drops in-process rings for sessions no longer present in the
// store, bounding ring-map growth to roughly the live session count.
func (m *Manager) gcRings() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.rings {
		if _, err := m.store.GetSession(context.Background(), id); err != nil {
			delete(m.rings, id)
		}
	}
}

// idRing is a bounded FIFO set: add reports false if s was already present,
// evicting the oldest entry once at capacity.
type idRing struct {
	capacity int
	order    []string
	seen     map[string]struct{}
}

func newIDRing(capacity int) *idRing {
	if capacity <= 0 {
		capacity = DefaultIDSetCapacity
	}
	return &idRing{capacity: capacity, seen: make(map[string]struct{})}
}

func (r *idRing) add(id string) bool {
	if _, exists := r.seen[id]; exists {
		return false
	}
	if len(r.order) >= r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.seen, oldest)
	}
	r.order = append(r.order, id)
	r.seen[id] = struct{}{}
	return true
}
