// Package memstore is an in-memory implementation of mcpstorage.Store,
// intended for development and tests. It follows the teacher's
// mutex+map SessionManager pattern (internal/mcpserver/server/session.go):
// one map per record kind, all guarded by a single RWMutex, no background
// persistence.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Store is a mutex-guarded in-memory mcpstorage.Store.
type Store struct {
	mu sync.RWMutex

	messages map[string]*mcpstorage.Message   // by ID
	tokens   map[string]*mcpstorage.AccessToken // by Token
	refresh  map[string]string                  // refresh token -> access token
	codes    map[string]*mcpstorage.AuthCode    // by Code
	clients  map[string]*mcpstorage.Client      // by ClientID
	contexts map[string]*mcpstorage.TenantContext // by UUID+Type key
	users    map[int64]*mcpstorage.User
	usersByEmail map[string]int64
	providerLinks map[string]int64 // "provider:providerID" -> userID
	nextUserID int64
	sessions map[string]*sessionEntry
	oob      map[string][]*mcpstorage.OOBResponse // key: kind+sessionID
}

type sessionEntry struct {
	session   *mcpstorage.Session
	expiresAt time.Time
}

// New returns an empty in-memory Store.
func New() *Store {
	return &Store{
		messages:      make(map[string]*mcpstorage.Message),
		tokens:        make(map[string]*mcpstorage.AccessToken),
		refresh:       make(map[string]string),
		codes:         make(map[string]*mcpstorage.AuthCode),
		clients:       make(map[string]*mcpstorage.Client),
		contexts:      make(map[string]*mcpstorage.TenantContext),
		users:         make(map[int64]*mcpstorage.User),
		usersByEmail:  make(map[string]int64),
		providerLinks: make(map[string]int64),
		sessions:      make(map[string]*sessionEntry),
		oob:           make(map[string][]*mcpstorage.OOBResponse),
	}
}

// SeedContext registers a tenant/user context directly, bypassing the normal
// write path. Used by tests and by a dev bootstrap that doesn't run
// migrations.
func (s *Store) SeedContext(c *mcpstorage.TenantContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[contextKey(c.UUID, c.Type)] = c
}

// SeedClient registers an OAuth client directly.
func (s *Store) SeedClient(c *mcpstorage.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ClientID] = c
}

func contextKey(uuid string, typ mcpstorage.ContextType) string {
	return string(typ) + ":" + uuid
}

// --- MessageStore ---

func (s *Store) Enqueue(_ context.Context, sessionID string, payload json.RawMessage) (*mcpstorage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &mcpstorage.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: time.Now(),
	}
	s.messages[m.ID] = m
	return m, nil
}

func (s *Store) List(_ context.Context, sessionID string) ([]*mcpstorage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*mcpstorage.Message, 0)
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) Delete(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, messageID)
	return nil
}

// --- TokenStore ---

func (s *Store) StoreAccessToken(_ context.Context, t *mcpstorage.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tokens[t.Token] = &cp
	if t.RefreshToken != "" {
		s.refresh[t.RefreshToken] = t.Token
	}
	return nil
}

func (s *Store) ValidateToken(_ context.Context, accessToken string, lookup *mcpstorage.TokenLookup) (*mcpstorage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[accessToken]
	if !ok || t.Revoked || time.Now().After(t.ExpiresAt) {
		return nil, mcpstorage.ErrNotFound
	}
	if lookup != nil {
		ctx, ok := s.contexts[contextKey(lookup.UUID, lookup.ContextType)]
		if !ok || !ctx.Active || ctx.ID != t.TenantID {
			return nil, mcpstorage.ErrNotFound
		}
	}
	cp := *t
	return &cp, nil
}

func (s *Store) GetByRefreshToken(_ context.Context, refreshToken, clientID string) (*mcpstorage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	access, ok := s.refresh[refreshToken]
	if !ok {
		return nil, mcpstorage.ErrNotFound
	}
	t, ok := s.tokens[access]
	if !ok || t.Revoked || t.ClientID != clientID {
		return nil, mcpstorage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) RevokeToken(_ context.Context, tokenOrRefresh string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[tokenOrRefresh]; ok {
		t.Revoked = true
		return nil
	}
	if access, ok := s.refresh[tokenOrRefresh]; ok {
		if t, ok := s.tokens[access]; ok {
			t.Revoked = true
		}
	}
	return nil
}

// --- AuthCodeStore ---

func (s *Store) StoreAuthCode(_ context.Context, c *mcpstorage.AuthCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.codes[c.Code] = &cp
	return nil
}

func (s *Store) GetAuthCode(_ context.Context, code, clientID string) (*mcpstorage.AuthCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codes[code]
	if !ok || c.Revoked || c.ClientID != clientID || time.Now().After(c.ExpiresAt) {
		return nil, mcpstorage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) RevokeAuthCode(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.codes[code]; ok {
		c.Revoked = true
	}
	return nil
}

// --- ClientStore ---

func (s *Store) GetClient(_ context.Context, clientID string) (*mcpstorage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, mcpstorage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) StoreClient(_ context.Context, c *mcpstorage.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.clients[c.ClientID] = &cp
	return nil
}

// --- ContextStore ---

func (s *Store) GetContext(_ context.Context, uuidStr string, typ mcpstorage.ContextType) (*mcpstorage.TenantContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[contextKey(uuidStr, typ)]
	if !ok {
		return nil, mcpstorage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// --- UserStore ---

func (s *Store) VerifyPassword(_ context.Context, email, password string) (*mcpstorage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByEmail[email]
	if !ok {
		return nil, mcpstorage.ErrNotFound
	}
	u := s.users[id]
	if !verifyPasswordHash(u.PasswordHash, password) {
		return nil, mcpstorage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) FindByEmail(_ context.Context, email string) (*mcpstorage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByEmail[email]
	if !ok {
		return nil, mcpstorage.ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Store) FindByProviderID(_ context.Context, provider, providerID string) (*mcpstorage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.providerLinks[provider+":"+providerID]
	if !ok {
		return nil, mcpstorage.ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Store) LinkProviderID(_ context.Context, userID int64, provider, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return mcpstorage.ErrNotFound
	}
	s.providerLinks[provider+":"+providerID] = userID
	return nil
}

// CreateUser is a memstore-only helper (not part of mcpstorage.Store) used by
// tests and dev seeding to add a user without going through an OAuth flow.
func (s *Store) CreateUser(email, passwordHash string) *mcpstorage.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextUserID++
	u := &mcpstorage.User{ID: s.nextUserID, Email: email, PasswordHash: passwordHash}
	s.users[u.ID] = u
	s.usersByEmail[email] = u.ID
	return u
}

// --- SessionStore ---

func (s *Store) PutSession(_ context.Context, sess *mcpstorage.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &sessionEntry{session: &cp, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*mcpstorage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, mcpstorage.ErrNotFound
	}
	cp := *e.session
	return &cp, nil
}

func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *Store) CleanupExpiredSessions(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	n := 0
	for id, e := range s.sessions {
		if now.After(e.expiresAt) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- OOBStore ---

func oobKey(kind mcpstorage.OOBKind, sessionID string) string {
	return string(kind) + ":" + sessionID
}

func (s *Store) StoreOOB(_ context.Context, kind mcpstorage.OOBKind, sessionID, requestID string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := oobKey(kind, sessionID)
	s.oob[key] = append(s.oob[key], &mcpstorage.OOBResponse{
		SessionID: sessionID,
		RequestID: requestID,
		Kind:      kind,
		Data:      append([]byte(nil), data...),
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *Store) GetOOB(_ context.Context, kind mcpstorage.OOBKind, sessionID, requestID string) (*mcpstorage.OOBResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.oob[oobKey(kind, sessionID)] {
		if r.RequestID == requestID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, mcpstorage.ErrNotFound
}

func (s *Store) ListOOB(_ context.Context, kind mcpstorage.OOBKind, sessionID string) ([]*mcpstorage.OOBResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.oob[oobKey(kind, sessionID)]
	out := make([]*mcpstorage.OOBResponse, len(src))
	for i, r := range src {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

func verifyPasswordHash(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashPassword bcrypt-hashes a plaintext password for CreateUser callers.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

var _ mcpstorage.Store = (*Store)(nil)
