package oauthserver

import (
	"net/http"
	"sync"
	"time"
)

// uiSessionCookie names the browser cookie that links a login page visit to
// an authenticated user across the /authorize -> /verify -> /consent hops.
// It is independent of mcpsession's MCP session IDs: this is OAuth UI state
// only, never handed to an MCP client.
const uiSessionCookie = "tb_oauth_ui"

const uiSessionTTL = 10 * time.Minute

// uiSession is an authenticated browser's login state, pending consent.
type uiSession struct {
	userID    int64
	email     string
	expiresAt time.Time
}

// uiSessionStore is a mutex+map registry of in-flight login sessions, grounded
// on the teacher's internal/mcpserver/server/session.go SessionManager shape
// (mutex-guarded map, TTL, periodic GC) but scoped to the OAuth UI hand-off
// rather than MCP protocol sessions.
type uiSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*uiSession
}

func newUISessionStore() *uiSessionStore {
	return &uiSessionStore{sessions: make(map[string]*uiSession)}
}

func (s *uiSessionStore) create(userID int64, email string) (string, error) {
	id, err := generateToken(16)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &uiSession{userID: userID, email: email, expiresAt: time.Now().Add(uiSessionTTL)}
	return id, nil
}

func (s *uiSessionStore) get(id string) (*uiSession, bool) {
	if id == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(sess.expiresAt) {
		delete(s.sessions, id)
		return nil, false
	}
	return sess, true
}

func (s *uiSessionStore) gc() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	n := 0
	for id, sess := range s.sessions {
		if now.After(sess.expiresAt) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func (s *uiSessionStore) fromRequest(r *http.Request) (*uiSession, bool) {
	c, err := r.Cookie(uiSessionCookie)
	if err != nil {
		return nil, false
	}
	return s.get(c.Value)
}

func setUISessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     uiSessionCookie,
		Value:    id,
		Path:     "/oauth",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(uiSessionTTL.Seconds()),
	})
}
