// Package mcpstorage defines the abstract persistence contract (§4.A) the
// engine, session manager, transport, and OAuth authorization server depend
// on. Concrete implementations live in subpackages: memstore (in-memory,
// dev/test), pgstore (pgx-backed durable storage), and redisqueue (a
// redis-backed alternative for the message-queue slice of the contract).
package mcpstorage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by single-record lookups when the record is absent,
// expired, revoked, or otherwise excluded by the contract's visibility rules
// (e.g. an inactive tenant).
var ErrNotFound = errors.New("mcpstorage: not found")

// Message is a queued FIFO entry for a session: a JSON-RPC response or a
// server-originated request.
type Message struct {
	ID        string
	SessionID string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// ContextType distinguishes the two kinds of context rows the engine joins
// against: the tenant ("agency") and the authenticated user.
type ContextType string

const (
	ContextAgency ContextType = "agency"
	ContextUser   ContextType = "user"
)

// TenantContext is an immutable-to-the-engine row describing a tenant or
// user context (§3 "Tenant Context").
type TenantContext struct {
	ID     int64
	UUID   string
	Name   string
	Active bool
	Type   ContextType
}

// Client is a registered OAuth client (§3 "OAuth Client").
type Client struct {
	ClientID      string
	ClientSecret  string // empty for public clients
	Name          string
	RedirectURIs  []string
	GrantTypes    []string // subset of {authorization_code, refresh_token}
	ResponseTypes []string // subset of {code}
	AuthMethod    string   // "none" | "client_secret_post" | "client_secret_basic"
}

// AuthCode is a one-time authorization-code artifact (§3 "Authorization Code").
type AuthCode struct {
	Code                string
	ClientID            string
	TenantID            int64
	UserID              int64
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string // "S256" only
	Resource            string
	RedirectURI         string
	ExpiresAt           time.Time
	Revoked             bool
}

// AccessToken is an issued bearer token pair (§3 "Access Token").
type AccessToken struct {
	Token        string
	RefreshToken string
	ClientID     string
	TenantID     int64
	UserID       int64
	Scope        string
	Resource     string   // single canonical resource URL
	Aud          []string // audience set, always contains Resource
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Revoked      bool
}

// Session is a version-tagged MCP session (§3 "Session").
type Session struct {
	ID              string
	ProtocolVersion string
	TenantID        int64
	UserID          int64
	CreatedAt       time.Time
	ExpiresAt       time.Time
	SeenRequestIDs  []string // not filled by mcpsession, which keeps its seen-ID rings in process
}

// User is an end-user identity record (§4.A "Users").
type User struct {
	ID           int64
	Email        string
	PasswordHash string
}

// TokenLookup narrows Tokens.Validate to the expected tenant context, per the
// §4.A contract ("joined to the tenant row by uuid").
type TokenLookup struct {
	ContextType ContextType
	UUID        string
}

// MessageStore is the FIFO per-session queue slice of the contract.
type MessageStore interface {
	Enqueue(ctx context.Context, sessionID string, payload json.RawMessage) (*Message, error)
	List(ctx context.Context, sessionID string) ([]*Message, error)
	Delete(ctx context.Context, messageID string) error
}

// TokenStore is the bearer-token slice of the contract.
type TokenStore interface {
	StoreAccessToken(ctx context.Context, t *AccessToken) error
	ValidateToken(ctx context.Context, accessToken string, lookup *TokenLookup) (*AccessToken, error)
	GetByRefreshToken(ctx context.Context, refreshToken, clientID string) (*AccessToken, error)
	RevokeToken(ctx context.Context, tokenOrRefresh string) error
}

// AuthCodeStore is the one-time authorization-code slice of the contract.
type AuthCodeStore interface {
	StoreAuthCode(ctx context.Context, c *AuthCode) error
	GetAuthCode(ctx context.Context, code, clientID string) (*AuthCode, error)
	RevokeAuthCode(ctx context.Context, code string) error
}

// ClientStore is the OAuth client registry slice of the contract.
type ClientStore interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
	StoreClient(ctx context.Context, c *Client) error
}

// ContextStore resolves tenant/user contexts by UUID.
type ContextStore interface {
	GetContext(ctx context.Context, uuid string, typ ContextType) (*TenantContext, error)
}

// UserStore is the end-user identity slice of the contract.
type UserStore interface {
	VerifyPassword(ctx context.Context, email, password string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByProviderID(ctx context.Context, provider, providerID string) (*User, error)
	LinkProviderID(ctx context.Context, userID int64, provider, providerID string) error
}

// SessionStore is the session lifecycle slice of the contract.
type SessionStore interface {
	PutSession(ctx context.Context, s *Session, ttl time.Duration) error
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	CleanupExpiredSessions(ctx context.Context) (int, error)
}

// OOBKind distinguishes the three out-of-band response tables (§3).
type OOBKind string

const (
	OOBSampling    OOBKind = "sampling"
	OOBRoots       OOBKind = "roots"
	OOBElicitation OOBKind = "elicitation"
)

// OOBResponse is a client→server reply to a server-originated request.
type OOBResponse struct {
	SessionID string
	RequestID string
	Kind      OOBKind
	Data      json.RawMessage
	CreatedAt time.Time
}

// OOBStore is the append-only out-of-band response slice of the contract.
type OOBStore interface {
	StoreOOB(ctx context.Context, kind OOBKind, sessionID, requestID string, data json.RawMessage) error
	GetOOB(ctx context.Context, kind OOBKind, sessionID, requestID string) (*OOBResponse, error)
	ListOOB(ctx context.Context, kind OOBKind, sessionID string) ([]*OOBResponse, error)
}

// Store is the complete abstract persistence contract (§4.A). The engine,
// session manager, transport, and OAuth authorization server each depend
// only on the slice(s) of Store relevant to them.
type Store interface {
	MessageStore
	TokenStore
	AuthCodeStore
	ClientStore
	ContextStore
	UserStore
	SessionStore
	OOBStore
}
