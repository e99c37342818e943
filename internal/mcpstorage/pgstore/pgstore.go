// Package pgstore is a pgx-backed durable implementation of
// mcpstorage.Store, grounded on the teacher's internal/db/pg.go pool
// construction and rs/zerolog logging conventions.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// Store is a PostgreSQL-backed mcpstorage.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates the connection pool and verifies connectivity, following the
// teacher's internal/db/pg.go tuning: 20 max conns, 2 min conns, 1h max
// lifetime, 30m max idle, 1m health check.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("postgres connection pool created")

	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func wrapNotFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return mcpstorage.ErrNotFound
	}
	return err
}

// --- MessageStore ---

func (s *Store) Enqueue(ctx context.Context, sessionID string, payload json.RawMessage) (*mcpstorage.Message, error) {
	const q = `INSERT INTO mcp_messages (id, session_id, payload, created_at)
	           VALUES (gen_random_uuid(), $1, $2, now())
	           RETURNING id, session_id, payload, created_at`
	m := &mcpstorage.Message{}
	row := s.pool.QueryRow(ctx, q, sessionID, payload)
	if err := row.Scan(&m.ID, &m.SessionID, &m.Payload, &m.CreatedAt); err != nil {
		return nil, wrapNotFound(err)
	}
	return m, nil
}

func (s *Store) List(ctx context.Context, sessionID string) ([]*mcpstorage.Message, error) {
	const q = `SELECT id, session_id, payload, created_at FROM mcp_messages
	           WHERE session_id = $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*mcpstorage.Message
	for rows.Next() {
		m := &mcpstorage.Message{}
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Payload, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, messageID string) error {
	const q = `DELETE FROM mcp_messages WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, messageID)
	return err
}

// --- TokenStore ---

func (s *Store) StoreAccessToken(ctx context.Context, t *mcpstorage.AccessToken) error {
	const q = `INSERT INTO oauth_access_tokens
	           (token, refresh_token, client_id, tenant_id, user_id, scope, resource, aud, issued_at, expires_at, revoked)
	           VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,false)`
	_, err := s.pool.Exec(ctx, q, t.Token, t.RefreshToken, t.ClientID, t.TenantID, t.UserID,
		t.Scope, t.Resource, t.Aud, t.IssuedAt, t.ExpiresAt)
	return err
}

func (s *Store) ValidateToken(ctx context.Context, accessToken string, lookup *mcpstorage.TokenLookup) (*mcpstorage.AccessToken, error) {
	const q = `SELECT t.token, t.refresh_token, t.client_id, t.tenant_id, t.user_id, t.scope,
	                  t.resource, t.aud, t.issued_at, t.expires_at, t.revoked
	           FROM oauth_access_tokens t
	           JOIN contexts c ON c.id = t.tenant_id
	           WHERE t.token = $1 AND t.revoked = false AND t.expires_at > now()
	             AND ($2 = '' OR (c.uuid = $2 AND c.type = $3 AND c.active = true))`
	contextUUID, contextType := "", ""
	if lookup != nil {
		contextUUID, contextType = lookup.UUID, string(lookup.ContextType)
	}
	t := &mcpstorage.AccessToken{}
	row := s.pool.QueryRow(ctx, q, accessToken, contextUUID, contextType)
	if err := row.Scan(&t.Token, &t.RefreshToken, &t.ClientID, &t.TenantID, &t.UserID, &t.Scope,
		&t.Resource, &t.Aud, &t.IssuedAt, &t.ExpiresAt, &t.Revoked); err != nil {
		return nil, wrapNotFound(err)
	}
	return t, nil
}

func (s *Store) GetByRefreshToken(ctx context.Context, refreshToken, clientID string) (*mcpstorage.AccessToken, error) {
	const q = `SELECT token, refresh_token, client_id, tenant_id, user_id, scope, resource, aud, issued_at, expires_at, revoked
	           FROM oauth_access_tokens WHERE refresh_token = $1 AND client_id = $2 AND revoked = false`
	t := &mcpstorage.AccessToken{}
	row := s.pool.QueryRow(ctx, q, refreshToken, clientID)
	if err := row.Scan(&t.Token, &t.RefreshToken, &t.ClientID, &t.TenantID, &t.UserID, &t.Scope,
		&t.Resource, &t.Aud, &t.IssuedAt, &t.ExpiresAt, &t.Revoked); err != nil {
		return nil, wrapNotFound(err)
	}
	return t, nil
}

func (s *Store) RevokeToken(ctx context.Context, tokenOrRefresh string) error {
	const q = `UPDATE oauth_access_tokens SET revoked = true WHERE token = $1 OR refresh_token = $1`
	_, err := s.pool.Exec(ctx, q, tokenOrRefresh)
	return err
}

// --- AuthCodeStore ---

func (s *Store) StoreAuthCode(ctx context.Context, c *mcpstorage.AuthCode) error {
	const q = `INSERT INTO oauth_auth_codes
	           (code, client_id, tenant_id, user_id, scope, code_challenge, code_challenge_method,
	            resource, redirect_uri, expires_at, revoked)
	           VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,false)`
	_, err := s.pool.Exec(ctx, q, c.Code, c.ClientID, c.TenantID, c.UserID, c.Scope,
		c.CodeChallenge, c.CodeChallengeMethod, c.Resource, c.RedirectURI, c.ExpiresAt)
	return err
}

func (s *Store) GetAuthCode(ctx context.Context, code, clientID string) (*mcpstorage.AuthCode, error) {
	const q = `SELECT code, client_id, tenant_id, user_id, scope, code_challenge, code_challenge_method,
	                  resource, redirect_uri, expires_at, revoked
	           FROM oauth_auth_codes
	           WHERE code = $1 AND client_id = $2 AND revoked = false AND expires_at > now()`
	c := &mcpstorage.AuthCode{}
	row := s.pool.QueryRow(ctx, q, code, clientID)
	if err := row.Scan(&c.Code, &c.ClientID, &c.TenantID, &c.UserID, &c.Scope, &c.CodeChallenge,
		&c.CodeChallengeMethod, &c.Resource, &c.RedirectURI, &c.ExpiresAt, &c.Revoked); err != nil {
		return nil, wrapNotFound(err)
	}
	return c, nil
}

func (s *Store) RevokeAuthCode(ctx context.Context, code string) error {
	const q = `UPDATE oauth_auth_codes SET revoked = true WHERE code = $1`
	_, err := s.pool.Exec(ctx, q, code)
	return err
}

// --- ClientStore ---

func (s *Store) GetClient(ctx context.Context, clientID string) (*mcpstorage.Client, error) {
	const q = `SELECT client_id, client_secret, name, redirect_uris, grant_types, response_types, auth_method
	           FROM oauth_clients WHERE client_id = $1`
	c := &mcpstorage.Client{}
	row := s.pool.QueryRow(ctx, q, clientID)
	if err := row.Scan(&c.ClientID, &c.ClientSecret, &c.Name, &c.RedirectURIs, &c.GrantTypes,
		&c.ResponseTypes, &c.AuthMethod); err != nil {
		return nil, wrapNotFound(err)
	}
	return c, nil
}

func (s *Store) StoreClient(ctx context.Context, c *mcpstorage.Client) error {
	const q = `INSERT INTO oauth_clients (client_id, client_secret, name, redirect_uris, grant_types, response_types, auth_method)
	           VALUES ($1,$2,$3,$4,$5,$6,$7)
	           ON CONFLICT (client_id) DO UPDATE SET
	             client_secret = EXCLUDED.client_secret, name = EXCLUDED.name,
	             redirect_uris = EXCLUDED.redirect_uris, grant_types = EXCLUDED.grant_types,
	             response_types = EXCLUDED.response_types, auth_method = EXCLUDED.auth_method`
	_, err := s.pool.Exec(ctx, q, c.ClientID, c.ClientSecret, c.Name, c.RedirectURIs,
		c.GrantTypes, c.ResponseTypes, c.AuthMethod)
	return err
}

// --- ContextStore ---

func (s *Store) GetContext(ctx context.Context, uuid string, typ mcpstorage.ContextType) (*mcpstorage.TenantContext, error) {
	const q = `SELECT id, uuid, name, active, type FROM contexts WHERE uuid = $1 AND type = $2`
	c := &mcpstorage.TenantContext{}
	row := s.pool.QueryRow(ctx, q, uuid, string(typ))
	if err := row.Scan(&c.ID, &c.UUID, &c.Name, &c.Active, &c.Type); err != nil {
		return nil, wrapNotFound(err)
	}
	return c, nil
}

// --- UserStore ---

func (s *Store) VerifyPassword(ctx context.Context, email, password string) (*mcpstorage.User, error) {
	u, err := s.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, mcpstorage.ErrNotFound
	}
	return u, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*mcpstorage.User, error) {
	const q = `SELECT id, email, password_hash FROM users WHERE email = $1`
	u := &mcpstorage.User{}
	row := s.pool.QueryRow(ctx, q, email)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash); err != nil {
		return nil, wrapNotFound(err)
	}
	return u, nil
}

func (s *Store) FindByProviderID(ctx context.Context, provider, providerID string) (*mcpstorage.User, error) {
	const q = `SELECT u.id, u.email, u.password_hash FROM users u
	           JOIN user_provider_links l ON l.user_id = u.id
	           WHERE l.provider = $1 AND l.provider_id = $2`
	u := &mcpstorage.User{}
	row := s.pool.QueryRow(ctx, q, provider, providerID)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash); err != nil {
		return nil, wrapNotFound(err)
	}
	return u, nil
}

func (s *Store) LinkProviderID(ctx context.Context, userID int64, provider, providerID string) error {
	const q = `INSERT INTO user_provider_links (user_id, provider, provider_id)
	           VALUES ($1,$2,$3) ON CONFLICT (provider, provider_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, q, userID, provider, providerID)
	return err
}

// --- SessionStore ---

func (s *Store) PutSession(ctx context.Context, sess *mcpstorage.Session, ttl time.Duration) error {
	const q = `INSERT INTO mcp_sessions (id, protocol_version, tenant_id, user_id, created_at, expires_at)
	           VALUES ($1,$2,$3,$4,now(),now() + $5::interval)
	           ON CONFLICT (id) DO UPDATE SET expires_at = EXCLUDED.expires_at`
	_, err := s.pool.Exec(ctx, q, sess.ID, sess.ProtocolVersion, sess.TenantID, sess.UserID, ttl)
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (*mcpstorage.Session, error) {
	const q = `SELECT id, protocol_version, tenant_id, user_id, created_at, expires_at
	           FROM mcp_sessions WHERE id = $1 AND expires_at > now()`
	sess := &mcpstorage.Session{}
	row := s.pool.QueryRow(ctx, q, id)
	if err := row.Scan(&sess.ID, &sess.ProtocolVersion, &sess.TenantID, &sess.UserID,
		&sess.CreatedAt, &sess.ExpiresAt); err != nil {
		return nil, wrapNotFound(err)
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	const q = `DELETE FROM mcp_sessions WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id)
	return err
}

func (s *Store) CleanupExpiredSessions(ctx context.Context) (int, error) {
	const q = `DELETE FROM mcp_sessions WHERE expires_at <= now()`
	tag, err := s.pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- OOBStore ---

func (s *Store) StoreOOB(ctx context.Context, kind mcpstorage.OOBKind, sessionID, requestID string, data json.RawMessage) error {
	const q = `INSERT INTO mcp_oob_responses (kind, session_id, request_id, data, created_at)
	           VALUES ($1,$2,$3,$4,now())`
	_, err := s.pool.Exec(ctx, q, string(kind), sessionID, requestID, data)
	return err
}

func (s *Store) GetOOB(ctx context.Context, kind mcpstorage.OOBKind, sessionID, requestID string) (*mcpstorage.OOBResponse, error) {
	const q = `SELECT session_id, request_id, kind, data, created_at FROM mcp_oob_responses
	           WHERE kind = $1 AND session_id = $2 AND request_id = $3`
	r := &mcpstorage.OOBResponse{}
	var kindStr string
	row := s.pool.QueryRow(ctx, q, string(kind), sessionID, requestID)
	if err := row.Scan(&r.SessionID, &r.RequestID, &kindStr, &r.Data, &r.CreatedAt); err != nil {
		return nil, wrapNotFound(err)
	}
	r.Kind = mcpstorage.OOBKind(kindStr)
	return r, nil
}

func (s *Store) ListOOB(ctx context.Context, kind mcpstorage.OOBKind, sessionID string) ([]*mcpstorage.OOBResponse, error) {
	const q = `SELECT session_id, request_id, kind, data, created_at FROM mcp_oob_responses
	           WHERE kind = $1 AND session_id = $2 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, q, string(kind), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*mcpstorage.OOBResponse
	for rows.Next() {
		r := &mcpstorage.OOBResponse{}
		var kindStr string
		if err := rows.Scan(&r.SessionID, &r.RequestID, &kindStr, &r.Data, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Kind = mcpstorage.OOBKind(kindStr)
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ mcpstorage.Store = (*Store)(nil)
