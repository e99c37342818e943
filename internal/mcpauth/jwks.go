// Package mcpauth implements the resource-server middleware (§4.H): tenant
// and bearer-token extraction, RFC 8707 resource-indicator enforcement, and
// the static method→scope table.
//
// JWKSValidator generalizes the teacher's Auth0-specific JWTValidator
// (internal/mcpserver/server/jwt.go) to an arbitrary OIDC-style issuer, and
// replaces its ad hoc "< 1 minute" double-check with golang.org/x/time/rate
// to bound JWKS refetch frequency under a thundering herd of unknown kids.
package mcpauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Claims is the JWT claim set this server expects from the AS: standard
// registered claims plus the OAuth "scope" claim.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// Scopes splits the space-delimited scope claim.
func (c *Claims) Scopes() []string {
	if c.Scope == "" {
		return nil
	}
	out := []string{}
	start := 0
	for i := 0; i <= len(c.Scope); i++ {
		if i == len(c.Scope) || c.Scope[i] == ' ' {
			if i > start {
				out = append(out, c.Scope[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// JWKSValidator validates RS256 bearer tokens issued by an external
// authorization server against its published JWKS.
type JWKSValidator struct {
	mu         sync.RWMutex
	jwksURL    string
	issuer     string
	audience   string
	publicKeys map[string]*rsa.PublicKey
	lastFetch  time.Time
	httpClient *http.Client
	limiter    *rate.Limiter
	ready      bool

	stopRetry    chan struct{}
	retryDone    chan struct{}
	retryRunning bool
}

// NewJWKSValidator creates a validator for tokens issued by issuer, whose
// JWKS is published at jwksURL, expected to carry audience.
func NewJWKSValidator(issuer, jwksURL, audience string) *JWKSValidator {
	return &JWKSValidator{
		jwksURL:    jwksURL,
		issuer:     issuer,
		audience:   audience,
		publicKeys: make(map[string]*rsa.PublicKey),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Minute), 1),
	}
}

// ValidateToken validates tokenString and returns its claims.
func (v *JWKSValidator) ValidateToken(tokenString string) (*Claims, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("missing kid in token header")
	}

	publicKey, err := v.getPublicKey(kid)
	if err != nil {
		return nil, err
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.Issuer != v.issuer {
		return nil, fmt.Errorf("invalid issuer: %s", claims.Issuer)
	}

	audiences, err := claims.GetAudience()
	if err != nil {
		return nil, fmt.Errorf("invalid audience format: %w", err)
	}
	valid := false
	for _, aud := range audiences {
		if aud == v.audience {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("invalid audience: expected %s, got %v", v.audience, audiences)
	}

	return &claims, nil
}

func (v *JWKSValidator) getPublicKey(kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, exists := v.publicKeys[kid]
	lastFetch := v.lastFetch
	v.mu.RUnlock()

	if exists && time.Since(lastFetch) < time.Hour {
		return key, nil
	}

	if !v.limiter.Allow() {
		// Another caller refetched very recently; serve what's cached rather
		// than piling refetches onto a flapping JWKS endpoint.
		v.mu.RLock()
		defer v.mu.RUnlock()
		if key, exists := v.publicKeys[kid]; exists {
			return key, nil
		}
		return nil, fmt.Errorf("key ID %s not cached and JWKS refetch is rate-limited", kid)
	}

	return v.fetchPublicKey(kid)
}

type jwksDoc struct {
	Keys []struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		Use string `json:"use"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (v *JWKSValidator) fetchPublicKey(kid string) (*rsa.PublicKey, error) {
	log.Debug().Str("jwks_url", v.jwksURL).Msg("fetching JWKS")

	resp, err := v.httpClient.Get(v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS request failed with status %d", resp.StatusCode)
	}

	var doc jwksDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode JWKS: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, key := range doc.Keys {
		if key.Kty != "RSA" || key.Use != "sig" {
			continue
		}
		pub, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			log.Warn().Err(err).Str("kid", key.Kid).Msg("failed to parse RSA public key")
			continue
		}
		v.publicKeys[key.Kid] = pub
	}
	v.lastFetch = time.Now()
	v.ready = true

	if key, exists := v.publicKeys[kid]; exists {
		return key, nil
	}
	return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
}

// Ready reports whether JWKS has been fetched at least once.
func (v *JWKSValidator) Ready() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ready
}

// WarmUp eagerly fetches JWKS once, bypassing the refetch rate limiter
// (intended for a single startup call).
func (v *JWKSValidator) WarmUp(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch JWKS during warmup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS warmup failed with status %d", resp.StatusCode)
	}

	var doc jwksDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode JWKS during warmup: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, key := range doc.Keys {
		if key.Kty != "RSA" || key.Use != "sig" {
			continue
		}
		pub, err := parseRSAPublicKey(key.N, key.E)
		if err != nil {
			continue
		}
		v.publicKeys[key.Kid] = pub
	}
	v.lastFetch = time.Now()
	v.ready = true
	log.Info().Int("key_count", len(v.publicKeys)).Msg("JWKS validator warmed up")
	return nil
}

// StartBackgroundRetry retries WarmUp with exponential backoff (5s..60s)
// until it succeeds or ctx is cancelled. Idempotent: a second call while one
// is already running is a no-op.
func (v *JWKSValidator) StartBackgroundRetry(ctx context.Context) {
	v.mu.Lock()
	if v.retryRunning {
		v.mu.Unlock()
		return
	}
	v.stopRetry = make(chan struct{})
	v.retryDone = make(chan struct{})
	v.retryRunning = true
	v.mu.Unlock()

	go func() {
		defer func() {
			v.mu.Lock()
			v.retryRunning = false
			v.mu.Unlock()
			close(v.retryDone)
		}()

		interval := 5 * time.Second
		const maxInterval = 60 * time.Second
		for {
			if v.Ready() {
				return
			}
			if err := v.WarmUp(ctx); err == nil {
				return
			} else {
				log.Warn().Err(err).Dur("retry_in", interval).Msg("JWKS background retry failed")
			}

			select {
			case <-ctx.Done():
				return
			case <-v.stopRetry:
				return
			case <-time.After(interval):
				interval *= 2
				if interval > maxInterval {
					interval = maxInterval
				}
			}
		}
	}()
}

// StopBackgroundRetry signals the retry goroutine to exit and waits for it.
func (v *JWKSValidator) StopBackgroundRetry() {
	v.mu.RLock()
	running := v.retryRunning
	v.mu.RUnlock()
	if !running {
		return
	}
	close(v.stopRetry)
	<-v.retryDone
}

func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}
	n := new(big.Int).SetBytes(nBytes)
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}
