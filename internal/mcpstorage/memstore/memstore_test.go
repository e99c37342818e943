package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/erauner12/toolbridge-mcp/internal/mcpstorage"
)

func TestEnqueueListDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	m, err := s.Enqueue(ctx, "sess-1", []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	list, err := s.List(ctx, "sess-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != m.ID {
		t.Fatalf("List = %+v, want single message %s", list, m.ID)
	}

	if err := s.Delete(ctx, m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	list, err = s.List(ctx, "sess-1")
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("List after delete = %+v, want empty", list)
	}
}

func TestListOrdersByCreatedAt(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := s.Enqueue(ctx, "sess-1", []byte(`{}`)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	list, err := s.List(ctx, "sess-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.Before(list[i-1].CreatedAt) {
			t.Fatalf("List not ordered by CreatedAt: %+v", list)
		}
	}
}

func TestTokenLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SeedContext(&mcpstorage.TenantContext{ID: 1, UUID: "agency-uuid", Active: true, Type: mcpstorage.ContextAgency})

	tok := &mcpstorage.AccessToken{
		Token:        "access-1",
		RefreshToken: "refresh-1",
		ClientID:     "client-1",
		TenantID:     1,
		Resource:     "https://mcp.example.com/agency-uuid",
		Aud:          []string{"https://mcp.example.com/agency-uuid"},
		IssuedAt:     time.Now(),
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	if err := s.StoreAccessToken(ctx, tok); err != nil {
		t.Fatalf("StoreAccessToken: %v", err)
	}

	got, err := s.ValidateToken(ctx, "access-1", &mcpstorage.TokenLookup{ContextType: mcpstorage.ContextAgency, UUID: "agency-uuid"})
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if got.ClientID != "client-1" {
		t.Fatalf("ValidateToken.ClientID = %q, want client-1", got.ClientID)
	}

	if _, err := s.ValidateToken(ctx, "access-1", &mcpstorage.TokenLookup{ContextType: mcpstorage.ContextAgency, UUID: "other-uuid"}); err != mcpstorage.ErrNotFound {
		t.Fatalf("ValidateToken with mismatched tenant = %v, want ErrNotFound", err)
	}

	refreshed, err := s.GetByRefreshToken(ctx, "refresh-1", "client-1")
	if err != nil {
		t.Fatalf("GetByRefreshToken: %v", err)
	}
	if refreshed.Token != "access-1" {
		t.Fatalf("GetByRefreshToken.Token = %q, want access-1", refreshed.Token)
	}

	if err := s.RevokeToken(ctx, "access-1"); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if _, err := s.ValidateToken(ctx, "access-1", nil); err != mcpstorage.ErrNotFound {
		t.Fatalf("ValidateToken after revoke = %v, want ErrNotFound", err)
	}
}

func TestAuthCodeIsOneTime(t *testing.T) {
	s := New()
	ctx := context.Background()
	code := &mcpstorage.AuthCode{
		Code:                "code-1",
		ClientID:            "client-1",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S256",
		ExpiresAt:           time.Now().Add(time.Minute),
	}
	if err := s.StoreAuthCode(ctx, code); err != nil {
		t.Fatalf("StoreAuthCode: %v", err)
	}
	if _, err := s.GetAuthCode(ctx, "code-1", "client-1"); err != nil {
		t.Fatalf("GetAuthCode: %v", err)
	}
	if err := s.RevokeAuthCode(ctx, "code-1"); err != nil {
		t.Fatalf("RevokeAuthCode: %v", err)
	}
	if _, err := s.GetAuthCode(ctx, "code-1", "client-1"); err != mcpstorage.ErrNotFound {
		t.Fatalf("GetAuthCode after revoke = %v, want ErrNotFound", err)
	}
}

func TestAuthCodeExpiry(t *testing.T) {
	s := New()
	ctx := context.Background()
	code := &mcpstorage.AuthCode{Code: "expired", ClientID: "c1", ExpiresAt: time.Now().Add(-time.Second)}
	if err := s.StoreAuthCode(ctx, code); err != nil {
		t.Fatalf("StoreAuthCode: %v", err)
	}
	if _, err := s.GetAuthCode(ctx, "expired", "c1"); err != mcpstorage.ErrNotFound {
		t.Fatalf("GetAuthCode on expired code = %v, want ErrNotFound", err)
	}
}

func TestUserPasswordVerification(t *testing.T) {
	s := New()
	ctx := context.Background()
	hash, err := HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	s.CreateUser("user@example.com", hash)

	if _, err := s.VerifyPassword(ctx, "user@example.com", "correct-horse"); err != nil {
		t.Fatalf("VerifyPassword with correct password: %v", err)
	}
	if _, err := s.VerifyPassword(ctx, "user@example.com", "wrong"); err != mcpstorage.ErrNotFound {
		t.Fatalf("VerifyPassword with wrong password = %v, want ErrNotFound", err)
	}
}

func TestProviderLinking(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := s.CreateUser("linked@example.com", "unused")

	if err := s.LinkProviderID(ctx, u.ID, "github", "gh-123"); err != nil {
		t.Fatalf("LinkProviderID: %v", err)
	}
	got, err := s.FindByProviderID(ctx, "github", "gh-123")
	if err != nil {
		t.Fatalf("FindByProviderID: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("FindByProviderID.ID = %d, want %d", got.ID, u.ID)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess := &mcpstorage.Session{ID: "2025-06-18_abc", ProtocolVersion: "2025-06-18"}

	if err := s.PutSession(ctx, sess, 10*time.Millisecond); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	if _, err := s.GetSession(ctx, sess.ID); err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := s.GetSession(ctx, sess.ID); err != mcpstorage.ErrNotFound {
		t.Fatalf("GetSession after TTL = %v, want ErrNotFound", err)
	}

	n, err := s.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Fatalf("CleanupExpiredSessions = %d, want 1", n)
	}
}

func TestOOBResponses(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.StoreOOB(ctx, mcpstorage.OOBSampling, "sess-1", "req-1", []byte(`{"content":"ok"}`)); err != nil {
		t.Fatalf("StoreOOB: %v", err)
	}
	got, err := s.GetOOB(ctx, mcpstorage.OOBSampling, "sess-1", "req-1")
	if err != nil {
		t.Fatalf("GetOOB: %v", err)
	}
	if got.RequestID != "req-1" {
		t.Fatalf("GetOOB.RequestID = %q, want req-1", got.RequestID)
	}
	list, err := s.ListOOB(ctx, mcpstorage.OOBSampling, "sess-1")
	if err != nil {
		t.Fatalf("ListOOB: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("ListOOB = %+v, want 1 entry", list)
	}
	if _, err := s.GetOOB(ctx, mcpstorage.OOBRoots, "sess-1", "req-1"); err != mcpstorage.ErrNotFound {
		t.Fatalf("GetOOB with wrong kind = %v, want ErrNotFound", err)
	}
}
