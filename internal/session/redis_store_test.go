package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"refery/api/internal/store"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestNewRedisStore(t *testing.T) {
	s, _ := setupTestRedis(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "://nope"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := s.SaveRefreshSession(ctx, "hash-1", "usr_123", time.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	user, err := s.LookupRefreshSession(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupRefreshSession failed: %v", err)
	}
	if user.ID != "usr_123" {
		t.Errorf("expected usr_123, got %s", user.ID)
	}
}

func TestLookupExpiredSession(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()

	if err := s.SaveRefreshSession(ctx, "expiring", "usr_456", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}
	mr.FastForward(2 * time.Second)

	_, err := s.LookupRefreshSession(ctx, "expiring")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeRefreshSession(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	for _, hash := range []string{"token-1", "token-2"} {
		if err := s.SaveRefreshSession(ctx, hash, "usr_1", expiresAt); err != nil {
			t.Fatalf("SaveRefreshSession %s failed: %v", hash, err)
		}
	}
	revoked, err := s.RevokeRefreshSession(ctx, "token-1")
	if err != nil {
		t.Fatalf("RevokeRefreshSession failed: %v", err)
	}
	if !revoked {
		t.Error("first revoke of token-1 should report true")
	}
	if revoked, err := s.RevokeRefreshSession(ctx, "token-1"); err != nil || revoked {
		t.Errorf("second revoke of token-1 = %v, %v; want false, nil", revoked, err)
	}
	if _, err := s.LookupRefreshSession(ctx, "token-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected revoked token-1 to be gone, got %v", err)
	}
	if _, err := s.LookupRefreshSession(ctx, "token-2"); err != nil {
		t.Errorf("token-2 should survive: %v", err)
	}
	if revoked, err := s.RevokeRefreshSession(ctx, "never-existed"); err != nil || revoked {
		t.Errorf("revoking unknown token = %v, %v; want false, nil", revoked, err)
	}
}

func TestRevokeRefreshSessionSingleWinner(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()
	if err := s.SaveRefreshSession(ctx, "contested", "usr_1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveRefreshSession failed: %v", err)
	}

	const callers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			revoked, err := s.RevokeRefreshSession(ctx, "contested")
			if err != nil {
				t.Errorf("RevokeRefreshSession failed: %v", err)
				return
			}
			if revoked {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one caller to revoke the token, got %d", wins)
	}
}

func TestRevokeUserSessions(t *testing.T) {
	s, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	_ = s.SaveRefreshSession(ctx, "a", "usr_1", expiresAt)
	_ = s.SaveRefreshSession(ctx, "b", "usr_1", expiresAt)
	_ = s.SaveRefreshSession(ctx, "c", "usr_2", expiresAt)

	if err := s.RevokeUserSessions(ctx, "usr_1"); err != nil {
		t.Fatalf("RevokeUserSessions failed: %v", err)
	}
	for _, hash := range []string{"a", "b"} {
		if _, err := s.LookupRefreshSession(ctx, hash); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected %s revoked, got %v", hash, err)
		}
	}
	if _, err := s.LookupRefreshSession(ctx, "c"); err != nil {
		t.Errorf("other user's session should survive: %v", err)
	}
}

func TestAccessTokenDenylist(t *testing.T) {
	s, mr := setupTestRedis(t)
	ctx := context.Background()

	if err := s.RevokeAccessToken(ctx, "jti-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("RevokeAccessToken failed: %v", err)
	}
	revoked, err := s.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected jti-1 revoked, got %v %v", revoked, err)
	}

	mr.FastForward(2 * time.Minute)
	revoked, err = s.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("expected denylist entry to expire, got %v %v", revoked, err)
	}

	if err := s.RevokeAccessToken(ctx, "jti-old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("expired token revoke should be a no-op: %v", err)
	}
	if revoked, _ := s.IsAccessTokenRevoked(ctx, "jti-old"); revoked {
		t.Error("already expired token should not be stored")
	}
}
