package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/todolimpio-backend/pkg/auth"
	"github.com/angelmondragon/todolimpio-backend/pkg/config"
	"github.com/angelmondragon/todolimpio-backend/pkg/enums"
)

type mockStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]string)}
}

func (m *mockStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *mockStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	if !ok {
		return "", redislib.Nil
	}
	return val, nil
}

func (m *mockStore) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.data, key)
	}
	return nil
}

func (m *mockStore) AccessSessionKey(accessID string) string {
	return fmt.Sprintf("sess:%s", accessID)
}

func newTestManager() (*Manager, *mockStore) {
	store := newMockStore()
	return &Manager{store: store, keyer: store, ttl: time.Hour}, store
}

var testIdentity = auth.Identity{ID: "u-1", DisplayName: "Ana", LocationID: "L1", Role: enums.RoleUser}

func TestManagerGenerateAndLookup(t *testing.T) {
	manager, store := newTestManager()
	ctx := context.Background()

	token, err := manager.Generate(ctx, "access-123", testIdentity)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var rec record
	if err := json.Unmarshal([]byte(store.data["sess:access-123"]), &rec); err != nil {
		t.Fatalf("decode stored session: %v", err)
	}
	if rec.RefreshToken != token {
		t.Fatalf("expected stored token %q, got %q", token, rec.RefreshToken)
	}

	identity, err := manager.Lookup(ctx, "access-123")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if *identity != testIdentity {
		t.Fatalf("unexpected identity %+v", identity)
	}

	if _, err := manager.Lookup(ctx, "unknown"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestManagerRotate(t *testing.T) {
	manager, store := newTestManager()
	ctx := context.Background()

	token, err := manager.Generate(ctx, "access-123", testIdentity)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, _, _, err := manager.Rotate(ctx, "access-123", "wrong"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected invalid refresh token error, got %v", err)
	}

	newAccessID, newToken, identity, err := manager.Rotate(ctx, "access-123", token)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, exists := store.data["sess:access-123"]; exists {
		t.Fatalf("old access key left behind")
	}
	if newToken == token || newAccessID == "access-123" {
		t.Fatalf("expected fresh credentials")
	}
	if identity.ID != testIdentity.ID {
		t.Fatalf("rotation must keep the identity, got %+v", identity)
	}
	if _, _, _, err := manager.Rotate(ctx, "access-123", token); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected old session to be unusable, got %v", err)
	}
}

func TestManagerRevoke(t *testing.T) {
	manager, _ := newTestManager()
	ctx := context.Background()

	if _, err := manager.Generate(ctx, "access-1", testIdentity); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := manager.Revoke(ctx, "access-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := manager.Lookup(ctx, "access-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected revoked session to be gone, got %v", err)
	}
	if err := manager.Revoke(ctx, " "); err == nil {
		t.Fatalf("expected error for blank access id")
	}
}

func TestManagerGenerateRequiresIdentity(t *testing.T) {
	manager, _ := newTestManager()
	if _, err := manager.Generate(context.Background(), "access-1", auth.Identity{}); err == nil {
		t.Fatalf("expected identity id requirement")
	}
}

func TestNewManagerValidatesTTL(t *testing.T) {
	if _, err := NewManager(nil, config.JWTConfig{}); err == nil {
		t.Fatalf("expected redis client requirement")
	}
}
