package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/todolimpio-backend/pkg/auth"
	"github.com/angelmondragon/todolimpio-backend/pkg/config"
	redisclient "github.com/angelmondragon/todolimpio-backend/pkg/redis"
)

const refreshTokenBytes = 32

var (
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrSessionNotFound     = errors.New("session not found")
)

type sessionStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

type sessionKeyer interface {
	AccessSessionKey(accessID string) string
}

// record is the value stored under an access session key.
type record struct {
	RefreshToken string        `json:"refresh_token"`
	Identity     auth.Identity `json:"identity"`
}

// Manager persists sessions keyed by the access token jti. A session holds
// the refresh token and the identity it was issued for, so the identity
// survives restarts and disappears on sign-out.
type Manager struct {
	store sessionStore
	keyer sessionKeyer
	ttl   time.Duration
}

// IdentityLookup exposes the read-only surface needed by middleware.
type IdentityLookup interface {
	Lookup(ctx context.Context, accessID string) (*auth.Identity, error)
}

// NewManager constructs a session manager backed by Redis.
func NewManager(client *redisclient.Client, cfg config.JWTConfig) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	ttl := cfg.RefreshTokenTTL()
	if ttl <= 0 {
		return nil, fmt.Errorf("refresh token ttl must be positive")
	}
	if accessTTL := cfg.AccessTokenTTL(); ttl <= accessTTL {
		return nil, fmt.Errorf("refresh token ttl (%s) must exceed access token ttl (%s)", ttl, accessTTL)
	}

	return &Manager{store: client, keyer: client, ttl: ttl}, nil
}

// Generate opens a session for accessID and returns its refresh token.
func (m *Manager) Generate(ctx context.Context, accessID string, identity auth.Identity) (string, error) {
	if strings.TrimSpace(accessID) == "" {
		return "", fmt.Errorf("access id is required")
	}
	if identity.ID == "" {
		return "", fmt.Errorf("identity id is required")
	}
	token, err := generateRefreshToken()
	if err != nil {
		return "", err
	}
	if err := m.put(ctx, accessID, record{RefreshToken: token, Identity: identity}); err != nil {
		return "", err
	}
	return token, nil
}

// Lookup returns the identity bound to accessID, or ErrSessionNotFound.
func (m *Manager) Lookup(ctx context.Context, accessID string) (*auth.Identity, error) {
	rec, err := m.get(ctx, accessID)
	if err != nil {
		return nil, err
	}
	identity := rec.Identity
	return &identity, nil
}

// Rotate validates the provided refresh token, invalidates the prior session
// and opens a new one for the same identity.
func (m *Manager) Rotate(ctx context.Context, oldAccessID, provided string) (string, string, *auth.Identity, error) {
	if strings.TrimSpace(oldAccessID) == "" || strings.TrimSpace(provided) == "" {
		return "", "", nil, ErrInvalidRefreshToken
	}

	rec, err := m.get(ctx, oldAccessID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return "", "", nil, ErrInvalidRefreshToken
		}
		return "", "", nil, err
	}
	if subtle.ConstantTimeCompare([]byte(rec.RefreshToken), []byte(provided)) != 1 {
		return "", "", nil, ErrInvalidRefreshToken
	}

	newAccessID := NewAccessID()
	newToken, err := generateRefreshToken()
	if err != nil {
		return "", "", nil, err
	}
	if err := m.put(ctx, newAccessID, record{RefreshToken: newToken, Identity: rec.Identity}); err != nil {
		return "", "", nil, err
	}
	if err := m.store.Del(ctx, m.keyer.AccessSessionKey(oldAccessID)); err != nil {
		return "", "", nil, err
	}

	identity := rec.Identity
	return newAccessID, newToken, &identity, nil
}

// Revoke deletes the session tied to the access identifier.
func (m *Manager) Revoke(ctx context.Context, accessID string) error {
	if strings.TrimSpace(accessID) == "" {
		return fmt.Errorf("access id is required")
	}
	return m.store.Del(ctx, m.keyer.AccessSessionKey(accessID))
}

func (m *Manager) put(ctx context.Context, accessID string, rec record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	return m.store.Set(ctx, m.keyer.AccessSessionKey(accessID), string(payload), m.ttl)
}

func (m *Manager) get(ctx context.Context, accessID string) (record, error) {
	if strings.TrimSpace(accessID) == "" {
		return record{}, ErrSessionNotFound
	}
	raw, err := m.store.Get(ctx, m.keyer.AccessSessionKey(accessID))
	if err != nil {
		if errors.Is(err, redislib.Nil) {
			return record{}, ErrSessionNotFound
		}
		return record{}, err
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return record{}, fmt.Errorf("decoding session: %w", err)
	}
	return rec, nil
}

// NewAccessID produces a stable identifier used as the JWT jti/Redis key.
func NewAccessID() string {
	return uuid.NewString()
}

func generateRefreshToken() (string, error) {
	bytes := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
