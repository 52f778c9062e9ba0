package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	redisclient "github.com/angelmondragon/todolimpio-backend/pkg/redis"
)

// StorageVersion is the layout version written with every persisted cart.
const StorageVersion = 1

// StorageKey is the per-identity blob name.
func StorageKey(identityID string) string {
	return "cart-storage:" + identityID
}

// ErrNotFound is returned by Storage.Load for a missing blob.
var ErrNotFound = errors.New("cart blob not found")

// Storage persists named blobs.
type Storage interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, blob []byte) error
	Delete(ctx context.Context, name string) error
}

type persisted struct {
	State struct {
		Items []Line `json:"items"`
	} `json:"state"`
	Version int `json:"version"`
}

func encode(c Cart) ([]byte, error) {
	var p persisted
	p.State.Items = c.Items()
	p.Version = StorageVersion
	return json.Marshal(p)
}

func decode(blob []byte) (Cart, error) {
	var p persisted
	if err := json.Unmarshal(blob, &p); err != nil {
		return Cart{}, fmt.Errorf("decoding cart: %w", err)
	}
	// version 0 is the unversioned layout and reads the same
	if p.Version > StorageVersion {
		return Cart{}, fmt.Errorf("unsupported cart version %d", p.Version)
	}
	return New(p.State.Items), nil
}

// MemoryStorage keeps blobs in process.
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[string][]byte)}
}

func (m *MemoryStorage) Load(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

func (m *MemoryStorage) Save(_ context.Context, name string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = append([]byte(nil), blob...)
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, name)
	return nil
}

type redisStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	CartKey(name string) string
}

// RedisStorage keeps blobs in Redis. A zero ttl keeps carts until cleared.
type RedisStorage struct {
	client redisStore
	ttl    time.Duration
}

func NewRedisStorage(client redisStore, ttl time.Duration) (*RedisStorage, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl < 0 {
		return nil, errors.New("cart ttl must be non-negative")
	}
	return &RedisStorage{client: client, ttl: ttl}, nil
}

func (r *RedisStorage) Load(ctx context.Context, name string) ([]byte, error) {
	raw, err := r.client.Get(ctx, r.client.CartKey(name))
	if err != nil {
		if errors.Is(err, redisclient.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return []byte(raw), nil
}

func (r *RedisStorage) Save(ctx context.Context, name string, blob []byte) error {
	return r.client.Set(ctx, r.client.CartKey(name), string(blob), r.ttl)
}

func (r *RedisStorage) Delete(ctx context.Context, name string) error {
	return r.client.Del(ctx, r.client.CartKey(name))
}
