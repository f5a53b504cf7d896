// Package session keeps the list of bearer tokens revoked before they
// expire.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevokedToken is what is stored for each revoked token id.
type RevokedToken struct {
	Actor     string    `json:"actor"`
	RevokedAt time.Time `json:"revoked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RedisRevocations stores revoked token ids until the token would have
// expired anyway.
type RedisRevocations struct {
	client *redis.Client
	prefix string
}

// NewRedisRevocations connects to redisURL and checks the connection.
func NewRedisRevocations(redisURL string) (*RedisRevocations, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisRevocationsWithClient(client), nil
}

func NewRedisRevocationsWithClient(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{
		client: client,
		prefix: "shipflow:revoked:",
	}
}

func (s *RedisRevocations) key(jti string) string {
	return s.prefix + jti
}

// Revoke marks jti as revoked. A token that has already expired needs no
// entry and is skipped.
func (s *RedisRevocations) Revoke(ctx context.Context, jti, actor string, expiresAt time.Time) error {
	if jti == "" {
		return errors.New("revoke token: missing token id")
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	value, err := json.Marshal(RevokedToken{Actor: actor, RevokedAt: time.Now().UTC(), ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("marshal revoked token: %w", err)
	}
	if err := s.client.Set(ctx, s.key(jti), value, ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (s *RedisRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup revoked token: %w", err)
	}
	return n > 0, nil
}

func (s *RedisRevocations) Close() error {
	return s.client.Close()
}

func (s *RedisRevocations) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MemoryRevocations is the in-process list used when Redis is not
// configured. Entries are dropped lazily once they expire.
type MemoryRevocations struct {
	mu      sync.Mutex
	now     func() time.Time
	revoked map[string]RevokedToken
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{now: time.Now, revoked: make(map[string]RevokedToken)}
}

func (m *MemoryRevocations) Revoke(_ context.Context, jti, actor string, expiresAt time.Time) error {
	if jti == "" {
		return errors.New("revoke token: missing token id")
	}
	now := m.now()
	if !expiresAt.After(now) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = RevokedToken{Actor: actor, RevokedAt: now.UTC(), ExpiresAt: expiresAt}
	return nil
}

func (m *MemoryRevocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.revoked[jti]
	if !ok {
		return false, nil
	}
	if !entry.ExpiresAt.After(m.now()) {
		delete(m.revoked, jti)
		return false, nil
	}
	return true, nil
}
