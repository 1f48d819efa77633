package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stratochat/stratochat/internal/limits"
)

const limitsTTL = time.Minute

// Store caches resolved role limits so the hot append path does not hit
// the roles table on every message. Entries are short-lived and
// invalidated on role mutation.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(addr, password string, db int) *Store {
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

func NewWithClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, ttl: limitsTTL}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error { return s.rdb.Close() }

func limitsKey(roleID string) string { return "limits:role:" + roleID }

func (s *Store) GetLimits(ctx context.Context, roleID string) (*limits.Limits, error) {
	raw, err := s.rdb.Get(ctx, limitsKey(roleID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var l limits.Limits
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) SetLimits(ctx context.Context, roleID string, l limits.Limits) error {
	raw, err := json.Marshal(l)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, limitsKey(roleID), raw, s.ttl).Err()
}

// InvalidateLimits drops the cached entry after a role update or delete
// so stale ceilings live at most one TTL.
func (s *Store) InvalidateLimits(ctx context.Context, roleID string) error {
	return s.rdb.Del(ctx, limitsKey(roleID)).Err()
}
