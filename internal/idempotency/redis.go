package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyIdemBid is idem:bid:{scope}:{client key} -> cached response
	KeyIdemBid = "idem:bid:%s:%s"

	pendingMarker = "pending"
)

// NewRedisClient connects to addr and checks the server answers
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

// RedisStore shares reservations across instances. A reservation is a SETNX
// of a pending marker; completion overwrites it with the response.
type RedisStore struct {
	rdb   redis.UniversalClient
	ttl   time.Duration
	scope string
}

func NewRedisStore(rdb redis.UniversalClient, scope string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl, scope: scope}
}

func (s *RedisStore) key(k string) string {
	return fmt.Sprintf(KeyIdemBid, s.scope, k)
}

func (s *RedisStore) Reserve(ctx context.Context, key string) (Response, bool, error) {
	k := s.key(key)
	claimed, err := s.rdb.SetNX(ctx, k, pendingMarker, pendingTTL).Result()
	if err != nil {
		return Response{}, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if claimed {
		return Response{}, false, nil
	}

	raw, err := s.rdb.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; the caller may retry
		return Response{}, false, ErrInProgress
	}
	if err != nil {
		return Response{}, false, fmt.Errorf("read idempotency key: %w", err)
	}
	if string(raw) == pendingMarker {
		return Response{}, false, ErrInProgress
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, false, fmt.Errorf("decode cached response: %w", err)
	}
	return resp, true, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, resp Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store idempotent response: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	k := s.key(key)
	val, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read idempotency key: %w", err)
	}
	if val != pendingMarker {
		return nil
	}
	if err := s.rdb.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
