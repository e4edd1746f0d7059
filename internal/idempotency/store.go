// Package idempotency caches bid responses by client-supplied key so retried
// requests replay the first answer instead of bidding twice.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	DefaultTTL = 24 * time.Hour
	// pendingTTL bounds how long a crashed request can block its key
	pendingTTL = 30 * time.Second
)

var (
	// ErrInProgress is returned when another request holds the key
	ErrInProgress = errors.New("request with this idempotency key is in progress")
	// ErrKeyReused is returned when a key is replayed with a different request
	ErrKeyReused = errors.New("idempotency key was used for a different request")
)

// Response is a cached HTTP answer. Fingerprint identifies the request that
// produced it.
type Response struct {
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	Fingerprint string `json:"fingerprint"`
}

// Store reserves keys and remembers the response produced under them
type Store interface {
	// Reserve claims key. When a response was already stored it is returned
	// with ok=true. A key claimed but not completed yields ErrInProgress.
	Reserve(ctx context.Context, key string) (resp Response, ok bool, err error)
	Complete(ctx context.Context, key string, resp Response) error
	// Release drops an unfinished reservation so the request can be retried
	Release(ctx context.Context, key string) error
}

type memoryEntry struct {
	done      bool
	resp      Response
	expiresAt time.Time
}

// MemoryStore is a process-local Store
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Reserve(_ context.Context, key string) (Response, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		if !e.done {
			return Response{}, false, ErrInProgress
		}
		return e.resp, true, nil
	}
	s.entries[key] = memoryEntry{expiresAt: now.Add(pendingTTL)}
	s.evictExpired(now)
	return Response{}, false, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{done: true, resp: resp, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && !e.done {
		delete(s.entries, key)
	}
	return nil
}

// evictExpired must be called with s.mu held
func (s *MemoryStore) evictExpired(now time.Time) {
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}
