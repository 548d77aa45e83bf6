package tickets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultGrantTimeout is how long a started grant waits for the admin's mentions.
const DefaultGrantTimeout = 5 * time.Minute

// PendingGrant is a grant an admin started and has not yet completed with mentions.
type PendingGrant struct {
	AdminID   int64     `json:"admin_id"`
	ChatID    int64     `json:"chat_id"`
	Lottery   string    `json:"lottery"`
	StartedAt time.Time `json:"started_at"`
}

// PendingStore keeps at most one pending grant per admin and chat. Entries expire
// silently after their ttl.
type PendingStore interface {
	Put(ctx context.Context, p PendingGrant, ttl time.Duration) error
	// Take removes and returns the pending grant, if any.
	Take(ctx context.Context, adminID, chatID int64) (*PendingGrant, error)
}

// MemoryPendingStore is a process-local PendingStore.
type MemoryPendingStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	grant   PendingGrant
	expires time.Time
}

func NewMemoryPendingStore(now func() time.Time) *MemoryPendingStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryPendingStore{now: now, entries: make(map[string]memoryEntry)}
}

func (s *MemoryPendingStore) Put(_ context.Context, p PendingGrant, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
	s.entries[pendingKey(p.AdminID, p.ChatID)] = memoryEntry{grant: p, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryPendingStore) Take(_ context.Context, adminID, chatID int64) (*PendingGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pendingKey(adminID, chatID)
	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	delete(s.entries, key)
	if !s.now().Before(e.expires) {
		return nil, nil
	}
	g := e.grant
	return &g, nil
}

// RedisPendingStore shares pending grants between bot replicas.
type RedisPendingStore struct {
	client redis.UniversalClient
}

func NewRedisPendingStore(client redis.UniversalClient) *RedisPendingStore {
	return &RedisPendingStore{client: client}
}

func (s *RedisPendingStore) Put(ctx context.Context, p PendingGrant, ttl time.Duration) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, "sweepstake:"+pendingKey(p.AdminID, p.ChatID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("tickets: store pending grant: %w", err)
	}
	return nil
}

func (s *RedisPendingStore) Take(ctx context.Context, adminID, chatID int64) (*PendingGrant, error) {
	raw, err := s.client.GetDel(ctx, "sweepstake:"+pendingKey(adminID, chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tickets: load pending grant: %w", err)
	}
	var p PendingGrant
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("tickets: decode pending grant: %w", err)
	}
	return &p, nil
}

func pendingKey(adminID, chatID int64) string {
	return fmt.Sprintf("pending_grant:%d:%d", chatID, adminID)
}
