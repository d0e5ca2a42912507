package service

import (
	"context"
	"time"

	"chatroom/backend/pkg/cache"
)

// SessionStore tracks issued sessions so they can be revoked before their
// token expires.
type SessionStore interface {
	Save(ctx context.Context, sessionID, userID string, ttl time.Duration) error
	Exists(ctx context.Context, sessionID string) (bool, error)
	Revoke(ctx context.Context, sessionID string) error
	RevokeUser(ctx context.Context, userID string) error
}

// MemorySessionStore keeps sessions in process memory. Used when Redis is
// not configured; sessions do not survive a restart.
type MemorySessionStore struct {
	cache *cache.Cache
}

func NewMemorySessionStore(cleanupInterval time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		cache: cache.New(cache.Options{CleanupInterval: cleanupInterval}),
	}
}

func (m *MemorySessionStore) Save(_ context.Context, sessionID, userID string, ttl time.Duration) error {
	m.cache.SetWithExpiration(sessionID, userID, ttl)
	return nil
}

func (m *MemorySessionStore) Exists(_ context.Context, sessionID string) (bool, error) {
	_, ok := m.cache.Get(sessionID)
	return ok, nil
}

func (m *MemorySessionStore) Revoke(_ context.Context, sessionID string) error {
	m.cache.Delete(sessionID)
	return nil
}

func (m *MemorySessionStore) RevokeUser(_ context.Context, userID string) error {
	m.cache.DeleteFunc(func(_ string, v interface{}) bool {
		return v == userID
	})
	return nil
}

// Close stops the expiry janitor.
func (m *MemorySessionStore) Close() {
	m.cache.Close()
}
