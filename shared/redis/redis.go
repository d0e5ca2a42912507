package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix     = "chatroom:session:"
	userSessionPrefix = "chatroom:user-sessions:"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// SessionStore keeps issued auth sessions in Redis so they can be revoked
// before their token expires.
type SessionStore struct {
	client *redis.Client
}

func NewSessionStore(opts Options) *SessionStore {
	addr := opts.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &SessionStore{client: client}
}

// Ping checks connectivity.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Save records sessionID as live for userID until ttl elapses.
func (s *SessionStore) Save(ctx context.Context, sessionID, userID string, ttl time.Duration) error {
	userKey := userSessionPrefix + userID
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionPrefix+sessionID, userID, ttl)
	pipe.SAdd(ctx, userKey, sessionID)
	pipe.Expire(ctx, userKey, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Exists reports whether the session is still live.
func (s *SessionStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	_, err := s.client.Get(ctx, sessionPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Revoke drops a single session.
func (s *SessionStore) Revoke(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, sessionPrefix+sessionID).Err()
}

// RevokeUser drops every session issued to userID.
func (s *SessionStore) RevokeUser(ctx context.Context, userID string) error {
	userKey := userSessionPrefix + userID
	ids, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionPrefix+id)
	}
	keys = append(keys, userKey)
	return s.client.Del(ctx, keys...).Err()
}

// Close releases the connection pool.
func (s *SessionStore) Close() error {
	return s.client.Close()
}
