// Package idempotency guards mutating billing operations against duplicate
// in-flight submission. The processor's own idempotency keys remain the
// deduplication authority; this store only catches rapid client retries
// before they reach the network.
package idempotency

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/helixconsole/billing/internal/cache"
)

var ErrDuplicateOperation = errors.New("duplicate_operation")

const guardTTL = 30 * time.Second

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Store reserves op tokens for a short window.
type Store interface {
	// Derive returns opID unchanged when supplied, else a fresh token.
	Derive(opID string) string

	// Guard reserves the token. A second reservation inside the TTL fails
	// with ErrDuplicateOperation. The returned release drops the
	// reservation early after a definite failure so the caller can retry.
	Guard(ctx context.Context, orgID snowflake.ID, op, opID string) (release func(), err error)
}

type redisStore struct {
	client *redis.Client
	script *redis.Script
}

// NewRedisStore builds a redis-backed store. Returns nil for a nil client.
func NewRedisStore(client *redis.Client) Store {
	if client == nil {
		return nil
	}
	return &redisStore{
		client: client,
		script: redis.NewScript(releaseScript),
	}
}

func (s *redisStore) Derive(opID string) string { return derive(opID) }

func (s *redisStore) Guard(ctx context.Context, orgID snowflake.ID, op, opID string) (func(), error) {
	key := guardKey(orgID, op, opID)
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, key, token, guardTTL).Result()
	if err != nil {
		// Redis being down must not block billing operations.
		return func() {}, nil
	}
	if !ok {
		return nil, ErrDuplicateOperation
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.script.Run(ctx, s.client, []string{key}, token).Err()
	}
	return release, nil
}

type localStore struct {
	guards cache.Cache[string, string]
}

// NewLocalStore builds the in-process fallback used when redis is absent.
func NewLocalStore() Store {
	return &localStore{guards: cache.NewTTLCache[string, string]()}
}

func (s *localStore) Derive(opID string) string { return derive(opID) }

func (s *localStore) Guard(ctx context.Context, orgID snowflake.ID, op, opID string) (func(), error) {
	key := guardKey(orgID, op, opID)
	if _, held := s.guards.Get(key); held {
		return nil, ErrDuplicateOperation
	}
	s.guards.Set(key, key, guardTTL)
	return func() { s.guards.Delete(key) }, nil
}

func derive(opID string) string {
	if opID != "" {
		return opID
	}
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

func guardKey(orgID snowflake.ID, op, opID string) string {
	return fmt.Sprintf("op:%s:%s:%s", orgID, op, opID)
}
