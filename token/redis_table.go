package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisTable. Redis is required; the rest have
// sensible defaults matching a single-router, no-expiry deployment.
type RedisOptions struct {
	// Redis is the connection used to back the token table. Required.
	Redis *redis.Client
	// KeyPrefix namespaces every key this table writes, so a shared Redis
	// instance can host the token table alongside unrelated data.
	KeyPrefix string
	// TTL expires a registered token after the given duration; zero means
	// tokens never expire on their own (Revoke is the only way to remove
	// one).
	TTL time.Duration
}

// RedisTable is a Table backed by Redis, for a token table shared across
// multiple Token Router processes. Construct with NewRedisTable.
type RedisTable struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisTable wraps an already-connected Redis client. Callers own the
// client's lifecycle (creation and Close); RedisTable never closes it.
func NewRedisTable(opts RedisOptions) (*RedisTable, error) {
	if opts.Redis == nil {
		return nil, fmt.Errorf("token: RedisOptions.Redis is required")
	}
	return &RedisTable{client: opts.Redis, prefix: opts.KeyPrefix, ttl: opts.TTL}, nil
}

type redisRecord struct {
	Kind    Kind   `json:"kind"`
	AgentID string `json:"agent_id,omitempty"`
}

func (t *RedisTable) key(bearer string) string {
	return t.prefix + bearer
}

// Lookup fetches and decodes the token registered for bearer. A Redis miss
// is surfaced as ErrUnknownToken, matching MemTable's contract so Router
// code never needs to special-case the backend.
func (t *RedisTable) Lookup(ctx context.Context, bearer string) (Token, error) {
	raw, err := t.client.Get(ctx, t.key(bearer)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, ErrUnknownToken
	}
	if err != nil {
		return Token{}, fmt.Errorf("token: redis lookup: %w", err)
	}

	var rec redisRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Token{}, fmt.Errorf("token: decoding stored token: %w", err)
	}
	switch rec.Kind {
	case KindHuman:
		return Human(), nil
	case KindAgent:
		return Agent(rec.AgentID), nil
	default:
		return Token{}, fmt.Errorf("token: stored token has unknown kind %q", rec.Kind)
	}
}

// Put validates tok and stores it under bearer, applying the configured
// TTL if any.
func (t *RedisTable) Put(ctx context.Context, bearer string, tok Token) error {
	if err := tok.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(redisRecord{Kind: tok.Kind(), AgentID: tok.AgentID()})
	if err != nil {
		return fmt.Errorf("token: encoding token: %w", err)
	}
	if err := t.client.Set(ctx, t.key(bearer), raw, t.ttl).Err(); err != nil {
		return fmt.Errorf("token: redis put: %w", err)
	}
	return nil
}

// Revoke deletes bearer's entry. Revoking an unknown bearer is a no-op.
func (t *RedisTable) Revoke(ctx context.Context, bearer string) error {
	if err := t.client.Del(ctx, t.key(bearer)).Err(); err != nil {
		return fmt.Errorf("token: redis revoke: %w", err)
	}
	return nil
}
