package history

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"voicerelay/core"
)

// RedisStore keeps each session as a redis list of JSON encoded turns under
// "<prefix>:session:<userKey>".
type RedisStore struct {
	client   *redis.Client
	ttl      time.Duration
	prefix   string
	maxTurns int
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL expires idle sessions. 0 keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix. Default is "voicerelay"; empty keeps the default.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithMaxTurns caps each session to its most recent turns.
func WithMaxTurns(n int) RedisOption {
	return func(s *RedisStore) {
		s.maxTurns = windowSize(n)
	}
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		prefix: "voicerelay",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisStore) sessionKey(userKey int64) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, formatKey(userKey))
}

func (s *RedisStore) Get(ctx context.Context, userKey int64) ([]core.Turn, error) {
	raw, err := s.client.LRange(ctx, s.sessionKey(userKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history: redis lrange failed: %w", err)
	}

	turns := make([]core.Turn, 0, len(raw))
	for _, item := range raw {
		var turn core.Turn
		if err := sonic.UnmarshalString(item, &turn); err != nil {
			return nil, fmt.Errorf("history: failed to unmarshal turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Append pushes both turns in one MULTI/EXEC so a session never holds half an
// exchange.
func (s *RedisStore) Append(ctx context.Context, userKey int64, userTurn, assistantTurn core.Turn) error {
	if err := validateExchange(userTurn, assistantTurn); err != nil {
		return err
	}

	userData, err := sonic.MarshalString(userTurn)
	if err != nil {
		return fmt.Errorf("history: failed to marshal turn: %w", err)
	}
	assistantData, err := sonic.MarshalString(assistantTurn)
	if err != nil {
		return fmt.Errorf("history: failed to marshal turn: %w", err)
	}

	key := s.sessionKey(userKey)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, userData, assistantData)
		if s.maxTurns > 0 {
			pipe.LTrim(ctx, key, int64(-s.maxTurns), -1)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("history: redis transaction failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, userKey int64) error {
	if err := s.client.Del(ctx, s.sessionKey(userKey)).Err(); err != nil {
		return fmt.Errorf("history: redis del failed: %w", err)
	}
	return nil
}

// Ping checks connectivity; used at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
