package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces session keys.
const DefaultRedisPrefix = "agentbot:session:"

// redisKV is the subset of *redis.Client the store needs.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type redisStore struct {
	client redisKV
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore keeps JSON-encoded sessions in Redis. A positive ttl lets
// abandoned forms expire; zero keeps them until removed.
func NewRedisStore(client redisKV, prefix string, ttl time.Duration) Store {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &redisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *redisStore) key(userID int64) string {
	return r.prefix + strconv.FormatInt(userID, 10)
}

func (r *redisStore) Get(ctx context.Context, userID int64) (*Session, bool, error) {
	raw, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: redis get: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, false, fmt.Errorf("state: decode session %d: %w", userID, err)
	}
	return &sess, true, nil
}

func (r *redisStore) Put(ctx context.Context, sess *Session) error {
	if sess == nil {
		return ErrNilSession
	}
	cp := sess.Clone()
	cp.UpdatedAt = r.now().UTC()
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("state: encode session %d: %w", cp.UserID, err)
	}
	if err := r.client.Set(ctx, r.key(cp.UserID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("state: redis set: %w", err)
	}
	return nil
}

func (r *redisStore) Remove(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("state: redis del: %w", err)
	}
	return nil
}
