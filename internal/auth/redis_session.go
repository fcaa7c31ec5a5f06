package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

const sessionKeyPrefix = "session:"

type redisSession struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisRegistry stores sessions in Redis so they survive process restarts.
// Keys also carry a Redis TTL, but expiry is decided on read from the stored
// creation time, like MemoryRegistry.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisRegistry creates a registry backed by client.
func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisRegistry{client: client, ttl: ttl, now: time.Now}
}

func (r *RedisRegistry) Create(ctx context.Context, username string) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(redisSession{Username: username, CreatedAt: r.now().UTC()})
	if err != nil {
		return "", err
	}
	if err := r.client.Set(ctx, sessionKeyPrefix+token, payload, r.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

func (r *RedisRegistry) Resolve(ctx context.Context, token string) (string, bool, error) {
	raw, err := r.client.Get(ctx, sessionKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	var s redisSession
	if err := json.Unmarshal(raw, &s); err != nil {
		_ = r.client.Del(ctx, sessionKeyPrefix+token).Err()
		return "", false, nil
	}
	if r.now().Sub(s.CreatedAt) > r.ttl {
		if err := r.client.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
			return "", false, err
		}
		return "", false, nil
	}
	return s.Username, true, nil
}

func (r *RedisRegistry) Delete(ctx context.Context, token string) error {
	return r.client.Del(ctx, sessionKeyPrefix+token).Err()
}
