package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Backend.Load when nothing is stored for the key.
var ErrMiss = errors.New("cache: miss")

// Backend is a shared second-level store and invalidation bus used when
// several processes serve the same workspaces.
type Backend interface {
	Load(ctx context.Context, key Key, dest interface{}) (time.Time, error)
	Save(ctx context.Context, key Key, value interface{}) error
	Invalidate(ctx context.Context, prefixes []Key) error
	Listen(ctx context.Context, fn func(prefixes []Key)) error
}

const redisKeyPrefix = "crm:cache:"

type snapshot struct {
	UpdatedAt time.Time       `json:"updated_at"`
	Value     json.RawMessage `json:"value"`
}

type invalidation struct {
	Origin string `json:"origin"`
	Keys   []Key  `json:"keys"`
}

// RedisBackend keeps JSON snapshots under crm:cache:<key> and broadcasts
// invalidations on a pub/sub channel.
type RedisBackend struct {
	client  *redis.Client
	channel string
	ttl     time.Duration
	origin  string
}

func NewRedisBackend(client *redis.Client, channel string, ttl time.Duration) *RedisBackend {
	return &RedisBackend{
		client:  client,
		channel: channel,
		ttl:     ttl,
		origin:  uuid.NewString(),
	}
}

// DialRedis parses url and pings the server.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis: url is not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	c := redis.NewClient(opt)
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

var _ Backend = (*RedisBackend)(nil)

func (r *RedisBackend) Load(ctx context.Context, key Key, dest interface{}) (time.Time, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrMiss
	}
	if err != nil {
		return time.Time{}, err
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return time.Time{}, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	if err := json.Unmarshal(snap.Value, dest); err != nil {
		return time.Time{}, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return snap.UpdatedAt, nil
}

func (r *RedisBackend) Save(ctx context.Context, key Key, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}
	data, err := json.Marshal(snapshot{UpdatedAt: time.Now(), Value: raw})
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKeyPrefix+key.String(), data, r.ttl).Err()
}

// Invalidate deletes the snapshots under every prefix and publishes the
// prefixes to other processes.
func (r *RedisBackend) Invalidate(ctx context.Context, prefixes []Key) error {
	for _, p := range prefixes {
		if err := r.deletePrefix(ctx, p); err != nil {
			return err
		}
	}
	msg, err := json.Marshal(invalidation{Origin: r.origin, Keys: prefixes})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, msg).Err()
}

func (r *RedisBackend) deletePrefix(ctx context.Context, prefix Key) error {
	match := escapeGlob(redisKeyPrefix+stringPrefix(prefix)) + "*"
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", match, err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete snapshots: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Listen delivers invalidations published by other processes until ctx ends.
func (r *RedisBackend) Listen(ctx context.Context, fn func(prefixes []Key)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var inv invalidation
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				continue
			}
			if inv.Origin == r.origin || len(inv.Keys) == 0 {
				continue
			}
			fn(inv.Keys)
		}
	}
}

func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
