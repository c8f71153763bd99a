// Package tenantcfg stores per-workspace integration settings in Redis,
// sealed with XChaCha20-Poly1305.
package tenantcfg

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/chacha20poly1305"

	"crm-backend/internal/models"
)

// ErrMissing is returned by KV.Get when nothing is stored under the key.
var ErrMissing = errors.New("tenantcfg: missing")

// KV is the storage the sealed blobs live in.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, key string) error
}

type redisKV struct {
	client *redis.Client
}

// RedisKV adapts a go-redis client. Settings never expire.
func RedisKV(c *redis.Client) KV { return redisKV{client: c} }

func (r redisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMissing
	}
	return b, err
}

func (r redisKV) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r redisKV) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Key is where a workspace's settings are stored.
func Key(ws string) string { return "crm:tenant:" + ws + ":settings" }

type Store struct {
	kv   KV
	aead cipher.AEAD
}

// NewStore takes the hex encoded 32 byte sealing key.
func NewStore(kv KV, hexKey string) (*Store, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("tenantcfg: decode key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("tenantcfg: key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("tenantcfg: %w", err)
	}
	return &Store{kv: kv, aead: aead}, nil
}

// Get returns the workspace's settings. A workspace without stored settings
// gets the zero value.
func (s *Store) Get(ctx context.Context, ws string) (models.TenantSettings, error) {
	var out models.TenantSettings
	blob, err := s.kv.Get(ctx, Key(ws))
	if errors.Is(err, ErrMissing) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("load settings for %s: %w", ws, err)
	}

	n := s.aead.NonceSize()
	if len(blob) < n {
		return out, fmt.Errorf("settings for %s: blob too short", ws)
	}
	// The key is the additional data, so a blob copied to another
	// workspace does not open.
	plain, err := s.aead.Open(nil, blob[:n], blob[n:], []byte(Key(ws)))
	if err != nil {
		return out, fmt.Errorf("open settings for %s: %w", ws, err)
	}
	if err := json.Unmarshal(plain, &out); err != nil {
		return out, fmt.Errorf("decode settings for %s: %w", ws, err)
	}
	return out, nil
}

func (s *Store) Put(ctx context.Context, ws string, settings models.TenantSettings) error {
	plain, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+chacha20poly1305.Overhead)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("tenantcfg: nonce: %w", err)
	}
	blob := s.aead.Seal(nonce, nonce, plain, []byte(Key(ws)))
	if err := s.kv.Set(ctx, Key(ws), blob); err != nil {
		return fmt.Errorf("store settings for %s: %w", ws, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, ws string) error {
	if err := s.kv.Del(ctx, Key(ws)); err != nil {
		return fmt.Errorf("delete settings for %s: %w", ws, err)
	}
	return nil
}
