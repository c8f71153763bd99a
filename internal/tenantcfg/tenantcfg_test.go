package tenantcfg

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-backend/internal/models"
)

type memKV struct {
	mu sync.Mutex
	m  map[string][]byte
}

func (k *memKV) Get(_ context.Context, key string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.m[key]
	if !ok {
		return nil, ErrMissing
	}
	return append([]byte(nil), v...), nil
}

func (k *memKV) Set(_ context.Context, key string, value []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[key] = append([]byte(nil), value...)
	return nil
}

func (k *memKV) Del(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.m, key)
	return nil
}

var testKey = strings.Repeat("ab", 32)

func newTestStore(t *testing.T) (*Store, *memKV) {
	t.Helper()
	kv := &memKV{m: map[string][]byte{}}
	s, err := NewStore(kv, testKey)
	require.NoError(t, err)
	return s, kv
}

func TestSettingsRoundTrip(t *testing.T) {
	s, kv := newTestStore(t)
	ctx := context.Background()
	want := models.TenantSettings{
		WhatsAppAPIKey:   "sk-123",
		WhatsAppBaseURL:  "https://evolution.example.com",
		WhatsAppInstance: "main",
	}

	require.NoError(t, s.Put(ctx, "ws1", want))
	got, err := s.Get(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	blob := kv.m[Key("ws1")]
	assert.False(t, bytes.Contains(blob, []byte("sk-123")))
}

func TestMissingSettingsAreZero(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, models.TenantSettings{}, got)
}

func TestSealedBlobIsBoundToWorkspace(t *testing.T) {
	s, kv := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "ws1", models.TenantSettings{WhatsAppAPIKey: "k"}))

	kv.m[Key("ws2")] = kv.m[Key("ws1")]
	_, err := s.Get(ctx, "ws2")
	assert.Error(t, err)
}

func TestDeleteSettings(t *testing.T) {
	s, kv := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "ws1", models.TenantSettings{WhatsAppInstance: "x"}))
	require.NoError(t, s.Delete(ctx, "ws1"))
	assert.Empty(t, kv.m)

	got, err := s.Get(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, models.TenantSettings{}, got)
}

func TestNewStoreRejectsBadKey(t *testing.T) {
	_, err := NewStore(&memKV{}, "abcd")
	assert.ErrorContains(t, err, "32 bytes")

	_, err = NewStore(&memKV{}, "zz")
	assert.Error(t, err)
}
