package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"org-access-core/internal/cache"
)

// setupRedis spins up a Redis container and returns a connected RedisCache.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rc, err := cache.NewRedisCache("redis://" + host + ":" + port.Port())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })
	return rc
}

func TestRedis_SetGetDelete(t *testing.T) {
	rc := setupRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.Ping(ctx))

	key := cache.MembershipKey("org-1", "user-1")
	require.NoError(t, rc.Set(ctx, key, []byte(`{"role":"viewer"}`), 10*time.Second))

	val, found, err := rc.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte(`{"role":"viewer"}`), val)

	require.NoError(t, rc.Delete(ctx, key))
	_, found, err = rc.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedis_SetNX(t *testing.T) {
	rc := setupRedis(t)
	ctx := context.Background()
	key := cache.MembershipKey("org-1", "user-nx")

	ok, err := rc.SetNX(ctx, key, []byte("first"), 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rc.SetNX(ctx, key, []byte("second"), 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	val, _, err := rc.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), val)
}

func TestRedis_GetMissing(t *testing.T) {
	rc := setupRedis(t)
	val, found, err := rc.Get(context.Background(), "membership:none:none")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestRedis_DeleteNoKeys(t *testing.T) {
	rc := setupRedis(t)
	assert.NoError(t, rc.Delete(context.Background()))
}

func TestNewRedisCache_BadURL(t *testing.T) {
	_, err := cache.NewRedisCache("not a url")
	assert.Error(t, err)
}

func TestMemory_SetGet(t *testing.T) {
	mc := cache.NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, mc.Set(ctx, "k", []byte("v"), time.Minute))

	val, found, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)

	val[0] = 'x'
	again, _, _ := mc.Get(ctx, "k")
	assert.Equal(t, []byte("v"), again, "returned slice must not alias cached value")
}

func TestMemory_Expiry(t *testing.T) {
	mc := cache.NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, mc.Set(ctx, "k", []byte("v"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)
	_, found, err := mc.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemory_NonPositiveTTLNotStored(t *testing.T) {
	mc := cache.NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, mc.Set(ctx, "k", []byte("v"), 0))
	_, found, _ := mc.Get(ctx, "k")
	assert.False(t, found)
}

func TestMemory_SetNX(t *testing.T) {
	mc := cache.NewMemoryCache()
	ctx := context.Background()

	ok, err := mc.SetNX(ctx, "k", []byte("first"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = mc.SetNX(ctx, "k", []byte("second"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "live key must not be overwritten")
	val, _, _ := mc.Get(ctx, "k")
	assert.Equal(t, []byte("first"), val)

	ok, _ = mc.SetNX(ctx, "k2", []byte("v"), 0)
	assert.False(t, ok)
}

func TestMemory_SetNXAfterExpiry(t *testing.T) {
	mc := cache.NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, mc.Set(ctx, "k", []byte("old"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	ok, err := mc.SetNX(ctx, "k", []byte("new"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	val, _, _ := mc.Get(ctx, "k")
	assert.Equal(t, []byte("new"), val)
}

func TestMemory_Delete(t *testing.T) {
	mc := cache.NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, mc.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, mc.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, mc.Delete(ctx, "a", "b", "c"))
	_, foundA, _ := mc.Get(ctx, "a")
	_, foundB, _ := mc.Get(ctx, "b")
	assert.False(t, foundA)
	assert.False(t, foundB)
}

func TestMembershipKey(t *testing.T) {
	assert.Equal(t, "membership:org-1:user-9", cache.MembershipKey("org-1", "user-9"))
}
