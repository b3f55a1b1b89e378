package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/carrier-mapping/internal/config"
	"github.com/ignite/carrier-mapping/internal/pkg/distlock"
)

func TestLockFactory(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := &config.Config{Mappings: config.MappingsConfig{SaveLockTTLSeconds: 30}}
	a := &App{Config: cfg, Redis: client}

	f := a.lockFactory()
	require.NotNil(t, f)
	lock, ok := f("mapping-bundle:ins-1").(*distlock.RedisLock)
	require.True(t, ok, "redis preferred when available")

	got, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, got)
	assert.True(t, mr.Exists("lock:mapping-bundle:ins-1"))
	require.NoError(t, lock.Release(context.Background()))
}

func TestLockFactoryDisabled(t *testing.T) {
	cfg := &config.Config{Mappings: config.MappingsConfig{DisableSaveLock: true}}
	assert.Nil(t, (&App{Config: cfg}).lockFactory())

	assert.Nil(t, (&App{Config: &config.Config{}}).lockFactory(), "no lock backend")
}

func TestOpenDBRequiresURL(t *testing.T) {
	_, err := OpenDB(context.Background(), config.DatabaseConfig{})
	assert.Error(t, err)
}
