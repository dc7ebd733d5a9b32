package token

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryBlacklist(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewMemoryBlacklist()

	first, err := b.Burn(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	require.True(t, first)

	first, err = b.Burn(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	require.False(t, first)
}

func TestMemoryBlacklist_Expiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := NewMemoryBlacklist()

	// An already-expired entry does not block a fresh burn.
	first, err := b.Burn(ctx, "jti-old", -time.Second)
	require.NoError(t, err)
	require.True(t, first)

	first, err = b.Burn(ctx, "jti-old", time.Minute)
	require.NoError(t, err)
	require.True(t, first)
}

func TestRedisBlacklist(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b := NewRedisBlacklist(client)

	first, err := b.Burn(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	require.True(t, first)

	first, err = b.Burn(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	require.False(t, first)

	// Entries expire with their TTL, after which the id burns again.
	mr.FastForward(2 * time.Minute)
	first, err = b.Burn(ctx, "jti-1", time.Minute)
	require.NoError(t, err)
	require.True(t, first)
}

func TestRedisBlacklist_NonPositiveTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b := NewRedisBlacklist(client)

	// A token at the edge of expiry still gets a minimal hold.
	first, err := b.Burn(ctx, "jti-edge", 0)
	require.NoError(t, err)
	require.True(t, first)

	first, err = b.Burn(ctx, "jti-edge", 0)
	require.NoError(t, err)
	require.False(t, first)
}
