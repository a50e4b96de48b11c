package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaseFixture(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestLease_AcquireAndMutualExclusion(t *testing.T) {
	rdb, _ := leaseFixture(t)
	ctx := context.Background()

	a := NewLease(rdb, "sweep:lease", 10*time.Second)
	b := NewLease(rdb, "sweep:lease", 10*time.Second)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx))

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLease_ReleaseOnlyByOwner(t *testing.T) {
	rdb, mr := leaseFixture(t)
	ctx := context.Background()

	a := NewLease(rdb, "sweep:lease", 10*time.Second)
	b := NewLease(rdb, "sweep:lease", 10*time.Second)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// A stale holder releasing someone else's lease is a no-op.
	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("sweep:lease"))

	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists("sweep:lease"))
}

func TestLease_ExpiresAndChangesHands(t *testing.T) {
	rdb, mr := leaseFixture(t)
	ctx := context.Background()

	a := NewLease(rdb, "sweep:lease", 5*time.Second)
	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(6 * time.Second)

	b := NewLease(rdb, "sweep:lease", 5*time.Second)
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// The old holder's release must not free the new holder's lease.
	require.NoError(t, a.Release(ctx))
	assert.True(t, mr.Exists("sweep:lease"))
}

func TestLease_Extend(t *testing.T) {
	rdb, mr := leaseFixture(t)
	ctx := context.Background()

	l := NewLease(rdb, "sweep:lease", 5*time.Second)
	ok, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(3 * time.Second)
	require.NoError(t, l.Extend(ctx))
	assert.Equal(t, 5*time.Second, mr.TTL("sweep:lease"))

	mr.FastForward(6 * time.Second)
	assert.Error(t, l.Extend(ctx))
}
