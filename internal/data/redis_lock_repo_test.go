package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge/transcoder/internal/data"
	"github.com/mediaforge/transcoder/internal/testutil"
)

func TestRedisLockRepoAcquireReleaseCycle(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer testutil.TeardownTestRedis(t, client)
	repo := data.NewRedisLockRepo(client)
	ctx := context.Background()

	acquired, err := repo.Acquire(ctx, "acme:vid-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	held, err := repo.Exists(ctx, "acme:vid-1")
	require.NoError(t, err)
	assert.True(t, held)

	// Another repo plays the part of a second worker.
	other := data.NewRedisLockRepo(client)
	acquired, err = other.Acquire(ctx, "acme:vid-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired, "held lock cannot be taken")

	released, err := repo.Release(ctx, "acme:vid-1")
	require.NoError(t, err)
	assert.True(t, released)

	held, err = repo.Exists(ctx, "acme:vid-1")
	require.NoError(t, err)
	assert.False(t, held)

	acquired, err = other.Acquire(ctx, "acme:vid-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "released lock is free again")
}

func TestRedisLockRepoReleaseNotOwned(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer testutil.TeardownTestRedis(t, client)
	ctx := context.Background()

	owner := data.NewRedisLockRepo(client)
	acquired, err := owner.Acquire(ctx, "acme:vid-1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// A repo that never acquired the key has no token to release with.
	stranger := data.NewRedisLockRepo(client)
	released, err := stranger.Release(ctx, "acme:vid-1")
	require.NoError(t, err)
	assert.False(t, released)

	held, err := owner.Exists(ctx, "acme:vid-1")
	require.NoError(t, err)
	assert.True(t, held, "owner keeps the lock")
}

func TestRedisLockRepoExtend(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer testutil.TeardownTestRedis(t, client)
	repo := data.NewRedisLockRepo(client)
	ctx := context.Background()

	acquired, err := repo.Acquire(ctx, "acme:vid-1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	extended, err := repo.Extend(ctx, "acme:vid-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, extended)

	released, err := repo.Release(ctx, "acme:vid-1")
	require.NoError(t, err)
	require.True(t, released)

	extended, err = repo.Extend(ctx, "acme:vid-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, extended, "released lock cannot be extended")
}

func TestRedisLockRepoExtendAfterExpiry(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer testutil.TeardownTestRedis(t, client)
	repo := data.NewRedisLockRepo(client)
	ctx := context.Background()

	acquired, err := repo.Acquire(ctx, "acme:vid-1", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(120 * time.Millisecond)

	extended, err := repo.Extend(ctx, "acme:vid-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, extended, "expired lock reports lost, not renewed")

	// The expired key is free for anyone.
	acquired, err = repo.Acquire(ctx, "acme:vid-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRedisLockRepoRejectsEmptyKey(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer testutil.TeardownTestRedis(t, client)
	repo := data.NewRedisLockRepo(client)
	ctx := context.Background()

	_, err := repo.Acquire(ctx, "", time.Minute)
	assert.Error(t, err)
	_, err = repo.Release(ctx, "")
	assert.Error(t, err)
	_, err = repo.Extend(ctx, "", time.Minute)
	assert.Error(t, err)
	_, err = repo.Exists(ctx, "")
	assert.Error(t, err)
}
