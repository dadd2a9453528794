package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/emilythestrangee/memories/backend/internal/apperrors"
	"github.com/emilythestrangee/memories/backend/internal/logging"
	"github.com/emilythestrangee/memories/backend/internal/models"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	addr, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)

	rdb, err := OpenRedis(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestCachedStore(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()

	backing := NewMemory()
	s := NewCached(backing, rdb, time.Minute, logging.Discard())

	post := &models.Post{Title: "cached", Creator: "owner"}
	require.NoError(t, s.Create(ctx, post))
	key := postKey(post.ID)

	got, err := s.Get(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "cached", got.Title)
	n, err := rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "read should populate the cache")

	t.Run("like evicts", func(t *testing.T) {
		_, err := s.ToggleLike(ctx, post.ID, "u1")
		require.NoError(t, err)
		n, err := rdb.Exists(ctx, key).Result()
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)

		got, err := s.Get(ctx, post.ID)
		require.NoError(t, err)
		assert.True(t, got.LikedBy("u1"))
	})

	t.Run("update evicts", func(t *testing.T) {
		_, err := s.Update(ctx, post.ID, "owner", models.PostInput{Title: "renamed"}.Patch())
		require.NoError(t, err)

		got, err := s.Get(ctx, post.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Title)
	})

	t.Run("delete evicts", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, post.ID, "owner"))
		_, err := s.Get(ctx, post.ID)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("malformed id never reaches redis", func(t *testing.T) {
		_, err := s.Get(ctx, "bogus")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

// gatedStore pauses Get after reading the backing store until released.
type gatedStore struct {
	Store
	read    chan struct{}
	release chan struct{}
}

func (g *gatedStore) Get(ctx context.Context, id string) (*models.Post, error) {
	post, err := g.Store.Get(ctx, id)
	if g.read != nil {
		g.read <- struct{}{}
		<-g.release
	}
	return post, err
}

func TestCachedStoreDropsFillRacingMutation(t *testing.T) {
	rdb := startRedis(t)
	ctx := context.Background()

	backing := &gatedStore{Store: NewMemory()}
	s := NewCached(backing, rdb, 10*time.Minute, logging.Discard())

	post := &models.Post{Title: "contended", Creator: "owner"}
	require.NoError(t, s.Create(ctx, post))

	mutations := map[string]func() error{
		"like": func() error {
			_, err := s.ToggleLike(ctx, post.ID, "u1")
			return err
		},
		"update": func() error {
			_, err := s.Update(ctx, post.ID, "owner", models.PostInput{Title: "edited"}.Patch())
			return err
		},
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, rdb.Del(ctx, postKey(post.ID)).Err())
			backing.read = make(chan struct{})
			backing.release = make(chan struct{})

			type result struct {
				post *models.Post
				err  error
			}
			done := make(chan result, 1)
			go func() {
				p, err := s.Get(ctx, post.ID)
				done <- result{p, err}
			}()

			<-backing.read
			require.NoError(t, mutate())
			close(backing.release)
			stale := <-done
			require.NoError(t, stale.err)
			backing.read, backing.release = nil, nil

			n, err := rdb.Exists(ctx, postKey(post.ID)).Result()
			require.NoError(t, err)
			assert.EqualValues(t, 0, n, "a read that overlapped a mutation must not fill the cache")

			fresh, err := backing.Store.Get(ctx, post.ID)
			require.NoError(t, err)
			got, err := s.Get(ctx, post.ID)
			require.NoError(t, err)
			assert.Equal(t, fresh.Likes, got.Likes)
			assert.Equal(t, fresh.Title, got.Title)
		})
	}
}
