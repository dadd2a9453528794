package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/emilythestrangee/memories/backend/internal/models"
)

// Cached puts a Redis read-through cache in front of single-post reads.
// Every mutation bumps the post's generation and evicts its key after the
// backing store commits. A read only fills the cache if the generation it
// saw before reading the backing store is still current, so a fill racing
// a mutation is dropped. Cache failures are logged and never fail the
// request.
type Cached struct {
	Store
	rdb *redis.Client
	ttl time.Duration
	log logrus.FieldLogger
}

func NewCached(next Store, rdb *redis.Client, ttl time.Duration, log logrus.FieldLogger) *Cached {
	return &Cached{Store: next, rdb: rdb, ttl: ttl, log: log}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("error connecting to Redis: %w", err)
	}
	return rdb, nil
}

// generationTTL outlives any read in flight by a wide margin.
const generationTTL = 24 * time.Hour

func postKey(id string) string {
	return "post:" + id
}

func generationKey(id string) string {
	return "post:gen:" + id
}

func (c *Cached) Get(ctx context.Context, id string) (*models.Post, error) {
	key, err := parsePostID(id)
	if err != nil {
		return nil, err
	}

	raw, err := c.rdb.Get(ctx, postKey(key)).Bytes()
	switch {
	case err == nil:
		var post models.Post
		if jerr := json.Unmarshal(raw, &post); jerr == nil {
			return &post, nil
		}
		c.log.WithField("post_id", key).Warn("Dropping undecodable cache entry")
	case !errors.Is(err, redis.Nil):
		c.log.WithError(err).WithField("post_id", key).Warn("Cache read failed")
	}

	gen, gerr := generation(ctx, c.rdb, key)
	if gerr != nil {
		c.log.WithError(gerr).WithField("post_id", key).Warn("Cache read failed")
	}

	post, err := c.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if gerr == nil {
		c.fill(ctx, key, gen, post)
	}
	return post, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func generation(ctx context.Context, cmd getter, id string) (int64, error) {
	gen, err := cmd.Get(ctx, generationKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// fill stores post under WATCH on its generation key. The write is skipped
// when a mutation bumped the generation after gen was read.
func (c *Cached) fill(ctx context.Context, id string, gen int64, post *models.Post) {
	b, err := json.Marshal(post)
	if err != nil {
		return
	}

	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := generation(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, postKey(id), b, c.ttl)
			return nil
		})
		return err
	}, generationKey(id))

	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		c.log.WithField("post_id", id).Debug("Skipping cache fill for a post changed mid-read")
	default:
		c.log.WithError(err).WithField("post_id", id).Warn("Cache write failed")
	}
}

var errStaleFill = errors.New("post changed while reading")

func (c *Cached) Update(ctx context.Context, id, principal string, patch models.PostPatch) (*models.Post, error) {
	post, err := c.Store.Update(ctx, id, principal, patch)
	if err == nil {
		c.evict(ctx, post.ID)
	}
	return post, err
}

func (c *Cached) Delete(ctx context.Context, id, principal string) error {
	err := c.Store.Delete(ctx, id, principal)
	if err == nil {
		if key, perr := parsePostID(id); perr == nil {
			c.evict(ctx, key)
		}
	}
	return err
}

func (c *Cached) ToggleLike(ctx context.Context, id, principal string) (*models.Post, error) {
	post, err := c.Store.ToggleLike(ctx, id, principal)
	if err == nil {
		c.evict(ctx, post.ID)
	}
	return post, err
}

func (c *Cached) evict(ctx context.Context, id string) {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, generationKey(id))
		p.Expire(ctx, generationKey(id), generationTTL)
		p.Del(ctx, postKey(id))
		return nil
	})
	if err != nil {
		c.log.WithError(err).WithField("post_id", id).Warn("Cache eviction failed")
	}
}
