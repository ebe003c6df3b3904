package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// nullMarker records "this mint has no image" so a known miss is not refetched.
const nullMarker = "\x00"

func NewRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	r := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// ImageCache is the hot tier in front of the tokenimages collection.
type ImageCache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewImageCache(rdb redis.UniversalClient, prefix string, ttl time.Duration) *ImageCache {
	return &ImageCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *ImageCache) key(mint string) string { return c.prefix + ":tokenimage:" + mint }

// GetMany returns the cached entries for mints. Absent mints are missing from
// the map; a cached null is present with a nil value.
func (c *ImageCache) GetMany(ctx context.Context, mints []string) (map[string]*string, error) {
	out := make(map[string]*string, len(mints))
	if len(mints) == 0 {
		return out, nil
	}
	keys := make([]string, len(mints))
	for i, m := range mints {
		keys[i] = c.key(m)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s == nullMarker {
			out[mints[i]] = nil
			continue
		}
		out[mints[i]] = &s
	}
	return out, nil
}

func (c *ImageCache) SetMany(ctx context.Context, images map[string]*string) error {
	if len(images) == 0 {
		return nil
	}
	pipe := c.rdb.Pipeline()
	for mint, url := range images {
		v := nullMarker
		if url != nil {
			v = *url
		}
		pipe.Set(ctx, c.key(mint), v, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
