package cacheds

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dslite-io/dslite/internal/ds"
	"github.com/dslite-io/dslite/internal/log"
	"github.com/dslite-io/dslite/internal/metrics"
	"github.com/dslite-io/dslite/internal/sqliteds"
)

// ListCache wraps the wire-level list operations of a store with the same
// Redis entity cache used for struct entities. Operations bound to an open
// transaction handle bypass the cache; their mutations invalidate eagerly,
// which at worst costs a refill after a rollback.
type ListCache struct {
	store *sqliteds.Store
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

// NewList builds a list-level cache over store. A zero ttl selects
// DefaultTTL.
func NewList(store *sqliteds.Store, rdb *redis.Client, ttl time.Duration) *ListCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ListCache{
		store: store,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.WithComponent("cacheds"),
	}
}

// GetList loads property lists for keys, serving cached entities and
// falling through to the store for the rest.
func (c *ListCache) GetList(ctx context.Context, handle int64, keys []ds.Key) ([]ds.PropertyList, error) {
	if handle != 0 {
		return c.store.GetList(ctx, handle, keys)
	}

	lists := make([]ds.PropertyList, len(keys))
	var missKeys []ds.Key
	var missIdx []int
	for i, key := range keys {
		raw, err := c.rdb.Get(ctx, cacheKey(key)).Bytes()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				c.log.Warn().Err(err).Str(log.FieldKey, key.String()).Msg("cache read failed")
			}
			metrics.CacheMiss()
			missKeys = append(missKeys, key)
			missIdx = append(missIdx, i)
			continue
		}

		var pl ds.PropertyList
		if err := json.Unmarshal(raw, &pl); err != nil {
			c.log.Warn().Err(err).Str(log.FieldKey, key.String()).Msg("cache entry corrupt")
			metrics.CacheMiss()
			missKeys = append(missKeys, key)
			missIdx = append(missIdx, i)
			continue
		}
		metrics.CacheHit()
		lists[i] = pl
	}

	if len(missKeys) == 0 {
		return lists, nil
	}

	missLists, err := c.store.GetList(ctx, 0, missKeys)
	var backendMulti ds.MultiError
	if err != nil && !errors.As(err, &backendMulti) {
		return nil, err
	}

	merr := make(ds.MultiError, len(keys))
	failed := false
	for j, i := range missIdx {
		if backendMulti.NotFound(j) {
			merr[i] = ds.ErrNoEntity
			failed = true
			continue
		}
		lists[i] = missLists[j]
		c.fillList(ctx, missKeys[j], missLists[j])
	}

	if failed {
		return lists, merr
	}
	return lists, nil
}

func (c *ListCache) fillList(ctx context.Context, key ds.Key, pl ds.PropertyList) {
	raw, err := json.Marshal(pl)
	if err != nil {
		c.log.Warn().Err(err).Str(log.FieldKey, key.String()).Msg("cache encode failed")
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(key), raw, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str(log.FieldKey, key.String()).Msg("cache write failed")
	}
}

func (c *ListCache) invalidate(ctx context.Context, keys []ds.Key) {
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		if key.Incomplete() {
			continue
		}
		names = append(names, cacheKey(key))
	}
	if len(names) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, names...).Err(); err != nil {
		c.log.Warn().Err(err).Msg("cache invalidation failed")
	}
}

// PutList writes through to the store and invalidates the written keys.
func (c *ListCache) PutList(ctx context.Context, handle int64, keys []ds.Key, lists []ds.PropertyList) ([]ds.Key, error) {
	completed, err := c.store.PutList(ctx, handle, keys, lists)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, completed)
	return completed, nil
}

// DeleteKeys deletes through to the store and invalidates the keys.
func (c *ListCache) DeleteKeys(ctx context.Context, handle int64, keys []ds.Key) error {
	if err := c.store.DeleteKeys(ctx, handle, keys); err != nil {
		return err
	}
	c.invalidate(ctx, keys)
	return nil
}
