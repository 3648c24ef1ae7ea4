// Package cacheds decorates a ds.Datastore with a Redis entity cache.
// Entities are cached by key as their JSON property lists; writes
// invalidate. Queries and anything inside a transaction bypass the cache.
package cacheds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dslite-io/dslite/internal/ds"
	"github.com/dslite-io/dslite/internal/log"
	"github.com/dslite-io/dslite/internal/metrics"
)

// DefaultTTL bounds how long a cached entity may serve reads.
const DefaultTTL = 5 * time.Minute

// Datastore is a caching ds.Datastore decorator.
type Datastore struct {
	backend ds.Datastore
	rdb     *redis.Client
	ttl     time.Duration
	log     zerolog.Logger
}

var _ ds.Datastore = (*Datastore)(nil)

// New wraps backend with an entity cache on rdb. A ttl of zero selects
// DefaultTTL.
func New(backend ds.Datastore, rdb *redis.Client, ttl time.Duration) *Datastore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Datastore{
		backend: backend,
		rdb:     rdb,
		ttl:     ttl,
		log:     log.WithComponent("cacheds"),
	}
}

func cacheKey(k ds.Key) string {
	if k.Name != "" {
		return fmt.Sprintf("dslite:entity:%s/n:%s", k.Kind, k.Name)
	}
	return fmt.Sprintf("dslite:entity:%s/i:%d", k.Kind, k.ID)
}

func elemPtr(v reflect.Value) (interface{}, error) {
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Ptr:
		return v.Interface(), nil
	case reflect.Struct:
		if !v.CanAddr() {
			return nil, errors.New("dslite: entity slice element not addressable")
		}
		return v.Addr().Interface(), nil
	default:
		return nil, fmt.Errorf("dslite: entity element kind %s not supported", v.Kind())
	}
}

// Get serves entities from the cache where possible and batches the
// remainder through to the backend, filling the cache on the way back.
// Cache transport failures degrade to backend reads.
func (c *Datastore) Get(ctx context.Context, keys []ds.Key, entities interface{}) error {
	values := reflect.ValueOf(entities)
	if err := ds.CheckKeysValues(keys, values); err != nil {
		return err
	}

	var missIndexes []int
	for i, key := range keys {
		raw, err := c.rdb.Get(ctx, cacheKey(key)).Bytes()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				c.log.Warn().Err(err).Str(log.FieldKey, key.String()).Msg("cache read failed")
			}
			metrics.CacheMiss()
			missIndexes = append(missIndexes, i)
			continue
		}

		var pl ds.PropertyList
		if err := json.Unmarshal(raw, &pl); err != nil {
			c.log.Warn().Err(err).Str(log.FieldKey, key.String()).Msg("cache entry corrupt")
			metrics.CacheMiss()
			missIndexes = append(missIndexes, i)
			continue
		}

		dst, err := elemPtr(values.Index(i))
		if err != nil {
			return err
		}
		if err := ds.PopulateStruct(dst, pl); err != nil {
			return err
		}
		metrics.CacheHit()
	}

	if len(missIndexes) == 0 {
		return nil
	}

	missKeys := make([]ds.Key, len(missIndexes))
	missEntities := make([]interface{}, len(missIndexes))
	for j, i := range missIndexes {
		missKeys[j] = keys[i]
		dst, err := elemPtr(values.Index(i))
		if err != nil {
			return err
		}
		missEntities[j] = dst
	}

	err := c.backend.Get(ctx, missKeys, missEntities)

	var backendMulti ds.MultiError
	if err != nil && !errors.As(err, &backendMulti) {
		return err
	}

	merr := make(ds.MultiError, len(keys))
	failed := false
	for j, i := range missIndexes {
		if backendMulti != nil && backendMulti[j] != nil {
			merr[i] = backendMulti[j]
			failed = true
			continue
		}
		c.fill(ctx, missKeys[j], missEntities[j])
	}

	if failed {
		return merr
	}
	return nil
}

func (c *Datastore) fill(ctx context.Context, key ds.Key, entity interface{}) {
	pl, err := ds.ToPropertyList(entity)
	if err != nil {
		return
	}
	raw, err := json.Marshal(pl)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(key), raw, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str(log.FieldKey, key.String()).Msg("cache fill failed")
	}
}

func (c *Datastore) invalidate(ctx context.Context, keys []ds.Key) {
	if len(keys) == 0 {
		return
	}
	cacheKeys := make([]string, len(keys))
	for i, k := range keys {
		cacheKeys[i] = cacheKey(k)
	}
	if err := c.rdb.Del(ctx, cacheKeys...).Err(); err != nil {
		c.log.Warn().Err(err).Msg("cache invalidation failed")
	}
}

// Put writes through to the backend and invalidates the affected entries.
func (c *Datastore) Put(ctx context.Context, keys []ds.Key, entities interface{}) ([]ds.Key, error) {
	completed, err := c.backend.Put(ctx, keys, entities)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, completed)
	return completed, nil
}

// Delete removes the entities and invalidates the affected entries.
func (c *Datastore) Delete(ctx context.Context, keys []ds.Key) error {
	if err := c.backend.Delete(ctx, keys); err != nil {
		return err
	}
	c.invalidate(ctx, keys)
	return nil
}

// Run passes queries straight through; query results are not cached.
func (c *Datastore) Run(ctx context.Context, q ds.Query) (ds.Iterator, error) {
	return c.backend.Run(ctx, q)
}

// RunInTransaction runs f against the raw backend transaction and, once it
// commits, invalidates every key the transaction touched.
func (c *Datastore) RunInTransaction(ctx context.Context, f func(ctx context.Context, tx ds.Datastore) error) error {
	rec := &txRecorder{}
	err := c.backend.RunInTransaction(ctx, func(ctx context.Context, tx ds.Datastore) error {
		rec.tx = tx
		return f(ctx, rec)
	})
	if err != nil {
		return err
	}
	c.invalidate(ctx, rec.mutated)
	return nil
}

// txRecorder forwards to the transaction view while remembering which keys
// were written or deleted.
type txRecorder struct {
	tx      ds.Datastore
	mutated []ds.Key
}

func (r *txRecorder) Get(ctx context.Context, keys []ds.Key, entities interface{}) error {
	return r.tx.Get(ctx, keys, entities)
}

func (r *txRecorder) Put(ctx context.Context, keys []ds.Key, entities interface{}) ([]ds.Key, error) {
	completed, err := r.tx.Put(ctx, keys, entities)
	if err != nil {
		return nil, err
	}
	r.mutated = append(r.mutated, completed...)
	return completed, nil
}

func (r *txRecorder) Delete(ctx context.Context, keys []ds.Key) error {
	if err := r.tx.Delete(ctx, keys); err != nil {
		return err
	}
	r.mutated = append(r.mutated, keys...)
	return nil
}

func (r *txRecorder) Run(ctx context.Context, q ds.Query) (ds.Iterator, error) {
	return r.tx.Run(ctx, q)
}

func (r *txRecorder) RunInTransaction(ctx context.Context, f func(ctx context.Context, tx ds.Datastore) error) error {
	return r.tx.RunInTransaction(ctx, f)
}
