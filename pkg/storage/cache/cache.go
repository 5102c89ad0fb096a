// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"
)

// Spec bounds the process-wide repository cache.
type Spec struct {
	NumCounters int64 `toml:"num_counters" json:"numCounters"`
	// MaxWeight is the total encoded-size budget in bytes.
	MaxWeight   int64 `toml:"max_weight" json:"maxWeight"`
	BufferItems int64 `toml:"buffer_items" json:"bufferItems"`
	// ExpireAfterAccess evicts entries untouched for this long.
	ExpireAfterAccess time.Duration `toml:"expire_after_access" json:"expireAfterAccess"`
}

func DefaultSpec() Spec {
	return Spec{
		NumCounters:       1 << 20,
		MaxWeight:         128 << 20,
		BufferItems:       64,
		ExpireAfterAccess: 10 * time.Minute,
	}
}

// Cache memoizes repository read results keyed by
// (project, repository, operation, args). A per-repository generation
// counter is folded into every key: bumping it on commit makes every older
// key unreachable, which is how whole-repository invalidation works on top
// of ristretto.
type Cache struct {
	c     *ristretto.Cache[string, any]
	group singleflight.Group
	ttl   time.Duration

	mu   sync.Mutex
	gens map[string]*atomic.Uint64
}

func New(spec Spec) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: spec.NumCounters,
		MaxCost:     spec.MaxWeight,
		BufferItems: spec.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to initialize repository cache, error: %w", err)
	}
	return &Cache{c: c, ttl: spec.ExpireAfterAccess, gens: make(map[string]*atomic.Uint64)}, nil
}

func repoKey(project, repo string) string {
	return project + "/" + repo
}

func (c *Cache) generation(project, repo string) *atomic.Uint64 {
	key := repoKey(project, repo)
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.gens[key]
	if !ok {
		g = new(atomic.Uint64)
		c.gens[key] = g
	}
	return g
}

// Get returns the memoized value for the operation, loading it at most
// once per key across concurrent callers. The loader returns the value and
// its weight in bytes. The boolean result reports a cache hit.
//
// Callers must normalize relative revisions into args before calling, so
// HEAD and its absolute number share a slot.
func (c *Cache) Get(project, repo, op, args string,
	load func() (any, int64, error)) (any, bool, error) {
	gen := c.generation(project, repo).Load()
	key := fmt.Sprintf("%d/%s/%s/%s/%s", gen, project, repo, op, args)

	if v, ok := c.c.Get(key); ok {
		return v, true, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.c.Get(key); ok {
			return v, nil
		}
		v, weight, err := load()
		if err != nil {
			return nil, err
		}
		c.c.SetWithTTL(key, v, weight, c.ttl)
		return v, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v, false, nil
}

// Invalidate drops every cached read of the repository.
func (c *Cache) Invalidate(project, repo string) {
	c.generation(project, repo).Add(1)
}

// Wait flushes pending writes; tests use it to observe Set effects.
func (c *Cache) Wait() { c.c.Wait() }

func (c *Cache) Close() { c.c.Close() }
