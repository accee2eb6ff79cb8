// Package vectorcache is the layer catalog: it discovers source files,
// describes and loads their layers, and serves GeoJSON renditions from a
// two-tier in-memory LRU cache that is rebuilt whenever the files change.
package vectorcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/vector-layer-cache/internal/cache/keys"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/observability"
	"github.com/mohammed-shakir/vector-layer-cache/internal/geo/crs"
	"github.com/mohammed-shakir/vector-layer-cache/internal/source"
)

// Defaults applied by New to unset Options. DefaultCapacity sizes both
// tiers.
const (
	DefaultCapacity   = 50
	DefaultEvictBatch = 10
)

// Options configures a Cache. Zero values take the defaults above and
// EPSG:4326.
type Options struct {
	// Dir is scanned non-recursively for source files.
	Dir string
	// DefaultCRS is assumed for sources that declare no reference system.
	DefaultCRS int
	// Capacity bounds Tier A (normalized layers).
	Capacity int
	// SerializedCapacity bounds Tier B (serialized renditions).
	SerializedCapacity int
	// EvictBatch is how many Tier A entries go when Tier A is full.
	EvictBatch int
	// Preload loads every described layer during Load and warms Tier A.
	Preload bool
}

func (o Options) withDefaults() Options {
	if o.DefaultCRS <= 0 {
		o.DefaultCRS = crs.WGS84
	}
	if o.Capacity < 1 {
		o.Capacity = DefaultCapacity
	}
	if o.SerializedCapacity < 1 {
		o.SerializedCapacity = DefaultCapacity
	}
	if o.EvictBatch < 1 {
		o.EvictBatch = DefaultEvictBatch
	}
	if o.EvictBatch > o.Capacity {
		o.EvictBatch = o.Capacity
	}
	return o
}

type counters struct {
	hitsA, missesA uint64
	hitsB, missesB uint64
	evictedA       uint64
	evictedB       uint64
}

// Cache is safe for concurrent use. One mutex guards both tiers, the catalog
// and the watermarks. Disk reads happen outside it, except during a reload,
// which holds it for the whole clear-and-rebuild.
type Cache struct {
	opts Options
	reg  *source.Registry
	log  *slog.Logger

	loads  singleflight.Group
	serial singleflight.Group

	mu       sync.Mutex
	tierA    *simplelru.LRU[string, *model.NormalizedLayer]
	tierB    *simplelru.LRU[string, *model.SerializedLayer]
	variants map[string]map[string]struct{}
	catalog  []model.LayerDescriptor
	marks    map[string]time.Time
	report   LoadReport
	gen      uint64
	loaded   bool
	stats    counters
}

// New builds an empty cache. Call Load to populate the catalog.
func New(opts Options, reg *source.Registry, logger *slog.Logger) (*Cache, error) {
	if reg == nil {
		return nil, errors.New("vectorcache: source registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		opts:     opts.withDefaults(),
		reg:      reg,
		log:      logger.With("component", "vectorcache"),
		variants: map[string]map[string]struct{}{},
		marks:    map[string]time.Time{},
	}
	var err error
	c.tierB, err = simplelru.NewLRU[string, *model.SerializedLayer](c.opts.SerializedCapacity, c.onEvictB)
	if err != nil {
		return nil, fmt.Errorf("tier b: %w", err)
	}
	c.tierA, err = simplelru.NewLRU[string, *model.NormalizedLayer](c.opts.Capacity, c.onEvictA)
	if err != nil {
		return nil, fmt.Errorf("tier a: %w", err)
	}
	return c, nil
}

// onEvictA runs under c.mu for every Tier A removal and drops the key's
// Tier B variants with it.
func (c *Cache) onEvictA(layerKey string, _ *model.NormalizedLayer) {
	vs := c.variants[layerKey]
	delete(c.variants, layerKey)
	for vk := range vs {
		c.tierB.Remove(vk)
	}
}

func (c *Cache) onEvictB(variantKey string, _ *model.SerializedLayer) {
	lk := keys.LayerOf(variantKey)
	if vs, ok := c.variants[lk]; ok {
		delete(vs, variantKey)
		if len(vs) == 0 {
			delete(c.variants, lk)
		}
	}
}

// GetOrLoad returns the normalized layer, reading it from disk on a Tier A
// miss. Concurrent misses for the same key share one read.
func (c *Cache) GetOrLoad(ctx context.Context, path, layer string) (*model.NormalizedLayer, error) {
	lk := keys.LayerKey(path, layer)

	c.mu.Lock()
	if nl, ok := c.tierA.Get(lk); ok {
		c.stats.hitsA++
		c.mu.Unlock()
		observability.ObserveLookup("a", "hit")
		return nl, nil
	}
	c.stats.missesA++
	gen := c.gen
	c.mu.Unlock()
	observability.ObserveLookup("a", "miss")

	v, err, _ := c.loads.Do(flightKey(lk, gen), func() (any, error) {
		return c.LoadLayer(ctx, path, layer)
	})
	if err != nil {
		return nil, err
	}
	nl := v.(*model.NormalizedLayer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		// a reload ran meanwhile; the value belongs to the old catalog
		return nl, nil
	}
	if cur, ok := c.tierA.Get(lk); ok {
		return cur, nil
	}
	c.insertALocked(lk, nl)
	return nl, nil
}

// GetOrSerialize returns the rendition of a layer at tolerance. A Tier B hit
// also refreshes the layer's Tier A entry.
func (c *Cache) GetOrSerialize(ctx context.Context, path, layer string, tolerance float64) (*model.SerializedLayer, error) {
	lk := keys.LayerKey(path, layer)
	vk := keys.VariantKey(lk, tolerance)

	c.mu.Lock()
	if s, ok := c.tierB.Get(vk); ok {
		c.tierA.Get(lk)
		c.stats.hitsB++
		c.mu.Unlock()
		observability.ObserveLookup("b", "hit")
		return s, nil
	}
	c.stats.missesB++
	gen := c.gen
	c.mu.Unlock()
	observability.ObserveLookup("b", "miss")

	v, err, _ := c.serial.Do(flightKey(vk, gen), func() (any, error) {
		nl, err := c.GetOrLoad(ctx, path, layer)
		if err != nil {
			return nil, err
		}
		return Serialize(nl, tolerance)
	})
	if err != nil {
		return nil, err
	}
	s := v.(*model.SerializedLayer)

	c.mu.Lock()
	defer c.mu.Unlock()
	// Only cache the rendition while its layer is resident, so Tier B never
	// holds a key whose Tier A entry is gone.
	if c.gen == gen && c.tierA.Contains(lk) && !c.tierB.Contains(vk) {
		if c.tierB.Add(vk, s) {
			c.stats.evictedB++
			observability.AddEvictions("b", 1)
		}
		vs, ok := c.variants[lk]
		if !ok {
			vs = map[string]struct{}{}
			c.variants[lk] = vs
		}
		vs[vk] = struct{}{}
	}
	return s, nil
}

// EvictBatch drops the EvictBatch least recently used Tier A entries and
// every Tier B rendition of them. It returns how many Tier A entries went.
func (c *Cache) EvictBatch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictBatchLocked()
}

func (c *Cache) evictBatchLocked() int {
	bLen := c.tierB.Len()
	n := 0
	for n < c.opts.EvictBatch {
		if _, _, ok := c.tierA.RemoveOldest(); !ok {
			break
		}
		n++
	}
	if n > 0 {
		c.stats.evictedA += uint64(n)
		observability.AddEvictions("a", n)
		c.log.Info("cache eviction",
			"evicted", n,
			"cascaded", bLen-c.tierB.Len(),
			"tier_a", c.tierA.Len(),
			"tier_a_capacity", c.opts.Capacity,
			"tier_b", c.tierB.Len(),
		)
	}
	return n
}

func (c *Cache) insertALocked(lk string, nl *model.NormalizedLayer) {
	if c.tierA.Len() >= c.opts.Capacity {
		c.evictBatchLocked()
	}
	c.tierA.Add(lk, nl)
}

func flightKey(k string, gen uint64) string {
	return k + "#" + strconv.FormatUint(gen, 10)
}

// Stats is a point-in-time snapshot of the catalog size, both tiers and
// their hit, miss and eviction counters. Generation counts reloads.
type Stats struct {
	Layers         int
	TierA          int
	TierACapacity  int
	TierB          int
	TierBCapacity  int
	TierAHits      uint64
	TierAMisses    uint64
	TierBHits      uint64
	TierBMisses    uint64
	TierAEvictions uint64
	TierBEvictions uint64
	Generation     uint64
	Loaded         bool
}

// Stats reads the counters under the cache lock.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Layers:         len(c.catalog),
		TierA:          c.tierA.Len(),
		TierACapacity:  c.opts.Capacity,
		TierB:          c.tierB.Len(),
		TierBCapacity:  c.opts.SerializedCapacity,
		TierAHits:      c.stats.hitsA,
		TierAMisses:    c.stats.missesA,
		TierBHits:      c.stats.hitsB,
		TierBMisses:    c.stats.missesB,
		TierAEvictions: c.stats.evictedA,
		TierBEvictions: c.stats.evictedB,
		Generation:     c.gen,
		Loaded:         c.loaded,
	}
}
