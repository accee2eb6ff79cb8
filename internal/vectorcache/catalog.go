package vectorcache

import (
	"context"
	"fmt"
	"math"

	"github.com/mohammed-shakir/vector-layer-cache/internal/core/model"
)

// Layers returns a copy of the catalog in load order.
func (c *Cache) Layers() []model.LayerDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.LayerDescriptor, len(c.catalog))
	copy(out, c.catalog)
	return out
}

// Lookup finds a layer by display name or by "<source file>/<layer>" id.
// The first catalog entry matching either form wins.
func (c *Cache) Lookup(identifier string) (model.LayerDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.catalog {
		if d.DisplayName == identifier || d.ID() == identifier {
			return d, true
		}
	}
	return model.LayerDescriptor{}, false
}

// Fetch resolves identifier and returns its rendition at tolerance.
func (c *Cache) Fetch(ctx context.Context, identifier string, tolerance float64) (*model.SerializedLayer, error) {
	d, ok := c.Lookup(identifier)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, identifier)
	}
	return c.GetOrSerialize(ctx, d.SourcePath, d.LayerName, tolerance)
}

// Summary is BoundsSummary over the current catalog.
func (c *Cache) Summary() (model.BoundsSummary, bool) {
	return BoundsSummary(c.Layers())
}

// BoundsSummary unions the boxes of the descs that have features. ok is
// false when none do.
func BoundsSummary(descs []model.LayerDescriptor) (model.BoundsSummary, bool) {
	u := model.BBox{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
	n := 0
	for _, d := range descs {
		if d.FeatureCount == 0 || !d.BBox.Valid() {
			continue
		}
		u = u.Union(d.BBox)
		n++
	}
	if n == 0 {
		return model.BoundsSummary{}, false
	}
	return model.BoundsSummary{
		OverallBounds: u.Array(),
		Center:        u.Center(),
		LayerCount:    n,
	}, true
}
