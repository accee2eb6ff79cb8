package vectorcache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/vector-layer-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/observability"
	"github.com/mohammed-shakir/vector-layer-cache/internal/geo/crs"
	"github.com/mohammed-shakir/vector-layer-cache/internal/geo/planar"
	"github.com/mohammed-shakir/vector-layer-cache/internal/source"
)

// LoadLayer reads one layer from disk and normalizes it: geometry in
// EPSG:4326 and two dimensions, properties JSON-native, null geometries
// dropped. A layer left without features returns ErrEmptyLayer. The result
// is not cached; use GetOrLoad for that.
func (c *Cache) LoadLayer(ctx context.Context, path, layer string) (*model.NormalizedLayer, error) {
	rd, err := c.reg.For(path)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	nl, err := c.loadWith(ctx, rd, path, layer)
	if !errors.Is(err, ErrEmptyLayer) {
		observability.ObserveLayerLoad(rd.Format(), time.Since(start), err)
	}
	return nl, err
}

func (c *Cache) loadWith(ctx context.Context, rd source.Reader, path, layer string) (*model.NormalizedLayer, error) {
	raw, err := rd.Read(ctx, path, layer)
	if err != nil {
		if errors.Is(err, source.ErrLayerNotFound) {
			return nil, fmt.Errorf("%w: %s in %s: %w", ErrNotFound, layer, filepath.Base(path), err)
		}
		return nil, fmt.Errorf("load %s/%s: %w", filepath.Base(path), layer, err)
	}

	code, err := crs.Parse(raw.Meta.CRS, c.opts.DefaultCRS)
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", filepath.Base(path), layer, err)
	}
	rp, err := crs.For(code)
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", filepath.Base(path), layer, err)
	}
	if !rp.Identity() {
		c.log.Info("reprojecting layer", "path", path, "layer", layer, "from", crs.Name(code), "to", model.ReferenceCRS)
	}

	features := make([]model.Feature, 0, len(raw.Features))
	var bound orb.Bound
	dropped := 0
	for i, rf := range raw.Features {
		if planar.Empty(rf.Geometry) {
			dropped++
			continue
		}
		g, err := rp.Geometry(rf.Geometry)
		if err != nil {
			return nil, fmt.Errorf("load %s/%s: feature %d: %w", filepath.Base(path), layer, i, err)
		}
		if len(features) == 0 {
			bound = g.Bound()
		} else {
			bound = bound.Union(g.Bound())
		}
		features = append(features, model.Feature{ID: rf.ID, Geometry: g, Properties: rf.Properties})
	}
	if dropped > 0 {
		c.log.Debug("dropped features without geometry", "path", path, "layer", layer, "dropped", dropped)
	}
	if len(features) == 0 {
		c.log.Warn("layer is empty", "path", path, "layer", layer)
		return nil, fmt.Errorf("%s/%s: %w", filepath.Base(path), layer, ErrEmptyLayer)
	}

	kind := raw.Meta.GeometryKind
	if kind == "" || kind == model.KindUnknown {
		kind = model.KindOf(features[0].Geometry)
	}
	file := filepath.Base(path)
	desc, err := model.NewLayerDescriptor(model.DescriptorParams{
		SourcePath:   path,
		SourceFile:   file,
		LayerName:    layer,
		DisplayName:  DisplayName(stem(file), layer),
		GeometryKind: kind,
		FeatureCount: len(features),
		BBox:         model.BBoxFromBound(bound),
		SourceCRS:    crs.Name(code),
	})
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", file, layer, err)
	}
	c.log.Info("loaded vector layer", "display_name", desc.DisplayName, "features", len(features))
	return &model.NormalizedLayer{Descriptor: desc, Features: features}, nil
}
