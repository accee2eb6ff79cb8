// Package geojsonfile reads single-layer GeoJSON FeatureCollection files.
package geojsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geom"
	geomjson "github.com/twpayne/go-geom/encoding/geojson"

	"github.com/mohammed-shakir/vector-layer-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-layer-cache/internal/geo/planar"
	"github.com/mohammed-shakir/vector-layer-cache/internal/source"
)

type Reader struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{logger: logger}
}

func (r *Reader) Format() string       { return "geojson" }
func (r *Reader) Extensions() []string { return []string{".geojson"} }

// LayerName is the name of the only layer of a GeoJSON file.
func LayerName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

type document struct {
	Type     string          `json:"type"`
	CRS      *crsMember      `json:"crs"`
	Features []rawFeature    `json:"features"`
	Geometry json.RawMessage `json:"geometry"`
	ID       any             `json:"id"`
	Props    map[string]any  `json:"properties"`
}

type rawFeature struct {
	ID         any             `json:"id"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

type crsMember struct {
	Type       string `json:"type"`
	Properties struct {
		Name string      `json:"name"`
		Code json.Number `json:"code"`
	} `json:"properties"`
}

func (c *crsMember) declared() string {
	if c == nil {
		return ""
	}
	if c.Properties.Name != "" {
		return c.Properties.Name
	}
	if c.Properties.Code != "" {
		return "EPSG:" + c.Properties.Code.String()
	}
	return ""
}

func (r *Reader) decode(ctx context.Context, path string) (*document, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", source.ErrUnreadable, path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %s: decode geojson: %w", source.ErrUnreadable, path, err)
	}
	switch doc.Type {
	case "FeatureCollection":
	case "Feature":
		doc.Features = []rawFeature{{ID: doc.ID, Geometry: doc.Geometry, Properties: doc.Props}}
	default:
		return nil, fmt.Errorf("%w: %s: unexpected geojson type %q", source.ErrUnreadable, path, doc.Type)
	}
	return &doc, nil
}

func decodeGeometry(raw json.RawMessage) (orb.Geometry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var g geom.T
	if err := geomjson.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode geometry: %w", err)
	}
	return planar.Reduce(g)
}

func (r *Reader) Describe(ctx context.Context, path string) ([]source.LayerMeta, []source.LayerError, error) {
	doc, err := r.decode(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	meta := source.LayerMeta{
		Name:         LayerName(path),
		GeometryKind: model.KindUnknown,
		CRS:          doc.CRS.declared(),
	}
	var bound orb.Bound
	for i, f := range doc.Features {
		g, err := decodeGeometry(f.Geometry)
		if err != nil {
			// one layer per file, so a broken feature breaks the layer
			return nil, []source.LayerError{{Layer: meta.Name, Err: fmt.Errorf("feature %d: %w", i, err)}}, nil
		}
		if planar.Empty(g) {
			continue
		}
		meta.FeatureCount++
		if !meta.HasBBox {
			bound = g.Bound()
			meta.HasBBox = true
			meta.GeometryKind = model.KindOf(g)
			continue
		}
		bound = bound.Union(g.Bound())
	}
	if meta.HasBBox {
		meta.BBox = model.BBoxFromBound(bound)
	}
	return []source.LayerMeta{meta}, nil, nil
}

func (r *Reader) Read(ctx context.Context, path, layer string) (*source.RawLayer, error) {
	if name := LayerName(path); layer != name {
		return nil, fmt.Errorf("%w: %q in %s", source.ErrLayerNotFound, layer, path)
	}
	doc, err := r.decode(ctx, path)
	if err != nil {
		return nil, err
	}
	out := &source.RawLayer{
		Meta: source.LayerMeta{
			Name:         layer,
			GeometryKind: model.KindUnknown,
			CRS:          doc.CRS.declared(),
		},
		Features: make([]source.RawFeature, 0, len(doc.Features)),
	}
	for i, f := range doc.Features {
		g, err := decodeGeometry(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("%s feature %d: %w", path, i, err)
		}
		out.Features = append(out.Features, source.RawFeature{
			ID:         featureID(f.ID),
			Geometry:   g,
			Properties: source.NormalizeProperties(f.Properties),
		})
	}
	out.Meta.FeatureCount = len(out.Features)
	return out, nil
}

func featureID(id any) any {
	switch t := id.(type) {
	case nil:
		return nil
	case json.Number:
		if n, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return n
		}
		return t.String()
	default:
		return source.NormalizeValue(t)
	}
}
