package vectorcache

import (
	"fmt"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/vector-layer-cache/internal/cache/keys"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-layer-cache/internal/geo/planar"
)

// Serialize encodes layer as a GeoJSON FeatureCollection with a "metadata"
// member. A positive tolerance simplifies copies of the geometries with
// planar.Simplify; layer itself is never modified. ErrSimplify marks a
// geometry that simplified to nothing, which only malformed input does.
func Serialize(layer *model.NormalizedLayer, tolerance float64) (*model.SerializedLayer, error) {
	tolerance = keys.NormalizeTolerance(tolerance)

	fc := geojson.NewFeatureCollection()
	fc.Features = make([]*geojson.Feature, 0, len(layer.Features))
	for i, f := range layer.Features {
		g := f.Geometry
		if tolerance > 0 {
			g = planar.Simplify(g, tolerance)
			if planar.Empty(g) {
				return nil, fmt.Errorf("%s feature %d at tolerance %g: %w", layer.Descriptor.ID(), i, tolerance, ErrSimplify)
			}
		}
		gf := geojson.NewFeature(g)
		gf.ID = f.ID
		if f.Properties != nil {
			gf.Properties = f.Properties
		}
		fc.Append(gf)
	}
	fc.ExtraMembers = geojson.Properties{"metadata": metadataOf(layer.Descriptor)}

	body, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", layer.Descriptor.ID(), err)
	}
	return &model.SerializedLayer{Descriptor: layer.Descriptor, Tolerance: tolerance, Body: body}, nil
}

type layerMetadata struct {
	LayerName    string          `json:"layer_name"`
	DisplayName  string          `json:"display_name"`
	GeometryType string          `json:"geometry_type"`
	FeatureCount int             `json:"feature_count"`
	Bounds       [4]float64      `json:"bounds"`
	SourceFile   string          `json:"source_file"`
	Style        model.StyleHint `json:"style"`
}

func metadataOf(d model.LayerDescriptor) layerMetadata {
	return layerMetadata{
		LayerName:    d.LayerName,
		DisplayName:  d.DisplayName,
		GeometryType: string(d.GeometryKind),
		FeatureCount: d.FeatureCount,
		Bounds:       d.BBox.Array(),
		SourceFile:   d.SourceFile,
		Style:        d.Style,
	}
}
