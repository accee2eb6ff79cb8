// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

// ReferenceCRS is the coordinate system every in-memory geometry is normalized to.
const ReferenceCRS = "EPSG:4326"

type GeometryKind string

const (
	KindPoint           GeometryKind = "Point"
	KindMultiPoint      GeometryKind = "MultiPoint"
	KindLineString      GeometryKind = "LineString"
	KindMultiLineString GeometryKind = "MultiLineString"
	KindPolygon         GeometryKind = "Polygon"
	KindMultiPolygon    GeometryKind = "MultiPolygon"
	KindUnknown         GeometryKind = "Unknown"
)

// ParseGeometryKind accepts GeoPackage type names (POINT, MULTIPOLYGON, ...)
// and GeoJSON type names; anything else is Unknown.
func ParseGeometryKind(s string) GeometryKind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "POINT":
		return KindPoint
	case "MULTIPOINT":
		return KindMultiPoint
	case "LINESTRING":
		return KindLineString
	case "MULTILINESTRING":
		return KindMultiLineString
	case "POLYGON":
		return KindPolygon
	case "MULTIPOLYGON":
		return KindMultiPolygon
	default:
		return KindUnknown
	}
}

// KindOf reports the kind of a loaded geometry.
func KindOf(g orb.Geometry) GeometryKind {
	if g == nil {
		return KindUnknown
	}
	return ParseGeometryKind(g.GeoJSONType())
}

type BBox struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// String representation matching wfs/wms bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

func (b BBox) Valid() bool {
	for _, v := range [...]float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.MinX <= b.MaxX && b.MinY <= b.MaxY
}

func (b BBox) Union(o BBox) BBox {
	return BBox{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

func (b BBox) Center() [2]float64 {
	return [2]float64{(b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2}
}

// Array returns minx, miny, maxx, maxy.
func (b BBox) Array() [4]float64 {
	return [4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY}
}

func BBoxFromBound(bd orb.Bound) BBox {
	return BBox{MinX: bd.Min[0], MinY: bd.Min[1], MaxX: bd.Max[0], MaxY: bd.Max[1]}
}

// LayerDescriptor is the cheap, geometry-free description of one layer.
type LayerDescriptor struct {
	SourcePath   string
	SourceFile   string
	LayerName    string
	DisplayName  string
	GeometryKind GeometryKind
	FeatureCount int
	BBox         BBox
	CRS          string
	SourceCRS    string
	Style        StyleHint
}

var (
	errNoPath      = errors.New("descriptor: source path is required")
	errNoLayer     = errors.New("descriptor: layer name is required")
	errNegCount    = errors.New("descriptor: feature count must be non-negative")
	errInvalidBBox = errors.New("descriptor: bounding box is malformed")
)

type DescriptorParams struct {
	SourcePath   string
	SourceFile   string
	LayerName    string
	DisplayName  string
	GeometryKind GeometryKind
	FeatureCount int
	BBox         BBox
	SourceCRS    string
}

// NewLayerDescriptor validates p and fills the derived fields.
func NewLayerDescriptor(p DescriptorParams) (LayerDescriptor, error) {
	if strings.TrimSpace(p.SourcePath) == "" {
		return LayerDescriptor{}, errNoPath
	}
	if strings.TrimSpace(p.LayerName) == "" {
		return LayerDescriptor{}, errNoLayer
	}
	if p.FeatureCount < 0 {
		return LayerDescriptor{}, errNegCount
	}
	if !p.BBox.Valid() {
		return LayerDescriptor{}, fmt.Errorf("%w: %s", errInvalidBBox, p.BBox)
	}
	kind := p.GeometryKind
	if kind == "" {
		kind = KindUnknown
	}
	return LayerDescriptor{
		SourcePath:   p.SourcePath,
		SourceFile:   p.SourceFile,
		LayerName:    p.LayerName,
		DisplayName:  p.DisplayName,
		GeometryKind: kind,
		FeatureCount: p.FeatureCount,
		BBox:         p.BBox,
		CRS:          ReferenceCRS,
		SourceCRS:    p.SourceCRS,
		Style:        StyleFor(kind),
	}, nil
}

// ID is the "<source file>/<layer name>" identifier.
func (d LayerDescriptor) ID() string { return d.SourceFile + "/" + d.LayerName }

type Feature struct {
	ID         any
	Geometry   orb.Geometry
	Properties map[string]any
}

// NormalizedLayer is a layer in the reference CRS with 2D geometry and
// JSON-native properties. Cached values are shared and must not be mutated.
type NormalizedLayer struct {
	Descriptor LayerDescriptor
	Features   []Feature
}

// SerializedLayer is a FeatureCollection body ready to be returned verbatim.
type SerializedLayer struct {
	Descriptor LayerDescriptor
	Tolerance  float64
	Body       []byte
}

type BoundsSummary struct {
	OverallBounds [4]float64 `json:"overall_bounds"`
	Center        [2]float64 `json:"center"`
	LayerCount    int        `json:"layer_count"`
}
