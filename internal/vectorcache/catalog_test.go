package vectorcache

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geom"

	"github.com/mohammed-shakir/vector-layer-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-layer-cache/internal/geo/crs"
	"github.com/mohammed-shakir/vector-layer-cache/internal/source/gpkg/gpkgtest"
)

const earthRadius = 6378137.0

func mercatorToLonLat(x, y float64) (float64, float64) {
	lon := x / earthRadius * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2) * 180 / math.Pi
	return lon, lat
}

func TestDiscoverSources_IdempotentAndFiltered(t *testing.T) {
	dir := t.TempDir()
	writeGeoJSON(t, dir, "b.geojson", "", pointJSON(0, 0))
	writeGeoJSON(t, dir, "A.GeoJSON", "", pointJSON(0, 0))
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.gpkg"), 0o700); err != nil {
		t.Fatal(err)
	}
	c := newTestCache(t, Options{Dir: dir})

	first, err := c.DiscoverSources()
	if err != nil {
		t.Fatalf("DiscoverSources: %v", err)
	}
	second, _ := c.DiscoverSources()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("discovery not idempotent: %v vs %v", first, second)
	}
	want := []string{filepath.Join(dir, "A.GeoJSON"), filepath.Join(dir, "b.geojson")}
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("got=%v want %v", first, want)
	}
}

func TestDiscoverSources_MissingDir(t *testing.T) {
	c := newTestCache(t, Options{Dir: filepath.Join(t.TempDir(), "nope")})
	got, err := c.DiscoverSources()
	if err != nil || len(got) != 0 {
		t.Fatalf("got=%v err=%v want empty, nil", got, err)
	}
}

func TestDisplayName(t *testing.T) {
	cases := []struct{ stem, layer, want string }{
		{"bbt_areas", "bbt_areas", "Bbt Areas"},
		{"bbt_areas", "BBT_AREAS", "Bbt Areas"},
		{"bbt_areas", "depth_zones", "Bbt Areas - Depth Zones"},
		{"HELCOM_sites", "sites", "Helcom Sites - Sites"},
	}
	for _, c := range cases {
		if got := DisplayName(c.stem, c.layer); got != c.want {
			t.Fatalf("DisplayName(%q,%q)=%q want %q", c.stem, c.layer, got, c.want)
		}
	}
}

func TestDescribeLayers_GeoPackageReprojectsBounds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bbt_areas.gpkg")
	gpkgtest.Write(t, path,
		gpkgtest.Layer{
			Name: "bbt_areas", GeometryType: "POLYGON", SRSID: 3857,
			Extent:   &[4]float64{0, 0, 1113194.9, 1118890.0},
			Features: []gpkgtest.Feature{{Geometry: geomSquare(geom.XY, 0, 0, 1113194.9)}},
		},
		gpkgtest.Layer{
			Name: "depth_zones", GeometryType: "MULTIPOLYGON", SRSID: 4326,
			Extent:   &[4]float64{10, 54, 12, 56},
			Features: []gpkgtest.Feature{{Geometry: geomSquare(geom.XY, 10, 54, 2)}},
		},
	)
	c := newTestCache(t, Options{Dir: dir})
	descs, err := c.DescribeLayers(context.Background(), path)
	if err != nil {
		t.Fatalf("DescribeLayers: %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("len=%d want 2", len(descs))
	}
	d := descs[0]
	if d.DisplayName != "Bbt Areas" || d.ID() != "bbt_areas.gpkg/bbt_areas" || d.CRS != model.ReferenceCRS || d.SourceCRS != "EPSG:3857" {
		t.Fatalf("descriptor=%+v", d)
	}
	lon, lat := mercatorToLonLat(1113194.9, 1118890.0)
	if math.Abs(d.BBox.MaxX-lon) > 1e-9 || math.Abs(d.BBox.MaxY-lat) > 1e-9 {
		t.Fatalf("bbox=%+v want max %f,%f", d.BBox, lon, lat)
	}
	if descs[1].DisplayName != "Bbt Areas - Depth Zones" || descs[1].GeometryKind != model.KindMultiPolygon {
		t.Fatalf("second=%+v", descs[1])
	}
	if descs[1].Style != model.StyleFor(model.KindPolygon) {
		t.Fatalf("style=%+v", descs[1].Style)
	}
}

func TestDescribeLayers_UnreadableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.gpkg")
	if err := os.WriteFile(path, []byte("not a database"), 0o600); err != nil {
		t.Fatal(err)
	}
	c := newTestCache(t, Options{Dir: dir})
	if _, err := c.DescribeLayers(context.Background(), path); !errors.Is(err, ErrSourceUnreadable) {
		t.Fatalf("err=%v want ErrSourceUnreadable", err)
	}
}

func TestLoadLayer_ReprojectionMatchesIndependentComputation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "merc.gpkg")
	x0, y0, x1, y1 := -500000.0, 6000000.0, 1500000.0, 8000000.0
	sq := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0},
	}})
	gpkgtest.Write(t, path, gpkgtest.Layer{
		Name: "merc", GeometryType: "POLYGON", SRSID: 3857,
		Features: []gpkgtest.Feature{{Geometry: sq}},
	})
	c := newTestCache(t, Options{Dir: dir})
	nl, err := c.LoadLayer(context.Background(), path, "merc")
	if err != nil {
		t.Fatalf("LoadLayer: %v", err)
	}
	minLon, minLat := mercatorToLonLat(x0, y0)
	maxLon, maxLat := mercatorToLonLat(x1, y1)
	b := nl.Descriptor.BBox
	for _, p := range [][2]float64{{b.MinX, minLon}, {b.MinY, minLat}, {b.MaxX, maxLon}, {b.MaxY, maxLat}} {
		if math.Abs(p[0]-p[1]) > 1e-9 {
			t.Fatalf("bbox=%+v want [%f %f %f %f]", b, minLon, minLat, maxLon, maxLat)
		}
	}
	if nl.Descriptor.GeometryKind != model.KindPolygon || nl.Descriptor.FeatureCount != 1 {
		t.Fatalf("descriptor=%+v", nl.Descriptor)
	}
}

func TestLoadLayer_UndeclaredCRSUsesDefault(t *testing.T) {
	dir := t.TempDir()
	path := writeGeoJSON(t, dir, "ports.geojson", "", pointJSON(earthRadius*math.Pi/2, 0))

	c := newTestCache(t, Options{Dir: dir, DefaultCRS: crs.WebMercator})
	nl, err := c.LoadLayer(context.Background(), path, "ports")
	if err != nil {
		t.Fatalf("LoadLayer: %v", err)
	}
	p := nl.Features[0].Geometry.(orb.Point)
	if math.Abs(p[0]-90) > 1e-9 || math.Abs(p[1]) > 1e-9 {
		t.Fatalf("point=%v want [90 0]", p)
	}

	c = newTestCache(t, Options{Dir: dir})
	nl, err = c.LoadLayer(context.Background(), path, "ports")
	if err != nil {
		t.Fatalf("LoadLayer: %v", err)
	}
	if p := nl.Features[0].Geometry.(orb.Point); p[0] != earthRadius*math.Pi/2 {
		t.Fatalf("default EPSG:4326 must leave coordinates untouched, got %v", p)
	}
}

func TestLoadLayer_UnsupportedCRS(t *testing.T) {
	dir := t.TempDir()
	path := writeGeoJSON(t, dir, "osgb.geojson", "EPSG:27700", pointJSON(530000, 180000))
	c := newTestCache(t, Options{Dir: dir})
	_, err := c.LoadLayer(context.Background(), path, "osgb")
	if !errors.Is(err, ErrUnsupportedCRS) || Classify(err) != Unsupported {
		t.Fatalf("err=%v want ErrUnsupportedCRS", err)
	}
}

func TestLoad_ETRS89LAEALayer(t *testing.T) {
	dir := t.TempDir()
	writeGeoJSON(t, dir, "bbt.geojson", "EPSG:3035",
		pointJSON(4321000, 3210000), pointJSON(3962799.45, 2999718.85))
	c := newTestCache(t, Options{Dir: dir, Preload: true})
	r := loadOrFail(t, c)
	if r.Layers != 1 || len(r.Failed) != 0 {
		t.Fatalf("report=%+v", r)
	}
	d, ok := c.Lookup("Bbt")
	if !ok || d.SourceCRS != "EPSG:3035" {
		t.Fatalf("lookup=%+v,%v", d, ok)
	}
	if math.Abs(d.BBox.MinX-5) > 1e-6 || math.Abs(d.BBox.MinY-50) > 1e-6 ||
		math.Abs(d.BBox.MaxX-10) > 1e-6 || math.Abs(d.BBox.MaxY-52) > 1e-6 {
		t.Fatalf("bbox=%+v want about 5,50,10,52", d.BBox)
	}
	if _, err := c.Fetch(context.Background(), "Bbt", 0); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
}

func TestLoadLayer_ThreeDimensionalPolygonKeepsTopology(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "depth.gpkg")
	outer := []geom.Coord{{0, 0, -1}, {8, 0, -2}, {8, 8, -3}, {4, 10, -3}, {0, 8, -4}, {0, 0, -1}}
	hole := []geom.Coord{{2, 2, -9}, {4, 2, -9}, {4, 4, -9}, {2, 2, -9}}
	poly := geom.NewPolygon(geom.XYZ).MustSetCoords([][]geom.Coord{outer, hole})
	gpkgtest.Write(t, path, gpkgtest.Layer{
		Name: "depth", GeometryType: "POLYGONZ", SRSID: 4326,
		Features: []gpkgtest.Feature{{Geometry: poly}},
	})
	c := newTestCache(t, Options{Dir: dir})
	nl, err := c.GetOrLoad(context.Background(), path, "depth")
	if err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
	p, ok := nl.Features[0].Geometry.(orb.Polygon)
	if !ok {
		t.Fatalf("geometry=%T", nl.Features[0].Geometry)
	}
	if len(p) != 2 || len(p[0]) != len(outer) || len(p[1]) != len(hole) {
		t.Fatalf("rings=%d exterior=%d interior=%d", len(p), len(p[0]), len(p[1]))
	}
	for i, c := range outer {
		if p[0][i] != (orb.Point{c[0], c[1]}) {
			t.Fatalf("exterior[%d]=%v want %v", i, p[0][i], c[:2])
		}
	}
	for i, c := range hole {
		if p[1][i] != (orb.Point{c[0], c[1]}) {
			t.Fatalf("interior[%d]=%v want %v", i, p[1][i], c[:2])
		}
	}
}

func TestLoadLayer_EmptyIsAbsent(t *testing.T) {
	dir := t.TempDir()
	path := writeGeoJSON(t, dir, "void.geojson", "", "null", "null")
	c := newTestCache(t, Options{Dir: dir})
	_, err := c.LoadLayer(context.Background(), path, "void")
	if !errors.Is(err, ErrEmptyLayer) {
		t.Fatalf("err=%v want ErrEmptyLayer", err)
	}
	if Classify(err) != NotFound {
		t.Fatalf("empty layer classified %v", Classify(err))
	}
}

func TestLoadLayer_DropsNullGeometriesAndRecomputes(t *testing.T) {
	dir := t.TempDir()
	path := writeGeoJSON(t, dir, "mixed.geojson", "", "null", pointJSON(1, 2), pointJSON(-3, 5))
	c := newTestCache(t, Options{Dir: dir})
	nl, err := c.LoadLayer(context.Background(), path, "mixed")
	if err != nil {
		t.Fatalf("LoadLayer: %v", err)
	}
	d := nl.Descriptor
	if d.FeatureCount != 2 || d.GeometryKind != model.KindPoint {
		t.Fatalf("descriptor=%+v", d)
	}
	if d.BBox != (model.BBox{MinX: -3, MinY: 2, MaxX: 1, MaxY: 5}) {
		t.Fatalf("bbox=%+v", d.BBox)
	}
	if nl.Features[0].ID != int64(2) || nl.Features[0].Properties["n"] != int64(1) {
		t.Fatalf("first feature=%+v", nl.Features[0])
	}
}

func TestLoadLayer_MissingFileAndLayer(t *testing.T) {
	dir := t.TempDir()
	path := writeGeoJSON(t, dir, "one.geojson", "", pointJSON(0, 0))
	c := newTestCache(t, Options{Dir: dir})

	_, err := c.LoadLayer(context.Background(), path, "two")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
	_, err = c.LoadLayer(context.Background(), filepath.Join(dir, "gone.geojson"), "gone")
	if err == nil || Classify(err) != Failed {
		t.Fatalf("missing file err=%v class=%v want Failed", err, Classify(err))
	}
	_, err = c.LoadLayer(context.Background(), filepath.Join(dir, "x.shp"), "x")
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err=%v want ErrUnsupported", err)
	}
}

func TestBoundsSummary(t *testing.T) {
	descs := []model.LayerDescriptor{
		{FeatureCount: 1, BBox: model.BBox{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}},
		{FeatureCount: 4, BBox: model.BBox{MinX: 2, MinY: 2, MaxX: 3, MaxY: 3}},
		{FeatureCount: 2, BBox: model.BBox{MinX: -1, MinY: -1, MaxX: 0, MaxY: 0}},
		{FeatureCount: 0},
	}
	s, ok := BoundsSummary(descs)
	if !ok {
		t.Fatalf("ok=false")
	}
	if s.OverallBounds != [4]float64{-1, -1, 3, 3} || s.Center != [2]float64{1, 1} || s.LayerCount != 3 {
		t.Fatalf("summary=%+v", s)
	}
}

func TestBoundsSummary_Empty(t *testing.T) {
	s, ok := BoundsSummary(nil)
	if ok {
		t.Fatalf("empty catalog must be absent, got %+v", s)
	}
	c := newTestCache(t, Options{})
	if _, ok := c.Summary(); ok {
		t.Fatalf("unloaded cache reported a summary")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Outcome
	}{
		{nil, Found},
		{ErrNotFound, NotFound},
		{ErrEmptyLayer, NotFound},
		{ErrUnsupported, Unsupported},
		{ErrUnsupportedCRS, Unsupported},
		{ErrSourceUnreadable, Failed},
		{ErrSimplify, Failed},
		{errors.New("disk on fire"), Failed},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("Classify(%v)=%v want %v", c.err, got, c.want)
		}
	}
}

func geomSquare(layout geom.Layout, x, y, size float64) *geom.Polygon {
	return geom.NewPolygon(layout).MustSetCoords([][]geom.Coord{{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}})
}
