package geojsonfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/vector-layer-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-layer-cache/internal/source"
)

const sample = `{
  "type": "FeatureCollection",
  "crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::3857"}},
  "features": [
    {"type": "Feature", "id": 7, "properties": {"name": "a", "n": 3, "f": 1.5},
     "geometry": {"type": "Point", "coordinates": [1, 2, 30]}},
    {"type": "Feature", "properties": {"name": "b"}, "geometry": null},
    {"type": "Feature", "properties": {"name": "c"},
     "geometry": {"type": "LineString", "coordinates": [[-4, 0], [5, 9]]}}
  ]
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDescribe_ScansOnce(t *testing.T) {
	path := writeFile(t, "stations.geojson", sample)
	metas, failed, err := New(nil).Describe(context.Background(), path)
	if err != nil || len(failed) != 0 {
		t.Fatalf("Describe err=%v failed=%v", err, failed)
	}
	if len(metas) != 1 {
		t.Fatalf("len=%d want 1", len(metas))
	}
	m := metas[0]
	if m.Name != "stations" || m.FeatureCount != 2 || m.GeometryKind != model.KindPoint {
		t.Fatalf("meta=%+v", m)
	}
	if m.CRS != "urn:ogc:def:crs:EPSG::3857" {
		t.Fatalf("crs=%q", m.CRS)
	}
	want := model.BBox{MinX: -4, MinY: 0, MaxX: 5, MaxY: 9}
	if !m.HasBBox || m.BBox != want {
		t.Fatalf("bbox=%+v want %+v", m.BBox, want)
	}
}

func TestRead_NativeValues(t *testing.T) {
	path := writeFile(t, "stations.geojson", sample)
	l, err := New(nil).Read(context.Background(), path, "stations")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(l.Features) != 3 {
		t.Fatalf("features=%d want 3", len(l.Features))
	}
	f := l.Features[0]
	if f.ID != int64(7) {
		t.Fatalf("id=%#v want int64(7)", f.ID)
	}
	if f.Geometry != (orb.Point{1, 2}) {
		t.Fatalf("geometry=%v want [1 2]", f.Geometry)
	}
	if f.Properties["n"] != int64(3) || f.Properties["f"] != 1.5 {
		t.Fatalf("props=%#v", f.Properties)
	}
	if l.Features[1].Geometry != nil {
		t.Fatalf("null geometry decoded to %v", l.Features[1].Geometry)
	}
}

func TestRead_WrongLayer(t *testing.T) {
	path := writeFile(t, "stations.geojson", sample)
	if _, err := New(nil).Read(context.Background(), path, "other"); !errors.Is(err, source.ErrLayerNotFound) {
		t.Fatalf("err=%v want ErrLayerNotFound", err)
	}
}

func TestDescribe_Corrupt(t *testing.T) {
	path := writeFile(t, "bad.geojson", `{"type": "FeatureCollection", "features": [`)
	if _, _, err := New(nil).Describe(context.Background(), path); !errors.Is(err, source.ErrUnreadable) {
		t.Fatalf("err=%v want ErrUnreadable", err)
	}
}

func TestDescribe_BrokenFeatureFailsLayer(t *testing.T) {
	path := writeFile(t, "broken.geojson", `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{},"geometry":{"type":"Polygon","coordinates":"nope"}}]}`)
	metas, failed, err := New(nil).Describe(context.Background(), path)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(metas) != 0 || len(failed) != 1 {
		t.Fatalf("metas=%v failed=%v", metas, failed)
	}
}
