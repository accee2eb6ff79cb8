package vectorcache

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/twpayne/go-geom"

	"github.com/mohammed-shakir/vector-layer-cache/internal/source/gpkg/gpkgtest"
)

func loadOrFail(t *testing.T, c *Cache) LoadReport {
	t.Helper()
	r, err := c.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return r
}

func TestHasChanged_AdditionRemovalModification(t *testing.T) {
	dir := t.TempDir()
	a := writeGeoJSON(t, dir, "a.geojson", "", pointJSON(0, 0))
	c := newTestCache(t, Options{Dir: dir, Preload: true})

	if !c.HasChanged() {
		t.Fatalf("an unloaded cache must report changed")
	}
	loadOrFail(t, c)
	if c.HasChanged() {
		t.Fatalf("unchanged directory reported changed")
	}

	b := writeGeoJSON(t, dir, "b.geojson", "", pointJSON(1, 1))
	if !c.HasChanged() {
		t.Fatalf("added file not detected")
	}
	loadOrFail(t, c)
	if c.HasChanged() {
		t.Fatalf("changed right after reload")
	}

	if err := os.Remove(b); err != nil {
		t.Fatal(err)
	}
	if !c.HasChanged() {
		t.Fatalf("removed file not detected")
	}
	loadOrFail(t, c)

	fi, err := os.Stat(a)
	if err != nil {
		t.Fatal(err)
	}
	later := fi.ModTime().Add(3 * time.Second)
	if err := os.Chtimes(a, later, later); err != nil {
		t.Fatal(err)
	}
	if !c.HasChanged() {
		t.Fatalf("touched file not detected")
	}
	loadOrFail(t, c)
	if c.HasChanged() {
		t.Fatalf("changed with no other changes")
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if c.HasChanged() {
		t.Fatalf("unrecognized file must not count as a change")
	}
}

func TestReloadIfChanged(t *testing.T) {
	dir := t.TempDir()
	writeGeoJSON(t, dir, "a.geojson", "", pointJSON(0, 0))
	c := newTestCache(t, Options{Dir: dir, Preload: true})
	ctx := context.Background()

	reloaded, err := c.ReloadIfChanged(ctx)
	if err != nil || !reloaded {
		t.Fatalf("first ReloadIfChanged=%v,%v want true", reloaded, err)
	}
	if _, err := c.Fetch(ctx, "a.geojson/a", 0.5); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if st := c.Stats(); st.TierB != 1 {
		t.Fatalf("tier b=%d want 1", st.TierB)
	}

	reloaded, err = c.ReloadIfChanged(ctx)
	if err != nil || reloaded {
		t.Fatalf("unchanged ReloadIfChanged=%v,%v want false", reloaded, err)
	}
	if st := c.Stats(); st.TierB != 1 {
		t.Fatalf("a no-op reload must not clear caches, tier b=%d", st.TierB)
	}

	writeGeoJSON(t, dir, "b.geojson", "", pointJSON(5, 5))
	gen := c.Stats().Generation
	reloaded, err = c.ReloadIfChanged(ctx)
	if err != nil || !reloaded {
		t.Fatalf("ReloadIfChanged=%v,%v want true", reloaded, err)
	}
	st := c.Stats()
	if st.TierB != 0 || st.Layers != 2 || st.Generation != gen+1 {
		t.Fatalf("after reload stats=%+v", st)
	}
	if _, ok := c.Lookup("B"); !ok {
		t.Fatalf("new layer not in catalog")
	}
}

func TestLoad_PreloadWarmsAndReports(t *testing.T) {
	dir := t.TempDir()
	gpkgtest.Write(t, filepath.Join(dir, "bbt.gpkg"),
		gpkgtest.Layer{
			Name: "areas", GeometryType: "POLYGON", SRSID: 4326,
			Features: []gpkgtest.Feature{{Geometry: geomSquare(geom.XY, 0, 0, 1)}},
		},
		gpkgtest.Layer{Name: "nothing", GeometryType: "POLYGON", SRSID: 4326},
		gpkgtest.Layer{
			Name: "broken", GeometryType: "POINT", SRSID: 9999,
			Features: []gpkgtest.Feature{{Geometry: geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{1, 1})}},
		},
	)
	writeGeoJSON(t, dir, "stations.geojson", "", pointJSON(2, 2), pointJSON(3, 4))
	if err := os.WriteFile(filepath.Join(dir, "corrupt.gpkg"), []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}

	c := newTestCache(t, Options{Dir: dir, Preload: true, Capacity: 1, EvictBatch: 1})
	r := loadOrFail(t, c)
	if r.Files != 3 || r.Layers != 2 || r.Warmed != 1 {
		t.Fatalf("report=%+v", r)
	}
	if len(r.Empty) != 1 || r.Empty[0] != "bbt.gpkg/nothing" {
		t.Fatalf("empty=%v", r.Empty)
	}
	if _, ok := r.Failed[filepath.Join(dir, "corrupt.gpkg")]; !ok {
		t.Fatalf("unreadable file not reported: %v", r.Failed)
	}
	if _, ok := r.Failed[filepath.Join(dir, "bbt.gpkg")+"/broken"]; !ok {
		t.Fatalf("broken layer not reported: %v", r.Failed)
	}

	layers := c.Layers()
	if layers[0].DisplayName != "Bbt - Areas" || layers[1].DisplayName != "Stations" {
		t.Fatalf("catalog=%+v", layers)
	}
	if st := c.Stats(); st.TierA != 1 || !st.Loaded {
		t.Fatalf("stats=%+v", st)
	}
	s, ok := c.Summary()
	if !ok || s.OverallBounds != [4]float64{0, 0, 3, 4} || s.LayerCount != 2 {
		t.Fatalf("summary=%+v ok=%v", s, ok)
	}
	if err := c.Ready(); err != nil {
		t.Fatalf("Ready: %v", err)
	}
}

func TestLoad_WithoutPreloadUsesMetadata(t *testing.T) {
	dir := t.TempDir()
	writeGeoJSON(t, dir, "stations.geojson", "", pointJSON(2, 2), pointJSON(3, 4))
	c := newTestCache(t, Options{Dir: dir})
	if err := c.Ready(); err == nil {
		t.Fatalf("Ready before Load must fail")
	}
	r := loadOrFail(t, c)
	if r.Layers != 1 || r.Warmed != 0 {
		t.Fatalf("report=%+v", r)
	}
	if st := c.Stats(); st.TierA != 0 {
		t.Fatalf("tier a=%d want 0 without preload", st.TierA)
	}
	d, ok := c.Lookup("Stations")
	if !ok || d.FeatureCount != 2 {
		t.Fatalf("lookup=%+v,%v", d, ok)
	}
}

func TestLoad_WithoutPreloadSkipsGeometrylessLayers(t *testing.T) {
	dir := t.TempDir()
	writeGeoJSON(t, dir, "a.geojson", "", boxJSON(10, 10, 11, 11), "null")
	writeGeoJSON(t, dir, "b.geojson", "", "null", "null")
	c := newTestCache(t, Options{Dir: dir})
	r := loadOrFail(t, c)
	if r.Layers != 1 || len(r.Empty) != 1 || r.Empty[0] != "b.geojson/b" {
		t.Fatalf("report=%+v", r)
	}
	if _, ok := c.Lookup("B"); ok {
		t.Fatalf("layer without geometry listed")
	}
	d, ok := c.Lookup("A")
	if !ok || d.FeatureCount != 1 {
		t.Fatalf("lookup=%+v,%v want one feature", d, ok)
	}
	s, ok := c.Summary()
	if !ok || s.OverallBounds != [4]float64{10, 10, 11, 11} || s.LayerCount != 1 {
		t.Fatalf("summary=%+v ok=%v", s, ok)
	}

	sl, err := c.Fetch(context.Background(), "A", 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	var doc struct {
		Metadata struct {
			FeatureCount int `json:"feature_count"`
		} `json:"metadata"`
	}
	if err := json.Unmarshal(sl.Body, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Metadata.FeatureCount != d.FeatureCount {
		t.Fatalf("served count=%d listed count=%d", doc.Metadata.FeatureCount, d.FeatureCount)
	}
}

func TestFetch(t *testing.T) {
	dir := t.TempDir()
	writeGeoJSON(t, dir, "bbt_sites.geojson", "", pointJSON(2, 2))
	c := newTestCache(t, Options{Dir: dir, Preload: true})
	loadOrFail(t, c)
	ctx := context.Background()

	byName, err := c.Fetch(ctx, "Bbt Sites", 0)
	if err != nil {
		t.Fatalf("Fetch by display name: %v", err)
	}
	byID, err := c.Fetch(ctx, "bbt_sites.geojson/bbt_sites", 0)
	if err != nil {
		t.Fatalf("Fetch by id: %v", err)
	}
	if byName != byID {
		t.Fatalf("both identifiers must resolve to one cached rendition")
	}
	var doc map[string]any
	if err := json.Unmarshal(byID.Body, &doc); err != nil {
		t.Fatalf("body: %v", err)
	}
	if doc["type"] != "FeatureCollection" {
		t.Fatalf("type=%v", doc["type"])
	}

	_, err = c.Fetch(ctx, "nope", 0)
	if !errors.Is(err, ErrNotFound) || Classify(err) != NotFound {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestCatalogVersion_FollowsWatermarks(t *testing.T) {
	dir := t.TempDir()
	a := writeGeoJSON(t, dir, "a.geojson", "", pointJSON(0, 0))
	c := newTestCache(t, Options{Dir: dir})
	loadOrFail(t, c)
	v1 := c.CatalogVersion()
	loadOrFail(t, c)
	if v2 := c.CatalogVersion(); v2 != v1 {
		t.Fatalf("version changed without file changes: %s vs %s", v1, v2)
	}
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(a, later, later); err != nil {
		t.Fatal(err)
	}
	loadOrFail(t, c)
	if c.CatalogVersion() == v1 {
		t.Fatalf("version must follow modification times")
	}
}
