package keys

import (
	"regexp"
	"strings"
	"testing"
	"time"
	"unicode"
)

func TestLayerKey_Deterministic(t *testing.T) {
	k1 := LayerKey("/data/vector/bbt.gpkg", "areas")
	k2 := LayerKey("/data/vector/./bbt.gpkg", "areas")
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
	if !regexp.MustCompile(`^[A-Za-z0-9:_=.\-]+$`).MatchString(k1) {
		t.Fatalf("key contains disallowed characters: %s", k1)
	}
}

func TestLayerKey_SameBaseDifferentDirs(t *testing.T) {
	k1 := LayerKey("/a/bbt.gpkg", "areas")
	k2 := LayerKey("/b/bbt.gpkg", "areas")
	if k1 == k2 {
		t.Fatalf("different paths must produce different keys")
	}
	if LayerKey("/a/bbt.gpkg", "areas") == LayerKey("/a/bbt.gpkg", "Areas") {
		t.Fatalf("layer names are case sensitive")
	}
}

func TestLayerKey_UnicodeSafety(t *testing.T) {
	k := LayerKey("/data/göteborg vägar.geojson", "雪")
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	if !strings.Contains(k, ":f=") {
		t.Fatalf("missing hash suffix: %s", k)
	}
}

func TestVariantKey_Tolerance(t *testing.T) {
	lk := LayerKey("/a/bbt.gpkg", "areas")
	if VariantKey(lk, 0) != VariantKey(lk, -1) {
		t.Fatalf("non-positive tolerances must share a key")
	}
	if VariantKey(lk, 0.01) == VariantKey(lk, 0) {
		t.Fatalf("simplified variant must differ")
	}
	if got, want := VariantKey(lk, 0.5), lk+":simplify=0.5"; got != want {
		t.Fatalf("VariantKey=%s want %s", got, want)
	}
	if LayerOf(VariantKey(lk, 0.25)) != lk {
		t.Fatalf("LayerOf did not recover %s", lk)
	}
}

func TestCatalogVersion_OrderIndependent(t *testing.T) {
	t0 := time.Unix(1700000000, 0)
	a := map[string]time.Time{"/x/a.gpkg": t0, "/x/b.geojson": t0.Add(time.Second)}
	b := map[string]time.Time{"/x/b.geojson": t0.Add(time.Second), "/x/a.gpkg": t0}
	if CatalogVersion(a) != CatalogVersion(b) {
		t.Fatalf("version depends on map order")
	}
	b["/x/a.gpkg"] = t0.Add(time.Nanosecond)
	if CatalogVersion(a) == CatalogVersion(b) {
		t.Fatalf("mtime change must change the version")
	}
}
