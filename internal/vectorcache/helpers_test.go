package vectorcache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohammed-shakir/vector-layer-cache/internal/source"
	"github.com/mohammed-shakir/vector-layer-cache/internal/source/geojsonfile"
	"github.com/mohammed-shakir/vector-layer-cache/internal/source/gpkg"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	reg := source.NewRegistry(context.Background(), quietLogger(), gpkg.New(quietLogger()), geojsonfile.New(quietLogger()))
	c, err := New(opts, reg, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// writeGeoJSON writes a FeatureCollection whose features carry the given
// geometry members verbatim. crs may be empty.
func writeGeoJSON(t *testing.T, dir, name, crs string, geometries ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString(`{"type":"FeatureCollection",`)
	if crs != "" {
		fmt.Fprintf(&b, `"crs":{"type":"name","properties":{"name":%q}},`, crs)
	}
	b.WriteString(`"features":[`)
	for i, g := range geometries {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"type":"Feature","id":%d,"properties":{"n":%d},"geometry":%s}`, i+1, i, g)
	}
	b.WriteString(`]}`)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func pointJSON(x, y float64) string {
	return fmt.Sprintf(`{"type":"Point","coordinates":[%g,%g]}`, x, y)
}

func boxJSON(minX, minY, maxX, maxY float64) string {
	return fmt.Sprintf(`{"type":"Polygon","coordinates":[[[%g,%g],[%g,%g],[%g,%g],[%g,%g],[%g,%g]]]}`,
		minX, minY, maxX, minY, maxX, maxY, minX, maxY, minX, minY)
}
