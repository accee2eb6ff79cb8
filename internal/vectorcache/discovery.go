package vectorcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mohammed-shakir/vector-layer-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-layer-cache/internal/geo/crs"
	"github.com/mohammed-shakir/vector-layer-cache/internal/source"
)

// DiscoverSources lists the recognized source files directly inside the
// configured directory, sorted by path. A missing directory is empty.
func (c *Cache) DiscoverSources() ([]string, error) {
	entries, err := os.ReadDir(c.opts.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.log.Warn("vector directory does not exist", "dir", c.opts.Dir)
			return []string{}, nil
		}
		return nil, fmt.Errorf("read vector directory %s: %w", c.opts.Dir, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(c.opts.Dir, e.Name())
		if c.reg.Recognized(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	c.log.Debug("discovered source files", "dir", c.opts.Dir, "count", len(out))
	return out, nil
}

// Recognizes reports whether path has an extension some reader handles.
func (c *Cache) Recognizes(path string) bool { return c.reg.Recognized(path) }

// DescribeLayers returns the descriptors of every layer in path that could
// be described. Broken layers are logged and skipped; a file that cannot be
// opened at all is an error wrapping ErrSourceUnreadable.
func (c *Cache) DescribeLayers(ctx context.Context, path string) ([]model.LayerDescriptor, error) {
	descs, _, err := c.describe(ctx, path)
	return descs, err
}

func (c *Cache) describe(ctx context.Context, path string) ([]model.LayerDescriptor, []source.LayerError, error) {
	rd, err := c.reg.For(path)
	if err != nil {
		return nil, nil, err
	}
	metas, failed, err := rd.Describe(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("describe %s: %w", path, err)
	}
	out := make([]model.LayerDescriptor, 0, len(metas))
	for _, m := range metas {
		d, err := c.descriptorFor(path, m)
		if err != nil {
			failed = append(failed, source.LayerError{Layer: m.Name, Err: err})
			continue
		}
		out = append(out, d)
	}
	for _, f := range failed {
		c.log.Error("skipping layer", "path", path, "layer", f.Layer, "err", f.Err)
	}
	return out, failed, nil
}

func (c *Cache) descriptorFor(path string, m source.LayerMeta) (model.LayerDescriptor, error) {
	code, err := crs.Parse(m.CRS, c.opts.DefaultCRS)
	if err != nil {
		return model.LayerDescriptor{}, err
	}
	rp, err := crs.For(code)
	if err != nil {
		return model.LayerDescriptor{}, err
	}
	var bbox model.BBox
	count := m.FeatureCount
	if m.HasBBox {
		if bbox, err = rp.BBox(m.BBox); err != nil {
			return model.LayerDescriptor{}, fmt.Errorf("reproject bounds: %w", err)
		}
	} else {
		// no geometry to take an extent from, so nothing to serve
		count = 0
	}
	file := filepath.Base(path)
	return model.NewLayerDescriptor(model.DescriptorParams{
		SourcePath:   path,
		SourceFile:   file,
		LayerName:    m.Name,
		DisplayName:  DisplayName(stem(file), m.Name),
		GeometryKind: m.GeometryKind,
		FeatureCount: count,
		BBox:         bbox,
		SourceCRS:    crs.Name(code),
	})
}

// DisplayName title-cases the file stem, with underscores read as spaces,
// and appends the layer name when it differs from the stem.
func DisplayName(fileStem, layer string) string {
	titler := cases.Title(language.Und)
	file := titler.String(strings.ReplaceAll(fileStem, "_", " "))
	if strings.EqualFold(fileStem, layer) {
		return file
	}
	return file + " - " + titler.String(strings.ReplaceAll(layer, "_", " "))
}

func stem(file string) string {
	return strings.TrimSuffix(file, filepath.Ext(file))
}
