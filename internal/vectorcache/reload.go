package vectorcache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mohammed-shakir/vector-layer-cache/internal/cache/keys"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/observability"
)

// LoadReport summarizes one full load.
type LoadReport struct {
	Files    int
	Layers   int
	Warmed   int
	Empty    []string
	Failed   map[string]string
	Duration time.Duration
	At       time.Time
}

// Load clears both tiers and rebuilds the catalog from disk unconditionally.
func (c *Cache) Load(ctx context.Context) (LoadReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(ctx)
}

// HasChanged reports whether a file was added, removed or modified since the
// last load. A directory that cannot be listed counts as changed.
func (c *Cache) HasChanged() bool {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return true
	}
	marks := make(map[string]time.Time, len(c.marks))
	for p, t := range c.marks {
		marks[p] = t
	}
	c.mu.Unlock()

	changed, err := c.changedSince(marks)
	if err != nil {
		c.log.Warn("change detection failed", "dir", c.opts.Dir, "err", err)
		return true
	}
	return changed
}

// ReloadIfChanged runs a full Load when HasChanged would report true. The
// check and the reload happen under one lock hold, so concurrent callers
// reload at most once per change.
func (c *Cache) ReloadIfChanged(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		changed, err := c.changedSince(c.marks)
		if err == nil && !changed {
			return false, nil
		}
	}
	c.log.Info("source files changed, reloading", "dir", c.opts.Dir)
	_, err := c.loadLocked(ctx)
	return true, err
}

func (c *Cache) changedSince(marks map[string]time.Time) (bool, error) {
	paths, err := c.DiscoverSources()
	if err != nil {
		return false, err
	}
	if len(paths) != len(marks) {
		return true, nil
	}
	for _, p := range paths {
		prev, ok := marks[p]
		if !ok {
			return true, nil
		}
		fi, err := os.Stat(p)
		if err != nil {
			return true, nil
		}
		if !fi.ModTime().Equal(prev) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Cache) loadLocked(ctx context.Context) (LoadReport, error) {
	start := time.Now()
	c.gen++
	c.tierA.Purge()
	c.tierB.Purge()
	c.variants = map[string]map[string]struct{}{}

	report := LoadReport{Failed: map[string]string{}, At: start}
	paths, err := c.DiscoverSources()
	if err != nil {
		observability.ObserveReload(time.Since(start), len(c.catalog), err)
		return report, err
	}

	catalog := make([]model.LayerDescriptor, 0, len(paths))
	marks := make(map[string]time.Time, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			observability.ObserveReload(time.Since(start), len(c.catalog), err)
			return report, err
		}
		if fi, err := os.Stat(p); err == nil {
			marks[p] = fi.ModTime()
		}
		report.Files++

		descs, failed, err := c.describe(ctx, p)
		if err != nil {
			c.log.Error("cannot read source file", "path", p, "err", err)
			report.Failed[p] = err.Error()
			continue
		}
		for _, f := range failed {
			report.Failed[p+"/"+f.Layer] = f.Err.Error()
		}
		for _, d := range descs {
			if !c.opts.Preload {
				if d.FeatureCount == 0 {
					c.log.Warn("layer is empty", "path", p, "layer", d.LayerName)
					report.Empty = append(report.Empty, d.ID())
					continue
				}
				catalog = append(catalog, d)
				continue
			}
			nl, err := c.LoadLayer(ctx, p, d.LayerName)
			switch {
			case errors.Is(err, ErrEmptyLayer):
				report.Empty = append(report.Empty, d.ID())
				continue
			case err != nil:
				c.log.Error("error loading layer", "path", p, "layer", d.LayerName, "err", err)
				report.Failed[d.SourcePath+"/"+d.LayerName] = err.Error()
				continue
			}
			catalog = append(catalog, nl.Descriptor)
			if c.tierA.Len() < c.opts.Capacity {
				c.tierA.Add(keys.LayerKey(p, d.LayerName), nl)
				report.Warmed++
			}
		}
	}
	warnDuplicateNames(c, catalog)

	c.catalog = catalog
	c.marks = marks
	c.loaded = true
	report.Layers = len(catalog)
	report.Duration = time.Since(start)
	c.report = report
	observability.ObserveReload(report.Duration, report.Layers, nil)
	c.log.Info("loaded vector layers",
		"files", report.Files,
		"layers", report.Layers,
		"warmed", report.Warmed,
		"empty", len(report.Empty),
		"failed", len(report.Failed),
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

func warnDuplicateNames(c *Cache, catalog []model.LayerDescriptor) {
	seen := make(map[string]string, len(catalog))
	for _, d := range catalog {
		if prev, ok := seen[d.DisplayName]; ok {
			c.log.Warn("duplicate display name", "display_name", d.DisplayName, "first", prev, "second", d.ID())
			continue
		}
		seen[d.DisplayName] = d.ID()
	}
}

// LastReport returns the report of the most recent successful load.
func (c *Cache) LastReport() LoadReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.report
	r.Empty = append([]string(nil), r.Empty...)
	r.Failed = make(map[string]string, len(c.report.Failed))
	for k, v := range c.report.Failed {
		r.Failed[k] = v
	}
	return r
}

// CatalogVersion fingerprints the watermarks of the current catalog.
func (c *Cache) CatalogVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return keys.CatalogVersion(c.marks)
}

var errNotLoaded = errors.New("catalog not loaded")

// Ready reports an error until the first Load has completed.
func (c *Cache) Ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return fmt.Errorf("vectorcache: %w", errNotLoaded)
	}
	return nil
}
