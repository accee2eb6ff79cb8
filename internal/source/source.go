// Package source defines the geometry source reader capability and the
// registry that selects a reader per file format.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/vector-layer-cache/internal/core/model"
)

var (
	// ErrUnreadable marks a source file that could not be opened at all.
	ErrUnreadable = errors.New("source unreadable")
	// ErrLayerNotFound marks a layer name the file does not contain.
	ErrLayerNotFound = errors.New("layer not found in source")
	// ErrUnsupported marks a format whose reader is unavailable.
	ErrUnsupported = errors.New("source format unsupported")
)

// LayerMeta is what a reader learns about a layer from the file's own
// metadata. BBox is expressed in the source CRS.
type LayerMeta struct {
	Name         string
	GeometryKind model.GeometryKind
	FeatureCount int
	BBox         model.BBox
	HasBBox      bool
	CRS          string
}

// RawFeature is a feature as read, with 2D geometry still in the source CRS
// and properties already JSON-native.
type RawFeature struct {
	ID         any
	Geometry   orb.Geometry
	Properties map[string]any
}

type RawLayer struct {
	Meta     LayerMeta
	Features []RawFeature
}

// LayerError records a sibling layer that failed while the rest of the file
// was described.
type LayerError struct {
	Layer string
	Err   error
}

func (e LayerError) Error() string { return fmt.Sprintf("layer %q: %v", e.Layer, e.Err) }
func (e LayerError) Unwrap() error { return e.Err }

// Reader is implemented once per backend.
type Reader interface {
	// Format is a short name used in logs and metrics.
	Format() string
	// Extensions lists lower-case file extensions including the dot.
	Extensions() []string
	// Describe lists the layers of a file without materializing geometry
	// where the format allows it. Per-layer failures come back as
	// LayerErrors next to the layers that did succeed.
	Describe(ctx context.Context, path string) ([]LayerMeta, []LayerError, error)
	// Read returns every feature of one layer.
	Read(ctx context.Context, path, layer string) (*RawLayer, error)
}

// Prober is implemented by readers that depend on a runtime capability.
type Prober interface {
	Probe(ctx context.Context) error
}

type Registry struct {
	byExt       map[string]Reader
	unavailable map[string]error
}

// NewRegistry probes every reader once and indexes it by extension. A reader
// that fails its probe stays registered as unavailable so lookups can report
// ErrUnsupported instead of treating the file as unknown.
func NewRegistry(ctx context.Context, logger *slog.Logger, readers ...Reader) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{byExt: map[string]Reader{}, unavailable: map[string]error{}}
	for _, rd := range readers {
		var probeErr error
		if p, ok := rd.(Prober); ok {
			probeErr = p.Probe(ctx)
		}
		for _, ext := range rd.Extensions() {
			ext = strings.ToLower(ext)
			if probeErr != nil {
				r.unavailable[ext] = probeErr
				continue
			}
			r.byExt[ext] = rd
		}
		if probeErr != nil {
			logger.Warn("source reader unavailable", "format", rd.Format(), "err", probeErr)
		}
	}
	return r
}

// Recognized reports whether path has an extension any reader claims,
// available or not.
func (r *Registry) Recognized(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := r.byExt[ext]; ok {
		return true
	}
	_, ok := r.unavailable[ext]
	return ok
}

func (r *Registry) For(path string) (Reader, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if rd, ok := r.byExt[ext]; ok {
		return rd, nil
	}
	if err, ok := r.unavailable[ext]; ok {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnsupported, ext, err)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
}

// Extensions lists every recognized extension in sorted order.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt)+len(r.unavailable))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	for ext := range r.unavailable {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
