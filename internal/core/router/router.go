// Package router holds the HTTP handlers of the vector layer API.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/vector-layer-cache/internal/cache/keys"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/config"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-layer-cache/internal/core/observability"
	mylog "github.com/mohammed-shakir/vector-layer-cache/internal/logger"
	"github.com/mohammed-shakir/vector-layer-cache/internal/vectorcache"
)

// Catalog is the part of the layer cache the API serves from.
type Catalog interface {
	Layers() []model.LayerDescriptor
	Lookup(identifier string) (model.LayerDescriptor, bool)
	Fetch(ctx context.Context, identifier string, tolerance float64) (*model.SerializedLayer, error)
	Summary() (model.BoundsSummary, bool)
	CatalogVersion() string
	Load(ctx context.Context) (vectorcache.LoadReport, error)
	ReloadIfChanged(ctx context.Context) (bool, error)
}

// SharedStore is an optional cross-process store of serialized bodies.
type SharedStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

type API struct {
	logger  *slog.Logger
	cfg     config.Config
	catalog Catalog
	shared  SharedStore
}

// New builds the API; shared may be nil.
func New(logger *slog.Logger, cfg config.Config, catalog Catalog, shared SharedStore) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{logger: logger, cfg: cfg, catalog: catalog, shared: shared}
}

// Mount registers the API routes on r.
func (a *API) Mount(r chi.Router) {
	r.Get("/api/vector/layers", instrument("/api/vector/layers", a.listLayers))
	r.Get("/api/vector/layer/*", instrument("/api/vector/layer", a.getLayer))
	r.Get("/api/vector/bounds", instrument("/api/vector/bounds", a.bounds))
	r.Post("/api/vector/reload", instrument("/api/vector/reload", a.reload))
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

// layerView is the listing shape of a descriptor; the absolute path stays private.
type layerView struct {
	ID           string          `json:"id"`
	LayerName    string          `json:"layer_name"`
	DisplayName  string          `json:"display_name"`
	GeometryType string          `json:"geometry_type"`
	FeatureCount int             `json:"feature_count"`
	Bounds       [4]float64      `json:"bounds"`
	CRS          string          `json:"crs"`
	SourceCRS    string          `json:"source_crs"`
	SourceFile   string          `json:"source_file"`
	Category     string          `json:"category"`
	Style        model.StyleHint `json:"style"`
}

func viewOf(d model.LayerDescriptor) layerView {
	return layerView{
		ID:           d.ID(),
		LayerName:    d.LayerName,
		DisplayName:  d.DisplayName,
		GeometryType: string(d.GeometryKind),
		FeatureCount: d.FeatureCount,
		Bounds:       d.BBox.Array(),
		CRS:          d.CRS,
		SourceCRS:    d.SourceCRS,
		SourceFile:   d.SourceFile,
		Category:     "vector",
		Style:        d.Style,
	}
}

func (a *API) listLayers(w http.ResponseWriter, _ *http.Request) {
	descs := a.catalog.Layers()
	out := make([]layerView, 0, len(descs))
	for _, d := range descs {
		out = append(out, viewOf(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) bounds(w http.ResponseWriter, _ *http.Request) {
	s, ok := a.catalog.Summary()
	if !ok {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) getLayer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		if u, err := url.PathUnescape(name); err == nil {
			name = u
		}
	}
	if strings.TrimSpace(name) == "" {
		writeError(w, http.StatusBadRequest, "missing layer name")
		return
	}
	tol, err := ParseSimplify(r.URL.Query().Get("simplify"), a.cfg.Vector.DefaultSimplify)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, ok := a.catalog.Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("layer %q not found", name))
		return
	}
	ctx := mylog.WithLayer(r.Context(), d.ID())

	var sharedKey string
	if a.shared != nil {
		sharedKey = a.catalog.CatalogVersion() + ":" + keys.VariantKey(keys.LayerKey(d.SourcePath, d.LayerName), tol)
		if body, ok := a.sharedGet(ctx, sharedKey); ok {
			writeBody(w, "shared", body)
			return
		}
	}

	s, err := a.catalog.Fetch(ctx, d.ID(), tol)
	if err != nil {
		code := statusFor(vectorcache.Classify(err))
		if code >= http.StatusInternalServerError {
			a.logger.ErrorContext(ctx, "layer fetch failed", "err", err, "tolerance", tol)
		}
		writeError(w, code, err.Error())
		return
	}

	if a.shared != nil {
		a.sharedSet(ctx, sharedKey, d.ID(), s.Body)
	}
	writeBody(w, "local", s.Body)
}

func (a *API) sharedGet(ctx context.Context, key string) ([]byte, bool) {
	cctx, cancel := a.opContext(ctx)
	defer cancel()
	body, ok, err := a.shared.Get(cctx, key)
	if err != nil {
		a.logger.WarnContext(ctx, "shared store get failed", "err", err)
		return nil, false
	}
	return body, ok
}

func (a *API) sharedSet(ctx context.Context, key, layerID string, body []byte) {
	cctx, cancel := a.opContext(ctx)
	defer cancel()
	if err := a.shared.Set(cctx, key, body, a.cfg.SharedTTLFor(layerID)); err != nil {
		a.logger.WarnContext(ctx, "shared store set failed", "err", err)
	}
}

func (a *API) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.CacheOpTimeout > 0 {
		return context.WithTimeout(ctx, a.cfg.CacheOpTimeout)
	}
	return context.WithCancel(ctx)
}

func (a *API) reload(w http.ResponseWriter, r *http.Request) {
	type resp struct {
		Reloaded bool              `json:"reloaded"`
		Layers   int               `json:"layers"`
		Empty    []string          `json:"empty,omitempty"`
		Failed   map[string]string `json:"failed,omitempty"`
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	var (
		out resp
		err error
	)
	if force {
		var rep vectorcache.LoadReport
		rep, err = a.catalog.Load(r.Context())
		out = resp{Reloaded: err == nil, Layers: rep.Layers, Empty: rep.Empty, Failed: rep.Failed}
	} else {
		out.Reloaded, err = a.catalog.ReloadIfChanged(r.Context())
		out.Layers = len(a.catalog.Layers())
	}
	if err != nil {
		a.logger.ErrorContext(r.Context(), "catalog reload failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ParseSimplify reads the simplify query value. Empty uses def; a
// non-positive value means no simplification.
func ParseSimplify(raw string, def float64) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return keys.NormalizeTolerance(def), nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid simplify %q: want a finite number", raw)
	}
	return keys.NormalizeTolerance(v), nil
}

func statusFor(o vectorcache.Outcome) int {
	switch o {
	case vectorcache.Found:
		return http.StatusOK
	case vectorcache.NotFound:
		return http.StatusNotFound
	case vectorcache.Unsupported:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeBody(w http.ResponseWriter, source string, body []byte) {
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("X-Cache", source)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
