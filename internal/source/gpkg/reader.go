// Package gpkg reads feature layers out of GeoPackage files.
package gpkg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver" // SQLite driver (pure Go)
	_ "github.com/ncruces/go-sqlite3/embed"  // Embed SQLite WASM binary
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/vector-layer-cache/internal/core/model"
	"github.com/mohammed-shakir/vector-layer-cache/internal/geo/planar"
	"github.com/mohammed-shakir/vector-layer-cache/internal/source"
)

const driverName = "sqlite3"

type Reader struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{logger: logger}
}

func (r *Reader) Format() string       { return "gpkg" }
func (r *Reader) Extensions() []string { return []string{".gpkg"} }

// Probe checks that the embedded SQLite engine can start.
func (r *Reader) Probe(ctx context.Context) error {
	db, err := sql.Open(driverName, ":memory:")
	if err != nil {
		return fmt.Errorf("gpkg probe: open: %w", err)
	}
	defer db.Close()
	var v string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&v); err != nil {
		return fmt.Errorf("gpkg probe: %w", err)
	}
	return nil
}

// dsn returns a read-only URI so a missing file is never created.
func dsn(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "mode=ro"}
	return u.String(), nil
}

func open(ctx context.Context, path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", source.ErrUnreadable, path, err)
	}
	name, err := dsn(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", source.ErrUnreadable, path, err)
	}
	db, err := sql.Open(driverName, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", source.ErrUnreadable, path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %s: %w", source.ErrUnreadable, path, err)
	}
	return db, nil
}

type tableInfo struct {
	name     string
	geomCol  string
	geomType string
	srsID    sql.NullInt64
	minX     sql.NullFloat64
	minY     sql.NullFloat64
	maxX     sql.NullFloat64
	maxY     sql.NullFloat64
}

const contentsQuery = `
SELECT c.table_name, g.column_name, g.geometry_type_name, c.srs_id,
       c.min_x, c.min_y, c.max_x, c.max_y
FROM gpkg_contents c
JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
WHERE c.data_type = 'features'`

func tables(ctx context.Context, db *sql.DB, only string) ([]tableInfo, error) {
	q := contentsQuery
	var args []any
	if only != "" {
		q += " AND c.table_name = ?"
		args = append(args, only)
	}
	q += " ORDER BY c.table_name"
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query gpkg_contents: %w", err)
	}
	defer rows.Close()
	var out []tableInfo
	for rows.Next() {
		var t tableInfo
		if err := rows.Scan(&t.name, &t.geomCol, &t.geomType, &t.srsID, &t.minX, &t.minY, &t.maxX, &t.maxY); err != nil {
			return nil, fmt.Errorf("scan gpkg_contents: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gpkg_contents: %w", err)
	}
	return out, nil
}

// srsName resolves an srs_id to "EPSG:<code>". The GeoPackage reserved
// ids 0 and -1 mean "undefined" and resolve to an empty declaration.
func srsName(ctx context.Context, db *sql.DB, id sql.NullInt64) (string, error) {
	if !id.Valid || id.Int64 == 0 || id.Int64 == -1 {
		return "", nil
	}
	var org string
	var code int64
	err := db.QueryRowContext(ctx,
		"SELECT organization, organization_coordsys_id FROM gpkg_spatial_ref_sys WHERE srs_id = ?",
		id.Int64).Scan(&org, &code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("srs_id %d not defined in gpkg_spatial_ref_sys", id.Int64)
	}
	if err != nil {
		return "", fmt.Errorf("query gpkg_spatial_ref_sys: %w", err)
	}
	return strings.ToUpper(strings.TrimSpace(org)) + ":" + fmt.Sprint(code), nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func (r *Reader) Describe(ctx context.Context, path string) ([]source.LayerMeta, []source.LayerError, error) {
	db, err := open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	defer db.Close()

	ts, err := tables(ctx, db, "")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", source.ErrUnreadable, path, err)
	}

	metas := make([]source.LayerMeta, 0, len(ts))
	var failed []source.LayerError
	for _, t := range ts {
		m, err := describeTable(ctx, db, t)
		if err != nil {
			r.logger.Error("describe layer failed", "path", path, "layer", t.name, "err", err)
			failed = append(failed, source.LayerError{Layer: t.name, Err: err})
			continue
		}
		metas = append(metas, m)
	}
	return metas, failed, nil
}

func describeTable(ctx context.Context, db *sql.DB, t tableInfo) (source.LayerMeta, error) {
	crsName, err := srsName(ctx, db, t.srsID)
	if err != nil {
		return source.LayerMeta{}, err
	}
	m := source.LayerMeta{
		Name:         t.name,
		GeometryKind: model.ParseGeometryKind(t.geomType),
		CRS:          crsName,
	}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(t.name)+" WHERE "+quoteIdent(t.geomCol)+" IS NOT NULL").Scan(&m.FeatureCount); err != nil {
		return source.LayerMeta{}, fmt.Errorf("count features: %w", err)
	}
	if t.minX.Valid && t.minY.Valid && t.maxX.Valid && t.maxY.Valid {
		m.BBox = model.BBox{MinX: t.minX.Float64, MinY: t.minY.Float64, MaxX: t.maxX.Float64, MaxY: t.maxY.Float64}
		m.HasBBox = true
		return m, nil
	}
	if m.FeatureCount == 0 {
		return m, nil
	}
	b, ok, err := scanEnvelopes(ctx, db, t)
	if err != nil {
		return source.LayerMeta{}, err
	}
	m.BBox, m.HasBBox = b, ok
	return m, nil
}

// scanEnvelopes derives a layer extent from the geometry headers, decoding
// the geometry only when a header carries no envelope.
func scanEnvelopes(ctx context.Context, db *sql.DB, t tableInfo) (model.BBox, bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT "+quoteIdent(t.geomCol)+" FROM "+quoteIdent(t.name))
	if err != nil {
		return model.BBox{}, false, fmt.Errorf("scan geometry headers: %w", err)
	}
	defer rows.Close()

	var out model.BBox
	found := false
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return model.BBox{}, false, fmt.Errorf("scan geometry: %w", err)
		}
		if len(blob) == 0 {
			continue
		}
		h, err := parseHeader(blob)
		if err != nil {
			return model.BBox{}, false, err
		}
		if h.empty {
			continue
		}
		b := h.envelope
		if !h.hasEnvelope {
			g, err := Decode(blob)
			if err != nil {
				return model.BBox{}, false, err
			}
			pg, err := planar.Reduce(g)
			if err != nil {
				return model.BBox{}, false, err
			}
			if planar.Empty(pg) {
				continue
			}
			b = model.BBoxFromBound(pg.Bound())
		}
		if !found {
			out, found = b, true
			continue
		}
		out = out.Union(b)
	}
	if err := rows.Err(); err != nil {
		return model.BBox{}, false, fmt.Errorf("iterate geometry: %w", err)
	}
	return out, found, nil
}

func (r *Reader) Read(ctx context.Context, path, layer string) (*source.RawLayer, error) {
	db, err := open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ts, err := tables(ctx, db, layer)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", source.ErrUnreadable, path, err)
	}
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: %q in %s", source.ErrLayerNotFound, layer, path)
	}
	t := ts[0]
	crsName, err := srsName(ctx, db, t.srsID)
	if err != nil {
		return nil, fmt.Errorf("%s layer %q: %w", path, layer, err)
	}
	pk, err := primaryKey(ctx, db, t.name)
	if err != nil {
		return nil, fmt.Errorf("%s layer %q: %w", path, layer, err)
	}

	rows, err := db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(t.name))
	if err != nil {
		return nil, fmt.Errorf("%s layer %q: select features: %w", path, layer, err)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%s layer %q: columns: %w", path, layer, err)
	}

	out := &source.RawLayer{Meta: source.LayerMeta{
		Name:         t.name,
		GeometryKind: model.ParseGeometryKind(t.geomType),
		CRS:          crsName,
	}}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%s layer %q: scan feature: %w", path, layer, err)
		}
		f := source.RawFeature{Properties: make(map[string]any, len(cols))}
		for i, c := range cols {
			switch {
			case c == t.geomCol:
				g, err := decodeValue(vals[i])
				if err != nil {
					return nil, fmt.Errorf("%s layer %q feature %d: %w", path, layer, len(out.Features), err)
				}
				f.Geometry = g
			case c == pk:
				f.ID = source.NormalizeValue(vals[i])
			default:
				f.Properties[c] = source.NormalizeValue(vals[i])
			}
		}
		out.Features = append(out.Features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s layer %q: iterate features: %w", path, layer, err)
	}
	out.Meta.FeatureCount = len(out.Features)
	return out, nil
}

func decodeValue(v any) (orb.Geometry, error) {
	var blob []byte
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		blob = t
	case string:
		blob = []byte(t)
	default:
		return nil, fmt.Errorf("geometry column holds %T", v)
	}
	if len(blob) == 0 {
		return nil, nil
	}
	g, err := Decode(blob)
	if err != nil {
		return nil, err
	}
	return planar.Reduce(g)
}

func primaryKey(ctx context.Context, db *sql.DB, table string) (string, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return "", fmt.Errorf("table_info: %w", err)
	}
	defer rows.Close()
	var pk string
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			isPK    int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &isPK); err != nil {
			return "", fmt.Errorf("scan table_info: %w", err)
		}
		if isPK == 1 && pk == "" {
			pk = name
		}
	}
	return pk, rows.Err()
}
