// Package crs resolves declared coordinate reference systems and reprojects
// planar geometry into EPSG:4326.
package crs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-spatial/proj"
	"github.com/go-spatial/proj/core"
	"github.com/go-spatial/proj/support"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/vector-layer-cache/internal/core/model"
)

var ErrUnsupportedCRS = errors.New("unsupported coordinate reference system")

const (
	WGS84         = 4326
	WebMercator   = 3857
	WorldMercator = 3395
	PlateCarree   = 4087
	ETRS89LAEA    = 3035
	SWEREF99TM    = 3006
	ETRSTM35FIN   = 3067
)

// aliases of EPSG:3857 still found in older data sets.
var webMercatorAliases = map[int]struct{}{3857: {}, 900913: {}, 3785: {}, 102100: {}, 102113: {}}

// definitions holds the proj strings of the fixed projected systems. UTM
// zones are derived from the code in projString.
var definitions = map[int]string{
	ETRS89LAEA:  "+proj=laea +lat_0=52 +lon_0=10 +x_0=4321000 +y_0=3210000 +ellps=GRS80",
	SWEREF99TM:  "+proj=utm +zone=33 +ellps=GRS80",
	ETRSTM35FIN: "+proj=utm +zone=35 +ellps=GRS80",
}

// Parse returns the EPSG code of a declared CRS. Accepted forms are
// "EPSG:3857", "epsg:3857", "3857", "urn:ogc:def:crs:EPSG::3857",
// "http://www.opengis.net/def/crs/EPSG/0/3857" and the OGC CRS84 names.
// An empty declaration resolves to def.
func Parse(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	up := strings.ToUpper(s)
	if strings.HasSuffix(up, "CRS84") {
		return WGS84, nil
	}
	var tail string
	switch {
	case strings.HasPrefix(up, "URN:OGC:DEF:CRS:EPSG:"):
		tail = up[strings.LastIndex(up, ":")+1:]
	case strings.Contains(up, "/DEF/CRS/EPSG/"):
		tail = up[strings.LastIndex(up, "/")+1:]
	case strings.HasPrefix(up, "EPSG:"):
		tail = up[len("EPSG:"):]
	default:
		tail = up
	}
	code, err := strconv.Atoi(strings.TrimSpace(tail))
	if err != nil || code <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCRS, s)
	}
	return code, nil
}

// Name renders a code as "EPSG:<code>".
func Name(code int) string { return "EPSG:" + strconv.Itoa(code) }

// projString returns the proj definition of a projected system, covering
// WGS84 UTM north (326zz) and south (327zz), ETRS89 UTM (258zz) and
// NAD83 UTM (269zz).
func projString(code int) (string, bool) {
	if s, ok := definitions[code]; ok {
		return s, true
	}
	zone := code % 100
	switch base := code - zone; {
	case base == 32600 && zone >= 1 && zone <= 60:
		return fmt.Sprintf("+proj=utm +zone=%d +ellps=WGS84", zone), true
	case base == 32700 && zone >= 1 && zone <= 60:
		return fmt.Sprintf("+proj=utm +zone=%d +south +ellps=WGS84", zone), true
	case base == 25800 && zone >= 28 && zone <= 38:
		return fmt.Sprintf("+proj=utm +zone=%d +ellps=GRS80", zone), true
	case base == 26900 && zone >= 1 && zone <= 23:
		return fmt.Sprintf("+proj=utm +zone=%d +ellps=GRS80", zone), true
	}
	return "", false
}

var (
	convMu sync.Mutex
	convs  = map[int]core.IConvertLPToXY{}
)

// converter builds the proj operation for code once and shares it.
// Operations keep no per-call state after setup.
func converter(code int, def string) (core.IConvertLPToXY, error) {
	convMu.Lock()
	defer convMu.Unlock()
	if c, ok := convs[code]; ok {
		return c, nil
	}
	ps, err := support.NewProjString(def)
	if err != nil {
		return nil, fmt.Errorf("parse %s definition: %w", Name(code), err)
	}
	_, op, err := core.NewSystem(ps)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", Name(code), err)
	}
	c, ok := op.(core.IConvertLPToXY)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a projection", ErrUnsupportedCRS, Name(code))
	}
	convs[code] = c
	return c, nil
}

// Reprojector converts geometry from one source system into EPSG:4326.
type Reprojector struct {
	code int
	fn   func(orb.Point) (orb.Point, error)
	fwd  func(orb.Point) (orb.Point, error)
}

// For returns the reprojector for an EPSG code.
func For(code int) (*Reprojector, error) {
	if code == WGS84 {
		return &Reprojector{code: code}, nil
	}
	if _, ok := webMercatorAliases[code]; ok {
		return &Reprojector{
			code: code,
			fn:   func(p orb.Point) (orb.Point, error) { return project.Mercator.ToWGS84(p), nil },
			fwd:  func(p orb.Point) (orb.Point, error) { return project.WGS84.ToMercator(p), nil },
		}, nil
	}
	switch code {
	case WorldMercator:
		return &Reprojector{code: code, fn: inverse(proj.EPSG3395), fwd: forward(proj.EPSG3395)}, nil
	case PlateCarree:
		return &Reprojector{code: code, fn: inverse(proj.EPSG4087), fwd: forward(proj.EPSG4087)}, nil
	}
	def, ok := projString(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCRS, Name(code))
	}
	c, err := converter(code, def)
	if err != nil {
		return nil, err
	}
	return &Reprojector{
		code: code,
		fn: func(p orb.Point) (orb.Point, error) {
			lp, err := c.Inverse(&core.CoordXY{X: p[0], Y: p[1]})
			if err != nil {
				return p, fmt.Errorf("inverse projection from %s: %w", Name(code), err)
			}
			return orb.Point{support.RToDD(lp.Lam), support.RToDD(lp.Phi)}, nil
		},
		fwd: func(p orb.Point) (orb.Point, error) {
			xy, err := c.Forward(&core.CoordLP{Lam: support.DDToR(p[0]), Phi: support.DDToR(p[1])})
			if err != nil {
				return p, fmt.Errorf("projection to %s: %w", Name(code), err)
			}
			return orb.Point{xy.X, xy.Y}, nil
		},
	}, nil
}

// Supported reports whether For(code) would succeed.
func Supported(code int) bool {
	_, err := For(code)
	return err == nil
}

func inverse(src proj.EPSGCode) func(orb.Point) (orb.Point, error) {
	return func(p orb.Point) (orb.Point, error) {
		out, err := proj.Inverse(src, []float64{p[0], p[1]})
		if err != nil {
			return p, fmt.Errorf("inverse projection from EPSG:%d: %w", int(src), err)
		}
		if len(out) < 2 {
			return p, fmt.Errorf("inverse projection from EPSG:%d returned %d values", int(src), len(out))
		}
		return orb.Point{out[0], out[1]}, nil
	}
}

func forward(dst proj.EPSGCode) func(orb.Point) (orb.Point, error) {
	return func(p orb.Point) (orb.Point, error) {
		out, err := proj.Convert(dst, []float64{p[0], p[1]})
		if err != nil {
			return p, fmt.Errorf("projection to EPSG:%d: %w", int(dst), err)
		}
		if len(out) < 2 {
			return p, fmt.Errorf("projection to EPSG:%d returned %d values", int(dst), len(out))
		}
		return orb.Point{out[0], out[1]}, nil
	}
}

func (r *Reprojector) Code() int { return r.code }

// Identity reports whether the source already is the reference system.
func (r *Reprojector) Identity() bool { return r.fn == nil }

func (r *Reprojector) Point(p orb.Point) (orb.Point, error) {
	if r.fn == nil {
		return p, nil
	}
	return r.fn(p)
}

// Project maps a lon/lat point into the source system.
func (r *Reprojector) Project(p orb.Point) (orb.Point, error) {
	if r.fwd == nil {
		return p, nil
	}
	return r.fwd(p)
}

// Geometry reprojects g in place and returns it.
func (r *Reprojector) Geometry(g orb.Geometry) (orb.Geometry, error) {
	if r.fn == nil || g == nil {
		return g, nil
	}
	var err error
	out := project.Geometry(g, func(p orb.Point) orb.Point {
		if err != nil {
			return p
		}
		q, perr := r.fn(p)
		if perr != nil {
			err = perr
			return p
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// edgeSamples is the number of points taken along each side of a box.
const edgeSamples = 16

// BBox reprojects a source-system box by sampling its four edges. Edges of
// azimuthal and transverse projections curve in lon/lat, so corners alone
// do not bound the result.
func (r *Reprojector) BBox(b model.BBox) (model.BBox, error) {
	if r.fn == nil {
		return b, nil
	}
	first, err := r.fn(orb.Point{b.MinX, b.MinY})
	if err != nil {
		return model.BBox{}, err
	}
	out := orb.Bound{Min: first, Max: first}
	dx := (b.MaxX - b.MinX) / edgeSamples
	dy := (b.MaxY - b.MinY) / edgeSamples
	for i := 0; i <= edgeSamples; i++ {
		x := b.MinX + float64(i)*dx
		y := b.MinY + float64(i)*dy
		for _, p := range [4]orb.Point{{x, b.MinY}, {x, b.MaxY}, {b.MinX, y}, {b.MaxX, y}} {
			q, err := r.fn(p)
			if err != nil {
				return model.BBox{}, err
			}
			out = out.Extend(q)
		}
	}
	return model.BBoxFromBound(out), nil
}
