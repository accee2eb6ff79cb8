package crs

import (
	"errors"
	"math"

	"github.com/go-spatial/proj/core"
	"github.com/go-spatial/proj/support"
)

func init() {
	core.RegisterConvertLPToXY("laea",
		"Lambert Azimuthal Equal Area",
		"\n\tAzi, Ell\n\tlat_0= lon_0=",
		newLaea,
	)
}

const laeaEps = 1e-10

var (
	errLaeaSphere = errors.New("laea: an ellipsoid is required")
	errLaeaPolar  = errors.New("laea: polar aspect is not supported")
	errLaeaRange  = errors.New("laea: point outside the projection domain")
)

// laea is the oblique and equatorial ellipsoidal Lambert Azimuthal Equal
// Area projection. Latitudes go through the authalic sphere.
type laea struct {
	core.Operation

	e, oneEs     float64
	qp, rq, dd   float64
	xmf, ymf     float64
	sinb1, cosb1 float64
	phi0         float64
	apa          [3]float64
}

func newLaea(sys *core.System, desc *core.OperationDescription) (core.IConvertLPToXY, error) {
	el := sys.Ellipsoid
	if el == nil || el.Es == 0 {
		return nil, errLaeaSphere
	}
	// the system stores lat_0 and lon_0 unconverted
	lat0, _ := sys.ProjString.GetAsFloat("lat_0")
	lon0, _ := sys.ProjString.GetAsFloat("lon_0")
	sys.Phi0 = support.DDToR(lat0)
	sys.Lam0 = support.DDToR(lon0)
	if math.Abs(math.Abs(sys.Phi0)-support.PiOverTwo) < laeaEps {
		return nil, errLaeaPolar
	}

	op := &laea{e: el.E, oneEs: el.OneEs, phi0: sys.Phi0}
	op.System = sys
	op.Description = desc

	op.qp = support.Qsfn(1, el.E, el.OneEs)
	op.rq = math.Sqrt(0.5 * op.qp)
	sinph0 := math.Sin(sys.Phi0)
	op.sinb1 = support.Qsfn(sinph0, el.E, el.OneEs) / op.qp
	op.cosb1 = math.Sqrt(1 - op.sinb1*op.sinb1)
	op.dd = math.Cos(sys.Phi0) / (math.Sqrt(1-el.Es*sinph0*sinph0) * op.rq * op.cosb1)
	op.xmf = op.rq * op.dd
	op.ymf = op.rq / op.dd
	op.apa = authalicSeries(el.Es)
	return op, nil
}

func (op *laea) Forward(lp *core.CoordLP) (*core.CoordXY, error) {
	sinlam, coslam := math.Sincos(lp.Lam)
	sinb := support.Qsfn(math.Sin(lp.Phi), op.e, op.oneEs) / op.qp
	cosb := math.Sqrt(math.Max(0, 1-sinb*sinb))
	b := 1 + op.sinb1*sinb + op.cosb1*cosb*coslam
	if math.Abs(b) < laeaEps {
		return nil, errLaeaRange
	}
	b = math.Sqrt(2 / b)
	return &core.CoordXY{
		X: op.xmf * b * cosb * sinlam,
		Y: op.ymf * b * (op.cosb1*sinb - op.sinb1*cosb*coslam),
	}, nil
}

func (op *laea) Inverse(xy *core.CoordXY) (*core.CoordLP, error) {
	x := xy.X / op.dd
	y := xy.Y * op.dd
	rho := math.Hypot(x, y)
	if rho < laeaEps {
		return &core.CoordLP{Lam: 0, Phi: op.phi0}, nil
	}
	arg := 0.5 * rho / op.rq
	if arg > 1 {
		return nil, errLaeaRange
	}
	sCe, cCe := math.Sincos(2 * math.Asin(arg))
	x *= sCe
	ab := cCe*op.sinb1 + y*sCe*op.cosb1/rho
	y = rho*op.cosb1*cCe - y*op.sinb1*sCe
	return &core.CoordLP{Lam: math.Atan2(x, y), Phi: authalicLat(support.Aasin(ab), op.apa)}, nil
}

// authalicSeries returns the coefficients converting authalic latitude back
// to geodetic latitude.
func authalicSeries(es float64) [3]float64 {
	const (
		p00 = 1.0 / 3
		p01 = 31.0 / 180
		p02 = 517.0 / 5040
		p10 = 23.0 / 360
		p11 = 251.0 / 3780
		p20 = 761.0 / 45360
	)
	t := es * es
	return [3]float64{
		es*p00 + t*p01 + t*es*p02,
		t*p10 + t*es*p11,
		t * es * p20,
	}
}

func authalicLat(beta float64, apa [3]float64) float64 {
	t := beta + beta
	return beta + apa[0]*math.Sin(t) + apa[1]*math.Sin(t+t) + apa[2]*math.Sin(t+t+t)
}
