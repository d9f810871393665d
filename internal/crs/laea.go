package crs

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// LAEA is the ellipsoidal (WGS84) Lambert azimuthal equal-area projection
// centred on (Lat0, Lon0). Formulas follow Snyder, Map Projections: A Working
// Manual, pp. 187-190.
type LAEA struct {
	Lat0, Lon0 float64

	e, e2, qp, rq, d   float64
	sinB1, cosB1, phi0 float64
	polar              int
}

// NewLAEA precomputes the projection constants for a centre point.
func NewLAEA(lat0, lon0 float64) *LAEA {
	p := &LAEA{Lat0: lat0, Lon0: lon0}
	p.e2 = Flattening * (2 - Flattening)
	p.e = math.Sqrt(p.e2)
	p.phi0 = lat0 * math.Pi / 180
	p.qp = p.q(math.Pi / 2)
	p.rq = SemiMajor * math.Sqrt(p.qp/2)

	switch {
	case math.Abs(lat0-90) < 1e-10:
		p.polar = 1
	case math.Abs(lat0+90) < 1e-10:
		p.polar = -1
	default:
		sinPhi := math.Sin(p.phi0)
		beta1 := math.Asin(clamp(p.q(p.phi0)/p.qp, -1, 1))
		p.sinB1, p.cosB1 = math.Sin(beta1), math.Cos(beta1)
		m1 := math.Cos(p.phi0) / math.Sqrt(1-p.e2*sinPhi*sinPhi)
		p.d = SemiMajor * m1 / (p.rq * p.cosB1)
	}
	return p
}

func (p *LAEA) q(phi float64) float64 {
	s := math.Sin(phi)
	es := p.e * s
	return (1 - p.e2) * (s/(1-es*es) - (1/(2*p.e))*math.Log((1-es)/(1+es)))
}

func (p *LAEA) Forward(lon, lat float64) (float64, float64) {
	phi := lat * math.Pi / 180
	dlam := normalizeLon(lon-p.Lon0) * math.Pi / 180
	q := p.q(phi)

	switch p.polar {
	case 1:
		rho := SemiMajor * math.Sqrt(math.Max(p.qp-q, 0))
		return rho * math.Sin(dlam), -rho * math.Cos(dlam)
	case -1:
		rho := SemiMajor * math.Sqrt(math.Max(p.qp+q, 0))
		return rho * math.Sin(dlam), rho * math.Cos(dlam)
	}

	beta := math.Asin(clamp(q/p.qp, -1, 1))
	sinB, cosB := math.Sin(beta), math.Cos(beta)
	denom := 1 + p.sinB1*sinB + p.cosB1*cosB*math.Cos(dlam)
	if denom <= 1e-15 {
		// antipode of the centre
		return math.Inf(1), math.Inf(1)
	}
	b := p.rq * math.Sqrt(2/denom)
	x := b * p.d * cosB * math.Sin(dlam)
	y := (b / p.d) * (p.cosB1*sinB - p.sinB1*cosB*math.Cos(dlam))
	return x, y
}

func (p *LAEA) Inverse(x, y float64) (float64, float64) {
	var q, lam float64

	switch p.polar {
	case 1:
		rho := math.Hypot(x, y)
		q = p.qp - (rho/SemiMajor)*(rho/SemiMajor)
		lam = math.Atan2(x, -y)
	case -1:
		rho := math.Hypot(x, y)
		q = -(p.qp - (rho/SemiMajor)*(rho/SemiMajor))
		lam = math.Atan2(x, y)
	default:
		rho := math.Hypot(x/p.d, p.d*y)
		if rho < 1e-10 {
			return p.Lon0, p.Lat0
		}
		ce := 2 * math.Asin(clamp(rho/(2*p.rq), -1, 1))
		sinCe, cosCe := math.Sin(ce), math.Cos(ce)
		q = p.qp * (cosCe*p.sinB1 + p.d*y*sinCe*p.cosB1/rho)
		lam = math.Atan2(x*sinCe, p.d*rho*p.cosB1*cosCe-p.d*p.d*y*p.sinB1*sinCe)
	}

	beta := math.Asin(clamp(q/p.qp, -1, 1))
	e4 := p.e2 * p.e2
	e6 := e4 * p.e2
	phi := beta +
		(p.e2/3+31*e4/180+517*e6/5040)*math.Sin(2*beta) +
		(23*e4/360+251*e6/3780)*math.Sin(4*beta) +
		(761*e6/45360)*math.Sin(6*beta)

	return normalizeLon(p.Lon0 + lam*180/math.Pi), phi * 180 / math.Pi
}

func (*LAEA) IsGeographic() bool { return false }

func (p *LAEA) String() string {
	return fmt.Sprintf("+proj=laea +lat_0=%g +lon_0=%g +units=m +datum=WGS84 +no_defs", p.Lat0, p.Lon0)
}

// WebMercator is the spherical pseudo-mercator used by slippy-map tiles
// (EPSG:3857).
type WebMercator struct{}

func (WebMercator) Forward(lon, lat float64) (float64, float64) {
	pt := project.Point(orb.Point{lon, lat}, project.WGS84.ToMercator)
	return pt[0], pt[1]
}

func (WebMercator) Inverse(x, y float64) (float64, float64) {
	pt := project.Point(orb.Point{x, y}, project.Mercator.ToWGS84)
	return pt[0], pt[1]
}

func (WebMercator) IsGeographic() bool { return false }

func (WebMercator) String() string {
	return "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +nadgrids=@null +no_defs"
}
