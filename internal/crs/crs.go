// Package crs implements the handful of coordinate reference systems the
// analysis pipeline needs: geographic WGS84, web mercator, spherical
// Mollweide and ellipsoidal Lambert azimuthal equal-area.
package crs

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// WGS84 ellipsoid.
const (
	SemiMajor  = 6378137.0
	Flattening = 1 / 298.257223563
)

// ErrUnsupported is returned for CRS definitions this package cannot model.
var ErrUnsupported = eris.New("crs: unsupported coordinate reference system")

// CRS converts between geographic coordinates (degrees) and projected
// coordinates. For geographic systems both directions are the identity.
type CRS interface {
	Forward(lon, lat float64) (x, y float64)
	Inverse(x, y float64) (lon, lat float64)
	IsGeographic() bool
	// String returns a proj4 definition.
	String() string
}

// Equal reports whether a and b describe the same system. Two nil CRSs are equal.
func Equal(a, b CRS) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

// IsGeographic reports whether c is nil or geographic. A raster without a
// CRS is treated as longitude/latitude.
func IsGeographic(c CRS) bool {
	return c == nil || c.IsGeographic()
}

// Transform maps a single coordinate from src to dst through geographic
// coordinates. A nil CRS on either side, or equal CRSs, is the identity.
func Transform(src, dst CRS, x, y float64) (float64, float64) {
	if src == nil || dst == nil || Equal(src, dst) {
		return x, y
	}
	lon, lat := src.Inverse(x, y)
	return dst.Forward(lon, lat)
}

// Transformer returns a function mapping coordinates from src to dst.
func Transformer(src, dst CRS) func(x, y float64) (float64, float64) {
	if src == nil || dst == nil || Equal(src, dst) {
		return func(x, y float64) (float64, float64) { return x, y }
	}
	return func(x, y float64) (float64, float64) {
		lon, lat := src.Inverse(x, y)
		return dst.Forward(lon, lat)
	}
}

// TransformBounds transforms a bounding box, sampling densify points along
// each edge so that curved edges in the destination are enclosed.
func TransformBounds(src, dst CRS, minX, minY, maxX, maxY float64, densify int) (float64, float64, float64, float64) {
	if src == nil || dst == nil || Equal(src, dst) {
		return minX, minY, maxX, maxY
	}
	if densify < 0 {
		densify = 0
	}
	tr := Transformer(src, dst)
	outMinX, outMinY := math.Inf(1), math.Inf(1)
	outMaxX, outMaxY := math.Inf(-1), math.Inf(-1)
	add := func(x, y float64) {
		tx, ty := tr(x, y)
		if math.IsNaN(tx) || math.IsNaN(ty) || math.IsInf(tx, 0) || math.IsInf(ty, 0) {
			return
		}
		outMinX = math.Min(outMinX, tx)
		outMinY = math.Min(outMinY, ty)
		outMaxX = math.Max(outMaxX, tx)
		outMaxY = math.Max(outMaxY, ty)
	}
	steps := densify + 1
	for i := 0; i <= steps; i++ {
		f := float64(i) / float64(steps)
		x := minX + f*(maxX-minX)
		y := minY + f*(maxY-minY)
		add(x, minY)
		add(x, maxY)
		add(minX, y)
		add(maxX, y)
	}
	return outMinX, outMinY, outMaxX, outMaxY
}

// FromEPSG returns the CRS for a numeric EPSG code.
func FromEPSG(code int) (CRS, error) {
	switch code {
	case 4326, 4269, 4258, 4283, 4167:
		return Geographic{}, nil
	case 3857, 900913, 3785, 102100:
		return WebMercator{}, nil
	case 54009:
		return Mollweide{}, nil
	default:
		return nil, eris.Wrapf(ErrUnsupported, "crs: EPSG:%d", code)
	}
}

// Parse accepts "EPSG:n", "ESRI:54009", a bare EPSG code, a proj4 string or
// a WKT definition.
func Parse(def string) (CRS, error) {
	s := strings.TrimSpace(def)
	if s == "" {
		return nil, eris.Wrap(ErrUnsupported, "crs: empty definition")
	}
	upper := strings.ToUpper(s)
	switch {
	case strings.HasPrefix(upper, "EPSG:"), strings.HasPrefix(upper, "ESRI:"):
		code, err := strconv.Atoi(strings.TrimSpace(s[5:]))
		if err != nil {
			return nil, eris.Wrapf(ErrUnsupported, "crs: parse %q", def)
		}
		return FromEPSG(code)
	case strings.HasPrefix(s, "+"):
		return parseProj4(s)
	case strings.HasPrefix(upper, "GEOGCS"), strings.HasPrefix(upper, "GEOGCRS"),
		strings.HasPrefix(upper, "PROJCS"), strings.HasPrefix(upper, "PROJCRS"):
		return ParseWKT(s)
	}
	if code, err := strconv.Atoi(s); err == nil {
		return FromEPSG(code)
	}
	return nil, eris.Wrapf(ErrUnsupported, "crs: parse %q", def)
}

func parseProj4(s string) (CRS, error) {
	params := make(map[string]string)
	for _, tok := range strings.Fields(s) {
		tok = strings.TrimPrefix(tok, "+")
		k, v, _ := strings.Cut(tok, "=")
		params[k] = v
	}
	num := func(k string) float64 {
		v, err := strconv.ParseFloat(params[k], 64)
		if err != nil {
			return 0
		}
		return v
	}
	switch params["proj"] {
	case "longlat", "latlong", "lonlat", "latlon":
		return Geographic{}, nil
	case "laea":
		return NewLAEA(num("lat_0"), num("lon_0")), nil
	case "moll":
		return Mollweide{Lon0: num("lon_0")}, nil
	case "merc":
		return WebMercator{}, nil
	default:
		return nil, eris.Wrapf(ErrUnsupported, "crs: proj4 %q", s)
	}
}

// ParseWKT recognises the WKT flavours written by GDAL for the systems this
// package supports.
func ParseWKT(wkt string) (CRS, error) {
	upper := strings.ToUpper(wkt)
	switch {
	case strings.HasPrefix(upper, "GEOGCS"), strings.HasPrefix(upper, "GEOGCRS"):
		return Geographic{}, nil
	case strings.Contains(upper, "MOLLWEIDE"):
		return Mollweide{Lon0: wktParam(upper, "CENTRAL_MERIDIAN", "LONGITUDE OF NATURAL ORIGIN")}, nil
	case strings.Contains(upper, "LAMBERT_AZIMUTHAL_EQUAL_AREA"), strings.Contains(upper, "LAMBERT AZIMUTHAL EQUAL AREA"):
		lat := wktParam(upper, "LATITUDE_OF_CENTER", "LATITUDE_OF_ORIGIN", "LATITUDE OF NATURAL ORIGIN")
		lon := wktParam(upper, "LONGITUDE_OF_CENTER", "CENTRAL_MERIDIAN", "LONGITUDE OF NATURAL ORIGIN")
		return NewLAEA(lat, lon), nil
	case strings.Contains(upper, "PSEUDO-MERCATOR"), strings.Contains(upper, "MERCATOR_AUXILIARY_SPHERE"),
		strings.Contains(upper, "POPULAR VISUALISATION"):
		return WebMercator{}, nil
	default:
		return nil, eris.Wrap(ErrUnsupported, "crs: wkt")
	}
}

func wktParam(upper string, names ...string) float64 {
	for _, name := range names {
		key := `PARAMETER["` + name + `",`
		i := strings.Index(upper, key)
		if i < 0 {
			continue
		}
		rest := upper[i+len(key):]
		end := strings.IndexAny(rest, ",]")
		if end < 0 {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rest[:end]), 64)
		if err == nil {
			return v
		}
	}
	return 0
}

// Geographic is WGS84 longitude/latitude (EPSG:4326).
type Geographic struct{}

func (Geographic) Forward(lon, lat float64) (float64, float64) { return lon, lat }
func (Geographic) Inverse(x, y float64) (float64, float64)     { return x, y }
func (Geographic) IsGeographic() bool                          { return true }
func (Geographic) String() string                              { return "+proj=longlat +datum=WGS84 +no_defs" }

// Mollweide is the spherical world equal-area projection (ESRI:54009).
// PROJ evaluates it on a sphere of radius equal to the WGS84 semi-major axis.
type Mollweide struct {
	Lon0 float64
}

func (m Mollweide) Forward(lon, lat float64) (float64, float64) {
	phi := lat * math.Pi / 180
	lam := normalizeLon(lon-m.Lon0) * math.Pi / 180
	theta := mollweideTheta(phi)
	x := SemiMajor * 2 * math.Sqrt2 / math.Pi * lam * math.Cos(theta)
	y := SemiMajor * math.Sqrt2 * math.Sin(theta)
	return x, y
}

func (m Mollweide) Inverse(x, y float64) (float64, float64) {
	s := clamp(y/(SemiMajor*math.Sqrt2), -1, 1)
	theta := math.Asin(s)
	phi := math.Asin(clamp((2*theta+math.Sin(2*theta))/math.Pi, -1, 1))
	var lam float64
	if c := math.Cos(theta); math.Abs(c) > 1e-12 {
		lam = math.Pi * x / (2 * SemiMajor * math.Sqrt2 * c)
	}
	return lam*180/math.Pi + m.Lon0, phi * 180 / math.Pi
}

func (Mollweide) IsGeographic() bool { return false }

func (m Mollweide) String() string {
	return fmt.Sprintf("+proj=moll +lon_0=%g +x_0=0 +y_0=0 +R=%g +units=m +no_defs", m.Lon0, SemiMajor)
}

// mollweideTheta solves 2θ + sin 2θ = π sin φ by Newton iteration.
func mollweideTheta(phi float64) float64 {
	if math.Abs(math.Abs(phi)-math.Pi/2) < 1e-12 {
		return phi
	}
	target := math.Pi * math.Sin(phi)
	theta := phi
	for range 50 {
		f := 2*theta + math.Sin(2*theta) - target
		d := 2 + 2*math.Cos(2*theta)
		if d == 0 {
			break
		}
		step := f / d
		theta -= step
		if math.Abs(step) < 1e-14 {
			break
		}
	}
	return theta
}

func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
