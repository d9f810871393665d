package crs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLAEA_RoundTrip(t *testing.T) {
	centres := [][2]float64{{0, 0}, {52, 10}, {-33.9, 18.4}, {75, -40}, {90, 0}, {-90, 0}}
	for _, c := range centres {
		p := NewLAEA(c[0], c[1])
		for _, pt := range [][2]float64{{c[1] + 1, c[0] - 1}, {c[1] - 5, c[0] + 0.5}, {c[1] + 12, c[0]}} {
			lat := math.Max(-89.9, math.Min(89.9, pt[1]))
			x, y := p.Forward(pt[0], lat)
			lon, gotLat := p.Inverse(x, y)
			assert.InDelta(t, normalizeLon(pt[0]), lon, 1e-6, "centre %v", c)
			assert.InDelta(t, lat, gotLat, 1e-6, "centre %v", c)
		}
	}
}

func TestLAEA_CentreMapsToOrigin(t *testing.T) {
	p := NewLAEA(45, 7)
	x, y := p.Forward(7, 45)
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)

	lon, lat := p.Inverse(0, 0)
	assert.InDelta(t, 7, lon, 1e-9)
	assert.InDelta(t, 45, lat, 1e-9)
}

func TestLAEA_EqualArea(t *testing.T) {
	// A one-degree cell on the equator covers about 12,308.8 km2 of the
	// WGS84 ellipsoid.
	p := NewLAEA(0.5, 0.5)
	var ring [][2]float64
	const n = 50
	for i := 0; i <= n; i++ {
		ring = append(ring, [2]float64{float64(i) / n, 0})
	}
	for i := 0; i <= n; i++ {
		ring = append(ring, [2]float64{1, float64(i) / n})
	}
	for i := n; i >= 0; i-- {
		ring = append(ring, [2]float64{float64(i) / n, 1})
	}
	for i := n; i >= 0; i-- {
		ring = append(ring, [2]float64{0, float64(i) / n})
	}
	var area float64
	for i := 0; i < len(ring)-1; i++ {
		x1, y1 := p.Forward(ring[i][0], ring[i][1])
		x2, y2 := p.Forward(ring[i+1][0], ring[i+1][1])
		area += x1*y2 - x2*y1
	}
	area = math.Abs(area) / 2 / 1e6
	assert.InDelta(t, 12308.8, area, 5)
}

func TestMollweide(t *testing.T) {
	m := Mollweide{}
	x, y := m.Forward(0, 0)
	assert.InDelta(t, 0, x, 1e-9)
	assert.InDelta(t, 0, y, 1e-9)

	x, _ = m.Forward(180, 0)
	assert.InDelta(t, 2*math.Sqrt2*SemiMajor, x, 1e-3)

	_, y = m.Forward(0, 90)
	assert.InDelta(t, math.Sqrt2*SemiMajor, y, 1e-3)

	for _, pt := range [][2]float64{{10, 20}, {-120, -45}, {179, 80}} {
		x, y := m.Forward(pt[0], pt[1])
		lon, lat := m.Inverse(x, y)
		assert.InDelta(t, pt[0], lon, 1e-8)
		assert.InDelta(t, pt[1], lat, 1e-8)
	}
}

func TestWebMercator_RoundTrip(t *testing.T) {
	w := WebMercator{}
	x, y := w.Forward(-0.1276, 51.5072)
	lon, lat := w.Inverse(x, y)
	assert.InDelta(t, -0.1276, lon, 1e-9)
	assert.InDelta(t, 51.5072, lat, 1e-9)
}

func TestParse(t *testing.T) {
	tests := []struct {
		def  string
		want CRS
	}{
		{"EPSG:4326", Geographic{}},
		{"epsg:3857", WebMercator{}},
		{"ESRI:54009", Mollweide{}},
		{"4326", Geographic{}},
		{"+proj=longlat +datum=WGS84 +no_defs", Geographic{}},
		{"+proj=moll +lon_0=0 +datum=WGS84", Mollweide{}},
		{`GEOGCS["WGS 84",DATUM["WGS_1984"]]`, Geographic{}},
		{`PROJCS["World_Mollweide",PROJECTION["Mollweide"],PARAMETER["Central_Meridian",0.0]]`, Mollweide{}},
	}
	for _, tt := range tests {
		t.Run(tt.def, func(t *testing.T) {
			got, err := Parse(tt.def)
			require.NoError(t, err)
			assert.True(t, Equal(tt.want, got), "got %s", got)
		})
	}
}

func TestParse_LAEA(t *testing.T) {
	got, err := Parse("+proj=laea +lat_0=12.5 +lon_0=-3 +units=m +datum=WGS84 +no_defs")
	require.NoError(t, err)
	assert.True(t, Equal(NewLAEA(12.5, -3), got))

	got, err = Parse(`PROJCS["laea",PROJECTION["Lambert_Azimuthal_Equal_Area"],PARAMETER["latitude_of_center",40],PARAMETER["longitude_of_center",10]]`)
	require.NoError(t, err)
	assert.True(t, Equal(NewLAEA(40, 10), got))
}

func TestParse_Unsupported(t *testing.T) {
	for _, def := range []string{"", "EPSG:27700", "+proj=utm +zone=33", "nonsense"} {
		_, err := Parse(def)
		assert.ErrorIs(t, err, ErrUnsupported, def)
	}
}

func TestTransform_Identity(t *testing.T) {
	x, y := Transform(nil, Mollweide{}, 3, 4)
	assert.Equal(t, 3.0, x)
	assert.Equal(t, 4.0, y)

	x, y = Transform(Geographic{}, Geographic{}, 3, 4)
	assert.Equal(t, 3.0, x)
	assert.Equal(t, 4.0, y)
}

func TestTransformBounds_EnclosesCurvedEdges(t *testing.T) {
	minX, minY, maxX, maxY := TransformBounds(Geographic{}, Mollweide{}, -10, 40, 10, 60, 21)
	// The widest extent of the box is along its southern edge.
	x, _ := Mollweide{}.Forward(10, 40)
	assert.InDelta(t, x, maxX, 1e-6)
	assert.InDelta(t, -x, minX, 1e-6)
	_, yTop := Mollweide{}.Forward(0, 60)
	assert.InDelta(t, yTop, maxY, 1e-6)
	assert.Less(t, minY, maxY)
}

func TestIsGeographic(t *testing.T) {
	assert.True(t, IsGeographic(nil))
	assert.True(t, IsGeographic(Geographic{}))
	assert.False(t, IsGeographic(NewLAEA(0, 0)))
}
