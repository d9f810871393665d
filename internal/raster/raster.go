// Package raster holds the in-memory raster model, masked bands, GeoTIFF
// input/output and the summary statistics used by the analysis pipeline.
package raster

import (
	"math"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sdm-cli/internal/crs"
)

// ErrUnsupported is returned for raster files or encodings that cannot be read.
var ErrUnsupported = eris.New("raster: unsupported format")

// DataType is the sample type of a band.
type DataType int

const (
	Float64 DataType = iota
	Float32
	Uint8
	Int8
	Uint16
	Int16
	Uint32
	Int32
)

func (d DataType) String() string {
	switch d {
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Uint32:
		return "uint32"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	default:
		return "float64"
	}
}

// IsInteger reports whether the type holds integers.
func (d DataType) IsInteger() bool {
	return d != Float32 && d != Float64
}

// Bits is the sample width.
func (d DataType) Bits() int {
	switch d {
	case Uint8, Int8:
		return 8
	case Uint16, Int16:
		return 16
	case Uint32, Int32, Float32:
		return 32
	default:
		return 64
	}
}

// Cast converts v to the nearest representable value of the type the way an
// array cast does: integers truncate toward zero and saturate at the type
// limits, float32 rounds to single precision.
func (d DataType) Cast(v float64) float64 {
	switch d {
	case Float64:
		return v
	case Float32:
		return float64(float32(v))
	}
	if math.IsNaN(v) {
		return 0
	}
	lo, hi := d.limits()
	return math.Max(lo, math.Min(hi, math.Trunc(v)))
}

func (d DataType) limits() (float64, float64) {
	switch d {
	case Uint8:
		return 0, math.MaxUint8
	case Int8:
		return math.MinInt8, math.MaxInt8
	case Uint16:
		return 0, math.MaxUint16
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Uint32:
		return 0, math.MaxUint32
	case Int32:
		return math.MinInt32, math.MaxInt32
	default:
		return -math.MaxFloat64, math.MaxFloat64
	}
}

// DefaultFill is the fill value used when a raster has no no-data value:
// the smallest signed value, the largest unsigned value, or -MaxFloat32.
func (d DataType) DefaultFill() float64 {
	switch d {
	case Float32, Float64:
		return -math.MaxFloat32
	case Uint8, Uint16, Uint32:
		_, hi := d.limits()
		return hi
	default:
		lo, _ := d.limits()
		return lo
	}
}

// Grid describes a pixel grid in a coordinate reference system.
type Grid struct {
	Width, Height int
	Transform     Affine
	CRS           crs.CRS
}

// Bounds returns (west, south, east, north).
func (g Grid) Bounds() (float64, float64, float64, float64) {
	return ArrayBounds(g.Height, g.Width, g.Transform)
}

// Raster is a single band held in memory with its georeferencing.
type Raster struct {
	Band      *Masked
	Transform Affine
	CRS       crs.CRS
	NoData    float64
	HasNoData bool
	DataType  DataType
}

// Grid returns the raster's pixel grid.
func (r *Raster) Grid() Grid {
	return Grid{Width: r.Band.Width, Height: r.Band.Height, Transform: r.Transform, CRS: r.CRS}
}

// Fill returns the no-data value, or the type default when there is none.
func (r *Raster) Fill() float64 {
	if r.HasNoData {
		return r.NoData
	}
	return r.DataType.DefaultFill()
}

// Clone deep-copies the band.
func (r *Raster) Clone() *Raster {
	out := *r
	out.Band = r.Band.Clone()
	return &out
}

// Source is any readable raster.
type Source interface {
	ReadBand(band int) (*Masked, error)
	// ReadWindow reads the part of a band inside w, which must lie within
	// the raster.
	ReadWindow(band int, w Window) (*Masked, error)
	CRS() crs.CRS
	Transform() Affine
	Width() int
	Height() int
	NoData() (float64, bool)
	DataType() DataType
	BandCount() int
	Close() error
}

func checkWindow(w Window, width, height int) error {
	if w.Empty() || w != w.Intersect(width, height) {
		return eris.Errorf("raster: window %+v outside %dx%d grid", w, width, height)
	}
	return nil
}

// Open opens a raster file by extension.
func Open(path string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff", ".gtiff":
		g, err := OpenGeoTIFF(path)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, eris.Wrapf(ErrUnsupported, "raster: open %s", path)
	}
}

// Read loads one band (1-based) from src. No-data pixels are excluded.
func Read(src Source, band int) (*Raster, error) {
	m, err := src.ReadBand(band)
	if err != nil {
		return nil, err
	}
	nd, ok := src.NoData()
	return &Raster{
		Band:      m,
		Transform: src.Transform(),
		CRS:       src.CRS(),
		NoData:    nd,
		HasNoData: ok,
		DataType:  src.DataType(),
	}, nil
}

// ReadFile opens path, reads a band and closes the file.
func ReadFile(path string, band int) (*Raster, error) {
	src, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()
	return Read(src, band)
}

// MemSource serves rasters held in memory through the Source interface.
type MemSource struct {
	bands []*Raster
}

// NewMemSource wraps one or more same-grid rasters as bands 1..n.
func NewMemSource(bands ...*Raster) *MemSource {
	return &MemSource{bands: bands}
}

func (s *MemSource) ReadBand(band int) (*Masked, error) {
	if band < 1 || band > len(s.bands) {
		return nil, eris.Errorf("raster: band %d out of range (have %d)", band, len(s.bands))
	}
	r := s.bands[band-1]
	m := r.Band.Clone()
	if r.HasNoData {
		m.ExcludeEqual(r.NoData)
	}
	return m, nil
}

func (s *MemSource) ReadWindow(band int, w Window) (*Masked, error) {
	if err := checkWindow(w, s.Width(), s.Height()); err != nil {
		return nil, err
	}
	m, err := s.ReadBand(band)
	if err != nil {
		return nil, err
	}
	return m.Window(w, 0), nil
}

func (s *MemSource) CRS() crs.CRS       { return s.bands[0].CRS }
func (s *MemSource) Transform() Affine  { return s.bands[0].Transform }
func (s *MemSource) Width() int         { return s.bands[0].Band.Width }
func (s *MemSource) Height() int        { return s.bands[0].Band.Height }
func (s *MemSource) DataType() DataType { return s.bands[0].DataType }
func (s *MemSource) BandCount() int     { return len(s.bands) }
func (s *MemSource) Close() error       { return nil }

func (s *MemSource) NoData() (float64, bool) {
	return s.bands[0].NoData, s.bands[0].HasNoData
}
