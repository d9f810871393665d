package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sdm-cli/internal/crs"
)

// TIFF tags read by the decoder.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagModelTransform  = 34264
	tagGeoKeyDirectory = 34735
	tagGeoDoubleParams = 34736
	tagGeoASCIIParams  = 34737
	tagGDALNoData      = 42113
)

// GeoTIFF keys.
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyCitation       = 1026
	keyGeographicType = 2048
	keyProjectedType  = 3072
	userDefined       = 32767
)

const (
	compressionNone     = 1
	compressionDeflate  = 8
	compressionAdobe    = 32946
	compressionPackBits = 32773
)

var typeSizes = map[uint16]int{1: 1, 2: 1, 3: 2, 4: 4, 5: 8, 6: 1, 7: 1, 8: 2, 9: 4, 10: 8, 11: 4, 12: 8, 16: 8, 17: 8, 18: 8}

type ifdEntry struct {
	typ   uint16
	count uint32
	raw   []byte
}

// GeoTIFF is a decoded GeoTIFF header. Strips and tiles are read and
// decoded only when a band or window asks for them.
type GeoTIFF struct {
	r      io.ReaderAt
	size   int64
	closer io.Closer
	bo     binary.ByteOrder
	tags   map[uint16]ifdEntry

	width, height   int
	bits            int
	sampleFormat    int
	samplesPerPixel int
	planar          int
	compression     int
	predictor       int
	rowsPerStrip    int
	tileW, tileH    int
	offsets, counts []uint64

	transform Affine
	crs       crs.CRS
	noData    float64
	hasNoData bool
	dtype     DataType
}

// OpenGeoTIFF parses the header of a GeoTIFF file and keeps the file open
// for pixel reads until Close.
func OpenGeoTIFF(path string) (*GeoTIFF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geotiff: open %s", path)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, eris.Wrapf(err, "geotiff: stat %s", path)
	}
	g, err := newGeoTIFF(f, fi.Size())
	if err != nil {
		_ = f.Close()
		return nil, eris.Wrapf(err, "geotiff: decode %s", path)
	}
	g.closer = f
	return g, nil
}

// DecodeGeoTIFF parses a GeoTIFF held in memory.
func DecodeGeoTIFF(data []byte) (*GeoTIFF, error) {
	return newGeoTIFF(bytes.NewReader(data), int64(len(data)))
}

func newGeoTIFF(r io.ReaderAt, size int64) (*GeoTIFF, error) {
	g := &GeoTIFF{r: r, size: size, tags: make(map[uint16]ifdEntry)}
	data, err := g.readAt(0, 8)
	if err != nil {
		return nil, eris.Wrap(ErrUnsupported, "geotiff: short header")
	}
	switch string(data[:2]) {
	case "II":
		g.bo = binary.LittleEndian
	case "MM":
		g.bo = binary.BigEndian
	default:
		return nil, eris.Wrap(ErrUnsupported, "geotiff: bad byte order mark")
	}
	switch g.bo.Uint16(data[2:4]) {
	case 42:
	case 43:
		return nil, eris.Wrap(ErrUnsupported, "geotiff: BigTIFF")
	default:
		return nil, eris.Wrap(ErrUnsupported, "geotiff: bad magic number")
	}
	if err := g.readIFD(int64(g.bo.Uint32(data[4:8]))); err != nil {
		return nil, err
	}
	if err := g.readLayout(); err != nil {
		return nil, err
	}
	if err := g.readGeoreference(); err != nil {
		return nil, err
	}
	return g, nil
}

// readAt reads exactly n bytes at off.
func (g *GeoTIFF) readAt(off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+int64(n) > g.size {
		return nil, eris.Errorf("geotiff: %d bytes at offset %d out of range", n, off)
	}
	buf := make([]byte, n)
	if k, err := g.r.ReadAt(buf, off); k < n {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, eris.Wrapf(err, "geotiff: read %d bytes at offset %d", n, off)
	}
	return buf, nil
}

func (g *GeoTIFF) readIFD(off int64) error {
	head, err := g.readAt(off, 2)
	if err != nil {
		return eris.New("geotiff: IFD offset out of range")
	}
	n := int(g.bo.Uint16(head))
	entries, err := g.readAt(off+2, 12*n)
	if err != nil {
		return eris.New("geotiff: truncated IFD")
	}
	for i := 0; i < n; i++ {
		e := entries[12*i : 12*i+12]
		tag := g.bo.Uint16(e)
		typ := g.bo.Uint16(e[2:])
		count := g.bo.Uint32(e[4:])
		size, ok := typeSizes[typ]
		if !ok {
			continue
		}
		total := size * int(count)
		var raw []byte
		if total <= 4 {
			raw = e[8 : 8+total]
		} else {
			raw, err = g.readAt(int64(g.bo.Uint32(e[8:])), total)
			if err != nil {
				return eris.Errorf("geotiff: tag %d value out of range", tag)
			}
		}
		g.tags[tag] = ifdEntry{typ: typ, count: count, raw: raw}
	}
	return nil
}

func (g *GeoTIFF) uints(tag uint16) []uint64 {
	e, ok := g.tags[tag]
	if !ok {
		return nil
	}
	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case 1, 6, 7:
			out[i] = uint64(e.raw[i])
		case 3, 8:
			out[i] = uint64(g.bo.Uint16(e.raw[2*i:]))
		case 4, 9:
			out[i] = uint64(g.bo.Uint32(e.raw[4*i:]))
		case 16, 17, 18:
			out[i] = g.bo.Uint64(e.raw[8*i:])
		}
	}
	return out
}

func (g *GeoTIFF) uintTag(tag uint16, def int) int {
	if v := g.uints(tag); len(v) > 0 {
		return int(v[0])
	}
	return def
}

func (g *GeoTIFF) floats(tag uint16) []float64 {
	e, ok := g.tags[tag]
	if !ok {
		return nil
	}
	out := make([]float64, e.count)
	for i := range out {
		switch e.typ {
		case 11:
			out[i] = float64(math.Float32frombits(g.bo.Uint32(e.raw[4*i:])))
		case 12:
			out[i] = math.Float64frombits(g.bo.Uint64(e.raw[8*i:]))
		}
	}
	return out
}

func (g *GeoTIFF) ascii(tag uint16) string {
	e, ok := g.tags[tag]
	if !ok {
		return ""
	}
	return string(e.raw)
}

func (g *GeoTIFF) readLayout() error {
	g.width = g.uintTag(tagImageWidth, 0)
	g.height = g.uintTag(tagImageLength, 0)
	if g.width <= 0 || g.height <= 0 {
		return eris.New("geotiff: missing image dimensions")
	}
	g.bits = g.uintTag(tagBitsPerSample, 1)
	g.sampleFormat = g.uintTag(tagSampleFormat, 1)
	g.samplesPerPixel = g.uintTag(tagSamplesPerPixel, 1)
	g.planar = g.uintTag(tagPlanarConfig, 1)
	g.compression = g.uintTag(tagCompression, compressionNone)
	g.predictor = g.uintTag(tagPredictor, 1)

	switch g.compression {
	case compressionNone, compressionDeflate, compressionAdobe, compressionPackBits:
	default:
		return eris.Wrapf(ErrUnsupported, "geotiff: compression %d", g.compression)
	}

	dt, err := dataTypeOf(g.sampleFormat, g.bits)
	if err != nil {
		return err
	}
	g.dtype = dt

	if _, tiled := g.tags[tagTileWidth]; tiled {
		g.tileW = g.uintTag(tagTileWidth, 0)
		g.tileH = g.uintTag(tagTileLength, 0)
		g.offsets = g.uints(tagTileOffsets)
		g.counts = g.uints(tagTileByteCounts)
	} else {
		g.rowsPerStrip = g.uintTag(tagRowsPerStrip, g.height)
		if g.rowsPerStrip <= 0 || g.rowsPerStrip > g.height {
			g.rowsPerStrip = g.height
		}
		g.offsets = g.uints(tagStripOffsets)
		g.counts = g.uints(tagStripByteCounts)
	}
	if len(g.offsets) == 0 || len(g.offsets) != len(g.counts) {
		return eris.New("geotiff: missing or inconsistent chunk offsets")
	}

	if nd := strings.Trim(g.ascii(tagGDALNoData), "\x00 "); nd != "" {
		v, err := strconv.ParseFloat(nd, 64)
		if err != nil {
			return eris.Wrapf(err, "geotiff: parse nodata %q", nd)
		}
		g.noData, g.hasNoData = v, true
	}
	return nil
}

func dataTypeOf(format, bits int) (DataType, error) {
	switch {
	case format == 1 && bits == 8:
		return Uint8, nil
	case format == 2 && bits == 8:
		return Int8, nil
	case format == 1 && bits == 16:
		return Uint16, nil
	case format == 2 && bits == 16:
		return Int16, nil
	case format == 1 && bits == 32:
		return Uint32, nil
	case format == 2 && bits == 32:
		return Int32, nil
	case format == 3 && bits == 32:
		return Float32, nil
	case format == 3 && bits == 64:
		return Float64, nil
	default:
		return 0, eris.Wrapf(ErrUnsupported, "geotiff: sample format %d with %d bits", format, bits)
	}
}

func (g *GeoTIFF) readGeoreference() error {
	if m := g.floats(tagModelTransform); len(m) >= 8 {
		g.transform = Affine{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
	} else if scale, tie := g.floats(tagModelPixelScale), g.floats(tagModelTiepoint); len(scale) >= 2 && len(tie) >= 6 {
		g.transform = Affine{
			A: scale[0], C: tie[3] - tie[0]*scale[0],
			E: -scale[1], F: tie[4] + tie[1]*scale[1],
		}
	} else {
		g.transform = Affine{A: 1, E: 1}
	}

	keys := g.geoKeys()
	if keys[keyRasterType].num == 2 {
		// PixelIsPoint: tie points refer to pixel centres.
		g.transform.C -= 0.5*g.transform.A + 0.5*g.transform.B
		g.transform.F -= 0.5*g.transform.D + 0.5*g.transform.E
	}

	var err error
	switch {
	case keys[keyProjectedType].num == userDefined:
		g.crs, err = crs.Parse(strings.TrimRight(keys[keyCitation].str, "|"))
	case keys[keyProjectedType].num != 0:
		g.crs, err = crs.FromEPSG(keys[keyProjectedType].num)
	case keys[keyGeographicType].num != 0, keys[keyModelType].num == 2:
		g.crs = crs.Geographic{}
	}
	if err != nil {
		return eris.Wrap(err, "geotiff: coordinate reference system")
	}
	return nil
}

type geoKey struct {
	num int
	str string
}

func (g *GeoTIFF) geoKeys() map[int]geoKey {
	out := make(map[int]geoKey)
	dir := g.uints(tagGeoKeyDirectory)
	if len(dir) < 4 {
		return out
	}
	asciiParams := g.ascii(tagGeoASCIIParams)
	doubles := g.floats(tagGeoDoubleParams)
	n := int(dir[3])
	for i := 0; i < n && 4+4*i+3 < len(dir); i++ {
		e := dir[4+4*i : 8+4*i]
		id, loc, count, val := int(e[0]), e[1], int(e[2]), int(e[3])
		switch loc {
		case 0:
			out[id] = geoKey{num: val}
		case tagGeoASCIIParams:
			if val+count <= len(asciiParams) {
				out[id] = geoKey{str: asciiParams[val : val+count]}
			}
		case tagGeoDoubleParams:
			if val < len(doubles) {
				out[id] = geoKey{num: int(doubles[val])}
			}
		}
	}
	return out
}

func (g *GeoTIFF) ReadBand(band int) (*Masked, error) {
	return g.ReadWindow(band, Window{Width: g.width, Height: g.height})
}

// ReadWindow decodes the part of a band inside w, reading only the strips
// or tiles that overlap it.
func (g *GeoTIFF) ReadWindow(band int, w Window) (*Masked, error) {
	if band < 1 || band > g.samplesPerPixel {
		return nil, eris.Errorf("geotiff: band %d out of range (have %d)", band, g.samplesPerPixel)
	}
	if err := checkWindow(w, g.width, g.height); err != nil {
		return nil, err
	}
	values := make([]float64, w.Width*w.Height)
	var err error
	if g.tileW > 0 {
		err = g.readTiles(band, w, values)
	} else {
		err = g.readStrips(band, w, values)
	}
	if err != nil {
		return nil, err
	}
	m, err := NewMasked(w.Width, w.Height, values)
	if err != nil {
		return nil, err
	}
	if g.hasNoData {
		m.ExcludeEqual(g.dtype.Cast(g.noData))
	}
	return m, nil
}

// chunkLayout returns the samples per pixel stored in each chunk and the
// index of the requested band within a pixel.
func (g *GeoTIFF) chunkLayout(band int) (spp, sample int) {
	if g.planar == 2 {
		return 1, 0
	}
	return g.samplesPerPixel, band - 1
}

// readStrips fills dst, laid out as w, from the strips overlapping w.
func (g *GeoTIFF) readStrips(band int, w Window, dst []float64) error {
	perPlane := (g.height + g.rowsPerStrip - 1) / g.rowsPerStrip
	spp, sample := g.chunkLayout(band)
	first := w.RowOff / g.rowsPerStrip
	last := (w.RowOff + w.Height - 1) / g.rowsPerStrip
	for s := first; s <= last; s++ {
		idx := s
		if g.planar == 2 {
			idx = (band-1)*perPlane + s
		}
		row0 := s * g.rowsPerStrip
		rows := min(g.rowsPerStrip, g.height-row0)
		buf, err := g.chunk(idx, g.width, rows, spp)
		if err != nil {
			return err
		}
		r0 := max(w.RowOff, row0)
		r1 := min(w.RowOff+w.Height, row0+rows)
		for row := r0; row < r1; row++ {
			for c := 0; c < w.Width; c++ {
				si := ((row-row0)*g.width+w.ColOff+c)*spp + sample
				dst[(row-w.RowOff)*w.Width+c] = g.sample(buf, si)
			}
		}
	}
	return nil
}

// readTiles fills dst, laid out as w, from the tiles overlapping w.
func (g *GeoTIFF) readTiles(band int, w Window, dst []float64) error {
	across := (g.width + g.tileW - 1) / g.tileW
	down := (g.height + g.tileH - 1) / g.tileH
	spp, sample := g.chunkLayout(band)
	tx0, tx1 := w.ColOff/g.tileW, (w.ColOff+w.Width-1)/g.tileW
	ty0, ty1 := w.RowOff/g.tileH, (w.RowOff+w.Height-1)/g.tileH
	for ty := ty0; ty <= ty1; ty++ {
		for tx := tx0; tx <= tx1; tx++ {
			idx := ty*across + tx
			if g.planar == 2 {
				idx += (band - 1) * across * down
			}
			buf, err := g.chunk(idx, g.tileW, g.tileH, spp)
			if err != nil {
				return err
			}
			rowBase, colBase := ty*g.tileH, tx*g.tileW
			r0, r1 := max(w.RowOff, rowBase), min(w.RowOff+w.Height, rowBase+g.tileH)
			c0, c1 := max(w.ColOff, colBase), min(w.ColOff+w.Width, colBase+g.tileW)
			for row := r0; row < r1; row++ {
				for col := c0; col < c1; col++ {
					si := ((row-rowBase)*g.tileW+col-colBase)*spp + sample
					dst[(row-w.RowOff)*w.Width+col-w.ColOff] = g.sample(buf, si)
				}
			}
		}
	}
	return nil
}

// chunk returns the decompressed, predictor-reversed bytes of one strip or tile.
func (g *GeoTIFF) chunk(idx, rowLen, rows, spp int) ([]byte, error) {
	if idx >= len(g.offsets) {
		return nil, eris.Errorf("geotiff: chunk %d missing", idx)
	}
	raw, err := g.readAt(int64(g.offsets[idx]), int(g.counts[idx]))
	if err != nil {
		return nil, eris.Wrapf(err, "geotiff: chunk %d", idx)
	}

	bps := g.bits / 8
	want := rowLen * rows * spp * bps
	var buf []byte
	switch g.compression {
	case compressionNone:
		buf = raw
	case compressionDeflate, compressionAdobe:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, eris.Wrapf(err, "geotiff: inflate chunk %d", idx)
		}
		buf, err = io.ReadAll(zr)
		_ = zr.Close()
		if err != nil {
			return nil, eris.Wrapf(err, "geotiff: inflate chunk %d", idx)
		}
	case compressionPackBits:
		buf = unpackBits(raw)
	}
	if len(buf) < want {
		padded := make([]byte, want)
		copy(padded, buf)
		buf = padded
	}

	switch g.predictor {
	case 2:
		g.undoHorizontal(buf, rowLen, rows, spp)
	case 3:
		g.undoFloatingPoint(buf, rowLen, rows, spp)
	}
	return buf, nil
}

func (g *GeoTIFF) undoHorizontal(buf []byte, rowLen, rows, spp int) {
	bps := g.bits / 8
	stride := rowLen * spp
	for r := 0; r < rows; r++ {
		base := r * stride * bps
		for i := spp; i < stride; i++ {
			p := base + i*bps
			q := base + (i-spp)*bps
			switch bps {
			case 1:
				buf[p] += buf[q]
			case 2:
				g.bo.PutUint16(buf[p:], g.bo.Uint16(buf[p:])+g.bo.Uint16(buf[q:]))
			case 4:
				g.bo.PutUint32(buf[p:], g.bo.Uint32(buf[p:])+g.bo.Uint32(buf[q:]))
			case 8:
				g.bo.PutUint64(buf[p:], g.bo.Uint64(buf[p:])+g.bo.Uint64(buf[q:]))
			}
		}
	}
}

// undoFloatingPoint reverses predictor 3: byte-wise differencing over
// planes of most-significant-first bytes. Samples are rewritten in the
// file's byte order.
func (g *GeoTIFF) undoFloatingPoint(buf []byte, rowLen, rows, spp int) {
	bps := g.bits / 8
	wc := rowLen * spp
	rowBytes := wc * bps
	tmp := make([]byte, rowBytes)
	for r := 0; r < rows; r++ {
		row := buf[r*rowBytes : (r+1)*rowBytes]
		for i := spp; i < rowBytes; i++ {
			row[i] += row[i-spp]
		}
		copy(tmp, row)
		for s := 0; s < wc; s++ {
			var be [8]byte
			for b := 0; b < bps; b++ {
				be[b] = tmp[b*wc+s]
			}
			out := row[s*bps:]
			if bps == 4 {
				g.bo.PutUint32(out, binary.BigEndian.Uint32(be[:4]))
			} else {
				g.bo.PutUint64(out, binary.BigEndian.Uint64(be[:8]))
			}
		}
	}
}

func (g *GeoTIFF) sample(buf []byte, i int) float64 {
	switch g.dtype {
	case Uint8:
		return float64(buf[i])
	case Int8:
		return float64(int8(buf[i]))
	case Uint16:
		return float64(g.bo.Uint16(buf[2*i:]))
	case Int16:
		return float64(int16(g.bo.Uint16(buf[2*i:])))
	case Uint32:
		return float64(g.bo.Uint32(buf[4*i:]))
	case Int32:
		return float64(int32(g.bo.Uint32(buf[4*i:])))
	case Float32:
		return float64(math.Float32frombits(g.bo.Uint32(buf[4*i:])))
	default:
		return math.Float64frombits(g.bo.Uint64(buf[8*i:]))
	}
}

func unpackBits(src []byte) []byte {
	var out []byte
	for i := 0; i < len(src); {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			end := min(i+n+1, len(src))
			out = append(out, src[i:end]...)
			i = end
		case n != -128:
			if i < len(src) {
				for k := 0; k < 1-n; k++ {
					out = append(out, src[i])
				}
				i++
			}
		}
	}
	return out
}

func (g *GeoTIFF) CRS() crs.CRS            { return g.crs }
func (g *GeoTIFF) Transform() Affine       { return g.transform }
func (g *GeoTIFF) Width() int              { return g.width }
func (g *GeoTIFF) Height() int             { return g.height }
func (g *GeoTIFF) NoData() (float64, bool) { return g.noData, g.hasNoData }
func (g *GeoTIFF) DataType() DataType      { return g.dtype }
func (g *GeoTIFF) BandCount() int          { return g.samplesPerPixel }

// Close releases the underlying file, if any.
func (g *GeoTIFF) Close() error {
	if g.closer == nil {
		return nil
	}
	err := g.closer.Close()
	g.closer = nil
	return eris.Wrap(err, "geotiff: close")
}
