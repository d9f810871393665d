package raster

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sdm-cli/internal/crs"
)

const (
	tiffShort  = 3
	tiffLong   = 4
	tiffDouble = 12
	tiffASCII  = 2
)

type outEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// WriteGeoTIFF writes r as an uncompressed, striped, single-band GeoTIFF.
// Excluded pixels are written as the raster's fill value.
func WriteGeoTIFF(path string, r *Raster) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "geotiff: create %s", path)
	}
	bw := bufio.NewWriter(f)
	if err := EncodeGeoTIFF(bw, r); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return eris.Wrapf(err, "geotiff: flush %s", path)
	}
	return eris.Wrapf(f.Close(), "geotiff: close %s", path)
}

// EncodeGeoTIFF writes r to w in little-endian classic TIFF.
func EncodeGeoTIFF(w io.Writer, r *Raster) error {
	le := binary.LittleEndian
	width, height := r.Band.Width, r.Band.Height
	if width == 0 || height == 0 {
		return eris.New("geotiff: cannot encode an empty raster")
	}
	bps := r.DataType.Bits() / 8
	rowBytes := width * bps
	rps := max(1, min(height, 65536/rowBytes))
	nStrips := (height + rps - 1) / rps

	pixels := encodeSamples(r.Band.Filled(r.Fill()), r.DataType)

	format := 1
	switch r.DataType {
	case Int8, Int16, Int32:
		format = 2
	case Float32, Float64:
		format = 3
	}

	entries := []outEntry{
		longEntry(tagImageWidth, uint32(width)),
		longEntry(tagImageLength, uint32(height)),
		shortEntry(tagBitsPerSample, uint16(bps*8)),
		shortEntry(tagCompression, compressionNone),
		shortEntry(tagPhotometric, 1),
		{tag: tagStripOffsets, typ: tiffLong, count: uint32(nStrips), data: make([]byte, 4*nStrips)},
		shortEntry(tagSamplesPerPixel, 1),
		longEntry(tagRowsPerStrip, uint32(rps)),
		{tag: tagStripByteCounts, typ: tiffLong, count: uint32(nStrips), data: make([]byte, 4*nStrips)},
		shortEntry(tagPlanarConfig, 1),
		shortEntry(tagSampleFormat, uint16(format)),
	}
	t := r.Transform
	if t.IsRectilinear() {
		entries = append(entries,
			doubleEntry(tagModelPixelScale, t.A, -t.E, 0),
			doubleEntry(tagModelTiepoint, 0, 0, 0, t.C, t.F, 0))
	} else {
		entries = append(entries, doubleEntry(tagModelTransform,
			t.A, t.B, 0, t.C,
			t.D, t.E, 0, t.F,
			0, 0, 0, 0,
			0, 0, 0, 1))
	}
	if r.CRS != nil {
		keys, citation := geoKeysFor(r.CRS)
		entries = append(entries, shortsEntry(tagGeoKeyDirectory, keys))
		if citation != "" {
			entries = append(entries, asciiEntry(tagGeoASCIIParams, citation))
		}
	}
	if r.HasNoData {
		entries = append(entries, asciiEntry(tagGDALNoData, strconv.FormatFloat(r.NoData, 'g', -1, 64)))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdSize := 2 + 12*len(entries) + 4
	next := 8 + ifdSize
	valueOff := make([]int, len(entries))
	for i, e := range entries {
		if len(e.data) > 4 {
			next += next & 1
			valueOff[i] = next
			next += len(e.data)
		}
	}
	next += next & 1
	for s := 0; s < nStrips; s++ {
		rows := min(rps, height-s*rps)
		for i, e := range entries {
			switch e.tag {
			case tagStripOffsets:
				le.PutUint32(entries[i].data[4*s:], uint32(next))
			case tagStripByteCounts:
				le.PutUint32(entries[i].data[4*s:], uint32(rows*rowBytes))
			}
		}
		next += rows * rowBytes
	}
	if next > math.MaxUint32 {
		return eris.New("geotiff: raster too large for classic TIFF")
	}

	out := make([]byte, 0, next)
	out = append(out, 'I', 'I')
	out = le.AppendUint16(out, 42)
	out = le.AppendUint32(out, 8)
	out = le.AppendUint16(out, uint16(len(entries)))
	for i, e := range entries {
		out = le.AppendUint16(out, e.tag)
		out = le.AppendUint16(out, e.typ)
		out = le.AppendUint32(out, e.count)
		if len(e.data) > 4 {
			out = le.AppendUint32(out, uint32(valueOff[i]))
		} else {
			var inline [4]byte
			copy(inline[:], e.data)
			out = append(out, inline[:]...)
		}
	}
	out = le.AppendUint32(out, 0)
	for i, e := range entries {
		if len(e.data) > 4 {
			for len(out) < valueOff[i] {
				out = append(out, 0)
			}
			out = append(out, e.data...)
		}
	}
	if len(out)&1 == 1 {
		out = append(out, 0)
	}
	out = append(out, pixels...)

	if _, err := w.Write(out); err != nil {
		return eris.Wrap(err, "geotiff: write")
	}
	return nil
}

func geoKeysFor(c crs.CRS) ([]uint16, string) {
	type key struct{ id, loc, count, val uint16 }
	keys := []key{{keyRasterType, 0, 1, 1}}
	var citation string
	switch c.(type) {
	case crs.Geographic:
		keys = append(keys, key{keyModelType, 0, 1, 2}, key{keyGeographicType, 0, 1, 4326})
	case crs.WebMercator:
		keys = append(keys, key{keyModelType, 0, 1, 1}, key{keyProjectedType, 0, 1, 3857})
	default:
		citation = c.String() + "|"
		keys = append(keys,
			key{keyModelType, 0, 1, 1},
			key{keyProjectedType, 0, 1, userDefined},
			key{keyCitation, tagGeoASCIIParams, uint16(len(citation)), 0})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].id < keys[j].id })
	out := []uint16{1, 1, 0, uint16(len(keys))}
	for _, k := range keys {
		out = append(out, k.id, k.loc, k.count, k.val)
	}
	return out, citation
}

func encodeSamples(values []float64, dt DataType) []byte {
	le := binary.LittleEndian
	bps := dt.Bits() / 8
	out := make([]byte, len(values)*bps)
	for i, v := range values {
		v = dt.Cast(v)
		p := out[i*bps:]
		switch dt {
		case Uint8:
			p[0] = uint8(v)
		case Int8:
			p[0] = uint8(int8(v))
		case Uint16:
			le.PutUint16(p, uint16(v))
		case Int16:
			le.PutUint16(p, uint16(int16(v)))
		case Uint32:
			le.PutUint32(p, uint32(v))
		case Int32:
			le.PutUint32(p, uint32(int32(v)))
		case Float32:
			le.PutUint32(p, math.Float32bits(float32(v)))
		default:
			le.PutUint64(p, math.Float64bits(v))
		}
	}
	return out
}

func shortEntry(tag uint16, v uint16) outEntry {
	return shortsEntry(tag, []uint16{v})
}

func shortsEntry(tag uint16, vs []uint16) outEntry {
	data := make([]byte, 0, 2*len(vs))
	for _, v := range vs {
		data = binary.LittleEndian.AppendUint16(data, v)
	}
	return outEntry{tag: tag, typ: tiffShort, count: uint32(len(vs)), data: data}
}

func longEntry(tag uint16, v uint32) outEntry {
	return outEntry{tag: tag, typ: tiffLong, count: 1, data: binary.LittleEndian.AppendUint32(nil, v)}
}

func doubleEntry(tag uint16, vs ...float64) outEntry {
	data := make([]byte, 0, 8*len(vs))
	for _, v := range vs {
		data = binary.LittleEndian.AppendUint64(data, math.Float64bits(v))
	}
	return outEntry{tag: tag, typ: tiffDouble, count: uint32(len(vs)), data: data}
}

func asciiEntry(tag uint16, s string) outEntry {
	data := append([]byte(s), 0)
	return outEntry{tag: tag, typ: tiffASCII, count: uint32(len(data)), data: data}
}
