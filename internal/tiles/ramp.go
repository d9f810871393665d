// Package tiles prepares map tiles for a raster and publishes them: colour
// ramps, 8-bit scaling, the external tiler, tile manifests and upload.
package tiles

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// RGB is one colour, 0..255 per channel.
type RGB [3]uint8

// Palette is a list of evenly spaced anchor colours, interpolated linearly.
type Palette []RGB

// Viridis is matplotlib's viridis sampled at nine evenly spaced points.
var Viridis = Palette{
	{68, 1, 84},
	{72, 40, 120},
	{62, 73, 137},
	{49, 104, 142},
	{38, 130, 142},
	{31, 158, 137},
	{53, 183, 121},
	{110, 206, 88},
	{253, 231, 37},
}

// Builtin palettes by name.
var Builtin = map[string]Palette{
	"viridis": Viridis,
}

// At returns the colour at t in [0, 1]. Channels are truncated to integers.
func (p Palette) At(t float64) RGB {
	if len(p) == 1 {
		return p[0]
	}
	t = min(max(t, 0), 1)
	pos := t * float64(len(p)-1)
	i := int(pos)
	if i >= len(p)-1 {
		return p[len(p)-1]
	}
	f := pos - float64(i)
	var out RGB
	for c := range out {
		a, b := float64(p[i][c]), float64(p[i+1][c])
		out[c] = uint8(a + (b-a)*f)
	}
	return out
}

// RampName names a colour-ramp file, e.g. viridis_1_to_254__1000_stops.
func RampName(palette string, lo, hi float64, stops int) string {
	return fmt.Sprintf("%s_%s_to_%s__%d_stops", palette,
		strconv.FormatFloat(lo, 'f', -1, 64), strconv.FormatFloat(hi, 'f', -1, 64), stops)
}

// WriteRamp writes a colour-relief ramp: a transparent no-data entry, then
// stops evenly spaced values from lo to hi with their palette colours.
func WriteRamp(w io.Writer, p Palette, stops int, lo, hi float64) error {
	if len(p) == 0 {
		return eris.New("tiles: empty palette")
	}
	if stops < 2 {
		return eris.Errorf("tiles: need at least 2 stops, got %d", stops)
	}
	if hi <= lo {
		return eris.Errorf("tiles: ramp range [%g, %g] is empty", lo, hi)
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("nv 0 0 0 0\n"); err != nil {
		return eris.Wrap(err, "tiles: write ramp")
	}
	for i := 0; i < stops; i++ {
		t := float64(i) / float64(stops-1)
		v := lo + t*(hi-lo)
		c := p.At(t)
		if _, err := fmt.Fprintf(bw, "%.6f %d %d %d\n", v, c[0], c[1], c[2]); err != nil {
			return eris.Wrap(err, "tiles: write ramp")
		}
	}
	return eris.Wrap(bw.Flush(), "tiles: write ramp")
}

// paletteFile is the YAML layout of custom palettes:
//
//	palettes:
//	  greys: ["#000000", "#ffffff"]
type paletteFile struct {
	Palettes map[string][]string `yaml:"palettes"`
}

// LoadPalettes reads custom palettes from a YAML file and returns them
// together with the built-in ones. An empty path returns the built-ins.
func LoadPalettes(path string) (map[string]Palette, error) {
	out := make(map[string]Palette, len(Builtin))
	for k, v := range Builtin {
		out[k] = v
	}
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tiles: read palettes %s", path)
	}
	var f paletteFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "tiles: parse palettes %s", path)
	}
	for name, hexes := range f.Palettes {
		p := make(Palette, 0, len(hexes))
		for _, h := range hexes {
			c, err := parseHex(h)
			if err != nil {
				return nil, eris.Wrapf(err, "tiles: palette %q", name)
			}
			p = append(p, c)
		}
		if len(p) == 0 {
			return nil, eris.Errorf("tiles: palette %q has no colours", name)
		}
		out[name] = p
	}
	return out, nil
}

func parseHex(s string) (RGB, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return RGB{}, eris.Errorf("tiles: bad colour %q", s)
	}
	var c RGB
	for i := range c {
		v, err := strconv.ParseUint(s[2*i:2*i+2], 16, 8)
		if err != nil {
			return RGB{}, eris.Wrapf(err, "tiles: bad colour %q", s)
		}
		c[i] = uint8(v)
	}
	return c, nil
}
