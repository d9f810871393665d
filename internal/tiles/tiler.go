package tiles

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Tiler drives the external colour-relief and tile-cutting tools.
type Tiler struct {
	Command       string   // tile cutter, gdal2tiles.py by default
	ColourCommand string   // colour relief, gdaldem by default
	Args          []string // extra tile cutter arguments
	Resampling    string
	Processes     int
	log           *zap.Logger
}

// NewTiler creates a Tiler. Empty commands use the GDAL defaults.
func NewTiler(command, colourCommand string, args []string, log *zap.Logger) *Tiler {
	if command == "" {
		command = "gdal2tiles.py"
	}
	if colourCommand == "" {
		colourCommand = "gdaldem"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tiler{
		Command:       command,
		ColourCommand: colourCommand,
		Args:          args,
		Resampling:    "bilinear",
		Processes:     4,
		log:           log,
	}
}

// Colour renders an 8-bit raster through a colour ramp into an RGBA
// GeoTIFF. Pixels matching the ramp's no-data entry become transparent.
func (t *Tiler) Colour(ctx context.Context, input, ramp, output string) error {
	return t.run(ctx, t.ColourCommand, "color-relief", "-alpha", input, ramp, output)
}

// ZoomRange is an inclusive range of zoom levels. The zero value lets the
// tiler choose.
type ZoomRange struct {
	Min, Max int
	Set      bool
}

// Zooms returns the range lo..hi.
func Zooms(lo, hi int) ZoomRange { return ZoomRange{Min: lo, Max: hi, Set: true} }

// TileArgs builds the tile cutter's command line.
func (t *Tiler) TileArgs(input, outDir string, zooms ZoomRange, resume bool) []string {
	args := []string{"--xyz"}
	if resume {
		args = append(args, "--resume")
	}
	if zooms.Set {
		args = append(args, "-z", strconv.Itoa(zooms.Min)+"-"+strconv.Itoa(zooms.Max))
	}
	if t.Resampling != "" {
		args = append(args, "-r", t.Resampling)
	}
	if t.Processes > 0 {
		args = append(args, "--processes", strconv.Itoa(t.Processes))
	}
	args = append(args, t.Args...)
	return append(args, input, outDir)
}

// Tile cuts XYZ tiles from input into outDir.
func (t *Tiler) Tile(ctx context.Context, input, outDir string, zooms ZoomRange, resume bool) error {
	return t.run(ctx, t.Command, t.TileArgs(input, outDir, zooms, resume)...)
}

func (t *Tiler) run(ctx context.Context, name string, args ...string) error {
	t.log.Debug("running command", zap.String("command", name), zap.Strings("args", args))
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return eris.Wrapf(err, "tiles: %s failed: %s", name, strings.TrimSpace(stderr.String()))
	}
	return nil
}
