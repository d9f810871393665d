package tiles

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sells-group/sdm-cli/internal/blob"
	"github.com/sells-group/sdm-cli/internal/crs"
	"github.com/sells-group/sdm-cli/internal/raster"
)

func TestRampName(t *testing.T) {
	assert.Equal(t, "viridis_1_to_254__1000_stops", RampName("viridis", 1, 254, 1000))
	assert.Equal(t, "greys_0.5_to_2__3_stops", RampName("greys", 0.5, 2, 3))
}

func TestWriteRamp(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRamp(&buf, Viridis, 3, 1, 254))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"nv 0 0 0 0",
		"1.000000 68 1 84",
		"127.500000 38 130 142",
		"254.000000 253 231 37",
	}, lines)
}

func TestWriteRamp_Errors(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteRamp(&buf, nil, 10, 0, 1))
	assert.Error(t, WriteRamp(&buf, Viridis, 1, 0, 1))
	assert.Error(t, WriteRamp(&buf, Viridis, 10, 1, 1))
}

func TestPalette_At(t *testing.T) {
	p := Palette{{0, 0, 0}, {255, 100, 10}}
	assert.Equal(t, RGB{0, 0, 0}, p.At(-1))
	assert.Equal(t, RGB{127, 50, 5}, p.At(0.5))
	assert.Equal(t, RGB{255, 100, 10}, p.At(1))
	assert.Equal(t, RGB{255, 100, 10}, p.At(2))
}

func TestLoadPalettes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "palettes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("palettes:\n  greys: [\"#000000\", \"#FFFFFF\"]\n"), 0o644))

	ps, err := LoadPalettes(path)
	require.NoError(t, err)
	assert.Equal(t, Palette{{0, 0, 0}, {255, 255, 255}}, ps["greys"])
	assert.Equal(t, Viridis, ps["viridis"])

	ps, err = LoadPalettes("")
	require.NoError(t, err)
	assert.Len(t, ps, len(Builtin))

	require.NoError(t, os.WriteFile(path, []byte("palettes:\n  bad: [\"#12\"]\n"), 0o644))
	_, err = LoadPalettes(path)
	assert.Error(t, err)
}

func TestScale(t *testing.T) {
	m := raster.MustMasked(5, 1, []float64{0, 0.5, 1, 2, -9999})
	m.ExcludeEqual(-9999)
	r := &raster.Raster{Band: m, Transform: raster.NorthUp(0, 1, 1, 1), CRS: crs.Geographic{},
		NoData: -9999, HasNoData: true, DataType: raster.Float32}

	out, err := Scale(r, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 128, 254, 254, 0}, out.Band.Values)
	assert.Equal(t, raster.Uint8, out.DataType)
	assert.True(t, out.HasNoData)
	assert.Zero(t, out.NoData)
	assert.False(t, out.Band.Valid(4))
	assert.Equal(t, 4, out.Band.ValidCount())

	_, err = Scale(r, 1, 1)
	assert.Error(t, err)
}

func writeTiles(t *testing.T, fsys afero.Fs, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		require.NoError(t, afero.WriteFile(fsys, filepath.Join(dir, filepath.FromSlash(name)), []byte(body), 0o644))
	}
}

func TestManifest(t *testing.T) {
	fsys := afero.NewMemMapFs()
	dir := "/out/tiles"
	writeTiles(t, fsys, dir, map[string]string{
		"0/0/0.png":            "a",
		"1/0/1.png":            "bb",
		"1/1/1.png":            "ccc",
		"tilemapresource.xml":  "<xml/>",
		"openlayers.html.skip": "",
	})

	ok, err := CompareManifest(fsys, dir)
	require.NoError(t, err)
	assert.False(t, ok, "no manifest yet")

	m, err := WriteManifest(fsys, dir)
	require.NoError(t, err)
	assert.Equal(t, Manifest{"0/0/0.png": 1, "1/0/1.png": 2, "1/1/1.png": 3}, m)
	assert.Equal(t, 1, m.MaxZoom())

	ok, err = CompareManifest(fsys, dir)
	require.NoError(t, err)
	assert.True(t, ok)

	writeTiles(t, fsys, dir, map[string]string{"2/0/0.png": "dddd"})
	ok, err = CompareManifest(fsys, dir)
	require.NoError(t, err)
	assert.False(t, ok)

	z, err := MaxZoomLevel(fsys, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, z)
}

func TestManifest_MaxZoom(t *testing.T) {
	assert.Equal(t, -1, Manifest{}.MaxZoom())
	assert.Equal(t, 12, Manifest{"3/1/2.png": 1, "12/0/0.png": 1, "junk.png": 1}.MaxZoom())
}

func TestTilesetKey(t *testing.T) {
	assert.Equal(t, "raster_tiles/SDM/birds/birds_kenya_owl_zoom_auto", TilesetKey("birds", "birds_kenya_owl"))
	assert.Equal(t, "raster_tiles/SDM/birds/birds_kenya_owl_zoom_auto/.tile_manifest.json", ManifestKey("birds", "birds_kenya_owl"))
}

func TestGroundResolution(t *testing.T) {
	assert.InDelta(t, 156543.03, GroundResolution(0), 0.01)
	assert.InDelta(t, GroundResolution(0)/1024, GroundResolution(10), 1e-6)
}

func TestAutoZoom(t *testing.T) {
	g := raster.Grid{Width: 100, Height: 100, Transform: raster.NorthUp(0, 0.5, 0.01, 0.01), CRS: crs.Geographic{}}
	// About 1.1 km pixels: zoom 7 is 1.2 km, zoom 8 is 611 m.
	assert.Equal(t, 8, AutoZoom(g))

	coarse := raster.Grid{Width: 10, Height: 10, Transform: raster.NorthUp(-180, 85, 36, 17), CRS: nil}
	assert.Equal(t, 0, AutoZoom(coarse))
}

func TestTiler_TileArgs(t *testing.T) {
	tl := NewTiler("", "", []string{"--webviewer", "none"}, nil)
	assert.Equal(t, "gdal2tiles.py", tl.Command)
	assert.Equal(t, "gdaldem", tl.ColourCommand)
	assert.Equal(t,
		[]string{"--xyz", "-r", "bilinear", "--processes", "4", "--webviewer", "none", "in.tif", "out"},
		tl.TileArgs("in.tif", "out", ZoomRange{}, false))
	assert.Equal(t,
		[]string{"--xyz", "--resume", "-z", "7-7", "-r", "bilinear", "--processes", "4", "--webviewer", "none", "in.tif", "out"},
		tl.TileArgs("in.tif", "out", Zooms(7, 7), true))
}

func TestTiler_CommandFailure(t *testing.T) {
	tl := NewTiler(filepath.Join(t.TempDir(), "missing-tiler"), "", nil, zaptest.NewLogger(t))
	err := tl.Tile(context.Background(), "in.tif", "out", ZoomRange{}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-tiler")
}

func TestUploader(t *testing.T) {
	ctx := context.Background()
	local := afero.NewMemMapFs()
	dir := "/out/raster_tiles/SDM/f/k_zoom_auto"
	writeTiles(t, local, dir, map[string]string{
		"0/0/0.png":           "a",
		"1/0/0.png":           "b",
		"1/1/0.png":           "c",
		"tilemapresource.xml": "<xml/>",
	})
	_, err := WriteManifest(local, dir)
	require.NoError(t, err)

	remote := blob.NewFS(afero.NewMemMapFs(), "/remote")
	u := NewUploader(local, remote, 2, 0, zaptest.NewLogger(t))

	n, err := u.Upload(ctx, dir, "raster_tiles/SDM/f/k_zoom_auto")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	keys, err := remote.List(ctx, "raster_tiles/SDM/f/k_zoom_auto")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"raster_tiles/SDM/f/k_zoom_auto/.tile_manifest.json",
		"raster_tiles/SDM/f/k_zoom_auto/0/0/0.png",
		"raster_tiles/SDM/f/k_zoom_auto/1/0/0.png",
		"raster_tiles/SDM/f/k_zoom_auto/1/1/0.png",
	}, keys)

	n, err = u.Upload(ctx, dir, "raster_tiles/SDM/f/k_zoom_auto")
	require.NoError(t, err)
	assert.Zero(t, n, "matching remote manifest skips the upload")

	z, err := MaxZoom(ctx, remote, "f", "k")
	require.NoError(t, err)
	assert.Equal(t, 1, z)

	z, err = MaxZoom(ctx, remote, "f", "missing")
	require.NoError(t, err)
	assert.Equal(t, -1, z)
}

func TestUploader_RequiresLocalManifest(t *testing.T) {
	u := NewUploader(afero.NewMemMapFs(), blob.NewFS(afero.NewMemMapFs(), "/remote"), 0, 5, nil)
	_, err := u.Upload(context.Background(), "/nowhere", "p")
	assert.Error(t, err)
}

func newTestPublisher(t *testing.T, fsys afero.Fs, remote blob.Store) *Publisher {
	t.Helper()
	log := zaptest.NewLogger(t)
	// A tiler that cannot run proves generation was skipped.
	tiler := NewTiler(filepath.Join(t.TempDir(), "no-tiler"), filepath.Join(t.TempDir(), "no-gdaldem"), nil, log)
	return NewPublisher(fsys, remote, tiler, NewUploader(fsys, remote, 4, 0, log), nil,
		Options{DataDir: "/data", OutputDir: "/out"}, log)
}

func TestPublisher_SkipsWhenRemoteManifestExists(t *testing.T) {
	ctx := context.Background()
	remote := blob.NewFS(afero.NewMemMapFs(), "/remote")
	require.NoError(t, remote.Put(ctx, ManifestKey("f", "k"), []byte(`{"0/0/0.png": 1}`)))

	p := newTestPublisher(t, afero.NewMemMapFs(), remote)
	require.NoError(t, p.Publish(ctx, Job{Key: "k", Folder: "f", InputFileName: "k.tif", Band: 1, Max: 1}))
}

func TestPublisher_UploadsMatchingLocalTiles(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	remote := blob.NewFS(afero.NewMemMapFs(), "/remote")
	p := newTestPublisher(t, fsys, remote)
	job := Job{Key: "k", Folder: "f", InputFileName: "k.tif", Band: 1, Max: 1}

	dir := p.LocalDir(job)
	assert.Equal(t, filepath.FromSlash("/out/raster_tiles/SDM/f/k_zoom_auto"), dir)
	writeTiles(t, fsys, dir, map[string]string{"0/0/0.png": "a", "1/0/0.png": "b"})
	_, err := WriteManifest(fsys, dir)
	require.NoError(t, err)

	require.NoError(t, p.Publish(ctx, job))
	ok, err := remote.Exists(ctx, ManifestKey("f", "k"))
	require.NoError(t, err)
	assert.True(t, ok)

	published, failed, err := p.PublishAll(ctx, []Job{job, {Key: "broken", Folder: "f", InputFileName: "missing.tif", Band: 1, Max: 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, published)
	assert.Equal(t, 1, failed)
}

func TestPublisher_RampPath(t *testing.T) {
	fsys := afero.NewMemMapFs()
	p := newTestPublisher(t, fsys, blob.NewFS(afero.NewMemMapFs(), "/remote"))
	path, err := p.RampPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", "colour_ramps", "viridis_1_to_254__1000_stops.txt"), path)

	data, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 1001)
	assert.Equal(t, "nv 0 0 0 0", lines[0])
	assert.Equal(t, "254.000000 253 231 37", lines[1000])
}
