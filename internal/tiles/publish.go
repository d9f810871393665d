package tiles

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/blob"
	"github.com/sells-group/sdm-cli/internal/raster"
)

// Job is one raster to tile.
type Job struct {
	Key           string
	Folder        string
	InputFileName string
	Band          int
	Min, Max      float64 // colour stretch
}

// Options controls a Publisher.
type Options struct {
	DataDir      string
	OutputDir    string
	RampDir      string // defaults to DataDir/colour_ramps
	Palette      string
	Stops        int
	EstimateZoom bool // pass an estimated zoom range instead of the tiler default plus one
	Overwrite    bool // regenerate even when the local tiles match their manifest
}

// Publisher generates tilesets and uploads them.
type Publisher struct {
	fs       afero.Fs
	remote   blob.Store
	tiler    *Tiler
	uploader *Uploader
	palettes map[string]Palette
	opts     Options
	log      *zap.Logger
}

// NewPublisher creates a publisher writing tiles below opts.OutputDir.
func NewPublisher(fsys afero.Fs, remote blob.Store, tiler *Tiler, uploader *Uploader, palettes map[string]Palette, opts Options, log *zap.Logger) *Publisher {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if palettes == nil {
		palettes = Builtin
	}
	if opts.Palette == "" {
		opts.Palette = "viridis"
	}
	if opts.Stops <= 0 {
		opts.Stops = 1000
	}
	if opts.RampDir == "" {
		opts.RampDir = filepath.Join(opts.DataDir, "colour_ramps")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		fs:       fsys,
		remote:   remote,
		tiler:    tiler,
		uploader: uploader,
		palettes: palettes,
		opts:     opts,
		log:      log.With(zap.String("component", "tiles.publisher")),
	}
}

// LocalDir returns where a job's tiles are written.
func (p *Publisher) LocalDir(job Job) string {
	return filepath.Join(p.opts.OutputDir, filepath.FromSlash(TilesetKey(job.Folder, job.Key)))
}

// Publish tiles one raster unless its manifest is already on the remote
// store.
func (p *Publisher) Publish(ctx context.Context, job Job) error {
	log := p.log.With(zap.String("dataset", job.Key))
	prefix := TilesetKey(job.Folder, job.Key)

	ok, err := p.remote.Exists(ctx, ManifestKey(job.Folder, job.Key))
	if err != nil {
		return eris.Wrapf(err, "tiles: check remote manifest for %s", job.Key)
	}
	if ok {
		log.Info("tile manifest found on remote store; skipping")
		return nil
	}

	dir := p.LocalDir(job)
	match, err := CompareManifest(p.fs, dir)
	if err != nil {
		return err
	}
	if match && !p.opts.Overwrite {
		log.Info("local tiles match manifest; skipping generation")
	} else if err := p.generate(ctx, job, dir, log); err != nil {
		return err
	}

	_, err = p.uploader.Upload(ctx, dir, prefix)
	return err
}

// PublishAll publishes every job, logging failures and moving on.
func (p *Publisher) PublishAll(ctx context.Context, jobs []Job) (published, failed int, err error) {
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return published, failed, err
		}
		start := time.Now()
		if err := p.Publish(ctx, job); err != nil {
			p.log.Error("tiling failed", zap.String("dataset", job.Key), zap.Error(err),
				zap.Duration("elapsed", time.Since(start)))
			failed++
			continue
		}
		published++
	}
	p.log.Info("tiling complete", zap.Int("published", published), zap.Int("failed", failed))
	return published, failed, nil
}

// RampPath returns the colour-ramp file for the configured palette, writing
// it first when missing.
func (p *Publisher) RampPath() (string, error) {
	pal, ok := p.palettes[p.opts.Palette]
	if !ok {
		return "", eris.Errorf("tiles: unknown palette %q", p.opts.Palette)
	}
	name := RampName(p.opts.Palette, ScaleMin, ScaleMax, p.opts.Stops)
	path := filepath.Join(p.opts.RampDir, name+".txt")
	if _, err := p.fs.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", eris.Wrap(err, "tiles: stat colour ramp")
	}
	if err := p.fs.MkdirAll(p.opts.RampDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiles: create colour ramp dir")
	}
	f, err := p.fs.Create(path)
	if err != nil {
		return "", eris.Wrap(err, "tiles: create colour ramp")
	}
	if err := WriteRamp(f, pal, p.opts.Stops, ScaleMin, ScaleMax); err != nil {
		_ = f.Close()
		return "", err
	}
	return path, eris.Wrap(f.Close(), "tiles: close colour ramp")
}

func (p *Publisher) generate(ctx context.Context, job Job, dir string, log *zap.Logger) error {
	src := filepath.Join(p.opts.DataDir, "raster", "SDM", job.Folder, job.InputFileName)
	r, err := raster.ReadFile(src, job.Band)
	if err != nil {
		return eris.Wrapf(err, "tiles: read %s", job.InputFileName)
	}
	scaled, err := Scale(r, job.Min, job.Max)
	if err != nil {
		return err
	}
	ramp, err := p.RampPath()
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "sdm-tiles-*")
	if err != nil {
		return eris.Wrap(err, "tiles: temp dir")
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	scaledPath := filepath.Join(tmp, "scaled.tif")
	if err := raster.WriteGeoTIFF(scaledPath, scaled); err != nil {
		return err
	}
	colourPath := filepath.Join(tmp, "colour.tif")
	if err := p.tiler.Colour(ctx, scaledPath, ramp, colourPath); err != nil {
		return err
	}
	if err := p.fs.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "tiles: create tile dir")
	}

	log.Info("generating tiles", zap.String("dir", dir))
	if p.opts.EstimateZoom {
		z := AutoZoom(r.Grid())
		if err := p.tiler.Tile(ctx, colourPath, dir, Zooms(0, z), false); err != nil {
			return err
		}
	} else {
		if err := p.tiler.Tile(ctx, colourPath, dir, ZoomRange{}, false); err != nil {
			return err
		}
		// One level finer than the tiler's own choice.
		z, err := MaxZoomLevel(p.fs, dir)
		if err != nil {
			return err
		}
		if err := p.tiler.Tile(ctx, colourPath, dir, Zooms(z+1, z+1), true); err != nil {
			return err
		}
	}

	m, err := WriteManifest(p.fs, dir)
	if err != nil {
		return err
	}
	log.Info("tile manifest written", zap.Int("tiles", len(m)), zap.Int("max_zoom", m.MaxZoom()))
	return nil
}

// MaxZoom reads a dataset's remote manifest and returns its largest zoom
// level, or -1 when there is no manifest.
func MaxZoom(ctx context.Context, store blob.Store, folder, datasetKey string) (int, error) {
	data, err := store.Get(ctx, ManifestKey(folder, datasetKey))
	if errors.Is(err, blob.ErrNotFound) {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	m, err := ParseManifest(data)
	if err != nil {
		return -1, err
	}
	return m.MaxZoom(), nil
}
