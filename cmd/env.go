package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/blob"
	"github.com/sells-group/sdm-cli/internal/catalog"
	"github.com/sells-group/sdm-cli/internal/config"
	"github.com/sells-group/sdm-cli/internal/db"
	"github.com/sells-group/sdm-cli/internal/intersect"
	"github.com/sells-group/sdm-cli/internal/pipeline"
	"github.com/sells-group/sdm-cli/internal/projection"
	"github.com/sells-group/sdm-cli/internal/raster"
	"github.com/sells-group/sdm-cli/internal/resilience"
	"github.com/sells-group/sdm-cli/internal/runlog"
	"github.com/sells-group/sdm-cli/internal/vector"
)

// postgisScheme prefixes layer paths that name a PostGIS table, e.g.
// "postgis:public.adm0".
const postgisScheme = "postgis:"

// cliEnv holds the stores shared by the commands.
type cliEnv struct {
	Remote blob.Store
	Mirror *blob.Mirror
	Runs   *runlog.Log

	pool    *pgxpool.Pool
	closers []func()
}

// Close releases every resource opened through the environment.
func (e *cliEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// initEnv opens the remote store, mirrors it under the output directory and
// opens the run log. Callers should defer env.Close().
func initEnv(ctx context.Context) (*cliEnv, error) {
	env := &cliEnv{}

	remote, closeRemote, err := blob.Open(ctx, storeOptions(cfg), logger)
	if err != nil {
		return nil, eris.Wrap(err, "open remote store")
	}
	env.closers = append(env.closers, closeRemote)
	env.Remote = remote
	env.Mirror = blob.NewMirror(blob.NewFS(nil, cfg.Paths.OutputDir), remote, logger)

	if err := os.MkdirAll(filepath.Dir(cfg.RunLog.Path), 0o755); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "create run log directory")
	}
	runs, err := runlog.Open(cfg.RunLog.Path)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.closers = append(env.closers, func() { _ = runs.Close() })
	if err := runs.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate run log")
	}
	env.Runs = runs

	return env, nil
}

func storeOptions(c *config.Config) blob.Options {
	return blob.Options{
		Driver:      c.Store.Driver,
		Root:        c.Store.Root,
		FTPURL:      c.Store.FTPURL,
		DatabaseURL: c.Store.DatabaseURL,
		RedisURL:    c.Store.RedisURL,
		Prefix:      c.Store.Prefix,
		Retry:       resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs, 0, 0),
	}
}

// Pool connects to the configured database on first use.
func (e *cliEnv) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	if e.pool != nil {
		return e.pool, nil
	}
	if cfg.Database.URL == "" {
		return nil, eris.New("database.url is required")
	}
	pool, err := db.Connect(ctx, cfg.Database.URL, db.PoolConfig{MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return nil, err
	}
	e.pool = pool
	e.closers = append(e.closers, pool.Close)
	return pool, nil
}

// syncCatalog merges the local and remote catalogs and returns the result.
func (e *cliEnv) syncCatalog(ctx context.Context) (*catalog.Catalog, error) {
	return catalog.Sync(ctx, cfg.Paths.Catalog, e.Remote, catalog.DefaultKey, logger)
}

// openVector opens a polygon layer. Paths ending in .shp are shapefiles,
// paths starting with "postgis:" name a table, anything else is a
// GeoPackage. fields lists the attributes read from PostGIS.
func (e *cliEnv) openVector(ctx context.Context, path string, fields ...string) (vector.Source, error) {
	switch {
	case strings.HasPrefix(path, postgisScheme):
		pool, err := e.Pool(ctx)
		if err != nil {
			return nil, err
		}
		pg, err := vector.NewPostGIS(pool, vector.PostGISConfig{
			Table:  strings.TrimPrefix(path, postgisScheme),
			Fields: fields,
		})
		if err != nil {
			return nil, err
		}
		return pg, nil
	case strings.EqualFold(filepath.Ext(path), ".shp"):
		shp, err := vector.OpenShapefile(path)
		if err != nil {
			return nil, err
		}
		return shp, nil
	default:
		g, err := vector.OpenGeoPackage(ctx, path)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() { _ = g.Close() })
		return g, nil
	}
}

// openInputs opens the reference layers of the analysis. The admin-1,
// protected-area and land-use layers are optional.
func (e *cliEnv) openInputs(ctx context.Context, opts pipeline.Options) (pipeline.Inputs, error) {
	var in pipeline.Inputs
	var err error

	in.Adm0, err = e.openVector(ctx, cfg.Paths.Adm0, opts.Adm0.IDField, opts.Adm0.NameField)
	if err != nil {
		return in, eris.Wrap(err, "open adm0 layer")
	}
	if cfg.Paths.Adm1 != "" {
		in.Adm1, err = e.openVector(ctx, cfg.Paths.Adm1, opts.Adm1.IDField, opts.Adm1.NameField, opts.Adm1CountryField)
		if err != nil {
			return in, eris.Wrap(err, "open adm1 layer")
		}
	}
	if cfg.Paths.ProtectedAreas != "" {
		in.ProtectedAreas, err = e.openVector(ctx, cfg.Paths.ProtectedAreas, opts.PA.CountryField, opts.PA.MarineField)
		if err != nil {
			return in, eris.Wrap(err, "open protected areas layer")
		}
	}
	if cfg.Paths.LandUse != "" {
		src, err := raster.Open(cfg.Paths.LandUse)
		if err != nil {
			return in, eris.Wrap(err, "open land-use raster")
		}
		e.closers = append(e.closers, func() { _ = src.Close() })
		in.LandUse = src
	}

	logger.Info("reference layers opened",
		zap.String("adm0", cfg.Paths.Adm0),
		zap.Bool("adm1", in.Adm1 != nil),
		zap.Bool("protected_areas", in.ProtectedAreas != nil),
		zap.Bool("land_use", in.LandUse != nil),
	)
	return in, nil
}

// analysisOptions maps the analysis config onto pipeline options.
func analysisOptions(c *config.Config) pipeline.Options {
	opts := pipeline.DefaultOptions()
	a := c.Analysis
	if a.Percentile > 0 {
		opts.Percentile = a.Percentile
	}
	if len(a.BinFractions) > 0 {
		opts.BinFractions = a.BinFractions
	}
	opts.NullFractionWarning = a.NullFractionWarning
	if a.LandUseBufferDegrees > 0 {
		opts.LandUseBuffer = a.LandUseBufferDegrees
	}
	opts.Projection = projection.Options{
		Tolerance:     a.CentroidTolerance,
		MaxIterations: a.CentroidMaxIterations,
	}
	opts.Adm0 = withDiscard(opts.Adm0, a.DiscardFraction)
	opts.Adm1 = withDiscard(opts.Adm1, a.DiscardFraction)
	return opts
}

func withDiscard(o intersect.Options, f float64) intersect.Options {
	o.DiscardFraction = f
	return o
}
