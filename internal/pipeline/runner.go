package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/blob"
	"github.com/sells-group/sdm-cli/internal/catalog"
	"github.com/sells-group/sdm-cli/internal/raster"
	"github.com/sells-group/sdm-cli/internal/runlog"
)

// ResultsPrefix is the blob prefix of every results file.
const ResultsPrefix = "raster_analysis"

// ResultKey returns the blob key of a dataset's results file.
func ResultKey(datasetKey string) string {
	return fmt.Sprintf("%s/results_%s.json", ResultsPrefix, datasetKey)
}

// RasterAnalyzer analyses one band of a raster.
type RasterAnalyzer interface {
	Analyze(ctx context.Context, src raster.Source, band int) (*Results, error)
}

// Opener opens a dataset's raster.
type Opener func(path string) (raster.Source, error)

// Runner analyses every active raster of a catalog and publishes the
// results.
type Runner struct {
	analyzer RasterAnalyzer
	store    *blob.Mirror
	runs     *runlog.Log
	dataDir  string
	open     Opener
	log      *zap.Logger
}

// RunOpts selects the datasets to analyse.
type RunOpts struct {
	Datasets []string // restrict to these dataset keys
	Force    bool     // analyse even when a result already exists
}

// RunSummary counts the outcome of a run.
type RunSummary struct {
	Analyzed int
	Skipped  int
	Failed   int
}

// NewRunner creates a runner. runs may be nil.
func NewRunner(a RasterAnalyzer, store *blob.Mirror, runs *runlog.Log, dataDir string, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		analyzer: a,
		store:    store,
		runs:     runs,
		dataDir:  dataDir,
		open:     raster.Open,
		log:      log.With(zap.String("component", "pipeline.runner")),
	}
}

// WithOpener replaces the raster opener.
func (r *Runner) WithOpener(open Opener) *Runner {
	r.open = open
	return r
}

// Run analyses the selected datasets one at a time. A failing dataset is
// logged and recorded, and the loop moves on.
func (r *Runner) Run(ctx context.Context, cat *catalog.Catalog, opts RunOpts) (RunSummary, error) {
	log := r.log
	var summary RunSummary

	datasets := cat.Active()
	if len(opts.Datasets) > 0 {
		for _, key := range opts.Datasets {
			if _, ok := cat.Get(key); !ok {
				return summary, eris.Errorf("pipeline: unknown dataset %q", key)
			}
		}
		datasets = slices.DeleteFunc(datasets, func(ds catalog.Dataset) bool {
			return !slices.Contains(opts.Datasets, ds.Key)
		})
	}
	if len(datasets) == 0 {
		log.Info("no datasets selected")
		return summary, nil
	}
	log.Info("selected datasets", zap.Int("count", len(datasets)))

	for _, ds := range datasets {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		dsLog := log.With(zap.String("dataset", ds.Key))
		key := ResultKey(ds.Key)

		if !opts.Force {
			reason, err := r.checkpoint(ctx, key)
			if err != nil {
				err = eris.Wrapf(err, "pipeline: check existing result for %s", ds.Key)
				dsLog.Error("checking existing result failed", zap.Error(err))
				r.fail(ctx, dsLog, r.start(ctx, dsLog, ds.Key), err)
				summary.Failed++
				continue
			}
			if reason != "" {
				dsLog.Info("skipping", zap.String("reason", reason))
				r.recordSkip(ctx, dsLog, ds.Key, reason)
				summary.Skipped++
				continue
			}
		}

		dsLog.Info("starting analysis")
		runID := r.start(ctx, dsLog, ds.Key)

		start := time.Now()
		doc, err := r.analyze(ctx, ds, key)
		elapsed := time.Since(start)

		if err != nil {
			dsLog.Error("analysis failed", zap.Error(err), zap.Duration("elapsed", elapsed))
			r.fail(ctx, dsLog, runID, err)
			summary.Failed++
			continue
		}

		if r.runs != nil && runID != "" {
			meta := map[string]any{
				"result":    key,
				"adm0":      len(doc.Adm0List),
				"adm1":      len(doc.Adm1List),
				"elapsed_s": elapsed.Seconds(),
			}
			if err := r.runs.Complete(ctx, runID, meta); err != nil {
				dsLog.Error("failed to record run completion", zap.Error(err))
			}
		}

		dsLog.Info("analysis complete",
			zap.Int("adm0", len(doc.Adm0List)),
			zap.Int("adm1", len(doc.Adm1List)),
			zap.Duration("elapsed", elapsed),
		)
		summary.Analyzed++
	}

	log.Info("analysis run complete",
		zap.Int("analyzed", summary.Analyzed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// checkpoint reports why a dataset need not be analysed, or "" when it
// must. A local result without a remote copy is uploaded first.
func (r *Runner) checkpoint(ctx context.Context, key string) (string, error) {
	ok, err := r.store.Remote.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if ok {
		return "remote result exists", nil
	}
	ok, err = r.store.Local.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	if err := r.store.Upload(ctx, key); err != nil {
		return "", err
	}
	return "uploaded local result", nil
}

func (r *Runner) analyze(ctx context.Context, ds catalog.Dataset, key string) (*Document, error) {
	path := ds.RasterPath(r.dataDir)
	src, err := r.open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open %s", filepath.Base(path))
	}
	defer func() { _ = src.Close() }()

	res, err := r.analyzer.Analyze(ctx, src, ds.Band)
	if err != nil {
		return nil, err
	}
	res.Metadata = ds.Metadata()

	doc := res.Document()
	data, err := doc.Encode()
	if err != nil {
		return nil, err
	}
	if err := r.store.Put(ctx, key, data); err != nil {
		return nil, eris.Wrapf(err, "pipeline: publish %s", key)
	}
	return doc, nil
}

func (r *Runner) start(ctx context.Context, log *zap.Logger, dataset string) string {
	if r.runs == nil {
		return ""
	}
	id, err := r.runs.Start(ctx, dataset)
	if err != nil {
		log.Error("failed to record run start", zap.Error(err))
		return ""
	}
	return id
}

func (r *Runner) fail(ctx context.Context, log *zap.Logger, runID string, cause error) {
	if r.runs == nil || runID == "" {
		return
	}
	if err := r.runs.Fail(ctx, runID, cause); err != nil {
		log.Error("failed to record run failure", zap.Error(err))
	}
}

func (r *Runner) recordSkip(ctx context.Context, log *zap.Logger, dataset, reason string) {
	if r.runs == nil {
		return
	}
	if err := r.runs.Skip(ctx, dataset, reason); err != nil {
		log.Error("failed to record skip", zap.Error(err))
	}
}
