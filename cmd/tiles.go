package main

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/catalog"
	"github.com/sells-group/sdm-cli/internal/pipeline"
	"github.com/sells-group/sdm-cli/internal/tiles"
)

var tilesCmd = &cobra.Command{
	Use:   "tiles",
	Short: "Generate and upload map tiles for analysed rasters",
	Long:  "Scales each analysed raster between 0 and its 99th percentile, colours it with the configured ramp, runs the external tiler and uploads the tileset with its manifest.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("tiles"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		overwrite, _ := cmd.Flags().GetBool("overwrite")
		published, failed, err := publishTiles(ctx, env, overwrite)
		if err != nil {
			return err
		}
		fmt.Printf("tilesets published=%d failed=%d\n", published, failed)
		return nil
	},
}

// tileJobs builds one job per analysed dataset of the catalog. The colour
// stretch runs from zero to the raster's 99th percentile.
func tileJobs(cat *catalog.Catalog, docs map[string]*pipeline.Document) []tiles.Job {
	jobs := make([]tiles.Job, 0, len(docs))
	for _, key := range pipeline.Keys(docs) {
		ds, ok := cat.Get(key)
		if !ok {
			continue
		}
		jobs = append(jobs, tiles.Job{
			Key:           key,
			Folder:        ds.Folder,
			InputFileName: ds.InputFileName,
			Band:          ds.Band,
			Min:           0,
			Max:           docs[key].P99(),
		})
	}
	return jobs
}

func publishTiles(ctx context.Context, env *cliEnv, overwrite bool) (int, int, error) {
	cat, err := catalog.Load(cfg.Paths.Catalog)
	if err != nil {
		return 0, 0, err
	}
	docs, err := pipeline.LoadAll(ctx, env.Mirror, cat.Active(), logger)
	if err != nil {
		return 0, 0, err
	}

	palettes, err := tiles.LoadPalettes(cfg.Tiles.Palettes)
	if err != nil {
		return 0, 0, err
	}

	fs := afero.NewOsFs()
	t := cfg.Tiles
	tiler := tiles.NewTiler(t.Command, t.ColourCommand, t.Args, logger)
	uploader := tiles.NewUploader(fs, env.Remote, t.UploadConcurrency, t.UploadRate, logger)
	publisher := tiles.NewPublisher(fs, env.Remote, tiler, uploader, palettes, tiles.Options{
		DataDir:      cfg.Paths.DataDir,
		OutputDir:    cfg.Paths.OutputDir,
		RampDir:      cfg.Paths.ColourRampDir,
		Palette:      t.ColourRamp,
		Stops:        t.Stops,
		EstimateZoom: t.EstimateZoom,
		Overwrite:    overwrite,
	}, logger)

	jobs := tileJobs(cat, docs)
	logger.Info("publishing tiles", zap.Int("jobs", len(jobs)))
	return publisher.PublishAll(ctx, jobs)
}

func init() {
	tilesCmd.Flags().Bool("overwrite", false, "regenerate tiles even when the local tileset matches its manifest")
	rootCmd.AddCommand(tilesCmd)
}
