package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline",
	Long:  "Analyses the catalog, then publishes admin boundary metadata, map tiles and the results summary.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		datasets, _ := cmd.Flags().GetStringSlice("dataset")
		force, _ := cmd.Flags().GetBool("force")
		skipTiles, _ := cmd.Flags().GetBool("skip-tiles")

		summary, err := runAnalysis(ctx, env, pipeline.RunOpts{Datasets: datasets, Force: force})
		if err != nil {
			return err
		}

		docs, err := loadDocuments(ctx, env)
		if err != nil {
			return err
		}
		if err := writeAdminMeta(ctx, env, docs); err != nil {
			return eris.Wrap(err, "admin metadata")
		}

		published, failed := 0, 0
		if !skipTiles {
			published, failed, err = publishTiles(ctx, env, false)
			if err != nil {
				return eris.Wrap(err, "tiles")
			}
		}

		if err := pipeline.WriteSummary(ctx, env.Mirror, docs, logger); err != nil {
			return eris.Wrap(err, "summary")
		}

		logger.Info("run complete",
			zap.Int("analyzed", summary.Analyzed),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed),
			zap.Int("tilesets_published", published),
			zap.Int("tilesets_failed", failed),
		)
		fmt.Printf("analyzed=%d skipped=%d failed=%d tilesets=%d\n",
			summary.Analyzed, summary.Skipped, summary.Failed, published)
		return nil
	},
}

func init() {
	runCmd.Flags().StringSlice("dataset", nil, "analyse only these dataset keys")
	runCmd.Flags().Bool("force", false, "re-analyse datasets that already have results")
	runCmd.Flags().Bool("skip-tiles", false, "do not generate or upload tiles")
	rootCmd.AddCommand(runCmd)
}
