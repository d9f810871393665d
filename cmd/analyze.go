package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sdm-cli/internal/pipeline"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyse every active raster in the catalog",
	Long:  "Bins each raster by country, admin-1 zone, protected-area status and land use and publishes raster_analysis/results_{key}.json. Datasets with published results are skipped unless --force is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("analyze"); err != nil {
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

		summary, err := runAnalysis(ctx, env, pipeline.RunOpts{Datasets: datasets, Force: force})
		if err != nil {
			return err
		}
		fmt.Printf("analyzed=%d skipped=%d failed=%d\n", summary.Analyzed, summary.Skipped, summary.Failed)
		return nil
	},
}

// runAnalysis syncs the catalog and runs the per-dataset loop.
func runAnalysis(ctx context.Context, env *cliEnv, opts pipeline.RunOpts) (pipeline.RunSummary, error) {
	cat, err := env.syncCatalog(ctx)
	if err != nil {
		return pipeline.RunSummary{}, eris.Wrap(err, "sync catalog")
	}

	aopts := analysisOptions(cfg)
	inputs, err := env.openInputs(ctx, aopts)
	if err != nil {
		return pipeline.RunSummary{}, err
	}

	analyzer := pipeline.NewAnalyzer(inputs, aopts, logger)
	runner := pipeline.NewRunner(analyzer, env.Mirror, env.Runs, cfg.Paths.DataDir, logger)

	summary, err := runner.Run(ctx, cat, opts)
	if err != nil {
		return summary, err
	}
	logger.Info("analysis complete",
		zap.Int("analyzed", summary.Analyzed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

func init() {
	analyzeCmd.Flags().StringSlice("dataset", nil, "analyse only these dataset keys")
	analyzeCmd.Flags().Bool("force", false, "re-analyse datasets that already have results")
	rootCmd.AddCommand(analyzeCmd)
}
