package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/sdm-cli/internal/pipeline"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Publish the results summary",
	Long:  "Writes raster_analysis/results_summary.json: every result without its region groups, plus the largest zoom level of its published tiles.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		docs, err := loadDocuments(ctx, env)
		if err != nil {
			return err
		}
		return pipeline.WriteSummary(ctx, env.Mirror, docs, logger)
	},
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}
