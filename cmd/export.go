package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/sdm-cli/internal/pipeline"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Load binned areas into PostgreSQL",
	Long:  "Writes the area-by-bin and area-by-land-use tables of every available result to the sdm schema of database.url.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("export"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		pool, err := env.Pool(ctx)
		if err != nil {
			return err
		}
		if err := pipeline.MigrateExport(ctx, pool); err != nil {
			return err
		}

		docs, err := loadDocuments(ctx, env)
		if err != nil {
			return err
		}
		n, err := pipeline.Export(ctx, pool, docs, logger)
		if err != nil {
			return err
		}
		fmt.Printf("exported %d rows for %d datasets\n", n, len(docs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
