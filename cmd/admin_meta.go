package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sdm-cli/internal/admin"
	"github.com/sells-group/sdm-cli/internal/catalog"
	"github.com/sells-group/sdm-cli/internal/pipeline"
	"github.com/sells-group/sdm-cli/internal/vector"
)

var adminMetaCmd = &cobra.Command{
	Use:   "admin-meta",
	Short: "Publish names and bounding boxes of the regions covered by results",
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
		return writeAdminMeta(ctx, env, docs)
	},
}

// loadDocuments reads the results of every active dataset in the local
// catalog.
func loadDocuments(ctx context.Context, env *cliEnv) (map[string]*pipeline.Document, error) {
	cat, err := catalog.Load(cfg.Paths.Catalog)
	if err != nil {
		return nil, err
	}
	return pipeline.LoadAll(ctx, env.Mirror, cat.Active(), logger)
}

func writeAdminMeta(ctx context.Context, env *cliEnv, docs map[string]*pipeline.Document) error {
	opts := admin.DefaultInfoOptions()
	adm0List, adm1List := admin.CoveredRegions(docs)

	adm0, err := env.openVector(ctx, cfg.Paths.Adm0, opts.Adm0IDField, opts.NameField, opts.TypeField)
	if err != nil {
		return eris.Wrap(err, "open adm0 layer")
	}
	var adm1 vector.Source
	if len(adm1List) > 0 {
		adm1, err = env.openVector(ctx, cfg.Paths.Adm1, opts.Adm1IDField, opts.NameField, opts.CountryField)
		if err != nil {
			return eris.Wrap(err, "open adm1 layer")
		}
	}

	info, err := admin.BuildInfo(ctx, adm0, adm1, adm0List, adm1List, opts, logger)
	if err != nil {
		return err
	}
	return admin.WriteInfo(ctx, env.Mirror, info, logger)
}

func init() {
	rootCmd.AddCommand(adminMetaCmd)
}
