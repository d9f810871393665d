package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/sdm-cli/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the dataset catalog",
}

// -- catalog sync --

var catalogSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Merge the local and remote catalogs and publish the result",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		cat, err := env.syncCatalog(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("catalog synced: %d datasets (%d active)\n", cat.Len(), len(cat.Active()))
		return nil
	},
}

// -- catalog list --

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the datasets of the local catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cat, err := catalog.Load(cfg.Paths.Catalog)
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("all")
		datasets := cat.Active()
		if all {
			datasets = cat.All()
		}
		if len(datasets) == 0 {
			fmt.Fprintln(os.Stderr, "No datasets found.")
			return nil
		}
		formatCatalog(os.Stdout, datasets)
		return nil
	},
}

func init() {
	catalogListCmd.Flags().Bool("all", false, "include ignored and vector datasets")

	catalogCmd.AddCommand(catalogSyncCmd)
	catalogCmd.AddCommand(catalogListCmd)
	rootCmd.AddCommand(catalogCmd)
}

// formatCatalog writes a tabular list of datasets to out.
func formatCatalog(out io.Writer, datasets []catalog.Dataset) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tFOLDER\tFILE\tBAND\tTYPE\tIGNORE")
	_, _ = fmt.Fprintln(w, "---\t------\t----\t----\t----\t------")
	for _, ds := range datasets {
		ignore := "no"
		if ds.Ignore {
			ignore = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			ds.Key, ds.Folder, ds.InputFileName, ds.Band, ds.Kind, ignore)
	}
	_ = w.Flush()
}
