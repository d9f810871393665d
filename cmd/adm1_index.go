package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/sdm-cli/internal/admin"
	"github.com/sells-group/sdm-cli/internal/vector"
)

var adm1IndexCmd = &cobra.Command{
	Use:   "adm1-index [gpkg]",
	Short: "Assign admin-1 codes in a GeoPackage",
	Long:  "Numbers the admin-1 zones of each country by name and writes {ISO3}_{nnn} codes into the layer's code column. Defaults to paths.adm1.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		path := cfg.Paths.Adm1
		if len(args) == 1 {
			path = args[0]
		}

		g, err := vector.OpenGeoPackage(ctx, path)
		if err != nil {
			return err
		}
		defer g.Close() //nolint:errcheck

		opts := admin.DefaultIndexOptions()
		opts.CountryField, _ = cmd.Flags().GetString("country-field")
		opts.NameField, _ = cmd.Flags().GetString("name-field")
		opts.CodeField, _ = cmd.Flags().GetString("code-field")

		n, err := admin.IndexGeoPackage(ctx, g, opts, logger)
		if err != nil {
			return err
		}
		fmt.Printf("indexed %d zones in %s\n", n, path)
		return nil
	},
}

func init() {
	defaults := admin.DefaultIndexOptions()
	adm1IndexCmd.Flags().String("country-field", defaults.CountryField, "attribute holding the country ISO3 code")
	adm1IndexCmd.Flags().String("name-field", defaults.NameField, "attribute holding the zone name")
	adm1IndexCmd.Flags().String("code-field", defaults.CodeField, "attribute to write the codes to")
	rootCmd.AddCommand(adm1IndexCmd)
}
