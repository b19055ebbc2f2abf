package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var boundsCmd = &cobra.Command{
	Use:   "bounds",
	Short: "Print the lon/lat coverage of the source tiles",
	Long: `Print the coverage derived from the source CRS's tile matrix, or the
configured --source-bounds, as 'min-lon,min-lat,max-lon,max-lat'.

Examples:
  reproject bounds --url 'http://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png'
  reproject bounds --url 'http://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png' --geojson`,
	Args: cobra.NoArgs,
	RunE: runBounds,
}

func init() {
	rootCmd.AddCommand(boundsCmd)

	boundsCmd.Flags().Bool("geojson", false, "print the coverage as a GeoJSON feature")
	viper.BindPFlag("bounds.geojson", boundsCmd.Flags().Lookup("geojson"))
}

func runBounds(cmd *cobra.Command, args []string) error {
	layer, g, err := buildLayer()
	if err != nil {
		return err
	}
	defer g.Close()

	b, ok := layer.Bounds()
	if !ok {
		return fmt.Errorf("layer is not active")
	}

	if !viper.GetBool("bounds.geojson") {
		fmt.Fprintf(cmd.OutOrStdout(), "%g,%g,%g,%g\n", b.Min[0], b.Min[1], b.Max[0], b.Max[1])
		return nil
	}

	f := geojson.NewFeature(b.ToPolygon())
	f.Properties["source_crs"] = layer.SourceCRS().Code
	f.Properties["display_crs"] = layer.DisplayCRS().Code
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(f)
}
