package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/reproject/internal/stitch"
	"github.com/kiesman99/reproject/pkg/tile"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Stitch a block of display tiles into one PNG",
	Long: `Load every display tile in an inclusive x/y range at one zoom level and
compose them into a single image. Tiles that fail are left transparent; the
command fails when more than half of them could not be loaded.

Examples:
  reproject render --zoom 2 --min-x 0 --min-y 0 --max-x 3 --max-y 3 \
    --url 'http://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png' -o world.png`,
	Args: cobra.NoArgs,
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringP("output", "o", "", "output file (default: stdout)")
	renderCmd.Flags().Int("zoom", 0, "display zoom level")
	renderCmd.Flags().Int("min-x", 0, "first tile column")
	renderCmd.Flags().Int("min-y", 0, "first tile row")
	renderCmd.Flags().Int("max-x", 0, "last tile column")
	renderCmd.Flags().Int("max-y", 0, "last tile row")

	viper.BindPFlag("render.output", renderCmd.Flags().Lookup("output"))
	viper.BindPFlag("render.zoom", renderCmd.Flags().Lookup("zoom"))
	viper.BindPFlag("render.min-x", renderCmd.Flags().Lookup("min-x"))
	viper.BindPFlag("render.min-y", renderCmd.Flags().Lookup("min-y"))
	viper.BindPFlag("render.max-x", renderCmd.Flags().Lookup("max-x"))
	viper.BindPFlag("render.max-y", renderCmd.Flags().Lookup("max-y"))
}

func runRender(cmd *cobra.Command, args []string) error {
	r := stitch.Range{
		Zoom: viper.GetInt("render.zoom"),
		MinX: viper.GetInt("render.min-x"),
		MinY: viper.GetInt("render.min-y"),
		MaxX: viper.GetInt("render.max-x"),
		MaxY: viper.GetInt("render.max-y"),
	}
	if r.MaxX < r.MinX || r.MaxY < r.MinY {
		return fmt.Errorf("max-x/max-y must not be smaller than min-x/min-y")
	}

	layer, g, err := buildLayer()
	if err != nil {
		return err
	}
	defer g.Close()

	log := newLogger("cli")
	log.Info().Int("zoom", r.Zoom).Int("tiles", r.Tiles()).Msg("rendering")

	start := time.Now()
	img, err := stitch.NewStitcher(layer, g.TileSize()).Stitch(cmd.Context(), r)
	if err != nil {
		var te *stitch.TileError
		if errors.As(err, &te) {
			for _, ft := range te.FailedTiles {
				log.Warn().Err(ft.Err).Str("tile", ft.Coords.String()).Msg("tile failed")
			}
		}
		return err
	}
	log.Info().Dur("took", time.Since(start)).Msg("render complete")

	return tile.WritePNG(viper.GetString("render.output"), img)
}
