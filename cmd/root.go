package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/reproject/internal/grid"
	"github.com/kiesman99/reproject/internal/logger"
	"github.com/kiesman99/reproject/pkg/crs"
	"github.com/kiesman99/reproject/pkg/reproject"
	"github.com/kiesman99/reproject/pkg/tile"
)

const version = "1.0.0"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reproject",
	Short: "Serve map tiles published in one CRS on a grid in another",
	Long: `reproject fetches map tiles published in a source coordinate reference
system and hands them to a display grid that uses another CRS.

Only the tile address is mapped: column and row are kept and the zoom level
is shifted by the source zoom offset. Pixels are drawn as they arrive.

Examples:
  # Fetch a single display tile from a Kakao (EPSG:5181) tile service
  reproject tile 3/5/7 --url 'http://map{s}.daumcdn.net/map_2d/1807hsm/L{z}/{y}/{x}.png' \
    --subdomains 0,1,2,3 --source-crs EPSG:5181 \
    --source-proj4 '+proj=tmerc +lat_0=38 +lon_0=127 +k=1 +x_0=200000 +y_0=500000 +ellps=GRS80 +units=m' \
    --source-bounds 122.7,31.4,132.3,43.5 --source-zoom 1 -o tile.png

  # Print the coverage of a web mercator source
  reproject bounds --url 'http://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png'

  # Stitch a block of display tiles into one image
  reproject render --zoom 2 --min-x 0 --min-y 0 --max-x 3 --max-y 3 \
    --url 'http://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png' -o world.png

  # Start HTTP server
  reproject serve --port 8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.reproject.yaml)")

	// Source options
	flags.StringP("url", "u", "", "tile URL template with {s}, {x}, {y}, {z} placeholders (required)")
	flags.String("source-crs", "EPSG:3857", "CRS the tiles are published in")
	flags.String("source-proj4", "", "proj4 definition of the source CRS")
	flags.Int("source-zoom", 0, "zoom offset between display and source levels")
	flags.String("source-bounds", "", "source coverage as 'min-lon,min-lat,max-lon,max-lat'")
	flags.StringSlice("option", []string{}, "extra template variable as key=value (repeatable)")

	// Display options
	flags.String("display-crs", "EPSG:3857", "CRS of the display grid")
	flags.StringSlice("subdomains", []string{"a", "b", "c"}, "subdomains substituted for {s}")
	flags.String("subdomain-policy", grid.PolicySum, "subdomain selection (sum|hash)")
	flags.IntP("tilesize", "t", 256, "tile size in pixels")

	// HTTP options
	flags.String("user-agent", tile.DefaultUserAgent, "HTTP User-Agent header")
	flags.Duration("fetch-timeout", 30*time.Second, "timeout for a single tile fetch")

	// Logging
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
	flags.Bool("log-console", false, "human readable log output")

	viper.BindPFlag("url", flags.Lookup("url"))
	viper.BindPFlag("source-crs", flags.Lookup("source-crs"))
	viper.BindPFlag("source-proj4", flags.Lookup("source-proj4"))
	viper.BindPFlag("source-zoom", flags.Lookup("source-zoom"))
	viper.BindPFlag("source-bounds", flags.Lookup("source-bounds"))
	viper.BindPFlag("option", flags.Lookup("option"))
	viper.BindPFlag("display-crs", flags.Lookup("display-crs"))
	viper.BindPFlag("subdomains", flags.Lookup("subdomains"))
	viper.BindPFlag("subdomain-policy", flags.Lookup("subdomain-policy"))
	viper.BindPFlag("tilesize", flags.Lookup("tilesize"))
	viper.BindPFlag("user-agent", flags.Lookup("user-agent"))
	viper.BindPFlag("fetch-timeout", flags.Lookup("fetch-timeout"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("log.console", flags.Lookup("log-console"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".reproject" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".reproject")
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func newLogger(component string) zerolog.Logger {
	return logger.Build(logger.Config{
		Level:     viper.GetString("log.level"),
		Console:   viper.GetBool("log.console"),
		Component: component,
	}, os.Stderr)
}

// buildLayer creates the layer described by the current configuration and
// activates it on a fresh grid host.
func buildLayer() (*reproject.Layer, *grid.Grid, error) {
	url := viper.GetString("url")
	if url == "" {
		return nil, nil, fmt.Errorf("a tile URL template is required (use --url)")
	}

	provider := crs.NewProvider()

	display, err := resolveCRS(provider, viper.GetString("display-crs"), "", 0)
	if err != nil {
		return nil, nil, fmt.Errorf("display crs: %w", err)
	}
	source, err := resolveCRS(provider, viper.GetString("source-crs"),
		viper.GetString("source-proj4"), viper.GetInt("source-zoom"))
	if err != nil {
		return nil, nil, fmt.Errorf("source crs: %w", err)
	}

	var bounds *orb.Bound
	if s := viper.GetString("source-bounds"); s != "" {
		b, err := parseBounds(s)
		if err != nil {
			return nil, nil, err
		}
		bounds = &b
	}

	options, err := parseOptions(viper.GetStringSlice("option"))
	if err != nil {
		return nil, nil, err
	}

	layer, err := reproject.New(url, reproject.Config{
		DisplayCRS:   display,
		SourceCRS:    source,
		SourceBounds: bounds,
		Provider:     provider,
		Options:      options,
		Fetcher:      tile.NewHTTPFetcher(viper.GetString("user-agent"), viper.GetDuration("fetch-timeout")),
	})
	if err != nil {
		return nil, nil, err
	}

	g, err := grid.New(grid.Config{
		TileSize:   viper.GetInt("tilesize"),
		Subdomains: viper.GetStringSlice("subdomains"),
		Policy:     viper.GetString("subdomain-policy"),
	})
	if err != nil {
		return nil, nil, err
	}
	if err := g.Add(layer); err != nil {
		if errors.Is(err, crs.ErrNoTileMatrix) {
			return nil, nil, fmt.Errorf("%w (use --source-bounds)", err)
		}
		return nil, nil, err
	}
	return layer, g, nil
}

// resolveCRS prefers the built-in registry and falls back to the provider
// when a proj4 definition is given or the code is not built in.
func resolveCRS(p crs.Provider, code, def string, zoom int) (*crs.CRS, error) {
	if def == "" {
		if c, err := crs.Lookup(code); err == nil {
			return c.WithZoom(zoom), nil
		}
	}
	return crs.FromProvider(p, code, def, zoom)
}

// parseBounds parses 'min-lon,min-lat,max-lon,max-lat'
func parseBounds(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("source-bounds must be in format 'min-lon,min-lat,max-lon,max-lat'")
	}

	var v [4]float64
	names := [4]string{"min-lon", "min-lat", "max-lon", "max-lat"}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid %s in source-bounds: %v", names[i], err)
		}
		v[i] = f
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

func parseOptions(pairs []string) (map[string]string, error) {
	options := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("option must be in format 'key=value': %q", pair)
		}
		options[k] = v
	}
	return options, nil
}

// parseTile parses a 'z/x/y' tile address
func parseTile(s string) (tile.Coords, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return tile.Coords{}, fmt.Errorf("tile must be in format 'z/x/y': %q", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return tile.Coords{}, fmt.Errorf("invalid tile %q: %v", s, err)
		}
		v[i] = n
	}
	return tile.Coords{Z: v[0], X: v[1], Y: v[2]}, nil
}
