package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/reproject/internal/metrics"
	"github.com/kiesman99/reproject/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for reprojected tiles",
	Long: `Start an HTTP server that acts as the display grid host for one layer.

Endpoints:
  GET /tiles/{z}/{x}/{y}.png   display tile
  GET /api/v1/bounds           source coverage as GeoJSON
  GET /api/v1/health           health check
  GET /metrics                 Prometheus metrics

Examples:
  # Start server on default port 8080
  reproject serve --url 'http://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png'

  # Start server on custom port
  reproject serve --port 3000 --url ...

  # Start server with custom bind address
  reproject serve --bind 0.0.0.0 --port 8080 --url ...`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server configuration
	serveCmd.Flags().StringP("bind", "b", "localhost", "bind address")
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "request timeout")

	// Bind flags to viper
	viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.timeout", serveCmd.Flags().Lookup("timeout"))
}

func runServe(cmd *cobra.Command, args []string) error {
	bind := viper.GetString("server.bind")
	port := viper.GetInt("server.port")
	timeout := viper.GetDuration("server.timeout")

	addr := fmt.Sprintf("%s:%d", bind, port)
	log := newLogger("server")

	layer, g, err := buildLayer()
	if err != nil {
		return err
	}
	defer g.Close()

	apiServer := server.NewServer(version, layer, log, metrics.Init(version), timeout)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Routes(),
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	b, _ := layer.Bounds()
	log.Info().
		Str("addr", addr).
		Str("url", layer.URLTemplate()).
		Str("source_crs", layer.SourceCRS().String()).
		Str("display_crs", layer.DisplayCRS().String()).
		Floats64("bounds", []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}).
		Msg("starting reproject server")
	fmt.Fprintf(cmd.ErrOrStderr(), "Tiles: http://%s/tiles/{z}/{x}/{y}.png\n", addr)
	fmt.Fprintf(cmd.ErrOrStderr(), "Health check: http://%s/api/v1/health\n", addr)

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %v", err)
	}

	return nil
}
