package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/kiesman99/reproject/internal/logger"
	"github.com/kiesman99/reproject/internal/metrics"
	"github.com/kiesman99/reproject/pkg/reproject"
	"github.com/kiesman99/reproject/pkg/tile"
)

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    int       `json:"uptime"`
	Version   string    `json:"version"`
	Active    bool      `json:"active"`
}

// ErrorResponse is the JSON body of every error reply
type ErrorResponse struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	RequestId string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Server serves the tiles of one reprojecting layer over HTTP
type Server struct {
	startTime time.Time
	version   string
	layer     *reproject.Layer
	log       zerolog.Logger
	metrics   *metrics.Provider
	timeout   time.Duration
}

// NewServer creates a new server instance
func NewServer(version string, layer *reproject.Layer, log zerolog.Logger, m *metrics.Provider, timeout time.Duration) *Server {
	if m == nil {
		m = metrics.Init(version)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		startTime: time.Now(),
		version:   version,
		layer:     layer,
		log:       log,
		metrics:   m,
		timeout:   timeout,
	}
}

// Routes builds the HTTP handler with all middleware applied
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	// CORS middleware for browser map clients
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.GetHealth)
		r.Get("/bounds", s.GetBounds)
	})
	r.Get("/tiles/{z}/{x}/{y}.png", s.GetTile)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// Legacy health endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/api/v1/health", http.StatusMovedPermanently)
	})

	return r
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    int(time.Since(s.startTime).Seconds()),
		Version:   s.version,
		Active:    s.layer.Active(),
	}
	s.writeJSON(w, "application/json", http.StatusOK, response)
}

// GetBounds returns the layer's coverage as a GeoJSON polygon feature
func (s *Server) GetBounds(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	b, ok := s.layer.Bounds()
	if !ok {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "LAYER_INACTIVE",
			"Layer is not active", requestID, nil)
		return
	}

	f := geojson.NewFeature(b.ToPolygon())
	f.Properties["source_crs"] = s.layer.SourceCRS().Code
	f.Properties["display_crs"] = s.layer.DisplayCRS().Code
	f.Properties["source_zoom_offset"] = s.layer.SourceCRS().Zoom

	s.writeJSON(w, "application/geo+json", http.StatusOK, f)
}

// GetTile renders one display tile through the layer
func (s *Server) GetTile(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	ctx := logger.WithRequestID(r.Context(), requestID)
	log := logger.FromContext(ctx, &s.log)

	coords, err := parseCoords(r)
	if err != nil {
		s.metrics.Tiles.WithLabelValues(metrics.OutcomeInvalid).Inc()
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_TILE",
			err.Error(), requestID, nil)
		return
	}

	src := s.layer.SourceCoords(coords)
	start := time.Now()
	surface, err := s.layer.Load(ctx, coords)
	s.metrics.FetchSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.Tiles.WithLabelValues(metrics.OutcomeFetchErr).Inc()
		log.Warn().Err(err).Str("tile", coords.String()).Str("source_tile", src.String()).Msg("tile load failed")
		s.handleTileError(w, err, requestID)
		return
	}

	data, err := tile.EncodePNG(surface)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Failed to encode tile", requestID, nil)
		return
	}

	s.metrics.Tiles.WithLabelValues(metrics.OutcomeOK).Inc()
	log.Debug().Str("tile", coords.String()).Str("source_tile", src.String()).Dur("took", time.Since(start)).Msg("tile served")

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("X-Source-Tile", src.String())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Error().Err(err).Msg("error writing response")
	}
}

func parseCoords(r *http.Request) (tile.Coords, error) {
	var c tile.Coords
	var err error
	if c.Z, err = strconv.Atoi(chi.URLParam(r, "z")); err != nil {
		return c, errors.New("z must be an integer")
	}
	if c.X, err = strconv.Atoi(chi.URLParam(r, "x")); err != nil {
		return c, errors.New("x must be an integer")
	}
	if c.Y, err = strconv.Atoi(chi.URLParam(r, "y")); err != nil {
		return c, errors.New("y must be an integer")
	}
	if c.Z < 0 {
		return c, errors.New("z must not be negative")
	}
	return c, nil
}

// handleTileError maps tile loading errors to HTTP responses
func (s *Server) handleTileError(w http.ResponseWriter, err error, requestID string) {
	var fetchErr *tile.FetchError
	switch {
	case errors.As(err, &fetchErr):
		details := map[string]any{"url": fetchErr.URL}
		if fetchErr.StatusCode != 0 {
			details["status_code"] = fetchErr.StatusCode
		}
		s.writeErrorResponse(w, http.StatusBadGateway, "TILE_SERVER_ERROR",
			fetchErr.Error(), requestID, details)
	case errors.Is(err, reproject.ErrInactive):
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "LAYER_INACTIVE",
			"Layer is not active", requestID, nil)
	case errors.Is(err, tile.ErrMissingVariable):
		s.writeErrorResponse(w, http.StatusInternalServerError, "TEMPLATE_ERROR",
			err.Error(), requestID, nil)
	case errors.Is(err, context.DeadlineExceeded):
		s.writeErrorResponse(w, http.StatusGatewayTimeout, "TILE_SERVER_TIMEOUT",
			"Tile server request timed out", requestID, map[string]any{
				"timeout_seconds": s.timeout.Seconds(),
			})
	default:
		s.writeErrorResponse(w, http.StatusBadGateway, "TILE_SERVER_ERROR",
			err.Error(), requestID, nil)
	}
}

// writeErrorResponse writes a standard error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message, requestID string, details map[string]any) {
	response := ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestId: requestID,
		Details:   details,
	}
	s.writeJSON(w, "application/json", statusCode, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, contentType string, statusCode int, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("error encoding response")
	}
}
