package server

import (
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/reproject/internal/grid"
	"github.com/kiesman99/reproject/internal/metrics"
	"github.com/kiesman99/reproject/pkg/crs"
	"github.com/kiesman99/reproject/pkg/reproject"
	"github.com/kiesman99/reproject/pkg/tile"
)

var green = color.RGBA{G: 200, A: 255}

type pathLog struct {
	mu    sync.Mutex
	paths []string
}

func (p *pathLog) add(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, path)
}

func (p *pathLog) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...)
}

func testutilCount(t *testing.T, m *metrics.Provider, outcome string) float64 {
	t.Helper()
	return testutil.ToFloat64(m.Tiles.WithLabelValues(outcome))
}

// upstream serves green tiles under /ok/ and 404 elsewhere.
func setupUpstream(t *testing.T, paths *pathLog) *httptest.Server {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			img.SetRGBA(x, y, green)
		}
	}
	body, err := tile.EncodePNG(img)
	require.NoError(t, err)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if paths != nil {
			paths.add(r.URL.Path)
		}
		if !strings.HasPrefix(r.URL.Path, "/ok/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func setupTestServer(t *testing.T, template string, bounds *orb.Bound) (*httptest.Server, *reproject.Layer, *metrics.Provider) {
	t.Helper()
	id := func(p orb.Point) orb.Point { return p }
	layer, err := reproject.New(template, reproject.Config{
		DisplayCRS:   crs.EPSG4326,
		SourceCRS:    crs.EPSG3857.WithZoom(1),
		SourceBounds: bounds,
		Provider: crs.ProviderFunc(func(code, def string) (crs.TransformPair, error) {
			return crs.TransformPair{Forward: id, Inverse: id}, nil
		}),
		Fetcher: tile.NewHTTPFetcher("test", 5*time.Second),
	})
	require.NoError(t, err)

	g, err := grid.New(grid.Config{})
	require.NoError(t, err)
	require.NoError(t, g.Add(layer))

	m := metrics.Init("2.0.0-test")
	srv := NewServer("2.0.0-test", layer, zerolog.Nop(), m, 5*time.Second)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, layer, m
}

func TestHealthEndpoint(t *testing.T) {
	up := setupUpstream(t, nil)
	server, _, _ := setupTestServer(t, up.URL+"/ok/{z}/{x}/{y}.png", nil)

	resp, err := http.Get(server.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "2.0.0-test", health.Version)
	assert.True(t, health.Active)
	assert.GreaterOrEqual(t, health.Uptime, 0)
	assert.WithinDuration(t, time.Now(), health.Timestamp, time.Minute)
}

func TestLegacyHealthRedirect(t *testing.T) {
	up := setupUpstream(t, nil)
	server, _, _ := setupTestServer(t, up.URL+"/ok/{z}/{x}/{y}.png", nil)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/api/v1/health", resp.Header.Get("Location"))
}

func TestTileEndpoint_Success(t *testing.T) {
	paths := &pathLog{}
	up := setupUpstream(t, paths)
	server, _, m := setupTestServer(t, up.URL+"/ok/{z}/{x}/{y}.png", nil)

	resp, err := http.Get(server.URL + "/tiles/3/5/7.png")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "2/5/7", resp.Header.Get("X-Source-Tile"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 256, 256), img.Bounds())
	r, g, b, a := img.At(10, 10).RGBA()
	assert.Equal(t, []uint32{0, 200 * 0x101, 0, 0xffff}, []uint32{r, g, b, a})

	assert.Equal(t, []string{"/ok/2/5/7.png"}, paths.all())
	assert.Equal(t, 1.0, testutilCount(t, m, metrics.OutcomeOK))
}

func TestTileEndpoint_UpstreamFailure(t *testing.T) {
	up := setupUpstream(t, nil)
	server, _, m := setupTestServer(t, up.URL+"/missing/{z}/{x}/{y}.png", nil)

	resp, err := http.Get(server.URL + "/tiles/4/1/2.png")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "TILE_SERVER_ERROR", body.Error)
	assert.NotEmpty(t, body.RequestId)
	assert.Equal(t, float64(http.StatusNotFound), body.Details["status_code"])
	assert.Equal(t, up.URL+"/missing/3/1/2.png", body.Details["url"])
	assert.Equal(t, 1.0, testutilCount(t, m, metrics.OutcomeFetchErr))
}

func TestTileEndpoint_InvalidCoords(t *testing.T) {
	up := setupUpstream(t, nil)
	server, _, _ := setupTestServer(t, up.URL+"/ok/{z}/{x}/{y}.png", nil)

	for _, path := range []string{"/tiles/a/1/2.png", "/tiles/1/b/2.png", "/tiles/1/1/c.png", "/tiles/-1/1/1.png"} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestTileEndpoint_InactiveLayer(t *testing.T) {
	up := setupUpstream(t, nil)
	server, layer, _ := setupTestServer(t, up.URL+"/ok/{z}/{x}/{y}.png", nil)
	layer.Deactivate()

	resp, err := http.Get(server.URL + "/tiles/3/1/1.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp2, err := http.Get(server.URL + "/api/v1/bounds")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestBoundsEndpoint(t *testing.T) {
	up := setupUpstream(t, nil)
	explicit := orb.Bound{Min: orb.Point{5, 45}, Max: orb.Point{11, 48}}
	server, _, _ := setupTestServer(t, up.URL+"/ok/{z}/{x}/{y}.png", &explicit)

	resp, err := http.Get(server.URL + "/api/v1/bounds")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	f, err := geojson.UnmarshalFeature(data)
	require.NoError(t, err)
	assert.Equal(t, explicit, f.Geometry.Bound())
	assert.Equal(t, "EPSG:3857", f.Properties["source_crs"])
	assert.Equal(t, "EPSG:4326", f.Properties["display_crs"])
	assert.Equal(t, float64(1), f.Properties["source_zoom_offset"])
}

func TestMetricsEndpoint(t *testing.T) {
	up := setupUpstream(t, nil)
	server, _, _ := setupTestServer(t, up.URL+"/ok/{z}/{x}/{y}.png", nil)

	resp, err := http.Get(server.URL + "/tiles/2/0/0.png")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `reproject_tiles_total{outcome="ok"} 1`)
}
