// Package metrics exposes Prometheus metrics for the tile server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tile request outcomes
const (
	OutcomeOK       = "ok"
	OutcomeFetchErr = "fetch_error"
	OutcomeInvalid  = "invalid"
)

type Provider struct {
	reg       *prometheus.Registry
	buildInfo *prometheus.GaugeVec

	Tiles        *prometheus.CounterVec
	FetchSeconds prometheus.Histogram
}

func Init(version string) *Provider {
	reg := prometheus.NewRegistry()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	build := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reproject_build_info",
			Help: "Build info for this binary (value is always 1).",
		},
		[]string{"version"},
	)
	if version == "" {
		version = "dev"
	}
	build.WithLabelValues(version).Set(1)

	tiles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reproject_tiles_total",
			Help: "Tile requests by outcome.",
		},
		[]string{"outcome"},
	)
	fetch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reproject_tile_fetch_seconds",
		Help:    "Time to load and draw one tile.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(build, tiles, fetch)

	return &Provider{reg: reg, buildInfo: build, Tiles: tiles, FetchSeconds: fetch}
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}
