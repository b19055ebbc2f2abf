// Package reproject serves tiles published in one CRS to a display grid
// in another CRS. Only the tile address is mapped: column and row pass
// through unchanged and the zoom level is shifted by the source CRS's
// zoom offset. Pixels are not warped.
package reproject

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/image/draw"

	"github.com/kiesman99/reproject/pkg/crs"
	"github.com/kiesman99/reproject/pkg/tile"
)

var (
	ErrInvalidConfig = errors.New("reproject: invalid configuration")
	ErrInactive      = errors.New("reproject: layer is not active")
)

// Host is the capability set a grid host offers to an attached layer.
type Host interface {
	// TileSize is the pixel size of every tile surface.
	TileSize() image.Point
	// Subdomain picks the subdomain for a display tile.
	Subdomain(c tile.Coords) string
	// ExpandURL substitutes vars into a URL template.
	ExpandURL(template string, vars map[string]string) (string, error)
}

// Config configures a Layer.
type Config struct {
	// DisplayCRS is the CRS the host grid renders in. Required.
	DisplayCRS *crs.CRS
	// SourceCRS is the CRS the tiles are published in. Defaults to crs.EPSG3857.
	SourceCRS *crs.CRS
	// SourceBounds overrides the coverage derived from SourceCRS's tile matrix.
	SourceBounds *orb.Bound
	// Provider resolves CRS codes into transforms. Required.
	Provider crs.Provider
	// Transform and Untransform replace the source CRS's forward and inverse transforms.
	Transform   crs.TransformFunc
	Untransform crs.TransformFunc
	// Options are extra URL template variables.
	Options map[string]string
	// Fetcher loads tile images. Defaults to an anonymous HTTP fetcher.
	Fetcher tile.Fetcher
}

// Layer is a reprojecting tile source.
type Layer struct {
	template *tile.Template
	display  *crs.CRS
	source   *crs.CRS
	explicit *orb.Bound
	options  map[string]string
	fetcher  tile.Fetcher

	transform   crs.TransformFunc
	untransform crs.TransformFunc
	displayPair crs.TransformPair

	mu     sync.RWMutex
	host   Host
	bounds *orb.Bound
}

// New creates a layer for urlTemplate. Both CRS codes are resolved through
// cfg.Provider; no network work happens here.
func New(urlTemplate string, cfg Config) (*Layer, error) {
	if urlTemplate == "" {
		return nil, fmt.Errorf("%w: url template is required", ErrInvalidConfig)
	}
	if cfg.DisplayCRS == nil {
		return nil, fmt.Errorf("%w: display crs is required", ErrInvalidConfig)
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("%w: projection provider is required", ErrInvalidConfig)
	}

	tmpl, err := tile.ParseTemplate(urlTemplate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	source := cfg.SourceCRS
	if source == nil {
		source = crs.EPSG3857
	}

	sourcePair, err := cfg.Provider.Resolve(source.Code, source.Proj4Def)
	if err != nil {
		return nil, fmt.Errorf("resolve source crs %s: %w", source.Code, err)
	}
	displayPair, err := cfg.Provider.Resolve(cfg.DisplayCRS.Code, cfg.DisplayCRS.Proj4Def)
	if err != nil {
		return nil, fmt.Errorf("resolve display crs %s: %w", cfg.DisplayCRS.Code, err)
	}

	l := &Layer{
		template:    tmpl,
		display:     cfg.DisplayCRS,
		source:      source,
		explicit:    cfg.SourceBounds,
		fetcher:     cfg.Fetcher,
		transform:   cfg.Transform,
		untransform: cfg.Untransform,
		displayPair: displayPair,
	}
	if l.transform == nil {
		l.transform = sourcePair.Forward
	}
	if l.untransform == nil {
		l.untransform = sourcePair.Inverse
	}
	if l.transform == nil || l.untransform == nil {
		return nil, fmt.Errorf("%w: no transform pair for %s", ErrInvalidConfig, source.Code)
	}
	if l.fetcher == nil {
		l.fetcher = tile.NewHTTPFetcher(tile.DefaultUserAgent, 30*time.Second)
	}

	l.options = make(map[string]string, len(cfg.Options))
	for k, v := range cfg.Options {
		l.options[k] = v
	}

	return l, nil
}

// Transform returns the effective forward transform.
func (l *Layer) Transform() crs.TransformFunc { return l.transform }

// Untransform returns the effective inverse transform.
func (l *Layer) Untransform() crs.TransformFunc { return l.untransform }

// DisplayTransform returns the display CRS's transform pair.
func (l *Layer) DisplayTransform() crs.TransformPair { return l.displayPair }

// DisplayCRS returns the CRS of the host grid.
func (l *Layer) DisplayCRS() *crs.CRS { return l.display }

// SourceCRS returns the CRS the tiles are published in, zoom offset included.
func (l *Layer) SourceCRS() *crs.CRS { return l.source }

// URLTemplate returns the tile URL template as configured.
func (l *Layer) URLTemplate() string { return l.template.String() }

// Activate attaches the layer to host and computes the source coverage.
// Calling it again recomputes and replaces the previous state.
func (l *Layer) Activate(host Host) error {
	if host == nil {
		return fmt.Errorf("%w: nil host", ErrInvalidConfig)
	}
	b, err := CalculateBounds(l.source, l.explicit)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.host = host
	l.bounds = &b
	l.mu.Unlock()
	return nil
}

// Deactivate detaches the layer and clears the coverage bounds. The
// transform pair is kept.
func (l *Layer) Deactivate() {
	l.mu.Lock()
	l.host = nil
	l.bounds = nil
	l.mu.Unlock()
}

// Active reports whether the layer is attached to a host.
func (l *Layer) Active() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.host != nil
}

// Bounds returns the active coverage bounds in lon/lat.
func (l *Layer) Bounds() (orb.Bound, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.bounds == nil {
		return orb.Bound{}, false
	}
	return *l.bounds, true
}

// SourceCoords maps a display tile address to the source tile address.
func (l *Layer) SourceCoords(c tile.Coords) tile.Coords {
	return tile.Coords{X: c.X, Y: c.Y, Z: c.Z - l.source.Zoom}
}

// TileURL resolves the fetch URL for a display tile.
func (l *Layer) TileURL(c tile.Coords) (string, error) {
	host := l.currentHost()
	if host == nil {
		return "", ErrInactive
	}
	return l.tileURL(host, c)
}

func (l *Layer) tileURL(host Host, c tile.Coords) (string, error) {
	src := l.SourceCoords(c)

	vars := make(map[string]string, len(l.options)+4)
	for k, v := range l.options {
		vars[k] = v
	}
	vars["s"] = host.Subdomain(c)
	vars["x"] = strconv.Itoa(src.X)
	vars["y"] = strconv.Itoa(src.Y)
	vars["z"] = strconv.Itoa(src.Z)

	return host.ExpandURL(l.template.String(), vars)
}

func (l *Layer) currentHost() Host {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.host
}

// CreateTile returns a blank surface of the host's tile size right away
// and loads the tile into it in the background. done is called exactly
// once: with nil after the image is drawn, or with the fetch error, in
// which case the surface stays blank. The caller must not read the
// surface before done has been called.
func (l *Layer) CreateTile(ctx context.Context, c tile.Coords, done func(error)) *image.RGBA {
	if done == nil {
		done = func(error) {}
	}

	host := l.currentHost()
	if host == nil {
		go done(ErrInactive)
		return image.NewRGBA(image.Rectangle{})
	}

	size := host.TileSize()
	surface := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	url, err := l.tileURL(host, c)

	go func() {
		if err != nil {
			done(err)
			return
		}
		img, err := l.fetcher.Fetch(ctx, url)
		if err != nil {
			done(err)
			return
		}
		b := img.Bounds()
		draw.Draw(surface, image.Rectangle{Max: b.Size()}, img, b.Min, draw.Over)
		done(nil)
	}()

	return surface
}

// Load is CreateTile for callers that want to block on the result.
func (l *Layer) Load(ctx context.Context, c tile.Coords) (*image.RGBA, error) {
	result := make(chan error, 1)
	surface := l.CreateTile(ctx, c, func(err error) { result <- err })

	select {
	case err := <-result:
		if err != nil {
			return nil, err
		}
		return surface, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
