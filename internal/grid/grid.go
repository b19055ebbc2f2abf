package grid

import (
	"fmt"
	"image"
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kiesman99/reproject/pkg/reproject"
	"github.com/kiesman99/reproject/pkg/tile"
)

// Subdomain selection policies
const (
	PolicySum  = "sum"
	PolicyHash = "hash"
)

const templateCacheSize = 64

// Config contains the grid host settings
type Config struct {
	TileSize   int
	Subdomains []string
	Policy     string
}

// Grid hosts reprojecting layers: it owns tile size, subdomain selection,
// URL templating and the layers' lifecycle.
type Grid struct {
	tileSize   image.Point
	subdomains []string
	policy     string
	templates  *lru.Cache[string, *tile.Template]

	mu     sync.Mutex
	layers []*reproject.Layer
}

// New creates a new grid host
func New(cfg Config) (*Grid, error) {
	if cfg.TileSize <= 0 {
		cfg.TileSize = 256
	}
	if len(cfg.Subdomains) == 0 {
		cfg.Subdomains = []string{"a", "b", "c"}
	}
	switch cfg.Policy {
	case "":
		cfg.Policy = PolicySum
	case PolicySum, PolicyHash:
	default:
		return nil, fmt.Errorf("unknown subdomain policy: %s", cfg.Policy)
	}

	cache, err := lru.New[string, *tile.Template](templateCacheSize)
	if err != nil {
		return nil, err
	}

	return &Grid{
		tileSize:   image.Pt(cfg.TileSize, cfg.TileSize),
		subdomains: append([]string(nil), cfg.Subdomains...),
		policy:     cfg.Policy,
		templates:  cache,
	}, nil
}

func (g *Grid) TileSize() image.Point {
	return g.tileSize
}

// Subdomain picks a subdomain for c. The sum policy rotates over
// |x+y|; the hash policy spreads by a hash of the full address.
func (g *Grid) Subdomain(c tile.Coords) string {
	n := uint64(len(g.subdomains))
	if g.policy == PolicyHash {
		return g.subdomains[xxhash.Sum64String(c.String())%n]
	}
	i := c.X + c.Y
	if i < 0 {
		i = -i
	}
	return g.subdomains[uint64(i)%n]
}

// ExpandURL expands a URL template, parsing each distinct template once.
func (g *Grid) ExpandURL(template string, vars map[string]string) (string, error) {
	t, ok := g.templates.Get(template)
	if !ok {
		parsed, err := tile.ParseTemplate(template)
		if err != nil {
			return "", err
		}
		g.templates.Add(template, parsed)
		t = parsed
	}
	return t.Expand(vars)
}

// Add activates l on this grid
func (g *Grid) Add(l *reproject.Layer) error {
	if err := l.Activate(g); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.layers {
		if existing == l {
			return nil
		}
	}
	g.layers = append(g.layers, l)
	return nil
}

// Remove deactivates l and detaches it from this grid
func (g *Grid) Remove(l *reproject.Layer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, existing := range g.layers {
		if existing == l {
			g.layers = append(g.layers[:i], g.layers[i+1:]...)
			l.Deactivate()
			return
		}
	}
}

// Layers returns the attached layers
func (g *Grid) Layers() []*reproject.Layer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*reproject.Layer(nil), g.layers...)
}

// Close deactivates every attached layer
func (g *Grid) Close() {
	g.mu.Lock()
	layers := g.layers
	g.layers = nil
	g.mu.Unlock()

	for _, l := range layers {
		l.Deactivate()
	}
}
