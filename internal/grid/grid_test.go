package grid

import (
	"image"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/reproject/pkg/crs"
	"github.com/kiesman99/reproject/pkg/reproject"
	"github.com/kiesman99/reproject/pkg/tile"
)

func identity() crs.Provider {
	id := func(p orb.Point) orb.Point { return p }
	return crs.ProviderFunc(func(code, def string) (crs.TransformPair, error) {
		return crs.TransformPair{Forward: id, Inverse: id}, nil
	})
}

func TestNewDefaults(t *testing.T) {
	g, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, image.Pt(256, 256), g.TileSize())
	assert.Equal(t, "a", g.Subdomain(tile.Coords{X: 0, Y: 0}))
	assert.Equal(t, "b", g.Subdomain(tile.Coords{X: 1, Y: 0}))
	assert.Equal(t, "c", g.Subdomain(tile.Coords{X: 1, Y: 1}))

	_, err = New(Config{Policy: "random"})
	assert.Error(t, err)
}

func TestSubdomainSumPolicy(t *testing.T) {
	g, err := New(Config{Subdomains: []string{"a", "b", "c"}})
	require.NoError(t, err)

	assert.Equal(t, "a", g.Subdomain(tile.Coords{X: 5, Y: 7, Z: 3}))
	assert.Equal(t, "c", g.Subdomain(tile.Coords{X: -3, Y: 1}))
}

func TestSubdomainHashPolicy(t *testing.T) {
	subs := []string{"t0", "t1", "t2", "t3"}
	g, err := New(Config{Subdomains: subs, Policy: PolicyHash})
	require.NoError(t, err)

	c := tile.Coords{X: 5, Y: 7, Z: 3}
	first := g.Subdomain(c)
	assert.Contains(t, subs, first)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, g.Subdomain(c))
	}

	used := map[string]bool{}
	for x := 0; x < 64; x++ {
		used[g.Subdomain(tile.Coords{X: x, Y: 0, Z: 6})] = true
	}
	assert.Greater(t, len(used), 1)
}

func TestExpandURL(t *testing.T) {
	g, err := New(Config{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		url, err := g.ExpandURL("http://{s}.example.com/{z}/{x}/{y}.png", map[string]string{"s": "a", "x": "1", "y": "2", "z": "3"})
		require.NoError(t, err)
		assert.Equal(t, "http://a.example.com/3/1/2.png", url)
	}
	assert.Equal(t, 1, g.templates.Len())

	_, err = g.ExpandURL("http://{bad", nil)
	assert.Error(t, err)
}

func TestAddRemoveLifecycle(t *testing.T) {
	g, err := New(Config{TileSize: 512})
	require.NoError(t, err)

	l, err := reproject.New("http://{s}.example.com/{z}/{x}/{y}.png", reproject.Config{
		DisplayCRS: crs.EPSG4326,
		SourceCRS:  crs.EPSG3857,
		Provider:   identity(),
	})
	require.NoError(t, err)

	require.NoError(t, g.Add(l))
	require.NoError(t, g.Add(l))
	assert.Len(t, g.Layers(), 1)
	assert.True(t, l.Active())

	url, err := l.TileURL(tile.Coords{X: 1, Y: 2, Z: 3})
	require.NoError(t, err)
	assert.Equal(t, "http://a.example.com/3/1/2.png", url)

	g.Remove(l)
	assert.False(t, l.Active())
	assert.Empty(t, g.Layers())
	_, ok := l.Bounds()
	assert.False(t, ok)

	require.NoError(t, g.Add(l))
	g.Close()
	assert.False(t, l.Active())
	assert.Empty(t, g.Layers())
}

func TestLayerURLThroughGrid(t *testing.T) {
	g, err := New(Config{Subdomains: []string{"a", "b", "c"}, Policy: PolicySum})
	require.NoError(t, err)
	defer g.Close()

	l, err := reproject.New("http://{s}.example.com/{z}/{x}/{y}.png", reproject.Config{
		DisplayCRS: crs.EPSG4326,
		SourceCRS:  crs.EPSG3857.WithZoom(1),
		Provider:   identity(),
	})
	require.NoError(t, err)
	require.NoError(t, g.Add(l))

	url, err := l.TileURL(tile.Coords{X: 5, Y: 7, Z: 3})
	require.NoError(t, err)
	assert.Equal(t, "http://a.example.com/2/5/7.png", url)

	url, err = l.TileURL(tile.Coords{X: 5, Y: 8, Z: 3})
	require.NoError(t, err)
	assert.Equal(t, "http://b.example.com/2/5/8.png", url)
}

func TestLayerOptionsThroughGridAreVerbatim(t *testing.T) {
	g, err := New(Config{})
	require.NoError(t, err)
	defer g.Close()

	l, err := reproject.New("http://{s}.example.com/{layer}/{z}/{x}/{y}.png", reproject.Config{
		DisplayCRS: crs.EPSG4326,
		SourceCRS:  crs.EPSG3857,
		Provider:   identity(),
		Options:    map[string]string{"layer": "osm:roads/v2"},
	})
	require.NoError(t, err)
	require.NoError(t, g.Add(l))

	url, err := l.TileURL(tile.Coords{X: 0, Y: 0, Z: 1})
	require.NoError(t, err)
	assert.Equal(t, "http://a.example.com/osm:roads/v2/1/0/0.png", url)
}
