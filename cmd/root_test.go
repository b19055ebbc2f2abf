package cmd

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiesman99/reproject/pkg/crs"
	"github.com/kiesman99/reproject/pkg/tile"
)

func TestParseBounds(t *testing.T) {
	b, err := parseBounds("122.7, 31.4,132.3,43.5")
	require.NoError(t, err)
	assert.Equal(t, orb.Bound{Min: orb.Point{122.7, 31.4}, Max: orb.Point{132.3, 43.5}}, b)

	_, err = parseBounds("1,2,3")
	assert.Error(t, err)
	_, err = parseBounds("1,2,x,4")
	assert.ErrorContains(t, err, "max-lon")
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{"key=abc", "style=a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"key": "abc", "style": "a=b", "empty": ""}, opts)

	_, err = parseOptions([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseOptions([]string{"=x"})
	assert.Error(t, err)
}

func TestParseTile(t *testing.T) {
	c, err := parseTile("3/5/7")
	require.NoError(t, err)
	assert.Equal(t, tile.Coords{Z: 3, X: 5, Y: 7}, c)

	for _, bad := range []string{"3/5", "a/1/2", "1/2/3/4", ""} {
		_, err := parseTile(bad)
		assert.Error(t, err, bad)
	}
}

func TestResolveCRS(t *testing.T) {
	var resolved []string
	p := crs.ProviderFunc(func(code, def string) (crs.TransformPair, error) {
		resolved = append(resolved, code)
		id := func(p orb.Point) orb.Point { return p }
		return crs.TransformPair{Forward: id, Inverse: id}, nil
	})

	c, err := resolveCRS(p, "epsg:3857", "", 2)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:3857", c.Code)
	assert.Equal(t, 2, c.Zoom)
	assert.Equal(t, 0, crs.EPSG3857.Zoom)
	assert.Empty(t, resolved)

	c, err = resolveCRS(p, "EPSG:5181", "+proj=tmerc", 1)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:5181", c.Code)
	assert.Equal(t, 1, c.Zoom)
	assert.Nil(t, c.TileMatrix)
	assert.Equal(t, []string{"EPSG:5181"}, resolved)
}
