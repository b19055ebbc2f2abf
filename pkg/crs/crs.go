// Package crs describes coordinate reference systems: their projection,
// tile matrix and zoom numbering. Geographic points are orb.Point{lon, lat}.
package crs

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/wroge/wgs84"
)

var (
	ErrUnknownCRS   = errors.New("unknown coordinate reference system")
	ErrNoProjection = errors.New("crs has no projection")
	ErrNoTileMatrix = errors.New("crs has no tile matrix")
)

// Projection converts between geographic lon/lat and a CRS's planar coordinates.
type Projection interface {
	Project(lonlat orb.Point) orb.Point
	Unproject(p orb.Point) orb.Point
}

// TileMatrix locates the cells of a CRS's tile grid in projected units.
// X(i) and Y(i) give the position of column and row boundary i; Cols and
// Rows give the grid extent.
type TileMatrix interface {
	X(i int) float64
	Y(i int) float64
	Cols() int
	Rows() int
}

// CRS is an immutable coordinate reference system descriptor.
type CRS struct {
	Code     string
	Proj4Def string
	// Zoom is the offset between this CRS's zoom numbering and the display grid's.
	Zoom       int
	Projection Projection
	TileMatrix TileMatrix
}

// WithZoom returns a copy of c with a different zoom offset
func (c *CRS) WithZoom(zoom int) *CRS {
	cp := *c
	cp.Zoom = zoom
	return &cp
}

func (c *CRS) String() string {
	return c.Code
}

// Matrix is a regular TileMatrix. Cell sizes may be negative for axes
// that decrease away from the origin, e.g. northings in a north-up grid.
type Matrix struct {
	OriginX, OriginY      float64
	CellWidth, CellHeight float64
	Columns, RowCount     int
}

func (m Matrix) X(i int) float64 { return m.OriginX + float64(i)*m.CellWidth }
func (m Matrix) Y(i int) float64 { return m.OriginY + float64(i)*m.CellHeight }
func (m Matrix) Cols() int       { return m.Columns }
func (m Matrix) Rows() int       { return m.RowCount }

// FuncProjection builds a Projection from a transform pair.
type FuncProjection struct {
	Forward, Inverse TransformFunc
}

func (p FuncProjection) Project(lonlat orb.Point) orb.Point { return p.Forward(lonlat) }
func (p FuncProjection) Unproject(pt orb.Point) orb.Point   { return p.Inverse(pt) }

type lonLat struct{}

func (lonLat) Project(p orb.Point) orb.Point   { return p }
func (lonLat) Unproject(p orb.Point) orb.Point { return p }

// webMercatorHalf is half the equatorial circumference of the WGS84
// sphere used by EPSG:3857.
const webMercatorHalf = math.Pi * 6378137

// unprojectWebMercator is the spherical inverse. wgs84 normalises the
// longitude into (-180, 180], which folds the western matrix edge onto
// +180; this keeps x = -πR at -180.
func unprojectWebMercator(p orb.Point) orb.Point {
	const r = 6378137
	return orb.Point{
		p[0] / r * 180 / math.Pi,
		(2*math.Atan(math.Exp(p[1]/r)) - math.Pi/2) * 180 / math.Pi,
	}
}

// EPSG3857 is spherical web mercator with a single root tile.
var EPSG3857 = &CRS{
	Code: "EPSG:3857",
	Projection: FuncProjection{
		Forward: adapt(wgs84.LonLat().To(wgs84.WebMercator())),
		Inverse: unprojectWebMercator,
	},
	TileMatrix: Matrix{
		OriginX:    -webMercatorHalf,
		OriginY:    webMercatorHalf,
		CellWidth:  2 * webMercatorHalf,
		CellHeight: -2 * webMercatorHalf,
		Columns:    1,
		RowCount:   1,
	},
}

// EPSG4326 is plate carrée lon/lat with two root tiles.
var EPSG4326 = &CRS{
	Code:       "EPSG:4326",
	Projection: lonLat{},
	TileMatrix: Matrix{
		OriginX:    -180,
		OriginY:    90,
		CellWidth:  180,
		CellHeight: -180,
		Columns:    2,
		RowCount:   1,
	},
}

var builtin = map[string]*CRS{
	"EPSG:3857":   EPSG3857,
	"EPSG:900913": EPSG3857,
	"EPSG:4326":   EPSG4326,
}

// Lookup returns a built-in CRS by code
func Lookup(code string) (*CRS, error) {
	c, ok := builtin[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCRS, code)
	}
	return c, nil
}

// FromProvider builds a CRS whose projection is resolved through p.
// The tile matrix is left to the caller.
func FromProvider(p Provider, code, def string, zoom int) (*CRS, error) {
	pair, err := p.Resolve(code, def)
	if err != nil {
		return nil, err
	}
	return &CRS{
		Code:       code,
		Proj4Def:   def,
		Zoom:       zoom,
		Projection: FuncProjection{Forward: pair.Forward, Inverse: pair.Inverse},
	}, nil
}
